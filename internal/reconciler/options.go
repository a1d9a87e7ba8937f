package reconciler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Option applies configuration to the reconciler service.
type Option func(*Service)

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCron supplies a preconfigured cron engine instance.
func WithCron(c *cron.Cron) Option {
	return func(s *Service) {
		s.cron = c
	}
}

// WithHeartbeatPeriod sets the heartbeat sweep period.
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.heartbeatPeriod = d
		}
	}
}

// WithDrainPeriod sets the waiting-queue drain period.
func WithDrainPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.drainPeriod = d
		}
	}
}

// WithTimeoutPeriod sets the timeout auto-transfer period.
func WithTimeoutPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeoutPeriod = d
		}
	}
}

// WithTimeoutThreshold sets how long a customer message may sit
// unanswered before auto-transfer.
func WithTimeoutThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeoutThreshold = d
		}
	}
}
