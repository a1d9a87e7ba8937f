// Package reconciler runs the periodic loops that restore invariants
// violated by missed events: the heartbeat sweep (lost disconnects),
// the waiting-queue drain (stranded queue entries) and the timeout
// auto-transfer (stalled replies). Each loop is single-threaded within
// itself; they run concurrently with each other and with request
// traffic, and all state changes go through the dispatcher and
// registry, which synchronize themselves.
package reconciler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/registry"
)

// Dispatcher is the slice of the dispatch façade the reconcilers use.
type Dispatcher interface {
	DrainWaitingFor(ctx context.Context, agentID int64) int
	HandleAgentOffline(ctx context.Context, agentID int64) (transferred, reverted int)
	Transfer(ctx context.Context, conversationID, targetID int64, kind models.TransferKind, operatorID *int64, reason string) error
	Pick(ctx context.Context, exclude map[int64]struct{}) (int64, error)
}

// Presence is the slice of the registry the reconcilers use.
type Presence interface {
	OnlineAgents() []int64
	IsAlive(agentID int64) bool
	LookupAgentSession(agentID int64) (registry.Session, bool)
	UnbindBySession(handle string) (registry.Principal, bool)
	SetStatus(agentID int64, status registry.Status)
	ClearLiveness(agentID int64)
}

// Store is the slice of the conversation store the reconcilers use.
type Store interface {
	WaitingCount(ctx context.Context) (int, error)
	TimeoutCandidates(ctx context.Context, threshold time.Duration) ([]*models.Conversation, error)
}

// Service owns the cron engine and the three reconciler jobs.
type Service struct {
	dispatcher Dispatcher
	presence   Presence
	store      Store

	cron             *cron.Cron
	logger           *log.Logger
	heartbeatPeriod  time.Duration
	drainPeriod      time.Duration
	timeoutPeriod    time.Duration
	timeoutThreshold time.Duration
}

// New creates the reconciler service with the given options.
func New(dispatcher Dispatcher, presence Presence, store Store, opts ...Option) *Service {
	s := &Service{
		dispatcher:       dispatcher,
		presence:         presence,
		store:            store,
		logger:           log.New(log.Writer(), "[RECONCILER] ", log.LstdFlags),
		heartbeatPeriod:  30 * time.Second,
		drainPeriod:      60 * time.Second,
		timeoutPeriod:    60 * time.Second,
		timeoutThreshold: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New()
	}
	return s
}

// Start registers the three jobs and starts the cron engine.
func (s *Service) Start() error {
	jobs := []struct {
		name   string
		period time.Duration
		run    func(context.Context)
	}{
		{"heartbeat-sweep", s.heartbeatPeriod, s.runHeartbeatSweep},
		{"waiting-drain", s.drainPeriod, s.runWaitingDrain},
		{"timeout-transfer", s.timeoutPeriod, s.runTimeoutTransfer},
	}
	for _, job := range jobs {
		job := job
		spec := fmt.Sprintf("@every %s", job.period)
		if _, err := s.cron.AddFunc(spec, func() {
			job.run(context.Background())
		}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}
	s.cron.Start()
	s.logger.Printf("started: heartbeat=%s drain=%s timeout=%s threshold=%s",
		s.heartbeatPeriod, s.drainPeriod, s.timeoutPeriod, s.timeoutThreshold)
	return nil
}

// Stop halts the cron engine, letting a running iteration finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
