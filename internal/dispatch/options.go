package dispatch

import (
	"log/slog"

	"github.com/microcosm-cc/bluemonday"
)

// Option applies configuration to the dispatcher.
type Option func(*Dispatcher)

// WithLogger injects a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSanitizer overrides the HTML sanitization policy applied to
// inbound TEXT message bodies.
func WithSanitizer(p *bluemonday.Policy) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.sanitizer = p
		}
	}
}
