// Package dispatch is the conversation lifecycle core: it routes
// inbound customer and agent messages, assigns and transfers
// conversations under the capacity rules, drains the waiting queue and
// fans out notifications to every interested session. The dispatcher
// holds no state of its own; it orchestrates the conversation store
// and the session registry.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"

	"github.com/goatkit/goatchat/internal/registry"
	"github.com/goatkit/goatchat/internal/repository"
)

// SessionRegistry is the slice of the registry the dispatcher needs.
// Satisfied by *registry.Registry; stubbed in tests.
type SessionRegistry interface {
	LookupAgentSession(agentID int64) (registry.Session, bool)
	LookupCustomerSession(customerID int64) (registry.Session, bool)
	AgentStatus(agentID int64) registry.Status
	IsAlive(agentID int64) bool
	AgentsByLoad() []registry.AgentLoad
	UpdateLoad(agentID int64, score float64)
}

// Dispatcher orchestrates conversation lifecycle and fan-out.
type Dispatcher struct {
	convs     repository.ConversationRepository
	agents    repository.AgentRepository
	customers repository.CustomerRepository
	reg       SessionRegistry
	engine    *AssignmentEngine
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

// New creates a dispatcher over the given stores and registry.
func New(convs repository.ConversationRepository, agents repository.AgentRepository,
	customers repository.CustomerRepository, reg SessionRegistry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		convs:     convs,
		agents:    agents,
		customers: customers,
		reg:       reg,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.engine = NewAssignmentEngine(reg, agents, convs)
	return d
}

// Pick exposes the assignment engine to the reconcilers.
func (d *Dispatcher) Pick(ctx context.Context, exclude map[int64]struct{}) (int64, error) {
	return d.engine.Pick(ctx, exclude)
}

// LoadScore computes the registry ordering hint for an agent:
// active·1.0 + waiting·1.5. A queued customer is actively suffering,
// so waiting conversations weigh more. The score is never consulted
// for capacity; Pick re-reads the live count.
func (d *Dispatcher) LoadScore(ctx context.Context, agentID int64) float64 {
	active, waiting, err := d.convs.AgentStatusCounts(ctx, agentID)
	if err != nil {
		d.logger.Warn("failed to compute load score", "agent_id", agentID, "error", err)
		return 0
	}
	return float64(active)*1.0 + float64(waiting)*1.5
}

// RecomputeLoad refreshes the agent's registry load entry from the
// store. Called after every assignment-affecting state change.
func (d *Dispatcher) RecomputeLoad(ctx context.Context, agentID int64) {
	d.reg.UpdateLoad(agentID, d.LoadScore(ctx, agentID))
}

// push delivers one frame to a session, best-effort. Send failures
// are logged and never block the caller's remaining work.
func (d *Dispatcher) push(s registry.Session, frameType string, data any) {
	if s == nil {
		return
	}
	if err := s.Push(frameType, data); err != nil {
		pushFailures.Inc()
		d.logger.Debug("push failed", "frame", frameType, "handle", s.Handle(), "error", err)
	}
}

// pushToAgent looks up the agent's session and pushes, if online.
func (d *Dispatcher) pushToAgent(agentID int64, frameType string, data any) {
	if s, ok := d.reg.LookupAgentSession(agentID); ok {
		d.push(s, frameType, data)
	}
}

// pushToCustomer looks up the customer's session and pushes, if online.
func (d *Dispatcher) pushToCustomer(customerID int64, frameType string, data any) {
	if s, ok := d.reg.LookupCustomerSession(customerID); ok {
		d.push(s, frameType, data)
	}
}
