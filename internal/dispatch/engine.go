package dispatch

import (
	"context"
	"errors"

	"github.com/goatkit/goatchat/internal/registry"
	"github.com/goatkit/goatchat/internal/repository"
)

// AssignmentEngine picks the best candidate agent for a conversation:
// lowest load first, capacity-bounded, admins excluded.
type AssignmentEngine struct {
	reg    SessionRegistry
	agents repository.AgentRepository
	convs  repository.ConversationRepository
}

// NewAssignmentEngine creates an engine over the registry and stores.
func NewAssignmentEngine(reg SessionRegistry, agents repository.AgentRepository,
	convs repository.ConversationRepository) *AssignmentEngine {
	return &AssignmentEngine{reg: reg, agents: agents, convs: convs}
}

// Pick returns the id of the first agent in load-ascending order that
// is online, alive, enabled, non-admin, not excluded and under
// capacity. Returns 0 when no candidate survives.
//
// The active count is re-read from the store at the decision point.
// The cached load score orders candidates; it is never trusted for
// capacity, which closes the stale-score over-assignment window.
func (e *AssignmentEngine) Pick(ctx context.Context, exclude map[int64]struct{}) (int64, error) {
	for _, candidate := range e.reg.AgentsByLoad() {
		id := candidate.AgentID
		if _, skip := exclude[id]; skip {
			continue
		}
		if e.reg.AgentStatus(id) != registry.StatusOnline || !e.reg.IsAlive(id) {
			continue
		}
		agent, err := e.agents.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrAgentNotFound) {
				continue
			}
			return 0, err
		}
		if !agent.Assignable() {
			continue
		}
		active, err := e.convs.ActiveCountByAgent(ctx, id)
		if err != nil {
			return 0, err
		}
		if active >= agent.Capacity {
			continue
		}
		return id, nil
	}
	return 0, nil
}
