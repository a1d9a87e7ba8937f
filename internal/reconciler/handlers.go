package reconciler

import (
	"context"
	"fmt"

	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/registry"
)

// runHeartbeatSweep forces agents with expired liveness markers
// offline and redistributes their active conversations. Run
// back-to-back with no intervening events it is a no-op.
func (s *Service) runHeartbeatSweep(ctx context.Context) {
	swept := 0
	for _, agentID := range s.presence.OnlineAgents() {
		if s.presence.IsAlive(agentID) {
			continue
		}
		if sess, ok := s.presence.LookupAgentSession(agentID); ok {
			s.presence.UnbindBySession(sess.Handle())
		} else {
			s.presence.SetStatus(agentID, registry.StatusOffline)
			s.presence.ClearLiveness(agentID)
		}
		swept++
		sweptAgents.Inc()

		transferred, reverted := s.dispatcher.HandleAgentOffline(ctx, agentID)
		s.logger.Printf("heartbeat sweep: agent %d expired, %d transferred, %d reverted to waiting",
			agentID, transferred, reverted)
	}
	if swept > 0 {
		s.logger.Printf("heartbeat sweep: forced %d agent(s) offline", swept)
	}
}

// runWaitingDrain is the belt-and-suspenders pass over the waiting
// queue: the primary assignment paths are customer-inbound and
// agent-connect, but a queue entry can strand when every agent was
// full at send time.
func (s *Service) runWaitingDrain(ctx context.Context) {
	waiting, err := s.store.WaitingCount(ctx)
	if err != nil {
		s.logger.Printf("waiting drain: failed to count queue: %v", err)
		return
	}
	if waiting == 0 {
		return
	}

	assigned := 0
	for _, agentID := range s.presence.OnlineAgents() {
		n := s.dispatcher.DrainWaitingFor(ctx, agentID)
		assigned += n
		drainedConversations.Add(float64(n))
		if n > 0 {
			remaining, err := s.store.WaitingCount(ctx)
			if err != nil || remaining == 0 {
				break
			}
		}
	}
	if assigned > 0 {
		s.logger.Printf("waiting drain: assigned %d of %d queued conversation(s)", assigned, waiting)
	}
}

// runTimeoutTransfer moves conversations whose customer has waited on
// a reply past the threshold to a fresh agent. Without a candidate the
// conversation stays put: the current agent may still reply.
func (s *Service) runTimeoutTransfer(ctx context.Context) {
	candidates, err := s.store.TimeoutCandidates(ctx, s.timeoutThreshold)
	if err != nil {
		s.logger.Printf("timeout transfer: failed to list candidates: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	transferred, failed := 0, 0
	reason := fmt.Sprintf("customer unanswered %d minutes", int(s.timeoutThreshold.Minutes()))
	for _, conv := range candidates {
		if !conv.AgentID.Valid {
			continue
		}
		current := conv.AgentID.Int64

		target, err := s.dispatcher.Pick(ctx, map[int64]struct{}{current: {}})
		if err != nil {
			s.logger.Printf("timeout transfer: pick failed for conversation %d: %v", conv.ID, err)
			failed++
			timeoutFailures.Inc()
			continue
		}
		if target == 0 {
			failed++
			timeoutFailures.Inc()
			continue
		}

		if err := s.dispatcher.Transfer(ctx, conv.ID, target, models.TransferAutoTimeout, nil, reason); err != nil {
			s.logger.Printf("timeout transfer: conversation %d to agent %d failed: %v", conv.ID, target, err)
			failed++
			timeoutFailures.Inc()
			continue
		}
		transferred++
		timeoutTransfers.Inc()
	}
	s.logger.Printf("timeout transfer: %d transferred, %d without candidate or failed", transferred, failed)
}
