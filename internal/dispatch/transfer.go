package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/registry"
	"github.com/goatkit/goatchat/internal/repository"
)

// Typed transfer errors. The HTTP caller answers the conflicts (same
// agent, target disabled, offline or full) with success=false and the
// message, and a missing target or an unassigned conversation with
// not-found. The streaming path never invokes transfer directly.
var (
	ErrTransferNoAgent  = errors.New("conversation has no agent")
	ErrSameAgent        = errors.New("same agent")
	ErrTargetNotFound   = errors.New("target agent not found")
	ErrTargetDisabled   = errors.New("target agent disabled")
	ErrTargetOffline    = errors.New("target agent offline")
	ErrTargetFull       = errors.New("target full")
)

// Transfer moves an ACTIVE conversation to targetID. Preconditions are
// checked in order and the first failure returns its typed error; on
// success the store is updated, a transfer record and SYSTEM message
// are appended, read flags reset, loads recomputed and all three
// parties notified. Fan-out is best-effort and never rolls back the
// transfer.
func (d *Dispatcher) Transfer(ctx context.Context, conversationID, targetID int64,
	kind models.TransferKind, operatorID *int64, reason string) error {

	conv, err := d.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == models.ConversationClosed {
		return repository.ErrConversationClosed
	}
	if !conv.AgentID.Valid {
		return ErrTransferNoAgent
	}
	fromID := conv.AgentID.Int64
	if fromID == targetID {
		return ErrSameAgent
	}

	target, err := d.agents.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrAgentNotFound) {
			return ErrTargetNotFound
		}
		return err
	}
	if !target.Enabled {
		return ErrTargetDisabled
	}
	if d.reg.AgentStatus(targetID) != registry.StatusOnline {
		return ErrTargetOffline
	}
	active, err := d.convs.ActiveCountByAgent(ctx, targetID)
	if err != nil {
		return err
	}
	if active >= target.Capacity {
		return ErrTargetFull
	}

	if err := d.convs.Reassign(ctx, conversationID, targetID); err != nil {
		return err
	}
	transfers.WithLabelValues(kind.String()).Inc()

	rec := &models.TransferRecord{
		ConversationID: conversationID,
		FromAgentID:    fromID,
		ToAgentID:      targetID,
		Kind:           kind,
		Reason:         reason,
	}
	if operatorID != nil {
		rec.OperatorID = sql.NullInt64{Int64: *operatorID, Valid: true}
	}
	if err := d.convs.AppendTransfer(ctx, rec); err != nil {
		d.logger.Error("failed to append transfer record", "conversation_id", conversationID, "error", err)
	}

	if err := d.convs.MarkAllUnread(ctx, conversationID); err != nil {
		d.logger.Error("failed to reset read flags on transfer", "conversation_id", conversationID, "error", err)
	}

	fromName := d.agentName(ctx, fromID)
	toName := target.DisplayName
	sysBody := fmt.Sprintf("conversation transferred from %s to %s (%s)", fromName, toName, kind)
	if _, err := d.convs.AppendMessage(ctx, &models.Message{
		ConversationID:    conversationID,
		SenderKind:        models.SenderSystem,
		ContentKind:       models.ContentText,
		Body:              sysBody,
		VisibleToCustomer: false,
	}); err != nil {
		d.logger.Error("failed to append transfer system message", "conversation_id", conversationID, "error", err)
	}

	d.RecomputeLoad(ctx, fromID)
	d.RecomputeLoad(ctx, targetID)

	d.pushToAgent(fromID, FrameTransferredOut, TransferredOutPayload{
		ConversationID: conversationID,
		ToAgentID:      targetID,
		ToAgentName:    toName,
		Kind:           kind.String(),
		Reason:         reason,
	})

	history, err := d.convs.Messages(ctx, conversationID)
	if err != nil {
		d.logger.Warn("failed to load history for transfer fan-out", "conversation_id", conversationID, "error", err)
	}
	unread, err := d.convs.UnreadCount(ctx, conversationID, models.SenderCustomer)
	if err != nil {
		d.logger.Warn("failed to count unread for transfer fan-out", "conversation_id", conversationID, "error", err)
	}
	customer, _ := d.customers.GetByID(ctx, conv.CustomerID)
	d.pushToAgent(targetID, FrameConversationAssigned, ConversationAssignedPayload{
		ConversationID: conversationID,
		Status:         models.ConversationActive.String(),
		Customer:       customerSummary(customer),
		Messages:       messagePayloads(history),
		UnreadCount:    unread,
		IsTransfer:     true,
		FromAgentID:    fromID,
		CreatedAt:      conv.CreateTime,
	})

	d.pushToCustomer(conv.CustomerID, FrameAgentChanged, map[string]any{
		"conversation_id": conversationID,
		"agent_id":        targetID,
		"agent_name":      toName,
		"text":            fmt.Sprintf("Your conversation has been handed over to %s.", toName),
	})
	return nil
}

func (d *Dispatcher) agentName(ctx context.Context, agentID int64) string {
	agent, err := d.agents.GetByID(ctx, agentID)
	if err != nil {
		return fmt.Sprintf("agent #%d", agentID)
	}
	return agent.DisplayName
}

// DrainWaitingFor assigns waiting conversations to one agent until its
// capacity fills or the fetched batch is exhausted. Returns the number
// assigned.
func (d *Dispatcher) DrainWaitingFor(ctx context.Context, agentID int64) int {
	if d.reg.AgentStatus(agentID) != registry.StatusOnline || !d.reg.IsAlive(agentID) {
		return 0
	}
	agent, err := d.agents.GetByID(ctx, agentID)
	if err != nil || !agent.Assignable() {
		return 0
	}

	active, err := d.convs.ActiveCountByAgent(ctx, agentID)
	if err != nil {
		d.logger.Warn("failed to count active conversations for drain", "agent_id", agentID, "error", err)
		return 0
	}
	free := agent.Capacity - active
	if free <= 0 {
		return 0
	}

	waiting, err := d.convs.WaitingQueue(ctx, free)
	if err != nil {
		d.logger.Warn("failed to fetch waiting queue", "agent_id", agentID, "error", err)
		return 0
	}

	assigned := 0
	for _, conv := range waiting {
		// Re-check before every assignment: another worker may have
		// filled the agent mid-loop.
		current, err := d.convs.ActiveCountByAgent(ctx, agentID)
		if err != nil || current >= agent.Capacity {
			break
		}
		if err := d.convs.Assign(ctx, conv.ID, agentID); err != nil {
			if errors.Is(err, repository.ErrAlreadyAssigned) || errors.Is(err, repository.ErrConversationClosed) {
				continue
			}
			d.logger.Warn("failed to assign waiting conversation", "conversation_id", conv.ID, "error", err)
			continue
		}
		assignments.Inc()
		assigned++

		customer, _ := d.customers.GetByID(ctx, conv.CustomerID)
		msgs, _ := d.convs.Messages(ctx, conv.ID)
		unread, _ := d.convs.UnreadCount(ctx, conv.ID, models.SenderCustomer)
		d.pushToAgent(agentID, FrameConversationAssigned, ConversationAssignedPayload{
			ConversationID: conv.ID,
			Status:         models.ConversationActive.String(),
			Customer:       customerSummary(customer),
			Messages:       messagePayloads(msgs),
			UnreadCount:    unread,
			CreatedAt:      conv.CreateTime,
		})
		d.pushToCustomer(conv.CustomerID, FrameAgentAssigned, d.agentAssignedPayload(ctx, conv.ID, agentID))
	}
	if assigned > 0 {
		d.RecomputeLoad(ctx, agentID)
	}
	return assigned
}

// HandleAgentOffline redistributes the ACTIVE conversations of an
// agent that dropped off: each one transfers to a fresh candidate or
// reverts to WAITING when nobody has room. Returns the transferred and
// reverted counts.
func (d *Dispatcher) HandleAgentOffline(ctx context.Context, agentID int64) (int, int) {
	convs, err := d.convs.OpenByAgent(ctx, agentID)
	if err != nil {
		d.logger.Error("failed to list conversations of offline agent", "agent_id", agentID, "error", err)
		return 0, 0
	}

	transferred, reverted := 0, 0
	for _, conv := range convs {
		if conv.Status != models.ConversationActive {
			continue
		}
		candidate, err := d.engine.Pick(ctx, map[int64]struct{}{agentID: {}})
		if err != nil {
			d.logger.Warn("candidate pick failed for offline transfer", "conversation_id", conv.ID, "error", err)
			candidate = 0
		}
		if candidate != 0 {
			err := d.Transfer(ctx, conv.ID, candidate, models.TransferAgentOffline, nil,
				"previous agent went offline")
			if err == nil {
				transferred++
				continue
			}
			d.logger.Warn("offline transfer failed, reverting to waiting",
				"conversation_id", conv.ID, "target", candidate, "error", err)
		}
		if err := d.convs.RevertToWaiting(ctx, conv.ID); err != nil {
			d.logger.Error("failed to revert conversation to waiting", "conversation_id", conv.ID, "error", err)
			continue
		}
		reverted++
	}
	return transferred, reverted
}
