package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/registry"
	"github.com/goatkit/goatchat/internal/repository"
)

// ErrNotOwner is returned when an agent references a conversation it
// does not hold. The gateway drops these silently.
var ErrNotOwner = errors.New("conversation not owned by agent")

// HandleCustomerMessage processes one inbound customer message:
// persist, stamp, deliver to the holding agent or run assignment, and
// acknowledge the customer.
func (d *Dispatcher) HandleCustomerMessage(ctx context.Context, customerID int64, kind models.ContentKind, body string) error {
	customer, err := d.customers.GetByID(ctx, customerID)
	if err != nil {
		return err
	}

	conv, created, err := d.convs.GetOrOpenFor(ctx, customerID)
	if err != nil {
		return err
	}

	if kind == models.ContentText {
		body = d.sanitizer.Sanitize(body)
	}
	msg, err := d.convs.AppendMessage(ctx, &models.Message{
		ConversationID:    conv.ID,
		SenderKind:        models.SenderCustomer,
		SenderID:          customerID,
		ContentKind:       kind,
		Body:              body,
		VisibleToCustomer: true,
	})
	if err != nil {
		return err
	}
	if err := d.convs.TouchCustomerMessage(ctx, conv.ID, msg.CreateTime); err != nil {
		d.logger.Warn("failed to stamp customer message time", "conversation_id", conv.ID, "error", err)
	}

	if conv.AgentID.Valid {
		agentID := conv.AgentID.Int64
		d.pushToAgent(agentID, FrameNewMessage, messagePayload(msg))
		if created {
			d.pushToAgent(agentID, FrameConversationAssigned, ConversationAssignedPayload{
				ConversationID: conv.ID,
				Status:         conv.Status.String(),
				Customer:       customerSummary(customer),
				CreatedAt:      conv.CreateTime,
			})
		}
	} else {
		if err := d.assignNew(ctx, conv, customer, msg); err != nil {
			return err
		}
	}

	d.pushToCustomer(customerID, FrameMessageSent, messagePayload(msg))
	return nil
}

// assignNew attempts assignment of an unheld conversation and notifies
// both parties, or queues the customer when everyone is saturated.
func (d *Dispatcher) assignNew(ctx context.Context, conv *models.Conversation, customer *models.Customer, msg *models.Message) error {
	candidate, err := d.engine.Pick(ctx, nil)
	if err != nil {
		return err
	}
	if candidate == 0 {
		queueNotices.Inc()
		d.pushToCustomer(conv.CustomerID, FrameQueueNotice, map[string]any{
			"conversation_id": conv.ID,
		})
		return nil
	}

	if err := d.convs.Assign(ctx, conv.ID, candidate); err != nil {
		// Lost a race; the conversation found another agent. The
		// message already landed, so nothing is owed here.
		if errors.Is(err, repository.ErrAlreadyAssigned) {
			return nil
		}
		return err
	}
	assignments.Inc()
	d.RecomputeLoad(ctx, candidate)

	var msgs []MessagePayload
	if msg != nil {
		msgs = []MessagePayload{messagePayload(msg)}
	}
	d.pushToAgent(candidate, FrameConversationAssigned, ConversationAssignedPayload{
		ConversationID: conv.ID,
		Status:         models.ConversationActive.String(),
		Customer:       customerSummary(customer),
		Messages:       msgs,
		UnreadCount:    len(msgs),
		CreatedAt:      conv.CreateTime,
	})
	if msg != nil {
		d.pushToAgent(candidate, FrameNewMessage, messagePayload(msg))
	}
	d.pushToCustomer(conv.CustomerID, FrameAgentAssigned, d.agentAssignedPayload(ctx, conv.ID, candidate))
	return nil
}

func (d *Dispatcher) agentAssignedPayload(ctx context.Context, conversationID, agentID int64) AgentAssignedPayload {
	payload := AgentAssignedPayload{ConversationID: conversationID, AgentID: agentID}
	if agent, err := d.agents.GetByID(ctx, agentID); err == nil {
		payload.AgentName = agent.DisplayName
	}
	return payload
}

// HandleAgentMessage processes one inbound agent message. Ownership
// violations and closed conversations are silent drops: a malformed or
// stale client, not an error worth a frame.
func (d *Dispatcher) HandleAgentMessage(ctx context.Context, agentID, conversationID int64, kind models.ContentKind, body string) error {
	conv, err := d.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.AssignedTo(agentID) {
		return ErrNotOwner
	}
	if conv.Status == models.ConversationClosed {
		return repository.ErrConversationClosed
	}

	if kind == models.ContentText {
		body = d.sanitizer.Sanitize(body)
	}
	msg, err := d.convs.AppendMessage(ctx, &models.Message{
		ConversationID:    conversationID,
		SenderKind:        models.SenderAgent,
		SenderID:          agentID,
		ContentKind:       kind,
		Body:              body,
		VisibleToCustomer: true,
	})
	if err != nil {
		return err
	}
	if err := d.convs.TouchAgentReply(ctx, conversationID, msg.CreateTime); err != nil {
		d.logger.Warn("failed to stamp agent reply time", "conversation_id", conversationID, "error", err)
	}

	d.pushToCustomer(conv.CustomerID, FrameNewMessage, messagePayload(msg))
	d.pushToAgent(agentID, FrameMessageSent, messagePayload(msg))
	return nil
}

// HandleTyping validates ownership of the conversation and forwards
// the indicator to the counterpart. Nothing is persisted.
func (d *Dispatcher) HandleTyping(ctx context.Context, from registry.Principal, conversationID int64, isTyping bool) error {
	conv, err := d.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	payload := TypingPayload{ConversationID: conversationID, From: from.Kind.String(), IsTyping: isTyping}
	switch from.Kind {
	case registry.PrincipalAgent:
		if !conv.AssignedTo(from.ID) {
			return ErrNotOwner
		}
		d.pushToCustomer(conv.CustomerID, FrameTyping, payload)
	case registry.PrincipalCustomer:
		if conv.CustomerID != from.ID {
			return ErrNotOwner
		}
		if conv.AgentID.Valid {
			d.pushToAgent(conv.AgentID.Int64, FrameTyping, payload)
		}
	}
	return nil
}

// HandleRead marks the counterpart's messages read and notifies them.
func (d *Dispatcher) HandleRead(ctx context.Context, from registry.Principal, conversationID int64) error {
	conv, err := d.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	switch from.Kind {
	case registry.PrincipalAgent:
		if !conv.AssignedTo(from.ID) {
			return ErrNotOwner
		}
		if err := d.convs.MarkRead(ctx, conversationID, models.SenderAgent); err != nil {
			return err
		}
		d.pushToCustomer(conv.CustomerID, FrameMessagesRead, MessagesReadPayload{
			ConversationID: conversationID,
			Reader:         "agent",
		})
	case registry.PrincipalCustomer:
		if conv.CustomerID != from.ID {
			return ErrNotOwner
		}
		if err := d.convs.MarkRead(ctx, conversationID, models.SenderCustomer); err != nil {
			return err
		}
		if conv.AgentID.Valid {
			d.pushToAgent(conv.AgentID.Int64, FrameMessagesRead, MessagesReadPayload{
				ConversationID: conversationID,
				Reader:         "customer",
			})
		}
	}
	return nil
}

// CloseConversation closes a conversation on behalf of its assigned
// agent (or an admin through the HTTP surface, with force=true),
// notifies both sides and immediately re-uses the freed capacity for
// the waiting queue.
func (d *Dispatcher) CloseConversation(ctx context.Context, actorID, conversationID int64, force bool) error {
	conv, err := d.convs.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !force && !conv.AssignedTo(actorID) {
		return ErrNotOwner
	}
	if conv.Status == models.ConversationClosed {
		return nil
	}
	if err := d.convs.Close(ctx, conversationID); err != nil {
		return err
	}

	closed := map[string]any{"conversation_id": conversationID, "closed_at": time.Now().UTC()}
	d.pushToCustomer(conv.CustomerID, FrameConversationClosed, closed)
	if conv.AgentID.Valid {
		former := conv.AgentID.Int64
		d.pushToAgent(former, FrameConversationClosed, closed)
		d.RecomputeLoad(ctx, former)
		// Capacity just opened; give it to the queue right away.
		if n := d.DrainWaitingFor(ctx, former); n > 0 {
			d.logger.Info("drained waiting queue after close",
				"agent_id", former, "assigned", n)
		}
	}
	return nil
}

// OfflineHistory returns the unread agent messages a reconnecting
// customer missed, with the conversation they belong to. Reconnecting
// never opens a conversation by itself.
func (d *Dispatcher) OfflineHistory(ctx context.Context, customerID int64) (int64, []MessagePayload, error) {
	conv, err := d.convs.OpenFor(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	msgs, err := d.convs.UnreadAgentMessages(ctx, conv.ID)
	if err != nil {
		return 0, nil, err
	}
	return conv.ID, messagePayloads(msgs), nil
}
