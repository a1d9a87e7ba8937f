package dispatch

import (
	"time"

	"github.com/goatkit/goatchat/internal/models"
)

// Outbound frame vocabulary composed by the dispatcher. The gateway
// owns the handshake-level frames (connected, pong, kicked, error).
const (
	FrameNewMessage           = "new_message"
	FrameMessageSent          = "message_sent"
	FrameConversationAssigned = "conversation_assigned"
	FrameAgentAssigned        = "agent_assigned"
	FrameQueueNotice          = "queue_notice"
	FrameConversationClosed   = "conversation_closed"
	FrameTransferredOut       = "conversation_transferred_out"
	FrameAgentChanged         = "agent_changed"
	FrameTyping               = "typing"
	FrameMessagesRead         = "messages_read"
	FrameOfflineMessages      = "offline_messages"
	FrameStatusChanged        = "status_changed"
)

// MessagePayload is the wire shape of one message.
type MessagePayload struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderKind     string    `json:"sender_kind"`
	SenderID       int64     `json:"sender_id"`
	ContentKind    string    `json:"content_kind"`
	Body           string    `json:"body"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

func messagePayload(m *models.Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderKind:     m.SenderKind.String(),
		SenderID:       m.SenderID,
		ContentKind:    m.ContentKind.String(),
		Body:           m.Body,
		Read:           m.Read,
		CreatedAt:      m.CreateTime,
	}
}

func messagePayloads(msgs []*models.Message) []MessagePayload {
	out := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messagePayload(m))
	}
	return out
}

// CustomerSummary embeds enough of the customer record for an agent's
// conversation list entry.
type CustomerSummary struct {
	ID         int64  `json:"id"`
	UUID       string `json:"uuid"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Locale     string `json:"locale,omitempty"`
	SourcePage string `json:"source_page,omitempty"`
}

func customerSummary(c *models.Customer) *CustomerSummary {
	if c == nil {
		return nil
	}
	return &CustomerSummary{
		ID:         c.ID,
		UUID:       c.UUID,
		RemoteAddr: c.RemoteAddr,
		UserAgent:  c.UserAgent,
		Locale:     c.Locale,
		SourcePage: c.SourcePage,
	}
}

// ConversationAssignedPayload notifies an agent it now holds a
// conversation. On transfer it additionally carries the history and
// unread badge.
type ConversationAssignedPayload struct {
	ConversationID int64            `json:"conversation_id"`
	Status         string           `json:"status"`
	Customer       *CustomerSummary `json:"customer,omitempty"`
	Messages       []MessagePayload `json:"messages,omitempty"`
	UnreadCount    int              `json:"unread_count"`
	IsTransfer     bool             `json:"is_transfer"`
	FromAgentID    int64            `json:"from_agent_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// AgentAssignedPayload tells the customer who is serving them.
type AgentAssignedPayload struct {
	ConversationID int64  `json:"conversation_id"`
	AgentID        int64  `json:"agent_id"`
	AgentName      string `json:"agent_name"`
}

// TransferredOutPayload tells the former agent the conversation left.
type TransferredOutPayload struct {
	ConversationID int64  `json:"conversation_id"`
	ToAgentID      int64  `json:"to_agent_id"`
	ToAgentName    string `json:"to_agent_name"`
	Kind           string `json:"kind"`
	Reason         string `json:"reason,omitempty"`
}

// TypingPayload forwards a typing indicator to the counterpart.
type TypingPayload struct {
	ConversationID int64  `json:"conversation_id"`
	From           string `json:"from"`
	IsTyping       bool   `json:"is_typing"`
}

// MessagesReadPayload notifies one side their messages were read.
type MessagesReadPayload struct {
	ConversationID int64  `json:"conversation_id"`
	Reader         string `json:"reader"`
}
