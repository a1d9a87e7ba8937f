package models

import (
	"database/sql"
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation. Values
// are stable: they are what the database and wire schema carry.
type ConversationStatus int

const (
	ConversationWaiting ConversationStatus = 0
	ConversationActive  ConversationStatus = 1
	ConversationClosed  ConversationStatus = 2
)

func (s ConversationStatus) String() string {
	switch s {
	case ConversationWaiting:
		return "waiting"
	case ConversationActive:
		return "active"
	case ConversationClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is one of the defined statuses.
func (s ConversationStatus) Valid() bool {
	return s >= ConversationWaiting && s <= ConversationClosed
}

// Conversation is one customer↔agent engagement. AgentID is null while
// WAITING; CLOSED is terminal and the next customer message opens a
// fresh conversation.
type Conversation struct {
	ID                  int64              `db:"id" json:"id"`
	CustomerID          int64              `db:"customer_id" json:"customer_id"`
	AgentID             sql.NullInt64      `db:"agent_id" json:"agent_id"`
	Status              ConversationStatus `db:"status" json:"status"`
	LastMessageAt       sql.NullTime       `db:"last_message_at" json:"last_message_at"`
	LastAgentReplyAt    sql.NullTime       `db:"last_agent_reply_at" json:"last_agent_reply_at"`
	LastCustomerMsgAt   sql.NullTime       `db:"last_customer_msg_at" json:"last_customer_msg_at"`
	ClosedAt            sql.NullTime       `db:"closed_at" json:"closed_at"`
	CreateTime          time.Time          `db:"create_time" json:"create_time"`
}

// AssignedTo reports whether the conversation is currently held by the
// given agent.
func (c *Conversation) AssignedTo(agentID int64) bool {
	return c != nil && c.AgentID.Valid && c.AgentID.Int64 == agentID
}
