package models

import (
	"fmt"
	"time"
)

// SenderKind identifies who authored a message.
type SenderKind int

const (
	SenderCustomer SenderKind = 0
	SenderAgent    SenderKind = 1
	SenderSystem   SenderKind = 2
)

func (k SenderKind) String() string {
	switch k {
	case SenderCustomer:
		return "customer"
	case SenderAgent:
		return "agent"
	case SenderSystem:
		return "system"
	}
	return fmt.Sprintf("sender(%d)", int(k))
}

// ContentKind identifies the payload type of a message body.
type ContentKind int

const (
	ContentText  ContentKind = 0
	ContentImage ContentKind = 1
)

func (k ContentKind) String() string {
	switch k {
	case ContentText:
		return "text"
	case ContentImage:
		return "image"
	}
	return fmt.Sprintf("content(%d)", int(k))
}

// ParseContentKind maps the wire name to a ContentKind. Unknown names
// fall back to TEXT.
func ParseContentKind(s string) ContentKind {
	if s == "image" {
		return ContentImage
	}
	return ContentText
}

// SystemSenderID is the sender id carried by SYSTEM messages.
const SystemSenderID int64 = 0

// Message is immutable after creation except for the read flag, which
// only flips false→true. IMAGE bodies carry the uploaded URL.
type Message struct {
	ID                int64       `db:"id" json:"id"`
	ConversationID    int64       `db:"conversation_id" json:"conversation_id"`
	SenderKind        SenderKind  `db:"sender_kind" json:"sender_kind"`
	SenderID          int64       `db:"sender_id" json:"sender_id"`
	ContentKind       ContentKind `db:"content_kind" json:"content_kind"`
	Body              string      `db:"body" json:"body"`
	Read              bool        `db:"is_read" json:"is_read"`
	VisibleToCustomer bool        `db:"visible_to_customer" json:"visible_to_customer"`
	CreateTime        time.Time   `db:"create_time" json:"create_time"`
}
