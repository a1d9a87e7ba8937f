package models

import "time"

// QuickReply is a canned response template owned by one agent.
type QuickReply struct {
	ID         int64     `db:"id" json:"id"`
	AgentID    int64     `db:"agent_id" json:"agent_id"`
	Title      string    `db:"title" json:"title"`
	Body       string    `db:"body" json:"body"`
	CreateTime time.Time `db:"create_time" json:"create_time"`
	ChangeTime time.Time `db:"change_time" json:"change_time"`
}
