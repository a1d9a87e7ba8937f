package models

import "time"

// Customer is an unauthenticated visitor identified by a stable
// client-supplied string. Created lazily on first connection and never
// deleted by the dispatcher.
type Customer struct {
	ID         int64     `db:"id" json:"id"`
	UUID       string    `db:"uuid" json:"uuid"`
	RemoteAddr string    `db:"remote_addr" json:"remote_addr"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	Locale     string    `db:"locale" json:"locale"`
	SourcePage string    `db:"source_page" json:"source_page"`
	CreateTime time.Time `db:"create_time" json:"create_time"`
	LastSeen   time.Time `db:"last_seen" json:"last_seen"`
}
