package models

import (
	"database/sql"
	"fmt"
	"time"
)

// TransferKind distinguishes manual transfers from the two automatic
// paths. AUTO_AGENT_OFFLINE is a first-class kind, not an overload of
// the timeout value.
type TransferKind int

const (
	TransferManual       TransferKind = 1
	TransferAutoTimeout  TransferKind = 2
	TransferAgentOffline TransferKind = 3
)

func (k TransferKind) String() string {
	switch k {
	case TransferManual:
		return "manual"
	case TransferAutoTimeout:
		return "auto_timeout"
	case TransferAgentOffline:
		return "auto_agent_offline"
	}
	return fmt.Sprintf("transfer(%d)", int(k))
}

// TransferRecord is an append-only log entry for a conversation
// handoff. OperatorID is set only for MANUAL transfers.
type TransferRecord struct {
	ID             int64         `db:"id" json:"id"`
	ConversationID int64         `db:"conversation_id" json:"conversation_id"`
	FromAgentID    int64         `db:"from_agent_id" json:"from_agent_id"`
	ToAgentID      int64         `db:"to_agent_id" json:"to_agent_id"`
	Kind           TransferKind  `db:"kind" json:"kind"`
	OperatorID     sql.NullInt64 `db:"operator_id" json:"operator_id"`
	Reason         string        `db:"reason" json:"reason"`
	CreateTime     time.Time     `db:"create_time" json:"create_time"`
}
