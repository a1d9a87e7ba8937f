package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/goatchat/internal/database"
	"github.com/goatkit/goatchat/internal/models"
)

// Sentinel errors surfaced to the dispatcher for lifecycle conflicts.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationClosed   = errors.New("conversation is closed")
	ErrAlreadyAssigned      = errors.New("conversation already assigned to another agent")
	ErrNotActive            = errors.New("conversation is not active")
)

// ConversationRepository is the durable store for conversations,
// messages and the transfer log.
type ConversationRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	GetOrOpenFor(ctx context.Context, customerID int64) (conv *models.Conversation, created bool, err error)
	OpenFor(ctx context.Context, customerID int64) (*models.Conversation, error)
	Assign(ctx context.Context, conversationID, agentID int64) error
	Reassign(ctx context.Context, conversationID, newAgentID int64) error
	RevertToWaiting(ctx context.Context, conversationID int64) error
	Close(ctx context.Context, conversationID int64) error

	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	TouchCustomerMessage(ctx context.Context, conversationID int64, at time.Time) error
	TouchAgentReply(ctx context.Context, conversationID int64, at time.Time) error
	MarkRead(ctx context.Context, conversationID int64, reader models.SenderKind) error
	MarkAllUnread(ctx context.Context, conversationID int64) error

	Messages(ctx context.Context, conversationID int64) ([]*models.Message, error)
	CustomerMessages(ctx context.Context, conversationID int64) ([]*models.Message, error)
	UnreadCount(ctx context.Context, conversationID int64, sender models.SenderKind) (int, error)
	UnreadAgentMessages(ctx context.Context, conversationID int64) ([]*models.Message, error)

	ActiveCountByAgent(ctx context.Context, agentID int64) (int, error)
	AgentStatusCounts(ctx context.Context, agentID int64) (active, waiting int, err error)
	WaitingCount(ctx context.Context) (int, error)
	OpenByAgent(ctx context.Context, agentID int64) ([]*models.Conversation, error)
	WaitingQueue(ctx context.Context, limit int) ([]*models.Conversation, error)
	TimeoutCandidates(ctx context.Context, threshold time.Duration) ([]*models.Conversation, error)

	AppendTransfer(ctx context.Context, rec *models.TransferRecord) error
	Transfers(ctx context.Context, conversationID int64) ([]*models.TransferRecord, error)
}

// ConversationSQLRepository handles database operations for the
// conversation, message and conversation_transfer tables.
type ConversationSQLRepository struct {
	db *sqlx.DB
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(db *sqlx.DB) *ConversationSQLRepository {
	return &ConversationSQLRepository{db: db}
}

const conversationColumns = `id, customer_id, agent_id, status, last_message_at, last_agent_reply_at, last_customer_msg_at, closed_at, create_time`

// GetByID retrieves a conversation by id.
func (r *ConversationSQLRepository) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	query := database.ConvertPlaceholders(`SELECT ` + conversationColumns + ` FROM conversation WHERE id = ?`)
	var conv models.Conversation
	if err := r.db.GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &conv, nil
}

// GetOrOpenFor returns the customer's current non-CLOSED conversation,
// creating a fresh WAITING one when none exists. The unique index on
// (customer_id, open_marker) settles concurrent opens: the loser's
// INSERT fails with a duplicate key and re-reads the winner's row.
func (r *ConversationSQLRepository) GetOrOpenFor(ctx context.Context, customerID int64) (*models.Conversation, bool, error) {
	conv, err := r.openForCustomer(ctx, customerID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	query := database.ConvertPlaceholders(`
		INSERT INTO conversation (customer_id, agent_id, status, open_marker, create_time)
		VALUES (?, NULL, ?, 1, ?)`)
	res, err := r.db.ExecContext(ctx, query, customerID, models.ConversationWaiting, now)
	if err != nil {
		if isDuplicateKey(err) {
			conv, err := r.openForCustomer(ctx, customerID)
			return conv, false, err
		}
		return nil, false, fmt.Errorf("failed to open conversation: %w", err)
	}

	conv = &models.Conversation{
		CustomerID: customerID,
		Status:     models.ConversationWaiting,
		CreateTime: now,
	}
	if id, err := res.LastInsertId(); err == nil {
		conv.ID = id
	}
	return conv, true, nil
}

// OpenFor returns the customer's current non-CLOSED conversation
// without creating one. ErrConversationNotFound when there is none.
func (r *ConversationSQLRepository) OpenFor(ctx context.Context, customerID int64) (*models.Conversation, error) {
	return r.openForCustomer(ctx, customerID)
}

func (r *ConversationSQLRepository) openForCustomer(ctx context.Context, customerID int64) (*models.Conversation, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + conversationColumns + ` FROM conversation
		WHERE customer_id = ? AND status <> ?
		ORDER BY id DESC LIMIT 1`)
	var conv models.Conversation
	if err := r.db.GetContext(ctx, &conv, query, customerID, models.ConversationClosed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to query open conversation: %w", err)
	}
	return &conv, nil
}

// Assign transitions WAITING → ACTIVE with the agent set. The guarded
// UPDATE is the arbiter when two assigners race onto one WAITING
// conversation; exactly one wins. Idempotent when the conversation is
// already ACTIVE under the same agent.
func (r *ConversationSQLRepository) Assign(ctx context.Context, conversationID, agentID int64) error {
	query := database.ConvertPlaceholders(`
		UPDATE conversation
		SET status = ?, agent_id = ?
		WHERE id = ? AND status = ? AND agent_id IS NULL`)
	res, err := r.db.ExecContext(ctx, query,
		models.ConversationActive, agentID, conversationID, models.ConversationWaiting)
	if err != nil {
		return fmt.Errorf("failed to assign conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	conv, err := r.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	switch {
	case conv.Status == models.ConversationClosed:
		return ErrConversationClosed
	case conv.Status == models.ConversationActive && conv.AssignedTo(agentID):
		return nil
	default:
		return ErrAlreadyAssigned
	}
}

// Reassign overwrites the agent of an ACTIVE conversation.
// Preconditions beyond liveness of the row are the dispatcher's job.
func (r *ConversationSQLRepository) Reassign(ctx context.Context, conversationID, newAgentID int64) error {
	query := database.ConvertPlaceholders(`
		UPDATE conversation SET agent_id = ?
		WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, query, newAgentID, conversationID, models.ConversationActive)
	if err != nil {
		return fmt.Errorf("failed to reassign conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		conv, err := r.GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Status == models.ConversationClosed {
			return ErrConversationClosed
		}
		if conv.Status != models.ConversationActive {
			return ErrNotActive
		}
		// Matched but unchanged: already assigned to newAgentID.
	}
	return nil
}

// RevertToWaiting puts an ACTIVE conversation back in the queue with
// the agent cleared. Used when an offline agent's conversations find
// no transfer candidate.
func (r *ConversationSQLRepository) RevertToWaiting(ctx context.Context, conversationID int64) error {
	query := database.ConvertPlaceholders(`
		UPDATE conversation SET status = ?, agent_id = NULL
		WHERE id = ? AND status = ?`)
	if _, err := r.db.ExecContext(ctx, query,
		models.ConversationWaiting, conversationID, models.ConversationActive); err != nil {
		return fmt.Errorf("failed to revert conversation to waiting: %w", err)
	}
	return nil
}

// Close transitions to CLOSED with a closed-at stamp. Idempotent: a
// second close leaves the original stamp in place.
func (r *ConversationSQLRepository) Close(ctx context.Context, conversationID int64) error {
	query := database.ConvertPlaceholders(`
		UPDATE conversation SET status = ?, open_marker = NULL, closed_at = ?
		WHERE id = ? AND status <> ?`)
	res, err := r.db.ExecContext(ctx, query,
		models.ConversationClosed, time.Now().UTC(), conversationID, models.ConversationClosed)
	if err != nil {
		return fmt.Errorf("failed to close conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetByID(ctx, conversationID); err != nil {
			return err
		}
	}
	return nil
}

// AppendMessage inserts a message and bumps the conversation's
// last-message timestamp. SYSTEM messages carry sender id 0.
func (r *ConversationSQLRepository) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ConversationID == 0 {
		return nil, errors.New("message conversation id is required")
	}
	now := time.Now().UTC()
	msg.CreateTime = now
	if msg.SenderKind == models.SenderSystem {
		msg.SenderID = models.SystemSenderID
	}

	query := database.ConvertPlaceholders(`
		INSERT INTO message (conversation_id, sender_kind, sender_id, content_kind, body, is_read, visible_to_customer, create_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := r.db.ExecContext(ctx, query,
		msg.ConversationID, msg.SenderKind, msg.SenderID, msg.ContentKind,
		msg.Body, msg.Read, msg.VisibleToCustomer, msg.CreateTime)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}

	touch := database.ConvertPlaceholders(`UPDATE conversation SET last_message_at = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, touch, now, msg.ConversationID); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}
	return msg, nil
}

// TouchCustomerMessage advances last_customer_msg_at. The guard keeps
// the timestamp monotonic within the conversation.
func (r *ConversationSQLRepository) TouchCustomerMessage(ctx context.Context, conversationID int64, at time.Time) error {
	query := database.ConvertPlaceholders(`
		UPDATE conversation SET last_customer_msg_at = ?
		WHERE id = ? AND (last_customer_msg_at IS NULL OR last_customer_msg_at < ?)`)
	if _, err := r.db.ExecContext(ctx, query, at, conversationID, at); err != nil {
		return fmt.Errorf("failed to touch customer message time: %w", err)
	}
	return nil
}

// TouchAgentReply advances last_agent_reply_at, monotonically.
func (r *ConversationSQLRepository) TouchAgentReply(ctx context.Context, conversationID int64, at time.Time) error {
	query := database.ConvertPlaceholders(`
		UPDATE conversation SET last_agent_reply_at = ?
		WHERE id = ? AND (last_agent_reply_at IS NULL OR last_agent_reply_at < ?)`)
	if _, err := r.db.ExecContext(ctx, query, at, conversationID, at); err != nil {
		return fmt.Errorf("failed to touch agent reply time: %w", err)
	}
	return nil
}

// MarkRead flips read=true on all messages authored by the opposite
// side of the reader.
func (r *ConversationSQLRepository) MarkRead(ctx context.Context, conversationID int64, reader models.SenderKind) error {
	var sender models.SenderKind
	switch reader {
	case models.SenderAgent:
		sender = models.SenderCustomer
	case models.SenderCustomer:
		sender = models.SenderAgent
	default:
		return fmt.Errorf("invalid reader kind %v", reader)
	}
	query := database.ConvertPlaceholders(`
		UPDATE message SET is_read = ?
		WHERE conversation_id = ? AND sender_kind = ? AND is_read = ?`)
	if _, err := r.db.ExecContext(ctx, query, true, conversationID, sender, false); err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

// MarkAllUnread resets every read flag in the conversation so a
// receiving agent sees a fresh unread badge after a transfer.
func (r *ConversationSQLRepository) MarkAllUnread(ctx context.Context, conversationID int64) error {
	query := database.ConvertPlaceholders(`UPDATE message SET is_read = ? WHERE conversation_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, false, conversationID); err != nil {
		return fmt.Errorf("failed to mark messages unread: %w", err)
	}
	return nil
}

const messageColumns = `id, conversation_id, sender_kind, sender_id, content_kind, body, is_read, visible_to_customer, create_time`

// Messages returns the full ordered history of a conversation.
func (r *ConversationSQLRepository) Messages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + messageColumns + ` FROM message
		WHERE conversation_id = ? ORDER BY id`)
	var msgs []*models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// CustomerMessages returns the history as the customer may see it:
// SYSTEM messages flagged invisible are filtered out.
func (r *ConversationSQLRepository) CustomerMessages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + messageColumns + ` FROM message
		WHERE conversation_id = ? AND visible_to_customer = ?
		ORDER BY id`)
	var msgs []*models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, true); err != nil {
		return nil, fmt.Errorf("failed to list customer messages: %w", err)
	}
	return msgs, nil
}

// UnreadCount counts unread messages from the given sender kind.
func (r *ConversationSQLRepository) UnreadCount(ctx context.Context, conversationID int64, sender models.SenderKind) (int, error) {
	query := database.ConvertPlaceholders(`
		SELECT COUNT(*) FROM message
		WHERE conversation_id = ? AND sender_kind = ? AND is_read = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, conversationID, sender, false); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// UnreadAgentMessages returns unread AGENT messages, pushed to a
// customer as offline_messages on reconnect.
func (r *ConversationSQLRepository) UnreadAgentMessages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + messageColumns + ` FROM message
		WHERE conversation_id = ? AND sender_kind = ? AND is_read = ?
		ORDER BY id`)
	var msgs []*models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, models.SenderAgent, false); err != nil {
		return nil, fmt.Errorf("failed to list unread agent messages: %w", err)
	}
	return msgs, nil
}

// ActiveCountByAgent counts the agent's non-CLOSED conversations. This
// is the capacity authority; the registry load score is only a hint.
func (r *ConversationSQLRepository) ActiveCountByAgent(ctx context.Context, agentID int64) (int, error) {
	query := database.ConvertPlaceholders(`
		SELECT COUNT(*) FROM conversation
		WHERE agent_id = ? AND status <> ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, agentID, models.ConversationClosed); err != nil {
		return 0, fmt.Errorf("failed to count active conversations: %w", err)
	}
	return count, nil
}

// AgentStatusCounts returns the agent's ACTIVE and WAITING
// conversation counts, the inputs to the load score.
func (r *ConversationSQLRepository) AgentStatusCounts(ctx context.Context, agentID int64) (int, int, error) {
	query := database.ConvertPlaceholders(`
		SELECT status, COUNT(*) AS n FROM conversation
		WHERE agent_id = ? AND status <> ?
		GROUP BY status`)
	rows, err := r.db.QueryContext(ctx, query, agentID, models.ConversationClosed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count agent conversations: %w", err)
	}
	defer rows.Close()

	var active, waiting int
	for rows.Next() {
		var status models.ConversationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch status {
		case models.ConversationActive:
			active = n
		case models.ConversationWaiting:
			waiting = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("row iteration error: %w", err)
	}
	return active, waiting, nil
}

// WaitingCount counts unassigned WAITING conversations.
func (r *ConversationSQLRepository) WaitingCount(ctx context.Context) (int, error) {
	query := database.ConvertPlaceholders(`
		SELECT COUNT(*) FROM conversation
		WHERE status = ? AND agent_id IS NULL`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, models.ConversationWaiting); err != nil {
		return 0, fmt.Errorf("failed to count waiting conversations: %w", err)
	}
	return count, nil
}

// OpenByAgent returns the agent's non-CLOSED conversations.
func (r *ConversationSQLRepository) OpenByAgent(ctx context.Context, agentID int64) ([]*models.Conversation, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + conversationColumns + ` FROM conversation
		WHERE agent_id = ? AND status <> ?
		ORDER BY id`)
	var convs []*models.Conversation
	if err := r.db.SelectContext(ctx, &convs, query, agentID, models.ConversationClosed); err != nil {
		return nil, fmt.Errorf("failed to list agent conversations: %w", err)
	}
	return convs, nil
}

// WaitingQueue returns unassigned WAITING conversations, oldest first.
func (r *ConversationSQLRepository) WaitingQueue(ctx context.Context, limit int) ([]*models.Conversation, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + conversationColumns + ` FROM conversation
		WHERE status = ? AND agent_id IS NULL
		ORDER BY create_time, id
		LIMIT ?`)
	var convs []*models.Conversation
	if err := r.db.SelectContext(ctx, &convs, query, models.ConversationWaiting, limit); err != nil {
		return nil, fmt.Errorf("failed to list waiting queue: %w", err)
	}
	return convs, nil
}

// TimeoutCandidates returns ACTIVE conversations whose customer has
// been waiting on a reply for at least the threshold.
func (r *ConversationSQLRepository) TimeoutCandidates(ctx context.Context, threshold time.Duration) ([]*models.Conversation, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	query := database.ConvertPlaceholders(`
		SELECT ` + conversationColumns + ` FROM conversation
		WHERE status = ?
		  AND agent_id IS NOT NULL
		  AND last_customer_msg_at IS NOT NULL
		  AND last_customer_msg_at <= ?
		  AND (last_agent_reply_at IS NULL OR last_agent_reply_at < last_customer_msg_at)
		ORDER BY last_customer_msg_at`)
	var convs []*models.Conversation
	if err := r.db.SelectContext(ctx, &convs, query, models.ConversationActive, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list timeout candidates: %w", err)
	}
	return convs, nil
}

// AppendTransfer writes a transfer log record.
func (r *ConversationSQLRepository) AppendTransfer(ctx context.Context, rec *models.TransferRecord) error {
	rec.CreateTime = time.Now().UTC()
	query := database.ConvertPlaceholders(`
		INSERT INTO conversation_transfer (conversation_id, from_agent_id, to_agent_id, kind, operator_id, reason, create_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	res, err := r.db.ExecContext(ctx, query,
		rec.ConversationID, rec.FromAgentID, rec.ToAgentID, rec.Kind,
		rec.OperatorID, rec.Reason, rec.CreateTime)
	if err != nil {
		return fmt.Errorf("failed to insert transfer record: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// Transfers returns the transfer history of a conversation.
func (r *ConversationSQLRepository) Transfers(ctx context.Context, conversationID int64) ([]*models.TransferRecord, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, conversation_id, from_agent_id, to_agent_id, kind, operator_id, reason, create_time
		FROM conversation_transfer
		WHERE conversation_id = ? ORDER BY id`)
	var recs []*models.TransferRecord
	if err := r.db.SelectContext(ctx, &recs, query, conversationID); err != nil {
		return nil, fmt.Errorf("failed to list transfer records: %w", err)
	}
	return recs, nil
}
