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

// ErrQuickReplyNotFound is returned for a missing template id.
var ErrQuickReplyNotFound = errors.New("quick reply not found")

// QuickReplyRepository defines the interface for canned response
// templates.
type QuickReplyRepository interface {
	Create(ctx context.Context, qr *models.QuickReply) error
	ListByAgent(ctx context.Context, agentID int64) ([]*models.QuickReply, error)
	Update(ctx context.Context, qr *models.QuickReply) error
	Delete(ctx context.Context, id, agentID int64) error
}

// QuickReplySQLRepository handles database operations for the
// quick_reply table.
type QuickReplySQLRepository struct {
	db *sqlx.DB
}

// NewQuickReplyRepository creates a new quick reply repository.
func NewQuickReplyRepository(db *sqlx.DB) *QuickReplySQLRepository {
	return &QuickReplySQLRepository{db: db}
}

// Create inserts a template for an agent.
func (r *QuickReplySQLRepository) Create(ctx context.Context, qr *models.QuickReply) error {
	now := time.Now().UTC()
	qr.CreateTime = now
	qr.ChangeTime = now
	query := database.ConvertPlaceholders(`
		INSERT INTO quick_reply (agent_id, title, body, create_time, change_time)
		VALUES (?, ?, ?, ?, ?)`)
	res, err := r.db.ExecContext(ctx, query, qr.AgentID, qr.Title, qr.Body, qr.CreateTime, qr.ChangeTime)
	if err != nil {
		return fmt.Errorf("failed to insert quick reply: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		qr.ID = id
	}
	return nil
}

// ListByAgent returns the agent's templates.
func (r *QuickReplySQLRepository) ListByAgent(ctx context.Context, agentID int64) ([]*models.QuickReply, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, agent_id, title, body, create_time, change_time
		FROM quick_reply WHERE agent_id = ? ORDER BY id`)
	var replies []*models.QuickReply
	if err := r.db.SelectContext(ctx, &replies, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to list quick replies: %w", err)
	}
	return replies, nil
}

// Update rewrites a template owned by the agent.
func (r *QuickReplySQLRepository) Update(ctx context.Context, qr *models.QuickReply) error {
	qr.ChangeTime = time.Now().UTC()
	query := database.ConvertPlaceholders(`
		UPDATE quick_reply SET title = ?, body = ?, change_time = ?
		WHERE id = ? AND agent_id = ?`)
	res, err := r.db.ExecContext(ctx, query, qr.Title, qr.Body, qr.ChangeTime, qr.ID, qr.AgentID)
	if err != nil {
		return fmt.Errorf("failed to update quick reply: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrQuickReplyNotFound
	}
	return nil
}

// Delete removes a template owned by the agent.
func (r *QuickReplySQLRepository) Delete(ctx context.Context, id, agentID int64) error {
	query := database.ConvertPlaceholders(`DELETE FROM quick_reply WHERE id = ? AND agent_id = ?`)
	res, err := r.db.ExecContext(ctx, query, id, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete quick reply: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrQuickReplyNotFound
	}
	return nil
}

// StatsSnapshot is the counting-only statistics view exposed by the
// admin surface.
type StatsSnapshot struct {
	WaitingConversations int            `json:"waiting_conversations"`
	ActiveConversations  int            `json:"active_conversations"`
	ClosedToday          int            `json:"closed_today"`
	MessagesToday        int            `json:"messages_today"`
	TransfersToday       int            `json:"transfers_today"`
	ActiveByAgent        map[int64]int  `json:"active_by_agent"`
}

// StatsRepository aggregates simple counts for the stats endpoint.
type StatsRepository interface {
	Snapshot(ctx context.Context) (*StatsSnapshot, error)
}

// StatsSQLRepository computes counting statistics from the store.
type StatsSQLRepository struct {
	db *sqlx.DB
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *sqlx.DB) *StatsSQLRepository {
	return &StatsSQLRepository{db: db}
}

// Snapshot gathers the current counts in one pass.
func (r *StatsSQLRepository) Snapshot(ctx context.Context) (*StatsSnapshot, error) {
	snap := &StatsSnapshot{ActiveByAgent: make(map[int64]int)}
	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	statusQuery := database.ConvertPlaceholders(`SELECT status, COUNT(*) AS n FROM conversation WHERE status <> ? GROUP BY status`)
	rows, err := r.db.QueryContext(ctx, statusQuery, models.ConversationClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status models.ConversationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch status {
		case models.ConversationWaiting:
			snap.WaitingConversations = n
		case models.ConversationActive:
			snap.ActiveConversations = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&snap.ClosedToday, `SELECT COUNT(*) FROM conversation WHERE status = ? AND closed_at >= ?`, []any{models.ConversationClosed, midnight}},
		{&snap.MessagesToday, `SELECT COUNT(*) FROM message WHERE create_time >= ?`, []any{midnight}},
		{&snap.TransfersToday, `SELECT COUNT(*) FROM conversation_transfer WHERE create_time >= ?`, []any{midnight}},
	}
	for _, c := range counts {
		if err := r.db.GetContext(ctx, c.dest, database.ConvertPlaceholders(c.query), c.args...); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	perAgent := database.ConvertPlaceholders(`
		SELECT agent_id, COUNT(*) AS n FROM conversation
		WHERE agent_id IS NOT NULL AND status <> ?
		GROUP BY agent_id`)
	agentRows, err := r.db.QueryContext(ctx, perAgent, models.ConversationClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to count per-agent conversations: %w", err)
	}
	defer agentRows.Close()
	for agentRows.Next() {
		var agentID sql.NullInt64
		var n int
		if err := agentRows.Scan(&agentID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan agent count: %w", err)
		}
		if agentID.Valid {
			snap.ActiveByAgent[agentID.Int64] = n
		}
	}
	if err := agentRows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return snap, nil
}
