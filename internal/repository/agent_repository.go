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

// ErrAgentNotFound is returned when an agent id or username does not
// resolve to a row.
var ErrAgentNotFound = errors.New("agent not found")

// AgentRepository defines the interface for agent account operations.
type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id int64) (*models.Agent, error)
	GetByUsername(ctx context.Context, username string) (*models.Agent, error)
	List(ctx context.Context) ([]*models.Agent, error)
	ListAssignable(ctx context.Context) ([]*models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
}

// AgentSQLRepository handles database operations for the agent table.
type AgentSQLRepository struct {
	db *sqlx.DB
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(db *sqlx.DB) *AgentSQLRepository {
	return &AgentSQLRepository{db: db}
}

const agentColumns = `id, username, display_name, password_hash, capacity, enabled, is_admin, create_time, change_time`

// Create inserts a new agent account.
func (r *AgentSQLRepository) Create(ctx context.Context, agent *models.Agent) error {
	if agent.Username == "" {
		return errors.New("agent username is required")
	}
	if agent.Capacity <= 0 {
		agent.Capacity = models.DefaultAgentCapacity
	}
	now := time.Now().UTC()
	agent.CreateTime = now
	agent.ChangeTime = now

	query := database.ConvertPlaceholders(`
		INSERT INTO agent (username, display_name, password_hash, capacity, enabled, is_admin, create_time, change_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := r.db.ExecContext(ctx, query,
		agent.Username, agent.DisplayName, agent.PasswordHash,
		agent.Capacity, agent.Enabled, agent.Admin, agent.CreateTime, agent.ChangeTime)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		agent.ID = id
	}
	return nil
}

// GetByID retrieves an agent by id.
func (r *AgentSQLRepository) GetByID(ctx context.Context, id int64) (*models.Agent, error) {
	query := database.ConvertPlaceholders(`SELECT ` + agentColumns + ` FROM agent WHERE id = ?`)
	var agent models.Agent
	if err := r.db.GetContext(ctx, &agent, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return &agent, nil
}

// GetByUsername retrieves an agent by login name.
func (r *AgentSQLRepository) GetByUsername(ctx context.Context, username string) (*models.Agent, error) {
	query := database.ConvertPlaceholders(`SELECT ` + agentColumns + ` FROM agent WHERE username = ?`)
	var agent models.Agent
	if err := r.db.GetContext(ctx, &agent, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return &agent, nil
}

// List returns all agent accounts.
func (r *AgentSQLRepository) List(ctx context.Context) ([]*models.Agent, error) {
	query := database.ConvertPlaceholders(`SELECT ` + agentColumns + ` FROM agent ORDER BY id`)
	var agents []*models.Agent
	if err := r.db.SelectContext(ctx, &agents, query); err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

// ListAssignable returns enabled non-admin agents, the only accounts
// the assignment engine may consider.
func (r *AgentSQLRepository) ListAssignable(ctx context.Context) ([]*models.Agent, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + agentColumns + ` FROM agent
		WHERE enabled = ? AND is_admin = ?
		ORDER BY id`)
	var agents []*models.Agent
	if err := r.db.SelectContext(ctx, &agents, query, true, false); err != nil {
		return nil, fmt.Errorf("failed to list assignable agents: %w", err)
	}
	return agents, nil
}

// Update persists display name, capacity, enabled and admin flags.
func (r *AgentSQLRepository) Update(ctx context.Context, agent *models.Agent) error {
	agent.ChangeTime = time.Now().UTC()
	query := database.ConvertPlaceholders(`
		UPDATE agent
		SET display_name = ?, capacity = ?, enabled = ?, is_admin = ?, change_time = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query,
		agent.DisplayName, agent.Capacity, agent.Enabled, agent.Admin, agent.ChangeTime, agent.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// SetEnabled flips the account-enabled flag.
func (r *AgentSQLRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	query := database.ConvertPlaceholders(`UPDATE agent SET enabled = ?, change_time = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, enabled, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update agent enabled flag: %w", err)
	}
	return nil
}
