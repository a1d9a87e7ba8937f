package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/goatchat/internal/database"
	"github.com/goatkit/goatchat/internal/models"
)

// ErrCustomerNotFound is returned when a customer id or uuid does not
// resolve to a row.
var ErrCustomerNotFound = errors.New("customer not found")

// CustomerRepository defines the interface for customer records.
type CustomerRepository interface {
	GetOrCreate(ctx context.Context, uuid string, sight models.Customer) (*models.Customer, error)
	GetByID(ctx context.Context, id int64) (*models.Customer, error)
	GetByUUID(ctx context.Context, uuid string) (*models.Customer, error)
	TouchLastSeen(ctx context.Context, id int64) error
}

// CustomerSQLRepository handles database operations for the customer table.
type CustomerSQLRepository struct {
	db *sqlx.DB
}

// NewCustomerRepository creates a new customer repository.
func NewCustomerRepository(db *sqlx.DB) *CustomerSQLRepository {
	return &CustomerSQLRepository{db: db}
}

const customerColumns = `id, uuid, remote_addr, user_agent, locale, source_page, create_time, last_seen`

// GetOrCreate returns the customer for the given opaque uuid, creating
// the record lazily on first sight. Descriptive fields in sight are
// only stored on creation; reconnects refresh last_seen.
func (r *CustomerSQLRepository) GetOrCreate(ctx context.Context, uuid string, sight models.Customer) (*models.Customer, error) {
	if uuid == "" {
		return nil, errors.New("customer uuid is required")
	}

	existing, err := r.GetByUUID(ctx, uuid)
	if err == nil {
		if err := r.TouchLastSeen(ctx, existing.ID); err == nil {
			existing.LastSeen = time.Now().UTC()
		}
		return existing, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	query := database.ConvertPlaceholders(`
		INSERT INTO customer (uuid, remote_addr, user_agent, locale, source_page, create_time, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	res, err := r.db.ExecContext(ctx, query,
		uuid, sight.RemoteAddr, sight.UserAgent, sight.Locale, sight.SourcePage, now, now)
	if err != nil {
		// Lost the race against a concurrent first connection for the
		// same uuid; the unique index means the row now exists.
		if isDuplicateKey(err) {
			return r.GetByUUID(ctx, uuid)
		}
		return nil, fmt.Errorf("failed to insert customer: %w", err)
	}

	customer := &models.Customer{
		UUID:       uuid,
		RemoteAddr: sight.RemoteAddr,
		UserAgent:  sight.UserAgent,
		Locale:     sight.Locale,
		SourcePage: sight.SourcePage,
		CreateTime: now,
		LastSeen:   now,
	}
	if id, err := res.LastInsertId(); err == nil {
		customer.ID = id
	}
	return customer, nil
}

// GetByID retrieves a customer by database id.
func (r *CustomerSQLRepository) GetByID(ctx context.Context, id int64) (*models.Customer, error) {
	query := database.ConvertPlaceholders(`SELECT ` + customerColumns + ` FROM customer WHERE id = ?`)
	var customer models.Customer
	if err := r.db.GetContext(ctx, &customer, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to query customer: %w", err)
	}
	return &customer, nil
}

// GetByUUID retrieves a customer by its opaque stable identifier.
func (r *CustomerSQLRepository) GetByUUID(ctx context.Context, uuid string) (*models.Customer, error) {
	query := database.ConvertPlaceholders(`SELECT ` + customerColumns + ` FROM customer WHERE uuid = ?`)
	var customer models.Customer
	if err := r.db.GetContext(ctx, &customer, query, uuid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to query customer: %w", err)
	}
	return &customer, nil
}

// TouchLastSeen refreshes the customer activity timestamp.
func (r *CustomerSQLRepository) TouchLastSeen(ctx context.Context, id int64) error {
	query := database.ConvertPlaceholders(`UPDATE customer SET last_seen = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to touch customer: %w", err)
	}
	return nil
}

// isDuplicateKey detects unique-constraint violations across the two
// supported drivers without importing their error types here.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") || strings.Contains(msg, "duplicate key")
}
