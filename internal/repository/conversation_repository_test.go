package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/goatchat/internal/models"
)

func newMockRepo(t *testing.T) (*ConversationSQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewConversationRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func conversationRows(id, customerID int64, agentID any, status models.ConversationStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "customer_id", "agent_id", "status",
		"last_message_at", "last_agent_reply_at", "last_customer_msg_at",
		"closed_at", "create_time",
	}).AddRow(id, customerID, agentID, int(status), nil, nil, nil, nil, time.Now())
}

func TestAssign(t *testing.T) {
	t.Run("WaitingToActive", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversation").
			WithArgs(int64(models.ConversationActive), int64(5), int64(1), int64(models.ConversationWaiting)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Assign(context.Background(), 1, 5))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("IdempotentForSameAgent", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversation").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM conversation WHERE id").
			WillReturnRows(conversationRows(1, 10, int64(5), models.ConversationActive))

		require.NoError(t, repo.Assign(context.Background(), 1, 5))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ConflictForOtherAgent", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversation").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM conversation WHERE id").
			WillReturnRows(conversationRows(1, 10, int64(6), models.ConversationActive))

		err := repo.Assign(context.Background(), 1, 5)
		assert.ErrorIs(t, err, ErrAlreadyAssigned)
	})

	t.Run("ClosedRejected", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversation").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM conversation WHERE id").
			WillReturnRows(conversationRows(1, 10, nil, models.ConversationClosed))

		err := repo.Assign(context.Background(), 1, 5)
		assert.ErrorIs(t, err, ErrConversationClosed)
	})
}

func TestClose(t *testing.T) {
	t.Run("StampsClosedAt", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversation SET status").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Close(context.Background(), 1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SecondCloseIsNoOp", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversation SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM conversation WHERE id").
			WillReturnRows(conversationRows(1, 10, nil, models.ConversationClosed))

		require.NoError(t, repo.Close(context.Background(), 1))
	})

	t.Run("MissingConversation", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversation SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT .+ FROM conversation WHERE id").
			WillReturnError(errNoRowsForTest())

		err := repo.Close(context.Background(), 1)
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})
}

func TestGetOrOpenFor(t *testing.T) {
	t.Run("ReturnsExistingOpen", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("SELECT .+ FROM conversation").
			WillReturnRows(conversationRows(3, 10, nil, models.ConversationWaiting))

		conv, created, err := repo.GetOrOpenFor(context.Background(), 10)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(3), conv.ID)
	})

	t.Run("OpensWaitingWhenNone", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("SELECT .+ FROM conversation").
			WillReturnError(errNoRowsForTest())
		mock.ExpectExec("INSERT INTO conversation").
			WillReturnResult(sqlmock.NewResult(4, 1))

		conv, created, err := repo.GetOrOpenFor(context.Background(), 10)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(4), conv.ID)
		assert.Equal(t, models.ConversationWaiting, conv.Status)
	})

	t.Run("DuplicateRaceReReads", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("SELECT .+ FROM conversation").
			WillReturnError(errNoRowsForTest())
		mock.ExpectExec("INSERT INTO conversation").
			WillReturnError(errors.New("Error 1062 (23000): Duplicate entry '10-1' for key 'uniq_conversation_open'"))
		mock.ExpectQuery("SELECT .+ FROM conversation").
			WillReturnRows(conversationRows(9, 10, nil, models.ConversationWaiting))

		conv, created, err := repo.GetOrOpenFor(context.Background(), 10)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(9), conv.ID)
	})
}

func TestTimeoutCandidatesQuery(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT .+ FROM conversation").
		WithArgs(int64(models.ConversationActive), sqlmock.AnyArg()).
		WillReturnRows(conversationRows(1, 10, int64(5), models.ConversationActive))

	convs, err := repo.TimeoutCandidates(context.Background(), 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func errNoRowsForTest() error {
	return sql.ErrNoRows
}

func TestMarkReadTargetsOppositeSender(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE message SET is_read").
		WithArgs(true, int64(1), int64(models.SenderCustomer), false).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.MarkRead(context.Background(), 1, models.SenderAgent))
	assert.NoError(t, mock.ExpectationsWereMet())
}
