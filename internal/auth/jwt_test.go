package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAllowlist struct {
	tokens map[int64]string
}

func newMemAllowlist() *memAllowlist {
	return &memAllowlist{tokens: make(map[int64]string)}
}

func (m *memAllowlist) Put(ctx context.Context, agentID int64, tokenID string, ttl time.Duration) error {
	m.tokens[agentID] = tokenID
	return nil
}

func (m *memAllowlist) Get(ctx context.Context, agentID int64) (string, error) {
	return m.tokens[agentID], nil
}

func (m *memAllowlist) Remove(ctx context.Context, agentID int64) error {
	delete(m.tokens, agentID)
	return nil
}

func TestJWTManager(t *testing.T) {
	ctx := context.Background()

	t.Run("IssueVerifyRoundTrip", func(t *testing.T) {
		mgr := NewJWTManager("test-secret-0123456789abcdef", time.Hour, newMemAllowlist())
		token, err := mgr.Issue(ctx, 7)
		require.NoError(t, err)

		agentID, err := mgr.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, int64(7), agentID)
	})

	t.Run("WrongSecretRejected", func(t *testing.T) {
		issuer := NewJWTManager("secret-a-0123456789abcdef", time.Hour, nil)
		verifier := NewJWTManager("secret-b-0123456789abcdef", time.Hour, nil)

		token, err := issuer.Issue(ctx, 7)
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ExpiredRejected", func(t *testing.T) {
		mgr := NewJWTManager("test-secret-0123456789abcdef", -time.Minute, nil)
		token, err := mgr.Issue(ctx, 7)
		require.NoError(t, err)

		_, err = mgr.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("GarbageRejected", func(t *testing.T) {
		mgr := NewJWTManager("test-secret-0123456789abcdef", time.Hour, nil)
		_, err := mgr.Verify(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("RevokedRejected", func(t *testing.T) {
		allowlist := newMemAllowlist()
		mgr := NewJWTManager("test-secret-0123456789abcdef", time.Hour, allowlist)
		token, err := mgr.Issue(ctx, 7)
		require.NoError(t, err)

		require.NoError(t, mgr.Revoke(ctx, 7))
		_, err = mgr.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("ReissueInvalidatesPriorToken", func(t *testing.T) {
		allowlist := newMemAllowlist()
		mgr := NewJWTManager("test-secret-0123456789abcdef", time.Hour, allowlist)

		first, err := mgr.Issue(ctx, 7)
		require.NoError(t, err)
		second, err := mgr.Issue(ctx, 7)
		require.NoError(t, err)

		_, err = mgr.Verify(ctx, first)
		assert.ErrorIs(t, err, ErrTokenRevoked)
		agentID, err := mgr.Verify(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, int64(7), agentID)
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}
