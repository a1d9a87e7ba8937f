// Package auth issues and verifies agent bearer tokens: an HS256
// signature over a shared secret plus a redis-backed allowlist so
// logout and credential rotation revoke tokens before expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Token verification failures.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

const tokenKeyPattern = "im:token:%d"

// Claims is the JWT payload for agent tokens.
type Claims struct {
	AgentID int64 `json:"agent_id"`
	jwt.RegisteredClaims
}

// Allowlist records which token id is currently valid per agent.
// Backed by redis in production; stubbed in tests.
type Allowlist interface {
	Put(ctx context.Context, agentID int64, tokenID string, ttl time.Duration) error
	Get(ctx context.Context, agentID int64) (string, error)
	Remove(ctx context.Context, agentID int64) error
}

// RedisAllowlist stores the active token id under im:token:<agentID>.
type RedisAllowlist struct {
	client *redis.Client
}

// NewRedisAllowlist creates an allowlist over the given client.
func NewRedisAllowlist(client *redis.Client) *RedisAllowlist {
	return &RedisAllowlist{client: client}
}

func (a *RedisAllowlist) Put(ctx context.Context, agentID int64, tokenID string, ttl time.Duration) error {
	return a.client.Set(ctx, fmt.Sprintf(tokenKeyPattern, agentID), tokenID, ttl).Err()
}

func (a *RedisAllowlist) Get(ctx context.Context, agentID int64) (string, error) {
	val, err := a.client.Get(ctx, fmt.Sprintf(tokenKeyPattern, agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (a *RedisAllowlist) Remove(ctx context.Context, agentID int64) error {
	return a.client.Del(ctx, fmt.Sprintf(tokenKeyPattern, agentID)).Err()
}

// JWTManager signs and verifies agent tokens.
type JWTManager struct {
	secret    []byte
	ttl       time.Duration
	allowlist Allowlist
}

// NewJWTManager creates a manager with the shared signing secret and
// token lifetime. The allowlist may be nil, which disables revocation
// checks (tests only).
func NewJWTManager(secret string, ttl time.Duration, allowlist Allowlist) *JWTManager {
	return &JWTManager{secret: []byte(secret), ttl: ttl, allowlist: allowlist}
}

// Issue signs a fresh token for the agent and records it as the
// agent's single valid token. Issuing replaces any earlier token.
func (m *JWTManager) Issue(ctx context.Context, agentID int64) (string, error) {
	tokenID := uuid.NewString()
	now := time.Now()
	claims := &Claims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	if m.allowlist != nil {
		if err := m.allowlist.Put(ctx, agentID, tokenID, m.ttl); err != nil {
			return "", fmt.Errorf("failed to record token: %w", err)
		}
	}
	return signed, nil
}

// Verify parses and validates a bearer token and checks it is still
// the agent's allowlisted token. Returns the agent id on success.
func (m *JWTManager) Verify(ctx context.Context, raw string) (int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	if claims.AgentID == 0 {
		return 0, ErrInvalidToken
	}

	if m.allowlist != nil {
		current, err := m.allowlist.Get(ctx, claims.AgentID)
		if err != nil {
			return 0, fmt.Errorf("failed to check token allowlist: %w", err)
		}
		if current == "" || current != claims.ID {
			return 0, ErrTokenRevoked
		}
	}
	return claims.AgentID, nil
}

// Revoke removes the agent's allowlisted token (logout).
func (m *JWTManager) Revoke(ctx context.Context, agentID int64) error {
	if m.allowlist == nil {
		return nil
	}
	return m.allowlist.Remove(ctx, agentID)
}
