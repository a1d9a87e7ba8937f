package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror replicates registry state into an external KV store so the
// FD map survives a restart and operators can inspect presence. Mirror
// writes are best-effort: failures are logged, never propagated.
type Mirror interface {
	BindAgent(agentID int64, handle string)
	BindCustomer(customerID int64, handle string)
	Unbind(p Principal, handle string)
	SetStatus(agentID int64, status Status)
	RefreshLiveness(agentID int64, ttl time.Duration)
	ClearLiveness(agentID int64)
	UpdateLoad(agentID int64, score float64)
	RemoveLoad(agentID int64)
}

// NopMirror discards all mirror writes. Used in tests and when redis
// is not configured.
type NopMirror struct{}

func (NopMirror) BindAgent(int64, string)             {}
func (NopMirror) BindCustomer(int64, string)          {}
func (NopMirror) Unbind(Principal, string)            {}
func (NopMirror) SetStatus(int64, Status)             {}
func (NopMirror) RefreshLiveness(int64, time.Duration) {}
func (NopMirror) ClearLiveness(int64)                 {}
func (NopMirror) UpdateLoad(int64, float64)           {}
func (NopMirror) RemoveLoad(int64)                    {}

// Key layout in redis.
const (
	keyAgentFD     = "im:agent:fd:%d"
	keyCustomerFD  = "im:customer:fd:%d"
	keyFD          = "im:fd:%s"
	keyAgentStatus = "im:agent:status:%d"
	keyAgentAlive  = "im:agent:alive:%d"
	keyAgentLoad   = "im:agent:load"
)

// RedisMirror mirrors registry state into redis with a bounded
// per-write timeout.
type RedisMirror struct {
	client  *redis.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisMirror creates a mirror over the given client.
func NewRedisMirror(client *redis.Client, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMirror{client: client, logger: logger, timeout: 2 * time.Second}
}

func (m *RedisMirror) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m *RedisMirror) log(op string, err error) {
	if err != nil {
		m.logger.Warn("registry mirror write failed", "op", op, "error", err)
	}
}

func (m *RedisMirror) BindAgent(agentID int64, handle string) {
	ctx, cancel := m.ctx()
	defer cancel()
	pipe := m.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(keyAgentFD, agentID), handle, 0)
	pipe.Set(ctx, fmt.Sprintf(keyFD, handle), fmt.Sprintf("agent:%d", agentID), 0)
	_, err := pipe.Exec(ctx)
	m.log("bind_agent", err)
}

func (m *RedisMirror) BindCustomer(customerID int64, handle string) {
	ctx, cancel := m.ctx()
	defer cancel()
	pipe := m.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(keyCustomerFD, customerID), handle, 0)
	pipe.Set(ctx, fmt.Sprintf(keyFD, handle), fmt.Sprintf("customer:%d", customerID), 0)
	_, err := pipe.Exec(ctx)
	m.log("bind_customer", err)
}

func (m *RedisMirror) Unbind(p Principal, handle string) {
	ctx, cancel := m.ctx()
	defer cancel()
	pipe := m.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(keyFD, handle))
	if p.Kind == PrincipalAgent {
		pipe.Del(ctx, fmt.Sprintf(keyAgentFD, p.ID))
	} else {
		pipe.Del(ctx, fmt.Sprintf(keyCustomerFD, p.ID))
	}
	_, err := pipe.Exec(ctx)
	m.log("unbind", err)
}

func (m *RedisMirror) SetStatus(agentID int64, status Status) {
	ctx, cancel := m.ctx()
	defer cancel()
	err := m.client.Set(ctx, fmt.Sprintf(keyAgentStatus, agentID), int(status), 0).Err()
	m.log("set_status", err)
}

func (m *RedisMirror) RefreshLiveness(agentID int64, ttl time.Duration) {
	ctx, cancel := m.ctx()
	defer cancel()
	err := m.client.Set(ctx, fmt.Sprintf(keyAgentAlive, agentID), 1, ttl).Err()
	m.log("refresh_liveness", err)
}

func (m *RedisMirror) ClearLiveness(agentID int64) {
	ctx, cancel := m.ctx()
	defer cancel()
	err := m.client.Del(ctx, fmt.Sprintf(keyAgentAlive, agentID)).Err()
	m.log("clear_liveness", err)
}

func (m *RedisMirror) UpdateLoad(agentID int64, score float64) {
	ctx, cancel := m.ctx()
	defer cancel()
	err := m.client.ZAdd(ctx, keyAgentLoad, redis.Z{Score: score, Member: agentID}).Err()
	m.log("update_load", err)
}

func (m *RedisMirror) RemoveLoad(agentID int64) {
	ctx, cancel := m.ctx()
	defer cancel()
	err := m.client.ZRem(ctx, keyAgentLoad, agentID).Err()
	m.log("remove_load", err)
}
