// Package registry tracks who is online and over which session: the
// authoritative in-memory maps between principals and live transport
// sessions, per-agent liveness, status and the load ordering used by
// the assignment engine. A redis mirror exists for observability and
// crash-restart visibility; the in-process maps are authoritative for
// a single-instance dispatcher.
package registry

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is the informational agent presence state. Liveness (IsAlive)
// trumps it anywhere capacity matters.
type Status int

const (
	StatusOffline Status = 0
	StatusOnline  Status = 1
	StatusBusy    Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusOnline:
		return "online"
	case StatusBusy:
		return "busy"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// PrincipalKind discriminates the two ends of a session.
type PrincipalKind int

const (
	PrincipalAgent    PrincipalKind = 0
	PrincipalCustomer PrincipalKind = 1
)

func (k PrincipalKind) String() string {
	if k == PrincipalAgent {
		return "agent"
	}
	return "customer"
}

// Principal identifies the owner of a session.
type Principal struct {
	Kind PrincipalKind
	ID   int64
}

// Session is the transport handle the registry binds principals to.
// Implemented by the gateway client.
type Session interface {
	// Handle returns the unique id of this connection.
	Handle() string
	// Established probes transport liveness.
	Established() bool
	// Push enqueues an outbound frame, best-effort.
	Push(frameType string, data any) error
	// Kick sends a terminal kicked frame and starts a graceful close.
	Kick(message string)
}

// AgentLoad is one entry of the load ordering snapshot.
type AgentLoad struct {
	AgentID int64
	Score   float64
}

const shardCount = 16

type agentShard struct {
	mu       sync.RWMutex
	sessions map[int64]Session
	status   map[int64]Status
	alive    map[int64]time.Time
}

type customerShard struct {
	mu       sync.RWMutex
	sessions map[int64]Session
}

type sessionShard struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

// Registry is the process-wide session registry. Construct with New
// and pass it to every component; there are no hidden singletons.
type Registry struct {
	agents    [shardCount]*agentShard
	customers [shardCount]*customerShard
	sessions  [shardCount]*sessionShard

	loadMu sync.RWMutex
	load   map[int64]float64

	mirror   Mirror
	loadFunc func(agentID int64) float64
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a registry with the given options.
func New(opts ...Option) *Registry {
	r := &Registry{
		load:   make(map[int64]float64),
		mirror: NopMirror{},
		ttl:    60 * time.Second,
		logger: slog.Default(),
		now:    time.Now,
	}
	for i := 0; i < shardCount; i++ {
		r.agents[i] = &agentShard{
			sessions: make(map[int64]Session),
			status:   make(map[int64]Status),
			alive:    make(map[int64]time.Time),
		}
		r.customers[i] = &customerShard{sessions: make(map[int64]Session)}
		r.sessions[i] = &sessionShard{principals: make(map[string]Principal)}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) agentShard(id int64) *agentShard {
	return r.agents[uint64(id)%shardCount]
}

func (r *Registry) customerShard(id int64) *customerShard {
	return r.customers[uint64(id)%shardCount]
}

func (r *Registry) sessionShard(handle string) *sessionShard {
	h := fnv.New32a()
	h.Write([]byte(handle))
	return r.sessions[h.Sum32()%shardCount]
}

// BindAgent binds an agent to a session, evicting any prior session
// for the same agent. The shard lock serializes concurrent binds for
// one agent: exactly one session→principal entry survives.
func (r *Registry) BindAgent(agentID int64, s Session) {
	shard := r.agentShard(agentID)
	shard.mu.Lock()
	old := shard.sessions[agentID]
	shard.sessions[agentID] = s
	shard.status[agentID] = StatusOnline
	shard.alive[agentID] = r.now().Add(r.ttl)
	evicting := old != nil && old.Handle() != s.Handle()
	// Reverse-map maintenance happens under the same shard lock that
	// serializes binds for this agent, so concurrent BindAgent calls
	// can never leave two live session→principal entries behind.
	if evicting {
		r.dropSession(old.Handle())
	}
	r.setPrincipal(s.Handle(), Principal{Kind: PrincipalAgent, ID: agentID})
	shard.mu.Unlock()

	if evicting {
		if old.Established() {
			old.Kick("signed in from another session")
		} else {
			r.logger.Debug("evicted dead agent session", "agent_id", agentID, "handle", old.Handle())
		}
	}

	score := 0.0
	if r.loadFunc != nil {
		score = r.loadFunc(agentID)
	}
	r.loadMu.Lock()
	r.load[agentID] = score
	r.loadMu.Unlock()

	r.mirror.BindAgent(agentID, s.Handle())
	r.mirror.SetStatus(agentID, StatusOnline)
	r.mirror.RefreshLiveness(agentID, r.ttl)
	r.mirror.UpdateLoad(agentID, score)
}

// BindCustomer binds a customer to a session. A prior session for the
// same customer is kicked if its transport is still established, then
// replaced.
func (r *Registry) BindCustomer(customerID int64, s Session) {
	shard := r.customerShard(customerID)
	shard.mu.Lock()
	old := shard.sessions[customerID]
	shard.sessions[customerID] = s
	evicting := old != nil && old.Handle() != s.Handle()
	if evicting {
		r.dropSession(old.Handle())
	}
	r.setPrincipal(s.Handle(), Principal{Kind: PrincipalCustomer, ID: customerID})
	shard.mu.Unlock()

	if evicting && old.Established() {
		old.Kick("connected from another session")
	}
	r.mirror.BindCustomer(customerID, s.Handle())
}

// UnbindBySession reverse-looks-up the principal for a handle and
// removes both directions. Agents additionally go OFFLINE, lose their
// liveness marker and leave the load ordering. Returns the principal
// that was bound, if any.
//
// A stale handle (already evicted by a newer bind) only clears the
// reverse entry; the forward mapping belongs to the newer session.
func (r *Registry) UnbindBySession(handle string) (Principal, bool) {
	p, ok := r.takePrincipal(handle)
	if !ok {
		return Principal{}, false
	}

	switch p.Kind {
	case PrincipalAgent:
		shard := r.agentShard(p.ID)
		shard.mu.Lock()
		current := shard.sessions[p.ID]
		stale := current != nil && current.Handle() != handle
		if !stale {
			delete(shard.sessions, p.ID)
			shard.status[p.ID] = StatusOffline
			delete(shard.alive, p.ID)
		}
		shard.mu.Unlock()
		if stale {
			return p, true
		}
		r.loadMu.Lock()
		delete(r.load, p.ID)
		r.loadMu.Unlock()
		r.mirror.Unbind(p, handle)
		r.mirror.SetStatus(p.ID, StatusOffline)
		r.mirror.ClearLiveness(p.ID)
		r.mirror.RemoveLoad(p.ID)
	case PrincipalCustomer:
		shard := r.customerShard(p.ID)
		shard.mu.Lock()
		current := shard.sessions[p.ID]
		if current != nil && current.Handle() == handle {
			delete(shard.sessions, p.ID)
		}
		shard.mu.Unlock()
		r.mirror.Unbind(p, handle)
	}
	return p, true
}

// Heartbeat refreshes the agent's liveness TTL. No-op when the agent
// is not bound.
func (r *Registry) Heartbeat(agentID int64) {
	shard := r.agentShard(agentID)
	shard.mu.Lock()
	_, bound := shard.sessions[agentID]
	if bound {
		shard.alive[agentID] = r.now().Add(r.ttl)
	}
	shard.mu.Unlock()
	if bound {
		r.mirror.RefreshLiveness(agentID, r.ttl)
	}
}

// LookupAgentSession returns the session bound to an agent.
func (r *Registry) LookupAgentSession(agentID int64) (Session, bool) {
	shard := r.agentShard(agentID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	s, ok := shard.sessions[agentID]
	return s, ok
}

// LookupCustomerSession returns the session bound to a customer.
func (r *Registry) LookupCustomerSession(customerID int64) (Session, bool) {
	shard := r.customerShard(customerID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	s, ok := shard.sessions[customerID]
	return s, ok
}

// LookupBySession returns the principal bound to a session handle.
func (r *Registry) LookupBySession(handle string) (Principal, bool) {
	shard := r.sessionShard(handle)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	p, ok := shard.principals[handle]
	return p, ok
}

// AgentStatus returns the agent's presence state. Unknown agents are
// OFFLINE.
func (r *Registry) AgentStatus(agentID int64) Status {
	shard := r.agentShard(agentID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return shard.status[agentID]
}

// SetStatus updates presence. Leaving ONLINE removes the agent from
// the load ordering; entering ONLINE re-inserts it with a freshly
// computed score.
func (r *Registry) SetStatus(agentID int64, status Status) {
	shard := r.agentShard(agentID)
	shard.mu.Lock()
	prev := shard.status[agentID]
	shard.status[agentID] = status
	shard.mu.Unlock()

	if prev == status {
		r.mirror.SetStatus(agentID, status)
		return
	}
	if status == StatusOnline {
		score := 0.0
		if r.loadFunc != nil {
			score = r.loadFunc(agentID)
		}
		r.loadMu.Lock()
		r.load[agentID] = score
		r.loadMu.Unlock()
		r.mirror.UpdateLoad(agentID, score)
	} else {
		r.loadMu.Lock()
		delete(r.load, agentID)
		r.loadMu.Unlock()
		r.mirror.RemoveLoad(agentID)
	}
	r.mirror.SetStatus(agentID, status)
}

// IsAlive reports whether the agent's liveness marker exists and has
// not expired.
func (r *Registry) IsAlive(agentID int64) bool {
	shard := r.agentShard(agentID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	deadline, ok := shard.alive[agentID]
	return ok && r.now().Before(deadline)
}

// ClearLiveness drops the liveness marker without unbinding. Used by
// the heartbeat sweep when forcing an agent offline.
func (r *Registry) ClearLiveness(agentID int64) {
	shard := r.agentShard(agentID)
	shard.mu.Lock()
	delete(shard.alive, agentID)
	shard.mu.Unlock()
	r.mirror.ClearLiveness(agentID)
}

// AgentsByLoad returns a snapshot of the load ordering, ascending by
// score. Safe for concurrent readers; may miss very recent mutations.
func (r *Registry) AgentsByLoad() []AgentLoad {
	r.loadMu.RLock()
	out := make([]AgentLoad, 0, len(r.load))
	for id, score := range r.load {
		out = append(out, AgentLoad{AgentID: id, Score: score})
	}
	r.loadMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// UpdateLoad upserts the agent's score if it is present in the
// ordering; absent agents are ignored.
func (r *Registry) UpdateLoad(agentID int64, score float64) {
	r.loadMu.Lock()
	_, present := r.load[agentID]
	if present {
		r.load[agentID] = score
	}
	r.loadMu.Unlock()
	if present {
		r.mirror.UpdateLoad(agentID, score)
	}
}

// OnlineAgents returns the ids currently marked ONLINE. Used by the
// reconcilers.
func (r *Registry) OnlineAgents() []int64 {
	var out []int64
	for i := 0; i < shardCount; i++ {
		shard := r.agents[i]
		shard.mu.RLock()
		for id, st := range shard.status {
			if st == StatusOnline {
				out = append(out, id)
			}
		}
		shard.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) setPrincipal(handle string, p Principal) {
	shard := r.sessionShard(handle)
	shard.mu.Lock()
	shard.principals[handle] = p
	shard.mu.Unlock()
}

func (r *Registry) takePrincipal(handle string) (Principal, bool) {
	shard := r.sessionShard(handle)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	p, ok := shard.principals[handle]
	if ok {
		delete(shard.principals, handle)
	}
	return p, ok
}

func (r *Registry) dropSession(handle string) {
	shard := r.sessionShard(handle)
	shard.mu.Lock()
	delete(shard.principals, handle)
	shard.mu.Unlock()
}
