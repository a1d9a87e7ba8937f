package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/registry"
)

type transferCall struct {
	conversationID int64
	targetID       int64
	kind           models.TransferKind
	reason         string
}

type stubDispatcher struct {
	mu           sync.Mutex
	drainReturns map[int64]int
	drained      []int64
	offline      []int64
	pickReturns  int64
	transfers    []transferCall
	transferErr  error
}

func (s *stubDispatcher) DrainWaitingFor(ctx context.Context, agentID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = append(s.drained, agentID)
	return s.drainReturns[agentID]
}

func (s *stubDispatcher) HandleAgentOffline(ctx context.Context, agentID int64) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = append(s.offline, agentID)
	return 0, 0
}

func (s *stubDispatcher) Transfer(ctx context.Context, conversationID, targetID int64,
	kind models.TransferKind, operatorID *int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, transferCall{conversationID, targetID, kind, reason})
	return s.transferErr
}

func (s *stubDispatcher) Pick(ctx context.Context, exclude map[int64]struct{}) (int64, error) {
	if _, excluded := exclude[s.pickReturns]; excluded {
		return 0, nil
	}
	return s.pickReturns, nil
}

type stubPresence struct {
	online   []int64
	alive    map[int64]bool
	sessions map[int64]registry.Session
	unbound  []string
	statuses map[int64]registry.Status
	cleared  []int64
}

func newStubPresence() *stubPresence {
	return &stubPresence{
		alive:    make(map[int64]bool),
		sessions: make(map[int64]registry.Session),
		statuses: make(map[int64]registry.Status),
	}
}

func (s *stubPresence) OnlineAgents() []int64    { return s.online }
func (s *stubPresence) IsAlive(id int64) bool    { return s.alive[id] }
func (s *stubPresence) ClearLiveness(id int64)   { s.cleared = append(s.cleared, id) }

func (s *stubPresence) LookupAgentSession(id int64) (registry.Session, bool) {
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *stubPresence) UnbindBySession(handle string) (registry.Principal, bool) {
	s.unbound = append(s.unbound, handle)
	return registry.Principal{}, true
}

func (s *stubPresence) SetStatus(id int64, status registry.Status) {
	s.statuses[id] = status
}

type stubStore struct {
	waiting    int
	candidates []*models.Conversation
}

func (s *stubStore) WaitingCount(ctx context.Context) (int, error) { return s.waiting, nil }

func (s *stubStore) TimeoutCandidates(ctx context.Context, threshold time.Duration) ([]*models.Conversation, error) {
	return s.candidates, nil
}

type fakeSession struct{ handle string }

func (f *fakeSession) Handle() string            { return f.handle }
func (f *fakeSession) Established() bool         { return true }
func (f *fakeSession) Push(string, any) error    { return nil }
func (f *fakeSession) Kick(string)               {}

func TestHeartbeatSweep(t *testing.T) {
	t.Run("AllAliveIsNoOp", func(t *testing.T) {
		dispatcher := &stubDispatcher{drainReturns: map[int64]int{}}
		presence := newStubPresence()
		presence.online = []int64{1, 2}
		presence.alive[1] = true
		presence.alive[2] = true

		svc := New(dispatcher, presence, &stubStore{})
		svc.runHeartbeatSweep(context.Background())
		svc.runHeartbeatSweep(context.Background())

		if len(dispatcher.offline) != 0 {
			t.Fatalf("expected no offline handling, got %v", dispatcher.offline)
		}
		if len(presence.unbound) != 0 || len(presence.cleared) != 0 {
			t.Fatalf("expected no presence mutations")
		}
	})

	t.Run("ExpiredAgentForcedOffline", func(t *testing.T) {
		dispatcher := &stubDispatcher{drainReturns: map[int64]int{}}
		presence := newStubPresence()
		presence.online = []int64{1}
		presence.sessions[1] = &fakeSession{handle: "s1"}

		svc := New(dispatcher, presence, &stubStore{})
		svc.runHeartbeatSweep(context.Background())

		if len(presence.unbound) != 1 || presence.unbound[0] != "s1" {
			t.Fatalf("expected session s1 unbound, got %v", presence.unbound)
		}
		if len(dispatcher.offline) != 1 || dispatcher.offline[0] != 1 {
			t.Fatalf("expected offline handling for agent 1, got %v", dispatcher.offline)
		}
	})

	t.Run("ExpiredAgentWithoutSession", func(t *testing.T) {
		dispatcher := &stubDispatcher{drainReturns: map[int64]int{}}
		presence := newStubPresence()
		presence.online = []int64{1}

		svc := New(dispatcher, presence, &stubStore{})
		svc.runHeartbeatSweep(context.Background())

		if presence.statuses[1] != registry.StatusOffline {
			t.Fatalf("expected agent forced offline, got %v", presence.statuses[1])
		}
		if len(presence.cleared) != 1 {
			t.Fatalf("expected liveness cleared")
		}
	})
}

func TestWaitingDrain(t *testing.T) {
	t.Run("EmptyQueueSkips", func(t *testing.T) {
		dispatcher := &stubDispatcher{drainReturns: map[int64]int{}}
		presence := newStubPresence()
		presence.online = []int64{1}

		svc := New(dispatcher, presence, &stubStore{waiting: 0})
		svc.runWaitingDrain(context.Background())

		if len(dispatcher.drained) != 0 {
			t.Fatalf("expected no drain calls, got %v", dispatcher.drained)
		}
	})

	t.Run("IteratesOnlineAgents", func(t *testing.T) {
		dispatcher := &stubDispatcher{drainReturns: map[int64]int{1: 1, 2: 2}}
		presence := newStubPresence()
		presence.online = []int64{1, 2}

		svc := New(dispatcher, presence, &stubStore{waiting: 3})
		svc.runWaitingDrain(context.Background())

		if len(dispatcher.drained) == 0 {
			t.Fatalf("expected drain calls")
		}
	})
}

func TestTimeoutTransfer(t *testing.T) {
	activeConv := func(id, agentID int64) *models.Conversation {
		conv := &models.Conversation{ID: id, Status: models.ConversationActive}
		conv.AgentID.Int64 = agentID
		conv.AgentID.Valid = true
		return conv
	}

	t.Run("TransfersToCandidate", func(t *testing.T) {
		dispatcher := &stubDispatcher{pickReturns: 2}
		presence := newStubPresence()
		store := &stubStore{candidates: []*models.Conversation{activeConv(5, 1)}}

		svc := New(dispatcher, presence, store, WithTimeoutThreshold(3*time.Minute))
		svc.runTimeoutTransfer(context.Background())

		if len(dispatcher.transfers) != 1 {
			t.Fatalf("expected 1 transfer, got %d", len(dispatcher.transfers))
		}
		call := dispatcher.transfers[0]
		if call.conversationID != 5 || call.targetID != 2 {
			t.Fatalf("unexpected transfer call %+v", call)
		}
		if call.kind != models.TransferAutoTimeout {
			t.Fatalf("expected AUTO_TIMEOUT kind, got %v", call.kind)
		}
		if call.reason != "customer unanswered 3 minutes" {
			t.Fatalf("unexpected reason %q", call.reason)
		}
	})

	t.Run("NoCandidateLeavesConversation", func(t *testing.T) {
		// The current agent is the only pick, and it is excluded.
		dispatcher := &stubDispatcher{pickReturns: 1}
		presence := newStubPresence()
		store := &stubStore{candidates: []*models.Conversation{activeConv(5, 1)}}

		svc := New(dispatcher, presence, store)
		svc.runTimeoutTransfer(context.Background())

		if len(dispatcher.transfers) != 0 {
			t.Fatalf("expected no transfers, got %v", dispatcher.transfers)
		}
	})
}
