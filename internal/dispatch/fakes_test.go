package dispatch

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/registry"
	"github.com/goatkit/goatchat/internal/repository"
)

// recSession records pushed frames in order.
type recSession struct {
	mu     sync.Mutex
	handle string
	frames []pushedFrame
}

type pushedFrame struct {
	Type string
	Data any
}

func newRecSession(handle string) *recSession {
	return &recSession{handle: handle}
}

func (s *recSession) Handle() string    { return s.handle }
func (s *recSession) Established() bool { return true }
func (s *recSession) Kick(string)      {}

func (s *recSession) Push(frameType string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, pushedFrame{Type: frameType, Data: data})
	return nil
}

func (s *recSession) frameTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Type
	}
	return out
}

func (s *recSession) has(frameType string) bool {
	for _, t := range s.frameTypes() {
		if t == frameType {
			return true
		}
	}
	return false
}

// stubRegistry satisfies SessionRegistry with plain maps.
type stubRegistry struct {
	mu        sync.Mutex
	agents    map[int64]registry.Session
	customers map[int64]registry.Session
	statuses  map[int64]registry.Status
	dead      map[int64]bool
	loads     []registry.AgentLoad
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		agents:    make(map[int64]registry.Session),
		customers: make(map[int64]registry.Session),
		statuses:  make(map[int64]registry.Status),
		dead:      make(map[int64]bool),
	}
}

func (r *stubRegistry) LookupAgentSession(id int64) (registry.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.agents[id]
	return s, ok
}

func (r *stubRegistry) LookupCustomerSession(id int64) (registry.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.customers[id]
	return s, ok
}

func (r *stubRegistry) AgentStatus(id int64) registry.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

func (r *stubRegistry) IsAlive(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id] == registry.StatusOnline && !r.dead[id]
}

func (r *stubRegistry) AgentsByLoad() []registry.AgentLoad {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.AgentLoad(nil), r.loads...)
}

func (r *stubRegistry) UpdateLoad(id int64, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.loads {
		if r.loads[i].AgentID == id {
			r.loads[i].Score = score
		}
	}
}

// addOnlineAgent registers a reachable agent with a session and a load
// ordering slot.
func (r *stubRegistry) addOnlineAgent(id int64, score float64) *recSession {
	s := newRecSession("agent")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = s
	r.statuses[id] = registry.StatusOnline
	r.loads = append(r.loads, registry.AgentLoad{AgentID: id, Score: score})
	return s
}

func (r *stubRegistry) addCustomer(id int64) *recSession {
	s := newRecSession("customer")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[id] = s
	return s
}

// fakeAgentRepo is an in-memory repository.AgentRepository.
type fakeAgentRepo struct {
	mu     sync.Mutex
	agents map[int64]*models.Agent
}

func newFakeAgentRepo(agents ...*models.Agent) *fakeAgentRepo {
	r := &fakeAgentRepo{agents: make(map[int64]*models.Agent)}
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	return r
}

func (r *fakeAgentRepo) Create(ctx context.Context, a *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
	return nil
}

func (r *fakeAgentRepo) GetByID(ctx context.Context, id int64) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, repository.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAgentRepo) GetByUsername(ctx context.Context, username string) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAgentNotFound
}

func (r *fakeAgentRepo) List(ctx context.Context) ([]*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeAgentRepo) ListAssignable(ctx context.Context) ([]*models.Agent, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, a := range all {
		if a.Assignable() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAgentRepo) Update(ctx context.Context, a *models.Agent) error {
	return r.Create(ctx, a)
}

func (r *fakeAgentRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.Enabled = enabled
	}
	return nil
}

// fakeCustomerRepo is an in-memory repository.CustomerRepository.
type fakeCustomerRepo struct {
	mu        sync.Mutex
	customers map[int64]*models.Customer
}

func newFakeCustomerRepo(customers ...*models.Customer) *fakeCustomerRepo {
	r := &fakeCustomerRepo{customers: make(map[int64]*models.Customer)}
	for _, c := range customers {
		r.customers[c.ID] = c
	}
	return r
}

func (r *fakeCustomerRepo) GetOrCreate(ctx context.Context, uuid string, sight models.Customer) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.UUID == uuid {
			return c, nil
		}
	}
	c := &models.Customer{ID: int64(len(r.customers) + 1), UUID: uuid}
	r.customers[c.ID] = c
	return c, nil
}

func (r *fakeCustomerRepo) GetByID(ctx context.Context, id int64) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, repository.ErrCustomerNotFound
	}
	return c, nil
}

func (r *fakeCustomerRepo) GetByUUID(ctx context.Context, uuid string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.UUID == uuid {
			return c, nil
		}
	}
	return nil, repository.ErrCustomerNotFound
}

func (r *fakeCustomerRepo) TouchLastSeen(ctx context.Context, id int64) error { return nil }

// fakeConvRepo is an in-memory repository.ConversationRepository with
// the same lifecycle semantics as the SQL implementation.
type fakeConvRepo struct {
	mu        sync.Mutex
	nextConv  int64
	nextMsg   int64
	convs     map[int64]*models.Conversation
	messages  map[int64][]*models.Message
	transfers []*models.TransferRecord
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		nextConv: 1,
		nextMsg:  1,
		convs:    make(map[int64]*models.Conversation),
		messages: make(map[int64][]*models.Message),
	}
}

func (r *fakeConvRepo) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	cp := *conv
	return &cp, nil
}

func (r *fakeConvRepo) OpenFor(ctx context.Context, customerID int64) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.convs {
		if conv.CustomerID == customerID && conv.Status != models.ConversationClosed {
			cp := *conv
			return &cp, nil
		}
	}
	return nil, repository.ErrConversationNotFound
}

func (r *fakeConvRepo) GetOrOpenFor(ctx context.Context, customerID int64) (*models.Conversation, bool, error) {
	if conv, err := r.OpenFor(ctx, customerID); err == nil {
		return conv, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv := &models.Conversation{
		ID:         r.nextConv,
		CustomerID: customerID,
		Status:     models.ConversationWaiting,
		CreateTime: time.Now().UTC(),
	}
	r.nextConv++
	r.convs[conv.ID] = conv
	cp := *conv
	return &cp, true, nil
}

// seed installs a conversation directly for test setup.
func (r *fakeConvRepo) seed(conv *models.Conversation) *models.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv.ID == 0 {
		conv.ID = r.nextConv
	}
	if conv.ID >= r.nextConv {
		r.nextConv = conv.ID + 1
	}
	if conv.CreateTime.IsZero() {
		conv.CreateTime = time.Now().UTC()
	}
	r.convs[conv.ID] = conv
	return conv
}

func (r *fakeConvRepo) Assign(ctx context.Context, conversationID, agentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return repository.ErrConversationNotFound
	}
	switch {
	case conv.Status == models.ConversationWaiting && !conv.AgentID.Valid:
		conv.Status = models.ConversationActive
		conv.AgentID = sql.NullInt64{Int64: agentID, Valid: true}
		return nil
	case conv.Status == models.ConversationClosed:
		return repository.ErrConversationClosed
	case conv.Status == models.ConversationActive && conv.AgentID.Int64 == agentID:
		return nil
	default:
		return repository.ErrAlreadyAssigned
	}
}

func (r *fakeConvRepo) Reassign(ctx context.Context, conversationID, newAgentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return repository.ErrConversationNotFound
	}
	if conv.Status == models.ConversationClosed {
		return repository.ErrConversationClosed
	}
	if conv.Status != models.ConversationActive {
		return repository.ErrNotActive
	}
	conv.AgentID = sql.NullInt64{Int64: newAgentID, Valid: true}
	return nil
}

func (r *fakeConvRepo) RevertToWaiting(ctx context.Context, conversationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.convs[conversationID]; ok && conv.Status == models.ConversationActive {
		conv.Status = models.ConversationWaiting
		conv.AgentID = sql.NullInt64{}
	}
	return nil
}

func (r *fakeConvRepo) Close(ctx context.Context, conversationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return repository.ErrConversationNotFound
	}
	if conv.Status != models.ConversationClosed {
		conv.Status = models.ConversationClosed
		conv.ClosedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	return nil
}

func (r *fakeConvRepo) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = r.nextMsg
	r.nextMsg++
	msg.CreateTime = time.Now().UTC()
	if msg.SenderKind == models.SenderSystem {
		msg.SenderID = models.SystemSenderID
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], msg)
	if conv, ok := r.convs[msg.ConversationID]; ok {
		conv.LastMessageAt = sql.NullTime{Time: msg.CreateTime, Valid: true}
	}
	return msg, nil
}

func (r *fakeConvRepo) TouchCustomerMessage(ctx context.Context, conversationID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.convs[conversationID]; ok {
		if !conv.LastCustomerMsgAt.Valid || conv.LastCustomerMsgAt.Time.Before(at) {
			conv.LastCustomerMsgAt = sql.NullTime{Time: at, Valid: true}
		}
	}
	return nil
}

func (r *fakeConvRepo) TouchAgentReply(ctx context.Context, conversationID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv, ok := r.convs[conversationID]; ok {
		if !conv.LastAgentReplyAt.Valid || conv.LastAgentReplyAt.Time.Before(at) {
			conv.LastAgentReplyAt = sql.NullTime{Time: at, Valid: true}
		}
	}
	return nil
}

func (r *fakeConvRepo) MarkRead(ctx context.Context, conversationID int64, reader models.SenderKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	opposite := models.SenderCustomer
	if reader == models.SenderCustomer {
		opposite = models.SenderAgent
	}
	for _, m := range r.messages[conversationID] {
		if m.SenderKind == opposite {
			m.Read = true
		}
	}
	return nil
}

func (r *fakeConvRepo) MarkAllUnread(ctx context.Context, conversationID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[conversationID] {
		m.Read = false
	}
	return nil
}

func (r *fakeConvRepo) Messages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Message(nil), r.messages[conversationID]...), nil
}

func (r *fakeConvRepo) CustomerMessages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages[conversationID] {
		if m.VisibleToCustomer {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeConvRepo) UnreadCount(ctx context.Context, conversationID int64, sender models.SenderKind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.messages[conversationID] {
		if m.SenderKind == sender && !m.Read {
			count++
		}
	}
	return count, nil
}

func (r *fakeConvRepo) UnreadAgentMessages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages[conversationID] {
		if m.SenderKind == models.SenderAgent && !m.Read {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeConvRepo) ActiveCountByAgent(ctx context.Context, agentID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, conv := range r.convs {
		if conv.AgentID.Valid && conv.AgentID.Int64 == agentID && conv.Status != models.ConversationClosed {
			count++
		}
	}
	return count, nil
}

func (r *fakeConvRepo) AgentStatusCounts(ctx context.Context, agentID int64) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active, waiting := 0, 0
	for _, conv := range r.convs {
		if !conv.AgentID.Valid || conv.AgentID.Int64 != agentID {
			continue
		}
		switch conv.Status {
		case models.ConversationActive:
			active++
		case models.ConversationWaiting:
			waiting++
		}
	}
	return active, waiting, nil
}

func (r *fakeConvRepo) WaitingCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, conv := range r.convs {
		if conv.Status == models.ConversationWaiting && !conv.AgentID.Valid {
			count++
		}
	}
	return count, nil
}

func (r *fakeConvRepo) OpenByAgent(ctx context.Context, agentID int64) ([]*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Conversation
	for _, conv := range r.convs {
		if conv.AgentID.Valid && conv.AgentID.Int64 == agentID && conv.Status != models.ConversationClosed {
			cp := *conv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeConvRepo) WaitingQueue(ctx context.Context, limit int) ([]*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Conversation
	for id := int64(1); id < r.nextConv && len(out) < limit; id++ {
		conv, ok := r.convs[id]
		if ok && conv.Status == models.ConversationWaiting && !conv.AgentID.Valid {
			cp := *conv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeConvRepo) TimeoutCandidates(ctx context.Context, threshold time.Duration) ([]*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UTC().Add(-threshold)
	var out []*models.Conversation
	for _, conv := range r.convs {
		if conv.Status != models.ConversationActive || !conv.AgentID.Valid || !conv.LastCustomerMsgAt.Valid {
			continue
		}
		if conv.LastCustomerMsgAt.Time.After(cutoff) {
			continue
		}
		if conv.LastAgentReplyAt.Valid && !conv.LastAgentReplyAt.Time.Before(conv.LastCustomerMsgAt.Time) {
			continue
		}
		cp := *conv
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeConvRepo) AppendTransfer(ctx context.Context, rec *models.TransferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = int64(len(r.transfers) + 1)
	rec.CreateTime = time.Now().UTC()
	r.transfers = append(r.transfers, rec)
	return nil
}

func (r *fakeConvRepo) Transfers(ctx context.Context, conversationID int64) ([]*models.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.TransferRecord
	for _, rec := range r.transfers {
		if rec.ConversationID == conversationID {
			out = append(out, rec)
		}
	}
	return out, nil
}
