package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

// MemoryStore is an in-process Store used for local runs and tests
type MemoryStore struct {
	mu         sync.RWMutex
	agents     map[string]types.Agent // firebase uid -> agent
	members    map[string]types.Member
	phones     map[string]string // phone -> member id
	users      map[string]types.User
	addresses  map[string]types.Address
	servicemen map[string]memServiceman
	placed     map[string]types.PlacedOrderRow
	dispatch   map[string]types.DispatchRecord
	feed       *changeFeed
}

type memServiceman struct {
	types.Serviceman
	available bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:     make(map[string]types.Agent),
		members:    make(map[string]types.Member),
		phones:     make(map[string]string),
		users:      make(map[string]types.User),
		addresses:  make(map[string]types.Address),
		servicemen: make(map[string]memServiceman),
		placed:     make(map[string]types.PlacedOrderRow),
		dispatch:   make(map[string]types.DispatchRecord),
		feed:       newChangeFeed(),
	}
}

func (s *MemoryStore) Close() error { return nil }

// AddMember seeds a membership together with its allowed numbers
func (s *MemoryStore) AddMember(m types.Member, phones ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.MemberID] = m
	for _, p := range phones {
		s.phones[p] = m.MemberID
	}
}

// AddUser seeds a user record
func (s *MemoryStore) AddUser(u types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
}

// AddAddress seeds an address
func (s *MemoryStore) AddAddress(a types.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[a.AddressID] = a
}

// AddServiceman seeds a serviceman
func (s *MemoryStore) AddServiceman(sm types.Serviceman, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servicemen[sm.UserID] = memServiceman{Serviceman: sm, available: available}
}

// AddPlacedOrder inserts a placed order row and notifies subscribers
func (s *MemoryStore) AddPlacedOrder(row types.PlacedOrderRow) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.placed[row.OrderID] = row
	s.mu.Unlock()
	s.notify(types.TablePlacedOrders, row.AdminID, row.OrderID)
}

// Subscribers returns the number of live change subscriptions
func (s *MemoryStore) Subscribers() int {
	return s.feed.count()
}

func (s *MemoryStore) notify(table types.Table, adminID int64, orderID string) {
	s.feed.publish(types.ChangeEvent{Table: table, AdminID: adminID, OrderID: orderID})
}

func (s *MemoryStore) Subscribe(ctx context.Context, table types.Table, adminID int64) (<-chan types.ChangeEvent, error) {
	return s.feed.subscribe(ctx, table, adminID), nil
}

func (s *MemoryStore) ListPlacedOrders(ctx context.Context, adminID int64, status types.OrderStatus) ([]types.PlacedOrderRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PlacedOrderRow, 0)
	for _, row := range s.placed {
		if row.AdminID == adminID && row.Status == status {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetPlacedOrderStatus(ctx context.Context, orderID string, status types.OrderStatus) error {
	s.mu.Lock()
	row, ok := s.placed[orderID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	row.Status = status
	s.placed[orderID] = row
	s.mu.Unlock()

	s.notify(types.TablePlacedOrders, row.AdminID, orderID)
	return nil
}

func (s *MemoryStore) FindPlacedOrder(ctx context.Context, orderID string) (*types.PlacedOrderRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.placed[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *MemoryStore) ListDispatchRecords(ctx context.Context, adminID int64, status types.OrderStatus) ([]types.DispatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.DispatchRecord, 0)
	for _, rec := range s.dispatch {
		if rec.AdminID == adminID && rec.OrderStatus == status {
			out = append(out, cloneDispatch(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetDispatchRecord(ctx context.Context, orderID string) (*types.DispatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.dispatch[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneDispatch(rec)
	return &out, nil
}

func (s *MemoryStore) InsertDispatchRecord(ctx context.Context, rec *types.DispatchRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.dispatch[rec.OrderID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("insert dispatch %s: %w", rec.OrderID, ErrDuplicate)
	}
	s.dispatch[rec.OrderID] = cloneDispatch(*rec)
	s.mu.Unlock()

	s.notify(types.TableDispatch, rec.AdminID, rec.OrderID)
	return nil
}

func (s *MemoryStore) UpdateDispatchRecord(ctx context.Context, rec *types.DispatchRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	prev, exists := s.dispatch[rec.OrderID]
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	updated := cloneDispatch(*rec)
	updated.CreatedAt = prev.CreatedAt
	s.dispatch[rec.OrderID] = updated
	s.mu.Unlock()

	// both owners see the change when the record moves between admins
	s.notify(types.TableDispatch, rec.AdminID, rec.OrderID)
	if prev.AdminID != rec.AdminID {
		s.notify(types.TableDispatch, prev.AdminID, rec.OrderID)
	}
	return nil
}

func (s *MemoryStore) SetDispatchStatus(ctx context.Context, orderID string, status types.OrderStatus) error {
	s.mu.Lock()
	rec, ok := s.dispatch[orderID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	rec.OrderStatus = status
	rec.UpdatedAt = time.Now().UTC()
	s.dispatch[orderID] = rec
	s.mu.Unlock()

	s.notify(types.TableDispatch, rec.AdminID, orderID)
	return nil
}

func (s *MemoryStore) FindMemberByPhone(ctx context.Context, phone string) (*types.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	memberID, ok := s.phones[phone]
	if !ok {
		return nil, ErrNotFound
	}
	m, ok := s.members[memberID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) GetMember(ctx context.Context, memberID string) (*types.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[memberID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) GetAllowedNumber(ctx context.Context, memberID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// smallest phone keeps the answer stable across map iteration
	found := ""
	for phone, id := range s.phones {
		if id == memberID && (found == "" || phone < found) {
			found = phone
		}
	}
	if found == "" {
		return "", ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetAddress(ctx context.Context, addressID string) (*types.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.addresses[addressID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListAddresses(ctx context.Context, memberID string) ([]types.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Address, 0)
	for _, a := range s.addresses {
		if a.MemberID == memberID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddressID < out[j].AddressID })
	return out, nil
}

func (s *MemoryStore) ListAvailableServicemen(ctx context.Context, category string) ([]types.Serviceman, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Serviceman, 0)
	for _, sm := range s.servicemen {
		if sm.available && sm.Category == category {
			out = append(out, sm.Serviceman)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *MemoryStore) SetAgentStatus(ctx context.Context, firebaseUID string, status types.PresenceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[firebaseUID]
	if !ok {
		return ErrNotFound
	}
	agent.Status = status
	s.agents[firebaseUID] = agent
	return nil
}

// AgentStatus returns the mirrored presence of an agent
func (s *MemoryStore) AgentStatus(firebaseUID string) (types.PresenceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[firebaseUID]
	return agent.Status, ok
}

func (s *MemoryStore) GetAdminID(ctx context.Context, firebaseUID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[firebaseUID]
	if !ok {
		return 0, ErrNotFound
	}
	return agent.AdminID, nil
}

func (s *MemoryStore) RegisterAgent(ctx context.Context, agent types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agent.FirebaseUID]; exists {
		return fmt.Errorf("register agent %s: %w", agent.FirebaseUID, ErrDuplicate)
	}
	for _, a := range s.agents {
		if a.AdminID == agent.AdminID || a.AgentID == agent.AgentID {
			return fmt.Errorf("register agent %s: %w", agent.FirebaseUID, ErrDuplicate)
		}
	}
	if agent.Status == "" {
		agent.Status = types.PresenceOffline
	}
	s.agents[agent.FirebaseUID] = agent
	return nil
}

func cloneDispatch(rec types.DispatchRecord) types.DispatchRecord {
	out := rec
	out.UserID = cloneStr(rec.UserID)
	out.ScheduledTime = cloneStr(rec.ScheduledTime)
	out.PreviousOrderID = cloneStr(rec.PreviousOrderID)
	out.CancellationReason = cloneStr(rec.CancellationReason)
	return out
}

func cloneStr(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}
