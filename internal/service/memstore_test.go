package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"boxoffice/internal/models"

	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for the Postgres repositories. Row locks are emulated with
// per-row mutexes held until the surrounding fake transaction ends.
type memStore struct {
	mu sync.Mutex

	events  map[int64]*models.Event
	types   map[int64]*models.TicketType
	holds   map[int64]*models.Reservation
	tickets map[int64]*models.Ticket
	ledger  map[string]bool
	nextID  int64

	typeLocks map[int64]*sync.Mutex
	holdLocks map[int64]*sync.Mutex
	noteLocks map[string]*sync.Mutex

	// lockDelay is slept between consecutive type row locks of one transaction.
	lockDelay time.Duration
}

type txKey struct{}

type txState struct {
	locks []*sync.Mutex
	held  map[string]bool
	undo  []func()
}

func newMemStore() *memStore {
	return &memStore{
		events:    make(map[int64]*models.Event),
		types:     make(map[int64]*models.TicketType),
		holds:     make(map[int64]*models.Reservation),
		tickets:   make(map[int64]*models.Ticket),
		ledger:    make(map[string]bool),
		typeLocks: make(map[int64]*sync.Mutex),
		holdLocks: make(map[int64]*sync.Mutex),
		noteLocks: make(map[string]*sync.Mutex),
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	st := &txState{held: make(map[string]bool)}
	err := fn(context.WithValue(ctx, txKey{}, st))
	if err != nil {
		m.mu.Lock()
		for i := len(st.undo) - 1; i >= 0; i-- {
			st.undo[i]()
		}
		m.mu.Unlock()
	}
	for i := len(st.locks) - 1; i >= 0; i-- {
		st.locks[i].Unlock()
	}
	return err
}

func txFrom(ctx context.Context) (*txState, error) {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		return nil, errors.New("row lock requested outside a transaction")
	}
	return st, nil
}

// onRollback must be called with m.mu held.
func onRollback(ctx context.Context, fn func()) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		st.undo = append(st.undo, fn)
	}
}

func (m *memStore) rowLock(locks map[int64]*sync.Mutex, id int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := locks[id]
	if !ok {
		l = &sync.Mutex{}
		locks[id] = l
	}
	return l
}

func (m *memStore) noteLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.noteLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.noteLocks[id] = l
	}
	return l
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

// seeding helpers

func (m *memStore) addEvent(name string) *models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &models.Event{ID: m.id(), Name: name, Published: true, StartsAt: time.Now().Add(72 * time.Hour)}
	m.events[e.ID] = e
	return e
}

func (m *memStore) addType(eventID int64, name string, quantity int, priceCents int64) *models.TicketType {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &models.TicketType{ID: m.id(), EventID: eventID, Name: name, Quantity: quantity, PriceCents: priceCents, Active: true}
	m.types[t.ID] = t
	return t
}

func (m *memStore) addHold(typeID int64, quantity int, expiresAt time.Time, sessionID string) *models.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &models.Reservation{ID: m.id(), TicketTypeID: typeID, Quantity: quantity, ExpiresAt: expiresAt,
		CreatedAt: expiresAt.Add(-15 * time.Minute), PurchaserEmail: "buyer@example.com", PurchaserName: "Buyer"}
	if sessionID != "" {
		h.SessionID = &sessionID
	}
	m.holds[h.ID] = h
	return h
}

func (m *memStore) holdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holds)
}

func (m *memStore) ticketCount(typeID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tickets {
		if t.TicketTypeID == typeID {
			n++
		}
	}
	return n
}

func (m *memStore) hold(id int64) (models.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok {
		return models.Reservation{}, false
	}
	return *h, true
}

func (m *memStore) usage(typeID int64, liveAfter time.Time) models.Usage {
	var u models.Usage
	for _, t := range m.tickets {
		if t.TicketTypeID == typeID {
			u.Issued++
		}
	}
	for _, h := range m.holds {
		if h.TicketTypeID == typeID && !h.Fulfilled && h.ExpiresAt.After(liveAfter) {
			u.Held += h.Quantity
		}
	}
	return u
}

func (m *memStore) details(t *models.Ticket) models.TicketDetails {
	d := models.TicketDetails{Ticket: *t}
	if tt, ok := m.types[t.TicketTypeID]; ok {
		d.TicketTypeName = tt.Name
		d.EventID = tt.EventID
		if e, ok := m.events[tt.EventID]; ok {
			d.EventName = e.Name
		}
	}
	return d
}

// memEvents implements EventStore
type memEvents struct{ *memStore }

func (s memEvents) GetByID(_ context.Context, id int64) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// memTypes implements TicketTypeStore
type memTypes struct{ *memStore }

func (s memTypes) GetByID(_ context.Context, id int64) (*models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.types[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s memTypes) LockForUpdate(ctx context.Context, id int64) (*models.TicketType, error) {
	st, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("type:%d", id)
	if !st.held[key] {
		if len(st.locks) > 0 && s.lockDelay > 0 {
			time.Sleep(s.lockDelay)
		}
		l := s.rowLock(s.typeLocks, id)
		l.Lock()
		st.locks = append(st.locks, l)
		st.held[key] = true
	}

	return s.GetByID(ctx, id)
}

func (s memTypes) Usage(_ context.Context, id int64, liveAfter time.Time) (models.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage(id, liveAfter), nil
}

func (s memTypes) ListByEvent(_ context.Context, eventID int64, liveAfter time.Time) ([]models.TicketType, map[int64]models.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []models.TicketType
	usage := make(map[int64]models.Usage)
	for _, t := range s.types {
		if t.EventID == eventID {
			types = append(types, *t)
			usage[t.ID] = s.usage(t.ID, liveAfter)
		}
	}
	sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })
	return types, usage, nil
}

// memHolds implements ReservationStore
type memHolds struct{ *memStore }

func (s memHolds) CreateBatch(ctx context.Context, holds []*models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range holds {
		h.ID = s.id()
		cp := *h
		s.holds[h.ID] = &cp
		id := h.ID
		onRollback(ctx, func() { delete(s.holds, id) })
	}
	return nil
}

func (s memHolds) AttachSession(_ context.Context, ids []int64, sessionID string, extendTo time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		h, ok := s.holds[id]
		if !ok || h.Fulfilled {
			continue
		}
		sid := sessionID
		h.SessionID = &sid
		if extendTo.After(h.ExpiresAt) {
			h.ExpiresAt = extendTo
		}
		n++
	}
	return n, nil
}

func (s memHolds) lockHolds(ctx context.Context, ids []int64, try bool) ([]int64, error) {
	st, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var got []int64
	for _, id := range sorted {
		key := fmt.Sprintf("hold:%d", id)
		if st.held[key] {
			got = append(got, id)
			continue
		}
		l := s.rowLock(s.holdLocks, id)
		if try {
			if !l.TryLock() {
				continue
			}
		} else {
			l.Lock()
		}
		st.locks = append(st.locks, l)
		st.held[key] = true
		got = append(got, id)
	}
	return got, nil
}

func (s memHolds) LockForFulfillment(ctx context.Context, ids []int64, sessionID string, liveAfter time.Time) ([]models.Reservation, error) {
	locked, err := s.lockHolds(ctx, ids, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, id := range locked {
		h, ok := s.holds[id]
		if !ok || h.Fulfilled || h.SessionID == nil || *h.SessionID != sessionID || !h.ExpiresAt.After(liveAfter) {
			continue
		}
		out = append(out, *h)
	}
	return out, nil
}

func (s memHolds) GetByIDs(_ context.Context, ids []int64) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, id := range ids {
		if h, ok := s.holds[id]; ok {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s memHolds) MarkFulfilled(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		h, ok := s.holds[id]
		if !ok || h.Fulfilled {
			continue
		}
		h.Fulfilled = true
		onRollback(ctx, func() { h.Fulfilled = false })
	}
	return nil
}

func (s memHolds) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, h := range s.holds {
		if !h.Fulfilled && h.ExpiresAt.Before(cutoff) {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s memHolds) LockReclaimable(ctx context.Context, ids []int64, cutoff time.Time) ([]models.Reservation, error) {
	locked, err := s.lockHolds(ctx, ids, true)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, id := range locked {
		h, ok := s.holds[id]
		if !ok || h.Fulfilled || !h.ExpiresAt.Before(cutoff) {
			continue
		}
		out = append(out, *h)
	}
	return out, nil
}

func (s memHolds) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		h, ok := s.holds[id]
		if !ok || h.Fulfilled {
			continue
		}
		delete(s.holds, id)
		onRollback(ctx, func() { s.holds[h.ID] = h })
		n++
	}
	return n, nil
}

// memTickets implements TicketStore
type memTickets struct{ *memStore }

func (s memTickets) CreateBatch(ctx context.Context, tickets []*models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, t := range tickets {
		t.ID = s.id()
		if t.Token == uuid.Nil {
			t.Token = uuid.New()
		}
		t.IssuedAt = now
		cp := *t
		s.tickets[t.ID] = &cp
		id := t.ID
		onRollback(ctx, func() { delete(s.tickets, id) })
	}
	return nil
}

func (s memTickets) GetByToken(_ context.Context, token uuid.UUID) (*models.TicketDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.Token == token {
			d := s.details(t)
			return &d, nil
		}
	}
	return nil, nil
}

func (s memTickets) ListByTokens(_ context.Context, tokens []string) ([]models.TicketDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		want[tok] = true
	}
	var out []models.TicketDetails
	for _, t := range s.tickets {
		if want[t.Token.String()] {
			out = append(out, s.details(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memTickets) ListByIDs(_ context.Context, ids []int64) ([]models.TicketDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TicketDetails
	for _, id := range ids {
		if t, ok := s.tickets[id]; ok {
			out = append(out, s.details(t))
		}
	}
	return out, nil
}

func (s memTickets) CheckIn(_ context.Context, token uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.Token == token {
			if t.CheckedInAt != nil {
				return false, nil
			}
			stamp := at
			t.CheckedInAt = &stamp
			return true, nil
		}
	}
	return false, nil
}

// memLedger implements NotificationLedger. A per-id lock stands in for the unique index.
type memLedger struct{ *memStore }

func (s memLedger) MarkProcessed(ctx context.Context, notificationID, _ string) (bool, error) {
	st, err := txFrom(ctx)
	if err != nil {
		return false, err
	}
	key := "note:" + notificationID
	if !st.held[key] {
		l := s.noteLock(notificationID)
		l.Lock()
		st.locks = append(st.locks, l)
		st.held[key] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger[notificationID] {
		return false, nil
	}
	s.ledger[notificationID] = true
	onRollback(ctx, func() { delete(s.ledger, notificationID) })
	return true, nil
}

// memFailures implements DispatchFailureStore
type memFailures struct {
	mu       sync.Mutex
	pending  []models.DispatchFailure
	attempts map[int64]int
}

func (f *memFailures) Record(_ context.Context, df *models.DispatchFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	df.ID = int64(len(f.pending) + 100)
	f.pending = append(f.pending, *df)
	return nil
}

func (f *memFailures) recorded() []models.DispatchFailure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DispatchFailure(nil), f.pending...)
}

func (f *memFailures) ListPending(_ context.Context, _ time.Time, maxAttempts, limit int) ([]models.DispatchFailure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DispatchFailure
	for _, p := range f.pending {
		if p.Attempts+f.attempts[p.ID] < maxAttempts && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *memFailures) RegisterAttempt(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = make(map[int64]int)
	}
	f.attempts[id]++
	return nil
}

// recordingPublisher captures domain events
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []interface{}
}

func (p *recordingPublisher) Publish(subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last(subject string) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.subjects) - 1; i >= 0; i-- {
		if p.subjects[i] == subject {
			return p.payloads[i]
		}
	}
	return nil
}

// recordingDispatcher captures confirmations; err makes every dispatch fail
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []models.Confirmation
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, conf models.Confirmation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, conf)
	return nil
}

func (d *recordingDispatcher) confirmations() []models.Confirmation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Confirmation(nil), d.sent...)
}
