// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/allocation-engine/generic"
)

var (
	_ generic.Store       = (*state)(nil)
	_ generic.TxStore     = (*TxMemory)(nil)
	_ generic.OutboxStore = (*Memory)(nil)
)

// =============================================================================
// MEMORY STATE - Unlocked tables shared by Memory and the tx view
// =============================================================================

type state struct {
	users       map[generic.UserID]generic.User
	groups      map[generic.GroupID]generic.ResourceGroup
	resources   map[generic.ResourceID]generic.Resource
	bookings    map[generic.BookingID]generic.Booking
	invoices    map[generic.InvoiceID]generic.Invoice
	available   map[generic.RequestID]generic.AvailableSwitchRequest
	mutual      map[generic.RequestID]generic.MutualSwitchRequest
	availHist   []generic.AvailableSwitchHistory
	mutualHist  []generic.MutualSwitchHistory
	feeVersions []generic.FeeVersion
	outbox      []generic.OutboxRecord
	seq         int64
}

func newState() *state {
	return &state{
		users:     make(map[generic.UserID]generic.User),
		groups:    make(map[generic.GroupID]generic.ResourceGroup),
		resources: make(map[generic.ResourceID]generic.Resource),
		bookings:  make(map[generic.BookingID]generic.Booking),
		invoices:  make(map[generic.InvoiceID]generic.Invoice),
		available: make(map[generic.RequestID]generic.AvailableSwitchRequest),
		mutual:    make(map[generic.RequestID]generic.MutualSwitchRequest),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *state) clone() *state {
	c := &state{
		users:       cloneMap(s.users),
		groups:      cloneMap(s.groups),
		resources:   cloneMap(s.resources),
		bookings:    cloneMap(s.bookings),
		invoices:    cloneMap(s.invoices),
		available:   cloneMap(s.available),
		mutual:      cloneMap(s.mutual),
		availHist:   append([]generic.AvailableSwitchHistory(nil), s.availHist...),
		mutualHist:  append([]generic.MutualSwitchHistory(nil), s.mutualHist...),
		feeVersions: append([]generic.FeeVersion(nil), s.feeVersions...),
		outbox:      append([]generic.OutboxRecord(nil), s.outbox...),
		seq:         s.seq,
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) bool) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// ===== Users =====

func (s *state) SaveUser(_ context.Context, u *generic.User) error {
	if u.ID == 0 {
		u.ID = generic.UserID(s.nextID())
	}
	s.users[u.ID] = *u
	return nil
}

func (s *state) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *state) ListUsers(_ context.Context) ([]generic.User, error) {
	return sortedValues(s.users, func(a, b generic.User) bool { return a.ID < b.ID }), nil
}

// ===== Registry =====

func (s *state) SaveGroup(_ context.Context, g *generic.ResourceGroup) error {
	if g.ID == 0 {
		g.ID = generic.GroupID(s.nextID())
	}
	s.groups[g.ID] = *g
	return nil
}

func (s *state) ListGroups(_ context.Context, kind string) ([]generic.ResourceGroup, error) {
	var out []generic.ResourceGroup
	for _, g := range sortedValues(s.groups, func(a, b generic.ResourceGroup) bool { return a.ID < b.ID }) {
		if kind == "" || g.Kind == kind {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *state) SaveResource(_ context.Context, r *generic.Resource) error {
	if r.ID == 0 {
		r.ID = generic.ResourceID(s.nextID())
	}
	s.resources[r.ID] = *r
	return nil
}

func (s *state) GetResource(_ context.Context, id generic.ResourceID) (*generic.Resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *state) ListResources(_ context.Context, kind string) ([]generic.Resource, error) {
	var out []generic.Resource
	for _, r := range sortedValues(s.resources, func(a, b generic.Resource) bool { return a.ID < b.ID }) {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *state) DeleteResource(_ context.Context, id generic.ResourceID) error {
	delete(s.resources, id)
	return nil
}

// ===== Bookings =====

func (s *state) SaveBooking(_ context.Context, b *generic.Booking) error {
	if b.ID == 0 {
		b.ID = generic.BookingID(s.nextID())
	}
	s.bookings[b.ID] = *b
	return nil
}

func (s *state) GetBooking(_ context.Context, id generic.BookingID) (*generic.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *state) DeleteBooking(_ context.Context, id generic.BookingID) error {
	delete(s.bookings, id)
	return nil
}

func (s *state) FindBookings(_ context.Context, f generic.BookingFilter) ([]generic.Booking, error) {
	var out []generic.Booking
	for _, b := range sortedValues(s.bookings, func(a, b generic.Booking) bool { return a.ID < b.ID }) {
		if matchBooking(f, b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func matchBooking(f generic.BookingFilter, b generic.Booking) bool {
	if f.Kind != "" && b.Kind != f.Kind {
		return false
	}
	if f.Student != nil && b.Student != *f.Student {
		return false
	}
	if f.Resource != nil && b.Resource != *f.Resource {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, b.Status) {
		return false
	}
	if f.EndBefore != nil && (b.EndDate == nil || !b.EndDate.Before(*f.EndBefore)) {
		return false
	}
	return true
}

// ===== Invoices =====

func (s *state) SaveInvoice(_ context.Context, inv *generic.Invoice) error {
	for _, other := range s.invoices {
		if other.ID == inv.ID {
			continue
		}
		if other.Booking == inv.Booking && other.Month.Equal(inv.Month) {
			return fmt.Errorf("invoice for booking %d month %s: %w", inv.Booking, inv.Month.Format("2006-01"), generic.ErrDuplicateInvoice)
		}
		if other.Number == inv.Number {
			return fmt.Errorf("invoice number %s: %w", inv.Number, generic.ErrDuplicateInvoice)
		}
	}
	if inv.ID == 0 {
		inv.ID = generic.InvoiceID(s.nextID())
	}
	s.invoices[inv.ID] = *inv
	return nil
}

func (s *state) GetInvoice(_ context.Context, id generic.InvoiceID) (*generic.Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (s *state) FindInvoices(_ context.Context, f generic.InvoiceFilter) ([]generic.Invoice, error) {
	var out []generic.Invoice
	all := sortedValues(s.invoices, func(a, b generic.Invoice) bool {
		if !a.Month.Equal(b.Month) {
			return a.Month.Before(b.Month)
		}
		return a.ID < b.ID
	})
	for _, inv := range all {
		if matchInvoice(f, inv) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func matchInvoice(f generic.InvoiceFilter, inv generic.Invoice) bool {
	if f.Kind != "" && inv.Kind != f.Kind {
		return false
	}
	if f.Booking != nil && inv.Booking != *f.Booking {
		return false
	}
	if f.Student != nil && inv.Student != *f.Student {
		return false
	}
	if f.Month != nil && !inv.Month.Equal(*f.Month) {
		return false
	}
	if f.GeneratedFrom != nil && inv.GeneratedOn.Before(*f.GeneratedFrom) {
		return false
	}
	if f.GeneratedTo != nil && inv.GeneratedOn.After(*f.GeneratedTo) {
		return false
	}
	return true
}

// ===== Switch requests =====

func (s *state) SaveAvailableSwitch(_ context.Context, r *generic.AvailableSwitchRequest) error {
	if r.ID == 0 {
		r.ID = generic.RequestID(s.nextID())
	}
	s.available[r.ID] = *r
	return nil
}

func (s *state) GetAvailableSwitch(_ context.Context, id generic.RequestID) (*generic.AvailableSwitchRequest, error) {
	r, ok := s.available[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *state) FindAvailableSwitches(_ context.Context, f generic.SwitchFilter) ([]generic.AvailableSwitchRequest, error) {
	var out []generic.AvailableSwitchRequest
	for _, r := range sortedValues(s.available, func(a, b generic.AvailableSwitchRequest) bool { return a.ID < b.ID }) {
		if matchSwitch(f, r.Kind, r.Student, r.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *state) SaveMutualSwitch(_ context.Context, r *generic.MutualSwitchRequest) error {
	if r.ID == 0 {
		r.ID = generic.RequestID(s.nextID())
	}
	s.mutual[r.ID] = *r
	return nil
}

func (s *state) GetMutualSwitch(_ context.Context, id generic.RequestID) (*generic.MutualSwitchRequest, error) {
	r, ok := s.mutual[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *state) FindMutualSwitches(_ context.Context, f generic.SwitchFilter) ([]generic.MutualSwitchRequest, error) {
	var out []generic.MutualSwitchRequest
	for _, r := range sortedValues(s.mutual, func(a, b generic.MutualSwitchRequest) bool { return a.ID < b.ID }) {
		if matchSwitch(f, r.Kind, r.Student, r.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matchSwitch(f generic.SwitchFilter, kind string, student generic.UserID, status generic.RequestStatus) bool {
	if f.Kind != "" && kind != f.Kind {
		return false
	}
	if f.Student != nil && student != *f.Student {
		return false
	}
	return len(f.Statuses) == 0 || contains(f.Statuses, status)
}

// ===== Switch history (append-only) =====

func (s *state) AppendAvailableHistory(_ context.Context, h *generic.AvailableSwitchHistory) error {
	h.ID = s.nextID()
	s.availHist = append(s.availHist, *h)
	return nil
}

func (s *state) AppendMutualHistory(_ context.Context, h *generic.MutualSwitchHistory) error {
	h.ID = s.nextID()
	s.mutualHist = append(s.mutualHist, *h)
	return nil
}

func (s *state) ListAvailableHistory(_ context.Context, f generic.HistoryFilter) ([]generic.AvailableSwitchHistory, error) {
	var out []generic.AvailableSwitchHistory
	for _, h := range s.availHist {
		if f.Kind != "" && h.Kind != f.Kind {
			continue
		}
		if f.Student != nil && h.Student != *f.Student {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *state) ListMutualHistory(_ context.Context, f generic.HistoryFilter) ([]generic.MutualSwitchHistory, error) {
	var out []generic.MutualSwitchHistory
	for _, h := range s.mutualHist {
		if f.Kind != "" && h.Kind != f.Kind {
			continue
		}
		if f.Student != nil && h.StudentA != *f.Student && (h.StudentB == nil || *h.StudentB != *f.Student) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// ===== Fee versions =====

func (s *state) SaveFeeVersion(_ context.Context, v *generic.FeeVersion) error {
	if v.ID == 0 {
		v.ID = s.nextID()
		s.feeVersions = append(s.feeVersions, *v)
		return nil
	}
	for i := range s.feeVersions {
		if s.feeVersions[i].ID == v.ID {
			s.feeVersions[i] = *v
			return nil
		}
	}
	return fmt.Errorf("fee version %d not found", v.ID)
}

func (s *state) ListFeeVersions(_ context.Context, kind string) ([]generic.FeeVersion, error) {
	var out []generic.FeeVersion
	for _, v := range s.feeVersions {
		if kind == "" || v.Kind == kind {
			out = append(out, v)
		}
	}
	return out, nil
}

// ===== Outbox =====

func (s *state) AppendOutbox(_ context.Context, e generic.Event) error {
	s.outbox = append(s.outbox, generic.OutboxRecord{Event: e})
	return nil
}

func (s *state) pendingOutbox(limit int) []generic.OutboxRecord {
	var out []generic.OutboxRecord
	for _, r := range s.outbox {
		if r.DeliveredAt != nil {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *state) outboxRecord(id string) (*generic.OutboxRecord, error) {
	for i := range s.outbox {
		if s.outbox[i].Event.ID == id {
			return &s.outbox[i], nil
		}
	}
	return nil, fmt.Errorf("outbox event %s not found", id)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a mutex-guarded Store.
type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func read[T any](m *Memory, fn func(*state) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.st)
}

func write(m *Memory, fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

func (m *Memory) SaveUser(ctx context.Context, u *generic.User) error {
	return write(m, func(s *state) error { return s.SaveUser(ctx, u) })
}

func (m *Memory) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	return read(m, func(s *state) (*generic.User, error) { return s.GetUser(ctx, id) })
}

func (m *Memory) ListUsers(ctx context.Context) ([]generic.User, error) {
	return read(m, func(s *state) ([]generic.User, error) { return s.ListUsers(ctx) })
}

func (m *Memory) SaveGroup(ctx context.Context, g *generic.ResourceGroup) error {
	return write(m, func(s *state) error { return s.SaveGroup(ctx, g) })
}

func (m *Memory) ListGroups(ctx context.Context, kind string) ([]generic.ResourceGroup, error) {
	return read(m, func(s *state) ([]generic.ResourceGroup, error) { return s.ListGroups(ctx, kind) })
}

func (m *Memory) SaveResource(ctx context.Context, r *generic.Resource) error {
	return write(m, func(s *state) error { return s.SaveResource(ctx, r) })
}

func (m *Memory) GetResource(ctx context.Context, id generic.ResourceID) (*generic.Resource, error) {
	return read(m, func(s *state) (*generic.Resource, error) { return s.GetResource(ctx, id) })
}

func (m *Memory) ListResources(ctx context.Context, kind string) ([]generic.Resource, error) {
	return read(m, func(s *state) ([]generic.Resource, error) { return s.ListResources(ctx, kind) })
}

func (m *Memory) DeleteResource(ctx context.Context, id generic.ResourceID) error {
	return write(m, func(s *state) error { return s.DeleteResource(ctx, id) })
}

func (m *Memory) SaveBooking(ctx context.Context, b *generic.Booking) error {
	return write(m, func(s *state) error { return s.SaveBooking(ctx, b) })
}

func (m *Memory) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	return read(m, func(s *state) (*generic.Booking, error) { return s.GetBooking(ctx, id) })
}

func (m *Memory) DeleteBooking(ctx context.Context, id generic.BookingID) error {
	return write(m, func(s *state) error { return s.DeleteBooking(ctx, id) })
}

func (m *Memory) FindBookings(ctx context.Context, f generic.BookingFilter) ([]generic.Booking, error) {
	return read(m, func(s *state) ([]generic.Booking, error) { return s.FindBookings(ctx, f) })
}

func (m *Memory) SaveInvoice(ctx context.Context, inv *generic.Invoice) error {
	return write(m, func(s *state) error { return s.SaveInvoice(ctx, inv) })
}

func (m *Memory) GetInvoice(ctx context.Context, id generic.InvoiceID) (*generic.Invoice, error) {
	return read(m, func(s *state) (*generic.Invoice, error) { return s.GetInvoice(ctx, id) })
}

func (m *Memory) FindInvoices(ctx context.Context, f generic.InvoiceFilter) ([]generic.Invoice, error) {
	return read(m, func(s *state) ([]generic.Invoice, error) { return s.FindInvoices(ctx, f) })
}

func (m *Memory) SaveAvailableSwitch(ctx context.Context, r *generic.AvailableSwitchRequest) error {
	return write(m, func(s *state) error { return s.SaveAvailableSwitch(ctx, r) })
}

func (m *Memory) GetAvailableSwitch(ctx context.Context, id generic.RequestID) (*generic.AvailableSwitchRequest, error) {
	return read(m, func(s *state) (*generic.AvailableSwitchRequest, error) { return s.GetAvailableSwitch(ctx, id) })
}

func (m *Memory) FindAvailableSwitches(ctx context.Context, f generic.SwitchFilter) ([]generic.AvailableSwitchRequest, error) {
	return read(m, func(s *state) ([]generic.AvailableSwitchRequest, error) { return s.FindAvailableSwitches(ctx, f) })
}

func (m *Memory) SaveMutualSwitch(ctx context.Context, r *generic.MutualSwitchRequest) error {
	return write(m, func(s *state) error { return s.SaveMutualSwitch(ctx, r) })
}

func (m *Memory) GetMutualSwitch(ctx context.Context, id generic.RequestID) (*generic.MutualSwitchRequest, error) {
	return read(m, func(s *state) (*generic.MutualSwitchRequest, error) { return s.GetMutualSwitch(ctx, id) })
}

func (m *Memory) FindMutualSwitches(ctx context.Context, f generic.SwitchFilter) ([]generic.MutualSwitchRequest, error) {
	return read(m, func(s *state) ([]generic.MutualSwitchRequest, error) { return s.FindMutualSwitches(ctx, f) })
}

func (m *Memory) AppendAvailableHistory(ctx context.Context, h *generic.AvailableSwitchHistory) error {
	return write(m, func(s *state) error { return s.AppendAvailableHistory(ctx, h) })
}

func (m *Memory) AppendMutualHistory(ctx context.Context, h *generic.MutualSwitchHistory) error {
	return write(m, func(s *state) error { return s.AppendMutualHistory(ctx, h) })
}

func (m *Memory) ListAvailableHistory(ctx context.Context, f generic.HistoryFilter) ([]generic.AvailableSwitchHistory, error) {
	return read(m, func(s *state) ([]generic.AvailableSwitchHistory, error) { return s.ListAvailableHistory(ctx, f) })
}

func (m *Memory) ListMutualHistory(ctx context.Context, f generic.HistoryFilter) ([]generic.MutualSwitchHistory, error) {
	return read(m, func(s *state) ([]generic.MutualSwitchHistory, error) { return s.ListMutualHistory(ctx, f) })
}

func (m *Memory) SaveFeeVersion(ctx context.Context, v *generic.FeeVersion) error {
	return write(m, func(s *state) error { return s.SaveFeeVersion(ctx, v) })
}

func (m *Memory) ListFeeVersions(ctx context.Context, kind string) ([]generic.FeeVersion, error) {
	return read(m, func(s *state) ([]generic.FeeVersion, error) { return s.ListFeeVersions(ctx, kind) })
}

func (m *Memory) AppendOutbox(ctx context.Context, e generic.Event) error {
	return write(m, func(s *state) error { return s.AppendOutbox(ctx, e) })
}

// ===== Outbox relay side =====

func (m *Memory) PendingOutbox(_ context.Context, limit int) ([]generic.OutboxRecord, error) {
	return read(m, func(s *state) ([]generic.OutboxRecord, error) { return s.pendingOutbox(limit), nil })
}

func (m *Memory) MarkOutboxDelivered(_ context.Context, id string, at time.Time) error {
	return write(m, func(s *state) error {
		r, err := s.outboxRecord(id)
		if err != nil {
			return err
		}
		r.Attempts++
		r.DeliveredAt = &at
		return nil
	})
}

func (m *Memory) MarkOutboxFailed(_ context.Context, id string, reason string) error {
	return write(m, func(s *state) error {
		r, err := s.outboxRecord(id)
		if err != nil {
			return err
		}
		r.Attempts++
		r.LastError = reason
		return nil
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// fn must only use the Store it is given; the outer store is locked.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()
	if err := fn(tm.st); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}
