package generic_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/generic/store"
	"github.com/warp/allocation-engine/hostel"
	"github.com/warp/allocation-engine/library"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recordingQueue keeps every notification handed over after commit.
type recordingQueue struct {
	mu    sync.Mutex
	notes []generic.Notification
}

func (q *recordingQueue) Enqueue(notes ...generic.Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notes = append(q.notes, notes...)
}

// count returns how many emails with the template went to the student.
func (q *recordingQueue) count(student generic.UserID, template string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, note := range q.notes {
		if note.Student == student && note.Template == template && note.Channel == generic.ChannelEmail {
			n++
		}
	}
	return n
}

// failingSaves is a memory store whose transactions cannot save one booking.
type failingSaves struct {
	*store.TxMemory
	booking generic.BookingID
}

func (f failingSaves) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(tx generic.Store) error {
		return fn(failingTx{Store: tx, booking: f.booking})
	})
}

type failingTx struct {
	generic.Store
	booking generic.BookingID
}

func (t failingTx) SaveBooking(ctx context.Context, b *generic.Booking) error {
	if b.ID == t.booking {
		return errors.New("disk full")
	}
	return t.Store.SaveBooking(ctx, b)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *store.TxMemory
	engine *generic.Engine
	queue  *recordingQueue
	now    time.Time
	admin  generic.Actor
}

func newHarness(t *testing.T, today generic.Date) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: store.NewTxMemory(),
		queue: &recordingQueue{},
		admin: generic.Actor{ID: 1, Role: generic.RoleAdmin},
	}
	h.setToday(today)
	rt := &generic.Runtime{
		Store:         h.store,
		Notifications: h.queue,
		Clock:         func() time.Time { return h.now },
	}
	h.engine = generic.NewEngine(rt, nil)
	return h
}

func (h *harness) setToday(d generic.Date) {
	h.now = d.Time.Add(10 * time.Hour)
}

func day(y int, m time.Month, d int) generic.Date {
	return generic.NewDate(y, m, d)
}

func student(id int64) generic.Actor {
	return generic.Actor{ID: generic.UserID(id), Role: generic.RoleStudent}
}

func (h *harness) bed(label string) *generic.Resource {
	h.t.Helper()
	r, err := h.engine.Registry.CreateResource(h.ctx, h.admin, hostel.ID, label, nil)
	require.NoError(h.t, err)
	return r
}

func (h *harness) seat(label string) *generic.Resource {
	h.t.Helper()
	r, err := h.engine.Registry.CreateResource(h.ctx, h.admin, library.ID, label, nil)
	require.NoError(h.t, err)
	return r
}

func (h *harness) book(who generic.Actor, res generic.ResourceID, start generic.Date) *generic.Booking {
	h.t.Helper()
	b, err := h.engine.Bookings.Create(h.ctx, who, generic.CreateBooking{
		Resource:   res,
		StartDate:  start,
		IDDocFront: "docs/front.jpg",
		IDDocBack:  "docs/back.jpg",
	})
	require.NoError(h.t, err)
	return b
}

func (h *harness) approve(id generic.BookingID) *generic.Booking {
	h.t.Helper()
	b, err := h.engine.Bookings.Approve(h.ctx, h.admin, id)
	require.NoError(h.t, err)
	return b
}

func (h *harness) bookAndApprove(who generic.Actor, res generic.ResourceID, start generic.Date) *generic.Booking {
	h.t.Helper()
	return h.approve(h.book(who, res, start).ID)
}

// engineOver builds a second engine on another store sharing the harness clock.
func (h *harness) engineOver(s generic.TxStore) *generic.Engine {
	return generic.NewEngine(&generic.Runtime{
		Store: s,
		Clock: func() time.Time { return h.now },
	}, nil)
}

// seedApproved writes an approved booking straight to the store, bypassing
// the occupancy checks, so a resource can carry two holders.
func (h *harness) seedApproved(who generic.UserID, kind string, res generic.ResourceID, start generic.Date) *generic.Booking {
	h.t.Helper()
	approver := h.admin.ID
	at := h.now
	b := &generic.Booking{
		Kind:       kind,
		Student:    who,
		Resource:   res,
		StartDate:  start,
		Status:     generic.BookingApproved,
		ApprovedBy: &approver,
		ApprovedAt: &at,
		MonthlyFee: generic.Money(1500),
		Deposit:    generic.Money(2000),
		IDDocFront: "docs/front.jpg",
		IDDocBack:  "docs/back.jpg",
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	require.NoError(h.t, h.store.SaveBooking(h.ctx, b))
	return b
}

func (h *harness) resource(id generic.ResourceID) generic.Resource {
	h.t.Helper()
	r, err := h.store.GetResource(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, r, "resource %d", id)
	return *r
}

func (h *harness) booking(id generic.BookingID) *generic.Booking {
	h.t.Helper()
	b, err := h.store.GetBooking(h.ctx, id)
	require.NoError(h.t, err)
	return b
}

// requireConsistent fails unless every resource's flag matches its approved bookings.
func (h *harness) requireConsistent() {
	h.t.Helper()
	violations, err := h.engine.Registry.AuditOccupancy(h.ctx, generic.SystemActor, "")
	require.NoError(h.t, err)
	require.Empty(h.t, violations, "occupancy flags disagree with approved bookings")
}

func (h *harness) outboxTypes() []string {
	h.t.Helper()
	pending, err := h.store.PendingOutbox(h.ctx, 0)
	require.NoError(h.t, err)
	types := make([]string, 0, len(pending))
	for _, r := range pending {
		types = append(types, r.Event.Type)
	}
	return types
}
