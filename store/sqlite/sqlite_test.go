package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/generic"
	_ "github.com/warp/allocation-engine/hostel"
	_ "github.com/warp/allocation-engine/library"
	"github.com/warp/allocation-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func date(y int, m time.Month, d int) generic.Date {
	return generic.NewDate(y, m, d)
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_BookingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	room := &generic.ResourceGroup{Kind: "hostel", Label: "Room 101", CreatedAt: time.Now()}
	require.NoError(t, s.SaveGroup(ctx, room))
	bed := &generic.Resource{Kind: "hostel", Group: &room.ID, Label: "A1", CreatedAt: time.Now()}
	require.NoError(t, s.SaveResource(ctx, bed))

	end := date(2025, time.April, 30)
	b := &generic.Booking{
		Kind:       "hostel",
		Student:    10,
		Resource:   bed.ID,
		StartDate:  date(2025, time.March, 5),
		EndDate:    &end,
		Status:     generic.BookingPending,
		MonthlyFee: generic.Money(1500),
		Deposit:    generic.Money(2000),
		IDDocFront: "docs/10/front.jpg",
		IDDocBack:  "docs/10/back.jpg",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, s.SaveBooking(ctx, b))
	require.NotZero(t, b.ID)

	got, err := s.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2025-03-05", got.StartDate.String())
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2025-04-30", got.EndDate.String())
	assert.True(t, generic.Money(1500).Equal(got.MonthlyFee))
	assert.Equal(t, "docs/10/front.jpg", got.IDDocFront)
	assert.Nil(t, got.ApprovedBy)

	// Update in place
	admin := generic.UserID(1)
	got.Status = generic.BookingApproved
	got.ApprovedBy = &admin
	require.NoError(t, s.SaveBooking(ctx, got))

	student := generic.UserID(10)
	found, err := s.FindBookings(ctx, generic.BookingFilter{
		Student:  &student,
		Statuses: []generic.BookingStatus{generic.BookingApproved},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.NotNil(t, found[0].ApprovedBy)
	assert.Equal(t, admin, *found[0].ApprovedBy)

	cutoff := date(2025, time.May, 1)
	due, err := s.FindBookings(ctx, generic.BookingFilter{EndBefore: &cutoff})
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, s.DeleteBooking(ctx, b.ID))
	gone, err := s.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStore_MissingRowsReturnNil(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	r, err := s.GetResource(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, r)
	inv, err := s.GetInvoice(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, inv)
	u, err := s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestStore_InvoiceUniquePerBookingMonth(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	march := date(2025, time.March, 1)
	inv := &generic.Invoice{
		Booking: 7, Kind: "hostel", Student: 10, Number: "INV-HO-202503-007", Month: march,
		Amount: generic.Money(500), Deposit: generic.Money(2000), Total: generic.Money(2500),
		GeneratedOn: date(2025, time.March, 25),
	}
	require.NoError(t, s.SaveInvoice(ctx, inv))

	dup := *inv
	dup.ID = 0
	dup.Number = "INV-HO-202503-999"
	err := s.SaveInvoice(ctx, &dup)
	assert.ErrorIs(t, err, generic.ErrDuplicateInvoice)

	paidAt := time.Date(2025, time.March, 26, 9, 0, 0, 0, time.UTC)
	inv.IsPaid = true
	inv.PaidAt = &paidAt
	require.NoError(t, s.SaveInvoice(ctx, inv))

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsPaid)
	require.NotNil(t, got.PaidAt)
	assert.True(t, paidAt.Equal(*got.PaidAt))
	assert.True(t, generic.Money(2500).Equal(got.Total))

	list, err := s.FindInvoices(ctx, generic.InvoiceFilter{Month: &march})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_FeeVersionsKeepTiers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v := &generic.FeeVersion{
		Kind:          "library",
		EffectiveFrom: date(2025, time.April, 1),
		MonthlyFee:    generic.Money(700),
		Deposit:       generic.Money(500),
		Tiers: []generic.FeeTier{
			{UpToDay: 15, Fee: generic.Money(700)},
			{UpToDay: 31, Fee: generic.Money(350)},
		},
	}
	require.NoError(t, s.SaveFeeVersion(ctx, v))
	require.NotZero(t, v.ID)

	again := *v
	again.ID = 0
	assert.ErrorIs(t, s.SaveFeeVersion(ctx, &again), generic.ErrConflict)

	versions, err := s.ListFeeVersions(ctx, "library")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Len(t, versions[0].Tiers, 2)
	assert.True(t, generic.Money(350).Equal(versions[0].TierFee(20)))
}

func TestStore_OutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	created := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	err := s.WithTx(ctx, func(tx generic.Store) error {
		for i, id := range []string{"evt-1", "evt-2"} {
			e := generic.Event{
				ID: id, Topic: "hostel.bookings", Type: "booking.approved", Kind: "hostel",
				Payload:   map[string]any{"booking_id": 7},
				CreatedAt: created.Add(time.Duration(i) * time.Second),
			}
			if err := tx.AppendOutbox(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	pending, err := s.PendingOutbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt-1", pending[0].Event.ID)
	assert.EqualValues(t, 7, pending[0].Event.Payload["booking_id"])

	require.NoError(t, s.MarkOutboxFailed(ctx, "evt-1", "redis down"))
	require.NoError(t, s.MarkOutboxDelivered(ctx, "evt-2", created.Add(time.Minute)))

	pending, err = s.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "redis down", pending[0].LastError)

	assert.ErrorContains(t, s.MarkOutboxDelivered(ctx, "evt-404", created), "not found")
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.SaveResource(ctx, &generic.Resource{Kind: "library", Label: "S1", CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	seats, err := s.ListResources(ctx, "library")
	require.NoError(t, err)
	assert.Empty(t, seats)
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveUser(ctx, &generic.User{Name: "Asha", Role: generic.RoleStudent, CreatedAt: time.Now()}))
	require.NoError(t, s.SaveResource(ctx, &generic.Resource{Kind: "library", Label: "S1", CreatedAt: time.Now()}))
	require.NoError(t, s.Reset(ctx))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	seats, err := s.ListResources(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, seats)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_BookInvoiceAndSwitchOverSQLite(t *testing.T) {
	// GIVEN: Two hostel beds in a SQLite store
	// WHEN: A student books, is approved, invoiced and moves to the free bed
	// THEN: Flags, invoice, history and outbox all persist through SQL

	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2025, time.March, 25, 10, 0, 0, 0, time.UTC)
	engine := generic.NewEngine(&generic.Runtime{Store: s, Clock: func() time.Time { return now }}, nil)
	admin := generic.Actor{ID: 1, Role: generic.RoleAdmin}
	asha := generic.Actor{ID: 10, Role: generic.RoleStudent}

	a1, err := engine.Registry.CreateResource(ctx, admin, "hostel", "A1", nil)
	require.NoError(t, err)
	a2, err := engine.Registry.CreateResource(ctx, admin, "hostel", "A2", nil)
	require.NoError(t, err)

	b, err := engine.Bookings.Create(ctx, asha, generic.CreateBooking{
		Resource:   a1.ID,
		StartDate:  date(2025, time.March, 25),
		IDDocFront: "docs/10/front.jpg",
		IDDocBack:  "docs/10/back.jpg",
	})
	require.NoError(t, err)
	_, err = engine.Bookings.Approve(ctx, admin, b.ID)
	require.NoError(t, err)

	inv, err := engine.Invoices.Generate(ctx, asha, b.ID, date(2025, time.March, 25))
	require.NoError(t, err)
	assert.True(t, generic.Money(2500).Equal(inv.Total), "total %s", inv.Total)
	_, err = engine.Invoices.Generate(ctx, asha, b.ID, date(2025, time.March, 25))
	assert.ErrorIs(t, err, generic.ErrDuplicateInvoice)

	req, err := engine.Switches.RequestAvailable(ctx, asha, a2.ID, "closer to the window")
	require.NoError(t, err)
	_, err = engine.Switches.ApproveAvailable(ctx, admin, req.ID, "")
	require.NoError(t, err)

	moved, err := s.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a2.ID, moved.Resource)
	old, err := s.GetResource(ctx, a1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsBooked)
	current, err := s.GetResource(ctx, a2.ID)
	require.NoError(t, err)
	assert.True(t, current.IsBooked)

	history, err := s.ListAvailableHistory(ctx, generic.HistoryFilter{Kind: "hostel"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, generic.HistoryApproved, history[0].Action)
	assert.Equal(t, a1.ID, history[0].From)

	violations, err := engine.Registry.AuditOccupancy(ctx, admin, "")
	require.NoError(t, err)
	assert.Empty(t, violations)

	pending, err := s.PendingOutbox(ctx, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, pending)
}

// =============================================================================
// SQL LEVEL (sqlmock)
// =============================================================================

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs("evt-1", "library.bookings", "booking.created", "library", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.WithTx(context.Background(), func(tx generic.Store) error {
		return tx.AppendOutbox(context.Background(), generic.Event{
			ID: "evt-1", Topic: "library.bookings", Type: "booking.created", Kind: "library",
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = s.WithTx(context.Background(), func(tx generic.Store) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveInvoice_MapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	mock.ExpectExec("INSERT INTO invoices").
		WillReturnError(errors.New("UNIQUE constraint failed: invoices.booking_id, invoices.month"))

	err = s.SaveInvoice(context.Background(), &generic.Invoice{
		Booking: 1, Kind: "hostel", Student: 10, Number: "INV-HO-202503-001",
		Month: date(2025, time.March, 1), GeneratedOn: date(2025, time.March, 2),
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateInvoice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOutboxFailed_UnknownEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := sqlite.NewWithDB(db)

	mock.ExpectExec("UPDATE outbox SET attempts").
		WithArgs("timeout", "evt-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.MarkOutboxFailed(context.Background(), "evt-9", "timeout")
	assert.ErrorContains(t, err, "evt-9 not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
