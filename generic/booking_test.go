package generic_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// CREATE
// =============================================================================

func TestCreateBooking_FirstMonthFeeFollowsStartDayTier(t *testing.T) {
	// GIVEN: Default hostel fees (1-10 -> 1500, 11-20 -> 1000, 21-31 -> 500)
	// WHEN: A student books with a start date on a given day
	// THEN: The booking carries the tier fee and the full deposit

	tests := []struct {
		day  int
		want int64
	}{
		{5, 1500},
		{10, 1500},
		{15, 1000},
		{25, 500},
		{31, 500},
	}
	for _, tt := range tests {
		h := newHarness(t, day(2025, time.March, 1))
		bed := h.bed("A1")

		b := h.book(student(10), bed.ID, day(2025, time.March, tt.day))

		assert.True(t, generic.Money(tt.want).Equal(b.MonthlyFee), "day %d: fee %s", tt.day, b.MonthlyFee)
		assert.True(t, generic.Money(2000).Equal(b.Deposit), "day %d: deposit %s", tt.day, b.Deposit)
		assert.Equal(t, generic.BookingPending, b.Status)
	}
}

func TestCreateBooking_OneActiveBookingPerKind(t *testing.T) {
	// GIVEN: A student with a pending bed booking
	// WHEN: They book a second bed, then a library seat
	// THEN: The second bed is refused, the seat is accepted

	h := newHarness(t, day(2025, time.March, 1))
	a, b := h.bed("A1"), h.bed("A2")
	s := h.seat("S1")
	h.book(student(10), a.ID, day(2025, time.March, 5))

	_, err := h.engine.Bookings.Create(h.ctx, student(10), generic.CreateBooking{
		Resource: b.ID, StartDate: day(2025, time.March, 5), IDDocFront: "f", IDDocBack: "b",
	})
	require.ErrorIs(t, err, generic.ErrConflict)

	h.book(student(10), s.ID, day(2025, time.March, 5))
}

func TestCreateBooking_ResourceAlreadyBooked(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	h.bookAndApprove(student(10), bed.ID, day(2025, time.March, 5))

	_, err := h.engine.Bookings.Create(h.ctx, student(11), generic.CreateBooking{
		Resource: bed.ID, StartDate: day(2025, time.March, 5), IDDocFront: "f", IDDocBack: "b",
	})

	require.ErrorIs(t, err, generic.ErrConflict)
	assert.Contains(t, err.Error(), "bed is already booked")
}

func TestCreateBooking_DocumentsRequiredUnlessOnFile(t *testing.T) {
	// GIVEN: A student with no booking on file
	// WHEN: They book a seat without identity documents
	// THEN: Validation fails; once a hostel booking carries documents, the
	//       seat booking reuses them

	h := newHarness(t, day(2025, time.March, 1))
	bed, seat := h.bed("A1"), h.seat("S1")

	_, err := h.engine.Bookings.Create(h.ctx, student(10), generic.CreateBooking{Resource: seat.ID, StartDate: day(2025, time.March, 5)})
	require.ErrorIs(t, err, generic.ErrValidation)

	h.book(student(10), bed.ID, day(2025, time.March, 5))
	b, err := h.engine.Bookings.Create(h.ctx, student(10), generic.CreateBooking{Resource: seat.ID, StartDate: day(2025, time.March, 5)})
	require.NoError(t, err)
	assert.Equal(t, "docs/front.jpg", b.IDDocFront)
	assert.Equal(t, "docs/back.jpg", b.IDDocBack)
}

func TestCreateBooking_RequiresStudentAndKnownResource(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")

	_, err := h.engine.Bookings.Create(h.ctx, h.admin, generic.CreateBooking{Resource: bed.ID, StartDate: day(2025, time.March, 5)})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = h.engine.Bookings.Create(h.ctx, student(10), generic.CreateBooking{Resource: 999, StartDate: day(2025, time.March, 5)})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = h.engine.Bookings.Create(h.ctx, student(10), generic.CreateBooking{Resource: bed.ID})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestLibraryDeposit_WaivedWhileHostelBookingActive(t *testing.T) {
	// GIVEN: Student 10 holds an approved bed, student 11 holds nothing
	// WHEN: Both book library seats
	// THEN: Student 10 pays no seat deposit, student 11 pays the default 500

	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	s1, s2 := h.seat("S1"), h.seat("S2")
	h.bookAndApprove(student(10), bed.ID, day(2025, time.March, 5))

	waived := h.book(student(10), s1.ID, day(2025, time.March, 5))
	charged := h.book(student(11), s2.ID, day(2025, time.March, 5))

	assert.True(t, waived.Deposit.IsZero(), "deposit %s", waived.Deposit)
	assert.True(t, generic.Money(500).Equal(charged.Deposit), "deposit %s", charged.Deposit)
	assert.True(t, generic.Money(600).Equal(charged.MonthlyFee), "fee %s", charged.MonthlyFee)
}

// =============================================================================
// DECISIONS
// =============================================================================

func TestApprove_FirstApprovalWinsAndDiscardsCompetitors(t *testing.T) {
	// GIVEN: Three students contend for the same bed
	// WHEN: The admin approves the second one
	// THEN: The bed is occupied by that booking, the other two bookings are
	//       deleted and their students get a rejection notice

	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	b1 := h.book(student(10), bed.ID, day(2025, time.March, 5))
	b2 := h.book(student(11), bed.ID, day(2025, time.March, 5))
	b3 := h.book(student(12), bed.ID, day(2025, time.March, 5))

	approved := h.approve(b2.ID)

	assert.Equal(t, generic.BookingApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, h.admin.ID, *approved.ApprovedBy)
	assert.True(t, h.resource(bed.ID).IsBooked)
	assert.Nil(t, h.booking(b1.ID), "competitor should be deleted")
	assert.Nil(t, h.booking(b3.ID), "competitor should be deleted")
	assert.Equal(t, 1, h.queue.count(10, generic.TemplateBookingRejected))
	assert.Equal(t, 1, h.queue.count(12, generic.TemplateBookingRejected))
	assert.Equal(t, 1, h.queue.count(11, generic.TemplateBookingApproved))
	h.requireConsistent()

	_, err := h.engine.Bookings.Approve(h.ctx, h.admin, b1.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestApprove_ConcurrentApprovalsOnOneBed(t *testing.T) {
	// GIVEN: Twenty students with pending bookings for the same bed
	// WHEN: The admin approves all of them at once
	// THEN: Exactly one approval succeeds; the rest find their booking
	//       discarded or already processed

	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	var ids []generic.BookingID
	for i := int64(0); i < 20; i++ {
		ids = append(ids, h.book(student(100+i), bed.ID, day(2025, time.March, 5)).ID)
	}

	var wins atomic.Int32
	errs := make(chan error, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id generic.BookingID) {
			defer wg.Done()
			if _, err := h.engine.Bookings.Approve(h.ctx, h.admin, id); err != nil {
				errs <- err
				return
			}
			wins.Add(1)
		}(id)
	}
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), wins.Load())
	for err := range errs {
		lost := errors.Is(err, generic.ErrNotFound) || errors.Is(err, generic.ErrInvalidState) || errors.Is(err, generic.ErrConflict)
		assert.True(t, lost, "unexpected error: %v", err)
	}
	approved, err := h.store.FindBookings(h.ctx, generic.BookingFilter{Resource: &bed.ID, Statuses: []generic.BookingStatus{generic.BookingApproved}})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
	assert.True(t, h.resource(bed.ID).IsBooked)
	h.requireConsistent()
}

func TestApprove_OnlyPendingBookings(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	b := h.book(student(10), bed.ID, day(2025, time.March, 5))
	_, err := h.engine.Bookings.Reject(h.ctx, h.admin, b.ID, "")
	require.NoError(t, err)

	_, err = h.engine.Bookings.Approve(h.ctx, h.admin, b.ID)

	assert.ErrorIs(t, err, generic.ErrInvalidState)
	assert.False(t, h.resource(bed.ID).IsBooked)
}

func TestApprove_RequiresAdmin(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	b := h.book(student(10), bed.ID, day(2025, time.March, 5))

	_, err := h.engine.Bookings.Approve(h.ctx, student(10), b.ID)

	assert.ErrorIs(t, err, generic.ErrForbidden)
	assert.True(t, generic.IsForbidden(err))
}

func TestReject_LeavesResourceFreeAndStudentMayRebook(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	a, b := h.bed("A1"), h.bed("A2")
	booking := h.book(student(10), a.ID, day(2025, time.March, 5))

	rejected, err := h.engine.Bookings.Reject(h.ctx, h.admin, booking.ID, "")
	require.NoError(t, err)

	assert.Equal(t, generic.BookingRejected, rejected.Status)
	assert.Equal(t, "Rejected by admin.", rejected.Remarks)
	assert.False(t, h.resource(a.ID).IsBooked)
	assert.Equal(t, 1, h.queue.count(10, generic.TemplateBookingRejected))
	h.book(student(10), b.ID, day(2025, time.March, 5))
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancel_ApprovedBookingFreesResource(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 10))
	bed := h.bed("A1")
	b := h.bookAndApprove(student(10), bed.ID, day(2025, time.March, 5))

	cancelled, err := h.engine.Bookings.Cancel(h.ctx, student(10), b.ID)
	require.NoError(t, err)

	assert.Equal(t, generic.BookingCancelled, cancelled.Status)
	assert.Equal(t, "Cancelled by Student", cancelled.Remarks)
	require.NotNil(t, cancelled.EndDate)
	assert.Equal(t, "2025-03-10", cancelled.EndDate.String())
	assert.False(t, h.resource(bed.ID).IsBooked)
	h.requireConsistent()
}

func TestCancel_OwnershipAndState(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 10))
	bed := h.bed("A1")
	b := h.book(student(10), bed.ID, day(2025, time.March, 5))

	_, err := h.engine.Bookings.Cancel(h.ctx, student(11), b.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)

	cancelled, err := h.engine.Bookings.Cancel(h.ctx, h.admin, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cancelled by Admin", cancelled.Remarks)

	_, err = h.engine.Bookings.Cancel(h.ctx, student(10), b.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestCancel_WithdrawsPendingSwitchRequests(t *testing.T) {
	// GIVEN: An approved booking with a pending available switch
	// WHEN: The booking is cancelled
	// THEN: The switch request is cancelled and a history row records it

	h := newHarness(t, day(2025, time.March, 10))
	a, b := h.bed("A1"), h.bed("A2")
	booking := h.bookAndApprove(student(10), a.ID, day(2025, time.March, 5))
	req, err := h.engine.Switches.RequestAvailable(h.ctx, student(10), b.ID, "closer to the window")
	require.NoError(t, err)

	_, err = h.engine.Bookings.Cancel(h.ctx, student(10), booking.ID)
	require.NoError(t, err)

	got, err := h.store.GetAvailableSwitch(h.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.RequestCancelled, got.Status)
	history, err := h.engine.Switches.AvailableHistory(h.ctx, h.admin, generic.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, generic.HistoryCancelled, history[0].Action)
}

// =============================================================================
// MOVE-OUT AND EXPIRY
// =============================================================================

func TestExpireSweep_ExpiresAfterEndDate(t *testing.T) {
	// GIVEN: An approved booking scheduled to move out on March 31
	// WHEN: The sweep runs on March 31, then April 1, then again
	// THEN: Nothing happens on the 31st; on the 1st the booking expires and
	//       the bed is freed; the rerun changes nothing

	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	b := h.bookAndApprove(student(10), bed.ID, day(2025, time.March, 5))
	_, err := h.engine.Bookings.ScheduleMoveOut(h.ctx, h.admin, b.ID, day(2025, time.March, 31))
	require.NoError(t, err)

	n, err := h.engine.Bookings.ExpireSweep(h.ctx, generic.SystemActor, day(2025, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = h.engine.Bookings.ExpireSweep(h.ctx, generic.SystemActor, day(2025, time.April, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, generic.BookingExpired, h.booking(b.ID).Status)
	assert.False(t, h.resource(bed.ID).IsBooked)
	assert.Equal(t, 1, h.queue.count(10, generic.TemplateBookingExpired))
	h.requireConsistent()

	n, err = h.engine.Bookings.ExpireSweep(h.ctx, generic.SystemActor, day(2025, time.April, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = h.engine.Bookings.ExpireSweep(h.ctx, student(10), day(2025, time.April, 2))
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestExpireSweep_FailedRowDoesNotStopTheSweep(t *testing.T) {
	// GIVEN: Three bookings ending March 31, the middle one unsavable
	// WHEN: The sweep runs on April 1
	// THEN: The other two expire and are counted; the failed one stays
	//       approved with its bed occupied until the next run

	h := newHarness(t, day(2025, time.March, 1))
	var bookings []*generic.Booking
	for i, label := range []string{"A1", "A2", "A3"} {
		bed := h.bed(label)
		b := h.bookAndApprove(student(int64(10+i)), bed.ID, day(2025, time.March, 5))
		_, err := h.engine.Bookings.ScheduleMoveOut(h.ctx, h.admin, b.ID, day(2025, time.March, 31))
		require.NoError(t, err)
		bookings = append(bookings, b)
	}
	stuck := bookings[1]
	h.setToday(day(2025, time.April, 1))

	flaky := h.engineOver(failingSaves{TxMemory: h.store, booking: stuck.ID})
	n, err := flaky.Bookings.ExpireSweep(h.ctx, generic.SystemActor, day(2025, time.April, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, generic.BookingExpired, h.booking(bookings[0].ID).Status)
	assert.Equal(t, generic.BookingApproved, h.booking(stuck.ID).Status)
	assert.Equal(t, generic.BookingExpired, h.booking(bookings[2].ID).Status)
	assert.True(t, h.resource(stuck.Resource).IsBooked)
	assert.False(t, h.resource(bookings[0].Resource).IsBooked)
	h.requireConsistent()

	n, err = h.engine.Bookings.ExpireSweep(h.ctx, generic.SystemActor, day(2025, time.April, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, generic.BookingExpired, h.booking(stuck.ID).Status)
	h.requireConsistent()
}

func TestExpireSweep_KeepsResourceHeldByAnotherBooking(t *testing.T) {
	// GIVEN: A bed with two approved bookings, one moving out March 31
	// WHEN: The sweep runs on April 1
	// THEN: That booking expires but the bed stays booked for the other

	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	leaving := h.bookAndApprove(student(10), bed.ID, day(2025, time.March, 5))
	staying := h.seedApproved(11, "hostel", bed.ID, day(2025, time.March, 5))
	_, err := h.engine.Bookings.ScheduleMoveOut(h.ctx, h.admin, leaving.ID, day(2025, time.March, 31))
	require.NoError(t, err)

	n, err := h.engine.Bookings.ExpireSweep(h.ctx, generic.SystemActor, day(2025, time.April, 1))
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, generic.BookingExpired, h.booking(leaving.ID).Status)
	assert.Equal(t, generic.BookingApproved, h.booking(staying.ID).Status)
	assert.True(t, h.resource(bed.ID).IsBooked)
	h.requireConsistent()
}

func TestScheduleMoveOut_Validation(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	b := h.book(student(10), bed.ID, day(2025, time.March, 5))

	_, err := h.engine.Bookings.ScheduleMoveOut(h.ctx, h.admin, b.ID, day(2025, time.March, 31))
	assert.ErrorIs(t, err, generic.ErrNotApproved)

	h.approve(b.ID)
	_, err = h.engine.Bookings.ScheduleMoveOut(h.ctx, h.admin, b.ID, day(2025, time.March, 1))
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestTotalDue_CountsActiveMonthsPlusDeposit(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	b := h.bookAndApprove(student(10), bed.ID, day(2025, time.March, 5))

	due, err := h.engine.Bookings.TotalDue(h.ctx, student(10), b.ID, day(2025, time.May, 10))
	require.NoError(t, err)
	assert.True(t, generic.Money(6500).Equal(due), "3 months of 1500 plus 2000, got %s", due)

	due, err = h.engine.Bookings.TotalDue(h.ctx, student(10), b.ID, day(2025, time.February, 1))
	require.NoError(t, err)
	assert.True(t, generic.Money(2000).Equal(due), "deposit only before start, got %s", due)

	_, err = h.engine.Bookings.TotalDue(h.ctx, student(11), b.ID, day(2025, time.May, 10))
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestSummary_TracksActiveAndPrevious(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")

	sum, err := h.engine.Bookings.Summary(h.ctx, student(10), 10, "hostel")
	require.NoError(t, err)
	assert.False(t, sum.Active)
	assert.False(t, sum.HasPrevious)

	b := h.book(student(10), bed.ID, day(2025, time.March, 5))
	sum, err = h.engine.Bookings.Summary(h.ctx, student(10), 10, "hostel")
	require.NoError(t, err)
	assert.True(t, sum.Active)
	require.NotNil(t, sum.Current)
	assert.Equal(t, b.ID, sum.Current.ID)

	_, err = h.engine.Bookings.Cancel(h.ctx, student(10), b.ID)
	require.NoError(t, err)
	sum, err = h.engine.Bookings.Summary(h.ctx, h.admin, 10, "hostel")
	require.NoError(t, err)
	assert.False(t, sum.Active)
	assert.True(t, sum.HasPrevious)

	_, err = h.engine.Bookings.Summary(h.ctx, student(11), 10, "hostel")
	assert.ErrorIs(t, err, generic.ErrForbidden)
	_, err = h.engine.Bookings.Summary(h.ctx, h.admin, 10, "gym")
	assert.ErrorIs(t, err, generic.ErrUnknownKind)
}

func TestList_StudentsSeeOnlyTheirOwn(t *testing.T) {
	h := newHarness(t, day(2025, time.March, 1))
	a, b := h.bed("A1"), h.bed("A2")
	h.book(student(10), a.ID, day(2025, time.March, 5))
	h.book(student(11), b.ID, day(2025, time.March, 5))

	mine, err := h.engine.Bookings.List(h.ctx, student(10), generic.BookingFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, generic.UserID(10), mine[0].Student)

	other := generic.UserID(11)
	_, err = h.engine.Bookings.List(h.ctx, student(10), generic.BookingFilter{Student: &other})
	assert.ErrorIs(t, err, generic.ErrForbidden)

	all, err := h.engine.Bookings.List(h.ctx, h.admin, generic.BookingFilter{Kind: "hostel"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := h.engine.Bookings.PendingForResource(h.ctx, h.admin, a.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// =============================================================================
// OUTBOX
// =============================================================================

func TestOutbox_OnlyCommittedChangesPublish(t *testing.T) {
	// GIVEN: A pending booking
	// WHEN: A conflicting booking fails, then the first booking is approved
	// THEN: The outbox holds exactly the pending and approved events

	h := newHarness(t, day(2025, time.March, 1))
	bed := h.bed("A1")
	b := h.book(student(10), bed.ID, day(2025, time.March, 5))
	assert.Equal(t, []string{generic.EventBookingPending}, h.outboxTypes())

	_, err := h.engine.Bookings.Create(h.ctx, student(10), generic.CreateBooking{
		Resource: bed.ID, StartDate: day(2025, time.March, 5), IDDocFront: "f", IDDocBack: "b",
	})
	require.Error(t, err)
	assert.Len(t, h.outboxTypes(), 1)

	h.approve(b.ID)
	assert.Equal(t, []string{generic.EventBookingPending, generic.EventBookingApproved}, h.outboxTypes())

	pending, err := h.store.PendingOutbox(h.ctx, 0)
	require.NoError(t, err)
	payload := pending[1].Event.Payload
	assert.Equal(t, generic.TopicResourceState, pending[1].Event.Topic)
	assert.Equal(t, "hostel", pending[1].Event.Kind)
	assert.Equal(t, true, payload["is_booked"])
	assert.Equal(t, int64(bed.ID), payload["resource_id"])
}
