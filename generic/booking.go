/*
booking.go - Booking lifecycle

PURPOSE:
  Handles the full lifecycle of a booking:
  1. Creation: one active booking per student per kind, fee tier and deposit
  2. Decision: admin approves (first approval wins) or rejects
  3. Cancellation: student (own) or admin, from pending or approved
  4. Expiry: scheduled sweep once an approved booking's end date has passed

LIFECYCLE:
  ┌──────────┐  approve   ┌──────────┐  sweep (end_date < today)  ┌─────────┐
  │ pending  │──────────▶ │ approved │──────────────────────────▶ │ expired │
  └──────────┘            └──────────┘                            └─────────┘
     │    │ reject             │ cancel
     │    ▼                    ▼
     │  ┌──────────┐      ┌───────────┐
     │  │ rejected │      │ cancelled │
     │  └──────────┘      └───────────┘
     └── cancel ──────────────▲

TIE-BREAK:
  Approving a booking deletes every other pending booking on the same
  resource, after queueing a rejection notice to each of those students.

OCCUPANCY:
  Every change to a resource's is_booked flag happens in the same
  transaction as the booking change that causes it.

EXAMPLE:
  svc := generic.NewBookingService(rt, generic.StoredFees{Store: store})
  b, err := svc.Create(ctx, student, generic.CreateBooking{Resource: 7, StartDate: d})
  b, err = svc.Approve(ctx, admin, b.ID)

SEE ALSO:
  - invoice.go: billing of approved bookings
  - switch.go: moving approved bookings between resources
*/
package generic

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateBooking is the input of BookingService.Create.
type CreateBooking struct {
	Resource   ResourceID
	StartDate  Date
	Purpose    string
	IDDocFront string
	IDDocBack  string
}

// BookingSummary answers "does this student currently hold a booking of this kind".
type BookingSummary struct {
	Student     UserID
	Kind        string
	Active      bool
	HasPrevious bool
	Current     *Booking
}

// BookingService orchestrates the booking lifecycle.
type BookingService struct {
	*Runtime
	Fees FeeSchedule
}

func NewBookingService(rt *Runtime, fees FeeSchedule) *BookingService {
	return &BookingService{Runtime: rt, Fees: fees}
}

// =============================================================================
// CREATE
// =============================================================================

// Create records a pending booking for the acting student.
func (s *BookingService) Create(ctx context.Context, actor Actor, in CreateBooking) (*Booking, error) {
	if err := Authorize(actor, CapCreateBooking); err != nil {
		return nil, err
	}
	if in.StartDate.IsZero() {
		return nil, newError(ErrValidation, "start date is required")
	}

	// Fee config is read before the transaction; the store is single-writer.
	peek, err := loadResource(ctx, s.Store, in.Resource)
	if err != nil {
		return nil, err
	}
	kind, err := LookupKind(peek.Kind)
	if err != nil {
		return nil, err
	}
	fees, err := s.Fees.EffectiveFee(ctx, kind.KindID(), s.Clock.today())
	if err != nil {
		return nil, err
	}

	var created *Booking
	err = s.commit(ctx, func(tx Store, fx *Effects) error {
		res, err := loadResource(ctx, tx, in.Resource)
		if err != nil {
			return err
		}
		if res.IsBooked {
			return newError(ErrConflict, "This %s is already booked.", kind.UnitNoun())
		}

		active, err := tx.FindBookings(ctx, BookingFilter{Kind: res.Kind, Student: &actor.ID, Statuses: ActiveStatuses})
		if err != nil {
			return fmt.Errorf("find active bookings: %w", err)
		}
		if len(active) > 0 {
			return newError(ErrConflict, "You already have an active %s booking.", res.Kind)
		}

		front, back := in.IDDocFront, in.IDDocBack
		if front == "" || back == "" {
			prev, err := documentsOnFile(ctx, tx, actor.ID)
			if err != nil {
				return err
			}
			if prev == nil {
				return newError(ErrValidation, "ID card front and back images are required.")
			}
			front, back = prev.IDDocFront, prev.IDDocBack
		}

		deposit, err := depositFor(ctx, tx, kind, actor.ID, fees)
		if err != nil {
			return err
		}

		b := &Booking{
			Kind:       res.Kind,
			Student:    actor.ID,
			Resource:   res.ID,
			StartDate:  in.StartDate,
			Status:     BookingPending,
			MonthlyFee: fees.TierFee(in.StartDate.Day()),
			Deposit:    deposit,
			IDDocFront: front,
			IDDocBack:  back,
			Purpose:    in.Purpose,
			CreatedAt:  fx.now,
			UpdatedAt:  fx.now,
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}
		fx.Publish(EventBookingPending, res.Kind, occupancyPayload(res, b))
		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// documentsOnFile returns an active booking of the student (any kind) that
// already carries both identity documents.
func documentsOnFile(ctx context.Context, tx Store, student UserID) (*Booking, error) {
	bookings, err := tx.FindBookings(ctx, BookingFilter{Student: &student, Statuses: ActiveStatuses})
	if err != nil {
		return nil, fmt.Errorf("find bookings with documents: %w", err)
	}
	for i := range bookings {
		if bookings[i].HasDocuments() {
			return &bookings[i], nil
		}
	}
	return nil, nil
}

// depositFor applies the cross-subsidy: an active booking of a waiving kind
// brings the deposit to zero.
func depositFor(ctx context.Context, tx Store, kind ResourceKind, student UserID, fees FeeVersion) (decimal.Decimal, error) {
	for _, waiver := range kind.DepositWaivers() {
		held, err := tx.FindBookings(ctx, BookingFilter{Kind: waiver, Student: &student, Statuses: ActiveStatuses})
		if err != nil {
			return decimal.Zero, fmt.Errorf("find %s bookings: %w", waiver, err)
		}
		if len(held) > 0 {
			return decimal.Zero, nil
		}
	}
	return fees.Deposit, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Approve occupies the resource and discards every other pending booking on it.
func (s *BookingService) Approve(ctx context.Context, actor Actor, id BookingID) (*Booking, error) {
	if err := Authorize(actor, CapDecideBooking); err != nil {
		return nil, err
	}

	var approved *Booking
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		b, err := loadBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status != BookingPending {
			return newError(ErrInvalidState, "Booking already processed.")
		}
		res, err := loadResource(ctx, tx, b.Resource)
		if err != nil {
			return err
		}
		holders, err := tx.FindBookings(ctx, BookingFilter{Resource: &res.ID, Statuses: []BookingStatus{BookingApproved}})
		if err != nil {
			return fmt.Errorf("find holders: %w", err)
		}
		if res.IsBooked || len(holders) > 0 {
			return newError(ErrConflict, "%s %s is already booked.", res.Kind, res.Label)
		}

		now := fx.now
		b.Status = BookingApproved
		b.ApprovedBy = &actor.ID
		b.ApprovedAt = &now
		b.UpdatedAt = now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}
		res.IsBooked = true
		if err := tx.SaveResource(ctx, res); err != nil {
			return fmt.Errorf("occupy resource: %w", err)
		}
		fx.Notify(b.Student, TemplateBookingApproved, bookingParams(b, res, ""))
		fx.Publish(EventBookingApproved, b.Kind, occupancyPayload(res, b))

		competitors, err := tx.FindBookings(ctx, BookingFilter{Resource: &res.ID, Statuses: []BookingStatus{BookingPending}})
		if err != nil {
			return fmt.Errorf("find competing bookings: %w", err)
		}
		for i := range competitors {
			c := &competitors[i]
			if c.ID == b.ID {
				continue
			}
			c.Status = BookingRejected
			fx.Notify(c.Student, TemplateBookingRejected, bookingParams(c, res, "The "+res.Kind+" was allotted to another student."))
			if err := tx.DeleteBooking(ctx, c.ID); err != nil {
				return fmt.Errorf("discard competing booking %d: %w", c.ID, err)
			}
			fx.Publish(EventBookingRejected, c.Kind, occupancyPayload(res, c))
		}
		approved = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// Reject closes a pending booking. The resource was never occupied by it.
func (s *BookingService) Reject(ctx context.Context, actor Actor, id BookingID, remarks string) (*Booking, error) {
	if err := Authorize(actor, CapDecideBooking); err != nil {
		return nil, err
	}
	if remarks == "" {
		remarks = "Rejected by admin."
	}

	var rejected *Booking
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		b, err := loadBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status != BookingPending {
			return newError(ErrInvalidState, "Booking already processed.")
		}
		res, err := loadResource(ctx, tx, b.Resource)
		if err != nil {
			return err
		}
		now := fx.now
		b.Status = BookingRejected
		b.Remarks = remarks
		b.ApprovedBy = &actor.ID
		b.ApprovedAt = &now
		b.UpdatedAt = now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}
		fx.Notify(b.Student, TemplateBookingRejected, bookingParams(b, res, remarks))
		fx.Publish(EventBookingRejected, b.Kind, occupancyPayload(res, b))
		rejected = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// Cancel ends a pending or approved booking and frees its resource.
func (s *BookingService) Cancel(ctx context.Context, actor Actor, id BookingID) (*Booking, error) {
	if err := Authorize(actor, CapCancelBooking); err != nil {
		return nil, err
	}

	var cancelled *Booking
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		b, err := loadBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := AuthorizeOwner(actor, CapCancelBooking, b.Student); err != nil {
			return err
		}
		if !b.Status.Active() {
			return newError(ErrInvalidState, "Only pending or approved bookings can be cancelled, current status: %s", b.Status)
		}

		wasApproved := b.Status == BookingApproved
		today := DateOf(fx.now)
		b.Status = BookingCancelled
		b.EndDate = &today
		b.UpdatedAt = fx.now
		if actor.IsAdmin() {
			b.Remarks = "Cancelled by Admin"
		} else {
			b.Remarks = "Cancelled by Student"
		}
		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}

		var res *Resource
		if wasApproved {
			res, err = releaseResource(ctx, tx, b.Resource, b.ID)
		} else {
			res, err = loadResource(ctx, tx, b.Resource)
		}
		if err != nil {
			return err
		}
		if err := withdrawSwitchRequests(ctx, tx, b, actor, "Booking cancelled", fx.now); err != nil {
			return err
		}
		fx.Notify(b.Student, TemplateBookingCancelled, bookingParams(b, res, b.Remarks))
		fx.Publish(EventBookingCancelled, b.Kind, occupancyPayload(res, b))
		cancelled = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// ScheduleMoveOut sets the end date of an approved booking. The expiry sweep
// expires it on the first day after.
func (s *BookingService) ScheduleMoveOut(ctx context.Context, actor Actor, id BookingID, end Date) (*Booking, error) {
	if err := Authorize(actor, CapScheduleMoveOut); err != nil {
		return nil, err
	}

	var updated *Booking
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		b, err := loadBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Status != BookingApproved {
			return newError(ErrNotApproved, "Only approved bookings can be given a move-out date, current status: %s", b.Status)
		}
		if end.Before(b.StartDate) {
			return newError(ErrValidation, "end date %s is before start date %s", end, b.StartDate)
		}
		b.EndDate = &end
		b.UpdatedAt = fx.now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("save booking: %w", err)
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

// ExpireSweep expires approved bookings whose end date is before today and
// frees their resources. Each booking commits on its own; a failure is
// logged and the sweep moves on. Returns the number expired.
func (s *BookingService) ExpireSweep(ctx context.Context, actor Actor, today Date) (int, error) {
	if err := Authorize(actor, CapRunSweeps); err != nil {
		return 0, err
	}
	due, err := s.Store.FindBookings(ctx, BookingFilter{Statuses: []BookingStatus{BookingApproved}, EndBefore: &today})
	if err != nil {
		return 0, fmt.Errorf("find expiring bookings: %w", err)
	}

	count := 0
	for _, candidate := range due {
		expired := false
		err := s.commit(ctx, func(tx Store, fx *Effects) error {
			b, err := loadBooking(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if b.Status != BookingApproved || b.EndDate == nil || !b.EndDate.Before(today) {
				return nil
			}
			b.Status = BookingExpired
			b.UpdatedAt = fx.now
			if err := tx.SaveBooking(ctx, b); err != nil {
				return fmt.Errorf("save booking: %w", err)
			}
			res, err := releaseResource(ctx, tx, b.Resource, b.ID)
			if err != nil {
				return err
			}
			if err := withdrawSwitchRequests(ctx, tx, b, actor, "Booking expired", fx.now); err != nil {
				return err
			}
			fx.Notify(b.Student, TemplateBookingExpired, bookingParams(b, res, ""))
			fx.Publish(EventBookingExpired, b.Kind, occupancyPayload(res, b))
			expired = true
			return nil
		})
		if err != nil {
			s.log().Warn("expire booking failed", zap.Int64("booking_id", int64(candidate.ID)), zap.Error(err))
			continue
		}
		if expired {
			count++
		}
	}
	s.log().Info("booking expiry sweep finished", zap.String("today", today.String()), zap.Int("expired", count))
	return count, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one booking to its owner or an admin.
func (s *BookingService) Get(ctx context.Context, actor Actor, id BookingID) (*Booking, error) {
	b, err := loadBooking(ctx, s.Store, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(actor, b.Student); err != nil {
		return nil, err
	}
	return b, nil
}

// List returns bookings; students only see their own.
func (s *BookingService) List(ctx context.Context, actor Actor, f BookingFilter) ([]Booking, error) {
	student, err := scopeToActor(actor, f.Student)
	if err != nil {
		return nil, err
	}
	f.Student = student
	return s.Store.FindBookings(ctx, f)
}

// PendingForResource lists the contenders for one resource.
func (s *BookingService) PendingForResource(ctx context.Context, actor Actor, id ResourceID) ([]Booking, error) {
	if err := Authorize(actor, CapDecideBooking); err != nil {
		return nil, err
	}
	if _, err := loadResource(ctx, s.Store, id); err != nil {
		return nil, err
	}
	return s.Store.FindBookings(ctx, BookingFilter{Resource: &id, Statuses: []BookingStatus{BookingPending}})
}

// Summary reports whether the student holds an active booking of the kind
// and whether they ever held one before.
func (s *BookingService) Summary(ctx context.Context, actor Actor, student UserID, kind string) (*BookingSummary, error) {
	if err := authorizeView(actor, student); err != nil {
		return nil, err
	}
	if _, err := LookupKind(kind); err != nil {
		return nil, err
	}
	all, err := s.Store.FindBookings(ctx, BookingFilter{Kind: kind, Student: &student})
	if err != nil {
		return nil, fmt.Errorf("find bookings: %w", err)
	}
	sum := &BookingSummary{Student: student, Kind: kind}
	for i := range all {
		if all[i].Status.Active() {
			sum.Active = true
			sum.Current = &all[i]
		} else {
			sum.HasPrevious = true
		}
	}
	return sum, nil
}

// TotalDue is the running amount owed on a booking as of a date.
func (s *BookingService) TotalDue(ctx context.Context, actor Actor, id BookingID, asOf Date) (decimal.Decimal, error) {
	b, err := s.Get(ctx, actor, id)
	if err != nil {
		return decimal.Zero, err
	}
	return b.TotalDue(asOf), nil
}

func bookingParams(b *Booking, res *Resource, remarks string) map[string]string {
	p := map[string]string{
		"booking_id": fmt.Sprintf("%d", b.ID),
		"kind":       b.Kind,
		"resource":   res.Label,
		"status":     string(b.Status),
		"start_date": b.StartDate.String(),
	}
	if remarks != "" {
		p["remarks"] = remarks
	}
	return p
}
