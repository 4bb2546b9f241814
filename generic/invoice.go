/*
invoice.go - Monthly invoice engine

PURPOSE:
  Generates one invoice per booking per calendar month and tracks payment.

FIRST INVOICE:
  Billed for the current month. The fee is the tier matching the day of
  month the booking started on; the deposit is the configured deposit,
  waived by the cross-subsidy rule of the kind.

LATER INVOICES:
  Fee is the configured monthly fee, no deposit. The next invoice opens in
  the last three days of the latest invoice's cycle and covers the month
  after it. Earlier requests fail with TooEarlyError.

CHECK ORDER:
  NotApproved, DuplicateInvoice (target month), TooEarly.

NUMBERING:
  INV-{PREFIX}-{YYYYMM}-{booking:03d}, e.g. INV-HO-202503-007.

PAYMENT WINDOW:
  The unpaid sweep flags an invoice expired once today is more than 30 days
  past its month start, and reverts a paid flag so the next cycle is charged.

SEE ALSO:
  - period.go: BillingCycle
  - fee.go: FeeSchedule
*/
package generic

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// InvoiceService orchestrates invoice generation and payment state.
type InvoiceService struct {
	*Runtime
	Fees FeeSchedule
}

func NewInvoiceService(rt *Runtime, fees FeeSchedule) *InvoiceService {
	return &InvoiceService{Runtime: rt, Fees: fees}
}

// InvoiceNumber derives the invoice id for a booking and month.
func InvoiceNumber(kind ResourceKind, month Date, booking BookingID) string {
	return fmt.Sprintf("INV-%s-%s-%03d", kind.InvoicePrefix(), month.Format("200601"), booking)
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate bills the next month of an approved booking.
func (s *InvoiceService) Generate(ctx context.Context, actor Actor, id BookingID, today Date) (*Invoice, error) {
	if err := Authorize(actor, CapGenerateInvoice); err != nil {
		return nil, err
	}
	peek, err := loadBooking(ctx, s.Store, id)
	if err != nil {
		return nil, err
	}
	if err := AuthorizeOwner(actor, CapGenerateInvoice, peek.Student); err != nil {
		return nil, err
	}
	kind, err := LookupKind(peek.Kind)
	if err != nil {
		return nil, err
	}
	fees, err := s.Fees.EffectiveFee(ctx, peek.Kind, today)
	if err != nil {
		return nil, err
	}

	var created *Invoice
	err = s.commit(ctx, func(tx Store, fx *Effects) error {
		b, err := loadBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		inv, err := planInvoice(ctx, tx, kind, b, fees, today, false)
		if err != nil {
			return err
		}
		if err := tx.SaveInvoice(ctx, inv); err != nil {
			return fmt.Errorf("save invoice: %w", err)
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// BulkGenerate bills the current month for every approved booking of the
// kind ("" for all kinds), skipping bookings already billed for it.
// Returns the number of invoices created.
func (s *InvoiceService) BulkGenerate(ctx context.Context, actor Actor, kind string, today Date) (int, error) {
	if err := Authorize(actor, CapBulkInvoice); err != nil {
		return 0, err
	}
	if kind != "" {
		if _, err := LookupKind(kind); err != nil {
			return 0, err
		}
	}
	bookings, err := s.Store.FindBookings(ctx, BookingFilter{Kind: kind, Statuses: []BookingStatus{BookingApproved}})
	if err != nil {
		return 0, fmt.Errorf("find approved bookings: %w", err)
	}

	fees := make(map[string]FeeVersion)
	count := 0
	for _, candidate := range bookings {
		k, err := LookupKind(candidate.Kind)
		if err != nil {
			s.log().Warn("bulk invoice skipped booking", zap.Int64("booking_id", int64(candidate.ID)), zap.Error(err))
			continue
		}
		fv, ok := fees[candidate.Kind]
		if !ok {
			if fv, err = s.Fees.EffectiveFee(ctx, candidate.Kind, today); err != nil {
				return count, err
			}
			fees[candidate.Kind] = fv
		}

		created := false
		err = s.commit(ctx, func(tx Store, fx *Effects) error {
			b, err := loadBooking(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			inv, err := planInvoice(ctx, tx, k, b, fv, today, true)
			if errors.Is(err, ErrDuplicateInvoice) || errors.Is(err, ErrNotApproved) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := tx.SaveInvoice(ctx, inv); err != nil {
				return fmt.Errorf("save invoice: %w", err)
			}
			created = true
			return nil
		})
		if err != nil {
			s.log().Warn("bulk invoice failed", zap.Int64("booking_id", int64(candidate.ID)), zap.Error(err))
			continue
		}
		if created {
			count++
		}
	}
	s.log().Info("bulk invoice generation finished", zap.String("month", StartOfMonth(today).Format("2006-01")), zap.Int("generated", count))
	return count, nil
}

// planInvoice applies the generation rules and returns the unsaved invoice.
// Bulk runs always bill the current month and skip the early check.
func planInvoice(ctx context.Context, tx Store, kind ResourceKind, b *Booking, fees FeeVersion, today Date, bulk bool) (*Invoice, error) {
	if b.Status != BookingApproved {
		return nil, newError(ErrNotApproved, "Booking %d is not approved, current status: %s", b.ID, b.Status)
	}
	existing, err := tx.FindInvoices(ctx, InvoiceFilter{Booking: &b.ID})
	if err != nil {
		return nil, fmt.Errorf("find invoices: %w", err)
	}
	var latest *Invoice
	for i := range existing {
		if latest == nil || existing[i].Month.After(latest.Month) {
			latest = &existing[i]
		}
	}

	target := StartOfMonth(today)
	if latest != nil && !bulk {
		if cycle := CycleOf(latest.Month); cycle.InWindow(today) {
			if next := cycle.Next().Start; next.After(target) {
				target = next
			}
		}
	}
	for _, inv := range existing {
		if inv.Month.Equal(target) {
			return nil, &DuplicateInvoiceError{
				Booking:   b.ID,
				Month:     target,
				Number:    inv.Number,
				NextOpens: CycleOf(target).WindowOpens(),
			}
		}
	}
	if latest != nil && !bulk {
		cycle := CycleOf(latest.Month)
		if !cycle.InWindow(today) {
			return nil, &TooEarlyError{CycleEnd: cycle.End, DaysLeft: cycle.DaysLeft(today)}
		}
	}

	inv := &Invoice{
		Booking:     b.ID,
		Kind:        b.Kind,
		Student:     b.Student,
		Number:      InvoiceNumber(kind, target, b.ID),
		Month:       target,
		GeneratedOn: today,
	}
	if latest == nil {
		deposit, err := depositFor(ctx, tx, kind, b.Student, fees)
		if err != nil {
			return nil, err
		}
		inv.Amount = fees.TierFee(b.StartDate.Day())
		inv.Deposit = deposit
	} else {
		inv.Amount = fees.MonthlyFee
		inv.Deposit = Money(0)
	}
	inv.Total = inv.Amount.Add(inv.Deposit)
	return inv, nil
}

// =============================================================================
// PAYMENT
// =============================================================================

// MarkPaid flags an invoice paid. Paying a paid invoice changes nothing.
func (s *InvoiceService) MarkPaid(ctx context.Context, actor Actor, id InvoiceID) (*Invoice, error) {
	if err := Authorize(actor, CapMarkPaid); err != nil {
		return nil, err
	}
	var paid *Invoice
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		inv, err := loadInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if !inv.IsPaid {
			now := fx.now
			inv.IsPaid = true
			inv.PaidAt = &now
			inv.Expired = false
			if err := tx.SaveInvoice(ctx, inv); err != nil {
				return fmt.Errorf("save invoice: %w", err)
			}
		}
		paid = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// ExpireUnpaidSweep closes the payment window of every invoice whose month
// started more than 30 days before today: a paid flag reverts to unpaid and
// the invoice is marked expired. Returns the number of invoices changed.
func (s *InvoiceService) ExpireUnpaidSweep(ctx context.Context, actor Actor, today Date) (int, error) {
	if err := Authorize(actor, CapRunSweeps); err != nil {
		return 0, err
	}
	all, err := s.Store.FindInvoices(ctx, InvoiceFilter{})
	if err != nil {
		return 0, fmt.Errorf("find invoices: %w", err)
	}

	count := 0
	for _, candidate := range all {
		if !PaymentLapsed(candidate.Month, today) || (!candidate.IsPaid && candidate.Expired) {
			continue
		}
		changed := false
		err := s.commit(ctx, func(tx Store, fx *Effects) error {
			inv, err := loadInvoice(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if !PaymentLapsed(inv.Month, today) {
				return nil
			}
			if inv.IsPaid {
				inv.IsPaid = false
				inv.PaidAt = nil
				changed = true
			}
			if !inv.Expired {
				inv.Expired = true
				changed = true
			}
			if !changed {
				return nil
			}
			return tx.SaveInvoice(ctx, inv)
		})
		if err != nil {
			s.log().Warn("invoice sweep failed", zap.Int64("invoice_id", int64(candidate.ID)), zap.Error(err))
			continue
		}
		if changed {
			count++
		}
	}
	s.log().Info("unpaid invoice sweep finished", zap.String("today", today.String()), zap.Int("changed", count))
	return count, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns one invoice to its student or an admin.
func (s *InvoiceService) Get(ctx context.Context, actor Actor, id InvoiceID) (*Invoice, error) {
	inv, err := loadInvoice(ctx, s.Store, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(actor, inv.Student); err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns invoices; students see their own.
func (s *InvoiceService) List(ctx context.Context, actor Actor, f InvoiceFilter) ([]Invoice, error) {
	student, err := scopeToActor(actor, f.Student)
	if err != nil {
		return nil, err
	}
	f.Student = student
	return s.Store.FindInvoices(ctx, f)
}
