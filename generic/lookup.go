package generic

import (
	"context"
	"fmt"
)

// =============================================================================
// LOOKUPS - Store reads that must find a row
// =============================================================================

func loadBooking(ctx context.Context, s Store, id BookingID) (*Booking, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	if b == nil {
		return nil, newError(ErrNotFound, "booking %d not found", id)
	}
	return b, nil
}

func loadResource(ctx context.Context, s Store, id ResourceID) (*Resource, error) {
	r, err := s.GetResource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get resource %d: %w", id, err)
	}
	if r == nil {
		return nil, newError(ErrNotFound, "resource %d not found", id)
	}
	return r, nil
}

func loadInvoice(ctx context.Context, s Store, id InvoiceID) (*Invoice, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice %d: %w", id, err)
	}
	if inv == nil {
		return nil, newError(ErrNotFound, "invoice %d not found", id)
	}
	return inv, nil
}

func loadAvailableSwitch(ctx context.Context, s Store, id RequestID) (*AvailableSwitchRequest, error) {
	r, err := s.GetAvailableSwitch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get switch request %d: %w", id, err)
	}
	if r == nil {
		return nil, newError(ErrNotFound, "switch request %d not found", id)
	}
	return r, nil
}

func loadMutualSwitch(ctx context.Context, s Store, id RequestID) (*MutualSwitchRequest, error) {
	r, err := s.GetMutualSwitch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get mutual switch request %d: %w", id, err)
	}
	if r == nil {
		return nil, newError(ErrNotFound, "mutual switch request %d not found", id)
	}
	return r, nil
}

// authorizeView lets admins and the system read anything, students their own.
func authorizeView(actor Actor, owner UserID) error {
	if Authorize(actor, CapViewAll) == nil {
		return nil
	}
	if actor.Role == RoleStudent && actor.ID == owner {
		return nil
	}
	return newError(ErrForbidden, "not allowed to view records of user %d", owner)
}

// scopeToActor narrows a student's query to their own records.
func scopeToActor(actor Actor, student *UserID) (*UserID, error) {
	if Authorize(actor, CapViewAll) == nil {
		return student, nil
	}
	if actor.Role != RoleStudent {
		return nil, newError(ErrForbidden, "%s may not list records", roleName(actor.Role))
	}
	if student != nil && *student != actor.ID {
		return nil, newError(ErrForbidden, "students may only list their own records")
	}
	id := actor.ID
	return &id, nil
}

// =============================================================================
// OCCUPANCY
// =============================================================================

// releaseResource frees a resource unless another approved booking still claims it.
func releaseResource(ctx context.Context, tx Store, id ResourceID, leaving BookingID) (*Resource, error) {
	res, err := loadResource(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	holders, err := tx.FindBookings(ctx, BookingFilter{Resource: &id, Statuses: []BookingStatus{BookingApproved}})
	if err != nil {
		return nil, fmt.Errorf("find holders of resource %d: %w", id, err)
	}
	for _, h := range holders {
		if h.ID != leaving {
			return res, nil
		}
	}
	if res.IsBooked {
		res.IsBooked = false
		if err := tx.SaveResource(ctx, res); err != nil {
			return nil, fmt.Errorf("free resource %d: %w", id, err)
		}
	}
	return res, nil
}

func occupancyPayload(res *Resource, b *Booking) map[string]any {
	p := map[string]any{
		"resource_id": int64(res.ID),
		"label":       res.Label,
		"is_booked":   res.IsBooked,
	}
	if res.Group != nil {
		p["group_id"] = int64(*res.Group)
	}
	if b != nil {
		p["booking_id"] = int64(b.ID)
		p["student_id"] = int64(b.Student)
		p["status"] = string(b.Status)
	}
	return p
}
