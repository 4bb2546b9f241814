/*
switch.go - Available and mutual switch protocols

PURPOSE:
  Moves approved bookings between resources without changing booking identity.

  Available switch: one booking moves to a resource that is free.
  Mutual switch:    two approved bookings swap resources. A request either
                    names the partner booking or stays open (no partner)
                    until an admin matches it with another request.

STATE MACHINE (both protocols):
  pending ──▶ approved | rejected | cancelled   (all terminal)

EXCLUSIVITY:
  A student holds at most one pending request per kind, counting both
  protocols together.

CHECKS AT TWO TIMES:
  Creation-time checks (target free, booking approved) are advisory.
  Approval re-checks them inside the transaction and fails with a
  StaleError when a race invalidated them in between.

MUTUAL SWAP:
  Both bookings change resource in one transaction. No is_booked flag
  changes: both resources stay occupied, by the other booking.

HISTORY:
  Every terminal transition appends one history row. A matched mutual
  swap appends one joint row covering both sides.

SEE ALSO:
  - booking.go: withdrawSwitchRequests on cancel and expiry
  - types.go: request and history types
*/
package generic

import (
	"context"
	"fmt"
	"time"
)

// SwitchService orchestrates both switch protocols.
type SwitchService struct {
	*Runtime
}

func NewSwitchService(rt *Runtime) *SwitchService {
	return &SwitchService{Runtime: rt}
}

// =============================================================================
// CREATION CHECKS
// =============================================================================

func approvedBooking(ctx context.Context, tx Store, student UserID, kind string) (*Booking, error) {
	held, err := tx.FindBookings(ctx, BookingFilter{Kind: kind, Student: &student, Statuses: []BookingStatus{BookingApproved}})
	if err != nil {
		return nil, fmt.Errorf("find approved booking: %w", err)
	}
	if len(held) == 0 {
		return nil, newError(ErrNotApproved, "You do not have an approved %s booking.", kind)
	}
	return &held[0], nil
}

func ensureNoPendingSwitch(ctx context.Context, tx Store, student UserID, kind string) error {
	f := SwitchFilter{Kind: kind, Student: &student, Statuses: []RequestStatus{RequestPending}}
	available, err := tx.FindAvailableSwitches(ctx, f)
	if err != nil {
		return fmt.Errorf("find pending switch requests: %w", err)
	}
	mutual, err := tx.FindMutualSwitches(ctx, f)
	if err != nil {
		return fmt.Errorf("find pending mutual requests: %w", err)
	}
	if len(available)+len(mutual) > 0 {
		return newError(ErrConflict, "You already have a pending switch request.")
	}
	return nil
}

// =============================================================================
// AVAILABLE SWITCH
// =============================================================================

// RequestAvailable asks to move the student's approved booking to a free resource.
func (s *SwitchService) RequestAvailable(ctx context.Context, actor Actor, target ResourceID, remarks string) (*AvailableSwitchRequest, error) {
	if err := Authorize(actor, CapRequestSwitch); err != nil {
		return nil, err
	}

	var created *AvailableSwitchRequest
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		tgt, err := loadResource(ctx, tx, target)
		if err != nil {
			return err
		}
		kind, err := LookupKind(tgt.Kind)
		if err != nil {
			return err
		}
		b, err := approvedBooking(ctx, tx, actor.ID, tgt.Kind)
		if err != nil {
			return err
		}
		if err := ensureNoPendingSwitch(ctx, tx, actor.ID, tgt.Kind); err != nil {
			return err
		}
		if tgt.ID == b.Resource {
			return newError(ErrConflict, "You are already on this %s.", kind.UnitNoun())
		}
		if tgt.IsBooked {
			return newError(ErrConflict, "This %s is already booked.", kind.UnitNoun())
		}
		req := &AvailableSwitchRequest{
			Kind:      tgt.Kind,
			Booking:   b.ID,
			Student:   actor.ID,
			Target:    tgt.ID,
			Status:    RequestPending,
			Remarks:   remarks,
			CreatedAt: fx.now,
		}
		if err := tx.SaveAvailableSwitch(ctx, req); err != nil {
			return fmt.Errorf("save switch request: %w", err)
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ApproveAvailable moves the booking: old resource freed, target occupied.
func (s *SwitchService) ApproveAvailable(ctx context.Context, actor Actor, id RequestID, remarks string) (*AvailableSwitchRequest, error) {
	if err := Authorize(actor, CapDecideSwitch); err != nil {
		return nil, err
	}

	var approved *AvailableSwitchRequest
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		req, err := loadAvailableSwitch(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != RequestPending {
			return newError(ErrInvalidState, "Switch request already processed, current status: %s", req.Status)
		}
		b, err := loadBooking(ctx, tx, req.Booking)
		if err != nil {
			return err
		}
		if b.Status != BookingApproved {
			return &StaleError{Reason: fmt.Sprintf("Booking %d is no longer approved.", b.ID)}
		}
		if b.Resource == req.Target {
			return newError(ErrConflict, "Booking is already on the requested %s.", req.Kind)
		}
		tgt, err := loadResource(ctx, tx, req.Target)
		if err != nil {
			return err
		}
		holders, err := tx.FindBookings(ctx, BookingFilter{Resource: &tgt.ID, Statuses: []BookingStatus{BookingApproved}})
		if err != nil {
			return fmt.Errorf("find holders: %w", err)
		}
		if tgt.IsBooked || len(holders) > 0 {
			return &StaleError{Reason: fmt.Sprintf("Requested %s %s is no longer available.", req.Kind, tgt.Label)}
		}

		from := b.Resource
		old, err := releaseResource(ctx, tx, from, b.ID)
		if err != nil {
			return err
		}
		b.Resource = tgt.ID
		b.UpdatedAt = fx.now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return fmt.Errorf("move booking: %w", err)
		}
		tgt.IsBooked = true
		if err := tx.SaveResource(ctx, tgt); err != nil {
			return fmt.Errorf("occupy target: %w", err)
		}

		now := fx.now
		req.Status = RequestApproved
		req.ApprovedBy = &actor.ID
		req.ApprovedAt = &now
		if remarks != "" {
			req.Remarks = remarks
		}
		if err := tx.SaveAvailableSwitch(ctx, req); err != nil {
			return fmt.Errorf("save switch request: %w", err)
		}
		if err := tx.AppendAvailableHistory(ctx, &AvailableSwitchHistory{
			Kind: req.Kind, Request: req.ID, Booking: b.ID, Student: b.Student,
			From: from, To: tgt.ID, Action: HistoryApproved, Actor: actor.ID,
			Remarks: req.Remarks, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append switch history: %w", err)
		}

		fx.Notify(b.Student, TemplateSwitchApproved, map[string]string{
			"kind": req.Kind, "from": old.Label, "to": tgt.Label, "remarks": req.Remarks,
		})
		fx.Publish(EventSwitchApproved, req.Kind, map[string]any{
			"booking_id": int64(b.ID),
			"student_id": int64(b.Student),
			"resources":  []map[string]any{occupancyPayload(old, nil), occupancyPayload(tgt, b)},
		})
		approved = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// RejectAvailable closes a pending available switch without moving anything.
func (s *SwitchService) RejectAvailable(ctx context.Context, actor Actor, id RequestID, remarks string) (*AvailableSwitchRequest, error) {
	if err := Authorize(actor, CapDecideSwitch); err != nil {
		return nil, err
	}
	if remarks == "" {
		remarks = "Rejected by admin"
	}
	return s.closeAvailable(ctx, actor, id, RequestRejected, remarks)
}

// CancelAvailable withdraws a pending available switch; owner or admin.
func (s *SwitchService) CancelAvailable(ctx context.Context, actor Actor, id RequestID, remarks string) (*AvailableSwitchRequest, error) {
	if err := Authorize(actor, CapCancelSwitch); err != nil {
		return nil, err
	}
	if remarks == "" {
		remarks = cancelRemarks(actor)
	}
	return s.closeAvailable(ctx, actor, id, RequestCancelled, remarks)
}

func (s *SwitchService) closeAvailable(ctx context.Context, actor Actor, id RequestID, status RequestStatus, remarks string) (*AvailableSwitchRequest, error) {
	var closed *AvailableSwitchRequest
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		req, err := loadAvailableSwitch(ctx, tx, id)
		if err != nil {
			return err
		}
		if status == RequestCancelled {
			if err := AuthorizeOwner(actor, CapCancelSwitch, req.Student); err != nil {
				return err
			}
		}
		if req.Status != RequestPending {
			return newError(ErrInvalidState, "Only pending requests can be %s, current status: %s", status, req.Status)
		}
		b, err := loadBooking(ctx, tx, req.Booking)
		if err != nil {
			return err
		}
		tgt, err := loadResource(ctx, tx, req.Target)
		if err != nil {
			return err
		}

		now := fx.now
		req.Status = status
		req.Remarks = remarks
		if status == RequestRejected {
			req.ApprovedBy = &actor.ID
			req.ApprovedAt = &now
		}
		if err := tx.SaveAvailableSwitch(ctx, req); err != nil {
			return fmt.Errorf("save switch request: %w", err)
		}
		if err := tx.AppendAvailableHistory(ctx, &AvailableSwitchHistory{
			Kind: req.Kind, Request: req.ID, Booking: b.ID, Student: req.Student,
			From: b.Resource, To: req.Target, Action: historyAction(status), Actor: actor.ID,
			Remarks: remarks, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append switch history: %w", err)
		}

		if actor.ID != req.Student {
			template := TemplateSwitchRejected
			if status == RequestCancelled {
				template = TemplateSwitchCancelled
			}
			fx.Notify(req.Student, template, map[string]string{"kind": req.Kind, "to": tgt.Label, "remarks": remarks})
		}
		closed = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// =============================================================================
// MUTUAL SWITCH
// =============================================================================

// RequestMutual asks to swap with a partner booking, or opens an unmatched
// request when partner is nil or resolves to the requester's own booking.
func (s *SwitchService) RequestMutual(ctx context.Context, actor Actor, kind string, partner *BookingID, remarks string) (*MutualSwitchRequest, error) {
	if err := Authorize(actor, CapRequestSwitch); err != nil {
		return nil, err
	}
	if _, err := LookupKind(kind); err != nil {
		return nil, err
	}

	var created *MutualSwitchRequest
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		b, err := approvedBooking(ctx, tx, actor.ID, kind)
		if err != nil {
			return err
		}
		if err := ensureNoPendingSwitch(ctx, tx, actor.ID, kind); err != nil {
			return err
		}

		var partnerID *BookingID
		if partner != nil {
			p, err := tx.GetBooking(ctx, *partner)
			if err != nil {
				return fmt.Errorf("get partner booking: %w", err)
			}
			if p == nil || p.Status != BookingApproved || p.Kind != kind {
				return newError(ErrNotApproved, "Partner booking not found or not approved.")
			}
			if p.Student != actor.ID {
				partnerID = &p.ID
			}
		}

		req := &MutualSwitchRequest{
			Kind:      kind,
			Booking:   b.ID,
			Student:   actor.ID,
			Partner:   partnerID,
			Status:    RequestPending,
			Remarks:   remarks,
			CreatedAt: fx.now,
		}
		if err := tx.SaveMutualSwitch(ctx, req); err != nil {
			return fmt.Errorf("save mutual request: %w", err)
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// MatchAndApproveMutual swaps the resources of the two requests' bookings
// in one transaction and approves both requests.
func (s *SwitchService) MatchAndApproveMutual(ctx context.Context, actor Actor, aID, bID RequestID, remarks string) ([]MutualSwitchRequest, error) {
	if err := Authorize(actor, CapDecideSwitch); err != nil {
		return nil, err
	}
	if aID == bID {
		return nil, newError(ErrConflict, "Requests must be from two different bookings.")
	}

	var matched []MutualSwitchRequest
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		ra, err := loadMutualSwitch(ctx, tx, aID)
		if err != nil {
			return err
		}
		rb, err := loadMutualSwitch(ctx, tx, bID)
		if err != nil {
			return err
		}
		if ra.Status != RequestPending || rb.Status != RequestPending {
			return newError(ErrInvalidState, "Both requests must be pending.")
		}
		if ra.Booking == rb.Booking {
			return newError(ErrConflict, "Requests must be from two different bookings.")
		}
		if ra.Kind != rb.Kind {
			return newError(ErrConflict, "Requests must be for the same resource kind.")
		}
		if (ra.Partner != nil && *ra.Partner != rb.Booking) || (rb.Partner != nil && *rb.Partner != ra.Booking) {
			return newError(ErrConflict, "A request names a different partner booking.")
		}

		ba, err := loadBooking(ctx, tx, ra.Booking)
		if err != nil {
			return err
		}
		bb, err := loadBooking(ctx, tx, rb.Booking)
		if err != nil {
			return err
		}
		if ba.Status != BookingApproved || bb.Status != BookingApproved {
			return newError(ErrConflict, "Both bookings must be approved.")
		}
		resA, err := tx.GetResource(ctx, ba.Resource)
		if err != nil {
			return fmt.Errorf("get resource: %w", err)
		}
		resB, err := tx.GetResource(ctx, bb.Resource)
		if err != nil {
			return fmt.Errorf("get resource: %w", err)
		}
		if resA == nil || resB == nil {
			noun := ra.Kind
			if k, err := LookupKind(ra.Kind); err == nil {
				noun = k.UnitNoun()
			}
			return newError(ErrConflict, "Both bookings must have valid %ss.", noun)
		}

		fromA, fromB := ba.Resource, bb.Resource
		if fromA != fromB {
			ba.Resource, bb.Resource = fromB, fromA
			ba.UpdatedAt, bb.UpdatedAt = fx.now, fx.now
			if err := tx.SaveBooking(ctx, ba); err != nil {
				return fmt.Errorf("swap booking %d: %w", ba.ID, err)
			}
			if err := tx.SaveBooking(ctx, bb); err != nil {
				return fmt.Errorf("swap booking %d: %w", bb.ID, err)
			}
		}

		now := fx.now
		for _, r := range []*MutualSwitchRequest{ra, rb} {
			r.Status = RequestApproved
			r.ApprovedBy = &actor.ID
			r.ApprovedAt = &now
			if remarks != "" {
				r.Remarks = remarks
			}
			if err := tx.SaveMutualSwitch(ctx, r); err != nil {
				return fmt.Errorf("save mutual request %d: %w", r.ID, err)
			}
		}

		jointRemarks := remarks
		if jointRemarks == "" {
			jointRemarks = ra.Remarks
		}
		if err := tx.AppendMutualHistory(ctx, &MutualSwitchHistory{
			Kind: ra.Kind, RequestA: ra.ID, RequestB: &rb.ID,
			BookingA: ba.ID, BookingB: &bb.ID, StudentA: ba.Student, StudentB: &bb.Student,
			FromA: fromA, ToA: ba.Resource, FromB: &fromB, ToB: &bb.Resource,
			Action: HistoryApproved, Actor: actor.ID, Remarks: jointRemarks, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append mutual history: %w", err)
		}

		fx.Notify(ba.Student, TemplateMutualSwitchApproved, map[string]string{"kind": ra.Kind, "from": resA.Label, "to": resB.Label})
		fx.Notify(bb.Student, TemplateMutualSwitchApproved, map[string]string{"kind": ra.Kind, "from": resB.Label, "to": resA.Label})
		fx.Publish(EventMutualSwitchApproved, ra.Kind, map[string]any{
			"booking_ids": []int64{int64(ba.ID), int64(bb.ID)},
			"resources":   []map[string]any{occupancyPayload(resA, bb), occupancyPayload(resB, ba)},
		})
		matched = []MutualSwitchRequest{*ra, *rb}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// RejectMutual closes a pending mutual request without swapping.
func (s *SwitchService) RejectMutual(ctx context.Context, actor Actor, id RequestID, remarks string) (*MutualSwitchRequest, error) {
	if err := Authorize(actor, CapDecideSwitch); err != nil {
		return nil, err
	}
	if remarks == "" {
		remarks = "Rejected by admin"
	}
	return s.closeMutual(ctx, actor, id, RequestRejected, remarks)
}

// CancelMutual withdraws a pending mutual request; owner or admin.
func (s *SwitchService) CancelMutual(ctx context.Context, actor Actor, id RequestID, remarks string) (*MutualSwitchRequest, error) {
	if err := Authorize(actor, CapCancelSwitch); err != nil {
		return nil, err
	}
	if remarks == "" {
		remarks = cancelRemarks(actor)
	}
	return s.closeMutual(ctx, actor, id, RequestCancelled, remarks)
}

func (s *SwitchService) closeMutual(ctx context.Context, actor Actor, id RequestID, status RequestStatus, remarks string) (*MutualSwitchRequest, error) {
	var closed *MutualSwitchRequest
	err := s.commit(ctx, func(tx Store, fx *Effects) error {
		req, err := loadMutualSwitch(ctx, tx, id)
		if err != nil {
			return err
		}
		if status == RequestCancelled {
			if err := AuthorizeOwner(actor, CapCancelSwitch, req.Student); err != nil {
				return err
			}
		}
		if req.Status != RequestPending {
			return newError(ErrInvalidState, "Only pending requests can be %s, current status: %s", status, req.Status)
		}
		b, err := loadBooking(ctx, tx, req.Booking)
		if err != nil {
			return err
		}

		now := fx.now
		req.Status = status
		req.Remarks = remarks
		if status == RequestRejected {
			req.ApprovedBy = &actor.ID
			req.ApprovedAt = &now
		}
		if err := tx.SaveMutualSwitch(ctx, req); err != nil {
			return fmt.Errorf("save mutual request: %w", err)
		}
		h := unchangedMutualHistory(ctx, tx, req, b)
		h.Action = historyAction(status)
		h.Actor = actor.ID
		h.Remarks = remarks
		h.CreatedAt = now
		if err := tx.AppendMutualHistory(ctx, h); err != nil {
			return fmt.Errorf("append mutual history: %w", err)
		}
		if status == RequestRejected {
			fx.Notify(req.Student, TemplateMutualSwitchRejected, map[string]string{"kind": req.Kind, "remarks": remarks})
		}
		closed = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// unchangedMutualHistory records both sides staying where they are. The
// partner side is left empty when the request was open or the partner
// booking is gone.
func unchangedMutualHistory(ctx context.Context, tx Store, req *MutualSwitchRequest, b *Booking) *MutualSwitchHistory {
	h := &MutualSwitchHistory{
		Kind: req.Kind, RequestA: req.ID, BookingA: b.ID, StudentA: b.Student,
		FromA: b.Resource, ToA: b.Resource,
	}
	if req.Partner != nil {
		if p, err := tx.GetBooking(ctx, *req.Partner); err == nil && p != nil {
			h.BookingB = &p.ID
			h.StudentB = &p.Student
			h.FromB = &p.Resource
			h.ToB = &p.Resource
		}
	}
	return h
}

// withdrawSwitchRequests cancels the pending requests of a booking that is
// leaving its resource for good.
func withdrawSwitchRequests(ctx context.Context, tx Store, b *Booking, actor Actor, remarks string, now time.Time) error {
	f := SwitchFilter{Kind: b.Kind, Student: &b.Student, Statuses: []RequestStatus{RequestPending}}
	available, err := tx.FindAvailableSwitches(ctx, f)
	if err != nil {
		return fmt.Errorf("find pending switch requests: %w", err)
	}
	for i := range available {
		req := &available[i]
		if req.Booking != b.ID {
			continue
		}
		req.Status = RequestCancelled
		req.Remarks = remarks
		if err := tx.SaveAvailableSwitch(ctx, req); err != nil {
			return fmt.Errorf("withdraw switch request %d: %w", req.ID, err)
		}
		if err := tx.AppendAvailableHistory(ctx, &AvailableSwitchHistory{
			Kind: req.Kind, Request: req.ID, Booking: b.ID, Student: b.Student,
			From: b.Resource, To: req.Target, Action: HistoryCancelled, Actor: actor.ID,
			Remarks: remarks, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append switch history: %w", err)
		}
	}

	mutual, err := tx.FindMutualSwitches(ctx, f)
	if err != nil {
		return fmt.Errorf("find pending mutual requests: %w", err)
	}
	for i := range mutual {
		req := &mutual[i]
		if req.Booking != b.ID {
			continue
		}
		req.Status = RequestCancelled
		req.Remarks = remarks
		if err := tx.SaveMutualSwitch(ctx, req); err != nil {
			return fmt.Errorf("withdraw mutual request %d: %w", req.ID, err)
		}
		h := unchangedMutualHistory(ctx, tx, req, b)
		h.Action = HistoryCancelled
		h.Actor = actor.ID
		h.Remarks = remarks
		h.CreatedAt = now
		if err := tx.AppendMutualHistory(ctx, h); err != nil {
			return fmt.Errorf("append mutual history: %w", err)
		}
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListAvailable returns available switch requests; students see their own.
func (s *SwitchService) ListAvailable(ctx context.Context, actor Actor, f SwitchFilter) ([]AvailableSwitchRequest, error) {
	student, err := scopeToActor(actor, f.Student)
	if err != nil {
		return nil, err
	}
	f.Student = student
	return s.Store.FindAvailableSwitches(ctx, f)
}

// ListMutual returns mutual switch requests; students see their own.
func (s *SwitchService) ListMutual(ctx context.Context, actor Actor, f SwitchFilter) ([]MutualSwitchRequest, error) {
	student, err := scopeToActor(actor, f.Student)
	if err != nil {
		return nil, err
	}
	f.Student = student
	return s.Store.FindMutualSwitches(ctx, f)
}

// AvailableHistory returns the available switch audit trail.
func (s *SwitchService) AvailableHistory(ctx context.Context, actor Actor, f HistoryFilter) ([]AvailableSwitchHistory, error) {
	student, err := scopeToActor(actor, f.Student)
	if err != nil {
		return nil, err
	}
	f.Student = student
	return s.Store.ListAvailableHistory(ctx, f)
}

// MutualHistory returns the mutual switch audit trail.
func (s *SwitchService) MutualHistory(ctx context.Context, actor Actor, f HistoryFilter) ([]MutualSwitchHistory, error) {
	student, err := scopeToActor(actor, f.Student)
	if err != nil {
		return nil, err
	}
	f.Student = student
	return s.Store.ListMutualHistory(ctx, f)
}

func cancelRemarks(actor Actor) string {
	if actor.IsAdmin() {
		return "Cancelled by admin"
	}
	return "Cancelled by student"
}

func historyAction(status RequestStatus) HistoryAction {
	switch status {
	case RequestApproved:
		return HistoryApproved
	case RequestRejected:
		return HistoryRejected
	default:
		return HistoryCancelled
	}
}
