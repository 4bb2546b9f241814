/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in generic/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags and are checked by
  Handler.decode before reaching the engine. Semantic checks (ownership,
  status, occupancy) stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/fees.go: FeeVersionJSON, the fee version body
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateBookingRequest struct {
	ResourceID int64  `json:"resource_id" validate:"required,gt=0"`
	StartDate  string `json:"start_date" validate:"required,datetime=2006-01-02"`
	Purpose    string `json:"purpose" validate:"max=500"`
	IDDocFront string `json:"id_doc_front" validate:"max=512"`
	IDDocBack  string `json:"id_doc_back" validate:"max=512"`
}

// RemarksRequest is the body of reject and cancel actions.
type RemarksRequest struct {
	Remarks string `json:"remarks" validate:"max=500"`
}

type MoveOutRequest struct {
	EndDate string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type AvailableSwitchBody struct {
	TargetResourceID int64  `json:"target_resource_id" validate:"required,gt=0"`
	Remarks          string `json:"remarks" validate:"max=500"`
}

type MutualSwitchBody struct {
	PartnerBookingID *int64 `json:"partner_booking_id" validate:"omitempty,gt=0"`
	Remarks          string `json:"remarks" validate:"max=500"`
}

type MatchMutualRequest struct {
	RequestA int64  `json:"request_a" validate:"required,gt=0"`
	RequestB int64  `json:"request_b" validate:"required,gt=0,nefield=RequestA"`
	Remarks  string `json:"remarks" validate:"max=500"`
}

type CreateGroupRequest struct {
	Label string `json:"label" validate:"required,max=64"`
}

type CreateResourceRequest struct {
	Label   string `json:"label" validate:"required,max=64"`
	GroupID *int64 `json:"group_id" validate:"omitempty,gt=0"`
}

type SaveUserRequest struct {
	Name  string `json:"name" validate:"required,max=128"`
	Role  string `json:"role" validate:"required,oneof=admin student"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,e164"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type UserDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at"`
}

type GroupDTO struct {
	ID    int64  `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

type ResourceDTO struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	GroupID  *int64 `json:"group_id,omitempty"`
	Label    string `json:"label"`
	IsBooked bool   `json:"is_booked"`
}

type BookingDTO struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	StudentID  int64           `json:"student_id"`
	ResourceID int64           `json:"resource_id"`
	StartDate  string          `json:"start_date"`
	EndDate    *string         `json:"end_date,omitempty"`
	Status     string          `json:"status"`
	ApprovedBy *int64          `json:"approved_by,omitempty"`
	ApprovedAt *string         `json:"approved_at,omitempty"`
	MonthlyFee decimal.Decimal `json:"monthly_fee"`
	Deposit    decimal.Decimal `json:"deposit"`
	Purpose    string          `json:"purpose,omitempty"`
	Remarks    string          `json:"remarks,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

type BookingSummaryDTO struct {
	StudentID   int64       `json:"student_id"`
	Kind        string      `json:"kind"`
	Status      string      `json:"status"` // active | inactive
	HasPrevious bool        `json:"has_previous"`
	Current     *BookingDTO `json:"current,omitempty"`
}

type TotalDueDTO struct {
	BookingID int64           `json:"booking_id"`
	AsOf      string          `json:"as_of"`
	TotalDue  decimal.Decimal `json:"total_due"`
}

type InvoiceDTO struct {
	ID          int64           `json:"id"`
	Number      string          `json:"invoice_number"`
	BookingID   int64           `json:"booking_id"`
	Kind        string          `json:"kind"`
	StudentID   int64           `json:"student_id"`
	Month       string          `json:"month"`
	Amount      decimal.Decimal `json:"amount"`
	Deposit     decimal.Decimal `json:"deposit"`
	Total       decimal.Decimal `json:"total"`
	IsPaid      bool            `json:"is_paid"`
	PaidAt      *string         `json:"paid_at,omitempty"`
	Expired     bool            `json:"invoice_expired"`
	GeneratedOn string          `json:"generated_on"`
}

type AvailableSwitchDTO struct {
	ID               int64   `json:"id"`
	Kind             string  `json:"kind"`
	BookingID        int64   `json:"booking_id"`
	StudentID        int64   `json:"student_id"`
	TargetResourceID int64   `json:"target_resource_id"`
	Status           string  `json:"status"`
	Remarks          string  `json:"remarks,omitempty"`
	ApprovedBy       *int64  `json:"approved_by,omitempty"`
	ApprovedAt       *string `json:"approved_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type MutualSwitchDTO struct {
	ID               int64   `json:"id"`
	Kind             string  `json:"kind"`
	BookingID        int64   `json:"booking_id"`
	StudentID        int64   `json:"student_id"`
	PartnerBookingID *int64  `json:"partner_booking_id,omitempty"`
	Status           string  `json:"status"`
	Remarks          string  `json:"remarks,omitempty"`
	ApprovedBy       *int64  `json:"approved_by,omitempty"`
	ApprovedAt       *string `json:"approved_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type AvailableHistoryDTO struct {
	RequestID    int64  `json:"request_id"`
	BookingID    int64  `json:"booking_id"`
	StudentID    int64  `json:"student_id"`
	FromResource int64  `json:"from_resource_id"`
	ToResource   int64  `json:"to_resource_id"`
	Action       string `json:"action"`
	ActorID      int64  `json:"actor_id"`
	Remarks      string `json:"remarks,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type MutualHistoryDTO struct {
	RequestA  int64  `json:"request_a"`
	RequestB  *int64 `json:"request_b,omitempty"`
	BookingA  int64  `json:"booking_a"`
	BookingB  *int64 `json:"booking_b,omitempty"`
	StudentA  int64  `json:"student_a"`
	StudentB  *int64 `json:"student_b,omitempty"`
	FromA     int64  `json:"from_a"`
	ToA       int64  `json:"to_a"`
	FromB     *int64 `json:"from_b,omitempty"`
	ToB       *int64 `json:"to_b,omitempty"`
	Action    string `json:"action"`
	ActorID   int64  `json:"actor_id"`
	Remarks   string `json:"remarks,omitempty"`
	CreatedAt string `json:"created_at"`
}

type MapEntryDTO struct {
	Resource       ResourceDTO `json:"resource"`
	Status         string      `json:"status"`
	Booking        *BookingDTO `json:"booking,omitempty"`
	PendingCount   int         `json:"pending_count"`
	InvoiceNumber  string      `json:"invoice_number,omitempty"`
	InvoicePaid    bool        `json:"invoice_paid"`
	InvoiceExpired bool        `json:"invoice_expired"`
}

type ViolationDTO struct {
	ResourceID int64   `json:"resource_id"`
	Kind       string  `json:"kind"`
	IsBooked   bool    `json:"is_booked"`
	Holders    []int64 `json:"approved_booking_ids"`
	Message    string  `json:"message"`
}

type RevenueLineDTO struct {
	Kind         string          `json:"kind"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	TotalPending decimal.Decimal `json:"total_pending"`
	CountPaid    int             `json:"count_paid"`
	CountPending int             `json:"count_pending"`
}

type RevenueDTO struct {
	From     *string          `json:"from,omitempty"`
	To       *string          `json:"to,omitempty"`
	Kinds    []RevenueLineDTO `json:"kinds"`
	Combined RevenueLineDTO   `json:"combined"`
}

// SweepDTO reports how many rows a sweep or bulk run changed.
type SweepDTO struct {
	Operation string `json:"operation"`
	Date      string `json:"date"`
	Count     int    `json:"count"`
}

type KindDTO struct {
	ID       string   `json:"id"`
	UnitNoun string   `json:"unit_noun"`
	Prefix   string   `json:"invoice_prefix"`
	Waivers  []string `json:"deposit_waived_by,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func datePtr(d *generic.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func idPtr[T ~int64](id *T) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func toUserDTO(u generic.User) UserDTO {
	return UserDTO{
		ID:        int64(u.ID),
		Name:      u.Name,
		Role:      string(u.Role),
		Email:     u.Email,
		Phone:     u.Phone,
		CreatedAt: formatTime(u.CreatedAt),
	}
}

func toGroupDTO(g generic.ResourceGroup) GroupDTO {
	return GroupDTO{ID: int64(g.ID), Kind: g.Kind, Label: g.Label}
}

func toResourceDTO(r generic.Resource) ResourceDTO {
	return ResourceDTO{
		ID:       int64(r.ID),
		Kind:     r.Kind,
		GroupID:  idPtr(r.Group),
		Label:    r.Label,
		IsBooked: r.IsBooked,
	}
}

func toBookingDTO(b generic.Booking) BookingDTO {
	return BookingDTO{
		ID:         int64(b.ID),
		Kind:       b.Kind,
		StudentID:  int64(b.Student),
		ResourceID: int64(b.Resource),
		StartDate:  b.StartDate.String(),
		EndDate:    datePtr(b.EndDate),
		Status:     string(b.Status),
		ApprovedBy: idPtr(b.ApprovedBy),
		ApprovedAt: timePtr(b.ApprovedAt),
		MonthlyFee: b.MonthlyFee,
		Deposit:    b.Deposit,
		Purpose:    b.Purpose,
		Remarks:    b.Remarks,
		CreatedAt:  formatTime(b.CreatedAt),
	}
}

func toInvoiceDTO(inv generic.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:          int64(inv.ID),
		Number:      inv.Number,
		BookingID:   int64(inv.Booking),
		Kind:        inv.Kind,
		StudentID:   int64(inv.Student),
		Month:       inv.Month.Format("2006-01"),
		Amount:      inv.Amount,
		Deposit:     inv.Deposit,
		Total:       inv.Total,
		IsPaid:      inv.IsPaid,
		PaidAt:      timePtr(inv.PaidAt),
		Expired:     inv.Expired,
		GeneratedOn: inv.GeneratedOn.String(),
	}
}

func toAvailableSwitchDTO(r generic.AvailableSwitchRequest) AvailableSwitchDTO {
	return AvailableSwitchDTO{
		ID:               int64(r.ID),
		Kind:             r.Kind,
		BookingID:        int64(r.Booking),
		StudentID:        int64(r.Student),
		TargetResourceID: int64(r.Target),
		Status:           string(r.Status),
		Remarks:          r.Remarks,
		ApprovedBy:       idPtr(r.ApprovedBy),
		ApprovedAt:       timePtr(r.ApprovedAt),
		CreatedAt:        formatTime(r.CreatedAt),
	}
}

func toMutualSwitchDTO(r generic.MutualSwitchRequest) MutualSwitchDTO {
	return MutualSwitchDTO{
		ID:               int64(r.ID),
		Kind:             r.Kind,
		BookingID:        int64(r.Booking),
		StudentID:        int64(r.Student),
		PartnerBookingID: idPtr(r.Partner),
		Status:           string(r.Status),
		Remarks:          r.Remarks,
		ApprovedBy:       idPtr(r.ApprovedBy),
		ApprovedAt:       timePtr(r.ApprovedAt),
		CreatedAt:        formatTime(r.CreatedAt),
	}
}

func toAvailableHistoryDTO(h generic.AvailableSwitchHistory) AvailableHistoryDTO {
	return AvailableHistoryDTO{
		RequestID:    int64(h.Request),
		BookingID:    int64(h.Booking),
		StudentID:    int64(h.Student),
		FromResource: int64(h.From),
		ToResource:   int64(h.To),
		Action:       string(h.Action),
		ActorID:      int64(h.Actor),
		Remarks:      h.Remarks,
		CreatedAt:    formatTime(h.CreatedAt),
	}
}

func toMutualHistoryDTO(h generic.MutualSwitchHistory) MutualHistoryDTO {
	return MutualHistoryDTO{
		RequestA:  int64(h.RequestA),
		RequestB:  idPtr(h.RequestB),
		BookingA:  int64(h.BookingA),
		BookingB:  idPtr(h.BookingB),
		StudentA:  int64(h.StudentA),
		StudentB:  idPtr(h.StudentB),
		FromA:     int64(h.FromA),
		ToA:       int64(h.ToA),
		FromB:     idPtr(h.FromB),
		ToB:       idPtr(h.ToB),
		Action:    string(h.Action),
		ActorID:   int64(h.Actor),
		Remarks:   h.Remarks,
		CreatedAt: formatTime(h.CreatedAt),
	}
}

func toMapEntryDTO(e generic.MapEntry) MapEntryDTO {
	dto := MapEntryDTO{
		Resource:       toResourceDTO(e.Resource),
		Status:         e.Status,
		PendingCount:   e.PendingCount,
		InvoiceNumber:  e.InvoiceNumber,
		InvoicePaid:    e.InvoicePaid,
		InvoiceExpired: e.InvoiceExpired,
	}
	if e.Booking != nil {
		b := toBookingDTO(*e.Booking)
		dto.Booking = &b
	}
	return dto
}

func toRevenueLineDTO(l generic.RevenueLine) RevenueLineDTO {
	return RevenueLineDTO{
		Kind:         l.Kind,
		TotalPaid:    l.TotalPaid,
		TotalPending: l.TotalPending,
		CountPaid:    l.CountPaid,
		CountPending: l.CountPending,
	}
}

func toKindDTO(k generic.ResourceKind) KindDTO {
	return KindDTO{
		ID:       k.KindID(),
		UnitNoun: k.UnitNoun(),
		Prefix:   k.InvoicePrefix(),
		Waivers:  k.DepositWaivers(),
	}
}

// mapSlice converts a slice, returning an empty (non-nil) slice for JSON.
func mapSlice[T, D any](in []T, conv func(T) D) []D {
	out := make([]D, 0, len(in))
	for _, v := range in {
		out = append(out, conv(v))
	}
	return out
}
