/*
Package generic provides the core allocation engine.

PURPOSE:
  This package contains kind-agnostic types and algorithms for allocating
  bookable units to students. Whether the unit is a hostel bed or a library
  seat, the same engine handles the booking lifecycle, monthly invoicing,
  and the available/mutual switch protocols.

KEY CONCEPTS IN THIS FILE (types.go):
  - Resource: a bookable unit (bed, seat) and its is_booked flag
  - Booking: a student's claim on a resource, with its lifecycle status
  - Invoice: one month of billing for a booking
  - Switch requests: available (move to a free unit) and mutual (swap)
  - Switch history: append-only audit rows, one per terminal transition

DESIGN PRINCIPLES:
  1. One engine: hostel and library differ only by their ResourceKind
  2. Precision: money uses decimal.Decimal
  3. Type Safety: distinct ID types keep bookings, resources and requests apart
  4. Auditability: switch history is never updated or deleted

SEE ALSO:
  - resource.go: ResourceKind registry
  - booking.go: Booking lifecycle
  - invoice.go: Invoice engine
  - switch.go: Switch protocols
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	UserID     int64
	GroupID    int64
	ResourceID int64
	BookingID  int64
	InvoiceID  int64
	RequestID  int64
)

// Money builds a whole-unit amount.
func Money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// =============================================================================
// USERS - Local directory record; identity itself is external
// =============================================================================

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
	// RoleSystem is used by scheduled sweeps and the admin CLI.
	RoleSystem Role = "system"
)

// User is the contact record used to address notifications.
type User struct {
	ID        UserID
	Name      string
	Role      Role
	Email     string
	Phone     string
	CreatedAt time.Time
}

// =============================================================================
// RESOURCE REGISTRY
// =============================================================================

// ResourceGroup is a parent of resources, e.g. a hostel room.
type ResourceGroup struct {
	ID        GroupID
	Kind      string
	Label     string
	CreatedAt time.Time
}

// Resource is a bookable unit.
// Invariant: IsBooked iff exactly one approved booking references it.
type Resource struct {
	ID        ResourceID
	Kind      string
	Group     *GroupID
	Label     string
	IsBooked  bool
	CreatedAt time.Time
}

// =============================================================================
// BOOKING
// =============================================================================

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingApproved  BookingStatus = "approved"
	BookingRejected  BookingStatus = "rejected"
	BookingExpired   BookingStatus = "expired"
	BookingCancelled BookingStatus = "cancelled"
)

// ActiveStatuses are the statuses that count against one-active-per-kind.
var ActiveStatuses = []BookingStatus{BookingPending, BookingApproved}

func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingApproved
}

func (s BookingStatus) Terminal() bool {
	return s == BookingRejected || s == BookingExpired || s == BookingCancelled
}

// Booking is a student's claim on a resource.
type Booking struct {
	ID         BookingID
	Kind       string
	Student    UserID
	Resource   ResourceID
	StartDate  Date
	EndDate    *Date
	Status     BookingStatus
	ApprovedBy *UserID
	ApprovedAt *time.Time
	MonthlyFee decimal.Decimal
	Deposit    decimal.Decimal
	IDDocFront string // opaque document-store reference
	IDDocBack  string
	Purpose    string
	Remarks    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasDocuments reports whether both identity document references are set.
func (b Booking) HasDocuments() bool {
	return b.IDDocFront != "" && b.IDDocBack != ""
}

// TotalDue is the fee for every month active up to asOf plus the deposit.
func (b Booking) TotalDue(asOf Date) decimal.Decimal {
	months := MonthsActive(b.StartDate, asOf)
	return b.MonthlyFee.Mul(decimal.NewFromInt(int64(months))).Add(b.Deposit)
}

// BookingFilter selects bookings. Zero fields match everything.
type BookingFilter struct {
	Kind      string
	Student   *UserID
	Resource  *ResourceID
	Statuses  []BookingStatus
	EndBefore *Date
}

// =============================================================================
// INVOICE
// =============================================================================

// Invoice is one month of billing for a booking. Unique per (booking, month).
type Invoice struct {
	ID          InvoiceID
	Booking     BookingID
	Kind        string
	Student     UserID
	Number      string // INV-{PREFIX}-{YYYYMM}-{booking:03d}
	Month       Date   // first of month
	Amount      decimal.Decimal
	Deposit     decimal.Decimal
	Total       decimal.Decimal
	IsPaid      bool
	PaidAt      *time.Time
	Expired     bool
	GeneratedOn Date
}

// InvoiceFilter selects invoices. Zero fields match everything.
type InvoiceFilter struct {
	Kind          string
	Booking       *BookingID
	Student       *UserID
	Month         *Date
	GeneratedFrom *Date
	GeneratedTo   *Date
}

// =============================================================================
// SWITCH REQUESTS
// =============================================================================

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

// AvailableSwitchRequest moves one approved booking to a free resource.
type AvailableSwitchRequest struct {
	ID         RequestID
	Kind       string
	Booking    BookingID
	Student    UserID
	Target     ResourceID
	Status     RequestStatus
	Remarks    string
	ApprovedBy *UserID
	ApprovedAt *time.Time
	CreatedAt  time.Time
}

// MutualSwitchRequest swaps resources with another approved booking.
// A nil Partner is an open request waiting to be matched.
type MutualSwitchRequest struct {
	ID         RequestID
	Kind       string
	Booking    BookingID
	Student    UserID
	Partner    *BookingID
	Status     RequestStatus
	Remarks    string
	ApprovedBy *UserID
	ApprovedAt *time.Time
	CreatedAt  time.Time
}

// SwitchFilter selects switch requests. Zero fields match everything.
type SwitchFilter struct {
	Kind     string
	Student  *UserID
	Statuses []RequestStatus
}

// =============================================================================
// SWITCH HISTORY - Append-only
// =============================================================================

type HistoryAction string

const (
	HistoryApproved  HistoryAction = "approved"
	HistoryRejected  HistoryAction = "rejected"
	HistoryCancelled HistoryAction = "cancelled"
)

// AvailableSwitchHistory records one terminal transition of an available switch.
type AvailableSwitchHistory struct {
	ID        int64
	Kind      string
	Request   RequestID
	Booking   BookingID
	Student   UserID
	From      ResourceID
	To        ResourceID
	Action    HistoryAction
	Actor     UserID
	Remarks   string
	CreatedAt time.Time
}

// MutualSwitchHistory records one terminal transition of a mutual switch.
// A matched swap writes one joint row covering both sides.
type MutualSwitchHistory struct {
	ID        int64
	Kind      string
	RequestA  RequestID
	RequestB  *RequestID
	BookingA  BookingID
	BookingB  *BookingID
	StudentA  UserID
	StudentB  *UserID
	FromA     ResourceID
	ToA       ResourceID
	FromB     *ResourceID
	ToB       *ResourceID
	Action    HistoryAction
	Actor     UserID
	Remarks   string
	CreatedAt time.Time
}

// HistoryFilter selects history rows; Student matches either side.
type HistoryFilter struct {
	Kind    string
	Student *UserID
}
