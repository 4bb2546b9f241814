/*
store.go - Persistence interface for the allocation engine

PURPOSE:
  Defines the interface between the engine and the database. Every state
  change that touches more than one entity runs inside WithTx so readers
  never observe a half-applied transition (a resource freed while its
  booking still claims it, one side of a mutual swap without the other).

KEY INTERFACES:
  Store:       Reads and writes of every entity family, plus the outbox append
  TxStore:     Store + WithTx (atomic multi-entity writes)
  OutboxStore: Relay side of the outbox (pending events, delivery marks)

LOOKUPS:
  Get* methods return (nil, nil) when the row doesn't exist. The services
  turn that into ErrNotFound with a message naming the entity.

APPEND-ONLY HISTORY:
  Switch history has Append and List only. No Update, No Delete.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - generic/store: In-memory for testing

SEE ALSO:
  - effects.go: outbox events written through AppendOutbox
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of every entity family.
// Save* inserts when the ID is zero (assigning it) and updates otherwise.
type Store interface {
	// Users
	SaveUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Registry
	SaveGroup(ctx context.Context, g *ResourceGroup) error
	ListGroups(ctx context.Context, kind string) ([]ResourceGroup, error)
	SaveResource(ctx context.Context, r *Resource) error
	GetResource(ctx context.Context, id ResourceID) (*Resource, error)
	ListResources(ctx context.Context, kind string) ([]Resource, error)
	DeleteResource(ctx context.Context, id ResourceID) error

	// Bookings
	SaveBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)
	DeleteBooking(ctx context.Context, id BookingID) error
	FindBookings(ctx context.Context, f BookingFilter) ([]Booking, error)

	// Invoices. Unique per (booking, month).
	SaveInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	FindInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)

	// Switch requests
	SaveAvailableSwitch(ctx context.Context, r *AvailableSwitchRequest) error
	GetAvailableSwitch(ctx context.Context, id RequestID) (*AvailableSwitchRequest, error)
	FindAvailableSwitches(ctx context.Context, f SwitchFilter) ([]AvailableSwitchRequest, error)
	SaveMutualSwitch(ctx context.Context, r *MutualSwitchRequest) error
	GetMutualSwitch(ctx context.Context, id RequestID) (*MutualSwitchRequest, error)
	FindMutualSwitches(ctx context.Context, f SwitchFilter) ([]MutualSwitchRequest, error)

	// Switch history (append-only)
	AppendAvailableHistory(ctx context.Context, h *AvailableSwitchHistory) error
	AppendMutualHistory(ctx context.Context, h *MutualSwitchHistory) error
	ListAvailableHistory(ctx context.Context, f HistoryFilter) ([]AvailableSwitchHistory, error)
	ListMutualHistory(ctx context.Context, f HistoryFilter) ([]MutualSwitchHistory, error)

	// Fee versions
	SaveFeeVersion(ctx context.Context, v *FeeVersion) error
	ListFeeVersions(ctx context.Context, kind string) ([]FeeVersion, error)

	// Outbox. Written in the same transaction as the change it announces.
	AppendOutbox(ctx context.Context, e Event) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// OUTBOX - Relay side
// =============================================================================

// OutboxRecord is an event row awaiting (or past) delivery.
type OutboxRecord struct {
	Event       Event
	Attempts    int
	LastError   string
	DeliveredAt *time.Time
}

// OutboxStore is read by the relay that publishes committed events.
type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkOutboxDelivered(ctx context.Context, id string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id string, reason string) error
}
