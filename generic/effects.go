/*
effects.go - Side effects of committed state changes

PURPOSE:
  Operations collect their side effects while they run and hand them off
  only once the transaction has committed:

    - Events are written to the outbox inside the transaction. A relay
      publishes them afterwards, so nothing is ever advertised that was
      rolled back. Delivery is at-least-once.
    - Notifications are queued after commit. The queue runs each one as an
      independent task; failures are logged by the queue and never reach
      the caller.

SEE ALSO:
  - notify/relay.go: publishes outbox events
  - notify/dispatcher.go: NotificationQueue implementation
*/
package generic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TopicResourceState is the topic of every occupancy change event.
const TopicResourceState = "resource-state"

// Event types published on TopicResourceState.
const (
	EventBookingPending       = "booking_pending"
	EventBookingApproved      = "booking_approved"
	EventBookingRejected      = "booking_rejected"
	EventBookingCancelled     = "booking_cancelled"
	EventBookingExpired       = "booking_expired"
	EventSwitchApproved       = "switch_approved"
	EventMutualSwitchApproved = "mutual_switch_approved"
)

// Event announces a committed resource state change.
type Event struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Type      string         `json:"type"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Publisher delivers events to subscribers (live maps, other services).
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Channel is a notification transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Notification templates.
const (
	TemplateBookingApproved      = "booking_approved"
	TemplateBookingRejected      = "booking_rejected"
	TemplateBookingCancelled     = "booking_cancelled"
	TemplateBookingExpired       = "booking_expired"
	TemplateSwitchApproved       = "switch_approved"
	TemplateSwitchRejected       = "switch_rejected"
	TemplateSwitchCancelled      = "switch_cancelled"
	TemplateMutualSwitchApproved = "mutual_switch_approved"
	TemplateMutualSwitchRejected = "mutual_switch_rejected"
)

// Notification is one message to one student over one channel.
type Notification struct {
	ID       string
	Student  UserID
	Channel  Channel
	Template string
	Params   map[string]string
}

// NotificationQueue accepts notifications fire-and-forget.
type NotificationQueue interface {
	Enqueue(notes ...Notification)
}

// OutboxSignal wakes the relay after events were committed.
type OutboxSignal interface {
	Signal()
}

// =============================================================================
// EFFECTS - Collected during an operation
// =============================================================================

// Effects buffers the events and notifications of one transaction.
type Effects struct {
	now    time.Time
	events []Event
	notes  []Notification
}

// Publish buffers an event for the outbox.
func (fx *Effects) Publish(eventType, kind string, payload map[string]any) {
	fx.events = append(fx.events, Event{
		ID:        uuid.NewString(),
		Topic:     TopicResourceState,
		Type:      eventType,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: fx.now,
	})
}

// Notify buffers the same template over email and SMS.
func (fx *Effects) Notify(student UserID, template string, params map[string]string) {
	for _, ch := range []Channel{ChannelEmail, ChannelSMS} {
		fx.notes = append(fx.notes, Notification{
			ID:       uuid.NewString(),
			Student:  student,
			Channel:  ch,
			Template: template,
			Params:   params,
		})
	}
}

// =============================================================================
// RUNTIME - Shared by the services
// =============================================================================

// Runtime carries what every service needs.
type Runtime struct {
	Store         TxStore
	Notifications NotificationQueue // optional
	Outbox        OutboxSignal      // optional; without it the periodic relay picks events up
	Clock         Clock
	Logger        *zap.Logger
}

func (rt *Runtime) log() *zap.Logger {
	if rt.Logger == nil {
		return zap.NewNop()
	}
	return rt.Logger
}

// Today is the runtime clock's current date.
func (rt *Runtime) Today() Date { return rt.Clock.today() }

// commit runs fn in a transaction, appends its events to the outbox in the
// same transaction, then releases notifications and wakes the relay.
func (rt *Runtime) commit(ctx context.Context, fn func(tx Store, fx *Effects) error) error {
	fx := &Effects{now: rt.Clock.now()}
	err := rt.Store.WithTx(ctx, func(tx Store) error {
		if err := fn(tx, fx); err != nil {
			return err
		}
		for _, e := range fx.events {
			if err := tx.AppendOutbox(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rt.Notifications != nil && len(fx.notes) > 0 {
		rt.Notifications.Enqueue(fx.notes...)
	}
	if rt.Outbox != nil && len(fx.events) > 0 {
		rt.Outbox.Signal()
	}
	return nil
}
