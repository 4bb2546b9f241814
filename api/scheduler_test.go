package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/generic/store"
	"github.com/warp/allocation-engine/notify"
)

func schedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:        true,
		Timezone:       "UTC",
		ExpiryAt:       "00:05",
		InvoiceSweepAt: "00:15",
		BulkInvoiceDay: 1,
		BulkInvoiceAt:  "06:00",
		OutboxInterval: 10 * time.Second,
	}
}

func TestNewScheduler_RegistersJobs(t *testing.T) {
	mem := store.NewTxMemory()
	engine := generic.NewEngine(&generic.Runtime{Store: mem}, nil)
	relay := notify.NewRelay(mem, notify.LogPublisher{Logger: zap.NewNop()}, nil)

	s, err := NewScheduler(engine, relay, schedulerConfig(), nil)
	require.NoError(t, err)
	defer s.Stop()

	var names []string
	for _, j := range s.cron.Jobs() {
		names = append(names, j.Name())
	}
	assert.ElementsMatch(t, []string{"expire-bookings", "expire-invoices", "bulk-invoices", "relay-outbox"}, names)

	// Without a relay there is no outbox job
	s2, err := NewScheduler(engine, nil, schedulerConfig(), nil)
	require.NoError(t, err)
	defer s2.Stop()
	assert.Len(t, s2.cron.Jobs(), 3)
}

func TestNewScheduler_RejectsBadConfig(t *testing.T) {
	engine := generic.NewEngine(&generic.Runtime{Store: store.NewTxMemory()}, nil)

	cfg := schedulerConfig()
	cfg.ExpiryAt = "midnight"
	_, err := NewScheduler(engine, nil, cfg, nil)
	assert.ErrorContains(t, err, "invalid time of day")

	cfg = schedulerConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err = NewScheduler(engine, nil, cfg, nil)
	assert.ErrorContains(t, err, "scheduler timezone")
}

func TestScheduler_JobsRunAsSystem(t *testing.T) {
	// GIVEN: An approved hostel booking ending March 31 and no invoices
	// WHEN: The bulk and expiry jobs run on April 1
	// THEN: April is billed and the booking expires, each job logging its count

	ctx := context.Background()
	mem := store.NewTxMemory()
	march := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	clock := march
	engine := generic.NewEngine(&generic.Runtime{Store: mem, Clock: func() time.Time { return clock }}, nil)
	admin := generic.Actor{ID: 1, Role: generic.RoleAdmin}
	student := generic.Actor{ID: 10, Role: generic.RoleStudent}

	bed, err := engine.Registry.CreateResource(ctx, admin, "hostel", "A1", nil)
	require.NoError(t, err)
	b, err := engine.Bookings.Create(ctx, student, generic.CreateBooking{
		Resource: bed.ID, StartDate: generic.NewDate(2025, time.March, 10), IDDocFront: "f", IDDocBack: "b",
	})
	require.NoError(t, err)
	_, err = engine.Bookings.Approve(ctx, admin, b.ID)
	require.NoError(t, err)
	_, err = engine.Bookings.ScheduleMoveOut(ctx, admin, b.ID, generic.NewDate(2025, time.March, 31))
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	s, err := NewScheduler(engine, nil, schedulerConfig(), zap.New(core))
	require.NoError(t, err)
	defer s.Stop()
	april := time.Date(2025, time.April, 1, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return april }
	clock = april

	s.RunBulkInvoices()
	s.RunBookingExpiry()
	s.RunInvoiceExpiry()

	invoices, err := mem.FindInvoices(ctx, generic.InvoiceFilter{Kind: "hostel"})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "2025-04-01", invoices[0].Month.String())

	expired, err := mem.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.BookingExpired, expired.Status)

	changed := map[string]int64{}
	for _, e := range logs.FilterMessage("job done").All() {
		changed[e.ContextMap()["job"].(string)] = e.ContextMap()["changed"].(int64)
	}
	assert.Equal(t, int64(1), changed["bulk-invoices:hostel"])
	assert.Equal(t, int64(0), changed["bulk-invoices:library"])
	assert.Equal(t, int64(1), changed["expire-bookings"])
	assert.Equal(t, int64(0), changed["expire-invoices"])
	assert.Zero(t, logs.FilterMessage("job failed").Len())
}
