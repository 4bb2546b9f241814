/*
scheduler.go - Scheduled sweeps

PURPOSE:
  Runs the time-driven operations of the engine on gocron:

    expire-bookings   daily     approved bookings past their end date
    expire-invoices   daily     invoices past the 30-day payment window
    bulk-invoices     monthly   current month for every approved booking, per kind
    relay-outbox      interval  retries events whose publish failed

DESIGN:
  - Every job runs as generic.SystemActor with "today" taken in the
    configured timezone
  - Singleton mode: a run that overlaps the previous one is rescheduled
    instead of running concurrently
  - Each sweep commits per row, so a crash mid-run loses nothing and the
    next run picks up where it stopped; all sweeps are idempotent

USAGE:
  s, err := api.NewScheduler(engine, relay, cfg.Scheduler, logger)
  s.Start()
  defer s.Stop()

SEE ALSO:
  - generic/booking.go: ExpireSweep
  - generic/invoice.go: ExpireUnpaidSweep, BulkGenerate
  - cmd/allocctl: the same operations on demand
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/generic"
)

// Scheduler owns the gocron jobs.
type Scheduler struct {
	Engine *generic.Engine
	Outbox OutboxFlusher // optional
	Logger *zap.Logger

	cfg    config.SchedulerConfig
	loc    *time.Location
	now    func() time.Time
	cron   gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers every job. Nothing runs until Start.
func NewScheduler(engine *generic.Engine, outbox OutboxFlusher, cfg config.SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	cron, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		Engine: engine,
		Outbox: outbox,
		Logger: logger.Named("scheduler"),
		cfg:    cfg,
		loc:    loc,
		now:    time.Now,
		cron:   cron,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := s.register(); err != nil {
		cancel()
		cron.Shutdown()
		return nil, err
	}
	return s, nil
}

type cronJob struct {
	name string
	def  gocron.JobDefinition
	run  func()
}

func (s *Scheduler) register() error {
	at := func(hhmm string) (gocron.AtTimes, error) {
		h, m, err := config.ParseClock(hhmm)
		if err != nil {
			return nil, err
		}
		return gocron.NewAtTimes(gocron.NewAtTime(h, m, 0)), nil
	}

	expiryAt, err := at(s.cfg.ExpiryAt)
	if err != nil {
		return err
	}
	sweepAt, err := at(s.cfg.InvoiceSweepAt)
	if err != nil {
		return err
	}
	bulkAt, err := at(s.cfg.BulkInvoiceAt)
	if err != nil {
		return err
	}

	jobs := []cronJob{
		{"expire-bookings", gocron.DailyJob(1, expiryAt), s.RunBookingExpiry},
		{"expire-invoices", gocron.DailyJob(1, sweepAt), s.RunInvoiceExpiry},
		{"bulk-invoices", gocron.MonthlyJob(1, gocron.NewDaysOfTheMonth(s.cfg.BulkInvoiceDay), bulkAt), s.RunBulkInvoices},
	}
	if s.Outbox != nil && s.cfg.OutboxInterval > 0 {
		jobs = append(jobs, cronJob{"relay-outbox", gocron.DurationJob(s.cfg.OutboxInterval), s.RunOutboxRelay})
	}

	for _, j := range jobs {
		_, err := s.cron.NewJob(j.def, gocron.NewTask(j.run),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, j := range s.cron.Jobs() {
		next, _ := j.NextRun()
		s.Logger.Info("job scheduled", zap.String("job", j.Name()), zap.Time("next_run", next))
	}
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.cron.Shutdown()
}

// today is the current date in the scheduler's timezone.
func (s *Scheduler) today() generic.Date {
	return generic.DateOf(s.now().In(s.loc))
}

// =============================================================================
// JOBS
// =============================================================================

func (s *Scheduler) RunBookingExpiry() {
	today := s.today()
	n, err := s.Engine.Bookings.ExpireSweep(s.ctx, generic.SystemActor, today)
	s.report("expire-bookings", today, n, err)
}

func (s *Scheduler) RunInvoiceExpiry() {
	today := s.today()
	n, err := s.Engine.Invoices.ExpireUnpaidSweep(s.ctx, generic.SystemActor, today)
	s.report("expire-invoices", today, n, err)
}

// RunBulkInvoices bills the current month for every registered kind.
func (s *Scheduler) RunBulkInvoices() {
	today := s.today()
	for _, k := range generic.ListKinds() {
		n, err := s.Engine.Invoices.BulkGenerate(s.ctx, generic.SystemActor, k.KindID(), today)
		s.report("bulk-invoices:"+k.KindID(), today, n, err)
	}
}

func (s *Scheduler) RunOutboxRelay() {
	n, err := s.Outbox.Flush(s.ctx)
	if err != nil {
		s.Logger.Warn("outbox relay failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.Logger.Debug("outbox relayed", zap.Int("events", n))
	}
}

func (s *Scheduler) report(job string, today generic.Date, n int, err error) {
	if err != nil {
		s.Logger.Error("job failed", zap.String("job", job), zap.Stringer("date", today), zap.Error(err))
		return
	}
	s.Logger.Info("job done", zap.String("job", job), zap.Stringer("date", today), zap.Int("changed", n))
}
