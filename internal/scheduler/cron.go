package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/metrics"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownJob is returned when triggering a job kind that has no work bound
var ErrUnknownJob = errors.New("unknown job")

const tracerName = "github.com/spellyaohui/NicePT-Helper/internal/scheduler"

// jobState is the bookkeeping kept per job kind
type jobState struct {
	enabled  bool
	interval time.Duration
	entry    cron.EntryID
	running  int
	lastRun  *time.Time
	lastErr  string
	lastTook time.Duration
	report   *controllers.Report
}

// JobStatus is the externally visible state of one job
type JobStatus struct {
	ID              Kind                `json:"id"`
	Name            string              `json:"name"`
	Enabled         bool                `json:"enabled"`
	IntervalMinutes int                 `json:"interval_minutes"`
	Running         bool                `json:"running"`
	LastRun         *time.Time          `json:"last_run,omitempty"`
	NextRun         *time.Time          `json:"next_run,omitempty"`
	LastDuration    string              `json:"last_duration,omitempty"`
	LastError       string              `json:"last_error,omitempty"`
	LastReport      *controllers.Report `json:"last_report,omitempty"`
}

// Status is the scheduler state reported to operators
type Status struct {
	Running      bool        `json:"running"`
	Jobs         []JobStatus `json:"jobs"`
	ExpiryTimers int         `json:"expiry_timers"`
}

// ExpiryHandler acts on a single torrent when its promotion ends
type ExpiryHandler interface {
	HandleExpiry(ctx context.Context, historyID uint64) (bool, error)
}

// Scheduler runs the periodic jobs and the per-torrent expiry timers
type Scheduler struct {
	db     *models.Database
	jobs   Jobs
	expiry ExpiryHandler
	logger *logrus.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	states  map[Kind]*jobState
	timers  map[uint64]cron.EntryID
}

// NewScheduler creates a scheduler; call Start to arm it
func NewScheduler(db *models.Database, jobs Jobs, expiry ExpiryHandler, logger *logrus.Logger) *Scheduler {
	states := make(map[Kind]*jobState, len(Kinds))
	for _, k := range Kinds {
		states[k] = &jobState{}
	}
	return &Scheduler{
		db:     db,
		jobs:   jobs,
		expiry: expiry,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		states: states,
		timers: make(map[uint64]cron.EntryID),
	}
}

// Start reads the schedule from the store and arms every enabled job
// Expiry timers of active torrents are restored as well.
func (s *Scheduler) Start(ctx context.Context) error {
	cfg, err := s.db.GetScheduleConfig()
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	pending, err := s.db.PendingExpiryHistory()
	if err != nil {
		return fmt.Errorf("failed to load pending expiries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	s.logger.Info("Starting scheduler")
	s.parent = ctx
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(
		cron.WithLogger(cron.PrintfLogger(s.logger)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.logger))),
	)

	for _, kind := range Kinds {
		state := s.states[kind]
		state.enabled, state.interval = plan(cfg, kind)
		state.entry = 0
		if _, ok := s.jobs[kind]; !ok {
			state.enabled = false
		}
		if !state.enabled {
			continue
		}

		kind := kind
		runCtx := s.ctx
		job := cron.NewChain(cron.SkipIfStillRunning(cron.PrintfLogger(s.logger))).
			Then(cron.FuncJob(func() { s.run(runCtx, kind, false) }))
		state.entry = s.cron.Schedule(cron.Every(state.interval), job)

		s.logger.WithFields(logrus.Fields{
			"job":      kind,
			"interval": state.interval,
		}).Info("Job scheduled")
	}

	for _, item := range pending {
		s.armLocked(item.ID, *item.DiscountEndTime)
	}

	s.cron.Start()
	s.running = true
	s.logger.WithField("expiry_timers", len(s.timers)).Info("Scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Stopping scheduler")
	stopped := s.cron.Stop()
	s.cancel()
	s.running = false
	s.timers = make(map[uint64]cron.EntryID)
	metrics.ExpiryTimers.Set(0)
	s.mu.Unlock()

	<-stopped.Done()
	s.logger.Info("Scheduler stopped")
}

// Restart drains the running jobs and re-arms everything from the stored schedule
func (s *Scheduler) Restart() error {
	s.mu.Lock()
	parent := s.parent
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	s.Stop()
	return s.Start(parent)
}

// Trigger runs a job now, outside its schedule
func (s *Scheduler) Trigger(ctx context.Context, kind Kind) (*controllers.Report, error) {
	if _, ok := s.jobs[kind]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, kind)
	}
	return s.run(ctx, kind, true)
}

// run executes one job inside a span and records its outcome
func (s *Scheduler) run(ctx context.Context, kind Kind, manual bool) (*controllers.Report, error) {
	ctx, span := s.tracer.Start(ctx, "job."+string(kind), trace.WithAttributes(
		attribute.String("job.kind", string(kind)),
		attribute.Bool("job.manual", manual),
	))
	defer span.End()

	fields := logrus.Fields{"job": kind, "manual": manual}
	if sc := span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	logger := s.logger.WithFields(fields)

	s.mu.Lock()
	state := s.states[kind]
	state.running++
	s.mu.Unlock()

	logger.Info("Running job")
	start := s.now()
	report, err := s.jobs[kind](ctx)
	took := s.now().Sub(start)

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Error("Job failed")
	} else {
		logger.WithField("took", took.Round(time.Millisecond)).Info("Job completed")
	}
	metrics.JobRuns.WithLabelValues(string(kind), result).Inc()
	metrics.JobDuration.WithLabelValues(string(kind)).Observe(took.Seconds())

	s.mu.Lock()
	state.running--
	finished := start
	state.lastRun = &finished
	state.lastTook = took
	state.lastErr = ""
	if err != nil {
		state.lastErr = err.Error()
	}
	if report != nil {
		state.report = report
		span.SetAttributes(
			attribute.Int("job.processed", report.Processed),
			attribute.Int("job.changed", report.Changed),
		)
	}
	s.mu.Unlock()

	if report != nil {
		for _, item := range report.Dispatched {
			if item.DiscountEndTime != nil {
				s.ArmExpiry(item.ID, *item.DiscountEndTime)
			}
		}
	}
	return report, err
}

// Status reports whether the scheduler runs and the state of every job
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Running: s.running, ExpiryTimers: len(s.timers)}
	for _, kind := range Kinds {
		state := s.states[kind]
		js := JobStatus{
			ID:              kind,
			Name:            kindNames[kind],
			Enabled:         state.enabled,
			IntervalMinutes: int(state.interval / time.Minute),
			Running:         state.running > 0,
			LastRun:         state.lastRun,
			LastError:       state.lastErr,
			LastReport:      state.report,
		}
		if state.lastTook > 0 {
			js.LastDuration = state.lastTook.Round(time.Millisecond).String()
		}
		if s.running && state.entry != 0 {
			if next := s.cron.Entry(state.entry).Next; !next.IsZero() {
				js.NextRun = &next
			}
		}
		status.Jobs = append(status.Jobs, js)
	}
	return status
}
