// Package refresh rebuilds the org chart from the directory.
//
// A Scheduler owns the refresh lifecycle. At most one refresh runs at a
// time; requests that arrive while one is in flight join it instead of
// queueing another. The timing loop fires once a day at the configured
// local time, or on a fixed interval, and can run one refresh at startup.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orgchart/internal/config"
	"github.com/fyrsmithlabs/orgchart/internal/directory"
	"github.com/fyrsmithlabs/orgchart/internal/events"
	"github.com/fyrsmithlabs/orgchart/internal/logging"
	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
	"github.com/fyrsmithlabs/orgchart/internal/settings"
	"github.com/fyrsmithlabs/orgchart/internal/snapshot"
)

// Errors returned by the scheduler.
var (
	ErrDisabled = errors.New("refresh disabled in offline mode")
	ErrStopped  = errors.New("scheduler stopped")
)

const defaultTimeout = 10 * time.Minute

var tracer = otel.Tracer("github.com/fyrsmithlabs/orgchart/internal/refresh")

// Reason records what started a run.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonInitial   Reason = "initial"
	ReasonManual    Reason = "manual"
	ReasonForced    Reason = "forced"
)

// Result describes a finished run.
type Result struct {
	RunID      string            `json:"run_id"`
	Reason     Reason            `json:"reason"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Employees  int               `json:"employees"`
	Dropped    int               `json:"dropped"`
	RootID     string            `json:"root_id,omitempty"`
	RootRule   orgchart.RootRule `json:"root_rule,omitempty"`
	Error      string            `json:"error,omitempty"`
	// Skipped is set when the directory returned no employees. The
	// previous snapshot stays published and the run is not a failure.
	Skipped bool `json:"skipped,omitempty"`

	// Err is the failure, nil on success.
	Err error `json:"-"`
}

// OK reports whether the run published a new tree.
func (r Result) OK() bool {
	return r.Err == nil
}

// Duration returns how long the run took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Publisher receives each successfully built tree. snapshot.Store
// implements it.
type Publisher interface {
	Publish(ctx context.Context, root *orgchart.Node, builtAt time.Time) (*snapshot.Snapshot, error)
}

// SettingsSource supplies the live user settings. settings.Store implements
// it.
type SettingsSource interface {
	Get() settings.Settings
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDailyAt sets the daily refresh time used when no settings source is
// configured.
func WithDailyAt(at config.DailyTime) Option {
	return func(s *Scheduler) { s.dailyAt = at }
}

// WithInterval replaces the daily schedule with a fixed interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithRunInitial runs one refresh as soon as the loop starts.
func WithRunInitial(enabled bool) Option {
	return func(s *Scheduler) { s.runInitial = enabled }
}

// WithTimeout bounds a single run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithOffline disables refreshing entirely.
func WithOffline(offline bool) Option {
	return func(s *Scheduler) { s.offline = offline }
}

// WithBuilder sets the root hints used to build the tree.
func WithBuilder(b orgchart.Builder) Option {
	return func(s *Scheduler) { s.builder = b }
}

// WithRecency sets the new-employee window used when no settings source is
// configured.
func WithRecency(p orgchart.RecencyPolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithSettings makes the update time, the auto-update switch and the
// recency window follow live settings.
func WithSettings(src SettingsSource) Option {
	return func(s *Scheduler) { s.settings = src }
}

// WithEvents publishes lifecycle events for every run.
func WithEvents(p events.Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// run is one in-flight refresh shared by everyone waiting on it.
type run struct {
	done   chan struct{}
	result Result
}

// Scheduler serializes refreshes and drives the timing loop.
type Scheduler struct {
	source directory.Source
	store  Publisher
	logger *logging.Logger

	dailyAt    config.DailyTime
	interval   time.Duration
	runInitial bool
	timeout    time.Duration
	offline    bool
	builder    orgchart.Builder
	policy     orgchart.RecencyPolicy
	settings   SettingsSource
	events     events.Publisher
	now        func() time.Time

	mu       sync.Mutex
	current  *run
	last     *Result
	next     time.Time
	closed   bool
	looping  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup

	reschedule chan struct{}
}

// NewScheduler creates a scheduler that fetches from source and publishes
// to store. The loop does not start until Start is called.
func NewScheduler(source directory.Source, store Publisher, logger *logging.Logger, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Scheduler{
		source:     source,
		store:      store,
		logger:     logger.Named("refresh"),
		dailyAt:    "20:00",
		timeout:    defaultTimeout,
		policy:     orgchart.RecencyPolicy{Months: orgchart.DefaultRecencyMonths},
		events:     events.Nop{},
		now:        time.Now,
		reschedule: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.offline && source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if s.interval <= 0 {
		if _, _, err := s.dailyAt.Clock(); err != nil {
			return nil, err
		}
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	return s, nil
}

// Enabled reports whether refreshes can run at all.
func (s *Scheduler) Enabled() bool {
	return !s.offline
}

// Trigger starts a refresh in the background. It returns false when a run
// is already in flight (the request joins it) or refreshing is disabled.
func (s *Scheduler) Trigger() bool {
	if s.offline {
		return false
	}
	_, started := s.begin(ReasonManual)
	return started
}

// TriggerAndWait starts a refresh, or joins the one in flight, and waits
// for it to finish or for ctx to end. The returned error is the run's
// failure.
func (s *Scheduler) TriggerAndWait(ctx context.Context) (Result, error) {
	if s.offline {
		return Result{}, ErrDisabled
	}
	r, _ := s.begin(ReasonForced)
	if r == nil {
		return Result{}, ErrStopped
	}
	select {
	case <-r.done:
		return r.result, r.result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// IsRunning reports whether a refresh is in flight.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// LastResult returns the most recent finished run.
func (s *Scheduler) LastResult() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// NextRun returns when the loop fires next, or false when no run is
// scheduled.
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, !s.next.IsZero()
}

// begin starts a run for reason or returns the one in flight.
func (s *Scheduler) begin(reason Reason) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	if s.current != nil {
		coalescedTotal.Inc()
		return s.current, false
	}
	r := &run{done: make(chan struct{})}
	s.current = r
	s.wg.Add(1)
	go s.execute(r, reason)
	return r, true
}

func (s *Scheduler) execute(r *run, reason Reason) {
	defer s.wg.Done()
	res := s.safeRefresh(reason)

	s.mu.Lock()
	r.result = res
	s.last = &res
	s.current = nil
	s.mu.Unlock()
	close(r.done)
}

func (s *Scheduler) safeRefresh(reason Reason) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error(context.Background(), "refresh panicked",
				zap.Any("panic", p),
				zap.Stack("stack"))
			res.Err = fmt.Errorf("refresh panicked: %v", p)
			res.Error = res.Err.Error()
			res.FinishedAt = s.now()
			runsTotal.WithLabelValues("failure").Inc()
		}
	}()
	return s.refresh(reason)
}

// refresh performs one fetch, build and publish. On failure the published
// snapshot is left untouched.
func (s *Scheduler) refresh(reason Reason) Result {
	runID := uuid.NewString()
	ctx := logging.WithRunID(context.Background(), runID)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "refresh.Run", trace.WithAttributes(
		attribute.String("refresh.run_id", runID),
		attribute.String("refresh.reason", string(reason)),
	))
	defer span.End()

	inProgress.Set(1)
	defer inProgress.Set(0)

	res := Result{RunID: runID, Reason: reason, StartedAt: s.now()}
	s.emit(ctx, events.Event{RunID: runID, Kind: events.KindStarted, Reason: string(reason), At: res.StartedAt})
	s.logger.Info(ctx, "refresh started", zap.String("reason", string(reason)))

	err := s.build(ctx, &res)
	res.FinishedAt = s.now()
	runDuration.Observe(res.Duration().Seconds())

	if err != nil {
		res.Err = err
		res.Error = err.Error()
		runsTotal.WithLabelValues("failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		s.logger.Error(ctx, "refresh failed, keeping previous snapshot",
			zap.String("reason", string(reason)),
			zap.Duration("duration", res.Duration()),
			zap.Error(err))
		s.emit(ctx, events.Event{
			RunID: runID, Kind: events.KindFailed, Reason: string(reason),
			Error: res.Error, DurationMS: res.Duration().Milliseconds(), At: res.FinishedAt,
		})
		return res
	}

	if res.Skipped {
		runsTotal.WithLabelValues("empty").Inc()
		s.logger.Warn(ctx, "no employees fetched, keeping previous snapshot",
			zap.String("reason", string(reason)),
			zap.Int("dropped", res.Dropped),
			zap.Duration("duration", res.Duration()))
		s.emit(ctx, events.Event{
			RunID: runID, Kind: events.KindSkipped, Reason: string(reason),
			DurationMS: res.Duration().Milliseconds(), At: res.FinishedAt,
		})
		return res
	}

	runsTotal.WithLabelValues("success").Inc()
	employeesGauge.Set(float64(res.Employees))
	lastSuccess.Set(float64(res.FinishedAt.Unix()))
	span.SetAttributes(
		attribute.Int("refresh.employees", res.Employees),
		attribute.String("refresh.root_rule", string(res.RootRule)))
	s.logger.Info(ctx, "refresh completed",
		zap.String("reason", string(reason)),
		zap.Int("employees", res.Employees),
		zap.Int("dropped", res.Dropped),
		zap.String("root_id", res.RootID),
		zap.String("root_rule", string(res.RootRule)),
		zap.Duration("duration", res.Duration()))
	s.emit(ctx, events.Event{
		RunID: runID, Kind: events.KindCompleted, Reason: string(reason),
		Employees: res.Employees, DurationMS: res.Duration().Milliseconds(), At: res.FinishedAt,
	})
	return res
}

func (s *Scheduler) build(ctx context.Context, res *Result) error {
	recs, err := s.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching directory: %w", err)
	}

	builtAt := s.now()
	emps, dropped := orgchart.NewNormalizer(s.recency(), s.logger.Underlying()).NormalizeAll(recs, builtAt)
	res.Dropped = dropped
	droppedTotal.Add(float64(dropped))
	if dropped > 0 {
		s.logger.Warn(ctx, "dropped directory records without id or name", zap.Int("dropped", dropped))
	}

	root, rule, err := s.builder.BuildWithRule(emps)
	if errors.Is(err, orgchart.ErrEmptyBatch) {
		res.Skipped = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("building hierarchy: %w", err)
	}
	res.RootID = root.ID
	res.RootRule = rule

	snap, err := s.store.Publish(ctx, root, builtAt)
	if snap == nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	if err != nil {
		// The new tree is live; only the durable copy is stale.
		s.logger.Warn(ctx, "snapshot published but not persisted", zap.Error(err))
	}
	res.Employees = snap.Employees
	return nil
}

func (s *Scheduler) emit(ctx context.Context, ev events.Event) {
	// Events must not hold up or fail the run.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(pubCtx, ev); err != nil {
		s.logger.Warn(ctx, "failed to publish refresh event",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

func (s *Scheduler) recency() orgchart.RecencyPolicy {
	if s.settings != nil {
		return orgchart.RecencyPolicy{Months: s.settings.Get().NewEmployeeMonths}
	}
	return s.policy
}

func (s *Scheduler) autoUpdate() bool {
	if s.settings != nil {
		return s.settings.Get().AutoUpdateEnabled
	}
	return true
}

// nextFire returns the next loop deadline after now.
func (s *Scheduler) nextFire(now time.Time) (time.Time, error) {
	if s.interval > 0 {
		return now.Add(s.interval), nil
	}
	at := s.dailyAt
	if s.settings != nil {
		if t := s.settings.Get().UpdateTime; t != "" {
			at = config.DailyTime(t)
		}
	}
	return at.Next(now)
}

// Start launches the timing loop. It fails when refreshing is disabled or
// the loop is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.offline {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStopped
	}
	if s.looping {
		return fmt.Errorf("scheduler is already running")
	}
	s.looping = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(ctx, s.stopCh, s.loopDone)
	return nil
}

// Reschedule recomputes the next fire time, typically after the update
// time setting changed.
func (s *Scheduler) Reschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for any run in flight. No further runs can
// be started afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	stopCh, loopDone, looping := s.stopCh, s.loopDone, s.looping
	s.looping = false
	s.mu.Unlock()

	if looping {
		close(stopCh)
		<-loopDone
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer s.setNext(time.Time{})

	s.logger.Info(ctx, "refresh scheduler started",
		zap.Duration("interval", s.interval),
		zap.Bool("run_initial", s.runInitial))
	if s.runInitial {
		s.begin(ReasonInitial)
	}

	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		now := s.now()
		next, err := s.nextFire(now)
		if err != nil {
			s.logger.Error(ctx, "cannot schedule refresh", zap.Error(err))
			s.setNext(time.Time{})
		} else {
			s.setNext(next)
			timer = time.NewTimer(next.Sub(now))
			timerC = timer.C
			s.logger.Debug(ctx, "next refresh scheduled", zap.Time("at", next))
		}

		select {
		case <-timerC:
			if s.autoUpdate() {
				s.begin(ReasonScheduled)
			} else {
				s.logger.Info(ctx, "auto update disabled, skipping scheduled refresh")
			}
		case <-s.reschedule:
			s.logger.Debug(ctx, "rescheduling refresh")
		case <-stopCh:
			stopTimer(timer)
			s.logger.Info(ctx, "refresh scheduler stopped")
			return
		case <-ctx.Done():
			stopTimer(timer)
			return
		}
		stopTimer(timer)
	}
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
	if t.IsZero() {
		nextRun.Set(0)
	} else {
		nextRun.Set(float64(t.Unix()))
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
