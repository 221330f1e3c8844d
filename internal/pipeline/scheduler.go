package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jgoulah/airquality/internal/metrics"
	"github.com/jgoulah/airquality/internal/snapshot"
	"github.com/jgoulah/airquality/pkg/models"
)

// State is the scheduler's position in the cycle state machine
type State string

// Cycle states. Succeeded and Failed are terminal for a cycle; the scheduler
// returns to Idle right after recording them.
const (
	Idle      State = "idle"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

const sinkTimeout = 30 * time.Second

// Runner executes one cycle
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Sink receives every newly published snapshot (MQTT, Home Assistant, cache)
type Sink interface {
	Publish(ctx context.Context, snap models.Snapshot) error
}

// Recorder persists the outcome of each cycle
type Recorder interface {
	RecordCycle(ctx context.Context, c models.Cycle) error
}

// Status is a point-in-time view of the scheduler
type Status struct {
	State       State     `json:"state"`
	LastCycle   string    `json:"last_cycle,omitempty"`
	LastResult  State     `json:"last_result,omitempty"` // Succeeded or Failed
	LastRun     time.Time `json:"last_run"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
}

// Scheduler runs the pipeline once at startup and then every interval.
// Cycles never overlap, and a failed cycle leaves the store untouched.
type Scheduler struct {
	logger       *slog.Logger
	runner       Runner
	store        *snapshot.Store
	interval     time.Duration
	cycleTimeout time.Duration
	sinks        []Sink
	recorder     Recorder

	cycleMu sync.Mutex // held for the whole of a cycle

	mu     sync.Mutex
	status Status
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSinks adds sinks notified after each successful publish
func WithSinks(sinks ...Sink) Option {
	return func(s *Scheduler) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithRecorder sets the cycle log
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithCycleTimeout bounds every cycle; zero means no bound
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.cycleTimeout = d
	}
}

// NewScheduler creates a scheduler publishing into store
func NewScheduler(logger *slog.Logger, runner Runner, store *snapshot.Store, interval time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   logger,
		runner:   runner,
		store:    store,
		interval: interval,
		status:   Status{State: Idle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run triggers a cycle immediately and then once per interval until ctx is
// done. Failures neither stop nor speed up the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %v", s.interval)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)
	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single cycle, publishing its snapshot on success
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	cycle := models.Cycle{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger.With("cycle", cycle.ID)
	s.setState(Running, cycle)
	logger.Info("cycle started")

	cycleCtx := ctx
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	res, err := s.runner.Run(cycleCtx)

	cycle.FinishedAt = time.Now().UTC()
	cycle.DownloadURL = res.URL
	cycle.Records = res.Records
	duration := cycle.FinishedAt.Sub(cycle.StartedAt)
	metrics.CycleDuration.Observe(duration.Seconds())
	metrics.CyclesTotal.WithLabelValues(Kind(err)).Inc()

	if err != nil {
		cycle.Status = string(Failed)
		cycle.ErrorKind = Kind(err)
		cycle.Error = err.Error()
		s.finish(Failed, cycle)
		logger.Error("cycle failed", "kind", cycle.ErrorKind, "err", err, "duration", duration)
		s.record(ctx, logger, cycle)
		return res, err
	}

	s.store.Publish(res.Snapshot)
	metrics.LastSuccess.SetToCurrentTime()
	cycle.Status = string(Succeeded)
	s.finish(Succeeded, cycle)
	logger.Info("cycle succeeded", "records", res.Records, "date", res.Snapshot.Date(), "duration", duration)

	s.record(ctx, logger, cycle)
	s.notify(ctx, logger, res.Snapshot)
	return res, nil
}

// Status returns the current state and the last cycle's outcome
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) setState(state State, c models.Cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.LastCycle = c.ID
	s.status.LastRun = c.StartedAt
}

// finish records the cycle's terminal state and returns to Idle
func (s *Scheduler) finish(state State, c models.Cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastResult = state
	if state == Succeeded {
		s.status.LastSuccess = c.FinishedAt
		s.status.LastError = ""
	} else {
		s.status.LastError = c.Error
	}
	s.status.State = Idle
}

func (s *Scheduler) record(ctx context.Context, logger *slog.Logger, c models.Cycle) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := s.recorder.RecordCycle(ctx, c); err != nil {
		logger.Warn("could not record cycle", "err", err)
	}
}

func (s *Scheduler) notify(ctx context.Context, logger *slog.Logger, snap models.Snapshot) {
	for _, sink := range s.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		if err := sink.Publish(sinkCtx, snap); err != nil {
			logger.Warn("sink publish failed", "sink", fmt.Sprintf("%T", sink), "err", err)
		}
		cancel()
	}
}
