package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jgoulah/airquality/internal/snapshot"
	"github.com/jgoulah/airquality/pkg/models"
)

// scriptedRunner returns results from a script, one per call; the last entry
// repeats once the script is exhausted.
type scriptedRunner struct {
	mu      sync.Mutex
	script  []scripted
	calls   int
	running atomic.Int32
	overlap atomic.Bool
	delay   time.Duration
}

type scripted struct {
	date string
	err  error
}

func (r *scriptedRunner) Run(context.Context) (Result, error) {
	if r.running.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.running.Add(-1)
	time.Sleep(r.delay)

	r.mu.Lock()
	step := r.script[min(r.calls, len(r.script)-1)]
	r.calls++
	r.mu.Unlock()

	if step.err != nil {
		return Result{URL: "u"}, step.err
	}
	snap := models.NewSnapshot(step.date, []models.Field{models.Ozone}, map[models.Field]string{models.Ozone: step.date})
	return Result{URL: "u", Records: 1, Snapshot: snap}, nil
}

func (r *scriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingSink struct {
	mu    sync.Mutex
	dates []string
	err   error
}

func (s *recordingSink) Publish(_ context.Context, snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dates = append(s.dates, snap.Date())
	return s.err
}

func (s *recordingSink) RecordCycle(_ context.Context, c models.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dates = append(s.dates, c.Status+":"+c.ErrorKind)
	return s.err
}

func TestRunOnceFailureKeepsPreviousSnapshot(t *testing.T) {
	runner := &scriptedRunner{script: []scripted{
		{date: "first"},
		{err: errors.New("upstream changed")},
		{date: "third"},
	}}
	store := snapshot.NewStore()
	s := NewScheduler(discardLogger(), runner, store, time.Hour)

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("cycle 2: want error")
	}
	snap, ok := store.Current()
	if !ok || snap.Date() != "first" || snap.Get(models.Ozone) != "first" {
		t.Fatalf("after failed cycle Current() = %v, %v; want the first snapshot", snap.Map(), ok)
	}
	status := s.Status()
	if status.State != Idle || status.LastResult != Failed || status.LastError == "" {
		t.Errorf("Status() = %+v", status)
	}

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	snap, _ = store.Current()
	if snap.Date() != "third" || snap.Get(models.Ozone) != "third" {
		t.Errorf("after recovery Current() = %v, want the third snapshot", snap.Map())
	}
	if status := s.Status(); status.LastResult != Succeeded || status.LastError != "" {
		t.Errorf("Status() = %+v", status)
	}
}

func TestRunOnceNoDataBeforeFirstSuccess(t *testing.T) {
	runner := &scriptedRunner{script: []scripted{{err: errors.New("down")}}}
	store := snapshot.NewStore()
	s := NewScheduler(discardLogger(), runner, store, time.Hour)

	s.RunOnce(context.Background())
	if _, ok := store.Current(); ok {
		t.Fatal("Current() reported data after only failed cycles")
	}
}

func TestRunOnceSinksAndRecorder(t *testing.T) {
	runner := &scriptedRunner{script: []scripted{{date: "a"}, {err: errors.New("x")}}}
	sink := &recordingSink{err: errors.New("broker down")}
	recorder := &recordingSink{}
	store := snapshot.NewStore()
	s := NewScheduler(discardLogger(), runner, store, time.Hour, WithSinks(sink), WithRecorder(recorder))

	s.RunOnce(context.Background())
	s.RunOnce(context.Background())

	if len(sink.dates) != 1 || sink.dates[0] != "a" {
		t.Errorf("sink saw %v, want only the successful snapshot", sink.dates)
	}
	want := []string{"succeeded:", "failed:other"}
	if len(recorder.dates) != 2 || recorder.dates[0] != want[0] || recorder.dates[1] != want[1] {
		t.Errorf("recorder saw %v, want: %v", recorder.dates, want)
	}
	if snap, ok := store.Current(); !ok || snap.Date() != "a" {
		t.Error("a failing sink must not affect the store")
	}
}

func TestRunOnceSerializesCycles(t *testing.T) {
	runner := &scriptedRunner{script: []scripted{{date: "x"}}, delay: 5 * time.Millisecond}
	s := NewScheduler(discardLogger(), runner, snapshot.NewStore(), time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunOnce(context.Background())
		}()
	}
	wg.Wait()

	if runner.overlap.Load() {
		t.Error("cycles overlapped")
	}
	if runner.Calls() != 5 {
		t.Errorf("runner called %d times, want 5", runner.Calls())
	}
}

func TestRunTriggersImmediatelyAndRepeats(t *testing.T) {
	runner := &scriptedRunner{script: []scripted{{err: errors.New("fails")}, {date: "later"}}}
	store := snapshot.NewStore()
	s := NewScheduler(discardLogger(), runner, store, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for runner.Calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d cycles ran", runner.Calls())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
	if snap, ok := store.Current(); !ok || snap.Date() != "later" {
		t.Error("schedule did not continue after a failed first cycle")
	}
}

func TestRunRejectsZeroInterval(t *testing.T) {
	s := NewScheduler(discardLogger(), &scriptedRunner{script: []scripted{{date: "x"}}}, snapshot.NewStore(), 0)
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil, want error")
	}
}

func TestRunOnceCycleTimeout(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	s := NewScheduler(discardLogger(), runner, snapshot.NewStore(), time.Hour, WithCycleTimeout(10*time.Millisecond))

	_, err := s.RunOnce(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunOnce() = %v, want: %v", err, context.DeadlineExceeded)
	}
}

type runnerFunc func(ctx context.Context) (Result, error)

func (f runnerFunc) Run(ctx context.Context) (Result, error) {
	return f(ctx)
}
