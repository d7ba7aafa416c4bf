package calls

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

func errWrap(err error) error { return fmt.Errorf("outer: %w", err) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedRandom returns the same draw every time.
type fixedRandom struct{ f float64 }

func (r fixedRandom) Float64() float64 { return r.f }
func (r fixedRandom) IntN(int) int     { return 0 }

type fakeDialer struct {
	name      string
	id        string
	err       error
	hangupErr error

	mu     sync.Mutex
	dials  []DialRequest
	hungUp []string
}

func (d *fakeDialer) Name() string { return d.name }

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, req)
	if d.err != nil {
		return DialResult{}, d.err
	}
	return DialResult{ProviderCallID: d.id}, nil
}

func (d *fakeDialer) Hangup(ctx context.Context, providerCallID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hungUp = append(d.hungUp, providerCallID)
	return d.hangupErr
}

type fakeAnalyzer struct {
	name string
	res  DetectionResult
	err  error
}

func (a fakeAnalyzer) Name() string { return a.name }

func (a fakeAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (DetectionResult, error) {
	return a.res, a.err
}

// manualScheduler records tasks instead of running them.
type manualScheduler struct {
	mu        sync.Mutex
	tasks     map[string]func()
	delays    map[string]time.Duration
	cancelled []string
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: map[string]func(){}, delays: map[string]time.Duration{}}
}

func (s *manualScheduler) Schedule(callID string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[callID] = fn
	s.delays[callID] = delay
}

func (s *manualScheduler) Cancel(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, callID)
	_, ok := s.tasks[callID]
	delete(s.tasks, callID)
	return ok
}

func (s *manualScheduler) Stop() {}

func (s *manualScheduler) fire(callID string) bool {
	s.mu.Lock()
	fn, ok := s.tasks[callID]
	delete(s.tasks, callID)
	s.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

type countingLimiter struct {
	mu         sync.Mutex
	limit      int
	acquireErr error
	inFlight   int
	released   int
}

func (l *countingLimiter) Acquire(context.Context, Strategy) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	if l.inFlight >= l.limit {
		return false, nil
	}
	l.inFlight++
	return true, nil
}

func (l *countingLimiter) Release(context.Context, Strategy) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight--
	l.released++
	return nil
}

func seedCall(t interface{ Fatalf(string, ...any) }, repo Repository, id string, s Strategy, status CallStatus, at time.Time) Call {
	c := Call{
		ID:        id,
		Phone:     "+15550001111",
		Strategy:  s,
		Status:    status,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := repo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return c
}

// providerIDFailRepo loses every provider call id write.
type providerIDFailRepo struct {
	*MemoryRepo
	err error
}

func (r providerIDFailRepo) SetProviderCallID(context.Context, string, string, time.Time) error {
	return r.err
}
