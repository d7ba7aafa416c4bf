package calls

import (
	"context"
	"math/rand/v2"
	"time"
)

type DialRequest struct {
	CallID   string
	To       string
	Strategy Strategy
}

type DialResult struct {
	ProviderCallID string
}

// Dialer places and ends calls on a telephony backend.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, req DialRequest) (DialResult, error)
	Hangup(ctx context.Context, providerCallID string) error
}

type AnalysisRequest struct {
	CallID         string
	ProviderCallID string
	RecordingURL   string
}

// Analyzer classifies a finished recording.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (DetectionResult, error)
}

// Scheduler runs one delayed task per call id. Scheduling again replaces the pending task.
type Scheduler interface {
	Schedule(callID string, delay time.Duration, fn func())
	Cancel(callID string) bool
	Stop()
}

// Limiter caps the number of in-flight calls per strategy.
type Limiter interface {
	Acquire(ctx context.Context, s Strategy) (bool, error)
	Release(ctx context.Context, s Strategy) error
}

// Metrics receives pipeline observations. Implementations must be safe for concurrent use.
type Metrics interface {
	DialAttempt(s Strategy, outcome string)
	ResultRecorded(s Strategy, r DetectionResult)
	WebhookEvent(source string, kind EventKind)
	AnalysisFinished(s Strategy, provider string, d time.Duration, err error)
}

type NopMetrics struct{}

func (NopMetrics) DialAttempt(Strategy, string)                            {}
func (NopMetrics) ResultRecorded(Strategy, DetectionResult)                {}
func (NopMetrics) WebhookEvent(string, EventKind)                          {}
func (NopMetrics) AnalysisFinished(Strategy, string, time.Duration, error) {}

// Random is the randomness used for synthetic ids, delays and simulated results.
type Random interface {
	Float64() float64
	IntN(n int) int
}

// DefaultRandom draws from the goroutine-safe math/rand/v2 global source.
type DefaultRandom struct{}

func (DefaultRandom) Float64() float64 { return rand.Float64() }
func (DefaultRandom) IntN(n int) int   { return rand.IntN(n) }
