package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSink(repo Repository, opts SinkOptions) *Sink {
	if opts.Now == nil {
		base := time.Date(2024, 5, 1, 10, 0, 10, 0, time.UTC)
		opts.Now = func() time.Time { return base }
	}
	return NewSink(repo, discardLogger(), opts)
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestSinkApply_FirstWriteWins(t *testing.T) {
	repo := NewMemoryRepo()
	lim := &countingLimiter{limit: 10, inFlight: 1}
	sched := newManualScheduler()
	sink := newTestSink(repo, SinkOptions{Limiter: lim, Scheduler: sched})
	seedCall(t, repo, "c1", StrategyNativeTelephony, CallStatusInProgress, t0)

	first := DetectionResult{AMDStatus: AMDMachine, Confidence: 0.92, Provider: "twilio"}
	out, err := sink.Apply(context.Background(), "c1", ProviderEvent{Kind: EventDetection, Result: &first})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Applied || out.Status != CallStatusCompleted {
		t.Fatalf("expected first result applied, got %+v", out)
	}

	second := DetectionResult{AMDStatus: AMDHuman, Confidence: 0.88, Provider: "twilio"}
	out, err = sink.Apply(context.Background(), "c1", ProviderEvent{Kind: EventDetection, Result: &second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Applied {
		t.Fatalf("expected second result to be ignored")
	}

	late, err := sink.Apply(context.Background(), "c1", ProviderEvent{Kind: EventFailure, Error: "busy"})
	if err != nil || late.Applied {
		t.Fatalf("expected late failure to be ignored, got %+v, %v", late, err)
	}

	c, _ := repo.Get(context.Background(), "c1")
	if c.Status != CallStatusCompleted || c.Result == nil || c.Result.AMDStatus != AMDMachine {
		t.Fatalf("expected first result to stick, got %+v", c)
	}
	if lim.released != 1 {
		t.Fatalf("expected exactly one slot release, got %d", lim.released)
	}
	if len(sched.cancelled) != 1 || sched.cancelled[0] != "c1" {
		t.Fatalf("expected pending simulation cancelled once, got %v", sched.cancelled)
	}
}

func TestSinkApply_StatusOnlyMovesForward(t *testing.T) {
	repo := NewMemoryRepo()
	sink := newTestSink(repo, SinkOptions{})
	seedCall(t, repo, "c1", StrategySIPPlatform, CallStatusInitiated, t0)
	ctx := context.Background()

	out, err := sink.Apply(ctx, "c1", ProviderEvent{Kind: EventStatus, Status: CallStatusInProgress})
	if err != nil || !out.Applied {
		t.Fatalf("expected forward transition, got %+v, %v", out, err)
	}
	out, err = sink.Apply(ctx, "c1", ProviderEvent{Kind: EventStatus, Status: CallStatusRinging})
	if err != nil || out.Applied {
		t.Fatalf("expected backwards transition ignored, got %+v, %v", out, err)
	}

	// A finished leg is not a finished detection.
	out, err = sink.Apply(ctx, "c1", ProviderEvent{Kind: EventStatus, Status: CallStatusCompleted})
	if err != nil || out.Applied {
		t.Fatalf("expected completed leg to be a no-op from in_progress, got %+v, %v", out, err)
	}
	c, _ := repo.Get(ctx, "c1")
	if c.Status != CallStatusInProgress || c.Result != nil {
		t.Fatalf("expected call still awaiting detection, got %+v", c)
	}
}

func TestSinkApply_ProviderFailureTerminates(t *testing.T) {
	repo := NewMemoryRepo()
	sink := newTestSink(repo, SinkOptions{})
	seedCall(t, repo, "c1", StrategyNativeTelephony, CallStatusRinging, t0)

	out, err := sink.Apply(context.Background(), "c1", ProviderEvent{
		Kind:   EventStatus,
		Status: CallStatusError,
		Source: "twilio",
		Error:  "call status busy",
	})
	if err != nil || !out.Applied || out.Status != CallStatusError {
		t.Fatalf("expected error status applied, got %+v, %v", out, err)
	}
	c, _ := repo.Get(context.Background(), "c1")
	if c.Result == nil || c.Result.ErrorKind != ErrorKindCallFailed || c.Result.Error != "call status busy" {
		t.Fatalf("expected descriptive failure result, got %+v", c.Result)
	}
}

func TestSinkApply_UnknownCall(t *testing.T) {
	sink := newTestSink(NewMemoryRepo(), SinkOptions{})
	_, err := sink.Apply(context.Background(), "missing", ProviderEvent{Kind: EventStatus, Status: CallStatusRinging})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSinkApply_DetectionRequiresResult(t *testing.T) {
	repo := NewMemoryRepo()
	sink := newTestSink(repo, SinkOptions{})
	seedCall(t, repo, "c1", StrategyNativeTelephony, CallStatusRinging, t0)
	_, err := sink.Apply(context.Background(), "c1", ProviderEvent{Kind: EventDetection})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSinkApply_RecordingRunsAnalysis(t *testing.T) {
	repo := NewMemoryRepo()
	analyzer := fakeAnalyzer{name: "huggingface", res: DetectionResult{AMDStatus: AMDMachine, Confidence: 0.85, Provider: "huggingface"}}
	sink := newTestSink(repo, SinkOptions{Analyzers: map[Strategy]Analyzer{StrategyMLInference: analyzer}})
	seedCall(t, repo, "c1", StrategyMLInference, CallStatusInProgress, t0)

	out, err := sink.Apply(context.Background(), "c1", ProviderEvent{
		Kind:           EventRecordingReady,
		ProviderCallID: "CA123",
		RecordingURL:   "https://api.twilio.com/rec/RE1",
	})
	if err != nil || !out.Applied || out.Status != CallStatusProcessing {
		t.Fatalf("expected processing, got %+v, %v", out, err)
	}
	sink.Wait()

	c, _ := repo.Get(context.Background(), "c1")
	if c.Status != CallStatusCompleted || c.Result == nil {
		t.Fatalf("expected completed call, got %+v", c)
	}
	if c.Result.AMDStatus != AMDMachine || c.Result.ProviderCallID != "CA123" {
		t.Fatalf("unexpected result %+v", c.Result)
	}
}

func TestSinkApply_AnalysisFailureEndsInError(t *testing.T) {
	repo := NewMemoryRepo()
	analyzer := fakeAnalyzer{name: "gemini", err: errWrap(ErrProviderUnavailable)}
	sink := newTestSink(repo, SinkOptions{Analyzers: map[Strategy]Analyzer{StrategyGenerativeAudio: analyzer}})
	seedCall(t, repo, "c1", StrategyGenerativeAudio, CallStatusInProgress, t0)

	if _, err := sink.Apply(context.Background(), "c1", ProviderEvent{Kind: EventRecordingReady, RecordingURL: "https://x/rec"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sink.Wait()

	c, _ := repo.Get(context.Background(), "c1")
	if c.Status != CallStatusError {
		t.Fatalf("expected error status, got %s", c.Status)
	}
	if c.Result == nil || c.Result.ErrorKind != ErrorKindProviderUnavailable {
		t.Fatalf("expected provider_unavailable result, got %+v", c.Result)
	}
}

func TestSinkApply_RecordingIgnoredForLiveStrategies(t *testing.T) {
	repo := NewMemoryRepo()
	sink := newTestSink(repo, SinkOptions{})
	seedCall(t, repo, "c1", StrategyNativeTelephony, CallStatusInProgress, t0)

	out, err := sink.Apply(context.Background(), "c1", ProviderEvent{Kind: EventRecordingReady, RecordingURL: "https://x/rec"})
	if err != nil || out.Applied {
		t.Fatalf("expected recording ignored, got %+v, %v", out, err)
	}
	c, _ := repo.Get(context.Background(), "c1")
	if c.Status != CallStatusInProgress {
		t.Fatalf("expected status unchanged, got %s", c.Status)
	}
}

func TestSinkApply_DuplicateRecordingAnalyzedOnce(t *testing.T) {
	repo := NewMemoryRepo()
	sink := newTestSink(repo, SinkOptions{})
	seedCall(t, repo, "c1", StrategyMLInference, CallStatusProcessing, t0)

	out, err := sink.Apply(context.Background(), "c1", ProviderEvent{Kind: EventRecordingReady, RecordingURL: "https://x/rec"})
	if err != nil || out.Applied {
		t.Fatalf("expected duplicate recording ignored, got %+v, %v", out, err)
	}
}
