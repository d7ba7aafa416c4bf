package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultAnalysisTimeout = 60 * time.Second
	maxTransitionAttempts  = 3
)

type SinkOptions struct {
	Analyzers       map[Strategy]Analyzer
	Scheduler       Scheduler
	Limiter         Limiter
	Metrics         Metrics
	AnalysisTimeout time.Duration
	Now             func() time.Time
}

// Sink applies normalized provider events to stored calls.
//
// Terminal writes are first-write-wins: the store only finalizes a call that is not
// terminal yet, so a late webhook can never overwrite an earlier result.
type Sink struct {
	repo      Repository
	log       *slog.Logger
	analyzers map[Strategy]Analyzer
	scheduler Scheduler
	limiter   Limiter
	metrics   Metrics
	timeout   time.Duration
	now       func() time.Time

	// unslotted holds ids of calls placed while the limiter was unavailable.
	unslotted sync.Map
	wg        sync.WaitGroup
}

func NewSink(repo Repository, log *slog.Logger, opts SinkOptions) *Sink {
	s := &Sink{
		repo:      repo,
		log:       log,
		analyzers: opts.Analyzers,
		scheduler: opts.Scheduler,
		limiter:   opts.Limiter,
		metrics:   opts.Metrics,
		timeout:   opts.AnalysisTimeout,
		now:       opts.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.analyzers == nil {
		s.analyzers = map[Strategy]Analyzer{}
	}
	if s.limiter == nil {
		s.limiter = NoopLimiter{}
	}
	if s.metrics == nil {
		s.metrics = NopMetrics{}
	}
	if s.timeout <= 0 {
		s.timeout = defaultAnalysisTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Wait blocks until every in-flight analysis has finished.
func (s *Sink) Wait() { s.wg.Wait() }

func (s *Sink) Apply(ctx context.Context, callID string, ev ProviderEvent) (Outcome, error) {
	c, err := s.repo.Get(ctx, callID)
	if err != nil {
		return Outcome{}, err
	}

	switch ev.Kind {
	case EventStatus:
		return s.applyStatus(ctx, c, ev)
	case EventDetection:
		if ev.Result == nil {
			return Outcome{}, fmt.Errorf("%w: detection event without result", ErrInvalidInput)
		}
		res := ev.Result.Normalize(s.now())
		if res.ProviderCallID == "" {
			res.ProviderCallID = firstNonEmpty(ev.ProviderCallID, c.ProviderCallID)
		}
		return s.finalize(ctx, c, CallStatusCompleted, res)
	case EventFailure:
		return s.finalize(ctx, c, CallStatusError, failureFromEvent(c, ev, s.now()))
	case EventRecordingReady:
		return s.applyRecording(ctx, c, ev)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown event kind %q", ErrInvalidInput, ev.Kind)
	}
}

func (s *Sink) applyStatus(ctx context.Context, c Call, ev ProviderEvent) (Outcome, error) {
	target := ev.Status
	switch target {
	case CallStatusCompleted:
		// The leg ended but the detection may still be in flight.
		target = CallStatusInProgress
	case CallStatusError:
		return s.finalize(ctx, c, CallStatusError, failureFromEvent(c, ev, s.now()))
	}
	if !target.Valid() {
		return Outcome{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, ev.Status)
	}

	cur := c.Status
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if !CanTransition(cur, target) {
			return Outcome{Applied: false, Status: cur, Reason: "transition not allowed"}, nil
		}
		ok, err := s.repo.TransitionStatus(ctx, c.ID, cur, target, s.now())
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return Outcome{Applied: true, Status: target}, nil
		}
		latest, err := s.repo.Get(ctx, c.ID)
		if err != nil {
			return Outcome{}, err
		}
		cur = latest.Status
	}
	return Outcome{Applied: false, Status: cur, Reason: "concurrent update"}, nil
}

func (s *Sink) applyRecording(ctx context.Context, c Call, ev ProviderEvent) (Outcome, error) {
	if !c.Strategy.PostCallAnalysis() {
		return Outcome{Applied: false, Status: c.Status, Reason: "strategy does not analyze recordings"}, nil
	}
	if ev.RecordingURL == "" {
		return Outcome{}, fmt.Errorf("%w: recording url is required", ErrInvalidInput)
	}
	if c.Status.Terminal() || c.Status == CallStatusProcessing {
		return Outcome{Applied: false, Status: c.Status, Reason: "already processing or finished"}, nil
	}

	ok, err := s.repo.TransitionStatus(ctx, c.ID, c.Status, CallStatusProcessing, s.now())
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{Applied: false, Status: c.Status, Reason: "concurrent update"}, nil
	}

	analyzer, found := s.analyzers[c.Strategy]
	if !found {
		res := FailureResult(ProviderName(c.Strategy), ErrorKindInternal, "no analyzer configured", s.now())
		return s.finalize(ctx, c, CallStatusError, res)
	}

	req := AnalysisRequest{
		CallID:         c.ID,
		ProviderCallID: firstNonEmpty(ev.ProviderCallID, c.ProviderCallID),
		RecordingURL:   ev.RecordingURL,
	}
	s.wg.Add(1)
	go s.runAnalysis(c, analyzer, req)

	return Outcome{Applied: true, Status: CallStatusProcessing}, nil
}

// runAnalysis is detached from the webhook request; it owns its own deadline.
func (s *Sink) runAnalysis(c Call, analyzer Analyzer, req AnalysisRequest) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	log := s.log.With("call_id", c.ID, "strategy", string(c.Strategy), "analyzer", analyzer.Name())
	start := time.Now()
	res, err := analyzer.Analyze(ctx, req)
	s.metrics.AnalysisFinished(c.Strategy, analyzer.Name(), time.Since(start), err)

	// A slow provider may have used up ctx; the store write gets its own budget.
	wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer wcancel()

	if err != nil {
		kind := KindOf(err)
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrorKindTimeout
		}
		log.Error("recording analysis failed", "err", err, "kind", string(kind))
		if _, ferr := s.finalize(wctx, c, CallStatusError, FailureResult(analyzer.Name(), kind, err.Error(), s.now())); ferr != nil {
			log.Error("finalize after analysis failure", "err", ferr)
		}
		return
	}

	res = res.Normalize(s.now())
	if res.ProviderCallID == "" {
		res.ProviderCallID = req.ProviderCallID
	}
	if _, err := s.finalize(wctx, c, CallStatusCompleted, res); err != nil {
		log.Error("finalize analysis result", "err", err)
	}
}

func (s *Sink) finalize(ctx context.Context, c Call, to CallStatus, res DetectionResult) (Outcome, error) {
	ok, err := s.repo.Finalize(ctx, c.ID, to, res, s.now())
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		s.log.Warn("ignoring result for finished call",
			"call_id", c.ID,
			"strategy", string(c.Strategy),
			"provider", res.Provider,
			"provenance", string(res.Provenance),
		)
		return Outcome{Applied: false, Reason: "call already finished"}, nil
	}

	if res.Provenance != ProvenanceSimulated && s.scheduler != nil {
		s.scheduler.Cancel(c.ID)
	}
	s.releaseSlot(ctx, c)
	s.metrics.ResultRecorded(c.Strategy, res)
	s.log.Info("call finished",
		"call_id", c.ID,
		"strategy", string(c.Strategy),
		"status", string(to),
		"amd_status", string(res.AMDStatus),
		"provenance", string(res.Provenance),
	)
	return Outcome{Applied: true, Status: to}, nil
}

// skipRelease records that callID never took an in-flight slot, so finishing it
// must not decrement the shared counter.
func (s *Sink) skipRelease(callID string) {
	s.unslotted.Store(callID, struct{}{})
}

func (s *Sink) releaseSlot(ctx context.Context, c Call) {
	if _, skip := s.unslotted.LoadAndDelete(c.ID); skip {
		return
	}
	if err := s.limiter.Release(ctx, c.Strategy); err != nil {
		s.log.Warn("release in-flight slot", "call_id", c.ID, "err", err)
	}
}

func failureFromEvent(c Call, ev ProviderEvent, now time.Time) DetectionResult {
	if ev.Result != nil {
		res := ev.Result.Normalize(now)
		if res.ErrorKind == "" {
			res.ErrorKind = firstKind(ev.ErrorKind, ErrorKindCallFailed)
		}
		return res
	}
	provider := ev.Source
	if provider == "" {
		provider = ProviderName(c.Strategy)
	}
	msg := ev.Error
	if msg == "" {
		msg = "provider reported failure"
	}
	res := FailureResult(provider, firstKind(ev.ErrorKind, ErrorKindCallFailed), msg, now)
	res.ProviderCallID = firstNonEmpty(ev.ProviderCallID, c.ProviderCallID)
	return res
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstKind(kinds ...ErrorKind) ErrorKind {
	for _, k := range kinds {
		if k != "" {
			return k
		}
	}
	return ""
}
