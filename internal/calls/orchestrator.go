package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrchestratorOptions struct {
	Dialers map[Strategy]Dialer

	// Simulate schedules a synthetic completion for every placed call.
	Simulate bool
	MinDelay time.Duration
	MaxDelay time.Duration

	Scheduler Scheduler
	Limiter   Limiter
	Metrics   Metrics
	Random    Random
	Now       func() time.Time
	NewID     func() string
}

// Orchestrator places calls and owns the demo completion scheduler.
type Orchestrator struct {
	repo      Repository
	sink      *Sink
	log       *slog.Logger
	dialers   map[Strategy]Dialer
	simulate  bool
	minDelay  time.Duration
	maxDelay  time.Duration
	scheduler Scheduler
	limiter   Limiter
	metrics   Metrics
	rand      Random
	now       func() time.Time
	newID     func() string
}

func NewOrchestrator(repo Repository, sink *Sink, log *slog.Logger, opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		repo:      repo,
		sink:      sink,
		log:       log,
		dialers:   opts.Dialers,
		simulate:  opts.Simulate,
		minDelay:  opts.MinDelay,
		maxDelay:  opts.MaxDelay,
		scheduler: opts.Scheduler,
		limiter:   opts.Limiter,
		metrics:   opts.Metrics,
		rand:      opts.Random,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.dialers == nil {
		o.dialers = map[Strategy]Dialer{}
	}
	if o.minDelay <= 0 {
		o.minDelay = 3 * time.Second
	}
	if o.maxDelay < o.minDelay {
		o.maxDelay = o.minDelay + 2*time.Second
	}
	if o.scheduler == nil {
		o.scheduler = NewTimerScheduler()
	}
	if o.limiter == nil {
		o.limiter = NoopLimiter{}
	}
	if o.metrics == nil {
		o.metrics = NopMetrics{}
	}
	if o.rand == nil {
		o.rand = DefaultRandom{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// PlaceCall creates a call record and dials it through the strategy's backend.
//
// A dial failure never leaves the record without a provider handle: a synthetic id is
// stored instead. In simulation mode the call then completes on its own; otherwise it
// is finished with status error.
func (o *Orchestrator) PlaceCall(ctx context.Context, phone string, strategy Strategy) (Call, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Call{}, fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}
	if !strategy.Valid() {
		return Call{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, strategy)
	}

	slotted, err := o.limiter.Acquire(ctx, strategy)
	if err != nil {
		// A broken limiter must not block calls.
		o.log.Warn("in-flight limiter unavailable", "strategy", string(strategy), "err", err)
	} else if !slotted {
		o.metrics.DialAttempt(strategy, "rejected")
		return Call{}, ErrTooManyInFlight
	}

	now := o.now().UTC()
	c := Call{
		ID:        o.newID(),
		Phone:     phone,
		Strategy:  strategy,
		Status:    CallStatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.repo.Create(ctx, c); err != nil {
		if slotted {
			_ = o.limiter.Release(ctx, strategy)
		}
		return Call{}, err
	}
	if !slotted {
		o.sink.skipRelease(c.ID)
	}

	log := o.log.With("call_id", c.ID, "strategy", string(strategy))

	providerID, dialErr := o.dial(ctx, c)
	if dialErr != nil {
		providerID = SyntheticProviderCallID(o.rand)
		log.Warn("dial failed, using synthetic provider id", "err", dialErr, "provider_call_id", providerID)
	}
	if err := o.repo.SetProviderCallID(ctx, c.ID, providerID, o.now().UTC()); err != nil {
		log.Error("store provider call id", "provider_call_id", providerID, "err", err)
		if dialErr == nil {
			o.hangupQuietly(ctx, c, providerID)
		}
		o.abandon(ctx, c, providerID, err)
		return Call{}, err
	}

	switch {
	case o.simulate:
		o.scheduleSimulation(c.ID)
	case dialErr != nil:
		kind := KindOf(dialErr)
		if kind == ErrorKindInternal {
			kind = ErrorKindCallFailed
		}
		res := FailureResult(o.providerName(strategy), kind, dialErr.Error(), o.now())
		res.ProviderCallID = providerID
		if _, err := o.sink.Apply(ctx, c.ID, ProviderEvent{Kind: EventFailure, Result: &res}); err != nil {
			return Call{}, err
		}
	}

	return o.repo.Get(ctx, c.ID)
}

// abandon finishes a call that lost its provider handle. If the record cannot be
// finalized either, the slot is released directly.
func (o *Orchestrator) abandon(ctx context.Context, c Call, providerID string, cause error) {
	res := FailureResult(o.providerName(c.Strategy), ErrorKindInternal, "store provider call id: "+cause.Error(), o.now())
	res.ProviderCallID = providerID
	if _, err := o.sink.Apply(ctx, c.ID, ProviderEvent{Kind: EventFailure, Result: &res}); err != nil {
		o.log.Error("finalize abandoned call", "call_id", c.ID, "err", err)
		o.sink.releaseSlot(ctx, c)
	}
}

func (o *Orchestrator) hangupQuietly(ctx context.Context, c Call, providerID string) {
	d, ok := o.dialers[c.Strategy]
	if !ok {
		return
	}
	if err := d.Hangup(ctx, providerID); err != nil {
		o.log.Warn("hangup abandoned call", "call_id", c.ID, "provider_call_id", providerID, "err", err)
	}
}

func (o *Orchestrator) dial(ctx context.Context, c Call) (string, error) {
	d, ok := o.dialers[c.Strategy]
	if !ok {
		o.metrics.DialAttempt(c.Strategy, string(ErrorKindProviderUnavailable))
		return "", fmt.Errorf("%w: no dialer for %s", ErrProviderUnavailable, c.Strategy)
	}
	res, err := d.Dial(ctx, DialRequest{CallID: c.ID, To: c.Phone, Strategy: c.Strategy})
	if err == nil && res.ProviderCallID == "" {
		err = fmt.Errorf("%w: %s returned no call id", ErrUnparsableResponse, d.Name())
	}
	if err != nil {
		o.metrics.DialAttempt(c.Strategy, string(KindOf(err)))
		return "", fmt.Errorf("dial %s: %w", d.Name(), err)
	}
	o.metrics.DialAttempt(c.Strategy, "ok")
	return res.ProviderCallID, nil
}

func (o *Orchestrator) providerName(s Strategy) string {
	if d, ok := o.dialers[s]; ok {
		return d.Name()
	}
	return ProviderName(s)
}

func (o *Orchestrator) scheduleSimulation(callID string) {
	delay := SimulationDelay(o.rand, o.minDelay, o.maxDelay)
	o.scheduler.Schedule(callID, delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := o.SimulateCompletion(ctx, callID); err != nil {
			o.log.Error("simulated completion failed", "call_id", callID, "err", err)
		}
	})
}

// SimulateCompletion finishes a call with a synthetic, strategy-shaped detection.
func (o *Orchestrator) SimulateCompletion(ctx context.Context, callID string) (Outcome, error) {
	c, err := o.repo.Get(ctx, callID)
	if err != nil {
		return Outcome{}, err
	}
	res := SimulatedResult(c.Strategy, c.ProviderCallID, o.rand, o.now())
	return o.sink.Apply(ctx, callID, ProviderEvent{Kind: EventDetection, Source: "simulator", Result: &res})
}

type HangupResult struct {
	OK     bool `json:"ok"`
	Mocked bool `json:"mocked"`
}

// Hangup ends a call. Calls without a real provider handle, or whose backend has no
// credentials, are only ended locally.
func (o *Orchestrator) Hangup(ctx context.Context, callID string) (HangupResult, error) {
	c, err := o.repo.Get(ctx, callID)
	if err != nil {
		return HangupResult{}, err
	}
	o.scheduler.Cancel(callID)

	mocked := true
	if d, ok := o.dialers[c.Strategy]; ok && !IsSyntheticProviderCallID(c.ProviderCallID) {
		err := d.Hangup(ctx, c.ProviderCallID)
		switch {
		case err == nil:
			mocked = false
		case errors.Is(err, ErrMissingCredentials):
			o.log.Warn("hangup without credentials, ending locally", "call_id", callID)
		default:
			err = fmt.Errorf("hangup %s: %w", d.Name(), err)
			kind := KindOf(err)
			if kind == ErrorKindInternal {
				kind = ErrorKindCallFailed
			}
			ev := ProviderEvent{Kind: EventFailure, Source: d.Name(), ErrorKind: kind, Error: err.Error()}
			if _, aerr := o.sink.Apply(ctx, callID, ev); aerr != nil {
				o.log.Error("finalize after failed hangup", "call_id", callID, "err", aerr)
			}
			return HangupResult{}, err
		}
	}

	res := DetectionResult{
		AMDStatus:      AMDUnknown,
		Provider:       o.providerName(c.Strategy),
		Provenance:     ProvenanceLive,
		ProviderCallID: c.ProviderCallID,
		Note:           "ended by operator",
	}
	if mocked {
		res.Provenance = ProvenanceMock
	}
	res = res.Normalize(o.now())
	if _, err := o.sink.Apply(ctx, callID, ProviderEvent{Kind: EventDetection, Source: "operator", Result: &res}); err != nil {
		return HangupResult{}, err
	}
	return HangupResult{OK: true, Mocked: mocked}, nil
}

// Stop cancels every pending simulation.
func (o *Orchestrator) Stop() { o.scheduler.Stop() }
