package calls

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepBatch = 200

type SweeperOptions struct {
	// Schedule is a cron expression; descriptors such as "@every 30s" are accepted.
	Schedule   string
	StaleAfter time.Duration
	Now        func() time.Time
}

// Sweeper finishes calls that never received a terminal event.
type Sweeper struct {
	repo       Repository
	sink       *Sink
	log        *slog.Logger
	schedule   string
	staleAfter time.Duration
	now        func() time.Time

	cron *cron.Cron
}

func NewSweeper(repo Repository, sink *Sink, log *slog.Logger, opts SweeperOptions) *Sweeper {
	s := &Sweeper{
		repo:       repo,
		sink:       sink,
		log:        log,
		schedule:   opts.Schedule,
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.schedule == "" {
		s.schedule = "@every 1m"
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start registers the sweep job. It is a no-op when StaleAfter is zero.
func (s *Sweeper) Start() error {
	if s.staleAfter <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("stale call sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("calls: sweeper schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("stale call sweeper started", "schedule", s.schedule, "stale_after", s.staleAfter.String())
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep finishes every non-terminal call not updated within StaleAfter.
// It returns the number of calls it finished.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.staleAfter <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.repo.List(ctx, ListFilter{
		Limit:         sweepBatch,
		Statuses:      []CallStatus{CallStatusInitiated, CallStatusRinging, CallStatusInProgress, CallStatusProcessing},
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, err
	}

	finished := 0
	for _, c := range stale {
		msg := fmt.Sprintf("no terminal event within %s (last status %s)", s.staleAfter, c.Status)
		out, err := s.sink.Apply(ctx, c.ID, ProviderEvent{
			Kind:           EventFailure,
			Source:         ProviderName(c.Strategy),
			ProviderCallID: c.ProviderCallID,
			Error:          msg,
			ErrorKind:      ErrorKindTimeout,
		})
		if err != nil {
			s.log.Warn("sweep call", "call_id", c.ID, "err", err)
			continue
		}
		if out.Applied {
			finished++
		}
	}
	if finished > 0 {
		s.log.Info("swept stale calls", "count", finished)
	}
	return finished, nil
}
