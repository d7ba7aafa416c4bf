package pricing

import (
	"context"
	"errors"
	"time"

	"amd-platform/internal/calls"
)

// Service calculates detection costs per strategy.
//
// Contract:
// - Rates are looked up by strategy and effective time.
// - No provider SDK calls; pure calculation + repository lookups.
type Service struct {
	repo  RateRepository
	clock func() time.Time
}

func NewService(repo RateRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type CallCostRequest struct {
	Strategy calls.Strategy

	// Duration is the call length; only per-minute rates use it.
	Duration time.Duration

	// At determines which effective pricing to use. If zero, service clock is used.
	At time.Time
}

type CallCost struct {
	Strategy calls.Strategy
	Currency string

	BillableSeconds int
	BillableMinutes int

	PerCallMicros   int64
	PerMinuteMicros int64
	TotalMicros     int64
}

var (
	ErrPricingNotFound   = errors.New("pricing not found")
	ErrInvalidPricingReq = errors.New("invalid pricing request")
)

// CallCost computes the cost of one call for the given strategy.
func (s *Service) CallCost(ctx context.Context, req CallCostRequest) (CallCost, error) {
	if !req.Strategy.Valid() {
		return CallCost{}, ErrInvalidPricingReq
	}
	if req.Duration < 0 {
		return CallCost{}, ErrInvalidPricingReq
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}

	p, ok, err := s.repo.FindStrategyPricing(ctx, req.Strategy, at)
	if err != nil {
		return CallCost{}, err
	}
	if !ok {
		return CallCost{}, ErrPricingNotFound
	}

	out := CallCost{
		Strategy:        req.Strategy,
		Currency:        p.Currency,
		PerCallMicros:   p.PerCallMicros,
		PerMinuteMicros: p.PerMinuteMicros,
		TotalMicros:     p.PerCallMicros,
	}
	if p.PerMinuteMicros > 0 {
		out.BillableSeconds = billableSeconds(int(req.Duration/time.Second), p.MinimumBillableSeconds, p.BillingIncrementSeconds)
		out.BillableMinutes = billableMinutesFromSeconds(out.BillableSeconds)
		out.TotalMicros += p.PerMinuteMicros * int64(out.BillableMinutes)
	}
	return out, nil
}

// RateRepository abstracts pricing persistence.
type RateRepository interface {
	FindStrategyPricing(ctx context.Context, strategy calls.Strategy, at time.Time) (StrategyPricing, bool, error)
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
