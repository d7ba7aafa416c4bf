package pricing

import (
	"context"
	"sync"
	"time"

	"amd-platform/internal/calls"
)

// MemoryRepo is an in-memory rate table. Rates are small and rarely change, so
// the process keeps them in memory and Put replaces them at runtime.
type MemoryRepo struct {
	mu    sync.RWMutex
	rates []StrategyPricing
}

func NewMemoryRepo(rates ...StrategyPricing) *MemoryRepo {
	return &MemoryRepo{rates: append([]StrategyPricing(nil), rates...)}
}

func (r *MemoryRepo) Put(p StrategyPricing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rates {
		if r.rates[i].ID == p.ID {
			r.rates[i] = p
			return
		}
	}
	r.rates = append(r.rates, p)
}

func (r *MemoryRepo) FindStrategyPricing(ctx context.Context, strategy calls.Strategy, at time.Time) (StrategyPricing, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Prefer the most recent effective pricing row.
	var best StrategyPricing
	found := false

	for _, p := range r.rates {
		if p.Strategy != strategy {
			continue
		}
		if p.Status != PricingStatusActive {
			continue
		}
		if at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}

		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}

	return best, found, nil
}
