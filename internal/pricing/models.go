package pricing

import (
	"time"

	"amd-platform/internal/calls"
)

// Amounts are expressed in micro-units of Currency (1 USD = 1_000_000) using int64;
// detection prices are fractions of a cent.

// StrategyPricing is the price of running one call through a detection strategy.
type StrategyPricing struct {
	ID       string         `json:"id" db:"id"`
	Strategy calls.Strategy `json:"strategy" db:"strategy"`

	Currency string `json:"currency" db:"currency"`

	// PerCallMicros is charged once per call regardless of duration.
	PerCallMicros int64 `json:"per_call_micros" db:"per_call_micros"`

	// PerMinuteMicros is charged per billable minute of the call (0 for flat pricing).
	PerMinuteMicros int64 `json:"per_minute_micros" db:"per_minute_micros"`

	// BillingIncrementSeconds (e.g., 60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration.
	MinimumBillableSeconds int `json:"minimum_billable_seconds" db:"minimum_billable_seconds"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PricingStatus `json:"status" db:"status"`
}

type PricingStatus string

const (
	PricingStatusActive   PricingStatus = "active"
	PricingStatusInactive PricingStatus = "inactive"
)

const microsPerUnit = 1_000_000

// ToUnits converts micro-units to a float amount for presentation.
func ToUnits(micros int64) float64 {
	return float64(micros) / microsPerUnit
}

// DefaultRates is the published per-call estimate for each strategy.
func DefaultRates(effectiveFrom time.Time) []StrategyPricing {
	flat := map[calls.Strategy]int64{
		calls.StrategyNativeTelephony: 15_000,
		calls.StrategySIPPlatform:     8_000,
		calls.StrategyMLInference:     5_000,
		calls.StrategyGenerativeAudio: 3_000,
	}
	out := make([]StrategyPricing, 0, len(flat))
	for _, s := range calls.Strategies() {
		out = append(out, StrategyPricing{
			ID:            "default-" + string(s),
			Strategy:      s,
			Currency:      "USD",
			PerCallMicros: flat[s],
			EffectiveFrom: effectiveFrom,
			Status:        PricingStatusActive,
		})
	}
	return out
}
