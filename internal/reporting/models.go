package reporting

import (
	"time"

	"amd-platform/internal/calls"
)

// Percentages are 0-100 rounded to one decimal; latencies are seconds rounded to
// two decimals; costs are in currency units.

// Confusion counts labelled determinations. Positive means machine.
type Confusion struct {
	TruePositives  int `json:"truePositives"`
	TrueNegatives  int `json:"trueNegatives"`
	FalsePositives int `json:"falsePositives"`
	FalseNegatives int `json:"falseNegatives"`
}

func (c Confusion) Total() int {
	return c.TruePositives + c.TrueNegatives + c.FalsePositives + c.FalseNegatives
}

type StrategyMetrics struct {
	Strategy calls.Strategy `json:"strategy"`

	TotalCalls      int `json:"totalCalls"`
	HumanDetected   int `json:"humanDetected"`
	MachineDetected int `json:"machineDetected"`
	ParseErrors     int `json:"parseErrors"`
	MockResults     int `json:"mockResults"`
	LabelledCalls   int `json:"labelledCalls"`

	AvgConfidence float64 `json:"avgConfidence"`
	AvgLatency    float64 `json:"avgLatency"`
	SuccessRate   float64 `json:"successRate"`

	CostPerCall float64 `json:"costPerCall"`
	TotalCost   float64 `json:"totalCost"`

	Confusion

	Accuracy        float64 `json:"accuracy"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1Score         float64 `json:"f1Score"`
	HumanAccuracy   float64 `json:"humanAccuracy"`
	MachineAccuracy float64 `json:"machineAccuracy"`
}

type Overall struct {
	TotalCalls         int     `json:"totalCalls"`
	AvgAccuracy        float64 `json:"avgAccuracy"`
	AvgLatency         float64 `json:"avgLatency"`
	TotalCost          float64 `json:"totalCost"`
	StrategiesAnalyzed int     `json:"strategiesAnalyzed"`
}

type Report struct {
	Overall     Overall           `json:"overall"`
	Strategies  []StrategyMetrics `json:"strategies"`
	GroundTruth string            `json:"groundTruth"`
	LastUpdated time.Time         `json:"lastUpdated"`
}

// Options tune a StrategyMetrics run.
type Options struct {
	// ExcludeSynthetic drops mock, simulated and fallback results.
	ExcludeSynthetic bool
}

type ComparisonRow struct {
	Strategy      calls.Strategy `json:"strategy"`
	TotalCalls    int            `json:"totalCalls"`
	SuccessRate   float64        `json:"successRate"`
	AvgLatency    float64        `json:"avgLatency"`
	AvgConfidence float64        `json:"avgConfidence"`
	CostPerCall   float64        `json:"costPerCall"`
	TotalCost     float64        `json:"totalCost"`
}

type ComparisonOverall struct {
	TotalCalls    int     `json:"totalCalls"`
	AvgConfidence float64 `json:"avgConfidence"`
	AvgLatency    float64 `json:"avgLatency"`
	TotalCost     float64 `json:"totalCost"`
}

// Comparison is the side-by-side view of strategies without ground truth.
type Comparison struct {
	Overall     ComparisonOverall `json:"overall"`
	Strategies  []ComparisonRow   `json:"strategies"`
	LastUpdated time.Time         `json:"lastUpdated"`
}
