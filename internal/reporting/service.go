package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"amd-platform/internal/calls"
	"amd-platform/internal/pricing"
)

var ErrNotConfigured = errors.New("reporting: repository not configured")

// Pricer prices a single call. *pricing.Service implements it.
type Pricer interface {
	CallCost(ctx context.Context, req pricing.CallCostRequest) (pricing.CallCost, error)
}

// Service computes read-only analytics over completed calls, on demand.
//
// IMPORTANT:
// - Nothing is cached or persisted; every report scans the store.
// - Only completed calls are analyzed. Calls that ended in error never produced a verdict.
type Service struct {
	repo   calls.Lister
	truth  GroundTruth
	pricer Pricer
	now    func() time.Time
}

// NewService wires the engine. truth and pricer may be nil: without ground truth the
// confusion matrix stays empty, without pricing costs are zero.
func NewService(repo calls.Lister, truth GroundTruth, pricer Pricer) *Service {
	return &Service{repo: repo, truth: truth, pricer: pricer, now: time.Now}
}

func (s *Service) completed(ctx context.Context) ([]calls.Call, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	return calls.ListAll(ctx, s.repo, calls.ListFilter{Statuses: []calls.CallStatus{calls.CallStatusCompleted}})
}

// accumulator gathers the raw sums for one strategy.
type accumulator struct {
	m           StrategyMetrics
	confidences []float64
	latencySum  float64
	costMicros  int64
	determined  int
}

func (s *Service) StrategyMetrics(ctx context.Context, opts Options) (Report, error) {
	rows, err := s.completed(ctx)
	if err != nil {
		return Report{}, err
	}

	acc := map[calls.Strategy]*accumulator{}
	total := 0
	for _, c := range rows {
		if opts.ExcludeSynthetic && c.Result != nil && c.Result.Provenance.Synthetic() {
			continue
		}
		a := acc[c.Strategy]
		if a == nil {
			a = &accumulator{m: StrategyMetrics{Strategy: c.Strategy}}
			acc[c.Strategy] = a
		}
		total++
		if err := s.observe(ctx, a, c); err != nil {
			return Report{}, err
		}
	}

	out := Report{Strategies: []StrategyMetrics{}, GroundTruth: GroundTruthNone, LastUpdated: s.now().UTC()}
	if s.truth != nil {
		out.GroundTruth = s.truth.Name()
	}

	var accuracySum, latencySum, costSum float64
	labelled := 0
	for _, st := range calls.Strategies() {
		a := acc[st]
		if a == nil {
			continue
		}
		m := a.finish()
		out.Strategies = append(out.Strategies, m)

		if m.Total() > 0 {
			accuracySum += m.Accuracy
			labelled++
		}
		latencySum += m.AvgLatency
		costSum += m.TotalCost
	}

	out.Overall = Overall{
		TotalCalls:         total,
		TotalCost:          round(costSum, 3),
		StrategiesAnalyzed: len(out.Strategies),
	}
	if labelled > 0 {
		out.Overall.AvgAccuracy = round(accuracySum/float64(labelled), 1)
	}
	if n := len(out.Strategies); n > 0 {
		out.Overall.AvgLatency = round(latencySum/float64(n), 2)
	}
	return out, nil
}

func (s *Service) observe(ctx context.Context, a *accumulator, c calls.Call) error {
	a.m.TotalCalls++
	a.latencySum += c.Latency().Seconds()

	micros, err := s.cost(ctx, c)
	if err != nil {
		return err
	}
	a.costMicros += micros

	r := c.Result
	if r == nil || c.ResultUndecodable {
		a.m.ParseErrors++
		return nil
	}
	if r.Provenance.Synthetic() {
		a.m.MockResults++
	}
	if r.Confidence > 0 {
		a.confidences = append(a.confidences, r.Confidence)
	}

	switch r.AMDStatus {
	case calls.AMDHuman:
		a.m.HumanDetected++
	case calls.AMDMachine:
		a.m.MachineDetected++
	default:
		a.m.ParseErrors++
		return nil
	}
	a.determined++

	if s.truth == nil {
		return nil
	}
	truth, ok := s.truth.Label(c)
	if !ok {
		return nil
	}
	a.m.LabelledCalls++
	switch {
	case truth == calls.AMDMachine && r.AMDStatus == calls.AMDMachine:
		a.m.TruePositives++
	case truth == calls.AMDHuman && r.AMDStatus == calls.AMDHuman:
		a.m.TrueNegatives++
	case truth == calls.AMDHuman && r.AMDStatus == calls.AMDMachine:
		a.m.FalsePositives++
	case truth == calls.AMDMachine && r.AMDStatus == calls.AMDHuman:
		a.m.FalseNegatives++
	}
	return nil
}

func (s *Service) cost(ctx context.Context, c calls.Call) (int64, error) {
	if s.pricer == nil {
		return 0, nil
	}
	cc, err := s.pricer.CallCost(ctx, pricing.CallCostRequest{Strategy: c.Strategy, Duration: c.Latency(), At: c.CreatedAt})
	switch {
	case errors.Is(err, pricing.ErrPricingNotFound):
		return 0, nil
	case err != nil:
		return 0, err
	}
	return cc.TotalMicros, nil
}

func (a *accumulator) finish() StrategyMetrics {
	m := a.m
	n := float64(m.TotalCalls)

	if len(a.confidences) > 0 {
		var sum float64
		for _, c := range a.confidences {
			sum += c
		}
		m.AvgConfidence = round(sum/float64(len(a.confidences))*100, 1)
	}
	m.AvgLatency = round(a.latencySum/n, 2)
	m.SuccessRate = pct(a.determined, m.TotalCalls)
	m.TotalCost = round(pricing.ToUnits(a.costMicros), 3)
	m.CostPerCall = round(pricing.ToUnits(a.costMicros)/n, 6)

	tp, tn, fp, fn := m.TruePositives, m.TrueNegatives, m.FalsePositives, m.FalseNegatives
	m.Accuracy = pct(tp+tn, m.Total())
	precision := ratio(tp, tp+fp) * 100
	recall := ratio(tp, tp+fn) * 100
	m.Precision = round(precision, 1)
	m.Recall = round(recall, 1)
	if precision+recall > 0 {
		m.F1Score = round(2*precision*recall/(precision+recall), 1)
	}
	m.HumanAccuracy = pct(tn, tn+fp)
	m.MachineAccuracy = pct(tp, tp+fn)
	return m
}

// Comparison is the ground-truth-free view: success rate, latency, confidence and cost.
func (s *Service) Comparison(ctx context.Context) (Comparison, error) {
	report, err := s.StrategyMetrics(ctx, Options{})
	if err != nil {
		return Comparison{}, err
	}

	out := Comparison{Strategies: make([]ComparisonRow, 0, len(report.Strategies)), LastUpdated: report.LastUpdated}
	var confSum float64
	for _, m := range report.Strategies {
		out.Strategies = append(out.Strategies, ComparisonRow{
			Strategy:      m.Strategy,
			TotalCalls:    m.TotalCalls,
			SuccessRate:   m.SuccessRate,
			AvgLatency:    m.AvgLatency,
			AvgConfidence: m.AvgConfidence,
			CostPerCall:   m.CostPerCall,
			TotalCost:     m.TotalCost,
		})
		confSum += m.AvgConfidence
	}

	out.Overall = ComparisonOverall{
		TotalCalls: report.Overall.TotalCalls,
		AvgLatency: report.Overall.AvgLatency,
		TotalCost:  report.Overall.TotalCost,
	}
	if n := len(out.Strategies); n > 0 {
		out.Overall.AvgConfidence = round(confSum/float64(n), 1)
	}
	return out, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func pct(num, den int) float64 {
	return round(ratio(num, den)*100, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
