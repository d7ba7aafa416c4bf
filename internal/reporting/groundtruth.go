package reporting

import (
	"fmt"
	"strings"
	"sync"

	"amd-platform/internal/calls"
)

// GroundTruth says what a call's far end actually was. ok is false when the
// call is unlabelled; such calls are left out of the confusion matrix.
type GroundTruth interface {
	Name() string
	Label(c calls.Call) (truth calls.AMDStatus, ok bool)
}

const (
	GroundTruthNone        = "none"
	GroundTruthPhoneParity = "phone_parity"
	GroundTruthStatic      = "static"
)

// NewGroundTruth resolves a configured oracle name. "none" returns nil.
func NewGroundTruth(name string) (GroundTruth, error) {
	switch strings.TrimSpace(name) {
	case "", GroundTruthNone:
		return nil, nil
	case GroundTruthPhoneParity:
		return PhoneParityOracle{}, nil
	case GroundTruthStatic:
		return NewStaticLabels(nil), nil
	default:
		return nil, fmt.Errorf("reporting: unknown ground truth %q", name)
	}
}

// PhoneParityOracle is a demo placeholder: numbers ending in an even digit are
// machines, odd digits are humans. It carries no real signal.
type PhoneParityOracle struct{}

func (PhoneParityOracle) Name() string { return GroundTruthPhoneParity }

func (PhoneParityOracle) Label(c calls.Call) (calls.AMDStatus, bool) {
	p := strings.TrimSpace(c.Phone)
	if p == "" {
		return "", false
	}
	last := p[len(p)-1]
	if last < '0' || last > '9' {
		return "", false
	}
	if (last-'0')%2 == 0 {
		return calls.AMDMachine, true
	}
	return calls.AMDHuman, true
}

// StaticLabels holds explicit per-call labels, e.g. from manual review.
type StaticLabels struct {
	mu     sync.RWMutex
	labels map[string]calls.AMDStatus
}

func NewStaticLabels(labels map[string]calls.AMDStatus) *StaticLabels {
	s := &StaticLabels{labels: map[string]calls.AMDStatus{}}
	for id, l := range labels {
		s.labels[id] = l
	}
	return s
}

func (s *StaticLabels) Name() string { return GroundTruthStatic }

// Set records a label. Only human and machine are accepted.
func (s *StaticLabels) Set(callID string, truth calls.AMDStatus) error {
	if callID == "" || !truth.Determined() {
		return fmt.Errorf("reporting: invalid label %q for call %q", truth, callID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[callID] = truth
	return nil
}

func (s *StaticLabels) Label(c calls.Call) (calls.AMDStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labels[c.ID]
	if !ok || !l.Determined() {
		return "", false
	}
	return l, true
}
