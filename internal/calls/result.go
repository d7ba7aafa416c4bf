package calls

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResultSchemaVersion is bumped whenever DetectionResult changes incompatibly.
const ResultSchemaVersion = 1

type AMDStatus string

const (
	AMDHuman   AMDStatus = "human"
	AMDMachine AMDStatus = "machine"
	AMDUnknown AMDStatus = "unknown"
)

func (s AMDStatus) Valid() bool {
	switch s {
	case AMDHuman, AMDMachine, AMDUnknown:
		return true
	default:
		return false
	}
}

// Determined reports whether the result committed to human or machine.
func (s AMDStatus) Determined() bool {
	switch s {
	case AMDHuman, AMDMachine:
		return true
	case AMDUnknown:
		return false
	default:
		return false
	}
}

// Provenance tells live provider output apart from synthetic results.
type Provenance string

const (
	ProvenanceLive      Provenance = "live"
	ProvenanceMock      Provenance = "mock"      // credentials missing
	ProvenanceSimulated Provenance = "simulated" // demo self-completion
	ProvenanceFallback  Provenance = "fallback"  // best-effort recovery from a degraded provider
)

func (p Provenance) Synthetic() bool {
	switch p {
	case ProvenanceLive:
		return false
	case ProvenanceMock, ProvenanceSimulated, ProvenanceFallback:
		return true
	default:
		return true
	}
}

// DetectionResult is the canonical shape every strategy converges to.
type DetectionResult struct {
	SchemaVersion int        `json:"schemaVersion"`
	AMDStatus     AMDStatus  `json:"amdStatus"`
	Confidence    float64    `json:"confidence"`
	Provider      string     `json:"provider"`
	Provenance    Provenance `json:"provenance"`

	ProviderCallID string `json:"providerCallId,omitempty"`

	Model            string   `json:"model,omitempty"`
	Transcription    string   `json:"transcription,omitempty"`
	Reasoning        string   `json:"reasoning,omitempty"`
	DetectionMethod  string   `json:"detectionMethod,omitempty"`
	DetectedPatterns []string `json:"detectedPatterns,omitempty"`
	Note             string   `json:"note,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`

	DetectedAt time.Time `json:"detectedAt"`
}

// Normalize fills defaults and clamps confidence into [0, 1].
func (r DetectionResult) Normalize(now time.Time) DetectionResult {
	if r.SchemaVersion == 0 {
		r.SchemaVersion = ResultSchemaVersion
	}
	if !r.AMDStatus.Valid() {
		r.AMDStatus = AMDUnknown
	}
	if r.Provenance == "" {
		r.Provenance = ProvenanceLive
	}
	switch {
	case r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
	if r.DetectedAt.IsZero() {
		r.DetectedAt = now.UTC()
	}
	return r
}

// FailureResult describes why a call ended in the error state.
func FailureResult(provider string, kind ErrorKind, msg string, now time.Time) DetectionResult {
	return DetectionResult{
		SchemaVersion: ResultSchemaVersion,
		AMDStatus:     AMDUnknown,
		Provider:      provider,
		Provenance:    ProvenanceLive,
		Error:         msg,
		ErrorKind:     kind,
		DetectedAt:    now.UTC(),
	}
}

// EncodeResult serializes a result for storage or export.
func EncodeResult(r DetectionResult) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("calls: encode result: %w", err)
	}
	return b, nil
}

// DecodeResult parses a stored result. Empty input yields (nil, nil).
func DecodeResult(b []byte) (*DetectionResult, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var r DetectionResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("calls: decode result: %w", err)
	}
	return &r, nil
}
