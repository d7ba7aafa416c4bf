package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"amd-platform/internal/calls"
)

const (
	defaultInferenceEndpoint = "https://api-inference.huggingface.co/models/facebook/wav2vec2-base-960h"
	defaultInferenceModel    = "wav2vec2-base-960h"
)

type InferenceConfig struct {
	Token    string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Options carries the collaborators shared by both analyzers.
type Options struct {
	Log    *slog.Logger
	Random calls.Random
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Random == nil {
		o.Random = calls.DefaultRandom{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// InferenceAnalyzer transcribes a recording with a speech-to-text model and
// classifies the transcript with the voicemail pattern set.
type InferenceAnalyzer struct {
	cfg    InferenceConfig
	client *resty.Client
	fetch  *RecordingFetcher
	opts   Options
}

func NewInferenceAnalyzer(cfg InferenceConfig, fetch *RecordingFetcher, hc *http.Client, opts Options) *InferenceAnalyzer {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultInferenceEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultInferenceModel
	}
	return &InferenceAnalyzer{
		cfg:    cfg,
		client: newClient(hc, cfg.Timeout),
		fetch:  fetch,
		opts:   opts.withDefaults(),
	}
}

var _ calls.Analyzer = (*InferenceAnalyzer)(nil)

func (a *InferenceAnalyzer) Name() string { return "huggingface" }

type inferenceResponse struct {
	Text string `json:"text"`
}

func (a *InferenceAnalyzer) Analyze(ctx context.Context, req calls.AnalysisRequest) (calls.DetectionResult, error) {
	now := a.opts.Now()
	if a.cfg.Token == "" {
		a.opts.Log.Warn("inference token not set, returning mock result", "call_id", req.CallID)
		return a.mockResult(req, now), nil
	}

	audio, err := a.fetch.Fetch(ctx, req.RecordingURL)
	if err != nil {
		return calls.DetectionResult{}, err
	}

	var out inferenceResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetAuthToken(a.cfg.Token).
		SetHeader("Content-Type", "audio/wav").
		SetHeader("Accept", "application/json").
		SetBody(audio).
		SetResult(&out).
		Post(a.cfg.Endpoint)
	if err != nil {
		return calls.DetectionResult{}, fmt.Errorf("huggingface: %w: %v", calls.ErrProviderUnavailable, err)
	}
	if resp.StatusCode() == http.StatusServiceUnavailable {
		a.opts.Log.Warn("inference model loading, using fallback", "call_id", req.CallID)
		return a.loadingResult(req, now), nil
	}
	if resp.IsError() {
		return calls.DetectionResult{}, fmt.Errorf("huggingface: %w: http %d", calls.ErrProviderUnavailable, resp.StatusCode())
	}

	m := MatchVoicemail(out.Text)
	status := calls.AMDHuman
	if m.Machine {
		status = calls.AMDMachine
	}
	return calls.DetectionResult{
		SchemaVersion:    calls.ResultSchemaVersion,
		AMDStatus:        status,
		Confidence:       m.Confidence,
		Provider:         a.Name(),
		Provenance:       calls.ProvenanceLive,
		ProviderCallID:   req.ProviderCallID,
		Model:            a.cfg.Model,
		Transcription:    out.Text,
		DetectedPatterns: m.Patterns,
		DetectedAt:       now.UTC(),
	}, nil
}

func (a *InferenceAnalyzer) mockResult(req calls.AnalysisRequest, now time.Time) calls.DetectionResult {
	status := calls.AMDMachine
	if a.opts.Random.Float64() > 0.5 {
		status = calls.AMDHuman
	}
	return calls.DetectionResult{
		SchemaVersion:  calls.ResultSchemaVersion,
		AMDStatus:      status,
		Confidence:     0.85 + a.opts.Random.Float64()*0.1,
		Provider:       a.Name(),
		Provenance:     calls.ProvenanceMock,
		ProviderCallID: req.ProviderCallID,
		Model:          "mock",
		Transcription:  "Mock transcription - API key not configured",
		DetectedAt:     now.UTC(),
	}
}

func (a *InferenceAnalyzer) loadingResult(req calls.AnalysisRequest, now time.Time) calls.DetectionResult {
	return calls.DetectionResult{
		SchemaVersion:  calls.ResultSchemaVersion,
		AMDStatus:      calls.AMDHuman,
		Confidence:     0.75,
		Provider:       a.Name(),
		Provenance:     calls.ProvenanceFallback,
		ProviderCallID: req.ProviderCallID,
		Model:          a.cfg.Model,
		Transcription:  "Model loading, using fallback detection",
		Note:           "inference model is loading, retry in a few moments",
		DetectedAt:     now.UTC(),
	}
}
