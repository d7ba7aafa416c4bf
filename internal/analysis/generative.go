package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"amd-platform/internal/calls"
)

const (
	defaultGenerativeBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGenerativeModel   = "gemini-1.5-flash"
	naiveConfidence          = 0.7
)

const generativePrompt = `Analyze this phone call audio and determine if it's a human speaking or an answering machine/voicemail greeting.

Consider these factors:
- Voicemail greetings typically have phrases like "leave a message", "after the beep", "not available", "mailbox"
- Humans have natural conversation patterns, pauses, and responses
- Voicemails are often scripted and monotone

Respond ONLY with valid JSON in this exact format:
{
  "type": "human" or "machine",
  "confidence": 0.0 to 1.0,
  "reasoning": "brief explanation of your decision"
}`

type GenerativeConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GenerativeAnalyzer asks a multimodal model to judge the recording directly.
type GenerativeAnalyzer struct {
	cfg    GenerativeConfig
	client *resty.Client
	fetch  *RecordingFetcher
	opts   Options
}

func NewGenerativeAnalyzer(cfg GenerativeConfig, fetch *RecordingFetcher, hc *http.Client, opts Options) *GenerativeAnalyzer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGenerativeBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGenerativeModel
	}
	c := newClient(hc, cfg.Timeout).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	return &GenerativeAnalyzer{cfg: cfg, client: c, fetch: fetch, opts: opts.withDefaults()}
}

var _ calls.Analyzer = (*GenerativeAnalyzer)(nil)

func (a *GenerativeAnalyzer) Name() string { return "gemini" }

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type contentPart struct {
	InlineData *inlineData `json:"inline_data,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

func (a *GenerativeAnalyzer) Analyze(ctx context.Context, req calls.AnalysisRequest) (calls.DetectionResult, error) {
	now := a.opts.Now()
	if a.cfg.APIKey == "" {
		a.opts.Log.Warn("generative api key not set, returning mock result", "call_id", req.CallID)
		return a.mockResult(req, now), nil
	}

	audio, err := a.fetch.Fetch(ctx, req.RecordingURL)
	if err != nil {
		return calls.DetectionResult{}, err
	}

	body := generateRequest{
		Contents: []content{{Parts: []contentPart{
			{InlineData: &inlineData{MimeType: "audio/wav", Data: base64.StdEncoding.EncodeToString(audio)}},
			{Text: generativePrompt},
		}}},
		GenerationConfig: generationConfig{Temperature: 0.1, MaxOutputTokens: 200},
	}

	var out generateResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("key", a.cfg.APIKey).
		SetBody(body).
		SetResult(&out).
		Post("/models/" + url.PathEscape(a.cfg.Model) + ":generateContent")
	if err != nil {
		return calls.DetectionResult{}, fmt.Errorf("gemini: %w: %v", calls.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return calls.DetectionResult{}, fmt.Errorf("gemini: %w: http %d", calls.ErrProviderUnavailable, resp.StatusCode())
	}

	text := strings.TrimSpace(out.text())
	if text == "" {
		return calls.DetectionResult{}, fmt.Errorf("gemini: %w: empty candidate text", calls.ErrUnparsableResponse)
	}

	v, ok := ParseVerdict(text)
	res := calls.DetectionResult{
		SchemaVersion:  calls.ResultSchemaVersion,
		AMDStatus:      v.Status,
		Confidence:     v.Confidence,
		Provider:       a.Name(),
		Provenance:     calls.ProvenanceLive,
		ProviderCallID: req.ProviderCallID,
		Model:          a.cfg.Model,
		Reasoning:      v.Reasoning,
		DetectedAt:     now.UTC(),
	}
	if !ok {
		a.opts.Log.Warn("generative response was not json, classified from text", "call_id", req.CallID)
		res.Provenance = calls.ProvenanceFallback
		res.Note = "classified from unstructured model output"
	}
	return res, nil
}

func (a *GenerativeAnalyzer) mockResult(req calls.AnalysisRequest, now time.Time) calls.DetectionResult {
	status := calls.AMDMachine
	if a.opts.Random.Float64() > 0.5 {
		status = calls.AMDHuman
	}
	return calls.DetectionResult{
		SchemaVersion:  calls.ResultSchemaVersion,
		AMDStatus:      status,
		Confidence:     0.90 + a.opts.Random.Float64()*0.08,
		Provider:       a.Name(),
		Provenance:     calls.ProvenanceMock,
		ProviderCallID: req.ProviderCallID,
		Model:          "mock",
		Reasoning:      "Mock analysis - API key not configured",
		DetectedAt:     now.UTC(),
	}
}

// Verdict is the model's answer after recovery.
type Verdict struct {
	Status     calls.AMDStatus
	Confidence float64
	Reasoning  string
}

type verdictJSON struct {
	Type       string   `json:"type"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	bareObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParseVerdict reads the model's JSON answer, tolerating a fenced block or prose
// around the object. When no JSON can be recovered it falls back to a substring
// check and reports false.
func ParseVerdict(text string) (Verdict, bool) {
	candidates := []string{text}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := bareObject.FindString(text); m != "" {
		candidates = append(candidates, m)
	}

	for _, c := range candidates {
		var vj verdictJSON
		if err := json.Unmarshal([]byte(c), &vj); err != nil {
			continue
		}
		v := Verdict{Status: verdictStatus(vj.Type), Reasoning: vj.Reasoning, Confidence: naiveConfidence}
		if vj.Confidence != nil {
			v.Confidence = *vj.Confidence
		}
		return v, true
	}

	lower := strings.ToLower(text)
	v := Verdict{Status: calls.AMDMachine, Confidence: naiveConfidence, Reasoning: "Parsed from unstructured response"}
	if strings.Contains(lower, "human") && !strings.Contains(lower, "machine") {
		v.Status = calls.AMDHuman
	}
	return v, false
}

func verdictStatus(t string) calls.AMDStatus {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "human":
		return calls.AMDHuman
	case "machine", "voicemail", "answering_machine":
		return calls.AMDMachine
	default:
		return calls.AMDUnknown
	}
}
