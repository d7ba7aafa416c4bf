package analysis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amd-platform/internal/calls"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }
func (fixedRandom) IntN(int) int       { return 0 }

func testOptions() Options {
	return Options{
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Random: fixedRandom(0.7),
		Now:    func() time.Time { return fixedNow },
	}
}

func jsonResponse(status int, body string) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

const recordingURL = "https://api.twilio.com/2010-04-01/Accounts/AC1/Recordings/RE1"

func TestMatchVoicemail(t *testing.T) {
	m := MatchVoicemail("Please leave a message after the beep")
	assert.True(t, m.Machine)
	assert.GreaterOrEqual(t, m.Confidence, 0.8)
	assert.Contains(t, m.Patterns, "leave a message")
	assert.Contains(t, m.Patterns, "after the beep")

	human := MatchVoicemail("Hello? Who is this?")
	assert.False(t, human.Machine)
	assert.Empty(t, human.Patterns)
	assert.Equal(t, 0.70, human.Confidence)

	long := MatchVoicemail("Hi, you have reached the voicemail of Jordan. I'm unable to answer right now, " +
		"please leave a message after the beep and I'll get back to you. Or press pound to send a fax.")
	assert.True(t, long.Machine)
	assert.Equal(t, 0.95, long.Confidence)
	assert.Contains(t, long.Patterns, "press pound")
}

func TestWAVURL(t *testing.T) {
	assert.Equal(t, recordingURL+".wav", WAVURL(recordingURL))
	assert.Equal(t, "https://x/rec.WAV", WAVURL("https://x/rec.WAV"))
}

func TestRecordingFetcher(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, recordingURL+".wav",
		func(req *http.Request) (*http.Response, error) {
			if u, p, ok := req.BasicAuth(); !ok || u != "AC1" || p != "tok" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
			}
			return httpmock.NewBytesResponse(http.StatusOK, []byte("RIFF....WAVE")), nil
		})

	f := NewRecordingFetcher(FetcherConfig{Username: "AC1", Password: "tok"}, hc)
	audio, err := f.Fetch(context.Background(), recordingURL)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF....WAVE"), audio)

	anon := NewRecordingFetcher(FetcherConfig{}, hc)
	_, err = anon.Fetch(context.Background(), recordingURL)
	assert.ErrorIs(t, err, calls.ErrProviderUnavailable)

	_, err = f.Fetch(context.Background(), " ")
	assert.ErrorIs(t, err, calls.ErrInvalidInput)
}

func TestInferenceAnalyzer_Transcribes(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, recordingURL+".wav",
		httpmock.NewBytesResponder(http.StatusOK, []byte("audio")))
	httpmock.RegisterResponder(http.MethodPost, "https://hf.test/models/asr",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer hf-token" || req.Header.Get("Content-Type") != "audio/wav" {
				return jsonResponse(http.StatusBadRequest, `{}`), nil
			}
			body, _ := io.ReadAll(req.Body)
			if string(body) != "audio" {
				return jsonResponse(http.StatusBadRequest, `{}`), nil
			}
			return jsonResponse(http.StatusOK, `{"text":"you have reached the mailbox of sam please leave a message"}`), nil
		})

	f := NewRecordingFetcher(FetcherConfig{}, hc)
	a := NewInferenceAnalyzer(InferenceConfig{Token: "hf-token", Endpoint: "https://hf.test/models/asr"}, f, hc, testOptions())

	res, err := a.Analyze(context.Background(), calls.AnalysisRequest{CallID: "c1", ProviderCallID: "CA1", RecordingURL: recordingURL})
	require.NoError(t, err)
	assert.Equal(t, calls.AMDMachine, res.AMDStatus)
	assert.Equal(t, calls.ProvenanceLive, res.Provenance)
	assert.Equal(t, "huggingface", res.Provider)
	assert.Equal(t, "wav2vec2-base-960h", res.Model)
	assert.Equal(t, "CA1", res.ProviderCallID)
	assert.ElementsMatch(t, []string{"leave a message", "mailbox"}, res.DetectedPatterns)
	assert.InDelta(t, 0.90, res.Confidence, 1e-9)
}

func TestInferenceAnalyzer_ModelLoading(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, recordingURL+".wav", httpmock.NewBytesResponder(http.StatusOK, []byte("audio")))
	httpmock.RegisterResponder(http.MethodPost, defaultInferenceEndpoint,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"error":"Model is currently loading"}`))

	a := NewInferenceAnalyzer(InferenceConfig{Token: "t"}, NewRecordingFetcher(FetcherConfig{}, hc), hc, testOptions())
	res, err := a.Analyze(context.Background(), calls.AnalysisRequest{CallID: "c1", RecordingURL: recordingURL})
	require.NoError(t, err)
	assert.Equal(t, calls.AMDHuman, res.AMDStatus)
	assert.Equal(t, 0.75, res.Confidence)
	assert.Equal(t, calls.ProvenanceFallback, res.Provenance)
	assert.NotEmpty(t, res.Note)
}

func TestInferenceAnalyzer_ProviderError(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, recordingURL+".wav", httpmock.NewBytesResponder(http.StatusOK, []byte("audio")))
	httpmock.RegisterResponder(http.MethodPost, defaultInferenceEndpoint, httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	a := NewInferenceAnalyzer(InferenceConfig{Token: "t"}, NewRecordingFetcher(FetcherConfig{}, hc), hc, testOptions())
	_, err := a.Analyze(context.Background(), calls.AnalysisRequest{CallID: "c1", RecordingURL: recordingURL})
	assert.ErrorIs(t, err, calls.ErrProviderUnavailable)
}

func TestAnalyzers_MockWithoutCredentials(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	f := NewRecordingFetcher(FetcherConfig{}, hc)
	req := calls.AnalysisRequest{CallID: "c1", ProviderCallID: "CA9", RecordingURL: recordingURL}

	inf, err := NewInferenceAnalyzer(InferenceConfig{}, f, hc, testOptions()).Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, calls.ProvenanceMock, inf.Provenance)
	assert.Equal(t, calls.AMDHuman, inf.AMDStatus)
	assert.InDelta(t, 0.92, inf.Confidence, 1e-9)

	gen, err := NewGenerativeAnalyzer(GenerativeConfig{}, f, hc, testOptions()).Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, calls.ProvenanceMock, gen.Provenance)
	assert.InDelta(t, 0.956, gen.Confidence, 1e-9)

	assert.Zero(t, httpmock.GetTotalCallCount(), "no provider traffic without credentials")
}

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
	return string(b)
}

func TestGenerativeAnalyzer_Request(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	var sent generateRequest
	httpmock.RegisterResponder(http.MethodGet, recordingURL+".wav", httpmock.NewBytesResponder(http.StatusOK, []byte("audio")))
	httpmock.RegisterResponder(http.MethodPost, "https://gemini.test/v1beta/models/gemini-1.5-flash:generateContent",
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("key") != "g-key" {
				return jsonResponse(http.StatusForbidden, `{}`), nil
			}
			if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
				return nil, err
			}
			return jsonResponse(http.StatusOK, geminiReply(`{"type":"human","confidence":0.93,"reasoning":"natural back and forth"}`)), nil
		})

	a := NewGenerativeAnalyzer(GenerativeConfig{APIKey: "g-key", BaseURL: "https://gemini.test/v1beta"}, NewRecordingFetcher(FetcherConfig{}, hc), hc, testOptions())
	res, err := a.Analyze(context.Background(), calls.AnalysisRequest{CallID: "c1", RecordingURL: recordingURL})
	require.NoError(t, err)

	assert.Equal(t, calls.AMDHuman, res.AMDStatus)
	assert.Equal(t, 0.93, res.Confidence)
	assert.Equal(t, "natural back and forth", res.Reasoning)
	assert.Equal(t, calls.ProvenanceLive, res.Provenance)

	require.Len(t, sent.Contents, 1)
	require.Len(t, sent.Contents[0].Parts, 2)
	assert.Equal(t, "audio/wav", sent.Contents[0].Parts[0].InlineData.MimeType)
	assert.Equal(t, "YXVkaW8=", sent.Contents[0].Parts[0].InlineData.Data)
	assert.Equal(t, 0.1, sent.GenerationConfig.Temperature)
	assert.Equal(t, 200, sent.GenerationConfig.MaxOutputTokens)
}

func TestGenerativeAnalyzer_EmptyText(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, recordingURL+".wav", httpmock.NewBytesResponder(http.StatusOK, []byte("audio")))
	httpmock.RegisterResponder(http.MethodPost, "https://gemini.test/models/gemini-1.5-flash:generateContent",
		func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"candidates":[]}`), nil
		})

	a := NewGenerativeAnalyzer(GenerativeConfig{APIKey: "k", BaseURL: "https://gemini.test"}, NewRecordingFetcher(FetcherConfig{}, hc), hc, testOptions())
	_, err := a.Analyze(context.Background(), calls.AnalysisRequest{CallID: "c1", RecordingURL: recordingURL})
	assert.ErrorIs(t, err, calls.ErrUnparsableResponse)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		status calls.AMDStatus
		conf   float64
		parsed bool
	}{
		{name: "plain json", text: `{"type":"machine","confidence":0.88,"reasoning":"beep"}`, status: calls.AMDMachine, conf: 0.88, parsed: true},
		{name: "fenced", text: "Here you go:\n```json\n{\"type\": \"human\", \"confidence\": 0.9}\n```", status: calls.AMDHuman, conf: 0.9, parsed: true},
		{name: "embedded object", text: `The answer is {"type":"machine","confidence":0.6} based on tone.`, status: calls.AMDMachine, conf: 0.6, parsed: true},
		{name: "prose human", text: "This sounds like a human picking up.", status: calls.AMDHuman, conf: 0.7, parsed: false},
		{name: "prose both words", text: "Could be a human or a machine.", status: calls.AMDMachine, conf: 0.7, parsed: false},
		{name: "odd type", text: `{"type":"fax"}`, status: calls.AMDUnknown, conf: 0.7, parsed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := ParseVerdict(tt.text)
			assert.Equal(t, tt.parsed, ok)
			assert.Equal(t, tt.status, v.Status)
			assert.InDelta(t, tt.conf, v.Confidence, 1e-9)
		})
	}
}
