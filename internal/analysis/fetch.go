package analysis

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"amd-platform/internal/calls"
)

const (
	defaultAnalysisTimeout = 30 * time.Second
	maxRecordingBytes      = 25 << 20
)

func newClient(hc *http.Client, timeout time.Duration) *resty.Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	return resty.NewWithClient(hc).SetTimeout(timeout)
}

type FetcherConfig struct {
	// Twilio recording media requires the account credentials.
	Username string
	Password string
	Timeout  time.Duration
}

// RecordingFetcher downloads call recordings as WAV.
type RecordingFetcher struct {
	cfg    FetcherConfig
	client *resty.Client
}

func NewRecordingFetcher(cfg FetcherConfig, hc *http.Client) *RecordingFetcher {
	return &RecordingFetcher{cfg: cfg, client: newClient(hc, cfg.Timeout)}
}

// WAVURL appends the .wav suffix Twilio uses to serve a recording as audio/wav.
func WAVURL(recordingURL string) string {
	if strings.HasSuffix(strings.ToLower(recordingURL), ".wav") {
		return recordingURL
	}
	return recordingURL + ".wav"
}

func (f *RecordingFetcher) Fetch(ctx context.Context, recordingURL string) ([]byte, error) {
	if strings.TrimSpace(recordingURL) == "" {
		return nil, fmt.Errorf("fetch recording: %w: empty url", calls.ErrInvalidInput)
	}

	req := f.client.R().SetContext(ctx)
	if f.cfg.Username != "" {
		req.SetBasicAuth(f.cfg.Username, f.cfg.Password)
	}
	resp, err := req.Get(WAVURL(recordingURL))
	if err != nil {
		return nil, fmt.Errorf("fetch recording: %w: %v", calls.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch recording: %w: http %d", calls.ErrProviderUnavailable, resp.StatusCode())
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("fetch recording: %w: empty body", calls.ErrUnparsableResponse)
	}
	if len(body) > maxRecordingBytes {
		return nil, fmt.Errorf("fetch recording: %w: %d bytes exceeds limit", calls.ErrInvalidInput, len(body))
	}
	return body, nil
}
