package telephony

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"amd-platform/internal/calls"
)

// Rules:
// - No provider REST calls outside telephony adapters.
// - Adapters are stateless; correlation happens through the callId query parameter
//   carried on every callback URL.
// - Webhook parsers only translate payloads into calls.ProviderEvent values; the
//   ResultSink decides what to do with them.

// ResultSink is implemented by *calls.Sink.
type ResultSink interface {
	Apply(ctx context.Context, callID string, ev calls.ProviderEvent) (calls.Outcome, error)
}

const defaultProviderTimeout = 15 * time.Second

// newRESTClient builds the resty client shared by the adapters. Retries stay off:
// placing a call is not idempotent.
func newRESTClient(hc *http.Client, timeout time.Duration) *resty.Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return resty.NewWithClient(hc).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// checkResponse maps transport errors and non-2xx replies to calls.ErrProviderUnavailable.
func checkResponse(provider string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %v", provider, calls.ErrProviderUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %w: http %d: %s", provider, calls.ErrProviderUnavailable, resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

// callbackURL builds the webhook address a provider calls back on for one call.
func callbackURL(base, path, callID string, strategy calls.Strategy) string {
	q := url.Values{}
	q.Set("callId", callID)
	if strategy != "" {
		q.Set("strategy", string(strategy))
	}
	return strings.TrimRight(base, "/") + path + "?" + q.Encode()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
