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

const defaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// PublicBaseURL is where Twilio reaches our webhooks.
	PublicBaseURL string

	// BaseURL overrides the REST endpoint (tests).
	BaseURL string
	Timeout time.Duration
}

func (c TwilioConfig) configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != "" && c.PublicBaseURL != ""
}

// TwilioDialer places calls through the Twilio REST API.
//
// native_telephony calls enable async answering machine detection; the two
// post-call strategies record the call instead and are analyzed once the recording
// callback arrives.
type TwilioDialer struct {
	cfg    TwilioConfig
	client *resty.Client
}

func NewTwilioDialer(cfg TwilioConfig, hc *http.Client) *TwilioDialer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	return &TwilioDialer{
		cfg:    cfg,
		client: newRESTClient(hc, cfg.Timeout).SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
	}
}

var _ calls.Dialer = (*TwilioDialer)(nil)

func (d *TwilioDialer) Name() string { return "twilio" }

type twilioCallResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

// holdTwiML keeps the callee on the line long enough for detection or recording.
var holdTwiML = mustRenderTwiML(twimlPause{Length: 5})

func (d *TwilioDialer) Dial(ctx context.Context, req calls.DialRequest) (calls.DialResult, error) {
	if !d.cfg.configured() {
		return calls.DialResult{}, fmt.Errorf("twilio: %w", calls.ErrMissingCredentials)
	}

	webhook := callbackURL(d.cfg.PublicBaseURL, "/webhooks/twilio", req.CallID, req.Strategy)
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", d.cfg.FromNumber)
	form.Set("Twiml", holdTwiML)
	form.Set("StatusCallback", webhook)
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", ev)
	}

	switch req.Strategy {
	case calls.StrategyNativeTelephony:
		form.Set("MachineDetection", "Enable")
		form.Set("MachineDetectionTimeout", "3")
		form.Set("AsyncAmd", "true")
		form.Set("AsyncAmdStatusCallback", webhook)
		form.Set("AsyncAmdStatusCallbackMethod", http.MethodPost)
	case calls.StrategyMLInference, calls.StrategyGenerativeAudio:
		form.Set("Record", "true")
		form.Set("RecordingStatusCallback", webhook)
		form.Set("RecordingStatusCallbackMethod", http.MethodPost)
	case calls.StrategySIPPlatform:
		return calls.DialResult{}, fmt.Errorf("twilio: %w: strategy %s is dialed by the SIP platform", calls.ErrInvalidInput, req.Strategy)
	default:
		return calls.DialResult{}, fmt.Errorf("twilio: %w: unknown strategy %q", calls.ErrInvalidInput, req.Strategy)
	}

	var out twilioCallResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetBasicAuth(d.cfg.AccountSID, d.cfg.AuthToken).
		SetFormDataFromValues(form).
		SetResult(&out).
		Post(d.callsPath() + ".json")
	if err := checkResponse("twilio", resp, err); err != nil {
		return calls.DialResult{}, err
	}
	if out.Sid == "" {
		return calls.DialResult{}, fmt.Errorf("twilio: %w: missing sid", calls.ErrUnparsableResponse)
	}
	return calls.DialResult{ProviderCallID: out.Sid}, nil
}

func (d *TwilioDialer) Hangup(ctx context.Context, providerCallID string) error {
	if !d.cfg.configured() {
		return fmt.Errorf("twilio: %w", calls.ErrMissingCredentials)
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetBasicAuth(d.cfg.AccountSID, d.cfg.AuthToken).
		SetFormData(map[string]string{"Status": "completed"}).
		Post(d.callsPath() + "/" + url.PathEscape(providerCallID) + ".json")
	return checkResponse("twilio", resp, err)
}

func (d *TwilioDialer) callsPath() string {
	return "/2010-04-01/Accounts/" + url.PathEscape(d.cfg.AccountSID) + "/Calls"
}
