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

type JambonzConfig struct {
	// RESTBaseURL is the Jambonz REST API root, e.g. https://jambonz.example.com/api.
	RESTBaseURL   string
	AccountSID    string
	APIKey        string
	FromNumber    string
	PublicBaseURL string
	Timeout       time.Duration
}

func (c JambonzConfig) configured() bool {
	return c.RESTBaseURL != "" && c.AccountSID != "" && c.APIKey != "" && c.PublicBaseURL != ""
}

// JambonzDialer places calls on a Jambonz SIP platform with its built-in
// answering machine detection. The verdict arrives on the amd actionHook.
type JambonzDialer struct {
	cfg    JambonzConfig
	client *resty.Client
}

func NewJambonzDialer(cfg JambonzConfig, hc *http.Client) *JambonzDialer {
	c := newRESTClient(hc, cfg.Timeout)
	if cfg.RESTBaseURL != "" {
		c.SetBaseURL(strings.TrimRight(cfg.RESTBaseURL, "/"))
	}
	return &JambonzDialer{cfg: cfg, client: c}
}

var _ calls.Dialer = (*JambonzDialer)(nil)

func (d *JambonzDialer) Name() string { return "jambonz" }

type jambonzHook struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

type jambonzTarget struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type jambonzAMDTimers struct {
	NoSpeechTimeoutMs           int `json:"noSpeechTimeoutMs"`
	DecisionTimeoutMs           int `json:"decisionTimeoutMs"`
	ToneTimeoutMs               int `json:"toneTimeoutMs"`
	GreetingCompletionTimeoutMs int `json:"greetingCompletionTimeoutMs"`
}

type jambonzAMD struct {
	ActionHook         string           `json:"actionHook"`
	ThresholdWordCount int              `json:"thresholdWordCount"`
	Timers             jambonzAMDTimers `json:"timers"`
}

type jambonzCreateCall struct {
	From     string        `json:"from"`
	To       jambonzTarget `json:"to"`
	CallHook jambonzHook   `json:"call_hook"`
	AMD      jambonzAMD    `json:"amd"`
}

type jambonzCreateCallResponse struct {
	Sid     string `json:"sid"`
	CallSid string `json:"call_sid"`
}

func (d *JambonzDialer) Dial(ctx context.Context, req calls.DialRequest) (calls.DialResult, error) {
	if !d.cfg.configured() {
		return calls.DialResult{}, fmt.Errorf("jambonz: %w", calls.ErrMissingCredentials)
	}

	body := jambonzCreateCall{
		From: d.cfg.FromNumber,
		To:   jambonzTarget{Type: "phone", Number: req.To},
		CallHook: jambonzHook{
			URL:    callbackURL(d.cfg.PublicBaseURL, "/webhooks/sip/status", req.CallID, ""),
			Method: http.MethodPost,
		},
		AMD: jambonzAMD{
			ActionHook:         callbackURL(d.cfg.PublicBaseURL, "/webhooks/sip/amd", req.CallID, ""),
			ThresholdWordCount: 10,
			Timers: jambonzAMDTimers{
				NoSpeechTimeoutMs:           5000,
				DecisionTimeoutMs:           15000,
				ToneTimeoutMs:               10000,
				GreetingCompletionTimeoutMs: 3000,
			},
		},
	}

	var out jambonzCreateCallResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetAuthToken(d.cfg.APIKey).
		SetBody(body).
		SetResult(&out).
		Post(d.callsPath())
	if err := checkResponse("jambonz", resp, err); err != nil {
		return calls.DialResult{}, err
	}

	sid := out.Sid
	if sid == "" {
		sid = out.CallSid
	}
	if sid == "" {
		return calls.DialResult{}, fmt.Errorf("jambonz: %w: missing sid", calls.ErrUnparsableResponse)
	}
	return calls.DialResult{ProviderCallID: sid}, nil
}

func (d *JambonzDialer) Hangup(ctx context.Context, providerCallID string) error {
	if !d.cfg.configured() {
		return fmt.Errorf("jambonz: %w", calls.ErrMissingCredentials)
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetAuthToken(d.cfg.APIKey).
		SetBody(map[string]string{"call_status": "completed"}).
		Put(d.callsPath() + "/" + url.PathEscape(providerCallID))
	return checkResponse("jambonz", resp, err)
}

func (d *JambonzDialer) callsPath() string {
	return "/v1/Accounts/" + url.PathEscape(d.cfg.AccountSID) + "/Calls"
}
