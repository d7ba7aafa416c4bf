package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amd-platform/internal/calls"
)

func testTwilioConfig() TwilioConfig {
	return TwilioConfig{
		AccountSID:    "AC123",
		AuthToken:     "secret",
		FromNumber:    "+15550000000",
		PublicBaseURL: "https://amd.example.com",
		BaseURL:       "https://twilio.test",
	}
}

func TestTwilioDialer_NativeEnablesAsyncAMD(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	var got url.Values
	httpmock.RegisterResponder(http.MethodPost, "https://twilio.test/2010-04-01/Accounts/AC123/Calls.json",
		func(req *http.Request) (*http.Response, error) {
			user, pass, ok := req.BasicAuth()
			if !ok || user != "AC123" || pass != "secret" {
				return jsonResponse(http.StatusUnauthorized, `{}`), nil
			}
			if err := req.ParseForm(); err != nil {
				return nil, err
			}
			got = req.PostForm
			return jsonResponse(http.StatusCreated, `{"sid":"CA0123","status":"queued"}`), nil
		})

	d := NewTwilioDialer(testTwilioConfig(), hc)
	res, err := d.Dial(context.Background(), calls.DialRequest{CallID: "call-1", To: "+15551234567", Strategy: calls.StrategyNativeTelephony})

	require.NoError(t, err)
	assert.Equal(t, "CA0123", res.ProviderCallID)
	assert.Equal(t, "+15551234567", got.Get("To"))
	assert.Equal(t, "Enable", got.Get("MachineDetection"))
	assert.Equal(t, "true", got.Get("AsyncAmd"))
	assert.Equal(t, "3", got.Get("MachineDetectionTimeout"))
	assert.Equal(t, "https://amd.example.com/webhooks/twilio?callId=call-1&strategy=native_telephony", got.Get("AsyncAmdStatusCallback"))
	assert.Equal(t, []string{"initiated", "ringing", "answered", "completed"}, got["StatusCallbackEvent"])
	assert.Contains(t, got.Get("Twiml"), `<Pause length="5">`)
	assert.Empty(t, got.Get("Record"))
}

func TestTwilioDialer_RecordingStrategies(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	var got url.Values
	httpmock.RegisterResponder(http.MethodPost, "https://twilio.test/2010-04-01/Accounts/AC123/Calls.json",
		func(req *http.Request) (*http.Response, error) {
			_ = req.ParseForm()
			got = req.PostForm
			return jsonResponse(http.StatusCreated, `{"sid":"CA0456"}`), nil
		})

	d := NewTwilioDialer(testTwilioConfig(), hc)
	for _, s := range []calls.Strategy{calls.StrategyMLInference, calls.StrategyGenerativeAudio} {
		_, err := d.Dial(context.Background(), calls.DialRequest{CallID: "c", To: "+1555", Strategy: s})
		require.NoError(t, err)
		assert.Equal(t, "true", got.Get("Record"))
		assert.Empty(t, got.Get("MachineDetection"))
		assert.Contains(t, got.Get("RecordingStatusCallback"), "strategy="+string(s))
	}
}

func TestTwilioDialer_Errors(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://twilio.test/2010-04-01/Accounts/AC123/Calls.json",
		jsonResponder(http.StatusBadRequest, `{"code":21211,"message":"invalid To"}`))

	d := NewTwilioDialer(testTwilioConfig(), hc)
	_, err := d.Dial(context.Background(), calls.DialRequest{CallID: "c", To: "nope", Strategy: calls.StrategyNativeTelephony})
	assert.ErrorIs(t, err, calls.ErrProviderUnavailable)

	unconfigured := NewTwilioDialer(TwilioConfig{}, hc)
	_, err = unconfigured.Dial(context.Background(), calls.DialRequest{CallID: "c", To: "+1", Strategy: calls.StrategyNativeTelephony})
	assert.ErrorIs(t, err, calls.ErrMissingCredentials)
	assert.ErrorIs(t, unconfigured.Hangup(context.Background(), "CA1"), calls.ErrMissingCredentials)

	_, err = d.Dial(context.Background(), calls.DialRequest{CallID: "c", To: "+1", Strategy: calls.StrategySIPPlatform})
	assert.ErrorIs(t, err, calls.ErrInvalidInput)
}

func TestTwilioDialer_Hangup(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	var status string
	httpmock.RegisterResponder(http.MethodPost, "https://twilio.test/2010-04-01/Accounts/AC123/Calls/CA0123.json",
		func(req *http.Request) (*http.Response, error) {
			_ = req.ParseForm()
			status = req.PostForm.Get("Status")
			return jsonResponse(http.StatusOK, `{"sid":"CA0123","status":"completed"}`), nil
		})

	d := NewTwilioDialer(testTwilioConfig(), hc)
	require.NoError(t, d.Hangup(context.Background(), "CA0123"))
	assert.Equal(t, "completed", status)
}

func testJambonzConfig() JambonzConfig {
	return JambonzConfig{
		RESTBaseURL:   "https://jambonz.test/api",
		AccountSID:    "acct-1",
		APIKey:        "key-1",
		FromNumber:    "+15550000001",
		PublicBaseURL: "https://amd.example.com/",
	}
}

func TestJambonzDialer_Dial(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	var body map[string]any
	httpmock.RegisterResponder(http.MethodPost, "https://jambonz.test/api/v1/Accounts/acct-1/Calls",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer key-1" {
				return jsonResponse(http.StatusUnauthorized, `{}`), nil
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			return jsonResponse(http.StatusCreated, `{"call_sid":"jb-77"}`), nil
		})

	d := NewJambonzDialer(testJambonzConfig(), hc)
	res, err := d.Dial(context.Background(), calls.DialRequest{CallID: "call-9", To: "+15551234567", Strategy: calls.StrategySIPPlatform})

	require.NoError(t, err)
	assert.Equal(t, "jb-77", res.ProviderCallID)

	to := body["to"].(map[string]any)
	assert.Equal(t, "phone", to["type"])
	assert.Equal(t, "+15551234567", to["number"])

	amd := body["amd"].(map[string]any)
	assert.Equal(t, "https://amd.example.com/webhooks/sip/amd?callId=call-9", amd["actionHook"])
	assert.EqualValues(t, 10, amd["thresholdWordCount"])
	timers := amd["timers"].(map[string]any)
	assert.EqualValues(t, 5000, timers["noSpeechTimeoutMs"])
	assert.EqualValues(t, 15000, timers["decisionTimeoutMs"])
	assert.EqualValues(t, 10000, timers["toneTimeoutMs"])
	assert.EqualValues(t, 3000, timers["greetingCompletionTimeoutMs"])

	hook := body["call_hook"].(map[string]any)
	assert.Equal(t, "https://amd.example.com/webhooks/sip/status?callId=call-9", hook["url"])
}

func TestJambonzDialer_FailureModes(t *testing.T) {
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://jambonz.test/api/v1/Accounts/acct-1/Calls",
		jsonResponder(http.StatusCreated, `{}`))
	httpmock.RegisterResponder(http.MethodPut, "https://jambonz.test/api/v1/Accounts/acct-1/Calls/jb-1",
		httpmock.NewErrorResponder(errors.New("connection reset")))

	d := NewJambonzDialer(testJambonzConfig(), hc)
	_, err := d.Dial(context.Background(), calls.DialRequest{CallID: "c", To: "+1", Strategy: calls.StrategySIPPlatform})
	assert.ErrorIs(t, err, calls.ErrUnparsableResponse)

	assert.ErrorIs(t, d.Hangup(context.Background(), "jb-1"), calls.ErrProviderUnavailable)

	_, err = NewJambonzDialer(JambonzConfig{}, hc).Dial(context.Background(), calls.DialRequest{CallID: "c", To: "+1"})
	assert.ErrorIs(t, err, calls.ErrMissingCredentials)
}

func jsonResponse(status int, body string) *http.Response {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func jsonResponder(status int, body string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		return jsonResponse(status, body), nil
	}
}
