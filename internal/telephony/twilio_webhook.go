package telephony

import (
	"net/http"
	"strings"
	"time"

	"amd-platform/internal/calls"
)

// TwilioCallbackForm captures the subset of voice callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default. One endpoint receives
// call status, async AMD and recording status callbacks.
type TwilioCallbackForm struct {
	CallSid         string
	AccountSid      string
	CallStatus      string
	AnsweredBy      string
	RecordingURL    string
	RecordingStatus string
	ErrorCode       string
}

func ParseTwilioCallback(r *http.Request) (TwilioCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallbackForm{}, err
	}
	return TwilioCallbackForm{
		CallSid:         strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:      strings.TrimSpace(r.PostFormValue("AccountSid")),
		CallStatus:      strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		AnsweredBy:      strings.ToLower(strings.TrimSpace(r.PostFormValue("AnsweredBy"))),
		RecordingURL:    strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingStatus: strings.ToLower(strings.TrimSpace(r.PostFormValue("RecordingStatus"))),
		ErrorCode:       strings.TrimSpace(r.PostFormValue("ErrorCode")),
	}, nil
}

// Confidence Twilio's detector is credited with; the API does not report one.
const (
	twilioHumanConfidence   = 0.88
	twilioMachineConfidence = 0.92
)

// ToEvent normalizes the callback. The second return is false when the callback
// carries nothing the pipeline acts on.
func (f TwilioCallbackForm) ToEvent(strategy calls.Strategy, now time.Time) (calls.ProviderEvent, bool) {
	ev := calls.ProviderEvent{Source: "twilio", ProviderCallID: f.CallSid}

	switch {
	case f.AnsweredBy != "" && strategy == calls.StrategyNativeTelephony:
		status := twilioAnsweredBy(f.AnsweredBy)
		res := calls.DetectionResult{
			AMDStatus:       status,
			Provider:        "twilio",
			Provenance:      calls.ProvenanceLive,
			ProviderCallID:  f.CallSid,
			DetectionMethod: f.AnsweredBy,
			DetectedAt:      now.UTC(),
		}
		switch status {
		case calls.AMDHuman:
			res.Confidence = twilioHumanConfidence
		case calls.AMDMachine:
			res.Confidence = twilioMachineConfidence
		case calls.AMDUnknown:
			res.Confidence = 0
		}
		ev.Kind = calls.EventDetection
		ev.Result = &res
		return ev, true

	case f.RecordingURL != "" && f.RecordingStatus == "completed":
		ev.Kind = calls.EventRecordingReady
		ev.RecordingURL = f.RecordingURL
		return ev, true

	case f.CallStatus != "":
		status, failed := twilioCallStatus(f.CallStatus)
		if failed {
			ev.Kind = calls.EventFailure
			ev.Error = "call status " + f.CallStatus
			if f.ErrorCode != "" {
				ev.Error += " (twilio error " + f.ErrorCode + ")"
			}
			ev.ErrorKind = calls.ErrorKindCallFailed
			return ev, true
		}
		if status == "" {
			return calls.ProviderEvent{}, false
		}
		ev.Kind = calls.EventStatus
		ev.Status = status
		return ev, true
	}
	return calls.ProviderEvent{}, false
}

// twilioAnsweredBy maps AnsweredBy values (human, machine_start, machine_end_beep,
// machine_end_silence, machine_end_other, fax, unknown).
func twilioAnsweredBy(v string) calls.AMDStatus {
	switch {
	case v == "human":
		return calls.AMDHuman
	case strings.HasPrefix(v, "machine"), v == "fax":
		return calls.AMDMachine
	default:
		return calls.AMDUnknown
	}
}

func twilioCallStatus(v string) (status calls.CallStatus, failed bool) {
	switch v {
	case "queued", "initiated":
		return calls.CallStatusInitiated, false
	case "ringing":
		return calls.CallStatusRinging, false
	case "in-progress", "answered":
		return calls.CallStatusInProgress, false
	case "completed":
		return calls.CallStatusCompleted, false
	case "failed", "busy", "no-answer", "canceled":
		return "", true
	default:
		return "", false
	}
}
