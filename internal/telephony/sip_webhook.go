package telephony

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"amd-platform/internal/calls"
)

const (
	jambonzDefaultConfidence = 0.85
	jambonzDefaultMethod     = "speech_analysis"
)

type jambonzAMDFields struct {
	Type       string   `json:"type"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
	Method     string   `json:"method"`
}

// JambonzAMDPayload accepts both the nested {"amd": {...}} shape and a flat body.
type JambonzAMDPayload struct {
	jambonzAMDFields
	AMD          *jambonzAMDFields `json:"amd"`
	CallSid      string            `json:"call_sid"`
	CallSidCamel string            `json:"callSid"`
}

func ParseJambonzAMD(body []byte) (JambonzAMDPayload, error) {
	var p JambonzAMDPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return JambonzAMDPayload{}, fmt.Errorf("%w: jambonz amd payload: %v", calls.ErrUnparsableResponse, err)
	}
	return p, nil
}

func (p JambonzAMDPayload) fields() jambonzAMDFields {
	if p.AMD != nil {
		return *p.AMD
	}
	return p.jambonzAMDFields
}

func (p JambonzAMDPayload) ToEvent(now time.Time) calls.ProviderEvent {
	f := p.fields()
	kind := f.Type
	if kind == "" {
		kind = f.Reason
	}
	conf := jambonzDefaultConfidence
	if f.Confidence != nil {
		conf = *f.Confidence
	}
	method := f.Method
	if method == "" {
		method = jambonzDefaultMethod
	}
	sid := p.CallSid
	if sid == "" {
		sid = p.CallSidCamel
	}

	status := jambonzAMDType(kind)
	res := calls.DetectionResult{
		AMDStatus:       status,
		Confidence:      conf,
		Provider:        "jambonz",
		Provenance:      calls.ProvenanceLive,
		ProviderCallID:  sid,
		DetectionMethod: method,
		DetectedAt:      now.UTC(),
	}
	if status == calls.AMDUnknown && kind != "" {
		res.Note = "jambonz amd event " + kind
	}
	return calls.ProviderEvent{
		Kind:           calls.EventDetection,
		Source:         "jambonz",
		ProviderCallID: sid,
		Result:         &res,
	}
}

// jambonzAMDType maps both plain verdicts (human, machine) and amd event names
// (amd_human_detected, amd_machine_detected, amd_tone_detected, amd_no_speech_detected, ...).
func jambonzAMDType(v string) calls.AMDStatus {
	v = strings.ToLower(v)
	switch {
	case strings.Contains(v, "human"):
		return calls.AMDHuman
	case strings.Contains(v, "machine"), strings.Contains(v, "tone"), strings.Contains(v, "beep"):
		return calls.AMDMachine
	default:
		return calls.AMDUnknown
	}
}

type JambonzStatusPayload struct {
	CallStatus string `json:"call_status"`
	Status     string `json:"status"`
	CallSid    string `json:"call_sid"`
	Sid        string `json:"sid"`
	SipStatus  int    `json:"sip_status"`
}

func ParseJambonzStatus(body []byte) (JambonzStatusPayload, error) {
	var p JambonzStatusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return JambonzStatusPayload{}, fmt.Errorf("%w: jambonz status payload: %v", calls.ErrUnparsableResponse, err)
	}
	return p, nil
}

func (p JambonzStatusPayload) ToEvent() (calls.ProviderEvent, bool) {
	raw := strings.ToLower(p.CallStatus)
	if raw == "" {
		raw = strings.ToLower(p.Status)
	}
	sid := p.CallSid
	if sid == "" {
		sid = p.Sid
	}
	ev := calls.ProviderEvent{Source: "jambonz", ProviderCallID: sid}

	switch raw {
	case "trying", "queued":
		ev.Kind, ev.Status = calls.EventStatus, calls.CallStatusInitiated
	case "ringing", "early-media":
		ev.Kind, ev.Status = calls.EventStatus, calls.CallStatusRinging
	case "in-progress":
		ev.Kind, ev.Status = calls.EventStatus, calls.CallStatusInProgress
	case "completed":
		ev.Kind, ev.Status = calls.EventStatus, calls.CallStatusCompleted
	case "failed", "busy", "no-answer", "canceled":
		ev.Kind = calls.EventFailure
		ev.ErrorKind = calls.ErrorKindCallFailed
		ev.Error = "call status " + raw
		if p.SipStatus != 0 {
			ev.Error += fmt.Sprintf(" (sip %d)", p.SipStatus)
		}
	default:
		return calls.ProviderEvent{}, false
	}
	return ev, true
}
