package calls

type EventKind string

const (
	EventStatus         EventKind = "status"
	EventDetection      EventKind = "detection"
	EventRecordingReady EventKind = "recording_ready"
	EventFailure        EventKind = "failure"
)

// ProviderEvent is a webhook payload already normalized by a provider-specific parser.
type ProviderEvent struct {
	Kind           EventKind
	Source         string
	ProviderCallID string

	// Status is the target status for EventStatus.
	Status CallStatus

	// Result is required for EventDetection and optional for EventFailure.
	Result *DetectionResult

	RecordingURL string

	Error     string
	ErrorKind ErrorKind
}

// Outcome reports what Apply did with an event.
type Outcome struct {
	Applied bool       `json:"applied"`
	Status  CallStatus `json:"status"`
	Reason  string     `json:"reason,omitempty"`
}
