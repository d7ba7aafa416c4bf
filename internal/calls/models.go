package calls

import "time"

// Call is one attempted outbound call placed through an AMD strategy.
//
// Invariants:
// - ID and Strategy are fixed at creation.
// - Status only moves forward (see CanTransition); Completed and Error are terminal.
// - Result is written once, on the terminal transition.
type Call struct {
	ID             string   `json:"id" db:"id"`
	Phone          string   `json:"phone" db:"phone"`
	Strategy       Strategy `json:"strategy" db:"strategy"`
	ProviderCallID string   `json:"providerCallId,omitempty" db:"provider_call_id"`

	Status CallStatus `json:"status" db:"status"`

	// Result is nil until the call reaches a terminal state.
	Result *DetectionResult `json:"result,omitempty" db:"raw_result"`

	// ResultUndecodable is set when a stored result could not be decoded.
	ResultUndecodable bool `json:"-" db:"-"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Latency is the time between creation and the last update.
func (c Call) Latency() time.Duration {
	if c.UpdatedAt.Before(c.CreatedAt) {
		return 0
	}
	return c.UpdatedAt.Sub(c.CreatedAt)
}

type Strategy string

const (
	StrategyNativeTelephony Strategy = "native_telephony"
	StrategySIPPlatform     Strategy = "sip_platform"
	StrategyMLInference     Strategy = "ml_inference"
	StrategyGenerativeAudio Strategy = "generative_audio"
)

// Strategies lists every strategy in display order.
func Strategies() []Strategy {
	return []Strategy{
		StrategyNativeTelephony,
		StrategySIPPlatform,
		StrategyMLInference,
		StrategyGenerativeAudio,
	}
}

func (s Strategy) Valid() bool {
	switch s {
	case StrategyNativeTelephony, StrategySIPPlatform, StrategyMLInference, StrategyGenerativeAudio:
		return true
	default:
		return false
	}
}

// PostCallAnalysis reports whether the strategy classifies a recording after the call
// instead of detecting during it.
func (s Strategy) PostCallAnalysis() bool {
	switch s {
	case StrategyMLInference, StrategyGenerativeAudio:
		return true
	case StrategyNativeTelephony, StrategySIPPlatform:
		return false
	default:
		return false
	}
}

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusProcessing CallStatus = "processing"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusError      CallStatus = "error"
)

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusInitiated, CallStatusRinging, CallStatusInProgress,
		CallStatusProcessing, CallStatusCompleted, CallStatusError:
		return true
	default:
		return false
	}
}

func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusError:
		return true
	case CallStatusInitiated, CallStatusRinging, CallStatusInProgress, CallStatusProcessing:
		return false
	default:
		return false
	}
}

// rank orders the non-error lifecycle. Error has no rank; it is reachable from any
// non-terminal state.
func (s CallStatus) rank() int {
	switch s {
	case CallStatusInitiated:
		return 0
	case CallStatusRinging:
		return 1
	case CallStatusInProgress:
		return 2
	case CallStatusProcessing:
		return 3
	case CallStatusCompleted:
		return 4
	case CallStatusError:
		return -1
	default:
		return -1
	}
}

// CanTransition reports whether a call may move from one status to another.
func CanTransition(from, to CallStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == CallStatusError {
		return true
	}
	return to.rank() > from.rank()
}

// TerminalStatuses is the set used by stores to guard first-write-wins updates.
func TerminalStatuses() []CallStatus {
	return []CallStatus{CallStatusCompleted, CallStatusError}
}
