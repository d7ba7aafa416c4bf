package calls

import (
	"strings"
	"time"
)

const (
	SyntheticCallIDPrefix = "CAsim"
	syntheticCallIDLen    = 34
	syntheticAlphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// SyntheticProviderCallID builds a provider-shaped handle for calls no backend accepted.
func SyntheticProviderCallID(r Random) string {
	var b strings.Builder
	b.Grow(syntheticCallIDLen)
	b.WriteString(SyntheticCallIDPrefix)
	for b.Len() < syntheticCallIDLen {
		b.WriteByte(syntheticAlphabet[r.IntN(len(syntheticAlphabet))])
	}
	return b.String()
}

func IsSyntheticProviderCallID(id string) bool {
	return id == "" || strings.HasPrefix(id, SyntheticCallIDPrefix)
}

// SimulationDelay is uniform in [lo, hi].
func SimulationDelay(r Random, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.Float64()*float64(hi-lo))
}

// ProviderName is the backend that produces results for a strategy.
func ProviderName(s Strategy) string {
	switch s {
	case StrategyNativeTelephony:
		return "twilio"
	case StrategySIPPlatform:
		return "jambonz"
	case StrategyMLInference:
		return "huggingface"
	case StrategyGenerativeAudio:
		return "gemini"
	default:
		return "simulator"
	}
}

// SimulatedResult fabricates a strategy-shaped detection for demo completion.
func SimulatedResult(s Strategy, providerCallID string, r Random, now time.Time) DetectionResult {
	human := r.Float64() > 0.5
	status := AMDMachine
	if human {
		status = AMDHuman
	}
	res := DetectionResult{
		SchemaVersion:  ResultSchemaVersion,
		AMDStatus:      status,
		Provider:       ProviderName(s),
		Provenance:     ProvenanceSimulated,
		ProviderCallID: providerCallID,
		DetectedAt:     now.UTC(),
	}

	switch s {
	case StrategyNativeTelephony:
		res.Confidence = 0.85 + r.Float64()*0.1
	case StrategySIPPlatform:
		res.Confidence = 0.82 + r.Float64()*0.1
		res.DetectionMethod = "beep_detection"
		if human {
			res.DetectionMethod = "speech_analysis"
		}
	case StrategyMLInference:
		res.Confidence = 0.90 + r.Float64()*0.08
		res.Model = "wav2vec2-base-960h"
		if human {
			res.Transcription = "Hello? Who is this calling?"
		} else {
			res.Transcription = "Hi, you have reached the voicemail. Please leave a message after the beep."
			res.DetectedPatterns = []string{"voicemail", "leave a message", "after the beep"}
		}
	case StrategyGenerativeAudio:
		res.Confidence = 0.92 + r.Float64()*0.06
		res.Model = "gemini-1.5-flash"
		if human {
			res.Reasoning = "Natural conversational tone with immediate interactive response. Speaker shows curiosity and engagement typical of human conversation."
		} else {
			res.Reasoning = "Scripted greeting with clear voicemail indicators. Monotone delivery, mentions \"leave a message\" which is a classic voicemail pattern."
		}
	default:
		res.AMDStatus = AMDUnknown
		res.Confidence = 0.5
		res.Error = "unknown strategy"
	}
	return res.Normalize(now)
}
