package analysis

import (
	"regexp"
	"strings"
)

type voicemailPattern struct {
	label   string
	re      *regexp.Regexp
	scoring bool
}

// Greeting phrases that mark a transcript as an answering machine. Scoring
// patterns also raise confidence.
var voicemailPatterns = []voicemailPattern{
	{label: "leave a message", re: regexp.MustCompile(`leave.*message`), scoring: true},
	{label: "after the beep", re: regexp.MustCompile(`after.*beep`), scoring: true},
	{label: "not available", re: regexp.MustCompile(`not available`)},
	{label: "voicemail", re: regexp.MustCompile(`voicemail`), scoring: true},
	{label: "mailbox", re: regexp.MustCompile(`mailbox`), scoring: true},
	{label: "please record", re: regexp.MustCompile(`please.*record`)},
	{label: "unable to answer", re: regexp.MustCompile(`unable.*answer`)},
	{label: "can't come to the phone", re: regexp.MustCompile(`can't.*come.*phone`)},
	{label: "press pound", re: regexp.MustCompile(`press.*pound`)},
	{label: "press #", re: regexp.MustCompile(`press.*#`)},
}

// Confidence is tracked in hundredths so the additive steps stay exact.
const (
	confidenceBase       = 70
	confidenceLongText   = 10
	confidenceLongerText = 5
	confidencePerMatch   = 5
	confidenceCap        = 95
)

type VoicemailMatch struct {
	Machine    bool
	Confidence float64
	Patterns   []string
}

// MatchVoicemail classifies a transcript. Any pattern hit means machine.
func MatchVoicemail(transcript string) VoicemailMatch {
	text := strings.ToLower(transcript)

	var m VoicemailMatch
	score := confidenceBase
	if len(transcript) > 50 {
		score += confidenceLongText
	}
	if len(transcript) > 100 {
		score += confidenceLongerText
	}
	for _, p := range voicemailPatterns {
		if !p.re.MatchString(text) {
			continue
		}
		m.Machine = true
		m.Patterns = append(m.Patterns, p.label)
		if p.scoring {
			score += confidencePerMatch
		}
	}
	score = min(score, confidenceCap)
	m.Confidence = float64(score) / 100
	return m
}
