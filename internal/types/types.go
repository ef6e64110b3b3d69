package types

import "time"

// Job status constants
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Supported language hints
const (
	LanguageAuto    = "auto"
	LanguageEnglish = "en"
	LanguageFrench  = "fr"
)

// Supported output formats
const (
	FormatJSON = "json"
	FormatSRT  = "srt"
	FormatVTT  = "vtt"
)

// Request is the logical transcription request, independent of transport
type Request struct {
	AudioURL     string `json:"audio_url"`
	Language     string `json:"language,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	MinSpeakers  *int   `json:"min_speakers,omitempty"`
	MaxSpeakers  *int   `json:"max_speakers,omitempty"`
	Diarize      *bool  `json:"diarize,omitempty"`
}

// WantsDiarization reports whether the diarization stage should run
func (r Request) WantsDiarization() bool {
	return r.Diarize == nil || *r.Diarize
}

// Word is one recognized word with its aligned timing, in seconds
type Word struct {
	Text       string
	Start      float64
	End        float64
	Confidence *float64
}

// Midpoint is the instant used to attribute the word to a speaker
func (w Word) Midpoint() float64 {
	return (w.Start + w.End) / 2
}

// Turn is one diarization interval for a single speaker
type Turn struct {
	Speaker string
	Start   float64
	End     float64
}

// Contains reports whether t lies in the half-open interval [Start, End)
func (t Turn) Contains(at float64) bool {
	return at >= t.Start && at < t.End
}

// Segment is a contiguous run of words sharing one speaker assignment.
// An empty Speaker means no turn covered the words.
type Segment struct {
	Start   float64
	End     float64
	Text    string
	Speaker string
	Words   []Word
}

// Transcript is the assembled result of one request
type Transcript struct {
	Segments       []Segment
	Text           string
	Language       string
	Speakers       []string
	Duration       float64
	ProcessingTime time.Duration
}

// RawWord is a word as reported by the ASR or alignment collaborator.
// Timing fields are nil when the collaborator could not place the word.
type RawWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// RawSegment is a coarse recognized segment, optionally carrying words
type RawSegment struct {
	Start *float64  `json:"start,omitempty"`
	End   *float64  `json:"end,omitempty"`
	Text  string    `json:"text"`
	Words []RawWord `json:"words,omitempty"`
}

// ASRResult is the output of the speech recognition collaborator
type ASRResult struct {
	Language string       `json:"language"`
	Duration float64      `json:"duration,omitempty"`
	Segments []RawSegment `json:"segments"`
}

// RawTurn is a speaker interval as reported by the diarization collaborator
type RawTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// SpeakerBounds constrains the number of speakers the diarizer may find
type SpeakerBounds struct {
	Min *int
	Max *int
}
