package render

import (
	"encoding/json"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// JSON renders the structured transcript record
type JSON struct{}

// Record is the structured-record document returned for output_format=json
type Record struct {
	Transcription  RecordBody `json:"transcription"`
	Speakers       []string   `json:"speakers"`
	Language       string     `json:"language"`
	Duration       float64    `json:"duration"`
	ProcessingTime float64    `json:"processing_time"`
}

// RecordBody holds the full text and the ordered segments
type RecordBody struct {
	Text     string          `json:"text"`
	Segments []RecordSegment `json:"segments"`
}

// RecordSegment is one speaker-attributed segment
type RecordSegment struct {
	Start   float64      `json:"start"`
	End     float64      `json:"end"`
	Text    string       `json:"text"`
	Speaker *string      `json:"speaker"`
	Words   []RecordWord `json:"words"`
}

// RecordWord is one aligned word
type RecordWord struct {
	Word  string   `json:"word"`
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	Score *float64 `json:"score,omitempty"`
}

// NewRecord builds the structured record, rounding times the way clients expect
func NewRecord(t *types.Transcript) Record {
	segments := make([]RecordSegment, len(t.Segments))
	for i, seg := range t.Segments {
		words := make([]RecordWord, len(seg.Words))
		for j, w := range seg.Words {
			words[j] = RecordWord{
				Word:  w.Text,
				Start: round(w.Start, 3),
				End:   round(w.End, 3),
				Score: w.Confidence,
			}
		}

		var speaker *string
		if seg.Speaker != "" {
			label := seg.Speaker
			speaker = &label
		}

		segments[i] = RecordSegment{
			Start:   round(seg.Start, 3),
			End:     round(seg.End, 3),
			Text:    seg.Text,
			Speaker: speaker,
			Words:   words,
		}
	}

	speakers := t.Speakers
	if speakers == nil {
		speakers = []string{}
	}

	return Record{
		Transcription: RecordBody{
			Text:     t.Text,
			Segments: segments,
		},
		Speakers:       speakers,
		Language:       t.Language,
		Duration:       round(t.Duration, 2),
		ProcessingTime: round(t.ProcessingTime.Seconds(), 2),
	}
}

func (JSON) Render(t *types.Transcript) ([]byte, error) {
	return json.Marshal(NewRecord(t))
}

func (JSON) ContentType() string {
	return "application/json"
}
