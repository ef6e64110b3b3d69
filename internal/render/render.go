package render

import (
	"errors"
	"fmt"
	"math"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// ErrUnsupportedFormat is returned for output formats without a renderer
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Renderer turns a finished transcript into the payload for one encoding.
// Implementations are pure: the same transcript always yields the same bytes.
type Renderer interface {
	Render(t *types.Transcript) ([]byte, error)
	ContentType() string
}

// Options tunes subtitle rendering
type Options struct {
	// SpeakerPrefix prepends "[LABEL] " to SRT cue text
	SpeakerPrefix bool
}

// DefaultOptions matches the handler defaults
func DefaultOptions() Options {
	return Options{SpeakerPrefix: true}
}

// ForFormat picks the renderer for an output_format value
func ForFormat(format string, opts Options) (Renderer, error) {
	switch format {
	case types.FormatJSON:
		return JSON{}, nil
	case types.FormatSRT:
		return SRT{SpeakerPrefix: opts.SpeakerPrefix}, nil
	case types.FormatVTT:
		return VTT{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Supported reports whether a renderer exists for format
func Supported(format string) bool {
	_, err := ForFormat(format, Options{})
	return err == nil
}

// millis converts seconds to whole milliseconds, clamping bad input to zero
func millis(seconds float64) int64 {
	if seconds < 0 || math.IsNaN(seconds) {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}

// cueSpan rounds a segment to milliseconds. A cue always lasts at least 1ms
// since players drop cues that end where they start.
func cueSpan(start, end float64) (int64, int64) {
	from, to := millis(start), millis(end)
	if to <= from {
		to = from + 1
	}
	return from, to
}

// clock splits milliseconds into h, m, s, ms
func clock(total int64) (h, m, s, ms int64) {
	h = total / 3_600_000
	m = total / 60_000 % 60
	s = total / 1000 % 60
	ms = total % 1000
	return
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
