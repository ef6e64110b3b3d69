package render

import (
	"fmt"
	"strings"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// SRT renders one numbered cue per segment
type SRT struct {
	SpeakerPrefix bool
}

func (r SRT) Render(t *types.Transcript) ([]byte, error) {
	var b strings.Builder
	for i, seg := range t.Segments {
		from, to := cueSpan(seg.Start, seg.End)
		fmt.Fprintf(&b, "%d\n%s --> %s\n", i+1, srtTimestamp(from), srtTimestamp(to))
		if r.SpeakerPrefix && seg.Speaker != "" {
			fmt.Fprintf(&b, "[%s] ", seg.Speaker)
		}
		b.WriteString(seg.Text)
		b.WriteString("\n\n")
	}
	return []byte(b.String()), nil
}

func (SRT) ContentType() string {
	return "application/x-subrip; charset=utf-8"
}

// VTT renders WebVTT cues; speakers are carried by voice spans and a
// per-speaker cue class declared in the STYLE block.
type VTT struct{}

// cuePalette is cycled by speaker index
var cuePalette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c",
}

func (VTT) Render(t *types.Transcript) ([]byte, error) {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")

	class := make(map[string]string, len(t.Speakers))
	if len(t.Speakers) > 0 {
		b.WriteString("STYLE\n")
		for i, spk := range t.Speakers {
			class[spk] = fmt.Sprintf("speaker-%d", i)
			fmt.Fprintf(&b, "::cue(.%s) { color: %s; }\n", class[spk], cuePalette[i%len(cuePalette)])
		}
		b.WriteString("\n")
	}

	for i, seg := range t.Segments {
		from, to := cueSpan(seg.Start, seg.End)
		fmt.Fprintf(&b, "%d\n%s --> %s\n", i+1, vttTimestamp(from), vttTimestamp(to))
		text := escapeCueText(seg.Text)
		if c, ok := class[seg.Speaker]; ok {
			fmt.Fprintf(&b, "<v %s><c.%s>%s</c></v>\n\n", seg.Speaker, c, text)
		} else {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	}
	return []byte(b.String()), nil
}

func (VTT) ContentType() string {
	return "text/vtt; charset=utf-8"
}

var cueEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeCueText(s string) string {
	return cueEscaper.Replace(s)
}

// srtTimestamp formats milliseconds as HH:MM:SS,mmm
func srtTimestamp(total int64) string {
	h, m, s, ms := clock(total)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// vttTimestamp formats milliseconds as HH:MM:SS.mmm
func vttTimestamp(total int64) string {
	h, m, s, ms := clock(total)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
