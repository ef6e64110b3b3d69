package transcript

import (
	"sort"
	"strings"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Options tunes segmentation
type Options struct {
	// SilenceSplit forces a segment boundary when the gap between two
	// consecutive words exceeds it, in seconds. Zero disables silence splitting.
	SilenceSplit float64
}

// Assemble merges the word stream against the turn index into
// speaker-attributed segments in a single forward pass.
func Assemble(words WordStream, turns TurnIndex, opts Options) []types.Segment {
	if len(words) == 0 {
		return []types.Segment{}
	}

	var (
		segments []types.Segment
		current  *types.Segment
		lo       int
	)

	for i, w := range words {
		// Every later lookup happens at or after w.Start, so turns that
		// ended by then can never match again.
		for lo < len(turns) && turns[lo].End <= w.Start {
			lo++
		}
		speaker := activeSpeaker(turns, lo, w)

		split := current == nil || speaker != current.Speaker
		if !split && opts.SilenceSplit > 0 && w.Start-words[i-1].End > opts.SilenceSplit {
			split = true
		}

		if split {
			if current != nil {
				segments = append(segments, finish(*current))
			}
			current = &types.Segment{Start: w.Start, Speaker: speaker}
		}
		current.Words = append(current.Words, w)
		current.End = w.End
	}

	return append(segments, finish(*current))
}

// activeSpeaker applies the midpoint rule with a fallback at the word start.
// When several turns match, the one that began last wins.
func activeSpeaker(turns TurnIndex, lo int, w types.Word) string {
	mid := w.Midpoint()
	atMid, atStart := -1, -1

	for j := lo; j < len(turns) && turns[j].Start <= mid; j++ {
		t := turns[j]
		if t.Contains(mid) && (atMid < 0 || t.Start >= turns[atMid].Start) {
			atMid = j
		}
		if t.Contains(w.Start) && (atStart < 0 || t.Start >= turns[atStart].Start) {
			atStart = j
		}
	}

	switch {
	case atMid >= 0:
		return turns[atMid].Speaker
	case atStart >= 0:
		return turns[atStart].Speaker
	default:
		return ""
	}
}

func finish(seg types.Segment) types.Segment {
	texts := make([]string, len(seg.Words))
	for i, w := range seg.Words {
		texts[i] = w.Text
	}
	seg.Text = strings.Join(texts, " ")
	return seg
}

// FullText joins segment texts in order
func FullText(segments []types.Segment) string {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	return strings.Join(texts, " ")
}

// SpeakerSet returns the distinct attributed speaker labels, sorted
func SpeakerSet(segments []types.Segment) []string {
	seen := make(map[string]struct{})
	speakers := []string{}
	for _, s := range segments {
		if s.Speaker == "" {
			continue
		}
		if _, ok := seen[s.Speaker]; ok {
			continue
		}
		seen[s.Speaker] = struct{}{}
		speakers = append(speakers, s.Speaker)
	}
	sort.Strings(speakers)
	return speakers
}
