package transcript

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// WordStream is the time-ordered, non-overlapping sequence of words for one request
type WordStream []types.Word

// TurnIndex is the start-ordered sequence of diarization turns for one request
type TurnIndex []types.Turn

// NewWordStream flattens collaborator segments into normalized words.
// Malformed entries are repaired or dropped with a warning; it never fails.
func NewWordStream(segments []types.RawSegment) WordStream {
	words := make(WordStream, 0, len(segments)*8)
	prevEnd := 0.0

	for si, seg := range segments {
		segStart := clampTime(deref(seg.Start, prevEnd))
		segEnd := clampTime(deref(seg.End, segStart))
		if segEnd < segStart {
			segEnd = segStart
		}

		raw := seg.Words
		if len(raw) == 0 {
			raw = spreadText(seg.Text, segStart, segEnd)
			if len(raw) > 0 {
				log.Warn().Int("segment", si).Msg("segment has no aligned words, spreading text over its interval")
			}
		}

		cursor := math.Max(segStart, prevEnd)
		for wi, rw := range raw {
			text := strings.TrimSpace(rw.Word)
			if text == "" {
				log.Warn().Int("segment", si).Int("word", wi).Msg("dropping word with empty text")
				continue
			}

			start, end := cursor, cursor
			if rw.Start != nil && rw.End != nil && !math.IsNaN(*rw.Start) && !math.IsNaN(*rw.End) {
				start, end = clampTime(*rw.Start), clampTime(*rw.End)
			} else {
				log.Warn().Str("word", text).Float64("at", cursor).Msg("word has no timing, pinning to previous word end")
			}

			if end < start {
				log.Warn().Str("word", text).Float64("start", start).Float64("end", end).Msg("word ends before it starts, clamping end")
				end = start
			}
			if start < prevEnd {
				start = prevEnd
				if end < start {
					end = start
				}
			}

			words = append(words, types.Word{
				Text:       text,
				Start:      start,
				End:        end,
				Confidence: clampScore(rw.Score),
			})
			prevEnd = end
			cursor = end
		}
	}

	return words
}

// NewTurnIndex normalizes diarization output into a start-ordered turn list.
// Turns with an empty label or negative length are dropped with a warning.
func NewTurnIndex(raw []types.RawTurn) TurnIndex {
	turns := make(TurnIndex, 0, len(raw))
	for i, rt := range raw {
		speaker := strings.TrimSpace(rt.Speaker)
		if speaker == "" || math.IsNaN(rt.Start) || math.IsNaN(rt.End) || rt.End < rt.Start {
			log.Warn().Int("turn", i).Str("speaker", rt.Speaker).
				Float64("start", rt.Start).Float64("end", rt.End).
				Msg("dropping malformed speaker turn")
			continue
		}
		turns = append(turns, types.Turn{
			Speaker: speaker,
			Start:   clampTime(rt.Start),
			End:     clampTime(rt.End),
		})
	}

	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Start < turns[j].Start
	})
	return turns
}

// spreadText splits unaligned segment text into words sharing the interval evenly
func spreadText(text string, start, end float64) []types.RawWord {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	step := (end - start) / float64(len(fields))
	out := make([]types.RawWord, len(fields))
	for i, f := range fields {
		ws := start + step*float64(i)
		we := ws + step
		if i == len(fields)-1 {
			we = end
		}
		out[i] = types.RawWord{Word: f, Start: &ws, End: &we}
	}
	return out
}

func deref(v *float64, fallback float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return fallback
	}
	return *v
}

func clampTime(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	return t
}

func clampScore(s *float64) *float64 {
	if s == nil || math.IsNaN(*s) {
		return nil
	}
	v := math.Min(math.Max(*s, 0), 1)
	return &v
}
