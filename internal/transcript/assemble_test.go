package transcript_test

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/codebuildervaibhav/diarized-transcription/internal/transcript"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

func word(text string, start, end float64) types.Word {
	return types.Word{Text: text, Start: start, End: end}
}

func turn(speaker string, start, end float64) types.Turn {
	return types.Turn{Speaker: speaker, Start: start, End: end}
}

func flatten(segments []types.Segment) []types.Word {
	var out []types.Word
	for _, s := range segments {
		out = append(out, s.Words...)
	}
	return out
}

var _ = Describe("Assemble", func() {
	It("returns no segments for an empty word stream", func() {
		segs := Assemble(nil, TurnIndex{turn("S0", 0, 10)}, Options{})
		Expect(segs).To(BeEmpty())
	})

	It("attributes a two word utterance inside one turn to one segment", func() {
		words := WordStream{word("Hi", 0.0, 0.5), word("there", 0.6, 1.0)}
		segs := Assemble(words, TurnIndex{turn("SPEAKER_00", 0.0, 1.0)}, Options{})

		Expect(segs).To(HaveLen(1))
		Expect(segs[0].Speaker).To(Equal("SPEAKER_00"))
		Expect(segs[0].Start).To(Equal(0.0))
		Expect(segs[0].End).To(Equal(1.0))
		Expect(segs[0].Text).To(Equal("Hi there"))
	})

	It("splits at the exact turn boundary", func() {
		words := WordStream{word("A", 0, 1), word("B", 1, 2)}
		turns := TurnIndex{turn("S0", 0, 1), turn("S1", 1, 2)}
		segs := Assemble(words, turns, Options{})

		Expect(segs).To(HaveLen(2))
		Expect(segs[0].Speaker).To(Equal("S0"))
		Expect(segs[1].Speaker).To(Equal("S1"))
		Expect(segs[0].End).To(Equal(1.0))
		Expect(segs[1].Start).To(Equal(1.0))
	})

	It("yields exactly one segment for one word under one turn", func() {
		segs := Assemble(WordStream{word("solo", 2, 3)}, TurnIndex{turn("S0", 0, 5)}, Options{})
		Expect(segs).To(HaveLen(1))
		Expect(segs[0].Words).To(HaveLen(1))
	})

	It("leaves every segment unattributed without turns and keeps the text", func() {
		words := WordStream{word("one", 0, 1), word("two", 1, 2), word("three", 5, 6)}
		segs := Assemble(words, nil, Options{})

		for _, s := range segs {
			Expect(s.Speaker).To(BeEmpty())
		}
		Expect(FullText(segs)).To(Equal("one two three"))
		Expect(SpeakerSet(segs)).To(BeEmpty())
	})

	It("falls back to the word start when the midpoint is uncovered", func() {
		// midpoint 1.5 lies after the turn, start 0.9 lies inside it
		segs := Assemble(WordStream{word("late", 0.9, 2.1)}, TurnIndex{turn("S0", 0, 1)}, Options{})
		Expect(segs[0].Speaker).To(Equal("S0"))
	})

	It("keeps unattributed words in their own segment between speakers", func() {
		words := WordStream{word("a", 0, 1), word("gap", 3, 4), word("b", 6, 7)}
		turns := TurnIndex{turn("S0", 0, 2), turn("S0", 5, 8)}
		segs := Assemble(words, turns, Options{})

		Expect(segs).To(HaveLen(3))
		Expect(segs[0].Speaker).To(Equal("S0"))
		Expect(segs[1].Speaker).To(BeEmpty())
		Expect(segs[1].Text).To(Equal("gap"))
		Expect(segs[2].Speaker).To(Equal("S0"))
	})

	It("prefers the most recently begun turn when turns overlap", func() {
		turns := TurnIndex{turn("S0", 0, 10), turn("S1", 4, 6)}
		segs := Assemble(WordStream{word("x", 1, 2), word("y", 4.5, 5.5), word("z", 7, 8)}, turns, Options{})

		Expect(segs).To(HaveLen(3))
		Expect(segs[0].Speaker).To(Equal("S0"))
		Expect(segs[1].Speaker).To(Equal("S1"))
		Expect(segs[2].Speaker).To(Equal("S0"))
	})

	It("does not split on silence by default", func() {
		words := WordStream{word("a", 0, 1), word("b", 30, 31)}
		Expect(Assemble(words, nil, Options{})).To(HaveLen(1))
	})

	It("splits on silence when a threshold is configured", func() {
		words := WordStream{word("a", 0, 1), word("b", 1.2, 2), word("c", 5, 6)}
		segs := Assemble(words, nil, Options{SilenceSplit: 2})

		Expect(segs).To(HaveLen(2))
		Expect(segs[0].Text).To(Equal("a b"))
		Expect(segs[1].Text).To(Equal("c"))
	})

	It("attributes every word whose midpoint is inside a turn to that turn", func() {
		var words WordStream
		for i := 0; i < 40; i++ {
			start := float64(i) * 0.5
			words = append(words, word(fmt.Sprintf("w%d", i), start, start+0.4))
		}
		turns := TurnIndex{turn("S0", 0, 4.1), turn("S1", 4.1, 9.3), turn("S2", 12, 20)}
		segs := Assemble(words, turns, Options{})

		for _, s := range segs {
			for _, w := range s.Words {
				for _, t := range turns {
					if w.Midpoint() > t.Start && w.Midpoint() < t.End {
						Expect(s.Speaker).To(Equal(t.Speaker), "word %s", w.Text)
					}
				}
			}
		}
	})

	It("covers every word exactly once, in order, with ordered non-overlapping segments", func() {
		var words WordStream
		for i := 0; i < 25; i++ {
			start := float64(i) * 0.7
			words = append(words, word(fmt.Sprintf("w%d", i), start, start+0.6))
		}
		turns := TurnIndex{turn("A", 0, 3), turn("B", 2.5, 6), turn("A", 8, 11), turn("C", 14, 30)}
		segs := Assemble(words, turns, Options{SilenceSplit: 0.05})

		Expect(flatten(segs)).To(Equal([]types.Word(words)))
		for i := 1; i < len(segs); i++ {
			Expect(segs[i].Start).To(BeNumerically(">=", segs[i-1].End))
		}
		for _, s := range segs {
			Expect(s.Start).To(Equal(s.Words[0].Start))
			Expect(s.End).To(Equal(s.Words[len(s.Words)-1].End))
		}
	})

	It("reproduces the full text from segment texts", func() {
		words := WordStream{word("Bonjour", 0, 1), word("à", 1, 1.2), word("tous", 1.2, 2)}
		segs := Assemble(words, TurnIndex{turn("S1", 1.1, 5)}, Options{})
		var texts []string
		for _, w := range words {
			texts = append(texts, w.Text)
		}
		Expect(FullText(segs)).To(Equal(strings.Join(texts, " ")))
	})
})

var _ = Describe("SpeakerSet", func() {
	It("returns distinct sorted labels", func() {
		segs := []types.Segment{{Speaker: "S2"}, {Speaker: ""}, {Speaker: "S0"}, {Speaker: "S2"}}
		Expect(SpeakerSet(segs)).To(Equal([]string{"S0", "S2"}))
	})
})
