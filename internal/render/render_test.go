package render_test

import (
	"encoding/json"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/codebuildervaibhav/diarized-transcription/internal/render"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

func sampleTranscript() *types.Transcript {
	score := 0.91
	return &types.Transcript{
		Segments: []types.Segment{
			{Start: 0, End: 1.2346, Text: "Hi there", Speaker: "SPEAKER_00", Words: []types.Word{
				{Text: "Hi", Start: 0, End: 0.5, Confidence: &score},
				{Text: "there", Start: 0.6, End: 1.2346},
			}},
			{Start: 3661.5, End: 3662.0004, Text: "a < b", Words: []types.Word{
				{Text: "a", Start: 3661.5, End: 3661.6},
				{Text: "<", Start: 3661.6, End: 3661.7},
				{Text: "b", Start: 3661.7, End: 3662.0004},
			}},
		},
		Text:           "Hi there a < b",
		Language:       "en",
		Speakers:       []string{"SPEAKER_00"},
		Duration:       3662.567,
		ProcessingTime: 1534 * time.Millisecond,
	}
}

var _ = Describe("ForFormat", func() {
	It("rejects unknown formats", func() {
		_, err := ForFormat("xml", DefaultOptions())
		Expect(err).To(MatchError(ErrUnsupportedFormat))
		Expect(Supported("xml")).To(BeFalse())
	})

	It("knows every request format", func() {
		for _, f := range []string{types.FormatJSON, types.FormatSRT, types.FormatVTT} {
			Expect(Supported(f)).To(BeTrue(), f)
		}
	})
})

var _ = Describe("JSON", func() {
	It("serializes the structured record with rounded times", func() {
		out, err := JSON{}.Render(sampleTranscript())
		Expect(err).ToNot(HaveOccurred())

		var rec map[string]any
		Expect(json.Unmarshal(out, &rec)).To(Succeed())
		Expect(rec["language"]).To(Equal("en"))
		Expect(rec["duration"]).To(Equal(3662.57))
		Expect(rec["processing_time"]).To(Equal(1.53))
		Expect(rec["speakers"]).To(Equal([]any{"SPEAKER_00"}))

		body := rec["transcription"].(map[string]any)
		Expect(body["text"]).To(Equal("Hi there a < b"))
		segs := body["segments"].([]any)
		Expect(segs).To(HaveLen(2))

		first := segs[0].(map[string]any)
		Expect(first["end"]).To(Equal(1.235))
		Expect(first["speaker"]).To(Equal("SPEAKER_00"))
		words := first["words"].([]any)
		Expect(words[0].(map[string]any)["score"]).To(Equal(0.91))
		Expect(words[1].(map[string]any)).ToNot(HaveKey("score"))

		second := segs[1].(map[string]any)
		Expect(second).To(HaveKeyWithValue("speaker", BeNil()))
	})

	It("emits empty arrays rather than null for an empty transcript", func() {
		out, err := JSON{}.Render(&types.Transcript{Language: "fr"})
		Expect(err).ToNot(HaveOccurred())
		Expect(string(out)).To(ContainSubstring(`"speakers":[]`))
		Expect(string(out)).To(ContainSubstring(`"segments":[]`))
	})
})

var _ = Describe("SRT", func() {
	It("numbers cues sequentially with millisecond timestamps", func() {
		out, err := SRT{SpeakerPrefix: true}.Render(sampleTranscript())
		Expect(err).ToNot(HaveOccurred())
		Expect(string(out)).To(Equal(
			"1\n00:00:00,000 --> 00:00:01,235\n[SPEAKER_00] Hi there\n\n" +
				"2\n01:01:01,500 --> 01:01:02,000\na < b\n\n"))
	})

	It("omits the speaker prefix when disabled", func() {
		out, _ := SRT{}.Render(sampleTranscript())
		Expect(string(out)).ToNot(ContainSubstring("[SPEAKER_00]"))
	})

	It("keeps start before end for every cue", func() {
		out, _ := SRT{}.Render(sampleTranscript())
		for _, line := range strings.Split(string(out), "\n") {
			if parts := strings.Split(line, " --> "); len(parts) == 2 {
				Expect(parts[0] < parts[1]).To(BeTrue(), line)
			}
		}
	})
})

var _ = Describe("VTT", func() {
	It("writes a style header and speaker classes instead of prefixes", func() {
		out, err := VTT{}.Render(sampleTranscript())
		Expect(err).ToNot(HaveOccurred())
		text := string(out)

		Expect(text).To(HavePrefix("WEBVTT\n\nSTYLE\n::cue(.speaker-0) { color: #e6194b; }\n\n"))
		Expect(text).To(ContainSubstring("1\n00:00:00.000 --> 00:00:01.235\n<v SPEAKER_00><c.speaker-0>Hi there</c></v>\n\n"))
		Expect(text).To(ContainSubstring("2\n01:01:01.500 --> 01:01:02.000\na &lt; b\n\n"))
		Expect(text).ToNot(ContainSubstring("[SPEAKER_00]"))
	})

	It("skips the style block without speakers", func() {
		out, _ := VTT{}.Render(&types.Transcript{})
		Expect(string(out)).To(Equal("WEBVTT\n\n"))
	})
})

var _ = Describe("zero length cues", func() {
	instant := func() *types.Transcript {
		return &types.Transcript{Segments: []types.Segment{
			{Start: 2, End: 2, Text: "Hm", Words: []types.Word{{Text: "Hm", Start: 2, End: 2}}},
			{Start: 4.0001, End: 4.0004, Text: "Oh", Words: []types.Word{{Text: "Oh", Start: 4.0001, End: 4.0004}}},
		}}
	}

	It("gives srt cues a one millisecond duration", func() {
		out, err := SRT{}.Render(instant())
		Expect(err).ToNot(HaveOccurred())
		Expect(string(out)).To(Equal(
			"1\n00:00:02,000 --> 00:00:02,001\nHm\n\n" +
				"2\n00:00:04,000 --> 00:00:04,001\nOh\n\n"))
	})

	It("gives vtt cues a one millisecond duration", func() {
		out, err := VTT{}.Render(instant())
		Expect(err).ToNot(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("1\n00:00:02.000 --> 00:00:02.001\nHm\n\n"))
		Expect(string(out)).To(ContainSubstring("2\n00:00:04.000 --> 00:00:04.001\nOh\n\n"))
	})
})

var _ = Describe("idempotence", func() {
	It("renders byte-identical output on repeated calls", func() {
		for _, f := range []string{types.FormatJSON, types.FormatSRT, types.FormatVTT} {
			r, err := ForFormat(f, DefaultOptions())
			Expect(err).ToNot(HaveOccurred())
			a, _ := r.Render(sampleTranscript())
			b, _ := r.Render(sampleTranscript())
			Expect(a).To(Equal(b), f)
		}
	})
})
