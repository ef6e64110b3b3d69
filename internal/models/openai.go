package models

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// openAITranscriber talks to any OpenAI-compatible transcription endpoint
type openAITranscriber struct {
	client *openai.Client
	model  string
}

func newOpenAITranscriber(cfg Config) *openAITranscriber {
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = openai.Whisper1
	}
	return &openAITranscriber{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (t *openAITranscriber) Transcribe(ctx context.Context, audioPath, language string) (*types.ASRResult, error) {
	req := openai.AudioRequest{
		Model:    t.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
			openai.TranscriptionTimestampGranularitySegment,
		},
	}
	if language != types.LanguageAuto {
		req.Language = language
	}

	resp, err := t.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &types.ASRResult{
		Language: resp.Language,
		Duration: resp.Duration,
	}

	// words arrive flat; hand each one to the segment it starts in
	w := 0
	for i, s := range resp.Segments {
		seg := types.RawSegment{Start: ptr(s.Start), End: ptr(s.End), Text: s.Text}
		last := i == len(resp.Segments)-1
		for w < len(resp.Words) && (last || resp.Words[w].Start < s.End) {
			word := resp.Words[w]
			seg.Words = append(seg.Words, types.RawWord{Word: word.Word, Start: ptr(word.Start), End: ptr(word.End)})
			w++
		}
		res.Segments = append(res.Segments, seg)
	}

	// some servers return words without segments
	if len(resp.Segments) == 0 && len(resp.Words) > 0 {
		seg := types.RawSegment{Text: resp.Text}
		for _, word := range resp.Words {
			seg.Words = append(seg.Words, types.RawWord{Word: word.Word, Start: ptr(word.Start), End: ptr(word.End)})
		}
		res.Segments = append(res.Segments, seg)
	}
	return res, nil
}

func ptr(v float64) *float64 {
	return &v
}
