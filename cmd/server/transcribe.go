package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

type TranscribeCMD struct {
	AudioURL string `arg:"" name:"audio-url" help:"HTTP(S), Google Drive, S3 or YouTube URL of the audio"`

	Language    string `short:"l" default:"auto" enum:"auto,en,fr" help:"Language of the audio [${enum}]"`
	Format      string `short:"f" default:"json" enum:"json,srt,vtt" help:"Output format [${enum}]"`
	MinSpeakers *int   `help:"Lower bound on the number of speakers"`
	MaxSpeakers *int   `help:"Upper bound on the number of speakers"`
	NoDiarize   bool   `help:"Skip speaker diarization"`
	Output      string `short:"o" type:"path" help:"Write the result to this file instead of stdout"`
}

func (t *TranscribeCMD) Run(cliCtx *Context) error {
	cfg, err := cliCtx.load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator, provider := newPipeline(cfg)
	defer provider.Close()
	res, failure := orchestrator.Run(ctx, t.request(), func(stage pipeline.Stage) {
		log.Info().Str("stage", string(stage)).Msg("stage entered")
	})
	if failure != nil {
		body, _ := json.MarshalIndent(failure, "", "  ")
		fmt.Fprintln(os.Stderr, string(body))
		return failure
	}

	var out io.Writer = os.Stdout
	if t.Output != "" {
		f, err := os.Create(t.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if _, err := out.Write(res.Payload); err != nil {
		return err
	}

	log.Info().
		Int("segments", len(res.Transcript.Segments)).
		Strs("speakers", res.Transcript.Speakers).
		Str("language", res.Transcript.Language).
		Dur("took", res.Transcript.ProcessingTime).
		Msg("transcription complete")
	return nil
}

func (t *TranscribeCMD) request() types.Request {
	diarize := !t.NoDiarize
	return types.Request{
		AudioURL:     t.AudioURL,
		Language:     t.Language,
		OutputFormat: t.Format,
		MinSpeakers:  t.MinSpeakers,
		MaxSpeakers:  t.MaxSpeakers,
		Diarize:      &diarize,
	}
}
