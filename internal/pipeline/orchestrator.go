package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/media"
	"github.com/codebuildervaibhav/diarized-transcription/internal/render"
	"github.com/codebuildervaibhav/diarized-transcription/internal/transcript"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Fetcher acquires and normalizes the audio named by a request
type Fetcher interface {
	Fetch(ctx context.Context, audioURL string) (*media.Audio, error)
}

// Models is the capability provider for the three model collaborators
type Models interface {
	Transcribe(ctx context.Context, audioPath, language string) (*types.ASRResult, error)
	Align(ctx context.Context, audioPath string, asr *types.ASRResult) ([]types.RawSegment, error)
	Diarize(ctx context.Context, audioPath string, bounds types.SpeakerBounds) ([]types.RawTurn, error)
}

// Observer is notified of every stage the request enters
type Observer func(stage Stage)

// Timeouts bounds each blocking stage; zero means no limit
type Timeouts struct {
	Download   time.Duration
	Transcribe time.Duration
	Align      time.Duration
	Diarize    time.Duration
}

// Options configures an Orchestrator
type Options struct {
	Timeouts Timeouts
	Assembly transcript.Options
	Render   render.Options
}

// Result is the output of a completed request
type Result struct {
	Transcript  *types.Transcript
	Format      string
	Payload     []byte
	ContentType string
}

// Orchestrator sequences the collaborators for one request at a time
type Orchestrator struct {
	fetcher Fetcher
	models  Models
	opts    Options
}

// New creates an orchestrator over process-wide collaborators
func New(fetcher Fetcher, models Models, opts Options) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		models:  models,
		opts:    opts,
	}
}

// Run drives one request from Received to Completed or Failed.
// Exactly one of the return values is non-nil.
func (o *Orchestrator) Run(ctx context.Context, req types.Request, observe Observer) (res *Result, failure *Failure) {
	started := time.Now()
	if observe == nil {
		observe = func(Stage) {}
	}
	stage := StageReceived
	enter := func(s Stage) {
		stage = s
		observe(s)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stage", string(stage)).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("pipeline panic")
			res, failure = nil, fail(KindInternalError, stage, fmt.Errorf("panic: %v", r))
		}
		if failure != nil {
			observe(StageFailed)
		} else {
			observe(StageCompleted)
		}
	}()

	enter(StageReceived)
	req, err := Validate(req)
	if err != nil {
		return nil, fail(KindInvalidRequest, StageReceived, err)
	}
	renderer, err := render.ForFormat(req.OutputFormat, o.opts.Render)
	if err != nil {
		return nil, fail(KindInvalidRequest, StageReceived, err)
	}

	enter(StageDownloading)
	audio, failure := call(ctx, stage, o.opts.Timeouts.Download, func(ctx context.Context) (*media.Audio, error) {
		return o.fetcher.Fetch(ctx, req.AudioURL)
	})
	if failure != nil {
		return nil, failure
	}
	defer audio.Cleanup()

	enter(StageTranscribing)
	asr, failure := call(ctx, stage, o.opts.Timeouts.Transcribe, func(ctx context.Context) (*types.ASRResult, error) {
		return o.models.Transcribe(ctx, audio.Path, req.Language)
	})
	if failure != nil {
		return nil, failure
	}
	// the aligner only ever sees a real language code
	asr.Language = hintedLanguage(asr.Language, req.Language)
	language := asr.Language
	if language == "" {
		language = unknownLanguage
	}

	enter(StageAligning)
	aligned, failure := call(ctx, stage, o.opts.Timeouts.Align, func(ctx context.Context) ([]types.RawSegment, error) {
		return o.models.Align(ctx, audio.Path, asr)
	})
	if failure != nil {
		return nil, failure
	}

	var rawTurns []types.RawTurn
	if req.WantsDiarization() {
		enter(StageDiarizing)
		bounds := types.SpeakerBounds{Min: req.MinSpeakers, Max: req.MaxSpeakers}
		rawTurns, failure = call(ctx, stage, o.opts.Timeouts.Diarize, func(ctx context.Context) ([]types.RawTurn, error) {
			return o.models.Diarize(ctx, audio.Path, bounds)
		})
		if failure != nil {
			return nil, failure
		}
	}

	enter(StageAssembling)
	tr, failure := call(ctx, stage, 0, func(context.Context) (*types.Transcript, error) {
		words := transcript.NewWordStream(aligned)
		segments := transcript.Assemble(words, transcript.NewTurnIndex(rawTurns), o.opts.Assembly)
		return &types.Transcript{
			Segments: segments,
			Text:     transcript.FullText(segments),
			Language: language,
			Speakers: transcript.SpeakerSet(segments),
			Duration: audioDuration(audio.Duration, asr.Duration, words),
		}, nil
	})
	if failure != nil {
		return nil, failure
	}

	enter(StageRendering)
	tr.ProcessingTime = time.Since(started)
	payload, failure := call(ctx, stage, 0, func(context.Context) ([]byte, error) {
		return renderer.Render(tr)
	})
	if failure != nil {
		return nil, failure
	}

	log.Info().Str("language", language).Int("segments", len(tr.Segments)).
		Int("speakers", len(tr.Speakers)).Dur("processing_time", tr.ProcessingTime).
		Msg("transcription complete")

	return &Result{
		Transcript:  tr,
		Format:      req.OutputFormat,
		Payload:     payload,
		ContentType: renderer.ContentType(),
	}, nil
}

type outcome[T any] struct {
	value    T
	err      error
	panicked any
}

// releaser is implemented by stage outputs that own files on disk
type releaser interface {
	Cleanup()
}

// release waits for an abandoned stage and frees whatever it still produced
func release[T any](stage Stage, done <-chan outcome[T]) {
	out := <-done
	if out.panicked != nil || out.err != nil {
		return
	}
	if r, ok := any(out.value).(releaser); ok {
		log.Debug().Str("stage", string(stage)).Msg("releasing output of abandoned stage")
		r.Cleanup()
	}
}

// call runs one stage under its own deadline. A collaborator that ignores
// cancellation is abandoned rather than awaited, and anything it returns
// afterwards is released.
func call[T any](ctx context.Context, stage Stage, timeout time.Duration, fn func(context.Context) (T, error)) (T, *Failure) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fail(KindCanceled, stage, err)
	}

	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("stage", string(stage)).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("stage panic")
				done <- outcome[T]{panicked: r}
			}
		}()
		v, err := fn(stageCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.panicked != nil {
			return zero, fail(KindInternalError, stage, fmt.Errorf("panic: %v", out.panicked))
		}
		if out.err != nil {
			return zero, classify(stage, out.err, stageCtx, ctx)
		}
		return out.value, nil
	case <-stageCtx.Done():
		if _, ok := any(zero).(releaser); ok {
			go release(stage, done)
		}
		if ctx.Err() != nil {
			return zero, fail(KindCanceled, stage, ctx.Err())
		}
		return zero, fail(KindTimeout, stage, fmt.Errorf("%s exceeded %s", stage, timeout))
	}
}

// unknownLanguage is reported when neither detection nor the request named one
const unknownLanguage = "unknown"

// hintedLanguage prefers the detected language and falls back to an explicit hint
func hintedLanguage(detected, requested string) string {
	if detected != "" {
		return detected
	}
	if requested != types.LanguageAuto {
		return requested
	}
	return ""
}

func audioDuration(decoded, reported float64, words transcript.WordStream) float64 {
	switch {
	case decoded > 0:
		return decoded
	case reported > 0:
		return reported
	case len(words) > 0:
		return words[len(words)-1].End
	default:
		return 0
	}
}
