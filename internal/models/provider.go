package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// ErrModel wraps every failure raised by a model backend
var ErrModel = errors.New("model error")

// Backend names accepted in Config
const (
	BackendWhisperX = "whisperx"
	BackendOpenAI   = "openai"
	BackendNone     = "none"
)

// Config selects and configures the three model backends
type Config struct {
	ASRBackend     string
	AlignBackend   string
	DiarizeBackend string

	// HelperCommand is the whisperx helper, split on whitespace
	HelperCommand string
	Model         string
	Device        string
	ComputeType   string
	BatchSize     int
	HFToken       string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
}

// Transcriber produces coarse segments and a detected language
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*types.ASRResult, error)
}

// Aligner refines recognized segments into word-level timings
type Aligner interface {
	Align(ctx context.Context, audioPath string, asr *types.ASRResult) ([]types.RawSegment, error)
}

// Diarizer reports who spoke when
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, bounds types.SpeakerBounds) ([]types.RawTurn, error)
}

type lazy[T any] struct {
	once  sync.Once
	done  atomic.Bool
	value T
	err   error
	init  func() (T, error)
}

func (l *lazy[T]) get() (T, error) {
	l.once.Do(func() {
		l.value, l.err = l.init()
		l.done.Store(true)
	})
	return l.value, l.err
}

// peek reports the value only if init already ran
func (l *lazy[T]) peek() (T, bool) {
	if !l.done.Load() {
		var zero T
		return zero, false
	}
	return l.value, l.err == nil
}

// Provider owns the process-wide model backends. Each backend is created on
// first use and reused by every later request; a failed init is remembered.
// The whisperx backends share one helper process.
type Provider struct {
	cfg     Config
	helper  *lazy[*helper]
	asr     *lazy[Transcriber]
	align   *lazy[Aligner]
	diarize *lazy[Diarizer]
}

// NewProvider creates a provider; no backend is loaded until needed
func NewProvider(cfg Config) *Provider {
	p := &Provider{cfg: cfg}
	p.helper = &lazy[*helper]{init: p.newHelper}
	p.asr = &lazy[Transcriber]{init: p.newTranscriber}
	p.align = &lazy[Aligner]{init: p.newAligner}
	p.diarize = &lazy[Diarizer]{init: p.newDiarizer}
	return p
}

type preloadStep struct {
	name string
	load func() error
}

// Preload initializes every backend up front and waits for the helper to
// load its models. Failures are logged and left for the first request to
// report.
func (p *Provider) Preload(ctx context.Context) {
	started := time.Now()
	steps := []preloadStep{
		{"asr", func() error { _, err := p.asr.get(); return err }},
		{"align", func() error { _, err := p.align.get(); return err }},
		{"diarize", func() error { _, err := p.diarize.get(); return err }},
	}
	if len(p.helperTasks()) > 0 {
		steps = append(steps, preloadStep{"whisperx", func() error {
			h, err := p.helper.get()
			if err != nil {
				return err
			}
			return h.wait(ctx)
		}})
	}
	for _, s := range steps {
		if ctx.Err() != nil {
			return
		}
		if err := s.load(); err != nil {
			log.Error().Err(err).Str("backend", s.name).Msg("failed to preload model")
			continue
		}
		log.Info().Str("backend", s.name).Msg("model ready")
	}
	log.Info().Dur("took", time.Since(started)).Msg("model preload finished")
}

// Close stops the helper process if one was started
func (p *Provider) Close() {
	if h, ok := p.helper.peek(); ok {
		h.close()
	}
}

// Transcribe runs speech recognition on a normalized audio file
func (p *Provider) Transcribe(ctx context.Context, audioPath, language string) (*types.ASRResult, error) {
	t, err := p.asr.get()
	if err != nil {
		return nil, err
	}
	res, err := t.Transcribe(ctx, audioPath, language)
	if err != nil {
		return nil, modelError("transcribe", err)
	}
	return res, nil
}

// Align attaches word timings to the recognized segments
func (p *Provider) Align(ctx context.Context, audioPath string, asr *types.ASRResult) ([]types.RawSegment, error) {
	a, err := p.align.get()
	if err != nil {
		return nil, err
	}
	segs, err := a.Align(ctx, audioPath, asr)
	if err != nil {
		return nil, modelError("align", err)
	}
	return segs, nil
}

// Diarize returns the speaker turns of the audio
func (p *Provider) Diarize(ctx context.Context, audioPath string, bounds types.SpeakerBounds) ([]types.RawTurn, error) {
	d, err := p.diarize.get()
	if err != nil {
		return nil, err
	}
	turns, err := d.Diarize(ctx, audioPath, bounds)
	if err != nil {
		return nil, modelError("diarize", err)
	}
	return turns, nil
}

// helperTasks lists the stages served by the whisperx helper so it only
// loads the models it will be asked for
func (p *Provider) helperTasks() []string {
	var tasks []string
	if p.cfg.ASRBackend == BackendWhisperX || p.cfg.ASRBackend == "" {
		tasks = append(tasks, "transcribe")
	}
	if p.cfg.AlignBackend == BackendWhisperX || p.cfg.AlignBackend == "" {
		tasks = append(tasks, "align")
	}
	if (p.cfg.DiarizeBackend == BackendWhisperX || p.cfg.DiarizeBackend == "") && p.cfg.HFToken != "" {
		tasks = append(tasks, "diarize")
	}
	return tasks
}

func (p *Provider) newHelper() (*helper, error) {
	args := []string{"serve",
		"--model", p.cfg.Model,
		"--device", p.cfg.Device,
		"--compute-type", p.cfg.ComputeType,
		"--batch-size", strconv.Itoa(p.cfg.BatchSize),
		"--tasks", strings.Join(p.helperTasks(), ","),
	}
	var env []string
	if p.cfg.HFToken != "" {
		env = append(env, "HF_TOKEN="+p.cfg.HFToken)
	}
	h, err := newHelper(p.cfg.HelperCommand, args, env)
	if err != nil {
		return nil, modelError("load whisperx", err)
	}
	return h, nil
}

func (p *Provider) newTranscriber() (Transcriber, error) {
	switch p.cfg.ASRBackend {
	case BackendWhisperX, "":
		h, err := p.helper.get()
		if err != nil {
			return nil, err
		}
		return &whisperXTranscriber{helper: h}, nil
	case BackendOpenAI:
		return newOpenAITranscriber(p.cfg), nil
	default:
		return nil, modelError("load asr", fmt.Errorf("unknown backend %q", p.cfg.ASRBackend))
	}
}

func (p *Provider) newAligner() (Aligner, error) {
	switch p.cfg.AlignBackend {
	case BackendWhisperX, "":
		h, err := p.helper.get()
		if err != nil {
			return nil, err
		}
		return &whisperXAligner{helper: h}, nil
	case BackendNone:
		return passthroughAligner{}, nil
	default:
		return nil, modelError("load aligner", fmt.Errorf("unknown backend %q", p.cfg.AlignBackend))
	}
}

func (p *Provider) newDiarizer() (Diarizer, error) {
	switch p.cfg.DiarizeBackend {
	case BackendWhisperX, "":
		if p.cfg.HFToken == "" {
			return nil, modelError("load diarizer", errors.New("HF_TOKEN is required for diarization"))
		}
		h, err := p.helper.get()
		if err != nil {
			return nil, err
		}
		return &whisperXDiarizer{helper: h}, nil
	case BackendNone:
		return noDiarizer{}, nil
	default:
		return nil, modelError("load diarizer", fmt.Errorf("unknown backend %q", p.cfg.DiarizeBackend))
	}
}

func modelError(op string, err error) error {
	if errors.Is(err, ErrModel) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrModel, op, err)
}

// passthroughAligner keeps the word timings the recognizer already produced
type passthroughAligner struct{}

func (passthroughAligner) Align(_ context.Context, _ string, asr *types.ASRResult) ([]types.RawSegment, error) {
	return asr.Segments, nil
}

type noDiarizer struct{}

func (noDiarizer) Diarize(context.Context, string, types.SpeakerBounds) ([]types.RawTurn, error) {
	return nil, nil
}
