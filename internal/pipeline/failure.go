package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/codebuildervaibhav/diarized-transcription/internal/media"
	"github.com/codebuildervaibhav/diarized-transcription/internal/models"
	"github.com/codebuildervaibhav/diarized-transcription/internal/render"
)

// Stage is a state of the per-request pipeline
type Stage string

const (
	StageReceived     Stage = "Received"
	StageDownloading  Stage = "Downloading"
	StageTranscribing Stage = "Transcribing"
	StageAligning     Stage = "Aligning"
	StageDiarizing    Stage = "Diarizing"
	StageAssembling   Stage = "Assembling"
	StageRendering    Stage = "Rendering"
	StageCompleted    Stage = "Completed"
	StageFailed       Stage = "Failed"
)

// Kind classifies a terminal failure
type Kind string

const (
	KindInvalidRequest Kind = "InvalidRequest"
	KindFetchError     Kind = "FetchError"
	KindModelError     Kind = "ModelError"
	KindTimeout        Kind = "Timeout"
	KindInternalError  Kind = "InternalError"
	// KindCanceled marks a request the caller abandoned before completion
	KindCanceled Kind = "Canceled"
)

// ErrInvalidRequest wraps every validation error
var ErrInvalidRequest = errors.New("invalid request")

// Failure is the terminal failure envelope of one request
type Failure struct {
	Kind    Kind   `json:"error_kind"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s at %s: %s", f.Kind, f.Stage, f.Message)
}

func fail(kind Kind, stage Stage, err error) *Failure {
	return &Failure{Kind: kind, Stage: stage, Message: err.Error()}
}

// classify maps a stage error onto the failure taxonomy
func classify(stage Stage, err error, stageCtx, parent context.Context) *Failure {
	var f *Failure
	switch {
	case errors.As(err, &f):
		return f
	case parent.Err() != nil:
		return fail(KindCanceled, stage, parent.Err())
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		return fail(KindTimeout, stage, fmt.Errorf("%s exceeded its deadline: %w", stage, err))
	case errors.Is(err, ErrInvalidRequest) || errors.Is(err, render.ErrUnsupportedFormat):
		return fail(KindInvalidRequest, stage, err)
	case errors.Is(err, media.ErrFetch):
		return fail(KindFetchError, stage, err)
	case errors.Is(err, models.ErrModel):
		return fail(KindModelError, stage, err)
	}

	switch stage {
	case StageDownloading:
		return fail(KindFetchError, stage, err)
	case StageTranscribing, StageAligning, StageDiarizing:
		return fail(KindModelError, stage, err)
	default:
		return fail(KindInternalError, stage, err)
	}
}
