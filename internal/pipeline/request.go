package pipeline

import (
	"fmt"
	"strings"

	"github.com/codebuildervaibhav/diarized-transcription/internal/media"
	"github.com/codebuildervaibhav/diarized-transcription/internal/render"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

var validLanguages = map[string]bool{
	types.LanguageAuto:    true,
	types.LanguageEnglish: true,
	types.LanguageFrench:  true,
}

// Validate checks a request and fills in defaults. Errors wrap ErrInvalidRequest.
func Validate(req types.Request) (types.Request, error) {
	req.AudioURL = strings.TrimSpace(req.AudioURL)
	if req.AudioURL == "" {
		return req, fmt.Errorf("%w: audio_url is required", ErrInvalidRequest)
	}
	if _, err := media.Classify(req.AudioURL); err != nil {
		return req, fmt.Errorf("%w: audio_url: %v", ErrInvalidRequest, err)
	}

	if req.Language == "" {
		req.Language = types.LanguageAuto
	}
	if !validLanguages[req.Language] {
		return req, fmt.Errorf("%w: invalid language %q, must be one of fr, en, auto", ErrInvalidRequest, req.Language)
	}

	if req.OutputFormat == "" {
		req.OutputFormat = types.FormatJSON
	}
	if !render.Supported(req.OutputFormat) {
		return req, fmt.Errorf("%w: invalid output_format %q, must be one of json, srt, vtt", ErrInvalidRequest, req.OutputFormat)
	}

	if req.MinSpeakers != nil && *req.MinSpeakers < 1 {
		return req, fmt.Errorf("%w: min_speakers must be at least 1", ErrInvalidRequest)
	}
	if req.MaxSpeakers != nil && *req.MaxSpeakers < 1 {
		return req, fmt.Errorf("%w: max_speakers must be at least 1", ErrInvalidRequest)
	}
	if req.MinSpeakers != nil && req.MaxSpeakers != nil && *req.MinSpeakers > *req.MaxSpeakers {
		return req, fmt.Errorf("%w: min_speakers cannot be greater than max_speakers", ErrInvalidRequest)
	}

	if req.Diarize == nil {
		diarize := true
		req.Diarize = &diarize
	}
	return req, nil
}
