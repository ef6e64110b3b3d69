package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Audio is a normalized 16kHz mono WAV file ready for the models
type Audio struct {
	Path string
	// Duration in seconds decoded from the WAV header, zero when unknown
	Duration float64

	temp []string
}

// Cleanup removes every temporary file behind this audio
func (a *Audio) Cleanup() {
	if a == nil {
		return
	}
	for _, p := range a.temp {
		removeTemp(p)
	}
	a.temp = nil
}

func removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove temp file")
	}
}

// Normalize converts any audio file to 16kHz mono 16-bit PCM WAV
func Normalize(ctx context.Context, ffmpeg, inputPath, tempDir string) (string, error) {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	outputPath := filepath.Join(tempDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y",
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		outputPath,
	)

	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("normalizing audio")
	output, err := cmd.CombinedOutput()
	if err != nil {
		removeTemp(outputPath)
		return "", fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}

	return outputPath, nil
}

// WAVDuration reads the playback duration of a WAV file in seconds
func WAVDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("%s is not a valid wav file", filepath.Base(path))
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, err
	}
	return dur.Seconds(), nil
}

var contentTypeExtensions = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/wave":  ".wav",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/flac":  ".flac",
	"audio/webm":  ".webm",
}

var supportedExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".opus", ".flac", ".webm", ".aac", ".wma", ".mp4"}

// ExtensionFor picks the temp file extension from the content type,
// then the URL path, then falls back to .wav
func ExtensionFor(contentType, urlPath string) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ext, ok := contentTypeExtensions[mediaType]; ok {
		return ext
	}
	if ext := strings.ToLower(filepath.Ext(urlPath)); ValidateAudioFormat(ext) {
		return ext
	}
	return ".wav"
}

// ValidateAudioFormat checks if the extension is a known audio container
func ValidateAudioFormat(ext string) bool {
	ext = strings.ToLower(ext)
	for _, format := range supportedExtensions {
		if ext == format {
			return true
		}
	}
	return false
}
