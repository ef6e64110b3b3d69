package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/diarized-transcription/internal/media"
	"github.com/codebuildervaibhav/diarized-transcription/internal/models"
	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/render"
	"github.com/codebuildervaibhav/diarized-transcription/internal/transcript"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Models struct {
		ASR         string `yaml:"asr"`
		Aligner     string `yaml:"aligner"`
		Diarizer    string `yaml:"diarizer"`
		Helper      string `yaml:"helper"`
		Model       string `yaml:"model"`
		Device      string `yaml:"device"`
		ComputeType string `yaml:"compute_type"`
		BatchSize   int    `yaml:"batch_size"`
		HFToken     string `yaml:"hf_token"`
		Preload     *bool  `yaml:"preload"`
	} `yaml:"models"`

	OpenAI struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`

	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`

	Storage struct {
		TempDir  string `yaml:"temp_dir"`
		Database string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"google_drive"`

	S3 struct {
		Region string `yaml:"region"`
	} `yaml:"s3"`

	Tools struct {
		FFmpeg string `yaml:"ffmpeg"`
		YtDlp  string `yaml:"yt_dlp"`
	} `yaml:"tools"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`

	Timeouts struct {
		DownloadSeconds   int `yaml:"download_seconds"`
		TranscribeSeconds int `yaml:"transcribe_seconds"`
		AlignSeconds      int `yaml:"align_seconds"`
		DiarizeSeconds    int `yaml:"diarize_seconds"`
	} `yaml:"timeouts"`

	Assembly struct {
		SilenceSplitSeconds float64 `yaml:"silence_split_seconds"`
	} `yaml:"assembly"`

	Render struct {
		SpeakerPrefix *bool `yaml:"speaker_prefix"`
	} `yaml:"render"`

	Queue struct {
		URL          string `yaml:"url"`
		RequestQueue string `yaml:"request_queue"`
		ResultQueue  string `yaml:"result_queue"`
		Prefetch     int    `yaml:"prefetch"`
	} `yaml:"queue"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadEnvFiles loads every env file that exists, in order. Variables that are
// already set are left untouched.
func LoadEnvFiles(files ...string) {
	for _, envFile := range files {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		log.Debug().Str("envFile", envFile).Msg("env file found, loading environment variables from file")
		if err := godotenv.Load(envFile); err != nil {
			log.Error().Err(err).Str("envFile", envFile).Msg("failed to load environment variables from file")
		}
	}
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setString(&c.Server.Host, "0.0.0.0")
	setInt(&c.Server.Port, 8000)

	setString(&c.Models.ASR, models.BackendWhisperX)
	setString(&c.Models.Aligner, models.BackendWhisperX)
	setString(&c.Models.Diarizer, models.BackendWhisperX)
	setString(&c.Models.Helper, "whisperx-helper")
	setString(&c.Models.Model, "large-v3")
	setString(&c.Models.Device, "auto")
	setString(&c.Models.ComputeType, "float16")
	setInt(&c.Models.BatchSize, 16)
	if c.Models.Preload == nil {
		preload := true
		c.Models.Preload = &preload
	}

	setInt(&c.Workers.Count, 1)
	setInt(&c.Workers.QueueSize, 100)

	setString(&c.Storage.TempDir, "./temp")
	setString(&c.Storage.Database, "./data/jobs.db")

	setInt(&c.Cleanup.IntervalMinutes, 60)
	setInt(&c.Cleanup.MaxAgeHours, 24)

	setString(&c.Tools.FFmpeg, "ffmpeg")
	setString(&c.Tools.YtDlp, "yt-dlp")

	setInt(&c.Limits.MaxFileSizeMB, 500)

	setInt(&c.Timeouts.DownloadSeconds, 300)
	setInt(&c.Timeouts.TranscribeSeconds, 1800)
	setInt(&c.Timeouts.AlignSeconds, 600)
	setInt(&c.Timeouts.DiarizeSeconds, 1800)

	if c.Render.SpeakerPrefix == nil {
		prefix := render.DefaultOptions().SpeakerPrefix
		c.Render.SpeakerPrefix = &prefix
	}

	setString(&c.Queue.RequestQueue, "transcription.requests")
	setString(&c.Queue.ResultQueue, "transcription.results")
	setInt(&c.Queue.Prefetch, 1)

	setString(&c.Log.Level, "info")
	setString(&c.Log.Format, "console")
}

// applyEnv lets deployment environments override the file
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HF_TOKEN":        &c.Models.HFToken,
		"WHISPER_MODEL":   &c.Models.Model,
		"COMPUTE_TYPE":    &c.Models.ComputeType,
		"DEVICE":          &c.Models.Device,
		"OPENAI_API_KEY":  &c.OpenAI.APIKey,
		"OPENAI_BASE_URL": &c.OpenAI.BaseURL,
		"AMQP_URL":        &c.Queue.URL,
		"LOG_LEVEL":       &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

var (
	validDevices   = map[string]bool{"auto": true, "cuda": true, "cpu": true}
	validASR       = map[string]bool{models.BackendWhisperX: true, models.BackendOpenAI: true}
	validAligners  = map[string]bool{models.BackendWhisperX: true, models.BackendNone: true}
	validDiarizers = map[string]bool{models.BackendWhisperX: true, models.BackendNone: true}
	validFormats   = map[string]bool{"console": true, "json": true}
)

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !validDevices[c.Models.Device] {
		errs = append(errs, fmt.Errorf("models.device %q must be one of auto, cuda, cpu", c.Models.Device))
	}
	if !validASR[c.Models.ASR] {
		errs = append(errs, fmt.Errorf("models.asr %q is not a known backend", c.Models.ASR))
	}
	if !validAligners[c.Models.Aligner] {
		errs = append(errs, fmt.Errorf("models.aligner %q is not a known backend", c.Models.Aligner))
	}
	if !validDiarizers[c.Models.Diarizer] {
		errs = append(errs, fmt.Errorf("models.diarizer %q is not a known backend", c.Models.Diarizer))
	}
	if c.Models.ASR == models.BackendOpenAI && c.OpenAI.BaseURL == "" && c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("the openai asr backend needs openai.base_url or OPENAI_API_KEY"))
	}
	if c.Workers.Count < 1 {
		errs = append(errs, errors.New("workers.count must be at least 1"))
	}
	if c.Workers.QueueSize < 1 {
		errs = append(errs, errors.New("workers.queue_size must be at least 1"))
	}
	if c.Timeouts.DownloadSeconds < 0 || c.Timeouts.TranscribeSeconds < 0 ||
		c.Timeouts.AlignSeconds < 0 || c.Timeouts.DiarizeSeconds < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	if c.Assembly.SilenceSplitSeconds < 0 {
		errs = append(errs, errors.New("assembly.silence_split_seconds cannot be negative"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Addr is the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ModelConfig configures the model provider
func (c *Config) ModelConfig() models.Config {
	return models.Config{
		ASRBackend:     c.Models.ASR,
		AlignBackend:   c.Models.Aligner,
		DiarizeBackend: c.Models.Diarizer,
		HelperCommand:  c.Models.Helper,
		Model:          c.Models.Model,
		Device:         c.Models.Device,
		ComputeType:    c.Models.ComputeType,
		BatchSize:      c.Models.BatchSize,
		HFToken:        c.Models.HFToken,
		OpenAIBaseURL:  c.OpenAI.BaseURL,
		OpenAIAPIKey:   c.OpenAI.APIKey,
		OpenAIModel:    c.OpenAI.Model,
	}
}

// MediaConfig configures audio acquisition
func (c *Config) MediaConfig() media.Config {
	return media.Config{
		TempDir:              c.Storage.TempDir,
		MaxBytes:             int64(c.Limits.MaxFileSizeMB) * 1024 * 1024,
		FFmpegCommand:        c.Tools.FFmpeg,
		YtDlpCommand:         c.Tools.YtDlp,
		DriveCredentialsFile: c.GoogleDrive.CredentialsFile,
		S3Region:             c.S3.Region,
	}
}

// PipelineOptions configures the orchestrator
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Timeouts: pipeline.Timeouts{
			Download:   seconds(c.Timeouts.DownloadSeconds),
			Transcribe: seconds(c.Timeouts.TranscribeSeconds),
			Align:      seconds(c.Timeouts.AlignSeconds),
			Diarize:    seconds(c.Timeouts.DiarizeSeconds),
		},
		Assembly: transcript.Options{SilenceSplit: c.Assembly.SilenceSplitSeconds},
		Render:   render.Options{SpeakerPrefix: *c.Render.SpeakerPrefix},
	}
}

// CleanupInterval is how often the temp sweeper runs
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}

// CleanupMaxAge is how long temp files and finished jobs are kept
func (c *Config) CleanupMaxAge() time.Duration {
	return time.Duration(c.Cleanup.MaxAgeHours) * time.Hour
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}
