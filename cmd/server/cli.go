package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/media"
	"github.com/codebuildervaibhav/diarized-transcription/internal/models"
	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
)

// Context carries the flags shared by every command
type Context struct {
	ConfigFile string  `env:"CONFIG_FILE" default:"config/config.yaml" type:"path" help:"YAML configuration file"`
	LogLevel   *string `enum:"error,warn,info,debug,trace" help:"Override the configured log level [${enum}]"`
	LogFormat  *string `env:"LOG_FORMAT" enum:"console,json" help:"Override the configured log format [${enum}]"`
}

var CLI struct {
	Context `embed:""`

	Serve      ServeCMD      `cmd:"" default:"withargs" help:"Run the HTTP API and workers, this is the default command"`
	Transcribe TranscribeCMD `cmd:"" help:"Transcribe a single audio URL and print the result"`
}

// load reads the configuration and applies the logging flags. A missing
// default config file falls back to defaults and environment.
func (c *Context) load() (*config.Config, error) {
	path := c.ConfigFile
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if c.LogLevel != nil {
		level = *c.LogLevel
	}
	if c.LogFormat != nil {
		format = *c.LogFormat
	}
	configureLogging(level, format, logBuffer)
	return cfg, nil
}

// newPipeline wires the process-wide collaborators
func newPipeline(cfg *config.Config) (*pipeline.Orchestrator, *models.Provider) {
	fetcher := media.NewFetcher(cfg.MediaConfig())
	provider := models.NewProvider(cfg.ModelConfig())
	return pipeline.New(fetcher, provider, cfg.PipelineOptions()), provider
}
