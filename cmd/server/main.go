package main

import (
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
)

const version = "2.0.0"

func main() {
	// Console logging at info until the configuration is read
	configureLogging("info", "console")

	envFiles := []string{".env", "transcription.env"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(homeDir, ".config/transcription.env"))
	}
	config.LoadEnvFiles(envFiles...)

	ctx := kong.Parse(&CLI,
		kong.Name("transcription"),
		kong.Description(`  Speaker-attributed transcription of remote audio.

Version: ${version}
`),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
	)

	if err := ctx.Run(&CLI.Context); err != nil {
		log.Fatal().Err(err).Msg("error running the application")
	}
}
