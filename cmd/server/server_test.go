package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/metrics"
	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/queue"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

type okRunner struct{}

func (okRunner) Run(_ context.Context, req types.Request, observe pipeline.Observer) (*pipeline.Result, *pipeline.Failure) {
	observe(pipeline.StageReceived)
	return &pipeline.Result{
		Transcript:  &types.Transcript{},
		Format:      types.FormatSRT,
		Payload:     []byte(""),
		ContentType: "application/x-subrip",
	}, nil
}

var _ = ginkgo.Describe("LogBuffer", func() {
	ginkgo.It("keeps only the most recent lines", func() {
		buf := NewLogBuffer(3)
		for i := 0; i < 5; i++ {
			fmt.Fprintf(buf, "line %d\n", i)
		}
		Expect(buf.GetLogs()).To(Equal([]string{"line 2\n", "line 3\n", "line 4\n"}))
	})

	ginkgo.It("receives log events once configured", func() {
		ginkgo.DeferCleanup(func(logger zerolog.Logger, level zerolog.Level) {
			log.Logger = logger
			zerolog.SetGlobalLevel(level)
		}, log.Logger, zerolog.GlobalLevel())

		buf := NewLogBuffer(10)
		configureLogging("warn", "json", buf)
		log.Info().Msg("dropped")
		log.Warn().Str("job_id", "abc").Msg("kept")

		lines := buf.GetLogs()
		Expect(lines).To(HaveLen(1))
		Expect(lines[0]).To(ContainSubstring(`"job_id":"abc"`))
		Expect(zerolog.GlobalLevel()).To(Equal(zerolog.WarnLevel))
	})
})

var _ = ginkgo.Describe("Context", func() {
	ginkgo.It("falls back to defaults when the config file is missing", func() {
		ginkgo.DeferCleanup(func(logger zerolog.Logger, level zerolog.Level) {
			log.Logger = logger
			zerolog.SetGlobalLevel(level)
		}, log.Logger, zerolog.GlobalLevel())

		debug := "debug"
		c := &Context{ConfigFile: filepath.Join(ginkgo.GinkgoT().TempDir(), "missing.yaml"), LogLevel: &debug}
		cfg, err := c.load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Port).To(BeNumerically(">", 0))
		Expect(zerolog.GlobalLevel()).To(Equal(zerolog.DebugLevel))
	})

	ginkgo.It("reports an unreadable config file", func() {
		path := filepath.Join(ginkgo.GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte("server: ["), 0644)).To(Succeed())
		_, err := (&Context{ConfigFile: path}).load()
		Expect(err).To(HaveOccurred())
	})
})

var _ = ginkgo.Describe("TranscribeCMD", func() {
	ginkgo.It("builds the request from flags", func() {
		two := 2
		cmd := &TranscribeCMD{AudioURL: "https://example.com/a.wav", Language: "fr", Format: "vtt", MaxSpeakers: &two, NoDiarize: true}
		req := cmd.request()
		Expect(req.AudioURL).To(Equal("https://example.com/a.wav"))
		Expect(req.Language).To(Equal("fr"))
		Expect(req.OutputFormat).To(Equal("vtt"))
		Expect(*req.MaxSpeakers).To(Equal(2))
		Expect(req.MinSpeakers).To(BeNil())
		Expect(req.WantsDiarization()).To(BeFalse())
	})
})

var _ = ginkgo.Describe("newApp", func() {
	var pool *queue.WorkerPool

	ginkgo.BeforeEach(func() {
		pool = queue.NewWorkerPool(1, 4, okRunner{}, nil, nil, nil)
		pool.Start(context.Background())
		ginkgo.DeferCleanup(pool.Stop)
	})

	ginkgo.It("serves health, logs and metrics", func() {
		app := newApp(pool, nil, metrics.New())

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
		Expect(err).NotTo(HaveOccurred())
		var health map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&health)).To(Succeed())
		Expect(health).To(HaveKeyWithValue("status", "healthy"))

		resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/logs", nil), -1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
		Expect(err).NotTo(HaveOccurred())
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("transcription_http_request_duration_seconds"))
	})

	ginkgo.It("runs requests through the worker pool", func() {
		app := newApp(pool, nil, metrics.New())
		req := httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader(`{"input":{"audio_url":"https://example.com/a.wav"}}`))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		var env map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
		Expect(env).To(HaveKeyWithValue("status", types.StatusCompleted))
	})
})
