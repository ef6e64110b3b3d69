package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/queue"
	"github.com/codebuildervaibhav/diarized-transcription/internal/storage"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// StatusClientClosedRequest is reported when the caller went away mid-request
const StatusClientClosedRequest = 499

// disconnectPoll is how often a waiting handler checks on its caller
const disconnectPoll = 100 * time.Millisecond

// JobStore is the read side of the job ledger
type JobStore interface {
	GetJob(jobID string) (*storage.JobRecord, error)
	ListJobs(limit int) ([]storage.JobRecord, error)
}

// Pool is the part of the worker pool the HTTP handlers drive
type Pool interface {
	Submit(req types.Request) (*queue.Job, error)
	Registry() *queue.Registry
}

// JobsHandler serves the request/response and job status endpoints
type JobsHandler struct {
	pool  Pool
	store JobStore
}

// NewJobsHandler creates a new jobs handler; store may be nil
func NewJobsHandler(pool Pool, store JobStore) *JobsHandler {
	return &JobsHandler{
		pool:  pool,
		store: store,
	}
}

// RunRequest is the serverless-style body {"input": {...}}
type RunRequest struct {
	Input *types.Request `json:"input"`
}

// RunSync handles POST /runsync and answers with the finished envelope
func (h *JobsHandler) RunSync(c *fiber.Ctx) error {
	req, err := parseRunRequest(c)
	if req == nil {
		return err
	}

	job, err := h.submit(c, *req)
	if job == nil {
		return err
	}

	waitOrCancel(c, job)
	return c.JSON(job.Envelope())
}

// Run handles POST /run and answers as soon as the job is queued
func (h *JobsHandler) Run(c *fiber.Ctx) error {
	req, err := parseRunRequest(c)
	if req == nil {
		return err
	}

	job, err := h.submit(c, *req)
	if job == nil {
		return err
	}
	return c.JSON(queue.Envelope{ID: job.ID, Status: types.StatusQueued})
}

// Status handles GET /status/:id, falling back to the ledger for evicted jobs
func (h *JobsHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	if job, ok := h.pool.Registry().Get(id); ok {
		return c.JSON(job.Envelope())
	}

	if h.store != nil {
		rec, err := h.store.GetJob(id)
		if err == nil {
			return c.JSON(envelopeFromRecord(rec))
		}
		if !errors.Is(err, storage.ErrJobNotFound) {
			log.Error().Err(err).Str("job_id", id).Msg("failed to read job ledger")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to read job",
				"code":  "ERR_LEDGER",
			})
		}
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Job not found",
		"code":  "ERR_JOB_NOT_FOUND",
	})
}

// Transcribe handles POST /transcribe with a bare request body and answers
// with the rendered payload itself
func (h *JobsHandler) Transcribe(c *fiber.Ctx) error {
	var req types.Request
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	job, err := h.submit(c, req)
	if job == nil {
		return err
	}

	waitOrCancel(c, job)
	c.Set("X-Job-ID", job.ID)
	res, failure := job.Outcome()
	if failure != nil {
		return c.Status(statusForKind(failure.Kind)).JSON(job.Envelope())
	}
	c.Set(fiber.HeaderContentType, res.ContentType)
	return c.Send(res.Payload)
}

// List handles GET /jobs
func (h *JobsHandler) List(c *fiber.Ctx) error {
	if h.store == nil {
		return c.JSON([]storage.JobRecord{})
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	jobs, err := h.store.ListJobs(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(jobs)
}

// waitOrCancel blocks until job finishes. The job is cancelled when the
// caller hangs up or the server shuts down.
func waitOrCancel(c *fiber.Ctx, job *queue.Job) {
	ticker := time.NewTicker(disconnectPoll)
	defer ticker.Stop()

	conn := c.Context().Conn()
	for {
		select {
		case <-job.Done():
			return
		case <-c.Context().Done():
			log.Info().Str("job_id", job.ID).Msg("server shutting down, cancelling job")
		case <-ticker.C:
			if !peerClosed(conn) {
				continue
			}
			log.Info().Str("job_id", job.ID).Msg("caller went away, cancelling job")
		}
		job.Cancel()
		<-job.Done()
		return
	}
}

// submit answers refusals itself and returns a nil job
func (h *JobsHandler) submit(c *fiber.Ctx, req types.Request) (*queue.Job, error) {
	job, err := h.pool.Submit(req)
	switch {
	case err == nil:
		return job, nil
	case errors.Is(err, queue.ErrQueueFull):
		return nil, c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Too many queued jobs, retry later",
			"code":  "ERR_QUEUE_FULL",
		})
	default:
		return nil, c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_UNAVAILABLE",
		})
	}
}

// parseRunRequest returns nil once it has answered a bad body itself
func parseRunRequest(c *fiber.Ctx) (*types.Request, error) {
	var body RunRequest
	if err := c.BodyParser(&body); err != nil {
		return nil, invalidBody(c, err)
	}
	if body.Input == nil {
		return nil, invalidBody(c, errors.New(`body must carry an "input" object`))
	}
	return body.Input, nil
}

// invalidBody answers an unparseable body with the InvalidRequest envelope
func invalidBody(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(queue.Envelope{
		ID:     uuid.New().String(),
		Status: types.StatusFailed,
		Stage:  string(pipeline.StageFailed),
		Error: &pipeline.Failure{
			Kind:    pipeline.KindInvalidRequest,
			Stage:   pipeline.StageReceived,
			Message: err.Error(),
		},
	})
}

func envelopeFromRecord(rec *storage.JobRecord) queue.Envelope {
	env := queue.Envelope{ID: rec.JobID, Status: rec.Status, Stage: rec.Stage}
	if rec.ErrorKind != "" {
		env.Stage = string(pipeline.StageFailed)
		env.Error = &pipeline.Failure{
			Kind:    pipeline.Kind(rec.ErrorKind),
			Stage:   pipeline.Stage(rec.Stage),
			Message: rec.ErrorMessage,
		}
	}
	return env
}

func statusForKind(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindInvalidRequest:
		return fiber.StatusBadRequest
	case pipeline.KindFetchError, pipeline.KindModelError:
		return fiber.StatusBadGateway
	case pipeline.KindTimeout:
		return fiber.StatusGatewayTimeout
	case pipeline.KindCanceled:
		return StatusClientClosedRequest
	default:
		return fiber.StatusInternalServerError
	}
}
