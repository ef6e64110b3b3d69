package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/metrics"
	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/storage"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// ErrQueueFull is returned when no more jobs can be buffered
var ErrQueueFull = errors.New("job queue is full")

// ErrStopped is returned once the pool no longer accepts jobs
var ErrStopped = errors.New("worker pool stopped")

// Runner executes one request end to end
type Runner interface {
	Run(ctx context.Context, req types.Request, observe pipeline.Observer) (*pipeline.Result, *pipeline.Failure)
}

// Ledger persists job metadata
type Ledger interface {
	CreateJob(rec storage.JobRecord) error
	UpdateStage(jobID, status, stage string) error
	FinishJob(rec storage.JobRecord) error
}

// WorkerPool manages a pool of workers processing transcription jobs
type WorkerPool struct {
	jobQueue    chan *Job
	workerCount int
	runner      Runner
	ledger      Ledger
	metrics     *metrics.Metrics
	registry    *Registry

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. ledger and m may be nil.
func NewWorkerPool(
	workerCount, queueSize int,
	runner Runner,
	ledger Ledger,
	m *metrics.Metrics,
	registry *Registry,
) *WorkerPool {
	if registry == nil {
		registry = NewRegistry()
	}
	return &WorkerPool{
		jobQueue:    make(chan *Job, queueSize),
		workerCount: workerCount,
		runner:      runner,
		ledger:      ledger,
		metrics:     m,
		registry:    registry,
	}
}

// Registry returns the job lookup shared with the transports
func (wp *WorkerPool) Registry() *Registry {
	return wp.registry
}

// Start launches the workers. Cancelling ctx abandons running jobs.
func (wp *WorkerPool) Start(ctx context.Context) {
	log.Info().Int("workers", wp.workerCount).Msg("starting worker pool")
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop refuses new jobs and waits for the queued ones to drain
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.jobQueue)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
}

// Submit registers req as a new job; validation happens in the pipeline
func (wp *WorkerPool) Submit(req types.Request) (*Job, error) {
	job := NewJob(req)
	if err := wp.EnqueueJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// RunSync submits req and waits for it to finish or for ctx to end, in which
// case the job is cancelled.
func (wp *WorkerPool) RunSync(ctx context.Context, req types.Request) (*Job, error) {
	job, err := wp.Submit(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-job.Done():
		return job, nil
	case <-ctx.Done():
		job.Cancel()
		return job, ctx.Err()
	}
}

// EnqueueJob adds a job to the queue without blocking. The job is registered
// and recorded before a worker can see it.
func (wp *WorkerPool) EnqueueJob(job *Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrStopped
	}

	wp.registry.Add(job)
	if wp.ledger != nil {
		err := wp.ledger.CreateJob(storage.JobRecord{
			JobID:        job.ID,
			AudioURL:     job.Request.AudioURL,
			Language:     job.Request.Language,
			OutputFormat: job.Request.OutputFormat,
			Status:       types.StatusQueued,
			Stage:        string(pipeline.StageReceived),
			CreatedAt:    job.CreatedAt,
		})
		if err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to record job")
		}
	}

	select {
	case wp.jobQueue <- job:
	default:
		wp.refuse(job)
		return ErrQueueFull
	}

	log.Info().Str("job_id", job.ID).Str("format", job.Request.OutputFormat).Msg("job enqueued")
	return nil
}

// refuse undoes the registration of a job that found the queue full
func (wp *WorkerPool) refuse(job *Job) {
	wp.registry.Remove(job.ID)
	failure := &pipeline.Failure{
		Kind:    pipeline.KindInternalError,
		Stage:   pipeline.StageReceived,
		Message: ErrQueueFull.Error(),
	}
	job.finish(nil, failure)

	if wp.ledger != nil {
		err := wp.ledger.FinishJob(storage.JobRecord{
			JobID:        job.ID,
			Status:       types.StatusFailed,
			Stage:        string(failure.Stage),
			ErrorKind:    string(failure.Kind),
			ErrorMessage: failure.Message,
		})
		if err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to record refused job")
		}
	}
	log.Warn().Str("job_id", job.ID).Msg("job refused, queue is full")
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	log.Debug().Int("worker", id).Msg("worker started")

	for job := range wp.jobQueue {
		wp.processJob(ctx, id, job)
	}
}

// processJob runs one job through the pipeline and records its outcome
func (wp *WorkerPool) processJob(ctx context.Context, workerID int, job *Job) {
	logger := log.With().Int("worker", workerID).Str("job_id", job.ID).Logger()
	stop := context.AfterFunc(ctx, job.Cancel)
	defer stop()

	wp.metrics.JobStarted()
	timer := wp.metrics.NewStageTimer()
	started := time.Now()

	var (
		res     *pipeline.Result
		failure *pipeline.Failure
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("worker panic")
				res, failure = nil, &pipeline.Failure{
					Kind:    pipeline.KindInternalError,
					Stage:   job.stageOrReceived(),
					Message: fmt.Sprintf("worker panic: %v", r),
				}
			}
		}()

		res, failure = wp.runner.Run(job.ctx, job.Request, func(stage pipeline.Stage) {
			timer.Enter(string(stage))
			job.setStage(stage)
			logger.Debug().Str("stage", string(stage)).Msg("stage entered")
			if wp.ledger != nil && stage != pipeline.StageCompleted && stage != pipeline.StageFailed {
				if err := wp.ledger.UpdateStage(job.ID, types.StatusProcessing, string(stage)); err != nil {
					logger.Warn().Err(err).Msg("failed to record stage")
				}
			}
		})
	}()
	if res == nil && failure == nil {
		failure = &pipeline.Failure{Kind: pipeline.KindInternalError, Stage: job.stageOrReceived(), Message: "pipeline returned no result"}
	}

	job.finish(res, failure)
	status, stage := job.Status()

	rec := storage.JobRecord{JobID: job.ID, Status: status, Stage: string(stage)}
	errorKind := ""
	if failure != nil {
		errorKind = string(failure.Kind)
		rec.Stage, rec.ErrorKind, rec.ErrorMessage = string(failure.Stage), errorKind, failure.Message
		logger.Warn().Str("error_kind", errorKind).Str("stage", string(failure.Stage)).Str("error", failure.Message).Msg("job failed")
	} else {
		t := res.Transcript
		rec.Duration = t.Duration
		rec.ProcessingTime = t.ProcessingTime.Seconds()
		rec.SpeakerCount = len(t.Speakers)
		rec.SegmentCount = len(t.Segments)
		logger.Info().Dur("took", time.Since(started)).Int("segments", rec.SegmentCount).Msg("job completed")
	}

	if wp.ledger != nil {
		if err := wp.ledger.FinishJob(rec); err != nil {
			logger.Warn().Err(err).Msg("failed to record job outcome")
		}
	}
	wp.metrics.JobFinished(status, errorKind)
}

func (j *Job) stageOrReceived() pipeline.Stage {
	_, stage := j.Status()
	if stage == "" {
		return pipeline.StageReceived
	}
	return stage
}
