package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Event is one progress notification of a job
type Event struct {
	JobID  string `json:"job_id"`
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

// Envelope is the externally visible state of a job, shared by every transport
type Envelope struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Stage  string            `json:"stage,omitempty"`
	Output any               `json:"output,omitempty"`
	Error  *pipeline.Failure `json:"error,omitempty"`
}

// Job represents a transcription job
type Job struct {
	ID        string
	Request   types.Request
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	status     string
	stage      pipeline.Stage
	result     *pipeline.Result
	failure    *pipeline.Failure
	finishedAt time.Time
	subs       map[int]chan Event
	nextSub    int
}

// NewJob creates a queued job for req
func NewJob(req types.Request) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:        uuid.New().String(),
		Request:   req,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    types.StatusQueued,
		subs:      make(map[int]chan Event),
	}
}

// Cancel asks the pipeline to abandon the job
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed once the job reaches a terminal status
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Status returns the current status and stage
func (j *Job) Status() (string, pipeline.Stage) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status, j.stage
}

// Outcome returns the terminal result or failure; both are nil while running
func (j *Job) Outcome() (*pipeline.Result, *pipeline.Failure) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result, j.failure
}

// FinishedAt is zero until the job is done
func (j *Job) FinishedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.finishedAt
}

// Envelope renders the job state for clients. Text formats are returned as a
// string, the json record as an embedded object.
func (j *Job) Envelope() Envelope {
	j.mu.RLock()
	defer j.mu.RUnlock()

	env := Envelope{ID: j.ID, Status: j.status, Stage: string(j.stage)}
	switch {
	case j.failure != nil:
		env.Error = j.failure
	case j.result != nil && j.result.Format == types.FormatJSON:
		env.Output = json.RawMessage(j.result.Payload)
	case j.result != nil:
		env.Output = string(j.result.Payload)
	}
	return env
}

// Subscribe streams progress events until the job finishes. The channel is
// closed after the terminal event; call the returned func to stop early.
func (j *Job) Subscribe() (<-chan Event, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Event, 16)
	ch <- Event{JobID: j.ID, Stage: string(j.stage), Status: j.status}
	if !j.finishedAt.IsZero() {
		close(ch)
		return ch, func() {}
	}

	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch
	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if sub, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(sub)
		}
	}
}

// setStage records a running stage; terminal stages are left to finish
func (j *Job) setStage(stage pipeline.Stage) {
	if stage == pipeline.StageCompleted || stage == pipeline.StageFailed {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stage = stage
	if j.finishedAt.IsZero() {
		j.status = types.StatusProcessing
	}
	j.publish()
}

func (j *Job) finish(res *pipeline.Result, failure *pipeline.Failure) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.finishedAt.IsZero() {
		return
	}

	j.result, j.failure = res, failure
	j.finishedAt = time.Now()
	if failure != nil {
		j.status, j.stage = types.StatusFailed, pipeline.StageFailed
	} else {
		j.status, j.stage = types.StatusCompleted, pipeline.StageCompleted
	}

	j.publish()
	for id, ch := range j.subs {
		close(ch)
		delete(j.subs, id)
	}
	j.cancel()
	close(j.done)
}

// publish must be called with mu held. Slow subscribers miss events rather
// than stalling the pipeline.
func (j *Job) publish() {
	ev := Event{JobID: j.ID, Stage: string(j.stage), Status: j.status}
	for _, ch := range j.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
