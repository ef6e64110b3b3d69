package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Submitter accepts requests for asynchronous processing
type Submitter interface {
	Submit(req types.Request) (*Job, error)
}

// Publisher sends a result envelope to a queue
type Publisher interface {
	Publish(ctx context.Context, queueName, correlationID string, body []byte) error
}

// RabbitMQ is one connection used both to consume requests and publish results
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	mu      sync.Mutex
}

// NewRabbitMQ connects, declares the durable request and result queues and
// limits unacknowledged deliveries to prefetch.
func NewRabbitMQ(amqpURL, requestQueue, resultQueue string, prefetch int) (*RabbitMQ, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("error to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error to open channel: %w", err)
	}

	for _, name := range []string{requestQueue, resultQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("error to declare queue %s: %w", name, err)
		}
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error QoS: %w", err)
	}

	return &RabbitMQ{conn: conn, channel: ch, queue: requestQueue}, nil
}

// StartConsuming delivers request messages with manual acknowledgement
func (r *RabbitMQ) StartConsuming() (<-chan amqp.Delivery, error) {
	return r.channel.Consume(r.queue, "", false, false, false, false, nil)
}

func (r *RabbitMQ) Publish(ctx context.Context, queueName, correlationID string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.channel.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Close() {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			log.Debug().Err(err).Msg("closing rabbitmq channel")
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			log.Debug().Err(err).Msg("closing rabbitmq connection")
		}
	}
	log.Info().Msg("rabbitmq closed")
}

// Intake runs queued request messages through the worker pool and replies
// with the job envelope
type Intake struct {
	pool        Submitter
	publisher   Publisher
	resultQueue string
	wg          sync.WaitGroup
}

func NewIntake(pool Submitter, publisher Publisher, resultQueue string) *Intake {
	return &Intake{pool: pool, publisher: publisher, resultQueue: resultQueue}
}

// Run handles deliveries until ctx ends or the channel closes. Concurrency is
// bounded by the consumer prefetch.
func (in *Intake) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer in.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			in.wg.Add(1)
			go func() {
				defer in.wg.Done()
				in.Handle(ctx, d)
			}()
		}
	}
}

// Handle processes one delivery and settles it
func (in *Intake) Handle(ctx context.Context, d amqp.Delivery) {
	logger := log.With().Str("correlation_id", d.CorrelationId).Logger()
	logger.Info().Int("bytes", len(d.Body)).Msg("request message received")

	req, err := decodeRequest(d.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("rejecting malformed request message")
		env := Envelope{
			ID:     d.CorrelationId,
			Status: types.StatusFailed,
			Stage:  string(pipeline.StageFailed),
			Error: &pipeline.Failure{
				Kind:    pipeline.KindInvalidRequest,
				Stage:   pipeline.StageReceived,
				Message: err.Error(),
			},
		}
		if env.ID == "" {
			env.ID = uuid.New().String()
		}
		in.reply(ctx, d, env)
		return
	}

	job, err := in.pool.Submit(req)
	if err != nil {
		logger.Warn().Err(err).Msg("pool refused request, requeueing")
		settle(logger, d.Nack(false, true))
		return
	}

	select {
	case <-job.Done():
	case <-ctx.Done():
		job.Cancel()
		<-job.Done()
		logger.Info().Str("job_id", job.ID).Msg("shutting down, requeueing request")
		settle(logger, d.Nack(false, true))
		return
	}

	in.reply(ctx, d, job.Envelope())
}

func (in *Intake) reply(ctx context.Context, d amqp.Delivery, env Envelope) {
	logger := log.With().Str("job_id", env.ID).Logger()
	body, err := json.Marshal(env)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode result")
		settle(logger, d.Nack(false, false))
		return
	}

	target := d.ReplyTo
	if target == "" {
		target = in.resultQueue
	}
	correlationID := d.CorrelationId
	if correlationID == "" {
		correlationID = env.ID
	}

	if err := in.publisher.Publish(context.WithoutCancel(ctx), target, correlationID, body); err != nil {
		logger.Error().Err(err).Str("queue", target).Msg("failed to publish result")
		settle(logger, d.Nack(false, false))
		return
	}
	logger.Info().Str("queue", target).Str("status", env.Status).Msg("result published")
	settle(logger, d.Ack(false))
}

// decodeRequest accepts the bare request or the {"input": {...}} wrapper
func decodeRequest(body []byte) (types.Request, error) {
	var wrapped struct {
		Input *types.Request `json:"input"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return types.Request{}, fmt.Errorf("%w: malformed json: %v", pipeline.ErrInvalidRequest, err)
	}
	if wrapped.Input != nil {
		return *wrapped.Input, nil
	}

	var req types.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return types.Request{}, fmt.Errorf("%w: malformed json: %v", pipeline.ErrInvalidRequest, err)
	}
	if req.AudioURL == "" {
		return types.Request{}, fmt.Errorf("%w: message carries neither input nor audio_url", pipeline.ErrInvalidRequest)
	}
	return req, nil
}

func settle(logger zerolog.Logger, err error) {
	if err != nil {
		logger.Warn().Err(err).Msg("failed to settle delivery")
	}
}
