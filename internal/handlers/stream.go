package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/queue"
)

// StreamHandler pushes job progress over WebSocket
type StreamHandler struct {
	registry *queue.Registry
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(registry *queue.Registry) *StreamHandler {
	return &StreamHandler{
		registry: registry,
	}
}

// Upgrade rejects plain HTTP requests and unknown jobs before the handshake
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, ok := h.registry.Get(c.Params("id")); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	}
	return c.Next()
}

// Handle sends one event per stage change and the final envelope, then closes
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Params("id")
	job, ok := h.registry.Get(jobID)
	if !ok {
		return
	}

	logger := log.With().Str("job_id", jobID).Logger()
	logger.Debug().Msg("progress stream opened")

	events, unsubscribe := job.Subscribe()
	defer unsubscribe()

	// Reads only detect the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := c.WriteJSON(job.Envelope()); err != nil {
					logger.Debug().Err(err).Msg("failed to send final envelope")
				}
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("progress stream write failed")
				return
			}
		case <-gone:
			logger.Debug().Msg("progress stream closed by client")
			return
		}
	}
}
