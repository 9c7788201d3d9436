package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/jobs"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// Poller is the part of jobs.Service the stream needs.
type Poller interface {
	Poll(ctx context.Context, id string) (*types.PollResult, error)
}

// StreamHandler pushes job status over a WebSocket until the job completes
// or disappears.
type StreamHandler struct {
	jobs     Poller
	interval time.Duration
	maxWait  time.Duration
	logger   *zap.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(poller Poller, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		jobs:     poller,
		interval: 2 * time.Second,
		maxWait:  15 * time.Minute,
		logger:   logger,
	}
}

// statusMessage is one frame sent to the client.
type statusMessage struct {
	Status string     `json:"status"`
	ID     string     `json:"id"`
	Result *types.Job `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Handle serves GET /ws/jobs/:id.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()
	id := c.Params("id")
	h.logger.Debug("websocket connection established", zap.String("job_id", id))

	ctx, cancel := context.WithTimeout(context.Background(), h.maxWait)
	defer cancel()

	// The client never sends anything useful; a read error means it left.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.watch(ctx, id, func(m statusMessage) error { return c.WriteJSON(m) }); err != nil &&
		!errors.Is(err, context.Canceled) {
		h.logger.Debug("websocket stream ended", zap.String("job_id", id), zap.Error(err))
	}
}

// watch sends the job status whenever it changes and returns once a final
// frame was sent.
func (h *StreamHandler) watch(ctx context.Context, id string, send func(statusMessage) error) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := ""
	for {
		res, err := h.jobs.Poll(ctx, id)
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			return send(statusMessage{
				Status: "failed",
				ID:     id,
				Error:  "Job not found. Processing may have failed; please resubmit.",
			})
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn("poll failed", zap.String("job_id", id), zap.Error(err))
		case res.Status != last:
			last = res.Status
			if err := send(statusMessage{Status: res.Status, ID: res.ID, Result: res.Result}); err != nil {
				return err
			}
			if res.Status == types.OutcomeComplete {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
