package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/jobs"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

const internalErrorMessage = "Internal processing error. Please try again later."

// JobService is implemented by jobs.Service.
type JobService interface {
	Submit(ctx context.Context, url string) (*types.SubmitResult, error)
	Poll(ctx context.Context, id string) (*types.PollResult, error)
	Recent(ctx context.Context, limit int) ([]types.Job, error)
}

// JobsHandler serves submission and polling.
type JobsHandler struct {
	svc    JobService
	logger *zap.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(svc JobService, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{svc: svc, logger: logger}
}

// ProcessRequest represents the request body
type ProcessRequest struct {
	URL string `json:"url"`
}

// Process handles POST /api/process.
func (h *JobsHandler) Process(c *fiber.Ctx) error {
	var req ProcessRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	if strings.TrimSpace(req.URL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required",
			"code":  "ERR_NO_URL",
		})
	}

	res, err := h.svc.Submit(c.UserContext(), req.URL)
	if errors.Is(err, jobs.ErrInvalidURL) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid Instagram URL",
			"code":  "ERR_INVALID_URL",
		})
	}
	if err != nil {
		h.logger.Error("submit failed", zap.String("url", req.URL), zap.Error(err))
		return internalError(c)
	}

	status := fiber.StatusAccepted
	if res.Status == types.OutcomeCached {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res)
}

// Get handles GET /api/jobs/:id.
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	res, err := h.svc.Poll(c.UserContext(), c.Params("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found. Processing may have failed; please resubmit.",
			"code":  "ERR_JOB_NOT_FOUND",
		})
	}
	if err != nil {
		h.logger.Error("poll failed", zap.String("job_id", c.Params("id")), zap.Error(err))
		return internalError(c)
	}
	return c.JSON(res)
}

// Insights handles GET /api/insights?limit=.
func (h *JobsHandler) Insights(c *fiber.Ctx) error {
	list, err := h.svc.Recent(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		h.logger.Error("list insights failed", zap.Error(err))
		return internalError(c)
	}
	return c.JSON(fiber.Map{"insights": list})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": internalErrorMessage,
		"code":  "ERR_INTERNAL",
	})
}
