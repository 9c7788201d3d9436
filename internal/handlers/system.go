package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/credentials"
	"github.com/codebuildervaibhav/trigger-engine/internal/provider"
	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// RecallSelector is implemented by recall.Selector.
type RecallSelector interface {
	Select(ctx context.Context, limit int) ([]types.Job, error)
}

// PoolStatus is implemented by credentials.Pool.
type PoolStatus interface {
	Name() string
	Snapshot() []credentials.KeyStatus
}

// EngineStatus is implemented by provider.Engine.
type EngineStatus interface {
	Name() string
	Snapshot() []provider.Health
}

// LogSource is implemented by logging.Buffer.
type LogSource interface {
	Lines() []string
}

// SystemHandler serves recall, provider health and recent logs.
type SystemHandler struct {
	recall      RecallSelector
	recallLimit int
	pools       []PoolStatus
	engines     []EngineStatus
	logs        LogSource
	logger      *zap.Logger
}

func NewSystemHandler(recall RecallSelector, recallLimit int, pools []PoolStatus, engines []EngineStatus, logs LogSource, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		recall:      recall,
		recallLimit: recallLimit,
		pools:       pools,
		engines:     engines,
		logs:        logs,
		logger:      logger,
	}
}

// Recall handles GET /api/recall.
func (h *SystemHandler) Recall(c *fiber.Ctx) error {
	list, err := h.recall.Select(c.UserContext(), c.QueryInt("limit", h.recallLimit))
	if err != nil {
		h.logger.Error("recall selection failed", zap.Error(err))
		return internalError(c)
	}
	if list == nil {
		list = []types.Job{}
	}
	return c.JSON(fiber.Map{"insights": list})
}

// Providers handles GET /api/providers.
func (h *SystemHandler) Providers(c *fiber.Ctx) error {
	pools := make(fiber.Map, len(h.pools))
	for _, p := range h.pools {
		pools[p.Name()] = p.Snapshot()
	}
	engines := make(fiber.Map, len(h.engines))
	for _, e := range h.engines {
		engines[e.Name()] = e.Snapshot()
	}
	return c.JSON(fiber.Map{"pools": pools, "engines": engines})
}

// Logs handles GET /api/logs.
func (h *SystemHandler) Logs(c *fiber.Ctx) error {
	var lines []string
	if h.logs != nil {
		lines = h.logs.Lines()
	}
	if lines == nil {
		lines = []string{}
	}
	return c.JSON(fiber.Map{"logs": lines})
}
