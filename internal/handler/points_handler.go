package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/middleware"
	"github.com/noah-isme/upskill-api/internal/service"
	"github.com/noah-isme/upskill-api/internal/utils"
)

// PointsHandler exposes ledger totals, history and manual adjustments.
type PointsHandler struct {
	service service.LedgerService
	logger  zerolog.Logger
}

// NewPointsHandler constructs a points handler.
func NewPointsHandler(service service.LedgerService, logger zerolog.Logger) *PointsHandler {
	return &PointsHandler{
		service: service,
		logger:  logger.With().Str("component", "points_handler").Logger(),
	}
}

// Register binds the points routes. writeLimit throttles adjustments.
func (h *PointsHandler) Register(router fiber.Router, writeLimit fiber.Handler) {
	if writeLimit == nil {
		writeLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	router.Get("/me", h.total)
	router.Get("/me/history", h.history)
	router.Post("/adjustments", writeLimit, middleware.WithAuth(h.adjust, middleware.AuthOptions{Role: middleware.AuthRoleHOD}))
}

func (h *PointsHandler) total(c *fiber.Ctx) error {
	total, err := h.service.TotalFor(requestContext(c), userIDStringFromContext(c))
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "points total", total)
}

func (h *PointsHandler) history(c *fiber.Ctx) error {
	query, err := cursorQueryFromContext(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	page, err := h.service.History(requestContext(c), userIDStringFromContext(c), query)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.OK(c, page.Items, "points history", pageMeta(page.NextCursor))
}

func (h *PointsHandler) adjust(c *fiber.Ctx) error {
	var payload dto.PointsAdjustmentRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	entry, err := h.service.Adjust(requestContext(c), userIDStringFromContext(c), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().
		Str("user_id", entry.UserID).
		Int64("delta", entry.Delta).
		Msg("points adjusted")

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "points adjusted", entry)
}
