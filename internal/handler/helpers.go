package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/middleware"
	"github.com/noah-isme/upskill-api/internal/service"
	"github.com/noah-isme/upskill-api/internal/utils"
)

func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func userIDStringFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func cursorQueryFromContext(c *fiber.Ctx) (dto.CursorQuery, error) {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return dto.CursorQuery{}, err
	}
	return dto.CursorQuery{Cursor: strings.TrimSpace(c.Query("cursor")), Limit: limit}, nil
}

func pageMeta(next string) interface{} {
	if next == "" {
		return nil
	}
	return fiber.Map{"next_cursor": next}
}

// handleError maps service error kinds onto HTTP statuses.
func handleError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	var domain *service.Error
	errors.As(err, &domain)

	switch {
	case errors.Is(err, service.ErrValidation):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", detailsOf(domain))
	case errors.Is(err, service.ErrNotFound):
		return utils.Fail(c, fiber.StatusNotFound, "not found", detailsOf(domain))
	case errors.Is(err, service.ErrForbidden):
		return utils.Fail(c, fiber.StatusForbidden, "forbidden", detailsOf(domain))
	case errors.Is(err, service.ErrInvalidTransition):
		return utils.Fail(c, fiber.StatusConflict, "invalid transition", detailsOf(domain))
	case errors.Is(err, service.ErrDuplicateAward):
		return utils.Fail(c, fiber.StatusConflict, "duplicate award", detailsOf(domain))
	case errors.Is(err, service.ErrStorageFailure):
		requestLogger(logger, c).Error().Err(err).Msg("storage failure")
		return utils.Fail(c, fiber.StatusServiceUnavailable, "storage unavailable, retry later", detailsOf(domain))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return utils.SendError(c, fiber.StatusRequestTimeout, "request cancelled")
	default:
		requestLogger(logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func detailsOf(domain *service.Error) interface{} {
	if domain == nil {
		return nil
	}

	details := fiber.Map{}
	if domain.SubmissionID != "" {
		details["submission_id"] = domain.SubmissionID
	}
	if domain.Status != "" {
		details["status"] = domain.Status
	}
	if domain.Detail != "" && !errors.Is(domain, service.ErrStorageFailure) {
		details["detail"] = domain.Detail
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
