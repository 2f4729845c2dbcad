package middleware

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/service"
	"github.com/noah-isme/upskill-api/internal/utils"
)

// PrincipalResolver looks up the caller named by the token subject.
type PrincipalResolver interface {
	ResolveUser(ctx context.Context, id string) (models.User, error)
}

// ResolvePrincipal loads the authenticated user from the directory. Roles always come from
// the directory, never from token claims. Unknown subjects are refused.
func ResolvePrincipal(directory PrincipalResolver, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		if userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}

		user, err := directory.ResolveUser(c.UserContext(), userID)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return utils.SendError(c, fiber.StatusForbidden, "unknown principal")
			}
			logger.Error().Err(err).Str("correlation_id", GetCorrelationID(c)).Str("user_id", userID).Msg("failed to resolve principal")
			return utils.SendError(c, fiber.StatusServiceUnavailable, "directory unavailable")
		}

		c.Locals("principal", user)
		c.Locals("user_role", user.Role)

		return c.Next()
	}
}

// PrincipalFromContext returns the user stored by ResolvePrincipal.
func PrincipalFromContext(c *fiber.Ctx) (models.User, bool) {
	user, ok := c.Locals("principal").(models.User)
	return user, ok
}
