package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/upskill-api/internal/config"
	"github.com/noah-isme/upskill-api/internal/utils"
)

const dependencyCheckTimeout = 2 * time.Second

// DependencyCheck checks one backing dependency.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Service      string            `json:"service"`
	Environment  string            `json:"environment"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// HealthCheck reports service health. A failing dependency turns the status "degraded" with a 503.
func HealthCheck(cfg config.Config, checks ...DependencyCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		if len(checks) == 0 {
			return utils.SendSuccess(c, "service healthy", payload)
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), dependencyCheckTimeout)
		defer cancel()

		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		payload.Dependencies = make(map[string]string, len(checks))
		for _, dep := range checks {
			dep := dep
			wg.Add(1)
			go func() {
				defer wg.Done()
				state := "up"
				if err := dep.Check(ctx); err != nil {
					state = "down"
				}
				mu.Lock()
				payload.Dependencies[dep.Name] = state
				mu.Unlock()
			}()
		}
		wg.Wait()

		for _, state := range payload.Dependencies {
			if state != "up" {
				payload.Status = "degraded"
				return utils.Fail(c, fiber.StatusServiceUnavailable, "service degraded", payload)
			}
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
