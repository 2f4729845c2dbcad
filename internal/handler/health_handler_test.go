package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/upskill-api/internal/config"
	"github.com/noah-isme/upskill-api/internal/handler"
)

func TestHealthCheck(t *testing.T) {
	cfg := config.Config{
		AppName: "Upskill API",
		AppEnv:  "test",
	}

	app := fiber.New()
	app.Get("/api/v1/health", handler.HealthCheck(cfg))

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to execute request: %v", err)
	}

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool                   `json:"success"`
		Data    handler.HealthResponse `json:"data"`
	}
	err = json.NewDecoder(resp.Body).Decode(&payload)
	assert.NoError(t, err)
	assert.True(t, payload.Success)
	assert.Equal(t, "ok", payload.Data.Status)
	assert.Equal(t, cfg.AppName, payload.Data.Service)
	assert.Equal(t, cfg.AppEnv, payload.Data.Environment)
	assert.WithinDuration(t, time.Now().UTC(), payload.Data.Timestamp, 2*time.Second)
}

func TestHealthCheckReportsDependencies(t *testing.T) {
	cfg := config.Config{AppName: "Upskill API", AppEnv: "test"}
	up := handler.DependencyCheck{Name: "database", Check: func(context.Context) error { return nil }}
	down := handler.DependencyCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	app := fiber.New()
	app.Get("/healthy", handler.HealthCheck(cfg, up))
	app.Get("/degraded", handler.HealthCheck(cfg, up, down))

	resp, err := app.Test(httptest.NewRequest("GET", "/healthy", nil), -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var healthy struct {
		Data handler.HealthResponse `json:"data"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&healthy))
	assert.Equal(t, map[string]string{"database": "up"}, healthy.Data.Dependencies)

	resp, err = app.Test(httptest.NewRequest("GET", "/degraded", nil), -1)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var degraded struct {
		Success bool                   `json:"success"`
		Details handler.HealthResponse `json:"details"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&degraded))
	assert.False(t, degraded.Success)
	assert.Equal(t, "degraded", degraded.Details.Status)
	assert.Equal(t, map[string]string{"database": "up", "redis": "down"}, degraded.Details.Dependencies)
}
