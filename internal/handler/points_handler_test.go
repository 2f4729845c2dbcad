package handler_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
)

func TestPointsHandlerAdjustments(t *testing.T) {
	app, _ := setupApp(t)
	approveSubmission(t, app, "sa", "lead-a", models.ActivityConference)

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/points/adjustments", "hod", dto.PointsAdjustmentRequest{
		UserID: "sa",
		Delta:  -50,
		Reason: "double counted talk",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var entry dto.LedgerEntryResponse
	decodeData(t, env, &entry)
	require.Equal(t, models.LedgerKindAdjustment, entry.Kind)
	require.Equal(t, "hod", entry.ActorID)

	resp, env = doJSON(t, app, http.MethodGet, "/api/v1/points/me", "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var total dto.PointsTotalResponse
	decodeData(t, env, &total)
	require.Equal(t, int64(250), total.Points)

	resp, env = doJSON(t, app, http.MethodGet, "/api/v1/points/me/history?limit=1", "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var history []dto.LedgerEntryResponse
	decodeData(t, env, &history)
	require.Len(t, history, 1)
	var meta struct {
		NextCursor string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(env.Meta, &meta))
	require.NotEmpty(t, meta.NextCursor)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/points/adjustments", "lead-a", dto.PointsAdjustmentRequest{
		UserID: "sa",
		Delta:  10,
		Reason: "helped onboarding",
	})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/points/adjustments", "hod", map[string]interface{}{
		"user_id": "sa",
		"delta":   0,
		"reason":  "noop",
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/points/adjustments", "hod", dto.PointsAdjustmentRequest{
		UserID: "nobody",
		Delta:  10,
		Reason: "typo in user",
	})
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
