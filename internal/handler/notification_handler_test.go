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

func TestNotificationHandlerList(t *testing.T) {
	app, _ := setupApp(t)
	approveSubmission(t, app, "sa", "lead-a", models.ActivityWorkshop)

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/notifications?limit=1", "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var items []dto.NotificationResponse
	decodeData(t, env, &items)
	require.Len(t, items, 1)
	require.Equal(t, "sa", items[0].RecipientID)

	var meta struct {
		NextCursor string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(env.Meta, &meta))
	require.NotEmpty(t, meta.NextCursor, "approval plus rank moves leave more than one event")

	resp, env = doJSON(t, app, http.MethodGet, "/api/v1/notifications?limit=100", "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeData(t, env, &items)
	kinds := map[string]bool{}
	for _, item := range items {
		kinds[item.Kind] = true
	}
	require.True(t, kinds[models.NotificationSubmissionApproved])
	require.True(t, kinds[models.NotificationRankChanged])

	resp, env = doJSON(t, app, http.MethodGet, "/api/v1/notifications", "eb1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeData(t, env, &items)
	require.Empty(t, items)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/notifications?limit=500", "sa", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
