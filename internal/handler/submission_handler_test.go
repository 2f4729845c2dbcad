package handler_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
)

func TestSubmissionHandlerCreateAndReview(t *testing.T) {
	app, _ := setupApp(t)

	id := createSubmission(t, app, "sa", models.ActivityCertification)

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/submissions/"+id, "lead-a", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var fetched dto.SubmissionResponse
	decodeData(t, env, &fetched)
	require.Equal(t, models.SubmissionStatusPending, fetched.Status)

	resp, env = doJSON(t, app, http.MethodPost, "/api/v1/submissions/"+id+"/review", "lead-a", dto.ReviewRequest{Decision: "approved"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "submission reviewed", env.Message)
	var reviewed dto.SubmissionResponse
	decodeData(t, env, &reviewed)
	require.Equal(t, models.SubmissionStatusApproved, reviewed.Status)
	require.Equal(t, "lead-a", *reviewed.ReviewerID)

	resp, env = doJSON(t, app, http.MethodPost, "/api/v1/submissions/"+id+"/review", "hod", dto.ReviewRequest{Decision: "rejected"})
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.False(t, env.Success)
	require.JSONEq(t, `{"submission_id":"`+id+`","status":"approved"}`, string(env.Details))

	resp, env = doJSON(t, app, http.MethodGet, "/api/v1/points/me", "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var total dto.PointsTotalResponse
	decodeData(t, env, &total)
	require.Equal(t, int64(500), total.Points)
}

func TestSubmissionHandlerReviewErrors(t *testing.T) {
	app, _ := setupApp(t)
	id := createSubmission(t, app, "sa", models.ActivityWorkshop)

	cases := []struct {
		name     string
		reviewer string
		target   string
		body     interface{}
		status   int
	}{
		{name: "employee", reviewer: "ea2", target: id, body: dto.ReviewRequest{Decision: "approved"}, status: fiber.StatusForbidden},
		{name: "employee on missing id", reviewer: "ea2", target: "missing", body: dto.ReviewRequest{Decision: "approved"}, status: fiber.StatusForbidden},
		{name: "other team lead", reviewer: "lead-b", target: id, body: dto.ReviewRequest{Decision: "approved"}, status: fiber.StatusForbidden},
		{name: "missing submission", reviewer: "hod", target: "missing", body: dto.ReviewRequest{Decision: "approved"}, status: fiber.StatusNotFound},
		{name: "bad decision", reviewer: "hod", target: id, body: dto.ReviewRequest{Decision: "maybe"}, status: fiber.StatusBadRequest},
		{name: "unknown principal", reviewer: "ghost", target: id, body: dto.ReviewRequest{Decision: "approved"}, status: fiber.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, env := doJSON(t, app, http.MethodPost, "/api/v1/submissions/"+tc.target+"/review", tc.reviewer, tc.body)
			require.Equal(t, tc.status, resp.StatusCode)
			require.False(t, env.Success)
		})
	}

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/submissions/"+id, "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var fetched dto.SubmissionResponse
	decodeData(t, env, &fetched)
	require.Equal(t, models.SubmissionStatusPending, fetched.Status)
}

func TestSubmissionHandlerRejectsInvalidPayload(t *testing.T) {
	app, _ := setupApp(t)

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/submissions", "sa", map[string]string{
		"type":  "hackathon",
		"title": "Weekend build",
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation failed", env.Message)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "sa")
	raw, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, raw.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/submissions", "hod", map[string]string{
		"type":        models.ActivityTraining,
		"title":       "Leadership course",
		"description": "Two day course",
	})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestSubmissionHandlerRejectsUnknownAttachmentRef(t *testing.T) {
	app, _ := setupApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/submissions", "sa", map[string]string{
		"type":           models.ActivityCertification,
		"title":          "Cloud Practitioner",
		"description":    "Passed the foundational cloud exam",
		"attachment_ref": "memory:missing/certificate.pdf",
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/submissions/mine", "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.JSONEq(t, "[]", string(env.Data))
}

func TestSubmissionHandlerMultipartAttachment(t *testing.T) {
	app, _ := setupApp(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("type", models.ActivityConference))
	require.NoError(t, writer.WriteField("title", "Platform summit"))
	require.NoError(t, writer.WriteField("description", "Spoke about release tooling"))
	part, err := writer.CreateFormFile("file", "badge.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Test-User", "eb1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var env envelope
	decodeResponse(t, resp, &env)
	var created dto.SubmissionResponse
	decodeData(t, env, &created)
	require.Contains(t, created.AttachmentRef, "badge.pdf")
	require.Equal(t, "team-b", *created.TeamID)
}

func TestSubmissionHandlerListings(t *testing.T) {
	app, _ := setupApp(t)

	first := createSubmission(t, app, "sa", models.ActivityWorkshop)
	second := createSubmission(t, app, "sa", models.ActivityTraining)
	createSubmission(t, app, "eb1", models.ActivityTraining)

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/submissions/mine?limit=1", "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var page []dto.SubmissionResponse
	decodeData(t, env, &page)
	require.Len(t, page, 1)
	seen := []string{page[0].ID}

	var meta struct {
		NextCursor string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(env.Meta, &meta))
	require.NotEmpty(t, meta.NextCursor)

	resp, env = doJSON(t, app, http.MethodGet, "/api/v1/submissions/mine?limit=1&cursor="+meta.NextCursor, "sa", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeData(t, env, &page)
	require.Len(t, page, 1)
	seen = append(seen, page[0].ID)
	require.ElementsMatch(t, []string{first, second}, seen)

	resp, env = doJSON(t, app, http.MethodGet, "/api/v1/submissions/pending", "lead-a", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeData(t, env, &page)
	require.Len(t, page, 2)
	for _, item := range page {
		require.Equal(t, "sa", item.AuthorID)
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/submissions/pending", "sa", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/submissions/mine?limit=abc", "sa", nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/submissions/"+first, "eb1", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
