package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/upskill-api/internal/config"
	"github.com/noah-isme/upskill-api/internal/database"
	"github.com/noah-isme/upskill-api/internal/handler"
	"github.com/noah-isme/upskill-api/internal/middleware"
	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/repository"
	"github.com/noah-isme/upskill-api/internal/router"
	"github.com/noah-isme/upskill-api/internal/service"
)

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryBlobs) Store(_ context.Context, name string, reader io.Reader, _ int64) (string, error) {
	payload, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "memory:" + uuid.NewString() + "/" + name
	m.objects[ref] = payload
	return ref, nil
}

func (m *memoryBlobs) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	return nil
}

func (m *memoryBlobs) Exists(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[ref]
	return ok, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
	Details json.RawMessage `json:"details"`
	Message string          `json:"message"`
}

var testPoints = map[string]int64{
	models.ActivityCertification: 500,
	models.ActivityWorkshop:      200,
	models.ActivityTraining:      150,
	models.ActivityConference:    300,
}

func strPtr(v string) *string {
	return &v
}

// setupApp wires the full stack over sqlite. Requests authenticate with the X-Test-User header.
func setupApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	users := []models.User{
		{ID: "sa", Role: models.RoleEmployee, TeamID: strPtr("team-a"), DisplayName: "Sari Anggraini"},
		{ID: "ea2", Role: models.RoleEmployee, TeamID: strPtr("team-a"), DisplayName: "Eko Aditya"},
		{ID: "eb1", Role: models.RoleEmployee, TeamID: strPtr("team-b"), DisplayName: "Bima Putra"},
		{ID: "lead-a", Role: models.RoleLead, TeamID: strPtr("team-a"), DisplayName: "Lina Ayu"},
		{ID: "lead-b", Role: models.RoleLead, TeamID: strPtr("team-b"), DisplayName: "Budi Santoso"},
		{ID: "hod", Role: models.RoleHOD, DisplayName: "Hana Dewi"},
	}
	require.NoError(t, db.Create(&users).Error)

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	store := repository.NewStore(db)
	submissions := repository.NewSubmissionRepository(db)
	directory := service.NewDirectory(repository.NewUserRepository(db))

	activity := service.NewActivityService(repository.NewActivityLogRepository(db), validate, logger)
	ranking := service.NewRankingService(store, directory, nil, time.Minute, logger)
	notifier := service.NewNotificationService(repository.NewNotificationRepository(db), service.NotificationOptions{}, validate, logger)
	reviews := service.NewReviewService(store, submissions, directory, ranking, notifier, activity, testPoints,
		service.RetryPolicy{Attempts: 2, Backoff: time.Millisecond}, validate, logger)
	ledger := service.NewLedgerService(store, repository.NewLedgerRepository(db), directory, ranking, notifier, activity, validate, logger)
	submit := service.NewSubmissionService(submissions, directory, &memoryBlobs{objects: map[string][]byte{}}, 1, activity, validate, logger)
	require.NoError(t, ranking.Rebuild(context.Background()))

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		SubmissionHandler:   handler.NewSubmissionHandler(submit, reviews, logger),
		LeaderboardHandler:  handler.NewLeaderboardHandler(ranking, logger),
		PointsHandler:       handler.NewPointsHandler(ledger, logger),
		NotificationHandler: handler.NewNotificationHandler(notifier, logger, time.Second),
		ActivityHandler:     handler.NewActivityHandler(activity, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if user := c.Get("X-Test-User"); user != "" {
				c.Locals("user_id", user)
			}
			return c.Next()
		},
		PrincipalMiddleware: middleware.ResolvePrincipal(directory, logger),
	})

	return app, db
}

func doJSON(t *testing.T, app *fiber.App, method, path, user string, payload interface{}) (*http.Response, envelope) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var out envelope
	decodeResponse(t, resp, &out)
	return resp, out
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func decodeData(t *testing.T, env envelope, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, target))
}

func createSubmission(t *testing.T, app *fiber.App, author, activity string) string {
	t.Helper()
	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/submissions", author, map[string]string{
		"type":        activity,
		"title":       "Completed " + activity,
		"description": "Evidence attached in the shared drive",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	decodeData(t, env, &created)
	require.NotEmpty(t, created.ID)
	return created.ID
}
