package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/upskill-api/internal/database"
	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/repository"
)

var testPoints = map[string]int64{
	models.ActivityCertification: 500,
	models.ActivityWorkshop:      200,
	models.ActivityTraining:      150,
	models.ActivityConference:    300,
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func strPtr(v string) *string {
	return &v
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

// seedUsers creates two teams with a lead each, three employees and one head of department.
func seedUsers(t *testing.T, db *gorm.DB) {
	t.Helper()
	users := []models.User{
		{ID: "sa", Role: models.RoleEmployee, TeamID: strPtr("team-a"), DisplayName: "Sari Anggraini", Email: "sari@example.com"},
		{ID: "ea2", Role: models.RoleEmployee, TeamID: strPtr("team-a"), DisplayName: "Eko Aditya"},
		{ID: "eb1", Role: models.RoleEmployee, TeamID: strPtr("team-b"), DisplayName: "Bima Putra"},
		{ID: "lead-a", Role: models.RoleLead, TeamID: strPtr("team-a"), DisplayName: "Lina Ayu"},
		{ID: "lead-b", Role: models.RoleLead, TeamID: strPtr("team-b"), DisplayName: "Budi Santoso"},
		{ID: "hod", Role: models.RoleHOD, DisplayName: "Hana Dewi", Email: "hana@example.com"},
	}
	require.NoError(t, db.Create(&users).Error)
}

type blobStub struct {
	mu       sync.Mutex
	stored   map[string][]byte
	deleted  []string
	storeErr error
}

func newBlobStub() *blobStub {
	return &blobStub{stored: map[string][]byte{}}
}

func (b *blobStub) Store(ctx context.Context, name string, reader io.Reader, size int64) (string, error) {
	if b.storeErr != nil {
		return "", b.storeErr
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := "stub:" + uuid.NewString() + "/" + name
	b.stored[ref] = payload
	return ref, nil
}

func (b *blobStub) Delete(ctx context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stored, ref)
	b.deleted = append(b.deleted, ref)
	return nil
}

func (b *blobStub) Exists(ctx context.Context, ref string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.stored[ref]
	return ok, nil
}

type mailerStub struct {
	mu      sync.Mutex
	fail    error
	failFor map[string]bool
	sent    []string
	subjs   []string
}

func (m *mailerStub) Send(ctx context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for _, addr := range to {
		if m.failFor[addr] {
			return fmt.Errorf("mailbox %s unavailable", addr)
		}
	}
	m.sent = append(m.sent, to...)
	m.subjs = append(m.subjs, subject)
	return nil
}

type fixtureConfig struct {
	redis  *redis.Client
	mailer Mailer
}

type fixture struct {
	db            *gorm.DB
	store         repository.Store
	submissions   repository.SubmissionRepository
	ledger        repository.LedgerRepository
	notifications repository.NotificationRepository
	activityLogs  repository.ActivityLogRepository
	directory     Directory
	ranking       RankingService
	notifier      NotificationService
	activity      ActivityService
	reviews       ReviewService
	points        LedgerService
	submit        SubmissionService
	blobs         *blobStub
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	db := setupTestDB(t)
	seedUsers(t, db)

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := testLogger()

	fx := &fixture{
		db:            db,
		store:         repository.NewStore(db),
		submissions:   repository.NewSubmissionRepository(db),
		ledger:        repository.NewLedgerRepository(db),
		notifications: repository.NewNotificationRepository(db),
		activityLogs:  repository.NewActivityLogRepository(db),
		directory:     NewDirectory(repository.NewUserRepository(db)),
		blobs:         newBlobStub(),
	}

	fx.activity = NewActivityService(fx.activityLogs, validate, logger)
	fx.ranking = NewRankingService(fx.store, fx.directory, cfg.redis, time.Minute, logger)
	fx.notifier = NewNotificationService(fx.notifications, NotificationOptions{
		Redis:       cfg.redis,
		ChannelBase: "upskill-test",
		Mailer:      cfg.mailer,
		Directory:   fx.directory,
	}, validate, logger)
	fx.reviews = NewReviewService(fx.store, fx.submissions, fx.directory, fx.ranking, fx.notifier, fx.activity, testPoints,
		RetryPolicy{Attempts: 2, Backoff: time.Millisecond}, validate, logger)
	fx.points = NewLedgerService(fx.store, fx.ledger, fx.directory, fx.ranking, fx.notifier, fx.activity, validate, logger)
	fx.submit = NewSubmissionService(fx.submissions, fx.directory, fx.blobs, 1, fx.activity, validate, logger)

	require.NoError(t, fx.ranking.Rebuild(context.Background()))
	return fx
}

// seedPending stores a pending submission for author created at createdAt.
func (fx *fixture) seedPending(t *testing.T, authorID, activity string, createdAt time.Time) models.Submission {
	t.Helper()
	author, err := fx.directory.ResolveUser(context.Background(), authorID)
	require.NoError(t, err)

	submission := models.Submission{
		ID:          uuid.NewString(),
		AuthorID:    author.ID,
		TeamID:      author.TeamID,
		Type:        activity,
		Title:       "Activity " + activity,
		Description: "Completed " + activity,
		Status:      models.SubmissionStatusPending,
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   createdAt.UTC(),
	}
	require.NoError(t, fx.submissions.Create(context.Background(), &submission))
	return submission
}

func (fx *fixture) total(t *testing.T, userID string) int64 {
	t.Helper()
	total, err := fx.ledger.TotalFor(context.Background(), userID)
	require.NoError(t, err)
	return total
}

func (fx *fixture) status(t *testing.T, submissionID string) string {
	t.Helper()
	submission, err := fx.submissions.GetByID(context.Background(), submissionID)
	require.NoError(t, err)
	return submission.Status
}

func approve() dto.ReviewRequest {
	return dto.ReviewRequest{Decision: models.SubmissionStatusApproved}
}

func reject(comment string) dto.ReviewRequest {
	return dto.ReviewRequest{Decision: models.SubmissionStatusRejected, Comment: comment}
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content)) + 1024)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}
