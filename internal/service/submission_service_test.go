package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/upskill-api/internal/dto"
	"github.com/noah-isme/upskill-api/internal/models"
	"github.com/noah-isme/upskill-api/internal/repository"
)

func validSubmission() dto.SubmissionCreateRequest {
	return dto.SubmissionCreateRequest{
		Type:        models.ActivityCertification,
		Title:       "Cloud Practitioner",
		Description: "Passed the foundational cloud exam",
	}
}

func TestSubmitStoresPendingSubmission(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	payload := validSubmission()
	payload.Title = "  <b>Cloud</b> Practitioner  "
	resp, err := fx.submit.Submit(ctx, "sa", payload, nil)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, resp.Status)
	require.Equal(t, "Cloud Practitioner", resp.Title)
	require.Equal(t, "team-a", *resp.TeamID)
	require.Nil(t, resp.ReviewerID)

	require.Equal(t, models.SubmissionStatusPending, fx.status(t, resp.ID))
	require.Zero(t, fx.total(t, "sa"), "submitting mints nothing")

	entries, total, err := fx.activityLogs.List(ctx, repository.ActivityLogFilter{Action: ActionSubmissionCreated})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, resp.ID, entries[0].EntityID)
}

func TestSubmitValidation(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	cases := map[string]func(*dto.SubmissionCreateRequest){
		"unknown type":      func(p *dto.SubmissionCreateRequest) { p.Type = "hackathon" },
		"empty title":       func(p *dto.SubmissionCreateRequest) { p.Title = "   " },
		"markup only title": func(p *dto.SubmissionCreateRequest) { p.Title = "<script>alert(1)</script>" },
		"empty description": func(p *dto.SubmissionCreateRequest) { p.Description = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			payload := validSubmission()
			mutate(&payload)
			_, err := fx.submit.Submit(ctx, "sa", payload, nil)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	page, err := fx.submit.ListMine(ctx, "sa", dto.CursorQuery{})
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestSubmitRoles(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	_, err := fx.submit.Submit(ctx, "hod", validSubmission(), nil)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = fx.submit.Submit(ctx, "ghost", validSubmission(), nil)
	require.ErrorIs(t, err, ErrForbidden)

	resp, err := fx.submit.Submit(ctx, "lead-a", validSubmission(), nil)
	require.NoError(t, err)
	require.Equal(t, "lead-a", resp.AuthorID)
}

func TestSubmitWithAttachment(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	file := buildFileHeader(t, "Certificate Scan.pdf", []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF"))
	resp, err := fx.submit.Submit(ctx, "sa", validSubmission(), file)
	require.NoError(t, err)
	require.Contains(t, resp.AttachmentRef, "certificate-scan.pdf")
	require.Contains(t, fx.blobs.stored, resp.AttachmentRef)
}

func TestSubmitVerifiesAttachmentRef(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	unknown := validSubmission()
	unknown.AttachmentRef = "stub:missing/certificate.pdf"
	_, err := fx.submit.Submit(ctx, "sa", unknown, nil)
	require.ErrorIs(t, err, ErrValidation)

	page, err := fx.submit.ListMine(ctx, "sa", dto.CursorQuery{})
	require.NoError(t, err)
	require.Empty(t, page.Items)

	ref, err := fx.blobs.Store(ctx, "certificate.pdf", bytes.NewReader([]byte("%PDF-1.4")), 8)
	require.NoError(t, err)

	known := validSubmission()
	known.AttachmentRef = ref
	resp, err := fx.submit.Submit(ctx, "sa", known, nil)
	require.NoError(t, err)
	require.Equal(t, ref, resp.AttachmentRef)
}

func TestSubmitRejectsDisallowedAttachment(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	file := buildFileHeader(t, "tool.pdf", []byte("\x7fELF\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	_, err := fx.submit.Submit(ctx, "sa", validSubmission(), file)
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)
	require.Empty(t, fx.blobs.stored)

	page, err := fx.submit.ListMine(ctx, "sa", dto.CursorQuery{})
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestSubmitRejectsOversizedAttachment(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})

	payload := make([]byte, 1024*1024+1)
	copy(payload, "%PDF-1.4\n")
	file := buildFileHeader(t, "huge.pdf", payload)

	_, err := fx.submit.Submit(context.Background(), "sa", validSubmission(), file)
	require.ErrorIs(t, err, ErrUploadTooLarge)
	require.Empty(t, fx.blobs.stored)
}

func TestSubmitDeletesBlobWhenInsertFails(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	require.NoError(t, fx.db.Migrator().DropTable(&models.Submission{}))

	file := buildFileHeader(t, "notes.txt", []byte("workshop notes\nsession one\n"))
	_, err := fx.submit.Submit(context.Background(), "sa", validSubmission(), file)
	require.ErrorIs(t, err, ErrStorageFailure)

	require.Len(t, fx.blobs.deleted, 1)
	require.Empty(t, fx.blobs.stored)
}

func TestSubmitBlobFailureIsStorageFailure(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	fx.blobs.storeErr = context.DeadlineExceeded

	file := buildFileHeader(t, "notes.txt", []byte("workshop notes\n"))
	_, err := fx.submit.Submit(context.Background(), "sa", validSubmission(), file)
	require.ErrorIs(t, err, ErrStorageFailure)

	page, err := fx.submit.ListMine(context.Background(), "sa", dto.CursorQuery{})
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestGetSubmissionVisibility(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()
	submission := fx.seedPending(t, "sa", models.ActivityWorkshop, reviewBase)

	for _, viewer := range []string{"sa", "lead-a", "hod"} {
		resp, err := fx.submit.Get(ctx, viewer, submission.ID)
		require.NoError(t, err, viewer)
		require.Equal(t, submission.ID, resp.ID)
	}

	for _, viewer := range []string{"ea2", "lead-b", "eb1"} {
		_, err := fx.submit.Get(ctx, viewer, submission.ID)
		require.ErrorIs(t, err, ErrForbidden, viewer)
	}

	_, err := fx.submit.Get(ctx, "sa", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListPendingForReviewer(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	own := fx.seedPending(t, "lead-a", models.ActivityTraining, reviewBase)
	mine := fx.seedPending(t, "sa", models.ActivityWorkshop, reviewBase.Add(time.Minute))
	other := fx.seedPending(t, "eb1", models.ActivityWorkshop, reviewBase.Add(2*time.Minute))
	done := fx.seedPending(t, "ea2", models.ActivityWorkshop, reviewBase.Add(3*time.Minute))
	_, err := fx.reviews.Review(ctx, done.ID, "hod", reject("duplicate"))
	require.NoError(t, err)

	page, err := fx.submit.ListPendingForReviewer(ctx, "lead-a", dto.CursorQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, mine.ID, page.Items[0].ID)

	page, err = fx.submit.ListPendingForReviewer(ctx, "hod", dto.CursorQuery{})
	require.NoError(t, err)
	ids := []string{}
	for _, item := range page.Items {
		ids = append(ids, item.ID)
	}
	require.Equal(t, []string{other.ID, mine.ID, own.ID}, ids)

	_, err = fx.submit.ListPendingForReviewer(ctx, "sa", dto.CursorQuery{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestListMinePages(t *testing.T) {
	fx := newFixture(t, fixtureConfig{})
	ctx := context.Background()

	var seeded []models.Submission
	for i := 0; i < 3; i++ {
		seeded = append(seeded, fx.seedPending(t, "eb1", models.ActivityTraining, reviewBase.Add(time.Duration(i)*time.Hour)))
	}

	first, err := fx.submit.ListMine(ctx, "eb1", dto.CursorQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.Equal(t, seeded[2].ID, first.Items[0].ID)
	require.NotEmpty(t, first.NextCursor)

	second, err := fx.submit.ListMine(ctx, "eb1", dto.CursorQuery{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Equal(t, seeded[0].ID, second.Items[0].ID)
	require.Empty(t, second.NextCursor)

	_, err = fx.submit.ListMine(ctx, "eb1", dto.CursorQuery{Limit: 2, Cursor: "not-a-cursor"})
	require.ErrorIs(t, err, ErrValidation)
}
