package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/upskill-api/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	AuthorID        *string
	Status          *string
	TeamID          *string
	ExcludeAuthorID *string
}

// Review carries the fields stamped onto a submission by a terminal transition.
type Review struct {
	Status     string
	ReviewerID string
	Comment    string
	ReviewedAt time.Time
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (models.Submission, error)
	List(ctx context.Context, filter SubmissionFilter, page Page) ([]models.Submission, string, error)
	// Transition applies review only while the row is still pending and reports whether it did.
	Transition(ctx context.Context, id string, review Review) (bool, error)
	FirstApprovedAt(ctx context.Context, authorIDs []string) (map[string]time.Time, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return translate(r.db.WithContext(ctx).Create(submission).Error, "insert submission")
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&submission).Error; err != nil {
		return models.Submission{}, translate(err, "load submission")
	}

	return submission, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter, page Page) ([]models.Submission, string, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.AuthorID != nil {
		query = query.Where("author_id = ?", *filter.AuthorID)
	}

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	if filter.TeamID != nil {
		query = query.Where("team_id = ?", *filter.TeamID)
	}

	if filter.ExcludeAuthorID != nil {
		query = query.Where("author_id <> ?", *filter.ExcludeAuthorID)
	}

	query, err := applyKeyset(query, page)
	if err != nil {
		return nil, "", err
	}

	var submissions []models.Submission
	if err := query.Find(&submissions).Error; err != nil {
		return nil, "", translate(err, "list submissions")
	}

	items, next := trimPage(submissions, page, func(s models.Submission) Cursor {
		return Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
	})

	return items, next, nil
}

func (r *submissionRepository) Transition(ctx context.Context, id string, review Review) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.SubmissionStatusPending).
		Updates(map[string]interface{}{
			"status":         review.Status,
			"reviewer_id":    review.ReviewerID,
			"review_comment": review.Comment,
			"reviewed_at":    review.ReviewedAt,
			"updated_at":     review.ReviewedAt,
		})
	if result.Error != nil {
		return false, translate(result.Error, "transition submission")
	}

	return result.RowsAffected == 1, nil
}

func (r *submissionRepository) FirstApprovedAt(ctx context.Context, authorIDs []string) (map[string]time.Time, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Select("author_id", "created_at").
		Where("status = ?", models.SubmissionStatusApproved)
	if authorIDs != nil {
		if len(authorIDs) == 0 {
			return map[string]time.Time{}, nil
		}
		query = query.Where("author_id IN ?", authorIDs)
	}

	var rows []struct {
		AuthorID  string
		CreatedAt time.Time
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, translate(err, "load approved submissions")
	}

	first := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		current, ok := first[row.AuthorID]
		if !ok || row.CreatedAt.Before(current) {
			first[row.AuthorID] = row.CreatedAt
		}
	}

	return first, nil
}
