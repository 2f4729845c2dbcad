package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/upskill-api/internal/models"
)

// LedgerRepository persists append-only points ledger entries.
type LedgerRepository interface {
	Append(ctx context.Context, entry *models.PointsLedgerEntry) error
	TotalFor(ctx context.Context, userID string) (int64, error)
	// Totals sums deltas per user. A nil userIDs slice sums every user.
	Totals(ctx context.Context, userIDs []string) (map[string]int64, error)
	ListByUser(ctx context.Context, userID string, page Page) ([]models.PointsLedgerEntry, string, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository instantiates the ledger repository.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Append(ctx context.Context, entry *models.PointsLedgerEntry) error {
	return translate(r.db.WithContext(ctx).Create(entry).Error, "append ledger entry")
}

func (r *ledgerRepository) TotalFor(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsLedgerEntry{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	if err != nil {
		return 0, translate(err, "sum ledger")
	}

	return total, nil
}

func (r *ledgerRepository) Totals(ctx context.Context, userIDs []string) (map[string]int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PointsLedgerEntry{}).
		Select("user_id, SUM(delta) AS points").
		Group("user_id")
	if userIDs != nil {
		if len(userIDs) == 0 {
			return map[string]int64{}, nil
		}
		query = query.Where("user_id IN ?", userIDs)
	}

	var rows []struct {
		UserID string
		Points int64
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, translate(err, "aggregate ledger")
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.UserID] = row.Points
	}

	return totals, nil
}

func (r *ledgerRepository) ListByUser(ctx context.Context, userID string, page Page) ([]models.PointsLedgerEntry, string, error) {
	query, err := applyKeyset(r.db.WithContext(ctx).Where("user_id = ?", userID), page)
	if err != nil {
		return nil, "", err
	}

	var entries []models.PointsLedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, "", translate(err, "list ledger entries")
	}

	items, next := trimPage(entries, page, func(e models.PointsLedgerEntry) Cursor {
		return Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})

	return items, next, nil
}
