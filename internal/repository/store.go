package repository

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// Tx groups the repositories that share one database transaction.
type Tx struct {
	Submissions   SubmissionRepository
	Ledger        LedgerRepository
	Notifications NotificationRepository
}

// Store runs units of work against the engine tables.
type Store interface {
	// WithinTransaction commits when fn returns nil and rolls everything back otherwise.
	WithinTransaction(ctx context.Context, fn func(tx Tx) error) error
	// ReadSnapshot runs fn against a single consistent view of the data.
	ReadSnapshot(ctx context.Context, fn func(tx Tx) error) error
}

type gormStore struct {
	db       *gorm.DB
	readOpts *sql.TxOptions
}

// NewStore builds a Store on top of db.
func NewStore(db *gorm.DB) Store {
	store := &gormStore{db: db}
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		store.readOpts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}

	return store
}

func (s *gormStore) WithinTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(bind(db))
	})
}

func (s *gormStore) ReadSnapshot(ctx context.Context, fn func(tx Tx) error) error {
	if s.readOpts == nil {
		return s.WithinTransaction(ctx, fn)
	}

	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(bind(db))
	}, s.readOpts)
}

func bind(db *gorm.DB) Tx {
	return Tx{
		Submissions:   NewSubmissionRepository(db),
		Ledger:        NewLedgerRepository(db),
		Notifications: NewNotificationRepository(db),
	}
}
