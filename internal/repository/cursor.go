package repository

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ErrInvalidCursor indicates a cursor that could not be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Page requests one slice of a newest-first listing. An empty Cursor starts from the top.
type Page struct {
	Cursor string
	Limit  int
}

func (p Page) size() int {
	switch {
	case p.Limit <= 0:
		return defaultPageSize
	case p.Limit > maxPageSize:
		return maxPageSize
	default:
		return p.Limit
	}
}

// Cursor marks the last row a caller has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeCursor renders a cursor as an opaque URL-safe token.
func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}

	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidCursor
	}

	parsed, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}

	return Cursor{CreatedAt: time.Unix(0, parsed).UTC(), ID: id}, nil
}

// applyKeyset narrows query to rows strictly after the cursor in (created_at, id) DESC order.
func applyKeyset(query *gorm.DB, page Page) (*gorm.DB, error) {
	query = query.Order("created_at DESC").Order("id DESC").Limit(page.size() + 1)
	if page.Cursor == "" {
		return query, nil
	}

	cursor, err := DecodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}

	return query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID), nil
}

// trimPage drops the look-ahead row and returns the cursor for the next page, if any.
func trimPage[T any](rows []T, page Page, key func(T) Cursor) ([]T, string) {
	limit := page.size()
	if len(rows) <= limit {
		return rows, ""
	}

	rows = rows[:limit]
	return rows, EncodeCursor(key(rows[len(rows)-1]))
}
