package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"smartattendance/internal/apperr"
	"smartattendance/internal/store"
)

// Store persists events in system_logs.
type Store struct {
	db store.DBTX
}

// NewStore creates a system_logs store.
func NewStore(db store.DBTX) *Store {
	return &Store{db: db}
}

// Insert writes e; replays of the same id are ignored.
func (s *Store) Insert(ctx context.Context, e Event) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return apperr.Internal("marshal details", err)
		}
		details = b
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_logs (id, type, actor_id, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Type, e.ActorID, e.Message, string(details), e.CreatedAt.UTC())
	if err != nil {
		return apperr.Internal("insert log", err)
	}
	return nil
}

// Filter selects a page of logs.
type Filter struct {
	Type  string
	Page  int
	Limit int
}

// Page is one page of logs with pagination metadata.
type Page struct {
	Items      []Event `json:"logs"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	TotalPages int     `json:"total_pages"`
}

// List returns logs newest first.
func (s *Store) List(ctx context.Context, f Filter) (Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 200 {
		f.Limit = 50
	}
	where, args := "", []any{}
	if f.Type != "" {
		where = ` WHERE type = $1`
		args = append(args, f.Type)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM system_logs`+where, args...).Scan(&total); err != nil {
		return Page{}, apperr.Internal("count logs", err)
	}

	n := len(args)
	query := `SELECT id, type, actor_id, message, details, created_at FROM system_logs` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, apperr.Internal("list logs", err)
	}
	defer rows.Close()

	page := Page{Items: []Event{}, Total: total, Page: f.Page, Limit: f.Limit, TotalPages: (total + f.Limit - 1) / f.Limit}
	for rows.Next() {
		var (
			e       Event
			details string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.ActorID, &e.Message, &details, &e.CreatedAt); err != nil {
			return Page{}, apperr.Internal("scan log", err)
		}
		if details != "" && details != "{}" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		page.Items = append(page.Items, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, apperr.Internal("list logs", err)
	}
	return page, nil
}

// Types lists the distinct event types present.
func (s *Store) Types(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT type FROM system_logs ORDER BY type`)
	if err != nil {
		return nil, apperr.Internal("list log types", err)
	}
	defer rows.Close()
	types := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, apperr.Internal("scan log type", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}
