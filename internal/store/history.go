// Package store persists upload outcomes in PostgreSQL.
//
// Only the outcome of each upload is stored (who uploaded which file for
// which template, whether it was accepted and why not). The extracted
// records themselves are never written.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sheetcheck/internal/core"
)

// DBTX is the subset of pgx used by the store. *pgxpool.Pool, *pgx.Conn
// and pgx.Tx all satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS upload_history (
	upload_id    UUID PRIMARY KEY,
	template_key TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	status       TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	code         TEXT NOT NULL DEFAULT '',
	row_count    INTEGER NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	client_ip    TEXT NOT NULL DEFAULT '',
	user_agent   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS upload_history_template_created_idx
	ON upload_history (template_key, created_at DESC);
`

const insertUploadSQL = `
INSERT INTO upload_history (
	upload_id, template_key, file_name, status, message, code,
	row_count, duration_ms, client_ip, user_agent, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const listUploadsSQL = `
SELECT upload_id::text, template_key, file_name, status, message, code,
	row_count, duration_ms, client_ip, user_agent, created_at
FROM upload_history
WHERE template_key = $1
ORDER BY created_at DESC
LIMIT $2`

// HistoryStore implements core.HistoryStore on PostgreSQL.
type HistoryStore struct {
	db DBTX
}

var _ core.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore creates a store over db.
func NewHistoryStore(db DBTX) *HistoryStore {
	return &HistoryStore{db: db}
}

// EnsureSchema creates the upload_history table if it does not exist.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create upload_history: %w", err)
	}
	return nil
}

// RecordUpload appends one upload outcome.
func (s *HistoryStore) RecordUpload(ctx context.Context, e core.HistoryEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, insertUploadSQL,
		e.UploadID,
		e.TemplateKey,
		e.FileName,
		string(e.Status),
		e.Message,
		e.Code,
		e.RowCount,
		e.Duration.Milliseconds(),
		e.ClientIP,
		e.UserAgent,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload %s: %w", e.UploadID, err)
	}
	return nil
}

// ListUploads returns up to limit outcomes for templateKey, newest first.
func (s *HistoryStore) ListUploads(ctx context.Context, templateKey string, limit int) ([]core.HistoryEntry, error) {
	rows, err := s.db.Query(ctx, listUploadsSQL, templateKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list uploads for %s: %w", templateKey, err)
	}

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan uploads for %s: %w", templateKey, err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (core.HistoryEntry, error) {
	var (
		e          core.HistoryEntry
		status     string
		durationMs int64
	)
	err := row.Scan(
		&e.UploadID,
		&e.TemplateKey,
		&e.FileName,
		&status,
		&e.Message,
		&e.Code,
		&e.RowCount,
		&durationMs,
		&e.ClientIP,
		&e.UserAgent,
		&e.CreatedAt,
	)
	e.Status = core.UploadStatus(status)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	return e, err
}

// Connect opens a pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string, configure func(*pgxpool.Config)) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if configure != nil {
		configure(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
