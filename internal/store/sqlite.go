package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/frontdesk/hitl/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS help_requests (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		caller_info TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		answer TEXT,
		answered_by TEXT,
		session_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		timeout_at INTEGER NOT NULL,
		resolved_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON help_requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_timeout ON help_requests(timeout_at) WHERE status = 'pending';

	CREATE TABLE IF NOT EXISTS knowledge_base (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		normalized_question TEXT NOT NULL UNIQUE,
		answer TEXT NOT NULL,
		source TEXT NOT NULL,
		use_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kb_updated ON knowledge_base(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", errdefs.ErrUnavailable)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// wrapConflict tags SQLite busy/locked errors as unavailable so callers
// can distinguish a contended store from a semantic failure.
func wrapConflict(op string, err error) error {
	if IsSQLiteConflictError(err) {
		return fmt.Errorf("%s: %v: %w", op, err, errdefs.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const requestColumns = `id, question, caller_info, status, answer, answered_by, session_id, created_at, timeout_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHelpRequest(row rowScanner) (*domain.HelpRequest, error) {
	var req domain.HelpRequest
	var answer, answeredBy sql.NullString
	var createdAt, timeoutAt int64
	var resolvedAt sql.NullInt64

	err := row.Scan(
		&req.ID, &req.Question, &req.CallerInfo, &req.Status,
		&answer, &answeredBy, &req.SessionID,
		&createdAt, &timeoutAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Answer = answer.String
	req.AnsweredBy = answeredBy.String
	req.CreatedAt = time.Unix(createdAt, 0).UTC()
	req.TimeoutAt = time.Unix(timeoutAt, 0).UTC()
	if resolvedAt.Valid {
		ts := time.Unix(resolvedAt.Int64, 0).UTC()
		req.ResolvedAt = &ts
	}

	return &req, nil
}

// CreateHelpRequest persists a new pending help request.
func (s *SQLiteStore) CreateHelpRequest(ctx context.Context, req *domain.HelpRequest) error {
	query := `
	INSERT INTO help_requests (id, question, caller_info, status, session_id, created_at, timeout_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.Question, req.CallerInfo, req.Status,
		req.SessionID, req.CreatedAt.Unix(), req.TimeoutAt.Unix(),
	)
	if err != nil {
		return wrapConflict("insert help request", err)
	}
	return nil
}

// GetHelpRequest retrieves a help request by ID.
func (s *SQLiteStore) GetHelpRequest(ctx context.Context, id string) (*domain.HelpRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM help_requests WHERE id = ?`

	req, err := scanHelpRequest(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan help request row: %w", err)
	}
	return req, nil
}

// ListHelpRequests returns requests newest-first, optionally filtered by status.
func (s *SQLiteStore) ListHelpRequests(ctx context.Context, status domain.RequestStatus) ([]*domain.HelpRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM help_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`

	return s.queryHelpRequests(ctx, query, args...)
}

// ListExpiredHelpRequests returns pending requests past their timeout.
func (s *SQLiteStore) ListExpiredHelpRequests(ctx context.Context, now time.Time) ([]*domain.HelpRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM help_requests
		WHERE status = ? AND timeout_at <= ?
		ORDER BY timeout_at`

	return s.queryHelpRequests(ctx, query, domain.StatusPending, now.Unix())
}

func (s *SQLiteStore) queryHelpRequests(ctx context.Context, query string, args ...any) ([]*domain.HelpRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapConflict("query help requests", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close help request rows", "error", closeErr)
		}
	}()

	var requests []*domain.HelpRequest
	for rows.Next() {
		req, err := scanHelpRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan help request row: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate help requests: %w", err)
	}

	return requests, nil
}

// CountHelpRequests returns aggregate counts by status.
func (s *SQLiteStore) CountHelpRequests(ctx context.Context) (*domain.RequestSummary, error) {
	query := `SELECT status, COUNT(*) FROM help_requests GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapConflict("count help requests", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close summary rows", "error", closeErr)
		}
	}()

	var summary domain.RequestSummary
	for rows.Next() {
		var status domain.RequestStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		switch status {
		case domain.StatusPending:
			summary.Pending = count
		case domain.StatusResolved:
			summary.Resolved = count
		case domain.StatusTimeout:
			summary.Timeout = count
		}
		summary.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}

	return &summary, nil
}

// ResolveHelpRequest transitions a request to resolved iff still pending.
// The status guard in the WHERE clause is the compare-and-set: of two
// racing finalizers exactly one sees RowsAffected == 1.
func (s *SQLiteStore) ResolveHelpRequest(ctx context.Context, id, answer, answeredBy string, resolvedAt time.Time) (bool, error) {
	query := `
	UPDATE help_requests
	SET status = ?, answer = ?, answered_by = ?, resolved_at = ?
	WHERE id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		domain.StatusResolved, answer, answeredBy, resolvedAt.Unix(),
		id, domain.StatusPending,
	)
	if err != nil {
		return false, wrapConflict("resolve help request", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows == 1, nil
}

// ExpireHelpRequest transitions a request to timeout iff still pending.
func (s *SQLiteStore) ExpireHelpRequest(ctx context.Context, id string) (bool, error) {
	query := `UPDATE help_requests SET status = ? WHERE id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query, domain.StatusTimeout, id, domain.StatusPending)
	if err != nil {
		return false, wrapConflict("expire help request", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows == 1, nil
}

const kbColumns = `id, question, normalized_question, answer, source, use_count, created_at, updated_at`

func scanKBEntry(row rowScanner) (*domain.KnowledgeBaseEntry, error) {
	var entry domain.KnowledgeBaseEntry
	var normalized string
	var createdAt, updatedAt int64

	err := row.Scan(
		&entry.ID, &entry.Question, &normalized, &entry.Answer,
		&entry.Source, &entry.UseCount, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.CreatedAt = time.Unix(createdAt, 0).UTC()
	entry.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &entry, nil
}

// GetKBEntryByQuestion retrieves an entry by normalized question.
func (s *SQLiteStore) GetKBEntryByQuestion(ctx context.Context, normalized string) (*domain.KnowledgeBaseEntry, error) {
	query := `SELECT ` + kbColumns + ` FROM knowledge_base WHERE normalized_question = ?`

	entry, err := scanKBEntry(s.db.QueryRowContext(ctx, query, normalized))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan knowledge base row: %w", err)
	}
	return entry, nil
}

// UpsertKBEntry inserts or updates an entry keyed by normalized question.
// An existing source=initial is preserved; use_count is never reset.
func (s *SQLiteStore) UpsertKBEntry(ctx context.Context, entry *domain.KnowledgeBaseEntry) (*domain.KnowledgeBaseEntry, error) {
	normalized := domain.NormalizeQuestion(entry.Question)
	query := `
	INSERT INTO knowledge_base (id, question, normalized_question, answer, source, use_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(normalized_question) DO UPDATE SET
		answer = excluded.answer,
		source = CASE WHEN knowledge_base.source = 'initial' THEN knowledge_base.source ELSE excluded.source END,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Question, normalized, entry.Answer, entry.Source,
		entry.UseCount, entry.CreatedAt.Unix(), entry.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, wrapConflict("upsert knowledge base entry", err)
	}

	stored, err := s.GetKBEntryByQuestion(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("knowledge base entry vanished after upsert: %w", errdefs.ErrNotFound)
	}
	return stored, nil
}

// IncrementKBUseCount atomically adds 1 to an entry's use_count.
// The add happens in SQL so concurrent increments are never lost to a
// stale read-modify-write.
func (s *SQLiteStore) IncrementKBUseCount(ctx context.Context, id string) error {
	query := `UPDATE knowledge_base SET use_count = use_count + 1 WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return wrapConflict("increment use count", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("knowledge base entry %s: %w", id, errdefs.ErrNotFound)
	}
	return nil
}

// ListKBEntries returns all entries, most recently updated first.
func (s *SQLiteStore) ListKBEntries(ctx context.Context) ([]*domain.KnowledgeBaseEntry, error) {
	query := `SELECT ` + kbColumns + ` FROM knowledge_base ORDER BY updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapConflict("query knowledge base", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close knowledge base rows", "error", closeErr)
		}
	}()

	var entries []*domain.KnowledgeBaseEntry
	for rows.Next() {
		entry, err := scanKBEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge base row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge base rows: %w", err)
	}

	return entries, nil
}
