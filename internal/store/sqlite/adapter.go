package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/store"
)

// SqliteStore implements store.Store using the modernc SQLite driver.
type SqliteStore struct {
	db *sql.DB
}

// DB exposes the underlying *sql.DB connection (health checks, tests).
func (s *SqliteStore) DB() *sql.DB { return s.db }

// New opens (or creates) the database file and ensures the schema exists.
func New(path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db)
}

// NewWithDB allows wiring with an existing connection (used by factory and tests).
func NewWithDB(db *sql.DB) (store.Store, error) {
	s := &SqliteStore{db: db}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			thread_id TEXT,
			subject TEXT DEFAULT '',
			body TEXT DEFAULT '',
			snippet TEXT DEFAULT '',
			from_name TEXT DEFAULT '',
			from_email TEXT DEFAULT '',
			to_name TEXT DEFAULT '',
			to_email TEXT DEFAULT '',
			received_at TIMESTAMP,
			created_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ingest_jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			records_processed INTEGER DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_from_email ON emails(from_email)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SqliteStore) Messages() store.Messages     { return &messages{db: s.db} }
func (s *SqliteStore) IngestJobs() store.IngestJobs { return &ingestJobs{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *SqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Messages ---

type messages struct{ db *sql.DB }

const messageColumns = `id, thread_id, subject, body, snippet, from_name, from_email, to_name, to_email, received_at, created_at`

func (m *messages) Upsert(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	// INSERT OR IGNORE keeps re-ingestion of the same id a no-op.
	_, err := m.db.ExecContext(ctx, `INSERT OR IGNORE INTO emails (`+messageColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		msg.ID, msg.ThreadID, msg.Subject, msg.BodyText, msg.Snippet,
		msg.FromName, msg.FromEmail, msg.ToName, msg.ToEmail,
		msg.ReceivedAt.UTC(), msg.CreatedAt)
	return err
}

func (m *messages) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx, `SELECT 1 FROM emails WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *messages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM emails WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return msg, err
}

func (m *messages) ListRecent(ctx context.Context, limit int) ([]*model.Message, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM emails ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (m *messages) ListBySender(ctx context.Context, sender string, limit int) ([]*model.Message, error) {
	pattern := "%" + strings.ToLower(sender) + "%"
	rows, err := m.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM emails
		WHERE lower(from_email) LIKE ? OR lower(from_name) LIKE ?
		ORDER BY received_at DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (m *messages) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id FROM emails ORDER BY received_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (m *messages) Count(ctx context.Context) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n)
	return n, err
}

func (m *messages) Delete(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, id)
	return err
}

// --- Ingest jobs ---

type ingestJobs struct{ db *sql.DB }

func (j *ingestJobs) Start(ctx context.Context, jobType string) (int64, error) {
	res, err := j.db.ExecContext(ctx, `INSERT INTO ingest_jobs (job_type, status, started_at) VALUES (?, 'running', ?)`,
		jobType, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (j *ingestJobs) Complete(ctx context.Context, jobID int64, recordsProcessed int) error {
	_, err := j.db.ExecContext(ctx, `UPDATE ingest_jobs SET status='completed', records_processed=?, completed_at=? WHERE id=?`,
		recordsProcessed, time.Now().UTC(), jobID)
	return err
}

func (j *ingestJobs) Fail(ctx context.Context, jobID int64, errorMessage string) error {
	_, err := j.db.ExecContext(ctx, `UPDATE ingest_jobs SET status='failed', error_message=?, completed_at=? WHERE id=?`,
		errorMessage, time.Now().UTC(), jobID)
	return err
}

// helpers

func scanMessage(row *sql.Row) (*model.Message, error) {
	var msg model.Message
	var threadID, snippet sql.NullString
	if err := row.Scan(&msg.ID, &threadID, &msg.Subject, &msg.BodyText, &snippet,
		&msg.FromName, &msg.FromEmail, &msg.ToName, &msg.ToEmail,
		&msg.ReceivedAt, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.ThreadID = threadID.String
	msg.Snippet = snippet.String
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*model.Message, error) {
	var out []*model.Message
	for rows.Next() {
		var msg model.Message
		var threadID, snippet sql.NullString
		if err := rows.Scan(&msg.ID, &threadID, &msg.Subject, &msg.BodyText, &snippet,
			&msg.FromName, &msg.FromEmail, &msg.ToName, &msg.ToEmail,
			&msg.ReceivedAt, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.ThreadID = threadID.String
		msg.Snippet = snippet.String
		out = append(out, &msg)
	}
	return out, rows.Err()
}
