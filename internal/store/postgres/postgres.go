package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Messages() store.Messages     { return &messages{db: s.db} }
func (s *pgStore) IngestJobs() store.IngestJobs { return &ingestJobs{db: s.db} }

// HealthPing implements health.HealthPinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Bootstrap ensures the schema exists. Safe to re-run.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

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
			received_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ingest_jobs (
			id BIGSERIAL PRIMARY KEY,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			records_processed INTEGER DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMPTZ DEFAULT now(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_from_email ON emails(from_email)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at)`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// --- Messages ---

type messages struct{ db *sql.DB }

const messageColumns = `id, thread_id, subject, body, snippet, from_name, from_email, to_name, to_email, received_at, created_at`

func (m *messages) Upsert(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := m.db.ExecContext(ctx, `INSERT INTO emails (`+messageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.ThreadID, msg.Subject, msg.BodyText, msg.Snippet,
		msg.FromName, msg.FromEmail, msg.ToName, msg.ToEmail,
		msg.ReceivedAt.UTC(), msg.CreatedAt)
	return err
}

func (m *messages) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx, `SELECT 1 FROM emails WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *messages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM emails WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return msg, err
}

func (m *messages) ListRecent(ctx context.Context, limit int) ([]*model.Message, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM emails ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (m *messages) ListBySender(ctx context.Context, sender string, limit int) ([]*model.Message, error) {
	pattern := "%" + strings.ToLower(sender) + "%"
	rows, err := m.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM emails
		WHERE lower(from_email) LIKE $1 OR lower(from_name) LIKE $1
		ORDER BY received_at DESC LIMIT $2`, pattern, limit)
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
	_, err := m.db.ExecContext(ctx, `DELETE FROM emails WHERE id = $1`, id)
	return err
}

// --- Ingest jobs ---

type ingestJobs struct{ db *sql.DB }

func (j *ingestJobs) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := j.db.QueryRowContext(ctx,
		`INSERT INTO ingest_jobs (job_type, status) VALUES ($1, 'running') RETURNING id`, jobType).Scan(&id)
	return id, err
}

func (j *ingestJobs) Complete(ctx context.Context, jobID int64, recordsProcessed int) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE ingest_jobs SET status='completed', records_processed=$1, completed_at=now() WHERE id=$2`,
		recordsProcessed, jobID)
	return err
}

func (j *ingestJobs) Fail(ctx context.Context, jobID int64, errorMessage string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE ingest_jobs SET status='failed', error_message=$1, completed_at=now() WHERE id=$2`,
		errorMessage, jobID)
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
