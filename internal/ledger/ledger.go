package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

// DefaultTable is where runs are recorded unless configured otherwise.
const DefaultTable = "cdw_import_runs"

// ErrNoRuns is returned by Last when the ledger is empty.
var ErrNoRuns = errors.New("no runs recorded")

// Run is one pipeline invocation as stored in the ledger.
type Run struct {
	ID             uuid.UUID `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Outcome        string    `json:"outcome"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Message        string    `json:"message,omitempty"`
	RemoteFile     string    `json:"remote_file"`
	OutputFile     string    `json:"output_file"`
	DownloadBytes  int64     `json:"download_bytes"`
	RowsRead       int       `json:"rows_read"`
	RowsWritten    int       `json:"rows_written"`
	RowsSkipped    int       `json:"rows_skipped"`
	RowsOverridden int       `json:"rows_overridden"`
	MissingHeaders []string  `json:"missing_headers,omitempty"`
}

// Ledger records run history in a PostgreSQL table.
type Ledger struct {
	db    *sql.DB
	table string
}

// New wraps an open database handle.
func New(db *sql.DB, table string) *Ledger {
	if table == "" {
		table = DefaultTable
	}
	return &Ledger{db: db, table: table}
}

// Open connects to dsn through the pgx driver and makes sure the run table exists.
func Open(ctx context.Context, dsn, table string) (*Ledger, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach ledger database: %w", err)
	}

	l := New(db, table)
	if err := l.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// EnsureSchema creates the run table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id              UUID PRIMARY KEY,
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ NOT NULL,
			outcome         TEXT NOT NULL,
			error_kind      TEXT NOT NULL DEFAULT '',
			message         TEXT NOT NULL DEFAULT '',
			remote_file     TEXT NOT NULL,
			output_file     TEXT NOT NULL,
			download_bytes  BIGINT NOT NULL DEFAULT 0,
			rows_read       INTEGER NOT NULL DEFAULT 0,
			rows_written    INTEGER NOT NULL DEFAULT 0,
			rows_skipped    INTEGER NOT NULL DEFAULT 0,
			rows_overridden INTEGER NOT NULL DEFAULT 0,
			missing_headers TEXT[] NOT NULL DEFAULT '{}'
		)`, pq.QuoteIdentifier(l.table))

	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// Record inserts r. A zero ID is replaced with a new random one.
func (l *Ledger) Record(ctx context.Context, r *Run) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	missing := r.MissingHeaders
	if missing == nil {
		missing = []string{}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, finished_at, outcome, error_kind, message, remote_file, output_file,
		                download_bytes, rows_read, rows_written, rows_skipped, rows_overridden, missing_headers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`, pq.QuoteIdentifier(l.table))

	_, err := l.db.ExecContext(ctx, stmt,
		r.ID, r.StartedAt, r.FinishedAt, r.Outcome, r.ErrorKind, r.Message, r.RemoteFile, r.OutputFile,
		r.DownloadBytes, r.RowsRead, r.RowsWritten, r.RowsSkipped, r.RowsOverridden, pq.Array(missing))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

// Last returns the most recently finished run.
func (l *Ledger) Last(ctx context.Context) (*Run, error) {
	query := fmt.Sprintf(`
		SELECT id, started_at, finished_at, outcome, error_kind, message, remote_file, output_file,
		       download_bytes, rows_read, rows_written, rows_skipped, rows_overridden, missing_headers
		FROM %s
		ORDER BY finished_at DESC
		LIMIT 1`, pq.QuoteIdentifier(l.table))

	var r Run
	var missing pq.StringArray
	err := l.db.QueryRowContext(ctx, query).Scan(
		&r.ID, &r.StartedAt, &r.FinishedAt, &r.Outcome, &r.ErrorKind, &r.Message, &r.RemoteFile, &r.OutputFile,
		&r.DownloadBytes, &r.RowsRead, &r.RowsWritten, &r.RowsSkipped, &r.RowsOverridden, &missing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	if len(missing) > 0 {
		r.MissingHeaders = []string(missing)
	}
	return &r, nil
}
