package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"ocrd/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	doc_name     TEXT NOT NULL,
	task         TEXT NOT NULL,
	split        INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL,
	error_kind   TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	pages        INTEGER NOT NULL DEFAULT 0,
	failed_pages TEXT NOT NULL DEFAULT '[]',
	archive      TEXT NOT NULL DEFAULT '',
	created_ms   INTEGER NOT NULL,
	updated_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_created ON jobs(created_ms DESC);
`

// SQLiteStore persists the ledger in a single sqlite file.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(ctx context.Context, path string, log zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("job db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open job db: %w", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init job db: %w", err)
	}
	log.Info().Str("path", path).Msg("job ledger opened")
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, r Record) error {
	fp, err := json.Marshal(nonNil(r.FailedPages))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO jobs (id, doc_name, task, split, status, error_kind, message, pages, failed_pages, archive, created_ms, updated_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	error_kind = excluded.error_kind,
	message = excluded.message,
	pages = excluded.pages,
	failed_pages = excluded.failed_pages,
	archive = excluded.archive,
	updated_ms = excluded.updated_ms`,
		r.ID, r.DocName, string(r.Task), boolInt(r.Split), string(r.Status), r.ErrorKind, r.Message,
		r.Pages, string(fp), r.Archive, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
		s.log.Error().Str("job_id", r.ID).Err(err).Msg("ledger put failed")
	}
	return err
}

const selectCols = `id, doc_name, task, split, status, error_kind, message, pages, failed_pages, archive, created_ms, updated_ms`

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM jobs WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	q := `SELECT ` + selectCols + ` FROM jobs ORDER BY created_ms DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                  Record
		task, status, fp   string
		split              int
		createdMS, updated int64
	)
	if err := sc.Scan(&r.ID, &r.DocName, &task, &split, &status, &r.ErrorKind, &r.Message, &r.Pages, &fp, &r.Archive, &createdMS, &updated); err != nil {
		return Record{}, err
	}
	r.Task = types.TaskKind(task)
	r.Status = types.JobStatus(status)
	r.Split = split != 0
	if err := json.Unmarshal([]byte(fp), &r.FailedPages); err != nil {
		return Record{}, fmt.Errorf("decode failed_pages: %w", err)
	}
	if len(r.FailedPages) == 0 {
		r.FailedPages = nil
	}
	r.CreatedAt = time.UnixMilli(createdMS)
	r.UpdatedAt = time.UnixMilli(updated)
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(p []int) []int {
	if p == nil {
		return []int{}
	}
	return p
}
