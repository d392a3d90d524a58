package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/ports"
)

const runsTable = "pipeline_runs"

const runsSchema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	bookmark_id TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	checkpoint  TEXT NOT NULL,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at);
`

// sortableTime keeps started_at lexically ordered.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

var sqlite = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// SQLiteRunStore persists checkpoints in a local SQLite file so runs can be
// resumed across process restarts.
type SQLiteRunStore struct {
	db *sql.DB
}

var _ ports.RunStore = (*SQLiteRunStore)(nil)

// NewSQLiteRunStore opens (and creates if needed) the database at path.
func NewSQLiteRunStore(path string) (*SQLiteRunStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(runsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize run store: %w", err)
	}
	return &SQLiteRunStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

// Load returns the checkpoint for bookmarkID.
func (s *SQLiteRunStore) Load(ctx context.Context, bookmarkID string) (domain.Checkpoint, bool, error) {
	query, args, err := sqlite.Select("checkpoint").From(runsTable).Where(sq.Eq{"bookmark_id": bookmarkID}).ToSql()
	if err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("build load: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Checkpoint{}, false, nil
	}
	if err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("load checkpoint %s: %w", bookmarkID, err)
	}
	cp, err := decodeCheckpoint([]byte(raw))
	if err != nil {
		return domain.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Save upserts the checkpoint for its bookmark.
func (s *SQLiteRunStore) Save(ctx context.Context, checkpoint domain.Checkpoint) error {
	run := checkpoint.Run
	if run.BookmarkID == "" {
		return fmt.Errorf("save checkpoint: bookmark id is empty")
	}
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	query, args, err := sqlite.
		Insert(runsTable).
		Columns("bookmark_id", "run_id", "attempt", "outcome", "started_at", "checkpoint").
		Values(run.BookmarkID, run.RunID, run.Attempt, string(run.Outcome), run.StartedAt.UTC().Format(sortableTime), string(raw)).
		Suffix(`ON CONFLICT(bookmark_id) DO UPDATE SET
			run_id = excluded.run_id,
			attempt = excluded.attempt,
			outcome = excluded.outcome,
			started_at = excluded.started_at,
			checkpoint = excluded.checkpoint,
			updated_at = CURRENT_TIMESTAMP`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", run.BookmarkID, err)
	}
	return nil
}

// Delete forgets a bookmark.
func (s *SQLiteRunStore) Delete(ctx context.Context, bookmarkID string) error {
	query, args, err := sqlite.Delete(runsTable).Where(sq.Eq{"bookmark_id": bookmarkID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", bookmarkID, err)
	}
	return nil
}

// List returns the newest runs first; limit <= 0 means all.
func (s *SQLiteRunStore) List(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	builder := sqlite.Select("checkpoint").From(runsTable).OrderBy("started_at DESC", "bookmark_id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PipelineRun
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		cp, err := decodeCheckpoint([]byte(raw))
		if err != nil {
			return nil, err
		}
		runs = append(runs, cp.Run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return runs, nil
}
