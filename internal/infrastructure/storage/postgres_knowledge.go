package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"BookmarkScout/internal/domain"
	"BookmarkScout/internal/ports"
)

const recordsTable = "knowledge_records"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresKnowledgeBase persists synthesized records into Postgres.
type PostgresKnowledgeBase struct {
	db *sql.DB
}

var _ ports.KnowledgeBase = (*PostgresKnowledgeBase)(nil)

// NewPostgresKnowledgeBase wires a sql.DB implementation.
func NewPostgresKnowledgeBase(db *sql.DB) *PostgresKnowledgeBase {
	return &PostgresKnowledgeBase{db: db}
}

// Deliver upserts the record keyed by its dedupe key, so redelivery overwrites.
func (r *PostgresKnowledgeBase) Deliver(ctx context.Context, record domain.Record) error {
	if r.db == nil {
		return errors.New("knowledge base database is not configured")
	}

	query, args, err := upsertRecord(record)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record %s: %w", record.DedupeKey, err)
	}
	return nil
}

func upsertRecord(record domain.Record) (string, []any, error) {
	key := record.DedupeKey
	if key == "" {
		key = record.BookmarkID
	}
	if key == "" {
		return "", nil, errors.New("record has no dedupe key")
	}

	return psql.
		Insert(recordsTable).
		Columns("bookmark_id", "author_handle", "source_urls", "title", "body", "actionable_items", "tags", "style", "degraded", "processed_at").
		Values(
			key,
			record.AuthorHandle,
			pq.StringArray(nonNil(record.SourceURLs)),
			record.Result.Title,
			record.Result.Body,
			pq.StringArray(nonNil(record.Result.ActionableItems)),
			pq.StringArray(nonNil(record.Result.Tags)),
			string(record.Result.Style),
			record.Degraded,
			record.ProcessedAt,
		).
		Suffix(`ON CONFLICT (bookmark_id) DO UPDATE
              SET author_handle = EXCLUDED.author_handle,
                  source_urls = EXCLUDED.source_urls,
                  title = EXCLUDED.title,
                  body = EXCLUDED.body,
                  actionable_items = EXCLUDED.actionable_items,
                  tags = EXCLUDED.tags,
                  style = EXCLUDED.style,
                  degraded = EXCLUDED.degraded,
                  processed_at = EXCLUDED.processed_at,
                  updated_at = NOW()`).
		ToSql()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
