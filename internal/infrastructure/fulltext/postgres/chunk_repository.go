package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

// ChunkRepository serves lexical search and chunk neighborhoods from Postgres full-text search.
type ChunkRepository struct {
	db *sql.DB
	// language is the text search configuration, e.g. "english".
	language string
}

func NewChunkRepository(db *sql.DB, language string) *ChunkRepository {
	if strings.TrimSpace(language) == "" {
		language = "english"
	}
	return &ChunkRepository{db: db, language: language}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS doc_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	section TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	content_type TEXT NOT NULL,
	project TEXT NOT NULL,
	orphaned BOOLEAN NOT NULL DEFAULT FALSE,
	search_vector TSVECTOR,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_doc_chunks_position ON doc_chunks(document_id, chunk_index);
CREATE INDEX IF NOT EXISTS idx_doc_chunks_project ON doc_chunks(project, content_type);
CREATE INDEX IF NOT EXISTS idx_doc_chunks_search ON doc_chunks USING GIN(search_vector);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Upsert writes chunks, weighting titles above body text in the search vector.
func (r *ChunkRepository) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, c := range chunks {
		_, err := tx.ExecContext(ctx, `
INSERT INTO doc_chunks (
	id, document_id, chunk_index, url, title, section, content, content_type, project, orphaned, search_vector, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
	setweight(to_tsvector($11::regconfig, $5 || ' ' || $6), 'A') || setweight(to_tsvector($11::regconfig, $7), 'B'),
	$12
)
ON CONFLICT (id) DO UPDATE SET
	document_id = EXCLUDED.document_id,
	chunk_index = EXCLUDED.chunk_index,
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	section = EXCLUDED.section,
	content = EXCLUDED.content,
	content_type = EXCLUDED.content_type,
	project = EXCLUDED.project,
	orphaned = EXCLUDED.orphaned,
	search_vector = EXCLUDED.search_vector,
	updated_at = EXCLUDED.updated_at
`,
			c.Key(), c.DocumentID, c.ChunkIndex, c.URL, c.Title, c.Section, c.Content,
			string(c.ContentType), c.Project, c.Orphaned, r.language, now,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// Search implements ports.FullTextSearch using websearch_to_tsquery ranking.
func (r *ChunkRepository) Search(ctx context.Context, text string, limit int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, chunk_index, url, title, section, content, content_type, project, orphaned,
	ts_rank_cd(search_vector, websearch_to_tsquery($1::regconfig, $2)) AS rank
FROM doc_chunks
WHERE search_vector @@ websearch_to_tsquery($1::regconfig, $2)
	AND ($3 = '' OR project = $3)
	AND ($4 = '' OR content_type = $4)
ORDER BY rank DESC, document_id, chunk_index
LIMIT $5
`, r.language, text, filter.Project, string(filter.ContentType), limit)
	if err != nil {
		return nil, wrapQueryError("fulltext search", err)
	}
	defer rows.Close()

	var out []domain.ScoredResult
	for rows.Next() {
		var chunk domain.Chunk
		var contentType string
		var rank float64
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.URL, &chunk.Title, &chunk.Section,
			&chunk.Content, &contentType, &chunk.Project, &chunk.Orphaned, &rank,
		); err != nil {
			return nil, fmt.Errorf("scan fulltext row: %w", err)
		}
		chunk.ContentType = domain.ContentType(contentType)
		out = append(out, domain.ScoredResult{Chunk: chunk, Score: rank, MatchType: domain.MatchFTS})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fulltext rows: %w", err)
	}
	return out, nil
}

// GetAdjacentChunks returns chunks of documentID within window of centerIndex, center included, in order.
func (r *ChunkRepository) GetAdjacentChunks(ctx context.Context, documentID string, centerIndex, window int) ([]domain.Chunk, error) {
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "adjacent chunks", fmt.Errorf("document id is required"))
	}
	if window < 0 {
		window = 0
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, chunk_index, url, title, section, content, content_type, project, orphaned
FROM doc_chunks
WHERE document_id = $1 AND chunk_index BETWEEN $2 AND $3
ORDER BY chunk_index
`, documentID, centerIndex-window, centerIndex+window)
	if err != nil {
		return nil, wrapQueryError("adjacent chunks", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		var contentType string
		if err := rows.Scan(
			&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.URL, &chunk.Title, &chunk.Section,
			&chunk.Content, &contentType, &chunk.Project, &chunk.Orphaned,
		); err != nil {
			return nil, fmt.Errorf("scan adjacent row: %w", err)
		}
		chunk.ContentType = domain.ContentType(contentType)
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjacent rows: %w", err)
	}
	return out, nil
}

func wrapQueryError(operation string, err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
