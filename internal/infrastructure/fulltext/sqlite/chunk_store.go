package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
)

// ChunkStore is an embedded FTS5 lexical index for single-node deployments.
type ChunkStore struct {
	db *sql.DB
}

// Open creates the database file if needed. path ":memory:" keeps the index in process.
func Open(ctx context.Context, path string) (*ChunkStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY and keeps a :memory: database shared.
	db.SetMaxOpenConns(1)

	store := &ChunkStore{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *ChunkStore) Close() error {
	return s.db.Close()
}

func (s *ChunkStore) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA synchronous = NORMAL`,
		`CREATE TABLE IF NOT EXISTS doc_chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			section TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			content_type TEXT NOT NULL,
			project TEXT NOT NULL,
			orphaned INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_doc_chunks_position ON doc_chunks(document_id, chunk_index)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS doc_chunks_fts USING fts5(chunk_id UNINDEXED, title, section, content, tokenize = 'porter unicode61')`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Upsert replaces chunks and their FTS rows.
func (s *ChunkStore) Upsert(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, c := range chunks {
		key := c.Key()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO doc_chunks (id, document_id, chunk_index, url, title, section, content, content_type, project, orphaned)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	document_id = excluded.document_id,
	chunk_index = excluded.chunk_index,
	url = excluded.url,
	title = excluded.title,
	section = excluded.section,
	content = excluded.content,
	content_type = excluded.content_type,
	project = excluded.project,
	orphaned = excluded.orphaned
`, key, c.DocumentID, c.ChunkIndex, c.URL, c.Title, c.Section, c.Content, string(c.ContentType), c.Project, c.Orphaned); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM doc_chunks_fts WHERE chunk_id = ?`, key); err != nil {
			return fmt.Errorf("clear fts row %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO doc_chunks_fts (chunk_id, title, section, content) VALUES (?, ?, ?, ?)`,
			key, c.Title, c.Section, c.Content,
		); err != nil {
			return fmt.Errorf("index chunk %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// Search implements ports.FullTextSearch. Terms are OR-ed and ranked by bm25,
// negated so larger scores are better.
func (s *ChunkStore) Search(ctx context.Context, text string, limit int, filter domain.SearchFilter) ([]domain.ScoredResult, error) {
	match := matchExpression(text)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, c.document_id, c.chunk_index, c.url, c.title, c.section, c.content, c.content_type, c.project, c.orphaned,
	-bm25(doc_chunks_fts, 0.0, 4.0, 2.0, 1.0) AS rank
FROM doc_chunks_fts
JOIN doc_chunks c ON c.id = doc_chunks_fts.chunk_id
WHERE doc_chunks_fts MATCH ?
	AND (? = '' OR c.project = ?)
	AND (? = '' OR c.content_type = ?)
ORDER BY rank DESC, c.document_id, c.chunk_index
LIMIT ?
`, match, filter.Project, filter.Project, string(filter.ContentType), string(filter.ContentType), limit)
	if err != nil {
		return nil, fmt.Errorf("fts5 search: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoredResult
	for rows.Next() {
		var rank float64
		chunk, err := scanChunk(rows, &rank)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ScoredResult{Chunk: chunk, Score: rank, MatchType: domain.MatchFTS})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fts5 rows: %w", err)
	}
	return out, nil
}

func (s *ChunkStore) GetAdjacentChunks(ctx context.Context, documentID string, centerIndex, window int) ([]domain.Chunk, error) {
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "adjacent chunks", fmt.Errorf("document id is required"))
	}
	if window < 0 {
		window = 0
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, document_id, chunk_index, url, title, section, content, content_type, project, orphaned
FROM doc_chunks
WHERE document_id = ? AND chunk_index BETWEEN ? AND ?
ORDER BY chunk_index
`, documentID, centerIndex-window, centerIndex+window)
	if err != nil {
		return nil, fmt.Errorf("adjacent chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjacent rows: %w", err)
	}
	return out, nil
}

func scanChunk(rows *sql.Rows, extra ...any) (domain.Chunk, error) {
	var chunk domain.Chunk
	var contentType string
	dest := []any{
		&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.URL, &chunk.Title, &chunk.Section,
		&chunk.Content, &contentType, &chunk.Project, &chunk.Orphaned,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return domain.Chunk{}, fmt.Errorf("scan chunk row: %w", err)
	}
	chunk.ContentType = domain.ContentType(contentType)
	return chunk, nil
}

// matchExpression quotes every term so FTS5 operators in user text stay literal.
func matchExpression(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
