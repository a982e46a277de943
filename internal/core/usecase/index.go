package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

const defaultIndexBatchSize = 64

type IndexConfig struct {
	BatchSize int
}

// IndexUseCase loads source documents into the retrieval backends: split,
// embed, then write to the vector and lexical indexes.
type IndexUseCase struct {
	chunker  ports.Chunker
	embedder ports.Embedder
	vectors  ports.VectorIndex
	text     ports.TextIndex
	batch    int
	logger   *slog.Logger
}

func NewIndexUseCase(
	chunker ports.Chunker,
	embedder ports.Embedder,
	vectors ports.VectorIndex,
	text ports.TextIndex,
	cfg IndexConfig,
	logger *slog.Logger,
) *IndexUseCase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultIndexBatchSize
	}
	return &IndexUseCase{
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		text:     text,
		batch:    cfg.BatchSize,
		logger:   componentLogger(logger, "index"),
	}
}

func (uc *IndexUseCase) Index(ctx context.Context, docs []domain.SourceDocument) (domain.IndexReport, error) {
	var report domain.IndexReport
	if uc.vectors == nil && uc.text == nil {
		return report, domain.WrapError(domain.ErrNoBackend, "index documents", errors.New("no index backend configured"))
	}

	var chunks []domain.Chunk
	for _, doc := range docs {
		docChunks, err := uc.chunk(doc)
		if err != nil {
			report.Skipped++
			uc.logger.Warn("document_skipped", "url", doc.URL, "error", err)
			continue
		}
		report.Documents++
		chunks = append(chunks, docChunks...)
	}

	for start := 0; start < len(chunks); start += uc.batch {
		end := min(start+uc.batch, len(chunks))
		if err := uc.indexBatch(ctx, chunks[start:end]); err != nil {
			return report, err
		}
		report.Chunks += end - start
	}
	uc.logger.Info("index_completed", "documents", report.Documents, "chunks", report.Chunks, "skipped", report.Skipped)
	return report, nil
}

func (uc *IndexUseCase) chunk(doc domain.SourceDocument) ([]domain.Chunk, error) {
	if strings.TrimSpace(doc.URL) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("url is required"))
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = domain.ContentTypeProse
	}
	if !contentType.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", fmt.Errorf("unknown content type %q", doc.ContentType))
	}
	bodies := uc.chunker.Split(doc.Content, contentType)
	if len(bodies) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}

	documentID := doc.DocumentID
	if documentID == "" {
		documentID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(doc.URL)).String()
	}
	out := make([]domain.Chunk, 0, len(bodies))
	for i, body := range bodies {
		out = append(out, domain.Chunk{
			ID:          fmt.Sprintf("%s:%d", documentID, i),
			URL:         doc.URL,
			Title:       doc.Title,
			Section:     doc.Section,
			Content:     body,
			ContentType: contentType,
			Project:     doc.Project,
			DocumentID:  documentID,
			ChunkIndex:  i,
			Orphaned:    doc.Orphaned,
		})
	}
	return out, nil
}

func (uc *IndexUseCase) indexBatch(ctx context.Context, chunks []domain.Chunk) error {
	if uc.vectors != nil && uc.embedder != nil {
		vectors, err := uc.embed(ctx, chunks)
		if err != nil {
			return err
		}
		if err := uc.vectors.IndexChunks(ctx, chunks, vectors); err != nil {
			return fmt.Errorf("index chunks in vector db: %w", err)
		}
	}
	if uc.text != nil {
		if err := uc.text.Upsert(ctx, chunks); err != nil {
			return fmt.Errorf("index chunks in full-text store: %w", err)
		}
	}
	return nil
}

func (uc *IndexUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = embeddingText(c)
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}

func embeddingText(c domain.Chunk) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.Title, c.Section, c.Content} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}
