package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
)

// pointNamespace derives stable point ids from chunk keys so re-indexing overwrites.
var pointNamespace = uuid.MustParse("6f1c3a52-9b0e-4c37-8d7a-2b5e1f4a9c10")

type Client struct {
	baseURL    string
	collection string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection, apiKey string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

// Search implements ports.VectorSearch.
func (c *Client) Search(
	ctx context.Context,
	embedding []float32,
	limit int,
	filter domain.SearchFilter,
) ([]domain.ScoredResult, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": true,
	}
	if must := filterConditions(filter); len(must) > 0 {
		reqBody["filter"] = map[string]any{"must": must}
	}

	var raw []byte
	err := c.executor.Execute(ctx, "qdrant.search", func(callCtx context.Context) error {
		var callErr error
		raw, callErr = c.do(callCtx, http.MethodPost, "/collections/"+c.collection+"/points/search", reqBody)
		return callErr
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("qdrant search", err)
	}

	hits := gjson.GetBytes(raw, "result").Array()
	out := make([]domain.ScoredResult, 0, len(hits))
	for _, hit := range hits {
		out = append(out, domain.ScoredResult{
			Chunk:     chunkFromPayload(hit.Get("payload")),
			Score:     hit.Get("score").Float(),
			MatchType: domain.MatchVector,
		})
	}
	return out, nil
}

// IndexChunks upserts chunks with their vectors, creating the collection on first use.
func (c *Client) IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point{
			ID:      uuid.NewSHA1(pointNamespace, []byte(chunk.Key())).String(),
			Vector:  vectors[i],
			Payload: chunkPayload(chunk),
		})
	}

	err := c.executor.Execute(ctx, "qdrant.upsert", func(callCtx context.Context) error {
		_, callErr := c.do(callCtx, http.MethodPut, "/collections/"+c.collection+"/points?wait=true", map[string]any{"points": points})
		return callErr
	}, resilience.ClassifyHTTPError)
	return wrapTemporaryIfNeeded("qdrant upsert", err)
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	_, err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, reqBody)
	if err != nil {
		// 409 when the collection already exists.
		if statusErr, ok := err.(*resilience.HTTPStatusError); !ok || statusErr.StatusCode != http.StatusConflict {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
	}
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal qdrant request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewHTTPStatusError("qdrant", resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read qdrant response: %w", err)
	}
	return raw, nil
}

func filterConditions(filter domain.SearchFilter) []map[string]any {
	var must []map[string]any
	if filter.Project != "" {
		must = append(must, map[string]any{"key": "project", "match": map[string]any{"value": filter.Project}})
	}
	if filter.ContentType != "" {
		must = append(must, map[string]any{"key": "content_type", "match": map[string]any{"value": string(filter.ContentType)}})
	}
	return must
}

func chunkPayload(chunk domain.Chunk) map[string]any {
	return map[string]any{
		"chunk_id":     chunk.ID,
		"url":          chunk.URL,
		"title":        chunk.Title,
		"section":      chunk.Section,
		"content":      chunk.Content,
		"content_type": string(chunk.ContentType),
		"project":      chunk.Project,
		"document_id":  chunk.DocumentID,
		"chunk_index":  chunk.ChunkIndex,
		"orphaned":     chunk.Orphaned,
	}
}

func chunkFromPayload(payload gjson.Result) domain.Chunk {
	return domain.Chunk{
		ID:          payload.Get("chunk_id").String(),
		URL:         payload.Get("url").String(),
		Title:       payload.Get("title").String(),
		Section:     payload.Get("section").String(),
		Content:     payload.Get("content").String(),
		ContentType: domain.ContentType(payload.Get("content_type").String()),
		Project:     payload.Get("project").String(),
		DocumentID:  payload.Get("document_id").String(),
		ChunkIndex:  int(payload.Get("chunk_index").Int()),
		Orphaned:    payload.Get("orphaned").Bool(),
	}
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsTemporary(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
