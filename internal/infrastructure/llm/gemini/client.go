package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
)

type Config struct {
	APIKey     string
	Model      string
	EmbedModel string
	// EmbedDimensions of zero keeps the model default.
	EmbedDimensions int
	BaseURL         string
	HTTPClient      *http.Client
}

// Client serves both completions and embeddings from the Gemini API.
type Client struct {
	api      *genai.Client
	cfg      Config
	executor *resilience.Executor
}

func New(ctx context.Context, cfg Config, executor *resilience.Executor) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "gemini", errors.New("api key is required"))
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	api, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{api: api, cfg: cfg, executor: executor}, nil
}

func (c *Client) Synthesize(ctx context.Context, systemPrompt, userPrompt string, opts domain.CompletionOptions) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if strings.TrimSpace(systemPrompt) != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	resp, err := resilience.Do(ctx, c.executor, "gemini.generate", func(callCtx context.Context) (*genai.GenerateContentResponse, error) {
		return c.api.Models.GenerateContent(callCtx, c.cfg.Model, contents, config)
	}, classifyError)
	if err != nil {
		return "", wrapError(err)
	}

	var out strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				out.WriteString(part.Text)
			}
			if out.Len() > 0 {
				break
			}
		}
	}
	if out.Len() == 0 {
		return "", errors.New("gemini returned no text content")
	}
	return strings.TrimSpace(out.String()), nil
}

// Embed implements ports.Embedder.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	config := &genai.EmbedContentConfig{}
	if c.cfg.EmbedDimensions > 0 {
		dims := int32(c.cfg.EmbedDimensions)
		config.OutputDimensionality = &dims
	}

	resp, err := resilience.Do(ctx, c.executor, "gemini.embed", func(callCtx context.Context) (*genai.EmbedContentResponse, error) {
		return c.api.Models.EmbedContent(callCtx, c.cfg.EmbedModel, contents, config)
	}, classifyError)
	if err != nil {
		return nil, wrapError(err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: unexpected embedding count for %d inputs", len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func statusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}
	return 0, false
}

func classifyError(err error) resilience.ErrorClassification {
	if code, ok := statusCode(err); ok {
		retryable := resilience.IsRetryableHTTPStatus(code)
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	return resilience.ClassifyHTTPError(err)
}

func wrapError(err error) error {
	if code, ok := statusCode(err); ok {
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return domain.WrapError(domain.ErrUnauthorized, "gemini", err)
		case resilience.IsRetryableHTTPStatus(code):
			return domain.WrapError(domain.ErrTemporary, "gemini", err)
		}
		return fmt.Errorf("gemini: %w", err)
	}
	if resilience.IsTemporary(err) {
		return domain.WrapError(domain.ErrTemporary, "gemini", err)
	}
	return fmt.Errorf("gemini: %w", err)
}
