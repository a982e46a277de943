package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kirillkom/docs-answer-engine/internal/core/domain"
	"github.com/kirillkom/docs-answer-engine/internal/infrastructure/resilience"
)

const defaultMaxTokens = 2048

// Client is an LLMClient backed by the Anthropic Messages API. SDK retries are
// disabled so the shared executor owns retry and breaker policy.
type Client struct {
	api      anthropic.Client
	model    string
	executor *resilience.Executor
}

func New(apiKey, model string, executor *resilience.Executor, opts ...option.RequestOption) *Client {
	requestOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &Client{
		api:      anthropic.NewClient(requestOpts...),
		model:    model,
		executor: executor,
	}
}

func (c *Client) Synthesize(ctx context.Context, systemPrompt, userPrompt string, opts domain.CompletionOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt))},
		Temperature: anthropic.Float(opts.Temperature),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := resilience.Do(ctx, c.executor, "claude.messages", func(callCtx context.Context) (*anthropic.Message, error) {
		return c.api.Messages.New(callCtx, params)
	}, classifyError)
	if err != nil {
		return "", wrapError(err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude returned no text content (stop reason %q)", resp.StopReason)
	}
	return strings.TrimSpace(out.String()), nil
}

func statusCode(err error) (int, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

func classifyError(err error) resilience.ErrorClassification {
	if code, ok := statusCode(err); ok {
		// 529 is the API's overloaded status.
		retryable := resilience.IsRetryableHTTPStatus(code)
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	return resilience.ClassifyHTTPError(err)
}

func wrapError(err error) error {
	if code, ok := statusCode(err); ok {
		switch {
		case code == 401 || code == 403:
			return domain.WrapError(domain.ErrUnauthorized, "claude", err)
		case resilience.IsRetryableHTTPStatus(code):
			return domain.WrapError(domain.ErrTemporary, "claude", err)
		default:
			return fmt.Errorf("claude: %w", err)
		}
	}
	if resilience.IsTemporary(err) {
		return domain.WrapError(domain.ErrTemporary, "claude", err)
	}
	return fmt.Errorf("claude: %w", err)
}
