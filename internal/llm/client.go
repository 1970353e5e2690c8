// Package llm implements a thin HTTP client for an OpenAI-compatible
// chat-completions endpoint. Only the {choices:[{message:{content}}]}
// response shape is assumed.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"neuroforge/internal/config"
	"neuroforge/internal/logging"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune a single request. Zero values fall back to client defaults.
type Options struct {
	System      string
	Temperature float64
	MaxTokens   int
	// TemperatureSet distinguishes an explicit 0.0 from the default.
	TemperatureSet bool
}

// LLMError reports transport failures, non-2xx responses and timeouts.
type LLMError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *LLMError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm: %s", e.Message)
}

func (e *LLMError) Unwrap() error { return e.Err }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client is safe for concurrent use; the underlying transport pools
// connections.
type Client struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// New creates a client from the process config.
func New(cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Generate sends a single user message (plus optional system prompt) and
// returns the assistant reply's content.
func (c *Client) Generate(ctx context.Context, prompt string, opts *Options) (string, error) {
	messages := make([]Message, 0, 2)
	if opts != nil && opts.System != "" {
		messages = append(messages, Message{Role: "system", Content: opts.System})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})
	return c.Chat(ctx, messages, opts)
}

// Chat is the multi-turn variant used for few-shot prompting.
func (c *Client) Chat(ctx context.Context, messages []Message, opts *Options) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if opts != nil {
		if opts.TemperatureSet {
			req.Temperature = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			req.MaxTokens = opts.MaxTokens
		}
	}

	logging.APIDebug("chat: model=%s messages=%d max_tokens=%d", c.model, len(messages), req.MaxTokens)

	// Retry loop for rate limits and transient transport errors.
	const maxRetries = 3
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return "", &LLMError{Message: "request timed out", Err: ctx.Err()}
			}
		}

		content, retryable, err := c.doRequest(ctx, req)
		if err == nil {
			return content, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) doRequest(ctx context.Context, req chatRequest) (content string, retryable bool, err error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", false, &LLMError{Message: "failed to marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, &LLMError{Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, &LLMError{Message: "request timed out", Err: ctx.Err()}
		}
		return "", true, &LLMError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, &LLMError{Message: "failed to read response", Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, &LLMError{StatusCode: resp.StatusCode, Message: "rate limit exceeded"}
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, &LLMError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, &LLMError{Message: "malformed response", Err: err}
	}
	if parsed.Error != nil {
		return "", false, &LLMError{Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", false, &LLMError{Message: "no completion returned"}
	}
	return parsed.Choices[0].Message.Content, false, nil
}

// GenerateJSON wraps Generate at temperature 0, strips fenced-code wrappers
// and parses the reply as JSON. On parse failure it returns
// {"raw": <text>, "error": "parse_failed"} rather than an error.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, opts *Options) (map[string]any, error) {
	jsonOpts := Options{Temperature: 0, TemperatureSet: true}
	if opts != nil {
		jsonOpts.System = opts.System
		jsonOpts.MaxTokens = opts.MaxTokens
		if opts.TemperatureSet {
			jsonOpts.Temperature = opts.Temperature
		}
	}

	text, err := c.Generate(ctx, prompt, &jsonOpts)
	if err != nil {
		return nil, err
	}

	stripped := StripCodeFences(text)
	var result map[string]any
	if err := json.Unmarshal([]byte(stripped), &result); err != nil {
		logging.APIDebug("generate_json: parse failed: %v", err)
		return map[string]any{"raw": text, "error": "parse_failed"}, nil
	}
	return result, nil
}

// StripCodeFences removes ```json ... ``` or ``` ... ``` wrappers from an
// LLM reply, returning the inner text.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop an optional language tag on the opening fence line.
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		first := strings.TrimSpace(trimmed[:idx])
		if first == "json" || first == "go" || first == "" {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
