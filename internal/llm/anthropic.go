package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 4096
)

// AnthropicConfig configures an Anthropic client.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string        // default DefaultAnthropicBaseURL
	Timeout    time.Duration // per HTTP attempt; 0 means no client-side timeout
	MaxRetries int           // retries after the first attempt for retryable statuses
	Backoff    time.Duration // first retry delay, doubled per retry; default 1s
	HTTPClient *http.Client  // optional; overrides Timeout
	Logger     *zap.Logger
}

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	baseURL    string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError is a non-2xx response from the completion service.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic: status %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: status %d: %s", e.StatusCode, e.Message)
}

// NewAnthropic returns a client for cfg.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	a := &Anthropic{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if a.baseURL == "" {
		a.baseURL = DefaultAnthropicBaseURL
	}
	if a.maxRetries < 0 {
		a.maxRetries = 0
	}
	if a.backoff <= 0 {
		a.backoff = time.Second
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []Tool             `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    Role             `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicResponse struct {
	Type       string           `json:"type"`
	Content    []anthropicBlock `json:"content"`
	StopReason StopReason       `json:"stop_reason"`
	Usage      Usage            `json:"usage"`
	Error      *anthropicError  `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Complete sends req to POST /messages, retrying rate-limit and overload statuses.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	if a.apiKey == "" {
		return nil, errors.New("anthropic: API key not configured")
	}
	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := a.backoff << (attempt - 1)
			if ra, ok := retryAfter(lastErr); ok {
				delay = ra
			}
			a.logger.Warn("retrying completion request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
		resp, err := a.do(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("anthropic: giving up after %d attempts: %w", a.maxRetries+1, lastErr)
}

// retryableError marks a failed attempt that may succeed if repeated.
type retryableError struct {
	err   error
	after time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func retryAfter(err error) (time.Duration, bool) {
	var re *retryableError
	if errors.As(err, &re) && re.after > 0 {
		return re.after, true
	}
	return 0, false
}

func (a *Anthropic) do(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("anthropic: %w", ctx.Err())
		}
		return nil, &retryableError{err: fmt.Errorf("anthropic: request failed: %w", err)}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("anthropic: read response: %w", err)}
	}

	var parsed anthropicResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if decodeErr == nil && parsed.Error != nil {
			apiErr.Type = parsed.Error.Type
			apiErr.Message = parsed.Error.Message
		}
		if retryableStatus(httpResp.StatusCode) {
			return nil, &retryableError{err: apiErr, after: parseRetryAfter(httpResp.Header.Get("retry-after"))}
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("anthropic: parse response: %w", decodeErr)
	}
	if parsed.Error != nil {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Type: parsed.Error.Type, Message: parsed.Error.Message}
	}
	return fromAnthropicResponse(parsed)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, 529:
		return true
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func toAnthropicRequest(req Request) anthropicRequest {
	out := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  make([]anthropicMessage, 0, len(req.Messages)),
		Tools:     req.Tools,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	for _, m := range req.Messages {
		wm := anthropicMessage{Role: m.Role, Content: make([]anthropicBlock, 0, len(m.Content))}
		for _, b := range m.Content {
			wm.Content = append(wm.Content, toAnthropicBlock(b))
		}
		out.Messages = append(out.Messages, wm)
	}
	return out
}

func toAnthropicBlock(b Block) anthropicBlock {
	switch b.Type {
	case BlockToolUse:
		input := json.RawMessage("{}")
		if len(b.Input) > 0 {
			if raw, err := json.Marshal(b.Input); err == nil {
				input = raw
			}
		}
		return anthropicBlock{Type: b.Type, ID: b.ID, Name: b.Name, Input: input}
	case BlockToolResult:
		return anthropicBlock{Type: b.Type, ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError}
	default:
		return anthropicBlock{Type: BlockText, Text: b.Text}
	}
}

func fromAnthropicResponse(r anthropicResponse) (*Response, error) {
	resp := &Response{StopReason: r.StopReason, Usage: r.Usage}
	for _, b := range r.Content {
		switch b.Type {
		case BlockText:
			resp.Content = append(resp.Content, TextBlock(b.Text))
		case BlockToolUse:
			var input map[string]any
			if len(b.Input) > 0 && string(b.Input) != "null" {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: tool_use %s input: %w", b.Name, err)
				}
			}
			resp.Content = append(resp.Content, Block{Type: BlockToolUse, ID: b.ID, Name: b.Name, Input: input})
		}
	}
	return resp, nil
}
