package extract

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

	"realestate-crawler/models"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 120 * time.Second
)

const systemPrompt = `You extract real estate listing details from page text.
Answer with JSON only, no commentary.
Copy prices and areas with their units exactly as written (for example "24.5 L", "200 sq.yd").
Never guess: use null when a value is not on the page.`

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxContent truncates page text sent to the model. Zero means 12000.
	MaxContent int
}

// OpenAIBackend submits pages to a /chat/completions endpoint.
type OpenAIBackend struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxContent int
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai error (status %d): %s", e.Code, e.Body)
}

// Retryable reports whether a later attempt might succeed.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIBackend creates a backend. The API key is required.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxContent == 0 {
		cfg.MaxContent = 12000
	}

	return &OpenAIBackend{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxContent: cfg.MaxContent,
	}, nil
}

// Model returns the configured model name.
func (b *OpenAIBackend) Model() string {
	return b.model
}

// Submit sends one chat completion. A repair request replays the previous
// answer and lists what was wrong with it.
func (b *OpenAIBackend) Submit(ctx context.Context, req Request) (string, error) {
	content := req.Content
	if len([]rune(content)) > b.maxContent {
		content = string([]rune(content)[:b.maxContent])
	}

	user := fmt.Sprintf("%s\n\nListing URL: %s\n\nPage content:\n%s", req.Schema.Instructions(), req.URL, content)
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
	if req.Repair() {
		var fix strings.Builder
		fix.WriteString("Your answer had these problems:\n")
		for _, is := range req.Issues {
			fix.WriteString("- " + is.String() + "\n")
		}
		fix.WriteString("Return the corrected JSON object only.")
		messages = append(messages,
			chatMessage{Role: "assistant", Content: req.Previous},
			chatMessage{Role: "user", Content: fix.String()},
		)
	}

	zero := 0.0
	body, err := json.Marshal(chatRequest{
		Model:          b.model,
		Messages:       messages,
		Temperature:    &zero,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &models.RateLimitedError{Source: "openai", RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("openai error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("openai: no response choices returned")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// parseRetryAfter reads delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// transient reports whether a backend error is worth retrying without
// changing the request. Client errors other than 429 are not.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
