package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aimai-dev/aimai/internal/conversation"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	defaultModel   = "claude-sonnet-4-20250514"
	defaultTimeout = 30 * time.Second

	anthropicVersion = "2023-06-01"
	maxTokens        = 1024
	maxRetries       = 3

	// minRequestInterval spaces consecutive requests so bursts of turns do
	// not trip the API rate limiter.
	minRequestInterval = 100 * time.Millisecond
)

// systemPrompt mirrors the instruction set the conversation engine was
// built around: be specific, use the clarification exchanges as context,
// answer in the user's language.
const systemPrompt = `You are an interactive AI assistant. Provide helpful, accurate and specific answers. The conversation may contain clarifying questions and their answers; treat them as context for the final request. Reply in the language the user writes in.`

// retryDelay is a package-level variable for testability. Tests replace
// this to avoid real backoff sleeps.
var retryDelay = func(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// AnthropicConfig carries the connection settings for the Messages API.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Anthropic is a Generator backed by the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	baseURL    string
	model      string
	logger     *zap.Logger
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewAnthropic builds the API adapter. Zero-value config fields fall back
// to the package defaults; a nil logger disables logging.
func NewAnthropic(cfg AnthropicConfig, logger *zap.Logger) *Anthropic {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Anthropic{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		logger:  logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Generate sends the prompt as a single user message and returns the
// completion text. Transient failures (connection errors, 429, 5xx) are
// retried with exponential backoff; terminal API responses fail
// immediately. Retry policy lives here and nowhere else.
func (c *Anthropic) Generate(ctx context.Context, prompt string, _ conversation.Snapshot) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("api key not configured: %w", ErrUnavailable)
	}

	// Bound the call even when the caller forgot a deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	c.space()

	payload, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %v: %w", err, ErrUnavailable)
	}

	start := time.Now()
	c.logger.Debug("calling backend",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying backend request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", classify(ctx.Err())
			case <-time.After(retryDelay(attempt)):
			}
		}

		text, retryable, err := c.attempt(ctx, payload)
		if err == nil {
			c.logger.Debug("backend completed",
				zap.Duration("elapsed", time.Since(start)),
				zap.Int("response_len", len(text)))
			return text, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", classify(err)
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("max retries exceeded: %v: %w", lastErr, ErrUnavailable)
}

// attempt performs one request. The second return reports whether the
// failure is worth retrying.
func (c *Anthropic) attempt(ctx context.Context, payload []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("building request: %v: %w", err, ErrUnavailable)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", true, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("api request failed with status %d: %s: %w", resp.StatusCode, body, ErrUnavailable)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("decoding response: %v: %w", err, ErrUnavailable)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("api error: %s: %w", parsed.Error.Message, ErrUnavailable)
	}

	var out strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", false, fmt.Errorf("no completion returned: %w", ErrUnavailable)
	}
	return text, false, nil
}

// space enforces the minimum interval between consecutive requests.
func (c *Anthropic) space() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

// classify maps transport-level failures onto the package sentinels.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("backend request timed out: %w", ErrTimeout)
	}
	return fmt.Errorf("backend request failed: %v: %w", err, ErrUnavailable)
}

// ─── Wire types ─────────────────────────────────────────────────────────────

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
