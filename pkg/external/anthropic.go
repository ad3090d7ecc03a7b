package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/clinical-trial-matcher/internal/domain"
)

// Defaults for the Anthropic Messages API.
const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultAnthropicVersion = "2023-06-01"
	DefaultModel            = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens        = 1000
	DefaultTemperature      = 0.2
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// AnthropicClient sends trial descriptions to the Anthropic Messages API and returns
// the model's JSON answer.
type AnthropicClient struct {
	baseURL     string
	apiKey      string
	apiVersion  string
	model       string
	maxTokens   int
	temperature float64
	retryCount  int
	retryBase   time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *logrus.Logger
}

// NewAnthropicClient creates a new Anthropic API client. The API key is taken from
// cfg only.
func NewAnthropicClient(cfg domain.TranslatorConfig, logger *logrus.Logger) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.NewValidationError("translator.api_key", "is required", "")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAnthropicBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAnthropicVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &AnthropicClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		apiVersion:  cfg.APIVersion,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		retryCount:  cfg.RetryCount,
		retryBase:   500 * time.Millisecond,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// Model returns the model name requests are sent to.
func (c *AnthropicClient) Model() string {
	return c.model
}

type messagesRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
	System      string           `json:"system"`
	Messages    []requestMessage `json:"messages"`
}

type requestMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the description and returns the JSON object found in the first
// text block of the answer. Network failures, 429 and 5xx responses are retried.
func (c *AnthropicClient) Complete(ctx context.Context, description string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      translatorSystemPrompt,
		Messages: []requestMessage{{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: description}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	var text string
	backoff := retry.WithMaxRetries(uint64(max(c.retryCount, 0)), retry.NewExponential(c.retryBase))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		out, retryable, sendErr := c.send(ctx, body)
		if sendErr != nil && retryable {
			c.logger.WithError(sendErr).WithField("attempt", attempt).Warn("Rule translator request failed, will retry")
			return retry.RetryableError(sendErr)
		}
		text = out
		return sendErr
	})
	if err != nil {
		var te *domain.TranslatorError
		if errors.As(err, &te) {
			return "", err
		}
		return "", domain.NewTranslatorError(domain.TranslatorTransport, "request failed", err)
	}

	c.logger.WithFields(logrus.Fields{
		"model":    c.model,
		"attempts": attempt,
	}).Debug("Rule translator responded")

	return ExtractJSONObject(text), nil
}

// send performs one request. The bool reports whether a failure is worth retrying.
func (c *AnthropicClient) send(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, domain.NewTranslatorError(domain.TranslatorTransport, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", true, domain.NewTranslatorError(domain.TranslatorTransport, "reading response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API returned status %d", resp.StatusCode)
		var apiErr apiErrorResponse
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = fmt.Sprintf("%s: %s", msg, apiErr.Error.Message)
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, domain.NewTranslatorError(domain.TranslatorTransport, msg, nil)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", false, domain.NewTranslatorError(domain.TranslatorMalformed, "response is not valid JSON", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, false, nil
		}
	}
	return "", false, domain.NewTranslatorError(domain.TranslatorMalformed, "response has no text content", nil)
}

// ExtractJSONObject returns the outermost {...} span of s, dropping any prose or code
// fences around it. s is returned trimmed when it holds no braces.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}
