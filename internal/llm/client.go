// Package llm provides clients for OpenAI-compatible embedding and chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 5
	defaultRetryBase  = 200 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
	maxRetryAfter     = time.Minute
	maxErrorBody      = 1024
)

var (
	// ErrMissingAPIKey is returned when a client is built without credentials.
	ErrMissingAPIKey = errors.New("missing API key")
	// ErrEmptyEmbedding is returned when the service answers without a vector.
	ErrEmptyEmbedding = errors.New("empty embedding returned")
	// ErrNoChoices is returned when a chat completion has no choices.
	ErrNoChoices = errors.New("chat completion returned no choices")
)

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error %d", e.StatusCode)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the request may succeed when repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Config configures an API client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// client is the shared JSON-over-HTTP transport with bounded retries.
type client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	retryBase  time.Duration
}

func newClient(cfg Config) (*client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	return &client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
		retryBase:  defaultRetryBase,
	}, nil
}

// post sends in as JSON to path and decodes the response into out, retrying
// throttled, failed-upstream and transport errors with exponential backoff.
func (c *client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err := c.do(ctx, path, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= c.maxRetries || !retryable(err) {
			return err
		}

		delay := c.retryDelay(attempt)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.retryAfter > 0 {
			delay = apiErr.retryAfter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *client) do(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *client) retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := c.retryBase << attempt
	if d > maxRetryDelay || d <= 0 {
		d = maxRetryDelay
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}
