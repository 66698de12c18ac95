package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbeddingClient(t *testing.T, url string, retries int) *EmbeddingClient {
	t.Helper()
	c, err := NewEmbeddingClient(Config{BaseURL: url, APIKey: "test-key", MaxRetries: retries})
	require.NoError(t, err)
	c.retryBase = time.Millisecond
	return c
}

func TestEmbeddingClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, "hello", req.Input)

		_, _ = io.WriteString(w, `{"data":[{"embedding":[0.25,-0.5,1]}]}`)
	}))
	defer srv.Close()

	c := newTestEmbeddingClient(t, srv.URL, 0)
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, []float32(vec))
	assert.Equal(t, "text-embedding-3-small", c.ModelVersion())
}

func TestEmbeddingClient_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[1]}]}`)
	}))
	defer srv.Close()

	c := newTestEmbeddingClient(t, srv.URL, 3)
	vec, err := c.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbeddingClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestEmbeddingClient(t, srv.URL, 2)
	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbeddingClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"bad input"}`)
	}))
	defer srv.Close()

	c := newTestEmbeddingClient(t, srv.URL, 5)
	_, err := c.Embed(context.Background(), "x")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.IsRetryable())
	assert.Contains(t, apiErr.Body, "bad input")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbeddingClient_EmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	_, err := newTestEmbeddingClient(t, srv.URL, 0).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestEmbeddingClient_ContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestEmbeddingClient(t, srv.URL, 5).Embed(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewEmbeddingClient(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewChatClient(ChatConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, (&APIError{StatusCode: tt.status}).IsRetryable())
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, time.Minute, parseRetryAfter("3600"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestChatClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])
		assert.EqualValues(t, 600, req["max_completion_tokens"])
		assert.NotContains(t, req, "temperature")

		msgs := req["messages"].([]any)
		if !assert.Len(t, msgs, 1) {
			return
		}
		msg := msgs[0].(map[string]any)
		assert.Equal(t, "user", msg["role"])
		assert.Equal(t, "group these", msg["content"])

		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"{\"clusters\":[]}"}}]}`)
	}))
	defer srv.Close()

	c, err := NewChatClient(ChatConfig{Config: Config{BaseURL: srv.URL + "/", APIKey: "test-key"}})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "group these")
	require.NoError(t, err)
	assert.Equal(t, `{"clusters":[]}`, out)
	assert.Equal(t, "gpt-4o-mini", c.Model())
}

func TestChatClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c, err := NewChatClient(ChatConfig{Config: Config{BaseURL: srv.URL, APIKey: "k"}})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoChoices)
}
