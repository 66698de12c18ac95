package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// BroadcasterSuite is a test suite for Broadcaster operations.
type BroadcasterSuite struct {
	suite.Suite
	broadcaster *Broadcaster
}

func (s *BroadcasterSuite) SetupTest() {
	s.broadcaster = NewBroadcaster()
}

func TestBroadcasterSuite(t *testing.T) {
	suite.Run(t, new(BroadcasterSuite))
}

// mockResponseWriter implements http.ResponseWriter and http.Flusher for testing.
type mockResponseWriter struct {
	header   http.Header
	writeErr error
	body     []byte
	mu       sync.Mutex
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{header: make(http.Header)}
}

func (m *mockResponseWriter) Header() http.Header { return m.header }

func (m *mockResponseWriter) Write(data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.body = append(m.body, data...)
	return len(data), nil
}

func (m *mockResponseWriter) WriteHeader(int) {}

func (m *mockResponseWriter) Flush() {}

func (m *mockResponseWriter) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.body)
}

// nonFlusher lacks http.Flusher.
type nonFlusher struct {
	http.ResponseWriter
}

func (s *BroadcasterSuite) TestAddAndRemoveClient() {
	w := newMockResponseWriter()
	client, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)
	s.Equal("client-1", client.ID)
	s.Equal(1, s.broadcaster.ClientCount())

	s.broadcaster.RemoveClient(client)
	s.broadcaster.RemoveClient(client)
	s.Equal(0, s.broadcaster.ClientCount())

	select {
	case <-client.Done:
	default:
		s.Fail("Done channel should be closed")
	}
}

func (s *BroadcasterSuite) TestAddClient_RequiresFlusher() {
	_, err := s.broadcaster.AddClient(nonFlusher{httptest.NewRecorder()})
	s.Error(err)
}

func (s *BroadcasterSuite) TestBroadcast() {
	first, second := newMockResponseWriter(), newMockResponseWriter()
	_, err := s.broadcaster.AddClient(first)
	s.Require().NoError(err)
	_, err = s.broadcaster.AddClient(second)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("run", map[string]any{"kind": "clustering", "saved": 2})

	for _, w := range []*mockResponseWriter{first, second} {
		s.Equal("event: run\ndata: {\"kind\":\"clustering\",\"saved\":2}\n\n", w.String())
	}
}

func (s *BroadcasterSuite) TestBroadcast_NoClients() {
	s.NotPanics(func() {
		s.broadcaster.Broadcast("run", map[string]string{"kind": "ingestion"})
	})
}

func (s *BroadcasterSuite) TestBroadcast_DropsBrokenClients() {
	good, broken := newMockResponseWriter(), newMockResponseWriter()
	broken.writeErr = errors.New("broken pipe")
	_, err := s.broadcaster.AddClient(good)
	s.Require().NoError(err)
	_, err = s.broadcaster.AddClient(broken)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("run", 1)
	s.Equal(1, s.broadcaster.ClientCount())
	s.Contains(good.String(), "data: 1")
}

func (s *BroadcasterSuite) TestBroadcast_UnmarshalableData() {
	w := newMockResponseWriter()
	_, err := s.broadcaster.AddClient(w)
	s.Require().NoError(err)

	s.broadcaster.Broadcast("run", make(chan int))
	s.Empty(w.String())
}

func TestHandleSSE(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		b.HandleSSE(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, time.Millisecond)
	b.Broadcast("run", map[string]string{"kind": "ingestion"})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSSE did not return after cancel")
	}

	assert.Equal(t, "text/event-stream", w.header.Get("Content-Type"))
	body := w.String()
	assert.True(t, strings.HasPrefix(body, "event: connected\ndata: {\"clientId\":\"client-1\"}\n\n"), body)
	assert.Contains(t, body, "event: run\ndata: {\"kind\":\"ingestion\"}\n\n")
	assert.Equal(t, 0, b.ClientCount())
}

func TestConcurrentBroadcast(t *testing.T) {
	b := NewBroadcaster()
	w := newMockResponseWriter()
	_, err := b.AddClient(w)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Broadcast("run", map[string]int{"index": i})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(w.String(), "event: run\n"))
}
