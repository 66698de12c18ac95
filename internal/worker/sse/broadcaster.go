// Package sse streams pipeline run events to HTTP clients as Server-Sent Events.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds a write to one client so a stale connection cannot
// block a broadcast.
const WriteTimeout = 2 * time.Second

// Client is a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	once    sync.Once
	writeMu sync.Mutex
}

func (c *Client) close() {
	c.once.Do(func() { close(c.Done) })
}

// Broadcaster fans events out to every connected client.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers a streaming response.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	client, err := b.newClient(w)
	if err != nil {
		return nil, err
	}
	b.register(client)
	return client, nil
}

func (b *Broadcaster) newClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	b.mu.Unlock()

	return &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}, nil
}

func (b *Broadcaster) register(client *Client) {
	b.mu.Lock()
	b.clients[client.ID] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client connected")
}

// RemoveClient unregisters a client. Removing twice is harmless.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	client.close()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// Broadcast sends data as a named event to all connected clients.
func (b *Broadcaster) Broadcast(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal SSE data")
		return
	}
	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
		}
		client := client
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !b.writeToClient(client, message) {
				b.RemoveClient(client)
			}
		}()
	}
	wg.Wait()
}

// writeToClient reports whether the client is still usable.
func (b *Broadcaster) writeToClient(client *Client, message []byte) bool {
	done := make(chan error, 1)
	go func() {
		client.writeMu.Lock()
		defer client.writeMu.Unlock()
		_, err := client.Writer.Write(message)
		if err == nil {
			client.Flusher.Flush()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Debug().Str("clientId", client.ID).Err(err).Msg("Failed to write to SSE client")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("clientId", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, dropping client")
		return false
	case <-client.Done:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE streams events until the request context ends.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.newClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Greet before registering so broadcasts never precede the greeting.
	fmt.Fprintf(w, "event: connected\ndata: {\"clientId\":%q}\n\n", client.ID)
	client.Flusher.Flush()

	b.register(client)
	defer b.RemoveClient(client)

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
