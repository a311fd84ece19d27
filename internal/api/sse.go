package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/graphdeck/graphdeck/internal/indexer"
)

// sseClient is one connected event-stream consumer. Events are delivered
// through a buffered channel so a stalled reader never blocks the indexer.
type sseClient struct {
	id     string
	events chan []byte
	done   chan struct{}
}

// Broadcaster fans indexing events out to connected SSE clients. It
// implements indexer.Publisher.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[string]*sseClient
	nextID  int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*sseClient)}
}

func (b *Broadcaster) addClient() *sseClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &sseClient{
		id:     fmt.Sprintf("client-%d", b.nextID),
		events: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	b.clients[c.id] = c
	slog.Debug("sse client connected", "client", c.id, "total", len(b.clients))
	return c
}

func (b *Broadcaster) removeClient(c *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c.id]; !ok {
		return
	}
	delete(b.clients, c.id)
	close(c.done)
	slog.Debug("sse client disconnected", "client", c.id, "total", len(b.clients))
}

// Publish broadcasts one event to every connected client. Clients whose
// buffer is full miss the event rather than backpressure the run.
func (b *Broadcaster) Publish(e indexer.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("failed to marshal sse event", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		select {
		case c.events <- data:
		default:
			slog.Debug("sse client buffer full, dropping event", "client", c.id)
		}
	}
}

// ClientCount reports connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// ServeHTTP streams events to one client until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.addClient()
	defer b.removeClient(c)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"client\":%q}\n\n", c.id)
	flusher.Flush()

	for {
		select {
		case data := <-c.events:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
