package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/graphdeck/graphdeck/internal/indexer"
)

// syncRecorder is a flushable ResponseWriter safe to read while the SSE
// handler is still writing.
type syncRecorder struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	header http.Header
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{header: make(http.Header)}
}

func (r *syncRecorder) Header() http.Header { return r.header }
func (r *syncRecorder) WriteHeader(int)     {}
func (r *syncRecorder) Flush()              {}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *syncRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func TestBroadcasterDeliversEvents(t *testing.T) {
	b := NewBroadcaster()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/index/events", nil).WithContext(ctx)
	rec := newSyncRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ServeHTTP(rec, req)
	}()

	// Wait for the client to register before publishing.
	deadline := time.After(2 * time.Second)
	for b.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	b.Publish(indexer.Event{Type: "progress", Percent: 30, Label: "Extracting entities"})
	b.Publish(indexer.Event{Type: "done", Success: true})

	for start := time.Now(); !strings.Contains(rec.String(), `"done"`); {
		if time.Since(start) > 2*time.Second {
			t.Fatalf("events never delivered; body = %q", rec.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	body := rec.String()
	if !strings.Contains(body, `"connected"`) {
		t.Errorf("missing connection handshake in %q", body)
	}
	if !strings.Contains(body, `"percent":30`) {
		t.Errorf("missing progress event in %q", body)
	}
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after disconnect", b.ClientCount())
	}
}

func TestBroadcasterRefusesNonFlusher(t *testing.T) {
	b := NewBroadcaster()

	type plainWriter struct {
		http.ResponseWriter
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/index/events", nil)
	b.ServeHTTP(plainWriter{rr}, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestBroadcasterNoClients(t *testing.T) {
	b := NewBroadcaster()
	// Publishing with nobody connected must not block or panic.
	b.Publish(indexer.Event{Type: "log", Line: "hello"})
}
