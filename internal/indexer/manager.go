// Package indexer serializes indexing runs and turns the child process's
// log stream into progress events. The external tool cannot run twice
// concurrently against one project root, so at most one run is active.
package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/graphdeck/graphdeck/internal/graphrag"
)

// ErrAlreadyRunning is returned when a run is requested while one is active.
var ErrAlreadyRunning = errors.New("an indexing run is already in progress")

// Run abstracts the streaming child-process handle.
type Run interface {
	Lines() <-chan string
	Wait() error
}

// Starter launches a new indexing child process.
type Starter func(ctx context.Context) (Run, error)

// Publisher receives progress events as they happen. Typically backed by
// the SSE broadcaster.
type Publisher interface {
	Publish(Event)
}

// Event is one progress update from an indexing run.
type Event struct {
	Type    string `json:"type"` // "progress", "log", "done"
	RunID   string `json:"run_id"`
	Percent int    `json:"percent,omitempty"`
	Label   string `json:"label,omitempty"`
	Line    string `json:"line,omitempty"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	Running bool   `json:"running"`
	RunID   string `json:"run_id,omitempty"`
	Percent int    `json:"percent"`
	Label   string `json:"label,omitempty"`
}

// Manager owns the lifecycle of indexing runs.
type Manager struct {
	start Starter
	pub   Publisher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	runID   string
	percent int
	label   string
	log     strings.Builder
}

// NewManager creates a Manager. pub may be nil when nobody listens for events.
func NewManager(start Starter, pub Publisher) *Manager {
	return &Manager{start: start, pub: pub}
}

// Start launches a new indexing run and returns its id. The run outlives
// the request context: it is cancelled only via Cancel or process exit.
// Returns ErrAlreadyRunning when a run is active, or the launch error
// (wrapping graphrag.ErrNoProcess) when the child could not start.
func (m *Manager) Start() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return "", ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run, err := m.start(runCtx)
	if err != nil {
		cancel()
		return "", err
	}

	id := uuid.New().String()
	m.running = true
	m.cancel = cancel
	m.runID = id
	m.percent = 0
	m.label = "Starting"
	m.log.Reset()

	go m.consume(id, run, cancel)
	return id, nil
}

// Cancel terminates the active run, if any.
func (m *Manager) Cancel() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Status returns the current run state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Running: m.running, RunID: m.runID, Percent: m.percent, Label: m.label}
}

// Log returns the accumulated output of the current or most recent run.
func (m *Manager) Log() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.String()
}

func (m *Manager) consume(id string, run Run, cancel context.CancelFunc) {
	defer cancel()

	for line := range run.Lines() {
		m.mu.Lock()
		m.log.WriteString(line)
		m.log.WriteString("\n")

		advanced := false
		if ms, ok := graphrag.Classify(line); ok && ms.Percent > m.percent {
			// Progress only moves forward; the tool may log earlier
			// stage names while retrying.
			m.percent = ms.Percent
			m.label = ms.Label
			advanced = true
		}
		percent, label := m.percent, m.label
		m.mu.Unlock()

		m.publish(Event{Type: "log", RunID: id, Line: line})
		if advanced {
			m.publish(Event{Type: "progress", RunID: id, Percent: percent, Label: label})
		}
	}

	err := run.Wait()

	m.mu.Lock()
	m.running = false
	m.cancel = nil
	if err == nil {
		m.percent = 100
		m.label = "Complete"
	} else {
		m.label = "Failed"
	}
	m.mu.Unlock()

	done := Event{Type: "done", RunID: id, Success: err == nil}
	if err != nil {
		done.Error = err.Error()
	} else {
		done.Percent = 100
	}
	m.publish(done)
}

func (m *Manager) publish(e Event) {
	if m.pub != nil {
		m.pub.Publish(e)
	}
}
