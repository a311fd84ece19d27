package config

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// ErrBinaryNotFound is returned when the external GraphRAG executable is
// neither configured nor on PATH. Callers surface this as a setup hint,
// not a crash.
var ErrBinaryNotFound = errors.New("graphrag executable not found; install it or set graphrag.binary")

// Resolver locates the external executable lazily and caches the answer.
// An explicitly configured path wins over the PATH lookup. The lookup
// function is injectable so tests can fake the executable.
type Resolver struct {
	configured string
	lookPath   func(file string) (string, error)

	once sync.Once
	path string
	err  error
}

// NewResolver creates a Resolver honoring the configured binary path.
func NewResolver(configured string) *Resolver {
	return &Resolver{configured: configured, lookPath: exec.LookPath}
}

// Path returns the resolved executable path. The first call performs the
// resolution; later calls return the cached result.
func (r *Resolver) Path() (string, error) {
	r.once.Do(func() {
		if r.configured != "" {
			r.path = r.configured
			return
		}
		p, err := r.lookPath("graphrag")
		if err != nil {
			r.err = fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
			return
		}
		r.path = p
	})
	return r.path, r.err
}
