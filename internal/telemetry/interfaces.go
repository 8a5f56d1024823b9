package telemetry

import (
	"log"
	"sync"
)

// Logger exposes the logging capabilities required by server components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// Metrics exposes the counter surface required by server components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// Registry is a mutex-guarded metrics implementation suitable for the single
// simulation process. Snapshots are copies and safe to hold across ticks.
type Registry struct {
	mu     sync.Mutex
	values map[string]uint64
}

func NewRegistry() *Registry {
	return &Registry{values: make(map[string]uint64)}
}

func (r *Registry) Add(key string, delta uint64) {
	if r == nil || key == "" {
		return
	}
	r.mu.Lock()
	r.values[key] += delta
	r.mu.Unlock()
}

func (r *Registry) Store(key string, value uint64) {
	if r == nil || key == "" {
		return
	}
	r.mu.Lock()
	r.values[key] = value
	r.mu.Unlock()
}

func (r *Registry) Value(key string) uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[key]
}

// Snapshot copies the current counters.
func (r *Registry) Snapshot() map[string]uint64 {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

var _ Metrics = (*Registry)(nil)
