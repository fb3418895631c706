package server

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"firestige.xyz/otrace/internal/core/decoder"
	"firestige.xyz/otrace/internal/pipeline"
	"firestige.xyz/otrace/internal/recorder"
)

// sessionEntry is the server's handle on one live connection.
type sessionEntry struct {
	id        string
	remote    string
	startedAt time.Time
	conn      net.Conn
	session   *decoder.Session
	pipeline  *pipeline.Pipeline
	recording *recorder.Recording // nil when not recording
	cancel    context.CancelFunc

	writeMu sync.Mutex // Serializes back-channel commands
}

// SessionInfo is a snapshot of a live session.
type SessionInfo struct {
	ID        string         `json:"id" yaml:"id"`
	Remote    string         `json:"remote" yaml:"remote"`
	StartedAt time.Time      `json:"started_at" yaml:"started_at"`
	Offset    int64          `json:"offset" yaml:"offset"`
	Handshake bool           `json:"handshake" yaml:"handshake"`
	Modules   int            `json:"modules" yaml:"modules"`
	Libraries int            `json:"libraries" yaml:"libraries"`
	Symbols   int            `json:"symbols" yaml:"symbols"`
	Recording string         `json:"recording,omitempty" yaml:"recording,omitempty"`
	Stats     pipeline.Stats `json:"stats" yaml:"stats"`
}

func (e *sessionEntry) info() SessionInfo {
	modules, libraries, symbols := e.pipeline.CatalogSize()
	_, handshake := e.pipeline.Handshake()
	info := SessionInfo{
		ID:        e.id,
		Remote:    e.remote,
		StartedAt: e.startedAt,
		Offset:    e.session.Offset(),
		Handshake: handshake,
		Modules:   modules,
		Libraries: libraries,
		Symbols:   symbols,
		Stats:     e.pipeline.Stats(),
	}
	if e.recording != nil {
		info.Recording = e.recording.Path()
	}
	return info
}

// Registry tracks live sessions by ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionEntry)}
}

func (r *Registry) add(e *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[e.id] = e
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) get(id string) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of every live session, oldest first.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].startedAt.Equal(entries[j].startedAt) {
			return entries[i].id < entries[j].id
		}
		return entries[i].startedAt.Before(entries[j].startedAt)
	})
	out := make([]SessionInfo, len(entries))
	for i, e := range entries {
		out[i] = e.info()
	}
	return out
}

func (r *Registry) cancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sessions {
		e.cancel()
	}
}
