package plugin

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/otrace/internal/core"
)

// ReporterFactory creates a fresh, uninitialised Reporter.
type ReporterFactory func() Reporter

type factoryRegistry[F any] struct {
	mu        sync.RWMutex
	kind      string
	factories map[string]F
}

func newFactoryRegistry[F any](kind string) *factoryRegistry[F] {
	return &factoryRegistry[F]{kind: kind, factories: make(map[string]F)}
}

// register panics on programmer errors; it is called from init functions.
func (r *factoryRegistry[F]) register(name string, f F, isNil bool) {
	if name == "" {
		panic(fmt.Sprintf("plugin: empty %s name", r.kind))
	}
	if isNil {
		panic(fmt.Sprintf("plugin: nil factory for %s %q", r.kind, name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("plugin: %s %q registered twice", r.kind, name))
	}
	r.factories[name] = f
}

func (r *factoryRegistry[F]) get(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

func (r *factoryRegistry[F]) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset removes every registration. Tests only.
func (r *factoryRegistry[F]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]F)
}

var reporterReg = newFactoryRegistry[ReporterFactory]("reporter")

// RegisterReporter registers a reporter factory under name.
// It panics if name is empty, the factory is nil, or name is already taken.
func RegisterReporter(name string, f ReporterFactory) {
	reporterReg.register(name, f, f == nil)
}

// GetReporterFactory returns the factory registered under name.
func GetReporterFactory(name string) (ReporterFactory, error) {
	f, ok := reporterReg.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrReporterNotFound, name)
	}
	return f, nil
}

// ListReporters returns registered reporter names in sorted order.
func ListReporters() []string {
	return reporterReg.list()
}
