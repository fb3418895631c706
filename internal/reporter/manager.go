package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firestige.xyz/otrace/internal/config"
	"firestige.xyz/otrace/pkg/plugin"
)

// Manager owns the reporters built from configuration.
// Every session pipeline shares the same wrapped reporters.
type Manager struct {
	wrappers []*Wrapper
	started  int // Number of wrappers whose Start succeeded
}

// NewManager creates and initializes one reporter per config entry.
// Unknown names and Init failures abort construction.
func NewManager(cfgs []config.ReporterConfig) (*Manager, error) {
	reporters := make([]plugin.Reporter, len(cfgs))
	for i, rc := range cfgs {
		f, err := plugin.GetReporterFactory(rc.Name)
		if err != nil {
			return nil, fmt.Errorf("reporter[%d]: %w", i, err)
		}
		reporters[i] = f()
		if err := reporters[i].Init(rc.Config); err != nil {
			return nil, fmt.Errorf("reporter %q init failed: %w", rc.Name, err)
		}
	}

	reporterByName := make(map[string]plugin.Reporter, len(reporters))
	for i, rep := range reporters {
		if _, exists := reporterByName[cfgs[i].Name]; !exists {
			reporterByName[cfgs[i].Name] = rep
		}
	}

	m := &Manager{}
	for i, rep := range reporters {
		rc := cfgs[i]
		var fallback plugin.Reporter
		if rc.Fallback != "" {
			fb, ok := reporterByName[rc.Fallback]
			if !ok {
				return nil, fmt.Errorf("reporter %q: fallback %q not configured", rc.Name, rc.Fallback)
			}
			fallback = fb
		}
		m.wrappers = append(m.wrappers, NewWrapper(WrapperConfig{
			Primary:      rep,
			Fallback:     fallback,
			BatchSize:    rc.BatchSize,
			BatchTimeout: rc.BatchTimeout,
		}))
	}
	return m, nil
}

// Start starts every reporter in configuration order.
// On failure the reporters already started are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	for i, w := range m.wrappers {
		slog.Debug("starting reporter", "reporter", w.Name())
		if err := w.Start(ctx); err != nil {
			m.started = i
			stopErr := m.Stop(ctx)
			return errors.Join(fmt.Errorf("reporter %q start failed: %w", w.Name(), err), stopErr)
		}
	}
	m.started = len(m.wrappers)
	return nil
}

// Reporters returns the wrapped reporters for session pipelines.
func (m *Manager) Reporters() []plugin.Reporter {
	out := make([]plugin.Reporter, len(m.wrappers))
	for i, w := range m.wrappers {
		out[i] = w
	}
	return out
}

// Names returns the configured reporter names in order.
func (m *Manager) Names() []string {
	names := make([]string, len(m.wrappers))
	for i, w := range m.wrappers {
		names[i] = w.Name()
	}
	return names
}

// Flush flushes every started reporter.
func (m *Manager) Flush(ctx context.Context) error {
	var errs []error
	for _, w := range m.wrappers[:m.started] {
		if err := w.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reporter %q flush: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stop drains every batch loop first, since a fallback may belong to another
// wrapper, then stops the reporters in reverse order.
func (m *Manager) Stop(ctx context.Context) error {
	started := m.wrappers[:m.started]
	for _, w := range started {
		w.Close()
	}

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		w := started[i]
		if err := w.primary.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reporter %q flush: %w", w.Name(), err))
		}
		if err := w.primary.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reporter %q stop: %w", w.Name(), err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}
