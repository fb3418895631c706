// Package pipeline implements pipeline construction.
package pipeline

import (
	"context"
	"time"

	"firestige.xyz/otrace/pkg/plugin"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder that reports every event.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			EmitEvents: true,
		},
	}
}

// WithSessionID sets the session ID.
func (b *Builder) WithSessionID(id string) *Builder {
	b.config.SessionID = id
	return b
}

// WithRemote sets the producer address.
func (b *Builder) WithRemote(remote string) *Builder {
	b.config.Remote = remote
	return b
}

// WithReporters sets the reporter chain.
func (b *Builder) WithReporters(reporters ...plugin.Reporter) *Builder {
	b.config.Reporters = reporters
	return b
}

// WithCorrelation enables span correlation with the given per-thread depth limit.
func (b *Builder) WithCorrelation(enabled bool, maxDepth int) *Builder {
	b.config.Correlate = enabled
	b.config.MaxDepth = maxDepth
	return b
}

// WithEvents selects whether individual events are reported.
func (b *Builder) WithEvents(enabled bool) *Builder {
	b.config.EmitEvents = enabled
	return b
}

// WithClock overrides the receive-time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.config.Now = now
	return b
}

// Build creates the pipeline.
func (b *Builder) Build(ctx context.Context) *Pipeline {
	return New(ctx, b.config)
}
