// Package pipeline turns one decoded trace session into output records for reporters.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/correlator"
	"firestige.xyz/otrace/internal/metrics"
	"firestige.xyz/otrace/pkg/plugin"
)

// Pipeline is the Sink of a single session. It correlates spans, wraps every decoded
// value in a core.OutputRecord and fans records out to the reporters.
//
// Sink methods run on the decoding goroutine. Stats, Handshake and Catalog may be
// called concurrently from other goroutines.
type Pipeline struct {
	sessionID  string
	remote     string
	reporters  []plugin.Reporter
	emitEvents bool
	now        func() time.Time
	corr       *correlator.Correlator // nil when correlation is disabled
	metrics    *Metrics
	ctx        context.Context
	logger     *slog.Logger

	seq     uint64
	clock   core.Clock
	symbols []string // label_id -> symbol name, in catalog order

	mu        sync.RWMutex
	handshake *core.SessionHandshake
	catalog   core.Catalog
}

// Config contains pipeline configuration.
type Config struct {
	SessionID  string
	Remote     string
	Reporters  []plugin.Reporter
	Correlate  bool // Pair span starts and ends into span records
	MaxDepth   int  // Open-span limit per thread (0 = correlator default)
	EmitEvents bool // Report every decoded event, not only completed spans
	Now        func() time.Time
}

// New creates a pipeline. Reports are issued with ctx.
func New(ctx context.Context, cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Pipeline{
		sessionID:  cfg.SessionID,
		remote:     cfg.Remote,
		reporters:  cfg.Reporters,
		emitEvents: cfg.EmitEvents,
		now:        cfg.Now,
		metrics:    NewMetrics(cfg.SessionID),
		ctx:        ctx,
		logger:     slog.With("session_id", cfg.SessionID, "remote", cfg.Remote),
	}
	if cfg.Correlate {
		p.corr = correlator.New(cfg.MaxDepth)
	}
	return p
}

var _ plugin.Sink = (*Pipeline)(nil)

// OnHandshake implements plugin.Sink.
func (p *Pipeline) OnHandshake(h core.SessionHandshake) {
	p.clock = core.NewClock(h)
	p.mu.Lock()
	p.handshake = &h
	p.mu.Unlock()

	p.logger.Info("trace session started",
		"tsc_frequency", h.TSCFrequency,
		"anchor", h.Anchor().UTC().Format(time.RFC3339Nano),
	)
	p.emit(core.KindHandshakeRecord, p.clock.WallTime(h.AnchorTimestamp), nil, h)
}

// OnModule implements plugin.Sink.
func (p *Pipeline) OnModule(m core.ModuleDescriptor) {
	p.mu.Lock()
	p.catalog.Modules = append(p.catalog.Modules, m)
	p.mu.Unlock()
	p.emit(core.KindModuleRecord, p.now(), nil, m)
}

// OnLibrary implements plugin.Sink.
func (p *Pipeline) OnLibrary(l core.LibraryDescriptor) {
	p.mu.Lock()
	p.catalog.Libraries = append(p.catalog.Libraries, l)
	p.mu.Unlock()
	p.emit(core.KindLibraryRecord, p.now(), nil, l)
}

// OnSymbol implements plugin.Sink.
func (p *Pipeline) OnSymbol(s core.SymbolDescriptor) {
	p.symbols = append(p.symbols, s.Name)
	p.mu.Lock()
	p.catalog.Symbols = append(p.catalog.Symbols, s)
	p.mu.Unlock()
	p.emit(core.KindSymbolRecord, p.now(), nil, s)
}

// OnEvent implements plugin.Sink.
func (p *Pipeline) OnEvent(ev core.Event) {
	p.metrics.Events.Add(1)
	metrics.EventsTotal.WithLabelValues(ev.Tag().String()).Inc()

	if cu, ok := ev.(core.CountersUpdate); ok && cu.DroppedPacketsDelta > 0 {
		p.metrics.DroppedPackets.Add(cu.DroppedPacketsDelta)
		metrics.DroppedPacketsTotal.Add(float64(cu.DroppedPacketsDelta))
		p.logger.Warn("producer dropped packets", "thread_id", cu.ThreadID, "dropped", cu.DroppedPacketsDelta)
	}

	if p.emitEvents {
		p.emit(core.KindForEvent(ev), p.clock.WallTime(core.EventTime(ev)), p.labelsFor(ev), ev)
	}

	if p.corr == nil {
		return
	}
	span, ok, err := p.corr.Observe(ev)
	switch {
	case errors.Is(err, core.ErrUnmatchedSpanEnd):
		p.anomaly(metrics.AnomalyUnmatchedEnd, err)
	case errors.Is(err, core.ErrSpanDepthExceeded):
		p.anomaly(metrics.AnomalyOverflow, err)
	case ok:
		p.completeSpan(span)
	}
}

func (p *Pipeline) completeSpan(span core.CompletedSpan) {
	d := p.clock.Duration(span.Ticks())
	p.metrics.Spans.Add(1)
	metrics.SpansCompletedTotal.Inc()
	metrics.SpanDurationSeconds.Observe(d.Seconds())

	var labels core.Labels
	if name, ok := p.symbolName(span.LabelID); ok {
		labels = core.Labels{core.LabelSymbol: name}
	}
	p.emit(core.KindSpanRecord, p.clock.WallTime(span.Start), labels, core.SpanRecord{CompletedSpan: span, Duration: d})
}

func (p *Pipeline) anomaly(kind string, err error) {
	p.metrics.Anomalies.Add(1)
	metrics.SpanAnomaliesTotal.WithLabelValues(kind).Inc()
	p.logger.Debug("span correlation anomaly", "type", kind, "error", err)
}

// OnConnectionClosed implements plugin.Sink.
func (p *Pipeline) OnConnectionClosed() {
	open, byThread := p.openSpans()
	p.logger.Info("trace session closed", "events", p.metrics.Events.Load(), "open_spans", open)
	p.emit(core.KindClosedRecord, p.now(), nil, core.ClosedRecord{
		Events:       p.metrics.Events.Load(),
		OpenSpans:    open,
		OpenByThread: byThread,
	})
	p.Flush()
}

// OnError implements plugin.Sink.
func (p *Pipeline) OnError(err error) {
	kind := core.KindOf(err)
	p.metrics.DecodeErrors.Add(1)
	metrics.DecodeErrorsTotal.WithLabelValues(kind.String()).Inc()

	var offset int64
	var de *core.DecodeError
	if errors.As(err, &de) {
		offset = de.Offset
	}
	open, _ := p.openSpans()
	p.logger.Error("trace session failed", "kind", kind.String(), "error", err, "open_spans", open)
	p.emit(core.KindErrorRecord, p.now(), core.Labels{core.LabelErrorKind: kind.String()},
		core.ErrorRecord{Kind: kind, Message: err.Error(), Offset: offset})
	p.Flush()
}

// openSpans counts unclosed spans at the end of a session, in total and per thread.
func (p *Pipeline) openSpans() (int, map[uint64]int) {
	if p.corr == nil {
		return 0, nil
	}
	byThread := p.corr.Open()
	if len(byThread) == 0 {
		return 0, nil
	}
	open := 0
	for thread, n := range byThread {
		open += n
		p.logger.Debug("span left open", "thread_id", thread, "open_spans", n)
	}
	p.metrics.Anomalies.Add(uint64(open))
	metrics.SpanAnomaliesTotal.WithLabelValues(metrics.AnomalyUnclosed).Add(float64(open))
	return open, byThread
}

func (p *Pipeline) labelsFor(ev core.Event) core.Labels {
	var label uint64
	switch e := ev.(type) {
	case core.SpanStart:
		label = e.LabelID
	case core.SpanStartAdditionalData:
		label = e.LabelID
	default:
		return nil
	}
	if name, ok := p.symbolName(label); ok {
		return core.Labels{core.LabelSymbol: name}
	}
	return nil
}

// symbolName resolves a label id as an index into the symbol table.
func (p *Pipeline) symbolName(label uint64) (string, bool) {
	if label >= uint64(len(p.symbols)) {
		return "", false
	}
	return p.symbols[label], true
}

func (p *Pipeline) emit(kind core.RecordKind, ts time.Time, labels core.Labels, payload any) {
	if len(p.reporters) == 0 {
		return
	}
	p.seq++
	if labels == nil {
		labels = make(core.Labels, 1)
	}
	if p.remote != "" {
		labels[core.LabelRemote] = p.remote
	}
	rec := &core.OutputRecord{
		SessionID: p.sessionID,
		Remote:    p.remote,
		Sequence:  p.seq,
		Timestamp: ts,
		Labels:    labels,
		Kind:      kind,
		Payload:   payload,
	}

	for _, reporter := range p.reporters {
		if err := reporter.Report(p.ctx, rec); err != nil {
			p.metrics.ReportErrors.Add(1)
			metrics.ReporterErrorsTotal.WithLabelValues(reporter.Name()).Inc()
			p.logger.Error("reporter failed", "reporter", reporter.Name(), "kind", kind, "error", err)
		}
	}
	p.metrics.Reported.Add(1)
}

// Flush flushes every reporter.
func (p *Pipeline) Flush() {
	for _, reporter := range p.reporters {
		if err := reporter.Flush(p.ctx); err != nil {
			slog.Error("reporter flush failed", "reporter", reporter.Name(), "error", err)
		}
	}
}

// Handshake returns the session handshake once it has been decoded.
func (p *Pipeline) Handshake() (core.SessionHandshake, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.handshake == nil {
		return core.SessionHandshake{}, false
	}
	return *p.handshake, true
}

// CatalogSize returns the number of modules, libraries and symbols received.
func (p *Pipeline) CatalogSize() (modules, libraries, symbols int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.catalog.Modules), len(p.catalog.Libraries), len(p.catalog.Symbols)
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Events:         p.metrics.Events.Load(),
		Spans:          p.metrics.Spans.Load(),
		Anomalies:      p.metrics.Anomalies.Load(),
		DroppedPackets: p.metrics.DroppedPackets.Load(),
		DecodeErrors:   p.metrics.DecodeErrors.Load(),
		Reported:       p.metrics.Reported.Load(),
		ReportErrors:   p.metrics.ReportErrors.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Events         uint64 `json:"events" yaml:"events"`
	Spans          uint64 `json:"spans" yaml:"spans"`
	Anomalies      uint64 `json:"anomalies" yaml:"anomalies"`
	DroppedPackets uint64 `json:"dropped_packets" yaml:"dropped_packets"`
	DecodeErrors   uint64 `json:"decode_errors" yaml:"decode_errors"`
	Reported       uint64 `json:"reported" yaml:"reported"`
	ReportErrors   uint64 `json:"report_errors" yaml:"report_errors"`
}
