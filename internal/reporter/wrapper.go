// Package reporter builds configured reporter plugins and drives their delivery.
package reporter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/metrics"
	"firestige.xyz/otrace/pkg/plugin"
)

const (
	defaultWrapperBatchSize    = 100
	defaultWrapperBatchTimeout = 50 * time.Millisecond
	defaultWrapperChanCap      = 10000
)

// Wrapper wraps a Reporter with batching and optional fallback.
// It sits between the session pipelines and the actual Reporter plugin:
//
//	Pipeline → Wrapper.Report() → batchLoop → Reporter.ReportBatch()/Report()
//	                                        └→ fallback Reporter (on primary failure)
//
// Wrapper itself satisfies plugin.Reporter so pipelines treat it like any reporter.
type Wrapper struct {
	primary  plugin.Reporter
	fallback plugin.Reporter // nil if no fallback configured

	batchSize    int
	batchTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool

	batchCh chan *core.OutputRecord
	flushCh chan chan struct{}
	doneCh  chan struct{}
}

// WrapperConfig contains configuration for creating a Wrapper.
type WrapperConfig struct {
	Primary      plugin.Reporter
	Fallback     plugin.Reporter // nil if no fallback
	BatchSize    int
	BatchTimeout time.Duration
}

var _ plugin.Reporter = (*Wrapper)(nil)

// NewWrapper creates a new wrapper around a Reporter.
func NewWrapper(cfg WrapperConfig) *Wrapper {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultWrapperBatchSize
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultWrapperBatchTimeout
	}

	return &Wrapper{
		primary:      cfg.Primary,
		fallback:     cfg.Fallback,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		batchCh:      make(chan *core.OutputRecord, defaultWrapperChanCap),
		flushCh:      make(chan chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Name returns the primary reporter's name.
func (w *Wrapper) Name() string { return w.primary.Name() }

// Init initializes the primary reporter.
func (w *Wrapper) Init(cfg map[string]any) error { return w.primary.Init(cfg) }

// Start starts the primary reporter, then the batchLoop goroutine.
func (w *Wrapper) Start(ctx context.Context) error {
	if err := w.primary.Start(ctx); err != nil {
		return err
	}
	w.startLoop()
	return nil
}

// Stop drains pending records and stops the primary reporter.
func (w *Wrapper) Stop(ctx context.Context) error {
	w.Close()
	return w.primary.Stop(ctx)
}

func (w *Wrapper) startLoop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	// The loop outlives request contexts; it ends when Close closes batchCh.
	go w.batchLoop(context.Background())
}

// Report enqueues a record for batched delivery.
// It blocks while the buffer is full and fails once the wrapper is closed.
func (w *Wrapper) Report(ctx context.Context, rec *core.OutputRecord) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed || !w.started {
		return core.ErrServerStopped
	}
	select {
	case w.batchCh <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush delivers every record queued so far, then flushes the primary reporter.
func (w *Wrapper) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.RLock()
	running := w.started && !w.closed
	w.mu.RUnlock()
	if running {
		done := make(chan struct{})
		select {
		case w.flushCh <- done:
		case <-w.doneCh:
			close(done)
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.primary.Flush(ctx)
}

// Close closes the batch channel and waits for all pending records to flush.
// The primary reporter is left running.
func (w *Wrapper) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	started := w.started
	close(w.batchCh)
	w.mu.Unlock()

	if started {
		<-w.doneCh
	}
}

// batchLoop collects records into batches and flushes on size or timeout.
func (w *Wrapper) batchLoop(ctx context.Context) {
	defer close(w.doneCh)

	batch := make([]*core.OutputRecord, 0, w.batchSize)
	ticker := time.NewTicker(w.batchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.sendBatch(ctx, batch); err != nil {
			slog.Warn("primary reporter batch failed",
				"reporter", w.primary.Name(),
				"batch_size", len(batch),
				"error", err)
			// Fallback: send each record to fallback reporter
			if w.fallback != nil {
				for _, rec := range batch {
					if fbErr := w.fallback.Report(ctx, rec); fbErr != nil {
						metrics.ReporterErrorsTotal.WithLabelValues(w.fallback.Name()).Inc()
						slog.Warn("fallback reporter also failed",
							"reporter", w.fallback.Name(),
							"error", fbErr)
						continue
					}
					metrics.ReporterFallbackTotal.WithLabelValues(w.primary.Name()).Inc()
				}
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-w.batchCh:
			if !ok {
				// Channel closed, flush remaining and exit
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				flush()
			}
		case done := <-w.flushCh:
			// Drain what is already buffered so Flush covers every earlier Report.
			for drained := false; !drained; {
				select {
				case rec, ok := <-w.batchCh:
					if !ok {
						drained = true
						break
					}
					batch = append(batch, rec)
					if len(batch) >= w.batchSize {
						flush()
					}
				default:
					drained = true
				}
			}
			flush()
			close(done)
		case <-ticker.C:
			flush()
		}
	}
}

// sendBatch sends a batch of records using BatchReporter if available,
// otherwise falls back to calling Report() one-by-one.
func (w *Wrapper) sendBatch(ctx context.Context, batch []*core.OutputRecord) error {
	reporterName := w.primary.Name()

	metrics.ReporterBatchSize.WithLabelValues(reporterName).Observe(float64(len(batch)))

	// Prefer BatchReporter interface for high-throughput reporters (e.g., Kafka)
	if br, ok := w.primary.(plugin.BatchReporter); ok {
		if err := br.ReportBatch(ctx, batch); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(reporterName).Inc()
			return err
		}
		return nil
	}

	// Sequential Report() calls
	var lastErr error
	for _, rec := range batch {
		if err := w.primary.Report(ctx, rec); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(reporterName).Inc()
			lastErr = err
		}
	}
	return lastErr
}
