// Package plugin defines plugin interfaces.
package plugin

import (
	"context"

	"firestige.xyz/otrace/internal/core"
)

// Reporter sends output records to external systems.
// Reporters are shared by every connection and must be safe for concurrent use.
type Reporter interface {
	Plugin
	Report(ctx context.Context, rec *core.OutputRecord) error
	Flush(ctx context.Context) error
}

// BatchReporter is an optional interface that Reporter plugins can implement
// to receive records in batches for higher throughput (e.g., Kafka batch writes).
// Reporters that don't implement this interface receive records one-by-one
// via Report().
type BatchReporter interface {
	Reporter
	ReportBatch(ctx context.Context, recs []*core.OutputRecord) error
}
