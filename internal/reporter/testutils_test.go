package reporter

import (
	"context"
	"errors"
	"sync"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/pkg/plugin"
)

// collectReporter records everything it receives.
type collectReporter struct {
	name string

	mu       sync.Mutex
	records  []*core.OutputRecord
	batches  int
	flushes  int
	started  bool
	stopped  bool
	initCfg  map[string]any
	failWith error // Returned by Report when set
}

func (r *collectReporter) Name() string { return r.name }

func (r *collectReporter) Init(cfg map[string]any) error {
	r.initCfg = cfg
	return nil
}

func (r *collectReporter) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *collectReporter) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func (r *collectReporter) Report(_ context.Context, rec *core.OutputRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *collectReporter) Flush(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return nil
}

func (r *collectReporter) snapshot() []*core.OutputRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*core.OutputRecord(nil), r.records...)
}

// batchCollectReporter additionally implements plugin.BatchReporter.
type batchCollectReporter struct {
	collectReporter
}

func (r *batchCollectReporter) ReportBatch(_ context.Context, recs []*core.OutputRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.batches++
	r.records = append(r.records, recs...)
	return nil
}

var (
	_ plugin.Reporter      = (*collectReporter)(nil)
	_ plugin.BatchReporter = (*batchCollectReporter)(nil)
)

var errBoom = errors.New("boom")

// Factories registered for manager tests. Instances are kept so tests can inspect them.
var (
	instancesMu sync.Mutex
	instances   = map[string][]*collectReporter{}
)

func trackedFactory(name string, failWith error) plugin.ReporterFactory {
	return func() plugin.Reporter {
		r := &collectReporter{name: name, failWith: failWith}
		instancesMu.Lock()
		instances[name] = append(instances[name], r)
		instancesMu.Unlock()
		return r
	}
}

func lastInstance(name string) *collectReporter {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	list := instances[name]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type failInitReporter struct{ collectReporter }

func (r *failInitReporter) Init(map[string]any) error { return errBoom }

type failStartReporter struct{ collectReporter }

func (r *failStartReporter) Start(context.Context) error { return errBoom }

func init() {
	plugin.RegisterReporter("test-collect", trackedFactory("test-collect", nil))
	plugin.RegisterReporter("test-backup", trackedFactory("test-backup", nil))
	plugin.RegisterReporter("test-broken", trackedFactory("test-broken", errBoom))
	plugin.RegisterReporter("test-fail-init", func() plugin.Reporter {
		return &failInitReporter{collectReporter{name: "test-fail-init"}}
	})
	plugin.RegisterReporter("test-fail-start", func() plugin.Reporter {
		return &failStartReporter{collectReporter{name: "test-fail-start"}}
	})
}

func makeRecord(seq uint64) *core.OutputRecord {
	return &core.OutputRecord{SessionID: "s1", Sequence: seq, Kind: core.KindSpanStartRecord}
}
