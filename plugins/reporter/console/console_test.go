package console

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"firestige.xyz/otrace/internal/core"
)

func TestConsoleReporter_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
		wantFmt string
	}{
		{
			name:    "nil config defaults to text",
			config:  nil,
			wantErr: false,
			wantFmt: "text",
		},
		{
			name:    "empty config defaults to text",
			config:  map[string]any{},
			wantErr: false,
			wantFmt: "text",
		},
		{
			name:    "json format",
			config:  map[string]any{"format": "json"},
			wantErr: false,
			wantFmt: "json",
		},
		{
			name:    "stderr stream",
			config:  map[string]any{"format": "text", "stream": "stderr"},
			wantErr: false,
			wantFmt: "text",
		},
		{
			name:    "invalid format",
			config:  map[string]any{"format": "xml"},
			wantErr: true,
			wantFmt: "text",
		},
		{
			name:    "invalid stream",
			config:  map[string]any{"stream": "tty"},
			wantErr: true,
			wantFmt: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewConsoleReporter().(*ConsoleReporter)
			err := r.Init(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && r.format != tt.wantFmt {
				t.Errorf("Init() format = %v, want %v", r.format, tt.wantFmt)
			}
		})
	}
}

func testRecord() *core.OutputRecord {
	return &core.OutputRecord{
		SessionID: "sess-1",
		Sequence:  12,
		Timestamp: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
		Labels:    core.Labels{core.LabelSymbol: "Foo"},
		Kind:      core.KindSpanStartDataRecord,
		Payload: core.SpanStartAdditionalData{
			ThreadID:  1,
			Time:      100,
			LabelID:   3,
			ExtraData: []byte{1, 2, 3},
		},
	}
}

func TestConsoleReporter_ReportText(t *testing.T) {
	r := NewConsoleReporter().(*ConsoleReporter)
	var buf bytes.Buffer
	r.out = &buf

	if err := r.Report(context.Background(), testRecord()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	line := buf.String()
	for _, want := range []string{"[15:04:05.000]", "sess-1", "#12", "span_start_data", "label_id=3", "extra_data=3B", "labels=symbol.name=Foo"} {
		if !strings.Contains(line, want) {
			t.Errorf("output %q missing %q", line, want)
		}
	}
	if r.reportedCount.Load() != 1 {
		t.Errorf("reportedCount = %d, want 1", r.reportedCount.Load())
	}
}

func TestConsoleReporter_ReportJSON(t *testing.T) {
	r := NewConsoleReporter().(*ConsoleReporter)
	if err := r.Init(map[string]any{"format": "json"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	var buf bytes.Buffer
	r.out = &buf

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Report(ctx, testRecord()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if doc["kind"] != "span_start_data" {
		t.Errorf("kind = %v, want span_start_data", doc["kind"])
	}

	if err := r.Flush(ctx); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestConsoleReporter_NilRecord(t *testing.T) {
	r := NewConsoleReporter().(*ConsoleReporter)
	if err := r.Report(context.Background(), nil); err == nil {
		t.Error("Report(nil) should fail")
	}
}
