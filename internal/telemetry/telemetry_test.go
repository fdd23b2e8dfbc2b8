package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pysugar/assistant/internal/config"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Telemetry{}, "test")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	shutdown()
}

func TestInit_WritesTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.log")
	shutdown, err := Init(context.Background(), config.Telemetry{Enabled: true, TraceFile: path}, "test")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "test.span")
	span.End()
	Count(context.Background(), "assistant.test.count", 1)
	shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected exported span in trace file")
	}
}

func TestMetricsPath(t *testing.T) {
	if got := metricsPath("logs/traces.log"); got != "logs/traces_metrics.log" {
		t.Fatalf("unexpected metrics path %q", got)
	}
}
