package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/starlight/internal/logging"
)

func TestInitTracingStdoutWriter(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitTracing(ctx, TracingConfig{
		Enabled:     true,
		ServiceName: "starlight-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
		System:      SystemResource{Name: "kerbol", Bodies: 5, Lights: 2, Vehicles: 6},
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing error: %v", err)
	}

	_, span := Tracer().Start(ctx, "scheduler.Tick")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	if !strings.Contains(buf.String(), "scheduler.Tick") {
		t.Fatalf("exported spans missing scheduler.Tick:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "starlight.system.name") || !strings.Contains(buf.String(), "kerbol") {
		t.Fatalf("exported spans missing system resource:\n%s", buf.String())
	}
}

func TestResourceAttributes(t *testing.T) {
	epoch := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	attrs := resourceAttributes(TracingConfig{
		ServiceName: "starlight-simulator",
		System:      SystemResource{Name: "system", Epoch: epoch, Bodies: 5, Lights: 2, Vehicles: 6},
	})
	got := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		got[kv.Key] = kv.Value
	}
	if got["service.name"].AsString() != "starlight-simulator" {
		t.Fatalf("service.name = %q", got["service.name"].AsString())
	}
	if got["starlight.system.light_sources"].AsInt64() != 2 {
		t.Fatalf("light_sources = %v, want 2", got["starlight.system.light_sources"])
	}
	if got["starlight.system.epoch"].AsString() != "2021-10-02T00:00:00Z" {
		t.Fatalf("epoch = %q", got["starlight.system.epoch"].AsString())
	}

	if n := len(resourceAttributes(TracingConfig{ServiceName: "x"})); n != 2 {
		t.Fatalf("attributes without a system = %d, want 2", n)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil || shutdown == nil {
		t.Fatalf("InitTracing(disabled) = %p, %v", shutdown, err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}
