package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"taskengine/pkg/domain"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "taskengine_service_metrics_") {
		t.Fatalf("unexpected generated name %q", rec.Name())
	}
	ctx := context.Background()
	rec.Observe(ctx, "create_task", true, 2*time.Millisecond)
	rec.Observe(ctx, "create_task", false, 3*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	if snap.DurationsMS["create_task"] != 5 {
		t.Fatalf("expected 5ms total, got %v", snap.DurationsMS)
	}
	if snap.Results["create_task"]["success"] != 1 || snap.Results["create_task"]["error"] != 1 {
		t.Fatalf("unexpected results %v", snap.Results)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("empty operation must be ignored: %v", snap.Results)
	}

	published := expvar.Get(rec.Name())
	if published == nil || !strings.Contains(published.String(), "results_total") {
		t.Fatalf("expected expvar publication, got %v", published)
	}
}

func TestPrometheusMetricsRecorderThroughService(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc := NewInMemoryService(WithMetricsRecorder(rec))
	ctx := context.Background()
	if _, err := svc.CreateTask(ctx, domain.TaskInput{Title: "Counted"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.DeleteTask(ctx, 99); err == nil {
		t.Fatalf("expected delete failure")
	}

	if got := testutil.ToFloat64(rec.total.WithLabelValues(opCreate, "success")); got != 1 {
		t.Fatalf("expected 1 successful create, got %v", got)
	}
	if got := testutil.ToFloat64(rec.total.WithLabelValues(opDelete, "error")); got != 1 {
		t.Fatalf("expected 1 failed delete, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 2 {
		t.Fatalf("expected a histogram per operation, got %d", n)
	}

	expected := `
# HELP taskengine_operations_total Task service operations by outcome.
# TYPE taskengine_operations_total counter
taskengine_operations_total{operation="create_task",status="success"} 1
taskengine_operations_total{operation="delete_task",status="error"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "taskengine_operations_total"); err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestPrometheusMetricsRecorderReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("second registration should reuse collectors: %v", err)
	}
	second.Observe(context.Background(), "report", true, time.Millisecond)
	if got := testutil.ToFloat64(first.total.WithLabelValues("report", "success")); got != 1 {
		t.Fatalf("expected shared counter, got %v", got)
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "patch_task")
	span.End(errors.New("boom"))
	_, span = tracer.Start(context.Background(), "get_task")
	span.End(nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var entry JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Operation != "patch_task" || entry.Status != "error" || entry.Error != "boom" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if got := tracer.Entries(); len(got) != 2 || got[1].Status != "success" {
		t.Fatalf("unexpected retained entries %+v", got)
	}
}
