package api

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"board-sync/broadcast"
	"board-sync/domain"
	"board-sync/processor"
	"board-sync/storage"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	})
	return tp, exporter
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestOperationMetricsLogsAndEndsSpan(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, exporter := setupTestTracer(t)

	metrics, _ := newOperationMetrics(context.Background(), logger, transportWebSocket)
	metrics.start = metrics.start.Add(-20 * time.Millisecond)
	metrics.SetEnvelope(domain.EventCreate, "r1")
	metrics.ObserveApply(3 * time.Millisecond)
	metrics.Log(domain.NewAck("r1", domain.EventCreate, true, nil))

	entry := hook.LastEntry()
	if entry == nil || entry.Message != operationMetricsMsg {
		t.Fatalf("expected %s entry, got %+v", operationMetricsMsg, entry)
	}
	if entry.Level != log.InfoLevel {
		t.Fatalf("unexpected level %v", entry.Level)
	}
	if entry.Data["event"] != domain.EventCreate || entry.Data["transport"] != transportWebSocket || entry.Data["ok"] != true {
		t.Fatalf("unexpected fields %+v", entry.Data)
	}
	if total, ok := entry.Data["total_ms"].(float64); !ok || total < 20 {
		t.Fatalf("unexpected total_ms %#v", entry.Data["total_ms"])
	}
	if entry.Data["apply_ms"] != 3.0 {
		t.Fatalf("unexpected apply_ms %#v", entry.Data["apply_ms"])
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id, got %#v", entry.Data["trace_id"])
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != operationSpanName || span.Status.Code != codes.Ok {
		t.Fatalf("unexpected span %s status %v", span.Name, span.Status.Code)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["event"] != domain.EventCreate || attrs["request_id"] != "r1" || attrs["transport"] != transportWebSocket {
		t.Fatalf("unexpected span attributes %#v", attrs)
	}
}

func TestOperationMetricsErrorLevels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, exporter := setupTestTracer(t)

	metrics, _ := newOperationMetrics(context.Background(), logger, transportHTTP)
	metrics.SetEnvelope(domain.EventUpdate, "")
	metrics.Log(domain.NewAck("", domain.EventUpdate, false, domain.TaskNotFound("x", domain.ColumnTodo)))
	if entry := hook.LastEntry(); entry.Level != log.WarnLevel || entry.Data["error_kind"] != string(domain.KindTaskNotFound) {
		t.Fatalf("unexpected entry %v %+v", entry.Level, entry.Data)
	}

	metrics, _ = newOperationMetrics(context.Background(), logger, transportHTTP)
	metrics.SetEnvelope(domain.EventCreate, "")
	metrics.Log(domain.NewAck("", domain.EventCreate, false, errors.New("boom")))
	if entry := hook.LastEntry(); entry.Level != log.ErrorLevel || entry.Data["error_kind"] != string(domain.KindInternal) {
		t.Fatalf("unexpected entry %v %+v", entry.Level, entry.Data)
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Status.Code != codes.Error || s.Status.Description == "" {
			t.Fatalf("expected error status, got %+v", s.Status)
		}
	}
}

func TestDispatchRecordsSpanPerOperation(t *testing.T) {
	_, exporter := setupTestTracer(t)
	st := storage.New()
	hub := broadcast.New(processor.New(st), st, quietLogger(), broadcast.Options{})
	disp := &dispatcher{hub: hub, deduper: storage.NewMemoryDeduper(time.Hour), logger: quietLogger()}

	ack := disp.dispatchRaw(context.Background(), []byte(`{"event":"task:create","requestId":"a","data":{"column":"todo","title":"A","id":""}}`), "o", transportWebSocket)
	if !ack.Applied {
		t.Fatalf("expected applied ack, got %+v", ack)
	}
	ack = disp.dispatchRaw(context.Background(), []byte(`{"event":`), "o", transportWebSocket)
	if ack.OK || ack.Error.Kind != domain.KindInvalidPayload {
		t.Fatalf("expected InvalidPayload ack, got %+v", ack)
	}
	if n := len(exporter.GetSpans()); n != 2 {
		t.Fatalf("expected 2 spans, got %d", n)
	}
}
