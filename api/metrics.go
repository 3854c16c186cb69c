package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"board-sync/domain"
)

const (
	tracerName          = "board-sync/api"
	operationSpanName   = "board.operation"
	operationMetricsMsg = "board.operation.metrics"
)

// operationMetrics times one dispatched operation and reports it both as a
// span and as a structured log entry.
type operationMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	transport     string
	event         string
	requestID     string
	applyDuration time.Duration
}

func newOperationMetrics(ctx context.Context, logger *log.Logger, transport string) (*operationMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, operationSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("transport", transport)),
	)
	return &operationMetrics{
		logger:    logger,
		span:      span,
		start:     time.Now(),
		transport: transport,
	}, ctx
}

func (m *operationMetrics) SetEnvelope(event, requestID string) {
	m.event = event
	m.requestID = requestID
	m.span.SetAttributes(attribute.String("event", event))
	if requestID != "" {
		m.span.SetAttributes(attribute.String("request_id", requestID))
	}
}

func (m *operationMetrics) ObserveApply(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.applyDuration = duration
}

// Log ends the span and writes the metrics entry for ack.
func (m *operationMetrics) Log(ack domain.Ack) {
	if m == nil {
		return
	}
	total := time.Since(m.start)
	attrs := []attribute.KeyValue{
		attribute.Bool("ok", ack.OK),
		attribute.Bool("applied", ack.Applied),
		attribute.Float64("total_ms", durationToMillis(total)),
	}
	if ack.Duplicate {
		attrs = append(attrs, attribute.Bool("duplicate", true))
	}
	if ack.Error != nil {
		attrs = append(attrs, attribute.String("error_kind", string(ack.Error.Kind)))
		m.span.SetStatus(codes.Error, ack.Error.Message)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.SetAttributes(attrs...)
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event":     m.event,
		"ok":        ack.OK,
		"applied":   ack.Applied,
		"transport": m.transport,
		"total_ms":  durationToMillis(total),
	}
	if m.requestID != "" {
		fields["request_id"] = m.requestID
	}
	if ack.Duplicate {
		fields["duplicate"] = true
	}
	if m.applyDuration > 0 {
		fields["apply_ms"] = durationToMillis(m.applyDuration)
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	level := log.InfoLevel
	if ack.Error != nil {
		fields["error_kind"] = string(ack.Error.Kind)
		fields["error"] = ack.Error.Message
		level = levelForKind(ack.Error.Kind)
	}
	m.logger.WithFields(fields).Log(level, operationMetricsMsg)
}

// levelForKind keeps client mistakes at warn and reserves error for
// failures on our side.
func levelForKind(kind domain.ErrorKind) log.Level {
	if kind == domain.KindInternal {
		return log.ErrorLevel
	}
	return log.WarnLevel
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
