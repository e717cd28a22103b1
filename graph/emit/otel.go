package emit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter records each event as a zero-length OpenTelemetry span named
// after event.Msg.
//
// Spans carry coursegraph.run_id, coursegraph.seq and coursegraph.step.
// Meta entries become attributes, with the keys the engine emits renamed
// into the coursegraph namespace. An "error" entry sets an error status.
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("coursegraph"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records one span for the event.
func (o *OTelEmitter) Emit(event Event) {
	o.record(context.Background(), event)
}

// EmitBatch exports an already finished run, such as one loaded from the
// archive. The events become children of a single "run" span.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, run := o.tracer.Start(ctx, "run",
		trace.WithAttributes(attribute.String("coursegraph.run_id", events[0].RunID)))
	defer run.End()

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			run.SetStatus(codes.Error, err.Error())
			return err
		}
		o.record(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) record(ctx context.Context, event Event) {
	attrs := append([]attribute.KeyValue{
		attribute.String("coursegraph.run_id", event.RunID),
		attribute.Int("coursegraph.seq", event.Seq),
		attribute.String("coursegraph.step", event.Step),
	}, metaAttributes(event.Meta)...)

	_, span := o.tracer.Start(ctx, event.Msg,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
	if msg, ok := event.Meta["error"].(string); ok {
		span.RecordError(errors.New(msg))
		span.SetStatus(codes.Error, msg)
	}
	span.End()
}

// Flush forces export of buffered spans when the global provider can flush.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	f, ok := otel.GetTracerProvider().(interface {
		ForceFlush(context.Context) error
	})
	if !ok {
		return nil
	}
	return f.ForceFlush(ctx)
}

var attributeNames = map[string]string{
	"duration_ms": "coursegraph.step.duration_ms",
	"kind":        "coursegraph.step.kind",
	"iteration":   "coursegraph.loop.iteration",
	"state":       "coursegraph.loop.state",
	"key":         "coursegraph.state.key",
	"attempt":     "coursegraph.delegate.attempt",
	"tokens_in":   "coursegraph.llm.tokens_in",
	"tokens_out":  "coursegraph.llm.tokens_out",
	"cost_usd":    "coursegraph.llm.cost_usd",
	"model":       "coursegraph.llm.model",
}

// metaAttributes converts meta in key order so span attributes are stable.
func metaAttributes(meta map[string]interface{}) []attribute.KeyValue {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		name := k
		if mapped, ok := attributeNames[k]; ok {
			name = mapped
		}
		attrs = append(attrs, toAttribute(name, meta[k]))
	}
	return attrs
}

func toAttribute(name string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(name, v)
	case bool:
		return attribute.Bool(name, v)
	case int:
		return attribute.Int(name, v)
	case int64:
		return attribute.Int64(name, v)
	case float64:
		return attribute.Float64(name, v)
	case time.Duration:
		return attribute.Int64(name, v.Milliseconds())
	case []string:
		return attribute.StringSlice(name, v)
	default:
		return attribute.String(name, fmt.Sprint(v))
	}
}
