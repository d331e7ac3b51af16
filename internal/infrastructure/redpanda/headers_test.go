package redpanda

import (
	"context"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: TopicDoseEvents}
	injectTraceHeaders(ctx, record)

	if len(record.Headers) != 1 || record.Headers[0].Key != "traceparent" {
		t.Fatalf("unexpected headers %+v", record.Headers)
	}

	got := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	if got.TraceID() != traceID || got.SpanID() != spanID {
		t.Errorf("extracted %s/%s", got.TraceID(), got.SpanID())
	}
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	record := &kgo.Record{}
	c := headerCarrier{record: record}
	c.Set("k", "1")
	c.Set("k", "2")
	if c.Get("k") != "2" || len(c.Keys()) != 1 {
		t.Errorf("headers = %+v", record.Headers)
	}
}

func TestDefaultTopicConfigs(t *testing.T) {
	names := map[string]bool{}
	for _, tc := range DefaultTopicConfigs() {
		names[tc.Name] = true
	}
	for _, want := range []string{TopicDoseEvents, TopicCaregiverAlerts, TopicDeadLetter} {
		if !names[want] {
			t.Errorf("missing topic %s", want)
		}
	}
}
