// Package redpanda publishes and consumes dose and caregiver-alert events on
// Kafka-compatible brokers with franz-go.
package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig holds configuration for the producer
type ProducerConfig struct {
	Brokers []string
	// Linger trades latency for batching; events here are low volume
	Linger       time.Duration
	Compression  string
	RequiredAcks int16
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultProducerConfig returns durable defaults
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Linger:       5 * time.Millisecond,
		Compression:  "lz4",
		RequiredAcks: -1,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Producer sends records to Redpanda
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer
	onSent func(n int)

	messagesSent int64
	bytesSent    int64
	errorCount   int64
}

// NewProducer creates a producer. onSent, if set, is told how many records
// each successful call produced.
func NewProducer(cfg ProducerConfig, onSent func(n int), logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return cfg.RetryBackoff * time.Duration(attempt+1)
		}),
	}

	switch cfg.RequiredAcks {
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}

	switch cfg.Compression {
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
		onSent: onSent,
	}, nil
}

// Record represents a message to be produced
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Publish sends one record and waits for the broker acknowledgement.
// It satisfies postgres.OutboxPublisher.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.ProduceBatch(ctx, []*Record{{Topic: topic, Key: key, Value: value}})
}

// ProduceBatch sends records and waits for all acknowledgements
func (p *Producer) ProduceBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "produce_batch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.Int("batch_size", len(records)),
			attribute.String("topic", records[0].Topic),
		))
	defer span.End()

	kgoRecords := make([]*kgo.Record, len(records))
	size := 0
	for i, rec := range records {
		r := &kgo.Record{Topic: rec.Topic, Key: []byte(rec.Key), Value: rec.Value}
		for k, v := range rec.Headers {
			r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
		injectTraceHeaders(ctx, r)
		kgoRecords[i] = r
		size += len(rec.Value)
	}

	if err := p.client.ProduceSync(ctx, kgoRecords...).FirstErr(); err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		span.RecordError(err)
		p.logger.Error("failed to produce records",
			zap.String("topic", records[0].Topic),
			zap.Int("count", len(records)),
			zap.Error(err))
		return fmt.Errorf("produce to %s: %w", records[0].Topic, err)
	}

	atomic.AddInt64(&p.messagesSent, int64(len(records)))
	atomic.AddInt64(&p.bytesSent, int64(size))
	if p.onSent != nil {
		p.onSent(len(records))
	}
	return nil
}

// Ping checks broker connectivity
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// ProducerStats holds producer statistics
type ProducerStats struct {
	MessagesSent int64
	BytesSent    int64
	ErrorCount   int64
}

// Stats returns current producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent: atomic.LoadInt64(&p.messagesSent),
		BytesSent:    atomic.LoadInt64(&p.bytesSent),
		ErrorCount:   atomic.LoadInt64(&p.errorCount),
	}
}
