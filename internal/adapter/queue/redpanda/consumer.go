// Package redpanda consumes analysis results published to Redpanda/Kafka.
//
// Each record carries the same JSON body as the HTTP callback and the system
// key in an x-system-key header. Records are applied through the ingest use
// case and their offsets are committed once handled.
package redpanda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	obsadapter "github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/observability"
)

// SystemKeyHeader is the record header carrying the machine credential.
const SystemKeyHeader = "x-system-key"

// Ingester applies one analysis result body.
type Ingester interface {
	Ingest(ctx context.Context, presentedKey string, body []byte) (string, error)
}

// recordClient is the subset of *kgo.Client the consumer drives.
type recordClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	Close()
}

// Consumer reads analysis results and feeds them to the ingest use case.
type Consumer struct {
	client  recordClient
	tracer  *kotel.Tracer
	ingest  Ingester
	retry   config.RetryConfig
	groupID string
	topic   string
}

// NewConsumer builds a group consumer for topic with OpenTelemetry hooks.
func NewConsumer(brokers []string, groupID, topic string, ingest Ingester, retry config.RetryConfig) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.new_consumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=redpanda.new_consumer: missing required group ID")
	}
	if topic == "" {
		return nil, fmt.Errorf("op=redpanda.new_consumer: missing topic")
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
		kgo.FetchMaxWait(5*time.Second),
		// Only offsets of handled records are committed.
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.new_consumer: %w", err)
	}
	slog.Info("redpanda consumer created",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("topic", topic))
	return newConsumer(client, tracer, ingest, retry, groupID, topic), nil
}

func newConsumer(client recordClient, tracer *kotel.Tracer, ingest Ingester, retry config.RetryConfig, groupID, topic string) *Consumer {
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if retry.Multiplier <= 1 {
		retry.Multiplier = 2
	}
	if tracer == nil {
		tracer = kotel.NewTracer()
	}
	return &Consumer{client: client, tracer: tracer, ingest: ingest, retry: retry, groupID: groupID, topic: topic}
}

// Run polls until ctx is cancelled. A record whose transient failure
// survives every retry is left uncommitted and Run returns an error, so the
// group redelivers it from the last committed offset after restart.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("redpanda consumer starting", slog.String("group_id", c.groupID), slog.String("topic", c.topic))
	defer c.shutdown()
	for {
		if ctx.Err() != nil {
			slog.Info("redpanda consumer stopping")
			return nil
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
		})
		if err := c.process(ctx, fetches); err != nil {
			return err
		}
	}
}

func (c *Consumer) shutdown() {
	commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.CommitMarkedOffsets(commitCtx); err != nil {
		slog.Warn("final offset commit failed", slog.Any("error", err))
	}
	c.client.Close()
}

// process handles records in fetch order and marks each handled one.
func (c *Consumer) process(ctx context.Context, fetches kgo.Fetches) error {
	iter := fetches.RecordIter()
	for !iter.Done() {
		rec := iter.Next()
		if err := c.handleRecord(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			obsadapter.RecordConsumerRecord("failed")
			return fmt.Errorf("op=redpanda.process: topic=%s partition=%d offset=%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
		}
		c.client.MarkCommitRecords(rec)
	}
	return nil
}

// handleRecord returns nil when the record is done with, including benign
// and permanent rejections. Only transient failures that outlast the retry
// budget come back as errors.
func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) error {
	if rec.Context == nil {
		rec.Context = ctx
	}
	rctx, span := c.tracer.WithProcessSpan(rec)
	defer span.End()
	rctx = observability.ContextWithLogger(rctx, observability.LoggerFromContext(ctx).With(
		slog.String("topic", rec.Topic),
		slog.Int("partition", int(rec.Partition)),
		slog.Int64("offset", rec.Offset)))
	lg := observability.LoggerFromContext(rctx)

	key := headerValue(rec, SystemKeyHeader)
	var appID string
	attempt := 0
	op := func() error {
		attempt++
		id, err := c.ingest.Ingest(rctx, key, rec.Value)
		appID = id
		if err == nil || isPermanent(err) {
			return backoff.Permanent(err)
		}
		lg.Warn("analysis record apply failed, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(c.backoff(), uint64(max(c.retry.MaxRetries, 0))), ctx))
	span.SetAttributes(attribute.String("application.id", appID), attribute.Int("attempts", attempt))

	switch {
	case err == nil:
		obsadapter.RecordAnalysis("kafka", "accepted")
		obsadapter.RecordConsumerRecord("committed")
		return nil
	case errors.Is(err, domain.ErrStaleWrite):
		obsadapter.RecordAnalysis("kafka", "ignored")
		obsadapter.RecordConsumerRecord("ignored")
		return nil
	case isPermanent(err):
		obsadapter.RecordAnalysis("kafka", rejectionOutcome(err))
		obsadapter.RecordConsumerRecord("rejected")
		lg.Warn("analysis record rejected", slog.String("application_id", appID), slog.Any("error", err))
		return nil
	default:
		span.RecordError(err)
		obsadapter.RecordAnalysis("kafka", "error")
		lg.Error("analysis record failed after retries", slog.String("application_id", appID), slog.Int("attempts", attempt), slog.Any("error", err))
		return err
	}
}

func (c *Consumer) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialDelay
	b.MaxInterval = c.retry.MaxDelay
	b.Multiplier = c.retry.Multiplier
	b.MaxElapsedTime = 0
	if !c.retry.Jitter {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// isPermanent reports domain outcomes that redelivery cannot change.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrStaleWrite) ||
		errors.Is(err, domain.ErrAuthFailed) ||
		errors.Is(err, domain.ErrInvalidPayload) ||
		errors.Is(err, domain.ErrNotFound)
}

func rejectionOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "invalid"
	}
}

func headerValue(rec *kgo.Record, key string) string {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
