// Package kafka publishes transaction lifecycle events for downstream
// consumers. The publisher subscribes to the in-process event bus and writes
// one message per submitted and per confirmed transaction.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/thirdweb-dev/engine-sub003/internal/domain"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/telemetry"
	"github.com/thirdweb-dev/engine-sub003/internal/streaming"
)

type Publisher struct {
	writer *kafka.Writer
	prefix string
}

type PublisherConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		cfg.TopicPrefix = "engine-transactions"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return &Publisher{writer: writer, prefix: cfg.TopicPrefix}, nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) PublishSubmitted(ctx context.Context, submitted domain.SubmittedTransaction) error {
	tracer := otel.Tracer("engine/kafka")
	traceCtx, traceIDHex := newPublishContext(ctx)
	traceCtx, span := tracer.Start(traceCtx, "transactions.publish_submitted", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", submitted.TransactionID),
		attribute.Int64("chain.id", int64(submitted.ChainID)),
		attribute.String("user_op.hash", submitted.UserOpHash),
	)

	payload, err := streaming.Encode(streaming.Message{
		Type:          streaming.MessageTypeSubmitted,
		TransactionID: submitted.TransactionID,
		ChainID:       submitted.ChainID,
		TraceID:       traceIDHex,
		Signer:        submitted.Signer,
		UserOpHash:    submitted.UserOpHash,
		Nonce:         submitted.Nonce,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return p.write(traceCtx, span, submitted.ChainID, submitted.TransactionID, payload)
}

func (p *Publisher) PublishConfirmed(ctx context.Context, confirmed domain.ConfirmedTransaction) error {
	tracer := otel.Tracer("engine/kafka")
	traceCtx, traceIDHex := newPublishContext(ctx)
	traceCtx, span := tracer.Start(traceCtx, "transactions.publish_confirmed", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", confirmed.TransactionID),
		attribute.Int64("chain.id", int64(confirmed.ChainID)),
		attribute.String("status", string(confirmed.Status)),
	)

	gasCost := ""
	if confirmed.GasCost != nil {
		gasCost = confirmed.GasCost.String()
	}
	payload, err := streaming.Encode(streaming.Message{
		Type:          streaming.MessageTypeConfirmed,
		TransactionID: confirmed.TransactionID,
		ChainID:       confirmed.ChainID,
		TraceID:       traceIDHex,
		UserOpHash:    confirmed.UserOpHash,
		TxHash:        confirmed.TransactionHash,
		Nonce:         confirmed.Nonce,
		Status:        string(confirmed.Status),
		BlockNumber:   confirmed.BlockNumber,
		GasUsed:       confirmed.GasUsed,
		GasCost:       gasCost,
		Revert:        confirmed.Revert,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return p.write(traceCtx, span, confirmed.ChainID, confirmed.TransactionID, payload)
}

func (p *Publisher) write(ctx context.Context, span trace.Span, chainID uint64, key string, payload []byte) error {
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(ctx, &headers)
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topicForChain(chainID),
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// newPublishContext roots each published event in a fresh trace so consumers
// can follow one transaction end to end.
func newPublishContext(ctx context.Context) (context.Context, string) {
	traceID, traceIDHex, ok := telemetry.NewTraceID()
	if !ok {
		return ctx, ""
	}
	spanCtx, ok := telemetry.NewSpanContext(traceID)
	if !ok {
		return ctx, ""
	}
	return trace.ContextWithSpanContext(ctx, spanCtx), traceIDHex
}

func (p *Publisher) topicForChain(chainID uint64) string {
	return fmt.Sprintf("%s-%d", p.prefix, chainID)
}
