// Package queue provides the SQS-based producer for settlement usage events
// consumed by the downstream invoicing and analytics pipeline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"airtime/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// UsageEventPublisher publishes settlement events. Implementations are
// best-effort: settlement must never fail or roll back because an event could
// not be published.
type UsageEventPublisher interface {
	PublishUsage(ctx context.Context, event types.UsageEvent) error
}

// SQSUsagePublisher implements UsageEventPublisher over an SQS queue.
type SQSUsagePublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSUsagePublisher creates a publisher for the given queue URL.
func NewSQSUsagePublisher(client SQSSender, queueURL string, logger *slog.Logger) *SQSUsagePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSUsagePublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// PublishUsage serializes the event and sends it to the usage queue.
func (p *SQSUsagePublisher) PublishUsage(ctx context.Context, event types.UsageEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing usage event for session %s: %w", event.SessionID, err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sending usage event for session %s: %w", event.SessionID, err)
	}

	p.logger.InfoContext(ctx, "usage event published",
		slog.String("session_id", event.SessionID),
		slog.Int64("charged_seconds", event.ChargedSeconds),
	)
	return nil
}

// NoopUsagePublisher discards events. Used when no queue is configured.
type NoopUsagePublisher struct{}

// PublishUsage discards the event.
func (NoopUsagePublisher) PublishUsage(ctx context.Context, event types.UsageEvent) error {
	return nil
}

// Compile-time interface compliance checks.
var (
	_ UsageEventPublisher = (*SQSUsagePublisher)(nil)
	_ UsageEventPublisher = NoopUsagePublisher{}
)
