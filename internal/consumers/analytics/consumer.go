// Package analytics consumes settlement events from Pub/Sub and streams them
// into the reporting warehouse.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	settlementanalytics "github.com/angelmondragon/packfinderz-settlement/internal/analytics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
)

// Handler processes decoded settlement envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope settlementanalytics.Envelope) error
}

type idempotencyGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer reads the analytics subscription of the settlement topic. Each
// event id is handled at most once while its idempotency mark lives.
type Consumer struct {
	subscription receiver
	handler      Handler
	guard        idempotencyGuard
	logg         *logger.Logger
}

func NewConsumer(subscription *pubsub.Subscriber, handler Handler, guard idempotencyGuard, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	return newConsumer(subscription, handler, guard, logg)
}

func newConsumer(subscription receiver, handler Handler, guard idempotencyGuard, logg *logger.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("analytics handler is required")
	}
	if guard == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: subscription,
		handler:      handler,
		guard:        guard,
		logg:         logg,
	}, nil
}

// Run starts consuming until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Process handles one message and reports whether it should be acked.
func (c *Consumer) Process(ctx context.Context, msg *pubsub.Message) bool {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := buildEnvelope(msg)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid settlement envelope")
		return true
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	already, err := c.guard.CheckAndMark(logCtx, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return true
	}

	if err := c.handler.Handle(logCtx, *envelope); err != nil {
		if errors.Is(err, settlementanalytics.ErrUnsupportedEventType) {
			c.logg.Warn(logCtx, "skipping unsupported settlement event")
			return true
		}
		c.logg.Error(logCtx, "handler error", err)
		if delErr := c.guard.Delete(logCtx, envelope.EventID); delErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency mark", delErr)
		}
		return false
	}

	c.logg.Info(logCtx, "settlement event recorded")
	return true
}

func buildEnvelope(msg *pubsub.Message) (*settlementanalytics.Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(attribute(msg, "event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attribute(msg, "aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attribute(msg, "aggregate_id")
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := attribute(msg, "created_at"); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attribute(msg, "event_id")
	}
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("event_id: %w", err)
	}

	return &settlementanalytics.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}

func attribute(msg *pubsub.Message, key string) string {
	return strings.TrimSpace(msg.Attributes[key])
}
