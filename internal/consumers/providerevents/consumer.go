package providerevents

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	paymentwebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/payment"
	shippingwebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/shipping"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

// Kind is the "kind" attribute the ingress stamps on relayed provider notifications.
type Kind string

const (
	KindPaymentCallback Kind = "payment_callback"
	KindShippingStatus  Kind = "shipping_status"

	kindAttribute = "kind"
)

type paymentHandler interface {
	HandleCallback(ctx context.Context, callback paymentwebhook.Callback) (paymentwebhook.Result, error)
}

type shippingHandler interface {
	HandleStatusUpdate(ctx context.Context, update shippingwebhook.Update) (orders.TransitionResult, error)
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer feeds payment callbacks and carrier status updates, relayed onto
// Pub/Sub by the edge ingress, into the settlement services.
type Consumer struct {
	subscription receiver
	payments     paymentHandler
	shipping     shippingHandler
	logg         *logger.Logger
}

func NewConsumer(subscription *pubsub.Subscriber, payments paymentHandler, shipping shippingHandler, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("provider subscription required")
	}
	return newConsumer(subscription, payments, shipping, logg)
}

func newConsumer(subscription receiver, payments paymentHandler, shipping shippingHandler, logg *logger.Logger) (*Consumer, error) {
	if payments == nil {
		return nil, fmt.Errorf("payment callback handler required")
	}
	if shipping == nil {
		return nil, fmt.Errorf("shipping status handler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		payments:     payments,
		shipping:     shipping,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logCtx := c.logg.WithField(ctx, "message_id", msg.ID)
		if c.Process(logCtx, Kind(msg.Attributes[kindAttribute]), msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Process handles one notification and reports whether it should be acked.
// Malformed and business-rejected notifications are acked so they are not
// redelivered forever; retryable failures are nacked.
func (c *Consumer) Process(ctx context.Context, kind Kind, data []byte) bool {
	logCtx := c.logg.WithField(ctx, "kind", kind)
	switch kind {
	case KindPaymentCallback:
		var callback paymentwebhook.Callback
		if err := json.Unmarshal(data, &callback); err != nil {
			c.logg.Error(logCtx, "failed to decode payment callback", err)
			return true
		}
		logCtx = c.logg.WithField(logCtx, "provider_reference", callback.ProviderReference)
		result, err := c.payments.HandleCallback(logCtx, callback)
		if err != nil {
			return c.settle(logCtx, err)
		}
		c.logg.Info(c.logg.WithField(logCtx, "outcome", result.Outcome), "payment callback consumed")
		return true
	case KindShippingStatus:
		var update shippingwebhook.Update
		if err := json.Unmarshal(data, &update); err != nil {
			c.logg.Error(logCtx, "failed to decode shipping update", err)
			return true
		}
		logCtx = c.logg.WithField(logCtx, "tracking_number", update.TrackingNumber)
		result, err := c.shipping.HandleStatusUpdate(logCtx, update)
		if err != nil {
			return c.settle(logCtx, err)
		}
		logCtx = c.logg.WithFields(logCtx, map[string]any{"applied": result.Applied, "rejected": result.Rejected})
		c.logg.Info(logCtx, "shipping update consumed")
		return true
	default:
		c.logg.Warn(logCtx, "skipping unknown provider notification")
		return true
	}
}

func (c *Consumer) settle(ctx context.Context, err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Retryable() {
		c.logg.Error(ctx, "provider notification failed; will retry", err)
		return false
	}
	c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "provider notification rejected")
	return true
}
