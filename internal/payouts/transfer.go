package payouts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const (
	transferMessageKind    = "payout_transfer"
	defaultTransferTimeout = 15 * time.Second
)

// TransferInstruction is the message body handed to the payment rail.
type TransferInstruction struct {
	PayoutID    uuid.UUID       `json:"payout_id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	RequestedAt time.Time       `json:"requested_at"`
}

type publishFunc func(ctx context.Context, msg *gcppubsub.Message) (string, error)

// PubSubTransferer publishes transfer instructions to the payout topic. The
// Pub/Sub server message id becomes the transfer reference.
type PubSubTransferer struct {
	publish publishFunc
	logg    *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewPubSubTransferer(pub *gcppubsub.Publisher, logg *logger.Logger) (*PubSubTransferer, error) {
	if pub == nil {
		return nil, fmt.Errorf("payout publisher required")
	}
	return newPubSubTransferer(func(ctx context.Context, msg *gcppubsub.Message) (string, error) {
		return pub.Publish(ctx, msg).Get(ctx)
	}, logg)
}

func newPubSubTransferer(publish publishFunc, logg *logger.Logger) (*PubSubTransferer, error) {
	if publish == nil {
		return nil, fmt.Errorf("publish function required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PubSubTransferer{
		publish: publish,
		logg:    logg,
		timeout: defaultTransferTimeout,
		now:     time.Now,
	}, nil
}

// Transfer publishes one instruction and waits for the server ack.
func (t *PubSubTransferer) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.PayoutID == uuid.Nil || req.SellerID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payout and seller ids are required")
	}
	if !req.Amount.IsPositive() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}

	body, err := json.Marshal(TransferInstruction{
		PayoutID:    req.PayoutID,
		SellerID:    req.SellerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		RequestedAt: t.now().UTC(),
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode transfer instruction")
	}

	publishCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	reference, err := t.publish(publishCtx, &gcppubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"kind":      transferMessageKind,
			"payout_id": req.PayoutID.String(),
			"seller_id": req.SellerID.String(),
		},
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish payout transfer")
	}

	logCtx := t.logg.WithFields(ctx, map[string]any{
		"payout_id": req.PayoutID.String(),
		"seller_id": req.SellerID.String(),
		"amount":    req.Amount.StringFixed(2),
		"reference": reference,
	})
	t.logg.Info(logCtx, "payout transfer published")
	return reference, nil
}
