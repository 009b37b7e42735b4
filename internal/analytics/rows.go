package analytics

import (
	"math/big"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementEventRow mirrors the settlement_events BigQuery schema. Money
// columns are NUMERIC.
type SettlementEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	AggregateType string             `bigquery:"aggregate_type"`
	AggregateID   string             `bigquery:"aggregate_id"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	OrderID       *string            `bigquery:"order_id"`
	SellerOrderID *string            `bigquery:"seller_order_id"`
	SellerID      *string            `bigquery:"seller_id"`
	BuyerID       *string            `bigquery:"buyer_id"`
	Status        *string            `bigquery:"status"`
	Reference     *string            `bigquery:"reference"`
	Amount        *big.Rat           `bigquery:"amount"`
	Commission    *big.Rat           `bigquery:"commission"`
	Currency      *string            `bigquery:"currency"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}

func baseRow(envelope Envelope) (SettlementEventRow, error) {
	payload, err := EncodeJSON(envelope.Payload)
	if err != nil {
		return SettlementEventRow{}, err
	}
	return SettlementEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    envelope.OccurredAt.UTC(),
		Payload:       payload,
	}, nil
}

// stringPtr returns a trimmed pointer or nil when the input is empty.
func stringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func uuidPtr(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	return stringPtr(id.String())
}

func numeric(amount decimal.Decimal) *big.Rat {
	return amount.Rat()
}
