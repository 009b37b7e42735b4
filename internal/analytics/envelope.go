// Package analytics turns settlement outbox events into rows of the reporting
// warehouse.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Envelope is a settlement event as received from the outbox topic.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Payload       json.RawMessage
}
