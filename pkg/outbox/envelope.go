package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role,omitempty"`
}

const (
	RoleBuyer    = "buyer"
	RoleSeller   = "seller"
	RoleSystem   = "system"
	RoleProvider = "provider"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
