package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Event types written to the outbox. They double as the subject suffix on
// the event stream.
const (
	EventSessionCreated   = "session.created"
	EventPairsAssigned    = "session.assigned"
	EventRoundRecorded    = "round.recorded"
	EventSessionCompleted = "session.completed"
)

// Event is one row of the experiment outbox.
type Event struct {
	ID          uuid.UUID             `json:"id"`
	SessionCode string                `json:"session_code"`
	EventType   string                `json:"event_type"`
	Payload     []byte                `json:"payload"`
	Metadata    pqtype.NullRawMessage `json:"metadata"`
	CreatedAt   time.Time             `json:"created_at"`
	SentAt      *time.Time            `json:"sent_at,omitempty"`
}

// Publisher delivers outbox events downstream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublishFunc is called for every claimed event. Returning an error leaves
// the event unsent.
type PublishFunc func(ctx context.Context, event Event) error
