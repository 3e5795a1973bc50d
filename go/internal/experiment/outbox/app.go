package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// OutboxRepository defines what the app layer needs from storage.
type OutboxRepository interface {
	InsertEvent(ctx context.Context, event Event) error
	InsertCompletion(ctx context.Context, event Event, rec models.CompletionRecord) error
}

// Archive reads finished sessions back.
type Archive interface {
	FinishedSession(ctx context.Context, code string) (*models.SessionArchive, error)
}

// App turns session records into outbox events. It implements the
// orchestrator's reporting sink.
type App struct {
	repo    OutboxRepository
	archive Archive
	clock   clockwork.Clock
	source  string
}

// NewApp creates an App. source is stored in every event's metadata.
func NewApp(repo OutboxRepository, archive Archive, clock clockwork.Clock, source string) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{repo: repo, archive: archive, clock: clock, source: source}
}

// RecordSession stores the creation of a session.
func (a *App) RecordSession(ctx context.Context, rec models.SessionRecord) error {
	return a.insert(ctx, rec.Info.Code, EventSessionCreated, rec, nil)
}

// RecordAssignments stores the pairs and roles of a round.
func (a *App) RecordAssignments(ctx context.Context, rec models.AssignmentRecord) error {
	if len(rec.Pairs) == 0 {
		return fmt.Errorf("%w: assignment without pairs", models.ErrValidation)
	}
	return a.insert(ctx, rec.SessionCode, EventPairsAssigned, rec, map[string]any{"round": rec.Round})
}

// RecordRound stores one finalized round.
func (a *App) RecordRound(ctx context.Context, rec models.RoundRecord) error {
	if rec.Result.Round < 1 {
		return fmt.Errorf("%w: round result without round number", models.ErrValidation)
	}
	return a.insert(ctx, rec.SessionCode, EventRoundRecorded, rec, map[string]any{"round": rec.Result.Round})
}

// RecordCompletion stores the completion event together with the archive
// used for read-only rejoins.
func (a *App) RecordCompletion(ctx context.Context, rec models.CompletionRecord) error {
	event, err := a.newEvent(rec.SessionCode, EventSessionCompleted, rec, map[string]any{
		"forced_end": rec.ForcedEnd,
		"rounds":     len(rec.History),
	})
	if err != nil {
		return err
	}
	if err := a.repo.InsertCompletion(ctx, event, rec); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", EventSessionCompleted, err)
	}

	log.Info().
		Str("session_code", rec.SessionCode).
		Str("event_type", EventSessionCompleted).
		Bool("forced_end", rec.ForcedEnd).
		Msg("outbox event inserted")
	return nil
}

// FinishedSession returns the archive of a completed session.
func (a *App) FinishedSession(ctx context.Context, code string) (*models.SessionArchive, error) {
	if a.archive == nil {
		return nil, fmt.Errorf("%w: no archive for session %s", models.ErrNotFound, code)
	}
	return a.archive.FinishedSession(ctx, code)
}

func (a *App) insert(ctx context.Context, code, eventType string, payload any, meta map[string]any) error {
	event, err := a.newEvent(code, eventType, payload, meta)
	if err != nil {
		return err
	}
	if err := a.repo.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", eventType, err)
	}

	log.Debug().
		Str("session_code", code).
		Str("event_type", eventType).
		Str("event_id", event.ID.String()).
		Msg("outbox event inserted")
	return nil
}

func (a *App) newEvent(code, eventType string, payload any, meta map[string]any) (Event, error) {
	if code == "" {
		return Event{}, fmt.Errorf("%w: %s event without session code", models.ErrValidation, eventType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if err := validateEventPayload(data); err != nil {
		return Event{}, fmt.Errorf("invalid %s payload: %w", eventType, err)
	}

	if a.source != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["source"] = a.source
	}
	var metadata pqtype.NullRawMessage
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s metadata: %w", eventType, err)
		}
		metadata = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	return Event{
		ID:          uuid.New(),
		SessionCode: code,
		EventType:   eventType,
		Payload:     data,
		Metadata:    metadata,
		CreatedAt:   a.clock.Now().UTC(),
	}, nil
}

func validateEventPayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", models.ErrValidation)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", models.ErrValidation)
	}
	return nil
}
