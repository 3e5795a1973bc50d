// Package events holds the outbound event envelope and payload types shared
// by the orchestrator and the gateway.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/marketlab/go/internal/models"
)

// Type is the type of an outbound event.
type Type string

const (
	TypeSessionSnapshot      Type = "session_snapshot"
	TypePhaseStarted         Type = "phase_started"
	TypeTimeRemaining        Type = "time_remaining"
	TypePhaseResult          Type = "phase_result"
	TypeRoundSummary         Type = "round_summary"
	TypeCountdownToNextRound Type = "countdown_to_next_round"
	TypeSessionComplete      Type = "session_complete"
	TypeRosterUpdate         Type = "roster_update"
	TypeDecisionAck          Type = "decision_ack"
	TypeError                Type = "error"
	TypeJoined               Type = "joined"
)

// Event is the envelope written to clients.
type Event struct {
	ID          string          `json:"id"`
	SessionCode string          `json:"session_code"`
	Type        Type            `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

// New marshals payload into an Event.
func New(sessionCode string, typ Type, payload any, at time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Event{
		ID:          uuid.New().String(),
		SessionCode: sessionCode,
		Type:        typ,
		Timestamp:   at,
		Data:        data,
	}, nil
}

// Decode unmarshals the event data into dst.
func (e *Event) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

// SelfView is the receiving participant's own state inside a snapshot.
type SelfView struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	Role         models.ParticipantRole `json:"role"`
	AssignedRole models.DecisionRole    `json:"assigned_role,omitempty"`
	Submitted    bool                   `json:"submitted"`
	History      []models.Outcome       `json:"history"`
}

// SessionSnapshotPayload is sent to a connection when it joins or rejoins.
type SessionSnapshotPayload struct {
	Code         string               `json:"code"`
	Name         string               `json:"name"`
	Status       models.SessionStatus `json:"status"`
	Round        int                  `json:"round"`
	TotalRounds  int                  `json:"total_rounds"`
	Phase        models.Phase         `json:"phase,omitempty"`
	RemainingSec int                  `json:"remaining_sec"`
	Roster       []models.RosterEntry `json:"roster"`
	Config       models.SessionConfig `json:"config"`
	You          *SelfView            `json:"you,omitempty"`
	ReadOnly     bool                 `json:"read_only,omitempty"`
}

// PhaseStartedPayload announces a decision phase to one participant.
type PhaseStartedPayload struct {
	Round        int                 `json:"round"`
	Phase        models.Phase        `json:"phase"`
	DurationSec  int                 `json:"duration_sec"`
	RemainingSec int                 `json:"remaining_sec"`
	AssignedRole models.DecisionRole `json:"assigned_role,omitempty"`
	MustDecide   bool                `json:"must_decide"`
	Bounds       models.Bounds       `json:"bounds"`
	PendingOffer *float64            `json:"pending_offer,omitempty"`
}

// TimeRemainingPayload is broadcast on every timer tick.
type TimeRemainingPayload struct {
	Round        int          `json:"round"`
	Phase        models.Phase `json:"phase"`
	RemainingSec int          `json:"remaining_sec"`
}

// PhaseResultPayload is the personalized outcome of a round.
type PhaseResultPayload struct {
	Outcome models.Outcome `json:"outcome"`
}

// RoundSummaryPayload carries every pair outcome for instructors.
type RoundSummaryPayload struct {
	Result models.RoundResult `json:"result"`
}

// CountdownPayload announces the pause before the next round.
type CountdownPayload struct {
	NextRound int `json:"next_round"`
	Seconds   int `json:"seconds"`
}

// SessionCompletePayload carries the full round history.
type SessionCompletePayload struct {
	History  []models.RoundResult `json:"history"`
	Personal []models.Outcome     `json:"personal,omitempty"`
	Forced   bool                 `json:"forced_end"`
}

// RosterUpdatePayload is sent to instructors when presence changes.
type RosterUpdatePayload struct {
	Roster []models.RosterEntry `json:"roster"`
}

// DecisionAckPayload confirms a recorded decision to its sender.
type DecisionAckPayload struct {
	Round int          `json:"round"`
	Phase models.Phase `json:"phase"`
	Value float64      `json:"value"`
}

// ErrorPayload reports a rejected request to the originating connection.
type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}
