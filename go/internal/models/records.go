package models

import (
	"time"

	"github.com/google/uuid"
)

// Records handed to the reporting sink. They are built by the session actor,
// already validated, and never mutated after emission.

// SessionRecord is emitted once when a session is created.
type SessionRecord struct {
	Info SessionInfo `json:"info"`
}

// ParticipantRecord is participant metadata for storage.
type ParticipantRecord struct {
	ID      uuid.UUID       `json:"id"`
	Name    string          `json:"name"`
	Role    ParticipantRole `json:"role"`
	StandIn bool            `json:"stand_in"`
}

// AssignmentRecord is emitted whenever pairs and roles are assigned.
type AssignmentRecord struct {
	SessionCode  string              `json:"session_code"`
	Round        int                 `json:"round"`
	Participants []ParticipantRecord `json:"participants"`
	Pairs        []Pair              `json:"pairs"`
}

// RoundRecord is emitted for every finalized round.
type RoundRecord struct {
	SessionCode string      `json:"session_code"`
	Result      RoundResult `json:"result"`
}

// CompletionRecord is emitted when a session completes.
type CompletionRecord struct {
	SessionCode string        `json:"session_code"`
	Info        SessionInfo   `json:"info"`
	CompletedAt time.Time     `json:"completed_at"`
	ForcedEnd   bool          `json:"forced_end"`
	History     []RoundResult `json:"history"`
}

// SessionArchive is a finished session read back from storage.
type SessionArchive struct {
	Info        SessionInfo   `json:"info"`
	CompletedAt time.Time     `json:"completed_at"`
	History     []RoundResult `json:"history"`
}
