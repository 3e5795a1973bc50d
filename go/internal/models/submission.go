package models

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionSource records where a decision came from.
type SubmissionSource string

const (
	SourceParticipant SubmissionSource = "PARTICIPANT"
	SourceStandIn     SubmissionSource = "STAND_IN"
	SourceTimeout     SubmissionSource = "TIMEOUT"
)

// Submission is one decision for one phase.
type Submission struct {
	ParticipantID uuid.UUID        `json:"participant_id"`
	Round         int              `json:"round"`
	Phase         Phase            `json:"phase"`
	Role          DecisionRole     `json:"role"`
	Value         float64          `json:"value"`
	Forced        bool             `json:"forced"`
	Source        SubmissionSource `json:"source"`
	SubmittedAt   time.Time        `json:"submitted_at"`
}
