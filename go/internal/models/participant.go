package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole is the role a participant joined a session with.
type ParticipantRole string

const (
	ParticipantRoleInstructor  ParticipantRole = "INSTRUCTOR"
	ParticipantRoleParticipant ParticipantRole = "PARTICIPANT"
	ParticipantRoleStandIn     ParticipantRole = "STAND_IN"
)

// FallbackPolicy selects how a stand-in sources its decisions.
type FallbackPolicy string

const (
	FallbackRandom  FallbackPolicy = "RANDOM"
	FallbackAdvisor FallbackPolicy = "ADVISOR"
)

// ParticipantKind is either Human or StandIn.
type ParticipantKind interface {
	isParticipantKind()
}

// Human is a participant driven by a live connection.
type Human struct {
	ConnID string
}

// StandIn is a computer-controlled participant added to balance pairs.
type StandIn struct {
	Policy FallbackPolicy
}

func (Human) isParticipantKind()   {}
func (StandIn) isParticipantKind() {}

// Participant is a member of a session. ID is the stable identity and
// doubles as the rejoin token; it never changes across reconnects.
type Participant struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Role         ParticipantRole `json:"role"`
	Kind         ParticipantKind `json:"-"`
	Connected    bool            `json:"connected"`
	LastActivity time.Time       `json:"last_activity"`
	PairID       *uuid.UUID      `json:"pair_id,omitempty"`
	History      []Outcome       `json:"history"`
	JoinedAt     time.Time       `json:"joined_at"`
}

// ConnID returns the live connection id of a human participant.
func (p *Participant) ConnID() string {
	if h, ok := p.Kind.(Human); ok {
		return h.ConnID
	}
	return ""
}

// IsStandIn reports whether the participant is computer controlled.
func (p *Participant) IsStandIn() bool {
	_, ok := p.Kind.(StandIn)
	return ok
}

// PresenceStatus is what instructors see for a participant.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "ONLINE"
	PresenceAway    PresenceStatus = "AWAY"
	PresenceOffline PresenceStatus = "OFFLINE"
)

// RosterEntry is a participant as listed in snapshots.
type RosterEntry struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Role     ParticipantRole `json:"role"`
	Presence PresenceStatus  `json:"presence"`
}
