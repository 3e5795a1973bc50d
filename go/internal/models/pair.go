package models

import "github.com/google/uuid"

// Pair is two participants matched against each other. Members and Roles
// are index aligned and fixed once formed.
type Pair struct {
	ID      uuid.UUID       `json:"id"`
	Round   int             `json:"round"`
	Members [2]uuid.UUID    `json:"members"`
	Roles   [2]DecisionRole `json:"roles"`
}

// Seat returns the index of participantID in the pair, or -1.
func (p *Pair) Seat(participantID uuid.UUID) int {
	for i, m := range p.Members {
		if m == participantID {
			return i
		}
	}
	return -1
}

// RoleOf returns the role held by participantID.
func (p *Pair) RoleOf(participantID uuid.UUID) (DecisionRole, bool) {
	i := p.Seat(participantID)
	if i < 0 {
		return "", false
	}
	return p.Roles[i], true
}

// MemberFor returns the participant holding role.
func (p *Pair) MemberFor(role DecisionRole) (uuid.UUID, bool) {
	for i, r := range p.Roles {
		if r == role {
			return p.Members[i], true
		}
	}
	return uuid.Nil, false
}

// Counterpart returns the other member of the pair.
func (p *Pair) Counterpart(participantID uuid.UUID) (uuid.UUID, bool) {
	switch p.Seat(participantID) {
	case 0:
		return p.Members[1], true
	case 1:
		return p.Members[0], true
	}
	return uuid.Nil, false
}
