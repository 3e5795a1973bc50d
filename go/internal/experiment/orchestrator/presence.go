package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mcdev12/marketlab/go/internal/experiment/events"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

const maxNameLength = 32

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: name must be at most %d characters", models.ErrValidation, maxNameLength)
	}
	return name, nil
}

func (s *Session) join(req JoinRequest) (JoinResult, error) {
	if req.ConnID == "" {
		return JoinResult{}, fmt.Errorf("%w: connection id is required", models.ErrValidation)
	}
	if id, bound := s.byConn[req.ConnID]; bound && req.RejoinToken != id.String() {
		return JoinResult{}, fmt.Errorf("%w: connection already joined as %s", models.ErrPrecondition, id)
	}
	name, err := normalizeName(req.Name)
	if err != nil {
		return JoinResult{}, err
	}
	if req.RejoinToken != "" {
		return s.rejoin(req, name)
	}
	if s.status == models.SessionStatusComplete {
		return s.readOnlyJoin(req.ConnID), nil
	}

	switch req.Role {
	case models.ParticipantRoleInstructor:
		if req.InstructorID == "" || req.InstructorID != s.instructorID {
			return JoinResult{}, fmt.Errorf("%w: instructor id does not match this session", models.ErrValidation)
		}
	case models.ParticipantRoleParticipant:
		if s.status != models.SessionStatusLobby {
			return JoinResult{}, fmt.Errorf("%w: session is not accepting participants (status %s)", models.ErrPrecondition, s.status)
		}
		for _, p := range s.participants {
			if p.Role == models.ParticipantRoleParticipant && strings.EqualFold(p.Name, name) {
				return JoinResult{}, fmt.Errorf("%w: name %q is already taken", models.ErrValidation, name)
			}
		}
	default:
		return JoinResult{}, fmt.Errorf("%w: cannot join with role %q", models.ErrValidation, req.Role)
	}

	now := s.clock.Now()
	p := &models.Participant{
		ID:           uuid.New(),
		Name:         name,
		Role:         req.Role,
		Kind:         models.Human{ConnID: req.ConnID},
		Connected:    true,
		LastActivity: now,
		JoinedAt:     now,
	}
	s.participants[p.ID] = p
	s.byConn[req.ConnID] = p.ID
	s.order = append(s.order, p.ID)

	log.Info().
		Str("session_code", s.code).
		Str("participant_id", p.ID.String()).
		Str("conn_id", req.ConnID).
		Str("role", string(p.Role)).
		Msg("participant joined")

	s.sendSnapshot(p, false)
	s.notifyRoster()
	return JoinResult{
		ConnID:        req.ConnID,
		ParticipantID: p.ID,
		RejoinToken:   p.ID.String(),
		Status:        s.status,
	}, nil
}

// rejoin binds a new connection to an existing participant. The stable id
// keys pairs and the ledger, so nothing else has to change. Rejoining twice
// with the same token is harmless.
func (s *Session) rejoin(req JoinRequest, name string) (JoinResult, error) {
	id, err := uuid.Parse(req.RejoinToken)
	if err != nil {
		return JoinResult{}, fmt.Errorf("%w: malformed rejoin token", models.ErrValidation)
	}
	p, ok := s.participants[id]
	if !ok || p.IsStandIn() {
		return JoinResult{}, fmt.Errorf("%w: unknown rejoin token", models.ErrNotFound)
	}
	if !strings.EqualFold(p.Name, name) {
		return JoinResult{}, fmt.Errorf("%w: name does not match the rejoin token", models.ErrValidation)
	}

	if old := p.ConnID(); old != "" && old != req.ConnID {
		if bound, ok := s.byConn[old]; ok && bound == p.ID {
			delete(s.byConn, old)
		}
	}
	p.Kind = models.Human{ConnID: req.ConnID}
	p.Connected = true
	p.LastActivity = s.clock.Now()
	s.byConn[req.ConnID] = p.ID

	log.Info().
		Str("session_code", s.code).
		Str("participant_id", p.ID.String()).
		Str("conn_id", req.ConnID).
		Msg("participant rejoined")

	readOnly := s.status == models.SessionStatusComplete
	s.sendSnapshot(p, readOnly)
	if s.status == models.SessionStatusRunning && s.ledger.IsOpen() {
		s.sendTo(p, events.TypePhaseStarted, s.phaseStartedFor(p))
	}
	s.notifyRoster()
	return JoinResult{
		ConnID:        req.ConnID,
		ParticipantID: p.ID,
		RejoinToken:   p.ID.String(),
		Status:        s.status,
		ReadOnly:      readOnly,
		History:       s.historyCopy(),
	}, nil
}

// readOnlyJoin serves a connection that arrives after completion without a
// token. It is not added to the participants.
func (s *Session) readOnlyJoin(connID string) JoinResult {
	snap := s.snapshot(nil, true)
	s.sendToConn(connID, events.TypeSessionSnapshot, snap)
	return JoinResult{
		ConnID:   connID,
		Status:   s.status,
		ReadOnly: true,
		History:  s.historyCopy(),
	}
}

func (s *Session) leave(connID string) {
	id, ok := s.byConn[connID]
	if !ok {
		return
	}
	delete(s.byConn, connID)
	p := s.participants[id]
	if p == nil || p.ConnID() != connID {
		return
	}
	p.Connected = false

	log.Info().
		Str("session_code", s.code).
		Str("participant_id", p.ID.String()).
		Str("conn_id", connID).
		Msg("participant disconnected")
	s.notifyRoster()
}

func (s *Session) heartbeat(connID string) error {
	id, ok := s.byConn[connID]
	if !ok {
		return fmt.Errorf("%w: connection has not joined this session", models.ErrNotFound)
	}
	s.participants[id].LastActivity = s.clock.Now()
	s.sweepPresence()
	return nil
}

func (s *Session) presenceOf(p *models.Participant) models.PresenceStatus {
	switch {
	case p.IsStandIn():
		return models.PresenceOnline
	case !p.Connected:
		return models.PresenceOffline
	case s.clock.Now().Sub(p.LastActivity) > s.opts.AwayAfter:
		return models.PresenceAway
	default:
		return models.PresenceOnline
	}
}

func (s *Session) roster() []models.RosterEntry {
	entries := make([]models.RosterEntry, 0, len(s.order))
	s.each(func(p *models.Participant) {
		entries = append(entries, models.RosterEntry{
			ID:       p.ID,
			Name:     p.Name,
			Role:     p.Role,
			Presence: s.presenceOf(p),
		})
	})
	return entries
}

// notifyRoster sends the roster to instructors and remembers what they saw.
func (s *Session) notifyRoster() {
	roster := s.roster()
	for _, e := range roster {
		s.presence[e.ID] = e.Presence
	}
	payload := events.RosterUpdatePayload{Roster: roster}
	s.instructors(func(p *models.Participant) {
		s.sendTo(p, events.TypeRosterUpdate, payload)
	})
}

// sweepPresence notifies instructors only when some presence changed.
func (s *Session) sweepPresence() {
	changed := false
	s.each(func(p *models.Participant) {
		if s.presence[p.ID] != s.presenceOf(p) {
			changed = true
		}
	})
	if changed {
		s.notifyRoster()
	}
}
