package orchestrator

import (
	"fmt"

	"github.com/mcdev12/marketlab/go/internal/experiment/events"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

// handle processes one inbox message. It reports true when the actor should
// stop.
func (s *Session) handle(m message) bool {
	switch msg := m.(type) {
	case joinMsg:
		res, err := s.join(msg.req)
		msg.reply <- joinReply{result: res, err: err}
	case leaveMsg:
		s.leave(msg.connID)
	case heartbeatMsg:
		msg.reply <- s.heartbeat(msg.connID)
	case submitMsg:
		msg.reply <- s.submit(msg.connID, msg.role, msg.value)
	case instructorMsg:
		msg.reply <- s.instructorCommand(msg.action, msg.instructorID)
	case tickMsg:
		if msg.epoch != s.epoch {
			return false
		}
		s.tick()
	case expiryMsg:
		if msg.epoch != s.epoch {
			log.Debug().
				Str("session_code", s.code).
				Uint64("epoch", msg.epoch).
				Uint64("current_epoch", s.epoch).
				Msg("ignoring stale timer expiry")
			return false
		}
		s.expire()
	case standInDecisionMsg:
		s.applyStandInDecision(msg)
	case evictMsg:
		log.Info().Str("session_code", s.code).Msg("evicting completed session")
		return true
	default:
		log.Warn().Str("session_code", s.code).Msgf("unhandled message %T", m)
	}
	return false
}

func (s *Session) instructorCommand(action instructorAction, instructorID string) error {
	if instructorID == "" || instructorID != s.instructorID {
		return fmt.Errorf("%w: only the session instructor may %s", models.ErrValidation, action)
	}

	switch action {
	case actionOpenLobby:
		if s.status != models.SessionStatusSetup {
			return fmt.Errorf("%w: lobby can only be opened from %s (status %s)", models.ErrPrecondition, models.SessionStatusSetup, s.status)
		}
		s.status = models.SessionStatusLobby
		log.Info().Str("session_code", s.code).Msg("lobby opened")
		s.refreshAll()
		return nil

	case actionStart:
		if s.status != models.SessionStatusLobby {
			return fmt.Errorf("%w: session can only start from %s (status %s)", models.ErrPrecondition, models.SessionStatusLobby, s.status)
		}
		humans := s.humanIDs()
		if need := s.cfg.MinParticipants(); len(humans) < need {
			return fmt.Errorf("%w: at least %d participants are required, have %d", models.ErrPrecondition, need, len(humans))
		}
		s.status = models.SessionStatusRunning
		if len(humans)%2 == 1 && s.standIn == nil {
			s.addStandIn()
		}
		log.Info().
			Str("session_code", s.code).
			Int("participants", len(humans)).
			Bool("stand_in", s.standIn != nil).
			Msg("session started")
		s.refreshAll()
		s.startRound()
		return nil

	case actionEnd:
		if s.status != models.SessionStatusLobby && s.status != models.SessionStatusRunning {
			return fmt.Errorf("%w: session cannot end from status %s", models.ErrPrecondition, s.status)
		}
		log.Info().Str("session_code", s.code).Int("round", s.round).Msg("session ended by instructor")
		s.complete(true)
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", models.ErrValidation, action)
}

func (s *Session) submit(connID string, role models.DecisionRole, value float64) error {
	id, ok := s.byConn[connID]
	if !ok {
		return fmt.Errorf("%w: connection has not joined this session", models.ErrNotFound)
	}
	p := s.participants[id]
	now := s.clock.Now()
	p.LastActivity = now

	if s.status != models.SessionStatusRunning {
		return fmt.Errorf("%w: session is not running (status %s)", models.ErrPrecondition, s.status)
	}
	if !s.ledger.IsOpen() {
		return fmt.Errorf("%w: no decision phase is open", models.ErrPrecondition)
	}

	sub, err := s.ledger.Record(id, s.phase, role, value, models.SourceParticipant, now)
	if err != nil {
		return err
	}

	log.Debug().
		Str("session_code", s.code).
		Str("participant_id", id.String()).
		Int("round", sub.Round).
		Str("phase", string(sub.Phase)).
		Float64("value", sub.Value).
		Msg("decision recorded")

	s.sendTo(p, events.TypeDecisionAck, events.DecisionAckPayload{
		Round: sub.Round,
		Phase: sub.Phase,
		Value: sub.Value,
	})
	s.sweepPresence()
	return nil
}

// snapshot builds the state view for p. p may be nil for observers.
func (s *Session) snapshot(p *models.Participant, readOnly bool) events.SessionSnapshotPayload {
	snap := events.SessionSnapshotPayload{
		Code:         s.code,
		Name:         s.name,
		Status:       s.status,
		Round:        s.round,
		TotalRounds:  s.cfg.Rounds,
		Phase:        s.phase,
		RemainingSec: s.remainingSec(),
		Roster:       s.roster(),
		Config:       s.cfg,
		ReadOnly:     readOnly,
	}
	if p != nil {
		you := &events.SelfView{
			ID:        p.ID,
			Name:      p.Name,
			Role:      p.Role,
			Submitted: s.ledger.IsOpen() && s.ledger.Has(p.ID),
			History:   append([]models.Outcome(nil), p.History...),
		}
		if pair := s.pairOf[p.ID]; pair != nil {
			you.AssignedRole, _ = pair.RoleOf(p.ID)
		}
		snap.You = you
	}
	return snap
}

func (s *Session) sendSnapshot(p *models.Participant, readOnly bool) {
	s.sendTo(p, events.TypeSessionSnapshot, s.snapshot(p, readOnly))
}

// refreshAll sends a fresh snapshot to every connected participant.
func (s *Session) refreshAll() {
	s.each(func(p *models.Participant) {
		s.sendSnapshot(p, false)
	})
}

func (s *Session) historyCopy() []models.RoundResult {
	return append([]models.RoundResult(nil), s.history...)
}
