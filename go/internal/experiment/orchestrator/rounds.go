package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/marketlab/go/internal/experiment/events"
	"github.com/mcdev12/marketlab/go/internal/experiment/ledger"
	"github.com/mcdev12/marketlab/go/internal/experiment/pairing"
	"github.com/mcdev12/marketlab/go/internal/experiment/payoff"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

const standInName = "Computer"

func (s *Session) addStandIn() {
	policy := models.FallbackRandom
	if s.cfg.Features.StandInAdvisor {
		policy = models.FallbackAdvisor
	}
	now := s.clock.Now()
	p := &models.Participant{
		ID:           uuid.New(),
		Name:         standInName,
		Role:         models.ParticipantRoleStandIn,
		Kind:         models.StandIn{Policy: policy},
		Connected:    true,
		LastActivity: now,
		JoinedAt:     now,
	}
	s.participants[p.ID] = p
	s.order = append(s.order, p.ID)
	s.standIn = p
}

// startRound advances to the next round, or completes the session when the
// last round is done.
func (s *Session) startRound() {
	if s.round >= s.cfg.Rounds {
		s.complete(false)
		return
	}
	s.round++

	if err := s.assignPairs(); err != nil {
		log.Error().Err(err).Str("session_code", s.code).Int("round", s.round).Msg("failed to pair participants")
		s.complete(true)
		return
	}
	s.startPhase(s.cfg.Phases()[0])
}

// assignPairs re-pairs every round for pricing and keeps the first pairs for
// ultimatum, optionally rotating roles.
func (s *Session) assignPairs() error {
	var pairs []*models.Pair
	if s.cfg.Game == models.GameUltimatum && len(s.pairs) > 0 {
		pairs = pairing.Carry(s.pairs, s.round, s.cfg.Features.RotateRoles)
	} else {
		standInID := uuid.Nil
		if s.standIn != nil {
			standInID = s.standIn.ID
		}
		var err error
		pairs, err = s.pairing.Pair(s.humanIDs(), standInID, s.cfg.Roles(), s.round)
		if err != nil {
			return err
		}
	}

	s.pairs = pairs
	s.pairOf = make(map[uuid.UUID]*models.Pair, len(pairs)*2)
	for _, p := range s.participants {
		p.PairID = nil
	}
	for _, pair := range pairs {
		pairID := pair.ID
		for _, m := range pair.Members {
			s.pairOf[m] = pair
			if p, ok := s.participants[m]; ok {
				p.PairID = &pairID
			}
		}
	}

	rec := models.AssignmentRecord{
		SessionCode: s.code,
		Round:       s.round,
	}
	s.each(func(p *models.Participant) {
		if p.Role == models.ParticipantRoleInstructor {
			return
		}
		rec.Participants = append(rec.Participants, models.ParticipantRecord{
			ID:      p.ID,
			Name:    p.Name,
			Role:    p.Role,
			StandIn: p.IsStandIn(),
		})
	})
	for _, pair := range pairs {
		rec.Pairs = append(rec.Pairs, *pair)
	}
	s.record("assignments", func(ctx context.Context) error {
		return s.sink.RecordAssignments(ctx, rec)
	})

	log.Info().
		Str("session_code", s.code).
		Int("round", s.round).
		Int("pairs", len(pairs)).
		Msg("pairs assigned")
	return nil
}

// startPhase opens the ledger for phase, starts its timer and announces it.
func (s *Session) startPhase(phase models.Phase) {
	expected := make(map[uuid.UUID]models.DecisionRole)
	for _, pair := range s.pairs {
		for _, role := range s.cfg.RequiredRoles(phase) {
			if id, ok := pair.MemberFor(role); ok {
				expected[id] = role
			}
		}
	}

	s.ledger.Abort()
	if err := s.ledger.Open(ledger.Window{
		Round:    s.round,
		Phase:    phase,
		Bounds:   s.cfg.BoundsFor(phase),
		Binary:   phase == models.PhaseRespond,
		Expected: expected,
	}); err != nil {
		log.Error().Err(err).Str("session_code", s.code).Msg("failed to open phase")
	}

	s.phase = phase
	s.finishing = false
	s.schedule(s.cfg.PhaseDuration(phase, s.round))

	log.Info().
		Str("session_code", s.code).
		Int("round", s.round).
		Str("phase", string(phase)).
		Int("expected", len(expected)).
		Msg("phase started")

	s.each(func(p *models.Participant) {
		s.sendTo(p, events.TypePhaseStarted, s.phaseStartedFor(p))
	})

	if s.standIn != nil {
		if role, ok := expected[s.standIn.ID]; ok {
			s.launchStandIn(role)
		}
	}
}

func (s *Session) phaseStartedFor(p *models.Participant) events.PhaseStartedPayload {
	payload := events.PhaseStartedPayload{
		Round:        s.round,
		Phase:        s.phase,
		DurationSec:  seconds(s.phaseDuration),
		RemainingSec: s.remainingSec(),
		Bounds:       s.cfg.BoundsFor(s.phase),
	}
	pair := s.pairOf[p.ID]
	if pair == nil {
		return payload
	}
	payload.AssignedRole, _ = pair.RoleOf(p.ID)
	if _, expected := s.ledger.Window().Expected[p.ID]; expected && s.ledger.IsOpen() {
		payload.MustDecide = !s.ledger.Has(p.ID)
	}
	if s.phase == models.PhaseRespond {
		payload.PendingOffer = s.pendingOffer(pair)
	}
	return payload
}

func (s *Session) pendingOffer(pair *models.Pair) *float64 {
	proposer, ok := pair.MemberFor(models.RoleProposer)
	if !ok {
		return nil
	}
	sub, ok := s.ledger.Get(s.round, models.PhasePropose, proposer)
	if !ok {
		return nil
	}
	offer := sub.Value
	return &offer
}

// launchStandIn computes the stand-in decision off the actor. The result is
// tagged with the current epoch and dropped if the phase has moved on.
func (s *Session) launchStandIn(role models.DecisionRole) {
	standIn := s.standIn
	kind, _ := standIn.Kind.(models.StandIn)
	req := models.SuggestRequest{
		Config:     s.cfg,
		Phase:      s.phase,
		Role:       role,
		Round:      s.round,
		Bounds:     s.cfg.BoundsFor(s.phase),
		OwnHistory: append([]models.Outcome(nil), standIn.History...),
	}
	if pair := s.pairOf[standIn.ID]; pair != nil {
		if other, ok := pair.Counterpart(standIn.ID); ok {
			if p := s.participants[other]; p != nil {
				req.OpponentHistory = append([]models.Outcome(nil), p.History...)
			}
		}
		if s.phase == models.PhaseRespond {
			req.PendingOffer = s.pendingOffer(pair)
		}
	}

	ctx := s.standInContext()
	msg := standInDecisionMsg{
		epoch:         s.epoch,
		participantID: standIn.ID,
		role:          role,
		phase:         s.phase,
	}
	binary := s.phase == models.PhaseRespond
	go func() {
		msg.value = s.fallback.Decide(ctx, kind.Policy, req, binary)
		s.post(msg, ctx.Done())
	}()
}

func (s *Session) applyStandInDecision(msg standInDecisionMsg) {
	if msg.epoch != s.epoch || !s.ledger.IsOpen() || msg.phase != s.phase {
		log.Debug().
			Str("session_code", s.code).
			Uint64("epoch", msg.epoch).
			Msg("dropping late stand-in decision")
		return
	}
	if _, err := s.ledger.Record(msg.participantID, msg.phase, msg.role, msg.value, models.SourceStandIn, s.clock.Now()); err != nil {
		log.Warn().Err(err).Str("session_code", s.code).Msg("stand-in decision rejected")
	}
}

func (s *Session) tick() {
	if s.status != models.SessionStatusRunning {
		return
	}
	left := s.remainingSec()
	switch {
	case s.phase == models.PhaseReveal && s.finishing:
	case s.phase == models.PhaseReveal:
		s.broadcast(events.TypeCountdownToNextRound, events.CountdownPayload{
			NextRound: s.round + 1,
			Seconds:   left,
		})
	default:
		s.broadcast(events.TypeTimeRemaining, events.TimeRemainingPayload{
			Round:        s.round,
			Phase:        s.phase,
			RemainingSec: left,
		})
	}
	s.sweepPresence()
}

// expire handles the end of the current phase timer.
func (s *Session) expire() {
	if s.status != models.SessionStatusRunning {
		return
	}
	if s.phase == models.PhaseReveal {
		if s.finishing {
			s.complete(false)
			return
		}
		s.startRound()
		return
	}
	s.closePhase()
}

// closePhase fills missing decisions, then either opens the next phase of
// the round or scores it.
func (s *Session) closePhase() {
	s.cancelStandIns()
	now := s.clock.Now()

	subs, err := s.ledger.Close(s.fill, now)
	if err != nil {
		log.Error().Err(err).Str("session_code", s.code).Msg("failed to close phase")
	}
	forced := 0
	for _, sub := range subs {
		if sub.Forced {
			forced++
		}
	}
	log.Info().
		Str("session_code", s.code).
		Int("round", s.round).
		Str("phase", string(s.phase)).
		Int("decisions", len(subs)).
		Int("forced", forced).
		Msg("phase closed")

	if next, ok := nextPhase(s.cfg.Phases(), s.phase); ok {
		s.startPhase(next)
		return
	}

	result := s.scoreRound(now)
	s.history = append(s.history, result)
	s.publishResult(result)
	rec := models.RoundRecord{SessionCode: s.code, Result: result}
	s.record("round", func(ctx context.Context) error {
		return s.sink.RecordRound(ctx, rec)
	})

	if s.round >= s.cfg.Rounds {
		if d := s.cfg.CompletionDelay(); d > 0 {
			s.phase = models.PhaseReveal
			s.schedule(d)
			s.finishing = true
			return
		}
		s.complete(false)
		return
	}

	d := s.cfg.PhaseDuration(models.PhaseReveal, s.round)
	if d <= 0 {
		s.startRound()
		return
	}
	s.phase = models.PhaseReveal
	s.schedule(d)
	s.broadcast(events.TypeCountdownToNextRound, events.CountdownPayload{
		NextRound: s.round + 1,
		Seconds:   seconds(d),
	})
}

func nextPhase(phases []models.Phase, current models.Phase) (models.Phase, bool) {
	for i, p := range phases {
		if p == current && i+1 < len(phases) {
			return phases[i+1], true
		}
	}
	return "", false
}

// fill is the forced default for a missing decision.
func (s *Session) fill(id uuid.UUID, _ models.DecisionRole) (float64, models.SubmissionSource) {
	w := s.ledger.Window()
	v := s.fallback.Random(w.Bounds, w.Binary)
	if s.standIn != nil && id == s.standIn.ID {
		return v, models.SourceStandIn
	}
	return v, models.SourceTimeout
}

// submissionFor returns the closed decision of id, or a forced default if
// it is missing.
func (s *Session) submissionFor(id uuid.UUID, phase models.Phase, role models.DecisionRole, at time.Time) models.Submission {
	if sub, ok := s.ledger.Get(s.round, phase, id); ok {
		return sub
	}
	log.Warn().
		Str("session_code", s.code).
		Str("participant_id", id.String()).
		Str("phase", string(phase)).
		Msg("missing decision at scoring, using forced default")
	return models.Submission{
		ParticipantID: id,
		Round:         s.round,
		Phase:         phase,
		Role:          role,
		Value:         s.fallback.Random(s.cfg.BoundsFor(phase), phase == models.PhaseRespond),
		Forced:        true,
		Source:        models.SourceTimeout,
		SubmittedAt:   at,
	}
}

// scoreRound computes every pair outcome. Payoff model inputs are in role
// order (firm A before firm B, proposer before responder) regardless of
// which seat holds the role.
func (s *Session) scoreRound(at time.Time) models.RoundResult {
	roles := s.cfg.Roles()
	result := models.RoundResult{Round: s.round, RecordedAt: at}

	for _, pair := range s.pairs {
		var subs [2]models.Submission
		for i, role := range roles {
			id, _ := pair.MemberFor(role)
			phase := models.PhasePrice
			switch role {
			case models.RoleProposer:
				phase = models.PhasePropose
			case models.RoleResponder:
				phase = models.PhaseRespond
			}
			subs[i] = s.submissionFor(id, phase, role, at)
		}

		out := s.model.Compute(subs[0].Value, subs[1].Value)
		po := models.PairOutcome{PairID: pair.ID}
		for i, sub := range subs {
			seat := pair.Seat(sub.ParticipantID)
			if seat < 0 {
				continue
			}
			d := models.Decision{
				ParticipantID: sub.ParticipantID,
				Role:          sub.Role,
				Value:         sub.Value,
				Forced:        sub.Forced,
				Payoff:        out.Payoffs[i],
				Share:         out.Shares[i],
				Demand:        out.Demands[i],
			}
			if p := s.participants[sub.ParticipantID]; p != nil {
				d.Name = p.Name
				d.StandIn = p.IsStandIn()
			}
			po.Sides[seat] = d
		}
		if s.cfg.Game == models.GameUltimatum {
			accepted := payoff.Accepted(subs[1].Value)
			po.Accepted = &accepted
		}

		for seat, id := range pair.Members {
			if p := s.participants[id]; p != nil {
				p.History = append(p.History, po.OutcomeFor(s.round, seat, !s.cfg.Features.HideCounterpartName))
			}
		}
		result.Pairs = append(result.Pairs, po)
	}
	return result
}

func (s *Session) publishResult(result models.RoundResult) {
	s.each(func(p *models.Participant) {
		switch p.Role {
		case models.ParticipantRoleInstructor:
			s.sendTo(p, events.TypeRoundSummary, events.RoundSummaryPayload{Result: result})
		case models.ParticipantRoleParticipant:
			if len(p.History) == 0 || p.History[len(p.History)-1].Round != result.Round {
				return
			}
			s.sendTo(p, events.TypePhaseResult, events.PhaseResultPayload{Outcome: p.History[len(p.History)-1]})
		}
	})
}

// complete ends the session. A forced end discards the in-flight phase.
func (s *Session) complete(forced bool) {
	s.cancelTimer()
	s.epoch++
	s.cancelStandIns()
	s.ledger.Abort()

	s.status = models.SessionStatusComplete
	s.phase = ""
	s.finishing = false
	now := s.clock.Now()

	s.each(func(p *models.Participant) {
		payload := events.SessionCompletePayload{
			History: s.history,
			Forced:  forced,
		}
		if p.Role == models.ParticipantRoleParticipant {
			payload.Personal = p.History
		}
		s.sendTo(p, events.TypeSessionComplete, payload)
	})

	rec := models.CompletionRecord{
		SessionCode: s.code,
		Info:        s.sessionInfo(),
		CompletedAt: now,
		ForcedEnd:   forced,
		History:     s.historyCopy(),
	}
	s.record("completion", func(ctx context.Context) error {
		return s.sink.RecordCompletion(ctx, rec)
	})
	s.scheduleEviction()

	log.Info().
		Str("session_code", s.code).
		Int("round", s.round).
		Bool("forced", forced).
		Int("rounds_played", len(s.history)).
		Msg("session complete")
}
