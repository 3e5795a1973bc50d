package orchestrator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/marketlab/go/internal/experiment/events"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSession_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.reg.CreateSession(ctx, "", "Econ", pricingConfig())
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = h.reg.CreateSession(ctx, instructorID, "  ", pricingConfig())
	assert.ErrorIs(t, err, models.ErrValidation)

	bad := pricingConfig()
	bad.Rounds = 0
	_, err = h.reg.CreateSession(ctx, instructorID, "Econ", bad)
	assert.ErrorIs(t, err, models.ErrValidation)

	untimed := ultimatumConfig()
	untimed.PhaseDurationSec = 0
	untimed.ResponseDurationSec = 0
	untimed.RoundDurationsSec = []int{30}
	_, err = h.reg.CreateSession(ctx, instructorID, "Econ", untimed)
	assert.ErrorIs(t, err, models.ErrValidation)

	code, err := h.reg.CreateSession(ctx, instructorID, "Econ", pricingConfig())
	require.NoError(t, err)
	normalized, err := NormalizeCode(code)
	require.NoError(t, err)
	assert.Equal(t, code, normalized)

	info, err := h.reg.Info(code)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusSetup, info.Status)
	assert.Equal(t, 0, info.CurrentRound)

	require.Eventually(t, func() bool {
		h.sink.mu.Lock()
		defer h.sink.mu.Unlock()
		return len(h.sink.sessions) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNormalizeCode(t *testing.T) {
	code, err := NormalizeCode(" abc234 ")
	require.NoError(t, err)
	assert.Equal(t, "ABC234", code)

	for _, bad := range []string{"", "ABC23", "ABC2345", "ABCO12", "ABC-23"} {
		_, err := NormalizeCode(bad)
		assert.ErrorIs(t, err, models.ErrValidation, bad)
	}
}

func TestLifecycle_Transitions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	code, err := h.reg.CreateSession(ctx, instructorID, "Econ", pricingConfig())
	require.NoError(t, err)

	err = h.reg.StartSession(ctx, code, instructorID)
	assert.ErrorIs(t, err, models.ErrPrecondition, "cannot start from setup")

	err = h.reg.OpenLobby(ctx, code, "someone-else")
	assert.ErrorIs(t, err, models.ErrValidation, "only the instructor opens the lobby")

	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "early", Role: models.ParticipantRoleParticipant, ConnID: "early"})
	assert.ErrorIs(t, err, models.ErrPrecondition, "participants wait for the lobby")

	require.NoError(t, h.reg.OpenLobby(ctx, code, instructorID))
	assert.ErrorIs(t, h.reg.OpenLobby(ctx, code, instructorID), models.ErrPrecondition)

	err = h.reg.StartSession(ctx, code, instructorID)
	assert.ErrorIs(t, err, models.ErrPrecondition, "pricing needs one participant")

	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "alice", Role: models.ParticipantRoleParticipant, ConnID: "a"})
	require.NoError(t, err)
	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "ALICE", Role: models.ParticipantRoleParticipant, ConnID: "a2"})
	assert.ErrorIs(t, err, models.ErrValidation, "names are unique")

	assert.ErrorIs(t, h.reg.StartSession(ctx, code, "someone-else"), models.ErrValidation)
	require.NoError(t, h.reg.StartSession(ctx, code, instructorID))

	info, err := h.reg.Info(code)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusRunning, info.Status)
	assert.Equal(t, 1, info.CurrentRound)
	assert.Equal(t, models.PhasePrice, info.Phase)
	assert.True(t, info.HasStandIn, "a lone participant plays a stand-in")

	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "late", Role: models.ParticipantRoleParticipant, ConnID: "late"})
	assert.ErrorIs(t, err, models.ErrPrecondition, "no new participants while running")

	require.NoError(t, h.reg.EndSession(ctx, code, instructorID))
	assert.ErrorIs(t, h.reg.EndSession(ctx, code, instructorID), models.ErrPrecondition)
}

func TestStartSession_UltimatumNeedsTwo(t *testing.T) {
	h := newHarness(t, nil)
	code := h.lobby(ultimatumConfig(), "a")

	err := h.reg.StartSession(context.Background(), code, instructorID)
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestPhase_NoEarlyClose(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cfg := pricingConfig()
	cfg.Rounds = 2
	code := h.lobby(cfg, "a", "b")
	h.start(code)

	require.NoError(t, h.reg.SubmitDecision(ctx, code, "a", h.assignedRole("a"), 10))
	require.NoError(t, h.reg.SubmitDecision(ctx, code, "b", h.assignedRole("b"), 20))
	assert.Len(t, h.emitter.to("a", events.TypeDecisionAck), 1)

	h.clock.Advance(29 * time.Second)
	require.Eventually(t, func() bool {
		return h.emitter.count(events.TypeTimeRemaining) > 0
	}, 2*time.Second, 5*time.Millisecond, "ticks broadcast the remaining time")
	require.NoError(t, h.reg.Heartbeat(ctx, code, "a"))
	info, err := h.reg.Info(code)
	require.NoError(t, err)
	assert.Equal(t, models.PhasePrice, info.Phase, "phase stays open until the timer expires")
	assert.Empty(t, h.sink.roundRecords())

	h.clock.Advance(time.Second)
	h.waitPhase(code, 1, models.PhaseReveal)

	recs := h.waitRounds(1)
	require.Len(t, recs[0].Result.Pairs, 1)
	pair := recs[0].Result.Pairs[0]
	values := map[float64]bool{}
	for _, side := range pair.Sides {
		assert.False(t, side.Forced)
		assert.False(t, side.StandIn)
		values[side.Value] = true
	}
	assert.Equal(t, map[float64]bool{10: true, 20: true}, values)

	assert.NotEmpty(t, h.emitter.to("a", events.TypePhaseResult))
	assert.Positive(t, h.emitter.count(events.TypeCountdownToNextRound))
}

func TestPhase_ForcedDefaultsStayInBounds(t *testing.T) {
	h := newHarness(t, nil)
	code := h.lobby(pricingConfig(), "a", "b", "c", "d")
	h.start(code)

	h.clock.Advance(30 * time.Second)
	recs := h.waitRounds(1)
	require.Len(t, recs[0].Result.Pairs, 2)

	seen := map[uuid.UUID]bool{}
	for _, pair := range recs[0].Result.Pairs {
		for _, side := range pair.Sides {
			assert.True(t, side.Forced)
			assert.GreaterOrEqual(t, side.Value, 0.0)
			assert.LessOrEqual(t, side.Value, 50.0)
			assert.False(t, math.IsNaN(side.Payoff))
			seen[side.ParticipantID] = true
		}
	}
	assert.Len(t, seen, 4, "every participant has exactly one decision")
}

func TestSubmitDecision_Rejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cfg := pricingConfig()
	cfg.Rounds = 2
	code := h.lobby(cfg, "a", "b")

	err := h.reg.SubmitDecision(ctx, code, "a", models.RoleFirmA, 10)
	assert.ErrorIs(t, err, models.ErrPrecondition, "not running yet")

	h.start(code)
	roleA, roleB := h.assignedRole("a"), h.assignedRole("b")
	require.NotEqual(t, roleA, roleB)

	assert.ErrorIs(t, h.reg.SubmitDecision(ctx, code, "a", roleA, 51), models.ErrValidation)
	assert.ErrorIs(t, h.reg.SubmitDecision(ctx, code, "a", roleA, -1), models.ErrValidation)
	assert.ErrorIs(t, h.reg.SubmitDecision(ctx, code, "a", roleA, math.NaN()), models.ErrValidation)
	assert.ErrorIs(t, h.reg.SubmitDecision(ctx, code, "a", roleB, 10), models.ErrValidation, "role mismatch")
	assert.ErrorIs(t, h.reg.SubmitDecision(ctx, code, "nobody", roleA, 10), models.ErrNotFound)

	require.NoError(t, h.reg.SubmitDecision(ctx, code, "a", roleA, 12.5))
	assert.ErrorIs(t, h.reg.SubmitDecision(ctx, code, "a", roleA, 13), models.ErrPrecondition, "duplicates are rejected")

	h.clock.Advance(30 * time.Second)
	h.waitPhase(code, 1, models.PhaseReveal)
	assert.ErrorIs(t, h.reg.SubmitDecision(ctx, code, "b", roleB, 10), models.ErrPrecondition, "no decisions during reveal")

	recs := h.waitRounds(1)
	for _, side := range recs[0].Result.Pairs[0].Sides {
		if side.Role == roleA {
			assert.Equal(t, 12.5, side.Value, "the first value is never overwritten")
			assert.False(t, side.Forced)
		} else {
			assert.True(t, side.Forced)
		}
	}
}

func TestJoin_RejoinIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code := h.lobby(pricingConfig())

	first, err := h.reg.Join(ctx, code, JoinRequest{Name: "alice", Role: models.ParticipantRoleParticipant, ConnID: "c1"})
	require.NoError(t, err)
	require.NotEmpty(t, first.RejoinToken)

	h.reg.Leave(ctx, code, "c1")

	rejoin := JoinRequest{Name: " Alice ", RejoinToken: first.RejoinToken, ConnID: "c2"}
	second, err := h.reg.Join(ctx, code, rejoin)
	require.NoError(t, err)
	assert.Equal(t, first.ParticipantID, second.ParticipantID)

	third, err := h.reg.Join(ctx, code, rejoin)
	require.NoError(t, err)
	assert.Equal(t, second.ParticipantID, third.ParticipantID)

	info, err := h.reg.Info(code)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Participants)
	assert.Equal(t, 1, info.Connected)

	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "bob", RejoinToken: first.RejoinToken, ConnID: "c3"})
	assert.ErrorIs(t, err, models.ErrValidation, "name must match the token")

	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "alice", RejoinToken: uuid.NewString(), ConnID: "c4"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "alice", RejoinToken: "not-a-token", ConnID: "c5"})
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.Len(t, h.emitter.to("c2", events.TypeSessionSnapshot), 2)
}

func TestJoin_RejoinMidPhaseRestoresState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code := h.lobby(pricingConfig(), "b")
	joined, err := h.reg.Join(ctx, code, JoinRequest{Name: "a", Role: models.ParticipantRoleParticipant, ConnID: "a"})
	require.NoError(t, err)
	h.start(code)

	role := h.assignedRole("a")
	require.NoError(t, h.reg.SubmitDecision(ctx, code, "a", role, 15))
	h.waitFor(code, func(i Info) bool { return i.Submitted == 1 && i.Expected == 2 })

	h.reg.Leave(ctx, code, "a")
	h.clock.Advance(10 * time.Second)

	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "a", RejoinToken: joined.RejoinToken, ConnID: "a-new"})
	require.NoError(t, err)

	snaps := h.emitter.to("a-new", events.TypeSessionSnapshot)
	require.Len(t, snaps, 1)
	var snap events.SessionSnapshotPayload
	require.NoError(t, snaps[0].Decode(&snap))
	assert.Equal(t, models.SessionStatusRunning, snap.Status)
	assert.Equal(t, 20, snap.RemainingSec, "late joiners get the remaining time")
	require.NotNil(t, snap.You)
	assert.True(t, snap.You.Submitted)
	assert.Equal(t, role, snap.You.AssignedRole)

	assert.Equal(t, role, h.assignedRole("a-new"))
	started := h.emitter.to("a-new", events.TypePhaseStarted)
	var payload events.PhaseStartedPayload
	require.NoError(t, started[0].Decode(&payload))
	assert.False(t, payload.MustDecide)

	h.clock.Advance(20 * time.Second)
	recs := h.waitRounds(1)
	for _, side := range recs[0].Result.Pairs[0].Sides {
		if side.Role == role {
			assert.Equal(t, 15.0, side.Value, "the decision survives the reconnect")
		}
	}
}

func TestPricing_OddCountUsesOneStandIn(t *testing.T) {
	h := newHarness(t, nil)
	cfg := pricingConfig()
	cfg.Rounds = 2
	code := h.lobby(cfg, "a", "b", "c")
	h.start(code)

	h.clock.Advance(30 * time.Second)
	h.waitPhase(code, 1, models.PhaseReveal)
	h.clock.Advance(5 * time.Second)
	h.waitPhase(code, 2, models.PhasePrice)
	h.clock.Advance(30 * time.Second)

	recs := h.waitRounds(2)
	standIns := map[uuid.UUID]bool{}
	for _, rec := range recs {
		require.Len(t, rec.Result.Pairs, 2)
		humans := 0
		for _, pair := range rec.Result.Pairs {
			for _, side := range pair.Sides {
				if side.StandIn {
					standIns[side.ParticipantID] = true
					assert.Equal(t, standInName, side.Name)
				} else {
					humans++
				}
			}
		}
		assert.Equal(t, 3, humans)
	}
	assert.Len(t, standIns, 1, "the stand-in is reused across rounds")
}

func TestUltimatum_ForcedResponder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code := h.lobby(ultimatumConfig(), "a", "b")
	h.start(code)

	proposer, responder := "a", "b"
	if h.assignedRole("a") != models.RoleProposer {
		proposer, responder = "b", "a"
	}
	require.Equal(t, models.RoleProposer, h.assignedRole(proposer))
	require.Equal(t, models.RoleResponder, h.assignedRole(responder))

	assert.ErrorIs(t, h.reg.SubmitDecision(ctx, code, responder, models.RoleResponder, 1), models.ErrValidation,
		"responders wait for the offer")
	require.NoError(t, h.reg.SubmitDecision(ctx, code, proposer, models.RoleProposer, 8))

	h.clock.Advance(20 * time.Second)
	h.waitPhase(code, 1, models.PhaseRespond)

	started := h.emitter.to(responder, events.TypePhaseStarted)
	var payload events.PhaseStartedPayload
	require.NoError(t, started[len(started)-1].Decode(&payload))
	assert.Equal(t, models.PhaseRespond, payload.Phase)
	assert.True(t, payload.MustDecide)
	require.NotNil(t, payload.PendingOffer)
	assert.Equal(t, 8.0, *payload.PendingOffer)
	assert.Equal(t, 15, payload.DurationSec)

	h.clock.Advance(15 * time.Second)
	recs := h.waitRounds(1)
	pair := recs[0].Result.Pairs[0]
	require.NotNil(t, pair.Accepted)

	var offer, answer models.Decision
	for _, side := range pair.Sides {
		switch side.Role {
		case models.RoleProposer:
			offer = side
		case models.RoleResponder:
			answer = side
		}
	}
	assert.Equal(t, 8.0, offer.Value)
	assert.False(t, offer.Forced)
	assert.True(t, answer.Forced)
	assert.Contains(t, []float64{0, 1}, answer.Value)

	if *pair.Accepted {
		assert.Equal(t, 12.0, offer.Payoff)
		assert.Equal(t, 8.0, answer.Payoff)
	} else {
		assert.Zero(t, offer.Payoff)
		assert.Zero(t, answer.Payoff)
	}
}

func TestUltimatum_RotateRolesKeepsPairs(t *testing.T) {
	h := newHarness(t, nil)
	cfg := ultimatumConfig()
	cfg.Rounds = 2
	cfg.Features.RotateRoles = true
	code := h.lobby(cfg, "a", "b")
	h.start(code)

	first := h.assignedRole("a")
	h.clock.Advance(20 * time.Second)
	h.waitPhase(code, 1, models.PhaseRespond)
	h.clock.Advance(15 * time.Second)
	h.waitPhase(code, 1, models.PhaseReveal)
	h.clock.Advance(5 * time.Second)
	h.waitPhase(code, 2, models.PhasePropose)

	second := h.assignedRole("a")
	assert.NotEqual(t, first, second)

	require.Eventually(t, func() bool { return len(h.sink.assignmentRecords()) == 2 }, 2*time.Second, 5*time.Millisecond)
	recs := h.sink.assignmentRecords()
	require.Len(t, recs[0].Pairs, 1)
	require.Len(t, recs[1].Pairs, 1)
	before, after := recs[0].Pairs[0], recs[1].Pairs[0]
	assert.Equal(t, 2, after.Round)
	assert.Equal(t, before.ID, after.ID, "ultimatum pairs are fixed")
	assert.Equal(t, before.Members, after.Members)
	assert.Equal(t, [2]models.DecisionRole{before.Roles[1], before.Roles[0]}, after.Roles)
}

func TestStandIn_AdvisorDecision(t *testing.T) {
	adv := &mockAdvisor{value: 42}
	h := newHarness(t, adv)
	cfg := pricingConfig()
	cfg.Features.StandInAdvisor = true
	code := h.lobby(cfg, "a")
	h.start(code)

	h.waitFor(code, func(i Info) bool { return i.Submitted == 1 && i.Expected == 2 })

	h.clock.Advance(30 * time.Second)
	recs := h.waitRounds(1)
	for _, side := range recs[0].Result.Pairs[0].Sides {
		if side.StandIn {
			assert.Equal(t, 42.0, side.Value)
			assert.False(t, side.Forced)
		} else {
			assert.True(t, side.Forced)
		}
	}

	adv.mu.Lock()
	defer adv.mu.Unlock()
	require.Len(t, adv.calls, 1)
	assert.Equal(t, models.PhasePrice, adv.calls[0].Phase)
	assert.Equal(t, models.Bounds{Min: 0, Max: 50}, adv.calls[0].Bounds)
	assert.Equal(t, 1, adv.calls[0].Round)
}

func TestStandIn_AdvisorFailureFallsBackToRandom(t *testing.T) {
	adv := &mockAdvisor{err: errors.New("advisor down")}
	h := newHarness(t, adv)
	cfg := pricingConfig()
	cfg.Features.StandInAdvisor = true
	code := h.lobby(cfg, "a")
	h.start(code)

	require.Eventually(t, func() bool { return adv.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.clock.Advance(30 * time.Second)
	recs := h.waitRounds(1)
	for _, side := range recs[0].Result.Pairs[0].Sides {
		assert.GreaterOrEqual(t, side.Value, 0.0)
		assert.LessOrEqual(t, side.Value, 50.0)
	}
}

func TestEndSession_CancelsTimersAndLateStandIn(t *testing.T) {
	adv := &mockAdvisor{release: make(chan struct{})}
	h := newHarness(t, adv)
	ctx := context.Background()
	cfg := pricingConfig()
	cfg.Features.StandInAdvisor = true
	code := h.lobby(cfg, "a")
	h.start(code)

	require.Eventually(t, func() bool { return adv.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.reg.EndSession(ctx, code, instructorID))
	h.waitStatus(code, models.SessionStatusComplete)

	close(adv.release)
	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.reg.Heartbeat(ctx, code, "a"))

	info, err := h.reg.Info(code)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusComplete, info.Status)
	assert.Empty(t, info.Phase)
	assert.Empty(t, h.sink.roundRecords(), "the in-flight phase is discarded")
	assert.Zero(t, h.emitter.count(events.TypePhaseResult))

	require.Eventually(t, func() bool { return len(h.sink.completionRecords()) == 1 }, time.Second, 5*time.Millisecond)
	rec := h.sink.completionRecords()[0]
	assert.True(t, rec.ForcedEnd)
	assert.Empty(t, rec.History)

	completes := h.emitter.to("a", events.TypeSessionComplete)
	require.Len(t, completes, 1)
	var payload events.SessionCompletePayload
	require.NoError(t, completes[0].Decode(&payload))
	assert.True(t, payload.Forced)
}

func TestSession_CompletesAndFallsBackToArchive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	cfg := pricingConfig()
	cfg.Rounds = 2
	cfg.CompletionDelaySec = 2
	code := h.lobby(cfg, "a", "b")
	h.start(code)

	h.clock.Advance(30 * time.Second)
	h.waitPhase(code, 1, models.PhaseReveal)
	h.clock.Advance(5 * time.Second)
	h.waitPhase(code, 2, models.PhasePrice)
	h.clock.Advance(30 * time.Second)
	h.waitPhase(code, 2, models.PhaseReveal)
	h.clock.Advance(2 * time.Second)
	h.waitStatus(code, models.SessionStatusComplete)

	info, err := h.reg.Info(code)
	require.NoError(t, err)
	assert.Equal(t, 2, info.CurrentRound, "the round never exceeds the configured count")

	completes := h.emitter.to("a", events.TypeSessionComplete)
	require.Len(t, completes, 1)
	var payload events.SessionCompletePayload
	require.NoError(t, completes[0].Decode(&payload))
	assert.Len(t, payload.History, 2)
	assert.Len(t, payload.Personal, 2)
	assert.False(t, payload.Forced)

	observer, err := h.reg.Join(ctx, code, JoinRequest{Name: "viewer", Role: models.ParticipantRoleParticipant, ConnID: "viewer"})
	require.NoError(t, err)
	assert.True(t, observer.ReadOnly)
	assert.Len(t, observer.History, 2)

	require.Eventually(t, func() bool { return len(h.sink.completionRecords()) == 1 }, time.Second, 5*time.Millisecond)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		_, err := h.reg.Info(code)
		return errors.Is(err, models.ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)

	archived, err := h.reg.Join(ctx, code, JoinRequest{Name: "a", ConnID: "late"})
	require.NoError(t, err)
	assert.True(t, archived.ReadOnly)
	assert.Equal(t, models.SessionStatusComplete, archived.Status)
	assert.Len(t, archived.History, 2)

	_, err = h.reg.Join(ctx, "ZZZZZZ", JoinRequest{Name: "a", ConnID: "x"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPresence_RosterUpdates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	code := h.lobby(pricingConfig())

	_, err := h.reg.Join(ctx, code, JoinRequest{Name: "prof", Role: models.ParticipantRoleInstructor, InstructorID: "wrong", ConnID: "inst"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "prof", Role: models.ParticipantRoleInstructor, InstructorID: instructorID, ConnID: "inst"})
	require.NoError(t, err)
	_, err = h.reg.Join(ctx, code, JoinRequest{Name: "alice", Role: models.ParticipantRoleParticipant, ConnID: "a"})
	require.NoError(t, err)

	presenceOf := func(name string) models.PresenceStatus {
		updates := h.emitter.to("inst", events.TypeRosterUpdate)
		require.NotEmpty(t, updates)
		var payload events.RosterUpdatePayload
		require.NoError(t, updates[len(updates)-1].Decode(&payload))
		for _, e := range payload.Roster {
			if e.Name == name {
				return e.Presence
			}
		}
		return ""
	}
	assert.Equal(t, models.PresenceOnline, presenceOf("alice"))

	h.clock.Advance(31 * time.Second)
	require.NoError(t, h.reg.Heartbeat(ctx, code, "inst"))
	assert.Equal(t, models.PresenceAway, presenceOf("alice"))

	require.NoError(t, h.reg.Heartbeat(ctx, code, "a"))
	assert.Equal(t, models.PresenceOnline, presenceOf("alice"))

	h.reg.Leave(ctx, code, "a")
	require.NoError(t, h.reg.Heartbeat(ctx, code, "inst"))
	assert.Equal(t, models.PresenceOffline, presenceOf("alice"))

	assert.ErrorIs(t, h.reg.Heartbeat(ctx, code, "a"), models.ErrNotFound)
}

func TestRegistry_ListAndLookup(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.reg.CreateSession(ctx, instructorID, "Morning", pricingConfig())
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	second, err := h.reg.CreateSession(ctx, instructorID, "Afternoon", ultimatumConfig())
	require.NoError(t, err)

	list := h.reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].Code)
	assert.Equal(t, first, list[1].Code)

	_, err = h.reg.Info("bad")
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.ErrorIs(t, h.reg.OpenLobby(ctx, "ZZZZZZ", instructorID), models.ErrNotFound)
}

func TestFallbackStrategy_Random(t *testing.T) {
	f := NewFallbackStrategy(nil, time.Second)
	bounds := models.Bounds{Min: 1.5, Max: 2.5}
	for i := 0; i < 200; i++ {
		v := f.Random(bounds, false)
		assert.GreaterOrEqual(t, v, 1.5)
		assert.LessOrEqual(t, v, 2.5)

		b := f.Random(models.Bounds{Min: 0, Max: 1}, true)
		assert.Contains(t, []float64{0, 1}, b)
	}
}

func TestFallbackStrategy_AdvisorOutOfBounds(t *testing.T) {
	f := NewFallbackStrategy(&mockAdvisor{value: 99}, time.Second)
	req := models.SuggestRequest{Bounds: models.Bounds{Min: 0, Max: 10}}
	v := f.Decide(context.Background(), models.FallbackAdvisor, req, false)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 10.0)

	binary := NewFallbackStrategy(&mockAdvisor{value: 0.7}, time.Second)
	v = binary.Decide(context.Background(), models.FallbackAdvisor, models.SuggestRequest{Bounds: models.Bounds{Min: 0, Max: 1}}, true)
	assert.Equal(t, 1.0, v)
}

func TestPhaseResult_CounterpartName(t *testing.T) {
	tests := []struct {
		name string
		hide bool
		want string
	}{
		{name: "shown by default", want: "b"},
		{name: "hidden on request", hide: true, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			cfg := pricingConfig()
			cfg.Features.HideCounterpartName = tt.hide
			code := h.lobby(cfg, "a", "b")
			h.start(code)

			h.clock.Advance(30 * time.Second)
			require.Eventually(t, func() bool {
				return len(h.emitter.to("a", events.TypePhaseResult)) == 1
			}, 2*time.Second, 5*time.Millisecond)

			var payload events.PhaseResultPayload
			require.NoError(t, h.emitter.to("a", events.TypePhaseResult)[0].Decode(&payload))
			assert.Equal(t, 1, payload.Outcome.Round)
			assert.Equal(t, tt.want, payload.Outcome.CounterpartName)
		})
	}
}

func TestStandIn_LateFallbackIsNotForced(t *testing.T) {
	adv := &mockAdvisor{release: make(chan struct{})}
	h := newHarness(t, adv)
	cfg := pricingConfig()
	cfg.Features.StandInAdvisor = true
	code := h.lobby(cfg, "a")
	h.start(code)

	require.Eventually(t, func() bool { return adv.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	h.clock.Advance(30 * time.Second)

	recs := h.waitRounds(1)
	close(adv.release)
	for _, side := range recs[0].Result.Pairs[0].Sides {
		assert.GreaterOrEqual(t, side.Value, 0.0)
		assert.LessOrEqual(t, side.Value, 50.0)
		assert.Equal(t, !side.StandIn, side.Forced, "only the human is forced")
	}
}
