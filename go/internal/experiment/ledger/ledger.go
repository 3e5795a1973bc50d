// Package ledger tracks which decisions have arrived for the open phase and
// enforces at most one decision per participant per phase.
package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/marketlab/go/internal/models"
)

// Window describes the phase being collected.
type Window struct {
	Round  int
	Phase  models.Phase
	Bounds models.Bounds
	// Binary restricts values to 0 or 1.
	Binary bool
	// Expected maps every participant that must decide to its role.
	Expected map[uuid.UUID]models.DecisionRole
}

type phaseKey struct {
	round int
	phase models.Phase
}

// FillFunc supplies a value for a participant that did not decide in time.
type FillFunc func(participantID uuid.UUID, role models.DecisionRole) (float64, models.SubmissionSource)

// Ledger is owned by one session actor and is not safe for concurrent use.
type Ledger struct {
	window  Window
	open    bool
	entries map[uuid.UUID]models.Submission
	closed  map[phaseKey]map[uuid.UUID]models.Submission
}

// New returns an empty ledger with no open phase.
func New() *Ledger {
	return &Ledger{
		closed: make(map[phaseKey]map[uuid.UUID]models.Submission),
	}
}

// Open starts collecting decisions for w. Any previous window must have been
// closed.
func (l *Ledger) Open(w Window) error {
	if l.open {
		return fmt.Errorf("%w: phase %s of round %d is still open", models.ErrPrecondition, l.window.Phase, l.window.Round)
	}
	expected := make(map[uuid.UUID]models.DecisionRole, len(w.Expected))
	for id, role := range w.Expected {
		expected[id] = role
	}
	w.Expected = expected
	l.window = w
	l.open = true
	l.entries = make(map[uuid.UUID]models.Submission, len(expected))
	return nil
}

// IsOpen reports whether a phase is collecting decisions.
func (l *Ledger) IsOpen() bool { return l.open }

// Window returns the current (or last) window.
func (l *Ledger) Window() Window { return l.window }

// Record stores a decision. It rejects values when no phase is open, when
// the phase or role does not match, when the value is out of bounds, or when
// the participant already decided. A recorded value is never overwritten.
func (l *Ledger) Record(participantID uuid.UUID, phase models.Phase, role models.DecisionRole, value float64, source models.SubmissionSource, at time.Time) (models.Submission, error) {
	if !l.open {
		return models.Submission{}, fmt.Errorf("%w: no phase is open", models.ErrPrecondition)
	}
	if phase != l.window.Phase {
		return models.Submission{}, fmt.Errorf("%w: phase %s is not open (current %s)", models.ErrValidation, phase, l.window.Phase)
	}
	expected, ok := l.window.Expected[participantID]
	if !ok {
		return models.Submission{}, fmt.Errorf("%w: no decision expected from this participant in phase %s", models.ErrValidation, phase)
	}
	if role != expected {
		return models.Submission{}, fmt.Errorf("%w: phase %s expects role %s, got %s", models.ErrValidation, phase, expected, role)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || !l.window.Bounds.Contains(value) {
		return models.Submission{}, fmt.Errorf("%w: value %v outside [%v, %v]", models.ErrValidation, value, l.window.Bounds.Min, l.window.Bounds.Max)
	}
	if l.window.Binary && value != 0 && value != 1 {
		return models.Submission{}, fmt.Errorf("%w: value must be 0 (reject) or 1 (accept)", models.ErrValidation)
	}
	if _, dup := l.entries[participantID]; dup {
		return models.Submission{}, fmt.Errorf("%w: decision already recorded for phase %s", models.ErrPrecondition, phase)
	}

	sub := models.Submission{
		ParticipantID: participantID,
		Round:         l.window.Round,
		Phase:         phase,
		Role:          role,
		Value:         value,
		Source:        source,
		SubmittedAt:   at,
	}
	l.entries[participantID] = sub
	return sub, nil
}

// Has reports whether participantID decided in the open phase.
func (l *Ledger) Has(participantID uuid.UUID) bool {
	_, ok := l.entries[participantID]
	return ok
}

// Progress returns how many of the expected decisions of the open phase have
// arrived.
func (l *Ledger) Progress() (submitted, expected int) {
	if !l.open {
		return 0, 0
	}
	return len(l.entries), len(l.window.Expected)
}

// Missing returns the participants still expected to decide.
func (l *Ledger) Missing() map[uuid.UUID]models.DecisionRole {
	missing := make(map[uuid.UUID]models.DecisionRole)
	if !l.open {
		return missing
	}
	for id, role := range l.window.Expected {
		if _, ok := l.entries[id]; !ok {
			missing[id] = role
		}
	}
	return missing
}

// Close ends the phase. Every expected participant without a decision gets
// one from fill. Fills are flagged forced unless fill attributes them to a
// stand-in. The returned map holds exactly one submission per expected
// participant.
func (l *Ledger) Close(fill FillFunc, at time.Time) (map[uuid.UUID]models.Submission, error) {
	if !l.open {
		return nil, fmt.Errorf("%w: no phase is open", models.ErrPrecondition)
	}
	for id, role := range l.Missing() {
		value, source := fill(id, role)
		l.entries[id] = models.Submission{
			ParticipantID: id,
			Round:         l.window.Round,
			Phase:         l.window.Phase,
			Role:          role,
			Value:         value,
			Forced:        source != models.SourceStandIn,
			Source:        source,
			SubmittedAt:   at,
		}
	}

	out := l.entries
	l.closed[phaseKey{round: l.window.Round, phase: l.window.Phase}] = out
	l.entries = nil
	l.open = false

	copied := make(map[uuid.UUID]models.Submission, len(out))
	for k, v := range out {
		copied[k] = v
	}
	return copied, nil
}

// Abort discards the open phase without filling anything.
func (l *Ledger) Abort() {
	l.open = false
	l.entries = nil
}

// Get returns a submission from a closed phase, or from the open phase.
func (l *Ledger) Get(round int, phase models.Phase, participantID uuid.UUID) (models.Submission, bool) {
	if l.open && l.window.Round == round && l.window.Phase == phase {
		s, ok := l.entries[participantID]
		return s, ok
	}
	s, ok := l.closed[phaseKey{round: round, phase: phase}][participantID]
	return s, ok
}
