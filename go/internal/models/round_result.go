package models

import (
	"time"

	"github.com/google/uuid"
)

// Decision is one side of a pair outcome.
type Decision struct {
	ParticipantID uuid.UUID    `json:"participant_id"`
	Name          string       `json:"name"`
	Role          DecisionRole `json:"role"`
	Value         float64      `json:"value"`
	Forced        bool         `json:"forced"`
	StandIn       bool         `json:"stand_in"`
	Payoff        float64      `json:"payoff"`
	Share         float64      `json:"share,omitempty"`
	Demand        float64      `json:"demand,omitempty"`
}

// PairOutcome is the computed result of one pair in one round.
type PairOutcome struct {
	PairID uuid.UUID `json:"pair_id"`
	// Sides follows the pair's seat order.
	Sides [2]Decision `json:"sides"`
	// Accepted is set for ultimatum rounds only.
	Accepted *bool `json:"accepted,omitempty"`
}

// RoundResult is immutable once recorded.
type RoundResult struct {
	Round      int           `json:"round"`
	Pairs      []PairOutcome `json:"pairs"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Outcome is one participant's view of a round.
type Outcome struct {
	Round             int          `json:"round"`
	Role              DecisionRole `json:"role"`
	OwnValue          float64      `json:"own_value"`
	OwnPayoff         float64      `json:"own_payoff"`
	OwnForced         bool         `json:"own_forced"`
	CounterpartValue  float64      `json:"counterpart_value"`
	CounterpartPayoff float64      `json:"counterpart_payoff"`
	CounterpartName   string       `json:"counterpart_name,omitempty"`
	Accepted          *bool        `json:"accepted,omitempty"`
}

// OutcomeFor builds the personalized outcome of side seat.
func (o PairOutcome) OutcomeFor(round, seat int, showName bool) Outcome {
	own, other := o.Sides[seat], o.Sides[1-seat]
	out := Outcome{
		Round:             round,
		Role:              own.Role,
		OwnValue:          own.Value,
		OwnPayoff:         own.Payoff,
		OwnForced:         own.Forced,
		CounterpartValue:  other.Value,
		CounterpartPayoff: other.Payoff,
		Accepted:          o.Accepted,
	}
	if showName {
		out.CounterpartName = other.Name
	}
	return out
}
