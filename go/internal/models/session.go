package models

import (
	"fmt"
	"time"
)

// GameKind defines which experiment a session runs.
type GameKind string

const (
	GamePricing   GameKind = "PRICING"
	GameUltimatum GameKind = "ULTIMATUM"
)

// SessionStatus defines the lifecycle status of a session.
type SessionStatus string

const (
	SessionStatusSetup    SessionStatus = "SETUP"
	SessionStatusLobby    SessionStatus = "LOBBY"
	SessionStatusRunning  SessionStatus = "RUNNING"
	SessionStatusComplete SessionStatus = "COMPLETE"
)

// ModelKind selects the payoff model used to score a round.
type ModelKind string

const (
	ModelLogit     ModelKind = "LOGIT"
	ModelHotelling ModelKind = "HOTELLING"
	ModelUltimatum ModelKind = "ULTIMATUM"
)

// Phase identifies a timed step inside a round.
type Phase string

const (
	PhasePrice   Phase = "PRICE"
	PhasePropose Phase = "PROPOSE"
	PhaseRespond Phase = "RESPOND"
	PhaseReveal  Phase = "REVEAL"
)

// DecisionRole is the seat a participant holds inside a pair.
type DecisionRole string

const (
	RoleFirmA     DecisionRole = "FIRM_A"
	RoleFirmB     DecisionRole = "FIRM_B"
	RoleProposer  DecisionRole = "PROPOSER"
	RoleResponder DecisionRole = "RESPONDER"
)

// Bounds is an inclusive numeric range for a decision.
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// ModelParams holds the economic-model parameters. Only the fields of the
// selected ModelKind are read.
type ModelParams struct {
	// logit
	MarketSize   float64 `json:"market_size,omitempty" yaml:"market_size"`
	Alpha        float64 `json:"alpha,omitempty" yaml:"alpha"`
	Sigma        float64 `json:"sigma,omitempty" yaml:"sigma"`
	Delta        float64 `json:"delta,omitempty" yaml:"delta"`
	MarginalCost float64 `json:"marginal_cost,omitempty" yaml:"marginal_cost"`

	// hotelling
	TravelCost float64 `json:"travel_cost,omitempty" yaml:"travel_cost"`
	Valuation  float64 `json:"valuation,omitempty" yaml:"valuation"`
	LocationA  float64 `json:"location_a,omitempty" yaml:"location_a"`
	LocationB  float64 `json:"location_b,omitempty" yaml:"location_b"`

	// ultimatum
	TotalAmount float64 `json:"total_amount,omitempty" yaml:"total_amount"`
}

// SessionFeatures holds optional behaviour toggles. All default to off;
// HideCounterpartName withholds the counterpart's display name from phase
// results.
type SessionFeatures struct {
	StandInAdvisor      bool `json:"stand_in_advisor" yaml:"stand_in_advisor"`
	RotateRoles         bool `json:"rotate_roles" yaml:"rotate_roles"`
	HideCounterpartName bool `json:"hide_counterpart_name" yaml:"hide_counterpart_name"`
}

// SessionConfig is the instructor supplied configuration of a session.
type SessionConfig struct {
	Game                GameKind        `json:"game" yaml:"game"`
	Rounds              int             `json:"rounds" yaml:"rounds"`
	PhaseDurationSec    int             `json:"phase_duration_sec" yaml:"phase_duration_sec"`
	RoundDurationsSec   []int           `json:"round_durations_sec,omitempty" yaml:"round_durations_sec"`
	ResponseDurationSec int             `json:"response_duration_sec,omitempty" yaml:"response_duration_sec"`
	CountdownSec        int             `json:"countdown_sec" yaml:"countdown_sec"`
	CompletionDelaySec  int             `json:"completion_delay_sec" yaml:"completion_delay_sec"`
	Model               ModelKind       `json:"model" yaml:"model"`
	Params              ModelParams     `json:"params" yaml:"params"`
	DecisionBounds      Bounds          `json:"decision_bounds" yaml:"decision_bounds"`
	Features            SessionFeatures `json:"features" yaml:"features"`
}

// MinParticipants is the number of human participants needed before a
// session may start.
func (c SessionConfig) MinParticipants() int {
	if c.Game == GameUltimatum {
		return 2
	}
	return 1
}

// Phases returns the ordered decision phases of one round. The reveal
// countdown is not included.
func (c SessionConfig) Phases() []Phase {
	if c.Game == GameUltimatum {
		return []Phase{PhasePropose, PhaseRespond}
	}
	return []Phase{PhasePrice}
}

// Roles returns the two seats of a pair for this game.
func (c SessionConfig) Roles() [2]DecisionRole {
	if c.Game == GameUltimatum {
		return [2]DecisionRole{RoleProposer, RoleResponder}
	}
	return [2]DecisionRole{RoleFirmA, RoleFirmB}
}

// RequiredRoles returns the seats that must decide during phase.
func (c SessionConfig) RequiredRoles(phase Phase) []DecisionRole {
	switch phase {
	case PhasePrice:
		return []DecisionRole{RoleFirmA, RoleFirmB}
	case PhasePropose:
		return []DecisionRole{RoleProposer}
	case PhaseRespond:
		return []DecisionRole{RoleResponder}
	default:
		return nil
	}
}

// BoundsFor returns the accepted value range for a phase. Respond decisions
// are binary: 0 rejects, 1 accepts.
func (c SessionConfig) BoundsFor(phase Phase) Bounds {
	if phase == PhaseRespond {
		return Bounds{Min: 0, Max: 1}
	}
	return c.DecisionBounds
}

// PhaseDuration returns how long phase lasts in the given round.
func (c SessionConfig) PhaseDuration(phase Phase, round int) time.Duration {
	switch phase {
	case PhaseReveal:
		return time.Duration(c.CountdownSec) * time.Second
	case PhaseRespond:
		if c.ResponseDurationSec > 0 {
			return time.Duration(c.ResponseDurationSec) * time.Second
		}
	case PhasePrice:
		if n := len(c.RoundDurationsSec); n > 0 {
			idx := round - 1
			if idx < 0 {
				idx = 0
			}
			if idx >= n {
				idx = n - 1
			}
			return time.Duration(c.RoundDurationsSec[idx]) * time.Second
		}
	}
	return time.Duration(c.PhaseDurationSec) * time.Second
}

// CompletionDelay is the pause between the last result and completion.
func (c SessionConfig) CompletionDelay() time.Duration {
	return time.Duration(c.CompletionDelaySec) * time.Second
}

// WithDefaults fills the unset fields of c from d. Feature toggles are
// taken from c as given.
func (c SessionConfig) WithDefaults(d SessionConfig) SessionConfig {
	if c.Game == "" {
		c.Game = d.Game
	}
	if c.Rounds == 0 {
		c.Rounds = d.Rounds
	}
	if c.PhaseDurationSec == 0 && len(c.RoundDurationsSec) == 0 {
		c.PhaseDurationSec = d.PhaseDurationSec
		c.RoundDurationsSec = append([]int(nil), d.RoundDurationsSec...)
	}
	if c.ResponseDurationSec == 0 {
		c.ResponseDurationSec = d.ResponseDurationSec
	}
	if c.CountdownSec == 0 {
		c.CountdownSec = d.CountdownSec
	}
	if c.CompletionDelaySec == 0 {
		c.CompletionDelaySec = d.CompletionDelaySec
	}
	if c.Model == "" {
		c.Model = d.Model
		if c.Params == (ModelParams{}) {
			c.Params = d.Params
		}
	} else if c.Model == d.Model && c.Params == (ModelParams{}) {
		c.Params = d.Params
	}
	if c.DecisionBounds == (Bounds{}) {
		c.DecisionBounds = d.DecisionBounds
	}
	return c
}

// Validate checks that the configuration is consistent.
func (c SessionConfig) Validate() error {
	switch c.Game {
	case GamePricing:
		if c.Model != ModelLogit && c.Model != ModelHotelling {
			return fmt.Errorf("%w: pricing game needs a LOGIT or HOTELLING model, got %q", ErrValidation, c.Model)
		}
	case GameUltimatum:
		if c.Model != ModelUltimatum {
			return fmt.Errorf("%w: ultimatum game needs the ULTIMATUM model, got %q", ErrValidation, c.Model)
		}
		if c.Params.TotalAmount <= 0 {
			return fmt.Errorf("%w: total_amount must be positive", ErrValidation)
		}
		if c.DecisionBounds.Min < 0 || c.DecisionBounds.Max > c.Params.TotalAmount {
			return fmt.Errorf("%w: offer bounds must lie within [0, total_amount]", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown game %q", ErrValidation, c.Game)
	}
	if c.Rounds < 1 {
		return fmt.Errorf("%w: rounds must be at least 1", ErrValidation)
	}
	if c.Game != GamePricing && len(c.RoundDurationsSec) > 0 {
		return fmt.Errorf("%w: round_durations_sec only applies to the pricing game", ErrValidation)
	}
	if c.PhaseDurationSec < 1 && len(c.RoundDurationsSec) == 0 {
		return fmt.Errorf("%w: phase_duration_sec must be at least 1", ErrValidation)
	}
	for i, d := range c.RoundDurationsSec {
		if d < 1 {
			return fmt.Errorf("%w: round_durations_sec[%d] must be at least 1", ErrValidation, i)
		}
	}
	if c.CountdownSec < 0 || c.CompletionDelaySec < 0 || c.ResponseDurationSec < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrValidation)
	}
	if c.DecisionBounds.Min > c.DecisionBounds.Max {
		return fmt.Errorf("%w: decision_bounds min exceeds max", ErrValidation)
	}
	if c.Model == ModelLogit && c.Params.Sigma <= 0 {
		return fmt.Errorf("%w: sigma must be positive", ErrValidation)
	}
	if c.Model == ModelHotelling {
		p := c.Params
		if p.LocationA < 0 || p.LocationA > 100 || p.LocationB < 0 || p.LocationB > 100 {
			return fmt.Errorf("%w: locations must lie within [0, 100]", ErrValidation)
		}
		if p.TravelCost < 0 {
			return fmt.Errorf("%w: travel_cost must not be negative", ErrValidation)
		}
	}
	return nil
}

// SessionInfo is the metadata of a session that is safe to share.
type SessionInfo struct {
	Code         string        `json:"code"`
	Name         string        `json:"name"`
	InstructorID string        `json:"instructor_id"`
	Status       SessionStatus `json:"status"`
	CurrentRound int           `json:"current_round"`
	Config       SessionConfig `json:"config"`
	CreatedAt    time.Time     `json:"created_at"`
}
