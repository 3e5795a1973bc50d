// Package payoff maps two competing decisions to per-side outcomes. Every
// model is a pure function of its inputs.
package payoff

import (
	"fmt"

	"github.com/mcdev12/marketlab/go/internal/models"
)

// Outcome is the result for both sides of a pair. Index 0 is firm A (or the
// proposer), index 1 is firm B (or the responder).
type Outcome struct {
	Payoffs [2]float64
	// Shares are market shares in [0,1]; zero for the ultimatum model.
	Shares [2]float64
	// Demands are units sold; zero for the ultimatum model.
	Demands [2]float64
}

// Model computes an Outcome from the two decisions of a pair.
type Model interface {
	Kind() models.ModelKind
	Compute(a, b float64) Outcome
}

// New returns the model selected by the session configuration.
func New(kind models.ModelKind, params models.ModelParams) (Model, error) {
	switch kind {
	case models.ModelLogit:
		if params.Sigma <= 0 {
			return nil, fmt.Errorf("%w: logit sigma must be positive", models.ErrValidation)
		}
		return Logit{
			MarketSize:   params.MarketSize,
			Alpha:        params.Alpha,
			Sigma:        params.Sigma,
			Delta:        params.Delta,
			MarginalCost: params.MarginalCost,
		}, nil
	case models.ModelHotelling:
		return Hotelling{
			TravelCost: params.TravelCost,
			Valuation:  params.Valuation,
			LocationA:  params.LocationA,
			LocationB:  params.LocationB,
		}, nil
	case models.ModelUltimatum:
		return Ultimatum{Total: params.TotalAmount}, nil
	default:
		return nil, fmt.Errorf("%w: unknown payoff model %q", models.ErrValidation, kind)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
