package payoff

import (
	"math"

	"github.com/mcdev12/marketlab/go/internal/models"
)

// Logit is the discrete-choice demand model. Each consumer picks firm A,
// firm B or the outside option (utility 0) with probability proportional to
// exp(u/Sigma), where u = Delta - Alpha*price.
type Logit struct {
	MarketSize   float64
	Alpha        float64
	Sigma        float64
	Delta        float64
	MarginalCost float64
}

func (Logit) Kind() models.ModelKind { return models.ModelLogit }

// Shares returns the choice probabilities of firm A and firm B. The outside
// option takes the remainder, so the sum never exceeds 1.
func (m Logit) Shares(priceA, priceB float64) (float64, float64) {
	uA := (m.Delta - m.Alpha*priceA) / m.Sigma
	uB := (m.Delta - m.Alpha*priceB) / m.Sigma

	// shift by the largest utility so exp never overflows
	shift := math.Max(0, math.Max(uA, uB))
	eA := math.Exp(uA - shift)
	eB := math.Exp(uB - shift)
	eOut := math.Exp(-shift)
	total := eA + eB + eOut

	return clamp(eA/total, 0, 1), clamp(eB/total, 0, 1)
}

func (m Logit) Compute(priceA, priceB float64) Outcome {
	sA, sB := m.Shares(priceA, priceB)
	dA, dB := sA*m.MarketSize, sB*m.MarketSize
	return Outcome{
		Payoffs: [2]float64{(priceA - m.MarginalCost) * dA, (priceB - m.MarginalCost) * dB},
		Shares:  [2]float64{sA, sB},
		Demands: [2]float64{dA, dB},
	}
}
