package payoff

import "github.com/mcdev12/marketlab/go/internal/models"

// Ultimatum splits Total between a proposer and a responder. The proposer
// offers an amount; the responder accepts (decision >= 0.5) or rejects.
type Ultimatum struct {
	Total float64
}

func (Ultimatum) Kind() models.ModelKind { return models.ModelUltimatum }

// Accepted interprets a respond decision.
func Accepted(decision float64) bool {
	return decision >= 0.5
}

// Compute returns (Total - offer, offer) when accepted and (0, 0) otherwise.
func (m Ultimatum) Compute(offer, decision float64) Outcome {
	if !Accepted(decision) {
		return Outcome{}
	}
	return Outcome{Payoffs: [2]float64{m.Total - offer, offer}}
}
