package payoff

import (
	"testing"

	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogit_LowerPriceWinsShare(t *testing.T) {
	m, err := New(models.ModelLogit, models.ModelParams{MarketSize: 100, Alpha: 1, Sigma: 5, Delta: 10})
	require.NoError(t, err)

	out := m.Compute(10, 20)
	assert.Greater(t, out.Shares[0], out.Shares[1], "lower price should win more share")
	assert.GreaterOrEqual(t, out.Payoffs[0], 0.0)
	assert.GreaterOrEqual(t, out.Payoffs[1], 0.0)
	assert.InDelta(t, 0.4683, out.Shares[0], 1e-3)
	assert.InDelta(t, out.Shares[0]*100, out.Demands[0], 1e-9)
	assert.InDelta(t, 10*out.Demands[0], out.Payoffs[0], 1e-9)
}

func TestLogit_SharesNormalized(t *testing.T) {
	m := Logit{MarketSize: 100, Alpha: 1, Sigma: 5, Delta: 10}
	prices := []float64{0, 0.5, 1, 5, 10, 25, 50, 100, 1000, -50}
	for _, pA := range prices {
		for _, pB := range prices {
			sA, sB := m.Shares(pA, pB)
			assert.GreaterOrEqual(t, sA, 0.0)
			assert.LessOrEqual(t, sA, 1.0)
			assert.GreaterOrEqual(t, sB, 0.0)
			assert.LessOrEqual(t, sB, 1.0)
			assert.LessOrEqual(t, sA+sB, 1.0+1e-12, "pA=%v pB=%v", pA, pB)
		}
	}
}

func TestLogit_ExtremeUtilitiesStayFinite(t *testing.T) {
	m := Logit{MarketSize: 100, Alpha: 10, Sigma: 0.01, Delta: 10}
	sA, sB := m.Shares(-1000, 1000)
	assert.InDelta(t, 1.0, sA, 1e-9)
	assert.InDelta(t, 0.0, sB, 1e-9)
}

func TestLogit_PriceTooHighNobodyBuys(t *testing.T) {
	m := Logit{MarketSize: 100, Alpha: 1, Sigma: 1, Delta: 10}
	out := m.Compute(10000, 10000)
	assert.InDelta(t, 0, out.Payoffs[0], 1e-9)
	assert.InDelta(t, 0, out.Payoffs[1], 1e-9)
}

func TestHotelling_SymmetricSplit(t *testing.T) {
	m := Hotelling{TravelCost: 1, Valuation: 100, LocationA: 25, LocationB: 75}

	x, ok := m.Indifferent(10, 10)
	require.True(t, ok)
	assert.InDelta(t, 50, x, 1e-9)

	out := m.Compute(10, 10)
	assert.InDelta(t, 0.5, out.Shares[0], 1e-9)
	assert.InDelta(t, 0.5, out.Shares[1], 1e-9)
	assert.InDelta(t, 500, out.Payoffs[0], 1e-9)
}

func TestHotelling_CheaperFirmMovesBoundary(t *testing.T) {
	m := Hotelling{TravelCost: 1, Valuation: 100, LocationA: 25, LocationB: 75}
	x, ok := m.Indifferent(10, 20)
	require.True(t, ok)
	assert.InDelta(t, 55, x, 1e-9)

	sA, sB := m.Shares(10, 20)
	assert.InDelta(t, 0.55, sA, 1e-9)
	assert.InDelta(t, 0.45, sB, 1e-9)
}

func TestHotelling_SwappedLocations(t *testing.T) {
	m := Hotelling{TravelCost: 1, Valuation: 100, LocationA: 75, LocationB: 25}
	sA, sB := m.Shares(10, 20)
	assert.InDelta(t, 0.55, sA, 1e-9)
	assert.InDelta(t, 0.45, sB, 1e-9)
}

func TestHotelling_PartialParticipation(t *testing.T) {
	// each firm reaches 10 units either side, markets do not touch
	m := Hotelling{TravelCost: 1, Valuation: 20, LocationA: 25, LocationB: 75}
	sA, sB := m.Shares(10, 10)
	assert.InDelta(t, 0.2, sA, 1e-9)
	assert.InDelta(t, 0.2, sB, 1e-9)
}

func TestHotelling_IdenticalLocations(t *testing.T) {
	m := Hotelling{TravelCost: 1, Valuation: 30, LocationA: 50, LocationB: 50}
	_, ok := m.Indifferent(10, 20)
	assert.False(t, ok)

	sA, sB := m.Shares(10, 20)
	assert.InDelta(t, 0.4, sA, 1e-9)
	assert.InDelta(t, 0.0, sB, 1e-9)

	sA, sB = m.Shares(10, 10)
	assert.InDelta(t, 0.2, sA, 1e-9)
	assert.InDelta(t, 0.2, sB, 1e-9)
}

func TestHotelling_PriceAboveValuation(t *testing.T) {
	m := Hotelling{TravelCost: 1, Valuation: 30, LocationA: 0, LocationB: 100}
	out := m.Compute(40, 40)
	assert.Zero(t, out.Shares[0])
	assert.Zero(t, out.Shares[1])
	assert.Zero(t, out.Payoffs[0])
}

func TestHotelling_SharesBounded(t *testing.T) {
	m := Hotelling{TravelCost: 0.7, Valuation: 60, LocationA: 10, LocationB: 90}
	for pA := 0.0; pA <= 100; pA += 7.5 {
		for pB := 0.0; pB <= 100; pB += 7.5 {
			sA, sB := m.Shares(pA, pB)
			assert.GreaterOrEqual(t, sA, 0.0)
			assert.GreaterOrEqual(t, sB, 0.0)
			assert.LessOrEqual(t, sA+sB, 1.0+1e-9)
		}
	}
}

func TestUltimatum_Conservation(t *testing.T) {
	m := Ultimatum{Total: 20}
	for offer := 0.0; offer <= 20; offer++ {
		accepted := m.Compute(offer, 1)
		assert.InDelta(t, 20, accepted.Payoffs[0]+accepted.Payoffs[1], 1e-9)
		assert.InDelta(t, offer, accepted.Payoffs[1], 1e-9)

		rejected := m.Compute(offer, 0)
		assert.Zero(t, rejected.Payoffs[0])
		assert.Zero(t, rejected.Payoffs[1])
	}
}

func TestNew_UnknownModel(t *testing.T) {
	_, err := New("NOPE", models.ModelParams{})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = New(models.ModelLogit, models.ModelParams{})
	assert.ErrorIs(t, err, models.ErrValidation)
}
