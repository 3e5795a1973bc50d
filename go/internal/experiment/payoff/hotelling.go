package payoff

import (
	"math"
	"sort"

	"github.com/mcdev12/marketlab/go/internal/models"
)

// LineLength is the length of the spatial market.
const LineLength = 100.0

// Hotelling is the spatial duopoly on a line of length 100. A consumer at x
// buying from firm i gets Valuation - price_i - TravelCost*|x - location_i|
// and buys from the better firm, or not at all when both are negative.
type Hotelling struct {
	TravelCost float64
	Valuation  float64
	LocationA  float64
	LocationB  float64
}

func (Hotelling) Kind() models.ModelKind { return models.ModelHotelling }

func (m Hotelling) utility(x, loc, price float64) float64 {
	return m.Valuation - price - m.TravelCost*math.Abs(x-loc)
}

// Indifferent returns the location where a consumer is indifferent between
// the two firms. ok is false when the firms share a location (or travel is
// free): the utility gap is then constant along the whole line.
func (m Hotelling) Indifferent(priceA, priceB float64) (float64, bool) {
	if m.LocationA == m.LocationB || m.TravelCost == 0 {
		return 0, false
	}
	left, right := m.LocationA, m.LocationB
	pLeft, pRight := priceA, priceB
	if left > right {
		left, right = right, left
		pLeft, pRight = pRight, pLeft
	}
	x := (pRight - pLeft + m.TravelCost*(left+right)) / (2 * m.TravelCost)
	// outside [left, right] the gap is constant, so the crossing, if any,
	// lies between the firms
	return clamp(x, left, right), true
}

// Shares returns the fraction of the line served by firm A and firm B.
func (m Hotelling) Shares(priceA, priceB float64) (float64, float64) {
	cuts := []float64{0, LineLength, m.LocationA, m.LocationB}
	if m.TravelCost > 0 {
		for _, f := range []struct{ loc, price float64 }{{m.LocationA, priceA}, {m.LocationB, priceB}} {
			r := (m.Valuation - f.price) / m.TravelCost
			if r >= 0 {
				cuts = append(cuts, f.loc-r, f.loc+r)
			}
		}
	}
	if x, ok := m.Indifferent(priceA, priceB); ok {
		cuts = append(cuts, x)
	}
	for i := range cuts {
		cuts[i] = clamp(cuts[i], 0, LineLength)
	}
	sort.Float64s(cuts)

	// the buying decision is constant between consecutive cuts, so the
	// midpoint decides each piece
	var lenA, lenB float64
	for i := 1; i < len(cuts); i++ {
		lo, hi := cuts[i-1], cuts[i]
		if hi <= lo {
			continue
		}
		mid := (lo + hi) / 2
		uA := m.utility(mid, m.LocationA, priceA)
		uB := m.utility(mid, m.LocationB, priceB)
		switch {
		case uA < 0 && uB < 0:
		case uA > uB:
			lenA += hi - lo
		case uB > uA:
			lenB += hi - lo
		default:
			lenA += (hi - lo) / 2
			lenB += (hi - lo) / 2
		}
	}
	return clamp(lenA/LineLength, 0, 1), clamp(lenB/LineLength, 0, 1)
}

func (m Hotelling) Compute(priceA, priceB float64) Outcome {
	sA, sB := m.Shares(priceA, priceB)
	return Outcome{
		Payoffs: [2]float64{priceA * sA * LineLength, priceB * sB * LineLength},
		Shares:  [2]float64{sA, sB},
		Demands: [2]float64{sA * LineLength, sB * LineLength},
	}
}
