package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
)

// FallbackStrategy produces decisions nobody made: stand-in decisions and
// forced defaults for participants who ran out of time. It is shared by all
// sessions and safe for concurrent use.
type FallbackStrategy struct {
	advisor Advisor
	timeout time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallbackStrategy constructs a FallbackStrategy with its own seed.
// advisor may be nil, in which case every decision is random.
func NewFallbackStrategy(advisor Advisor, timeout time.Duration) *FallbackStrategy {
	src := rand.NewSource(time.Now().UnixNano())
	return &FallbackStrategy{
		advisor: advisor,
		timeout: timeout,
		rng:     rand.New(src),
	}
}

// Random returns a uniform value within b, rounded to cents. Binary phases
// get 0 or 1.
func (f *FallbackStrategy) Random(b models.Bounds, binary bool) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if binary {
		return float64(f.rng.Intn(2))
	}
	v := b.Min + f.rng.Float64()*(b.Max-b.Min)
	v = math.Round(v*100) / 100
	return math.Max(b.Min, math.Min(b.Max, v))
}

// Decide returns a stand-in decision. With the advisor policy the advisor is
// asked first, bounded by the strategy timeout; any failure degrades to a
// random value so the caller always gets a usable decision.
func (f *FallbackStrategy) Decide(ctx context.Context, policy models.FallbackPolicy, req models.SuggestRequest, binary bool) float64 {
	if policy != models.FallbackAdvisor || f.advisor == nil {
		return f.Random(req.Bounds, binary)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	v, err := f.advisor.SuggestDecision(ctx, req)
	if err == nil {
		err = checkSuggestion(v, req.Bounds)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return f.Random(req.Bounds, binary)
		}
		log.Warn().
			Err(err).
			Int("round", req.Round).
			Str("phase", string(req.Phase)).
			Msg("advisor unavailable, using random decision")
		return f.Random(req.Bounds, binary)
	}

	if binary {
		if v >= 0.5 {
			return 1
		}
		return 0
	}
	return v
}

func checkSuggestion(v float64, b models.Bounds) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || !b.Contains(v) {
		return fmt.Errorf("suggestion %v outside [%v, %v]", v, b.Min, b.Max)
	}
	return nil
}
