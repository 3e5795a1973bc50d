// Package pairing partitions session participants into head-to-head pairs.
package pairing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/marketlab/go/internal/models"
)

// Engine shuffles and groups participants. It is not safe for concurrent
// use; each session actor owns one.
type Engine struct {
	rng *rand.Rand
}

// NewEngine constructs an Engine with its own seed.
func NewEngine() *Engine {
	return NewEngineWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewEngineWithRand constructs an Engine around rng. Tests pass a seeded rng.
func NewEngineWithRand(rng *rand.Rand) *Engine {
	return &Engine{rng: rng}
}

// NeedsStandIn reports whether n humans leave one participant unpaired.
func NeedsStandIn(n int) bool {
	return n%2 == 1
}

// Pair shuffles humans (Fisher-Yates) and groups them into twos. When the
// count is odd, standIn is added before shuffling and must not be uuid.Nil.
// Seat 0 of every pair gets roles[0], seat 1 gets roles[1].
func (e *Engine) Pair(humans []uuid.UUID, standIn uuid.UUID, roles [2]models.DecisionRole, round int) ([]*models.Pair, error) {
	if len(humans) == 0 {
		return nil, fmt.Errorf("%w: no participants to pair", models.ErrPrecondition)
	}

	pool := make([]uuid.UUID, 0, len(humans)+1)
	seen := make(map[uuid.UUID]bool, len(humans))
	for _, id := range humans {
		if seen[id] {
			return nil, fmt.Errorf("%w: participant %s listed twice", models.ErrValidation, id)
		}
		seen[id] = true
		pool = append(pool, id)
	}
	if NeedsStandIn(len(pool)) {
		if standIn == uuid.Nil {
			return nil, fmt.Errorf("%w: odd participant count needs a stand-in", models.ErrPrecondition)
		}
		if seen[standIn] {
			return nil, fmt.Errorf("%w: stand-in %s is also listed as human", models.ErrValidation, standIn)
		}
		pool = append(pool, standIn)
	}

	e.shuffle(pool)

	pairs := make([]*models.Pair, 0, len(pool)/2)
	for i := 0; i+1 < len(pool); i += 2 {
		pairs = append(pairs, &models.Pair{
			ID:      uuid.New(),
			Round:   round,
			Members: [2]uuid.UUID{pool[i], pool[i+1]},
			Roles:   roles,
		})
	}
	return pairs, nil
}

// Carry keeps the membership of fixed pairs for a new round. With rotate
// set, the seats swap roles relative to the previous round.
func Carry(pairs []*models.Pair, round int, rotate bool) []*models.Pair {
	out := make([]*models.Pair, 0, len(pairs))
	for _, p := range pairs {
		next := &models.Pair{
			ID:      p.ID,
			Round:   round,
			Members: p.Members,
			Roles:   p.Roles,
		}
		if rotate && p.Round != round {
			next.Roles = [2]models.DecisionRole{p.Roles[1], p.Roles[0]}
		}
		out = append(out, next)
	}
	return out
}

func (e *Engine) shuffle(ids []uuid.UUID) {
	for i := len(ids) - 1; i > 0; i-- {
		j := e.rng.Intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}
