// Package agent implements the behavioural traders that feed orders into the
// engine. Traders decide side, price and size from sentiment, perceived
// volatility and inflation expectations; the engine itself never inspects them.
package agent

import (
	"math/rand"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/agentmarket/pkg/app/core/account"
)

const (
	MinTau = 22  // shortest observation window, one trading month
	MaxTau = 252 // longest, one trading year

	// ReturnLag is the look-back, in rounds, of the private return.
	ReturnLag = 22

	// Tick is the smallest limit price an order may carry.
	Tick = 0.01
)

// Knowledge is a coarse self-declared expertise label. It is reported but
// does not enter the decision rules.
type Knowledge string

const (
	KnowledgeHigh   Knowledge = "high"
	KnowledgeMedium Knowledge = "medium"
	KnowledgeLow    Knowledge = "low"
)

// Profile holds the behavioural parameters of a trader.
type Profile struct {
	Sentiment            float64 // [-1, 1]
	Knowledge            Knowledge
	Literacy             float64 // [0, 1]
	Speculation          float64 // [0, 1]
	Noise                float64 // [0, 1]
	InflationExpectation float64 // monthly
	Tau                  int     // observation window for volatility
}

// RandomProfile draws a profile the way the population is seeded.
func RandomProfile(rng *rand.Rand) Profile {
	levels := []Knowledge{KnowledgeHigh, KnowledgeMedium, KnowledgeLow}
	return Profile{
		Sentiment:            uniform(rng, -1, 1),
		Knowledge:            levels[rng.Intn(len(levels))],
		Literacy:             rng.Float64(),
		Speculation:          rng.Float64(),
		Noise:                rng.Float64(),
		InflationExpectation: uniform(rng, -0.02, 0.05),
		Tau:                  MinTau + rng.Intn(MaxTau-MinTau+1),
	}
}

// Trader is one simulated market participant.
type Trader struct {
	Name    string
	Address common.Address

	mu         sync.RWMutex
	profile    Profile
	volatility float64
	netWorth   []float64
	neighbours []*Trader

	maxQty int64 // 0 means uncapped
	rng    *rand.Rand
}

// NewTrader creates a trader whose address matches its ledger account.
func NewTrader(name string, profile Profile, maxQty int64, rng *rand.Rand) *Trader {
	if profile.Tau < MinTau {
		profile.Tau = MinTau
	}
	return &Trader{
		Name:    name,
		Address: account.AddressFromName(name),
		profile: profile,
		maxQty:  maxQty,
		rng:     rng,
	}
}

// Profile returns the current behavioural parameters.
func (t *Trader) Profile() Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.profile
}

func (t *Trader) Sentiment() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.profile.Sentiment
}

// Volatility returns the perceived volatility from the last observation.
func (t *Trader) Volatility() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.volatility
}

// RecordNetWorth appends one round's net worth.
func (t *Trader) RecordNetWorth(v float64) {
	t.mu.Lock()
	t.netWorth = append(t.netWorth, v)
	t.mu.Unlock()
}

// NetWorthHistory returns a copy of the recorded net worth series.
func (t *Trader) NetWorthHistory() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]float64(nil), t.netWorth...)
}

// RefreshNeighbours samples up to limit traders from population, the trader
// itself included, as this round's social circle.
func (t *Trader) RefreshNeighbours(population []*Trader, limit int) {
	n := min(len(population), limit)
	picked := make([]*Trader, 0, n)
	for _, i := range t.rng.Perm(len(population))[:n] {
		picked = append(picked, population[i])
	}
	t.mu.Lock()
	t.neighbours = picked
	t.mu.Unlock()
}

// Neighbours returns the names of the current social circle.
func (t *Trader) Neighbours() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, len(t.neighbours))
	for i, n := range t.neighbours {
		names[i] = n.Name
	}
	return names
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
