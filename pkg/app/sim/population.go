package sim

import (
	"fmt"
	"math/rand"

	"github.com/uhyunpark/agentmarket/pkg/app/agent"
	"github.com/uhyunpark/agentmarket/pkg/app/core"
	"github.com/uhyunpark/agentmarket/pkg/app/core/market"
	"github.com/uhyunpark/agentmarket/params"
)

// AgentName is the display name of the i-th agent, counting from 1.
func AgentName(i int) string {
	return fmt.Sprintf("Agent %d", i)
}

// populate opens one ledger account per agent and builds its trader.
// Starting cash is uniform in [InitialBalanceMin, InitialBalanceMax); every
// stock gets a holding drawn from [0, InitialHoldingMax] and every fund one
// from [0, InitialFundHoldingMax].
// Each trader draws from its own source seeded off rng so a run replays
// exactly for a given seed.
func populate(cfg params.Sim, engine *core.Engine, rng *rand.Rand) ([]*agent.Trader, error) {
	traders := make([]*agent.Trader, 0, cfg.Agents)
	for i := 1; i <= cfg.Agents; i++ {
		name := AgentName(i)
		balance := cfg.InitialBalanceMin + rng.Float64()*(cfg.InitialBalanceMax-cfg.InitialBalanceMin)

		holdings := make(map[string]int64)
		for _, inst := range engine.Registry.List() {
			limit := cfg.InitialHoldingMax
			if inst.Kind == market.Fund {
				limit = cfg.InitialFundHoldingMax
			}
			holdings[inst.Symbol] = int64(rng.Intn(limit + 1))
		}

		if _, err := engine.Ledger.Register(name, balance, holdings); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}

		profile := agent.RandomProfile(rng)
		src := rand.New(rand.NewSource(rng.Int63()))
		traders = append(traders, agent.NewTrader(name, profile, cfg.MaxOrderQty, src))
	}
	return traders, nil
}
