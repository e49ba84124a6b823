package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/uhyunpark/agentmarket/params"
	"github.com/uhyunpark/agentmarket/pkg/app/core/account"
	"github.com/uhyunpark/agentmarket/pkg/app/core/market"
	"github.com/uhyunpark/agentmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/agentmarket/pkg/metrics"
	"github.com/uhyunpark/agentmarket/pkg/storage"
	"github.com/uhyunpark/agentmarket/pkg/util"
)

func testConfig() params.Sim {
	cfg := params.Default().Sim
	cfg.Agents = 6
	cfg.Rounds = 30
	cfg.Seed = 7
	cfg.InitialFundHoldingMax = 20
	return cfg
}

// fakeClock fires After at once and moves Now forward by d.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits int
}

var _ util.Clock = (*fakeClock)(nil)

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits++
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}

func newTestSim(t *testing.T, cfg params.Sim, opts ...Option) *Simulation {
	t.Helper()
	s, err := New(cfg, market.NewDefaultRegistry(), opts...)
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	return s
}

func totals(s *Simulation) map[string]int64 {
	out := make(map[string]int64)
	for _, symbol := range s.Engine().Registry.Symbols() {
		out[symbol] = s.Engine().Ledger.TotalHolding(symbol)
	}
	return out
}

func TestNewRequiresInstruments(t *testing.T) {
	if _, err := New(testConfig(), market.NewRegistry()); err == nil {
		t.Error("expected error for empty registry")
	}
	if _, err := New(testConfig(), nil); err == nil {
		t.Error("expected error for nil registry")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*params.Sim)
	}{
		{"zero value", func(c *params.Sim) { *c = params.Sim{Agents: 2, Rounds: 1, Seed: 1} }},
		{"zero dividend interval", func(c *params.Sim) { c.DividendInterval = 0 }},
		{"negative stock holding", func(c *params.Sim) { c.InitialHoldingMax = -1 }},
		{"negative fund holding", func(c *params.Sim) { c.InitialFundHoldingMax = -1 }},
		{"no agents", func(c *params.Sim) { c.Agents = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, market.NewDefaultRegistry()); err == nil {
				t.Error("expected config error")
			}
		})
	}
}

type failingRecorder struct {
	*storage.Tape
	err error
}

func (r failingRecorder) RecordRound(storage.RoundRecord) error { return r.err }

func TestStepFailureIsTerminal(t *testing.T) {
	tape, err := storage.Open("", nil)
	if err != nil {
		t.Fatalf("open tape: %v", err)
	}
	t.Cleanup(func() { tape.Close() })

	diskFull := errors.New("disk full")
	m := metrics.New(nil)
	s := newTestSim(t, testConfig(), WithRecorder(failingRecorder{Tape: tape, err: diskFull}), WithMetrics(m))

	if _, err := s.Step(context.Background()); !errors.Is(err, diskFull) {
		t.Fatalf("first step err = %v, want disk full", err)
	}
	if s.Round() != 0 {
		t.Errorf("round = %d after failed step", s.Round())
	}
	if !errors.Is(s.Err(), diskFull) {
		t.Errorf("Err() = %v", s.Err())
	}

	_, err = s.Step(context.Background())
	if !errors.Is(err, ErrHalted) || !errors.Is(err, diskFull) {
		t.Errorf("second step err = %v, want ErrHalted wrapping disk full", err)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrHalted) {
		t.Errorf("run err = %v, want ErrHalted", err)
	}
	if s.Round() != 0 {
		t.Errorf("round = %d after halted run", s.Round())
	}
}

func TestPopulation(t *testing.T) {
	cfg := testConfig()
	cfg.InitialFundHoldingMax = 0
	s := newTestSim(t, cfg)

	traders := s.Traders()
	if len(traders) != cfg.Agents {
		t.Fatalf("traders = %d, want %d", len(traders), cfg.Agents)
	}
	for i, tr := range traders {
		if tr.Name != AgentName(i+1) {
			t.Errorf("trader %d named %q", i, tr.Name)
		}
		acc, ok := s.Engine().Ledger.ByName(tr.Name)
		if !ok {
			t.Fatalf("no account for %s", tr.Name)
		}
		if acc.Address != tr.Address {
			t.Errorf("%s: account %s, trader %s", tr.Name, acc.Address, tr.Address)
		}
		if b := acc.Balance(); b < cfg.InitialBalanceMin || b >= cfg.InitialBalanceMax {
			t.Errorf("%s balance %v out of range", tr.Name, b)
		}
		for symbol, units := range acc.Holdings() {
			inst, _ := s.Engine().Registry.Get(symbol)
			if inst.Kind == market.Fund {
				t.Errorf("%s starts with %d units of fund %s", tr.Name, units, symbol)
			}
			if units > int64(cfg.InitialHoldingMax) {
				t.Errorf("%s holds %d %s", tr.Name, units, symbol)
			}
		}
	}
	if _, ok := s.Trader("Agent 3"); !ok {
		t.Error("Agent 3 not found")
	}
	if _, ok := s.Trader("Agent 99"); ok {
		t.Error("Agent 99 should not exist")
	}
}

func TestStep(t *testing.T) {
	s := newTestSim(t, testConfig())

	res, err := s.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Round != 1 || s.Round() != 1 {
		t.Errorf("round = %d / %d, want 1", res.Round, s.Round())
	}
	if got := market.DailyRate(res.Inflation); math.Abs(got-res.DailyRate) > 1e-15 {
		t.Errorf("daily rate %v, want %v", res.DailyRate, got)
	}
	if res.Orders+res.Skipped+res.Rejected != 6*4 {
		t.Errorf("orders %d + skipped %d + rejected %d, want one decision per agent and instrument",
			res.Orders, res.Skipped, res.Rejected)
	}
	if len(res.NetWorth) != 6 || len(res.Prices) != 4 {
		t.Errorf("net worth %d entries, prices %d", len(res.NetWorth), len(res.Prices))
	}
	for _, symbol := range s.Engine().Registry.Symbols() {
		h, ok := s.PriceHistory(symbol)
		if !ok || len(h) != 1 || h[0] != res.Prices[symbol] {
			t.Errorf("%s history = %v", symbol, h)
		}
		if bids, asks := s.Engine().Book.Depth(symbol); bids+asks != 0 {
			t.Errorf("%s book not reset: %d bids, %d asks", symbol, bids, asks)
		}
	}
	latest, ok := s.Latest()
	if !ok || latest.Round != 1 {
		t.Errorf("latest = %+v, %v", latest, ok)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	a, err := newTestSim(t, testConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("run a: %v", err)
	}
	b, err := newTestSim(t, testConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("run b: %v", err)
	}

	if a.Trades != b.Trades || a.Volume != b.Volume {
		t.Fatalf("trades %d/%v vs %d/%v", a.Trades, a.Volume, b.Trades, b.Volume)
	}
	for symbol, pa := range a.Prices {
		pb := b.Prices[symbol]
		for i := range pa {
			if pa[i] != pb[i] {
				t.Fatalf("%s price diverges at round %d: %v vs %v", symbol, i+1, pa[i], pb[i])
			}
		}
	}
	for name, wa := range a.NetWorth {
		wb := b.NetWorth[name]
		for i := range wa {
			if wa[i] != wb[i] {
				t.Fatalf("%s net worth diverges at round %d", name, i+1)
			}
		}
	}
}

func TestRunConservesUnits(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		cfg := testConfig()
		cfg.MatchParallel = parallel
		s := newTestSim(t, cfg)
		before := totals(s)

		sum, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("parallel=%v: run: %v", parallel, err)
		}
		if sum.Rounds != cfg.Rounds {
			t.Errorf("parallel=%v: rounds = %d", parallel, sum.Rounds)
		}
		after := totals(s)
		for symbol, n := range before {
			if after[symbol] != n {
				t.Errorf("parallel=%v: %s units %d -> %d", parallel, symbol, n, after[symbol])
			}
		}
	}
}

func TestRunConservesCashWithoutDividends(t *testing.T) {
	cfg := testConfig()
	cfg.DividendInterval = cfg.Rounds + 1
	s := newTestSim(t, cfg)
	before := s.Engine().Ledger.TotalBalance()

	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Dividends != 0 {
		t.Errorf("dividends = %v", sum.Dividends)
	}
	if after := s.Engine().Ledger.TotalBalance(); math.Abs(after-before) > 1e-6 {
		t.Errorf("cash %v -> %v", before, after)
	}
}

func TestDividendRound(t *testing.T) {
	cfg := testConfig()
	cfg.InitialFundHoldingMax = 0
	cfg.DividendInterval = 2
	s := newTestSim(t, cfg)

	holder, _ := s.Engine().Ledger.ByName(AgentName(1))
	// Give the first agent fund units from an account outside the population.
	s.Engine().Ledger.Settle(orderbook.Trade{
		Buyer:      holder.Address,
		Seller:     account.AddressFromName("issuer"),
		Instrument: "FII_A",
		Qty:        10,
		Price:      100,
	})

	first, err := s.Step(context.Background())
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if len(first.Dividends) != 0 {
		t.Errorf("round 1 paid %d dividends", len(first.Dividends))
	}

	second, err := s.Step(context.Background())
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if len(second.Dividends) == 0 {
		t.Fatal("round 2 paid no dividends")
	}
	for _, p := range second.Dividends {
		if p.Units <= 0 || p.Amount <= 0 {
			t.Errorf("bad payout %+v", p)
		}
		price := second.Prices[p.Instrument]
		if want := float64(p.Units) * price * market.DefaultFundYield; math.Abs(p.Amount-want) > 1e-9 {
			t.Errorf("payout %+v, want amount %v", p, want)
		}
	}
	if s.Summary().Dividends != second.DividendTotal() {
		t.Errorf("summary dividends %v, round total %v", s.Summary().Dividends, second.DividendTotal())
	}
}

func TestRunPacing(t *testing.T) {
	cfg := testConfig()
	cfg.Rounds = 4
	cfg.RoundInterval = time.Second
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := newTestSim(t, cfg, WithClock(clock))

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if clock.Waits() != 3 {
		t.Errorf("waits = %d, want 3", clock.Waits())
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSim(t, testConfig())
	sum, err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if sum.Rounds != 0 {
		t.Errorf("rounds = %d after cancel", sum.Rounds)
	}
}

func TestOnRoundHook(t *testing.T) {
	cfg := testConfig()
	cfg.Rounds = 5
	var seen []int
	s := newTestSim(t, cfg, OnRound(func(r RoundResult) { seen = append(seen, r.Round) }))

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != 5 {
		t.Fatalf("hook called %d times", len(seen))
	}
	for i, r := range seen {
		if r != i+1 {
			t.Errorf("hook call %d saw round %d", i, r)
		}
	}
}

func TestRunJournalsToTape(t *testing.T) {
	tape, err := storage.Open("", nil)
	if err != nil {
		t.Fatalf("open tape: %v", err)
	}
	t.Cleanup(func() { tape.Close() })

	cfg := testConfig()
	cfg.DividendInterval = 10
	s := newTestSim(t, cfg, WithRecorder(tape))
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	rounds, err := tape.Rounds()
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if len(rounds) != cfg.Rounds {
		t.Fatalf("journaled %d rounds, want %d", len(rounds), cfg.Rounds)
	}
	var trades int
	for _, r := range rounds {
		trades += r.Trades
	}
	var stored int
	for _, symbol := range s.Engine().Registry.Symbols() {
		recs, err := tape.Trades(symbol, 0)
		if err != nil {
			t.Fatalf("trades %s: %v", symbol, err)
		}
		stored += len(recs)
	}
	if trades != sum.Trades || stored != sum.Trades {
		t.Errorf("summary %d trades, round records %d, trade records %d", sum.Trades, trades, stored)
	}

	divs, err := tape.Dividends()
	if err != nil {
		t.Fatalf("dividends: %v", err)
	}
	var paid float64
	for _, d := range divs {
		paid += d.Amount
	}
	if math.Abs(paid-sum.Dividends) > 1e-9 {
		t.Errorf("journaled dividends %v, summary %v", paid, sum.Dividends)
	}
}

func TestRunUpdatesMetrics(t *testing.T) {
	m := metrics.New(nil)
	cfg := testConfig()
	cfg.Rounds = 3
	s := newTestSim(t, cfg, WithMetrics(m))
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "sim_rounds_total" {
			continue
		}
		if got := f.GetMetric()[0].GetCounter().GetValue(); got != 3 {
			t.Errorf("sim_rounds_total = %v, want 3", got)
		}
		return
	}
	t.Error("sim_rounds_total not exported")
}

func TestSummaryNormalizesHistories(t *testing.T) {
	cfg := testConfig()
	cfg.Rounds = 8
	s := newTestSim(t, cfg)
	sum, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sum.MarketValue) != 8 || len(sum.Inflation) != 8 {
		t.Errorf("market value %d, inflation %d points", len(sum.MarketValue), len(sum.Inflation))
	}
	for symbol, h := range sum.Prices {
		if len(h) != 8 {
			t.Errorf("%s has %d price points", symbol, len(h))
		}
		if v := sum.Volatility[symbol]; v < 0 || math.IsNaN(v) {
			t.Errorf("%s volatility %v", symbol, v)
		}
	}
	for name, h := range sum.NetWorth {
		if len(h) != 8 {
			t.Errorf("%s has %d net worth points", name, len(h))
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		n      int
		want   []float64
	}{
		{"exact", []float64{1, 2, 3}, 3, []float64{1, 2, 3}},
		{"pad with last", []float64{1, 2}, 4, []float64{1, 2, 2, 2}},
		{"pad empty with zero", nil, 2, []float64{0, 0}},
		{"truncate", []float64{1, 2, 3, 4}, 2, []float64{1, 2}},
		{"zero length", []float64{1}, 0, []float64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.series, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
