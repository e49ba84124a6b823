// Package sim drives the agent market round by round: inflation, order
// generation, batch matching, valuation and dividend payouts.
package sim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/uhyunpark/agentmarket/params"
	"github.com/uhyunpark/agentmarket/pkg/app/agent"
	"github.com/uhyunpark/agentmarket/pkg/app/core"
	"github.com/uhyunpark/agentmarket/pkg/app/core/market"
	"github.com/uhyunpark/agentmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/agentmarket/pkg/metrics"
	"github.com/uhyunpark/agentmarket/pkg/storage"
	"github.com/uhyunpark/agentmarket/pkg/util"
	"go.uber.org/zap"
)

// ErrHalted is returned by Step once an earlier round has failed.
var ErrHalted = errors.New("simulation halted")

// Recorder journals what a round produced. *storage.Tape implements it.
type Recorder interface {
	RecordTrades(round int, trades []orderbook.Trade) ([]storage.TradeRecord, error)
	RecordRound(storage.RoundRecord) error
	RecordDividends([]storage.DividendRecord) error
}

type Option func(*Simulation)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Simulation) { s.log = logger }
}

func WithRecorder(r Recorder) Option {
	return func(s *Simulation) { s.recorder = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Simulation) { s.metrics = m }
}

// WithClock replaces the clock that paces Run.
func WithClock(c util.Clock) Option {
	return func(s *Simulation) { s.clock = c }
}

// OnRound registers a hook called after every completed round, in order of
// registration, from the goroutine running Step.
func OnRound(fn func(RoundResult)) Option {
	return func(s *Simulation) { s.hooks = append(s.hooks, fn) }
}

// Simulation owns one run. Step and Run must not be called concurrently;
// every other method is safe to call while a round is in progress.
type Simulation struct {
	cfg     params.Sim
	seed    int64
	engine  *core.Engine
	traders []*agent.Trader
	rng     *rand.Rand

	recorder Recorder
	metrics  *metrics.Metrics
	clock    util.Clock
	log      *zap.Logger

	mu          sync.RWMutex
	hooks       []func(RoundResult)
	round       int
	prices      map[string][]float64 // reference price after each round
	marketValue []float64
	trades      int
	volume      float64
	dividends   float64
	latest      *RoundResult
	err         error // first Step failure; the run cannot continue past it
}

// New builds the engine and the agent population for a run.
func New(cfg params.Sim, registry *market.Registry, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}
	if registry == nil || registry.Count() == 0 {
		return nil, fmt.Errorf("simulation needs at least one instrument")
	}

	s := &Simulation{cfg: cfg, clock: util.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}

	s.seed = cfg.Seed
	if s.seed == 0 {
		s.seed = time.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(s.seed))

	s.engine = core.NewEngine(registry, s.log.Named("engine"))
	traders, err := populate(cfg, s.engine, s.rng)
	if err != nil {
		return nil, err
	}
	s.traders = traders

	s.prices = make(map[string][]float64, registry.Count())
	for _, symbol := range registry.Symbols() {
		s.prices[symbol] = nil
	}

	s.log.Info("simulation ready",
		zap.Int64("seed", s.seed),
		zap.Int("agents", len(traders)),
		zap.Strings("instruments", registry.Symbols()),
		zap.Int("rounds", cfg.Rounds),
	)
	return s, nil
}

func (s *Simulation) Engine() *core.Engine { return s.engine }

func (s *Simulation) Seed() int64 { return s.seed }

// Traders returns the population in creation order.
func (s *Simulation) Traders() []*agent.Trader {
	return append([]*agent.Trader(nil), s.traders...)
}

// Trader finds an agent by name.
func (s *Simulation) Trader(name string) (*agent.Trader, bool) {
	for _, t := range s.traders {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Observe adds a round hook after construction, see OnRound.
func (s *Simulation) Observe(fn func(RoundResult)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Round is the number of completed rounds.
func (s *Simulation) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

// Latest returns the most recent round result.
func (s *Simulation) Latest() (RoundResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return RoundResult{}, false
	}
	return *s.latest, true
}

// PriceHistory returns a copy of an instrument's reference price per round.
func (s *Simulation) PriceHistory(symbol string) ([]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.prices[symbol]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), h...), true
}

// Err returns the error that stopped the run, nil while it can still step.
func (s *Simulation) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Step plays one round. A failed round has already moved prices, cash and
// inventory, so any error is terminal: later calls return ErrHalted.
func (s *Simulation) Step(ctx context.Context) (RoundResult, error) {
	s.mu.RLock()
	failed := s.err
	s.mu.RUnlock()
	if failed != nil {
		return RoundResult{}, fmt.Errorf("%w: %w", ErrHalted, failed)
	}

	res, err := s.step(ctx)
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.log.Error("simulation halted", zap.Int("round", res.Round), zap.Error(err))
	}
	return res, err
}

func (s *Simulation) step(ctx context.Context) (RoundResult, error) {
	start := time.Now()
	s.mu.RLock()
	round := s.round + 1
	s.mu.RUnlock()

	res := RoundResult{Round: round}

	res.Inflation = s.cfg.InflationMean + s.rng.NormFloat64()*s.cfg.InflationStd
	res.DailyRate = s.engine.Prices.ApplyInflation(res.Inflation)

	if err := s.submitOrders(&res); err != nil {
		return res, err
	}

	results, err := s.engine.MatchAll(ctx, s.cfg.MatchParallel)
	if err != nil {
		return res, fmt.Errorf("round %d: match: %w", round, err)
	}
	if err := s.recordTrades(&res, results); err != nil {
		return res, err
	}

	res.Prices = s.engine.Prices.Prices()
	res.NetWorth = make(map[string]float64, len(s.traders))
	for _, t := range s.traders {
		acc, ok := s.engine.Ledger.ByName(t.Name)
		if !ok {
			continue
		}
		nw := acc.NetWorth(res.Prices)
		t.RecordNetWorth(nw)
		res.NetWorth[t.Name] = nw
	}
	res.MarketValue = s.engine.MarketValue()

	if round%s.cfg.DividendInterval == 0 {
		payouts, err := s.engine.PayDividends()
		if err != nil {
			return res, fmt.Errorf("round %d: dividends: %w", round, err)
		}
		res.Dividends = payouts
	}

	res.Book = s.closeBook()
	s.engine.ResetBook()
	res.Duration = time.Since(start)

	if err := s.journal(res); err != nil {
		return res, err
	}

	s.mu.Lock()
	s.round = round
	for _, symbol := range s.engine.Registry.Symbols() {
		s.prices[symbol] = append(s.prices[symbol], res.Prices[symbol])
	}
	s.marketValue = append(s.marketValue, res.MarketValue)
	s.trades += len(res.Trades)
	s.volume += res.Volume
	s.dividends += res.DividendTotal()
	latest := res
	s.latest = &latest
	s.mu.Unlock()

	s.observeRound(res)
	s.log.Info("round complete",
		zap.Int("round", round),
		zap.Float64("inflation", res.Inflation),
		zap.Int("orders", res.Orders),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("volume", res.Volume),
		zap.Float64("market_value", res.MarketValue),
		zap.Duration("took", res.Duration),
	)

	s.mu.RLock()
	hooks := slices.Clone(s.hooks)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(res)
	}
	return res, nil
}

// submitOrders lets every agent, in turn, refresh its neighbours and quote
// each instrument in registry order.
func (s *Simulation) submitOrders(res *RoundResult) error {
	instruments := s.engine.Registry.List()

	s.mu.RLock()
	history := maps.Clone(s.prices)
	s.mu.RUnlock()

	for _, t := range s.traders {
		t.RefreshNeighbours(s.traders, s.cfg.MaxNeighbours)

		acc, ok := s.engine.Ledger.ByName(t.Name)
		if !ok {
			return fmt.Errorf("round %d: no account for %s", res.Round, t.Name)
		}
		for _, inst := range instruments {
			price, _ := s.engine.Prices.Price(inst.Symbol)
			t.ObserveVolatility(history[inst.Symbol])

			o, ok := t.GenerateOrder(inst.Symbol, price, acc.Holding(inst.Symbol))
			if !ok {
				res.Skipped++
				if s.metrics != nil {
					s.metrics.OrdersSkipped.Inc()
				}
				continue
			}
			if err := s.engine.Submit(o); err != nil {
				res.Rejected++
				if s.metrics != nil {
					s.metrics.OrdersRejected.Inc()
				}
				s.log.Warn("order rejected", zap.String("agent", t.Name), zap.String("instrument", inst.Symbol), zap.Error(err))
				continue
			}
			res.Orders++
			if s.metrics != nil {
				s.metrics.OrdersSubmitted.WithLabelValues(o.Instrument, o.Side.String()).Inc()
			}
		}
	}
	return nil
}

func (s *Simulation) recordTrades(res *RoundResult, results []core.InstrumentTrades) error {
	var all []orderbook.Trade
	for _, r := range results {
		all = append(all, r.Trades...)
		for _, tr := range r.Trades {
			res.Volume += tr.Notional()
			if s.metrics != nil {
				s.metrics.TradesTotal.WithLabelValues(tr.Instrument).Inc()
				s.metrics.TradedUnits.WithLabelValues(tr.Instrument).Add(float64(tr.Qty))
				s.metrics.TradedNotional.WithLabelValues(tr.Instrument).Add(tr.Notional())
			}
		}
	}

	if s.recorder == nil {
		res.Trades = make([]storage.TradeRecord, len(all))
		for i, tr := range all {
			res.Trades[i] = storage.NewTradeRecord(res.Round, tr)
		}
		return nil
	}
	recs, err := s.recorder.RecordTrades(res.Round, all)
	if err != nil {
		s.tapeError()
		return fmt.Errorf("round %d: record trades: %w", res.Round, err)
	}
	res.Trades = recs
	return nil
}

func (s *Simulation) journal(res RoundResult) error {
	if s.recorder == nil {
		return nil
	}
	if err := s.recorder.RecordDividends(res.dividendRecords()); err != nil {
		s.tapeError()
		return fmt.Errorf("round %d: record dividends: %w", res.Round, err)
	}
	if err := s.recorder.RecordRound(res.record()); err != nil {
		s.tapeError()
		return fmt.Errorf("round %d: record round: %w", res.Round, err)
	}
	return nil
}

func (s *Simulation) tapeError() {
	if s.metrics != nil {
		s.metrics.TapeWriteErrorsTotal.Inc()
	}
}

// closeBook captures what is left resting before the book is cleared.
func (s *Simulation) closeBook() map[string]ClosingBook {
	book := make(map[string]ClosingBook, s.engine.Registry.Count())
	for _, symbol := range s.engine.Registry.Symbols() {
		cb := ClosingBook{
			Bids: s.engine.Book.BidLevels(symbol),
			Asks: s.engine.Book.AskLevels(symbol),
		}
		book[symbol] = cb
		if s.metrics != nil {
			s.metrics.UnfilledOrders.WithLabelValues(symbol, orderbook.Buy.String()).Set(float64(levelOrders(cb.Bids)))
			s.metrics.UnfilledOrders.WithLabelValues(symbol, orderbook.Sell.String()).Set(float64(levelOrders(cb.Asks)))
		}
	}
	return book
}

func levelOrders(levels []orderbook.PriceLevel) int {
	n := 0
	for _, l := range levels {
		n += l.Orders
	}
	return n
}

func (s *Simulation) observeRound(res RoundResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.RoundsTotal.Inc()
	s.metrics.RoundDurationMs.Observe(float64(res.Duration.Microseconds()) / 1000)
	s.metrics.MarketValue.Set(res.MarketValue)
	s.metrics.MonthlyInflation.Set(res.Inflation)
	s.metrics.DividendsPaidTotal.Add(res.DividendTotal())
	for symbol, p := range res.Prices {
		s.metrics.ReferencePrice.WithLabelValues(symbol).Set(p)
	}
}

// Run plays the configured number of rounds, waiting RoundInterval between
// them. It stops early, returning ctx.Err(), when ctx is cancelled.
func (s *Simulation) Run(ctx context.Context) (Summary, error) {
	s.log.Info("simulation started", zap.Int("rounds", s.cfg.Rounds), zap.Duration("interval", s.cfg.RoundInterval))
	for i := 0; i < s.cfg.Rounds; i++ {
		if i > 0 && s.cfg.RoundInterval > 0 {
			select {
			case <-ctx.Done():
				return s.Summary(), ctx.Err()
			case <-s.clock.After(s.cfg.RoundInterval):
			}
		}
		if err := ctx.Err(); err != nil {
			return s.Summary(), err
		}
		if _, err := s.Step(ctx); err != nil {
			return s.Summary(), err
		}
	}
	sum := s.Summary()
	s.log.Info("simulation finished",
		zap.Int("rounds", sum.Rounds),
		zap.Int("trades", sum.Trades),
		zap.Float64("volume", sum.Volume),
		zap.Float64("dividends", sum.Dividends),
	)
	return sum, nil
}

// Summary returns the run's histories normalized to the rounds played so far.
func (s *Simulation) Summary() Summary {
	s.mu.RLock()
	n := s.round
	prices := make(map[string][]float64, len(s.prices))
	maps.Copy(prices, s.prices)
	sum := Summary{
		Rounds:      n,
		MarketValue: Normalize(s.marketValue, n),
		Trades:      s.trades,
		Volume:      s.volume,
		Dividends:   s.dividends,
	}
	s.mu.RUnlock()

	sum.Prices = NormalizeAll(prices, n)
	sum.Inflation = Normalize(s.engine.Prices.InflationHistory(), n)

	netWorth := make(map[string][]float64, len(s.traders))
	for _, t := range s.traders {
		netWorth[t.Name] = t.NetWorthHistory()
	}
	sum.NetWorth = NormalizeAll(netWorth, n)

	sum.Volatility = make(map[string]float64, len(sum.Prices))
	for symbol, h := range sum.Prices {
		sum.Volatility[symbol] = agent.PerceivedVolatility(h, len(h))
	}
	return sum
}
