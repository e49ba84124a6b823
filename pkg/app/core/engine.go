// Package core wires the order book, the account ledger and market state into
// one matching engine.
package core

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/agentmarket/pkg/app/core/account"
	"github.com/uhyunpark/agentmarket/pkg/app/core/market"
	"github.com/uhyunpark/agentmarket/pkg/app/core/orderbook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine owns the book, the ledger and the reference prices for one run.
type Engine struct {
	Registry *market.Registry
	Book     *orderbook.OrderBook
	Ledger   *account.Ledger
	Prices   *market.State

	log *zap.Logger
}

func NewEngine(registry *market.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Registry: registry,
		Book:     orderbook.NewOrderBook(logger.Named("orderbook")),
		Ledger:   account.NewLedger(logger.Named("ledger")),
		Prices:   market.NewState(registry.List(), logger.Named("market")),
		log:      logger,
	}
}

// Submit queues an order for a registered instrument.
func (e *Engine) Submit(o *orderbook.Order) error {
	if o != nil && !e.Registry.Exists(o.Instrument) {
		return fmt.Errorf("%w: %w: %s", orderbook.ErrInvalidOrder, market.ErrUnknownInstrument, o.Instrument)
	}
	return e.Book.Submit(o)
}

// Match runs the matching loop for one instrument, settling through the
// ledger and publishing execution prices to market state.
func (e *Engine) Match(instrument string) []orderbook.Trade {
	return e.Book.Match(instrument, e.Prices, e.Ledger)
}

// InstrumentTrades is the outcome of matching one instrument.
type InstrumentTrades struct {
	Instrument string
	Trades     []orderbook.Trade
}

// MatchAll matches every registered instrument. Results are in registry order.
// With parallel set, instruments are matched concurrently: each has its own
// book lock and settlement locks accounts pairwise.
func (e *Engine) MatchAll(ctx context.Context, parallel bool) ([]InstrumentTrades, error) {
	symbols := e.Registry.Symbols()
	results := make([]InstrumentTrades, len(symbols))

	if !parallel {
		for i, symbol := range symbols {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = InstrumentTrades{Instrument: symbol, Trades: e.Match(symbol)}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = InstrumentTrades{Instrument: symbol, Trades: e.Match(symbol)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Payout is one dividend credit.
type Payout struct {
	Account    common.Address
	Name       string
	Instrument string
	Units      int64
	Amount     float64
}

// PayDividends credits every fund holder units × reference price × yield.
// Accounts with no position, or a short one, receive nothing.
func (e *Engine) PayDividends() ([]Payout, error) {
	var payouts []Payout
	for _, fund := range e.Registry.Funds() {
		price, ok := e.Prices.Price(fund.Symbol)
		if !ok {
			continue
		}
		for _, acc := range e.Ledger.Accounts() {
			units := acc.Holding(fund.Symbol)
			amount := fund.Dividend(units, price)
			if amount == 0 {
				continue
			}
			if err := e.Ledger.Credit(acc.Address, amount); err != nil {
				return payouts, fmt.Errorf("pay %s dividend to %s: %w", fund.Symbol, acc.Name, err)
			}
			payouts = append(payouts, Payout{
				Account:    acc.Address,
				Name:       acc.Name,
				Instrument: fund.Symbol,
				Units:      units,
				Amount:     amount,
			})
		}
	}
	if len(payouts) > 0 {
		e.log.Info("dividends paid", zap.Int("payouts", len(payouts)))
	}
	return payouts, nil
}

// MarketValue is the sum over registered instruments of reference price times
// the units held across all accounts.
func (e *Engine) MarketValue() float64 {
	prices := e.Prices.Prices()
	var total float64
	for _, symbol := range e.Registry.Symbols() {
		total += prices[symbol] * float64(e.Ledger.TotalHolding(symbol))
	}
	return total
}

// ResetBook drops every resting order.
func (e *Engine) ResetBook() {
	e.Book.Reset()
}
