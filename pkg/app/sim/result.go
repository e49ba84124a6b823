package sim

import (
	"time"

	"github.com/uhyunpark/agentmarket/pkg/app/core"
	"github.com/uhyunpark/agentmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/agentmarket/pkg/storage"
)

// RoundResult is everything one round produced.
type RoundResult struct {
	Round       int                `json:"round"`
	Inflation   float64            `json:"inflation"`  // monthly rate drawn
	DailyRate   float64            `json:"daily_rate"` // applied to every reference price
	Prices      map[string]float64 `json:"prices"`
	NetWorth    map[string]float64 `json:"net_worth"` // by agent name
	MarketValue float64            `json:"market_value"`

	Orders   int `json:"orders"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`

	Trades    []storage.TradeRecord `json:"trades"`
	Volume    float64               `json:"volume"`
	Dividends []core.Payout         `json:"dividends,omitempty"`

	// Book is what each instrument had resting when matching stopped.
	Book map[string]ClosingBook `json:"book"`

	Duration time.Duration `json:"duration"`
}

// ClosingBook is one instrument's unmatched interest at round close.
type ClosingBook struct {
	Bids []orderbook.PriceLevel `json:"bids"` // best first
	Asks []orderbook.PriceLevel `json:"asks"`
}

// DividendTotal sums the round's payouts.
func (r RoundResult) DividendTotal() float64 {
	var total float64
	for _, p := range r.Dividends {
		total += p.Amount
	}
	return total
}

func (r RoundResult) record() storage.RoundRecord {
	return storage.RoundRecord{
		Round:       r.Round,
		Inflation:   r.Inflation,
		DailyRate:   r.DailyRate,
		Prices:      r.Prices,
		NetWorth:    r.NetWorth,
		MarketValue: r.MarketValue,
		Trades:      len(r.Trades),
		Volume:      r.Volume,
		Dividends:   r.DividendTotal(),
	}
}

func (r RoundResult) dividendRecords() []storage.DividendRecord {
	if len(r.Dividends) == 0 {
		return nil
	}
	out := make([]storage.DividendRecord, len(r.Dividends))
	for i, p := range r.Dividends {
		out[i] = storage.DividendRecord{
			Round:      r.Round,
			Account:    p.Account.Hex(),
			Name:       p.Name,
			Instrument: p.Instrument,
			Units:      p.Units,
			Amount:     p.Amount,
		}
	}
	return out
}

// Summary is the normalized history of a run.
type Summary struct {
	Rounds      int                  `json:"rounds"`
	Prices      map[string][]float64 `json:"prices"`
	NetWorth    map[string][]float64 `json:"net_worth"`
	MarketValue []float64            `json:"market_value"`
	Inflation   []float64            `json:"inflation"`
	// Volatility is the realized standard deviation of log returns per
	// instrument over the whole run.
	Volatility map[string]float64 `json:"volatility"`

	Trades    int     `json:"trades"`
	Volume    float64 `json:"volume"`
	Dividends float64 `json:"dividends"`
}
