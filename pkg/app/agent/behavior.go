package agent

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/uhyunpark/agentmarket/pkg/app/core/orderbook"
)

// Sentiment update weights.
const (
	privateWeight = 0.2
	socialWeight  = 0.3
	newsWeight    = 0.05
)

// PerceivedVolatility is the population standard deviation of the log
// returns over the last tau prices. It is 0 when fewer than tau prices exist.
func PerceivedVolatility(prices []float64, tau int) float64 {
	if tau < 2 || len(prices) < tau {
		return 0
	}
	window := prices[len(prices)-tau:]
	returns := make([]float64, 0, tau-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			return 0
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	sd := talib.StdDev(returns, len(returns), 1.0)
	v := sd[len(sd)-1]
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// ObserveVolatility updates the perceived volatility from an instrument's
// price history.
func (t *Trader) ObserveVolatility(prices []float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volatility = PerceivedVolatility(prices, t.profile.Tau)
	return t.volatility
}

// DesiredRisk grows with sentiment and volatility, shrinks with literacy,
// and is shifted up by speculation and down by noise.
func (t *Trader) DesiredRisk() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.desiredRisk()
}

func (t *Trader) desiredRisk() float64 {
	p := t.profile
	base := (p.Sentiment + 1) * t.volatility / (2 + p.Literacy)
	return base + p.Speculation*0.2 - p.Noise*0.1
}

// InflationAdjusted scales price by the expected inflation, weighted by a
// confidence of at least 0.5.
func (t *Trader) InflationAdjusted(price float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.profile
	confidence := math.Max(0.5, p.Literacy-p.Noise)
	return price * (1 + p.InflationExpectation*confidence)
}

// ExpectedPrice is the trader's private valuation of price.
func (t *Trader) ExpectedPrice(price float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.profile
	return price * math.Exp((p.Sentiment+p.Literacy*0.1-p.Speculation*0.15)/10)
}

// RiskQuantity converts desired risk into a size, at least 1 and at most the
// configured cap. A trader that perceives no volatility trades one unit.
func (t *Trader) RiskQuantity() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var q int64
	if t.volatility > 0 {
		q = int64(t.desiredRisk() / t.volatility)
	}
	q = max(q, 1)
	if t.maxQty > 0 {
		q = min(q, t.maxQty)
	}
	return q
}

// PrivateReturn is the growth of net worth over the last ReturnLag rounds,
// 0 until enough history exists or when the base is zero.
func (t *Trader) PrivateReturn() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.netWorth)
	if n <= ReturnLag {
		return 0
	}
	base := t.netWorth[n-ReturnLag]
	if base == 0 {
		return 0
	}
	return t.netWorth[n-1]/base - 1
}

func (t *Trader) hasReturnHistory() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.netWorth) > ReturnLag
}

// SocialReturn is the mean private return of neighbours with enough history.
func (t *Trader) SocialReturn() float64 {
	t.mu.RLock()
	neighbours := append([]*Trader(nil), t.neighbours...)
	t.mu.RUnlock()

	var sum float64
	var n int
	for _, nb := range neighbours {
		if !nb.hasReturnHistory() {
			continue
		}
		sum += nb.PrivateReturn()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// UpdateSentiment blends private return, social return and a standard normal
// news shock, clamped to [-1, 1].
func (t *Trader) UpdateSentiment() float64 {
	private := t.PrivateReturn()
	social := t.SocialReturn()
	news := t.rng.NormFloat64()

	raw := privateWeight*private + socialWeight*social + newsWeight*news
	s := math.Max(-1, math.Min(1, raw))

	t.mu.Lock()
	t.profile.Sentiment = s
	t.mu.Unlock()
	return s
}

// GenerateOrder produces this round's order for one instrument at the given
// reference price. Positive sentiment buys; otherwise the trader sells, at
// most what it holds. ok is false when there is nothing to sell.
func (t *Trader) GenerateOrder(instrument string, price float64, held int64) (*orderbook.Order, bool) {
	t.UpdateSentiment()

	expected := t.ExpectedPrice(t.InflationAdjusted(price))
	expected += t.rng.NormFloat64() * t.Profile().Noise
	if math.IsNaN(expected) || expected < Tick {
		expected = Tick
	}

	qty := t.RiskQuantity()
	side := orderbook.Sell
	if t.Sentiment() > 0 {
		side = orderbook.Buy
	}
	if side == orderbook.Sell {
		if held <= 0 {
			return nil, false
		}
		qty = min(qty, held)
	}

	return &orderbook.Order{
		Side:       side,
		Agent:      t.Address,
		Instrument: instrument,
		LimitPrice: expected,
		Qty:        qty,
	}, true
}
