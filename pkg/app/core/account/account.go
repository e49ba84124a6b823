package account

import (
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Account is one trading agent's cash and inventory.
// Balance may go negative: the engine does not check funds.
type Account struct {
	mu sync.Mutex

	Address common.Address // derived from Name, see AddressFromName
	Name    string

	balance  float64
	holdings map[string]int64 // instrument -> units; absent key means zero

	// Cumulative statistics
	tradeCount int64
	volume     float64 // notional traded on either side
	dividends  float64
}

// NewAccount creates an account with an initial balance and a copy of the given holdings.
// Zero entries are dropped.
func NewAccount(name string, balance float64, holdings map[string]int64) *Account {
	acc := &Account{
		Address:  AddressFromName(name),
		Name:     name,
		balance:  balance,
		holdings: make(map[string]int64, len(holdings)),
	}
	for symbol, units := range holdings {
		if units != 0 {
			acc.holdings[symbol] = units
		}
	}
	return acc
}

// Balance returns the cash balance.
func (a *Account) Balance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Holding returns the units held of instrument, 0 when none.
func (a *Account) Holding(instrument string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holdings[instrument]
}

// Holdings returns a copy of the non-zero holdings.
func (a *Account) Holdings() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.holdings)
}

// adjustHolding must be called with mu held.
func (a *Account) adjustHolding(instrument string, delta int64) {
	units := a.holdings[instrument] + delta
	if units == 0 {
		delete(a.holdings, instrument)
		return
	}
	a.holdings[instrument] = units
}

// NetWorth returns balance plus holdings valued at prices.
// Instruments without a price contribute nothing. Holdings are summed in
// symbol order so equal state always yields the same float.
func (a *Account) NetWorth(prices map[string]float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	worth := a.balance
	for _, symbol := range slices.Sorted(maps.Keys(a.holdings)) {
		worth += float64(a.holdings[symbol]) * prices[symbol]
	}
	return worth
}

// Snapshot is a point-in-time copy of an account for reporting.
type Snapshot struct {
	Address    common.Address   `json:"address"`
	Name       string           `json:"name"`
	Balance    float64          `json:"balance"`
	Holdings   map[string]int64 `json:"holdings"`
	TradeCount int64            `json:"trade_count"`
	Volume     float64          `json:"volume"`
	Dividends  float64          `json:"dividends"`
}

func (a *Account) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Address:    a.Address,
		Name:       a.Name,
		Balance:    a.balance,
		Holdings:   maps.Clone(a.holdings),
		TradeCount: a.tradeCount,
		Volume:     a.volume,
		Dividends:  a.dividends,
	}
}
