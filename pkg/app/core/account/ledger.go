package account

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/agentmarket/pkg/app/core/orderbook"
	"go.uber.org/zap"
)

var (
	ErrDuplicateAccount = errors.New("duplicate account")
	ErrUnknownAccount   = errors.New("unknown account")
)

// Ledger manages all accounts in a thread-safe manner and applies trade settlement.
// The map is guarded by mu; each account's balance and holdings by its own lock.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
	order    []common.Address // registration order

	log *zap.Logger
}

func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		accounts: make(map[common.Address]*Account),
		log:      logger,
	}
}

// Register opens an account for name. Names must be unique.
func (l *Ledger) Register(name string, balance float64, holdings map[string]int64) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("account name cannot be empty")
	}
	acc := NewAccount(name, balance, holdings)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[acc.Address]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAccount, name)
	}
	l.accounts[acc.Address] = acc
	l.order = append(l.order, acc.Address)
	return acc, nil
}

// Get returns the account for addr.
func (l *Ledger) Get(addr common.Address) (*Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc, ok := l.accounts[addr]
	return acc, ok
}

// ByName looks an account up by agent name.
func (l *Ledger) ByName(name string) (*Account, bool) {
	return l.Get(AddressFromName(name))
}

// Accounts returns every account in registration order.
func (l *Ledger) Accounts() []*Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Account, 0, len(l.order))
	for _, addr := range l.order {
		out = append(out, l.accounts[addr])
	}
	return out
}

func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}

// account returns the account for addr, opening an empty one if it was never
// registered (trades may name any address).
func (l *Ledger) account(addr common.Address) *Account {
	if acc, ok := l.Get(addr); ok {
		return acc
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[addr]; ok {
		return acc
	}
	acc := &Account{
		Address:  addr,
		Name:     addr.Hex(),
		holdings: make(map[string]int64),
	}
	l.accounts[addr] = acc
	l.order = append(l.order, addr)
	l.log.Warn("settling against unregistered account", zap.String("address", addr.Hex()))
	return acc
}

// lockPair locks both accounts in address order and returns the unlock func.
// A self-trade locks once.
func lockPair(a, b *Account) func() {
	if a == b {
		a.mu.Lock()
		return a.mu.Unlock
	}
	first, second := a, b
	if bytes.Compare(a.Address[:], b.Address[:]) > 0 {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Settle moves Qty×Price cash from buyer to seller and Qty units of the
// instrument from seller to buyer. Both sides change together: no reader can
// observe one leg without the other. Neither balance nor inventory is checked.
func (l *Ledger) Settle(t orderbook.Trade) {
	buyer := l.account(t.Buyer)
	seller := l.account(t.Seller)
	notional := t.Notional()

	unlock := lockPair(buyer, seller)
	defer unlock()

	buyer.balance -= notional
	buyer.adjustHolding(t.Instrument, t.Qty)
	seller.balance += notional
	seller.adjustHolding(t.Instrument, -t.Qty)
	if units := seller.holdings[t.Instrument]; units < 0 {
		l.log.Warn("seller inventory negative",
			zap.String("account", seller.Name),
			zap.String("instrument", t.Instrument),
			zap.Int64("units", units))
	}

	buyer.tradeCount++
	buyer.volume += notional
	if seller != buyer {
		seller.tradeCount++
		seller.volume += notional
	}
}

// Credit adds amount to a registered account's balance (dividend payout).
func (l *Ledger) Credit(addr common.Address, amount float64) error {
	acc, ok := l.Get(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, addr.Hex())
	}
	acc.mu.Lock()
	acc.balance += amount
	acc.dividends += amount
	acc.mu.Unlock()
	return nil
}

// TotalHolding sums the units of instrument across all accounts.
func (l *Ledger) TotalHolding(instrument string) int64 {
	var total int64
	for _, acc := range l.Accounts() {
		total += acc.Holding(instrument)
	}
	return total
}

// TotalBalance sums cash across all accounts.
func (l *Ledger) TotalBalance() float64 {
	var total float64
	for _, acc := range l.Accounts() {
		total += acc.Balance()
	}
	return total
}

// Snapshots returns a copy of every account in registration order.
func (l *Ledger) Snapshots() []Snapshot {
	accs := l.Accounts()
	out := make([]Snapshot, len(accs))
	for i, acc := range accs {
		out[i] = acc.Snapshot()
	}
	return out
}
