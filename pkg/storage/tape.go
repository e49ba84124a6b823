// Package storage keeps a journal of one simulation run in Pebble: trades,
// per-round snapshots and dividend payouts. Nothing survives the run; a tape
// always starts empty.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/uhyunpark/agentmarket/pkg/app/core/orderbook"
	"go.uber.org/zap"
)

// TradeRecord is a settled trade as journaled.
type TradeRecord struct {
	ID         string  `json:"id"`
	Round      int     `json:"round"`
	Instrument string  `json:"instrument"`
	Buyer      string  `json:"buyer"`
	Seller     string  `json:"seller"`
	Qty        int64   `json:"qty"`
	Price      float64 `json:"price"`
	BuySeq     uint64  `json:"buy_seq"`
	SellSeq    uint64  `json:"sell_seq"`
}

// RoundRecord is the end-of-round snapshot.
type RoundRecord struct {
	Round       int                `json:"round"`
	Inflation   float64            `json:"inflation"`
	DailyRate   float64            `json:"daily_rate"`
	Prices      map[string]float64 `json:"prices"`
	NetWorth    map[string]float64 `json:"net_worth"`
	MarketValue float64            `json:"market_value"`
	Trades      int                `json:"trades"`
	Volume      float64            `json:"volume"`
	Dividends   float64            `json:"dividends"`
}

// DividendRecord is one dividend credit.
type DividendRecord struct {
	Round      int     `json:"round"`
	Account    string  `json:"account"`
	Name       string  `json:"name"`
	Instrument string  `json:"instrument"`
	Units      int64   `json:"units"`
	Amount     float64 `json:"amount"`
}

// NewTradeRecord converts a trade into its journal form with a fresh ID.
func NewTradeRecord(round int, tr orderbook.Trade) TradeRecord {
	return TradeRecord{
		ID:         uuid.NewString(),
		Round:      round,
		Instrument: tr.Instrument,
		Buyer:      tr.Buyer.Hex(),
		Seller:     tr.Seller.Hex(),
		Qty:        tr.Qty,
		Price:      tr.Price,
		BuySeq:     tr.BuySeq,
		SellSeq:    tr.SellSeq,
	}
}

// Tape is the run-scoped Pebble journal.
type Tape struct {
	db *pebble.DB

	mu   sync.Mutex
	next uint64 // record counter for key ordering

	log *zap.Logger
}

// Open creates an empty tape. An empty dir keeps everything in memory;
// otherwise dir is wiped first so no earlier run leaks in.
func Open(dir string, logger *zap.Logger) (*Tape, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &pebble.Options{}
	path := dir
	if dir == "" {
		opts.FS = vfs.NewMem()
		path = "tape"
	} else if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to clear tape dir %s: %w", dir, err)
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}

	logger.Info("tape opened", zap.String("dir", dir), zap.Bool("in_memory", dir == ""))
	return &Tape{db: db, log: logger}, nil
}

// Close closes the database
func (t *Tape) Close() error {
	return t.db.Close()
}

func (t *Tape) seq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	return t.next
}

// RecordTrades journals one round's trades in a single batch and returns the
// records with their assigned IDs.
func (t *Tape) RecordTrades(round int, trades []orderbook.Trade) ([]TradeRecord, error) {
	if len(trades) == 0 {
		return nil, nil
	}

	batch := t.db.NewBatch()
	defer batch.Close()

	records := make([]TradeRecord, 0, len(trades))
	for _, tr := range trades {
		rec := NewTradeRecord(round, tr)
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal trade: %w", err)
		}
		if err := batch.Set(tradeKey(rec.Instrument, round, t.seq()), data, nil); err != nil {
			return nil, fmt.Errorf("failed to stage trade: %w", err)
		}
		records = append(records, rec)
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		return nil, fmt.Errorf("failed to commit trades: %w", err)
	}
	return records, nil
}

// RecordRound journals an end-of-round snapshot.
func (t *Tape) RecordRound(r RoundRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	if err := t.db.Set(roundKey(r.Round), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.Round, err)
	}
	return nil
}

// RecordDividends journals a dividend payout in one batch.
func (t *Tape) RecordDividends(records []DividendRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	defer batch.Close()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal dividend: %w", err)
		}
		if err := batch.Set(dividendKey(rec.Round, t.seq()), data, nil); err != nil {
			return fmt.Errorf("failed to stage dividend: %w", err)
		}
	}
	return batch.Commit(pebble.NoSync)
}

// Trades returns up to limit trades of symbol, newest first.
// A non-positive limit returns all of them.
func (t *Tape) Trades(symbol string, limit int) ([]TradeRecord, error) {
	prefix := tradePrefix(symbol)
	iter, err := t.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var out []TradeRecord
	for iter.Last(); iter.Valid() && (limit <= 0 || len(out) < limit); iter.Prev() {
		var rec TradeRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			t.log.Warn("skipping undecodable trade", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// Rounds returns every round snapshot in order.
func (t *Tape) Rounds() ([]RoundRecord, error) {
	prefix := []byte(prefixRound)
	iter, err := t.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open round iterator: %w", err)
	}
	defer iter.Close()

	var out []RoundRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec RoundRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode round: %w", err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// Round loads one round snapshot.
func (t *Tape) Round(round int) (RoundRecord, bool, error) {
	data, closer, err := t.db.Get(roundKey(round))
	if errors.Is(err, pebble.ErrNotFound) {
		return RoundRecord{}, false, nil
	}
	if err != nil {
		return RoundRecord{}, false, fmt.Errorf("failed to get round %d: %w", round, err)
	}
	defer closer.Close()

	var rec RoundRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RoundRecord{}, false, fmt.Errorf("failed to decode round %d: %w", round, err)
	}
	return rec, true, nil
}

// Dividends returns every dividend credit in payout order.
func (t *Tape) Dividends() ([]DividendRecord, error) {
	prefix := []byte(prefixDividend)
	iter, err := t.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open dividend iterator: %w", err)
	}
	defer iter.Close()

	var out []DividendRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec DividendRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode dividend: %w", err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}
