package orderbook

import (
	"container/heap"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type PriceLevel struct {
	Price  float64 `json:"price"`
	Qty    int64   `json:"qty"` // total remaining qty at this price level
	Orders int     `json:"orders"`
}

// instrumentBook holds both queues of one instrument. Submissions and matching
// on the same instrument are serialized by mu; different instruments never
// share a lock.
type instrumentBook struct {
	mu   sync.Mutex
	bids buyQueue
	asks sellQueue
}

// OrderBook collects limit orders per instrument and matches them in batch.
type OrderBook struct {
	mu          sync.RWMutex
	books       map[string]*instrumentBook
	instruments []string // first-seen order

	seq atomic.Uint64 // arrival sequence shared by all instruments
	log *zap.Logger
}

func NewOrderBook(logger *zap.Logger) *OrderBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBook{
		books: make(map[string]*instrumentBook),
		log:   logger,
	}
}

func (ob *OrderBook) book(instrument string) *instrumentBook {
	ob.mu.RLock()
	b := ob.books[instrument]
	ob.mu.RUnlock()
	return b
}

func (ob *OrderBook) bookOrCreate(instrument string) *instrumentBook {
	if b := ob.book(instrument); b != nil {
		return b
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if b, ok := ob.books[instrument]; ok {
		return b
	}
	b := &instrumentBook{}
	ob.books[instrument] = b
	ob.instruments = append(ob.instruments, instrument)
	return b
}

// Submit validates o, stamps its arrival sequence and queues it on its side.
// The submitter's cash and inventory are not checked.
func (ob *OrderBook) Submit(o *Order) error {
	if o == nil {
		return ErrInvalidOrder
	}
	if err := o.Validate(); err != nil {
		return err
	}

	b := ob.bookOrCreate(o.Instrument)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Stamped under the instrument lock so queue order and Seq order agree.
	o.Seq = ob.seq.Add(1)
	if o.Side == Buy {
		heap.Push(&b.bids, o)
	} else {
		heap.Push(&b.asks, o)
	}
	return nil
}

// Match executes every crossing trade for one instrument.
//
// Best bid and best ask are compared head to head; the loop halts at the first
// pair that does not cross, since no later pair can. Each trade executes at the
// midpoint of the two limit prices for min(remaining buy, remaining sell),
// is settled, and overwrites the instrument's reference price. A partially
// filled order stays at the head of its queue.
//
// An empty buy or sell side is a no-op: queues and prices are left untouched.
func (ob *OrderBook) Match(instrument string, prices PriceSetter, settler Settler) []Trade {
	b := ob.book(instrument)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bids.Len() == 0 || b.asks.Len() == 0 {
		return nil
	}

	var trades []Trade
	for b.bids.Len() > 0 && b.asks.Len() > 0 {
		buy := b.bids.Peek()
		sell := b.asks.Peek()
		if buy.LimitPrice < sell.LimitPrice {
			break
		}

		t := Trade{
			Buyer:      buy.Agent,
			Seller:     sell.Agent,
			Instrument: instrument,
			Qty:        min(buy.Qty, sell.Qty),
			Price:      (buy.LimitPrice + sell.LimitPrice) / 2,
			BuySeq:     buy.Seq,
			SellSeq:    sell.Seq,
		}
		settler.Settle(t)

		buy.Qty -= t.Qty
		sell.Qty -= t.Qty
		if buy.Filled() {
			heap.Pop(&b.bids)
		}
		if sell.Filled() {
			heap.Pop(&b.asks)
		}

		prices.SetPrice(instrument, t.Price)
		trades = append(trades, t)
	}

	if len(trades) > 0 {
		ob.log.Debug("matched",
			zap.String("instrument", instrument),
			zap.Int("trades", len(trades)),
			zap.Float64("last_price", trades[len(trades)-1].Price),
			zap.Int("resting_bids", b.bids.Len()),
			zap.Int("resting_asks", b.asks.Len()))
	}
	return trades
}

// BestBid returns the highest resting bid price.
func (ob *OrderBook) BestBid(instrument string) (float64, bool) {
	b := ob.book(instrument)
	if b == nil {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if o := b.bids.Peek(); o != nil {
		return o.LimitPrice, true
	}
	return 0, false
}

// BestAsk returns the lowest resting ask price.
func (ob *OrderBook) BestAsk(instrument string) (float64, bool) {
	b := ob.book(instrument)
	if b == nil {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if o := b.asks.Peek(); o != nil {
		return o.LimitPrice, true
	}
	return 0, false
}

// Depth returns the number of resting buy and sell orders.
func (ob *OrderBook) Depth(instrument string) (bids, asks int) {
	b := ob.book(instrument)
	if b == nil {
		return 0, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.Len(), b.asks.Len()
}

// Orders returns copies of the resting orders of one side in priority order.
func (ob *OrderBook) Orders(instrument string, side Side) []Order {
	b := ob.book(instrument)
	if b == nil {
		return nil
	}
	b.mu.Lock()
	var out []Order
	if side == Buy {
		for _, o := range b.bids {
			out = append(out, *o)
		}
	} else {
		for _, o := range b.asks {
			out = append(out, *o)
		}
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LimitPrice != out[j].LimitPrice {
			if side == Buy {
				return out[i].LimitPrice > out[j].LimitPrice
			}
			return out[i].LimitPrice < out[j].LimitPrice
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// BidLevels returns bid price levels sorted high to low (best bid first).
func (ob *OrderBook) BidLevels(instrument string) []PriceLevel {
	levels := aggregate(ob.Orders(instrument, Buy))
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price > levels[j].Price
	})
	return levels
}

// AskLevels returns ask price levels sorted low to high (best ask first).
func (ob *OrderBook) AskLevels(instrument string) []PriceLevel {
	levels := aggregate(ob.Orders(instrument, Sell))
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price < levels[j].Price
	})
	return levels
}

func aggregate(orders []Order) []PriceLevel {
	idx := make(map[float64]int)
	var levels []PriceLevel
	for _, o := range orders {
		i, ok := idx[o.LimitPrice]
		if !ok {
			i = len(levels)
			idx[o.LimitPrice] = i
			levels = append(levels, PriceLevel{Price: o.LimitPrice})
		}
		levels[i].Qty += o.Qty
		levels[i].Orders++
	}
	return levels
}

// Instruments lists every instrument that has received an order, in first-seen order.
func (ob *OrderBook) Instruments() []string {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return append([]string(nil), ob.instruments...)
}

// Reset drops every resting order. The arrival sequence keeps counting.
func (ob *OrderBook) Reset() {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	for _, b := range ob.books {
		b.mu.Lock()
		b.bids = nil
		b.asks = nil
		b.mu.Unlock()
	}
}
