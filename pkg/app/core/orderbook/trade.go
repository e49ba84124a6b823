package orderbook

import "github.com/ethereum/go-ethereum/common"

// Trade is the result of one match step. It only lives long enough to drive
// settlement and reporting; the book keeps no trade history.
type Trade struct {
	Buyer      common.Address
	Seller     common.Address
	Instrument string
	Qty        int64
	Price      float64 // midpoint of the two limit prices

	BuySeq  uint64
	SellSeq uint64
}

// Notional returns Qty × Price, the cash that moves from buyer to seller.
func (t Trade) Notional() float64 {
	return float64(t.Qty) * t.Price
}

// Settler applies a trade's cash and inventory effects to both counterparties.
// Implementations must make the transfer atomic for outside observers.
type Settler interface {
	Settle(Trade)
}

// PriceSetter receives the execution price of every trade (Market Price State).
type PriceSetter interface {
	SetPrice(instrument string, price float64)
}
