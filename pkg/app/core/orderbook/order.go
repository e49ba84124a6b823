package orderbook

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidOrder is returned by Submit for orders that break the order contract
// (unknown side, empty instrument, non-positive price or quantity).
var ErrInvalidOrder = errors.New("invalid order")

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
	}
}

// Order is a single-shot limit order. Everything except Qty is fixed once the
// order is submitted; Qty is the remaining quantity and only the book mutates it.
type Order struct {
	Side       Side
	Agent      common.Address // owner identity, used to route settlement
	Instrument string
	LimitPrice float64 // buyer's maximum / seller's minimum
	Qty        int64
	Seq        uint64 // arrival sequence, assigned by OrderBook.Submit
}

// Validate checks the order contract.
func (o *Order) Validate() error {
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, o.Side)
	}
	if o.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrInvalidOrder)
	}
	if math.IsNaN(o.LimitPrice) || math.IsInf(o.LimitPrice, 0) || o.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit price must be positive, got %v", ErrInvalidOrder, o.LimitPrice)
	}
	if o.Qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Qty)
	}
	return nil
}

// Filled reports whether nothing remains to execute.
func (o *Order) Filled() bool {
	return o.Qty == 0
}
