package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrDuplicateInstrument = errors.New("duplicate instrument")
	ErrInvalidInstrument   = errors.New("invalid instrument")
)

// Kind distinguishes plain stocks from income funds.
type Kind int8

const (
	Stock Kind = iota
	Fund        // pays a monthly yield on the reference price
)

func (k Kind) String() string {
	switch k {
	case Stock:
		return "stock"
	case Fund:
		return "fund"
	default:
		return "unknown"
	}
}

// ParseKind accepts "stock" or "fund" in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "stock", "":
		return Stock, nil
	case "fund", "fii":
		return Fund, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidInstrument, s)
	}
}

// Instrument describes one tradable symbol.
type Instrument struct {
	Symbol       string
	Kind         Kind
	InitialPrice float64
	MonthlyYield float64 // funds only, e.g. 0.05 = 5% per month
}

// Validate checks instrument parameters
func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidInstrument)
	}
	if strings.ContainsFunc(i.Symbol, invalidSymbolRune) {
		return fmt.Errorf("%w: symbol %q may only use letters, digits, '_', '-' and '.'", ErrInvalidInstrument, i.Symbol)
	}
	if i.Kind != Stock && i.Kind != Fund {
		return fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidInstrument, i.Symbol, i.Kind)
	}
	if math.IsNaN(i.InitialPrice) || math.IsInf(i.InitialPrice, 0) || i.InitialPrice <= 0 {
		return fmt.Errorf("%w: %s initial price must be positive, got %v", ErrInvalidInstrument, i.Symbol, i.InitialPrice)
	}
	if i.MonthlyYield < 0 {
		return fmt.Errorf("%w: %s yield cannot be negative", ErrInvalidInstrument, i.Symbol)
	}
	if i.Kind == Stock && i.MonthlyYield != 0 {
		return fmt.Errorf("%w: stock %s cannot carry a yield", ErrInvalidInstrument, i.Symbol)
	}
	return nil
}

// Symbols appear as one segment of tape keys and API paths, so separators
// such as ':' and '/' are not allowed.
func invalidSymbolRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return false
	case r == '_', r == '-', r == '.':
		return false
	}
	return true
}

// Dividend returns units × price × yield for a fund; stocks and
// non-positive positions pay nothing.
func (i Instrument) Dividend(units int64, price float64) float64 {
	if i.Kind != Fund || units <= 0 {
		return 0
	}
	return float64(units) * price * i.MonthlyYield
}
