package storage

import "fmt"

// Tape key schema. Prefix-based so each record kind is one range scan;
// numeric parts are zero-padded so lexicographic order is chronological.
//
//   trade:<symbol>:<round>:<n>  -> TradeRecord
//   round:<round>               -> RoundRecord
//   div:<round>:<n>             -> DividendRecord
const (
	prefixTrade    = "trade:"
	prefixRound    = "round:"
	prefixDividend = "div:"
)

// tradeKey returns the key for a trade
// Format: "trade:{symbol}:{round}:{n}", n is the tape-wide trade counter
func tradeKey(symbol string, round int, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d:%020d", prefixTrade, symbol, round, n))
}

// tradePrefix returns the prefix for all trades of a symbol
// Format: "trade:{symbol}:"
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

func roundKey(round int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefixRound, round))
}

func dividendKey(round int, n uint64) []byte {
	return []byte(fmt.Sprintf("%s%010d:%020d", prefixDividend, round, n))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: "trade:PETR4:" -> "trade:PETR4;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
