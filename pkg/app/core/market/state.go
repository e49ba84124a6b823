package market

import (
	"maps"
	"math"
	"sync"

	"go.uber.org/zap"
)

// State is the reference price of every instrument. Match overwrites a price
// once per trade; inflation scales all of them once per round.
type State struct {
	mu        sync.RWMutex
	prices    map[string]float64
	symbols   []string  // insertion order
	inflation []float64 // monthly rates, one per round

	log *zap.Logger
}

// NewState seeds reference prices from each instrument's initial price.
func NewState(instruments []Instrument, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &State{
		prices: make(map[string]float64, len(instruments)),
		log:    logger,
	}
	for _, inst := range instruments {
		if _, ok := s.prices[inst.Symbol]; !ok {
			s.symbols = append(s.symbols, inst.Symbol)
		}
		s.prices[inst.Symbol] = inst.InitialPrice
	}
	return s
}

// SetPrice overwrites the reference price. An instrument seen for the first
// time is added.
func (s *State) SetPrice(instrument string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prices[instrument]; !ok {
		s.symbols = append(s.symbols, instrument)
	}
	s.prices[instrument] = price
}

// Price returns the reference price, false when the instrument is unknown.
func (s *State) Price(instrument string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[instrument]
	return p, ok
}

// Prices returns a copy of all reference prices.
func (s *State) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.prices)
}

func (s *State) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.symbols...)
}

// DailyRate converts a monthly inflation rate to the compounded daily rate
// over a 30-day month.
func DailyRate(monthly float64) float64 {
	return math.Pow(1+monthly, 1.0/30) - 1
}

// ApplyInflation records the monthly rate and scales every reference price by
// one day of it. Returns the daily rate applied.
func (s *State) ApplyInflation(monthly float64) float64 {
	daily := DailyRate(monthly)

	s.mu.Lock()
	s.inflation = append(s.inflation, monthly)
	for symbol := range s.prices {
		s.prices[symbol] *= 1 + daily
	}
	s.mu.Unlock()

	s.log.Debug("inflation applied",
		zap.Float64("monthly", monthly),
		zap.Float64("daily", daily))
	return daily
}

// InflationHistory returns every monthly rate applied so far.
func (s *State) InflationHistory() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.inflation...)
}
