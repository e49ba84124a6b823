package market

import (
	"fmt"
	"sync"
)

// Registry holds the tradable instruments in registration order.
// Iteration order is stable so every round visits instruments the same way.
type Registry struct {
	mu          sync.RWMutex
	instruments map[string]Instrument // symbol -> instrument
	order       []string
}

// NewRegistry creates an empty instrument registry
func NewRegistry() *Registry {
	return &Registry{
		instruments: make(map[string]Instrument),
	}
}

// Register validates and adds an instrument.
// Returns error if an instrument with the same symbol already exists
func (r *Registry) Register(inst Instrument) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instruments[inst.Symbol]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateInstrument, inst.Symbol)
	}

	r.instruments[inst.Symbol] = inst
	r.order = append(r.order, inst.Symbol)
	return nil
}

// Get retrieves an instrument by symbol
func (r *Registry) Get(symbol string) (Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, exists := r.instruments[symbol]
	if !exists {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	return inst, nil
}

// List returns all instruments in registration order
func (r *Registry) List() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Instrument, 0, len(r.order))
	for _, symbol := range r.order {
		out = append(out, r.instruments[symbol])
	}
	return out
}

// Funds returns only the dividend-paying instruments
func (r *Registry) Funds() []Instrument {
	var out []Instrument
	for _, inst := range r.List() {
		if inst.Kind == Fund {
			out = append(out, inst)
		}
	}
	return out
}

// Symbols returns the registered symbols in registration order
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instruments)
}

func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.instruments[symbol]
	return exists
}
