package params

import (
	"fmt"
	"os"

	"github.com/uhyunpark/agentmarket/pkg/app/core/market"
	"gopkg.in/yaml.v3"
)

// universeFile is the YAML layout of a market file:
//
//	instruments:
//	  - symbol: PETR4
//	    kind: stock
//	    initial_price: 50
//	  - symbol: FII_A
//	    kind: fund
//	    initial_price: 100
//	    monthly_yield: 0.05
type universeFile struct {
	Instruments []struct {
		Symbol       string   `yaml:"symbol"`
		Kind         string   `yaml:"kind"`
		InitialPrice float64  `yaml:"initial_price"`
		MonthlyYield *float64 `yaml:"monthly_yield"`
	} `yaml:"instruments"`
}

// ParseUniverse decodes and validates an instrument list. A fund without an
// explicit yield gets market.DefaultFundYield.
func ParseUniverse(data []byte) ([]market.Instrument, error) {
	var f universeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse market file: %w", err)
	}
	if len(f.Instruments) == 0 {
		return nil, fmt.Errorf("market file lists no instruments")
	}

	seen := make(map[string]bool, len(f.Instruments))
	out := make([]market.Instrument, 0, len(f.Instruments))
	for _, raw := range f.Instruments {
		kind, err := market.ParseKind(raw.Kind)
		if err != nil {
			return nil, err
		}
		inst := market.Instrument{
			Symbol:       raw.Symbol,
			Kind:         kind,
			InitialPrice: raw.InitialPrice,
		}
		if kind == market.Fund {
			inst.MonthlyYield = market.DefaultFundYield
		}
		if raw.MonthlyYield != nil {
			inst.MonthlyYield = *raw.MonthlyYield
		}
		if err := inst.Validate(); err != nil {
			return nil, err
		}
		if seen[inst.Symbol] {
			return nil, fmt.Errorf("%w: %s", market.ErrDuplicateInstrument, inst.Symbol)
		}
		seen[inst.Symbol] = true
		out = append(out, inst)
	}
	return out, nil
}

// LoadUniverse reads the instrument list from path, or returns the default
// universe when path is empty.
func LoadUniverse(path string) ([]market.Instrument, error) {
	if path == "" {
		return market.DefaultUniverse(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market file: %w", err)
	}
	return ParseUniverse(data)
}

// NewRegistry registers instruments in order.
func NewRegistry(instruments []market.Instrument) (*market.Registry, error) {
	r := market.NewRegistry()
	for _, inst := range instruments {
		if err := r.Register(inst); err != nil {
			return nil, err
		}
	}
	return r, nil
}
