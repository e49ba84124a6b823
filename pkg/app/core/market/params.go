package market

// DefaultFundYield is the monthly yield paid by the default funds.
const DefaultFundYield = 0.05

// DefaultUniverse returns the stock and fund set the simulator starts with
// when no market file is configured.
func DefaultUniverse() []Instrument {
	return []Instrument{
		{Symbol: "PETR4", Kind: Stock, InitialPrice: 50.0},
		{Symbol: "VALE3", Kind: Stock, InitialPrice: 45.0},
		{Symbol: "FII_A", Kind: Fund, InitialPrice: 100.0, MonthlyYield: DefaultFundYield},
		{Symbol: "FII_B", Kind: Fund, InitialPrice: 150.0, MonthlyYield: DefaultFundYield},
	}
}

// NewDefaultRegistry returns a registry holding DefaultUniverse.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, inst := range DefaultUniverse() {
		// Defaults are valid and unique.
		_ = r.Register(inst)
	}
	return r
}
