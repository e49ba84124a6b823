package market

import (
	"errors"
	"math"
	"testing"
)

func TestInstrumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		inst    Instrument
		wantErr bool
	}{
		{"stock", Instrument{Symbol: "PETR4", Kind: Stock, InitialPrice: 50}, false},
		{"fund", Instrument{Symbol: "FII_A", Kind: Fund, InitialPrice: 100, MonthlyYield: 0.05}, false},
		{"empty symbol", Instrument{Kind: Stock, InitialPrice: 50}, true},
		{"zero price", Instrument{Symbol: "X", Kind: Stock}, true},
		{"infinite price", Instrument{Symbol: "X", Kind: Stock, InitialPrice: math.Inf(1)}, true},
		{"negative yield", Instrument{Symbol: "X", Kind: Fund, InitialPrice: 1, MonthlyYield: -0.1}, true},
		{"stock with yield", Instrument{Symbol: "X", Kind: Stock, InitialPrice: 1, MonthlyYield: 0.1}, true},
		{"bad kind", Instrument{Symbol: "X", Kind: Kind(9), InitialPrice: 1}, true},
		{"dotted symbol", Instrument{Symbol: "BRK.B", Kind: Stock, InitialPrice: 1}, false},
		{"key separator", Instrument{Symbol: "A:B", Kind: Stock, InitialPrice: 1}, true},
		{"path separator", Instrument{Symbol: "A/B", Kind: Stock, InitialPrice: 1}, true},
		{"space", Instrument{Symbol: "A B", Kind: Stock, InitialPrice: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.inst.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidInstrument) {
				t.Errorf("expected ErrInvalidInstrument, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDividend(t *testing.T) {
	fund := Instrument{Symbol: "FII_A", Kind: Fund, InitialPrice: 100, MonthlyYield: 0.05}
	if got := fund.Dividend(10, 100); got != 50 {
		t.Errorf("dividend = %v, want 50", got)
	}
	if got := fund.Dividend(0, 100); got != 0 {
		t.Errorf("dividend on zero units = %v", got)
	}
	if got := fund.Dividend(-3, 100); got != 0 {
		t.Errorf("dividend on short units = %v", got)
	}
	stock := Instrument{Symbol: "PETR4", Kind: Stock, InitialPrice: 50}
	if got := stock.Dividend(10, 50); got != 0 {
		t.Errorf("stock dividend = %v", got)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("Fund"); err != nil || k != Fund {
		t.Errorf("ParseKind(Fund) = %v, %v", k, err)
	}
	if k, err := ParseKind(""); err != nil || k != Stock {
		t.Errorf("ParseKind(\"\") = %v, %v", k, err)
	}
	if _, err := ParseKind("bond"); !errors.Is(err, ErrInvalidInstrument) {
		t.Errorf("ParseKind(bond) err = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	if r.Count() != 4 {
		t.Fatalf("count = %d, want 4", r.Count())
	}
	want := []string{"PETR4", "VALE3", "FII_A", "FII_B"}
	for i, s := range r.Symbols() {
		if s != want[i] {
			t.Errorf("symbols[%d] = %s, want %s", i, s, want[i])
		}
	}
	if funds := r.Funds(); len(funds) != 2 || funds[0].Symbol != "FII_A" {
		t.Errorf("funds = %+v", funds)
	}

	err := r.Register(Instrument{Symbol: "PETR4", Kind: Stock, InitialPrice: 1})
	if !errors.Is(err, ErrDuplicateInstrument) {
		t.Errorf("expected ErrDuplicateInstrument, got %v", err)
	}
	if _, err := r.Get("ITUB4"); !errors.Is(err, ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument, got %v", err)
	}
	inst, err := r.Get("VALE3")
	if err != nil || inst.InitialPrice != 45 {
		t.Errorf("Get(VALE3) = %+v, %v", inst, err)
	}
	if !r.Exists("FII_B") || r.Exists("ITUB4") {
		t.Error("Exists mismatch")
	}
}

func TestStatePrices(t *testing.T) {
	s := NewState(DefaultUniverse(), nil)

	if p, ok := s.Price("PETR4"); !ok || p != 50 {
		t.Errorf("PETR4 = %v, %v", p, ok)
	}
	if _, ok := s.Price("ITUB4"); ok {
		t.Error("unknown instrument has a price")
	}

	s.SetPrice("PETR4", 51)
	s.SetPrice("ITUB4", 30)
	if p, _ := s.Price("PETR4"); p != 51 {
		t.Errorf("PETR4 = %v, want 51", p)
	}
	syms := s.Symbols()
	if len(syms) != 5 || syms[4] != "ITUB4" {
		t.Errorf("symbols = %v", syms)
	}

	prices := s.Prices()
	prices["PETR4"] = 0
	if p, _ := s.Price("PETR4"); p != 51 {
		t.Error("Prices returned a live map")
	}
}

func TestApplyInflation(t *testing.T) {
	s := NewState(DefaultUniverse(), nil)

	daily := s.ApplyInflation(0.005)
	wantDaily := math.Pow(1.005, 1.0/30) - 1
	if math.Abs(daily-wantDaily) > 1e-15 {
		t.Fatalf("daily = %v, want %v", daily, wantDaily)
	}

	for _, inst := range DefaultUniverse() {
		got, _ := s.Price(inst.Symbol)
		want := inst.InitialPrice * (1 + wantDaily)
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("%s = %v, want %v", inst.Symbol, got, want)
		}
	}

	s.ApplyInflation(-0.001)
	hist := s.InflationHistory()
	if len(hist) != 2 || hist[0] != 0.005 || hist[1] != -0.001 {
		t.Errorf("history = %v", hist)
	}
}

func TestDailyRateCompoundsToMonthly(t *testing.T) {
	for _, m := range []float64{0, 0.005, 0.02, -0.01} {
		if got := math.Pow(1+DailyRate(m), 30) - 1; math.Abs(got-m) > 1e-12 {
			t.Errorf("30 days of DailyRate(%v) compound to %v", m, got)
		}
	}
}
