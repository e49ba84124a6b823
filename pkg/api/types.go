package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// InstrumentInfo is an instrument's parameters and current reference price
type InstrumentInfo struct {
	Symbol       string  `json:"symbol"`       // e.g., "PETR4"
	Kind         string  `json:"kind"`         // "stock" or "fund"
	InitialPrice float64 `json:"initialPrice"`
	MonthlyYield float64 `json:"monthlyYield"` // funds only
	Price        float64 `json:"price"`        // reference price
	HeldUnits    int64   `json:"heldUnits"`    // across all accounts
}

// PriceHistory is the reference price after each completed round
type PriceHistory struct {
	Symbol string    `json:"symbol"`
	Prices []float64 `json:"prices"`
}

// OrderbookSnapshot is the book an instrument closed the last round with
type OrderbookSnapshot struct {
	Symbol string       `json:"symbol"`
	Round  int          `json:"round"`
	Bids   []PriceLevel `json:"bids"` // Sorted high to low
	Asks   []PriceLevel `json:"asks"` // Sorted low to high
}

// PriceLevel aggregates resting orders at one limit price
type PriceLevel struct {
	Price  float64 `json:"price"`
	Size   int64   `json:"size"`
	Orders int     `json:"orders"`
}

// AgentInfo is an agent's ledger position and behavioural state
type AgentInfo struct {
	Name       string           `json:"name"`
	Address    string           `json:"address"`
	Balance    float64          `json:"balance"` // may be negative
	Holdings   map[string]int64 `json:"holdings"`
	NetWorth   float64          `json:"netWorth"` // at current reference prices
	Trades     int64            `json:"trades"`
	Sentiment  float64          `json:"sentiment"`
	Volatility float64          `json:"volatility"` // last perceived
	Knowledge  string           `json:"knowledge"`
	Tau        int              `json:"tau"`
	Neighbours []string         `json:"neighbours"`
}

// AgentDetail adds the net worth series to AgentInfo
type AgentDetail struct {
	AgentInfo
	NetWorthHistory []float64 `json:"netWorthHistory"`
}

// HealthStatus reports liveness and progress
type HealthStatus struct {
	Status string `json:"status"`
	Round  int    `json:"round"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["rounds", "trades:PETR4"]
}

// RoundUpdate is broadcast on the "rounds" channel after every round
type RoundUpdate struct {
	Type        string             `json:"type"` // "round"
	Round       int                `json:"round"`
	Inflation   float64            `json:"inflation"`
	Prices      map[string]float64 `json:"prices"`
	MarketValue float64            `json:"marketValue"`
	Trades      int                `json:"trades"`
	Volume      float64            `json:"volume"`
	Dividends   float64            `json:"dividends"`
}

// TradeUpdate is broadcast on "trades:<symbol>" for every execution
type TradeUpdate struct {
	Type   string  `json:"type"` // "trade"
	ID     string  `json:"id"`
	Round  int     `json:"round"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Size   int64   `json:"size"`
	Buyer  string  `json:"buyer"`
	Seller string  `json:"seller"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
