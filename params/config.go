package params

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Sim struct {
	Agents int
	Rounds int
	// Seed drives every random draw of a run. 0 picks one from the clock.
	Seed int64

	InflationMean float64 // monthly, drawn once per round
	InflationStd  float64

	DividendInterval int // rounds between fund payouts
	MaxNeighbours    int
	MaxOrderQty      int64 // 0 = uncapped

	InitialBalanceMin float64
	InitialBalanceMax float64
	InitialHoldingMax int // per stock, drawn in [0, max]
	// InitialFundHoldingMax seeds fund units the same way. 0 leaves funds
	// empty, so they only trade once someone holds units to sell.
	InitialFundHoldingMax int

	// MatchParallel matches instruments concurrently within a round. Trades
	// stay the same for a seed, but cash settled from several books at once
	// may differ in the last bits between runs.
	MatchParallel bool
	// RoundInterval paces Run; 0 runs rounds back to back.
	RoundInterval time.Duration
}

type Storage struct {
	// TapeDir holds the run journal. Empty keeps it in memory.
	TapeDir string
}

type Service struct {
	APIEnabled bool
	APIAddr    string
	LogLevel   string
	LogFile    string
}

type Config struct {
	Sim     Sim
	Storage Storage
	Service Service
	// MarketFile is an optional YAML instrument universe; empty uses the defaults.
	MarketFile string
}

func Default() Config {
	return Config{
		Sim: Sim{
			Agents:            10,
			Rounds:            67,
			InflationMean:     0.005, // 0.5% a month
			InflationStd:      0.002,
			DividendInterval:  22,
			MaxNeighbours:     3,
			MaxOrderQty:       100,
			InitialBalanceMin: 1000,
			InitialBalanceMax: 5000,
			InitialHoldingMax: 50,
		},
		Service: Service{
			APIAddr:  ":8080",
			LogLevel: "info",
		},
	}
}

// Validate checks that the configuration can drive a run.
func (c Config) Validate() error {
	return c.Sim.Validate()
}

// Validate checks the run parameters.
func (s Sim) Validate() error {
	if s.Agents <= 0 {
		return fmt.Errorf("agents must be positive, got %d", s.Agents)
	}
	if s.Rounds < 0 {
		return fmt.Errorf("rounds cannot be negative, got %d", s.Rounds)
	}
	if s.InflationStd < 0 {
		return fmt.Errorf("inflation std cannot be negative, got %v", s.InflationStd)
	}
	if s.DividendInterval <= 0 {
		return fmt.Errorf("dividend interval must be positive, got %d", s.DividendInterval)
	}
	if s.MaxNeighbours < 0 || s.MaxOrderQty < 0 || s.InitialHoldingMax < 0 || s.InitialFundHoldingMax < 0 {
		return fmt.Errorf("neighbour, order and holding limits cannot be negative")
	}
	if s.InitialBalanceMin > s.InitialBalanceMax {
		return fmt.Errorf("initial balance range [%v, %v] is empty", s.InitialBalanceMin, s.InitialBalanceMax)
	}
	if s.RoundInterval < 0 {
		return fmt.Errorf("round interval cannot be negative")
	}
	return nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	envInt("SIM_AGENTS", &cfg.Sim.Agents)
	envInt("SIM_ROUNDS", &cfg.Sim.Rounds)
	if v := os.Getenv("SIM_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sim.Seed = seed
		}
	}
	envFloat("INFLATION_MEAN", &cfg.Sim.InflationMean)
	envFloat("INFLATION_STD", &cfg.Sim.InflationStd)
	envInt("DIVIDEND_INTERVAL", &cfg.Sim.DividendInterval)
	envInt("MAX_NEIGHBOURS", &cfg.Sim.MaxNeighbours)
	if v := os.Getenv("MAX_ORDER_QTY"); v != "" {
		if q, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sim.MaxOrderQty = q
		}
	}
	envFloat("INITIAL_BALANCE_MIN", &cfg.Sim.InitialBalanceMin)
	envFloat("INITIAL_BALANCE_MAX", &cfg.Sim.InitialBalanceMax)
	envInt("INITIAL_HOLDING_MAX", &cfg.Sim.InitialHoldingMax)
	envInt("INITIAL_FUND_HOLDING_MAX", &cfg.Sim.InitialFundHoldingMax)
	if v := os.Getenv("MATCH_PARALLEL"); v != "" {
		cfg.Sim.MatchParallel = v == "true"
	}
	if v := os.Getenv("ROUND_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Sim.RoundInterval = time.Duration(ms) * time.Millisecond
		}
	}

	cfg.Storage.TapeDir = getEnv("TAPE_DIR", cfg.Storage.TapeDir)

	if v := os.Getenv("API_ENABLED"); v != "" {
		cfg.Service.APIEnabled = v == "true"
	}
	cfg.Service.APIAddr = getEnv("API_ADDR", cfg.Service.APIAddr)
	cfg.Service.LogLevel = getEnv("LOG_LEVEL", cfg.Service.LogLevel)
	cfg.Service.LogFile = getEnv("LOG_FILE", cfg.Service.LogFile)

	cfg.MarketFile = getEnv("MARKET_CONFIG", cfg.MarketFile)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envInt overrides *dst when key holds a valid integer.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
