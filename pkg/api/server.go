// Package api serves a read-only view of a running simulation over REST and
// WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/uhyunpark/agentmarket/pkg/app/agent"
	"github.com/uhyunpark/agentmarket/pkg/app/sim"
	"github.com/uhyunpark/agentmarket/pkg/storage"
	"go.uber.org/zap"
)

const defaultTradeLimit = 100

// Journal is the part of the run journal the API reads. *storage.Tape
// implements it.
type Journal interface {
	Trades(symbol string, limit int) ([]storage.TradeRecord, error)
	Round(round int) (storage.RoundRecord, bool, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	sim     *sim.Simulation
	journal Journal      // optional
	metrics http.Handler // optional
	router  *mux.Router
	hub     *Hub
	log     *zap.Logger

	httpServer *http.Server
}

// NewServer creates the API server and subscribes it to round results.
func NewServer(s *sim.Simulation, journal Journal, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &Server{
		sim:     s,
		journal: journal,
		metrics: metrics,
		router:  mux.NewRouter(),
		hub:     NewHub(logger.Named("ws")),
		log:     logger,
	}
	srv.setupRoutes()
	s.Observe(srv.PublishRound)
	return srv
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/instruments", s.handleGetInstruments).Methods("GET")
	api.HandleFunc("/instruments/{symbol}", s.handleGetInstrument).Methods("GET")
	api.HandleFunc("/instruments/{symbol}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/instruments/{symbol}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/instruments/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")

	api.HandleFunc("/agents", s.handleGetAgents).Methods("GET")
	api.HandleFunc("/agents/{name}", s.handleGetAgent).Methods("GET")

	api.HandleFunc("/rounds/latest", s.handleGetLatestRound).Methods("GET")
	api.HandleFunc("/rounds/{round:[0-9]+}", s.handleGetRound).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("api shutdown failed", zap.Error(err))
		}
	}()

	s.log.Info("api server starting", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) instrumentInfo(symbol string) (InstrumentInfo, error) {
	engine := s.sim.Engine()
	inst, err := engine.Registry.Get(symbol)
	if err != nil {
		return InstrumentInfo{}, err
	}
	price, _ := engine.Prices.Price(symbol)
	return InstrumentInfo{
		Symbol:       inst.Symbol,
		Kind:         inst.Kind.String(),
		InitialPrice: inst.InitialPrice,
		MonthlyYield: inst.MonthlyYield,
		Price:        price,
		HeldUnits:    engine.Ledger.TotalHolding(symbol),
	}, nil
}

func (s *Server) handleGetInstruments(w http.ResponseWriter, r *http.Request) {
	symbols := s.sim.Engine().Registry.Symbols()
	response := make([]InstrumentInfo, 0, len(symbols))
	for _, symbol := range symbols {
		info, err := s.instrumentInfo(symbol)
		if err != nil {
			continue
		}
		response = append(response, info)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	info, err := s.instrumentInfo(mux.Vars(r)["symbol"])
	if err != nil {
		respondError(w, http.StatusNotFound, "instrument not found", err.Error())
		return
	}
	respondJSON(w, info)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	prices, ok := s.sim.PriceHistory(symbol)
	if !ok {
		respondError(w, http.StatusNotFound, "instrument not found", symbol)
		return
	}
	if prices == nil {
		prices = []float64{}
	}
	respondJSON(w, PriceHistory{Symbol: symbol, Prices: prices})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.sim.Engine().Registry.Exists(symbol) {
		respondError(w, http.StatusNotFound, "instrument not found", symbol)
		return
	}

	response := OrderbookSnapshot{Symbol: symbol, Bids: []PriceLevel{}, Asks: []PriceLevel{}}
	if latest, ok := s.sim.Latest(); ok {
		response.Round = latest.Round
		book := latest.Book[symbol]
		for _, level := range book.Bids {
			response.Bids = append(response.Bids, PriceLevel{Price: level.Price, Size: level.Qty, Orders: level.Orders})
		}
		for _, level := range book.Asks {
			response.Asks = append(response.Asks, PriceLevel{Price: level.Price, Size: level.Qty, Orders: level.Orders})
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.sim.Engine().Registry.Exists(symbol) {
		respondError(w, http.StatusNotFound, "instrument not found", symbol)
		return
	}

	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	trades := []storage.TradeRecord{}
	if s.journal != nil {
		recs, err := s.journal.Trades(symbol, limit)
		if err != nil {
			s.log.Error("trade lookup failed", zap.String("symbol", symbol), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "trade lookup failed", err.Error())
			return
		}
		trades = append(trades, recs...)
	} else if latest, ok := s.sim.Latest(); ok {
		// Without a journal only the last round is known, newest first.
		for i := len(latest.Trades) - 1; i >= 0 && len(trades) < limit; i-- {
			if latest.Trades[i].Instrument == symbol {
				trades = append(trades, latest.Trades[i])
			}
		}
	}
	respondJSON(w, trades)
}

func (s *Server) agentInfo(t *agent.Trader) (AgentInfo, bool) {
	engine := s.sim.Engine()
	acc, ok := engine.Ledger.ByName(t.Name)
	if !ok {
		return AgentInfo{}, false
	}
	snap := acc.Snapshot()
	profile := t.Profile()
	return AgentInfo{
		Name:       t.Name,
		Address:    t.Address.Hex(),
		Balance:    snap.Balance,
		Holdings:   snap.Holdings,
		NetWorth:   acc.NetWorth(engine.Prices.Prices()),
		Trades:     snap.TradeCount,
		Sentiment:  profile.Sentiment,
		Volatility: t.Volatility(),
		Knowledge:  string(profile.Knowledge),
		Tau:        profile.Tau,
		Neighbours: t.Neighbours(),
	}, true
}

func (s *Server) handleGetAgents(w http.ResponseWriter, r *http.Request) {
	traders := s.sim.Traders()
	response := make([]AgentInfo, 0, len(traders))
	for _, t := range traders {
		if info, ok := s.agentInfo(t); ok {
			response = append(response, info)
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	t, ok := s.sim.Trader(name)
	if !ok {
		respondError(w, http.StatusNotFound, "agent not found", name)
		return
	}
	info, ok := s.agentInfo(t)
	if !ok {
		respondError(w, http.StatusNotFound, "account not found", name)
		return
	}
	respondJSON(w, AgentDetail{AgentInfo: info, NetWorthHistory: t.NetWorthHistory()})
}

func (s *Server) handleGetLatestRound(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.sim.Latest()
	if !ok {
		respondError(w, http.StatusNotFound, "no round completed yet", "")
		return
	}
	respondJSON(w, latest)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotFound, "round history unavailable", "no journal configured")
		return
	}
	n, err := strconv.Atoi(mux.Vars(r)["round"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid round", err.Error())
		return
	}
	rec, ok, err := s.journal.Round(n)
	if err != nil {
		s.log.Error("round lookup failed", zap.Int("round", n), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "round lookup failed", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "round not found", strconv.Itoa(n))
		return
	}
	respondJSON(w, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthStatus{Status: "ok", Round: s.sim.Round()})
}

// ==============================
// Broadcast Methods (called after each round)
// ==============================

// PublishRound pushes a round summary and its trades to subscribed clients.
func (s *Server) PublishRound(res sim.RoundResult) {
	s.hub.BroadcastToChannel(ChannelRounds, RoundUpdate{
		Type:        "round",
		Round:       res.Round,
		Inflation:   res.Inflation,
		Prices:      res.Prices,
		MarketValue: res.MarketValue,
		Trades:      len(res.Trades),
		Volume:      res.Volume,
		Dividends:   res.DividendTotal(),
	})
	for _, tr := range res.Trades {
		s.hub.BroadcastToChannel(TradesChannel(tr.Instrument), TradeUpdate{
			Type:   "trade",
			ID:     tr.ID,
			Round:  tr.Round,
			Symbol: tr.Instrument,
			Price:  tr.Price,
			Size:   tr.Qty,
			Buyer:  tr.Buyer,
			Seller: tr.Seller,
		})
	}
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
