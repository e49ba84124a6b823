package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/uhyunpark/agentmarket/params"
	"github.com/uhyunpark/agentmarket/pkg/app/core/market"
	"github.com/uhyunpark/agentmarket/pkg/app/sim"
	"github.com/uhyunpark/agentmarket/pkg/metrics"
	"github.com/uhyunpark/agentmarket/pkg/storage"
)

func newTestServer(t *testing.T) (*Server, *sim.Simulation) {
	t.Helper()
	tape, err := storage.Open("", nil)
	if err != nil {
		t.Fatalf("open tape: %v", err)
	}
	t.Cleanup(func() { tape.Close() })

	cfg := params.Default().Sim
	cfg.Agents = 5
	cfg.Seed = 11
	cfg.InitialFundHoldingMax = 10
	m := metrics.New(nil)
	s, err := sim.New(cfg, market.NewDefaultRegistry(), sim.WithRecorder(tape), sim.WithMetrics(m))
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	return NewServer(s, tape, m.Handler(), nil), s
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
	return rec.Code
}

func step(t *testing.T, s *sim.Simulation, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.Step(context.Background()); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
}

func TestInstrumentEndpoints(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()
	step(t, s, 3)

	var list []InstrumentInfo
	if code := get(t, h, "/api/v1/instruments", &list); code != http.StatusOK {
		t.Fatalf("instruments: %d", code)
	}
	if len(list) != 4 || list[0].Symbol != "PETR4" || list[2].Kind != "fund" {
		t.Errorf("instruments = %+v", list)
	}

	var one InstrumentInfo
	if code := get(t, h, "/api/v1/instruments/FII_A", &one); code != http.StatusOK {
		t.Fatalf("FII_A: %d", code)
	}
	if one.MonthlyYield != market.DefaultFundYield || one.Price <= 0 {
		t.Errorf("FII_A = %+v", one)
	}

	var hist PriceHistory
	if code := get(t, h, "/api/v1/instruments/VALE3/history", &hist); code != http.StatusOK {
		t.Fatalf("history: %d", code)
	}
	if len(hist.Prices) != 3 {
		t.Errorf("history has %d points, want 3", len(hist.Prices))
	}

	var book OrderbookSnapshot
	if code := get(t, h, "/api/v1/instruments/PETR4/orderbook", &book); code != http.StatusOK {
		t.Fatalf("orderbook: %d", code)
	}
	if book.Round != 3 {
		t.Errorf("orderbook round = %d, want 3", book.Round)
	}
	if len(book.Bids) > 0 && len(book.Asks) > 0 && book.Bids[0].Price >= book.Asks[0].Price {
		t.Errorf("closing book is crossed: bid %v ask %v", book.Bids[0].Price, book.Asks[0].Price)
	}

	for _, path := range []string{
		"/api/v1/instruments/NOPE",
		"/api/v1/instruments/NOPE/orderbook",
		"/api/v1/instruments/NOPE/history",
		"/api/v1/instruments/NOPE/trades",
	} {
		if code := get(t, h, path, nil); code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, code)
		}
	}
}

func TestTradesEndpoint(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()
	step(t, s, 10)

	var trades []storage.TradeRecord
	if code := get(t, h, "/api/v1/instruments/PETR4/trades?limit=2", &trades); code != http.StatusOK {
		t.Fatalf("trades: %d", code)
	}
	if len(trades) > 2 {
		t.Errorf("limit ignored: %d trades", len(trades))
	}
	for _, tr := range trades {
		if tr.Instrument != "PETR4" {
			t.Errorf("trade for %s in PETR4 listing", tr.Instrument)
		}
	}
	if code := get(t, h, "/api/v1/instruments/PETR4/trades?limit=x", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", code)
	}
}

func TestAgentEndpoints(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()
	step(t, s, 2)

	var agents []AgentInfo
	if code := get(t, h, "/api/v1/agents", &agents); code != http.StatusOK {
		t.Fatalf("agents: %d", code)
	}
	if len(agents) != 5 {
		t.Fatalf("agents = %d", len(agents))
	}

	var detail AgentDetail
	if code := get(t, h, "/api/v1/agents/Agent%202", &detail); code != http.StatusOK {
		t.Fatalf("agent: %d", code)
	}
	if detail.Name != "Agent 2" || len(detail.NetWorthHistory) != 2 {
		t.Errorf("agent = %+v", detail)
	}
	if detail.Tau < 22 || detail.Address == "" {
		t.Errorf("agent profile = %+v", detail.AgentInfo)
	}
	if code := get(t, h, "/api/v1/agents/Nobody", nil); code != http.StatusNotFound {
		t.Errorf("unknown agent = %d, want 404", code)
	}
}

func TestRoundEndpoints(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()

	if code := get(t, h, "/api/v1/rounds/latest", nil); code != http.StatusNotFound {
		t.Errorf("latest before any round = %d, want 404", code)
	}
	step(t, s, 2)

	var latest sim.RoundResult
	if code := get(t, h, "/api/v1/rounds/latest", &latest); code != http.StatusOK {
		t.Fatalf("latest: %d", code)
	}
	if latest.Round != 2 {
		t.Errorf("latest round = %d", latest.Round)
	}

	var rec storage.RoundRecord
	if code := get(t, h, "/api/v1/rounds/1", &rec); code != http.StatusOK {
		t.Fatalf("round 1: %d", code)
	}
	if rec.Round != 1 || len(rec.Prices) != 4 {
		t.Errorf("round 1 = %+v", rec)
	}
	if code := get(t, h, "/api/v1/rounds/9", nil); code != http.StatusNotFound {
		t.Errorf("missing round = %d, want 404", code)
	}

	var health HealthStatus
	if code := get(t, h, "/health", &health); code != http.StatusOK || health.Round != 2 {
		t.Errorf("health = %d %+v", code, health)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, s := newTestServer(t)
	step(t, s, 1)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sim_rounds_total 1") {
		t.Errorf("metrics = %d\n%s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/instruments", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestWebSocketRoundBroadcast(t *testing.T) {
	srv, s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelRounds}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.Subscribers(ChannelRounds) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	step(t, s, 1)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg RoundUpdate
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "round" || msg.Round != 1 || len(msg.Prices) != 4 {
		t.Errorf("round update = %+v", msg)
	}
}
