package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/engine"
	"github.com/equinox/validation-engine/internal/ledger"
	"github.com/equinox/validation-engine/internal/model"
	"github.com/equinox/validation-engine/internal/store"
)

const adminKey = "resolver-secret"

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(store.NewMemoryStore(), ledger.NewMemoryLedger())
	svc := NewService(eng, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r, adminKey)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, eng
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func deposit(t *testing.T, srv *httptest.Server, account string, amount float64) {
	t.Helper()
	resp := doJSON(t, "POST", srv.URL+"/api/v1/balances/"+account+"/deposit",
		AmountRequest{Amount: decimal.NewFromFloat(amount)}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit for %s: status %d", account, resp.StatusCode)
	}
}

func createMarket(t *testing.T, srv *httptest.Server, creator string) model.Market {
	t.Helper()
	resp := doJSON(t, "POST", srv.URL+"/api/v1/markets", CreateMarketRequest{
		Creator:        creator,
		PaperID:        "10.1038/s41586-021-03819-2",
		Question:       "Do the reported results replicate?",
		ResolutionDate: time.Now().Add(time.Hour),
		InitialStake:   decimal.NewFromInt(10),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create market: status %d", resp.StatusCode)
	}
	return decode[model.Market](t, resp)
}

func TestCreateMarket_HTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)

	m := createMarket(t, srv, "creator")

	if m.ID == "" {
		t.Error("expected a market id")
	}
	if m.Status != model.StatusOpen {
		t.Errorf("expected open, got %s", m.Status)
	}

	// Fetch it back.
	resp := doJSON(t, "GET", srv.URL+"/api/v1/markets/"+m.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get market: status %d", resp.StatusCode)
	}
	got := decode[model.Market](t, resp)
	if got.ID != m.ID {
		t.Errorf("fetched wrong market: %s", got.ID)
	}
}

func TestCreateMarket_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)

	cases := []struct {
		name string
		req  CreateMarketRequest
		want int
	}{
		{"missing creator", CreateMarketRequest{
			PaperID: "2207.04630", Question: "q?",
			ResolutionDate: time.Now().Add(time.Hour),
			InitialStake:   decimal.NewFromInt(10),
		}, http.StatusBadRequest},
		{"bad paper reference", CreateMarketRequest{
			Creator: "creator", PaperID: "nope", Question: "q?",
			ResolutionDate: time.Now().Add(time.Hour),
			InitialStake:   decimal.NewFromInt(10),
		}, http.StatusBadRequest},
		{"past resolution date", CreateMarketRequest{
			Creator: "creator", PaperID: "2207.04630", Question: "q?",
			ResolutionDate: time.Now().Add(-time.Hour),
			InitialStake:   decimal.NewFromInt(10),
		}, http.StatusBadRequest},
		{"zero stake", CreateMarketRequest{
			Creator: "creator", PaperID: "2207.04630", Question: "q?",
			ResolutionDate: time.Now().Add(time.Hour),
		}, http.StatusBadRequest},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := doJSON(t, "POST", srv.URL+"/api/v1/markets", c.req, nil)
			if resp.StatusCode != c.want {
				t.Errorf("expected %d, got %d", c.want, resp.StatusCode)
			}
		})
	}
}

func TestCreateMarket_InsufficientFundsHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "broke", 1)

	resp := doJSON(t, "POST", srv.URL+"/api/v1/markets", CreateMarketRequest{
		Creator: "broke", PaperID: "2207.04630", Question: "q?",
		ResolutionDate: time.Now().Add(time.Hour),
		InitialStake:   decimal.NewFromInt(10),
	}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", resp.StatusCode)
	}
}

func TestTakePosition_HTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)
	deposit(t, srv, "alice", 100)
	m := createMarket(t, srv, "creator")

	resp := doJSON(t, "POST", srv.URL+"/api/v1/positions", TakePositionRequest{
		Account:  "alice",
		MarketID: m.ID,
		Side:     model.SideValid,
		Stake:    decimal.NewFromInt(20),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("take position: status %d", resp.StatusCode)
	}
	p := decode[model.Position](t, resp)
	if p.Seq != 1 || p.Side != model.SideValid {
		t.Errorf("unexpected position: %+v", p)
	}

	// Position list reflects it.
	resp = doJSON(t, "GET", srv.URL+"/api/v1/markets/"+m.ID+"/positions", nil, nil)
	positions := decode[[]model.Position](t, resp)
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	// Balance shows the escrow.
	resp = doJSON(t, "GET", srv.URL+"/api/v1/balances/alice", nil, nil)
	b := decode[model.Balance](t, resp)
	if !b.Available.Equal(decimal.NewFromInt(80)) || !b.Escrowed.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected 80/20, got %+v", b)
	}
}

func TestTakePosition_ErrorsHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)
	deposit(t, srv, "alice", 10)
	m := createMarket(t, srv, "creator")

	cases := []struct {
		name string
		req  TakePositionRequest
		want int
	}{
		{"unknown market", TakePositionRequest{
			Account: "alice", MarketID: "missing", Side: model.SideValid,
			Stake: decimal.NewFromInt(1),
		}, http.StatusNotFound},
		{"bad side", TakePositionRequest{
			Account: "alice", MarketID: m.ID, Side: "MAYBE",
			Stake: decimal.NewFromInt(1),
		}, http.StatusBadRequest},
		{"insufficient funds", TakePositionRequest{
			Account: "alice", MarketID: m.ID, Side: model.SideValid,
			Stake: decimal.NewFromInt(11),
		}, http.StatusPaymentRequired},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := doJSON(t, "POST", srv.URL+"/api/v1/positions", c.req, nil)
			if resp.StatusCode != c.want {
				t.Errorf("expected %d, got %d", c.want, resp.StatusCode)
			}
		})
	}
}

func TestResolve_HTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)
	deposit(t, srv, "alice", 100)
	deposit(t, srv, "bob", 100)
	m := createMarket(t, srv, "creator")

	doJSON(t, "POST", srv.URL+"/api/v1/positions", TakePositionRequest{
		Account: "alice", MarketID: m.ID, Side: model.SideValid,
		Stake: decimal.NewFromInt(20),
	}, nil)
	doJSON(t, "POST", srv.URL+"/api/v1/positions", TakePositionRequest{
		Account: "bob", MarketID: m.ID, Side: model.SideInvalid,
		Stake: decimal.NewFromInt(10),
	}, nil)

	admin := map[string]string{"X-Admin-Key": adminKey}
	resolveURL := srv.URL + "/api/v1/markets/" + m.ID + "/resolve"

	// Missing key is rejected before any engine work.
	resp := doJSON(t, "POST", resolveURL, ResolveRequest{Outcome: model.OutcomeValid}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without admin key, got %d", resp.StatusCode)
	}

	// Before the resolution date resolve needs force.
	resp = doJSON(t, "POST", resolveURL, ResolveRequest{Outcome: model.OutcomeValid}, admin)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before resolution date, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "POST", resolveURL, ResolveRequest{Outcome: model.OutcomeValid, Force: true}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forced resolve: status %d", resp.StatusCode)
	}
	summary := decode[model.PayoutSummary](t, resp)
	if !summary.TotalPool.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected pool=30, got %s", summary.TotalPool)
	}

	// Second resolve conflicts.
	resp = doJSON(t, "POST", resolveURL, ResolveRequest{Outcome: model.OutcomeValid, Force: true}, admin)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on double resolve, got %d", resp.StatusCode)
	}

	// Winner's balance includes the pool.
	resp = doJSON(t, "GET", srv.URL+"/api/v1/balances/alice", nil, nil)
	b := decode[model.Balance](t, resp)
	if !b.Available.Equal(decimal.NewFromInt(110)) {
		t.Errorf("expected alice=110, got %s", b.Available)
	}
}

func TestCancel_HTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)
	m := createMarket(t, srv, "creator")

	admin := map[string]string{"X-Admin-Key": adminKey}
	resp := doJSON(t, "POST", srv.URL+"/api/v1/markets/"+m.ID+"/cancel", nil, admin)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel: status %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", srv.URL+"/api/v1/markets/"+m.ID, nil, nil)
	got := decode[model.Market](t, resp)
	if got.Status != model.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
}

func TestCancel_BlockedByPositionsHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)
	deposit(t, srv, "alice", 100)
	m := createMarket(t, srv, "creator")

	doJSON(t, "POST", srv.URL+"/api/v1/positions", TakePositionRequest{
		Account: "alice", MarketID: m.ID, Side: model.SideValid,
		Stake: decimal.NewFromInt(5),
	}, nil)

	admin := map[string]string{"X-Admin-Key": adminKey}
	resp := doJSON(t, "POST", srv.URL+"/api/v1/markets/"+m.ID+"/cancel", nil, admin)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
}

func TestListMarkets_FilterHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)
	deposit(t, srv, "other", 100)

	createMarket(t, srv, "creator")
	createMarket(t, srv, "other")

	resp := doJSON(t, "GET", srv.URL+"/api/v1/markets?creator=creator", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	markets := decode[[]model.Market](t, resp)
	if len(markets) != 1 {
		t.Fatalf("expected 1 market for creator, got %d", len(markets))
	}
	if markets[0].Creator != "creator" {
		t.Errorf("filter returned wrong creator: %s", markets[0].Creator)
	}

	resp = doJSON(t, "GET", srv.URL+"/api/v1/markets", nil, nil)
	all := decode[[]model.Market](t, resp)
	if len(all) != 2 {
		t.Errorf("expected 2 markets, got %d", len(all))
	}
}

func TestWithdraw_HTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "alice", 100)

	resp := doJSON(t, "POST", srv.URL+"/api/v1/balances/alice/withdraw",
		AmountRequest{Amount: decimal.NewFromInt(40)}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("withdraw: status %d", resp.StatusCode)
	}
	b := decode[model.Balance](t, resp)
	if !b.Available.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected 60, got %s", b.Available)
	}

	resp = doJSON(t, "POST", srv.URL+"/api/v1/balances/alice/withdraw",
		AmountRequest{Amount: decimal.NewFromInt(61)}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d", resp.StatusCode)
	}
}

func TestAuth_Middleware(t *testing.T) {
	eng := engine.New(store.NewMemoryStore(), ledger.NewMemoryLedger())
	svc := NewService(eng, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth("api-secret"))
		svc.Routes(r, "")
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/api/v1/markets", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", srv.URL+"/api/v1/markets", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", resp.StatusCode)
	}

	for _, h := range []map[string]string{
		{"Authorization": "Bearer api-secret"},
		{"X-API-Key": "api-secret"},
	} {
		resp = doJSON(t, "GET", srv.URL+"/api/v1/markets", nil, h)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200 with %v, got %d", h, resp.StatusCode)
		}
	}
}

func TestConcurrentPositions_HTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	deposit(t, srv, "creator", 100)
	m := createMarket(t, srv, "creator")

	const n = 10
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		account := fmt.Sprintf("acct-%d", i)
		deposit(t, srv, account, 100)
		go func(account string) {
			body, _ := json.Marshal(TakePositionRequest{
				Account: account, MarketID: m.ID, Side: model.SideValid,
				Stake: decimal.NewFromInt(10),
			})
			resp, err := http.Post(srv.URL+"/api/v1/positions", "application/json",
				bytes.NewReader(body))
			if err != nil {
				done <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				done <- fmt.Errorf("status %d", resp.StatusCode)
				return
			}
			done <- nil
		}(account)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Errorf("position failed: %v", err)
		}
	}

	resp := doJSON(t, "GET", srv.URL+"/api/v1/markets/"+m.ID, nil, nil)
	got := decode[model.Market](t, resp)
	if !got.StakeValid.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100 staked, got %s", got.StakeValid)
	}
	if got.PositionCount != n {
		t.Errorf("expected %d positions, got %d", n, got.PositionCount)
	}
}
