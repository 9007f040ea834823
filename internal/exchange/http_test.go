package exchange

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/moncoin/exchange/internal/model"
	"github.com/moncoin/exchange/internal/store"
)

func newTestRouter(t *testing.T) (*chi.Mux, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(st, nil, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/markets", svc.CreateMarket)
	r.Get("/api/v1/markets", svc.ListMarkets)
	r.Get("/api/v1/markets/{marketID}", svc.GetMarket)
	r.Get("/api/v1/markets/{marketID}/price", svc.GetPrice)
	r.Get("/api/v1/markets/{marketID}/trades", svc.GetMarketTrades)
	r.Post("/api/v1/markets/{marketID}/settle", svc.HandleSettle)
	r.Post("/api/v1/accounts", svc.CreateAccount)
	r.Post("/api/v1/quote", svc.HandleQuote)
	r.Post("/api/v1/trade", svc.HandleTrade)
	r.Get("/api/v1/portfolio/{holderID}", svc.HandlePortfolio)
	return r, st
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestTradeEndpoint(t *testing.T) {
	r, st := newTestRouter(t)
	seedAccount(t, st, "alice", model.AccountHuman, "", 100_000_000)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/markets", CreateMarketRequest{
		Title:     "rain tomorrow",
		YesMicros: 500_000_000,
		NoMicros:  500_000_000,
		FeeBps:    100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market: status %d, body %s", rec.Code, rec.Body)
	}
	market := decodeBody[model.Market](t, rec)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/trade", TradeRequest{
		HolderID:     "alice",
		MarketID:     market.ID,
		Side:         model.SideYes,
		AmountMicros: 10_000_000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("trade: status %d, body %s", rec.Code, rec.Body)
	}
	receipt := decodeBody[TradeReceipt](t, rec)
	if receipt.SharesOutMicros != 19_607_785 {
		t.Errorf("shares out = %d, want 19607785", receipt.SharesOutMicros)
	}
	if receipt.NewBalanceMicros != 90_000_000 {
		t.Errorf("new balance = %d, want 90000000", receipt.NewBalanceMicros)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/markets/"+market.ID+"/trades", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trade history: status %d", rec.Code)
	}
	trades := decodeBody[[]model.Trade](t, rec)
	if len(trades) != 1 {
		t.Fatalf("trade history = %d entries, want 1", len(trades))
	}
}

func TestTradeEndpointErrorCodes(t *testing.T) {
	r, st := newTestRouter(t)
	seedAccount(t, st, "alice", model.AccountHuman, "", 1_000_000)
	marketID := seedMarket(t, st, 500_000_000, 500_000_000, 100)

	tests := []struct {
		name       string
		req        TradeRequest
		wantStatus int
		wantCode   string
	}{
		{
			"missing holder",
			TradeRequest{MarketID: marketID, Side: model.SideYes, AmountMicros: 1_000_000},
			http.StatusBadRequest, "INVALID_HOLDER",
		},
		{
			"unknown market",
			TradeRequest{HolderID: "alice", MarketID: "missing", Side: model.SideYes, AmountMicros: 1_000_000},
			http.StatusNotFound, "MARKET_NOT_FOUND",
		},
		{
			"insufficient balance",
			TradeRequest{HolderID: "alice", MarketID: marketID, Side: model.SideYes, AmountMicros: 50_000_000},
			http.StatusBadRequest, "INSUFFICIENT_BALANCE",
		},
		{
			"bad side",
			TradeRequest{HolderID: "alice", MarketID: marketID, Side: "MAYBE", AmountMicros: 1_000_000},
			http.StatusBadRequest, "INVALID_TRADE",
		},
		{
			"zero amount",
			TradeRequest{HolderID: "alice", MarketID: marketID, Side: model.SideYes, AmountMicros: 0},
			http.StatusBadRequest, "INVALID_TRADE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, r, http.MethodPost, "/api/v1/trade", tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			body := decodeBody[map[string]string](t, rec)
			if body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestSettleEndpoint(t *testing.T) {
	r, st := newTestRouter(t)
	seedAccount(t, st, "alice", model.AccountHuman, "", 100_000_000)
	marketID := seedMarket(t, st, 500_000_000, 500_000_000, 0)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/trade", TradeRequest{
		HolderID: "alice", MarketID: marketID, Side: model.SideYes, AmountMicros: 10_000_000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("trade: status %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/markets/"+marketID+"/settle", SettleRequest{Outcome: model.OutcomeYes})
	if rec.Code != http.StatusOK {
		t.Fatalf("settle: status %d, body %s", rec.Code, rec.Body)
	}
	result := decodeBody[SettlementResult](t, rec)
	if len(result.Payouts) != 1 {
		t.Errorf("payouts = %d, want 1", len(result.Payouts))
	}

	// Conflicting re-settlement maps to 409.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/markets/"+marketID+"/settle", SettleRequest{Outcome: model.OutcomeNo})
	if rec.Code != http.StatusConflict {
		t.Errorf("conflicting settle status = %d, want 409", rec.Code)
	}

	// Trading a resolved market is rejected.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/trade", TradeRequest{
		HolderID: "alice", MarketID: marketID, Side: model.SideNo, AmountMicros: 1_000_000,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("trade on resolved market status = %d, want 400", rec.Code)
	}
}

func TestPriceEndpoint(t *testing.T) {
	r, st := newTestRouter(t)
	marketID := seedMarket(t, st, 300_000_000, 700_000_000, 0)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/markets/"+marketID+"/price", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("price: status %d", rec.Code)
	}
	prices := decodeBody[map[string]string](t, rec)
	if prices["yes"] != "0.7" {
		t.Errorf("yes price = %s, want 0.7", prices["yes"])
	}
	if prices["no"] != "0.3" {
		t.Errorf("no price = %s, want 0.3", prices["no"])
	}
}

func TestCreateAccountEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/accounts", CreateAccountRequest{Kind: model.AccountHuman})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: status %d, body %s", rec.Code, rec.Body)
	}
	acct := decodeBody[model.Account](t, rec)
	if acct.BalanceMicros != startingBalanceMicros {
		t.Errorf("starting balance = %d, want %d", acct.BalanceMicros, startingBalanceMicros)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/accounts", CreateAccountRequest{Kind: "ROBOT"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/portfolio/"+acct.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("portfolio: status %d", rec.Code)
	}
	portfolio := decodeBody[Portfolio](t, rec)
	if portfolio.BalanceMicros != startingBalanceMicros {
		t.Errorf("portfolio balance = %d, want %d", portfolio.BalanceMicros, startingBalanceMicros)
	}
}
