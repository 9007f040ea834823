package exchange

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moncoin/exchange/internal/fpmm"
	"github.com/moncoin/exchange/internal/model"
	"github.com/moncoin/exchange/internal/store"
)

// defaultSeedReserveMicros is the initial per-side pool reserve when market
// creation does not specify one: 500 Coin a side prices the market at 0.5.
const defaultSeedReserveMicros int64 = 500 * model.MicrosPerCoin

// startingBalanceMicros is the balance granted to newly created accounts.
const startingBalanceMicros int64 = 100 * model.MicrosPerCoin

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation (a lifecycle
// collaborator shim; the ledger itself only reads and mutates markets).
type CreateMarketRequest struct {
	Title     string `json:"title"`
	YesMicros int64  `json:"yes_micros"`
	NoMicros  int64  `json:"no_micros"`
	FeeBps    int32  `json:"fee_bps"`
}

// CreateAccountRequest is the JSON body for account creation.
type CreateAccountRequest struct {
	Kind    string `json:"kind"`
	OwnerID string `json:"owner_id"`
}

// TradeRequest is the JSON body for POST /api/v1/trade and /quote.
type TradeRequest struct {
	HolderID     string `json:"holder_id"`
	MarketID     string `json:"market_id"`
	Side         string `json:"side"`
	AmountMicros int64  `json:"amount_micros"`
}

// SettleRequest is the JSON body for POST /api/v1/markets/{marketID}/settle.
type SettleRequest struct {
	Outcome string `json:"outcome"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}

	if req.YesMicros == 0 {
		req.YesMicros = defaultSeedReserveMicros
	}
	if req.NoMicros == 0 {
		req.NoMicros = defaultSeedReserveMicros
	}
	if req.YesMicros < 0 || req.NoMicros < 0 {
		writeError(w, "reserves must be positive", http.StatusBadRequest, "INVALID_RESERVES")
		return
	}
	if req.FeeBps < 0 || int64(req.FeeBps) > fpmm.BpsDenom {
		writeError(w, "fee_bps must be between 0 and 10000", http.StatusBadRequest, "INVALID_FEE")
		return
	}

	market := &model.Market{
		ID:      uuid.New().String(),
		Title:   req.Title,
		Status:  model.MarketOpen,
		Outcome: model.OutcomeUnresolved,
		Pool: model.Pool{
			YesMicros: req.YesMicros,
			NoMicros:  req.NoMicros,
			FeeBps:    req.FeeBps,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		writeError(w, err.Error(), http.StatusConflict, "MARKET_EXISTS")
		return
	}

	slog.Info("market created",
		"id", market.ID,
		"title", market.Title,
		"yes_micros", market.Pool.YesMicros,
		"no_micros", market.Pool.NoMicros,
		"fee_bps", market.Pool.FeeBps,
	)

	writeJSON(w, http.StatusCreated, market)
}

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}
	if req.Kind != model.AccountHuman && req.Kind != model.AccountAgent {
		writeError(w, "kind must be HUMAN or AGENT", http.StatusBadRequest, "INVALID_KIND")
		return
	}
	if req.OwnerID != "" && req.Kind != model.AccountAgent {
		writeError(w, "only agents can have an owner", http.StatusBadRequest, "INVALID_OWNER")
		return
	}

	acct := &model.Account{
		ID:            uuid.New().String(),
		Kind:          req.Kind,
		BalanceMicros: startingBalanceMicros,
		OwnerID:       req.OwnerID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), acct); err != nil {
		writeError(w, err.Error(), http.StatusConflict, "ACCOUNT_EXISTS")
		return
	}

	writeJSON(w, http.StatusCreated, acct)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound, "MARKET_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError, "INTERNAL")
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound, "MARKET_NOT_FOUND")
		return
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"yes": fpmm.PriceYes(market.Pool),
		"no":  fpmm.PriceNo(market.Pool),
	})
}

// GetMarketTrades handles GET /api/v1/markets/{marketID}/trades
// Returns the immutable trade records for price-history reconstruction.
func (s *Service) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	trades, err := s.store.ListTradesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get trades", http.StatusInternalServerError, "INTERNAL")
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetHolderTrades handles GET /api/v1/portfolio/{holderID}/trades
func (s *Service) GetHolderTrades(w http.ResponseWriter, r *http.Request) {
	holderID := chi.URLParam(r, "holderID")

	trades, err := s.store.ListTradesByHolder(r.Context(), holderID)
	if err != nil {
		writeError(w, "failed to get trades", http.StatusInternalServerError, "INTERNAL")
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// HandleQuote handles POST /api/v1/quote (read-only, no state change).
func (s *Service) HandleQuote(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}

	quote, err := s.Quote(r.Context(), req.MarketID, req.Side, req.AmountMicros)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// HandleTrade handles POST /api/v1/trade
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}
	if req.HolderID == "" {
		writeError(w, "holder_id is required", http.StatusBadRequest, "INVALID_HOLDER")
		return
	}

	receipt, err := s.ExecuteTrade(r.Context(), req.HolderID, req.MarketID, req.Side, req.AmountMicros)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleSettle handles POST /api/v1/markets/{marketID}/settle
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}

	result, err := s.Settle(r.Context(), marketID, req.Outcome)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandlePortfolio handles GET /api/v1/portfolio/{holderID}
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	holderID := chi.URLParam(r, "holderID")

	portfolio, err := s.GetPortfolio(r.Context(), holderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// --- Error mapping ---

// writeServiceError maps service sentinels onto status codes and
// machine-checkable reason codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMarketNotFound):
		writeError(w, err.Error(), http.StatusNotFound, "MARKET_NOT_FOUND")
	case errors.Is(err, ErrHolderNotFound):
		writeError(w, err.Error(), http.StatusNotFound, "HOLDER_NOT_FOUND")
	case errors.Is(err, ErrMarketNotOpen):
		writeError(w, err.Error(), http.StatusBadRequest, "MARKET_NOT_OPEN")
	case errors.Is(err, ErrInsufficientBalance):
		writeError(w, err.Error(), http.StatusBadRequest, "INSUFFICIENT_BALANCE")
	case errors.Is(err, ErrInvalidOutcome):
		writeError(w, err.Error(), http.StatusBadRequest, "INVALID_OUTCOME")
	case errors.Is(err, ErrOutcomeConflict):
		writeError(w, err.Error(), http.StatusConflict, "OUTCOME_CONFLICT")
	case errors.Is(err, fpmm.ErrNonPositiveCollateral),
		errors.Is(err, fpmm.ErrInvalidSide),
		errors.Is(err, fpmm.ErrInvalidFeeBps),
		errors.Is(err, fpmm.ErrZeroShares),
		errors.Is(err, fpmm.ErrEmptyReserve),
		errors.Is(err, fpmm.ErrReserveDrained),
		errors.Is(err, fpmm.ErrAmountOverflow):
		writeError(w, err.Error(), http.StatusBadRequest, "INVALID_TRADE")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound, "NOT_FOUND")
	default:
		writeError(w, "internal error", http.StatusInternalServerError, "INTERNAL")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a machine-checkable code.
func writeError(w http.ResponseWriter, message string, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
