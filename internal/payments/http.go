package payments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/moncoin/exchange/internal/chainref"
	"github.com/moncoin/exchange/internal/model"
	"github.com/moncoin/exchange/internal/store"
)

// DepositIntentRequest is the JSON body for POST /api/v1/payments/deposit.
type DepositIntentRequest struct {
	HolderID      string `json:"holder_id"`
	WalletAddress string `json:"wallet_address"`
}

// ConfirmDepositRequest is the JSON body for
// POST /api/v1/payments/deposit/confirm.
type ConfirmDepositRequest struct {
	RequestID     string `json:"request_id"`
	TxHash        string `json:"tx_hash"`
	WalletAddress string `json:"wallet_address"`
	MonAmountWei  string `json:"mon_amount_wei"`
}

// WithdrawRequest is the JSON body for POST /api/v1/payments/withdraw.
type WithdrawRequest struct {
	HolderID         string `json:"holder_id"`
	WalletAddress    string `json:"wallet_address"`
	CoinAmountMicros int64  `json:"coin_amount_micros"`
}

// ConfirmWithdrawRequest is the JSON body for
// POST /api/v1/payments/withdraw/confirm.
type ConfirmWithdrawRequest struct {
	RequestID string `json:"request_id"`
	TxHash    string `json:"tx_hash"`
}

// FailRequest is the JSON body for POST /api/v1/payments/{requestID}/fail.
type FailRequest struct {
	Reason string `json:"reason"`
}

// HandleDepositIntent handles POST /api/v1/payments/deposit
func (s *Service) HandleDepositIntent(w http.ResponseWriter, r *http.Request) {
	var req DepositIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}

	payment, err := s.CreateDepositIntent(r.Context(), req.HolderID, req.WalletAddress)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// HandleConfirmDeposit handles POST /api/v1/payments/deposit/confirm
func (s *Service) HandleConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req ConfirmDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}

	payment, err := s.ConfirmDeposit(r.Context(), req.RequestID, req.TxHash, req.WalletAddress, req.MonAmountWei)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// HandleWithdraw handles POST /api/v1/payments/withdraw
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}

	payment, err := s.CreateWithdrawRequest(r.Context(), req.HolderID, req.WalletAddress, req.CoinAmountMicros)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// HandleConfirmWithdraw handles POST /api/v1/payments/withdraw/confirm
func (s *Service) HandleConfirmWithdraw(w http.ResponseWriter, r *http.Request) {
	var req ConfirmWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}

	payment, err := s.ConfirmWithdraw(r.Context(), req.RequestID, req.TxHash)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// HandleFail handles POST /api/v1/payments/{requestID}/fail
func (s *Service) HandleFail(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest, "INVALID_BODY")
		return
	}

	payment, err := s.FailPayment(r.Context(), requestID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// HandleGetPayment handles GET /api/v1/payments/{requestID}
func (s *Service) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.GetPayment(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

// HandleHistory handles GET /api/v1/payments/history/{holderID}
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.GetPaymentHistory(r.Context(), chi.URLParam(r, "holderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if history == nil {
		history = []model.Payment{}
	}
	writeJSON(w, http.StatusOK, history)
}

// writeServiceError maps payment sentinels onto status codes and
// machine-checkable reason codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrHolderNotFound):
		writeError(w, err.Error(), http.StatusNotFound, "HOLDER_NOT_FOUND")
	case errors.Is(err, ErrIntentNotFound):
		writeError(w, err.Error(), http.StatusNotFound, "INTENT_NOT_FOUND")
	// The store's unique constraint catches tx-hash races that slip past
	// the in-transaction pre-check; same conflict, same answer.
	case errors.Is(err, ErrDuplicateTxHash), errors.Is(err, store.ErrDuplicateKey):
		writeError(w, err.Error(), http.StatusConflict, "DUPLICATE_TX_HASH")
	case errors.Is(err, ErrIntentFailed), errors.Is(err, ErrRequestFailed):
		writeError(w, err.Error(), http.StatusConflict, "REQUEST_FAILED")
	case errors.Is(err, ErrPaymentFinal):
		writeError(w, err.Error(), http.StatusConflict, "PAYMENT_FINAL")
	case errors.Is(err, ErrWrongDirection):
		writeError(w, err.Error(), http.StatusBadRequest, "WRONG_DIRECTION")
	case errors.Is(err, ErrInsufficientBalance):
		writeError(w, err.Error(), http.StatusBadRequest, "INSUFFICIENT_BALANCE")
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidWeiAmount),
		errors.Is(err, ErrAmountTooLarge):
		writeError(w, err.Error(), http.StatusBadRequest, "INVALID_AMOUNT")
	case errors.Is(err, chainref.ErrInvalidAddress):
		writeError(w, err.Error(), http.StatusBadRequest, "INVALID_ADDRESS")
	case errors.Is(err, chainref.ErrInvalidTxHash):
		writeError(w, err.Error(), http.StatusBadRequest, "INVALID_TX_HASH")
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
