package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/moncoin/exchange/internal/chainref"
	"github.com/moncoin/exchange/internal/events"
	"github.com/moncoin/exchange/internal/metrics"
	"github.com/moncoin/exchange/internal/model"
	"github.com/moncoin/exchange/internal/store"
)

var (
	// ErrHolderNotFound is returned when the holder account does not exist.
	ErrHolderNotFound = errors.New("payments: holder not found")

	// ErrIntentNotFound is returned when no payment owns the request ID.
	ErrIntentNotFound = errors.New("payments: intent not found")

	// ErrIntentFailed is returned when confirming a deposit whose intent
	// has already transitioned to FAILED. Failed intents stay failed.
	ErrIntentFailed = errors.New("payments: intent already failed")

	// ErrRequestFailed is the withdraw-side counterpart of ErrIntentFailed.
	ErrRequestFailed = errors.New("payments: withdraw request already failed")

	// ErrDuplicateTxHash is returned when a transaction hash already
	// settled a different request. A hash settles one request, ever.
	ErrDuplicateTxHash = errors.New("payments: tx hash already used by another request")

	// ErrWrongDirection is returned when a deposit confirm targets a
	// withdraw row or vice versa.
	ErrWrongDirection = errors.New("payments: request has the other direction")

	// ErrInsufficientBalance is returned when a withdraw request exceeds
	// the holder's balance. Checked and debited in the same transaction.
	ErrInsufficientBalance = errors.New("payments: insufficient balance")

	// ErrInvalidAmount is returned for a non-positive withdraw amount.
	ErrInvalidAmount = errors.New("payments: amount must be positive")

	// ErrPaymentFinal is returned when failing a payment that already
	// reached CONFIRMED or SENT. Transitions run forward only.
	ErrPaymentFinal = errors.New("payments: payment already completed")
)

// Service runs both payment flows against the ledger store.
type Service struct {
	store     store.Store
	publisher events.Publisher
}

// NewService creates the payments service. publisher may be nil.
func NewService(st store.Store, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: st, publisher: pub}
}

// CreateDepositIntent opens a PENDING deposit for the holder. Amounts stay
// zero until the on-chain transfer is confirmed; the balance is untouched.
func (s *Service) CreateDepositIntent(ctx context.Context, holderID, walletAddress string) (*model.Payment, error) {
	addr, err := chainref.NormalizeAddress(walletAddress)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetAccount(ctx, holderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHolderNotFound
		}
		return nil, err
	}

	payment := &model.Payment{
		ID:            uuid.New().String(),
		RequestID:     uuid.New().String(),
		HolderID:      holderID,
		Direction:     model.DirectionDeposit,
		Status:        model.PaymentPending,
		MonAmountWei:  "0",
		WalletAddress: addr,
		CreatedAt:     time.Now().UTC(),
	}
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentTransitions.WithLabelValues(model.DirectionDeposit, model.PaymentPending).Inc()
	slog.Info("deposit intent created",
		"request_id", payment.RequestID,
		"holder", holderID,
		"wallet", addr,
	)
	return payment, nil
}

// ConfirmDeposit settles a deposit intent against an observed on-chain
// transfer: it converts the wei amount at the fixed rate, marks the row
// CONFIRMED, and credits the holder, all in one transaction. Replaying a
// confirm on an already-CONFIRMED intent returns the stored record without
// a second credit.
func (s *Service) ConfirmDeposit(ctx context.Context, requestID, txHash, walletAddress, monAmountWei string) (*model.Payment, error) {
	hash, err := chainref.NormalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}
	addr, err := chainref.NormalizeAddress(walletAddress)
	if err != nil {
		return nil, err
	}
	micros, err := MonWeiToCoinMicros(monAmountWei)
	if err != nil {
		return nil, err
	}

	var (
		payment *model.Payment
		replay  bool
	)
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		if owner, err := tx.PaymentByTxHash(ctx, hash); err == nil {
			if owner.RequestID != requestID {
				return ErrDuplicateTxHash
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		p, err := tx.PaymentForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrIntentNotFound
			}
			return err
		}
		if p.Direction != model.DirectionDeposit {
			return ErrWrongDirection
		}

		switch p.Status {
		case model.PaymentFailed:
			return ErrIntentFailed
		case model.PaymentConfirmed:
			payment, replay = p, true
			return nil
		}

		now := time.Now().UTC()
		p.Status = model.PaymentConfirmed
		p.MonAmountWei = monAmountWei
		p.CoinAmountMicros = micros
		p.TxHash = hash
		p.WalletAddress = addr
		p.ConfirmedAt = &now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if _, err := tx.AddBalance(ctx, p.HolderID, micros); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !replay {
		metrics.PaymentTransitions.WithLabelValues(model.DirectionDeposit, model.PaymentConfirmed).Inc()
		slog.Info("deposit confirmed",
			"request_id", requestID,
			"holder", payment.HolderID,
			"tx_hash", hash,
			"mon_wei", monAmountWei,
			"coin_micros", micros,
		)
		if err := s.publisher.Publish(ctx, events.TopicPaymentConfirmed, payment); err != nil {
			slog.Warn("event publish failed", "topic", events.TopicPaymentConfirmed, "err", err)
		}
	}
	return payment, nil
}

// CreateWithdrawRequest reserves coinMicros of the holder's balance for an
// outbound MON transfer. The debit happens here, at request time; the
// later confirm only records the chain transaction.
func (s *Service) CreateWithdrawRequest(ctx context.Context, holderID, walletAddress string, coinMicros int64) (*model.Payment, error) {
	if coinMicros <= 0 {
		return nil, ErrInvalidAmount
	}
	addr, err := chainref.NormalizeAddress(walletAddress)
	if err != nil {
		return nil, err
	}

	payment := &model.Payment{
		ID:               uuid.New().String(),
		RequestID:        uuid.New().String(),
		HolderID:         holderID,
		Direction:        model.DirectionWithdraw,
		Status:           model.PaymentPending,
		MonAmountWei:     CoinMicrosToMonWei(coinMicros),
		CoinAmountMicros: coinMicros,
		WalletAddress:    addr,
		CreatedAt:        time.Now().UTC(),
	}
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		acct, err := tx.AccountForUpdate(ctx, holderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrHolderNotFound
			}
			return err
		}
		if acct.BalanceMicros < coinMicros {
			return ErrInsufficientBalance
		}
		if _, err := tx.AddBalance(ctx, holderID, -coinMicros); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentTransitions.WithLabelValues(model.DirectionWithdraw, model.PaymentPending).Inc()
	slog.Info("withdraw requested",
		"request_id", payment.RequestID,
		"holder", holderID,
		"coin_micros", coinMicros,
		"mon_wei", payment.MonAmountWei,
		"wallet", addr,
	)
	return payment, nil
}

// ConfirmWithdraw marks a withdraw request SENT with the on-chain hash of
// the outbound transfer. The balance was debited at request time, so this
// moves no funds. Replaying on an already-SENT request returns the stored
// record unchanged.
func (s *Service) ConfirmWithdraw(ctx context.Context, requestID, txHash string) (*model.Payment, error) {
	hash, err := chainref.NormalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}

	var (
		payment *model.Payment
		replay  bool
	)
	err = s.store.Atomic(ctx, func(tx store.Tx) error {
		if owner, err := tx.PaymentByTxHash(ctx, hash); err == nil {
			if owner.RequestID != requestID {
				return ErrDuplicateTxHash
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		p, err := tx.PaymentForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrIntentNotFound
			}
			return err
		}
		if p.Direction != model.DirectionWithdraw {
			return ErrWrongDirection
		}

		switch p.Status {
		case model.PaymentFailed:
			return ErrRequestFailed
		case model.PaymentSent:
			payment, replay = p, true
			return nil
		}

		now := time.Now().UTC()
		p.Status = model.PaymentSent
		p.TxHash = hash
		p.SentAt = &now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !replay {
		metrics.PaymentTransitions.WithLabelValues(model.DirectionWithdraw, model.PaymentSent).Inc()
		slog.Info("withdraw sent",
			"request_id", requestID,
			"holder", payment.HolderID,
			"tx_hash", hash,
		)
	}
	return payment, nil
}

// FailPayment moves a PENDING payment to FAILED with a reason. A failed
// withdraw refunds its reserved balance in the same transaction; a failed
// deposit never held funds. Failing an already-FAILED payment is an
// idempotent no-op; CONFIRMED and SENT rows cannot fail.
func (s *Service) FailPayment(ctx context.Context, requestID, reason string) (*model.Payment, error) {
	var (
		payment *model.Payment
		replay  bool
	)
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		p, err := tx.PaymentForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrIntentNotFound
			}
			return err
		}

		switch p.Status {
		case model.PaymentFailed:
			payment, replay = p, true
			return nil
		case model.PaymentConfirmed, model.PaymentSent:
			return ErrPaymentFinal
		}

		if p.Direction == model.DirectionWithdraw && p.CoinAmountMicros > 0 {
			if _, err := tx.AddBalance(ctx, p.HolderID, p.CoinAmountMicros); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		p.Status = model.PaymentFailed
		p.FailedAt = &now
		p.ErrorMessage = reason
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !replay {
		metrics.PaymentTransitions.WithLabelValues(payment.Direction, model.PaymentFailed).Inc()
		slog.Info("payment failed",
			"request_id", requestID,
			"holder", payment.HolderID,
			"direction", payment.Direction,
			"reason", reason,
		)
	}
	return payment, nil
}

// GetPayment returns one payment by request ID.
func (s *Service) GetPayment(ctx context.Context, requestID string) (*model.Payment, error) {
	p, err := s.store.GetPaymentByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetPaymentHistory returns a holder's payments, newest first.
func (s *Service) GetPaymentHistory(ctx context.Context, holderID string) ([]model.Payment, error) {
	if _, err := s.store.GetAccount(ctx, holderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHolderNotFound
		}
		return nil, err
	}
	return s.store.ListPaymentsByHolder(ctx, holderID)
}
