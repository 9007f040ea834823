// Package store defines the persistence interface for the exchange ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every mutating operation in the exchange runs inside Atomic: a single
// serializable unit that either commits all of its writes or none of them.
// Callers never cache mutable ledger fields across calls — every read that
// participates in a decision is re-read inside the transaction that acts
// on it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/moncoin/exchange/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateKey is returned when an insert or update violates a
	// uniqueness constraint (payment request IDs and tx hashes).
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer on hot reads.
type Store interface {
	// --- Market reads / lifecycle seeding ---

	// CreateMarket persists a new market with its pool.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market (with pool) by ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Accounts ---

	// CreateAccount persists a new holder account.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount retrieves a holder account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// --- Positions and trades (read-only outside Atomic) ---

	// GetPosition returns the position for one (holder, market) pair.
	GetPosition(ctx context.Context, holderID, marketID string) (*model.Position, error)

	// ListPositionsByHolder returns all positions held by an account.
	ListPositionsByHolder(ctx context.Context, holderID string) ([]model.Position, error)

	// ListTradesByMarket returns a market's trades in execution order.
	ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// ListTradesByHolder returns a holder's trades in execution order.
	ListTradesByHolder(ctx context.Context, holderID string) ([]model.Trade, error)

	// --- Payments (read-only outside Atomic) ---

	// GetPaymentByRequestID returns one payment by its request ID.
	GetPaymentByRequestID(ctx context.Context, requestID string) (*model.Payment, error)

	// ListPaymentsByHolder returns a holder's payments, newest first.
	ListPaymentsByHolder(ctx context.Context, holderID string) ([]model.Payment, error)

	// --- Treasury ---

	// GetTreasury returns the fee treasury running total.
	GetTreasury(ctx context.Context) (*model.Treasury, error)

	// --- Atomic mutation ---

	// Atomic runs fn inside one transaction. If fn returns an error the
	// transaction rolls back completely and the error is returned;
	// otherwise every write commits together. Rows read through Tx's
	// ForUpdate methods stay locked until the transaction ends, so
	// concurrent writers against the same market, account, or payment
	// serialize instead of losing updates.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view handed to Atomic callbacks. All reads see
// the transaction's own writes; ForUpdate reads take row locks.
type Tx interface {
	// MarketForUpdate loads a market (with pool) and locks its pool row.
	MarketForUpdate(ctx context.Context, id string) (*model.Market, error)

	// AccountForUpdate loads a holder account and locks it.
	AccountForUpdate(ctx context.Context, id string) (*model.Account, error)

	// UpdatePool overwrites a market's pool reserves and collateral.
	UpdatePool(ctx context.Context, marketID string, pool model.Pool) error

	// AddBalance adjusts an account balance by delta (negative to debit)
	// and returns the new balance.
	AddBalance(ctx context.Context, accountID string, deltaMicros int64) (int64, error)

	// UpsertPositionAdd increments one side of the (holder, market)
	// position by sharesMicros, creating the position on first trade.
	// Returns the post-update position.
	UpsertPositionAdd(ctx context.Context, holderID, marketID, side string, sharesMicros int64) (*model.Position, error)

	// PositionsByMarket returns every position on a market, locked.
	PositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// ZeroPositionShares zeroes both share fields of a position.
	ZeroPositionShares(ctx context.Context, positionID string) error

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// AddTreasuryFees increments the fee treasury.
	AddTreasuryFees(ctx context.Context, feeMicros int64) error

	// ResolveMarket transitions a market to RESOLVED with the outcome.
	ResolveMarket(ctx context.Context, marketID, outcome string, at time.Time) error

	// InsertPayment persists a new payment row. Fails ErrDuplicateKey on a
	// request ID or tx hash collision.
	InsertPayment(ctx context.Context, p *model.Payment) error

	// PaymentForUpdate loads a payment by request ID and locks it.
	PaymentForUpdate(ctx context.Context, requestID string) (*model.Payment, error)

	// PaymentByTxHash returns the payment owning txHash, or ErrNotFound.
	PaymentByTxHash(ctx context.Context, txHash string) (*model.Payment, error)

	// UpdatePayment overwrites a payment row's mutable fields (status,
	// amounts, tx hash, transition timestamps, error message).
	UpdatePayment(ctx context.Context, p *model.Payment) error
}
