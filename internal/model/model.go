// Package model defines the core domain types shared across the exchange.
// All Coin amounts are int64 micro-units (1 Coin = 1_000_000 micros) —
// never float64 for money. MON amounts are wei and carried as big.Int
// strings since 18-decimal values overflow int64.
package model

import (
	"time"
)

// MicrosPerCoin is the fixed-point scale of the Coin unit of account.
const MicrosPerCoin int64 = 1_000_000

// Market lifecycle states. RESOLVED is terminal.
const (
	MarketOpen     = "OPEN"
	MarketResolved = "RESOLVED"
)

// Market outcomes. Set exactly once, at resolution.
const (
	OutcomeUnresolved = "UNRESOLVED"
	OutcomeYes        = "YES"
	OutcomeNo         = "NO"
)

// Trade sides.
const (
	SideYes = "YES"
	SideNo  = "NO"
)

// Account kinds.
const (
	AccountHuman = "HUMAN"
	AccountAgent = "AGENT"
)

// Payment directions.
const (
	DirectionDeposit  = "DEPOSIT"
	DirectionWithdraw = "WITHDRAW"
)

// Payment statuses. Transitions move forward only:
// PENDING -> CONFIRMED (deposit), PENDING -> SENT (withdraw),
// PENDING -> FAILED. Terminal states are never overwritten.
const (
	PaymentPending   = "PENDING"
	PaymentConfirmed = "CONFIRMED"
	PaymentSent      = "SENT"
	PaymentFailed    = "FAILED"
)

// Pool is the per-market AMM reserve state. Both reserves stay strictly
// positive while the market is open; only the trade executor mutates them.
type Pool struct {
	YesMicros        int64 `json:"yes_micros" db:"yes_micros"`
	NoMicros         int64 `json:"no_micros" db:"no_micros"`
	CollateralMicros int64 `json:"collateral_micros" db:"collateral_micros"`
	FeeBps           int32 `json:"fee_bps" db:"fee_bps"`
}

// Market is a binary YES/NO prediction market. It owns exactly one Pool.
type Market struct {
	ID         string     `json:"id" db:"id"`
	Title      string     `json:"title" db:"title"`
	Status     string     `json:"status" db:"status"`
	Outcome    string     `json:"outcome" db:"outcome"`
	Pool       Pool       `json:"pool"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Account is any entity that can hold a balance and positions: a human
// trader or an agent. A claimed agent carries OwnerID, the human account
// its settlement payouts are redirected to.
type Account struct {
	ID            string    `json:"id" db:"id"`
	Kind          string    `json:"kind" db:"kind"`
	BalanceMicros int64     `json:"balance_micros" db:"balance_micros"`
	OwnerID       string    `json:"owner_id,omitempty" db:"owner_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// PayableID resolves the account that actually receives a credit: a claimed
// agent pays its owner, everyone else is paid directly. Resolved once, up
// front, so the ledger core never branches on the identity model inline.
func (a *Account) PayableID() string {
	if a.Kind == AccountAgent && a.OwnerID != "" {
		return a.OwnerID
	}
	return a.ID
}

// Position is the aggregate holding of one account in one market.
// Unique per (holder, market); zeroed exactly once by settlement.
type Position struct {
	ID              string `json:"id" db:"id"`
	HolderID        string `json:"holder_id" db:"holder_id"`
	MarketID        string `json:"market_id" db:"market_id"`
	YesSharesMicros int64  `json:"yes_shares_micros" db:"yes_shares_micros"`
	NoSharesMicros  int64  `json:"no_shares_micros" db:"no_shares_micros"`
}

// Trade is an immutable record of one executed buy, carrying the post-trade
// pool snapshot for audit and price-history reconstruction. Once created,
// these are never modified or deleted.
type Trade struct {
	ID                   string    `json:"id" db:"id"`
	HolderID             string    `json:"holder_id" db:"holder_id"`
	MarketID             string    `json:"market_id" db:"market_id"`
	Side                 string    `json:"side" db:"side"`
	CollateralInMicros   int64     `json:"collateral_in_micros" db:"collateral_in_micros"`
	FeeMicros            int64     `json:"fee_micros" db:"fee_micros"`
	SharesOutMicros      int64     `json:"shares_out_micros" db:"shares_out_micros"`
	PoolYesMicros        int64     `json:"pool_yes_micros" db:"pool_yes_micros"`
	PoolNoMicros         int64     `json:"pool_no_micros" db:"pool_no_micros"`
	PoolCollateralMicros int64     `json:"pool_collateral_micros" db:"pool_collateral_micros"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// Payment is one deposit or withdraw attempt bridging MON and Coin.
// RequestID and TxHash each carry a uniqueness constraint in the store;
// TxHash uniqueness is the sole duplicate-submission guard.
type Payment struct {
	ID               string     `json:"id" db:"id"`
	RequestID        string     `json:"request_id" db:"request_id"`
	HolderID         string     `json:"holder_id" db:"holder_id"`
	Direction        string     `json:"direction" db:"direction"`
	Status           string     `json:"status" db:"status"`
	MonAmountWei     string     `json:"mon_amount_wei" db:"mon_amount_wei"`
	CoinAmountMicros int64      `json:"coin_amount_micros" db:"coin_amount_micros"`
	TxHash           string     `json:"tx_hash,omitempty" db:"tx_hash"`
	WalletAddress    string     `json:"wallet_address" db:"wallet_address"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	SentAt           *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	FailedAt         *time.Time `json:"failed_at,omitempty" db:"failed_at"`
	ErrorMessage     string     `json:"error_message,omitempty" db:"error_message"`
}

// Treasury is the single running total of collected trading fees.
type Treasury struct {
	FeeMicros int64 `json:"fee_micros" db:"fee_micros"`
}
