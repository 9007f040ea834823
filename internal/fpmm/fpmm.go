// Package fpmm implements a fixed-product market maker (FPMM) for binary
// YES/NO outcome markets.
//
// One micro-unit of collateral always backs one YES and one NO share
// jointly: quoting a buy conceptually mints the net collateral into both
// reserves, then drains the bought side back down until the product of the
// reserves is restored. The new reserve is computed with ceiling division,
// so integer rounding never favors the trader.
//
// All reserve and collateral amounts are int64 micro-units — never float64
// for money. The reserve product can exceed int64, so the invariant math
// runs on big.Int internally; inputs and outputs stay int64.
package fpmm

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/moncoin/exchange/internal/model"
)

// BpsDenom is the basis-point denominator for fee math.
const BpsDenom int64 = 10_000

var (
	// ErrNonPositiveCollateral is returned when grossCollateralIn <= 0.
	// A zero buy is a caller error, not a zero-quote.
	ErrNonPositiveCollateral = errors.New("fpmm: collateral must be > 0")

	// ErrInvalidFeeBps is returned when feeBps is outside [0, 10000].
	ErrInvalidFeeBps = errors.New("fpmm: feeBps must be between 0 and 10000")

	// ErrEmptyReserve is returned when either pool reserve is <= 0 before
	// the trade. Reserves must stay strictly positive while a market is open.
	ErrEmptyReserve = errors.New("fpmm: pool reserves must be > 0")

	// ErrZeroShares is returned when integer rounding would yield
	// sharesOut <= 0 for strictly positive net collateral. The trade is
	// rejected rather than executed at a degenerate price.
	ErrZeroShares = errors.New("fpmm: trade results in zero shares out")

	// ErrReserveDrained is returned when the trade would leave a reserve
	// at or below zero.
	ErrReserveDrained = errors.New("fpmm: trade would drain a pool reserve")

	// ErrAmountOverflow is returned when intermediate reserve sums exceed
	// the int64 range.
	ErrAmountOverflow = errors.New("fpmm: amount overflows int64")

	// ErrInvalidSide is returned for a side other than YES or NO.
	ErrInvalidSide = errors.New("fpmm: side must be YES or NO")
)

// Quote is the result of pricing one buy against a pool snapshot.
type Quote struct {
	Side               string     `json:"side"`
	CollateralInMicros int64      `json:"collateral_in_micros"`
	FeeMicros          int64      `json:"fee_micros"`
	NetMicros          int64      `json:"net_micros"`
	SharesOutMicros    int64      `json:"shares_out_micros"`
	NextPool           model.Pool `json:"next_pool"`
}

// QuoteBuy prices a buy of the given side with grossMicros of collateral
// against the pool snapshot. Pure and deterministic: no I/O, no mutation.
//
// fee = floor(gross * feeBps / 10000); net = gross - fee. The bought side's
// new reserve is ceil(k / otherReserve) so the post-trade reserve product is
// never below the pre-trade product.
func QuoteBuy(pool model.Pool, side string, grossMicros int64) (*Quote, error) {
	if side != model.SideYes && side != model.SideNo {
		return nil, ErrInvalidSide
	}
	if grossMicros <= 0 {
		return nil, ErrNonPositiveCollateral
	}
	if pool.FeeBps < 0 || int64(pool.FeeBps) > BpsDenom {
		return nil, ErrInvalidFeeBps
	}
	if pool.YesMicros <= 0 || pool.NoMicros <= 0 {
		return nil, ErrEmptyReserve
	}

	// The fee multiplication must stay inside int64.
	if grossMicros > math.MaxInt64/BpsDenom {
		return nil, ErrAmountOverflow
	}
	fee := grossMicros * int64(pool.FeeBps) / BpsDenom
	net := grossMicros - fee

	if pool.YesMicros > math.MaxInt64-net || pool.NoMicros > math.MaxInt64-net {
		return nil, ErrAmountOverflow
	}
	tempYes := pool.YesMicros + net
	tempNo := pool.NoMicros + net

	// k = yes * no can exceed int64; carry the product in big.Int.
	k := new(big.Int).Mul(big.NewInt(pool.YesMicros), big.NewInt(pool.NoMicros))

	var nextYes, nextNo, sharesOut int64
	if side == model.SideYes {
		nextNo = tempNo
		nextYes = ceilDivBig(k, nextNo)
		sharesOut = tempYes - nextYes
	} else {
		nextYes = tempYes
		nextNo = ceilDivBig(k, nextYes)
		sharesOut = tempNo - nextNo
	}

	if sharesOut <= 0 {
		return nil, ErrZeroShares
	}
	if nextYes <= 0 || nextNo <= 0 {
		return nil, ErrReserveDrained
	}

	return &Quote{
		Side:               side,
		CollateralInMicros: grossMicros,
		FeeMicros:          fee,
		NetMicros:          net,
		SharesOutMicros:    sharesOut,
		NextPool: model.Pool{
			YesMicros:        nextYes,
			NoMicros:         nextNo,
			CollateralMicros: pool.CollateralMicros + net,
			FeeBps:           pool.FeeBps,
		},
	}, nil
}

// PriceYes returns the instantaneous YES price noMicros / (yesMicros +
// noMicros) as a decimal. Derived, read-only, for display: trading never
// consumes this value. An empty pool reports 0.5.
func PriceYes(pool model.Pool) decimal.Decimal {
	denom := pool.YesMicros + pool.NoMicros
	if denom <= 0 {
		return decimal.New(5, -1)
	}
	return decimal.NewFromInt(pool.NoMicros).
		DivRound(decimal.NewFromInt(denom), 8)
}

// PriceNo returns the instantaneous NO price: 1 - PriceYes.
func PriceNo(pool model.Pool) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(PriceYes(pool))
}

// ceilDivBig computes ceil(k / d) for positive d, with the quotient known
// to fit int64 (the new reserve never exceeds the pre-trade reserve plus
// the minted collateral, both int64).
func ceilDivBig(k *big.Int, d int64) int64 {
	q, r := new(big.Int).QuoRem(k, big.NewInt(d), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}
