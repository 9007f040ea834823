// Package payments runs the deposit/withdraw state machine bridging
// on-chain MON and the internal Coin balance. Every flow is keyed by a
// request ID and, once known, a transaction hash; both carry uniqueness
// constraints in the store, which is the sole defense against
// double-crediting a deposit or double-paying a withdrawal.
package payments

import (
	"errors"
	"math/big"
)

// The exchange rate is fixed: 1 MON buys 100 Coin. MON amounts arrive as
// wei (10^18 per MON) and Coin is ledgered in micros (10^6 per Coin), so
// one micro-Coin corresponds to 10^10 wei. Both conversions truncate;
// repeated round trips never invent value.
const (
	CoinPerMon = 100

	// weiPerMicro = 10^18 / (CoinPerMon * 10^6)
	weiPerMicro = 10_000_000_000
)

var (
	// ErrInvalidWeiAmount is returned for a wei string that is not a
	// non-negative decimal integer.
	ErrInvalidWeiAmount = errors.New("payments: invalid wei amount")

	// ErrAmountTooLarge is returned when a wei amount converts to more
	// micro-Coin than the ledger's integer balance can hold.
	ErrAmountTooLarge = errors.New("payments: amount exceeds ledger range")
)

var (
	bigWeiPerMicro = big.NewInt(weiPerMicro)
	bigMaxMicros   = big.NewInt(1<<63 - 1)
)

// MonWeiToCoinMicros converts a wei-denominated MON amount (decimal
// string, as reported by the chain) to micro-Coin, truncating.
func MonWeiToCoinMicros(wei string) (int64, error) {
	w, ok := new(big.Int).SetString(wei, 10)
	if !ok || w.Sign() < 0 {
		return 0, ErrInvalidWeiAmount
	}
	micros := new(big.Int).Quo(w, bigWeiPerMicro)
	if micros.Cmp(bigMaxMicros) > 0 {
		return 0, ErrAmountTooLarge
	}
	return micros.Int64(), nil
}

// CoinMicrosToMonWei converts micro-Coin to a wei-denominated MON amount
// as a decimal string. Wei amounts overflow int64 above ~9.2 MON, so the
// result is kept in string form end to end.
func CoinMicrosToMonWei(micros int64) string {
	wei := new(big.Int).Mul(big.NewInt(micros), bigWeiPerMicro)
	return wei.String()
}
