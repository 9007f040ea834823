package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/moncoin/exchange/internal/fpmm"
	"github.com/moncoin/exchange/internal/model"
	"github.com/moncoin/exchange/internal/store"
)

// MarkToMarket is the derived value of one position. Read-only and
// non-authoritative: it never feeds back into the ledger.
type MarkToMarket struct {
	MarketID        string          `json:"market_id"`
	MarketStatus    string          `json:"market_status"`
	YesSharesMicros int64           `json:"yes_shares_micros"`
	NoSharesMicros  int64           `json:"no_shares_micros"`
	PriceYes        decimal.Decimal `json:"price_yes"`
	PriceNo         decimal.Decimal `json:"price_no"`
	ValueMicros     int64           `json:"value_micros"`
}

// ValuePosition marks a position to market: open markets value shares at
// the current pool price, resolved markets at 1 for the winning side and
// 0 for the loser.
func ValuePosition(pos model.Position, market *model.Market) MarkToMarket {
	var priceYes decimal.Decimal
	switch {
	case market.Status == model.MarketResolved && market.Outcome == model.OutcomeYes:
		priceYes = decimal.NewFromInt(1)
	case market.Status == model.MarketResolved && market.Outcome == model.OutcomeNo:
		priceYes = decimal.Zero
	default:
		priceYes = fpmm.PriceYes(market.Pool)
	}
	priceNo := decimal.NewFromInt(1).Sub(priceYes)

	value := priceYes.Mul(decimal.NewFromInt(pos.YesSharesMicros)).
		Add(priceNo.Mul(decimal.NewFromInt(pos.NoSharesMicros)))

	return MarkToMarket{
		MarketID:        market.ID,
		MarketStatus:    market.Status,
		YesSharesMicros: pos.YesSharesMicros,
		NoSharesMicros:  pos.NoSharesMicros,
		PriceYes:        priceYes,
		PriceNo:         priceNo,
		ValueMicros:     value.IntPart(),
	}
}

// Portfolio aggregates a holder's balance, open positions, and equity.
type Portfolio struct {
	HolderID      string         `json:"holder_id"`
	BalanceMicros int64          `json:"balance_micros"`
	Positions     []MarkToMarket `json:"positions"`
	EquityMicros  int64          `json:"equity_micros"`
}

// GetPortfolio builds a holder's portfolio view: balance plus every
// position marked to market. Display-side only; uses plain reads.
func (s *Service) GetPortfolio(ctx context.Context, holderID string) (*Portfolio, error) {
	acct, err := s.store.GetAccount(ctx, holderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHolderNotFound
		}
		return nil, err
	}

	positions, err := s.store.ListPositionsByHolder(ctx, holderID)
	if err != nil {
		return nil, err
	}

	portfolio := &Portfolio{
		HolderID:      holderID,
		BalanceMicros: acct.BalanceMicros,
		Positions:     []MarkToMarket{},
		EquityMicros:  acct.BalanceMicros,
	}

	for _, pos := range positions {
		if pos.YesSharesMicros == 0 && pos.NoSharesMicros == 0 {
			continue
		}
		market, err := s.store.GetMarket(ctx, pos.MarketID)
		if err != nil {
			return nil, err
		}
		mtm := ValuePosition(pos, market)
		portfolio.Positions = append(portfolio.Positions, mtm)
		portfolio.EquityMicros += mtm.ValueMicros
	}

	return portfolio, nil
}
