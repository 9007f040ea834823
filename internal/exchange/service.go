// Package exchange implements the trading ledger core: quoting and
// executing buys against per-market FPMM pools, and settling markets by
// paying out winning positions exactly once.
//
// Every mutating operation runs inside a single store.Atomic transaction;
// either all of its writes land or none do. Pool reserves and balances are
// always re-read, locked, inside the transaction that acts on them — the
// service never caches mutable ledger state across calls.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moncoin/exchange/internal/events"
	"github.com/moncoin/exchange/internal/fpmm"
	"github.com/moncoin/exchange/internal/metrics"
	"github.com/moncoin/exchange/internal/model"
	"github.com/moncoin/exchange/internal/store"
)

var (
	// ErrMarketNotFound is returned when the market does not exist.
	ErrMarketNotFound = errors.New("exchange: market not found")

	// ErrMarketNotOpen is returned when trading against a resolved market.
	ErrMarketNotOpen = errors.New("exchange: market is not open")

	// ErrHolderNotFound is returned when the trading account does not exist.
	ErrHolderNotFound = errors.New("exchange: holder not found")

	// ErrInsufficientBalance is returned when the holder cannot cover the
	// gross collateral. Checked before any mutation.
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")

	// ErrOutcomeConflict is returned when settling a market that is already
	// resolved with a different outcome. Never silently overwritten.
	ErrOutcomeConflict = errors.New("exchange: market already resolved with different outcome")

	// ErrInvalidOutcome is returned for a settlement outcome other than
	// YES or NO.
	ErrInvalidOutcome = errors.New("exchange: outcome must be YES or NO")
)

// Service executes trades and settlements against the ledger store.
type Service struct {
	store     store.Store
	hub       *Hub
	publisher events.Publisher
}

// NewService creates the exchange service. hub may be nil if WebSocket
// broadcasting is not needed; publisher may be nil to disable events.
func NewService(st store.Store, hub *Hub, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: st, hub: hub, publisher: pub}
}

// TradeReceipt summarizes one executed buy.
type TradeReceipt struct {
	TradeID          string          `json:"trade_id"`
	HolderID         string          `json:"holder_id"`
	MarketID         string          `json:"market_id"`
	Side             string          `json:"side"`
	FeeMicros        int64           `json:"fee_micros"`
	NetMicros        int64           `json:"net_micros"`
	SharesOutMicros  int64           `json:"shares_out_micros"`
	NewBalanceMicros int64           `json:"new_balance_micros"`
	Position         PositionTotals  `json:"position"`
	PriceYesBefore   decimal.Decimal `json:"price_yes_before"`
	PriceYesAfter    decimal.Decimal `json:"price_yes_after"`
}

// PositionTotals is the post-trade position snapshot in a receipt.
type PositionTotals struct {
	YesSharesMicros int64 `json:"yes_shares_micros"`
	NoSharesMicros  int64 `json:"no_shares_micros"`
}

// ExecuteTrade buys side shares in a market with grossMicros of the
// holder's Coin. The balance debit, treasury fee credit, pool overwrite,
// position increment, and trade record all commit together or not at all.
func (s *Service) ExecuteTrade(ctx context.Context, holderID, marketID, side string, grossMicros int64) (*TradeReceipt, error) {
	start := time.Now()

	var receipt *TradeReceipt
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		// Market first, then account: settlement locks in the same order,
		// so a trade and a settlement on one market never deadlock.
		market, err := tx.MarketForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrMarketNotFound
			}
			return err
		}
		if market.Status != model.MarketOpen {
			return ErrMarketNotOpen
		}

		acct, err := tx.AccountForUpdate(ctx, holderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrHolderNotFound
			}
			return err
		}
		if acct.BalanceMicros < grossMicros {
			return ErrInsufficientBalance
		}

		// Quote against the pool snapshot loaded under the row lock.
		quote, err := fpmm.QuoteBuy(market.Pool, side, grossMicros)
		if err != nil {
			return err
		}
		priceBefore := fpmm.PriceYes(market.Pool)

		newBalance, err := tx.AddBalance(ctx, holderID, -grossMicros)
		if err != nil {
			return err
		}
		if err := tx.AddTreasuryFees(ctx, quote.FeeMicros); err != nil {
			return err
		}
		if err := tx.UpdatePool(ctx, marketID, quote.NextPool); err != nil {
			return err
		}
		position, err := tx.UpsertPositionAdd(ctx, holderID, marketID, side, quote.SharesOutMicros)
		if err != nil {
			return err
		}

		trade := &model.Trade{
			ID:                   uuid.New().String(),
			HolderID:             holderID,
			MarketID:             marketID,
			Side:                 side,
			CollateralInMicros:   grossMicros,
			FeeMicros:            quote.FeeMicros,
			SharesOutMicros:      quote.SharesOutMicros,
			PoolYesMicros:        quote.NextPool.YesMicros,
			PoolNoMicros:         quote.NextPool.NoMicros,
			PoolCollateralMicros: quote.NextPool.CollateralMicros,
			CreatedAt:            time.Now().UTC(),
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}

		receipt = &TradeReceipt{
			TradeID:          trade.ID,
			HolderID:         holderID,
			MarketID:         marketID,
			Side:             side,
			FeeMicros:        quote.FeeMicros,
			NetMicros:        quote.NetMicros,
			SharesOutMicros:  quote.SharesOutMicros,
			NewBalanceMicros: newBalance,
			Position: PositionTotals{
				YesSharesMicros: position.YesSharesMicros,
				NoSharesMicros:  position.NoSharesMicros,
			},
			PriceYesBefore: priceBefore,
			PriceYesAfter:  fpmm.PriceYes(quote.NextPool),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeVolumeMicros.WithLabelValues(side).Add(float64(grossMicros))
	metrics.FeesMicros.Add(float64(receipt.FeeMicros))
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", receipt.TradeID,
		"holder", holderID,
		"market", marketID,
		"side", side,
		"gross_micros", grossMicros,
		"fee_micros", receipt.FeeMicros,
		"shares_out_micros", receipt.SharesOutMicros,
		"price_yes", receipt.PriceYesAfter.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(Message{
			Type:            "trade_executed",
			MarketID:        marketID,
			Side:            side,
			SharesOutMicros: receipt.SharesOutMicros,
			PriceYes:        receipt.PriceYesAfter.String(),
			PriceNo:         decimal.NewFromInt(1).Sub(receipt.PriceYesAfter).String(),
		})
	}
	if err := s.publisher.Publish(ctx, events.TopicTradeExecuted, receipt); err != nil {
		slog.Warn("event publish failed", "topic", events.TopicTradeExecuted, "err", err)
	}

	return receipt, nil
}

// QuoteResult is a read-only preview of a buy.
type QuoteResult struct {
	FeeMicros       int64           `json:"fee_micros"`
	NetMicros       int64           `json:"net_micros"`
	SharesOutMicros int64           `json:"shares_out_micros"`
	PriceYesBefore  decimal.Decimal `json:"price_yes_before"`
	PriceNoBefore   decimal.Decimal `json:"price_no_before"`
	PriceYesAfter   decimal.Decimal `json:"price_yes_after"`
	PriceNoAfter    decimal.Decimal `json:"price_no_after"`
}

// Quote previews a buy without touching any state.
func (s *Service) Quote(ctx context.Context, marketID, side string, grossMicros int64) (*QuoteResult, error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMarketNotFound
		}
		return nil, err
	}
	if market.Status != model.MarketOpen {
		return nil, ErrMarketNotOpen
	}

	quote, err := fpmm.QuoteBuy(market.Pool, side, grossMicros)
	if err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	priceBefore := fpmm.PriceYes(market.Pool)
	priceAfter := fpmm.PriceYes(quote.NextPool)
	return &QuoteResult{
		FeeMicros:       quote.FeeMicros,
		NetMicros:       quote.NetMicros,
		SharesOutMicros: quote.SharesOutMicros,
		PriceYesBefore:  priceBefore,
		PriceNoBefore:   one.Sub(priceBefore),
		PriceYesAfter:   priceAfter,
		PriceNoAfter:    one.Sub(priceAfter),
	}, nil
}

// Payout is one credit applied during settlement, addressed to the payable
// account (a claimed agent's payout lands on its owner).
type Payout struct {
	AccountID    string `json:"account_id"`
	AmountMicros int64  `json:"amount_micros"`
}

// SettlementResult reports the outcome of a Settle call.
type SettlementResult struct {
	MarketID        string   `json:"market_id"`
	Outcome         string   `json:"outcome"`
	AlreadyResolved bool     `json:"already_resolved"`
	Payouts         []Payout `json:"payouts"`
}

// Settle resolves a market to the given outcome, crediting every nonzero
// winning position 1:1 (one micro-share pays one micro-Coin) and zeroing
// all positions on the market. Settling an already-resolved market with
// the same outcome is an idempotent no-op with an empty payout list; a
// different outcome fails ErrOutcomeConflict and changes nothing.
func (s *Service) Settle(ctx context.Context, marketID, outcome string) (*SettlementResult, error) {
	if outcome != model.OutcomeYes && outcome != model.OutcomeNo {
		return nil, ErrInvalidOutcome
	}

	var result *SettlementResult
	err := s.store.Atomic(ctx, func(tx store.Tx) error {
		market, err := tx.MarketForUpdate(ctx, marketID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrMarketNotFound
			}
			return err
		}

		if market.Status == model.MarketResolved {
			if market.Outcome == outcome {
				result = &SettlementResult{
					MarketID:        marketID,
					Outcome:         market.Outcome,
					AlreadyResolved: true,
					Payouts:         []Payout{},
				}
				return nil
			}
			return fmt.Errorf("%w: %s", ErrOutcomeConflict, market.Outcome)
		}

		positions, err := tx.PositionsByMarket(ctx, marketID)
		if err != nil {
			return err
		}

		payouts := []Payout{}
		for _, pos := range positions {
			winning := pos.YesSharesMicros
			if outcome == model.OutcomeNo {
				winning = pos.NoSharesMicros
			}

			if winning > 0 {
				holder, err := tx.AccountForUpdate(ctx, pos.HolderID)
				if err != nil {
					return err
				}
				payable := holder.PayableID()
				if _, err := tx.AddBalance(ctx, payable, winning); err != nil {
					return err
				}
				payouts = append(payouts, Payout{AccountID: payable, AmountMicros: winning})
			}

			// Winners and losers alike: shares carry no further value.
			if pos.YesSharesMicros != 0 || pos.NoSharesMicros != 0 {
				if err := tx.ZeroPositionShares(ctx, pos.ID); err != nil {
					return err
				}
			}
		}

		if err := tx.ResolveMarket(ctx, marketID, outcome, time.Now().UTC()); err != nil {
			return err
		}

		result = &SettlementResult{
			MarketID: marketID,
			Outcome:  outcome,
			Payouts:  payouts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyResolved {
		metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
		var total int64
		for _, p := range result.Payouts {
			total += p.AmountMicros
		}
		metrics.PayoutsMicros.Add(float64(total))

		slog.Info("market settled",
			"market", marketID,
			"outcome", outcome,
			"payouts", len(result.Payouts),
			"total_micros", total,
		)

		if s.hub != nil {
			s.hub.Broadcast(Message{
				Type:     "market_resolved",
				MarketID: marketID,
				Outcome:  outcome,
			})
		}
		if err := s.publisher.Publish(ctx, events.TopicMarketResolved, result); err != nil {
			slog.Warn("event publish failed", "topic", events.TopicMarketResolved, "err", err)
		}
	}

	return result, nil
}
