package store

import (
	"context"
	"errors"
	"testing"

	"github.com/moncoin/exchange/internal/model"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.CreateMarket(ctx, &model.Market{
		ID:     "m1",
		Status: model.MarketOpen,
		Pool:   model.Pool{YesMicros: 1_000_000, NoMicros: 1_000_000, FeeBps: 100},
	})
	if err != nil {
		t.Fatalf("seed market: %v", err)
	}
	err = s.CreateAccount(ctx, &model.Account{
		ID:            "a1",
		Kind:          model.AccountHuman,
		BalanceMicros: 5_000_000,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return s
}

func TestAtomicCommit(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx Tx) error {
		if _, err := tx.AddBalance(ctx, "a1", -1_000_000); err != nil {
			return err
		}
		if err := tx.AddTreasuryFees(ctx, 10_000); err != nil {
			return err
		}
		return tx.UpdatePool(ctx, "m1", model.Pool{YesMicros: 900_000, NoMicros: 1_200_000, FeeBps: 100})
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}

	a, _ := s.GetAccount(ctx, "a1")
	if a.BalanceMicros != 4_000_000 {
		t.Errorf("balance = %d, want 4000000", a.BalanceMicros)
	}
	tr, _ := s.GetTreasury(ctx)
	if tr.FeeMicros != 10_000 {
		t.Errorf("treasury = %d, want 10000", tr.FeeMicros)
	}
	m, _ := s.GetMarket(ctx, "m1")
	if m.Pool.YesMicros != 900_000 {
		t.Errorf("pool yes = %d, want 900000", m.Pool.YesMicros)
	}
}

func TestAtomicRollsBackEverything(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx Tx) error {
		if _, err := tx.AddBalance(ctx, "a1", -5_000_000); err != nil {
			return err
		}
		if err := tx.UpdatePool(ctx, "m1", model.Pool{YesMicros: 1, NoMicros: 1}); err != nil {
			return err
		}
		if _, err := tx.UpsertPositionAdd(ctx, "a1", "m1", model.SideYes, 123); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, &model.Trade{ID: "t1", MarketID: "m1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic err = %v, want boom", err)
	}

	// Every write inside the failed transaction is gone.
	a, _ := s.GetAccount(ctx, "a1")
	if a.BalanceMicros != 5_000_000 {
		t.Errorf("balance = %d, want 5000000", a.BalanceMicros)
	}
	m, _ := s.GetMarket(ctx, "m1")
	if m.Pool.YesMicros != 1_000_000 {
		t.Errorf("pool yes = %d, want 1000000", m.Pool.YesMicros)
	}
	if _, err := s.GetPosition(ctx, "a1", "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("position err = %v, want ErrNotFound", err)
	}
	trades, _ := s.ListTradesByMarket(ctx, "m1")
	if len(trades) != 0 {
		t.Errorf("trades = %d, want 0", len(trades))
	}
}

func TestDuplicateKeys(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	err := s.CreateMarket(ctx, &model.Market{ID: "m1"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("duplicate market err = %v, want ErrDuplicateKey", err)
	}
	err = s.CreateAccount(ctx, &model.Account{ID: "a1"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("duplicate account err = %v, want ErrDuplicateKey", err)
	}
}

func TestPaymentTxHashUniqueness(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()
	hash := "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"

	err := s.Atomic(ctx, func(tx Tx) error {
		return tx.InsertPayment(ctx, &model.Payment{
			ID:        "p1",
			RequestID: "r1",
			HolderID:  "a1",
			Direction: model.DirectionDeposit,
			Status:    model.PaymentPending,
		})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Claim the hash on r1.
	err = s.Atomic(ctx, func(tx Tx) error {
		p, err := tx.PaymentForUpdate(ctx, "r1")
		if err != nil {
			return err
		}
		p.Status = model.PaymentConfirmed
		p.TxHash = hash
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = s.Atomic(ctx, func(tx Tx) error {
		owner, err := tx.PaymentByTxHash(ctx, hash)
		if err != nil {
			return err
		}
		if owner.RequestID != "r1" {
			t.Errorf("hash owner = %s, want r1", owner.RequestID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}

	// A second request cannot take the same hash.
	err = s.Atomic(ctx, func(tx Tx) error {
		if err := tx.InsertPayment(ctx, &model.Payment{ID: "p2", RequestID: "r2", HolderID: "a1"}); err != nil {
			return err
		}
		p, err := tx.PaymentForUpdate(ctx, "r2")
		if err != nil {
			return err
		}
		p.TxHash = hash
		return tx.UpdatePayment(ctx, p)
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("reused hash err = %v, want ErrDuplicateKey", err)
	}
	// The rejected transaction rolled back its insert too.
	if _, err := s.GetPaymentByRequestID(ctx, "r2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("r2 err = %v, want ErrNotFound", err)
	}
}

func TestUpsertPositionAdd(t *testing.T) {
	s := seedStore(t)
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx Tx) error {
		if _, err := tx.UpsertPositionAdd(ctx, "a1", "m1", model.SideYes, 100); err != nil {
			return err
		}
		if _, err := tx.UpsertPositionAdd(ctx, "a1", "m1", model.SideYes, 50); err != nil {
			return err
		}
		pos, err := tx.UpsertPositionAdd(ctx, "a1", "m1", model.SideNo, 30)
		if err != nil {
			return err
		}
		if pos.YesSharesMicros != 150 || pos.NoSharesMicros != 30 {
			t.Errorf("position = %d/%d, want 150/30", pos.YesSharesMicros, pos.NoSharesMicros)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}

	pos, err := s.GetPosition(ctx, "a1", "m1")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.YesSharesMicros != 150 || pos.NoSharesMicros != 30 {
		t.Errorf("stored position = %d/%d, want 150/30", pos.YesSharesMicros, pos.NoSharesMicros)
	}
}
