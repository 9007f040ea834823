package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moncoin/exchange/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for hot reads: markets and payment history. Mutations run against
// the primary inside Atomic; the wrapper records which markets, accounts,
// and holders the transaction touched and invalidates their keys after the
// commit, so no caller ever reads a cached pool or balance inside a
// decision path — decisions always go through Atomic's locked reads.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func marketKey(id string) string    { return fmt.Sprintf("market:%s", id) }
func paymentsKey(hid string) string { return fmt.Sprintf("payments:%s", hid) }

// --- Read-through ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListPaymentsByHolder(ctx context.Context, holderID string) ([]model.Payment, error) {
	data, err := s.rdb.Get(ctx, paymentsKey(holderID)).Bytes()
	if err == nil {
		var payments []model.Payment
		if json.Unmarshal(data, &payments) == nil {
			return payments, nil
		}
	}

	payments, err := s.primary.ListPaymentsByHolder(ctx, holderID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(payments); err == nil {
		s.rdb.Set(ctx, paymentsKey(holderID), data, s.ttl)
	}
	return payments, nil
}

// --- Write paths (invalidate after primary commit) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	rec := &touchRecorder{}
	err := s.primary.Atomic(ctx, func(tx Tx) error {
		return fn(&recordingTx{Tx: tx, rec: rec})
	})
	if err != nil {
		return err
	}

	// Committed: drop every touched key; next read re-populates.
	keys := make([]string, 0, len(rec.markets)+len(rec.holders))
	for id := range rec.markets {
		keys = append(keys, marketKey(id))
	}
	for id := range rec.holders {
		keys = append(keys, paymentsKey(id))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) GetPosition(ctx context.Context, holderID, marketID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, holderID, marketID)
}

func (s *CachedStore) ListPositionsByHolder(ctx context.Context, holderID string) ([]model.Position, error) {
	return s.primary.ListPositionsByHolder(ctx, holderID)
}

func (s *CachedStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.ListTradesByMarket(ctx, marketID)
}

func (s *CachedStore) ListTradesByHolder(ctx context.Context, holderID string) ([]model.Trade, error) {
	return s.primary.ListTradesByHolder(ctx, holderID)
}

func (s *CachedStore) GetPaymentByRequestID(ctx context.Context, requestID string) (*model.Payment, error) {
	return s.primary.GetPaymentByRequestID(ctx, requestID)
}

func (s *CachedStore) GetTreasury(ctx context.Context) (*model.Treasury, error) {
	return s.primary.GetTreasury(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

// touchRecorder collects the entity IDs a transaction wrote to.
type touchRecorder struct {
	markets map[string]struct{}
	holders map[string]struct{}
}

func (r *touchRecorder) market(id string) {
	if r.markets == nil {
		r.markets = make(map[string]struct{})
	}
	r.markets[id] = struct{}{}
}

func (r *touchRecorder) holder(id string) {
	if r.holders == nil {
		r.holders = make(map[string]struct{})
	}
	r.holders[id] = struct{}{}
}

// recordingTx forwards to the primary Tx while noting mutated entities.
type recordingTx struct {
	Tx
	rec *touchRecorder
}

func (t *recordingTx) UpdatePool(ctx context.Context, marketID string, pool model.Pool) error {
	t.rec.market(marketID)
	return t.Tx.UpdatePool(ctx, marketID, pool)
}

func (t *recordingTx) ResolveMarket(ctx context.Context, marketID, outcome string, at time.Time) error {
	t.rec.market(marketID)
	return t.Tx.ResolveMarket(ctx, marketID, outcome, at)
}

func (t *recordingTx) InsertPayment(ctx context.Context, p *model.Payment) error {
	t.rec.holder(p.HolderID)
	return t.Tx.InsertPayment(ctx, p)
}

func (t *recordingTx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	t.rec.holder(p.HolderID)
	return t.Tx.UpdatePayment(ctx, p)
}
