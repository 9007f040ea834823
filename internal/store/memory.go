package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moncoin/exchange/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// Atomic holds one mutex for its whole duration, so transactions execute
// strictly one at a time, and snapshots the full state up front: an error
// from the callback restores the snapshot, giving the same all-or-nothing
// behavior as a database rollback.
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	accounts  map[string]*model.Account
	positions map[string]*model.Position // keyed holderID + "|" + marketID
	trades    []model.Trade
	payments  map[string]*model.Payment // keyed by requestID
	txOwner   map[string]string         // txHash -> requestID
	treasury  model.Treasury
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]*model.Position),
		payments:  make(map[string]*model.Payment),
		txOwner:   make(map[string]string),
	}
}

func positionKey(holderID, marketID string) string {
	return holderID + "|" + marketID
}

// --- Store reads ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s: %w", m.ID, ErrDuplicateKey)
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("account %s: %w", a.ID, ErrDuplicateKey)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, holderID, marketID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[positionKey(holderID, marketID)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", holderID, marketID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositionsByHolder(_ context.Context, holderID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.HolderID == holderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTradesByHolder(_ context.Context, holderID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.HolderID == holderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetPaymentByRequestID(_ context.Context, requestID string) (*model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[requestID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", requestID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPaymentsByHolder(_ context.Context, holderID string) ([]model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Payment
	for _, p := range s.payments {
		if p.HolderID == holderID {
			out = append(out, *p)
		}
	}
	// Newest first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTreasury(_ context.Context) (*model.Treasury, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.treasury
	return &t, nil
}

// --- Atomic ---

// snapshot deep-copies all mutable state for rollback.
type memSnapshot struct {
	markets   map[string]*model.Market
	accounts  map[string]*model.Account
	positions map[string]*model.Position
	trades    []model.Trade
	payments  map[string]*model.Payment
	txOwner   map[string]string
	treasury  model.Treasury
}

func (s *MemoryStore) snapshot() memSnapshot {
	snap := memSnapshot{
		markets:   make(map[string]*model.Market, len(s.markets)),
		accounts:  make(map[string]*model.Account, len(s.accounts)),
		positions: make(map[string]*model.Position, len(s.positions)),
		trades:    append([]model.Trade(nil), s.trades...),
		payments:  make(map[string]*model.Payment, len(s.payments)),
		txOwner:   make(map[string]string, len(s.txOwner)),
		treasury:  s.treasury,
	}
	for k, v := range s.markets {
		cp := *v
		snap.markets[k] = &cp
	}
	for k, v := range s.accounts {
		cp := *v
		snap.accounts[k] = &cp
	}
	for k, v := range s.positions {
		cp := *v
		snap.positions[k] = &cp
	}
	for k, v := range s.payments {
		cp := *v
		snap.payments[k] = &cp
	}
	for k, v := range s.txOwner {
		snap.txOwner[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.markets = snap.markets
	s.accounts = snap.accounts
	s.positions = snap.positions
	s.trades = snap.trades
	s.payments = snap.payments
	s.txOwner = snap.txOwner
	s.treasury = snap.treasury
}

func (s *MemoryStore) Atomic(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// memTx mutates the store's live maps directly; rollback is handled by the
// snapshot in Atomic. The enclosing mutex serializes everything.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) MarketForUpdate(_ context.Context, id string) (*model.Market, error) {
	m, ok := t.s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) AccountForUpdate(_ context.Context, id string) (*model.Account, error) {
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) UpdatePool(_ context.Context, marketID string, pool model.Pool) error {
	m, ok := t.s.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	m.Pool = pool
	return nil
}

func (t *memTx) AddBalance(_ context.Context, accountID string, deltaMicros int64) (int64, error) {
	a, ok := t.s.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	a.BalanceMicros += deltaMicros
	return a.BalanceMicros, nil
}

func (t *memTx) UpsertPositionAdd(_ context.Context, holderID, marketID, side string, sharesMicros int64) (*model.Position, error) {
	key := positionKey(holderID, marketID)
	p, ok := t.s.positions[key]
	if !ok {
		p = &model.Position{
			ID:       uuid.New().String(),
			HolderID: holderID,
			MarketID: marketID,
		}
		t.s.positions[key] = p
	}
	if side == model.SideYes {
		p.YesSharesMicros += sharesMicros
	} else {
		p.NoSharesMicros += sharesMicros
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) PositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range t.s.positions {
		if p.MarketID == marketID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (t *memTx) ZeroPositionShares(_ context.Context, positionID string) error {
	for _, p := range t.s.positions {
		if p.ID == positionID {
			p.YesSharesMicros = 0
			p.NoSharesMicros = 0
			return nil
		}
	}
	return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
}

func (t *memTx) InsertTrade(_ context.Context, trade *model.Trade) error {
	t.s.trades = append(t.s.trades, *trade)
	return nil
}

func (t *memTx) AddTreasuryFees(_ context.Context, feeMicros int64) error {
	t.s.treasury.FeeMicros += feeMicros
	return nil
}

func (t *memTx) ResolveMarket(_ context.Context, marketID, outcome string, at time.Time) error {
	m, ok := t.s.markets[marketID]
	if !ok {
		return fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	m.Status = model.MarketResolved
	m.Outcome = outcome
	resolvedAt := at
	m.ResolvedAt = &resolvedAt
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p *model.Payment) error {
	if _, exists := t.s.payments[p.RequestID]; exists {
		return fmt.Errorf("payment %s: %w", p.RequestID, ErrDuplicateKey)
	}
	if p.TxHash != "" {
		if _, exists := t.s.txOwner[p.TxHash]; exists {
			return fmt.Errorf("tx hash %s: %w", p.TxHash, ErrDuplicateKey)
		}
		t.s.txOwner[p.TxHash] = p.RequestID
	}
	cp := *p
	t.s.payments[p.RequestID] = &cp
	return nil
}

func (t *memTx) PaymentForUpdate(_ context.Context, requestID string) (*model.Payment, error) {
	p, ok := t.s.payments[requestID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", requestID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) PaymentByTxHash(_ context.Context, txHash string) (*model.Payment, error) {
	requestID, ok := t.s.txOwner[txHash]
	if !ok {
		return nil, fmt.Errorf("tx hash %s: %w", txHash, ErrNotFound)
	}
	cp := *t.s.payments[requestID]
	return &cp, nil
}

func (t *memTx) UpdatePayment(_ context.Context, p *model.Payment) error {
	existing, ok := t.s.payments[p.RequestID]
	if !ok {
		return fmt.Errorf("payment %s: %w", p.RequestID, ErrNotFound)
	}
	if p.TxHash != "" && p.TxHash != existing.TxHash {
		if owner, taken := t.s.txOwner[p.TxHash]; taken && owner != p.RequestID {
			return fmt.Errorf("tx hash %s: %w", p.TxHash, ErrDuplicateKey)
		}
		t.s.txOwner[p.TxHash] = p.RequestID
	}
	cp := *p
	t.s.payments[p.RequestID] = &cp
	return nil
}
