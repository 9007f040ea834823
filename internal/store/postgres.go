package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moncoin/exchange/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Atomic maps onto a pgx transaction: ForUpdate reads take SELECT ... FOR
// UPDATE row locks, so concurrent trades against the same pool, balance
// adjustments against the same account, and confirmations against the same
// payment serialize at the database. The uniqueness constraints on
// payments.request_id and payments.tx_hash are the duplicate-submission
// backstop.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx, letting the row
// scan helpers serve plain reads and transactional reads alike.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func mapPgErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", what, ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Markets ---

const marketColumns = `id, title, status, outcome,
	yes_micros, no_micros, collateral_micros, fee_bps,
	created_at, resolved_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	err := row.Scan(&m.ID, &m.Title, &m.Status, &m.Outcome,
		&m.Pool.YesMicros, &m.Pool.NoMicros, &m.Pool.CollateralMicros, &m.Pool.FeeBps,
		&m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, status, outcome,
		    yes_micros, no_micros, collateral_micros, fee_bps, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Title, m.Status, m.Outcome,
		m.Pool.YesMicros, m.Pool.NoMicros, m.Pool.CollateralMicros, m.Pool.FeeBps,
		m.CreatedAt,
	)
	if err != nil {
		return mapPgErr(err, "create market "+m.ID)
	}
	return nil
}

func getMarket(ctx context.Context, q querier, id string, forUpdate bool) (*model.Market, error) {
	sql := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	m, err := scanMarket(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, mapPgErr(err, "get market "+id)
	}
	return m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// --- Accounts ---

const accountColumns = `id, kind, balance_micros, COALESCE(owner_id, ''), created_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Kind, &a.BalanceMicros, &a.OwnerID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, kind, balance_micros, owner_id, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		a.ID, a.Kind, a.BalanceMicros, a.OwnerID, a.CreatedAt,
	)
	if err != nil {
		return mapPgErr(err, "create account "+a.ID)
	}
	return nil
}

func getAccount(ctx context.Context, q querier, id string, forUpdate bool) (*model.Account, error) {
	sql := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	a, err := scanAccount(q.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, mapPgErr(err, "get account "+id)
	}
	return a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, s.pool, id, false)
}

// --- Positions ---

const positionColumns = `id, holder_id, market_id, yes_shares_micros, no_shares_micros`

func (s *PostgresStore) GetPosition(ctx context.Context, holderID, marketID string) (*model.Position, error) {
	var p model.Position
	err := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE holder_id = $1 AND market_id = $2`, holderID, marketID).
		Scan(&p.ID, &p.HolderID, &p.MarketID, &p.YesSharesMicros, &p.NoSharesMicros)
	if err != nil {
		return nil, mapPgErr(err, fmt.Sprintf("get position %s/%s", holderID, marketID))
	}
	return &p, nil
}

func (s *PostgresStore) ListPositionsByHolder(ctx context.Context, holderID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE holder_id = $1`, holderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.ID, &p.HolderID, &p.MarketID,
			&p.YesSharesMicros, &p.NoSharesMicros); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Trades ---

const tradeColumns = `id, holder_id, market_id, side,
	collateral_in_micros, fee_micros, shares_out_micros,
	pool_yes_micros, pool_no_micros, pool_collateral_micros, created_at`

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByHolder(ctx context.Context, holderID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE holder_id = $1 ORDER BY created_at`, holderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.HolderID, &t.MarketID, &t.Side,
			&t.CollateralInMicros, &t.FeeMicros, &t.SharesOutMicros,
			&t.PoolYesMicros, &t.PoolNoMicros, &t.PoolCollateralMicros,
			&t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Payments ---

const paymentColumns = `id, request_id, holder_id, direction, status,
	mon_amount_wei::TEXT, coin_amount_micros, COALESCE(tx_hash, ''),
	wallet_address, created_at, confirmed_at, sent_at, failed_at,
	COALESCE(error_message, '')`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(&p.ID, &p.RequestID, &p.HolderID, &p.Direction, &p.Status,
		&p.MonAmountWei, &p.CoinAmountMicros, &p.TxHash,
		&p.WalletAddress, &p.CreatedAt, &p.ConfirmedAt, &p.SentAt, &p.FailedAt,
		&p.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func getPaymentByRequestID(ctx context.Context, q querier, requestID string, forUpdate bool) (*model.Payment, error) {
	sql := `SELECT ` + paymentColumns + ` FROM payments WHERE request_id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	p, err := scanPayment(q.QueryRow(ctx, sql, requestID))
	if err != nil {
		return nil, mapPgErr(err, "get payment "+requestID)
	}
	return p, nil
}

func (s *PostgresStore) GetPaymentByRequestID(ctx context.Context, requestID string) (*model.Payment, error) {
	return getPaymentByRequestID(ctx, s.pool, requestID, false)
}

func (s *PostgresStore) ListPaymentsByHolder(ctx context.Context, holderID string) ([]model.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE holder_id = $1 ORDER BY created_at DESC`, holderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// --- Treasury ---

func (s *PostgresStore) GetTreasury(ctx context.Context) (*model.Treasury, error) {
	var t model.Treasury
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(fee_micros), 0) FROM treasury`).Scan(&t.FeeMicros)
	if err != nil {
		return nil, fmt.Errorf("get treasury: %w", err)
	}
	return &t, nil
}

// --- Atomic ---

func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, t.tx, id, true)
}

func (t *pgTx) AccountForUpdate(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, t.tx, id, true)
}

func (t *pgTx) UpdatePool(ctx context.Context, marketID string, pool model.Pool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET yes_micros = $2, no_micros = $3, collateral_micros = $4
		 WHERE id = $1`,
		marketID, pool.YesMicros, pool.NoMicros, pool.CollateralMicros)
	if err != nil {
		return mapPgErr(err, "update pool "+marketID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update pool %s: %w", marketID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) AddBalance(ctx context.Context, accountID string, deltaMicros int64) (int64, error) {
	var newBalance int64
	err := t.tx.QueryRow(ctx,
		`UPDATE accounts SET balance_micros = balance_micros + $2
		 WHERE id = $1 RETURNING balance_micros`,
		accountID, deltaMicros).Scan(&newBalance)
	if err != nil {
		return 0, mapPgErr(err, "add balance "+accountID)
	}
	return newBalance, nil
}

func (t *pgTx) UpsertPositionAdd(ctx context.Context, holderID, marketID, side string, sharesMicros int64) (*model.Position, error) {
	yesAdd, noAdd := int64(0), int64(0)
	if side == model.SideYes {
		yesAdd = sharesMicros
	} else {
		noAdd = sharesMicros
	}

	var p model.Position
	err := t.tx.QueryRow(ctx,
		`INSERT INTO positions (id, holder_id, market_id, yes_shares_micros, no_shares_micros)
		 VALUES (gen_random_uuid()::TEXT, $1, $2, $3, $4)
		 ON CONFLICT (holder_id, market_id) DO UPDATE
		 SET yes_shares_micros = positions.yes_shares_micros + EXCLUDED.yes_shares_micros,
		     no_shares_micros  = positions.no_shares_micros  + EXCLUDED.no_shares_micros
		 RETURNING `+positionColumns,
		holderID, marketID, yesAdd, noAdd).
		Scan(&p.ID, &p.HolderID, &p.MarketID, &p.YesSharesMicros, &p.NoSharesMicros)
	if err != nil {
		return nil, mapPgErr(err, fmt.Sprintf("upsert position %s/%s", holderID, marketID))
	}
	return &p, nil
}

func (t *pgTx) PositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 ORDER BY id FOR UPDATE`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (t *pgTx) ZeroPositionShares(ctx context.Context, positionID string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE positions SET yes_shares_micros = 0, no_shares_micros = 0 WHERE id = $1`,
		positionID)
	if err != nil {
		return mapPgErr(err, "zero position "+positionID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("zero position %s: %w", positionID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, holder_id, market_id, side,
		    collateral_in_micros, fee_micros, shares_out_micros,
		    pool_yes_micros, pool_no_micros, pool_collateral_micros, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tr.ID, tr.HolderID, tr.MarketID, tr.Side,
		tr.CollateralInMicros, tr.FeeMicros, tr.SharesOutMicros,
		tr.PoolYesMicros, tr.PoolNoMicros, tr.PoolCollateralMicros, tr.CreatedAt)
	if err != nil {
		return mapPgErr(err, "insert trade "+tr.ID)
	}
	return nil
}

func (t *pgTx) AddTreasuryFees(ctx context.Context, feeMicros int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO treasury (id, fee_micros) VALUES ('house', $1)
		 ON CONFLICT (id) DO UPDATE SET fee_micros = treasury.fee_micros + EXCLUDED.fee_micros`,
		feeMicros)
	if err != nil {
		return mapPgErr(err, "add treasury fees")
	}
	return nil
}

func (t *pgTx) ResolveMarket(ctx context.Context, marketID, outcome string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markets SET status = $2, outcome = $3, resolved_at = $4 WHERE id = $1`,
		marketID, model.MarketResolved, outcome, at)
	if err != nil {
		return mapPgErr(err, "resolve market "+marketID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolve market %s: %w", marketID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *model.Payment) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO payments (id, request_id, holder_id, direction, status,
		    mon_amount_wei, coin_amount_micros, tx_hash, wallet_address,
		    created_at, confirmed_at, sent_at, failed_at, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, NULLIF($8, ''), $9,
		    $10, $11, $12, $13, NULLIF($14, ''))`,
		p.ID, p.RequestID, p.HolderID, p.Direction, p.Status,
		p.MonAmountWei, p.CoinAmountMicros, p.TxHash, p.WalletAddress,
		p.CreatedAt, p.ConfirmedAt, p.SentAt, p.FailedAt, p.ErrorMessage)
	if err != nil {
		return mapPgErr(err, "insert payment "+p.RequestID)
	}
	return nil
}

func (t *pgTx) PaymentForUpdate(ctx context.Context, requestID string) (*model.Payment, error) {
	return getPaymentByRequestID(ctx, t.tx, requestID, true)
}

func (t *pgTx) PaymentByTxHash(ctx context.Context, txHash string) (*model.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tx_hash = $1`, txHash))
	if err != nil {
		return nil, mapPgErr(err, "get payment by tx hash")
	}
	return p, nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE payments
		 SET status = $2, mon_amount_wei = $3::NUMERIC, coin_amount_micros = $4,
		     tx_hash = NULLIF($5, ''), wallet_address = $6,
		     confirmed_at = $7, sent_at = $8, failed_at = $9,
		     error_message = NULLIF($10, '')
		 WHERE request_id = $1`,
		p.RequestID, p.Status, p.MonAmountWei, p.CoinAmountMicros,
		p.TxHash, p.WalletAddress,
		p.ConfirmedAt, p.SentAt, p.FailedAt, p.ErrorMessage)
	if err != nil {
		return mapPgErr(err, "update payment "+p.RequestID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update payment %s: %w", p.RequestID, ErrNotFound)
	}
	return nil
}
