package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moncoin/exchange/internal/model"
	"github.com/moncoin/exchange/internal/store"
)

const (
	testWallet = "0x1111111111111111111111111111111111111111"
	testHashA  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testHashB  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	oneMonWei = "1000000000000000000"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewService(st, nil), st
}

func seedHolder(t *testing.T, st *store.MemoryStore, id string, balanceMicros int64) {
	t.Helper()
	err := st.CreateAccount(context.Background(), &model.Account{
		ID:            id,
		Kind:          model.AccountHuman,
		BalanceMicros: balanceMicros,
		CreatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, st *store.MemoryStore, id string) int64 {
	t.Helper()
	a, err := st.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.BalanceMicros
}

func TestDepositFlow(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 0)
	ctx := context.Background()

	intent, err := svc.CreateDepositIntent(ctx, "alice", testWallet)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, intent.Status)
	assert.Equal(t, model.DirectionDeposit, intent.Direction)
	assert.Zero(t, intent.CoinAmountMicros)
	assert.Equal(t, int64(0), balanceOf(t, st, "alice"), "intent alone must not credit")

	confirmed, err := svc.ConfirmDeposit(ctx, intent.RequestID, testHashA, testWallet, oneMonWei)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentConfirmed, confirmed.Status)
	assert.Equal(t, int64(100_000_000), confirmed.CoinAmountMicros)
	assert.Equal(t, testHashA, confirmed.TxHash)
	assert.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, int64(100_000_000), balanceOf(t, st, "alice"))
}

func TestConfirmDepositIdempotentReplay(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 0)
	ctx := context.Background()

	intent, err := svc.CreateDepositIntent(ctx, "alice", testWallet)
	require.NoError(t, err)
	_, err = svc.ConfirmDeposit(ctx, intent.RequestID, testHashA, testWallet, oneMonWei)
	require.NoError(t, err)

	// Same requestID + txHash again: success, but the balance moves once.
	replay, err := svc.ConfirmDeposit(ctx, intent.RequestID, testHashA, testWallet, oneMonWei)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentConfirmed, replay.Status)
	assert.Equal(t, int64(100_000_000), replay.CoinAmountMicros)
	assert.Equal(t, int64(100_000_000), balanceOf(t, st, "alice"))
}

func TestConfirmDepositDuplicateTxHash(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 0)
	ctx := context.Background()

	first, err := svc.CreateDepositIntent(ctx, "alice", testWallet)
	require.NoError(t, err)
	_, err = svc.ConfirmDeposit(ctx, first.RequestID, testHashA, testWallet, oneMonWei)
	require.NoError(t, err)

	// A second intent may never be settled by the same chain transaction.
	second, err := svc.CreateDepositIntent(ctx, "alice", testWallet)
	require.NoError(t, err)
	_, err = svc.ConfirmDeposit(ctx, second.RequestID, testHashA, testWallet, oneMonWei)
	assert.ErrorIs(t, err, ErrDuplicateTxHash)
	assert.Equal(t, int64(100_000_000), balanceOf(t, st, "alice"), "no second credit")

	stored, err := svc.GetPayment(ctx, second.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, stored.Status, "rejected confirm leaves the intent pending")
}

func TestConfirmDepositRejections(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 0)
	ctx := context.Background()

	_, err := svc.ConfirmDeposit(ctx, "missing", testHashA, testWallet, oneMonWei)
	assert.ErrorIs(t, err, ErrIntentNotFound)

	intent, err := svc.CreateDepositIntent(ctx, "alice", testWallet)
	require.NoError(t, err)

	_, err = svc.ConfirmDeposit(ctx, intent.RequestID, "nothash", testWallet, oneMonWei)
	require.Error(t, err)

	_, err = svc.ConfirmDeposit(ctx, intent.RequestID, testHashA, testWallet, "notwei")
	assert.ErrorIs(t, err, ErrInvalidWeiAmount)

	// A failed intent stays failed.
	_, err = svc.FailPayment(ctx, intent.RequestID, "rpc timeout")
	require.NoError(t, err)
	_, err = svc.ConfirmDeposit(ctx, intent.RequestID, testHashA, testWallet, oneMonWei)
	assert.ErrorIs(t, err, ErrIntentFailed)
	assert.Equal(t, int64(0), balanceOf(t, st, "alice"))
}

func TestWithdrawFlow(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 100_000_000)
	ctx := context.Background()

	// The debit lands at request time.
	req, err := svc.CreateWithdrawRequest(ctx, "alice", testWallet, 30_000_000)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, req.Status)
	assert.Equal(t, model.DirectionWithdraw, req.Direction)
	assert.Equal(t, int64(30_000_000), req.CoinAmountMicros)
	assert.Equal(t, "300000000000000000", req.MonAmountWei) // 30 Coin = 0.3 MON
	assert.Equal(t, int64(70_000_000), balanceOf(t, st, "alice"))

	sent, err := svc.ConfirmWithdraw(ctx, req.RequestID, testHashB)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSent, sent.Status)
	assert.Equal(t, testHashB, sent.TxHash)
	assert.NotNil(t, sent.SentAt)
	assert.Equal(t, int64(70_000_000), balanceOf(t, st, "alice"), "confirm moves no funds")

	// Replay returns the stored record unchanged.
	replay, err := svc.ConfirmWithdraw(ctx, req.RequestID, testHashB)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSent, replay.Status)
	assert.Equal(t, int64(70_000_000), balanceOf(t, st, "alice"))
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 10_000_000)
	ctx := context.Background()

	_, err := svc.CreateWithdrawRequest(ctx, "alice", testWallet, 20_000_000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(10_000_000), balanceOf(t, st, "alice"), "rejected request changes nothing")

	history, err := svc.GetPaymentHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, history, "no payment row for a rejected request")

	_, err = svc.CreateWithdrawRequest(ctx, "alice", testWallet, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.CreateWithdrawRequest(ctx, "alice", testWallet, -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFailPaymentRefundsWithdraw(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 100_000_000)
	ctx := context.Background()

	req, err := svc.CreateWithdrawRequest(ctx, "alice", testWallet, 40_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(60_000_000), balanceOf(t, st, "alice"))

	failed, err := svc.FailPayment(ctx, req.RequestID, "transfer reverted")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, failed.Status)
	assert.Equal(t, "transfer reverted", failed.ErrorMessage)
	assert.NotNil(t, failed.FailedAt)
	assert.Equal(t, int64(100_000_000), balanceOf(t, st, "alice"), "reserved funds return on failure")

	// Failing twice refunds once.
	_, err = svc.FailPayment(ctx, req.RequestID, "transfer reverted")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), balanceOf(t, st, "alice"))

	// A failed withdraw can never be sent afterwards.
	_, err = svc.ConfirmWithdraw(ctx, req.RequestID, testHashB)
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestFailPaymentRejectsFinalStates(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 0)
	ctx := context.Background()

	intent, err := svc.CreateDepositIntent(ctx, "alice", testWallet)
	require.NoError(t, err)
	_, err = svc.ConfirmDeposit(ctx, intent.RequestID, testHashA, testWallet, oneMonWei)
	require.NoError(t, err)

	_, err = svc.FailPayment(ctx, intent.RequestID, "too late")
	assert.ErrorIs(t, err, ErrPaymentFinal)
	assert.Equal(t, int64(100_000_000), balanceOf(t, st, "alice"))
}

func TestPaymentHistory(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 100_000_000)
	seedHolder(t, st, "bob", 100_000_000)
	ctx := context.Background()

	_, err := svc.CreateDepositIntent(ctx, "alice", testWallet)
	require.NoError(t, err)
	_, err = svc.CreateWithdrawRequest(ctx, "alice", testWallet, 10_000_000)
	require.NoError(t, err)
	_, err = svc.CreateWithdrawRequest(ctx, "bob", testWallet, 10_000_000)
	require.NoError(t, err)

	history, err := svc.GetPaymentHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	for _, p := range history {
		assert.Equal(t, "alice", p.HolderID)
	}

	_, err = svc.GetPaymentHistory(ctx, "nobody")
	assert.ErrorIs(t, err, ErrHolderNotFound)
}

func TestWithdrawConfirmDuplicateTxHash(t *testing.T) {
	svc, st := newTestService(t)
	seedHolder(t, st, "alice", 100_000_000)
	ctx := context.Background()

	first, err := svc.CreateWithdrawRequest(ctx, "alice", testWallet, 10_000_000)
	require.NoError(t, err)
	second, err := svc.CreateWithdrawRequest(ctx, "alice", testWallet, 10_000_000)
	require.NoError(t, err)

	_, err = svc.ConfirmWithdraw(ctx, first.RequestID, testHashA)
	require.NoError(t, err)

	_, err = svc.ConfirmWithdraw(ctx, second.RequestID, testHashA)
	assert.ErrorIs(t, err, ErrDuplicateTxHash)

	stored, err := svc.GetPayment(ctx, second.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, stored.Status)
}
