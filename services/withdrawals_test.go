package services

import (
	"context"
	"testing"

	"rewards-ledger/models"

	"github.com/stretchr/testify/require"
)

func TestWithdrawalReservesFundsImmediately(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")
	l.fund(t, "member", 15000)

	req, err := l.withdrawals.Request(ctx, "member", 10000, "0780000000")
	require.NoError(t, err)
	require.Equal(t, models.WithdrawalStatusPending, req.Status)
	require.Nil(t, req.ProcessedAt)
	require.Equal(t, int64(5000), l.balance(t, "member"))
}

func TestWithdrawalRespectsResidualBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")
	l.fund(t, "member", 12000)

	_, err := l.withdrawals.Request(ctx, "member", 10000, "0780000000")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.EqualError(t, err, "insufficient funds: at least 3,000 RWF must remain after a withdrawal")
	require.Equal(t, int64(12000), l.balance(t, "member"))
	require.Zero(t, l.count(t, &models.WithdrawalRequest{}, "account_id = ?", "member"))
}

func TestWithdrawalValidation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")
	l.fund(t, "member", 50000)

	_, err := l.withdrawals.Request(ctx, "member", 9999, "0780000000")
	require.ErrorIs(t, err, ErrValidation)
	require.EqualError(t, err, "minimum withdrawal is 10,000 RWF")

	_, err = l.withdrawals.Request(ctx, "member", 10000, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = l.withdrawals.Request(ctx, "ghost", 10000, "0780000000")
	require.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, int64(50000), l.balance(t, "member"))
}

func TestRejectedWithdrawalIsRefunded(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")
	l.fund(t, "member", 15000)
	req, err := l.withdrawals.Request(ctx, "member", 10000, "0780000000")
	require.NoError(t, err)

	resolved, err := l.withdrawals.Resolve(ctx, admin, req.ID, models.WithdrawalStatusRejected)
	require.NoError(t, err)
	require.Equal(t, models.WithdrawalStatusRejected, resolved.Status)
	require.NotNil(t, resolved.ProcessedAt)
	require.Equal(t, admin.AccountID, resolved.ProcessedBy)
	require.Equal(t, int64(15000), l.balance(t, "member"))

	for _, outcome := range []models.WithdrawalStatus{models.WithdrawalStatusRejected, models.WithdrawalStatusCompleted} {
		_, err = l.withdrawals.Resolve(ctx, admin, req.ID, outcome)
		require.ErrorIs(t, err, ErrAlreadyProcessed)
	}
	require.Equal(t, int64(15000), l.balance(t, "member"))

	acct, err := l.accounts.Get(ctx, "member")
	require.NoError(t, err)
	require.Zero(t, acct.TotalEarned, "refunds are not earnings")
}

func TestCompletedWithdrawalKeepsReservation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")
	l.fund(t, "member", 15000)
	req, err := l.withdrawals.Request(ctx, "member", 10000, "0780000000")
	require.NoError(t, err)

	_, err = l.withdrawals.Resolve(ctx, admin, req.ID, models.WithdrawalStatusCompleted)
	require.NoError(t, err)
	require.Equal(t, int64(5000), l.balance(t, "member"))

	_, err = l.withdrawals.Resolve(ctx, admin, req.ID, models.WithdrawalStatusRejected)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Equal(t, int64(5000), l.balance(t, "member"))
}

func TestResolveGuards(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")
	l.fund(t, "member", 15000)
	req, err := l.withdrawals.Request(ctx, "member", 10000, "0780000000")
	require.NoError(t, err)

	_, err = l.withdrawals.Resolve(ctx, Caller{AccountID: "member"}, req.ID, models.WithdrawalStatusRejected)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = l.withdrawals.Resolve(ctx, admin, req.ID, models.WithdrawalStatusPending)
	require.ErrorIs(t, err, ErrValidation)

	_, err = l.withdrawals.Resolve(ctx, admin, "missing", models.WithdrawalStatusCompleted)
	require.ErrorIs(t, err, ErrNotFound)

	require.Equal(t, int64(5000), l.balance(t, "member"))
}

func TestListWithdrawals(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		l.newAccount(t, id, "")
		l.fund(t, id, 20000)
		_, err := l.withdrawals.Request(ctx, id, 10000, "0780000000")
		require.NoError(t, err)
	}

	own, err := l.withdrawals.ListWithdrawals(ctx, Caller{AccountID: "a"}, "")
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.Equal(t, "a", own[0].AccountID)

	all, err := l.withdrawals.ListWithdrawals(ctx, admin, models.WithdrawalStatusPending)
	require.NoError(t, err)
	require.Len(t, all, 2)

	none, err := l.withdrawals.ListWithdrawals(ctx, admin, models.WithdrawalStatusCompleted)
	require.NoError(t, err)
	require.Empty(t, none)
}
