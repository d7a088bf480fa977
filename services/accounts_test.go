package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"rewards-ledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccountGeneratesReferralCode(t *testing.T) {
	l := newTestLedger(t)

	a := l.newAccount(t, "member-a", "")
	b := l.newAccount(t, "member-b", "")

	require.Len(t, a.ReferralCode, referralCodeLength)
	require.NotEqual(t, a.ReferralCode, b.ReferralCode)
	require.Nil(t, a.ReferredBy)
	require.False(t, a.IsActive)
	require.Zero(t, a.Balance)
}

func TestCreateAccountResolvesReferrer(t *testing.T) {
	l := newTestLedger(t)
	referrer := l.newAccount(t, "referrer", "")

	// Codes typed by hand are normalized before lookup.
	typed := " " + referrer.ReferralCode[:4] + " " + referrer.ReferralCode[4:] + " "
	acct := l.newAccount(t, "referred", typed)

	require.NotNil(t, acct.ReferredBy)
	require.Equal(t, referrer.ID, *acct.ReferredBy)

	byCode, err := l.accounts.GetByReferralCode(context.Background(), referrer.ReferralCode)
	require.NoError(t, err)
	require.Equal(t, referrer.ID, byCode.ID)
}

func TestCreateAccountIgnoresUnknownReferrerCode(t *testing.T) {
	l := newTestLedger(t)

	acct := l.newAccount(t, "member", "NOPE0000")
	require.Nil(t, acct.ReferredBy)
}

func TestCreateAccountIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	referrer := l.newAccount(t, "referrer", "")

	first := l.newAccount(t, "member", "")
	second := l.newAccount(t, "member", referrer.ReferralCode)

	require.Equal(t, first.ReferralCode, second.ReferralCode)
	require.Nil(t, second.ReferredBy, "referredBy is never reassigned")
	require.Equal(t, int64(1), l.count(t, &models.Account{}, "id = ?", "member"))
}

func TestCreateAccountRequiresID(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.accounts.CreateAccount(context.Background(), "  ", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestGetUnknownAccount(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.accounts.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreditAndDebit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")

	entry, err := l.accounts.Credit(ctx, "member", 5000, models.EntryReasonTaskReward, "ref-1")
	require.NoError(t, err)
	require.Equal(t, int64(5000), entry.BalanceAfter)

	entry, err = l.accounts.Debit(ctx, "member", 1500, 3000, models.EntryReasonWithdrawal, "ref-2")
	require.NoError(t, err)
	require.Equal(t, int64(-1500), entry.Amount)
	require.Equal(t, int64(3500), entry.BalanceAfter)

	acct, err := l.accounts.Get(ctx, "member")
	require.NoError(t, err)
	require.Equal(t, int64(3500), acct.Balance)
	require.Equal(t, int64(5000), acct.TotalEarned, "debits never reduce total earned")

	entries, err := l.accounts.ListEntries(ctx, "member", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestDebitRejectsResidualViolation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")
	_, err := l.accounts.Credit(ctx, "member", 4000, models.EntryReasonDeposit, "dep")
	require.NoError(t, err)

	_, err = l.accounts.Debit(ctx, "member", 1500, 3000, models.EntryReasonWithdrawal, "w")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = l.accounts.Debit(ctx, "member", 5000, 0, models.EntryReasonWithdrawal, "w")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	require.Equal(t, int64(4000), l.balance(t, "member"))
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	l := newTestLedger(t)
	l.newAccount(t, "member", "")

	_, err := l.accounts.Credit(context.Background(), "member", 0, models.EntryReasonDeposit, "x")
	require.ErrorIs(t, err, ErrValidation)

	_, err = l.accounts.Credit(context.Background(), "ghost", 10, models.EntryReasonDeposit, "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentCreditsAndDebitsKeepBalanceConsistent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")
	_, err := l.accounts.Credit(ctx, "member", 1000, models.EntryReasonDeposit, "seed")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		debited  int
		rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.accounts.Credit(ctx, "member", 10, models.EntryReasonTaskReward, "c")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := l.accounts.Debit(ctx, "member", 100, 0, models.EntryReasonWithdrawal, "d")
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrInsufficientFunds) {
				rejected++
				return
			}
			assert.NoError(t, err)
			debited++
		}()
	}
	wg.Wait()

	require.Equal(t, 20, debited+rejected)
	want := int64(1000 + 20*10 - debited*100)
	require.Equal(t, want, l.balance(t, "member"))
	require.GreaterOrEqual(t, want, int64(0))
}

func TestActivateIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")

	flipped, err := l.accounts.Activate(ctx, "member")
	require.NoError(t, err)
	require.True(t, flipped)

	flipped, err = l.accounts.Activate(ctx, "member")
	require.NoError(t, err)
	require.False(t, flipped)

	_, err = l.accounts.Activate(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeReferralCode(t *testing.T) {
	cases := map[string]string{
		"ab12cd34":     "AB12CD34",
		" AB12 CD34 ":  "AB12CD34",
		"ÅB12ÇD34":     "AB12CD34",
		"":             "",
		"\tab 12\ncd ": "AB12CD",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeReferralCode(in), "input %q", in)
	}
}

func TestEntriesAfterPagesEntriesSharingATimestamp(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	l.newAccount(t, "member", "")

	cursor, err := l.accounts.LatestEntryCursor(ctx, "member")
	require.NoError(t, err)
	require.Equal(t, EntryCursor{}, cursor)

	// The test clock is frozen, so every entry shares one created_at.
	var ids []string
	for i := 1; i <= 4; i++ {
		e, err := l.accounts.Credit(ctx, "member", int64(i*100), models.EntryReasonDeposit, fmt.Sprintf("ref-%d", i))
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	first, err := l.accounts.EntriesAfter(ctx, "member", EntryCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, ids[:2], []string{first[0].ID, first[1].ID})

	rest, err := l.accounts.EntriesAfter(ctx, "member", CursorOf(first[1]), 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, ids[2:], []string{rest[0].ID, rest[1].ID})
	require.Equal(t, int64(1000), rest[1].BalanceAfter)

	latest, err := l.accounts.LatestEntryCursor(ctx, "member")
	require.NoError(t, err)
	require.Equal(t, ids[3], latest.ID)

	none, err := l.accounts.EntriesAfter(ctx, "member", latest, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}
