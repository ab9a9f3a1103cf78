package reception

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keycardLoan(dt DepositType, count int) LoanTransaction {
	return LoanTransaction{Item: ItemKeycard, Type: LoanIssued, DepositType: dt, Count: count}
}

func TestSaveLoan_DepositRule(t *testing.T) {
	tests := []struct {
		name    string
		loan    LoanTransaction
		failure Failure
		deposit string
	}{
		{name: "cash defaults to price x count", loan: keycardLoan(DepositCash, 2), deposit: "20"},
		{name: "cash with matching amount", loan: func() LoanTransaction {
			l := keycardLoan(DepositCash, 3)
			l.Deposit = money("30")
			return l
		}(), deposit: "30"},
		{name: "cash with wrong amount", loan: func() LoanTransaction {
			l := keycardLoan(DepositCash, 2)
			l.Deposit = money("15")
			return l
		}(), failure: FailInvalid},
		{name: "document is zero", loan: keycardLoan(DepositDocument, 1), deposit: "0"},
		{name: "document with an amount", loan: func() LoanTransaction {
			l := keycardLoan(DepositDocument, 1)
			l.Deposit = money("10")
			return l
		}(), failure: FailInvalid},
		{name: "unpriced item keeps amount", loan: LoanTransaction{
			Item: "Umbrella", Type: LoanIssued, DepositType: DepositCash, Count: 1, Deposit: money("5"),
		}, deposit: "5"},
		{name: "zero count", loan: keycardLoan(DepositCash, 0), failure: FailInvalid},
		{name: "unknown deposit type", loan: keycardLoan("IOU", 1), failure: FailInvalid},
		{name: "unknown loan type", loan: LoanTransaction{Item: ItemKeycard, Type: "Gift", DepositType: DepositCash, Count: 1}, failure: FailInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			res, err := f.svc.SaveLoan(ctx, desk, "B1", "occ1", "l1", tt.loan)
			require.NoError(t, err)
			assert.Equal(t, tt.failure, res.Failure, res.Message)
			if tt.failure != "" {
				assert.Zero(t, f.store.WriteCount())
				return
			}
			loans, err := f.svc.Loans(ctx, "B1", "occ1")
			require.NoError(t, err)
			require.Len(t, loans, 1)
			assertMoney(t, tt.deposit, loans[0].Deposit, "deposit")
			assert.NotEmpty(t, loans[0].CreatedAt)
		})
	}
}

func TestLoans_OldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"lb", "la", "lc"} {
		_, err := f.svc.SaveLoan(ctx, desk, "B1", "occ1", id, keycardLoan(DepositDocument, 1))
		require.NoError(t, err)
	}

	loans, err := f.svc.Loans(ctx, "B1", "occ1")

	require.NoError(t, err)
	var ids []string
	for _, l := range loans {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"lb", "la", "lc"}, ids)
}

func TestRemoveLoanItem_CashKeycardRefundsDeposit(t *testing.T) {
	// GIVEN: One cash keycard loan of two cards
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SaveLoan(ctx, desk, "B1", "occ1", "l1", keycardLoan(DepositCash, 2))
	require.NoError(t, err)

	// WHEN: The keycards come back
	res, err := f.svc.RemoveLoanItem(ctx, desk, "B1", "occ1", ItemKeycard)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)

	// THEN: The occupant's loan node is gone entirely
	var node map[string]any
	found, err := f.store.Get(ctx, "loans/B1/occ1", &node)
	require.NoError(t, err)
	assert.False(t, found)

	// AND: The return is logged and the deposit refund mirrored
	assert.Equal(t, []ActivityCode{CodeKeycardReturned}, f.codes(t, "occ1"))
	mirror := f.mirrored(t)
	require.Len(t, mirror, 1)
	for _, tx := range mirror {
		assert.Equal(t, TxLoanRefund, tx.Type)
		assert.True(t, tx.IsKeycard)
		assertMoney(t, "20", tx.Amount, "refund")
	}
}

func TestRemoveLoanItem_DocumentKeycardOnlyRemovesLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SaveLoan(ctx, desk, "B1", "occ1", "l1", keycardLoan(DepositDocument, 1))
	require.NoError(t, err)
	_, err = f.svc.SaveLoan(ctx, desk, "B1", "occ1", "l2", keycardLoan(DepositDocument, 1))
	require.NoError(t, err)

	res, err := f.svc.RemoveLoanItem(ctx, desk, "B1", "occ1", ItemKeycard)
	require.NoError(t, err)
	assert.Equal(t, "l2", res.ID)

	loans, err := f.svc.Loans(ctx, "B1", "occ1")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "l1", loans[0].ID)
	assert.Empty(t, f.codes(t, "occ1"))
	assert.Empty(t, f.mirrored(t))
}

func TestRemoveLoanItem_NoMatch(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.RemoveLoanItem(context.Background(), desk, "B1", "occ1", ItemKeycard)

	require.NoError(t, err)
	assert.Equal(t, FailNoMatch, res.Failure)
}

func TestRemoveLoanTransactionsForItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SaveLoan(ctx, desk, "B1", "occ1", "l1", keycardLoan(DepositDocument, 1))
	require.NoError(t, err)
	_, err = f.svc.SaveLoan(ctx, desk, "B1", "occ1", "l2", keycardLoan(DepositDocument, 1))
	require.NoError(t, err)
	_, err = f.svc.SaveLoan(ctx, desk, "B1", "occ1", "u1", LoanTransaction{
		Item: "Umbrella", Type: LoanIssued, DepositType: DepositDocument, Count: 1,
	})
	require.NoError(t, err)

	res, err := f.svc.RemoveLoanTransactionsForItem(ctx, desk, "B1", "occ1", ItemKeycard)
	require.NoError(t, err)
	require.True(t, res.OK())

	loans, err := f.svc.Loans(ctx, "B1", "occ1")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "u1", loans[0].ID)

	// Removing the last item drops the occupant node.
	_, err = f.svc.RemoveLoanTransactionsForItem(ctx, desk, "B1", "occ1", "Umbrella")
	require.NoError(t, err)
	var node map[string]any
	found, err := f.store.Get(ctx, "loans/B1/occ1", &node)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateLoanDepositType_ReappliesDepositRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SaveLoan(ctx, desk, "B1", "occ1", "l1", keycardLoan(DepositDocument, 2))
	require.NoError(t, err)

	res, err := f.svc.UpdateLoanDepositType(ctx, desk, "B1", "occ1", "l1", DepositCash)
	require.NoError(t, err)
	require.True(t, res.OK())

	loans, err := f.svc.Loans(ctx, "B1", "occ1")
	require.NoError(t, err)
	assert.Equal(t, DepositCash, loans[0].DepositType)
	assertMoney(t, "20", loans[0].Deposit, "deposit")

	res, err = f.svc.UpdateLoanDepositType(ctx, desk, "B1", "occ1", "missing", DepositCash)
	require.NoError(t, err)
	assert.Equal(t, FailNotFound, res.Failure)
}

func TestConvertKeycardDocToCash(t *testing.T) {
	// GIVEN: A keycard held against a passport
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SaveLoan(ctx, desk, "B1", "occ1", "l1", keycardLoan(DepositDocument, 1))
	require.NoError(t, err)

	// WHEN: The guest pays cash instead
	res, err := f.svc.ConvertKeycardDocToCash(ctx, desk, "B1", "occ1", "l1")
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)

	// THEN: The loan is cash-backed, the cash is mirrored and the change logged
	loans, err := f.svc.Loans(ctx, "B1", "occ1")
	require.NoError(t, err)
	assert.Equal(t, DepositCash, loans[0].DepositType)
	assertMoney(t, "10", loans[0].Deposit, "deposit")

	mirror := f.mirrored(t)
	require.Len(t, mirror, 1)
	for _, tx := range mirror {
		assert.Equal(t, TxDeposit, tx.Type)
		assertMoney(t, "10", tx.Amount, "received")
	}
	assert.Equal(t, []ActivityCode{CodeDepositConverted}, f.codes(t, "occ1"))

	// A cash loan cannot be converted again.
	res, err = f.svc.ConvertKeycardDocToCash(ctx, desk, "B1", "occ1", "l1")
	require.NoError(t, err)
	assert.Equal(t, FailInvalid, res.Failure)
}
