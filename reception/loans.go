/*
loans.go - Loan/Deposit Ledger

PURPOSE:
  Tracks items lent to guests (keycards, ...) under
  loans/{bookingRef}/{occupantId}/txns/{txnId}, with the deposit taken.

DEPOSIT INVARIANT:
  CASH               deposit = unit price x count
  DOCUMENT / NO_CARD deposit = 0, until converted to cash

CASCADE:
  Deleting the last txn of an occupant removes loans/{ref}/{occupant}
  instead of leaving an empty node.

ONLINE-ONLY:
  Every operation here except SaveLoan reads current state before writing,
  so none of them are offered by the offline queue.
*/
package reception

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
)

// unitPrice returns the cash deposit for one unit of item, when priced.
func (s *Service) unitPrice(item string) (decimal.Decimal, bool) {
	if item == ItemKeycard {
		return s.keycardPrice, true
	}
	return decimal.Zero, false
}

// expectedDeposit applies the deposit invariant. ok is false when the item
// has no configured price and the caller's amount has to be trusted.
func (s *Service) expectedDeposit(item string, dt DepositType, count int) (decimal.Decimal, bool) {
	if dt != DepositCash {
		return decimal.Zero, true
	}
	price, priced := s.unitPrice(item)
	if !priced {
		return decimal.Zero, false
	}
	return price.Mul(decimal.NewFromInt(int64(count))), true
}

// SaveLoan writes one loan transaction. Last write wins.
func (s *Service) SaveLoan(ctx context.Context, actor Actor, bookingRef, occupantID, txnID string, loan LoanTransaction) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if bookingRef == "" || occupantID == "" || txnID == "" {
		return fail(FailInvalid, "booking reference, occupant id and transaction id are required"), nil
	}
	if loan.Item == "" {
		return fail(FailInvalid, "loan item is required"), nil
	}
	if loan.Type != LoanIssued && loan.Type != LoanReturned {
		return fail(FailInvalid, "unknown loan type %q", loan.Type), nil
	}
	if !loan.DepositType.Valid() {
		return fail(FailInvalid, "unknown deposit type %q", loan.DepositType), nil
	}
	if loan.Count <= 0 {
		return fail(FailInvalid, "count must be positive"), nil
	}

	if expected, enforced := s.expectedDeposit(loan.Item, loan.DepositType, loan.Count); enforced {
		if loan.DepositType == DepositCash && loan.Deposit.IsZero() {
			loan.Deposit = expected
		}
		if !loan.Deposit.Equal(expected) {
			return fail(FailInvalid, "%s deposit for %d x %s must be %s, got %s",
				loan.DepositType, loan.Count, loan.Item, expected, loan.Deposit), nil
		}
	}
	if loan.CreatedAt == "" {
		loan.CreatedAt = s.timestamp()
	}

	if err := s.store.Set(ctx, loanTxnPath(bookingRef, occupantID, txnID), loan); err != nil {
		return Result{}, fmt.Errorf("write loan %s: %w", txnID, err)
	}
	s.log.Info("loan saved",
		zap.String("booking_ref", bookingRef),
		zap.String("occupant_id", occupantID),
		zap.String("txn_id", txnID),
		zap.String("item", loan.Item),
		zap.String("deposit", loan.Deposit.String()),
	)
	return ok(txnID), nil
}

// LoanEntry is a loan transaction with its id.
type LoanEntry struct {
	ID string
	LoanTransaction
}

// Loans returns the occupant's loan transactions, oldest first.
func (s *Service) Loans(ctx context.Context, bookingRef, occupantID string) ([]LoanEntry, error) {
	var raw map[string]LoanTransaction
	if _, err := s.store.Get(ctx, loanTxnsPath(bookingRef, occupantID), &raw); err != nil {
		return nil, fmt.Errorf("read loans %s/%s: %w", bookingRef, occupantID, err)
	}
	entries := make([]LoanEntry, 0, len(raw))
	for id, l := range raw {
		entries = append(entries, LoanEntry{ID: id, LoanTransaction: l})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt == entries[j].CreatedAt {
			return entries[i].ID < entries[j].ID
		}
		ti, okI := ParseTimestamp(entries[i].CreatedAt)
		tj, okJ := ParseTimestamp(entries[j].CreatedAt)
		if okI && okJ {
			return ti.Before(tj)
		}
		return entries[i].CreatedAt < entries[j].CreatedAt
	})
	return entries, nil
}

// removeLoanTxns deletes ids, dropping the occupant node when nothing is left.
func (s *Service) removeLoanTxns(ctx context.Context, bookingRef, occupantID string, ids []string, remaining int) error {
	if remaining == 0 {
		return s.store.Remove(ctx, loanOccupantPath(bookingRef, occupantID))
	}
	writes := ledger.Writes{}
	for _, id := range ids {
		writes.Delete(loanTxnPath(bookingRef, occupantID, id))
	}
	return s.store.Update(ctx, writes)
}

// RemoveLoanItem deletes the most recent transaction for item. Returning a
// keycard that carried a deposit also logs the return and mirrors the
// deposit refund.
func (s *Service) RemoveLoanItem(ctx context.Context, actor Actor, bookingRef, occupantID, item string) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	entries, err := s.Loans(ctx, bookingRef, occupantID)
	if err != nil {
		return Result{}, err
	}
	var target *LoanEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Item == item {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return fail(FailNoMatch, "no %s loan for occupant %s", item, occupantID), nil
	}

	st := steps{op: "remove loan item " + item}
	if err := s.removeLoanTxns(ctx, bookingRef, occupantID, []string{target.ID}, len(entries)-1); err != nil {
		return Result{}, st.fail("loan", err)
	}
	st.commit("loan")

	if item == ItemKeycard && !target.Deposit.IsZero() {
		if res, err := s.AddActivity(ctx, actor, occupantID, CodeKeycardReturned); err != nil {
			return Result{}, st.fail("return activity", err)
		} else if !res.OK() {
			return res.Result, nil
		}
		st.commit("return activity")

		refund := Transaction{
			BookingRef:  bookingRef,
			OccupantID:  occupantID,
			Amount:      target.Deposit,
			Type:        TxLoanRefund,
			Method:      string(target.DepositType),
			Category:    "keycard",
			Count:       target.Count,
			Description: "Keycard deposit refund",
			IsKeycard:   true,
		}
		if _, err := s.AddToAllTransactions(ctx, actor, s.newID("txn"), refund); err != nil {
			return Result{}, st.fail("deposit refund", err)
		}
		st.commit("deposit refund")
	}
	return ok(target.ID), nil
}

// RemoveLoanTransactionsForItem deletes every transaction for item.
func (s *Service) RemoveLoanTransactionsForItem(ctx context.Context, actor Actor, bookingRef, occupantID, item string) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	entries, err := s.Loans(ctx, bookingRef, occupantID)
	if err != nil {
		return Result{}, err
	}
	var ids []string
	for _, e := range entries {
		if e.Item == item {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return fail(FailNoMatch, "no %s loans for occupant %s", item, occupantID), nil
	}
	if err := s.removeLoanTxns(ctx, bookingRef, occupantID, ids, len(entries)-len(ids)); err != nil {
		return Result{}, fmt.Errorf("remove %s loans: %w", item, err)
	}
	return Result{ID: occupantID, Message: fmt.Sprintf("removed %d transaction(s)", len(ids))}, nil
}

func (s *Service) getLoan(ctx context.Context, bookingRef, occupantID, txnID string) (LoanTransaction, bool, error) {
	var loan LoanTransaction
	found, err := s.store.Get(ctx, loanTxnPath(bookingRef, occupantID, txnID), &loan)
	if err != nil {
		return LoanTransaction{}, false, fmt.Errorf("read loan %s: %w", txnID, err)
	}
	return loan, found, nil
}

// UpdateLoanDepositType changes how the deposit was taken and reapplies the
// deposit invariant in the same atomic write.
func (s *Service) UpdateLoanDepositType(ctx context.Context, actor Actor, bookingRef, occupantID, txnID string, depositType DepositType) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if !depositType.Valid() {
		return fail(FailInvalid, "unknown deposit type %q", depositType), nil
	}
	loan, found, err := s.getLoan(ctx, bookingRef, occupantID, txnID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return fail(FailNotFound, "loan %s not found", txnID), nil
	}
	if loan.DepositType == depositType {
		return ok(txnID), nil
	}

	deposit, enforced := s.expectedDeposit(loan.Item, depositType, loan.Count)
	if !enforced {
		deposit = loan.Deposit
	}
	base := loanTxnPath(bookingRef, occupantID, txnID)
	writes := ledger.Writes{}.
		Put(base+"/depositType", depositType).
		Put(base+"/deposit", deposit)
	if err := s.store.Update(ctx, writes); err != nil {
		return Result{}, fmt.Errorf("update deposit type of %s: %w", txnID, err)
	}
	return ok(txnID), nil
}

// ConvertKeycardDocToCash turns a document-backed keycard loan into a cash
// deposit: the loan is updated, the cash received is mirrored and the
// conversion logged.
func (s *Service) ConvertKeycardDocToCash(ctx context.Context, actor Actor, bookingRef, occupantID, txnID string) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	loan, found, err := s.getLoan(ctx, bookingRef, occupantID, txnID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return fail(FailNotFound, "loan %s not found", txnID), nil
	}
	if loan.Item != ItemKeycard || loan.DepositType != DepositDocument {
		return fail(FailInvalid, "only document-backed keycard loans can be converted"), nil
	}
	deposit, _ := s.expectedDeposit(ItemKeycard, DepositCash, loan.Count)

	st := steps{op: "convert keycard deposit " + txnID}
	base := loanTxnPath(bookingRef, occupantID, txnID)
	writes := ledger.Writes{}.
		Put(base+"/depositType", DepositCash).
		Put(base+"/deposit", deposit)
	if err := s.store.Update(ctx, writes); err != nil {
		return Result{}, st.fail("loan", err)
	}
	st.commit("loan")

	received := Transaction{
		BookingRef:  bookingRef,
		OccupantID:  occupantID,
		Amount:      deposit,
		Type:        TxDeposit,
		Method:      string(DepositCash),
		Category:    "keycard",
		Count:       loan.Count,
		Description: "Keycard deposit converted from document to cash",
		IsKeycard:   true,
	}
	if _, err := s.AddToAllTransactions(ctx, actor, s.newID("txn"), received); err != nil {
		return Result{}, st.fail("deposit mirror", err)
	}
	st.commit("deposit mirror")

	if _, err := s.AddActivity(ctx, actor, occupantID, CodeDepositConverted); err != nil {
		return Result{}, st.fail("activity", err)
	}
	return ok(txnID), nil
}
