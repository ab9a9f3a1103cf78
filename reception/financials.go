/*
financials.go - Room Ledger Aggregator

PURPOSE:
  Maintains financialsRoom/{bookingRef}: the running financial aggregate of
  a booking, as a pure fold over its transaction map.

FOLD RULES:
  charge     -> totalDue    += amount
  payment    -> totalPaid   += amount
  refund     -> totalPaid   -= |amount|
  adjust     -> totalAdjust += amount
  correction -> minus the contribution the corrected type would have had
                for the reversed amount (cancels the original exactly)
  voided     -> contributes nothing
  other      -> ignored (loans, deposits, city tax live elsewhere)

  balance = totalDue - totalPaid - totalAdjust

SELF-HEALING:
  Totals are NEVER incremented. Every save merges the transaction map and
  refolds all of it, so a retried or replayed save converges and a
  ledger corrupted by an old client is repaired on the next write.

ATOMICITY:
  Read-merge-write with no concurrency check. Two terminals saving the same
  booking at once can each merge against stale data and the later write
  wins. Accepted risk, see DESIGN.md.
*/
package reception

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Totals is the derived part of a RoomLedger.
type Totals struct {
	Due     decimal.Decimal
	Paid    decimal.Decimal
	Adjust  decimal.Decimal
	Balance decimal.Decimal
}

// Fold computes totals from a transaction map. Order-independent.
func Fold(txns map[string]RoomTransaction) Totals {
	var t Totals
	for _, tx := range txns {
		due, paid, adjust := contribution(tx)
		t.Due = t.Due.Add(due)
		t.Paid = t.Paid.Add(paid)
		t.Adjust = t.Adjust.Add(adjust)
	}
	t.Balance = t.Due.Sub(t.Paid).Sub(t.Adjust)
	return t
}

func contribution(tx RoomTransaction) (due, paid, adjust decimal.Decimal) {
	if tx.Voided {
		return
	}
	switch tx.Type {
	case TxCharge:
		due = tx.Amount
	case TxPayment:
		paid = tx.Amount
	case TxRefund:
		paid = tx.Amount.Abs().Neg()
	case TxAdjust:
		adjust = tx.Amount
	case TxCorrection:
		if tx.CorrectedType == "" || tx.CorrectedType == TxCorrection {
			return
		}
		d, p, a := contribution(RoomTransaction{Type: tx.CorrectedType, Amount: tx.Amount.Neg()})
		due, paid, adjust = d.Neg(), p.Neg(), a.Neg()
	}
	return
}

// apply overwrites the derived fields from the fold.
func (l *RoomLedger) apply(t Totals) {
	l.TotalDue = t.Due
	l.TotalPaid = t.Paid
	l.TotalAdjust = t.Adjust
	l.Balance = t.Balance
}

// GetFinancialsRoom returns the booking aggregate, zero-valued when absent.
func (s *Service) GetFinancialsRoom(ctx context.Context, bookingRef string) (RoomLedger, error) {
	var rl RoomLedger
	if _, err := s.store.Get(ctx, financialsRoomPath(bookingRef), &rl); err != nil {
		return RoomLedger{}, fmt.Errorf("read room ledger %s: %w", bookingRef, err)
	}
	if rl.Transactions == nil {
		rl.Transactions = make(map[string]RoomTransaction)
	}
	return rl, nil
}

// SaveFinancialsRoom merges patch into the booking ledger and refolds.
// Entries already present are replaced by the patch version.
func (s *Service) SaveFinancialsRoom(ctx context.Context, actor Actor, bookingRef string, patch RoomLedgerPatch) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if bookingRef == "" {
		return fail(FailInvalid, "booking reference is required"), nil
	}

	rl, err := s.GetFinancialsRoom(ctx, bookingRef)
	if err != nil {
		return Result{}, err
	}
	for id, tx := range patch.Transactions {
		rl.Transactions[id] = tx
	}
	rl.apply(Fold(rl.Transactions))

	if err := s.store.Set(ctx, financialsRoomPath(bookingRef), rl); err != nil {
		return Result{}, fmt.Errorf("write room ledger %s: %w", bookingRef, err)
	}

	s.log.Debug("room ledger saved",
		zap.String("booking_ref", bookingRef),
		zap.Int("merged", len(patch.Transactions)),
		zap.String("balance", rl.Balance.String()),
	)
	return ok(bookingRef), nil
}
