/*
workflows.go - Reception Desk Workflows

PURPOSE:
  The multi-projection flows a reception terminal runs most: taking a room
  payment, handing out keycards, collecting city tax. Built only from
  Deferrable operations, so the same flow runs online against the Service
  and offline against the queue.

ORDER:
  Mirror entries first, then the room ledger, then the activity. Every
  step after the first is reported through *PartialError on failure.
*/
package reception

import (
	"context"

	"github.com/shopspring/decimal"
)

// Workflows runs desk flows against a Deferrable backend.
type Workflows struct {
	backend Deferrable
	svc     *Service
}

// Workflows binds the service's clock, ids and prices to backend.
func (s *Service) Workflows(backend Deferrable) *Workflows {
	return &Workflows{backend: backend, svc: s}
}

// PaymentSplit is one tender of a room payment. Negative amounts refund.
type PaymentSplit struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

// RoomPayment is a payment against a booking's room balance.
type RoomPayment struct {
	BookingRef    string         `json:"bookingRef"`
	OccupantID    string         `json:"occupantId"`
	Splits        []PaymentSplit `json:"splits"`
	NonRefundable bool           `json:"nonRefundable,omitempty"`
	Description   string         `json:"description,omitempty"`
}

// PaymentResult names the transactions a payment created.
type PaymentResult struct {
	Result
	TransactionIDs []string `json:"transactionIds,omitempty"`
}

// RecordRoomPayment mirrors each non-zero split, books them on the room
// ledger under the same ids and logs activity 8.
func (w *Workflows) RecordRoomPayment(ctx context.Context, actor Actor, p RoomPayment) (PaymentResult, error) {
	if !actor.Authenticated() {
		return PaymentResult{Result: unauthenticated()}, nil
	}
	if p.BookingRef == "" || p.OccupantID == "" {
		return PaymentResult{Result: fail(FailInvalid, "booking reference and occupant id are required")}, nil
	}

	now := w.svc.timestamp()
	room := make(map[string]RoomTransaction)
	var ids []string
	st := steps{op: "room payment " + p.BookingRef}

	for _, split := range p.Splits {
		if split.Amount.IsZero() {
			continue
		}
		typ, amount := TxPayment, split.Amount
		if split.Amount.IsNegative() {
			typ, amount = TxRefund, split.Amount.Abs()
		}
		id := w.svc.newID("txn")
		tx := Transaction{
			BookingRef:    p.BookingRef,
			OccupantID:    p.OccupantID,
			Amount:        amount,
			Type:          typ,
			Method:        split.Method,
			Category:      "room",
			NonRefundable: p.NonRefundable,
			Description:   p.Description,
			Timestamp:     now,
		}
		res, err := w.backend.AddToAllTransactions(ctx, actor, id, tx)
		if err != nil {
			return PaymentResult{}, st.fail("mirror "+id, err)
		}
		if !res.OK() {
			return PaymentResult{Result: res}, nil
		}
		st.commit("mirror " + id)
		ids = append(ids, id)
		room[id] = roomCopy(tx)
	}
	if len(ids) == 0 {
		return PaymentResult{Result: fail(FailInvalid, "payment has no non-zero split")}, nil
	}

	if res, err := w.backend.SaveFinancialsRoom(ctx, actor, p.BookingRef, RoomLedgerPatch{Transactions: room}); err != nil {
		return PaymentResult{}, st.fail("room ledger", err)
	} else if !res.OK() {
		return PaymentResult{Result: res}, nil
	}
	st.commit("room ledger")

	if _, err := w.backend.AddActivity(ctx, actor, p.OccupantID, CodeRoomPaid); err != nil {
		return PaymentResult{}, st.fail("activity", err)
	}
	return PaymentResult{Result: ok(ids[0]), TransactionIDs: ids}, nil
}

// KeycardIssue hands count cards to an occupant.
type KeycardIssue struct {
	BookingRef  string      `json:"bookingRef"`
	OccupantID  string      `json:"occupantId"`
	DepositType DepositType `json:"depositType"`
	Count       int         `json:"count"`
	DocType     string      `json:"docType,omitempty"`
}

// IssueKeycard records the loan, mirrors the keycard deposit and logs
// activity 10. NO_CARD records a No_card loan and nothing is mirrored.
func (w *Workflows) IssueKeycard(ctx context.Context, actor Actor, k KeycardIssue) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if !k.DepositType.Valid() {
		return fail(FailInvalid, "unknown deposit type %q", k.DepositType), nil
	}
	if k.Count <= 0 {
		return fail(FailInvalid, "count must be positive"), nil
	}

	item := ItemKeycard
	if k.DepositType == DepositNoCard {
		item = ItemNoCard
	}
	deposit, _ := w.svc.expectedDeposit(item, k.DepositType, k.Count)
	now := w.svc.timestamp()
	loanID := w.svc.newID("txn")

	st := steps{op: "issue keycard " + k.OccupantID}
	res, err := w.backend.SaveLoan(ctx, actor, k.BookingRef, k.OccupantID, loanID, LoanTransaction{
		Item:        item,
		Type:        LoanIssued,
		DepositType: k.DepositType,
		Deposit:     deposit,
		Count:       k.Count,
		CreatedAt:   now,
	})
	if err != nil {
		return Result{}, st.fail("loan", err)
	}
	if !res.OK() {
		return res, nil
	}
	st.commit("loan")

	if item == ItemKeycard {
		tx := Transaction{
			BookingRef:  k.BookingRef,
			OccupantID:  k.OccupantID,
			Amount:      deposit,
			Type:        TxLoan,
			Method:      string(k.DepositType),
			Category:    "keycard",
			Count:       k.Count,
			Description: "Keycard deposit",
			Timestamp:   now,
			IsKeycard:   true,
			DocType:     k.DocType,
		}
		if _, err := w.backend.AddToAllTransactions(ctx, actor, loanID, tx); err != nil {
			return Result{}, st.fail("deposit mirror", err)
		}
		st.commit("deposit mirror")
	}

	if _, err := w.backend.AddActivity(ctx, actor, k.OccupantID, CodeKeycardIssued); err != nil {
		return Result{}, st.fail("activity", err)
	}
	return ok(loanID), nil
}

// CityTaxPayment is city tax collected at the desk.
type CityTaxPayment struct {
	BookingRef string          `json:"bookingRef"`
	OccupantID string          `json:"occupantId"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
}

// RecordCityTaxPayment mirrors a taxPayment entry and logs activity 9. City
// tax is not part of the room balance.
func (w *Workflows) RecordCityTaxPayment(ctx context.Context, actor Actor, p CityTaxPayment) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if !p.Amount.IsPositive() {
		return fail(FailInvalid, "city tax amount must be positive"), nil
	}
	id := w.svc.newID("txn")
	st := steps{op: "city tax " + p.OccupantID}
	res, err := w.backend.AddToAllTransactions(ctx, actor, id, Transaction{
		BookingRef:  p.BookingRef,
		OccupantID:  p.OccupantID,
		Amount:      p.Amount,
		Type:        TxTaxPayment,
		Method:      p.Method,
		Category:    "cityTax",
		Description: "City tax",
		Timestamp:   w.svc.timestamp(),
	})
	if err != nil {
		return Result{}, st.fail("mirror", err)
	}
	if !res.OK() {
		return res, nil
	}
	st.commit("mirror")

	if _, err := w.backend.AddActivity(ctx, actor, p.OccupantID, CodeCityTaxPaid); err != nil {
		return Result{}, st.fail("activity", err)
	}
	return ok(id), nil
}

