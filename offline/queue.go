package offline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/reception-ledger/reception"
)

// Queue is the offline backend: it implements only the deferrable
// mutations and journals them for replay. Results come back with Queued
// set and the ids the records will have once replayed.
type Queue struct {
	journal Journal
	svc     *reception.Service
	log     *zap.Logger
}

var _ reception.Deferrable = (*Queue)(nil)

// NewQueue journals into j, taking ids and timestamps from svc.
func NewQueue(j Journal, svc *reception.Service, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{journal: j, svc: svc, log: log}
}

func (q *Queue) enqueue(ctx context.Context, actor reception.Actor, domain Domain, op Op, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s payload: %w", op, err)
	}
	e, err := q.journal.Append(ctx, Entry{
		ID:         q.svc.GenerateID("oq"),
		Domain:     domain,
		Op:         op,
		Payload:    raw,
		Actor:      actor,
		EnqueuedAt: q.svc.Now(),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("queue %s: %w", op, err)
	}
	q.log.Info("write queued",
		zap.String("entry_id", e.ID),
		zap.Int64("seq", e.Seq),
		zap.String("op", string(op)),
	)
	return e, nil
}

func queued(id string) reception.Result {
	return reception.Result{ID: id, Queued: true}
}

func unauthenticated() reception.Result {
	return reception.Result{Failure: reception.FailUnauthenticated, Message: "an authenticated user is required"}
}

func (q *Queue) SaveFinancialsRoom(ctx context.Context, actor reception.Actor, bookingRef string, patch reception.RoomLedgerPatch) (reception.Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if bookingRef == "" {
		return reception.Result{Failure: reception.FailInvalid, Message: "booking reference is required"}, nil
	}
	if _, err := q.enqueue(ctx, actor, DomainFinancials, OpSaveFinancialsRoom, financialsPayload{BookingRef: bookingRef, Patch: patch}); err != nil {
		return reception.Result{}, err
	}
	return queued(bookingRef), nil
}

func (q *Queue) AddToAllTransactions(ctx context.Context, actor reception.Actor, id string, tx reception.Transaction) (reception.Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if id == "" {
		return reception.Result{Failure: reception.FailInvalid, Message: "transaction id is required"}, nil
	}
	if tx.Timestamp == "" {
		tx.Timestamp = q.svc.Stamp()
	}
	if _, err := q.enqueue(ctx, actor, DomainMirror, OpAddToAllTransactions, mirrorPayload{ID: id, Transaction: tx}); err != nil {
		return reception.Result{}, err
	}
	return queued(id), nil
}

func (q *Queue) AddActivity(ctx context.Context, actor reception.Actor, occupantID string, code reception.ActivityCode) (reception.ActivityResult, error) {
	if !actor.Authenticated() {
		return reception.ActivityResult{Result: unauthenticated()}, nil
	}
	if occupantID == "" || !code.Valid() {
		return reception.ActivityResult{Result: reception.Result{Failure: reception.FailInvalid, Message: "occupant id and a known activity code are required"}}, nil
	}
	act := reception.Activity{
		ID:        q.svc.GenerateID("act"),
		Code:      code,
		Who:       actor.Name,
		Timestamp: q.svc.Stamp(),
	}
	if _, err := q.enqueue(ctx, actor, DomainActivities, OpAddActivity, activityPayload{OccupantID: occupantID, ActivityID: act.ID, Activity: act}); err != nil {
		return reception.ActivityResult{}, err
	}
	// The guest email is drafted when the activity is replayed.
	return reception.ActivityResult{Result: queued(act.ID), Activity: act}, nil
}

func (q *Queue) SaveLoan(ctx context.Context, actor reception.Actor, bookingRef, occupantID, txnID string, loan reception.LoanTransaction) (reception.Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if bookingRef == "" || occupantID == "" || txnID == "" {
		return reception.Result{Failure: reception.FailInvalid, Message: "booking reference, occupant id and transaction id are required"}, nil
	}
	if loan.CreatedAt == "" {
		loan.CreatedAt = q.svc.Stamp()
	}
	if _, err := q.enqueue(ctx, actor, DomainLoans, OpSaveLoan, loanPayload{BookingRef: bookingRef, OccupantID: occupantID, TxnID: txnID, Loan: loan}); err != nil {
		return reception.Result{}, err
	}
	return queued(txnID), nil
}
