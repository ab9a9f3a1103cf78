package reception

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// GLOBAL TRANSACTION MIRROR - allFinancialTransactions/{txnId}
// =============================================================================

// AddToAllTransactions writes one new mirror entry. The actor is stamped on
// the record, and the timestamp when the caller did not set one.
//
// Entries are insert-only: an existing id is a conflict, and the entry always
// starts Active. Voids and corrections go through VoidTransaction and
// CorrectTransaction.
//
// A single-path write. When it follows a room ledger save and fails, the
// ledger entry stays; re-running the caller's orchestration is safe.
func (s *Service) AddToAllTransactions(ctx context.Context, actor Actor, id string, tx Transaction) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if id == "" {
		return fail(FailInvalid, "transaction id is required"), nil
	}
	if tx.Type == TxCorrection {
		return fail(FailInvalid, "correction entries are created by CorrectTransaction"), nil
	}

	exists, err := s.TransactionExists(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return fail(FailConflict, "transaction %s already exists", id), nil
	}

	if tx.Timestamp == "" {
		tx.Timestamp = s.timestamp()
	}
	tx.UserName = actor.Name
	tx.State = Active{}
	tx.Origin = OriginOriginal
	tx.SourceTxnID = ""
	tx.CorrectedType = ""
	tx.CorrectionReason = ""

	if err := s.store.Set(ctx, transactionPath(id), tx); err != nil {
		return Result{}, fmt.Errorf("write mirror transaction %s: %w", id, err)
	}
	s.log.Info("transaction mirrored",
		zap.String("txn_id", id),
		zap.String("type", string(tx.Type)),
		zap.String("amount", tx.Amount.String()),
		zap.String("actor", actor.Name),
	)
	return ok(id), nil
}

// GetTransaction reads a mirror entry. Returns false when it does not exist.
func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, bool, error) {
	var tx Transaction
	found, err := s.store.Get(ctx, transactionPath(id), &tx)
	if err != nil {
		return Transaction{}, false, fmt.Errorf("read mirror transaction %s: %w", id, err)
	}
	if !found {
		return Transaction{}, false, nil
	}
	tx.ID = id
	return tx, true, nil
}

// TransactionExists is used by offline replay's insert-if-absent policy.
func (s *Service) TransactionExists(ctx context.Context, id string) (bool, error) {
	_, found, err := s.GetTransaction(ctx, id)
	return found, err
}

func roomCopy(tx Transaction) RoomTransaction {
	return RoomTransaction{
		Amount:        tx.Amount,
		Type:          tx.Type,
		OccupantID:    tx.OccupantID,
		BookingRef:    tx.BookingRef,
		Timestamp:     tx.Timestamp,
		NonRefundable: tx.NonRefundable,
		Description:   tx.Description,
		CorrectedType: tx.CorrectedType,
		SourceTxnID:   tx.SourceTxnID,
	}
}
