/*
correction.go - Correction/Void Engine

PURPOSE:
  Non-destructive fixes for erroneous mirror transactions. The original
  record is never edited beyond the in-place void flag.

VOID:
  1. Atomically set voided/voidedAt/voidedBy/voidReason on the mirror entry
  2. Separately mark the room ledger copy voided and refold (non-atomic
     with step 1)
  Voiding an entry whose step 2 failed runs step 2 again instead of
  reporting already_voided.

CORRECTION (reversal + replacement):
  Original:    payment  +50
  Reversal:    correction -50   (correctedType=payment, cancels the original)
  Replacement: payment  +45     (original type, updated fields)
  Audit:       {sourceTxnId, reason, before, after, reversal, replacement}

  1. Atomically write reversal + replacement + audit + source index
  2. Separately merge both entries into the room ledger (refold)

  Net ledger effect: -50 + 45 on top of the untouched +50.

GUARDS:
  - voided transactions cannot be corrected, corrected ones cannot be voided
  - one correction per transaction (source index); correct the replacement
    to fix a correction
  - correction entries themselves cannot be voided
  - blank reason is rejected
*/
package reception

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
)

// CorrectionResult names the records a correction created.
type CorrectionResult struct {
	Result
	ReversalID    string `json:"reversalId,omitempty"`
	ReplacementID string `json:"replacementId,omitempty"`
	AuditID       string `json:"auditId,omitempty"`
}

// TransactionState resolves the full lifecycle of a mirror entry, including
// the Corrected state that is only recorded in the audit trail.
func (s *Service) TransactionState(ctx context.Context, id string) (State, bool, error) {
	tx, found, err := s.GetTransaction(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	if tx.IsVoided() {
		return tx.State, true, nil
	}
	auditID, corrected, err := s.auditFor(ctx, id)
	if err != nil {
		return nil, true, err
	}
	if !corrected {
		return Active{}, true, nil
	}
	var audit CorrectionAudit
	if _, err := s.store.Get(ctx, auditPath(auditID), &audit); err != nil {
		return nil, true, fmt.Errorf("read audit %s: %w", auditID, err)
	}
	return Corrected{ReversalID: audit.ReversalTxnID, ReplacementID: audit.ReplacementTxnID, AuditID: auditID}, true, nil
}

func (s *Service) auditFor(ctx context.Context, txnID string) (string, bool, error) {
	var auditID string
	found, err := s.store.Get(ctx, auditBySourcePath(txnID), &auditID)
	if err != nil {
		return "", false, fmt.Errorf("read audit index for %s: %w", txnID, err)
	}
	return auditID, found, nil
}

// VoidTransaction flags a mirror entry voided and mirrors the flag onto the
// room ledger copy. Voiding twice writes nothing and fails.
func (s *Service) VoidTransaction(ctx context.Context, actor Actor, id, reason string) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	tx, found, err := s.GetTransaction(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return fail(FailNotFound, "transaction %s not found", id), nil
	}
	if v, voided := tx.State.(Voided); voided {
		// A void whose room ledger step failed is finished here.
		repaired, err := s.repairRoomVoid(ctx, actor, tx, id, v)
		if err != nil {
			return Result{}, fmt.Errorf("finish void of %s on room ledger: %w", id, err)
		}
		if repaired {
			s.log.Info("room copy of voided transaction flagged",
				zap.String("txn_id", id),
				zap.String("actor", actor.Name),
			)
			return ok(id), nil
		}
		return fail(FailAlreadyVoided, "transaction %s is already voided", id), nil
	}
	if tx.Origin == OriginReversal {
		return fail(FailInvalid, "reversal entries cannot be voided; correct the replacement instead"), nil
	}
	if _, corrected, err := s.auditFor(ctx, id); err != nil {
		return Result{}, err
	} else if corrected {
		return fail(FailAlreadyCorrected, "transaction %s has been corrected", id), nil
	}

	v := Voided{Reason: strings.TrimSpace(reason), By: actor.Name, At: s.timestamp()}
	st := steps{op: "void " + id}
	if err := s.store.Update(ctx, voidWrites(transactionPath(id), v)); err != nil {
		return Result{}, st.fail("mirror", err)
	}
	st.commit("mirror")

	if tx.BookingRef != "" {
		if err := s.voidRoomCopy(ctx, actor, tx, id, v); err != nil {
			return Result{}, st.fail("room ledger", err)
		}
		st.commit("room ledger")
	}

	s.log.Info("transaction voided",
		zap.String("txn_id", id),
		zap.String("actor", actor.Name),
		zap.String("reason", v.Reason),
	)
	return ok(id), nil
}

// repairRoomVoid flags the room copy of an already voided entry when the
// copy is still live. It reports whether anything was written.
func (s *Service) repairRoomVoid(ctx context.Context, actor Actor, tx Transaction, id string, v Voided) (bool, error) {
	if tx.BookingRef == "" {
		return false, nil
	}
	rl, err := s.GetFinancialsRoom(ctx, tx.BookingRef)
	if err != nil {
		return false, err
	}
	copyTx, present := rl.Transactions[id]
	if !present || copyTx.Voided {
		return false, nil
	}
	return true, s.voidRoomCopy(ctx, actor, tx, id, v)
}

func (s *Service) voidRoomCopy(ctx context.Context, actor Actor, tx Transaction, id string, v Voided) error {
	rl, err := s.GetFinancialsRoom(ctx, tx.BookingRef)
	if err != nil {
		return err
	}
	copyTx, present := rl.Transactions[id]
	if !present {
		// Not every mirror entry is booked on the room ledger (loans, city tax).
		return nil
	}
	copyTx.Voided = true
	copyTx.VoidedAt = v.At
	copyTx.VoidedBy = v.By
	copyTx.VoidReason = v.Reason
	_, err = s.SaveFinancialsRoom(ctx, actor, tx.BookingRef, RoomLedgerPatch{
		Transactions: map[string]RoomTransaction{id: copyTx},
	})
	return err
}

// CorrectTransaction appends a reversal and a replacement for id, plus the
// audit record, and books both on the room ledger.
func (s *Service) CorrectTransaction(ctx context.Context, actor Actor, id string, updates TransactionUpdates, reason string) (CorrectionResult, error) {
	if !actor.Authenticated() {
		return CorrectionResult{Result: unauthenticated()}, nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return CorrectionResult{Result: fail(FailBlankReason, "a correction reason is required")}, nil
	}
	if updates.empty() {
		return CorrectionResult{Result: fail(FailInvalid, "no fields to correct")}, nil
	}

	original, found, err := s.GetTransaction(ctx, id)
	if err != nil {
		return CorrectionResult{}, err
	}
	if !found {
		return CorrectionResult{Result: fail(FailNotFound, "transaction %s not found", id)}, nil
	}
	if original.IsVoided() {
		return CorrectionResult{Result: fail(FailAlreadyVoided, "transaction %s is voided", id)}, nil
	}
	if original.Origin == OriginReversal {
		return CorrectionResult{Result: fail(FailInvalid, "reversal entries cannot be corrected")}, nil
	}
	if _, corrected, err := s.auditFor(ctx, id); err != nil {
		return CorrectionResult{}, err
	} else if corrected {
		return CorrectionResult{Result: fail(FailAlreadyCorrected, "transaction %s has already been corrected", id)}, nil
	}

	now := s.timestamp()
	reversalID, replacementID, auditID := s.newID("txn"), s.newID("txn"), s.newID("aud")

	reversal := original
	reversal.ID = reversalID
	reversal.Amount = original.Amount.Neg()
	reversal.Type = TxCorrection
	reversal.CorrectedType = original.Type
	reversal.Origin = OriginReversal
	reversal.SourceTxnID = id
	reversal.CorrectionReason = reason
	reversal.Timestamp = now
	reversal.UserName = actor.Name
	reversal.State = Active{}

	replacement := updates.applyTo(original)
	replacement.ID = replacementID
	replacement.Type = original.Type
	replacement.CorrectedType = ""
	replacement.Origin = OriginReplacement
	replacement.SourceTxnID = id
	replacement.CorrectionReason = reason
	replacement.Timestamp = now
	replacement.UserName = actor.Name
	replacement.State = Active{}

	audit := CorrectionAudit{
		SourceTxnID:      id,
		CreatedAt:        now,
		CreatedBy:        actor.Name,
		Reason:           reason,
		Before:           original,
		After:            replacement,
		ReversalTxnID:    reversalID,
		ReplacementTxnID: replacementID,
	}

	st := steps{op: "correct " + id}
	writes := ledger.Writes{}.
		Put(transactionPath(reversalID), reversal).
		Put(transactionPath(replacementID), replacement).
		Put(auditPath(auditID), audit).
		Put(auditBySourcePath(id), auditID)
	if err := s.store.Update(ctx, writes); err != nil {
		return CorrectionResult{}, st.fail("mirror and audit", err)
	}
	st.commit("mirror and audit")

	if original.BookingRef != "" {
		rl, err := s.GetFinancialsRoom(ctx, original.BookingRef)
		if err != nil {
			return CorrectionResult{}, st.fail("room ledger", err)
		}
		// Only transactions booked on the room ledger get their correction
		// booked there; otherwise the reversal would cancel nothing.
		if _, booked := rl.Transactions[id]; booked {
			patch := RoomLedgerPatch{Transactions: map[string]RoomTransaction{
				reversalID:    roomCopy(reversal),
				replacementID: roomCopy(replacement),
			}}
			if _, err := s.SaveFinancialsRoom(ctx, actor, original.BookingRef, patch); err != nil {
				return CorrectionResult{}, st.fail("room ledger", err)
			}
			st.commit("room ledger")
		}
	}

	s.log.Info("transaction corrected",
		zap.String("txn_id", id),
		zap.String("reversal_id", reversalID),
		zap.String("replacement_id", replacementID),
		zap.String("audit_id", auditID),
		zap.String("actor", actor.Name),
	)
	return CorrectionResult{
		Result:        ok(replacementID),
		ReversalID:    reversalID,
		ReplacementID: replacementID,
		AuditID:       auditID,
	}, nil
}
