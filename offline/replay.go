/*
replay.go - Offline journal replay

PURPOSE:
  Drains the journal into the store once connectivity returns, applying
  each domain's conflict policy:

    loans       last-write-wins    SaveLoan as queued
    mirror      insert-if-absent   skipped when the id already exists
    activities  append             skipped when the id already exists,
                                   else RecordActivity with the queued id
                                   and timestamp
    financials  merge-refold       SaveFinancialsRoom (merge is idempotent)

ORDERING:
  Strict Seq order. An unreachable store stops the flush at that entry (it
  is retried next time) so later writes never overtake earlier ones. An
  entry that can never succeed is rejected, kept in the journal for
  inspection, and the flush continues: a failure result from the service,
  or a store error other than ledger.ErrStoreUnavailable (undecodable
  stored value, invalid path, write refused by the backend).

TRIGGERS:
  Connectivity going online, the cron schedule (scheduler.go), and
  POST /api/sync/flush.
*/
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
	"github.com/warp/reception-ledger/reception"
)

// ErrOffline is returned by Flush while the store is unreachable.
var ErrOffline = errors.New("offline: store unreachable")

// FlushReport summarizes one flush.
type FlushReport struct {
	Applied   int    `json:"applied"`
	Skipped   int    `json:"skipped"`
	Rejected  int    `json:"rejected"`
	Remaining int    `json:"remaining"`
	StoppedAt string `json:"stoppedAt,omitempty"`
}

type outcome int

const (
	applied outcome = iota
	skipped
	rejected
)

// Replayer applies journaled writes through the direct service.
type Replayer struct {
	journal Journal
	svc     *reception.Service
	conn    Connectivity
	log     *zap.Logger

	mu sync.Mutex
}

func NewReplayer(j Journal, svc *reception.Service, conn Connectivity, log *zap.Logger) *Replayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replayer{journal: j, svc: svc, conn: conn, log: log}
}

// Flush replays every pending entry in order. Concurrent calls run one
// after the other.
func (r *Replayer) Flush(ctx context.Context) (FlushReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var report FlushReport
	if !r.conn.Online() {
		return report, ErrOffline
	}
	entries, err := r.journal.Pending(ctx, 0)
	if err != nil {
		return report, fmt.Errorf("read journal: %w", err)
	}

	for i, e := range entries {
		out, reason, err := r.apply(ctx, e)
		if err != nil && !retryable(err) {
			out, reason, err = rejected, "store refused write: "+err.Error(), nil
		}
		if err != nil {
			if rerr := r.journal.Retry(ctx, e.ID, err); rerr != nil {
				r.log.Error("record replay failure", zap.String("entry_id", e.ID), zap.Error(rerr))
			}
			report.Remaining = len(entries) - i
			report.StoppedAt = e.ID
			r.log.Warn("replay stopped",
				zap.String("entry_id", e.ID),
				zap.Int64("seq", e.Seq),
				zap.String("op", string(e.Op)),
				zap.Error(err),
			)
			return report, fmt.Errorf("replay entry %s (%s): %w", e.ID, e.Op, err)
		}

		switch out {
		case rejected:
			if err := r.journal.Reject(ctx, e.ID, reason); err != nil {
				return report, fmt.Errorf("reject entry %s: %w", e.ID, err)
			}
			report.Rejected++
			r.log.Warn("queued write rejected",
				zap.String("entry_id", e.ID),
				zap.String("op", string(e.Op)),
				zap.String("reason", reason),
			)
			continue
		case skipped:
			report.Skipped++
		default:
			report.Applied++
		}
		if err := r.journal.Ack(ctx, e.ID); err != nil {
			return report, fmt.Errorf("ack entry %s: %w", e.ID, err)
		}
	}

	if len(entries) > 0 {
		r.log.Info("offline journal flushed",
			zap.Int("applied", report.Applied),
			zap.Int("skipped", report.Skipped),
			zap.Int("rejected", report.Rejected),
		)
	}
	return report, nil
}

func (r *Replayer) apply(ctx context.Context, e Entry) (outcome, string, error) {
	var (
		res reception.Result
		err error
	)
	switch e.Op {
	case OpSaveLoan:
		var p loanPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return rejected, "undecodable payload: " + err.Error(), nil
		}
		res, err = r.svc.SaveLoan(ctx, e.Actor, p.BookingRef, p.OccupantID, p.TxnID, p.Loan)

	case OpAddToAllTransactions:
		var p mirrorPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return rejected, "undecodable payload: " + err.Error(), nil
		}
		exists, lookupErr := r.svc.TransactionExists(ctx, p.ID)
		if lookupErr != nil {
			return 0, "", lookupErr
		}
		if exists {
			return skipped, "", nil
		}
		res, err = r.svc.AddToAllTransactions(ctx, e.Actor, p.ID, p.Transaction)
		if err == nil && res.Failure == reception.FailConflict {
			// Written by another terminal since the lookup.
			return skipped, "", nil
		}

	case OpAddActivity:
		var p activityPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return rejected, "undecodable payload: " + err.Error(), nil
		}
		exists, lookupErr := r.svc.HasActivity(ctx, p.OccupantID, p.ActivityID)
		if lookupErr != nil {
			return 0, "", lookupErr
		}
		if exists {
			return skipped, "", nil
		}
		p.Activity.ID = p.ActivityID
		var ar reception.ActivityResult
		ar, err = r.svc.RecordActivity(ctx, e.Actor, p.OccupantID, p.Activity)
		res = ar.Result

	case OpSaveFinancialsRoom:
		var p financialsPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return rejected, "undecodable payload: " + err.Error(), nil
		}
		res, err = r.svc.SaveFinancialsRoom(ctx, e.Actor, p.BookingRef, p.Patch)

	default:
		return rejected, fmt.Sprintf("unknown op %q", e.Op), nil
	}

	if err != nil {
		return 0, "", err
	}
	if !res.OK() {
		return rejected, fmt.Sprintf("%s: %s", res.Failure, res.Message), nil
	}
	return applied, "", nil
}

// retryable reports whether a store error may clear on its own. Anything
// else would fail the same way on every flush.
func retryable(err error) bool {
	return ledger.IsUnavailable(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// FlushOnReconnect flushes whenever connectivity comes back. Call the
// returned function to stop.
func (r *Replayer) FlushOnReconnect(ctx context.Context) func() {
	return r.conn.Watch(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, ErrOffline) {
				r.log.Warn("flush after reconnect failed", zap.Error(err))
			}
		}()
	})
}
