package offline

import "github.com/warp/reception-ledger/reception"

// Policy decides how a replayed write meets state written since it was queued.
type Policy string

const (
	// LastWriteWins overwrites whatever is stored.
	LastWriteWins Policy = "last-write-wins"
	// InsertIfAbsent skips the write when the record already exists.
	InsertIfAbsent Policy = "insert-if-absent"
	// AppendIdempotent appends unless an entry with the same id exists.
	AppendIdempotent Policy = "append"
	// MergeRefold merges into the stored aggregate and recomputes it.
	MergeRefold Policy = "merge-refold"
)

// Policies is the conflict policy of each domain.
var Policies = map[Domain]Policy{
	DomainLoans:      LastWriteWins,
	DomainMirror:     InsertIfAbsent,
	DomainActivities: AppendIdempotent,
	DomainFinancials: MergeRefold,
}

// Payloads of each Op. Ids and timestamps are fixed when queued so a
// replay reproduces the offline moment.

type financialsPayload struct {
	BookingRef string                    `json:"bookingRef"`
	Patch      reception.RoomLedgerPatch `json:"patch"`
}

type mirrorPayload struct {
	ID          string                `json:"id"`
	Transaction reception.Transaction `json:"transaction"`
}

type activityPayload struct {
	OccupantID string             `json:"occupantId"`
	ActivityID string             `json:"activityId"`
	Activity   reception.Activity `json:"activity"`
}

type loanPayload struct {
	BookingRef string                    `json:"bookingRef"`
	OccupantID string                    `json:"occupantId"`
	TxnID      string                    `json:"txnId"`
	Loan       reception.LoanTransaction `json:"loan"`
}
