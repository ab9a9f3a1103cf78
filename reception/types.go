/*
Package reception implements the write path of the hotel reception ledger.

PURPOSE:
  Records money movements (room charges, payments, refunds, city tax,
  keycard deposits, stay extensions) and guest lifecycle events, and keeps
  the denormalized projections of that data consistent on a store that
  only offers per-call atomic multi-path updates.

KEY CONCEPTS IN THIS FILE (types.go):
  - Actor:           The acting identity, passed explicitly into every call
  - Transaction:     Entry of the global transaction mirror
  - RoomLedger:      Per-booking aggregate folded from its transaction map
  - Activity:        Guest lifecycle event (code 1-30)
  - LoanTransaction: Borrowed item (keycard...) with its deposit
  - KeycardAssignment, CorrectionAudit

DESIGN PRINCIPLES:
  1. Append-only: history is never edited. Voids flag in place, corrections
     append a reversal and a replacement.
  2. Self-healing aggregates: totals are always refolded from the full map.
  3. Explicit atomicity: logically atomic groups go through one Update call;
     everything else is documented as non-atomic (see PartialError).

SEE ALSO:
  - financials.go: Room Ledger Aggregator
  - correction.go: Correction/Void Engine
  - activity.go:   Activity Log
*/
package reception

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACTOR
// =============================================================================

// Actor is the authenticated identity performing a mutation.
type Actor struct {
	UID  string `json:"uid,omitempty"`
	Name string `json:"name"`
}

// Authenticated reports whether the actor carries a usable identity.
func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.Name) != ""
}

// SystemActor is used for writes no person triggered.
var SystemActor = Actor{UID: "system", Name: "System"}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TxType string

const (
	TxCharge     TxType = "charge"
	TxPayment    TxType = "payment"
	TxRefund     TxType = "refund"
	TxAdjust     TxType = "adjust"
	TxCorrection TxType = "correction"
	TxLoan       TxType = "Loan"
	TxLoanRefund TxType = "Refund"
	TxDeposit    TxType = "deposit"
	TxTaxPayment TxType = "taxPayment"
)

// Origin tells whether an entry was booked directly or written by a correction.
type Origin string

const (
	OriginOriginal    Origin = ""
	OriginReversal    Origin = "reversal"
	OriginReplacement Origin = "replacement"
)

// Transaction is an entry of allFinancialTransactions. The lifecycle state
// travels as the State variant; on the wire it is flattened into the
// voided* fields (see state.go).
type Transaction struct {
	ID            string          `json:"-"`
	BookingRef    string          `json:"bookingRef,omitempty"`
	OccupantID    string          `json:"occupantId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TxType          `json:"type"`
	Method        string          `json:"method,omitempty"`
	Category      string          `json:"itemCategory,omitempty"`
	Count         int             `json:"count,omitempty"`
	NonRefundable bool            `json:"nonRefundable,omitempty"`
	Description   string          `json:"description,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	UserName      string          `json:"user_name,omitempty"`
	IsKeycard     bool            `json:"isKeycard,omitempty"`
	DocType       string          `json:"docType,omitempty"`

	// Correction entries only.
	Origin           Origin `json:"correctionKind,omitempty"`
	SourceTxnID      string `json:"sourceTxnId,omitempty"`
	CorrectedType    TxType `json:"correctedType,omitempty"`
	CorrectionReason string `json:"correctionReason,omitempty"`

	State State `json:"-"`
}

// TransactionUpdates are the fields a correction may change. The type of a
// transaction can never be corrected.
type TransactionUpdates struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Method      *string          `json:"method,omitempty"`
	Category    *string          `json:"itemCategory,omitempty"`
	Count       *int             `json:"count,omitempty"`
	Description *string          `json:"description,omitempty"`
}

func (u TransactionUpdates) empty() bool {
	return u.Amount == nil && u.Method == nil && u.Category == nil && u.Count == nil && u.Description == nil
}

func (u TransactionUpdates) applyTo(tx Transaction) Transaction {
	if u.Amount != nil {
		tx.Amount = *u.Amount
	}
	if u.Method != nil {
		tx.Method = *u.Method
	}
	if u.Category != nil {
		tx.Category = *u.Category
	}
	if u.Count != nil {
		tx.Count = *u.Count
	}
	if u.Description != nil {
		tx.Description = *u.Description
	}
	return tx
}

// =============================================================================
// ROOM LEDGER
// =============================================================================

// RoomTransaction is the booking-scoped copy of a transaction held inside
// financialsRoom/{bookingRef}/transactions.
type RoomTransaction struct {
	Amount        decimal.Decimal `json:"amount"`
	Type          TxType          `json:"type"`
	OccupantID    string          `json:"occupantId,omitempty"`
	BookingRef    string          `json:"bookingRef,omitempty"`
	Timestamp     string          `json:"timestamp,omitempty"`
	NonRefundable bool            `json:"nonRefundable,omitempty"`
	Description   string          `json:"description,omitempty"`
	CorrectedType TxType          `json:"correctedType,omitempty"`
	SourceTxnID   string          `json:"sourceTxnId,omitempty"`
	Voided        bool            `json:"voided,omitempty"`
	VoidedAt      string          `json:"voidedAt,omitempty"`
	VoidedBy      string          `json:"voidedBy,omitempty"`
	VoidReason    string          `json:"voidReason,omitempty"`
}

// RoomLedger is financialsRoom/{bookingRef}.
// INVARIANT: Balance = TotalDue - TotalPaid - TotalAdjust, refolded from
// Transactions on every write.
type RoomLedger struct {
	Balance      decimal.Decimal            `json:"balance"`
	TotalDue     decimal.Decimal            `json:"totalDue"`
	TotalPaid    decimal.Decimal            `json:"totalPaid"`
	TotalAdjust  decimal.Decimal            `json:"totalAdjust"`
	Transactions map[string]RoomTransaction `json:"transactions,omitempty"`
}

// RoomLedgerPatch is merged into the stored ledger. Only the transaction
// map is accepted: totals are derived, so callers cannot supply them.
type RoomLedgerPatch struct {
	Transactions map[string]RoomTransaction `json:"transactions"`
}

// =============================================================================
// ACTIVITIES
// =============================================================================

// Activity is activities/{occupantId}/{activityId}. The code-indexed copy
// under activitiesByCode carries the same who/timestamp.
type Activity struct {
	ID        string       `json:"-"`
	Code      ActivityCode `json:"code"`
	Who       string       `json:"who"`
	Timestamp string       `json:"timestamp"`
}

type activityByCode struct {
	Who       string `json:"who"`
	Timestamp string `json:"timestamp"`
}

// =============================================================================
// LOANS & KEYCARDS
// =============================================================================

type LoanType string

const (
	LoanIssued   LoanType = "Loan"
	LoanReturned LoanType = "Refund"
)

type DepositType string

const (
	DepositCash     DepositType = "CASH"
	DepositDocument DepositType = "DOCUMENT"
	DepositNoCard   DepositType = "NO_CARD"
)

func (d DepositType) Valid() bool {
	return d == DepositCash || d == DepositDocument || d == DepositNoCard
}

const (
	ItemKeycard = "Keycard"
	ItemNoCard  = "No_card"
)

// LoanTransaction is loans/{bookingRef}/{occupantId}/txns/{txnId}.
type LoanTransaction struct {
	Item        string          `json:"item"`
	Type        LoanType        `json:"type"`
	DepositType DepositType     `json:"depositType"`
	Deposit     decimal.Decimal `json:"deposit"`
	Count       int             `json:"count"`
	CreatedAt   string          `json:"createdAt"`
}

type AssignmentStatus string

const (
	AssignmentIssued   AssignmentStatus = "issued"
	AssignmentReturned AssignmentStatus = "returned"
	AssignmentLost     AssignmentStatus = "lost"
)

// KeycardAssignment is keycardAssignments/{assignmentId}. Exactly one of
// OccupantID (guest card) or StaffName (master key) is set.
type KeycardAssignment struct {
	KeycardNumber string           `json:"keycardNumber"`
	BookingRef    string           `json:"bookingRef,omitempty"`
	OccupantID    string           `json:"occupantId,omitempty"`
	StaffName     string           `json:"staffName,omitempty"`
	IsMasterKey   bool             `json:"isMasterKey,omitempty"`
	DepositMethod DepositType      `json:"depositMethod,omitempty"`
	DepositAmount decimal.Decimal  `json:"depositAmount"`
	Status        AssignmentStatus `json:"status"`
	IssuedAt      string           `json:"issuedAt"`
	IssuedBy      string           `json:"issuedBy"`
	ReturnedAt    string           `json:"returnedAt,omitempty"`
	ReturnedBy    string           `json:"returnedBy,omitempty"`
	LostAt        string           `json:"lostAt,omitempty"`
	LostBy        string           `json:"lostBy,omitempty"`
}

// =============================================================================
// AUDIT
// =============================================================================

// CorrectionAudit is audit/financialTransactionAudits/{auditId}.
// Written once, in the same update as the two correction entries.
type CorrectionAudit struct {
	SourceTxnID      string      `json:"sourceTxnId"`
	CreatedAt        string      `json:"createdAt"`
	CreatedBy        string      `json:"createdBy"`
	Reason           string      `json:"reason"`
	Before           Transaction `json:"before"`
	After            Transaction `json:"after"`
	ReversalTxnID    string      `json:"reversalTxnId"`
	ReplacementTxnID string      `json:"replacementTxnId"`
}
