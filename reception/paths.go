package reception

import "github.com/warp/reception-ledger/ledger"

// Path schema shared with every other reader of the store. Changing any of
// these breaks them.
const (
	rootBookings         = "bookings"
	rootCheckins         = "checkins"
	rootCheckouts        = "checkouts"
	rootActivities       = "activities"
	rootActivitiesByCode = "activitiesByCode"
	rootFinancialsRoom   = "financialsRoom"
	rootAllTransactions  = "allFinancialTransactions"
	rootLoans            = "loans"
	rootKeycards         = "keycardAssignments"
	rootKeycardsByNumber = "keycardAssignmentsByNumber"
	rootAudits           = "audit/financialTransactionAudits"
	rootAuditsBySource   = "audit/financialTransactionAuditsBySource"
	rootGuestDetails     = "guestsDetails"
)

func bookingPath(bookingRef, occupantID string) string {
	return ledger.Join(rootBookings, bookingRef, occupantID)
}

func checkinPath(date, occupantID string) string {
	return ledger.Join(rootCheckins, date, occupantID)
}

func checkoutPath(date, occupantID string) string {
	return ledger.Join(rootCheckouts, date, occupantID)
}

func activityPath(occupantID, activityID string) string {
	return ledger.Join(rootActivities, occupantID, activityID)
}

func activityByCodePath(code ActivityCode, occupantID, activityID string) string {
	return ledger.Join(rootActivitiesByCode, code.String(), occupantID, activityID)
}

func financialsRoomPath(bookingRef string) string {
	return ledger.Join(rootFinancialsRoom, bookingRef)
}

func transactionPath(id string) string {
	return ledger.Join(rootAllTransactions, id)
}

func loanOccupantPath(bookingRef, occupantID string) string {
	return ledger.Join(rootLoans, bookingRef, occupantID)
}

func loanTxnsPath(bookingRef, occupantID string) string {
	return ledger.Join(rootLoans, bookingRef, occupantID, "txns")
}

func loanTxnPath(bookingRef, occupantID, txnID string) string {
	return ledger.Join(rootLoans, bookingRef, occupantID, "txns", txnID)
}

func keycardPath(assignmentID string) string {
	return ledger.Join(rootKeycards, assignmentID)
}

func keycardIndexPath(keycardNumber string) string {
	return ledger.Join(rootKeycardsByNumber, ledger.SafeKey(keycardNumber))
}

func auditPath(auditID string) string {
	return ledger.Join(rootAudits, auditID)
}

func auditBySourcePath(sourceTxnID string) string {
	return ledger.Join(rootAuditsBySource, sourceTxnID)
}

// GuestDetailsPath returns guestsDetails/{bookingRef}.
func GuestDetailsPath(bookingRef string) string {
	return ledger.Join(rootGuestDetails, bookingRef)
}
