package reception

import "fmt"

// ActivityCode is the fixed guest lifecycle enum (1-30) shared with every
// other reader of the activity log.
type ActivityCode int

const (
	CodeBookingCreated       ActivityCode = 1
	CodeFirstReminder        ActivityCode = 2
	CodeSecondReminder       ActivityCode = 3
	CodeCancellationWarning  ActivityCode = 4
	CodePaymentFailed        ActivityCode = 5
	CodePaymentFailedAgain   ActivityCode = 6
	CodePaymentFailedFinal   ActivityCode = 7
	CodeRoomPaid             ActivityCode = 8
	CodeCityTaxPaid          ActivityCode = 9
	CodeKeycardIssued        ActivityCode = 10
	CodeKeycardReturned      ActivityCode = 11
	CodeCheckedIn            ActivityCode = 12
	CodeDocumentsRecorded    ActivityCode = 13
	CodeCheckedOut           ActivityCode = 14
	CodeGuestAdded           ActivityCode = 15
	CodeGuestRemoved         ActivityCode = 16
	CodeRoomUpgraded         ActivityCode = 17
	CodeRoomMoved            ActivityCode = 18
	CodeCheckInDateChanged   ActivityCode = 19
	CodeNoShow               ActivityCode = 20
	CodeAgreementReceived    ActivityCode = 21
	CodeCancelled            ActivityCode = 22
	CodeBagsDropped          ActivityCode = 23
	CodeCheckOutDateChanged  ActivityCode = 24
	CodeRefundIssued         ActivityCode = 25
	CodeDepositConverted     ActivityCode = 26
	CodeTransactionCorrected ActivityCode = 27
	CodeTransactionVoided    ActivityCode = 28
	CodeKeycardLost          ActivityCode = 29
	CodeBookingReinstated    ActivityCode = 30
)

func (c ActivityCode) Valid() bool { return c >= 1 && c <= 30 }

func (c ActivityCode) String() string { return fmt.Sprintf("%d", int(c)) }

// notificationCodes trigger a guest email draft after the activity is committed.
var notificationCodes = map[ActivityCode]bool{
	CodeFirstReminder:       true,
	CodeSecondReminder:      true,
	CodeCancellationWarning: true,
	CodePaymentFailed:       true,
	CodePaymentFailedAgain:  true,
	CodePaymentFailedFinal:  true,
	CodeAgreementReceived:   true,
}

// NotifiesGuest reports whether logging the code drafts a guest email.
func (c ActivityCode) NotifiesGuest() bool { return notificationCodes[c] }
