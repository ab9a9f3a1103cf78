/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON bodies of the reception API. Ledger records (transactions, room
  ledgers, loans, keycard assignments) are exchanged in their stored wire
  form; the types here only cover what the store does not define.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the ledger operations, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - reception/types.go: Stored record types
*/
package api

import (
	"github.com/warp/reception-ledger/offline"
	"github.com/warp/reception-ledger/reception"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type VoidRequest struct {
	Reason string `json:"reason"`
}

type CorrectionRequest struct {
	Updates reception.TransactionUpdates `json:"updates"`
	Reason  string                       `json:"reason"`
}

type AddActivityRequest struct {
	Code reception.ActivityCode `json:"code"`
}

type DepositTypeRequest struct {
	DepositType reception.DepositType `json:"depositType"`
}

type MasterKeyRequest struct {
	KeycardNumber string `json:"keycardNumber"`
	StaffName     string `json:"staffName"`
}

type ConnectivityRequest struct {
	Online bool `json:"online"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TransactionDTO is a mirror entry with its resolved lifecycle state.
type TransactionDTO struct {
	ID            string                `json:"id"`
	Transaction   reception.Transaction `json:"transaction"`
	State         string                `json:"state"`
	ReversalID    string                `json:"reversalId,omitempty"`
	ReplacementID string                `json:"replacementId,omitempty"`
	AuditID       string                `json:"auditId,omitempty"`
}

type ActivityDTO struct {
	ID        string                 `json:"id"`
	Code      reception.ActivityCode `json:"code"`
	Who       string                 `json:"who"`
	Timestamp string                 `json:"timestamp"`
}

type LoanDTO struct {
	ID string `json:"id"`
	reception.LoanTransaction
}

type StatusDTO struct {
	OccupantID string                 `json:"occupantId"`
	State      reception.ArrivalState `json:"state"`
	Count      int                    `json:"count"`
}

type ToggleDTO struct {
	reception.Result
	Op    string                 `json:"op"`
	State reception.ArrivalState `json:"state"`
}

type ConnectivityDTO struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

type RejectedDTO struct {
	Entries []offline.Entry `json:"entries"`
}

// ErrorResponse is the body of every non-2xx response caused by an error.
// Completed and Failed are set for partially applied operations.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Details   string   `json:"details,omitempty"`
	Completed []string `json:"completed,omitempty"`
	Failed    string   `json:"failed,omitempty"`
}
