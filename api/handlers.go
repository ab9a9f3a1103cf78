/*
handlers.go - HTTP API handlers for the reception ledger

PURPOSE:
  Exposes the ledger operations over REST. Handles HTTP request/response
  and JSON serialization, and delegates to the reception service or the
  offline queue depending on connectivity.

ENDPOINTS:
  Room ledger:
    GET    /api/financials/{bookingRef}                 Room ledger
    POST   /api/financials/{bookingRef}                 Merge transactions (queueable)
    POST   /api/bookings/{bookingRef}/payments          Room payment (queueable)
    POST   /api/bookings/{bookingRef}/city-tax          City tax payment (queueable)
    PUT    /api/bookings/{bookingRef}/occupants/{occupantId}/dates  Move stay dates

  Transactions:
    GET    /api/transactions/{id}                       Entry + lifecycle state
    PUT    /api/transactions/{id}                       Mirror entry (queueable)
    POST   /api/transactions/{id}/void                  Void
    POST   /api/transactions/{id}/corrections           Correct

  Activities and status:
    GET    /api/occupants/{occupantId}/activities       Activity log
    POST   /api/occupants/{occupantId}/activities       Log activity (queueable)
    DELETE /api/occupants/{occupantId}/activities/{code}/latest  Remove latest
    GET    /api/occupants/{occupantId}/status           Arrival state
    POST   /api/occupants/{occupantId}/status/toggle    Next arrival state

  Loans and keycards:
    GET    /api/loans/{bookingRef}/{occupantId}                       Loans
    PUT    /api/loans/{bookingRef}/{occupantId}/txns/{txnId}          Save loan (queueable)
    PUT    /api/loans/{bookingRef}/{occupantId}/txns/{txnId}/deposit-type
    POST   /api/loans/{bookingRef}/{occupantId}/txns/{txnId}/convert-to-cash
    DELETE /api/loans/{bookingRef}/{occupantId}/items/{item}          All txns of item
    DELETE /api/loans/{bookingRef}/{occupantId}/items/{item}/latest   Latest txn of item
    POST   /api/loans/{bookingRef}/{occupantId}/keycards              Issue keycards (queueable)
    POST   /api/keycards/guest | /api/keycards/master                 Assign card
    GET    /api/keycards/{assignmentId}
    POST   /api/keycards/{assignmentId}/return | /lost

  Sync:
    GET    /api/connectivity        Online flag + pending journal size
    PUT    /api/connectivity        Set online flag by hand
    POST   /api/sync/flush          Replay the journal now
    GET    /api/sync/rejected       Entries replay refused

ERROR HANDLING:
  Failures (the Result of an operation) and errors map to:
  - 400: invalid input, blank reason
  - 401: no authenticated user
  - 404: not found, nothing matched
  - 409: already voided/corrected, keycard already issued
  - 502: partially applied (body lists completed steps)
  - 503: offline for an online-only operation, store unreachable
  - 500: other errors
  A queued write answers 202.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/reception-ledger/auth"
	"github.com/warp/reception-ledger/ledger"
	"github.com/warp/reception-ledger/offline"
	"github.com/warp/reception-ledger/reception"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Router   *offline.Router
	Replayer *offline.Replayer
	Journal  offline.Journal
	// Switch is nil when connectivity is only driven by the probe.
	Switch *offline.Switch
	Log    *zap.Logger

	mu     sync.Mutex
	cycles map[string]*reception.StatusCycle
}

// NewHandler creates a new handler.
func NewHandler(router *offline.Router, replayer *offline.Replayer, journal offline.Journal, sw *offline.Switch, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Router:   router,
		Replayer: replayer,
		Journal:  journal,
		Switch:   sw,
		Log:      log,
		cycles:   make(map[string]*reception.StatusCycle),
	}
}

// =============================================================================
// ROOM LEDGER
// =============================================================================

func (h *Handler) GetFinancials(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	rl, err := svc.GetFinancialsRoom(r.Context(), chi.URLParam(r, "bookingRef"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rl)
}

func (h *Handler) SaveFinancials(w http.ResponseWriter, r *http.Request) {
	var patch reception.RoomLedgerPatch
	if !decode(w, r, &patch) {
		return
	}
	res, err := h.Router.Deferrable().SaveFinancialsRoom(r.Context(), actor(r), chi.URLParam(r, "bookingRef"), patch)
	h.respond(w, res, err, nil)
}

func (h *Handler) RecordRoomPayment(w http.ResponseWriter, r *http.Request) {
	var p reception.RoomPayment
	if !decode(w, r, &p) {
		return
	}
	p.BookingRef = chi.URLParam(r, "bookingRef")
	res, err := h.Router.Workflows().RecordRoomPayment(r.Context(), actor(r), p)
	h.respond(w, res.Result, err, res)
}

func (h *Handler) RecordCityTax(w http.ResponseWriter, r *http.Request) {
	var p reception.CityTaxPayment
	if !decode(w, r, &p) {
		return
	}
	p.BookingRef = chi.URLParam(r, "bookingRef")
	res, err := h.Router.Workflows().RecordCityTaxPayment(r.Context(), actor(r), p)
	h.respond(w, res, err, nil)
}

func (h *Handler) UpdateDates(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	var c reception.DateChange
	if !decode(w, r, &c) {
		return
	}
	c.BookingRef = chi.URLParam(r, "bookingRef")
	c.OccupantID = chi.URLParam(r, "occupantId")
	res, err := svc.UpdateBookingDates(r.Context(), actor(r), c)
	h.respond(w, res.Result, err, res)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	tx, found, err := svc.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "transaction not found", nil)
		return
	}
	state, _, err := svc.TransactionState(r.Context(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	dto := TransactionDTO{ID: id, Transaction: tx}
	switch s := state.(type) {
	case reception.Voided:
		dto.State = "voided"
	case reception.Corrected:
		dto.State = "corrected"
		dto.ReversalID, dto.ReplacementID, dto.AuditID = s.ReversalID, s.ReplacementID, s.AuditID
	default:
		dto.State = "active"
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) PutTransaction(w http.ResponseWriter, r *http.Request) {
	var tx reception.Transaction
	if !decode(w, r, &tx) {
		return
	}
	res, err := h.Router.Deferrable().AddToAllTransactions(r.Context(), actor(r), chi.URLParam(r, "id"), tx)
	h.respond(w, res, err, nil)
}

func (h *Handler) VoidTransaction(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	var req VoidRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := svc.VoidTransaction(r.Context(), actor(r), chi.URLParam(r, "id"), req.Reason)
	h.respond(w, res, err, nil)
}

func (h *Handler) CorrectTransaction(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	var req CorrectionRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := svc.CorrectTransaction(r.Context(), actor(r), chi.URLParam(r, "id"), req.Updates, req.Reason)
	if err == nil && res.OK() {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	h.respond(w, res.Result, err, res)
}

// =============================================================================
// ACTIVITIES & STATUS
// =============================================================================

func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	acts, err := svc.ListActivities(r.Context(), chi.URLParam(r, "occupantId"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	dtos := make([]ActivityDTO, 0, len(acts))
	for _, a := range acts {
		dtos = append(dtos, ActivityDTO{ID: a.ID, Code: a.Code, Who: a.Who, Timestamp: a.Timestamp})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AddActivity(w http.ResponseWriter, r *http.Request) {
	var req AddActivityRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Router.Deferrable().AddActivity(r.Context(), actor(r), chi.URLParam(r, "occupantId"), req.Code)
	h.respond(w, res.Result, err, res)
}

func (h *Handler) RemoveLastActivity(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "activity code must be a number", err)
		return
	}
	res, err := svc.RemoveLastActivity(r.Context(), actor(r), chi.URLParam(r, "occupantId"), reception.ActivityCode(code))
	h.respond(w, res, err, nil)
}

// cycle returns the session's status cycle for the occupant, seeding it
// from the activity log on first use.
func (h *Handler) cycle(r *http.Request, svc *reception.Service, occupantID string) (*reception.StatusCycle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.cycles[occupantID]; ok {
		return c, nil
	}
	c, err := reception.SeedStatusCycle(r.Context(), svc, occupantID)
	if err != nil {
		return nil, err
	}
	h.cycles[occupantID] = c
	return c, nil
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	occupantID := chi.URLParam(r, "occupantId")
	c, err := h.cycle(r, svc, occupantID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{OccupantID: occupantID, State: c.State(), Count: c.Count()})
}

func (h *Handler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	c, err := h.cycle(r, svc, chi.URLParam(r, "occupantId"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	res, err := c.Toggle(r.Context(), actor(r))
	h.respond(w, res.Result, err, ToggleDTO{Result: res.Result, Op: res.Op.String(), State: res.State})
}

// =============================================================================
// LOANS & KEYCARDS
// =============================================================================

func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	entries, err := svc.Loans(r.Context(), chi.URLParam(r, "bookingRef"), chi.URLParam(r, "occupantId"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	dtos := make([]LoanDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, LoanDTO{ID: e.ID, LoanTransaction: e.LoanTransaction})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SaveLoan(w http.ResponseWriter, r *http.Request) {
	var loan reception.LoanTransaction
	if !decode(w, r, &loan) {
		return
	}
	res, err := h.Router.Deferrable().SaveLoan(r.Context(), actor(r),
		chi.URLParam(r, "bookingRef"), chi.URLParam(r, "occupantId"), chi.URLParam(r, "txnId"), loan)
	h.respond(w, res, err, nil)
}

func (h *Handler) UpdateDepositType(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	var req DepositTypeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := svc.UpdateLoanDepositType(r.Context(), actor(r),
		chi.URLParam(r, "bookingRef"), chi.URLParam(r, "occupantId"), chi.URLParam(r, "txnId"), req.DepositType)
	h.respond(w, res, err, nil)
}

func (h *Handler) ConvertToCash(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	res, err := svc.ConvertKeycardDocToCash(r.Context(), actor(r),
		chi.URLParam(r, "bookingRef"), chi.URLParam(r, "occupantId"), chi.URLParam(r, "txnId"))
	h.respond(w, res, err, nil)
}

func (h *Handler) RemoveLoanItem(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	res, err := svc.RemoveLoanItem(r.Context(), actor(r),
		chi.URLParam(r, "bookingRef"), chi.URLParam(r, "occupantId"), chi.URLParam(r, "item"))
	h.respond(w, res, err, nil)
}

func (h *Handler) RemoveLoanItems(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	res, err := svc.RemoveLoanTransactionsForItem(r.Context(), actor(r),
		chi.URLParam(r, "bookingRef"), chi.URLParam(r, "occupantId"), chi.URLParam(r, "item"))
	h.respond(w, res, err, nil)
}

func (h *Handler) IssueKeycards(w http.ResponseWriter, r *http.Request) {
	var k reception.KeycardIssue
	if !decode(w, r, &k) {
		return
	}
	k.BookingRef = chi.URLParam(r, "bookingRef")
	k.OccupantID = chi.URLParam(r, "occupantId")
	res, err := h.Router.Workflows().IssueKeycard(r.Context(), actor(r), k)
	h.respond(w, res, err, nil)
}

func (h *Handler) AssignGuestKeycard(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	var req reception.GuestKeycardRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := svc.AssignGuestKeycard(r.Context(), actor(r), req)
	h.respond(w, res, err, nil)
}

func (h *Handler) AssignMasterKey(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	var req MasterKeyRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := svc.AssignMasterKey(r.Context(), actor(r), req.KeycardNumber, req.StaffName)
	h.respond(w, res, err, nil)
}

func (h *Handler) GetKeycard(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	a, found, err := svc.GetKeycardAssignment(r.Context(), chi.URLParam(r, "assignmentId"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "keycard assignment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) ReturnKeycard(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	res, err := svc.ReturnKeycard(r.Context(), actor(r), chi.URLParam(r, "assignmentId"))
	h.respond(w, res, err, nil)
}

func (h *Handler) MarkKeycardLost(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.online(w)
	if !ok {
		return
	}
	res, err := svc.MarkKeycardLost(r.Context(), actor(r), chi.URLParam(r, "assignmentId"))
	h.respond(w, res, err, nil)
}

// =============================================================================
// SYNC
// =============================================================================

func (h *Handler) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Journal.Pending(r.Context(), 0)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectivityDTO{
		Online:  h.Router.Connectivity().Online(),
		Pending: len(pending),
	})
}

func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	if h.Switch == nil {
		writeError(w, http.StatusConflict, "connectivity is managed by the probe", nil)
		return
	}
	var req ConnectivityRequest
	if !decode(w, r, &req) {
		return
	}
	h.Switch.Set(req.Online)
	h.GetConnectivity(w, r)
}

func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	report, err := h.Replayer.Flush(r.Context())
	if errors.Is(err, offline.ErrOffline) {
		writeError(w, http.StatusServiceUnavailable, "offline", err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, struct {
			offline.FlushReport
			Error string `json:"error"`
		}{report, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListRejected(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Journal.Rejected(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []offline.Entry{}
	}
	writeJSON(w, http.StatusOK, RejectedDTO{Entries: entries})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": h.Router.Connectivity().Online(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func actor(r *http.Request) reception.Actor {
	return auth.ActorFrom(r.Context())
}

// online returns the direct service, or answers 503 when offline.
func (h *Handler) online(w http.ResponseWriter) (*reception.Service, bool) {
	svc, res := h.Router.Online()
	if !res.OK() {
		writeJSON(w, http.StatusServiceUnavailable, res)
		return nil, false
	}
	return svc, true
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// respond writes the outcome of an operation. body defaults to res.
func (h *Handler) respond(w http.ResponseWriter, res reception.Result, err error, body any) {
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if body == nil {
		body = res
	}
	switch {
	case !res.OK():
		writeJSON(w, statusFor(res.Failure), body)
	case res.Queued:
		writeJSON(w, http.StatusAccepted, body)
	default:
		writeJSON(w, http.StatusOK, body)
	}
}

func statusFor(f reception.Failure) int {
	switch f {
	case reception.FailUnauthenticated:
		return http.StatusUnauthorized
	case reception.FailBlankReason, reception.FailInvalid:
		return http.StatusBadRequest
	case reception.FailNotFound, reception.FailNoMatch:
		return http.StatusNotFound
	case reception.FailAlreadyVoided, reception.FailAlreadyCorrected, reception.FailConflict:
		return http.StatusConflict
	case reception.FailOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var partial *reception.PartialError
	switch {
	case errors.As(err, &partial):
		h.Log.Error("operation partially applied",
			zap.String("op", partial.Op),
			zap.Strings("completed", partial.Completed),
			zap.String("failed", partial.Failed),
			zap.Error(partial.Err),
		)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:     fmt.Sprintf("%s partially applied", partial.Op),
			Details:   partial.Err.Error(),
			Completed: partial.Completed,
			Failed:    partial.Failed,
		})
	case ledger.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "store unavailable", err)
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
