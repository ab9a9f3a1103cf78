/*
handlers_test.go - HTTP tests for the reception API

Tests for:
- Status mapping of results and errors (400/401/404/409/502/503)
- Queued writes answering 202 while offline
- Manual connectivity and journal flush
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reception-ledger/auth"
	"github.com/warp/reception-ledger/ledger/store"
	"github.com/warp/reception-ledger/offline"
	"github.com/warp/reception-ledger/reception"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// =============================================================================
// TEST HELPERS
// =============================================================================

type testAPI struct {
	t       *testing.T
	store   *store.Memory
	sw      *offline.Switch
	journal *offline.MemoryJournal
	mux     *chi.Mux
	token   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := store.NewMemory()
	svc := reception.NewService(st)
	journal := offline.NewMemoryJournal()
	sw := offline.NewSwitch(true)
	queue := offline.NewQueue(journal, svc, nil)
	router := offline.NewRouter(svc, queue, sw)
	replayer := offline.NewReplayer(journal, svc, sw, nil)

	verifier := auth.NewJWT(testSecret, "reception-ledger")
	token, err := verifier.Issue(reception.Actor{UID: "u-1", Name: "Anna"}, time.Hour)
	require.NoError(t, err)

	h := NewHandler(router, replayer, journal, sw, nil)
	return &testAPI{
		t:       t,
		store:   st,
		sw:      sw,
		journal: journal,
		mux:     NewRouter(h, RouterOptions{Verifier: verifier}),
		token:   token,
	}
}

// do sends an authenticated request with body encoded as JSON.
func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	return a.send(method, path, body, a.token)
}

func (a *testAPI) send(method, path string, body any, token string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// pay takes a 100 cash room payment and returns its transaction id.
func (a *testAPI) pay(bookingRef string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/bookings/"+bookingRef+"/payments", map[string]any{
		"occupantId": "occ1",
		"splits":     []map[string]any{{"amount": 100, "method": "cash"}},
	})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[reception.PaymentResult](a.t, rec)
	require.Len(a.t, res.TransactionIDs, 1)
	return res.TransactionIDs[0]
}

// =============================================================================
// TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	rec := a.send(http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
}

func TestRoomPayment(t *testing.T) {
	// GIVEN: an online terminal
	a := newTestAPI(t)

	// WHEN: a payment is taken
	id := a.pay("B1")

	// THEN: the room ledger and the mirror both hold it
	rec := a.do(http.MethodGet, "/api/financials/B1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rl := decodeBody[reception.RoomLedger](t, rec)
	assert.Equal(t, "100", rl.TotalPaid.String())
	assert.Equal(t, "-100", rl.Balance.String())

	rec = a.do(http.MethodGet, "/api/transactions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[TransactionDTO](t, rec)
	assert.Equal(t, "active", dto.State)
	assert.Equal(t, "Anna", dto.Transaction.UserName)
}

func TestUnauthenticated(t *testing.T) {
	a := newTestAPI(t)

	t.Run("no token reaches the service anonymous", func(t *testing.T) {
		rec := a.send(http.MethodPost, "/api/occupants/occ1/activities", AddActivityRequest{Code: reception.CodeCheckedIn}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		res := decodeBody[reception.Result](t, rec)
		assert.Equal(t, reception.FailUnauthenticated, res.Failure)
	})

	t.Run("bad token is refused by the middleware", func(t *testing.T) {
		rec := a.send(http.MethodPost, "/api/occupants/occ1/activities", AddActivityRequest{Code: reception.CodeCheckedIn}, "forged")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestVoidTransaction(t *testing.T) {
	a := newTestAPI(t)
	id := a.pay("B1")

	t.Run("unknown transaction", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/transactions/nope/void", VoidRequest{Reason: "typo"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("void then void again", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/transactions/"+id+"/void", VoidRequest{Reason: "wrong card"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = a.do(http.MethodPost, "/api/transactions/"+id+"/void", VoidRequest{Reason: "wrong card"})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = a.do(http.MethodGet, "/api/transactions/"+id, nil)
		assert.Equal(t, "voided", decodeBody[TransactionDTO](t, rec).State)

		rec = a.do(http.MethodGet, "/api/financials/B1", nil)
		assert.Equal(t, "0", decodeBody[reception.RoomLedger](t, rec).Balance.String())
	})
}

func TestPutTransaction_ExistingIDConflicts(t *testing.T) {
	// GIVEN: a payment already in the mirror
	a := newTestAPI(t)
	id := a.pay("B1")

	// WHEN: another entry is put under the same id
	rec := a.do(http.MethodPut, "/api/transactions/"+id, map[string]any{
		"bookingRef": "B1",
		"amount":     999,
		"type":       reception.TxPayment,
	})

	// THEN: it is refused and the original amount stays
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	rec = a.do(http.MethodGet, "/api/transactions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", decodeBody[TransactionDTO](t, rec).Transaction.Amount.String())
}

func TestCorrectTransaction(t *testing.T) {
	a := newTestAPI(t)
	id := a.pay("B1")

	rec := a.do(http.MethodPost, "/api/transactions/"+id+"/corrections", map[string]any{
		"updates": map[string]any{"amount": 80},
		"reason":  " ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, reception.FailBlankReason, decodeBody[reception.Result](t, rec).Failure)

	rec = a.do(http.MethodPost, "/api/transactions/"+id+"/corrections", map[string]any{
		"updates": map[string]any{"amount": 80},
		"reason":  "keyed wrong amount",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[reception.CorrectionResult](t, rec)
	assert.NotEmpty(t, res.ReversalID)
	assert.NotEmpty(t, res.ReplacementID)

	rec = a.do(http.MethodGet, "/api/transactions/"+id, nil)
	dto := decodeBody[TransactionDTO](t, rec)
	assert.Equal(t, "corrected", dto.State)
	assert.Equal(t, res.ReplacementID, dto.ReplacementID)

	rec = a.do(http.MethodPost, "/api/transactions/"+id+"/corrections", map[string]any{
		"updates": map[string]any{"amount": 70},
		"reason":  "again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPartialWrite(t *testing.T) {
	// GIVEN: a store that refuses activity writes
	a := newTestAPI(t)
	a.store.InjectFault("activities", errors.New("disk full"))

	// WHEN: a payment is taken
	rec := a.do(http.MethodPost, "/api/bookings/B1/payments", map[string]any{
		"occupantId": "occ1",
		"splits":     []map[string]any{{"amount": 40, "method": "card"}},
	})

	// THEN: the response names what was applied and what was not
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	body := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, body.Completed, "room ledger")
	assert.Equal(t, "activity", body.Failed)
	assert.Contains(t, body.Details, "disk full")
}

func TestOffline(t *testing.T) {
	// GIVEN: the terminal is switched offline
	a := newTestAPI(t)
	rec := a.do(http.MethodPut, "/api/connectivity", ConnectivityRequest{Online: false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[ConnectivityDTO](t, rec).Online)

	t.Run("queueable writes answer 202", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/occupants/occ1/activities", AddActivityRequest{Code: reception.CodeCheckedIn})
		assert.Equal(t, http.StatusAccepted, rec.Code)
		res := decodeBody[reception.ActivityResult](t, rec)
		assert.True(t, res.Queued)
	})

	t.Run("online-only operations answer 503", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/transactions/t1/void", VoidRequest{Reason: "x"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, reception.FailOffline, decodeBody[reception.Result](t, rec).Failure)

		rec = a.do(http.MethodGet, "/api/occupants/occ1/activities", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("flush refuses while offline", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/sync/flush", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("pending entries are counted", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/api/connectivity", nil)
		assert.Equal(t, 1, decodeBody[ConnectivityDTO](t, rec).Pending)
	})

	t.Run("back online, flush replays the journal", func(t *testing.T) {
		// The reconnect hook is not installed here, so nothing flushes on its own.
		rec := a.do(http.MethodPut, "/api/connectivity", ConnectivityRequest{Online: true})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = a.do(http.MethodPost, "/api/sync/flush", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decodeBody[offline.FlushReport](t, rec).Applied)

		rec = a.do(http.MethodGet, "/api/occupants/occ1/activities", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		acts := decodeBody[[]ActivityDTO](t, rec)
		require.Len(t, acts, 1)
		assert.Equal(t, reception.CodeCheckedIn, acts[0].Code)
	})
}

func TestRejectedEntries(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/sync/rejected", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[RejectedDTO](t, rec).Entries)
}

func TestStatusToggle(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/occupants/occ1/status/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	toggle := decodeBody[ToggleDTO](t, rec)
	assert.Equal(t, reception.ArrivalState(23), toggle.State)

	rec = a.do(http.MethodGet, "/api/occupants/occ1/status", nil)
	status := decodeBody[StatusDTO](t, rec)
	assert.Equal(t, 1, status.Count)
	assert.Equal(t, reception.ArrivalState(23), status.State)
}

func TestKeycards(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/keycards/master", MasterKeyRequest{KeycardNumber: "K-7", StaffName: "Bo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decodeBody[reception.Result](t, rec).ID

	rec = a.do(http.MethodPost, "/api/keycards/master", MasterKeyRequest{KeycardNumber: "K-7", StaffName: "Cy"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/keycards/"+id+"/return", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodGet, "/api/keycards/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/nowhere", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", decodeBody[ErrorResponse](t, rec).Error)
}
