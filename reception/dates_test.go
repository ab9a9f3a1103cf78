package reception

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staying seeds booking B1 with occ1 from 2024-01-03 to 2024-01-05.
func staying(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Update(ctx, map[string]any{
		"bookings/B1/occ1":          map[string]any{"checkInDate": "2024-01-03", "checkOutDate": "2024-01-05", "roomNumber": "101"},
		"checkins/2024-01-03/occ1":  dateIndexEntry{ReservationCode: "B1", Timestamp: "2024-01-01T10:00:00.000Z"},
		"checkouts/2024-01-05/occ1": dateIndexEntry{ReservationCode: "B1", Timestamp: "2024-01-01T10:00:00.000Z"},
	}))
	return f
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()
	var v any
	found, err := f.store.Get(context.Background(), path, &v)
	require.NoError(t, err)
	return found
}

func TestUpdateBookingDates_ExtensionBillsChargeAndPayment(t *testing.T) {
	// GIVEN: A stay ending 2024-01-05
	f := staying(t)
	ctx := context.Background()
	change := DateChange{
		BookingRef: "B1", OccupantID: "occ1",
		OldCheckOut: "2024-01-05", NewCheckOut: "2024-01-07",
		ExtendedPrice: "15",
	}

	// WHEN: It is extended to 2024-01-07 for 15
	res, err := f.svc.UpdateBookingDates(ctx, desk, change)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)

	// THEN: The booking and the check-out index move
	assert.True(t, res.CheckOutMoved)
	assert.False(t, res.CheckInMoved)
	var booking map[string]string
	_, err = f.store.Get(ctx, "bookings/B1/occ1", &booking)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-07", booking["checkOutDate"])
	assert.Equal(t, "2024-01-03", booking["checkInDate"])
	assert.Equal(t, "101", booking["roomNumber"])
	assert.False(t, f.exists(t, "checkouts/2024-01-05/occ1"))

	var entry dateIndexEntry
	found, err := f.store.Get(ctx, "checkouts/2024-01-07/occ1", &entry)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "B1", entry.ReservationCode)

	// AND: Activity 24 is logged once
	assert.Equal(t, []ActivityCode{CodeCheckOutDateChanged}, f.codes(t, "occ1"))

	// AND: One charge and one payment of 15 are booked
	rl, err := f.svc.GetFinancialsRoom(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, rl.Transactions, 2)
	require.Len(t, res.ExtensionTxns, 2)
	charge := rl.Transactions[res.ExtensionTxns[0]]
	payment := rl.Transactions[res.ExtensionTxns[1]]
	assert.Equal(t, TxCharge, charge.Type)
	assert.True(t, charge.NonRefundable)
	assertMoney(t, "15", charge.Amount, "charge")
	assert.Equal(t, TxPayment, payment.Type)
	assertMoney(t, "15", payment.Amount, "payment")
	assertMoney(t, "15", rl.TotalDue, "totalDue")
	assertMoney(t, "0", rl.Balance, "balance")

	// AND: Re-running the same change does not bill twice
	_, err = f.svc.UpdateBookingDates(ctx, desk, change)
	require.NoError(t, err)
	rl, err = f.svc.GetFinancialsRoom(ctx, "B1")
	require.NoError(t, err)
	assert.Len(t, rl.Transactions, 2)
}

func TestUpdateBookingDates_CheckInMove(t *testing.T) {
	f := staying(t)

	res, err := f.svc.UpdateBookingDates(context.Background(), desk, DateChange{
		BookingRef: "B1", OccupantID: "occ1",
		OldCheckIn: "2024-01-03", NewCheckIn: "2024-01-02",
	})

	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)
	assert.True(t, res.CheckInMoved)
	assert.False(t, f.exists(t, "checkins/2024-01-03/occ1"))
	assert.True(t, f.exists(t, "checkins/2024-01-02/occ1"))
	assert.True(t, f.exists(t, "checkouts/2024-01-05/occ1"), "check-out untouched")
	assert.Equal(t, []ActivityCode{CodeCheckInDateChanged}, f.codes(t, "occ1"))
	assert.Empty(t, res.ExtensionTxns)
}

func TestUpdateBookingDates_ShorterStayIsNotBilled(t *testing.T) {
	f := staying(t)

	res, err := f.svc.UpdateBookingDates(context.Background(), desk, DateChange{
		BookingRef: "B1", OccupantID: "occ1",
		OldCheckOut: "2024-01-05", NewCheckOut: "2024-01-04",
		ExtendedPrice: "15",
	})

	require.NoError(t, err)
	assert.True(t, res.CheckOutMoved)
	assert.Empty(t, res.ExtensionTxns)
	rl, err := f.svc.GetFinancialsRoom(context.Background(), "B1")
	require.NoError(t, err)
	assert.Empty(t, rl.Transactions)
}

func TestUpdateBookingDates_Validation(t *testing.T) {
	tests := []struct {
		name   string
		change DateChange
	}{
		{"missing occupant", DateChange{BookingRef: "B1", NewCheckOut: "2024-01-07"}},
		{"nothing changed", DateChange{BookingRef: "B1", OccupantID: "occ1", OldCheckOut: "2024-01-05", NewCheckOut: "2024-01-05"}},
		{"bad date", DateChange{BookingRef: "B1", OccupantID: "occ1", OldCheckOut: "2024-01-05", NewCheckOut: "07/01/2024"}},
		{"bad price", DateChange{BookingRef: "B1", OccupantID: "occ1", OldCheckOut: "2024-01-05", NewCheckOut: "2024-01-07", ExtendedPrice: "fifteen"}},
		{"negative price", DateChange{BookingRef: "B1", OccupantID: "occ1", OldCheckOut: "2024-01-05", NewCheckOut: "2024-01-07", ExtendedPrice: "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := staying(t)
			writes := f.store.WriteCount()

			res, err := f.svc.UpdateBookingDates(context.Background(), desk, tt.change)

			require.NoError(t, err)
			assert.Equal(t, FailInvalid, res.Failure)
			assert.Equal(t, writes, f.store.WriteCount())
		})
	}
}

func TestUpdateBookingDates_IndexFailureIsPartial(t *testing.T) {
	// GIVEN: The check-out index cannot be written
	f := staying(t)
	f.store.InjectFault("checkouts", errors.New("down"))

	// WHEN: The stay is extended
	_, err := f.svc.UpdateBookingDates(context.Background(), desk, DateChange{
		BookingRef: "B1", OccupantID: "occ1",
		OldCheckOut: "2024-01-05", NewCheckOut: "2024-01-07", ExtendedPrice: "15",
	})

	// THEN: Only the booking record was written
	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"booking"}, partial.Completed)
	assert.Equal(t, "checkout index", partial.Failed)
	assert.Empty(t, f.codes(t, "occ1"))
}
