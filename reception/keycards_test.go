package reception

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guestCard(number string) GuestKeycardRequest {
	return GuestKeycardRequest{
		KeycardNumber: number,
		BookingRef:    "B1",
		OccupantID:    "occ1",
		DepositMethod: DepositCash,
	}
}

func TestAssignGuestKeycard_CashDepositDefaultsToPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard("0042"))
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)

	a, found, err := f.svc.GetKeycardAssignment(ctx, res.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, AssignmentIssued, a.Status)
	assert.Equal(t, "Anna", a.IssuedBy)
	assert.False(t, a.IsMasterKey)
	assertMoney(t, "10", a.DepositAmount, "deposit")
}

func TestAssignGuestKeycard_DocumentDepositIsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := guestCard("0042")
	req.DepositMethod = DepositDocument
	req.DepositAmount = money("10")

	res, err := f.svc.AssignGuestKeycard(ctx, desk, req)
	require.NoError(t, err)

	a, _, err := f.svc.GetKeycardAssignment(ctx, res.ID)
	require.NoError(t, err)
	assertMoney(t, "0", a.DepositAmount, "deposit")
}

func TestAssignKeycard_OneIssuedAssignmentPerCard(t *testing.T) {
	// GIVEN: Card 0042 issued to a guest
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard("0042"))
	require.NoError(t, err)
	writes := f.store.WriteCount()

	// WHEN: The same card is assigned again, to a guest or as a master key
	again, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard(" 0042 "))
	require.NoError(t, err)
	master, err := f.svc.AssignMasterKey(ctx, desk, "0042", "Housekeeping")
	require.NoError(t, err)

	// THEN: Both conflict, name the existing assignment and write nothing
	assert.Equal(t, FailConflict, again.Failure)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, FailConflict, master.Failure)
	assert.Equal(t, writes, f.store.WriteCount())

	// AND: Once returned, the card can be issued again
	res, err := f.svc.ReturnKeycard(ctx, desk, first.ID)
	require.NoError(t, err)
	require.True(t, res.OK())
	next, err := f.svc.AssignMasterKey(ctx, desk, "0042", "Housekeeping")
	require.NoError(t, err)
	assert.True(t, next.OK(), next.Message)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestAssignMasterKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.AssignMasterKey(ctx, desk, "M-1", "Luca")
	require.NoError(t, err)
	require.True(t, res.OK())

	a, _, err := f.svc.GetKeycardAssignment(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, a.IsMasterKey)
	assert.Equal(t, "Luca", a.StaffName)
	assert.Empty(t, a.OccupantID)
	assert.True(t, a.DepositAmount.IsZero())

	res, err = f.svc.AssignMasterKey(ctx, desk, "M-2", "  ")
	require.NoError(t, err)
	assert.Equal(t, FailInvalid, res.Failure)
}

func TestReturnKeycard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard("0042"))
	require.NoError(t, err)

	res, err := f.svc.ReturnKeycard(ctx, desk, issued.ID)
	require.NoError(t, err)
	require.True(t, res.OK())

	a, _, err := f.svc.GetKeycardAssignment(ctx, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentReturned, a.Status)
	assert.Equal(t, "Anna", a.ReturnedBy)
	assert.NotEmpty(t, a.ReturnedAt)

	// Closing again is refused.
	res, err = f.svc.ReturnKeycard(ctx, desk, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, FailInvalid, res.Failure)

	res, err = f.svc.MarkKeycardLost(ctx, desk, "kca_missing")
	require.NoError(t, err)
	assert.Equal(t, FailNotFound, res.Failure)
}

func TestMarkKeycardLost_LogsActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard("0042"))
	require.NoError(t, err)

	res, err := f.svc.MarkKeycardLost(ctx, desk, issued.ID)
	require.NoError(t, err)
	require.True(t, res.OK())

	a, _, err := f.svc.GetKeycardAssignment(ctx, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentLost, a.Status)
	assert.Equal(t, "Anna", a.LostBy)
	assert.Equal(t, []ActivityCode{CodeKeycardLost}, f.codes(t, "occ1"))
}

func TestMarkKeycardLost_ActivityFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard("0042"))
	require.NoError(t, err)
	f.store.InjectFault("activities", errors.New("down"))

	_, err = f.svc.MarkKeycardLost(ctx, desk, issued.ID)

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"assignment"}, partial.Completed)
	a, _, err := f.svc.GetKeycardAssignment(ctx, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentLost, a.Status)
}

func TestAssignKeycard_PunctuatedNumbersAreDistinctCards(t *testing.T) {
	// GIVEN: Card K.1 issued to a guest
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard("K.1"))
	require.NoError(t, err)
	require.True(t, first.OK(), first.Message)

	// WHEN: Cards K_1 and K/1 are issued
	underscore, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard("K_1"))
	require.NoError(t, err)
	slash, err := f.svc.AssignMasterKey(ctx, desk, "K/1", "Housekeeping")
	require.NoError(t, err)

	// THEN: Neither conflicts with K.1
	assert.True(t, underscore.OK(), underscore.Message)
	assert.True(t, slash.OK(), slash.Message)

	// AND: Reissuing K.1 still conflicts with its own assignment
	again, err := f.svc.AssignGuestKeycard(ctx, desk, guestCard("K.1"))
	require.NoError(t, err)
	assert.Equal(t, FailConflict, again.Failure)
	assert.Equal(t, first.ID, again.ID)
}
