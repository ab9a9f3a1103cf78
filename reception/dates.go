/*
dates.go - Booking-Date Mutator

PURPOSE:
  Moves a stay's check-in and/or check-out and keeps the date indices,
  the activity log and the room ledger in step.

STEPS (each its own store call, no overall atomicity):
  1. bookings/{ref}/{occupant}: checkInDate / checkOutDate
  2. check-in moved:  checkins/{old}/{occupant} removed, checkins/{new}/{occupant}
     written, activity 19
  3. check-out moved: same on checkouts/, activity 24
  4. check-out later and extendedPrice > 0: a charge and a matching payment
     of extendedPrice booked on the room ledger

  A failing step after the first returns *PartialError naming what was
  written. Re-running converges: index writes are idempotent and the ledger
  pair is keyed by ids derived from the request.
*/
package reception

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
)

const dateLayout = "2006-01-02"

// DateChange describes a stay move. Empty New* fields leave that side alone.
type DateChange struct {
	BookingRef    string `json:"bookingRef"`
	OccupantID    string `json:"occupantId"`
	OldCheckIn    string `json:"oldCheckIn,omitempty"`
	NewCheckIn    string `json:"newCheckIn,omitempty"`
	OldCheckOut   string `json:"oldCheckOut,omitempty"`
	NewCheckOut   string `json:"newCheckOut,omitempty"`
	ExtendedPrice string `json:"extendedPrice,omitempty"`
}

type dateIndexEntry struct {
	ReservationCode string `json:"reservationCode"`
	Timestamp       string `json:"timestamp"`
}

// DateChangeResult lists what UpdateBookingDates did.
type DateChangeResult struct {
	Result
	CheckInMoved  bool     `json:"checkInMoved"`
	CheckOutMoved bool     `json:"checkOutMoved"`
	ExtensionTxns []string `json:"extensionTxns,omitempty"`
}

func parseDate(field, v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q is not a YYYY-MM-DD date", field, v)
	}
	return t, nil
}

// UpdateBookingDates applies a stay move.
func (s *Service) UpdateBookingDates(ctx context.Context, actor Actor, c DateChange) (DateChangeResult, error) {
	if !actor.Authenticated() {
		return DateChangeResult{Result: unauthenticated()}, nil
	}
	if c.BookingRef == "" || c.OccupantID == "" {
		return DateChangeResult{Result: fail(FailInvalid, "booking reference and occupant id are required")}, nil
	}

	moveIn := c.NewCheckIn != "" && c.NewCheckIn != c.OldCheckIn
	moveOut := c.NewCheckOut != "" && c.NewCheckOut != c.OldCheckOut
	if !moveIn && !moveOut {
		return DateChangeResult{Result: fail(FailInvalid, "no date changed")}, nil
	}

	for field, v := range map[string]string{
		"oldCheckIn": c.OldCheckIn, "newCheckIn": c.NewCheckIn,
		"oldCheckOut": c.OldCheckOut, "newCheckOut": c.NewCheckOut,
	} {
		if v == "" {
			continue
		}
		if _, err := parseDate(field, v); err != nil {
			return DateChangeResult{Result: fail(FailInvalid, "%s", err)}, nil
		}
	}

	price := decimal.Zero
	if c.ExtendedPrice != "" {
		p, err := ledger.ParseMoney(c.ExtendedPrice)
		if err != nil || p.IsNegative() {
			return DateChangeResult{Result: fail(FailInvalid, "extended price %q is not a valid amount", c.ExtendedPrice)}, nil
		}
		price = p
	}
	extend := false
	if moveOut && c.OldCheckOut != "" && price.IsPositive() {
		oldOut, _ := parseDate("oldCheckOut", c.OldCheckOut)
		newOut, _ := parseDate("newCheckOut", c.NewCheckOut)
		extend = newOut.After(oldOut)
	}

	res := DateChangeResult{Result: ok(c.OccupantID)}
	st := steps{op: "update booking dates " + c.BookingRef + "/" + c.OccupantID}
	now := s.timestamp()

	// 1. booking record
	booking := bookingPath(c.BookingRef, c.OccupantID)
	writes := ledger.Writes{}
	if moveIn {
		writes.Put(booking+"/checkInDate", c.NewCheckIn)
	}
	if moveOut {
		writes.Put(booking+"/checkOutDate", c.NewCheckOut)
	}
	if err := s.store.Update(ctx, writes); err != nil {
		return DateChangeResult{}, st.fail("booking", err)
	}
	st.commit("booking")

	entry := dateIndexEntry{ReservationCode: c.BookingRef, Timestamp: now}

	// 2. check-in index
	if moveIn {
		if err := s.moveIndex(ctx, checkinPath, c.OldCheckIn, c.NewCheckIn, c.OccupantID, entry); err != nil {
			return DateChangeResult{}, st.fail("checkin index", err)
		}
		st.commit("checkin index")
		if _, err := s.AddActivity(ctx, actor, c.OccupantID, CodeCheckInDateChanged); err != nil {
			return DateChangeResult{}, st.fail("checkin activity", err)
		}
		st.commit("checkin activity")
		res.CheckInMoved = true
	}

	// 3. check-out index
	if moveOut {
		if err := s.moveIndex(ctx, checkoutPath, c.OldCheckOut, c.NewCheckOut, c.OccupantID, entry); err != nil {
			return DateChangeResult{}, st.fail("checkout index", err)
		}
		st.commit("checkout index")
		if _, err := s.AddActivity(ctx, actor, c.OccupantID, CodeCheckOutDateChanged); err != nil {
			return DateChangeResult{}, st.fail("checkout activity", err)
		}
		st.commit("checkout activity")
		res.CheckOutMoved = true
	}

	// 4. extension billing
	if extend {
		chargeID, paymentID := extensionIDs(c)
		desc := fmt.Sprintf("Extension %s to %s", c.OldCheckOut, c.NewCheckOut)
		patch := RoomLedgerPatch{Transactions: map[string]RoomTransaction{
			chargeID: {
				Amount: price, Type: TxCharge, OccupantID: c.OccupantID, BookingRef: c.BookingRef,
				Timestamp: now, NonRefundable: true, Description: desc,
			},
			paymentID: {
				Amount: price, Type: TxPayment, OccupantID: c.OccupantID, BookingRef: c.BookingRef,
				Timestamp: now, Description: desc,
			},
		}}
		if _, err := s.SaveFinancialsRoom(ctx, actor, c.BookingRef, patch); err != nil {
			return DateChangeResult{}, st.fail("extension billing", err)
		}
		res.ExtensionTxns = []string{chargeID, paymentID}
	}

	s.log.Info("booking dates updated",
		zap.String("booking_ref", c.BookingRef),
		zap.String("occupant_id", c.OccupantID),
		zap.Bool("check_in_moved", res.CheckInMoved),
		zap.Bool("check_out_moved", res.CheckOutMoved),
		zap.Bool("extended", extend),
	)
	return res, nil
}

// moveIndex drops the occupant from the old date bucket and adds it to the
// new one. The two paths are siblings of different parents, so one update
// covers both.
func (s *Service) moveIndex(ctx context.Context, at func(date, occupantID string) string, oldDate, newDate, occupantID string, entry dateIndexEntry) error {
	writes := ledger.Writes{}.Put(at(newDate, occupantID), entry)
	if oldDate != "" {
		writes.Delete(at(oldDate, occupantID))
	}
	return s.store.Update(ctx, writes)
}

// extensionIDs are stable per request, so a retried extension overwrites
// its own pair instead of billing twice.
func extensionIDs(c DateChange) (string, string) {
	key := ledger.SafeKey(c.OccupantID + "_" + c.OldCheckOut + "_" + c.NewCheckOut)
	return "ext_" + key + "_charge", "ext_" + key + "_payment"
}
