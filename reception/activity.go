/*
activity.go - Activity Log

PURPOSE:
  Append-only guest lifecycle log, stored twice:
    activities/{occupantId}/{activityId}               {code, who, timestamp}
    activitiesByCode/{code}/{occupantId}/{activityId}  {who, timestamp}

INVARIANT:
  Both projections hold the same (occupantId, activityId) set. Every write
  and every removal touches both in ONE multi-path update.

NOTIFICATION:
  Some codes (reminders, failed payments, agreement received) draft a guest
  email once the activity is committed. The draft runs asynchronously; its
  outcome is delivered on ActivityResult.Notification and logged. A failed
  draft never rolls back the activity.

REMOVAL:
  RemoveLastActivity physically deletes the most recent matching entry.
  This is the one deliberate exception to append-only, used by reversible
  UI toggles (status cycle). No match is a soft failure, not an error.
*/
package reception

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
)

const notifyTimeout = 30 * time.Second

// ActivityResult is returned by AddActivity.
type ActivityResult struct {
	Result
	Activity Activity `json:"activity"`
	// Notification receives exactly one outcome when the code notifies the
	// guest, and is nil otherwise.
	Notification <-chan EmailOutcome `json:"-"`
}

// AddActivity logs code for the occupant.
func (s *Service) AddActivity(ctx context.Context, actor Actor, occupantID string, code ActivityCode) (ActivityResult, error) {
	act := Activity{
		ID:        s.newID("act"),
		Code:      code,
		Who:       actor.Name,
		Timestamp: s.timestamp(),
	}
	return s.RecordActivity(ctx, actor, occupantID, act)
}

// RecordActivity writes a pre-built activity. The offline queue uses it so
// a replayed activity keeps the id and time it was logged with.
func (s *Service) RecordActivity(ctx context.Context, actor Actor, occupantID string, act Activity) (ActivityResult, error) {
	if !actor.Authenticated() {
		return ActivityResult{Result: unauthenticated()}, nil
	}
	if occupantID == "" {
		return ActivityResult{Result: fail(FailInvalid, "occupant id is required")}, nil
	}
	if !act.Code.Valid() {
		return ActivityResult{Result: fail(FailInvalid, "unknown activity code %d", act.Code)}, nil
	}
	if act.ID == "" {
		act.ID = s.newID("act")
	}
	if act.Who == "" {
		act.Who = actor.Name
	}
	if act.Timestamp == "" {
		act.Timestamp = s.timestamp()
	}

	writes := ledger.Writes{}.
		Put(activityPath(occupantID, act.ID), act).
		Put(activityByCodePath(act.Code, occupantID, act.ID), activityByCode{Who: act.Who, Timestamp: act.Timestamp})
	if err := s.store.Update(ctx, writes); err != nil {
		return ActivityResult{}, fmt.Errorf("write activity %d for %s: %w", act.Code, occupantID, err)
	}

	s.log.Info("activity logged",
		zap.String("occupant_id", occupantID),
		zap.Int("code", int(act.Code)),
		zap.String("activity_id", act.ID),
	)

	res := ActivityResult{Result: ok(act.ID), Activity: act}
	if act.Code.NotifiesGuest() && s.notifier != nil {
		res.Notification = s.notifyGuest(ctx, occupantID, act.Code)
	}
	return res, nil
}

func (s *Service) notifyGuest(ctx context.Context, occupantID string, code ActivityCode) <-chan EmailOutcome {
	out := make(chan EmailOutcome, 1)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)

	go func() {
		defer cancel()
		defer close(out)

		outcome := s.draftEmail(ctx, occupantID, code)
		log := s.log.With(
			zap.String("occupant_id", occupantID),
			zap.Int("code", int(code)),
			zap.String("status", string(outcome.Status)),
		)
		if outcome.Status == EmailError {
			log.Warn("guest email failed", zap.String("reason", outcome.Reason))
		} else {
			log.Info("guest email processed", zap.Strings("recipients", outcome.Recipients))
		}
		out <- outcome
	}()
	return out
}

func (s *Service) draftEmail(ctx context.Context, occupantID string, code ActivityCode) EmailOutcome {
	bookingRef, found, err := s.FindBookingRef(ctx, occupantID)
	if err != nil {
		return EmailOutcome{Status: EmailError, Reason: err.Error()}
	}
	if !found {
		return EmailOutcome{Status: EmailDeferred, Reason: "booking reference not found for occupant"}
	}
	outcome, err := s.notifier.DraftGuestEmail(ctx, EmailRequest{
		BookingRef:   bookingRef,
		OccupantID:   occupantID,
		ActivityCode: code,
	})
	if err != nil {
		return EmailOutcome{Status: EmailError, Reason: err.Error()}
	}
	return outcome
}

// FindBookingRef scans bookings/ for the booking holding the occupant.
func (s *Service) FindBookingRef(ctx context.Context, occupantID string) (string, bool, error) {
	var bookings map[string]map[string]json.RawMessage
	if _, err := s.store.Get(ctx, rootBookings, &bookings); err != nil {
		return "", false, fmt.Errorf("resolve booking for %s: %w", occupantID, err)
	}
	refs := make([]string, 0, len(bookings))
	for ref := range bookings {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		if _, ok := bookings[ref][occupantID]; ok {
			return ref, true, nil
		}
	}
	return "", false, nil
}

// ListActivities returns the occupant's log ordered by timestamp.
func (s *Service) ListActivities(ctx context.Context, occupantID string) ([]Activity, error) {
	var raw map[string]Activity
	if _, err := s.store.Get(ctx, ledger.Join(rootActivities, occupantID), &raw); err != nil {
		return nil, fmt.Errorf("read activities for %s: %w", occupantID, err)
	}
	acts := make([]Activity, 0, len(raw))
	for id, a := range raw {
		a.ID = id
		acts = append(acts, a)
	}
	sort.SliceStable(acts, func(i, j int) bool {
		if acts[i].Timestamp == acts[j].Timestamp {
			return acts[i].ID < acts[j].ID
		}
		return activityBefore(acts[i], acts[j])
	})
	return acts, nil
}

func activityBefore(a, b Activity) bool {
	ta, okA := ParseTimestamp(a.Timestamp)
	tb, okB := ParseTimestamp(b.Timestamp)
	if okA && okB {
		return ta.Before(tb)
	}
	return a.Timestamp < b.Timestamp
}

// CountActivities returns how many entries of each code the occupant has.
func (s *Service) CountActivities(ctx context.Context, occupantID string) (map[ActivityCode]int, error) {
	acts, err := s.ListActivities(ctx, occupantID)
	if err != nil {
		return nil, err
	}
	counts := make(map[ActivityCode]int)
	for _, a := range acts {
		counts[a.Code]++
	}
	return counts, nil
}

// RemoveLastActivity deletes the latest entry with the given code from both
// projections. Returns FailNoMatch when the occupant has none.
func (s *Service) RemoveLastActivity(ctx context.Context, actor Actor, occupantID string, code ActivityCode) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	acts, err := s.ListActivities(ctx, occupantID)
	if err != nil {
		return Result{}, err
	}

	var latest *Activity
	for i := len(acts) - 1; i >= 0; i-- {
		if acts[i].Code == code {
			latest = &acts[i]
			break
		}
	}
	if latest == nil {
		return fail(FailNoMatch, "no activity %d for occupant %s", code, occupantID), nil
	}

	writes := ledger.Writes{}.
		Delete(activityPath(occupantID, latest.ID)).
		Delete(activityByCodePath(code, occupantID, latest.ID))
	if err := s.store.Update(ctx, writes); err != nil {
		return Result{}, fmt.Errorf("remove activity %s: %w", latest.ID, err)
	}
	s.log.Info("activity removed",
		zap.String("occupant_id", occupantID),
		zap.Int("code", int(code)),
		zap.String("activity_id", latest.ID),
		zap.String("actor", actor.Name),
	)
	return ok(latest.ID), nil
}

// HasActivity reports whether the occupant's log holds activityID.
func (s *Service) HasActivity(ctx context.Context, occupantID, activityID string) (bool, error) {
	var act Activity
	found, err := s.store.Get(ctx, activityPath(occupantID, activityID), &act)
	if err != nil {
		return false, fmt.Errorf("read activity %s: %w", activityID, err)
	}
	return found, nil
}
