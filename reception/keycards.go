package reception

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
)

// =============================================================================
// KEYCARD ASSIGNMENTS
// =============================================================================
//
// keycardAssignments/{assignmentId} holds the assignment; the status of
// every assignment is also kept under
// keycardAssignmentsByNumber/{keycardNumber}/{assignmentId} and written in
// the same update, so the uniqueness check reads one small node.
//
// UNIQUENESS: at most one "issued" assignment per keycard number. This is
// check-then-act: two terminals assigning the same card at the same moment
// can both pass the check. The store offers no constraint to close that
// window (see DESIGN.md, open question 3).

// GuestKeycardRequest assigns a card to a guest.
type GuestKeycardRequest struct {
	KeycardNumber string          `json:"keycardNumber"`
	BookingRef    string          `json:"bookingRef"`
	OccupantID    string          `json:"occupantId"`
	DepositMethod DepositType     `json:"depositMethod"`
	DepositAmount decimal.Decimal `json:"depositAmount"`
}

// AssignGuestKeycard issues a card to an occupant.
func (s *Service) AssignGuestKeycard(ctx context.Context, actor Actor, req GuestKeycardRequest) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if req.BookingRef == "" || req.OccupantID == "" {
		return fail(FailInvalid, "booking reference and occupant id are required"), nil
	}
	if !req.DepositMethod.Valid() {
		return fail(FailInvalid, "unknown deposit method %q", req.DepositMethod), nil
	}
	deposit, _ := s.expectedDeposit(ItemKeycard, req.DepositMethod, 1)
	if req.DepositMethod == DepositCash && !req.DepositAmount.IsZero() {
		deposit = req.DepositAmount
	}
	return s.assignKeycard(ctx, actor, KeycardAssignment{
		KeycardNumber: req.KeycardNumber,
		BookingRef:    req.BookingRef,
		OccupantID:    req.OccupantID,
		DepositMethod: req.DepositMethod,
		DepositAmount: deposit,
	})
}

// AssignMasterKey issues a card to a staff member. No deposit is taken.
func (s *Service) AssignMasterKey(ctx context.Context, actor Actor, keycardNumber, staffName string) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	if strings.TrimSpace(staffName) == "" {
		return fail(FailInvalid, "staff name is required"), nil
	}
	return s.assignKeycard(ctx, actor, KeycardAssignment{
		KeycardNumber: keycardNumber,
		StaffName:     staffName,
		IsMasterKey:   true,
	})
}

func (s *Service) assignKeycard(ctx context.Context, actor Actor, a KeycardAssignment) (Result, error) {
	a.KeycardNumber = strings.TrimSpace(a.KeycardNumber)
	if a.KeycardNumber == "" {
		return fail(FailInvalid, "keycard number is required"), nil
	}

	issued, err := s.issuedAssignment(ctx, a.KeycardNumber)
	if err != nil {
		return Result{}, err
	}
	if issued != "" {
		return Result{
			ID:      issued,
			Failure: FailConflict,
			Message: fmt.Sprintf("keycard %s is already issued (assignment %s)", a.KeycardNumber, issued),
		}, nil
	}

	id := s.newID("kca")
	a.Status = AssignmentIssued
	a.IssuedAt = s.timestamp()
	a.IssuedBy = actor.Name

	writes := ledger.Writes{}.
		Put(keycardPath(id), a).
		Put(ledger.Join(keycardIndexPath(a.KeycardNumber), id), AssignmentIssued)
	if err := s.store.Update(ctx, writes); err != nil {
		return Result{}, fmt.Errorf("write keycard assignment %s: %w", a.KeycardNumber, err)
	}
	s.log.Info("keycard assigned",
		zap.String("keycard", a.KeycardNumber),
		zap.String("assignment_id", id),
		zap.Bool("master", a.IsMasterKey),
		zap.String("actor", actor.Name),
	)
	return ok(id), nil
}

// issuedAssignment returns the id of the issued assignment for the card, or "".
func (s *Service) issuedAssignment(ctx context.Context, keycardNumber string) (string, error) {
	var index map[string]AssignmentStatus
	if _, err := s.store.Get(ctx, keycardIndexPath(keycardNumber), &index); err != nil {
		return "", fmt.Errorf("read keycard index %s: %w", keycardNumber, err)
	}
	for id, status := range index {
		if status == AssignmentIssued {
			return id, nil
		}
	}
	return "", nil
}

// GetKeycardAssignment reads one assignment.
func (s *Service) GetKeycardAssignment(ctx context.Context, assignmentID string) (KeycardAssignment, bool, error) {
	var a KeycardAssignment
	found, err := s.store.Get(ctx, keycardPath(assignmentID), &a)
	if err != nil {
		return KeycardAssignment{}, false, fmt.Errorf("read keycard assignment %s: %w", assignmentID, err)
	}
	return a, found, nil
}

// ReturnKeycard closes an issued assignment as returned.
func (s *Service) ReturnKeycard(ctx context.Context, actor Actor, assignmentID string) (Result, error) {
	return s.closeAssignment(ctx, actor, assignmentID, AssignmentReturned)
}

// MarkKeycardLost closes an issued assignment as lost.
func (s *Service) MarkKeycardLost(ctx context.Context, actor Actor, assignmentID string) (Result, error) {
	return s.closeAssignment(ctx, actor, assignmentID, AssignmentLost)
}

func (s *Service) closeAssignment(ctx context.Context, actor Actor, assignmentID string, status AssignmentStatus) (Result, error) {
	if !actor.Authenticated() {
		return unauthenticated(), nil
	}
	a, found, err := s.GetKeycardAssignment(ctx, assignmentID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return fail(FailNotFound, "keycard assignment %s not found", assignmentID), nil
	}
	if a.Status != AssignmentIssued {
		return fail(FailInvalid, "keycard assignment %s is %s", assignmentID, a.Status), nil
	}

	now := s.timestamp()
	base := keycardPath(assignmentID)
	writes := ledger.Writes{}.
		Put(base+"/status", status).
		Put(ledger.Join(keycardIndexPath(a.KeycardNumber), assignmentID), status)
	switch status {
	case AssignmentReturned:
		writes.Put(base+"/returnedAt", now).Put(base+"/returnedBy", actor.Name)
	case AssignmentLost:
		writes.Put(base+"/lostAt", now).Put(base+"/lostBy", actor.Name)
	}
	if err := s.store.Update(ctx, writes); err != nil {
		return Result{}, fmt.Errorf("close keycard assignment %s: %w", assignmentID, err)
	}

	if status == AssignmentLost && a.OccupantID != "" {
		if _, err := s.AddActivity(ctx, actor, a.OccupantID, CodeKeycardLost); err != nil {
			return Result{}, (&steps{op: "mark keycard lost", done: []string{"assignment"}}).fail("activity", err)
		}
	}
	return ok(assignmentID), nil
}
