/*
status.go - Status Cycle State Machine

PURPOSE:
  The arrival toggle on a reception row. Each click moves the occupant one
  step around:

    NOT_ARRIVED(0) -> BAGS_DROPPED(23) -> CHECKED_IN(12) -> BAGS_DROPPED(23) -> NOT_ARRIVED(0)

  state = f(n mod 4) with f = [0, 23, 12, 23]. The ledger op for the click
  that takes n to n+1 is [+23, +12, -12, -23][n mod 4]: "+" logs the
  activity, "-" removes the latest one.

COUNTER:
  n lives in the cycle, not in the store. It is seeded once from the
  activity log (count(23) + count(12)) and never resynced, so another
  terminal toggling the same occupant makes the two views diverge. Kept
  that way on purpose; SeedStatusCycle again to resync. n only advances
  when the click's ledger op succeeded.
*/
package reception

import (
	"context"
	"fmt"
	"sync"
)

// ArrivalState is the displayed state: 0 or the code it is shown as.
type ArrivalState int

const (
	NotArrived  ArrivalState = 0
	BagsDropped ArrivalState = ArrivalState(CodeBagsDropped)
	CheckedIn   ArrivalState = ArrivalState(CodeCheckedIn)
)

var cycleStates = [4]ArrivalState{NotArrived, BagsDropped, CheckedIn, BagsDropped}

// CycleOp is the ledger op of one click.
type CycleOp struct {
	Code   ActivityCode `json:"code"`
	Remove bool         `json:"remove"`
}

func (o CycleOp) String() string {
	if o.Remove {
		return fmt.Sprintf("-%d", o.Code)
	}
	return fmt.Sprintf("+%d", o.Code)
}

var cycleOps = [4]CycleOp{
	{Code: CodeBagsDropped},
	{Code: CodeCheckedIn},
	{Code: CodeCheckedIn, Remove: true},
	{Code: CodeBagsDropped, Remove: true},
}

// StateAt returns the state after n clicks.
func StateAt(n int) ArrivalState { return cycleStates[mod4(n)] }

// OpAt returns the op of the click taking n to n+1.
func OpAt(n int) CycleOp { return cycleOps[mod4(n)] }

func mod4(n int) int { return ((n % 4) + 4) % 4 }

// StatusCycle is one terminal's view of one occupant's arrival state.
type StatusCycle struct {
	mu         sync.Mutex
	svc        *Service
	occupantID string
	n          int
}

// NewStatusCycle starts a cycle at n. Use SeedStatusCycle to start from
// the activity log.
func NewStatusCycle(svc *Service, occupantID string, n int) *StatusCycle {
	return &StatusCycle{svc: svc, occupantID: occupantID, n: n}
}

// SeedStatusCycle counts the occupant's bags-dropped and checked-in
// activities to start the cycle.
func SeedStatusCycle(ctx context.Context, svc *Service, occupantID string) (*StatusCycle, error) {
	counts, err := svc.CountActivities(ctx, occupantID)
	if err != nil {
		return nil, err
	}
	return NewStatusCycle(svc, occupantID, counts[CodeBagsDropped]+counts[CodeCheckedIn]), nil
}

// State returns the current state.
func (c *StatusCycle) State() ArrivalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StateAt(c.n)
}

// Count returns the click counter.
func (c *StatusCycle) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// ToggleResult is the outcome of one click.
type ToggleResult struct {
	Result
	Op    CycleOp      `json:"op"`
	State ArrivalState `json:"state"`
}

// Toggle applies the next click. On failure State is unchanged.
func (c *StatusCycle) Toggle(ctx context.Context, actor Actor) (ToggleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op := OpAt(c.n)
	var (
		res Result
		err error
	)
	if op.Remove {
		res, err = c.svc.RemoveLastActivity(ctx, actor, c.occupantID, op.Code)
	} else {
		var ar ActivityResult
		ar, err = c.svc.AddActivity(ctx, actor, c.occupantID, op.Code)
		res = ar.Result
	}
	if err != nil || !res.OK() {
		return ToggleResult{Result: res, Op: op, State: StateAt(c.n)}, err
	}
	c.n++
	return ToggleResult{Result: res, Op: op, State: StateAt(c.n)}, nil
}
