package offline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
)

// Connectivity is the terminal's view of whether the store is reachable.
type Connectivity interface {
	Online() bool
	// Watch calls fn on every change until the returned cancel is called.
	Watch(fn func(online bool)) (cancel func())
}

// Switch is a settable Connectivity.
type Switch struct {
	online atomic.Bool

	mu       sync.Mutex
	next     int
	watchers map[int]func(bool)
}

func NewSwitch(online bool) *Switch {
	s := &Switch{watchers: make(map[int]func(bool))}
	s.online.Store(online)
	return s
}

func (s *Switch) Online() bool { return s.online.Load() }

// Set records the state and notifies watchers when it changed.
func (s *Switch) Set(online bool) {
	if s.online.Swap(online) == online {
		return
	}
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

func (s *Switch) Watch(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// =============================================================================
// PROBE
// =============================================================================

// DefaultProbePath is read by the probe. Any path works; an absent node is
// the cheapest answer the store can give.
const DefaultProbePath = "probe"

// Probe reads the store and sets the switch from the outcome.
type Probe struct {
	Store   ledger.Store
	Switch  *Switch
	Path    string
	Timeout time.Duration
	Log     *zap.Logger
}

func NewProbe(store ledger.Store, sw *Switch, log *zap.Logger) *Probe {
	if log == nil {
		log = zap.NewNop()
	}
	return &Probe{Store: store, Switch: sw, Path: DefaultProbePath, Timeout: 5 * time.Second, Log: log}
}

// Check runs one probe and returns the resulting state.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var ignored any
	_, err := p.Store.Get(ctx, p.Path, &ignored)
	online := err == nil
	if was := p.Switch.Online(); was != online {
		if online {
			p.Log.Info("store reachable again")
		} else {
			p.Log.Warn("store unreachable, switching to offline queue", zap.Error(err))
		}
	}
	p.Switch.Set(online)
	return online
}
