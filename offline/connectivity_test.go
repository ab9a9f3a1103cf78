package offline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reception-ledger/ledger"
	"github.com/warp/reception-ledger/ledger/store"
)

func TestSwitch_NotifiesOnChangeOnly(t *testing.T) {
	sw := NewSwitch(true)
	var (
		mu   sync.Mutex
		seen []bool
	)
	cancel := sw.Watch(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, online)
	})

	sw.Set(true)
	sw.Set(false)
	sw.Set(false)
	sw.Set(true)
	cancel()
	sw.Set(false)

	assert.False(t, sw.Online())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, seen)
}

// flakyStore fails reads while down.
type flakyStore struct {
	*store.Memory
	down atomic.Bool
}

func (s *flakyStore) Get(ctx context.Context, path string, dest any) (bool, error) {
	if s.down.Load() {
		return false, fmt.Errorf("read %s: %w", path, ledger.ErrStoreUnavailable)
	}
	return s.Memory.Get(ctx, path, dest)
}

func TestProbe_Check(t *testing.T) {
	// GIVEN: a reachable store
	st := &flakyStore{Memory: store.NewMemory()}
	sw := NewSwitch(true)
	probe := NewProbe(st, sw, nil)
	ctx := context.Background()

	require.True(t, probe.Check(ctx))
	assert.True(t, sw.Online())

	// WHEN: reads start failing
	st.down.Store(true)

	// THEN: the switch goes offline, and back online once reads recover
	assert.False(t, probe.Check(ctx))
	assert.False(t, sw.Online())

	st.down.Store(false)
	assert.True(t, probe.Check(ctx))
	assert.True(t, sw.Online())
}

func TestProbe_ReconnectTriggersFlush(t *testing.T) {
	// GIVEN: a write queued while the probe saw the store down
	e := newEnv(t, true)
	st := &flakyStore{Memory: e.store}
	probe := NewProbe(st, e.sw, nil)
	ctx := context.Background()

	st.down.Store(true)
	require.False(t, probe.Check(ctx))
	_, err := e.router.Deferrable().AddActivity(ctx, desk, "occ1", 12)
	require.NoError(t, err)
	require.Len(t, e.pending(t), 1)

	calls := make(chan struct{}, 1)
	stop := e.sw.Watch(func(online bool) {
		if online {
			calls <- struct{}{}
		}
	})
	defer stop()

	// WHEN: the store answers again
	st.down.Store(false)
	probe.Check(ctx)

	// THEN: watchers hear about it and a flush drains the journal
	<-calls
	_, err = e.replayer.Flush(ctx)
	require.NoError(t, err)
	assert.Empty(t, e.pending(t))
}
