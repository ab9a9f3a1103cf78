package offline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Register(t *testing.T) {
	e := newEnv(t, true)
	probe := NewProbe(e.store, e.sw, nil)

	tests := []struct {
		name    string
		probe   string
		flush   string
		entries int
		wantErr bool
	}{
		{name: "both jobs", probe: "*/15 * * * * *", flush: "0 */5 * * * *", entries: 2},
		{name: "probe only", probe: "*/15 * * * * *", entries: 1},
		{name: "disabled", entries: 0},
		{name: "bad probe spec", probe: "every minute", wantErr: true},
		{name: "bad flush spec", flush: "* * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(probe, e.replayer, time.UTC, nil)
			err := s.Register(tt.probe, tt.flush)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.entries, s.Entries())
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	e := newEnv(t, false)
	s := NewScheduler(NewProbe(e.store, e.sw, nil), e.replayer, nil, nil)
	require.NoError(t, s.Register("* * * * * *", ""))

	s.Start()
	assert.Eventually(t, func() bool { return e.sw.Online() }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}
