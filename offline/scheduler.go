package offline

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the connectivity probe and the journal flush on cron
// schedules (seconds precision, e.g. "*/15 * * * * *").
type Scheduler struct {
	cron     *cron.Cron
	probe    *Probe
	replayer *Replayer
	log      *zap.Logger
}

func NewScheduler(probe *Probe, replayer *Replayer, loc *time.Location, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		probe:    probe,
		replayer: replayer,
		log:      log,
	}
}

// Register adds the probe and flush jobs. An empty spec disables that job.
func (s *Scheduler) Register(probeSpec, flushSpec string) error {
	if probeSpec != "" && s.probe != nil {
		if _, err := s.cron.AddFunc(probeSpec, func() { s.probe.Check(context.Background()) }); err != nil {
			return err
		}
	}
	if flushSpec != "" && s.replayer != nil {
		_, err := s.cron.AddFunc(flushSpec, func() {
			if _, err := s.replayer.Flush(context.Background()); err != nil && !errors.Is(err, ErrOffline) {
				s.log.Warn("scheduled flush failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}
	s.log.Info("offline jobs registered",
		zap.String("probe", probeSpec),
		zap.String("flush", flushSpec),
	)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
