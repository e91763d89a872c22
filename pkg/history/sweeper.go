package history

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSweepSchedule runs the sweeper every five minutes
const DefaultSweepSchedule = "*/5 * * * *"

// Sweeper periodically fails entries abandoned mid-request
type Sweeper struct {
	recorder   *Recorder
	staleAfter time.Duration
	cron       *cron.Cron
	logger     logrus.FieldLogger
	onSwept    func(n int64)
}

// NewSweeper schedules SweepStale on a standard five-field cron schedule.
// onSwept, if set, receives the number of entries moved by each run.
func NewSweeper(recorder *Recorder, schedule string, staleAfter time.Duration, logger logrus.FieldLogger, onSwept func(n int64)) (*Sweeper, error) {
	if staleAfter <= 0 {
		return nil, fmt.Errorf("stale-after must be positive, got %s", staleAfter)
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Sweeper{
		recorder:   recorder,
		staleAfter: staleAfter,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     logger,
		onSwept:    onSwept,
	}
	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.WithField("stale_after", s.staleAfter).Info("History sweeper started")
}

// Stop halts the schedule and waits for a running sweep or ctx, whichever
// comes first
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce sweeps immediately
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	moved, err := s.recorder.SweepStale(ctx, s.staleAfter)
	if err != nil {
		return 0, err
	}
	if s.onSwept != nil {
		s.onSwept(moved)
	}
	return moved, nil
}

func (s *Sweeper) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// errors are logged by the recorder
	_, _ = s.RunOnce(ctx)
}
