package history

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// AbandonedMessage is the error recorded on entries failed by the sweeper
const AbandonedMessage = "abandoned before completion"

// StatusObserver is notified of every status an entry reaches
type StatusObserver func(entryType Type, status Status)

// Recorder drives entries through their lifecycle. Writes after the entry
// exists run detached from the request context so a client disconnect does
// not leave the entry pending.
type Recorder struct {
	store    Store
	logger   logrus.FieldLogger
	observer StatusObserver
}

// NewRecorder creates a recorder on top of store
func NewRecorder(store Store, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		store:  store,
		logger: logger,
	}
}

// WithObserver sets a callback invoked after each persisted status
func (r *Recorder) WithObserver(observer StatusObserver) *Recorder {
	r.observer = observer
	return r
}

// Store returns the underlying store
func (r *Recorder) Store() Store {
	return r.store
}

// Begin creates e as a pending entry
func (r *Recorder) Begin(ctx context.Context, e *Entry) (*Run, error) {
	if err := r.store.Create(ctx, e); err != nil {
		r.logger.WithError(err).WithField("user_id", e.UserID).Error("Failed to create history entry")
		return nil, err
	}
	r.observe(e.Type, StatusPending)

	return &Run{
		recorder: r,
		entry:    e,
		logger: r.logger.WithFields(logrus.Fields{
			"log_id":  e.ID,
			"user_id": e.UserID,
			"type":    e.Type,
		}),
	}, nil
}

// SweepStale fails entries left pending or processing for longer than staleAfter
func (r *Recorder) SweepStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	moved, err := r.store.FailStale(ctx, cutoff, AbandonedMessage)
	if err != nil {
		r.logger.WithError(err).Error("Failed to sweep stale history entries")
		return 0, err
	}
	if moved > 0 {
		r.logger.WithField("count", moved).Warn("Failed abandoned history entries")
	}
	return moved, nil
}

func (r *Recorder) observe(t Type, s Status) {
	if r.observer != nil {
		r.observer(t, s)
	}
}

// Run is one entry in flight
type Run struct {
	recorder *Recorder
	entry    *Entry
	logger   logrus.FieldLogger
}

// ID returns the entry id
func (run *Run) ID() string {
	return run.entry.ID
}

// Entry returns the entry in flight. Fields set on it are persisted by the
// next transition.
func (run *Run) Entry() *Entry {
	return run.entry
}

// Processing marks the entry as processing. Call immediately before the outbound call.
func (run *Run) Processing(ctx context.Context) error {
	return run.transition(ctx, StatusProcessing, nil)
}

// Succeed applies the result fields and finishes the entry as success
func (run *Run) Succeed(ctx context.Context, apply func(*Entry)) error {
	return run.transition(ctx, StatusSuccess, apply)
}

// PartiallySucceed applies the result fields and finishes the entry as partial_success
func (run *Run) PartiallySucceed(ctx context.Context, apply func(*Entry)) error {
	return run.transition(ctx, StatusPartialSuccess, apply)
}

// Fail finishes the entry as failure. Best effort: a failed write is logged
// and never returned, so it cannot replace the error being reported.
func (run *Run) Fail(ctx context.Context, message string) {
	if message == "" {
		message = "unknown error"
	}
	_ = run.transition(ctx, StatusFailure, func(e *Entry) {
		e.ErrorMessage = message
	})
}

func (run *Run) transition(ctx context.Context, next Status, apply func(*Entry)) error {
	if apply != nil {
		apply(run.entry)
	}

	err := run.recorder.store.Transition(context.WithoutCancel(ctx), run.entry, next)
	if err != nil {
		run.logger.WithError(err).WithField("status", next).Error("Failed to update history entry")
		return err
	}

	run.recorder.observe(run.entry.Type, next)
	run.logger.WithField("status", next).Debug("History entry updated")
	return nil
}
