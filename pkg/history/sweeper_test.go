package history

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper_Validation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	recorder := NewRecorder(NewMemoryStore(), logger)

	_, err := NewSweeper(recorder, "", 0, logger, nil)
	assert.Error(t, err)

	_, err = NewSweeper(recorder, "not a schedule", time.Minute, logger, nil)
	assert.Error(t, err)

	s, err := NewSweeper(recorder, "", time.Minute, logger, nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSweeper_RunOnceReportsMoved(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	recorder := NewRecorder(store, logger)

	stale, err := recorder.Begin(ctx, &Entry{UserID: "u", Type: TypeDetection, DetectionSource: SourceUpload})
	require.NoError(t, err)
	require.NoError(t, stale.Processing(ctx))

	done, err := recorder.Begin(ctx, &Entry{UserID: "u", Type: TypeTrainingUpload, TrainingLabel: "cat"})
	require.NoError(t, err)
	require.NoError(t, done.Processing(ctx))
	require.NoError(t, done.Succeed(ctx, nil))

	var reported []int64
	sweeper, err := NewSweeper(recorder, DefaultSweepSchedule, 15*time.Minute, logger, func(n int64) {
		reported = append(reported, n)
	})
	require.NoError(t, err)

	moved, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)
	assert.Equal(t, []int64{1}, reported)

	got, err := store.Get(ctx, "u", stale.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, got.Status)

	got, err = store.Get(ctx, "u", done.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
}

func TestSweeper_StartStop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sweeper, err := NewSweeper(NewRecorder(NewMemoryStore(), logger), "@every 1h", time.Minute, logger, nil)
	require.NoError(t, err)

	sweeper.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, sweeper.Stop(ctx))
}
