//go:build integration

package history_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-vision/lookout/pkg/auth"
	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/storage/postgres/pgtest"
)

func TestDBStore_Integration(t *testing.T) {
	db := pgtest.SetupPostgresContainer(t)
	ctx := context.Background()

	users := auth.NewDBUserStore(db)
	alice := &auth.User{Username: "alice", Email: "alice@example.com", PasswordHash: "x"}
	bob := &auth.User{Username: "bob", Email: "bob@example.com", PasswordHash: "x"}
	require.NoError(t, users.Create(ctx, alice))
	require.NoError(t, users.Create(ctx, bob))

	store, err := history.NewDBStore(db)
	require.NoError(t, err)

	t.Run("detection lifecycle", func(t *testing.T) {
		e := &history.Entry{
			UserID:           alice.ID,
			Type:             history.TypeDetection,
			DetectionSource:  history.SourceUpload,
			OriginalFilename: "cat.jpg",
			ImageData:        "data:image/jpeg;base64,AAAA",
		}
		require.NoError(t, store.Create(ctx, e))
		require.NoError(t, store.Transition(ctx, e, history.StatusProcessing))

		e.DetectionResults = []history.Detection{
			{BBoxNormalized: [4]float64{0.1, 0.1, 0.5, 0.5}, ClassID: 15, ClassName: "cat", Confidence: 0.93},
		}
		require.NoError(t, store.Transition(ctx, e, history.StatusSuccess))

		got, err := store.Get(ctx, alice.ID, e.ID)
		require.NoError(t, err)
		assert.Equal(t, history.StatusSuccess, got.Status)
		assert.Equal(t, e.DetectionResults, got.DetectionResults)
		assert.Equal(t, "data:image/jpeg;base64,AAAA", got.ImageData)

		err = store.Transition(ctx, e, history.StatusFailure)
		assert.ErrorIs(t, err, history.ErrInvalidTransition)

		_, err = store.Get(ctx, bob.ID, e.ID)
		assert.ErrorIs(t, err, history.ErrNotFound)
	})

	t.Run("training failure", func(t *testing.T) {
		e := &history.Entry{
			UserID:                    bob.ID,
			Type:                      history.TypeTrainingUpload,
			TrainingLabel:             "mug",
			TrainingFileCount:         2,
			TrainingOriginalFilenames: []string{"a.jpg", "b.jpg"},
		}
		require.NoError(t, store.Create(ctx, e))
		e.ErrorMessage = "connection refused"
		require.NoError(t, store.Transition(ctx, e, history.StatusFailure))

		got, err := store.Get(ctx, bob.ID, e.ID)
		require.NoError(t, err)
		assert.Equal(t, history.StatusFailure, got.Status)
		assert.Equal(t, "connection refused", got.ErrorMessage)
		assert.Equal(t, []string{"a.jpg", "b.jpg"}, got.TrainingOriginalFilenames)
	})

	t.Run("listing is scoped and ordered", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Create(ctx, &history.Entry{
				UserID: alice.ID, Type: history.TypeDetection, DetectionSource: history.SourceLiveFrame,
			}))
		}

		page, total, err := store.List(ctx, alice.ID, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, page, 2)
		assert.False(t, page[1].Timestamp.After(page[0].Timestamp))

		all, _, err := store.List(ctx, alice.ID, 50, 0)
		require.NoError(t, err)
		for _, e := range all {
			assert.Equal(t, alice.ID, e.UserID)
		}

		again, _, err := store.List(ctx, alice.ID, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, all, again)
	})
}
