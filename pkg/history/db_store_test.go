package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

var entryRowColumns = []string{
	"id", "user_id", "type", "status", "timestamp", "updated_at",
	"detection_source", "original_filename", "detection_results", "image_data",
	"training_label", "training_file_count", "training_original_filenames",
	"training_image_data", "training_object_keys", "training_saved_count",
	"training_errors", "error_message",
}

const entryID = "7f1b7b4e-4a1f-4d55-9a0c-0b6a3b8f2c11"

func TestNewDBStore(t *testing.T) {
	store, err := NewDBStore(nil)
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "database connection is required")
}

func TestDBStore_Create(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now().UTC()
		mock.ExpectQuery("INSERT INTO history_entries").
			WithArgs(
				sqlmock.AnyArg(), "user-1", "training_upload", "pending",
				nil, nil, sqlmock.AnyArg(), nil,
				"cat", int64(2), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(),
			).
			WillReturnRows(sqlmock.NewRows([]string{"timestamp", "updated_at"}).AddRow(now, now))

		store, err := NewDBStore(db)
		require.NoError(t, err)

		e := &Entry{
			UserID:                    "user-1",
			Type:                      TypeTrainingUpload,
			TrainingLabel:             "cat",
			TrainingFileCount:         2,
			TrainingOriginalFilenames: []string{"a.jpg", "b.jpg"},
		}
		require.NoError(t, store.Create(context.Background(), e))
		assert.NotEmpty(t, e.ID)
		assert.Equal(t, StatusPending, e.Status)
		assert.Equal(t, now, e.Timestamp)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid entry never reaches the database", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store, _ := NewDBStore(db)
		err := store.Create(context.Background(), &Entry{Type: TypeDetection})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO history_entries").WillReturnError(errors.New("disk full"))

		store, _ := NewDBStore(db)
		err := store.Create(context.Background(), &Entry{UserID: "u", Type: TypeDetection, DetectionSource: SourceUpload})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert history entry")
	})
}

func TestDBStore_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now().UTC()
		mock.ExpectQuery("SELECT (.+) FROM history_entries WHERE id = \\$1 AND user_id = \\$2").
			WithArgs(entryID, "user-1").
			WillReturnRows(sqlmock.NewRows(entryRowColumns).AddRow(
				entryID, "user-1", "detection", "success", now, now,
				"upload", "cat.jpg", []byte(`[{"bbox_normalized":[0.1,0.2,0.3,0.4],"class_id":3,"class_name":"cat","confidence":0.91}]`), "data:image/jpeg;base64,AAAA",
				nil, nil, nil,
				nil, nil, nil,
				nil, nil,
			))

		store, _ := NewDBStore(db)
		e, err := store.Get(context.Background(), "user-1", entryID)
		require.NoError(t, err)
		assert.Equal(t, TypeDetection, e.Type)
		assert.Equal(t, StatusSuccess, e.Status)
		assert.Equal(t, SourceUpload, e.DetectionSource)
		require.Len(t, e.DetectionResults, 1)
		assert.Equal(t, [4]float64{0.1, 0.2, 0.3, 0.4}, e.DetectionResults[0].BBoxNormalized)
		assert.Equal(t, 3, e.DetectionResults[0].ClassID)
		assert.Nil(t, e.TrainingOriginalFilenames)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("training arrays", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now().UTC()
		mock.ExpectQuery("SELECT (.+) FROM history_entries").
			WillReturnRows(sqlmock.NewRows(entryRowColumns).AddRow(
				entryID, "user-1", "training_upload", "partial_success", now, now,
				nil, nil, nil, nil,
				"cat", int64(2), "{a.jpg,b.jpg}",
				nil, "{training/cat/1.jpg}", int64(1),
				`{"b.jpg: unsupported"}`, nil,
			))

		store, _ := NewDBStore(db)
		e, err := store.Get(context.Background(), "user-1", entryID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.jpg", "b.jpg"}, e.TrainingOriginalFilenames)
		assert.Equal(t, []string{"training/cat/1.jpg"}, e.TrainingObjectKeys)
		assert.Equal(t, 2, e.TrainingFileCount)
		assert.Equal(t, 1, e.TrainingSavedCount)
		assert.Equal(t, []string{"b.jpg: unsupported"}, e.TrainingErrors)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM history_entries").WillReturnError(sql.ErrNoRows)

		store, _ := NewDBStore(db)
		_, err := store.Get(context.Background(), "user-1", entryID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store, _ := NewDBStore(db)
		_, err := store.Get(context.Background(), "user-1", "not-a-uuid")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func entryRow(status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(entryRowColumns).AddRow(
		entryID, "user-1", "detection", status, now, now,
		"upload", "cat.jpg", []byte(`[]`), nil,
		nil, nil, nil,
		nil, nil, nil,
		nil, nil,
	)
}

func TestDBStore_GetWithReader(t *testing.T) {
	const query = "SELECT (.+) FROM history_entries WHERE id = \\$1 AND user_id = \\$2"

	t.Run("terminal entry served by the reader", func(t *testing.T) {
		primary, primaryMock := setupMockDB(t)
		defer primary.Close()
		replica, replicaMock := setupMockDB(t)
		defer replica.Close()

		replicaMock.ExpectQuery(query).WithArgs(entryID, "user-1").WillReturnRows(entryRow("success"))

		store, _ := NewDBStore(primary, WithReader(func() *sql.DB { return replica }))
		e, err := store.Get(context.Background(), "user-1", entryID)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, e.Status)
		assert.NoError(t, replicaMock.ExpectationsWereMet())
		assert.NoError(t, primaryMock.ExpectationsWereMet())
	})

	t.Run("entry in flight is read from the primary", func(t *testing.T) {
		primary, primaryMock := setupMockDB(t)
		defer primary.Close()
		replica, replicaMock := setupMockDB(t)
		defer replica.Close()

		replicaMock.ExpectQuery(query).WillReturnRows(entryRow("processing"))
		primaryMock.ExpectQuery(query).WithArgs(entryID, "user-1").WillReturnRows(entryRow("success"))

		store, _ := NewDBStore(primary, WithReader(func() *sql.DB { return replica }))
		e, err := store.Get(context.Background(), "user-1", entryID)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, e.Status)
		assert.NoError(t, replicaMock.ExpectationsWereMet())
		assert.NoError(t, primaryMock.ExpectationsWereMet())
	})

	t.Run("reader errors and misses fall back to the primary", func(t *testing.T) {
		for name, replicaErr := range map[string]error{"error": errors.New("replica down"), "lagging insert": sql.ErrNoRows} {
			t.Run(name, func(t *testing.T) {
				primary, primaryMock := setupMockDB(t)
				defer primary.Close()
				replica, replicaMock := setupMockDB(t)
				defer replica.Close()

				replicaMock.ExpectQuery(query).WillReturnError(replicaErr)
				primaryMock.ExpectQuery(query).WillReturnRows(entryRow("pending"))

				store, _ := NewDBStore(primary, WithReader(func() *sql.DB { return replica }))
				e, err := store.Get(context.Background(), "user-1", entryID)
				require.NoError(t, err)
				assert.Equal(t, StatusPending, e.Status)
				assert.NoError(t, primaryMock.ExpectationsWereMet())
			})
		}
	})

	t.Run("reader returning the primary queries once", func(t *testing.T) {
		primary, primaryMock := setupMockDB(t)
		defer primary.Close()

		primaryMock.ExpectQuery(query).WillReturnRows(entryRow("pending"))

		store, _ := NewDBStore(primary, WithReader(func() *sql.DB { return primary }))
		_, err := store.Get(context.Background(), "user-1", entryID)
		require.NoError(t, err)
		assert.NoError(t, primaryMock.ExpectationsWereMet())
	})
}

func TestDBStore_Transition(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		now := time.Now().UTC()
		mock.ExpectQuery("UPDATE history_entries").
			WithArgs("success", sqlmock.AnyArg(), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg(), nil, entryID, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

		store, _ := NewDBStore(db)
		e := &Entry{ID: entryID, Status: StatusProcessing, DetectionResults: []Detection{{ClassName: "cat"}}}
		require.NoError(t, store.Transition(context.Background(), e, StatusSuccess))
		assert.Equal(t, StatusSuccess, e.Status)
		assert.Equal(t, now, e.UpdatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure stores message", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE history_entries").
			WithArgs("failure", sqlmock.AnyArg(), int64(0), sqlmock.AnyArg(), sqlmock.AnyArg(), "upstream down", entryID, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

		store, _ := NewDBStore(db)
		e := &Entry{ID: entryID, ErrorMessage: "upstream down"}
		require.NoError(t, store.Transition(context.Background(), e, StatusFailure))
		assert.Equal(t, "upstream down", e.ErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("archive keys are written with the result", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE history_entries").
			WithArgs("success", sqlmock.AnyArg(), int64(2), sqlmock.AnyArg(), `{"training/mug/a.jpg"}`, nil, entryID, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))

		store, _ := NewDBStore(db)
		e := &Entry{ID: entryID, TrainingSavedCount: 2, TrainingObjectKeys: []string{"training/mug/a.jpg"}}
		require.NoError(t, store.Transition(context.Background(), e, StatusSuccess))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refused from terminal state", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE history_entries").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT status FROM history_entries").
			WithArgs(entryID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("success"))

		store, _ := NewDBStore(db)
		err := store.Transition(context.Background(), &Entry{ID: entryID}, StatusFailure)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE history_entries").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT status FROM history_entries").WillReturnError(sql.ErrNoRows)

		store, _ := NewDBStore(db)
		err := store.Transition(context.Background(), &Entry{ID: entryID}, StatusProcessing)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no transition into pending", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store, _ := NewDBStore(db)
		err := store.Transition(context.Background(), &Entry{ID: entryID}, StatusPending)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBStore_List(t *testing.T) {
	t.Run("page and total", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		newer := time.Now().UTC()
		older := newer.Add(-time.Minute)

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM history_entries WHERE user_id").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
		mock.ExpectQuery("ORDER BY timestamp DESC, id DESC").
			WithArgs("user-1", 2, 0).
			WillReturnRows(sqlmock.NewRows(entryRowColumns).
				AddRow("b", "user-1", "detection", "success", newer, newer, "live_frame", nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil).
				AddRow("a", "user-1", "detection", "failure", older, older, "upload", "x.jpg", nil, nil, nil, nil, nil, nil, nil, nil, nil, "boom"))

		store, _ := NewDBStore(db)
		entries, total, err := store.List(context.Background(), "user-1", 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 7, total)
		require.Len(t, entries, 2)
		assert.Equal(t, "b", entries[0].ID)
		assert.Equal(t, SourceLiveFrame, entries[0].DetectionSource)
		assert.Equal(t, "boom", entries[1].ErrorMessage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty page is not nil", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("ORDER BY").WillReturnRows(sqlmock.NewRows(entryRowColumns))

		store, _ := NewDBStore(db)
		entries, total, err := store.List(context.Background(), "user-1", 50, 0)
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
		assert.Zero(t, total)
	})

	t.Run("count error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("timeout"))

		store, _ := NewDBStore(db)
		_, _, err := store.List(context.Background(), "user-1", 50, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to count history entries")
	})
}

func TestDBStore_FailStale(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	cutoff := time.Now().Add(-15 * time.Minute)
	mock.ExpectExec("UPDATE history_entries").
		WithArgs("failure", AbandonedMessage, sqlmock.AnyArg(), cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store, _ := NewDBStore(db)
	moved, err := store.FailStale(context.Background(), cutoff, AbandonedMessage)
	require.NoError(t, err)
	assert.Equal(t, int64(3), moved)
	assert.NoError(t, mock.ExpectationsWereMet())
}
