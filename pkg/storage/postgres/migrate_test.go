package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.Len(t, files, 2)

	users, err := fs.ReadFile(migrations, "migrations/00001_create_users.sql")
	require.NoError(t, err)
	assert.Contains(t, string(users), "-- +goose Up")
	assert.Contains(t, string(users), "UNIQUE (email)")
	assert.Contains(t, string(users), "UNIQUE (username)")

	entries, err := fs.ReadFile(migrations, "migrations/00002_create_history_entries.sql")
	require.NoError(t, err)
	assert.Contains(t, string(entries), "user_id, timestamp DESC")
	assert.Contains(t, string(entries), "detection_results JSONB")
}

func TestRunMigrations(t *testing.T) {
	original := gooseUp
	t.Cleanup(func() { gooseUp = original })

	t.Run("runs embedded directory", func(t *testing.T) {
		var gotDir string
		gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
			gotDir = dir
			return nil
		}

		require.NoError(t, RunMigrations(context.Background(), nil))
		assert.Equal(t, "migrations", gotDir)
	})

	t.Run("wraps failures", func(t *testing.T) {
		gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
			return errors.New("relation already exists")
		}

		err := RunMigrations(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to run migrations")
	})
}
