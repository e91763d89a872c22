package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const entryColumns = `
	id, user_id, type, status, timestamp, updated_at,
	detection_source, original_filename, detection_results, image_data,
	training_label, training_file_count, training_original_filenames,
	training_image_data, training_object_keys, training_saved_count,
	training_errors, error_message`

// DBStore implements Store on PostgreSQL.
// The history_entries table is created by the embedded migrations.
type DBStore struct {
	db     *sql.DB
	reader func() *sql.DB
}

// DBStoreOption configures a DBStore
type DBStoreOption func(*DBStore)

// WithReader sends reads of finished entries to the pool returned by reader,
// typically a read replica. Terminal entries never change, so replica lag
// cannot make them stale.
func WithReader(reader func() *sql.DB) DBStoreOption {
	return func(s *DBStore) {
		s.reader = reader
	}
}

// NewDBStore creates a Postgres-backed history store
func NewDBStore(db *sql.DB, opts ...DBStoreOption) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &DBStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create inserts a new pending entry
func (s *DBStore) Create(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	resultsJSON, err := marshalDetections(e.DetectionResults)
	if err != nil {
		return err
	}

	e.ID = uuid.NewString()
	e.Status = StatusPending
	e.ErrorMessage = ""

	query := `
		INSERT INTO history_entries (
			id, user_id, type, status, timestamp, updated_at,
			detection_source, original_filename, detection_results, image_data,
			training_label, training_file_count, training_original_filenames,
			training_image_data, training_object_keys
		) VALUES (
			$1, $2, $3, $4, NOW(), NOW(),
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13
		) RETURNING timestamp, updated_at
	`

	err = s.db.QueryRowContext(ctx, query,
		e.ID, e.UserID, string(e.Type), string(e.Status),
		nullString(string(e.DetectionSource)), nullString(e.OriginalFilename), resultsJSON, nullString(e.ImageData),
		nullString(e.TrainingLabel), e.TrainingFileCount, pq.Array(e.TrainingOriginalFilenames),
		pq.Array(e.TrainingImageData), pq.Array(e.TrainingObjectKeys),
	).Scan(&e.Timestamp, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// Get loads one entry owned by userID. With a reader configured, a terminal
// entry found there is returned as is; anything else is read from the primary.
func (s *DBStore) Get(ctx context.Context, userID, id string) (*Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	if s.reader != nil {
		if reader := s.reader(); reader != nil && reader != s.db {
			if e, err := s.get(ctx, reader, userID, id); err == nil && e.Status.IsTerminal() {
				return e, nil
			}
		}
	}
	return s.get(ctx, s.db, userID, id)
}

func (s *DBStore) get(ctx context.Context, db *sql.DB, userID, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM history_entries WHERE id = $1 AND user_id = $2`
	e, err := scanEntry(db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history entry: %w", err)
	}
	return e, nil
}

// Transition applies a status change guarded by the stored status
func (s *DBStore) Transition(ctx context.Context, e *Entry, next Status) error {
	from := Predecessors(next)
	if len(from) == 0 {
		return fmt.Errorf("%w: no transition into %s", ErrInvalidTransition, next)
	}

	resultsJSON, err := marshalDetections(e.DetectionResults)
	if err != nil {
		return err
	}

	errorMessage := ""
	if next == StatusFailure {
		errorMessage = e.ErrorMessage
	}

	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	query := `
		UPDATE history_entries
		SET status = $1, detection_results = $2, training_saved_count = $3,
			training_errors = $4, training_object_keys = $5, error_message = $6,
			updated_at = NOW()
		WHERE id = $7 AND status = ANY($8)
		RETURNING updated_at
	`

	var updatedAt time.Time
	err = s.db.QueryRowContext(ctx, query,
		string(next), resultsJSON, e.TrainingSavedCount,
		pq.Array(e.TrainingErrors), pq.Array(e.TrainingObjectKeys), nullString(errorMessage),
		e.ID, pq.Array(allowed),
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.explainMissedTransition(ctx, e.ID, next)
	}
	if err != nil {
		return fmt.Errorf("failed to update history entry: %w", err)
	}

	e.Status = next
	e.UpdatedAt = updatedAt
	e.ErrorMessage = errorMessage
	return nil
}

// explainMissedTransition distinguishes a missing row from a refused move
func (s *DBStore) explainMissedTransition(ctx context.Context, id string, next Status) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM history_entries WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read history entry status: %w", err)
	}
	return checkTransition(Status(current), next)
}

// List returns one page of the user's entries, newest first
func (s *DBStore) List(ctx context.Context, userID string, limit, skip int) ([]*Entry, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_entries WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count history entries: %w", err)
	}

	query := `SELECT ` + entryColumns + `
		FROM history_entries
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query history entries: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating history entries: %w", err)
	}

	return entries, total, nil
}

// FailStale fails abandoned non-terminal entries
func (s *DBStore) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE history_entries
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE status = ANY($3) AND updated_at < $4
	`, string(StatusFailure), message,
		pq.Array([]string{string(StatusPending), string(StatusProcessing)}), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale history entries: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                                                Entry
		entryType, status                                string
		source, filename, imageData, label, errorMessage sql.NullString
		fileCount, savedCount                            sql.NullInt64
		resultsJSON                                      []byte
	)

	err := row.Scan(
		&e.ID, &e.UserID, &entryType, &status, &e.Timestamp, &e.UpdatedAt,
		&source, &filename, &resultsJSON, &imageData,
		&label, &fileCount, pq.Array(&e.TrainingOriginalFilenames),
		pq.Array(&e.TrainingImageData), pq.Array(&e.TrainingObjectKeys), &savedCount,
		pq.Array(&e.TrainingErrors), &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	e.Type = Type(entryType)
	e.Status = Status(status)
	e.DetectionSource = DetectionSource(source.String)
	e.OriginalFilename = filename.String
	e.ImageData = imageData.String
	e.TrainingLabel = label.String
	e.TrainingFileCount = int(fileCount.Int64)
	e.TrainingSavedCount = int(savedCount.Int64)
	e.ErrorMessage = errorMessage.String

	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &e.DetectionResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal detection results: %w", err)
		}
	}

	return &e, nil
}

func marshalDetections(detections []Detection) ([]byte, error) {
	if detections == nil {
		return nil, nil
	}
	data, err := json.Marshal(detections)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detection results: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
