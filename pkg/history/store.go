package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists history entries
type Store interface {
	// Create inserts e as a new pending entry, assigning ID and timestamps
	Create(ctx context.Context, e *Entry) error

	// Get returns the entry with id owned by userID, or ErrNotFound
	Get(ctx context.Context, userID, id string) (*Entry, error)

	// Transition moves e to next, persisting its result fields
	// (DetectionResults, TrainingSavedCount, TrainingErrors,
	// TrainingObjectKeys, ErrorMessage).
	// The stored status must be a predecessor of next, otherwise
	// ErrInvalidTransition is returned.
	Transition(ctx context.Context, e *Entry, next Status) error

	// List returns a page of userID's entries, newest first, and the total
	// number of entries the user owns
	List(ctx context.Context, userID string, limit, skip int) ([]*Entry, int, error)

	// FailStale moves every pending or processing entry last updated before
	// cutoff to failure with message, returning how many were moved
	FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a pending entry
func (s *MemoryStore) Create(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e.ID = uuid.NewString()
	e.Status = StatusPending
	e.Timestamp = now
	e.UpdatedAt = now
	e.ErrorMessage = ""

	s.entries[e.ID] = e.Clone()
	return nil
}

// Get returns a copy of one entry
func (s *MemoryStore) Get(ctx context.Context, userID, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.entries[id]
	if !ok || stored.UserID != userID {
		return nil, ErrNotFound
	}
	return stored.Clone(), nil
}

// Transition applies a status change
func (s *MemoryStore) Transition(ctx context.Context, e *Entry, next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[e.ID]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(stored.Status, next); err != nil {
		return err
	}

	stored.Status = next
	stored.UpdatedAt = s.now()
	stored.DetectionResults = append([]Detection(nil), e.DetectionResults...)
	stored.TrainingSavedCount = e.TrainingSavedCount
	stored.TrainingErrors = append([]string(nil), e.TrainingErrors...)
	stored.TrainingObjectKeys = append([]string(nil), e.TrainingObjectKeys...)
	stored.ErrorMessage = ""
	if next == StatusFailure {
		stored.ErrorMessage = e.ErrorMessage
	}

	e.Status = stored.Status
	e.UpdatedAt = stored.UpdatedAt
	e.ErrorMessage = stored.ErrorMessage
	return nil
}

// List returns a page of the user's entries
func (s *MemoryStore) List(ctx context.Context, userID string, limit, skip int) ([]*Entry, int, error) {
	s.mu.RLock()
	owned := make([]*Entry, 0)
	for _, e := range s.entries {
		if e.UserID == userID {
			owned = append(owned, e.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].Timestamp.Equal(owned[j].Timestamp) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].Timestamp.After(owned[j].Timestamp)
	})

	total := len(owned)
	if skip >= total {
		return []*Entry{}, total, nil
	}
	end := skip + limit
	if end > total {
		end = total
	}
	return owned[skip:end], total, nil
}

// FailStale fails abandoned non-terminal entries
func (s *MemoryStore) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved int64
	now := s.now()
	for _, e := range s.entries {
		if e.Status.IsTerminal() || !e.UpdatedAt.Before(cutoff) {
			continue
		}
		e.Status = StatusFailure
		e.ErrorMessage = message
		e.UpdatedAt = now
		moved++
	}
	return moved, nil
}
