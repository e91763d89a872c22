package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UserStore persists user records
type UserStore interface {
	// Create inserts a new user, assigning ID and timestamps.
	// Returns ErrUserExists when the email or username is taken.
	Create(ctx context.Context, user *User) error

	// GetByEmail returns ErrUserNotFound when no user has the email
	GetByEmail(ctx context.Context, email string) (*User, error)

	// ExistsByEmail reports whether the email is registered
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// MemoryUserStore keeps users in process memory. Used for local development and tests.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]*User
	byName  map[string]*User
}

// NewMemoryUserStore creates an empty in-memory store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byEmail: make(map[string]*User),
		byName:  make(map[string]*User),
	}
}

// Create inserts a new user
func (s *MemoryUserStore) Create(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(user.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrUserExists
	}
	if _, ok := s.byName[user.Username]; ok {
		return ErrUserExists
	}

	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	s.byEmail[email] = &stored
	s.byName[user.Username] = &stored
	return nil
}

// GetByEmail returns the user with the given email
func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// ExistsByEmail reports whether the email is registered
func (s *MemoryUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[normalizeEmail(email)]
	return ok, nil
}

// Count returns the number of stored users
func (s *MemoryUserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEmail)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
