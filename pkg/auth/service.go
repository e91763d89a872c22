package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Service implements registration, login and session checks
type Service struct {
	users  UserStore
	codec  *TokenCodec
	logger logrus.FieldLogger
}

// NewService creates an auth service
func NewService(users UserStore, codec *TokenCodec, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		users:  users,
		codec:  codec,
		logger: logger,
	}
}

// Codec returns the token codec used by the service
func (s *Service) Codec() *TokenCodec {
	return s.codec
}

// LoginResult is returned by a successful Login
type LoginResult struct {
	Token string
	User  *User
}

// Register creates a new user. Nothing about the stored record is returned.
func (s *Service) Register(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return NewValidationError("Missing fields")
	}
	if !emailPattern.MatchString(email) {
		return NewValidationError("Please enter a valid email")
	}
	if len(password) < MinPasswordLength {
		return NewValidationError("Password must be at least %d characters", MinPasswordLength)
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		return ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User registered")
	return nil
}

// Login verifies credentials and issues a token. Unknown email and wrong
// password both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, NewValidationError("Missing fields")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			burnPasswordCheck(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.codec.Issue(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("User logged in")
	return &LoginResult{Token: token, User: user}, nil
}

// CheckSession never fails: any verification problem, including a missing
// secret, reads as unauthenticated.
func (s *Service) CheckSession(token string) Session {
	if token == "" {
		return Session{Authenticated: false}
	}

	identity, err := s.codec.Verify(token)
	if err != nil {
		s.logger.WithError(err).Debug("Session check failed")
		return Session{Authenticated: false}
	}
	return Session{Authenticated: true, User: &identity}
}
