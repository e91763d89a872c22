package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, secret string) (*Service, *MemoryUserStore) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := NewMemoryUserStore()
	return NewService(store, NewTokenCodec(secret, time.Hour), logger), store
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user once", func(t *testing.T) {
		svc, store := newTestService(t, "secret")

		err := svc.Register(ctx, "a", "a@b.com", "longenough")
		require.NoError(t, err)
		assert.Equal(t, 1, store.Count())

		user, err := store.GetByEmail(ctx, "a@b.com")
		require.NoError(t, err)
		assert.NotEmpty(t, user.ID)
		assert.NotEqual(t, "longenough", user.PasswordHash)
	})

	t.Run("duplicate email is a conflict and creates nothing", func(t *testing.T) {
		svc, store := newTestService(t, "secret")

		require.NoError(t, svc.Register(ctx, "a", "a@b.com", "longenough"))
		err := svc.Register(ctx, "other", "a@b.com", "longenough")
		assert.ErrorIs(t, err, ErrUserExists)
		assert.Equal(t, 1, store.Count())
	})

	t.Run("duplicate username is a conflict", func(t *testing.T) {
		svc, store := newTestService(t, "secret")

		require.NoError(t, svc.Register(ctx, "a", "a@b.com", "longenough"))
		err := svc.Register(ctx, "a", "c@d.com", "longenough")
		assert.ErrorIs(t, err, ErrUserExists)
		assert.Equal(t, 1, store.Count())
	})

	validation := []struct {
		name     string
		username string
		email    string
		password string
		message  string
	}{
		{"missing username", "", "a@b.com", "longenough", "Missing fields"},
		{"missing email", "a", "", "longenough", "Missing fields"},
		{"missing password", "a", "a@b.com", "", "Missing fields"},
		{"bad email", "a", "not-an-email", "longenough", "Please enter a valid email"},
		{"short password", "a", "a@b.com", "short", "Password must be at least 8 characters"},
	}
	for _, tt := range validation {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t, "secret")

			err := svc.Register(ctx, tt.username, tt.email, tt.password)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, tt.message, err.Error())
			assert.Equal(t, 0, store.Count())
		})
	}
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials issue a verifiable token", func(t *testing.T) {
		svc, _ := newTestService(t, "secret")
		require.NoError(t, svc.Register(ctx, "a", "a@b.com", "longenough"))

		result, err := svc.Login(ctx, "a@b.com", "longenough")
		require.NoError(t, err)
		assert.NotEmpty(t, result.Token)

		identity, err := svc.Codec().Verify(result.Token)
		require.NoError(t, err)
		assert.Equal(t, result.User.ID, identity.UserID)
		assert.Equal(t, "a@b.com", identity.Email)
	})

	t.Run("unknown email and wrong password look the same", func(t *testing.T) {
		svc, _ := newTestService(t, "secret")
		require.NoError(t, svc.Register(ctx, "a", "a@b.com", "longenough"))

		_, errUnknown := svc.Login(ctx, "nobody@b.com", "longenough")
		_, errWrong := svc.Login(ctx, "a@b.com", "wrong-password")

		assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
		assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
		assert.Equal(t, errUnknown.Error(), errWrong.Error())
	})

	t.Run("missing fields", func(t *testing.T) {
		svc, _ := newTestService(t, "secret")
		_, err := svc.Login(ctx, "", "longenough")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing secret is a configuration error", func(t *testing.T) {
		svc, _ := newTestService(t, "")
		require.NoError(t, svc.Register(ctx, "a", "a@b.com", "longenough"))

		_, err := svc.Login(ctx, "a@b.com", "longenough")
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("store failure is not reported as bad credentials", func(t *testing.T) {
		logger, _ := test.NewNullLogger()
		svc := NewService(failingUserStore{}, NewTokenCodec("secret", time.Hour), logger)

		_, err := svc.Login(ctx, "a@b.com", "longenough")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrInvalidCredentials))
	})
}

func TestService_CheckSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, "secret")
	require.NoError(t, svc.Register(ctx, "a", "a@b.com", "longenough"))
	result, err := svc.Login(ctx, "a@b.com", "longenough")
	require.NoError(t, err)

	session := svc.CheckSession(result.Token)
	assert.True(t, session.Authenticated)
	require.NotNil(t, session.User)
	assert.Equal(t, "a@b.com", session.User.Email)

	assert.False(t, svc.CheckSession("").Authenticated)
	assert.False(t, svc.CheckSession("garbage").Authenticated)

	noSecret, _ := newTestService(t, "")
	assert.False(t, noSecret.CheckSession(result.Token).Authenticated)
}

func TestNewService_DefaultLogger(t *testing.T) {
	svc := NewService(NewMemoryUserStore(), NewTokenCodec("s", time.Hour), nil)
	assert.Equal(t, logrus.StandardLogger(), svc.logger)
}

type failingUserStore struct{}

func (failingUserStore) Create(ctx context.Context, user *User) error {
	return errors.New("connection reset")
}

func (failingUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return nil, errors.New("connection reset")
}

func (failingUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return false, errors.New("connection reset")
}
