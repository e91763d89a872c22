package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-vision/lookout/pkg/auth"
	"github.com/lookout-vision/lookout/pkg/contextkeys"
)

const testSecret = "gatekeeper-secret"

func protectedHandler(t *testing.T, seen *auth.Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		require.True(t, ok, "identity should be on the context")
		*seen = identity
		assert.Equal(t, identity.UserID, contextkeys.GetUserID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func decodeFailure(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func expiredToken(t *testing.T, secret string) string {
	t.Helper()
	issued := time.Now().Add(-2 * time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
		},
		UserID: "user-1",
		Email:  "a@b.com",
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware_AcceptsCookie(t *testing.T) {
	logger, _ := test.NewNullLogger()
	codec := auth.NewTokenCodec(testSecret, time.Hour)
	token, err := codec.Issue("user-1", "a@b.com")
	require.NoError(t, err)

	var seen auth.Identity
	handler := NewAuthMiddleware(codec, logger).Handler(protectedHandler(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", seen.UserID)
	assert.Equal(t, "a@b.com", seen.Email)
}

func TestAuthMiddleware_AcceptsBearerHeader(t *testing.T) {
	codec := auth.NewTokenCodec(testSecret, time.Hour)
	token, err := codec.Issue("user-2", "b@c.com")
	require.NoError(t, err)

	var seen auth.Identity
	handler := NewAuthMiddleware(codec, nil).Handler(protectedHandler(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-2", seen.UserID)
}

func TestAuthMiddleware_CookieWinsOverHeader(t *testing.T) {
	codec := auth.NewTokenCodec(testSecret, time.Hour)
	cookieToken, err := codec.Issue("cookie-user", "c@d.com")
	require.NoError(t, err)

	var seen auth.Identity
	handler := NewAuthMiddleware(codec, nil).Handler(protectedHandler(t, &seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: cookieToken})
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cookie-user", seen.UserID)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	codec := auth.NewTokenCodec(testSecret, time.Hour)
	otherCodec := auth.NewTokenCodec("another-secret", time.Hour)
	foreign, err := otherCodec.Issue("user-1", "a@b.com")
	require.NoError(t, err)

	tests := []struct {
		name       string
		codec      *auth.TokenCodec
		prepare    func(r *http.Request)
		wantStatus int
		wantError  string
	}{
		{
			name:       "no token",
			codec:      codec,
			prepare:    func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
			wantError:  MsgAuthenticationRequired,
		},
		{
			name:  "non bearer scheme",
			codec: codec,
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  MsgAuthenticationRequired,
		},
		{
			name:  "garbage token",
			codec: codec,
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "garbage"})
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  MsgInvalidToken,
		},
		{
			name:  "signed with another secret",
			codec: codec,
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+foreign)
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  MsgInvalidToken,
		},
		{
			name:  "expired",
			codec: codec,
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: expiredToken(t, testSecret)})
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  MsgTokenExpired,
		},
		{
			name:  "secret not configured",
			codec: auth.NewTokenCodec("", time.Hour),
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: foreign})
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  MsgServerConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			called := false
			handler := NewAuthMiddleware(tt.codec, logger).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/detect", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called, "protected handler must not run")
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeFailure(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestAuthMiddleware_MissingSecretIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := NewAuthMiddleware(auth.NewTokenCodec("", time.Hour), logger).Handler(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer something")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "JWT secret")
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(req))

	req.Header.Set("Authorization", "bearer  abc ")
	assert.Equal(t, "abc", TokenFromRequest(req))

	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(req))
}

func TestIdentityFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := IdentityFromContext(req.Context())
	assert.False(t, ok)
}
