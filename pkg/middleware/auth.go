package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lookout-vision/lookout/pkg/auth"
	"github.com/lookout-vision/lookout/pkg/contextkeys"
	"github.com/lookout-vision/lookout/pkg/httputil"
)

// SessionCookie is the cookie carrying the session token
const SessionCookie = "token"

// Client-facing messages for rejected requests
const (
	MsgAuthenticationRequired = "Authentication required"
	MsgInvalidToken           = "Invalid token"
	MsgTokenExpired           = "Token expired"
	MsgServerConfiguration    = "Server configuration error"
)

// AuthMiddleware rejects requests without a valid session token and hands
// the verified identity to the wrapped handler through the request context
type AuthMiddleware struct {
	codec  *auth.TokenCodec
	logger logrus.FieldLogger
}

// NewAuthMiddleware creates the gatekeeper
func NewAuthMiddleware(codec *auth.TokenCodec, logger logrus.FieldLogger) *AuthMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthMiddleware{
		codec:  codec,
		logger: logger,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			httputil.WriteUnauthorized(w, MsgAuthenticationRequired)
			return
		}

		identity, err := m.codec.Verify(token)
		if err != nil {
			logger := httputil.LoggerFromContext(r.Context(), m.logger)
			switch {
			case errors.Is(err, auth.ErrMissingSecret):
				logger.Error("JWT secret is not configured; rejecting authenticated request")
				httputil.WriteFailure(w, http.StatusInternalServerError, MsgServerConfiguration, nil)
			case errors.Is(err, auth.ErrTokenExpired):
				httputil.WriteUnauthorized(w, MsgTokenExpired)
			default:
				logger.WithError(err).Debug("Rejected invalid token")
				httputil.WriteUnauthorized(w, MsgInvalidToken)
			}
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, identity.UserID)
		if reqLogger, ok := ctx.Value(contextkeys.LoggerKey).(logrus.FieldLogger); ok {
			ctx = contextkeys.WithLogger(ctx, reqLogger.WithField("user_id", identity.UserID))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest returns the session cookie value, falling back to an
// "Authorization: Bearer" header
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// IdentityFromContext returns the identity stored by AuthMiddleware
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(auth.Identity)
	return identity, ok
}
