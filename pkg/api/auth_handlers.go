package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lookout-vision/lookout/pkg/auth"
	"github.com/lookout-vision/lookout/pkg/httputil"
	"github.com/lookout-vision/lookout/pkg/middleware"
)

// Auth responses use a bare {"message": ...} body
const (
	MsgUserCreated        = "User created successfully"
	MsgLoginSuccessful    = "Login successful"
	MsgLoggedOut          = "Logged out"
	MsgServerError        = "Server error"
	MsgInvalidRequestBody = "Invalid request body"
)

// AuthHandlers handles registration, login and session checks
type AuthHandlers struct {
	service      *auth.Service
	cookieSecure bool
	logger       logrus.FieldLogger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(service *auth.Service, cookieSecure bool, logger logrus.FieldLogger) *AuthHandlers {
	return &AuthHandlers{
		service:      service,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// RegisterRoutes registers authentication routes. throttle guards the
// credential endpoints.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, throttle Middleware) {
	router.Handle("/auth/register", throttle(http.HandlerFunc(h.register))).Methods(http.MethodPost)
	router.Handle("/auth/login", throttle(http.HandlerFunc(h.login))).Methods(http.MethodPost)
	router.HandleFunc("/auth/check", h.check).Methods(http.MethodGet)
	router.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// register handles POST /api/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, MsgInvalidRequestBody)
		return
	}

	err := h.service.Register(r.Context(), req.Username, req.Email, req.Password)
	switch {
	case err == nil:
		httputil.WriteMessage(w, http.StatusOK, MsgUserCreated)
	case errors.Is(err, auth.ErrValidation), errors.Is(err, auth.ErrUserExists):
		httputil.WriteMessage(w, http.StatusBadRequest, err.Error())
	default:
		httputil.LoggerFromContext(r.Context(), h.logger).WithError(err).Error("Registration failed")
		httputil.WriteMessage(w, http.StatusInternalServerError, MsgServerError)
	}
}

// login handles POST /api/auth/login. The token is returned in the body and
// as an HttpOnly session cookie.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteMessage(w, http.StatusBadRequest, MsgInvalidRequestBody)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		logger := httputil.LoggerFromContext(r.Context(), h.logger)
		switch {
		case errors.Is(err, auth.ErrValidation), errors.Is(err, auth.ErrInvalidCredentials):
			httputil.WriteMessage(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrMissingSecret):
			logger.Error("JWT secret is not configured; cannot issue tokens")
			httputil.WriteMessage(w, http.StatusInternalServerError, middleware.MsgServerConfiguration)
		default:
			logger.WithError(err).Error("Login failed")
			httputil.WriteMessage(w, http.StatusInternalServerError, MsgServerError)
		}
		return
	}

	http.SetCookie(w, h.sessionCookie(result.Token, h.service.Codec().TTL()))
	_ = httputil.WriteSuccess(w, loginResponse{
		Message: MsgLoginSuccessful,
		Token:   result.Token,
	})
}

// check handles GET /api/auth/check. It always answers 200.
func (h *AuthHandlers) check(w http.ResponseWriter, r *http.Request) {
	session := h.service.CheckSession(middleware.TokenFromRequest(r))
	_ = httputil.WriteSuccess(w, session)
}

// logout handles POST /api/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	cookie := h.sessionCookie("", 0)
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
	httputil.WriteMessage(w, http.StatusOK, MsgLoggedOut)
}

func (h *AuthHandlers) sessionCookie(value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
