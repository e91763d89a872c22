package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lookout-vision/lookout/pkg/archive"
	"github.com/lookout-vision/lookout/pkg/auth"
	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/httputil"
	"github.com/lookout-vision/lookout/pkg/inference"
	"github.com/lookout-vision/lookout/pkg/middleware"
	"github.com/lookout-vision/lookout/pkg/observability"
)

// DefaultMaxUploadBytes caps multipart bodies when Options leaves it unset
const DefaultMaxUploadBytes int64 = 50 << 20

// Inference is the part of the inference client the handlers call
type Inference interface {
	Detect(ctx context.Context, upload inference.Upload) (*inference.DetectResult, error)
	DetectFrame(ctx context.Context, imageData string) (*inference.DetectResult, error)
	UploadTrain(ctx context.Context, label string, uploads []inference.Upload) (*inference.TrainResult, error)
	History(ctx context.Context, limit, skip int) (*inference.HistoryPage, error)
}

// Options wires the server's dependencies
type Options struct {
	Auth      *auth.Service
	Recorder  *history.Recorder
	Inference Inference
	Archive   archive.Archive

	// AuthLimiter throttles register and login per client IP; nil disables it
	AuthLimiter middleware.Limiter
	// Metrics is optional
	Metrics *observability.Metrics
	Logger  logrus.FieldLogger

	CookieSecure     bool
	MaxUploadBytes   int64
	StoreFrameImages bool
	CORSOrigins      []string
}

// Server is the HTTP API
type Server struct {
	router     *mux.Router
	opts       Options
	logger     logrus.FieldLogger
	gatekeeper *middleware.AuthMiddleware

	authHandlers    *AuthHandlers
	detectHandlers  *DetectHandlers
	trainHandlers   *TrainHandlers
	historyHandlers *HistoryHandlers
}

// NewServer creates the API server and registers its routes
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Archive == nil {
		opts.Archive = archive.Noop{}
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Server{
		router:     mux.NewRouter(),
		opts:       opts,
		logger:     opts.Logger,
		gatekeeper: middleware.NewAuthMiddleware(opts.Auth.Codec(), opts.Logger),
	}

	s.authHandlers = NewAuthHandlers(opts.Auth, opts.CookieSecure, opts.Logger)
	s.detectHandlers = NewDetectHandlers(opts.Recorder, opts.Inference, opts.StoreFrameImages, opts.Logger)
	s.trainHandlers = NewTrainHandlers(opts.Recorder, opts.Inference, opts.Archive, opts.Logger)
	s.historyHandlers = NewHistoryHandlers(opts.Recorder.Store(), opts.Inference, opts.Logger)

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "Not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteFailure(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	api := s.router.PathPrefix("/api").Subrouter()

	var throttle Middleware = passthrough
	if s.opts.AuthLimiter != nil {
		throttle = middleware.NewRateLimitMiddleware(s.opts.AuthLimiter, "auth", s.logger).Handler
	}
	authenticate := Middleware(s.gatekeeper.Handler)
	upload := Middleware(httputil.MaxBytesMiddleware(s.opts.MaxUploadBytes))

	s.authHandlers.RegisterRoutes(api, throttle)
	s.detectHandlers.RegisterRoutes(api, Compose(authenticate, upload))
	s.trainHandlers.RegisterRoutes(api, Compose(authenticate, upload))
	s.historyHandlers.RegisterRoutes(api, authenticate)
}

// ServeHTTP implements http.Handler with the router only
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the request-scoped middleware:
// tracing, request id, logging, panic recovery and CORS
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.CORSMiddleware(s.opts.CORSOrigins),
	)
	return otelhttp.NewHandler(chain(s.router), "lookout-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// NewHTTPServer builds the http.Server for addr
func (s *Server) NewHTTPServer(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Compose applies middlewares so that the first runs outermost
func Compose(middlewares ...Middleware) Middleware {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

func passthrough(h http.Handler) http.Handler {
	return h
}
