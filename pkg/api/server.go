package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/ideahub/pkg/apikeys"
	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/capture"
	"github.com/platinummonkey/ideahub/pkg/httputil"
	"github.com/platinummonkey/ideahub/pkg/middleware"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/rbac"
)

// Dependencies are the collaborators the API server routes to. RateLimit,
// Audit and Metrics are optional.
type Dependencies struct {
	Authenticator middleware.KeyAuthenticator
	Issuer        *apikeys.Issuer
	Guard         *rbac.Guard
	Captures      capture.Service
	Sessions      *middleware.SessionMiddleware
	RateLimit     *middleware.RateLimitMiddleware
	Audit         audit.Logger
	Metrics       *observability.Metrics
	Logger        *observability.Logger

	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server represents our API server
type Server struct {
	router *mux.Router
	deps   Dependencies

	extension *ExtensionHandlers
	workspace *WorkspaceHandlers
}

// NewServer creates a new API server and registers every route
func NewServer(deps Dependencies) *Server {
	if deps.Audit == nil {
		deps.Audit = audit.NewNoOpLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}

	s.extension = NewExtensionHandlers(deps.Authenticator, deps.Captures, deps.RateLimit)
	s.workspace = NewWorkspaceHandlers(deps.Issuer, deps.Guard, deps.Sessions)

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	s.router.Use(audit.NewMiddleware(s.deps.Audit, false).Handler)

	s.extension.RegisterRoutes(s.router)
	s.workspace.RegisterRoutes(s.router.PathPrefix("/api/v1").Subrouter())

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "not found")
	})
}

// ServeHTTP implements http.Handler without the outer middleware
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the router wrapped in tracing, request ids, logging, panic
// recovery, CORS and the body size limit
func (s *Server) Handler() http.Handler {
	maxBody := s.deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	chain := httputil.Chain(
		httputil.RequestIDMiddleware(s.deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(s.deps.AllowedOrigins),
		httputil.MaxBytesMiddleware(maxBody),
	)
	return otelhttp.NewHandler(chain(s.router), "ideahub",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
