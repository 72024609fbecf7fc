package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/manager"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/session"
)

// bearerHeader selects the bearer variant of a route
const bearerHeader = `(?i)^bearer\s`

// ServerOptions wires the services behind the API
type ServerOptions struct {
	Pipeline *middleware.Pipeline
	Sessions *session.Store
	Cookies  session.CookieConfig
	Grants   *manager.Grants

	// RateLimit guards authenticated routes, keyed by principal. May be nil.
	RateLimit *middleware.RateLimitMiddleware
	// SignInLimit guards session creation, keyed by client address. May be nil.
	SignInLimit *middleware.RateLimitMiddleware

	AllowedOrigins []string
	MaxBodyBytes   int64

	// Audit records sign-in and access changes. May be nil.
	Audit audit.Logger

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server represents our API server
type Server struct {
	router   *mux.Router
	handler  http.Handler
	pipeline *middleware.Pipeline
	limit    *middleware.RateLimitMiddleware
	logger   *observability.Logger

	authHandlers   *AuthHandlers
	accessHandlers *AccessHandlers
	dataHandlers   *DataHandlers
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) (*Server, error) {
	switch {
	case opts.Pipeline == nil:
		return nil, fmt.Errorf("api server requires a pipeline")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("api server requires a session store")
	case opts.Grants == nil:
		return nil, fmt.Errorf("api server requires a grant service")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}

	s := &Server{
		router:   mux.NewRouter(),
		pipeline: opts.Pipeline,
		limit:    opts.RateLimit,
		logger:   opts.Logger,
	}
	s.authHandlers = NewAuthHandlers(opts.Pipeline, opts.Sessions, opts.Cookies, opts.SignInLimit, opts.Audit)
	s.accessHandlers = NewAccessHandlers(opts.Grants, opts.Audit)
	s.dataHandlers = NewDataHandlers()

	s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	s.router.NotFoundHandler = http.HandlerFunc(notFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggerMiddleware(opts.Logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(opts.AllowedOrigins),
	)
	var h http.Handler = s.router
	if opts.MaxBodyBytes > 0 {
		h = httputil.MaxBytesMiddleware(opts.MaxBodyBytes)(h)
	}
	s.handler = otelhttp.NewHandler(chain(h), "tenantgate.api")
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.authHandlers.RegisterRoutes(s.router)
	s.RegisterRoutes(s.authHandlers)
	s.RegisterRoutes(s.accessHandlers)
	s.RegisterRoutes(s.dataHandlers)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Scope is how a guarded route resolves its caller
type Scope int

const (
	// ScopeIdentity routes need an authenticated, provisioned caller
	ScopeIdentity Scope = iota
	// ScopeTenant routes additionally need X-Tenant-ID, access and a route grant
	ScopeTenant
)

// GuardedRoute is a route served behind the resolution pipeline
type GuardedRoute struct {
	Path    string
	Methods []string
	Scope   Scope
	Handler http.HandlerFunc
}

// RouteRegistrar is an interface for types that can register guarded routes
type RouteRegistrar interface {
	Routes() []GuardedRoute
}

// RegisterRoutes registers routes from a RouteRegistrar. Each route is
// mounted twice on the same template: requests with a bearer Authorization
// header take the bearer class, everything else the session class.
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	for _, gr := range registrar.Routes() {
		guard := s.pipeline.Authenticated
		if gr.Scope == ScopeTenant {
			guard = s.pipeline.TenantScoped
		}

		var h http.Handler = gr.Handler
		if s.limit != nil {
			h = s.limit.Handler(h)
		}

		s.router.Handle(gr.Path, guard(middleware.ClassBearer)(h)).
			Methods(gr.Methods...).
			HeadersRegexp("Authorization", bearerHeader)
		s.router.Handle(gr.Path, guard(middleware.ClassSession)(h)).
			Methods(gr.Methods...)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, r, errNotFound(r))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteCode(w, r, http.StatusMethodNotAllowed, httputil.CodeMethodNotAllowed)
}

// recordAudit logs an audit event. A failing audit destination is logged
// and does not fail the request.
func recordAudit(log audit.Logger, r *http.Request, event *audit.Event) {
	if err := log.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).
			WithField("event_type", string(event.Type)).
			Error("Failed to record audit event")
	}
}
