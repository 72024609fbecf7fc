package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/tenantgate/pkg/access"
	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/manager"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/session"
	"github.com/platinummonkey/tenantgate/pkg/tenancy"
)

// TenantHeader names the tenant a request operates against
const TenantHeader = "X-Tenant-ID"

// Class selects how a route authenticates its caller
type Class int

const (
	// ClassSession routes carry a session id (header or cookie)
	ClassSession Class = iota
	// ClassBearer routes carry an Authorization: Bearer token
	ClassBearer
)

func (c Class) String() string {
	if c == ClassBearer {
		return "bearer"
	}
	return "session"
}

// Pipeline steps, used as span names and metric labels
const (
	StepExtract   = "extract"
	StepValidate  = "validate"
	StepPrincipal = "principal"
	StepProvision = "provision"
	StepTenant    = "tenant"
	StepAccess    = "access"
	StepConnect   = "connect"
	StepRoute     = "route"
)

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*auth.Identity, error)
}

// TokenRefresher runs the refresh-token grant
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.Tokens, error)
}

// UserProvisioner registers callers in the manager tenant
type UserProvisioner interface {
	Ensure(ctx context.Context, principal *auth.Principal) (*manager.User, error)
}

// TenantConnector returns the live connection of a tenant
type TenantConnector interface {
	Connection(ctx context.Context, tenantID int64) (*tenancy.Connection, error)
}

// RouteChecker decides route access inside a tenant
type RouteChecker interface {
	Check(ctx context.Context, uid, method, path string, conn *tenancy.Connection) (bool, error)
}

// PipelineOptions wires the services a request is resolved against
type PipelineOptions struct {
	Sessions *session.Store
	Cookies  session.CookieConfig
	Verifier TokenVerifier
	// Refresher may be nil; near-expiry sessions are then rejected.
	Refresher        TokenRefresher
	RefreshThreshold time.Duration
	// AccessTTL is the access lifetime assumed when the token endpoint does
	// not report expires_in. Defaults to one hour.
	AccessTTL time.Duration

	Users        UserProvisioner
	Access       *access.AccessCache
	AccessLoader access.Loader
	Tenants      TenantConnector
	Routes       RouteChecker

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Pipeline resolves every request to either ALLOWED, with principal, session
// and tenant connection attached to its context, or a single rejection.
type Pipeline struct {
	sessions         *session.Store
	cookies          session.CookieConfig
	verifier         TokenVerifier
	refresher        TokenRefresher
	refreshThreshold time.Duration
	accessTTL        time.Duration
	users            UserProvisioner
	access           *access.AccessCache
	accessLoader     access.Loader
	tenants          TenantConnector
	routes           RouteChecker
	logger           *observability.Logger
	metrics          *observability.Metrics
	now              func() time.Time
}

// NewPipeline validates the wiring and builds a pipeline
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	switch {
	case opts.Sessions == nil:
		return nil, fmt.Errorf("pipeline requires a session store")
	case opts.Verifier == nil:
		return nil, fmt.Errorf("pipeline requires a token verifier")
	case opts.Users == nil:
		return nil, fmt.Errorf("pipeline requires a user provisioner")
	case opts.Access == nil:
		return nil, fmt.Errorf("pipeline requires an access cache")
	case opts.Tenants == nil:
		return nil, fmt.Errorf("pipeline requires a tenant connector")
	case opts.Routes == nil:
		return nil, fmt.Errorf("pipeline requires a route checker")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.RefreshThreshold < 0 {
		opts.RefreshThreshold = 0
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.AccessTTL <= opts.RefreshThreshold {
		return nil, fmt.Errorf("access TTL %s must exceed the refresh threshold %s", opts.AccessTTL, opts.RefreshThreshold)
	}

	return &Pipeline{
		sessions:         opts.Sessions,
		cookies:          opts.Cookies,
		verifier:         opts.Verifier,
		refresher:        opts.Refresher,
		refreshThreshold: opts.RefreshThreshold,
		accessTTL:        opts.AccessTTL,
		users:            opts.Users,
		access:           opts.Access,
		accessLoader:     opts.AccessLoader,
		tenants:          opts.Tenants,
		routes:           opts.Routes,
		logger:           opts.Logger.WithField("component", "pipeline"),
		metrics:          opts.Metrics,
		now:              time.Now,
	}, nil
}

// Result is the state of an ALLOWED request
type Result struct {
	Class     Class
	Principal *auth.Principal
	// Identity is the verified token of bearer requests.
	Identity *auth.Identity
	Session  *session.Record
	User     *manager.User
	TenantID int64
	Conn     *tenancy.Connection
}

// Authenticate runs the identity half of the pipeline: credential
// extraction, validation (refreshing sessions near expiry), principal
// resolution and provisioning. w receives a re-issued session cookie.
func (p *Pipeline) Authenticate(w http.ResponseWriter, r *http.Request, class Class) (*Result, error) {
	ctx, span := observability.Tracer().Start(r.Context(), "pipeline.authenticate")
	defer span.End()
	span.SetAttributes(attribute.String("tenantgate.route_class", class.String()))

	res, err := p.authenticate(ctx, w, r, class)
	if err != nil {
		span.SetStatus(codes.Error, apperr.CodeOf(apperr.KindOf(err)))
	}
	return res, err
}

func (p *Pipeline) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request, class Class) (*Result, error) {
	res := &Result{Class: class}

	var credential string
	err := p.step(ctx, StepExtract, func(ctx context.Context) error {
		var ok bool
		credential, ok = p.extract(r, class)
		if !ok {
			return apperr.New(apperr.KindUnauthenticated, "pipeline.extract", "missing or malformed "+class.String()+" credential")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.step(ctx, StepValidate, func(ctx context.Context) error {
		if class == ClassBearer {
			ident, err := p.verifier.Verify(ctx, credential)
			if err != nil {
				return err
			}
			principal := ident.Principal
			res.Principal = &principal
			res.Identity = ident
			return nil
		}

		rec, err := p.validateSession(ctx, w, credential)
		if err != nil {
			return err
		}
		principal := rec.Principal
		res.Principal = &principal
		res.Session = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.step(ctx, StepPrincipal, func(ctx context.Context) error {
		if res.Principal.UID == "" {
			return apperr.New(apperr.KindUnauthenticated, "pipeline.principal", "credential names no user")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.step(ctx, StepProvision, func(ctx context.Context) error {
		u, err := p.users.Ensure(ctx, res.Principal)
		if err != nil {
			return unexpected(err, "pipeline.provision", "cannot register user")
		}
		res.User = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Resolve runs the whole pipeline, ending with a tenant connection the
// caller may use on this route.
func (p *Pipeline) Resolve(w http.ResponseWriter, r *http.Request, class Class) (*Result, error) {
	ctx, span := observability.Tracer().Start(r.Context(), "pipeline.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("tenantgate.route_class", class.String()))

	res, err := p.resolve(ctx, w, r, class)
	if err != nil {
		span.SetStatus(codes.Error, apperr.CodeOf(apperr.KindOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("tenantgate.tenant_id", res.TenantID))
	return res, nil
}

func (p *Pipeline) resolve(ctx context.Context, w http.ResponseWriter, r *http.Request, class Class) (*Result, error) {
	res, err := p.authenticate(ctx, w, r, class)
	if err != nil {
		return nil, err
	}
	uid := res.Principal.UID

	err = p.step(ctx, StepTenant, func(ctx context.Context) error {
		id, err := ParseTenantID(r.Header.Get(TenantHeader))
		if err != nil {
			return err
		}
		res.TenantID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.step(ctx, StepAccess, func(ctx context.Context) error {
		return p.checkAccess(ctx, uid, res.TenantID)
	})
	if err != nil {
		return nil, err
	}

	err = p.step(ctx, StepConnect, func(ctx context.Context) error {
		conn, err := p.tenants.Connection(ctx, res.TenantID)
		if err != nil {
			return unexpected(err, "pipeline.connect", "cannot reach tenant")
		}
		res.Conn = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.step(ctx, StepRoute, func(ctx context.Context) error {
		allowed, err := p.routes.Check(ctx, uid, r.Method, r.URL.Path, res.Conn)
		if err != nil {
			return unexpected(err, "pipeline.route", "cannot check route access")
		}
		if !allowed {
			return apperr.Errorf(apperr.KindForbidden, "pipeline.route", "%s %s is not granted", r.Method, r.URL.Path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Authenticated admits requests that pass the identity half of the pipeline
func (p *Pipeline) Authenticated(class Class) func(http.Handler) http.Handler {
	return p.handler(class, p.Authenticate)
}

// TenantScoped admits requests that pass the whole pipeline
func (p *Pipeline) TenantScoped(class Class) func(http.Handler) http.Handler {
	return p.handler(class, p.Resolve)
}

type resolveFunc func(http.ResponseWriter, *http.Request, Class) (*Result, error)

func (p *Pipeline) handler(class Class, run resolveFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := run(w, r, class)
			if err != nil {
				p.reject(w, r, class, err)
				return
			}
			p.metrics.ObserveOutcome("allowed", "")
			next.ServeHTTP(w, r.WithContext(res.attach(r.Context())))
		})
	}
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, class Class, err error) {
	kind := apperr.KindOf(err)
	p.metrics.ObserveOutcome("rejected", apperr.CodeOf(kind))
	if class == ClassSession && kind == apperr.KindUnauthenticated && p.cookies.ExtractID(r) != "" {
		p.cookies.ClearCookie(w)
	}
	httputil.WriteError(w, r, err)
}

func (p *Pipeline) extract(r *http.Request, class Class) (string, bool) {
	if class == ClassBearer {
		return auth.BearerToken(r.Header.Get("Authorization"))
	}
	id := p.cookies.ExtractID(r)
	return id, id != ""
}

func (p *Pipeline) validateSession(ctx context.Context, w http.ResponseWriter, id string) (*session.Record, error) {
	rec, err := p.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.New(apperr.KindUnauthenticated, "pipeline.session", "session expired or unknown")
	}
	if session.NearExpiry(rec, p.now(), p.refreshThreshold) {
		return p.RefreshSession(ctx, w, rec)
	}
	return rec, nil
}

// RefreshSession exchanges the session's refresh token, stores the new
// tokens and re-issues the cookie for the remaining lifetime. A session
// without a refresh token is not extended.
func (p *Pipeline) RefreshSession(ctx context.Context, w http.ResponseWriter, rec *session.Record) (next *session.Record, err error) {
	const op = "pipeline.refresh"

	if rec.RefreshToken == "" || p.refresher == nil {
		return nil, apperr.New(apperr.KindUnauthenticated, op, "session near expiry without refresh token")
	}
	defer func() { p.metrics.ObserveRefresh(err) }()

	tokens, err := p.refresher.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		if apperr.Is(err, apperr.KindUnauthenticated) {
			if derr := p.sessions.Delete(ctx, rec.ID); derr != nil {
				p.logger.WithError(derr).Warn("Failed to delete session with rejected refresh token")
			}
		}
		return nil, err
	}

	update := &session.Tokens{
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		RefreshExpiresIn: tokens.RefreshExpiresIn,
	}
	if !tokens.AccessExpiresAt.IsZero() {
		at := tokens.AccessExpiresAt
		update.AccessExpiresAt = &at
	} else {
		update.AccessExpiresIn = p.accessTTL
	}

	next, err = p.sessions.UpdateTokens(ctx, rec.ID, update)
	if err != nil {
		return nil, err
	}
	p.cookies.WriteCookie(w, next.ID, next.MaxAge(p.now()))
	return next, nil
}

func (p *Pipeline) checkAccess(ctx context.Context, uid string, tenantID int64) error {
	const op = "pipeline.access"

	decision := p.access.Check(uid, tenantID)
	if decision == access.Unknown && p.accessLoader != nil {
		if err := p.access.Ensure(ctx, p.accessLoader, tenantID); err != nil {
			return unexpected(err, op, "cannot load access entries")
		}
		decision = p.access.Check(uid, tenantID)
	}

	switch decision {
	case access.Allowed:
		return nil
	case access.Denied:
		return apperr.Errorf(apperr.KindForbidden, op, "user has no access to tenant %d", tenantID)
	default:
		return apperr.Errorf(apperr.KindInternal, op, "access to tenant %d is undecided", tenantID)
	}
}

// step runs fn under its own span and duration metric
func (p *Pipeline) step(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "pipeline."+name)
	defer span.End()

	err := fn(ctx)
	p.metrics.ObserveStep(name, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.CodeOf(apperr.KindOf(err)))
	}
	return err
}

// ParseTenantID reads a tenant header value; only positive integers are valid
func ParseTenantID(header string) (int64, error) {
	const op = "pipeline.tenant"

	header = strings.TrimSpace(header)
	if header == "" {
		return 0, apperr.New(apperr.KindInvalidTenant, op, "missing "+TenantHeader+" header")
	}
	id, err := strconv.ParseInt(header, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Errorf(apperr.KindInvalidTenant, op, "invalid %s header %q", TenantHeader, header)
	}
	return id, nil
}

// unexpected keeps classified errors and turns anything else into Unavailable
func unexpected(err error, op, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(err, apperr.KindUnavailable, op, msg)
}

func (res *Result) attach(ctx context.Context) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, res.Principal)
	ctx = contextkeys.WithUserUID(ctx, res.Principal.UID)
	if res.Session != nil {
		ctx = contextkeys.WithSession(ctx, res.Session)
	}
	if res.Conn != nil {
		ctx = contextkeys.WithTenantID(ctx, res.TenantID)
		ctx = contextkeys.WithTenantConn(ctx, res.Conn)
	}
	return ctx
}

// PrincipalFrom returns the principal attached by the pipeline
func PrincipalFrom(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
	return p, ok && p != nil
}

// SessionFrom returns the session attached by the pipeline
func SessionFrom(ctx context.Context) (*session.Record, bool) {
	rec, ok := ctx.Value(contextkeys.SessionKey).(*session.Record)
	return rec, ok && rec != nil
}

// ConnectionFrom returns the tenant connection attached by the pipeline
func ConnectionFrom(ctx context.Context) (*tenancy.Connection, bool) {
	conn, ok := ctx.Value(contextkeys.TenantConnKey).(*tenancy.Connection)
	return conn, ok && conn != nil
}
