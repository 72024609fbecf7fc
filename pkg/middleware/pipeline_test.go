package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/access"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/auth/authtest"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/manager"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/session"
	"github.com/platinummonkey/tenantgate/pkg/storage"
	"github.com/platinummonkey/tenantgate/pkg/storage/relational"
	"github.com/platinummonkey/tenantgate/pkg/tenancy"
)

type env struct {
	iss         *authtest.Issuer
	store       *manager.Store
	cache       *access.AccessCache
	routes      *access.RouteCache
	connector   *tenancy.Connector
	sessions    *session.Store
	provisioner *manager.Provisioner
	grants      *manager.Grants
	metrics     *observability.Metrics
	opts        middleware.PipelineOptions
	pipeline    *middleware.Pipeline

	tenantID int64
	tenantDB *sqlx.DB
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{iss: authtest.NewIssuer(t)}

	dsn := "file:" + filepath.Join(t.TempDir(), "manager.db")
	require.NoError(t, manager.Migrate(relational.DriverSQLite, dsn))
	db, err := sqlx.Open(relational.DriverSQLite, dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	e.store = manager.NewStore(db)

	e.metrics = observability.NewMetrics(prometheus.NewRegistry())
	e.cache = access.NewAccessCache(nil, e.metrics)
	require.NoError(t, e.cache.Load(ctx, e.store))
	e.routes = access.NewRouteCache(64, nil, e.metrics)

	registry, err := tenancy.NewRegistry(tenancy.Options{Capacity: 4, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	registry.AddListener(e.cache)
	registry.AddListener(e.routes)
	t.Cleanup(func() { registry.Close(context.Background()) })

	factory := storage.NewFactory()
	factory.Register(storage.KindRelational, relational.Opener(relational.PoolConfig{MaxOpenConns: 1}))
	e.connector = tenancy.NewConnector(registry, factory, e.store)

	e.sessions = session.NewStoreWithBackend(session.NewMemoryBackend(), session.Options{})

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		JWKSURL:   e.iss.JWKSURL(),
		Issuers:   []string{e.iss.URL()},
		Audiences: []string{authtest.Audience},
	})
	require.NoError(t, err)
	refresher, err := auth.NewRefresher(auth.RefresherConfig{ClientID: "tenantgate", TokenURL: e.iss.TokenURL()})
	require.NoError(t, err)

	e.provisioner = manager.NewProvisioner(e.store, e.cache, e.connector, manager.ProvisionerOptions{FanOutTimeout: 5 * time.Second})
	t.Cleanup(e.provisioner.Wait)
	e.grants = manager.NewGrants(e.store, e.cache, nil)

	e.createTenant(t)

	e.opts = middleware.PipelineOptions{
		Sessions:         e.sessions,
		Cookies:          session.DefaultCookieConfig(),
		Verifier:         verifier,
		Refresher:        refresher,
		RefreshThreshold: 30 * time.Minute,
		Users:            e.provisioner,
		Access:           e.cache,
		AccessLoader:     e.store,
		Tenants:          e.connector,
		Routes:           e.routes,
		Metrics:          e.metrics,
	}
	e.pipeline, err = middleware.NewPipeline(e.opts)
	require.NoError(t, err)

	// alice (role 1) may do anything on /api/data; bob (role 2) may only read
	for _, uid := range []string{"alice", "bob"} {
		_, err := e.provisioner.Ensure(ctx, &auth.Principal{UID: uid, Email: uid + "@example.com"})
		require.NoError(t, err)
		_, err = e.grants.Grant(ctx, uid, e.tenantID, "")
		require.NoError(t, err)
	}
	e.provisioner.Wait()

	return e
}

func (e *env) createTenant(t *testing.T) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "tenant.db")
	db, err := sqlx.Open(relational.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, uid TEXT NOT NULL UNIQUE, email TEXT NOT NULL DEFAULT '', name TEXT NOT NULL DEFAULT '', role_id INTEGER);
		CREATE TABLE role_routes (id INTEGER PRIMARY KEY AUTOINCREMENT, role_id INTEGER NOT NULL, method TEXT NOT NULL, path TEXT NOT NULL);
		INSERT INTO users (uid, role_id) VALUES ('alice', 1), ('bob', 2);
		INSERT INTO role_routes (role_id, method, path) VALUES
			(1, '*', '/api/data/{model}'),
			(2, 'GET', '/api/data/{model}');
	`)
	require.NoError(t, err)

	e.tenantID, err = e.store.CreateCredential(context.Background(), storage.Descriptor{
		Name:   "acme",
		Kind:   storage.KindRelational,
		Driver: relational.DriverSQLite,
		DSN:    dsn,
	}, false)
	require.NoError(t, err)
	e.tenantDB = db
}

func (e *env) createSession(t *testing.T, uid string, tokens *session.Tokens) *session.Record {
	t.Helper()
	rec, err := e.sessions.Create(context.Background(), auth.Principal{UID: uid, Email: uid + "@example.com"}, tokens)
	require.NoError(t, err)
	return rec
}

// echo reports what the pipeline attached to the request context
func echo(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{}
	if p, ok := middleware.PrincipalFrom(r.Context()); ok {
		out["uid"] = p.UID
		out["user_id"] = p.UserID
	}
	if rec, ok := middleware.SessionFrom(r.Context()); ok {
		out["session"] = rec.ID
	}
	if conn, ok := middleware.ConnectionFrom(r.Context()); ok {
		out["tenant"] = conn.TenantID
	}
	if id, ok := contextkeys.GetTenantID(r.Context()); ok {
		out["tenant_header"] = id
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func serve(h http.Handler, r *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func sessionRequest(method, sessionID string, tenantID int64) *http.Request {
	r := httptest.NewRequest(method, "/api/data/widgets", nil)
	if sessionID != "" {
		r.Header.Set(session.HeaderName, sessionID)
	}
	if tenantID != 0 {
		r.Header.Set(middleware.TenantHeader, strconv.FormatInt(tenantID, 10))
	}
	return r
}

func TestPipeline_SessionAllowed(t *testing.T) {
	e := setupEnv(t)
	rec := e.createSession(t, "alice", &session.Tokens{AccessExpiresIn: time.Hour, RefreshExpiresIn: 24 * time.Hour})

	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))
	w, body := serve(h, sessionRequest(http.MethodPost, rec.ID, e.tenantID))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice", body["uid"])
	assert.NotZero(t, body["user_id"], "principal is provisioned")
	assert.Equal(t, rec.ID, body["session"])
	assert.EqualValues(t, e.tenantID, body["tenant"])
	assert.EqualValues(t, e.tenantID, body["tenant_header"])
	assert.Empty(t, w.Header().Values("Set-Cookie"), "no refresh, no cookie")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.PipelineOutcomesTotal.WithLabelValues("allowed", "")))
}

// Each case flips exactly one input of an allowed request.
func TestPipeline_EndToEndFlips(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	alice := e.createSession(t, "alice", &session.Tokens{AccessExpiresIn: time.Hour})
	bob := e.createSession(t, "bob", &session.Tokens{AccessExpiresIn: time.Hour})

	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))

	tests := []struct {
		name   string
		setup  func(t *testing.T)
		req    func() *http.Request
		status int
		code   string
	}{
		{
			name:   "baseline",
			req:    func() *http.Request { return sessionRequest(http.MethodPost, alice.ID, e.tenantID) },
			status: http.StatusOK,
		},
		{
			name:   "no session",
			req:    func() *http.Request { return sessionRequest(http.MethodPost, "", e.tenantID) },
			status: http.StatusUnauthorized,
			code:   "UNAUTHENTICATED",
		},
		{
			name:   "unknown session",
			req:    func() *http.Request { return sessionRequest(http.MethodPost, "forged", e.tenantID) },
			status: http.StatusUnauthorized,
			code:   "UNAUTHENTICATED",
		},
		{
			name:   "no tenant header",
			req:    func() *http.Request { return sessionRequest(http.MethodPost, alice.ID, 0) },
			status: http.StatusBadRequest,
			code:   "INVALID_TENANT",
		},
		{
			name: "non-numeric tenant header",
			req: func() *http.Request {
				r := sessionRequest(http.MethodPost, alice.ID, 0)
				r.Header.Set(middleware.TenantHeader, "acme")
				return r
			},
			status: http.StatusBadRequest,
			code:   "INVALID_TENANT",
		},
		{
			name:   "tenant without access",
			req:    func() *http.Request { return sessionRequest(http.MethodPost, alice.ID, e.tenantID+1) },
			status: http.StatusForbidden,
			code:   "FORBIDDEN",
		},
		{
			name:   "route not granted",
			req:    func() *http.Request { return sessionRequest(http.MethodPost, bob.ID, e.tenantID) },
			status: http.StatusForbidden,
			code:   "FORBIDDEN",
		},
		{
			name:   "route granted",
			req:    func() *http.Request { return sessionRequest(http.MethodGet, bob.ID, e.tenantID) },
			status: http.StatusOK,
		},
		{
			name: "access entry revoked",
			setup: func(t *testing.T) {
				_, err := e.grants.Revoke(ctx, "alice", e.tenantID)
				require.NoError(t, err)
			},
			req:    func() *http.Request { return sessionRequest(http.MethodPost, alice.ID, e.tenantID) },
			status: http.StatusForbidden,
			code:   "FORBIDDEN",
		},
		{
			name: "access entry restored",
			setup: func(t *testing.T) {
				_, err := e.grants.Grant(ctx, "alice", e.tenantID, "")
				require.NoError(t, err)
			},
			req:    func() *http.Request { return sessionRequest(http.MethodPost, alice.ID, e.tenantID) },
			status: http.StatusOK,
		},
		{
			name: "session deleted",
			setup: func(t *testing.T) {
				require.NoError(t, e.sessions.Delete(ctx, alice.ID))
			},
			req:    func() *http.Request { return sessionRequest(http.MethodPost, alice.ID, e.tenantID) },
			status: http.StatusUnauthorized,
			code:   "UNAUTHENTICATED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(t)
			}
			w, body := serve(h, tt.req())
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
				assert.NotEmpty(t, body["message"])
			}
		})
	}
}

func TestPipeline_RoutePermissionFlip(t *testing.T) {
	e := setupEnv(t)
	bob := e.createSession(t, "bob", &session.Tokens{AccessExpiresIn: time.Hour})
	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))

	w, _ := serve(h, sessionRequest(http.MethodDelete, bob.ID, e.tenantID))
	require.Equal(t, http.StatusForbidden, w.Code)

	_, err := e.tenantDB.Exec(`INSERT INTO role_routes (role_id, method, path) VALUES (2, 'DELETE', '/api/data/{model}')`)
	require.NoError(t, err)
	// Verdicts live as long as the tenant connection does.
	e.routes.Invalidate(e.tenantID)

	w, _ = serve(h, sessionRequest(http.MethodDelete, bob.ID, e.tenantID))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestPipeline_Bearer(t *testing.T) {
	e := setupEnv(t)
	h := e.pipeline.TenantScoped(middleware.ClassBearer)(http.HandlerFunc(echo))

	bearer := func(header string) *http.Request {
		r := sessionRequest(http.MethodGet, "", e.tenantID)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	w, body := serve(h, bearer("Bearer "+e.iss.Mint(t, "bob", nil)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bob", body["uid"])
	assert.Nil(t, body["session"])

	for _, header := range []string{"", "Bearer", "Basic Ym9iOnB3", "Bearer not-a-jwt"} {
		w, body := serve(h, bearer(header))
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
		assert.Equal(t, "UNAUTHENTICATED", body["code"])
	}

	expired := e.iss.Mint(t, "bob", map[string]interface{}{"exp": time.Now().Add(-time.Minute).Unix()})
	w, _ = serve(h, bearer("Bearer "+expired))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A session id is not a bearer credential.
	rec := e.createSession(t, "bob", &session.Tokens{AccessExpiresIn: time.Hour})
	w, _ = serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPipeline_BearerProvisionsNewUser(t *testing.T) {
	e := setupEnv(t)
	h := e.pipeline.Authenticated(middleware.ClassBearer)(http.HandlerFunc(echo))

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.Header.Set("Authorization", "Bearer "+e.iss.Mint(t, "carol", nil))
	w, body := serve(h, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "carol", body["uid"])
	assert.Nil(t, body["tenant"], "no tenant resolution")

	u, err := e.store.GetUserByUID(context.Background(), "carol")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "carol@example.com", u.Email)
	assert.Equal(t, manager.RoleMember, u.Role)
}

func TestPipeline_RefreshNearExpiry(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	rt := e.iss.IssueRefreshToken("alice")
	old := e.createSession(t, "alice", &session.Tokens{
		AccessToken:      "at-old",
		RefreshToken:     rt,
		AccessExpiresIn:  5 * time.Minute,
		RefreshExpiresIn: time.Hour,
	})

	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))
	w, _ := serve(h, sessionRequest(http.MethodGet, old.ID, e.tenantID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	updated, err := e.sessions.Get(ctx, old.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, updated.AccessExpiresAt.After(old.AccessExpiresAt))
	assert.NotEqual(t, "at-old", updated.AccessToken)
	assert.NotEqual(t, rt, updated.RefreshToken, "refresh token rotated")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session_id", cookies[0].Name)
	assert.Equal(t, old.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	wantMaxAge := time.Until(updated.ExpiresAt).Seconds()
	assert.InDelta(t, wantMaxAge, float64(cookies[0].MaxAge), 5)
	assert.InDelta(t, (24 * time.Hour).Seconds(), float64(cookies[0].MaxAge), 5)
}

func TestPipeline_RefreshWithoutExpiresInUsesAccessTTL(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.iss.OmitExpiresIn = true

	opts := e.opts
	opts.AccessTTL = 2 * time.Hour
	p, err := middleware.NewPipeline(opts)
	require.NoError(t, err)

	rec := e.createSession(t, "alice", &session.Tokens{
		AccessToken:      "at-old",
		RefreshToken:     e.iss.IssueRefreshToken("alice"),
		AccessExpiresIn:  5 * time.Minute,
		RefreshExpiresIn: time.Hour,
	})

	h := p.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))
	w, _ := serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	refreshed, err := e.sessions.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.NotEqual(t, "at-old", refreshed.AccessToken)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), refreshed.AccessExpiresAt, 5*time.Second)

	// No longer near expiry, so the next request keeps the tokens
	w, _ = serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	again, err := e.sessions.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, refreshed.AccessToken, again.AccessToken)
}

func TestNewPipeline_AccessTTLMustExceedThreshold(t *testing.T) {
	e := setupEnv(t)
	opts := e.opts
	opts.AccessTTL = opts.RefreshThreshold
	_, err := middleware.NewPipeline(opts)
	assert.Error(t, err)
}

func TestPipeline_NearExpiryWithoutRefreshTokenFailsClosed(t *testing.T) {
	e := setupEnv(t)
	rec := e.createSession(t, "alice", &session.Tokens{AccessExpiresIn: 5 * time.Minute})

	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))
	r := sessionRequest(http.MethodGet, "", e.tenantID)
	r.AddCookie(&http.Cookie{Name: "session_id", Value: rec.ID})
	w, body := serve(h, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", body["code"])

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0, "cookie cleared")
}

func TestPipeline_RejectedRefreshDeletesSession(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	rec := e.createSession(t, "alice", &session.Tokens{
		RefreshToken:     "rt-revoked",
		AccessExpiresIn:  time.Minute,
		RefreshExpiresIn: time.Hour,
	})

	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))
	w, _ := serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	gone, err := e.sessions.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPipeline_RefreshEndpointDownIsUnavailable(t *testing.T) {
	e := setupEnv(t)
	rec := e.createSession(t, "alice", &session.Tokens{
		RefreshToken:    e.iss.IssueRefreshToken("alice"),
		AccessExpiresIn: time.Minute,
	})
	e.iss.Server.Close()

	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))
	w, body := serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", body["code"])

	still, err := e.sessions.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, still, "an outage does not end the session")
}

func TestPipeline_UnknownCredentialIsTenantNotFound(t *testing.T) {
	e := setupEnv(t)
	rec := e.createSession(t, "alice", &session.Tokens{AccessExpiresIn: time.Hour})

	u, err := e.store.GetUserByUID(context.Background(), "alice")
	require.NoError(t, err)
	e.cache.Add(u.ID, "alice", 999, "member")

	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))
	w, body := serve(h, sessionRequest(http.MethodGet, rec.ID, 999))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "TENANT_NOT_FOUND", body["code"])
}

func TestPipeline_UnknownAccessLoadsOnDemand(t *testing.T) {
	e := setupEnv(t)
	rec := e.createSession(t, "alice", &session.Tokens{AccessExpiresIn: time.Hour})
	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))

	e.cache.Reset()
	require.Equal(t, access.Unknown, e.cache.Check("alice", e.tenantID))

	w, _ := serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, e.cache.Loaded())
}

func TestPipeline_UnknownAccessWithoutLoaderIsInternal(t *testing.T) {
	e := setupEnv(t)
	rec := e.createSession(t, "alice", &session.Tokens{AccessExpiresIn: time.Hour})

	opts := e.opts
	opts.AccessLoader = nil
	p, err := middleware.NewPipeline(opts)
	require.NoError(t, err)
	h := p.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))

	e.cache.Reset()
	w, body := serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL", body["code"])
}

func TestPipeline_SessionBackendDownIsUnavailable(t *testing.T) {
	e := setupEnv(t)

	mr := miniredis.RunT(t)
	rb, err := session.NewRedisBackend(context.Background(), session.RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	sessions := session.NewStoreWithBackend(rb, session.Options{})
	t.Cleanup(func() { sessions.Close() })

	opts := e.opts
	opts.Sessions = sessions
	p, err := middleware.NewPipeline(opts)
	require.NoError(t, err)
	h := p.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))

	rec, err := sessions.Create(context.Background(), auth.Principal{UID: "alice"}, &session.Tokens{AccessExpiresIn: time.Hour})
	require.NoError(t, err)
	w, _ := serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	mr.Close()
	w, body := serve(h, sessionRequest(http.MethodGet, rec.ID, e.tenantID))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", body["code"])
}

func TestPipeline_OutcomeMetrics(t *testing.T) {
	e := setupEnv(t)
	h := e.pipeline.TenantScoped(middleware.ClassSession)(http.HandlerFunc(echo))

	serve(h, sessionRequest(http.MethodGet, "", e.tenantID))
	serve(h, sessionRequest(http.MethodGet, "", e.tenantID))

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.PipelineOutcomesTotal.WithLabelValues("rejected", "UNAUTHENTICATED")))
}

func TestNewPipeline_RequiresServices(t *testing.T) {
	_, err := middleware.NewPipeline(middleware.PipelineOptions{})
	assert.Error(t, err)
}

func TestParseTenantID(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"42", 42, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"1.5", 0, false},
		{"abc", 0, false},
		{"99999999999999999999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := middleware.ParseTenantID(tt.header)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
