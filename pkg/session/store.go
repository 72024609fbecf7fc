package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Backend persists serialized sessions with a TTL
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string
	// Get returns nil, nil when the key is absent or expired
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Options configures NewStore
type Options struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	// DefaultTTL applies only to sessions created with UseDefaultTTL.
	DefaultTTL time.Duration
	// SweepSchedule is the cron spec for purging expired in-process
	// sessions. Empty disables the sweep.
	SweepSchedule string
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Store manages sessions on top of a Backend
type Store struct {
	backend    Backend
	defaultTTL time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewStore picks the backend once. Redis is used when a URL is configured
// and answers a ping; anything else falls back to the in-process backend.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}

	var backend Backend
	if redisDisabled(opts.RedisURL) {
		opts.Logger.Info("Redis not configured, using in-process session store")
	} else {
		rb, err := NewRedisBackend(ctx, RedisOptions{
			URL:      opts.RedisURL,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			PoolSize: opts.RedisPoolSize,
		})
		if err != nil {
			opts.Logger.WithError(err).Warn("Redis unavailable, falling back to in-process session store")
		} else {
			backend = rb
		}
	}

	if backend == nil {
		mb := NewMemoryBackend()
		if opts.SweepSchedule != "" {
			if err := mb.StartSweeper(opts.SweepSchedule, opts.Logger); err != nil {
				return nil, err
			}
		}
		backend = mb
	}

	return NewStoreWithBackend(backend, opts), nil
}

// NewStoreWithBackend builds a store on an explicit backend
func NewStoreWithBackend(backend Backend, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 24 * time.Hour
	}
	return &Store{
		backend:    backend,
		defaultTTL: opts.DefaultTTL,
		logger:     opts.Logger.WithField("session_backend", backend.Name()),
		metrics:    opts.Metrics,
		now:        time.Now,
	}
}

func redisDisabled(url string) bool {
	switch strings.ToLower(strings.TrimSpace(url)) {
	case "", "disabled", "none", "memory", "false":
		return true
	}
	return false
}

// Backend returns the backend chosen at construction
func (s *Store) Backend() Backend {
	return s.backend
}

// Create stores a new session for principal. Expiry is the refresh expiry
// when known, else the access expiry, else the default TTL if the caller
// asked for it.
func (s *Store) Create(ctx context.Context, principal auth.Principal, tokens *Tokens) (rec *Record, err error) {
	const op = "session.Create"
	defer func() { s.metrics.ObserveSession("create", s.backend.Name(), err) }()

	if tokens == nil {
		tokens = &Tokens{}
	}
	if principal.UID == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, op, "principal has no uid")
	}

	now := s.now().UTC()
	rec = &Record{
		Principal:        principal,
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		AccessExpiresAt:  tokens.accessExpiry(now),
		RefreshExpiresAt: tokens.refreshExpiry(now),
		IssuedAt:         now,
	}
	if err := s.setExpiry(rec, now, tokens.UseDefaultTTL); err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnauthenticated, op, "cannot create session")
	}

	id, err := NewID()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, op, "cannot create session")
	}
	rec.ID = id

	if err := s.put(ctx, rec, now); err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "session backend unavailable")
	}
	return rec, nil
}

func (s *Store) setExpiry(rec *Record, now time.Time, useDefault bool) error {
	switch {
	case !rec.RefreshExpiresAt.IsZero():
		rec.ExpiresAt = rec.RefreshExpiresAt
	case !rec.AccessExpiresAt.IsZero():
		rec.ExpiresAt = rec.AccessExpiresAt
	case useDefault:
		rec.ExpiresAt = now.Add(s.defaultTTL)
	default:
		return ErrMissingExpiry
	}
	return nil
}

// Get returns the session or nil when it is absent. Expired sessions are
// deleted on read and reported absent.
func (s *Store) Get(ctx context.Context, id string) (rec *Record, err error) {
	const op = "session.Get"
	defer func() { s.metrics.ObserveSession("get", s.backend.Name(), err) }()

	if id == "" {
		return nil, nil
	}

	data, err := s.backend.Get(ctx, key(id))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "session backend unavailable")
	}
	if data == nil {
		return nil, nil
	}

	rec = &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		s.logger.WithError(err).Warn("Discarding unreadable session")
		s.deleteQuietly(ctx, id)
		return nil, nil
	}

	if rec.Expired(s.now()) {
		s.deleteQuietly(ctx, id)
		return nil, nil
	}
	return rec, nil
}

// UpdateTokens replaces the tokens of a live session. Expiries that are not
// supplied keep their previous values.
func (s *Store) UpdateTokens(ctx context.Context, id string, tokens *Tokens) (rec *Record, err error) {
	const op = "session.UpdateTokens"

	rec, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	defer func() { s.metrics.ObserveSession("update", s.backend.Name(), err) }()
	if rec == nil {
		return nil, apperr.New(apperr.KindUnauthenticated, op, "session not found")
	}
	if tokens == nil {
		return rec, nil
	}

	now := s.now().UTC()
	if tokens.AccessToken != "" {
		rec.AccessToken = tokens.AccessToken
	}
	if tokens.RefreshToken != "" {
		rec.RefreshToken = tokens.RefreshToken
	}
	if at := tokens.accessExpiry(now); !at.IsZero() {
		rec.AccessExpiresAt = at
	}
	if at := tokens.refreshExpiry(now); !at.IsZero() {
		rec.RefreshExpiresAt = at
	}
	if err := s.setExpiry(rec, now, tokens.UseDefaultTTL); err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnauthenticated, op, "cannot update session")
	}

	if err := s.put(ctx, rec, now); err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "session backend unavailable")
	}
	return rec, nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	defer func() { s.metrics.ObserveSession("delete", s.backend.Name(), err) }()
	if id == "" {
		return nil
	}
	if err := s.backend.Delete(ctx, key(id)); err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "session.Delete", "session backend unavailable")
	}
	return nil
}

// Ping checks the backend
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) put(ctx context.Context, rec *Record, now time.Time) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return s.backend.Set(ctx, key(rec.ID), data, ttlUntil(rec.ExpiresAt, now))
}

func (s *Store) deleteQuietly(ctx context.Context, id string) {
	if err := s.backend.Delete(ctx, key(id)); err != nil {
		s.logger.WithError(err).Warn("Failed to delete stale session")
	}
}
