package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/tenantgate/pkg/access"
	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/async"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/storage"
	"github.com/platinummonkey/tenantgate/pkg/tenancy"
)

// TenantConnector resolves live tenant connections
type TenantConnector interface {
	Connection(ctx context.Context, tenantID int64) (*tenancy.Connection, error)
}

// ProvisionerOptions configures a Provisioner
type ProvisionerOptions struct {
	// KnownUserTTL bounds how long a provisioned user skips the database.
	KnownUserTTL  time.Duration
	KnownUserSize int
	// FanOutTimeout bounds each background tenant sync.
	FanOutTimeout time.Duration
	FanOutWorkers int
	Logger        *observability.Logger
}

// Provisioner makes sure every authenticated principal has a manager user
// and pushes profile changes to the tenants the user can reach.
type Provisioner struct {
	store   *Store
	access  *access.AccessCache
	tenants TenantConnector
	known   *expirable.LRU[string, User]

	fanOutTimeout time.Duration
	fanOutWorkers int
	logger        *observability.Logger
	wg            sync.WaitGroup
}

// NewProvisioner creates a provisioner
func NewProvisioner(store *Store, cache *access.AccessCache, tenants TenantConnector, opts ProvisionerOptions) *Provisioner {
	if opts.KnownUserTTL <= 0 {
		opts.KnownUserTTL = 5 * time.Minute
	}
	if opts.KnownUserSize <= 0 {
		opts.KnownUserSize = 4096
	}
	if opts.FanOutTimeout <= 0 {
		opts.FanOutTimeout = 10 * time.Second
	}
	if opts.FanOutWorkers <= 0 {
		opts.FanOutWorkers = 4
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}

	return &Provisioner{
		store:         store,
		access:        cache,
		tenants:       tenants,
		known:         expirable.NewLRU[string, User](opts.KnownUserSize, nil, opts.KnownUserTTL),
		fanOutTimeout: opts.FanOutTimeout,
		fanOutWorkers: opts.FanOutWorkers,
		logger:        opts.Logger.WithField("component", "provisioner"),
	}
}

// Ensure registers principal in the manager tenant when needed and fills in
// its UserID and application role. The first user ever provisioned becomes
// admin. A new or changed profile is synced to the user's tenants in the
// background.
func (p *Provisioner) Ensure(ctx context.Context, principal *auth.Principal) (*User, error) {
	const op = "manager.Ensure"

	if principal == nil || principal.UID == "" {
		return nil, apperr.New(apperr.KindUnauthenticated, op, "principal has no uid")
	}

	if u, ok := p.known.Get(principal.UID); ok && !profileChanged(&u, principal) {
		applyUser(principal, &u)
		return &u, nil
	}

	u, err := p.store.GetUserByUID(ctx, principal.UID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "manager tenant unavailable")
	}

	changed := false
	switch {
	case u == nil:
		u, err = p.store.CreateUser(ctx, *principal)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "cannot provision user")
		}
		changed = true
		log := p.logger.WithFields(map[string]interface{}{"uid": u.UID, "user_id": u.ID})
		if u.Role == auth.RoleAdmin {
			log.Info("First user provisioned as admin")
		} else {
			log.Info("User provisioned")
		}
	case profileChanged(u, principal):
		email, name := mergeProfile(u, principal)
		if err := p.store.UpdateUserProfile(ctx, u.ID, email, name); err != nil {
			return nil, apperr.Wrap(err, apperr.KindUnavailable, op, "cannot update user")
		}
		u.Email, u.Name = email, name
		changed = true
	}

	p.known.Add(u.UID, *u)
	applyUser(principal, u)

	if changed {
		p.fanOut(ctx, *u)
	}
	return u, nil
}

// Forget drops a user from the known-user cache
func (p *Provisioner) Forget(uid string) {
	p.known.Remove(uid)
}

// Wait blocks until background syncs started so far have finished
func (p *Provisioner) Wait() {
	p.wg.Wait()
}

func profileChanged(u *User, principal *auth.Principal) bool {
	return (principal.Email != "" && principal.Email != u.Email) ||
		(principal.Name != "" && principal.Name != u.Name)
}

func mergeProfile(u *User, principal *auth.Principal) (string, string) {
	email, name := u.Email, u.Name
	if principal.Email != "" {
		email = principal.Email
	}
	if principal.Name != "" {
		name = principal.Name
	}
	return email, name
}

func applyUser(principal *auth.Principal, u *User) {
	principal.UserID = u.ID
	principal.Role = u.Role
}

// fanOut upserts the user's row in every tenant they can reach. It runs
// detached from the request.
func (p *Provisioner) fanOut(ctx context.Context, u User) {
	tenants := p.access.TenantsFor(u.UID)
	if len(tenants) == 0 || p.tenants == nil {
		return
	}

	p.wg.Add(1)
	async.SafeGo(context.WithoutCancel(ctx), p.fanOutTimeout, "tenant user sync", p.logger, func(ctx context.Context) error {
		defer p.wg.Done()
		errs := async.Batch(ctx, tenants, p.fanOutWorkers, p.fanOutTimeout, func(ctx context.Context, tenantID int64) error {
			return p.syncTenantUser(ctx, tenantID, u)
		})
		return errors.Join(errs...)
	})
}

func (p *Provisioner) syncTenantUser(ctx context.Context, tenantID int64, u User) error {
	conn, err := p.tenants.Connection(ctx, tenantID)
	if err != nil {
		return err
	}
	users, err := conn.Model(access.UsersModel)
	if err != nil {
		return err
	}

	existing, err := users.FindOne(ctx, storage.Query{Where: storage.Filter{"uid": u.UID}})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		_, err = users.Create(ctx, storage.Record{"uid": u.UID, "email": u.Email, "name": u.Name})
	case err == nil:
		_, err = users.Update(ctx, existing.ID(), storage.Record{"email": u.Email, "name": u.Name})
	}
	return err
}
