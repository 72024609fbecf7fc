// Package async runs background work with timeouts and panic recovery.
//
// SafeGo detaches a single task; errors and panics are logged, never
// propagated:
//
//	async.SafeGo(context.WithoutCancel(r.Context()), 10*time.Second, "tenant user sync", logger,
//		func(ctx context.Context) error {
//			return syncTenants(ctx, uid)
//		})
//
// Batch processes a slice with bounded concurrency and collects the errors:
//
//	errs := async.Batch(ctx, tenantIDs, 4, 5*time.Second, func(ctx context.Context, id int64) error {
//		return upsertUser(ctx, id)
//	})
//
// The provisioner in pkg/manager uses both to push user records to every
// tenant a user can reach without holding up the request.
package async
