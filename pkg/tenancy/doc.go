// Package tenancy holds the tenant connection registry.
//
// The Registry is a bounded cache of live tenant connections keyed by tenant
// id. Eviction is strict insertion order: Get never reorders, and Set on an
// existing key moves it to the back. Manager connections are pinned and never
// chosen as eviction victims.
//
// Evicting or deleting a connection notifies every EvictionListener (the
// access and route caches) before the handle is closed, so no access facts
// outlive the connection they were resolved against.
//
//	registry, _ := tenancy.NewRegistry(tenancy.Options{Capacity: 50})
//	registry.AddListener(accessCache)
//	registry.AddListener(routeCache)
//
//	conn, err := registry.Resolve(ctx, tenantID, openTenant)
//
// Resolve is get-or-create: concurrent misses for one tenant share a single
// open call, bounded by the configured connect timeout.
package tenancy
