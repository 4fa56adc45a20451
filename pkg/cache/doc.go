// Package cache provides the named, versioned response stores used by the
// offline worker.
//
// A store is called a generation. Each generation belongs to a role
// (static or dynamic) and carries a version; the registry formats the pair
// into a storage name only at the storage boundary:
//
//	shopease-static-v3
//	shopease-dynamic-v3
//
// Features:
//
// - Exactly one current generation per role
// - Prefix-scoped eviction of stale generations (never touches stores of
// other applications sharing the same namespace)
// - Exact request matching across every store ("any cache" lookups)
// - Pluggable backends: in-memory, Redis and LevelDB
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	backend := cache.NewMemoryBackend(0)
//	registry := cache.NewRegistry(backend, cache.DefaultRegistryConfig(), logger)
//
//	static, err := registry.OpenGeneration(ctx, cache.RoleStatic)
//	if err != nil {
//		return err
//	}
//
//	key := cache.NewKey(http.MethodGet, req.URL)
//	entry, err := static.Match(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from network
//	}
//
// # Storing Responses
//
//	entry, err := cache.ResponseToEntry(resp) // body is restored for the caller
//	if err != nil {
//		return err
//	}
//	if err := static.Put(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Activation Cleanup
//
//	deleted, err := registry.EvictStale(ctx, registry.CurrentNames())
//
// # Metrics
//
//   - shopease_cache_hits_total{role} - Cache hits by generation role
//   - shopease_cache_misses_total - Cache misses
//   - shopease_cache_written_bytes_total{role} - Bytes written by role
//   - shopease_cache_evictions_total - Stale generations deleted
//   - shopease_cache_errors_total{operation} - Cache operation errors
package cache
