// Package cacheguard keeps a shared cache consistent with its source of truth
// under concurrent load.
//
// Three read strategies share one Cache and one storage format:
//
//   - Aside:   read, on miss load and write back. Misses the source reports as
//     "not found" are cached as short-lived tombstones so repeated lookups of
//     absent keys stay off the source.
//   - Mutex:   like Aside, but only the holder of a per-key rebuild lock calls
//     the loader. Everyone else backs off and re-reads. Use it for hot keys
//     whose expiry would otherwise send every request to the source.
//   - Logical: entries never expire physically; they carry a logical deadline.
//     Past it, readers get the stale value immediately and one of them hands
//     the rebuild to a bounded worker pool.
//
// Components:
//   - store.Store: byte store with TTL and two atomic primitives (SetNX,
//     CompareAndDelete). Memory, Redis and a two-level near cache ship in
//     store/.
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - lock.Locker: SET NX PX locks released by compare-and-delete.
//   - rebuild.Executor: fixed worker pool for logical-expiry rebuilds.
//
// Keys:
//
//	cache:<ns>:<key>  - cache entries
//	lock:<ns>:<key>   - rebuild locks
//
// Store failures are returned as *StoreError and are never mistaken for a
// miss or for an acquired lock. Corrupt entries are removed and read as a
// miss.
package cacheguard
