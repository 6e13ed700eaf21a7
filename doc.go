// Package luckperms implements a permission resolution engine for
// hierarchical, context-scoped subjects. Subjects (users, groups, arbitrary
// custom kinds) live in named collections, carry per-context permission and
// parent data, and inherit from each other through lightweight references.
// The engine computes effective values for a subject under an active
// context, caches the results, and keeps those caches coherent as the
// graph mutates.
//
// The package is designed for concurrent server workloads: Service methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// luckperms is the public surface. It exposes [Service], [Builder],
// [Config], [Subject], [SubjectData], and value types ([Tristate],
// [SubjectRef], contexts.Set). Persistence backends live under storage/ and
// only ever see transfer records, never live subjects.
//
// # What this package must NOT do
//
//   - Expose backend clients, snapshots, or cache internals in its API.
//   - Block read paths on writers: Resolve works against the most recently
//     published snapshot of each visited subject.
//   - Fail mutations on logical conflicts; duplicate adds and absent
//     removes report false, never an error.
//
// # Performance contract
//
// Resolve is the hot path. A cached result costs one LRU lookup and no
// allocation; a miss walks each reachable ancestor at most once, bounded by
// cycle detection. Mutations pay for copy-on-write snapshots and cache
// invalidation; persistence is queued and never blocks the mutating caller.
package luckperms
