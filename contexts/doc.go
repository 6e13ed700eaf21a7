// Package contexts provides the immutable context set value type used to
// scope permissions and parents to an evaluation environment (world, server,
// gamemode, and so on).
//
// A Set is a multiset of key/value string pairs. The same key may carry
// several values. Keys are canonicalized to lower case at construction;
// values are kept verbatim. Sets never change after construction; every
// derivation (With, Without) returns a fresh Set.
//
// Two sets relate through subset containment: A satisfies B when every pair
// of B is present in A. The empty set is satisfied by everything, which is
// what makes it the natural "global" context.
//
// # What this package must NOT do
//
//   - Depend on any other package in this module (it is the innermost leaf).
//   - Expose mutable state; all accessors copy.
package contexts
