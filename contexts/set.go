package contexts

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Pair is a single context label.
type Pair struct {
	Key   string
	Value string
}

// Set is an immutable multiset of context pairs. The zero value is the
// empty (global) set and is ready to use.
type Set struct {
	// pairs is sorted by (key, value) with exact duplicates collapsed.
	pairs []Pair
	key   string
	hash  uint64
}

// Empty returns the empty set. Every active context satisfies it.
func Empty() Set {
	return Set{}
}

// New builds a Set from the given pairs. Keys are lower-cased, pairs are
// sorted, and exact duplicates collapse to a single entry. Pairs with an
// empty key or value are dropped.
func New(pairs ...Pair) Set {
	cleaned := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.Key == "" || p.Value == "" {
			continue
		}
		cleaned = append(cleaned, Pair{Key: strings.ToLower(p.Key), Value: p.Value})
	}
	if len(cleaned) == 0 {
		return Set{}
	}

	sort.Slice(cleaned, func(i, j int) bool {
		if cleaned[i].Key != cleaned[j].Key {
			return cleaned[i].Key < cleaned[j].Key
		}
		return cleaned[i].Value < cleaned[j].Value
	})

	dedup := cleaned[:1]
	for _, p := range cleaned[1:] {
		last := dedup[len(dedup)-1]
		if p.Key == last.Key && p.Value == last.Value {
			continue
		}
		dedup = append(dedup, p)
	}

	return newCanonical(dedup)
}

// Of builds a Set from alternating key/value arguments:
// Of("world", "nether", "gamemode", "survival"). It panics when given an
// odd number of arguments; the argument list is a programming construct,
// not runtime input.
func Of(kv ...string) Set {
	if len(kv)%2 != 0 {
		panic("contexts: Of requires an even number of arguments")
	}
	pairs := make([]Pair, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		pairs = append(pairs, Pair{Key: kv[i], Value: kv[i+1]})
	}
	return New(pairs...)
}

// newCanonical assumes pairs are already lower-cased, sorted, and deduped.
func newCanonical(pairs []Pair) Set {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(0x1e)
		}
		b.WriteString(p.Key)
		b.WriteByte(0x1f)
		b.WriteString(p.Value)
	}
	key := b.String()
	return Set{pairs: pairs, key: key, hash: xxhash.Sum64String(key)}
}

// Size returns the number of distinct pairs in the set.
func (s Set) Size() int {
	return len(s.pairs)
}

// IsEmpty reports whether the set carries no pairs.
func (s Set) IsEmpty() bool {
	return len(s.pairs) == 0
}

// Contains reports whether the exact (key, value) pair is present.
func (s Set) Contains(key, value string) bool {
	key = strings.ToLower(key)
	for _, p := range s.pairs {
		if p.Key == key && p.Value == value {
			return true
		}
		if p.Key > key {
			break
		}
	}
	return false
}

// Values returns every value carried for the given key, in sorted order.
func (s Set) Values(key string) []string {
	key = strings.ToLower(key)
	var out []string
	for _, p := range s.pairs {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	return out
}

// Pairs returns a copy of the set's pairs in canonical order.
func (s Set) Pairs() []Pair {
	out := make([]Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Satisfies reports whether every pair of other is present in s. A
// permission stored under context C applies to an active context A exactly
// when A.Satisfies(C).
func (s Set) Satisfies(other Set) bool {
	if other.IsEmpty() {
		return true
	}
	if other.Size() > s.Size() {
		return false
	}
	for _, p := range other.pairs {
		if !s.Contains(p.Key, p.Value) {
			return false
		}
	}
	return true
}

// Equal reports set equality.
func (s Set) Equal(other Set) bool {
	return s.key == other.key
}

// Hash returns a stable 64-bit hash of the canonical encoding. Equal sets
// hash identically across processes.
func (s Set) Hash() uint64 {
	return s.hash
}

// Key returns the canonical encoding of the set. It is collision-free and
// suitable as a map key; its exact byte layout is not part of the API.
func (s Set) Key() string {
	return s.key
}

// With returns a new Set with the given pair added.
func (s Set) With(key, value string) Set {
	return New(append(s.Pairs(), Pair{Key: key, Value: value})...)
}

// Without returns a new Set with the exact (key, value) pair removed.
func (s Set) Without(key, value string) Set {
	key = strings.ToLower(key)
	pairs := make([]Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		if p.Key == key && p.Value == value {
			continue
		}
		pairs = append(pairs, p)
	}
	if len(pairs) == len(s.pairs) {
		return s
	}
	return newCanonical(pairs)
}

// String renders the set as "key=value, key=value" for logs and messages.
// The empty set renders as "global".
func (s Set) String() string {
	if s.IsEmpty() {
		return "global"
	}
	parts := make([]string, len(s.pairs))
	for i, p := range s.pairs {
		parts[i] = p.Key + "=" + p.Value
	}
	return strings.Join(parts, ", ")
}
