package luckperms

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resolveKey identifies a cached resolution result within one subject.
type resolveKey struct {
	ctxKey     string
	permission string
}

// Subject is an entity holding context-scoped permissions and parents. It
// is identified by (collection, identifier) and owns one [SubjectData] plus
// a local cache of calculator results, invalidated independently of other
// subjects.
type Subject struct {
	service    *Service
	collection *Collection
	identifier string
	ref        SubjectRef

	data *SubjectData

	// Calculator result caches. Sized by Config.Cache; invalidated whenever
	// this subject's data changes or an ancestor observed by a previous
	// computation changes.
	resolveCache *lru.Cache[resolveKey, Tristate]
	parentCache  *lru.Cache[string, []SubjectRef]

	// gen counts invalidations. The resolver captures it for every subject a
	// walk visits and refuses to keep a cache fill whose inputs were
	// invalidated mid-flight, so a mutation acknowledged during the walk can
	// never be shadowed by the walk's pre-mutation result.
	gen atomic.Uint64
}

func newSubject(c *Collection, identifier string) *Subject {
	s := &Subject{
		service:    c.service,
		collection: c,
		identifier: identifier,
		ref:        SubjectRef{collection: c.identifier, identifier: identifier},
	}
	s.data = newSubjectData(s)

	cfg := c.service.cfg.Cache
	// The constructor only fails for a non-positive size, which Validate
	// rules out.
	s.resolveCache, _ = lru.New[resolveKey, Tristate](cfg.ResolutionCacheSize)
	s.parentCache, _ = lru.New[string, []SubjectRef](cfg.ParentCacheSize)
	return s
}

// Identifier returns the subject's canonical identifier.
func (s *Subject) Identifier() string { return s.identifier }

// Collection returns the owning collection.
func (s *Subject) Collection() *Collection { return s.collection }

// Ref returns the subject's reference handle.
func (s *Subject) Ref() SubjectRef { return s.ref }

// Data returns the subject's data store.
func (s *Subject) Data() *SubjectData { return s.data }

// key is the subject's process-wide cache identity.
func (s *Subject) key() string { return s.ref.key() }

// InvalidateCaches drops every cached calculator result for this subject.
// The generation bump comes first: an in-flight cache fill that re-checks
// the generation after its Add either sees the bump and removes its own
// entry, or added early enough that the purge below removes it.
func (s *Subject) InvalidateCaches() {
	s.gen.Add(1)
	s.resolveCache.Purge()
	s.parentCache.Purge()
	s.service.metrics.Inc(MetricCacheInvalidation)
}

// dataChanged runs after a mutation publishes a new snapshot and before the
// mutation's promise completes.
func (s *Subject) dataChanged() {
	s.InvalidateCaches()
	s.service.resolver.invalidateDependents(s)
	s.collection.markRegistered(s.identifier)
	s.service.scheduleSave(s)
}

func (s *Subject) String() string {
	return s.key()
}
