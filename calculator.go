package luckperms

import (
	"context"
	"sort"
	"sync"

	"github.com/bergwerkLABS/LuckPerms/contexts"
)

// resolver computes effective permission values and parent chains, caches
// the results per subject, and keeps a reverse dependency index so that a
// mutation anywhere in a subject's observed ancestry invalidates its cached
// results.
//
// The index records, for every computation, which subjects the walk
// visited. It reflects the last computation only: after a graph edit it can
// over-invalidate (a dependent recorded for an edge that no longer exists),
// but it never under-invalidates, so stale results are never served.
// Maintaining exact reverse edges on every mutation would cost more than
// the recompute it saves.
type resolver struct {
	service *Service

	mu         sync.Mutex
	dependents map[string]map[*Subject]struct{}
}

func newResolver(s *Service) *resolver {
	return &resolver{
		service:    s,
		dependents: map[string]map[*Subject]struct{}{},
	}
}

// resolve computes the effective tri-state value of permission for subject
// under the active context, consulting the cache first.
func (r *resolver) resolve(ctx context.Context, subject *Subject, active contexts.Set, permission string) Tristate {
	key := resolveKey{ctxKey: active.Key(), permission: permission}
	if v, ok := subject.resolveCache.Get(key); ok {
		r.service.metrics.Inc(MetricResolveCacheHit)
		return v
	}
	r.service.metrics.Inc(MetricResolveCacheMiss)

	w := &walker{
		service: r.service,
		active:  active,
		visited: map[string]struct{}{},
		gens:    map[*Subject]uint64{},
	}
	v := w.resolve(ctx, subject, permission)
	if w.failed {
		// At least one parent or defaults lookup errored; the walk may have
		// skipped real data. Serve the result but never cache it.
		return v
	}

	subject.resolveCache.Add(key, v)
	if w.gensChanged() {
		// A mutation was acknowledged somewhere in the visited set while the
		// walk was in flight; the result may predate it. Add-then-verify
		// pairs with the invalidator's bump-then-purge: whichever of the two
		// runs second removes the entry.
		subject.resolveCache.Remove(key)
		return v
	}
	r.recordDependencies(subject, w.visited)
	return v
}

// effectiveParents returns the subject's applicable parents under the
// active context, resolved to live subjects, in override precedence order.
func (r *resolver) effectiveParents(ctx context.Context, subject *Subject, active contexts.Set) []*Subject {
	refs, ok := subject.parentCache.Get(active.Key())
	if !ok {
		gen := subject.gen.Load()
		refs = applicableParentRefs(subject.data.snapshot(), active)
		subject.parentCache.Add(active.Key(), refs)
		if subject.gen.Load() != gen {
			subject.parentCache.Remove(active.Key())
		}
	}

	out := make([]*Subject, 0, len(refs))
	for _, ref := range refs {
		p, err := ref.Resolve(ctx, r.service)
		if err != nil {
			r.service.log.Warn().Err(err).
				Stringer("parent", ref).
				Msg("parent resolution failed")
			continue
		}
		out = append(out, p)
	}
	return out
}

// recordDependencies registers subject as a dependent of every other
// subject its computation visited.
func (r *resolver) recordDependencies(subject *Subject, visited map[string]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range visited {
		if key == subject.key() {
			continue
		}
		deps, ok := r.dependents[key]
		if !ok {
			deps = map[*Subject]struct{}{}
			r.dependents[key] = deps
		}
		deps[subject] = struct{}{}
	}
}

// invalidateDependents purges the caches of every subject whose last
// computation visited the changed subject.
func (r *resolver) invalidateDependents(changed *Subject) {
	r.mu.Lock()
	deps := r.dependents[changed.key()]
	delete(r.dependents, changed.key())
	r.mu.Unlock()

	for dep := range deps {
		dep.InvalidateCaches()
	}
}

// reset drops the whole dependency index. Used by InvalidateAllCaches.
func (r *resolver) reset() {
	r.mu.Lock()
	r.dependents = map[string]map[*Subject]struct{}{}
	r.mu.Unlock()
}

// walker performs one depth-first resolution. visited doubles as cycle
// detection: a revisit terminates that branch as undefined, never errors,
// since inheritance cycles can arise from independent concurrent edits.
//
// gens records each visited subject's invalidation generation at visit
// time, before its snapshot is read. failed is set when any parent or
// defaults lookup errors; a failed walk's result must not be cached, since
// the skipped branch may hold real data.
type walker struct {
	service *Service
	active  contexts.Set
	visited map[string]struct{}
	gens    map[*Subject]uint64
	failed  bool
}

// gensChanged reports whether any visited subject was invalidated after its
// snapshot was read.
func (w *walker) gensChanged() bool {
	for node, gen := range w.gens {
		if node.gen.Load() != gen {
			return true
		}
	}
	return false
}

// resolve walks the subject's own graph, then the owning collection's
// defaults subject, then the root defaults subject. Absence everywhere is
// Undefined.
func (w *walker) resolve(ctx context.Context, subject *Subject, permission string) Tristate {
	if t := w.walk(ctx, subject, permission); t != Undefined {
		return t
	}
	if d := w.service.collectionDefaults(ctx, subject.collection.identifier); d != nil {
		if t := w.walk(ctx, d, permission); t != Undefined {
			return t
		}
	} else {
		w.failed = true
	}
	if root := w.service.rootDefaults(ctx); root != nil {
		if t := w.walk(ctx, root, permission); t != Undefined {
			return t
		}
	} else {
		w.failed = true
	}
	return Undefined
}

func (w *walker) walk(ctx context.Context, node *Subject, permission string) Tristate {
	if _, seen := w.visited[node.key()]; seen {
		w.service.metrics.Inc(MetricCycleDetected)
		return Undefined
	}
	w.visited[node.key()] = struct{}{}
	// Generation before snapshot: if the load below races a mutation, the
	// stale read is caught by the post-walk generation check.
	w.gens[node] = node.gen.Load()

	snap := node.data.snapshot()
	sections := applicableSections(snap, w.active)

	// A node's own data always beats anything an ancestor defines.
	for _, sec := range sections {
		if v, ok := sec.perms[permission]; ok {
			return TristateOf(v)
		}
	}

	for _, sec := range sections {
		for _, ref := range sec.parents {
			parent, err := ref.Resolve(ctx, w.service)
			if err != nil {
				w.failed = true
				w.service.log.Warn().Err(err).
					Stringer("parent", ref).
					Msg("parent resolution failed")
				continue
			}
			if t := w.walk(ctx, parent, permission); t != Undefined {
				return t
			}
		}
	}
	return Undefined
}

// applicableSections selects the snapshot sections whose stored context is
// satisfied by the active context, ordered most specific first. Equal sizes
// tie-break on the canonical context encoding so the order is
// deterministic.
func applicableSections(snap *dataSnapshot, active contexts.Set) []*dataSection {
	var out []*dataSection
	for _, sec := range snap.sections {
		if active.Satisfies(sec.ctx) {
			out = append(out, sec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ctx.Size() != out[j].ctx.Size() {
			return out[i].ctx.Size() > out[j].ctx.Size()
		}
		return out[i].ctx.Key() < out[j].ctx.Key()
	})
	return out
}

// applicableParentRefs flattens the applicable sections' parent lists in
// precedence order, removing duplicate references.
func applicableParentRefs(snap *dataSnapshot, active contexts.Set) []SubjectRef {
	var out []SubjectRef
	seen := map[SubjectRef]struct{}{}
	for _, sec := range applicableSections(snap, active) {
		for _, ref := range sec.parents {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}
