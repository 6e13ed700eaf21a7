package luckperms

import (
	"sync"
	"sync/atomic"

	"github.com/bergwerkLABS/LuckPerms/contexts"
	"github.com/bergwerkLABS/LuckPerms/storage"
)

// SubjectData is a subject's mutable store of context-scoped permissions
// and parent references.
//
// Mutations are asynchronous: each returns a [Promise] carrying a bool that
// reports whether anything changed. Logical conflicts (adding a parent that
// is already present, removing one that is not) complete with false and
// perform no mutation. Mutations on one subject are serialized against each
// other; mutations on different subjects proceed concurrently.
//
// Reads never block on writers. Data is published as an immutable snapshot
// behind an atomic pointer: a concurrent reader observes either the old or
// the new snapshot, never a torn one. By the time a mutation's Promise
// completes, the new snapshot is published, every affected calculator cache
// is invalidated, and a persistence write is queued.
type SubjectData struct {
	subject *Subject

	mu   sync.Mutex // serializes mutations; reads never take it
	snap atomic.Pointer[dataSnapshot]
}

// dataSnapshot is immutable after publication. Sections are keyed by the
// context set's canonical encoding.
type dataSnapshot struct {
	sections map[string]*dataSection
}

// dataSection is immutable after publication; mutations replace the whole
// section.
type dataSection struct {
	ctx     contexts.Set
	perms   map[string]bool
	parents []SubjectRef
}

func newSubjectData(subject *Subject) *SubjectData {
	d := &SubjectData{subject: subject}
	d.snap.Store(&dataSnapshot{sections: map[string]*dataSection{}})
	return d
}

func (s *dataSection) isEmpty() bool {
	return len(s.perms) == 0 && len(s.parents) == 0
}

func (s *dataSection) clone() *dataSection {
	perms := make(map[string]bool, len(s.perms))
	for k, v := range s.perms {
		perms[k] = v
	}
	parents := make([]SubjectRef, len(s.parents))
	copy(parents, s.parents)
	return &dataSection{ctx: s.ctx, perms: perms, parents: parents}
}

func (snap *dataSnapshot) clone() *dataSnapshot {
	sections := make(map[string]*dataSection, len(snap.sections))
	for k, v := range snap.sections {
		sections[k] = v
	}
	return &dataSnapshot{sections: sections}
}

// sectionFor returns a fresh mutable section for set, cloning the published
// one if present.
func (snap *dataSnapshot) sectionFor(set contexts.Set) *dataSection {
	if cur, ok := snap.sections[set.Key()]; ok {
		return cur.clone()
	}
	return &dataSection{ctx: set, perms: map[string]bool{}}
}

// mutate runs fn against a private copy of the current snapshot under the
// subject's write lock. fn returns whether it changed anything; unchanged
// snapshots are discarded without publication or side effects.
func (d *SubjectData) mutate(fn func(*dataSnapshot) bool) *Promise[bool] {
	p := newPromise[bool]()
	go func() {
		d.mu.Lock()
		next := d.snap.Load().clone()
		changed := fn(next)
		if changed {
			d.snap.Store(next)
		}
		d.mu.Unlock()

		if changed {
			// Invalidate-before-acknowledge: caches and the save queue are
			// settled before the caller learns the mutation succeeded.
			d.subject.dataChanged()
		}
		p.complete(changed, nil)
	}()
	return p
}

// AddParent appends ref to the parent list for set unless it is already
// present. Parent order is override precedence; new parents append at the
// end. Completes false when the (set, ref) pair already exists.
func (d *SubjectData) AddParent(set contexts.Set, ref SubjectRef) *Promise[bool] {
	if ref.IsZero() {
		return resolved(false)
	}
	return d.mutate(func(snap *dataSnapshot) bool {
		if cur, ok := snap.sections[set.Key()]; ok {
			for _, p := range cur.parents {
				if p == ref {
					return false
				}
			}
		}
		sec := snap.sectionFor(set)
		sec.parents = append(sec.parents, ref)
		snap.sections[set.Key()] = sec
		return true
	})
}

// RemoveParent removes ref from the parent list for set. Completes false
// when the pair is absent.
func (d *SubjectData) RemoveParent(set contexts.Set, ref SubjectRef) *Promise[bool] {
	return d.mutate(func(snap *dataSnapshot) bool {
		cur, ok := snap.sections[set.Key()]
		if !ok {
			return false
		}
		idx := -1
		for i, p := range cur.parents {
			if p == ref {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}
		sec := cur.clone()
		sec.parents = append(sec.parents[:idx], sec.parents[idx+1:]...)
		snap.store(set.Key(), sec)
		return true
	})
}

// SetPermission upserts an explicit value for permission under set. It
// completes false only when the stored value is already identical (no-op
// detection, symmetric with AddParent/RemoveParent).
func (d *SubjectData) SetPermission(set contexts.Set, permission string, value bool) *Promise[bool] {
	if permission == "" {
		return resolved(false)
	}
	d.subject.service.vault.offer(permission)
	return d.mutate(func(snap *dataSnapshot) bool {
		if cur, ok := snap.sections[set.Key()]; ok {
			if existing, ok := cur.perms[permission]; ok && existing == value {
				return false
			}
		}
		sec := snap.sectionFor(set)
		sec.perms[permission] = value
		snap.sections[set.Key()] = sec
		return true
	})
}

// UnsetPermission removes any explicit value for permission under set.
// Completes false when none was set.
func (d *SubjectData) UnsetPermission(set contexts.Set, permission string) *Promise[bool] {
	return d.mutate(func(snap *dataSnapshot) bool {
		cur, ok := snap.sections[set.Key()]
		if !ok {
			return false
		}
		if _, ok := cur.perms[permission]; !ok {
			return false
		}
		sec := cur.clone()
		delete(sec.perms, permission)
		snap.store(set.Key(), sec)
		return true
	})
}

// ClearPermissions removes every permission entry for set. Idempotent:
// completes false when there was nothing to clear.
func (d *SubjectData) ClearPermissions(set contexts.Set) *Promise[bool] {
	return d.mutate(func(snap *dataSnapshot) bool {
		cur, ok := snap.sections[set.Key()]
		if !ok || len(cur.perms) == 0 {
			return false
		}
		sec := cur.clone()
		sec.perms = map[string]bool{}
		snap.store(set.Key(), sec)
		return true
	})
}

// ClearParents removes every parent entry for set. Idempotent: completes
// false when there was nothing to clear.
func (d *SubjectData) ClearParents(set contexts.Set) *Promise[bool] {
	return d.mutate(func(snap *dataSnapshot) bool {
		cur, ok := snap.sections[set.Key()]
		if !ok || len(cur.parents) == 0 {
			return false
		}
		sec := cur.clone()
		sec.parents = nil
		snap.store(set.Key(), sec)
		return true
	})
}

// store replaces a section, dropping it entirely when it became empty.
func (snap *dataSnapshot) store(key string, sec *dataSection) {
	if sec.isEmpty() {
		delete(snap.sections, key)
		return
	}
	snap.sections[key] = sec
}

// Permissions returns a copy of the explicit permission map stored for the
// exact context set (no inheritance, no subset matching).
func (d *SubjectData) Permissions(set contexts.Set) map[string]bool {
	out := map[string]bool{}
	if sec, ok := d.snap.Load().sections[set.Key()]; ok {
		for k, v := range sec.perms {
			out[k] = v
		}
	}
	return out
}

// Parents returns a copy of the ordered parent list stored for the exact
// context set.
func (d *SubjectData) Parents(set contexts.Set) []SubjectRef {
	sec, ok := d.snap.Load().sections[set.Key()]
	if !ok {
		return nil
	}
	out := make([]SubjectRef, len(sec.parents))
	copy(out, sec.parents)
	return out
}

// ContextSets returns every context set that currently stores data.
func (d *SubjectData) ContextSets() []contexts.Set {
	snap := d.snap.Load()
	out := make([]contexts.Set, 0, len(snap.sections))
	for _, sec := range snap.sections {
		out = append(out, sec.ctx)
	}
	return out
}

// IsEmpty reports whether the subject stores no data under any context.
func (d *SubjectData) IsEmpty() bool {
	return len(d.snap.Load().sections) == 0
}

// snapshot returns the current published snapshot for lock-free reads.
func (d *SubjectData) snapshot() *dataSnapshot {
	return d.snap.Load()
}

// toRecord converts the current snapshot into its persisted form.
func (d *SubjectData) toRecord() storage.SubjectRecord {
	snap := d.snap.Load()
	rec := storage.SubjectRecord{}
	for _, sec := range snap.sections {
		out := storage.Section{Permissions: map[string]bool{}}
		for _, p := range sec.ctx.Pairs() {
			out.Context = append(out.Context, storage.ContextPair{Key: p.Key, Value: p.Value})
		}
		for k, v := range sec.perms {
			out.Permissions[k] = v
		}
		for _, ref := range sec.parents {
			out.Parents = append(out.Parents, storage.ParentRef{
				Collection: ref.Collection(),
				Identifier: ref.Identifier(),
			})
		}
		rec.Sections = append(rec.Sections, out)
	}
	rec.Normalize()
	return rec
}

// applyRecord replaces the snapshot with the contents of a persisted
// record. Used during loads only; it publishes the snapshot without
// invalidation or save scheduling.
func (d *SubjectData) applyRecord(rec storage.SubjectRecord) {
	snap := &dataSnapshot{sections: map[string]*dataSection{}}
	for _, in := range rec.Sections {
		if in.IsEmpty() {
			continue
		}
		pairs := make([]contexts.Pair, 0, len(in.Context))
		for _, p := range in.Context {
			pairs = append(pairs, contexts.Pair{Key: p.Key, Value: p.Value})
		}
		set := contexts.New(pairs...)

		sec, ok := snap.sections[set.Key()]
		if !ok {
			sec = &dataSection{ctx: set, perms: map[string]bool{}}
			snap.sections[set.Key()] = sec
		}
		for k, v := range in.Permissions {
			sec.perms[k] = v
			d.subject.service.vault.offer(k)
		}
		for _, p := range in.Parents {
			ref := NewSubjectRef(p.Collection, p.Identifier)
			dup := false
			for _, existing := range sec.parents {
				if existing == ref {
					dup = true
					break
				}
			}
			if !dup {
				sec.parents = append(sec.parents, ref)
			}
		}
	}

	d.mu.Lock()
	d.snap.Store(snap)
	d.mu.Unlock()
}
