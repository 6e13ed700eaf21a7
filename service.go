package luckperms

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/bergwerkLABS/LuckPerms/contexts"
	"github.com/bergwerkLABS/LuckPerms/storage"
)

// PermissionDescription documents one permission string. Explicitly
// registered descriptions carry text and an owner; placeholders synthesized
// from the vault carry only the ID.
type PermissionDescription struct {
	ID          string
	Description string
	Owner       string
}

// Service is the permission engine: a process-wide registry of subject
// collections, the permission calculator, the vault of known permission
// strings, and the persistence pipeline. Construct it with [Builder.Build];
// all methods are safe for concurrent use afterwards.
type Service struct {
	cfg        Config
	log        zerolog.Logger
	store      storage.Store
	metrics    *Metrics
	vault      *Vault
	resolver   *resolver
	validators map[string]IdentifierValidator
	dispatcher *saveDispatcher

	sf          singleflight.Group
	mu          sync.RWMutex
	collections map[string]*Collection

	descMu       sync.RWMutex
	descriptions map[string]PermissionDescription

	closed atomic.Bool
}

// Collection returns the collection with the given identifier, creating
// and loading it if needed. Identifiers are case-insensitive; concurrent
// first calls for the same identifier construct exactly one instance.
func (s *Service) Collection(ctx context.Context, identifier string) (*Collection, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return nil, ErrEmptyIdentifier
	}

	s.mu.RLock()
	c, ok := s.collections[id]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := s.sf.Do(id, func() (any, error) {
		s.mu.RLock()
		c, ok := s.collections[id]
		s.mu.RUnlock()
		if ok {
			return c, nil
		}

		c = newCollection(s, id, true)
		if err := c.LoadAll(ctx); err != nil {
			// The collection still comes up; subjects load on demand and
			// repair themselves on the next save.
			s.log.Warn().Err(err).Str("collection", id).Msg("bulk load failed")
		}

		s.mu.Lock()
		s.collections[id] = c
		s.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Collection), nil
}

// HasCollection reports whether a collection is already loaded, without
// creating it. Command layers use it to warn about references to
// collections that "don't already exist".
func (s *Service) HasCollection(identifier string) bool {
	id := strings.ToLower(strings.TrimSpace(identifier))
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[id]
	return ok
}

// LoadedCollections returns an immutable snapshot of the loaded
// collections, keyed by canonical identifier.
func (s *Service) LoadedCollections() map[string]*Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Collection, len(s.collections))
	for k, v := range s.collections {
		out[k] = v
	}
	return out
}

// Resolve computes the effective tri-state value of permission for subject
// under the active context: the subject's own data first, then its
// effective parents depth-first, then the owning collection's defaults
// subject, then the root defaults subject.
func (s *Service) Resolve(ctx context.Context, subject *Subject, active contexts.Set, permission string) Tristate {
	if subject == nil || permission == "" {
		return Undefined
	}
	s.vault.offer(permission)
	return s.resolver.resolve(ctx, subject, active, permission)
}

// EffectiveParents returns the subject's applicable parents under the
// active context, resolved and in override precedence order (most specific
// context first, declared order within a context, duplicates removed).
func (s *Service) EffectiveParents(ctx context.Context, subject *Subject, active contexts.Set) []*Subject {
	if subject == nil {
		return nil
	}
	return s.resolver.effectiveParents(ctx, subject, active)
}

// collectionDefaults returns the defaults subject backing a collection:
// the subject named after the collection inside the defaults collection.
func (s *Service) collectionDefaults(ctx context.Context, collection string) *Subject {
	return s.defaultsSubject(ctx, collection)
}

// rootDefaults returns the global root-default subject.
func (s *Service) rootDefaults(ctx context.Context) *Subject {
	return s.defaultsSubject(ctx, s.cfg.Collections.RootDefaultIdentifier)
}

func (s *Service) defaultsSubject(ctx context.Context, identifier string) *Subject {
	c, err := s.Collection(ctx, s.cfg.Collections.DefaultsCollection)
	if err != nil {
		return nil
	}
	sub, err := c.LoadSubject(ctx, identifier).Wait(ctx)
	if err != nil {
		return nil
	}
	return sub
}

// Defaults returns the defaults collection.
func (s *Service) Defaults(ctx context.Context) (*Collection, error) {
	return s.Collection(ctx, s.cfg.Collections.DefaultsCollection)
}

// RootDefaults returns the global root-default subject.
func (s *Service) RootDefaults(ctx context.Context) (*Subject, error) {
	c, err := s.Defaults(ctx)
	if err != nil {
		return nil, err
	}
	return c.LoadSubject(ctx, s.cfg.Collections.RootDefaultIdentifier).Wait(ctx)
}

// RegisterDescription registers an authoritative description for a
// permission string. It wins over the vault-derived placeholder in
// Descriptions.
func (s *Service) RegisterDescription(id, description, owner string) PermissionDescription {
	desc := PermissionDescription{ID: id, Description: description, Owner: owner}
	s.descMu.Lock()
	s.descriptions[id] = desc
	s.descMu.Unlock()
	s.vault.offer(id)
	return desc
}

// Description returns the explicitly registered description for a
// permission string, if any.
func (s *Service) Description(id string) (PermissionDescription, bool) {
	s.descMu.RLock()
	defer s.descMu.RUnlock()
	desc, ok := s.descriptions[id]
	return desc, ok
}

// Descriptions returns every known permission: explicit registrations plus
// a placeholder for each vault-observed string without one. Deduplication
// is by permission string; explicit registrations take precedence. Sorted
// by ID.
func (s *Service) Descriptions() []PermissionDescription {
	s.descMu.RLock()
	out := make([]PermissionDescription, 0, len(s.descriptions))
	seen := make(map[string]struct{}, len(s.descriptions))
	for id, desc := range s.descriptions {
		out = append(out, desc)
		seen[id] = struct{}{}
	}
	s.descMu.RUnlock()

	for _, known := range s.vault.Known() {
		if _, ok := seen[known]; ok {
			continue
		}
		out = append(out, PermissionDescription{ID: known})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// KnownPermissions returns every permission string the vault has observed.
func (s *Service) KnownPermissions() []string {
	return s.vault.Known()
}

// Vault returns the permission vault.
func (s *Service) Vault() *Vault {
	return s.vault
}

// InvalidateAllCaches clears every loaded subject's calculator cache and
// the resolver's dependency index. It never touches subject data or
// storage.
func (s *Service) InvalidateAllCaches() {
	for _, c := range s.LoadedCollections() {
		for _, sub := range c.LoadedSubjects() {
			sub.InvalidateCaches()
		}
	}
	s.resolver.reset()
}

// MetricsSnapshot returns a copy of the engine counters.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// SavesDropped returns the number of persistence writes dropped on a full
// queue since startup.
func (s *Service) SavesDropped() uint64 {
	return s.dispatcher.Dropped()
}

// scheduleSave queues a persistence write of the subject's current state.
func (s *Service) scheduleSave(sub *Subject) {
	if s.closed.Load() {
		return
	}
	s.dispatcher.enqueue(saveRequest{
		collection: sub.collection.identifier,
		identifier: sub.identifier,
		record:     sub.data.toRecord(),
	})
}

// Close drains pending saves and closes the storage backend. Operations
// issued after Close fail with ErrServiceClosed.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.dispatcher.Close()
	return s.store.Close()
}

// Store returns the storage backend, for introspection and tooling.
func (s *Service) Store() storage.Store {
	return s.store
}
