package luckperms

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// IdentifierValidator decides whether a subject identifier is acceptable
// for a collection. Identifiers are canonicalized (lower-cased, trimmed)
// before validation.
type IdentifierValidator func(identifier string) bool

// Collection is a named namespace of subjects. Subjects are created on
// first lookup; for persisted collections the first lookup also reads the
// subject's record from storage. Creation is single-flight per identifier:
// racing callers all receive the same instance.
type Collection struct {
	service    *Service
	identifier string
	persisted  bool
	validity   IdentifierValidator

	sf singleflight.Group

	mu         sync.RWMutex
	subjects   map[string]*Subject
	registered map[string]struct{}
}

func newCollection(s *Service, identifier string, persisted bool) *Collection {
	return &Collection{
		service:    s,
		identifier: strings.ToLower(identifier),
		persisted:  persisted,
		validity:   s.validators[strings.ToLower(identifier)],
		subjects:   map[string]*Subject{},
		registered: map[string]struct{}{},
	}
}

// Identifier returns the collection's canonical identifier.
func (c *Collection) Identifier() string { return c.identifier }

// Persisted reports whether subjects of this collection are written to
// storage.
func (c *Collection) Persisted() bool { return c.persisted }

// LoadSubject returns the subject with the given identifier, creating an
// empty one if it does not exist. For persisted collections a non-resident
// subject triggers a storage read; a failed read is logged and yields an
// empty subject. Lookup never fails for a missing subject; see
// HasRegistered for distinguishing auto-created subjects.
func (c *Collection) LoadSubject(ctx context.Context, identifier string) *Promise[*Subject] {
	id := canonicalIdentifier(identifier)
	if id == "" {
		return failed[*Subject](ErrEmptyIdentifier)
	}
	if c.validity != nil && !c.validity(id) {
		return failed[*Subject](ErrInvalidIdentifier)
	}

	c.mu.RLock()
	s, ok := c.subjects[id]
	c.mu.RUnlock()
	if ok {
		return resolved(s)
	}

	p := newPromise[*Subject]()
	go func() {
		v, err, _ := c.sf.Do(id, func() (any, error) {
			return c.loadSubject(ctx, id), nil
		})
		if err != nil {
			p.complete(nil, err)
			return
		}
		p.complete(v.(*Subject), nil)
	}()
	return p
}

func (c *Collection) loadSubject(ctx context.Context, id string) *Subject {
	c.mu.RLock()
	s, ok := c.subjects[id]
	c.mu.RUnlock()
	if ok {
		return s
	}

	s = newSubject(c, id)
	found := false
	if c.persisted {
		rec, ok, err := c.service.store.Load(ctx, c.identifier, id)
		switch {
		case err != nil:
			// Treated as an empty subject; the store stays the source of
			// truth and a later save will repair the record.
			c.service.log.Warn().Err(err).
				Str("collection", c.identifier).
				Str("subject", id).
				Msg("subject load failed, starting empty")
		case ok:
			s.data.applyRecord(rec)
			found = true
		}
	}

	c.mu.Lock()
	if existing, ok := c.subjects[id]; ok {
		c.mu.Unlock()
		return existing
	}
	c.subjects[id] = s
	if found {
		c.registered[id] = struct{}{}
	}
	c.mu.Unlock()

	c.service.metrics.Inc(MetricSubjectLoad)
	if !found {
		c.service.metrics.Inc(MetricSubjectAutoCreate)
	}
	return s
}

// HasRegistered reports whether the subject has ever been explicitly
// created or mutated, as opposed to auto-created by a lookup. Callers use
// it to warn about operating on subjects that "don't already exist" without
// blocking the operation itself.
func (c *Collection) HasRegistered(ctx context.Context, identifier string) *Promise[bool] {
	id := canonicalIdentifier(identifier)
	if id == "" {
		return resolved(false)
	}

	c.mu.RLock()
	_, ok := c.registered[id]
	c.mu.RUnlock()
	if ok {
		return resolved(true)
	}
	if !c.persisted {
		return resolved(false)
	}

	p := newPromise[bool]()
	go func() {
		_, found, err := c.service.store.Load(ctx, c.identifier, id)
		if err != nil {
			p.complete(false, nil)
			return
		}
		p.complete(found, nil)
	}()
	return p
}

// LoadAll bulk-populates the collection from storage. Per-subject failures
// are logged and skipped; they never abort the rest of the load.
func (c *Collection) LoadAll(ctx context.Context) error {
	if !c.persisted {
		return nil
	}
	records, err := c.service.store.LoadAll(ctx, c.identifier)
	if err != nil {
		return err
	}

	for id, rec := range records {
		id = canonicalIdentifier(id)
		if id == "" {
			continue
		}

		c.mu.RLock()
		s, ok := c.subjects[id]
		c.mu.RUnlock()

		if !ok {
			s = newSubject(c, id)
			c.mu.Lock()
			if existing, exists := c.subjects[id]; exists {
				s = existing
			} else {
				c.subjects[id] = s
			}
			c.mu.Unlock()
		}

		s.data.applyRecord(rec)
		s.InvalidateCaches()
		c.markRegistered(id)
	}

	c.service.log.Debug().
		Str("collection", c.identifier).
		Int("subjects", len(records)).
		Msg("collection loaded")
	return nil
}

// LoadedSubjects returns a snapshot of every resident subject.
func (c *Collection) LoadedSubjects() []*Subject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Subject, 0, len(c.subjects))
	for _, s := range c.subjects {
		out = append(out, s)
	}
	return out
}

func (c *Collection) markRegistered(id string) {
	c.mu.Lock()
	c.registered[id] = struct{}{}
	c.mu.Unlock()
}

func canonicalIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
