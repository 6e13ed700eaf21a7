package storage

import (
	"context"
	"errors"
	"sort"
)

// ErrClosed is returned by Store operations after Close.
var ErrClosed = errors.New("storage: store closed")

// ContextPair is one context label of a record section.
type ContextPair struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ParentRef is a persisted subject reference.
type ParentRef struct {
	Collection string `json:"collection" yaml:"collection"`
	Identifier string `json:"identifier" yaml:"identifier"`
}

// Section holds everything a subject defines under a single context set.
// Parents keep their declared order; it is override precedence.
type Section struct {
	Context     []ContextPair   `json:"context,omitempty" yaml:"context,omitempty"`
	Permissions map[string]bool `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Parents     []ParentRef     `json:"parents,omitempty" yaml:"parents,omitempty"`
}

// IsEmpty reports whether the section carries no data.
func (s Section) IsEmpty() bool {
	return len(s.Permissions) == 0 && len(s.Parents) == 0
}

// SubjectRecord is the persisted form of one subject's data.
type SubjectRecord struct {
	Sections []Section `json:"sections,omitempty" yaml:"sections,omitempty"`
}

// IsEmpty reports whether the record carries no data at all. Saving an
// empty record removes the persisted entry.
func (r SubjectRecord) IsEmpty() bool {
	for _, s := range r.Sections {
		if !s.IsEmpty() {
			return false
		}
	}
	return true
}

// Normalize sorts sections and their context pairs into a deterministic
// order so that persisted bytes are stable across saves. Parent order is
// preserved; it is meaningful.
func (r *SubjectRecord) Normalize() {
	for i := range r.Sections {
		ctx := r.Sections[i].Context
		sort.Slice(ctx, func(a, b int) bool {
			if ctx[a].Key != ctx[b].Key {
				return ctx[a].Key < ctx[b].Key
			}
			return ctx[a].Value < ctx[b].Value
		})
	}
	sort.Slice(r.Sections, func(a, b int) bool {
		return sectionKey(r.Sections[a]) < sectionKey(r.Sections[b])
	})
}

func sectionKey(s Section) string {
	key := ""
	for _, p := range s.Context {
		key += p.Key + "\x1f" + p.Value + "\x1e"
	}
	return key
}

// Store is the durable persistence boundary. Implementations must be safe
// for concurrent use; the engine issues saves from a single dispatcher
// goroutine but loads from many.
type Store interface {
	// ListCollections returns the identifiers of every collection that has
	// at least one persisted record.
	ListCollections(ctx context.Context) ([]string, error)

	// LoadAll returns every persisted record of a collection, keyed by
	// subject identifier. An unknown collection yields an empty map.
	LoadAll(ctx context.Context, collection string) (map[string]SubjectRecord, error)

	// Load returns a single subject's record. Missing and corrupt records
	// report found=false with a nil error.
	Load(ctx context.Context, collection, identifier string) (SubjectRecord, bool, error)

	// Save upserts a subject's record, or removes it when the record is
	// empty.
	Save(ctx context.Context, collection, identifier string, record SubjectRecord) error

	// Close releases backend resources. Saves issued after Close fail with
	// ErrClosed.
	Close() error
}
