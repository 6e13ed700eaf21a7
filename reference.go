package luckperms

import (
	"context"
	"strings"
)

// SubjectRef is a lightweight handle to a subject: a (collection,
// identifier) pair resolved through the service on demand. Holders keep
// refs, never live *Subject pointers, so inheritance edges cannot pin stale
// instances or form ownership cycles.
//
// Both components are canonicalized to lower case; identity is
// case-insensitive and refs compare with ==.
type SubjectRef struct {
	collection string
	identifier string
}

// NewSubjectRef builds a canonical reference.
func NewSubjectRef(collection, identifier string) SubjectRef {
	return SubjectRef{
		collection: strings.ToLower(collection),
		identifier: strings.ToLower(identifier),
	}
}

// Collection returns the canonical collection identifier.
func (r SubjectRef) Collection() string { return r.collection }

// Identifier returns the canonical subject identifier.
func (r SubjectRef) Identifier() string { return r.identifier }

// IsZero reports whether the ref is the zero value.
func (r SubjectRef) IsZero() bool {
	return r.collection == "" && r.identifier == ""
}

// Resolve loads the referenced subject through the service, creating an
// empty one if it does not exist yet.
func (r SubjectRef) Resolve(ctx context.Context, s *Service) (*Subject, error) {
	c, err := s.Collection(ctx, r.collection)
	if err != nil {
		return nil, err
	}
	return c.LoadSubject(ctx, r.identifier).Wait(ctx)
}

// key is the map/cache identity of the referenced subject.
func (r SubjectRef) key() string {
	return r.collection + "/" + r.identifier
}

func (r SubjectRef) String() string {
	return r.key()
}
