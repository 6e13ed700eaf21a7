package luckperms

import "errors"

var (
	// ErrServiceClosed is returned by operations issued after Service.Close.
	ErrServiceClosed = errors.New("service closed")
	// ErrNoStore is returned by Builder.Build when no storage backend was supplied.
	ErrNoStore = errors.New("no storage backend configured")
	// ErrAlreadyBuilt is returned when a Builder is reused after a successful Build.
	ErrAlreadyBuilt = errors.New("builder already built")
	// ErrInvalidIdentifier is returned when a subject identifier fails the
	// owning collection's validity predicate.
	ErrInvalidIdentifier = errors.New("invalid subject identifier")
	// ErrEmptyIdentifier is returned for blank collection or subject identifiers.
	ErrEmptyIdentifier = errors.New("empty identifier")
)
