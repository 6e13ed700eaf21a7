package luckperms

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bergwerkLABS/LuckPerms/storage"
)

// Builder assembles a [Service]. Construction is allocation-only until
// Build, which validates the configuration, discovers and loads persisted
// collections, and starts the persistence dispatcher.
type Builder struct {
	config     Config
	store      storage.Store
	log        zerolog.Logger
	validators map[string]IdentifierValidator
	built      bool
}

// New returns a Builder with default configuration.
func New() *Builder {
	return &Builder{
		config:     defaultConfig(),
		log:        zerolog.Nop(),
		validators: map[string]IdentifierValidator{},
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the storage backend. Required. The service takes
// ownership and closes it on Close.
func (b *Builder) WithStore(store storage.Store) *Builder {
	b.store = store
	return b
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

// WithIdentifierValidator installs a validity predicate for one
// collection's subject identifiers. Invalid identifiers fail LoadSubject
// with ErrInvalidIdentifier instead of auto-creating a subject.
func (b *Builder) WithIdentifierValidator(collection string, v IdentifierValidator) *Builder {
	b.validators[strings.ToLower(collection)] = v
	return b
}

// Build constructs the Service: validates config, seeds the well-known
// collections, loads every persisted collection found in storage, and
// starts the save dispatcher.
func (b *Builder) Build(ctx context.Context) (*Service, error) {
	if b.built {
		return nil, ErrAlreadyBuilt
	}
	if b.store == nil {
		return nil, ErrNoStore
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	validators := make(map[string]IdentifierValidator, len(b.validators))
	for k, v := range b.validators {
		validators[k] = v
	}
	if b.config.Collections.ValidateUserIdentifiers {
		if _, ok := validators["user"]; !ok {
			validators["user"] = func(id string) bool {
				_, err := uuid.Parse(id)
				return err == nil
			}
		}
	}

	s := &Service{
		cfg:          b.config,
		log:          b.log,
		store:        b.store,
		validators:   validators,
		collections:  map[string]*Collection{},
		descriptions: map[string]PermissionDescription{},
		vault:        newVault(),
		metrics:      newMetrics(b.config.Metrics.Enabled),
	}
	s.resolver = newResolver(s)
	s.dispatcher = newSaveDispatcher(b.store, b.log, s.metrics, b.config.Storage.SaveBufferSize)

	// Well-known collections first, so saved-collection discovery cannot
	// shadow them with a generically-loaded duplicate.
	for _, name := range b.config.Collections.WellKnown {
		if _, err := s.Collection(ctx, name); err != nil {
			s.dispatcher.Close()
			return nil, err
		}
	}

	saved, err := b.store.ListCollections(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("saved collection discovery failed")
	}
	for _, name := range saved {
		if _, err := s.Collection(ctx, name); err != nil {
			s.log.Warn().Err(err).Str("collection", name).Msg("saved collection load failed")
		}
	}

	b.built = true
	return s, nil
}
