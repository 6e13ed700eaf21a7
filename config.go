package luckperms

import "errors"

// Config tunes the engine. Start from the Builder's defaults and override
// fields; Build validates the result.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	Storage     StorageConfig
	Cache       CacheConfig
	Collections CollectionsConfig
	Metrics     MetricsConfig
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig tunes the asynchronous persistence dispatcher.
type StorageConfig struct {
	// SaveBufferSize is the capacity of the save queue. When full, new
	// writes are dropped and counted; the next mutation of a subject
	// re-enqueues its complete state.
	SaveBufferSize int
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig sizes the per-subject calculator caches.
type CacheConfig struct {
	// ResolutionCacheSize bounds cached (context, permission) results per
	// subject.
	ResolutionCacheSize int
	// ParentCacheSize bounds cached effective-parent lists per subject.
	ParentCacheSize int
}

/*
====================================
COLLECTIONS CONFIG
====================================
*/

// CollectionsConfig controls the well-known collections seeded at build
// time and the defaults fallback chain.
type CollectionsConfig struct {
	// WellKnown collections are created (and loaded, when persisted)
	// before any saved collections are discovered.
	WellKnown []string
	// DefaultsCollection names the collection whose subjects act as
	// fallback data: the subject named after a collection backs that
	// collection, and RootDefaultIdentifier backs everything.
	DefaultsCollection string
	// RootDefaultIdentifier is the identifier of the global root-default
	// subject within DefaultsCollection.
	RootDefaultIdentifier string
	// ValidateUserIdentifiers requires identifiers in the "user"
	// collection to parse as UUIDs.
	ValidateUserIdentifiers bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles counter collection.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			SaveBufferSize: 256,
		},
		Cache: CacheConfig{
			ResolutionCacheSize: 2048,
			ParentCacheSize:     64,
		},
		Collections: CollectionsConfig{
			WellKnown:               []string{"user", "group", "defaults"},
			DefaultsCollection:      "defaults",
			RootDefaultIdentifier:   "default",
			ValidateUserIdentifiers: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Collections.WellKnown = append([]string(nil), cfg.Collections.WellKnown...)
	return out
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.Storage.SaveBufferSize <= 0 {
		return errors.New("storage: SaveBufferSize must be positive")
	}
	if c.Cache.ResolutionCacheSize <= 0 {
		return errors.New("cache: ResolutionCacheSize must be positive")
	}
	if c.Cache.ParentCacheSize <= 0 {
		return errors.New("cache: ParentCacheSize must be positive")
	}
	if c.Collections.DefaultsCollection == "" {
		return errors.New("collections: DefaultsCollection must be set")
	}
	if c.Collections.RootDefaultIdentifier == "" {
		return errors.New("collections: RootDefaultIdentifier must be set")
	}
	return nil
}
