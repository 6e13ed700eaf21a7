// Package redisstore persists subject records in Redis.
//
// Key layout, under a configurable prefix (default "lp"):
//
//	<prefix>:collections            SET of collection identifiers
//	<prefix>:data:<collection>      HASH identifier -> JSON record
//
// Records are JSON-encoded storage.SubjectRecord values. Corrupt hash
// fields are logged and treated as missing. The client is owned by the
// caller; Close does not close it.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bergwerkLABS/LuckPerms/storage"
)

const defaultPrefix = "lp"

// Store is a Redis storage backend.
type Store struct {
	client redis.UniversalClient
	log    zerolog.Logger
	prefix string
	closed atomic.Bool
}

// Option tunes the store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New wraps an existing Redis client.
func New(client redis.UniversalClient, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{client: client, log: log, prefix: defaultPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) collectionsKey() string {
	return s.prefix + ":collections"
}

func (s *Store) dataKey(collection string) string {
	return s.prefix + ":data:" + strings.ToLower(collection)
}

// ListCollections returns the members of the collections set.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	out, err := s.client.SMembers(ctx, s.collectionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list collections: %w", err)
	}
	return out, nil
}

// LoadAll reads every record of a collection's hash. Corrupt fields are
// logged and skipped.
func (s *Store) LoadAll(ctx context.Context, collection string) (map[string]storage.SubjectRecord, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	fields, err := s.client.HGetAll(ctx, s.dataKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load collection %s: %w", collection, err)
	}

	out := make(map[string]storage.SubjectRecord, len(fields))
	for identifier, payload := range fields {
		var rec storage.SubjectRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			s.log.Warn().Err(err).
				Str("collection", collection).
				Str("subject", identifier).
				Msg("record corrupt, treating as empty")
			continue
		}
		out[identifier] = rec
	}
	return out, nil
}

// Load reads one subject's record. A missing or corrupt field reports
// found=false.
func (s *Store) Load(ctx context.Context, collection, identifier string) (storage.SubjectRecord, bool, error) {
	if s.closed.Load() {
		return storage.SubjectRecord{}, false, storage.ErrClosed
	}
	payload, err := s.client.HGet(ctx, s.dataKey(collection), strings.ToLower(identifier)).Result()
	if errors.Is(err, redis.Nil) {
		return storage.SubjectRecord{}, false, nil
	}
	if err != nil {
		return storage.SubjectRecord{}, false, fmt.Errorf("redisstore: load %s/%s: %w", collection, identifier, err)
	}

	var rec storage.SubjectRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		s.log.Warn().Err(err).
			Str("collection", collection).
			Str("subject", identifier).
			Msg("record corrupt, treating as empty")
		return storage.SubjectRecord{}, false, nil
	}
	return rec, true, nil
}

// Save upserts a record, or deletes the hash field when the record is
// empty. A collection is dropped from the collections set once its hash
// empties out.
func (s *Store) Save(ctx context.Context, collection, identifier string, record storage.SubjectRecord) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	key := s.dataKey(collection)
	field := strings.ToLower(identifier)

	if record.IsEmpty() {
		if err := s.client.HDel(ctx, key, field).Err(); err != nil {
			return fmt.Errorf("redisstore: delete %s/%s: %w", collection, identifier, err)
		}
		remaining, err := s.client.HLen(ctx, key).Result()
		if err == nil && remaining == 0 {
			_ = s.client.SRem(ctx, s.collectionsKey(), strings.ToLower(collection)).Err()
		}
		return nil
	}

	record.Normalize()
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redisstore: encode %s/%s: %w", collection, identifier, err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, field, payload)
	pipe.SAdd(ctx, s.collectionsKey(), strings.ToLower(collection))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: save %s/%s: %w", collection, identifier, err)
	}
	return nil
}

// Close marks the store closed. The underlying client stays open; it
// belongs to the caller.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
