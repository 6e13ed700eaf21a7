// Package flatfile persists subject records as YAML files, one file per
// subject, grouped in a directory per collection:
//
//	<root>/<collection>/<identifier>.yml
//
// Identifiers are path-escaped on disk so arbitrary subject names cannot
// walk out of the root. Missing files load as empty records; files that
// fail to parse are logged and treated as missing. Saves are atomic
// (temp file + rename), and saving an empty record removes the file.
package flatfile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bergwerkLABS/LuckPerms/storage"
)

const fileExt = ".yml"

// Store is a flatfile storage backend rooted at a single directory.
type Store struct {
	root   string
	log    zerolog.Logger
	closed atomic.Bool
}

// New creates the root directory if needed and returns a Store.
func New(root string, log zerolog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("flatfile: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("flatfile: create root: %w", err)
	}
	return &Store{root: abs, log: log}, nil
}

// ListCollections returns the identifier of every collection directory
// containing at least one record file.
func (s *Store) ListCollections(_ context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("flatfile: list collections: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, e.Name()))
		if err != nil || len(files) == 0 {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// LoadAll reads every record file of a collection. Unparseable files are
// logged and skipped; an absent collection directory yields an empty map.
func (s *Store) LoadAll(_ context.Context, collection string) (map[string]storage.SubjectRecord, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	dir := s.collectionDir(collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]storage.SubjectRecord{}, nil
		}
		return nil, fmt.Errorf("flatfile: read collection %s: %w", collection, err)
	}

	out := make(map[string]storage.SubjectRecord, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		identifier, err := url.PathUnescape(strings.TrimSuffix(e.Name(), fileExt))
		if err != nil {
			continue
		}
		rec, ok := s.readFile(filepath.Join(dir, e.Name()))
		if !ok {
			continue
		}
		out[identifier] = rec
	}
	return out, nil
}

// Load reads one subject's record. Missing and corrupt files report
// found=false.
func (s *Store) Load(_ context.Context, collection, identifier string) (storage.SubjectRecord, bool, error) {
	if s.closed.Load() {
		return storage.SubjectRecord{}, false, storage.ErrClosed
	}
	path := s.subjectFile(collection, identifier)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return storage.SubjectRecord{}, false, nil
	}
	rec, ok := s.readFile(path)
	return rec, ok, nil
}

func (s *Store) readFile(path string) (storage.SubjectRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.log.Warn().Err(err).Str("file", path).Msg("record read failed, treating as empty")
		return storage.SubjectRecord{}, false
	}
	var rec storage.SubjectRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		s.log.Warn().Err(err).Str("file", path).Msg("record corrupt, treating as empty")
		return storage.SubjectRecord{}, false
	}
	return rec, true
}

// Save writes a subject's record atomically, or removes the file when the
// record is empty.
func (s *Store) Save(_ context.Context, collection, identifier string, record storage.SubjectRecord) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	path := s.subjectFile(collection, identifier)

	if record.IsEmpty() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("flatfile: remove %s: %w", path, err)
		}
		return nil
	}

	record.Normalize()
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("flatfile: encode %s/%s: %w", collection, identifier, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("flatfile: create collection dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("flatfile: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("flatfile: publish %s: %w", path, err)
	}
	return nil
}

// Close marks the store closed. No file handles are held between calls.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) collectionDir(collection string) string {
	return filepath.Join(s.root, url.PathEscape(strings.ToLower(collection)))
}

func (s *Store) subjectFile(collection, identifier string) string {
	return filepath.Join(s.collectionDir(collection), url.PathEscape(strings.ToLower(identifier))+fileExt)
}
