package luckperms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bergwerkLABS/LuckPerms/storage"
)

// memStore is an in-memory storage.Store for engine tests. It records
// every save so tests can assert on persistence behavior.
type memStore struct {
	mu      sync.Mutex
	records map[string]map[string]storage.SubjectRecord
	saves   int
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]map[string]storage.SubjectRecord{}}
}

func (m *memStore) ListCollections(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for c, subjects := range m.records {
		if len(subjects) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) LoadAll(_ context.Context, collection string) (map[string]storage.SubjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]storage.SubjectRecord{}
	for id, rec := range m.records[collection] {
		out[id] = rec
	}
	return out, nil
}

func (m *memStore) Load(_ context.Context, collection, identifier string) (storage.SubjectRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[collection][identifier]
	return rec, ok, nil
}

func (m *memStore) Save(_ context.Context, collection, identifier string, record storage.SubjectRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	if record.IsEmpty() {
		delete(m.records[collection], identifier)
		return nil
	}
	if m.records[collection] == nil {
		m.records[collection] = map[string]storage.SubjectRecord{}
	}
	m.records[collection][identifier] = record
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStore) record(collection, identifier string) (storage.SubjectRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[collection][identifier]
	return rec, ok
}

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()

	store := newMemStore()
	cfg := defaultConfig()
	cfg.Collections.ValidateUserIdentifiers = false

	svc, err := New().WithConfig(cfg).WithStore(store).Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return svc, store
}

func loadSubject(t *testing.T, svc *Service, collection, identifier string) *Subject {
	t.Helper()

	c, err := svc.Collection(context.Background(), collection)
	if err != nil {
		t.Fatalf("Collection(%q) failed: %v", collection, err)
	}
	s, err := c.LoadSubject(context.Background(), identifier).Join()
	if err != nil {
		t.Fatalf("LoadSubject(%q) failed: %v", identifier, err)
	}
	return s
}

func mustJoin(t *testing.T, p *Promise[bool]) bool {
	t.Helper()
	v, err := p.Join()
	if err != nil {
		t.Fatalf("mutation failed: %v", err)
	}
	return v
}

// waitFor polls until cond holds or the deadline passes, for asserting on
// asynchronous side effects like dispatcher writes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// timeout is the deadline for observing asynchronous side effects.
func timeout() time.Duration {
	return 2 * time.Second
}

var errStoreDown = errors.New("store down")
