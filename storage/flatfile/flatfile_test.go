package flatfile

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bergwerkLABS/LuckPerms/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord() storage.SubjectRecord {
	return storage.SubjectRecord{Sections: []storage.Section{
		{
			Permissions: map[string]bool{"chat.use": true, "chat.color": false},
			Parents:     []storage.ParentRef{{Collection: "group", Identifier: "default"}},
		},
		{
			Context:     []storage.ContextPair{{Key: "world", Value: "nether"}},
			Permissions: map[string]bool{"fly.use": true},
			Parents:     []storage.ParentRef{{Collection: "group", Identifier: "vip"}},
		},
	}}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := sampleRecord()
	want.Normalize()

	if err := s.Save(ctx, "group", "admin", sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, found, err := s.Load(ctx, "group", "admin")
	if err != nil || !found {
		t.Fatalf("Load = (%v, %v), want found", found, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoadMissingSubject(t *testing.T) {
	s := newTestStore(t)
	rec, found, err := s.Load(context.Background(), "group", "ghost")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found || !rec.IsEmpty() {
		t.Fatal("missing subject must come back empty and not found")
	}
}

func TestCorruptFileTreatedAsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "group", "good", sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	bad := filepath.Join(s.root, "group", "bad.yml")
	if err := os.WriteFile(bad, []byte("\t{not yaml"), 0o640); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	_, found, err := s.Load(ctx, "group", "bad")
	if err != nil || found {
		t.Fatalf("corrupt file should read as missing, got (%v, %v)", found, err)
	}

	// LoadAll skips the corrupt file and keeps the healthy one.
	all, err := s.LoadAll(ctx, "group")
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 loadable record, got %d", len(all))
	}
	if _, ok := all["good"]; !ok {
		t.Fatal("healthy record should survive a corrupt sibling")
	}
}

func TestSaveEmptyRemovesFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "group", "admin", sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, "group", "admin", storage.SubjectRecord{}); err != nil {
		t.Fatalf("empty Save failed: %v", err)
	}
	if _, err := os.Stat(s.subjectFile("group", "admin")); !os.IsNotExist(err) {
		t.Fatal("saving an empty record should remove the file")
	}
	// Deleting an absent record stays a no-op.
	if err := s.Save(ctx, "group", "admin", storage.SubjectRecord{}); err != nil {
		t.Fatalf("repeated empty Save failed: %v", err)
	}
}

func TestListCollections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "group", "admin", sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, "User", "f47ac10b-58cc-4372-a567-0e02b2c3d479", sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// An empty directory does not count as a collection.
	if err := os.MkdirAll(filepath.Join(s.root, "stale"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cols, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	got := map[string]bool{}
	for _, c := range cols {
		got[c] = true
	}
	if len(got) != 2 || !got["group"] || !got["user"] {
		t.Fatalf("unexpected collections: %v", cols)
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s := newTestStore(t)
	s.Close()
	if err := s.Save(context.Background(), "group", "admin", sampleRecord()); err != storage.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, _, err := s.Load(context.Background(), "group", "admin"); err != storage.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
