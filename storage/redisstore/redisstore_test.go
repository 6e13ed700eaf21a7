package redisstore

import (
	"context"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bergwerkLABS/LuckPerms/storage"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, zerolog.Nop(), WithPrefix("lptest")), mr
}

func sampleRecord() storage.SubjectRecord {
	return storage.SubjectRecord{Sections: []storage.Section{
		{
			Permissions: map[string]bool{"chat.use": true},
			Parents:     []storage.ParentRef{{Collection: "group", Identifier: "default"}},
		},
		{
			Context:     []storage.ContextPair{{Key: "server", Value: "lobby"}},
			Permissions: map[string]bool{"lobby.teleport": true},
		},
	}}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	want := sampleRecord()
	want.Normalize()

	if err := s.Save(ctx, "group", "Admin", sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, found, err := s.Load(ctx, "group", "admin")
	if err != nil || !found {
		t.Fatalf("Load = (%v, %v), want found", found, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	cols, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(cols) != 1 || cols[0] != "group" {
		t.Fatalf("unexpected collections: %v", cols)
	}
}

func TestLoadMissingSubject(t *testing.T) {
	s, _ := newTestStore(t)
	rec, found, err := s.Load(context.Background(), "group", "ghost")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found || !rec.IsEmpty() {
		t.Fatal("missing subject must come back empty and not found")
	}
}

func TestCorruptFieldTreatedAsMissing(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "group", "good", sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.HSet("lptest:data:group", "bad", "{not json")

	_, found, err := s.Load(ctx, "group", "bad")
	if err != nil || found {
		t.Fatalf("corrupt field should read as missing, got (%v, %v)", found, err)
	}

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

func TestSaveEmptyDeletesField(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "group", "admin", sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, "group", "admin", storage.SubjectRecord{}); err != nil {
		t.Fatalf("empty Save failed: %v", err)
	}

	if mr.Exists("lptest:data:group") {
		t.Fatal("emptied hash should be gone")
	}
	cols, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(cols) != 0 {
		t.Fatalf("emptied collection should leave the set, got %v", cols)
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Save(context.Background(), "group", "admin", sampleRecord()); err != storage.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, _, err := s.Load(context.Background(), "group", "admin"); err != storage.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
