package luckperms

import (
	"sync"
	"testing"

	"github.com/bergwerkLABS/LuckPerms/contexts"
)

func TestAddParentIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	sub := loadSubject(t, svc, "group", "member")

	ctx := contexts.Of("world", "nether")
	ref := NewSubjectRef("group", "admin")

	if !mustJoin(t, sub.Data().AddParent(ctx, ref)) {
		t.Fatal("first AddParent should report true")
	}
	if mustJoin(t, sub.Data().AddParent(ctx, ref)) {
		t.Fatal("second AddParent of the same pair should report false")
	}

	parents := sub.Data().Parents(ctx)
	if len(parents) != 1 || parents[0] != ref {
		t.Fatalf("expected exactly one parent entry, got %v", parents)
	}
}

func TestRemoveParent(t *testing.T) {
	svc, _ := newTestService(t)
	sub := loadSubject(t, svc, "group", "member")

	ctx := contexts.Of("world", "nether")
	ref := NewSubjectRef("group", "admin")

	if mustJoin(t, sub.Data().RemoveParent(ctx, ref)) {
		t.Fatal("removing an absent parent should report false")
	}

	mustJoin(t, sub.Data().AddParent(ctx, ref))
	if !mustJoin(t, sub.Data().RemoveParent(ctx, ref)) {
		t.Fatal("removing a present parent should report true")
	}
	if got := sub.Data().Parents(ctx); len(got) != 0 {
		t.Fatalf("expected no parents, got %v", got)
	}
}

func TestParentOrderIsPreserved(t *testing.T) {
	svc, _ := newTestService(t)
	sub := loadSubject(t, svc, "group", "member")

	ctx := contexts.Empty()
	first := NewSubjectRef("group", "alpha")
	second := NewSubjectRef("group", "beta")

	mustJoin(t, sub.Data().AddParent(ctx, first))
	mustJoin(t, sub.Data().AddParent(ctx, second))

	parents := sub.Data().Parents(ctx)
	if len(parents) != 2 || parents[0] != first || parents[1] != second {
		t.Fatalf("declared order must be preserved, got %v", parents)
	}
}

// SetPermission reports false only on a true no-op: re-setting an already
// identical value. Any stored change reports true.
func TestSetPermissionNoOp(t *testing.T) {
	svc, _ := newTestService(t)
	sub := loadSubject(t, svc, "user", "notch")

	ctx := contexts.Of("world", "nether")

	if !mustJoin(t, sub.Data().SetPermission(ctx, "fly.use", true)) {
		t.Fatal("first set should report true")
	}
	if mustJoin(t, sub.Data().SetPermission(ctx, "fly.use", true)) {
		t.Fatal("identical re-set should report false")
	}
	if !mustJoin(t, sub.Data().SetPermission(ctx, "fly.use", false)) {
		t.Fatal("flipping the value should report true")
	}
	if got := sub.Data().Permissions(ctx); len(got) != 1 || got["fly.use"] != false {
		t.Fatalf("expected explicit false, got %v", got)
	}
}

func TestUnsetPermission(t *testing.T) {
	svc, _ := newTestService(t)
	sub := loadSubject(t, svc, "user", "notch")

	ctx := contexts.Empty()

	if mustJoin(t, sub.Data().UnsetPermission(ctx, "fly.use")) {
		t.Fatal("unsetting an absent permission should report false")
	}
	mustJoin(t, sub.Data().SetPermission(ctx, "fly.use", true))
	if !mustJoin(t, sub.Data().UnsetPermission(ctx, "fly.use")) {
		t.Fatal("unsetting a present permission should report true")
	}
	if !sub.Data().IsEmpty() {
		t.Fatal("subject should be empty again")
	}
}

func TestClearsAreIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	sub := loadSubject(t, svc, "group", "mod")

	ctx := contexts.Of("server", "hub")

	if mustJoin(t, sub.Data().ClearPermissions(ctx)) {
		t.Fatal("clearing an empty context should report false")
	}
	if mustJoin(t, sub.Data().ClearParents(ctx)) {
		t.Fatal("clearing an empty context should report false")
	}

	mustJoin(t, sub.Data().SetPermission(ctx, "chat.color", true))
	mustJoin(t, sub.Data().AddParent(ctx, NewSubjectRef("group", "member")))

	if !mustJoin(t, sub.Data().ClearPermissions(ctx)) {
		t.Fatal("clearing stored permissions should report true")
	}
	if len(sub.Data().Permissions(ctx)) != 0 {
		t.Fatal("permissions should be gone")
	}
	if len(sub.Data().Parents(ctx)) != 1 {
		t.Fatal("parents must survive ClearPermissions")
	}

	if !mustJoin(t, sub.Data().ClearParents(ctx)) {
		t.Fatal("clearing stored parents should report true")
	}
	if mustJoin(t, sub.Data().ClearParents(ctx)) {
		t.Fatal("second clear should report false")
	}
}

// Two racing AddParent calls for the same pair: exactly one wins, and the
// final list holds one entry. Per-subject serialization, not atomicity of
// the boolean, is what guarantees this.
func TestConcurrentAddParentRace(t *testing.T) {
	svc, _ := newTestService(t)
	sub := loadSubject(t, svc, "group", "member")

	ctx := contexts.Of("world", "nether")
	ref := NewSubjectRef("group", "admin")

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := sub.Data().AddParent(ctx, ref).Join()
			if err != nil {
				t.Errorf("AddParent failed: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("exactly one call should report true, got %v", results)
	}
	if parents := sub.Data().Parents(ctx); len(parents) != 1 {
		t.Fatalf("expected one parent entry, got %v", parents)
	}
}

func TestMutationsAcrossContextsAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)
	sub := loadSubject(t, svc, "user", "notch")

	nether := contexts.Of("world", "nether")
	end := contexts.Of("world", "end")

	mustJoin(t, sub.Data().SetPermission(nether, "fly.use", true))
	mustJoin(t, sub.Data().SetPermission(end, "fly.use", false))

	if got := sub.Data().Permissions(nether); got["fly.use"] != true {
		t.Fatalf("nether: %v", got)
	}
	if got := sub.Data().Permissions(end); got["fly.use"] != false {
		t.Fatalf("end: %v", got)
	}
	if sets := sub.Data().ContextSets(); len(sets) != 2 {
		t.Fatalf("expected two context sets, got %v", sets)
	}
}

func TestMutationSchedulesPersistence(t *testing.T) {
	svc, store := newTestService(t)
	sub := loadSubject(t, svc, "group", "vip")

	mustJoin(t, sub.Data().SetPermission(contexts.Empty(), "kit.vip", true))

	waitFor(t, timeout(), func() bool {
		rec, ok := store.record("group", "vip")
		return ok && len(rec.Sections) == 1 && rec.Sections[0].Permissions["kit.vip"]
	})
}

// A failing store must not corrupt in-memory state; the failure is logged
// and the data stays queryable.
func TestStoreFailureIsIsolated(t *testing.T) {
	svc, store := newTestService(t)
	sub := loadSubject(t, svc, "group", "vip")

	store.mu.Lock()
	store.saveErr = errStoreDown
	store.mu.Unlock()

	mustJoin(t, sub.Data().SetPermission(contexts.Empty(), "kit.vip", true))

	waitFor(t, timeout(), func() bool { return store.saveCount() > 0 })
	if got := sub.Data().Permissions(contexts.Empty()); got["kit.vip"] != true {
		t.Fatalf("in-memory data must survive a failed save, got %v", got)
	}
}
