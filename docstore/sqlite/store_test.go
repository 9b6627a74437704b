package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Seednode/audiencebox/docstore"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audiencebox.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func field(t *testing.T, name string, v any) docstore.Fields {
	t.Helper()

	f, err := docstore.Field(name, v)
	if err != nil {
		t.Fatalf("field %s: %v", name, err)
	}
	return f
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreCreateGetUpdateDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)

	id, err := store.Create(ctx, "presets", field(t, "name", "Quarterly"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Update(ctx, "presets", id, field(t, "ownerId", "d1")); err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, err := store.Get(ctx, "presets", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := string(doc.Fields["name"]); got != `"Quarterly"` {
		t.Fatalf("name = %s, want \"Quarterly\"", got)
	}
	if got := string(doc.Fields["ownerId"]); got != `"d1"` {
		t.Fatalf("ownerId = %s, want \"d1\"", got)
	}

	if err := store.Delete(ctx, "presets", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "presets", id); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Get(ctx, "presets", id); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
	if err := store.Update(ctx, "presets", id, field(t, "name", "x")); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("update after delete = %v, want ErrNotFound", err)
	}
}

func TestStoreQueryFiltersAndOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, owner := range []string{"d1", "d2", "d1"} {
		if _, err := store.Create(ctx, "presets", field(t, "ownerId", owner)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	docs, err := store.Query(ctx, "presets", docstore.Where("ownerId", "d1"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len(docs) = %d, want 2", len(docs))
	}
	if !docs[0].CreatedAt.Before(docs[1].CreatedAt) {
		t.Fatalf("documents not ordered by creation: %v, %v", docs[0].CreatedAt, docs[1].CreatedAt)
	}
}

func TestStoreSetKeepsCreatedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)

	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }

	coll := docstore.Collection("sessions", "s1", "questions", "0", "responses")
	if err := store.Set(ctx, coll, "p1", field(t, "answerId", "a1")); err != nil {
		t.Fatalf("set: %v", err)
	}

	store.now = func() time.Time { return first.Add(time.Minute) }
	if err := store.Set(ctx, coll, "p1", field(t, "answerId", "a2")); err != nil {
		t.Fatalf("set: %v", err)
	}

	doc, err := store.Get(ctx, coll, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !doc.CreatedAt.Equal(first) {
		t.Fatalf("created_at = %v, want %v", doc.CreatedAt, first)
	}
	if !doc.UpdatedAt.Equal(first.Add(time.Minute)) {
		t.Fatalf("updated_at = %v, want %v", doc.UpdatedAt, first.Add(time.Minute))
	}
	if got := string(doc.Fields["answerId"]); got != `"a2"` {
		t.Fatalf("answerId = %s, want \"a2\"", got)
	}
}

func TestStoreWatchDocumentAndQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)

	docSub, err := store.WatchDocument(ctx, "sessions", "s1")
	if err != nil {
		t.Fatalf("watch document: %v", err)
	}
	defer docSub.Cancel()

	querySub, err := store.WatchQuery(ctx, "sessions", docstore.Filter{})
	if err != nil {
		t.Fatalf("watch query: %v", err)
	}
	defer querySub.Cancel()

	if snap := <-docSub.C(); snap.Exists {
		t.Fatal("initial snapshot should not exist")
	}
	if docs := <-querySub.C(); len(docs) != 0 {
		t.Fatalf("initial query len = %d, want 0", len(docs))
	}

	if err := store.Set(ctx, "sessions", "s1", field(t, "name", "Town hall")); err != nil {
		t.Fatalf("set: %v", err)
	}

	select {
	case snap := <-docSub.C():
		if !snap.Exists || snap.Document.ID != "s1" {
			t.Fatalf("snapshot = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for document snapshot")
	}

	select {
	case docs := <-querySub.C():
		if len(docs) != 1 {
			t.Fatalf("query len = %d, want 1", len(docs))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for query snapshot")
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audiencebox.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := store.Create(ctx, "presets", field(t, "name", "Kept"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	doc, err := reopened.Get(ctx, "presets", id)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got := string(doc.Fields["name"]); got != `"Kept"` {
		t.Fatalf("name = %s, want \"Kept\"", got)
	}
}

func recvSnapshot(t *testing.T, sub *docstore.Subscription[docstore.DocumentSnapshot]) docstore.DocumentSnapshot {
	t.Helper()

	select {
	case snap, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for document snapshot")
	}
	return docstore.DocumentSnapshot{}
}

func TestStoreCommittedWriteReachesWatchersAfterCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)

	id, err := store.Create(ctx, "sessions", field(t, "currentScreen", "welcome"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	docSub, err := store.WatchDocument(ctx, "sessions", id)
	if err != nil {
		t.Fatalf("watch document: %v", err)
	}
	defer docSub.Cancel()
	querySub, err := store.WatchQuery(ctx, "sessions", docstore.Filter{})
	if err != nil {
		t.Fatalf("watch query: %v", err)
	}
	defer querySub.Cancel()

	recvSnapshot(t, docSub)
	<-querySub.C()

	// The row is committed, then the writer's context goes away before
	// watchers are told.
	now := toMillis(time.Now())
	if _, err := store.db.ExecContext(ctx,
		`UPDATE documents SET fields = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		`{"currentScreen":"results"}`, now, "sessions", id,
	); err != nil {
		t.Fatalf("write row: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	store.mu.Lock()
	store.publishLocked(cancelled, "sessions", written(id, field(t, "currentScreen", "results"), now, now))
	store.mu.Unlock()

	snap := recvSnapshot(t, docSub)
	if got := string(snap.Document.Fields["currentScreen"]); got != `"results"` {
		t.Fatalf("document watcher saw %s, want \"results\"", got)
	}

	select {
	case docs := <-querySub.C():
		if len(docs) != 1 || string(docs[0].Fields["currentScreen"]) != `"results"` {
			t.Fatalf("query watcher saw %+v", docs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query watcher was not notified")
	}
}

func TestStoreUpdatePublishesWrittenDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTempStore(t)

	first := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }

	id, err := store.Create(ctx, "sessions", field(t, "name", "Town hall"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sub, err := store.WatchDocument(ctx, "sessions", id)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()
	recvSnapshot(t, sub)

	store.now = func() time.Time { return first.Add(time.Minute) }
	if err := store.Update(ctx, "sessions", id, field(t, "currentScreen", "end")); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap := recvSnapshot(t, sub)
	if !snap.Exists || !snap.Document.CreatedAt.Equal(first) || !snap.Document.UpdatedAt.Equal(first.Add(time.Minute)) {
		t.Fatalf("snapshot = %+v", snap)
	}
	if string(snap.Document.Fields["name"]) != `"Town hall"` || string(snap.Document.Fields["currentScreen"]) != `"end"` {
		t.Fatalf("fields = %v", snap.Document.Fields)
	}

	store.now = func() time.Time { return first.Add(2 * time.Minute) }
	if err := store.Set(ctx, "sessions", id, field(t, "name", "Replaced")); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap = recvSnapshot(t, sub)
	if !snap.Document.CreatedAt.Equal(first) {
		t.Fatalf("created_at after set = %v, want %v", snap.Document.CreatedAt, first)
	}
	if _, ok := snap.Document.Fields["currentScreen"]; ok {
		t.Fatal("set must replace the whole document")
	}
}
