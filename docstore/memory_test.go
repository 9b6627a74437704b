package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Seednode/audiencebox/model"
)

type note struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Body  string `json:"body"`
}

func mustEncode(t *testing.T, v any) Fields {
	t.Helper()

	f, err := Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return f
}

func recvDoc(t *testing.T, sub *Subscription[DocumentSnapshot]) DocumentSnapshot {
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
	return DocumentSnapshot{}
}

func recvQuery(t *testing.T, sub *Subscription[[]Document]) []Document {
	t.Helper()

	select {
	case docs, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for query snapshot")
	}
	return nil
}

func TestCollectionPathValidation(t *testing.T) {
	t.Parallel()

	valid := []Path{"presets", Collection("sessions", "s1", "questions", "2", "responses")}
	for _, p := range valid {
		if !p.Valid() {
			t.Fatalf("%q should be valid", p)
		}
	}

	invalid := []Path{"", "sessions/s1", "sessions//questions", "/presets"}
	for _, p := range invalid {
		if p.Valid() {
			t.Fatalf("%q should be invalid", p)
		}
	}
}

func TestMemoryCreateGetUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	id, err := store.Create(ctx, "notes", mustEncode(t, note{ID: "ignored", Owner: "d1", Body: "hello"}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" || id == "ignored" {
		t.Fatalf("create id = %q", id)
	}

	body, err := Field("body", "updated")
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	if err := store.Update(ctx, "notes", id, body); err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, err := store.Get(ctx, "notes", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got note
	if err := doc.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Owner != "d1" || got.Body != "updated" {
		t.Fatalf("got %+v, want owner d1 body updated", got)
	}
	if _, ok := doc.Fields["id"]; ok {
		t.Fatal("id must not be stored as a field")
	}
}

func TestMemoryMissingDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	if _, err := store.Get(ctx, "notes", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get error = %v, want ErrNotFound", err)
	}
	if err := store.Update(ctx, "notes", "nope", Fields{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "notes", "nope"); err != nil {
		t.Fatalf("delete of missing document: %v", err)
	}
	if err := store.Set(ctx, "bad/path", "x", Fields{}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("set on document path error = %v, want ErrValidation", err)
	}
}

func TestMemorySetOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	coll := Collection("sessions", "s1", "questions", "0", "responses")
	if err := store.Set(ctx, coll, "p1", mustEncode(t, map[string]string{"answerId": "a1", "extra": "x"})); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, coll, "p1", mustEncode(t, map[string]string{"answerId": "a2"})); err != nil {
		t.Fatalf("set: %v", err)
	}

	docs, err := store.Query(ctx, coll, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}
	if string(docs[0].Fields["answerId"]) != `"a2"` {
		t.Fatalf("answerId = %s, want \"a2\"", docs[0].Fields["answerId"])
	}
	if _, ok := docs[0].Fields["extra"]; ok {
		t.Fatal("set must replace the whole document")
	}
}

func TestMemoryWatchDocumentLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	sub, err := store.WatchDocument(ctx, "notes", "n1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()

	if snap := recvDoc(t, sub); snap.Exists {
		t.Fatal("initial snapshot of missing document should not exist")
	}

	if err := store.Set(ctx, "notes", "n1", mustEncode(t, note{Body: "one"})); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap := recvDoc(t, sub)
	if !snap.Exists || string(snap.Document.Fields["body"]) != `"one"` {
		t.Fatalf("snapshot after set = %+v", snap)
	}

	if err := store.Delete(ctx, "notes", "n1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if snap := recvDoc(t, sub); snap.Exists {
		t.Fatal("snapshot after delete should not exist")
	}
}

func TestMemoryWatchDeliversLatestValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	if err := store.Set(ctx, "notes", "n1", mustEncode(t, note{Body: "0"})); err != nil {
		t.Fatalf("set: %v", err)
	}

	sub, err := store.WatchDocument(ctx, "notes", "n1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()

	for _, body := range []string{"1", "2", "3"} {
		if err := store.Set(ctx, "notes", "n1", mustEncode(t, note{Body: body})); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	snap := recvDoc(t, sub)
	if string(snap.Document.Fields["body"]) != `"3"` {
		t.Fatalf("body = %s, want the latest value \"3\"", snap.Document.Fields["body"])
	}
}

func TestMemoryWatchQueryFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	sub, err := store.WatchQuery(ctx, "notes", Where("owner", "d1"))
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()

	if docs := recvQuery(t, sub); len(docs) != 0 {
		t.Fatalf("initial len = %d, want 0", len(docs))
	}

	if _, err := store.Create(ctx, "notes", mustEncode(t, note{Owner: "d1", Body: "mine"})); err != nil {
		t.Fatalf("create: %v", err)
	}
	if docs := recvQuery(t, sub); len(docs) != 1 {
		t.Fatalf("len after own create = %d, want 1", len(docs))
	}

	if _, err := store.Create(ctx, "notes", mustEncode(t, note{Owner: "d2", Body: "theirs"})); err != nil {
		t.Fatalf("create: %v", err)
	}
	docs := recvQuery(t, sub)
	if len(docs) != 1 {
		t.Fatalf("len after foreign create = %d, want 1", len(docs))
	}
	var got note
	if err := docs[0].Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Owner != "d1" {
		t.Fatalf("owner = %q, want d1", got.Owner)
	}
}

func TestMemoryCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	sub, err := store.WatchQuery(ctx, "notes", Filter{})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	recvQuery(t, sub)

	sub.Cancel()
	sub.Cancel()

	if _, err := store.Create(ctx, "notes", mustEncode(t, note{Body: "late"})); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, ok := <-sub.C(); ok {
		t.Fatal("cancelled subscription delivered a value")
	}
}

func TestMemoryCancelDiscardsPendingValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()
	defer store.Close()

	sub, err := store.WatchQuery(ctx, "notes", Filter{})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	// The initial snapshot is left unread.
	sub.Cancel()

	if v, ok := <-sub.C(); ok {
		t.Fatalf("cancelled subscription delivered %v", v)
	}
}

func TestMemoryContextCancelDetaches(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := store.WatchDocument(ctx, "notes", "n1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	recvDoc(t, sub)

	cancel()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("unexpected value after context cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
}

func TestMemoryCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemory()

	sub, err := store.WatchDocument(ctx, "notes", "n1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	recvDoc(t, sub)

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("subscription still open after store close")
	}
	sub.Cancel()

	if _, err := store.Get(ctx, "notes", "n1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("get after close = %v, want ErrUnavailable", err)
	}
}

func TestFilterMatchesJSONValues(t *testing.T) {
	t.Parallel()

	doc := Document{Fields: Fields{"owner": json.RawMessage(`"d1"`), "n": json.RawMessage(` 3 `)}}

	if !Where("owner", "d1").Match(doc) {
		t.Fatal("owner d1 should match")
	}
	if Where("owner", "d2").Match(doc) {
		t.Fatal("owner d2 should not match")
	}
	if !Where("n", 3).Match(doc) {
		t.Fatal("n 3 should match")
	}
	if Where("missing", "x").Match(doc) {
		t.Fatal("missing field should not match")
	}
	if !(Filter{}).Match(doc) {
		t.Fatal("zero filter should match")
	}
}
