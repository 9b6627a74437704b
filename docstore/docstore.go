/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package docstore is the document store the rest of audiencebox is built
// on: documents addressed by collection path and id, partial field updates,
// and subscriptions that deliver the current value immediately and again on
// every change until cancelled.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Seednode/audiencebox/model"
	"github.com/google/uuid"
)

var (
	ErrNotFound    = model.ErrNotFound
	ErrUnavailable = model.ErrTransientStore
)

// Path names a collection. Nested collections alternate collection and
// document segments: "sessions/abc/questions/2/responses".
type Path string

// Collection joins segments into a collection path.
func Collection(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

func (p Path) Valid() bool {
	if p == "" {
		return false
	}
	parts := strings.Split(string(p), "/")
	if len(parts)%2 == 0 {
		return false
	}
	for _, s := range parts {
		if s == "" {
			return false
		}
	}
	return true
}

// Fields holds a document's top-level fields as raw JSON so that partial
// updates replace whole fields and nothing else.
type Fields map[string]json.RawMessage

type Document struct {
	ID        string
	Fields    Fields
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentSnapshot is one delivery of a document subscription. Exists is
// false when the document is absent or was deleted.
type DocumentSnapshot struct {
	Document Document
	Exists   bool
}

// Decode unmarshals the document's fields into v.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("decode %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.ID, err)
	}
	return nil
}

func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (d Document) clone() Document {
	out := d
	out.Fields = d.Fields.Clone()
	return out
}

// Encode turns a JSON-tagged struct into Fields. The "id" field is dropped
// because ids live beside the document, not inside it.
func Encode(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	delete(fields, "id")

	return fields, nil
}

// Field builds a single-field update.
func Field(name string, v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode field %s: %w", name, err)
	}
	return Fields{name: raw}, nil
}

// Filter selects documents whose top-level Field equals Value. The zero
// Filter matches everything.
type Filter struct {
	Field string
	Value any
}

func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

func (f Filter) Match(d Document) bool {
	if f.Field == "" {
		return true
	}

	got, ok := d.Fields[f.Field]
	if !ok {
		return false
	}

	want, err := json.Marshal(f.Value)
	if err != nil {
		return false
	}

	var a, b bytes.Buffer
	if json.Compact(&a, got) != nil || json.Compact(&b, want) != nil {
		return false
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

// FilterDocuments returns copies of the documents matching f.
func FilterDocuments(docs []Document, f Filter) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if f.Match(d) {
			out = append(out, d.clone())
		}
	}
	return out
}

// SortDocuments orders documents by creation time, then id.
func SortDocuments(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

// NewID returns a random 20 character document id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// Store is implemented by Memory and by the SQLite store.
type Store interface {
	// Create adds a document under a generated id.
	Create(ctx context.Context, coll Path, fields Fields) (string, error)

	// Set creates or fully replaces the document at id.
	Set(ctx context.Context, coll Path, id string, fields Fields) error

	// Update replaces the given top-level fields of an existing document
	// in one atomic write.
	Update(ctx context.Context, coll Path, id string, fields Fields) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, coll Path, id string) error

	Get(ctx context.Context, coll Path, id string) (Document, error)
	Query(ctx context.Context, coll Path, filter Filter) ([]Document, error)

	// WatchDocument and WatchQuery deliver the current value right away,
	// then every change, until the subscription or ctx is cancelled.
	WatchDocument(ctx context.Context, coll Path, id string) (*Subscription[DocumentSnapshot], error)
	WatchQuery(ctx context.Context, coll Path, filter Filter) (*Subscription[[]Document], error)

	Close() error
}

// CheckArgs validates a collection path and document id.
func CheckArgs(coll Path, id string) error {
	if !coll.Valid() {
		return fmt.Errorf("collection %q: %w", coll, model.ErrValidation)
	}
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("document id %q: %w", id, model.ErrValidation)
	}
	return nil
}

// CheckPath validates a collection path.
func CheckPath(coll Path) error {
	if !coll.Valid() {
		return fmt.Errorf("collection %q: %w", coll, model.ErrValidation)
	}
	return nil
}
