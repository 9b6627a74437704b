// Package sqlite provides a SQLite-backed document store. Documents are kept
// as JSON field maps keyed by (collection, id); change notification is
// in-process, so a database file must be served by a single audiencebox.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/Seednode/audiencebox/docstore/sqlite/migrations"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

// Store persists documents in SQLite.
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	watch *docstore.Watchers
	now   func() time.Time
	newID func() string
}

var _ docstore.Store = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, docstore.ErrUnavailable, err)
}

// Open opens a SQLite document store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	memory := path == ":memory:"
	dsn := path
	if !memory {
		dsn = "file:" + filepath.ToSlash(filepath.Clean(path))
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := migrateDB(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{
		db:    db,
		now:   time.Now,
		newID: docstore.NewID,
	}
	s.watch = docstore.NewWatchers(&s.mu)

	return s, nil
}

func migrateDB(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	dst, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "sqlite", dst)
	if err != nil {
		return err
	}

	err = migrator.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		// already up to date
	case err != nil:
		return err
	}
	return nil
}

// Close ends all subscriptions and closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	s.mu.Lock()
	s.watch.CloseAllLocked()
	s.mu.Unlock()

	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanDocument(row interface{ Scan(...any) error }) (docstore.Document, error) {
	var (
		d       docstore.Document
		raw     string
		created int64
		updated int64
	)
	if err := row.Scan(&d.ID, &raw, &created, &updated); err != nil {
		return docstore.Document{}, err
	}
	if err := json.Unmarshal([]byte(raw), &d.Fields); err != nil {
		return docstore.Document{}, fmt.Errorf("decode fields of %s: %w", d.ID, err)
	}
	if d.Fields == nil {
		d.Fields = docstore.Fields{}
	}
	d.CreatedAt = fromMillis(created)
	d.UpdatedAt = fromMillis(updated)
	return d, nil
}

func getDocument(ctx context.Context, q querier, coll docstore.Path, id string) (docstore.Document, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		string(coll), id,
	)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{ID: id}, false, nil
	}
	if err != nil {
		return docstore.Document{}, false, err
	}
	return d, true, nil
}

func (s *Store) listDocuments(ctx context.Context, coll docstore.Path) ([]docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at, updated_at FROM documents WHERE collection = ? ORDER BY created_at, id`,
		string(coll),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]docstore.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// publishLocked hands a committed write to its watchers. The snapshot is
// the document as written, so nothing is re-read for document watchers.
// Query watchers need the whole collection; that reload ignores the
// caller's cancellation, since the write it reports has already happened.
// If the reload itself fails, query watchers keep their previous value
// until the next write to the collection.
func (s *Store) publishLocked(ctx context.Context, coll docstore.Path, snap docstore.DocumentSnapshot) {
	var all []docstore.Document
	if s.watch.WatchingQueryLocked(coll) {
		docs, err := s.listDocuments(context.WithoutCancel(ctx), coll)
		if err == nil {
			all = docs
		}
	}

	s.watch.PublishLocked(coll, snap.Document.ID, snap, all)
}

func written(id string, fields docstore.Fields, created, updated int64) docstore.DocumentSnapshot {
	if fields == nil {
		fields = docstore.Fields{}
	}
	return docstore.DocumentSnapshot{
		Document: docstore.Document{
			ID:        id,
			Fields:    fields.Clone(),
			CreatedAt: fromMillis(created),
			UpdatedAt: fromMillis(updated),
		},
		Exists: true,
	}
}

func encodeFields(fields docstore.Fields) (string, error) {
	if fields == nil {
		fields = docstore.Fields{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(raw), nil
}

func (s *Store) Create(ctx context.Context, coll docstore.Path, fields docstore.Fields) (string, error) {
	if err := docstore.CheckPath(coll); err != nil {
		return "", err
	}
	raw, err := encodeFields(fields)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := s.newID()
	now := toMillis(s.now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(coll), id, raw, now, now,
	); err != nil {
		return "", unavailable("create "+string(coll), err)
	}

	s.publishLocked(ctx, coll, written(id, fields, now, now))

	return id, nil
}

func (s *Store) Set(ctx context.Context, coll docstore.Path, id string, fields docstore.Fields) error {
	if err := docstore.CheckArgs(coll, id); err != nil {
		return err
	}
	raw, err := encodeFields(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	now := toMillis(s.now())
	var created int64
	if err := s.db.QueryRowContext(ctx,
		`INSERT INTO documents (collection, id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at
		 RETURNING created_at`,
		string(coll), id, raw, now, now,
	).Scan(&created); err != nil {
		return unavailable("set "+string(coll)+"/"+id, err)
	}

	s.publishLocked(ctx, coll, written(id, fields, created, now))

	return nil
}

func (s *Store) Update(ctx context.Context, coll docstore.Path, id string, fields docstore.Fields) error {
	if err := docstore.CheckArgs(coll, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin update", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, ok, err := getDocument(ctx, tx, coll, id)
	if err != nil {
		return unavailable("update "+string(coll)+"/"+id, err)
	}
	if !ok {
		return fmt.Errorf("update %s/%s: %w", coll, id, docstore.ErrNotFound)
	}

	merged := prev.Fields.Clone()
	for k, v := range fields {
		merged[k] = v
	}
	raw, err := encodeFields(merged)
	if err != nil {
		return err
	}

	updated := toMillis(s.now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET fields = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		raw, updated, string(coll), id,
	); err != nil {
		return unavailable("update "+string(coll)+"/"+id, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit update", err)
	}

	s.publishLocked(ctx, coll, written(id, merged, toMillis(prev.CreatedAt), updated))

	return nil
}

func (s *Store) Delete(ctx context.Context, coll docstore.Path, id string) error {
	if err := docstore.CheckArgs(coll, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		string(coll), id,
	)
	if err != nil {
		return unavailable("delete "+string(coll)+"/"+id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	s.publishLocked(ctx, coll, docstore.DocumentSnapshot{Document: docstore.Document{ID: id}})

	return nil
}

func (s *Store) Get(ctx context.Context, coll docstore.Path, id string) (docstore.Document, error) {
	if err := docstore.CheckArgs(coll, id); err != nil {
		return docstore.Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}

	d, ok, err := getDocument(ctx, s.db, coll, id)
	if err != nil {
		return docstore.Document{}, unavailable("get "+string(coll)+"/"+id, err)
	}
	if !ok {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", coll, id, docstore.ErrNotFound)
	}
	return d, nil
}

func (s *Store) Query(ctx context.Context, coll docstore.Path, filter docstore.Filter) ([]docstore.Document, error) {
	if err := docstore.CheckPath(coll); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, err := s.listDocuments(ctx, coll)
	if err != nil {
		return nil, unavailable("query "+string(coll), err)
	}
	return docstore.FilterDocuments(docs, filter), nil
}

func (s *Store) WatchDocument(ctx context.Context, coll docstore.Path, id string) (*docstore.Subscription[docstore.DocumentSnapshot], error) {
	if err := docstore.CheckArgs(coll, id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d, ok, err := getDocument(ctx, s.db, coll, id)
	if err != nil {
		return nil, unavailable("watch "+string(coll)+"/"+id, err)
	}

	return s.watch.WatchDocumentLocked(ctx, coll, id, docstore.DocumentSnapshot{Document: d, Exists: ok}), nil
}

func (s *Store) WatchQuery(ctx context.Context, coll docstore.Path, filter docstore.Filter) (*docstore.Subscription[[]docstore.Document], error) {
	if err := docstore.CheckPath(coll); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, err := s.listDocuments(ctx, coll)
	if err != nil {
		return nil, unavailable("watch "+string(coll), err)
	}

	return s.watch.WatchQueryLocked(ctx, coll, filter, docs), nil
}
