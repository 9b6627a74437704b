package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store. It backs tests and single-instance
// deployments that do not need data to survive a restart.
type Memory struct {
	mu     sync.Mutex
	colls  map[Path]map[string]Document
	watch  *Watchers
	closed bool
	now    func() time.Time
	newID  func() string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{
		colls: make(map[Path]map[string]Document),
		now:   time.Now,
		newID: NewID,
	}
	m.watch = NewWatchers(&m.mu)
	return m
}

func (m *Memory) checkLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return fmt.Errorf("memory store closed: %w", ErrUnavailable)
	}
	return nil
}

func (m *Memory) listLocked(coll Path) []Document {
	docs := make([]Document, 0, len(m.colls[coll]))
	for _, d := range m.colls[coll] {
		docs = append(docs, d)
	}
	SortDocuments(docs)
	return docs
}

func (m *Memory) publishLocked(coll Path, id string) {
	d, ok := m.colls[coll][id]
	snap := DocumentSnapshot{Document: d, Exists: ok}
	if !ok {
		snap.Document = Document{ID: id}
	}

	var all []Document
	if m.watch.WatchingQueryLocked(coll) {
		all = m.listLocked(coll)
	}
	m.watch.PublishLocked(coll, id, snap, all)
}

func (m *Memory) putLocked(coll Path, d Document) {
	if m.colls[coll] == nil {
		m.colls[coll] = make(map[string]Document)
	}
	m.colls[coll][d.ID] = d
	m.publishLocked(coll, d.ID)
}

func (m *Memory) Create(ctx context.Context, coll Path, fields Fields) (string, error) {
	if err := CheckPath(coll); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx); err != nil {
		return "", err
	}

	id := m.newID()
	for {
		if _, exists := m.colls[coll][id]; !exists {
			break
		}
		id = m.newID()
	}

	now := m.now().UTC()
	m.putLocked(coll, Document{ID: id, Fields: fields.Clone(), CreatedAt: now, UpdatedAt: now})

	return id, nil
}

func (m *Memory) Set(ctx context.Context, coll Path, id string, fields Fields) error {
	if err := CheckArgs(coll, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx); err != nil {
		return err
	}

	now := m.now().UTC()
	created := now
	if prev, ok := m.colls[coll][id]; ok {
		created = prev.CreatedAt
	}
	m.putLocked(coll, Document{ID: id, Fields: fields.Clone(), CreatedAt: created, UpdatedAt: now})

	return nil
}

func (m *Memory) Update(ctx context.Context, coll Path, id string, fields Fields) error {
	if err := CheckArgs(coll, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx); err != nil {
		return err
	}

	prev, ok := m.colls[coll][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", coll, id, ErrNotFound)
	}

	next := prev.clone()
	for k, v := range fields {
		next.Fields[k] = v
	}
	next.UpdatedAt = m.now().UTC()
	m.putLocked(coll, next)

	return nil
}

func (m *Memory) Delete(ctx context.Context, coll Path, id string) error {
	if err := CheckArgs(coll, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx); err != nil {
		return err
	}

	if _, ok := m.colls[coll][id]; !ok {
		return nil
	}
	delete(m.colls[coll], id)
	if len(m.colls[coll]) == 0 {
		delete(m.colls, coll)
	}
	m.publishLocked(coll, id)

	return nil
}

func (m *Memory) Get(ctx context.Context, coll Path, id string) (Document, error) {
	if err := CheckArgs(coll, id); err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx); err != nil {
		return Document{}, err
	}

	d, ok := m.colls[coll][id]
	if !ok {
		return Document{}, fmt.Errorf("get %s/%s: %w", coll, id, ErrNotFound)
	}
	return d.clone(), nil
}

func (m *Memory) Query(ctx context.Context, coll Path, filter Filter) ([]Document, error) {
	if err := CheckPath(coll); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx); err != nil {
		return nil, err
	}

	return FilterDocuments(m.listLocked(coll), filter), nil
}

func (m *Memory) WatchDocument(ctx context.Context, coll Path, id string) (*Subscription[DocumentSnapshot], error) {
	if err := CheckArgs(coll, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx); err != nil {
		return nil, err
	}

	d, ok := m.colls[coll][id]
	snap := DocumentSnapshot{Document: Document{ID: id}, Exists: ok}
	if ok {
		snap.Document = d.clone()
	}

	return m.watch.WatchDocumentLocked(ctx, coll, id, snap), nil
}

func (m *Memory) WatchQuery(ctx context.Context, coll Path, filter Filter) (*Subscription[[]Document], error) {
	if err := CheckPath(coll); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(ctx); err != nil {
		return nil, err
	}

	return m.watch.WatchQueryLocked(ctx, coll, filter, m.listLocked(coll)), nil
}

// Close ends all subscriptions. Later calls fail with ErrUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.watch.CloseAllLocked()

	return nil
}
