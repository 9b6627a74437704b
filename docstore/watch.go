package docstore

import (
	"context"
	"sync"
)

type docKey struct {
	coll Path
	id   string
}

type queryWatch struct {
	filter Filter
	sub    *Subscription[[]Document]
}

// Watchers is the subscription registry shared by the store
// implementations. It has no lock of its own: every method must be called
// with the owning store's lock held, which is also the lock Cancel takes.
// Publishing under the same lock as the write is what makes all subscribers
// of a document observe its updates in the same order.
type Watchers struct {
	lock sync.Locker
	next uint64

	docs    map[docKey]map[uint64]*Subscription[DocumentSnapshot]
	queries map[Path]map[uint64]*queryWatch
}

func NewWatchers(lock sync.Locker) *Watchers {
	return &Watchers{
		lock:    lock,
		docs:    make(map[docKey]map[uint64]*Subscription[DocumentSnapshot]),
		queries: make(map[Path]map[uint64]*queryWatch),
	}
}

// WatchDocumentLocked registers a document subscription and hands it the
// current snapshot.
func (w *Watchers) WatchDocumentLocked(ctx context.Context, coll Path, id string, current DocumentSnapshot) *Subscription[DocumentSnapshot] {
	key := docKey{coll: coll, id: id}
	w.next++
	n := w.next

	sub := newSubscription[DocumentSnapshot](ctx, func() {
		w.lock.Lock()
		defer w.lock.Unlock()

		set, ok := w.docs[key]
		if !ok {
			return
		}
		if s, ok := set[n]; ok {
			delete(set, n)
			s.Close()
		}
		if len(set) == 0 {
			delete(w.docs, key)
		}
	})

	if w.docs[key] == nil {
		w.docs[key] = make(map[uint64]*Subscription[DocumentSnapshot])
	}
	w.docs[key][n] = sub

	sub.Send(current)

	return sub
}

// WatchQueryLocked registers a query subscription over coll. all is the
// full current content of the collection; the filter is applied here.
func (w *Watchers) WatchQueryLocked(ctx context.Context, coll Path, filter Filter, all []Document) *Subscription[[]Document] {
	w.next++
	n := w.next

	sub := newSubscription[[]Document](ctx, func() {
		w.lock.Lock()
		defer w.lock.Unlock()

		set, ok := w.queries[coll]
		if !ok {
			return
		}
		if q, ok := set[n]; ok {
			delete(set, n)
			q.sub.Close()
		}
		if len(set) == 0 {
			delete(w.queries, coll)
		}
	})

	if w.queries[coll] == nil {
		w.queries[coll] = make(map[uint64]*queryWatch)
	}
	w.queries[coll][n] = &queryWatch{filter: filter, sub: sub}

	sub.Send(FilterDocuments(all, filter))

	return sub
}

// WatchingQueryLocked reports whether anything subscribes to coll, so that
// stores can skip re-reading a collection nobody is listening to.
func (w *Watchers) WatchingQueryLocked(coll Path) bool {
	return len(w.queries[coll]) > 0
}

// PublishLocked delivers a changed document to its document subscribers and,
// when all is non-nil, the refreshed collection to its query subscribers.
func (w *Watchers) PublishLocked(coll Path, id string, snap DocumentSnapshot, all []Document) {
	for _, sub := range w.docs[docKey{coll: coll, id: id}] {
		s := snap
		if s.Exists {
			s.Document = s.Document.clone()
		}
		sub.Send(s)
	}

	if all == nil {
		return
	}
	for _, q := range w.queries[coll] {
		q.sub.Send(FilterDocuments(all, q.filter))
	}
}

// CloseAllLocked ends every subscription.
func (w *Watchers) CloseAllLocked() {
	for key, set := range w.docs {
		for n, sub := range set {
			delete(set, n)
			sub.Close()
		}
		delete(w.docs, key)
	}
	for coll, set := range w.queries {
		for n, q := range set {
			delete(set, n)
			q.sub.Close()
		}
		delete(w.queries, coll)
	}
}
