// Package identity tells the rest of audiencebox who is acting: a director
// authenticated by a signed token, or an anonymous participant identified by
// a token that lives only as long as its connection.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const anonymousPrefix = "anonymous_"

type Identity struct {
	ID        string `json:"id"`
	Anonymous bool   `json:"anonymous"`
}

// Provider reports the current identity and notifies on changes.
type Provider interface {
	CurrentUser() *Identity
	OnAuthChange(func(*Identity)) (unsubscribe func())
}

// NewAnonymous returns a fresh participant identity. It is never persisted,
// so a participant that reconnects is a different participant.
func NewAnonymous() *Identity {
	return &Identity{
		ID:        anonymousPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:9],
		Anonymous: true,
	}
}

func IsAnonymousID(id string) bool {
	return strings.HasPrefix(id, anonymousPrefix)
}

// Holder is a Provider whose identity is set explicitly, one per connection.
type Holder struct {
	mu        sync.Mutex
	current   *Identity
	next      int
	listeners map[int]func(*Identity)
}

var _ Provider = (*Holder)(nil)

func NewHolder(initial *Identity) *Holder {
	return &Holder{
		current:   initial,
		listeners: make(map[int]func(*Identity)),
	}
}

func (h *Holder) CurrentUser() *Identity {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.current
}

// OnAuthChange calls fn with the current identity right away and again after
// every Set, until the returned function is called.
func (h *Holder) OnAuthChange(fn func(*Identity)) func() {
	h.mu.Lock()
	h.next++
	n := h.next
	h.listeners[n] = fn
	current := h.current
	h.mu.Unlock()

	fn(current)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(h.listeners, n)
	}
}

// Set replaces the identity. A nil identity means signed out.
func (h *Holder) Set(id *Identity) {
	h.mu.Lock()
	h.current = id
	listeners := make([]func(*Identity), 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
}

type ctxKey int

const identityKey ctxKey = 1

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}
