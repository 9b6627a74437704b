package tally

import (
	"context"
	"sync"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/Seednode/audiencebox/engine"
)

// Scope holds at most one tally subscription for a session. Rescoping
// cancels the previous subscription before the next one is opened, so two
// question indices are never counted at the same time.
type Scope struct {
	agg       *Aggregator
	sessionID string

	mu    sync.Mutex
	index int
	sub   *docstore.Subscription[Tally]
}

func (a *Aggregator) Scope(sessionID string) *Scope {
	return &Scope{agg: a, sessionID: sessionID, index: -1}
}

func (s *Scope) Rescope(ctx context.Context, index int) (*docstore.Subscription[Tally], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
		s.index = -1
	}

	sub, err := s.agg.SubscribeTally(ctx, s.sessionID, index)
	if err != nil {
		return nil, err
	}

	s.sub = sub
	s.index = index

	return sub, nil
}

// Index returns the question index currently subscribed to, or -1.
func (s *Scope) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.index
}

func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	s.index = -1
}

// Tracker follows a session's live screen and delivers the tally of the
// question on screen. It rescopes whenever a different question goes live;
// on sentinel screens it keeps the last question's tally.
type Tracker struct {
	*docstore.Subscription[Tally]

	scope *Scope
}

// Index returns the question index being tallied, or -1 before any
// question has been live.
func (t *Tracker) Index() int {
	return t.scope.Index()
}

func (a *Aggregator) Track(ctx context.Context, sessionID string) (*Tracker, error) {
	if err := checkScope(sessionID, 0); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)

	sessionSub, err := a.sessions.WatchSession(watchCtx, sessionID)
	if err != nil {
		cancel()
		return nil, err
	}

	scope := a.Scope(sessionID)
	done := make(chan struct{})
	out := docstore.NewSubscription[Tally](ctx, func() {
		cancel()
		<-done
	})

	go func() {
		defer close(done)
		defer out.Close()
		defer scope.Close()
		defer sessionSub.Cancel()

		var tallies <-chan Tally
		for {
			select {
			case <-watchCtx.Done():
				return
			case snap, ok := <-sessionSub.C():
				if !ok {
					return
				}
				s := engine.FromSnapshot(snap)
				if s == nil {
					continue
				}
				index, ok := s.CurrentScreen.QuestionIndex()
				if !ok || index < 0 || (tallies != nil && index == scope.Index()) {
					continue
				}
				sub, err := scope.Rescope(watchCtx, index)
				if err != nil {
					tallies = nil
					continue
				}
				tallies = sub.C()
			case t, ok := <-tallies:
				if !ok {
					tallies = nil
					continue
				}
				out.Send(t)
			}
		}
	}()

	return &Tracker{Subscription: out, scope: scope}, nil
}
