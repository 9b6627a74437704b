/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package live

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/Seednode/audiencebox/engine"
	"github.com/Seednode/audiencebox/identity"
	"github.com/Seednode/audiencebox/model"
	"github.com/Seednode/audiencebox/presets"
	"github.com/Seednode/audiencebox/tally"
	"github.com/Seednode/audiencebox/view"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Client struct {
	conn     *websocket.Conn
	send     chan any
	role     Role
	identity *identity.Holder
	console  *engine.Console
}

type request struct {
	client *Client
	msg    ClientMessage
}

// Hub fans one session out to its connected clients. The run loop is the
// only goroutine that touches session state; mu guards the client set and
// lastActive, which the manager's reaper also reads.
type Hub struct {
	id   string
	deps Deps
	log  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	register chan *Client
	unreg    chan *Client
	requests chan request

	mu         sync.RWMutex
	clients    map[*Client]bool
	lastActive time.Time

	sessionSub *docstore.Subscription[docstore.DocumentSnapshot]
	presetSub  *docstore.Subscription[docstore.DocumentSnapshot]
	tracker    *tally.Tracker

	session  *model.Session
	preset   *model.Preset
	resolved view.Resolved
	tally    *tally.Tally
}

func newHub(parent context.Context, sessionID string, deps Deps) (*Hub, error) {
	ctx, cancel := context.WithCancel(parent)

	sessionSub, err := deps.Engine.WatchSession(ctx, sessionID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch session %s: %w", sessionID, err)
	}

	tracker, err := deps.Tally.Track(ctx, sessionID)
	if err != nil {
		sessionSub.Cancel()
		cancel()
		return nil, fmt.Errorf("track session %s: %w", sessionID, err)
	}

	return &Hub{
		id:         sessionID,
		deps:       deps,
		log:        deps.Log.WithField("session", sessionID),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		requests:   make(chan request),
		clients:    make(map[*Client]bool),
		lastActive: time.Now(),
		sessionSub: sessionSub,
		tracker:    tracker,
		resolved:   view.Waiting,
	}, nil
}

func (h *Hub) run() {
	defer close(h.done)
	defer h.shutdown()

	for {
		var presetC <-chan docstore.DocumentSnapshot
		if h.presetSub != nil {
			presetC = h.presetSub.C()
		}

		select {
		case <-h.ctx.Done():
			return

		case snap, ok := <-h.sessionSub.C():
			if !ok {
				return
			}
			h.handleSession(engine.FromSnapshot(snap))

		case snap, ok := <-presetC:
			if !ok {
				h.presetSub = nil
				continue
			}
			h.preset = presets.FromSnapshot(snap)
			h.refreshView()

		case t, ok := <-h.tracker.C():
			if !ok {
				return
			}
			h.tally = &t
			h.mu.Lock()
			h.broadcastLocked(TallyMessage{Type: "tally", Tally: t}, RoleDirector, RoleProjector)
			h.mu.Unlock()

		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case req := <-h.requests:
			h.mu.Lock()
			h.lastActive = time.Now()
			h.mu.Unlock()

			switch req.client.role {
			case RoleDirector:
				h.handleDirector(req.client, req.msg)
			case RoleParticipant:
				h.handleParticipant(req.client, req.msg)
			}
		}
	}
}

func (h *Hub) handleSession(s *model.Session) {
	h.session = s

	if s != nil && h.presetSub == nil {
		sub, err := h.deps.Presets.Watch(h.ctx, s.PresetID)
		if err != nil {
			h.log.WithError(err).Warn("SESSIONS: unable to watch preset")
		} else {
			h.presetSub = sub
		}
	}

	h.mu.Lock()
	h.broadcastLocked(SessionMessage{Type: "session", Session: s}, RoleDirector)
	h.mu.Unlock()

	h.refreshView()
}

// refreshView re-resolves the live screen and broadcasts it if it changed.
// A missing session or preset resolves to waiting.
func (h *Hub) refreshView() {
	next := view.Waiting
	if h.session != nil {
		next = view.Resolve(h.session.CurrentScreen, h.preset)
	}

	if sameView(next, h.resolved) {
		return
	}
	h.resolved = next

	h.mu.Lock()
	h.broadcastLocked(ViewMessage{Type: "view", SessionID: h.id, View: next})
	h.mu.Unlock()
}

func sameView(a, b view.Resolved) bool {
	return a.Kind == b.Kind &&
		a.Index == b.Index &&
		a.QuestionID == b.QuestionID &&
		a.Text == b.Text &&
		slices.Equal(a.Answers, b.Answers)
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()
	h.clients[c] = true

	hello := HelloMessage{Type: "hello", SessionID: h.id, Role: c.role}
	if c.role == RoleParticipant {
		if who := c.identity.CurrentUser(); who != nil {
			hello.ParticipantID = who.ID
		}
	}

	h.sendLocked(c, hello)
	h.sendLocked(c, ViewMessage{Type: "view", SessionID: h.id, View: h.resolved})

	if c.role == RoleDirector {
		h.sendLocked(c, SessionMessage{Type: "session", Session: h.session})
	}
	if h.tally != nil && c.role != RoleParticipant {
		h.sendLocked(c, TallyMessage{Type: "tally", Tally: *h.tally})
	}
}

func (h *Hub) handleDirector(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "preview":
		screen, err := model.ParseScreen(msg.Screen)
		if err == nil {
			err = c.console.Stage(screen)
		}
		if err != nil {
			h.reply(c, ErrorMessage{Type: "error", Message: err.Error()})
			return
		}

		resolved, err := c.console.Preview(h.ctx)
		if err != nil {
			h.reply(c, ErrorMessage{Type: "error", Message: err.Error()})
			return
		}
		h.reply(c, PreviewMessage{Type: "preview", Screen: screen, View: resolved})

	case "commit":
		if msg.Screen != "" {
			screen, err := model.ParseScreen(msg.Screen)
			if err == nil {
				err = c.console.Stage(screen)
			}
			if err != nil {
				h.reply(c, ErrorMessage{Type: "error", Message: err.Error()})
				return
			}
		}

		result, err := c.console.Commit(h.ctx)
		if err != nil {
			h.reply(c, ErrorMessage{Type: "error", Message: err.Error()})
			return
		}
		h.reply(c, CommitMessage{Type: "commit_result", Result: result})

	case "end":
		director := c.identity.CurrentUser()
		if director == nil {
			return
		}
		if err := h.deps.Engine.EndSession(h.ctx, director.ID, h.id); err != nil {
			h.reply(c, ErrorMessage{Type: "error", Message: err.Error()})
		}

	default:
		// ignore unknown types
	}
}

func (h *Hub) handleParticipant(c *Client, msg ClientMessage) {
	if msg.Type != "answer" {
		return
	}

	who := c.identity.CurrentUser()
	if who == nil || msg.Index == nil {
		h.reply(c, ErrorMessage{Type: "submission_error", Message: "malformed answer"})
		return
	}

	index := *msg.Index
	if h.resolved.Kind != view.KindQuestion || h.resolved.Index != index {
		h.reply(c, ErrorMessage{Type: "submission_error", Message: "that question is no longer live"})
		return
	}
	if !(model.Question{Answers: h.resolved.Answers}).HasAnswer(msg.AnswerID) {
		h.reply(c, ErrorMessage{Type: "submission_error", Message: "that is not one of the answers"})
		return
	}

	err := h.deps.Tally.SubmitLiveAnswer(h.ctx, h.id, index, who.ID, msg.AnswerID)
	switch {
	case errors.Is(err, tally.ErrNotLive):
		h.reply(c, ErrorMessage{Type: "submission_error", Message: "that question is no longer live"})
		return
	case errors.Is(err, tally.ErrUnknownAnswer):
		h.reply(c, ErrorMessage{Type: "submission_error", Message: "that is not one of the answers"})
		return
	case err != nil:
		h.log.WithError(err).WithField("participant", who.ID).Debug("SESSIONS: answer rejected")
		h.reply(c, ErrorMessage{Type: "submission_error", Message: "your answer was not recorded, please try again"})
		return
	}

	h.reply(c, AnswerAckMessage{Type: "answer_ack", Index: index, AnswerID: msg.AnswerID})
}

func (h *Hub) reply(c *Client, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c] {
		h.sendLocked(c, msg)
	}
}

// sendLocked drops clients that cannot keep up.
func (h *Hub) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcastLocked sends msg to every client, or only to the given roles.
func (h *Hub) broadcastLocked(msg any, roles ...Role) {
	for c := range h.clients {
		if len(roles) > 0 && !slices.Contains(roles, c.role) {
			continue
		}
		h.sendLocked(c, msg)
	}
}

func (h *Hub) idle(cutoff time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients) == 0 && h.lastActive.Before(cutoff)
}

func (h *Hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// close stops the run loop and waits for it to disconnect every client.
func (h *Hub) close() {
	h.cancel()
	<-h.done
}

func (h *Hub) shutdown() {
	h.tracker.Cancel()
	h.sessionSub.Cancel()
	if h.presetSub != nil {
		h.presetSub.Cancel()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}
