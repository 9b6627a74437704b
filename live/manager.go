package live

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Seednode/audiencebox/engine"
	"github.com/Seednode/audiencebox/identity"
	"github.com/Seednode/audiencebox/presets"
	"github.com/Seednode/audiencebox/tally"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Deps struct {
	Engine  *engine.Engine
	Presets *presets.Store
	Tally   *tally.Aggregator
	Log     logrus.FieldLogger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Manager holds one hub per session with connected clients, and reaps
// hubs that have had no clients for longer than idleTimeout.
type Manager struct {
	ctx  context.Context
	deps Deps

	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func NewManager(ctx context.Context, deps Deps, idleTimeout time.Duration) *Manager {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}

	m := &Manager{
		ctx:         ctx,
		deps:        deps,
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go m.reaperLoop()
	}
	return m
}

func (m *Manager) getHub(sessionID string) (*Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[sessionID]; ok && !hub.closed() {
		return hub, nil
	}

	hub, err := newHub(m.ctx, sessionID, m.deps)
	if err != nil {
		return nil, err
	}
	m.hubs[sessionID] = hub
	go hub.run()

	m.deps.Log.WithField("session", sessionID).Debug("SESSIONS: opened hub")

	return hub, nil
}

// Clients returns the number of clients connected to a session.
func (m *Manager) Clients(sessionID string) int {
	m.mu.Lock()
	hub, ok := m.hubs[sessionID]
	m.mu.Unlock()

	if !ok {
		return 0
	}
	return hub.clientCount()
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (m *Manager) reaperLoop() {
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.Close()
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-m.idleTimeout)

		m.mu.Lock()
		for id, hub := range m.hubs {
			if hub.closed() || hub.idle(cutoff) {
				delete(m.hubs, id)
				go hub.close()
			}
		}
		m.mu.Unlock()
	}
}

// Close disconnects every client of every hub.
func (m *Manager) Close() {
	m.mu.Lock()
	hubs := make([]*Hub, 0, len(m.hubs))
	for id, hub := range m.hubs {
		hubs = append(hubs, hub)
		delete(m.hubs, id)
	}
	m.mu.Unlock()

	for _, hub := range hubs {
		hub.close()
	}
}

// ServeWS upgrades the request and attaches the connection to the session's
// hub. Directors must already be authenticated and own the session; other
// roles get a fresh anonymous identity for the life of the connection.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string, role Role, director *identity.Identity) error {
	who := director
	if role != RoleDirector {
		who = identity.NewAnonymous()
	} else if who == nil {
		return fmt.Errorf("director connection without identity")
	}

	hub, err := m.getHub(sessionID)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.deps.Log.WithError(err).Debug("SERVE: websocket upgrade failed")
		return nil
	}

	client := &Client{
		conn:     conn,
		send:     make(chan any, 16),
		role:     role,
		identity: identity.NewHolder(who),
	}
	if role == RoleDirector {
		client.console = m.deps.Engine.Console(who.ID, sessionID)
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return nil
	}

	go client.writePump()
	client.readPump(hub)

	return nil
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch c.role {
		case RoleDirector, RoleParticipant:
		default:
			// projectors only listen
			continue
		}

		select {
		case h.requests <- request{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
