package live

import (
	"context"
	"net/http"

	"github.com/Seednode/audiencebox/engine"
	"github.com/Seednode/audiencebox/presets"
)

// ServeDirectory upgrades the request and streams the director's presets
// and sessions, resending a list whenever anything in it changes. Clients
// never send on this connection; reading only notices when it closes.
func (m *Manager) ServeDirectory(w http.ResponseWriter, r *http.Request, directorID string) error {
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	presetSub, err := m.deps.Presets.WatchOwned(ctx, directorID)
	if err != nil {
		return err
	}
	defer presetSub.Cancel()

	sessionSub, err := m.deps.Engine.WatchSessions(ctx, directorID)
	if err != nil {
		return err
	}
	defer sessionSub.Cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.deps.Log.WithError(err).Debug("SERVE: websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	log := m.deps.Log.WithField("director", directorID)
	log.Debug("SESSIONS: directory connected")
	defer log.Debug("SESSIONS: directory disconnected")

	for {
		var msg any

		select {
		case <-ctx.Done():
			return nil
		case docs, ok := <-presetSub.C():
			if !ok {
				return nil
			}
			msg = PresetListMessage{Type: "presets", Presets: presets.DecodeAll(docs)}
		case docs, ok := <-sessionSub.C():
			if !ok {
				return nil
			}
			msg = SessionListMessage{Type: "sessions", Sessions: engine.DecodeAll(docs)}
		}

		if err := conn.WriteJSON(msg); err != nil {
			return nil
		}
	}
}
