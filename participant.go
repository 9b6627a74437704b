/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Seednode/audiencebox/live"
	"github.com/Seednode/audiencebox/model"
	"github.com/Seednode/audiencebox/view"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320

type participantView struct {
	SessionID string        `json:"sessionId"`
	Name      string        `json:"name"`
	View      view.Resolved `json:"view"`
}

func (s *server) registerLive(prefix string, mux *httprouter.Router) {
	mux.GET(prefix+"/participant/:sessionid", s.logged("Participant view", s.serveParticipantView))
	mux.GET(prefix+"/participant/:sessionid/qr", s.logged("QR code", s.serveQR))
	mux.GET(prefix+"/participant/:sessionid/ws", s.logged("Participant socket", s.serveSocket(live.RoleParticipant)))
	mux.GET(prefix+"/projector/:sessionid/ws", s.logged("Projector socket", s.serveSocket(live.RoleProjector)))
	mux.GET(prefix+"/sessions/:sessionid/ws", s.logged("Director socket", s.requireDirector(s.serveSocket(live.RoleDirector))))
	mux.GET(prefix+"/director/ws", s.logged("Director directory", s.requireDirector(s.serveDirectory)))
}

// serveDirectory streams the director's preset and session lists.
func (s *server) serveDirectory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.live.ServeDirectory(w, r, director(r).ID); err != nil {
		httpError(s.log, w, r, err)
	}
}

// serveParticipantView answers with what a participant should render right
// now. Only an unknown session is an error; anything else that goes wrong
// resolves to waiting.
func (s *server) serveParticipantView(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, id := r.Context(), ps.ByName("sessionid")

	sess, err := s.engine.GetSession(ctx, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		httpError(s.log, w, r, err)
		return
	case err != nil:
		s.log.WithError(err).WithField("session", id).Warn("SERVE: participant view degraded to waiting")
		writeJSON(w, http.StatusOK, participantView{SessionID: id, View: view.Waiting})
		return
	}

	resolved, err := s.engine.PreviewScreen(ctx, id, sess.CurrentScreen)
	if err != nil {
		s.log.WithError(err).WithField("session", id).Warn("SERVE: participant view degraded to waiting")
		resolved = view.Waiting
	}

	writeJSON(w, http.StatusOK, participantView{SessionID: id, Name: sess.Name, View: resolved})
}

// joinURL is the address participants open to join a session.
func (s *server) joinURL(r *http.Request, sessionID string) string {
	origin := strings.TrimSuffix(s.cfg.publicURL, "/")
	if origin == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		switch proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); proto {
		case "http", "https":
			scheme = proto
		}
		origin = scheme + "://" + r.Host + strings.TrimSuffix(s.cfg.prefix, "/")
	}

	return origin + "/participant/" + sessionID
}

func (s *server) serveQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("sessionid")

	if _, err := s.engine.GetSession(r.Context(), id); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	png, err := qrcode.Encode(s.joinURL(r, id), qrcode.Medium, qrSize)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

// serveSocket attaches a websocket of the given role to the session's hub.
// Director sockets only open on sessions the director owns.
func (s *server) serveSocket(role live.Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx, id := r.Context(), ps.ByName("sessionid")

		var err error
		if role == live.RoleDirector {
			_, err = s.engine.GetOwnedSession(ctx, director(r).ID, id)
		} else {
			_, err = s.engine.GetSession(ctx, id)
		}
		if err != nil {
			httpError(s.log, w, r, err)
			return
		}

		if err := s.live.ServeWS(w, r, id, role, director(r)); err != nil {
			httpError(s.log, w, r, err)
		}
	}
}
