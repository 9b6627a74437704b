/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/julienschmidt/httprouter"
)

func (s *server) serveHomePage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	prefix := strings.TrimSuffix(s.cfg.prefix, "/")

	var body strings.Builder
	body.WriteString("audiencebox v" + releaseVersion)
	body.WriteString(fmt.Sprintf(" | participants join at %s/participant/&lt;session&gt;", prefix))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(newPage("audiencebox", body.String())))
}

func (s *server) serveHealthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	_, err := s.docs.Get(r.Context(), "healthz", "ping")
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Unavailable\n"))

		s.log.WithError(err).Warn("SERVE: health check failed")

		return
	}

	_, _ = w.Write([]byte("Ok\n"))
}

func (s *server) serveRobots(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	data := `User-agent: *
Disallow: /api/
Disallow: /participant/
Disallow: /projector/
Disallow: /sessions/`

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	_, _ = w.Write([]byte(data))
}
