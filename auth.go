package main

import (
	"net/http"
	"strings"

	"github.com/Seednode/audiencebox/identity"
	"github.com/julienschmidt/httprouter"
)

const tokenCookie = "audiencebox_token"

// bearerToken finds a director token in the Authorization header, the
// token cookie, or (for websocket upgrades, which cannot set headers) the
// token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// requireDirector rejects requests without a valid director token and
// stores the director on the request context.
func (s *server) requireDirector(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tok := bearerToken(r)
		if tok == "" {
			httpError(s.log, w, r, identity.ErrInvalidToken)
			return
		}

		who, err := s.issuer.Parse(tok)
		if err != nil {
			httpError(s.log, w, r, err)
			return
		}

		next(w, r.WithContext(identity.WithIdentity(r.Context(), who)), ps)
	}
}

// director returns the authenticated director. Only valid behind
// requireDirector.
func director(r *http.Request) *identity.Identity {
	who, _ := identity.FromContext(r.Context())
	return who
}
