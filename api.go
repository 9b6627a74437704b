package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Seednode/audiencebox/model"
	"github.com/julienschmidt/httprouter"
)

type presetRequest struct {
	Name string `json:"name"`
}

type questionRequest struct {
	Text    string         `json:"text"`
	Answers []model.Answer `json:"answers"`
}

type orderRequest struct {
	Order []string `json:"order"`
}

type sessionRequest struct {
	PresetID string `json:"presetId"`
	Name     string `json:"name"`
}

type screenRequest struct {
	Screen model.Screen `json:"screen"`
}

func (s *server) registerPresetAPI(prefix string, mux *httprouter.Router) {
	api := func(name string, h httprouter.Handle) httprouter.Handle {
		return s.logged(name, s.requireDirector(h))
	}

	mux.GET(prefix+"/api/presets", api("List presets", s.listPresets))
	mux.POST(prefix+"/api/presets", api("Create preset", s.createPreset))
	mux.GET(prefix+"/api/presets/:id", api("Get preset", s.getPreset))
	mux.PATCH(prefix+"/api/presets/:id", api("Rename preset", s.renamePreset))
	mux.DELETE(prefix+"/api/presets/:id", api("Delete preset", s.deletePreset))
	mux.POST(prefix+"/api/presets/:id/questions", api("Add question", s.addQuestion))
	mux.PUT(prefix+"/api/presets/:id/questions/:qid", api("Edit question", s.editQuestion))
	mux.DELETE(prefix+"/api/presets/:id/questions/:qid", api("Delete question", s.deleteQuestion))
	mux.PUT(prefix+"/api/presets/:id/order", api("Reorder questions", s.reorderQuestions))
}

func (s *server) registerSessionAPI(prefix string, mux *httprouter.Router) {
	api := func(name string, h httprouter.Handle) httprouter.Handle {
		return s.logged(name, s.requireDirector(h))
	}

	mux.GET(prefix+"/api/sessions", api("List sessions", s.listSessions))
	mux.POST(prefix+"/api/sessions", api("Create session", s.createSession))
	mux.GET(prefix+"/api/sessions/:id", api("Get session", s.getSession))
	mux.DELETE(prefix+"/api/sessions/:id", api("Delete session", s.deleteSession))
	mux.POST(prefix+"/api/sessions/:id/preview", api("Preview screen", s.previewScreen))
	mux.POST(prefix+"/api/sessions/:id/commit", api("Commit screen", s.commitScreen))
	mux.POST(prefix+"/api/sessions/:id/end", api("End session", s.endSession))
	mux.GET(prefix+"/api/sessions/:id/tally/:index", api("Tally", s.sessionTally))
}

func (s *server) listPresets(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list, err := s.presets.List(r.Context(), director(r).ID)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) createPreset(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req presetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	p, err := s.presets.Create(r.Context(), director(r).ID, req.Name)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) getPreset(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, err := s.presets.GetOwned(r.Context(), director(r).ID, ps.ByName("id"))
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) renamePreset(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req presetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	ctx, who, id := r.Context(), director(r), ps.ByName("id")
	if err := s.presets.Rename(ctx, who.ID, id, req.Name); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	p, err := s.presets.GetOwned(ctx, who.ID, id)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) deletePreset(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.presets.Delete(r.Context(), director(r).ID, ps.ByName("id")); err != nil {
		httpError(s.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) addQuestion(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q, err := s.presets.AddQuestion(r.Context(), director(r).ID, ps.ByName("id"))
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *server) editQuestion(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req questionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	q, err := s.presets.EditQuestion(r.Context(), director(r).ID, ps.ByName("id"), ps.ByName("qid"), req.Text, req.Answers)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *server) deleteQuestion(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.presets.DeleteQuestion(r.Context(), director(r).ID, ps.ByName("id"), ps.ByName("qid")); err != nil {
		httpError(s.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) reorderQuestions(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req orderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	ctx, who, id := r.Context(), director(r), ps.ByName("id")
	if err := s.presets.ReorderQuestions(ctx, who.ID, id, req.Order); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	p, err := s.presets.GetOwned(ctx, who.ID, id)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list, err := s.engine.ListSessions(r.Context(), director(r).ID)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	sess, err := s.engine.CreateSession(r.Context(), req.PresetID, director(r).ID, req.Name)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, err := s.engine.GetOwnedSession(r.Context(), director(r).ID, ps.ByName("id"))
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) deleteSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.engine.DeleteSession(r.Context(), director(r).ID, ps.ByName("id")); err != nil {
		httpError(s.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) previewScreen(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req screenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	ctx, id := r.Context(), ps.ByName("id")
	if _, err := s.engine.GetOwnedSession(ctx, director(r).ID, id); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	resolved, err := s.engine.PreviewScreen(ctx, id, req.Screen)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *server) commitScreen(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req screenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	result, err := s.engine.CommitScreen(r.Context(), director(r).ID, ps.ByName("id"), req.Screen)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) endSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.engine.EndSession(r.Context(), director(r).ID, ps.ByName("id")); err != nil {
		httpError(s.log, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) sessionTally(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	index, err := strconv.Atoi(ps.ByName("index"))
	if err != nil || index < 0 {
		httpError(s.log, w, r, fmt.Errorf("question index %q: %w", ps.ByName("index"), model.ErrValidation))
		return
	}

	ctx, id := r.Context(), ps.ByName("id")
	if _, err := s.engine.GetOwnedSession(ctx, director(r).ID, id); err != nil {
		httpError(s.log, w, r, err)
		return
	}

	t, err := s.tally.Snapshot(ctx, id, index)
	if err != nil {
		httpError(s.log, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
