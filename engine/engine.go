/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package engine owns a session's screen pointer. Directors create sessions
// from their presets, preview candidate screens and commit them live; every
// commit is a single write of the currentScreen field.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/Seednode/audiencebox/model"
	"github.com/Seednode/audiencebox/presets"
	"github.com/Seednode/audiencebox/view"
	"github.com/sirupsen/logrus"
)

const Collection docstore.Path = "sessions"

type Engine struct {
	docs    docstore.Store
	presets *presets.Store
	log     logrus.FieldLogger
	now     func() time.Time
}

func New(docs docstore.Store, presetStore *presets.Store, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Engine{
		docs:    docs,
		presets: presetStore,
		log:     log,
		now:     time.Now,
	}
}

// CommitResult reports what was actually written. Degraded is set when the
// requested question no longer exists and Waiting was committed instead.
type CommitResult struct {
	Screen   model.Screen `json:"screen"`
	Degraded bool         `json:"degraded"`
	Warning  string       `json:"warning,omitempty"`
}

// Decode turns a stored document into a session.
func Decode(d docstore.Document) (model.Session, error) {
	var s model.Session
	if err := d.Decode(&s); err != nil {
		return model.Session{}, err
	}
	s.ID = d.ID
	return s, nil
}

// FromSnapshot decodes a watched session. It returns nil when the session
// is absent or unreadable.
func FromSnapshot(snap docstore.DocumentSnapshot) *model.Session {
	if !snap.Exists {
		return nil
	}
	s, err := Decode(snap.Document)
	if err != nil {
		return nil
	}
	return &s
}

// CreateSession starts a session on the Welcome screen. The preset must
// exist and belong to directorID.
func (e *Engine) CreateSession(ctx context.Context, presetID, directorID, name string) (model.Session, error) {
	if directorID == "" {
		return model.Session{}, fmt.Errorf("create session: director required: %w", model.ErrValidation)
	}

	p, err := e.presets.Get(ctx, presetID)
	if err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	if p.OwnerID != directorID {
		return model.Session{}, fmt.Errorf("create session on preset %s: %w", presetID, model.ErrPermission)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = p.Name
	}

	s := model.Session{
		Name:          name,
		PresetID:      presetID,
		DirectorID:    directorID,
		CurrentScreen: model.Welcome,
		CreatedAt:     e.now().UTC(),
	}

	fields, err := docstore.Encode(s)
	if err != nil {
		return model.Session{}, err
	}

	id, err := e.docs.Create(ctx, Collection, fields)
	if err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.ID = id

	e.log.WithFields(logrus.Fields{
		"session":  id,
		"preset":   presetID,
		"director": directorID,
	}).Info("SESSIONS: created session")

	return s, nil
}

func (e *Engine) GetSession(ctx context.Context, id string) (model.Session, error) {
	d, err := e.docs.Get(ctx, Collection, id)
	if err != nil {
		return model.Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	return Decode(d)
}

func (e *Engine) ownedSession(ctx context.Context, directorID, id string) (model.Session, error) {
	s, err := e.GetSession(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if s.DirectorID != directorID {
		return model.Session{}, fmt.Errorf("session %s: %w", id, model.ErrPermission)
	}
	return s, nil
}

// GetOwnedSession returns the session if directorID owns it.
func (e *Engine) GetOwnedSession(ctx context.Context, directorID, id string) (model.Session, error) {
	return e.ownedSession(ctx, directorID, id)
}

// ListSessions returns the sessions directorID owns, oldest first.
func (e *Engine) ListSessions(ctx context.Context, directorID string) ([]model.Session, error) {
	docs, err := e.docs.Query(ctx, Collection, docstore.Where("directorId", directorID))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]model.Session, 0, len(docs))
	for _, d := range docs {
		s, err := Decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DecodeAll decodes a list of session documents, skipping unreadable ones.
func DecodeAll(docs []docstore.Document) []model.Session {
	out := make([]model.Session, 0, len(docs))
	for _, d := range docs {
		s, err := Decode(d)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// WatchSessions delivers directorID's sessions, oldest first, now and after
// every change to any of them.
func (e *Engine) WatchSessions(ctx context.Context, directorID string) (*docstore.Subscription[[]docstore.Document], error) {
	if directorID == "" {
		return nil, fmt.Errorf("watch sessions: director required: %w", model.ErrValidation)
	}
	return e.docs.WatchQuery(ctx, Collection, docstore.Where("directorId", directorID))
}

func (e *Engine) WatchSession(ctx context.Context, id string) (*docstore.Subscription[docstore.DocumentSnapshot], error) {
	return e.docs.WatchDocument(ctx, Collection, id)
}

// DeleteSession removes the session document. Responses stay in the store
// but nothing can reach them once the session is gone.
func (e *Engine) DeleteSession(ctx context.Context, directorID, id string) error {
	_, err := e.ownedSession(ctx, directorID, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil
	case err != nil:
		return err
	}

	if err := e.docs.Delete(ctx, Collection, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	e.log.WithFields(logrus.Fields{"session": id, "director": directorID}).Info("SESSIONS: deleted session")

	return nil
}

// sessionPreset reads the preset a session references. A missing preset is
// not an error: its question screens all resolve to waiting.
func (e *Engine) sessionPreset(ctx context.Context, s model.Session) (*model.Preset, error) {
	p, err := e.presets.Get(ctx, s.PresetID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &p, nil
}

// PreviewScreen resolves a candidate screen against the session's current
// preset without writing anything.
func (e *Engine) PreviewScreen(ctx context.Context, sessionID string, screen model.Screen) (view.Resolved, error) {
	if !screen.Valid() {
		return view.Resolved{}, fmt.Errorf("preview %q: %w", screen, model.ErrValidation)
	}

	s, err := e.GetSession(ctx, sessionID)
	if err != nil {
		return view.Resolved{}, err
	}

	p, err := e.sessionPreset(ctx, s)
	if err != nil {
		return view.Resolved{}, err
	}

	return view.Resolve(screen, p), nil
}

// CommitScreen makes screen the live screen of the session. A question
// index outside the preset as it is now is committed as Waiting, and the
// result says so.
func (e *Engine) CommitScreen(ctx context.Context, directorID, sessionID string, screen model.Screen) (CommitResult, error) {
	if !screen.Valid() {
		return CommitResult{}, fmt.Errorf("commit %q: %w", screen, model.ErrValidation)
	}

	s, err := e.ownedSession(ctx, directorID, sessionID)
	if err != nil {
		return CommitResult{}, err
	}

	result := CommitResult{Screen: screen}

	if index, ok := screen.QuestionIndex(); ok {
		p, err := e.sessionPreset(ctx, s)
		if err != nil {
			return CommitResult{}, err
		}

		if _, ok := view.QuestionAt(p, index); !ok {
			count := 0
			if p != nil {
				count = len(p.Questions)
			}

			result = CommitResult{
				Screen:   model.Waiting,
				Degraded: true,
				Warning:  fmt.Sprintf("question %d is out of range (preset has %d questions), showing waiting screen", index, count),
			}

			e.log.WithFields(logrus.Fields{
				"session":   sessionID,
				"index":     index,
				"questions": count,
			}).Warn("SESSIONS: commit of out-of-range question degraded to waiting")
		}
	}

	fields, err := docstore.Field("currentScreen", result.Screen)
	if err != nil {
		return CommitResult{}, err
	}
	if err := e.docs.Update(ctx, Collection, sessionID, fields); err != nil {
		return CommitResult{}, fmt.Errorf("commit %s to session %s: %w", result.Screen, sessionID, err)
	}

	e.log.WithFields(logrus.Fields{"session": sessionID, "screen": result.Screen.String()}).Debug("SESSIONS: committed screen")

	return result, nil
}

// EndSession commits the End screen. The session and its responses stay.
func (e *Engine) EndSession(ctx context.Context, directorID, sessionID string) error {
	_, err := e.CommitScreen(ctx, directorID, sessionID, model.End)
	return err
}

// LiveQuestion returns the question currently on screen, if any.
func (e *Engine) LiveQuestion(ctx context.Context, sessionID string) (int, model.Question, bool, error) {
	s, err := e.GetSession(ctx, sessionID)
	if err != nil {
		return 0, model.Question{}, false, err
	}

	index, ok := s.CurrentScreen.QuestionIndex()
	if !ok {
		return 0, model.Question{}, false, nil
	}

	p, err := e.sessionPreset(ctx, s)
	if err != nil {
		return 0, model.Question{}, false, err
	}

	q, ok := view.QuestionAt(p, index)
	return index, q, ok, nil
}
