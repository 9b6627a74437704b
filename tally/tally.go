// Package tally records participants' answers and turns them into live
// per-answer counts. A participant has at most one response per question of
// a session: the response is stored under the participant's id, so a
// resubmission replaces the previous one.
package tally

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/Seednode/audiencebox/engine"
	"github.com/Seednode/audiencebox/model"
	"github.com/Seednode/audiencebox/presets"
	"github.com/Seednode/audiencebox/view"
)

var (
	ErrNotLive       = fmt.Errorf("question is not live: %w", model.ErrValidation)
	ErrUnknownAnswer = fmt.Errorf("unknown answer: %w", model.ErrValidation)
)

type Sessions interface {
	GetSession(ctx context.Context, id string) (model.Session, error)
	WatchSession(ctx context.Context, id string) (*docstore.Subscription[docstore.DocumentSnapshot], error)
	LiveQuestion(ctx context.Context, sessionID string) (int, model.Question, bool, error)
}

type Presets interface {
	Get(ctx context.Context, id string) (model.Preset, error)
	Watch(ctx context.Context, id string) (*docstore.Subscription[docstore.DocumentSnapshot], error)
}

// Tally is the response count for one question of a session. Counts has an
// entry for every answer of the question, zero or not.
type Tally struct {
	SessionID     string         `json:"sessionId"`
	QuestionIndex int            `json:"questionIndex"`
	QuestionID    string         `json:"questionId,omitempty"`
	Counts        map[string]int `json:"counts"`
	Total         int            `json:"total"`
}

// AnswerIDs returns the counted answer ids in a stable order.
func (t Tally) AnswerIDs() []string {
	ids := make([]string, 0, len(t.Counts))
	for id := range t.Counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Aggregator struct {
	docs     docstore.Store
	sessions Sessions
	presets  Presets
	now      func() time.Time
}

func New(docs docstore.Store, sessions Sessions, presetStore Presets) *Aggregator {
	return &Aggregator{
		docs:     docs,
		sessions: sessions,
		presets:  presetStore,
		now:      time.Now,
	}
}

// ResponsesPath is the collection holding the responses to one question.
func ResponsesPath(sessionID string, index int) docstore.Path {
	return docstore.Collection(string(engine.Collection), sessionID, "questions", strconv.Itoa(index), "responses")
}

func checkScope(sessionID string, index int) error {
	if sessionID == "" || strings.Contains(sessionID, "/") {
		return fmt.Errorf("session id %q: %w", sessionID, model.ErrValidation)
	}
	if index < 0 {
		return fmt.Errorf("question index %d: %w", index, model.ErrValidation)
	}
	return nil
}

// SubmitAnswer records participantID's answer to the question at index,
// replacing any earlier answer. It does not check that the question is live.
func (a *Aggregator) SubmitAnswer(ctx context.Context, sessionID string, index int, participantID, answerID string) error {
	if err := checkScope(sessionID, index); err != nil {
		return err
	}
	if participantID == "" || strings.Contains(participantID, "/") {
		return fmt.Errorf("participant id %q: %w", participantID, model.ErrValidation)
	}
	if answerID == "" {
		return fmt.Errorf("empty answer id: %w", model.ErrValidation)
	}

	fields, err := docstore.Encode(model.Response{
		ParticipantID: participantID,
		AnswerID:      answerID,
		SubmittedAt:   a.now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := a.docs.Set(ctx, ResponsesPath(sessionID, index), participantID, fields); err != nil {
		return fmt.Errorf("submit answer to %s/%d: %w: %w", sessionID, index, model.ErrSubmission, err)
	}
	return nil
}

// SubmitLiveAnswer records an answer only if index is the question on
// screen right now and answerID is one of its answers.
func (a *Aggregator) SubmitLiveAnswer(ctx context.Context, sessionID string, index int, participantID, answerID string) error {
	if err := checkScope(sessionID, index); err != nil {
		return err
	}

	live, q, ok, err := a.sessions.LiveQuestion(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("submit answer to %s/%d: %w", sessionID, index, err)
	}
	if !ok || live != index {
		return fmt.Errorf("question %d of session %s is not live: %w", index, sessionID, ErrNotLive)
	}
	if !q.HasAnswer(answerID) {
		return fmt.Errorf("answer %q to question %s: %w", answerID, q.ID, ErrUnknownAnswer)
	}

	return a.SubmitAnswer(ctx, sessionID, index, participantID, answerID)
}

func decodeResponses(docs []docstore.Document) []model.Response {
	out := make([]model.Response, 0, len(docs))
	for _, d := range docs {
		var r model.Response
		if err := d.Decode(&r); err != nil || r.AnswerID == "" {
			continue
		}
		if r.ParticipantID == "" {
			r.ParticipantID = d.ID
		}
		out = append(out, r)
	}
	return out
}

// Count tallies responses for the question at index of preset. Every answer
// of the question starts at zero; responses naming an answer that has since
// been removed are still counted under their id.
func Count(sessionID string, index int, preset *model.Preset, responses []model.Response) Tally {
	t := Tally{
		SessionID:     sessionID,
		QuestionIndex: index,
		Counts:        make(map[string]int),
	}

	if q, ok := view.QuestionAt(preset, index); ok {
		t.QuestionID = q.ID
		for _, id := range q.AnswerIDs() {
			t.Counts[id] = 0
		}
	}

	for _, r := range responses {
		t.Counts[r.AnswerID]++
		t.Total++
	}

	return t
}

func (a *Aggregator) presetOf(ctx context.Context, sessionID string) (model.Session, *model.Preset, error) {
	s, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, nil, err
	}

	p, err := a.presets.Get(ctx, s.PresetID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return s, nil, nil
	case err != nil:
		return model.Session{}, nil, err
	}
	return s, &p, nil
}

// Snapshot returns the current tally once.
func (a *Aggregator) Snapshot(ctx context.Context, sessionID string, index int) (Tally, error) {
	if err := checkScope(sessionID, index); err != nil {
		return Tally{}, err
	}

	_, p, err := a.presetOf(ctx, sessionID)
	if err != nil {
		return Tally{}, err
	}

	docs, err := a.docs.Query(ctx, ResponsesPath(sessionID, index), docstore.Filter{})
	if err != nil {
		return Tally{}, fmt.Errorf("tally %s/%d: %w", sessionID, index, err)
	}

	return Count(sessionID, index, p, decodeResponses(docs)), nil
}

// SubscribeTally delivers the tally for one question right away and again
// whenever a response or the session's preset changes, until cancelled.
func (a *Aggregator) SubscribeTally(ctx context.Context, sessionID string, index int) (*docstore.Subscription[Tally], error) {
	if err := checkScope(sessionID, index); err != nil {
		return nil, err
	}

	s, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)

	presetSub, err := a.presets.Watch(watchCtx, s.PresetID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch preset %s: %w", s.PresetID, err)
	}

	respSub, err := a.docs.WatchQuery(watchCtx, ResponsesPath(sessionID, index), docstore.Filter{})
	if err != nil {
		presetSub.Cancel()
		cancel()
		return nil, fmt.Errorf("watch responses %s/%d: %w", sessionID, index, err)
	}

	done := make(chan struct{})
	out := docstore.NewSubscription[Tally](ctx, func() {
		cancel()
		<-done
	})

	go func() {
		defer close(done)
		defer out.Close()
		defer respSub.Cancel()
		defer presetSub.Cancel()

		var (
			preset       *model.Preset
			responses    []model.Response
			havePreset   bool
			haveResponse bool
		)

		for {
			select {
			case <-watchCtx.Done():
				return
			case snap, ok := <-presetSub.C():
				if !ok {
					return
				}
				preset = presets.FromSnapshot(snap)
				havePreset = true
			case docs, ok := <-respSub.C():
				if !ok {
					return
				}
				responses = decodeResponses(docs)
				haveResponse = true
			}

			if havePreset && haveResponse {
				out.Send(Count(sessionID, index, preset, responses))
			}
		}
	}()

	return out, nil
}
