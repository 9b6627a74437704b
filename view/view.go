// Package view resolves a session's live screen pointer into the content the
// participant and projector clients render. Both clients use the same
// resolution so they can never disagree about what is live.
package view

import (
	"encoding/json"

	"github.com/Seednode/audiencebox/model"
)

type Kind string

const (
	KindQuestion Kind = "question"
	KindWaiting  Kind = "waiting"
	KindWelcome  Kind = "welcome"
	KindResults  Kind = "results"
	KindEnd      Kind = "end"
)

// Resolved is the rendering-independent content of a screen. Text, Answers
// and Index are only set for KindQuestion.
type Resolved struct {
	Kind       Kind           `json:"kind"`
	Index      int            `json:"index,omitempty"`
	QuestionID string         `json:"questionId,omitempty"`
	Text       string         `json:"text,omitempty"`
	Answers    []model.Answer `json:"answers,omitempty"`
}

type resolvedJSON struct {
	Kind       Kind           `json:"kind"`
	Index      *int           `json:"index,omitempty"`
	QuestionID string         `json:"questionId,omitempty"`
	Text       string         `json:"text,omitempty"`
	Answers    []model.Answer `json:"answers,omitempty"`
}

// MarshalJSON always writes the index of a question view, including 0,
// since answers must name the index they were given for.
func (r Resolved) MarshalJSON() ([]byte, error) {
	out := resolvedJSON{
		Kind:       r.Kind,
		QuestionID: r.QuestionID,
		Text:       r.Text,
		Answers:    r.Answers,
	}
	if r.Kind == KindQuestion {
		idx := r.Index
		out.Index = &idx
	}
	return json.Marshal(out)
}

// Waiting is what any client shows when there is nothing valid to render.
var Waiting = Resolved{Kind: KindWaiting}

// QuestionAt is the bounds-checked accessor for preset questions. Every
// caller that turns an index into a question goes through here.
func QuestionAt(preset *model.Preset, index int) (model.Question, bool) {
	if preset == nil || index < 0 || index >= len(preset.Questions) {
		return model.Question{}, false
	}
	return preset.Questions[index], true
}

// Resolve maps a screen and the preset as currently known to a view. It has
// no side effects and never fails: anything it cannot resolve is Waiting.
func Resolve(screen model.Screen, preset *model.Preset) Resolved {
	switch screen.Kind {
	case model.KindWelcome:
		return Resolved{Kind: KindWelcome}
	case model.KindResults:
		return Resolved{Kind: KindResults}
	case model.KindEnd:
		return Resolved{Kind: KindEnd}
	case model.KindQuestion:
		q, ok := QuestionAt(preset, screen.Index)
		if !ok {
			return Waiting
		}

		answers := make([]model.Answer, len(q.Answers))
		copy(answers, q.Answers)

		return Resolved{
			Kind:       KindQuestion,
			Index:      screen.Index,
			QuestionID: q.ID,
			Text:       q.Text,
			Answers:    answers,
		}
	}

	return Waiting
}
