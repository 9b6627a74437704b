/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ScreenKind string

const (
	KindQuestion ScreenKind = "question"
	KindWelcome  ScreenKind = "welcome"
	KindWaiting  ScreenKind = "waiting"
	KindResults  ScreenKind = "results"
	KindEnd      ScreenKind = "end"
)

// Legacy integer encodings of the sentinel screens.
const (
	legacyWaiting = -1
	legacyResults = -2
	legacyEnd     = -3
	legacyWelcome = -4
)

// Screen is what the projector and participants are currently shown: either a
// question of the session's preset, or one of the sentinel pseudo-screens.
// Index is only meaningful when Kind is KindQuestion.
type Screen struct {
	Kind  ScreenKind
	Index int
}

var (
	Welcome = Screen{Kind: KindWelcome}
	Waiting = Screen{Kind: KindWaiting}
	Results = Screen{Kind: KindResults}
	End     = Screen{Kind: KindEnd}
)

// QuestionScreen returns the screen showing preset.questions[index].
func QuestionScreen(index int) Screen {
	return Screen{Kind: KindQuestion, Index: index}
}

// QuestionIndex reports the question index if s is a question screen.
func (s Screen) QuestionIndex() (int, bool) {
	if s.Kind != KindQuestion {
		return 0, false
	}
	return s.Index, true
}

func (s Screen) IsSentinel() bool {
	switch s.Kind {
	case KindWelcome, KindWaiting, KindResults, KindEnd:
		return true
	}
	return false
}

func (s Screen) Valid() bool {
	return s.Kind == KindQuestion || s.IsSentinel()
}

func (s Screen) String() string {
	if s.Kind == KindQuestion {
		return "question:" + strconv.Itoa(s.Index)
	}
	return string(s.Kind)
}

// ParseScreen accepts the forms produced by String ("welcome", "question:2")
// as well as a bare question index ("2").
func ParseScreen(v string) (Screen, error) {
	v = strings.ToLower(strings.TrimSpace(v))

	if n, err := strconv.Atoi(v); err == nil {
		return QuestionScreen(n), nil
	}

	if rest, ok := strings.CutPrefix(v, "question:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return Screen{}, fmt.Errorf("screen %q: %w", v, ErrValidation)
		}
		return QuestionScreen(n), nil
	}

	s := Screen{Kind: ScreenKind(v)}
	if !s.IsSentinel() {
		return Screen{}, fmt.Errorf("screen %q: %w", v, ErrValidation)
	}
	return s, nil
}

type screenJSON struct {
	Kind  ScreenKind `json:"kind"`
	Index *int       `json:"index,omitempty"`
}

func (s Screen) MarshalJSON() ([]byte, error) {
	out := screenJSON{Kind: s.Kind}
	if s.Kind == KindQuestion {
		idx := s.Index
		out.Index = &idx
	}
	return json.Marshal(out)
}

func (s *Screen) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	// Older session documents stored a plain integer with negative sentinels.
	if len(data) > 0 && data[0] != '{' {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("screen: %w", ErrValidation)
		}
		*s = fromLegacy(n)
		return nil
	}

	var in screenJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("screen: %w", ErrValidation)
	}

	out := Screen{Kind: in.Kind}
	if in.Kind == KindQuestion {
		if in.Index == nil {
			return fmt.Errorf("question screen without index: %w", ErrValidation)
		}
		out.Index = *in.Index
	}
	if !out.Valid() {
		return fmt.Errorf("screen kind %q: %w", in.Kind, ErrValidation)
	}

	*s = out
	return nil
}

func fromLegacy(n int) Screen {
	switch n {
	case legacyWaiting:
		return Waiting
	case legacyResults:
		return Results
	case legacyEnd:
		return End
	case legacyWelcome:
		return Welcome
	}
	if n < 0 {
		return Waiting
	}
	return QuestionScreen(n)
}
