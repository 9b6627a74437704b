package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const MinAnswers = 2

type Answer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Answers []Answer `json:"answers"`
}

// Preset is a reusable, ordered list of questions owned by one director.
type Preset struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	OwnerID   string     `json:"ownerId"`
	Questions []Question `json:"questions"`
}

// Session is a live run of a preset. It references the preset rather than
// copying it, so preset edits show up in running sessions.
type Session struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PresetID      string    `json:"presetId"`
	DirectorID    string    `json:"directorId"`
	CurrentScreen Screen    `json:"currentScreen"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Response is one participant's answer to one question of a session. It is
// stored under the participant's id, so a resubmission replaces it.
type Response struct {
	ParticipantID string    `json:"participantId"`
	AnswerID      string    `json:"answerId"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Validate checks the question invariants: non-empty text, at least two
// answers, and unique non-empty answer ids.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("question %q has no text: %w", q.ID, ErrValidation)
	}
	if len(q.Answers) < MinAnswers {
		return fmt.Errorf("question %q needs at least %d answers: %w", q.ID, MinAnswers, ErrValidation)
	}

	seen := make(map[string]bool, len(q.Answers))
	for _, a := range q.Answers {
		if a.ID == "" {
			return fmt.Errorf("question %q has an answer without id: %w", q.ID, ErrValidation)
		}
		if seen[a.ID] {
			return fmt.Errorf("question %q has duplicate answer id %q: %w", q.ID, a.ID, ErrValidation)
		}
		seen[a.ID] = true
	}

	return nil
}

func (q Question) AnswerIDs() []string {
	ids := make([]string, 0, len(q.Answers))
	for _, a := range q.Answers {
		ids = append(ids, a.ID)
	}
	return ids
}

func (q Question) HasAnswer(id string) bool {
	for _, a := range q.Answers {
		if a.ID == id {
			return true
		}
	}
	return false
}

// NextAnswerID returns the first sequential id ("a1", "a2", ...) above every
// sequential id already used by the question.
func (q Question) NextAnswerID() string {
	highest := 0
	for _, a := range q.Answers {
		n, ok := sequentialAnswerNumber(a.ID)
		if ok && n > highest {
			highest = n
		}
	}
	return AnswerID(highest + 1)
}

func AnswerID(n int) string {
	return "a" + strconv.Itoa(n)
}

func sequentialAnswerNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "a")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// QuestionIndexByID returns the position of the question with the given id.
func (p Preset) QuestionIndexByID(id string) int {
	for i, q := range p.Questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}
