package presets

import (
	"context"
	"fmt"
	"strings"

	"github.com/Seednode/audiencebox/model"
)

// AddQuestion appends a question with the default text and answers.
func (s *Store) AddQuestion(ctx context.Context, ownerID, presetID string) (model.Question, error) {
	p, err := s.GetOwned(ctx, ownerID, presetID)
	if err != nil {
		return model.Question{}, err
	}

	q := model.Question{
		ID:      s.newQuestionID(s.now()),
		Text:    DefaultQuestionText,
		Answers: DefaultAnswers(),
	}
	for p.QuestionIndexByID(q.ID) >= 0 {
		q.ID = s.newQuestionID(s.now())
	}

	questions := append(p.Questions, q)
	if err := s.writeQuestions(ctx, presetID, questions); err != nil {
		return model.Question{}, err
	}
	return q, nil
}

// EditQuestion replaces a question's text and answers. Answers that keep
// their id keep their tallies; answers with an empty id are new and get the
// next unused sequential id.
func (s *Store) EditQuestion(ctx context.Context, ownerID, presetID, questionID, text string, answers []model.Answer) (model.Question, error) {
	p, err := s.GetOwned(ctx, ownerID, presetID)
	if err != nil {
		return model.Question{}, err
	}

	i := p.QuestionIndexByID(questionID)
	if i < 0 {
		return model.Question{}, fmt.Errorf("question %s in preset %s: %w", questionID, presetID, model.ErrNotFound)
	}

	q := model.Question{
		ID:      questionID,
		Text:    strings.TrimSpace(text),
		Answers: make([]model.Answer, 0, len(answers)),
	}

	// New ids continue past every id in use before or after the edit.
	seed := model.Question{Answers: append(append([]model.Answer{}, p.Questions[i].Answers...), answers...)}
	for _, a := range answers {
		a.Text = strings.TrimSpace(a.Text)
		if a.ID == "" {
			a.ID = seed.NextAnswerID()
			seed.Answers = append(seed.Answers, a)
		}
		q.Answers = append(q.Answers, a)
	}

	if err := q.Validate(); err != nil {
		return model.Question{}, err
	}

	p.Questions[i] = q
	if err := s.writeQuestions(ctx, presetID, p.Questions); err != nil {
		return model.Question{}, err
	}
	return q, nil
}

func (s *Store) DeleteQuestion(ctx context.Context, ownerID, presetID, questionID string) error {
	p, err := s.GetOwned(ctx, ownerID, presetID)
	if err != nil {
		return err
	}

	i := p.QuestionIndexByID(questionID)
	if i < 0 {
		return fmt.Errorf("question %s in preset %s: %w", questionID, presetID, model.ErrNotFound)
	}

	questions := append(p.Questions[:i:i], p.Questions[i+1:]...)
	return s.writeQuestions(ctx, presetID, questions)
}

// ReorderQuestions puts the questions in the order of the given ids, which
// must name every question exactly once.
func (s *Store) ReorderQuestions(ctx context.Context, ownerID, presetID string, order []string) error {
	p, err := s.GetOwned(ctx, ownerID, presetID)
	if err != nil {
		return err
	}

	if len(order) != len(p.Questions) {
		return fmt.Errorf("reorder preset %s: got %d ids for %d questions: %w", presetID, len(order), len(p.Questions), model.ErrValidation)
	}

	byID := make(map[string]model.Question, len(p.Questions))
	for _, q := range p.Questions {
		byID[q.ID] = q
	}

	questions := make([]model.Question, 0, len(order))
	for _, id := range order {
		q, ok := byID[id]
		if !ok {
			return fmt.Errorf("reorder preset %s: unknown or repeated question %q: %w", presetID, id, model.ErrValidation)
		}
		delete(byID, id)
		questions = append(questions, q)
	}

	return s.writeQuestions(ctx, presetID, questions)
}
