// Package presets stores directors' question lists. Every mutation checks
// that the caller owns the preset before writing.
package presets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/Seednode/audiencebox/model"
	"github.com/google/uuid"
)

const Collection docstore.Path = "presets"

const (
	DefaultQuestionText = "New question"
	DefaultPresetName   = "Untitled preset"
)

// DefaultAnswers are the answers a newly added question starts with.
func DefaultAnswers() []model.Answer {
	return []model.Answer{
		{ID: model.AnswerID(1), Text: "Yes"},
		{ID: model.AnswerID(2), Text: "No"},
	}
}

type Store struct {
	docs          docstore.Store
	now           func() time.Time
	newQuestionID func(time.Time) string
}

func New(docs docstore.Store) *Store {
	return &Store{
		docs:          docs,
		now:           time.Now,
		newQuestionID: questionID,
	}
}

func questionID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// Decode turns a stored document into a preset.
func Decode(d docstore.Document) (model.Preset, error) {
	var p model.Preset
	if err := d.Decode(&p); err != nil {
		return model.Preset{}, err
	}
	p.ID = d.ID
	if p.Questions == nil {
		p.Questions = []model.Question{}
	}
	return p, nil
}

// FromSnapshot decodes a watched preset. It returns nil when the preset is
// absent or unreadable, which callers treat as an empty preset.
func FromSnapshot(snap docstore.DocumentSnapshot) *model.Preset {
	if !snap.Exists {
		return nil
	}
	p, err := Decode(snap.Document)
	if err != nil {
		return nil
	}
	return &p
}

func (s *Store) Create(ctx context.Context, ownerID, name string) (model.Preset, error) {
	if ownerID == "" {
		return model.Preset{}, fmt.Errorf("create preset: owner required: %w", model.ErrValidation)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultPresetName
	}

	p := model.Preset{
		Name:      name,
		OwnerID:   ownerID,
		Questions: []model.Question{},
	}

	fields, err := docstore.Encode(p)
	if err != nil {
		return model.Preset{}, err
	}

	id, err := s.docs.Create(ctx, Collection, fields)
	if err != nil {
		return model.Preset{}, fmt.Errorf("create preset: %w", err)
	}
	p.ID = id

	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Preset, error) {
	d, err := s.docs.Get(ctx, Collection, id)
	if err != nil {
		return model.Preset{}, fmt.Errorf("preset %s: %w", id, err)
	}
	return Decode(d)
}

// GetOwned returns the preset if ownerID owns it.
func (s *Store) GetOwned(ctx context.Context, ownerID, id string) (model.Preset, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return model.Preset{}, err
	}
	if p.OwnerID != ownerID {
		return model.Preset{}, fmt.Errorf("preset %s: %w", id, model.ErrPermission)
	}
	return p, nil
}

// DecodeAll decodes a list of preset documents, skipping unreadable ones.
func DecodeAll(docs []docstore.Document) []model.Preset {
	out := make([]model.Preset, 0, len(docs))
	for _, d := range docs {
		p, err := Decode(d)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *Store) List(ctx context.Context, ownerID string) ([]model.Preset, error) {
	docs, err := s.docs.Query(ctx, Collection, docstore.Where("ownerId", ownerID))
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}

	out := make([]model.Preset, 0, len(docs))
	for _, d := range docs {
		p, err := Decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// WatchOwned delivers ownerID's presets, oldest first, now and after every
// change to any of them. Decode the documents with DecodeAll.
func (s *Store) WatchOwned(ctx context.Context, ownerID string) (*docstore.Subscription[[]docstore.Document], error) {
	if ownerID == "" {
		return nil, fmt.Errorf("watch presets: owner required: %w", model.ErrValidation)
	}
	return s.docs.WatchQuery(ctx, Collection, docstore.Where("ownerId", ownerID))
}

func (s *Store) Watch(ctx context.Context, id string) (*docstore.Subscription[docstore.DocumentSnapshot], error) {
	return s.docs.WatchDocument(ctx, Collection, id)
}

func (s *Store) Rename(ctx context.Context, ownerID, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("rename preset %s: empty name: %w", id, model.ErrValidation)
	}

	if _, err := s.GetOwned(ctx, ownerID, id); err != nil {
		return err
	}

	fields, err := docstore.Field("name", name)
	if err != nil {
		return err
	}
	return s.docs.Update(ctx, Collection, id, fields)
}

// Delete removes the preset. Sessions started from it resolve their
// question screens to waiting from then on.
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	_, err := s.GetOwned(ctx, ownerID, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil
	case err != nil:
		return err
	}

	return s.docs.Delete(ctx, Collection, id)
}

func (s *Store) writeQuestions(ctx context.Context, id string, questions []model.Question) error {
	fields, err := docstore.Field("questions", questions)
	if err != nil {
		return err
	}
	if err := s.docs.Update(ctx, Collection, id, fields); err != nil {
		return fmt.Errorf("preset %s: %w", id, err)
	}
	return nil
}
