package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Seednode/audiencebox/docstore"
	"github.com/Seednode/audiencebox/model"
	"github.com/Seednode/audiencebox/presets"
	"github.com/Seednode/audiencebox/view"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// countingStore records the updates made to the wrapped store.
type countingStore struct {
	docstore.Store

	mu      sync.Mutex
	updates []docstore.Fields
}

func (c *countingStore) Update(ctx context.Context, coll docstore.Path, id string, fields docstore.Fields) error {
	c.mu.Lock()
	c.updates = append(c.updates, fields.Clone())
	c.mu.Unlock()

	return c.Store.Update(ctx, coll, id, fields)
}

func (c *countingStore) reset() {
	c.mu.Lock()
	c.updates = nil
	c.mu.Unlock()
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.updates)
}

type fixture struct {
	docs    *countingStore
	presets *presets.Store
	engine  *Engine
	hook    *test.Hook
	preset  model.Preset
}

func newFixture(t *testing.T, questions int) *fixture {
	t.Helper()

	mem := docstore.NewMemory()
	t.Cleanup(func() {
		_ = mem.Close()
	})

	docs := &countingStore{Store: mem}
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	ps := presets.New(docs)
	f := &fixture{
		docs:    docs,
		presets: ps,
		engine:  New(docs, ps, log),
		hook:    hook,
	}

	ctx := context.Background()
	p, err := ps.Create(ctx, "d1", "All hands")
	if err != nil {
		t.Fatalf("create preset: %v", err)
	}
	for i := 0; i < questions; i++ {
		if _, err := ps.AddQuestion(ctx, "d1", p.ID); err != nil {
			t.Fatalf("add question: %v", err)
		}
	}
	f.preset, err = ps.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get preset: %v", err)
	}

	return f
}

func (f *fixture) session(t *testing.T) model.Session {
	t.Helper()

	s, err := f.engine.CreateSession(context.Background(), f.preset.ID, "d1", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestCreateSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	now := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	f.engine.now = func() time.Time { return now }

	s := f.session(t)
	if s.CurrentScreen != model.Welcome {
		t.Fatalf("initial screen = %v, want welcome", s.CurrentScreen)
	}
	if s.Name != "All hands" {
		t.Fatalf("name = %q, want the preset name", s.Name)
	}

	got, err := f.engine.GetSession(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.DirectorID != "d1" || got.PresetID != f.preset.ID || !got.CreatedAt.Equal(now) {
		t.Fatalf("stored session = %+v", got)
	}
}

func TestCreateSessionChecksOwnership(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()

	if _, err := f.engine.CreateSession(ctx, f.preset.ID, "d2", "mine now"); !errors.Is(err, model.ErrPermission) {
		t.Fatalf("foreign preset = %v, want ErrPermission", err)
	}
	if _, err := f.engine.CreateSession(ctx, "missing", "d1", ""); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing preset = %v, want ErrNotFound", err)
	}

	list, err := f.engine.ListSessions(ctx, "d2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected create left %d sessions", len(list))
	}
}

func TestCommitScreenWritesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()
	s := f.session(t)
	f.docs.reset()

	res, err := f.engine.CommitScreen(ctx, "d1", s.ID, model.QuestionScreen(1))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Degraded || res.Screen != model.QuestionScreen(1) {
		t.Fatalf("result = %+v", res)
	}

	if n := f.docs.count(); n != 1 {
		t.Fatalf("updates = %d, want exactly 1", n)
	}
	if _, ok := f.docs.updates[0]["currentScreen"]; !ok || len(f.docs.updates[0]) != 1 {
		t.Fatalf("update fields = %v, want only currentScreen", f.docs.updates[0])
	}

	got, err := f.engine.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentScreen != model.QuestionScreen(1) {
		t.Fatalf("live screen = %v, want question:1", got.CurrentScreen)
	}
}

func TestCommitOutOfRangeDegradesToWaiting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()
	s := f.session(t)

	res, err := f.engine.CommitScreen(ctx, "d1", s.ID, model.QuestionScreen(5))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !res.Degraded || res.Screen != model.Waiting || res.Warning == "" {
		t.Fatalf("result = %+v, want degraded waiting with warning", res)
	}

	got, err := f.engine.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentScreen != model.Waiting {
		t.Fatalf("live screen = %v, want waiting", got.CurrentScreen)
	}

	warned := false
	for _, entry := range f.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Fatal("degraded commit was not logged as a warning")
	}
}

func TestCommitRejectsOtherDirectorsAndBadScreens(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()
	s := f.session(t)
	f.docs.reset()

	if _, err := f.engine.CommitScreen(ctx, "d2", s.ID, model.QuestionScreen(0)); !errors.Is(err, model.ErrPermission) {
		t.Fatalf("foreign commit = %v, want ErrPermission", err)
	}
	if _, err := f.engine.CommitScreen(ctx, "d1", s.ID, model.Screen{Kind: "bogus"}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("bogus screen = %v, want ErrValidation", err)
	}
	if _, err := f.engine.CommitScreen(ctx, "d1", "missing", model.Welcome); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing session = %v, want ErrNotFound", err)
	}
	if n := f.docs.count(); n != 0 {
		t.Fatalf("rejected commits wrote %d updates", n)
	}
}

func TestPreviewDoesNotWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()
	s := f.session(t)
	f.docs.reset()

	v, err := f.engine.PreviewScreen(ctx, s.ID, model.QuestionScreen(0))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if v.Kind != view.KindQuestion || v.QuestionID != f.preset.Questions[0].ID {
		t.Fatalf("preview = %+v", v)
	}

	v, err = f.engine.PreviewScreen(ctx, s.ID, model.QuestionScreen(9))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if v.Kind != view.KindWaiting {
		t.Fatalf("out of range preview = %v, want waiting", v.Kind)
	}

	if n := f.docs.count(); n != 0 {
		t.Fatalf("preview wrote %d updates", n)
	}
}

func TestEndSessionKeepsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()
	s := f.session(t)

	if err := f.engine.EndSession(ctx, "d1", s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	got, err := f.engine.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("get after end: %v", err)
	}
	if got.CurrentScreen != model.End {
		t.Fatalf("screen = %v, want end", got.CurrentScreen)
	}

	if _, err := f.engine.CommitScreen(ctx, "d1", s.ID, model.QuestionScreen(0)); err != nil {
		t.Fatalf("reopen after end: %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()
	s := f.session(t)

	if err := f.engine.DeleteSession(ctx, "d2", s.ID); !errors.Is(err, model.ErrPermission) {
		t.Fatalf("foreign delete = %v, want ErrPermission", err)
	}
	if err := f.engine.DeleteSession(ctx, "d1", s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.engine.DeleteSession(ctx, "d1", s.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := f.engine.GetSession(ctx, s.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestDeletedLiveQuestionResolvesToWaiting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()
	s := f.session(t)

	sub, err := f.engine.WatchSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()

	if _, err := f.engine.CommitScreen(ctx, "d1", s.ID, model.QuestionScreen(1)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := f.presets.DeleteQuestion(ctx, "d1", f.preset.ID, f.preset.Questions[1].ID); err != nil {
		t.Fatalf("delete question: %v", err)
	}

	live := FromSnapshot(<-sub.C())
	if live == nil || live.CurrentScreen != model.QuestionScreen(1) {
		t.Fatalf("live session = %+v, want question:1", live)
	}

	p, err := f.presets.Get(ctx, f.preset.ID)
	if err != nil {
		t.Fatalf("get preset: %v", err)
	}
	if v := view.Resolve(live.CurrentScreen, &p); v.Kind != view.KindWaiting {
		t.Fatalf("resolved = %v, want waiting", v.Kind)
	}

	_, _, ok, err := f.engine.LiveQuestion(ctx, s.ID)
	if err != nil {
		t.Fatalf("live question: %v", err)
	}
	if ok {
		t.Fatal("deleted question still reported as live")
	}
}

func TestMissingPresetResolvesToWaiting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()
	s := f.session(t)

	if err := f.presets.Delete(ctx, "d1", f.preset.ID); err != nil {
		t.Fatalf("delete preset: %v", err)
	}

	v, err := f.engine.PreviewScreen(ctx, s.ID, model.QuestionScreen(0))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if v.Kind != view.KindWaiting {
		t.Fatalf("preview = %v, want waiting", v.Kind)
	}

	res, err := f.engine.CommitScreen(ctx, "d1", s.ID, model.QuestionScreen(0))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !res.Degraded {
		t.Fatal("commit against a deleted preset should degrade")
	}
}

func TestConsoleStagesLocally(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()
	s := f.session(t)
	f.docs.reset()

	c := f.engine.Console("d1", s.ID)

	if _, err := c.Commit(ctx); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("commit with nothing staged = %v, want ErrValidation", err)
	}

	v, err := c.Preview(ctx)
	if err != nil {
		t.Fatalf("preview live: %v", err)
	}
	if v.Kind != view.KindWelcome {
		t.Fatalf("live preview = %v, want welcome", v.Kind)
	}

	if err := c.Stage(model.QuestionScreen(1)); err != nil {
		t.Fatalf("stage: %v", err)
	}
	v, err = c.Preview(ctx)
	if err != nil {
		t.Fatalf("preview staged: %v", err)
	}
	if v.Kind != view.KindQuestion || v.Index != 1 {
		t.Fatalf("staged preview = %+v", v)
	}
	if n := f.docs.count(); n != 0 {
		t.Fatalf("staging wrote %d updates", n)
	}

	res, err := c.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Screen != model.QuestionScreen(1) {
		t.Fatalf("committed %v, want question:1", res.Screen)
	}
	if staged, ok := c.Staged(); !ok || staged != model.QuestionScreen(1) {
		t.Fatalf("staged after commit = %v, %v", staged, ok)
	}
}

func TestWatchSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 1)
	first := f.session(t)

	if _, err := f.engine.WatchSessions(ctx, ""); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("watch without director error = %v, want ErrValidation", err)
	}

	sub, err := f.engine.WatchSessions(ctx, "d1")
	if err != nil {
		t.Fatalf("watch sessions: %v", err)
	}
	defer sub.Cancel()

	if got := DecodeAll(<-sub.C()); len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("initial list = %+v", got)
	}

	if err := f.engine.EndSession(ctx, "d1", first.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}

	select {
	case docs := <-sub.C():
		got := DecodeAll(docs)
		if len(got) != 1 || got[0].CurrentScreen != model.End {
			t.Fatalf("list after end = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session list")
	}
}
