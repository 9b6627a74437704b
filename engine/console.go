package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/Seednode/audiencebox/model"
	"github.com/Seednode/audiencebox/view"
)

// Console is one director's control surface for a session. The staged
// screen is local to the console and is never written to the store.
type Console struct {
	engine     *Engine
	directorID string
	sessionID  string

	mu     sync.Mutex
	staged *model.Screen
}

func (e *Engine) Console(directorID, sessionID string) *Console {
	return &Console{
		engine:     e,
		directorID: directorID,
		sessionID:  sessionID,
	}
}

func (c *Console) Stage(screen model.Screen) error {
	if !screen.Valid() {
		return fmt.Errorf("stage %q: %w", screen, model.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.staged = &screen
	return nil
}

func (c *Console) Staged() (model.Screen, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staged == nil {
		return model.Screen{}, false
	}
	return *c.staged, true
}

// Preview resolves the staged screen, or the live one if nothing is staged.
func (c *Console) Preview(ctx context.Context) (view.Resolved, error) {
	screen, ok := c.Staged()
	if !ok {
		s, err := c.engine.GetSession(ctx, c.sessionID)
		if err != nil {
			return view.Resolved{}, err
		}
		screen = s.CurrentScreen
	}

	return c.engine.PreviewScreen(ctx, c.sessionID, screen)
}

// Commit makes the staged screen live. The staged value is kept so a failed
// commit can be retried as is.
func (c *Console) Commit(ctx context.Context) (CommitResult, error) {
	screen, ok := c.Staged()
	if !ok {
		return CommitResult{}, fmt.Errorf("nothing staged for session %s: %w", c.sessionID, model.ErrValidation)
	}

	return c.engine.CommitScreen(ctx, c.directorID, c.sessionID, screen)
}
