// Package service composes the session registry with the chat list surface.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/character-chat/internal/model"
	"github.com/capitalize-ai/character-chat/internal/registry"
	"github.com/capitalize-ai/character-chat/internal/session"
	"github.com/capitalize-ai/character-chat/internal/summary"
	"github.com/capitalize-ai/character-chat/pkg/logger"
	"github.com/capitalize-ai/character-chat/pkg/metrics"
)

const journalTimeout = 5 * time.Second

// Renderer shows chat list entries. Mount and Unmount are called while the
// list is locked, so the rendered list always matches the registry.
type Renderer interface {
	Mount(e *registry.Entry)
	Unmount(e *registry.Entry)
	Activated(e *registry.Entry)
}

// Journal records every message appended to any conversation.
type Journal interface {
	Record(ctx context.Context, character string, msg model.Message) error
}

// Option configures a ListController.
type Option func(*ListController)

// WithRenderer attaches a renderer.
func WithRenderer(r Renderer) Option {
	return func(c *ListController) { c.renderer = r }
}

// WithJournal attaches a message journal.
func WithJournal(j Journal) Option {
	return func(c *ListController) { c.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *ListController) {
		if l != nil {
			c.logger = l
		}
	}
}

// ListController is the composition root of the chat list. It owns the
// wiring between summaries, sessions, the renderer and the journal; all
// business rules live in the registry and the sessions.
type ListController struct {
	registry *registry.Registry
	renderer Renderer
	journal  Journal
	logger   *logger.Logger

	mu     sync.Mutex
	wiring map[*registry.Entry]func()
}

// NewListController creates a controller over reg.
func NewListController(reg *registry.Registry, opts ...Option) *ListController {
	c := &ListController{
		registry: reg,
		logger:   logger.Global(),
		wiring:   make(map[*registry.Entry]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Component("chatlist")
	return c
}

// Start registers characters in order and renders one entry per session.
func (c *ListController) Start(characters []*model.Character) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.registry.Init(characters) {
		c.wire(e)
	}

	c.logger.Info("chat list started", zap.Int("chats", c.registry.Len()))
}

// Add registers character and renders its entry. Adding a registered
// character returns its existing entry with added=false.
func (c *ListController) Add(character *model.Character) (*registry.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, added, err := c.registry.Add(character)
	if err != nil || !added {
		return e, added, err
	}
	c.wire(e)
	return e, true, nil
}

// Remove unrenders and tears down character's session.
func (c *ListController) Remove(character *model.Character) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.registry.Lookup(character)
	if !ok {
		return false
	}

	wasActive := c.registry.Active() == e
	c.unwire(e)
	if !c.registry.Remove(character) {
		return false
	}

	if wasActive && c.renderer != nil {
		if next := c.registry.Active(); next != nil {
			c.renderer.Activated(next)
		}
	}
	return true
}

// Select makes character's conversation the visible one.
func (c *ListController) Select(character *model.Character) error {
	if err := c.registry.Select(character); err != nil {
		return err
	}

	if c.renderer != nil {
		if e, ok := c.registry.Lookup(character); ok {
			c.renderer.Activated(e)
		}
	}
	return nil
}

// Hide hides character's conversation.
func (c *ListController) Hide(character *model.Character) error {
	return c.registry.Hide(character)
}

// Send routes text to character's session and returns the user message it
// appended.
func (c *ListController) Send(character *model.Character, text string) (model.Message, error) {
	e, ok := c.registry.Lookup(character)
	if !ok {
		return model.Message{}, &model.NotFoundError{Kind: "session", Name: nameOf(character)}
	}
	return e.Session.Send(text)
}

// FindByName returns the entry of the character called name.
func (c *ListController) FindByName(name string) (*registry.Entry, bool) {
	return c.registry.FindByName(name)
}

// Entries returns the list entries in display order.
func (c *ListController) Entries() []*registry.Entry {
	return c.registry.Entries()
}

// Active returns the selected entry, or nil.
func (c *ListController) Active() *registry.Entry {
	return c.registry.Active()
}

// Summaries returns the current list snapshots in display order.
func (c *ListController) Summaries() []model.Summary {
	entries := c.registry.Entries()
	out := make([]model.Summary, len(entries))
	for i, e := range entries {
		out[i] = e.View.Snapshot()
	}
	return out
}

// Stop unrenders every entry and tears down all sessions.
func (c *ListController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.registry.Entries() {
		c.unwire(e)
	}
	c.registry.Close()
	c.logger.Info("chat list stopped")
}

// wire must be called with c.mu held.
func (c *ListController) wire(e *registry.Entry) {
	character := e.Character()

	unsubs := []func(){
		e.View.OnSelected(func(summary.Source) {
			if err := c.Select(character); err != nil {
				c.logger.Warn("select failed", zap.String("character", character.Name()), zap.Error(err))
			}
		}),
	}
	if c.journal != nil {
		unsubs = append(unsubs, e.Session.OnMessageUpdated(func(ev session.MessageUpdated) {
			c.record(character, ev.Message)
		}))
	}

	c.wiring[e] = func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}

	if c.renderer != nil {
		c.renderer.Mount(e)
	}
}

// unwire must be called with c.mu held.
func (c *ListController) unwire(e *registry.Entry) {
	if unsub, ok := c.wiring[e]; ok {
		unsub()
		delete(c.wiring, e)
	}
	if c.renderer != nil {
		c.renderer.Unmount(e)
	}
}

func (c *ListController) record(character *model.Character, msg model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if err := c.journal.Record(ctx, character.Name(), msg); err != nil {
		metrics.JournalPublishErrors.Inc()
		c.logger.Warn("failed to journal message",
			zap.String("character", character.Name()),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

func nameOf(c *model.Character) string {
	if c == nil {
		return ""
	}
	return c.Name()
}
