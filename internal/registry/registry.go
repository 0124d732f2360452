// Package registry owns the set of conversation sessions, one per character,
// together with their list summaries and the active selection.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/character-chat/internal/model"
	"github.com/capitalize-ai/character-chat/internal/session"
	"github.com/capitalize-ai/character-chat/internal/summary"
	"github.com/capitalize-ai/character-chat/pkg/logger"
)

// Entry pairs a session with its summary view. The two are created, stored
// and removed together.
type Entry struct {
	Session *session.Session
	View    *summary.View

	unwire func()
}

// Character returns the entry's character.
func (e *Entry) Character() *model.Character {
	return e.Session.Character()
}

// Registry holds sessions keyed by character identity, in insertion order.
// All mutations are serialized.
type Registry struct {
	completer session.Completer
	base      *logger.Logger
	logger    *logger.Logger

	mu      sync.Mutex
	entries []*Entry
	index   map[*model.Character]*Entry
	active  *Entry
}

// New creates an empty registry whose sessions use completer.
func New(completer session.Completer, log *logger.Logger) *Registry {
	base := logger.OrGlobal(log)
	return &Registry{
		completer: completer,
		base:      base,
		logger:    base.Component("registry"),
		index:     make(map[*model.Character]*Entry),
	}
}

// Init adds one entry per character in order and returns the new entries.
// Nil and repeated characters are skipped.
// Every session starts hidden and nothing is selected.
func (r *Registry) Init(characters []*model.Character) []*Entry {
	out := make([]*Entry, 0, len(characters))
	for _, c := range characters {
		if c == nil {
			r.logger.Warn("skipping empty character slot")
			continue
		}
		e, added, err := r.Add(c)
		if err != nil || !added {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Add creates, initializes and stores a session and summary for c. If c is
// already registered the existing entry is returned with added=false.
// Initialization problems (missing model, unreachable backend) are logged and
// leave the entry in place.
func (r *Registry) Add(c *model.Character) (e *Entry, added bool, err error) {
	if c == nil {
		return nil, false, &model.ConfigurationError{Reason: "no character assigned"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.index[c]; ok {
		return existing, false, nil
	}

	s := session.New(c, r.completer, r.base)
	if err := s.Initialize(); err != nil {
		r.logger.Warn("session initialized with errors",
			zap.String("character", c.Name()),
			zap.Error(err),
		)
	}

	view := summary.New(s)
	e = &Entry{
		Session: s,
		View:    view,
		unwire: s.OnMessageUpdated(func(session.MessageUpdated) {
			view.Refresh()
		}),
	}
	s.Hide()

	r.entries = append(r.entries, e)
	r.index[c] = e

	r.logger.Info("session added",
		zap.String("character", c.Name()),
		zap.String("session_id", s.ID()),
	)
	return e, true, nil
}

// Remove tears down c's session. When it was active, the first remaining
// session becomes active, or nothing when the registry is now empty.
// Returns false when c is not registered.
func (r *Registry) Remove(c *model.Character) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[c]
	if !ok {
		return false
	}

	for i, cur := range r.entries {
		if cur == e {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			break
		}
	}
	delete(r.index, c)

	e.unwire()
	e.Session.Teardown()
	e.View.Dispose()

	if r.active == e {
		r.active = nil
		if len(r.entries) > 0 {
			r.activate(r.entries[0])
		}
	}

	r.logger.Info("session removed", zap.String("character", c.Name()))
	return true
}

// Select makes c's session the only visible one. Selecting the active session
// does nothing.
func (r *Registry) Select(c *model.Character) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[c]
	if !ok {
		return notFound(c)
	}
	if r.active == e {
		return nil
	}

	r.activate(e)
	r.logger.Debug("session selected", zap.String("character", c.Name()))
	return nil
}

// Hide hides c's session; if it was active, nothing is selected afterwards.
func (r *Registry) Hide(c *model.Character) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[c]
	if !ok {
		return notFound(c)
	}

	e.Session.Hide()
	if r.active == e {
		r.active = nil
	}
	return nil
}

func (r *Registry) activate(e *Entry) {
	if r.active != nil {
		r.active.Session.Hide()
	}
	e.Session.Show()
	r.active = e
}

// Lookup returns c's entry.
func (r *Registry) Lookup(c *model.Character) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.index[c]
	return e, ok
}

// FindByName returns the first entry whose character is named name.
func (r *Registry) FindByName(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Session.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Entries returns the entries in insertion order.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Entry(nil), r.entries...)
}

// Active returns the selected entry, or nil.
func (r *Registry) Active() *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close tears down every session and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.index = make(map[*model.Character]*Entry)
	r.active = nil
	r.mu.Unlock()

	for _, e := range entries {
		e.unwire()
		e.Session.Teardown()
		e.View.Dispose()
	}
}

func notFound(c *model.Character) error {
	name := ""
	if c != nil {
		name = c.Name()
	}
	return &model.NotFoundError{Kind: "session", Name: name}
}
