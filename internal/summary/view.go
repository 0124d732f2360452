// Package summary derives the chat-list projection of a conversation.
package summary

import (
	"sync"

	"github.com/capitalize-ai/character-chat/internal/event"
	"github.com/capitalize-ai/character-chat/internal/model"
)

const (
	// Placeholder is shown for conversations without messages.
	Placeholder = "No messages yet"

	// MaxPreviewLength is the preview length in runes before truncation.
	MaxPreviewLength = 50

	// Ellipsis marks a truncated preview.
	Ellipsis = "..."
)

// Source is the conversation a view is bound to.
type Source interface {
	ID() string
	Character() *model.Character
	LastMessage() string
}

// View is the list entry of one conversation.
type View struct {
	source Source

	mu   sync.Mutex
	snap model.Summary

	selected  event.Feed[Source]
	refreshed event.Feed[model.Summary]
}

// New binds a view to src and computes its first snapshot.
func New(src Source) *View {
	v := &View{
		source: src,
		snap:   model.Summary{SessionID: src.ID()},
	}
	v.Refresh()
	return v
}

// Refresh recomputes the snapshot from the bound source and notifies
// OnRefreshed subscribers. Name and avatar are re-read every time; when the
// source has no character they keep their previous values.
func (v *View) Refresh() model.Summary {
	c := v.source.Character()
	preview := Preview(v.source.LastMessage())

	v.mu.Lock()
	if c != nil {
		v.snap.Name = c.Name()
		v.snap.Avatar = c.Avatar()
	}
	v.snap.Preview = preview
	snap := v.snap
	v.mu.Unlock()

	v.refreshed.Emit(snap)
	return snap
}

// Snapshot returns the last computed summary.
func (v *View) Snapshot() model.Summary {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snap
}

// Source returns the bound conversation.
func (v *View) Source() Source {
	return v.source
}

// Select activates the entry, firing OnSelected with the bound source.
func (v *View) Select() {
	v.selected.Emit(v.source)
}

// OnSelected subscribes fn to activations of this entry.
func (v *View) OnSelected(fn func(Source)) (unsubscribe func()) {
	return v.selected.Subscribe(fn)
}

// OnRefreshed subscribes fn to new snapshots.
func (v *View) OnRefreshed(fn func(model.Summary)) (unsubscribe func()) {
	return v.refreshed.Subscribe(fn)
}

// Dispose drops every subscriber.
func (v *View) Dispose() {
	v.selected.Close()
	v.refreshed.Close()
}

// Preview renders text for the list: the placeholder when empty, otherwise at
// most MaxPreviewLength runes followed by Ellipsis when cut.
func Preview(text string) string {
	if text == "" {
		return Placeholder
	}

	runes := []rune(text)
	if len(runes) <= MaxPreviewLength {
		return text
	}
	return string(runes[:MaxPreviewLength]) + Ellipsis
}
