// Package model defines data structures for the character chat service.
package model

// Character is the static identity of one chat persona. It is built once from
// configuration and never mutated; sessions hold it by pointer and compare by
// identity.
type Character struct {
	name         string
	avatar       string
	model        string
	systemPrompt string
}

// NewCharacter creates a character.
func NewCharacter(name, avatar, model, systemPrompt string) *Character {
	return &Character{
		name:         name,
		avatar:       avatar,
		model:        model,
		systemPrompt: systemPrompt,
	}
}

// Name returns the display name.
func (c *Character) Name() string { return c.name }

// Avatar returns the opaque avatar handle (a URL or asset key).
func (c *Character) Avatar() string { return c.avatar }

// SystemPrompt returns the persona instruction, possibly empty.
func (c *Character) SystemPrompt() string { return c.systemPrompt }

// SelectedModel returns the backend model identifier, or "" when none is configured.
func (c *Character) SelectedModel() string { return c.model }

// CharacterInfo is the wire form of a Character.
type CharacterInfo struct {
	Name         string `json:"name"`
	Avatar       string `json:"avatar,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Info returns the wire form of the character.
func (c *Character) Info() CharacterInfo {
	return CharacterInfo{
		Name:         c.name,
		Avatar:       c.avatar,
		Model:        c.model,
		SystemPrompt: c.systemPrompt,
	}
}
