package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength bounds a single chat message in bytes.
const MaxMessageLength = 32 * 1024

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxMessageLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateCharacterName validates a character name.
func ValidateCharacterName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name cannot be empty")
	}
	if len(name) > 64 {
		return errors.New("name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("name must be valid UTF-8")
	}
	if strings.ContainsAny(name, "/\\") {
		return errors.New("name cannot contain slashes")
	}
	return nil
}

// ValidateSystemPrompt validates a character system prompt.
func ValidateSystemPrompt(prompt string) error {
	if len(prompt) > MaxMessageLength {
		return errors.New("system prompt exceeds maximum length")
	}
	if !utf8.ValidString(prompt) {
		return errors.New("system prompt must be valid UTF-8")
	}
	return nil
}
