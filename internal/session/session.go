// Package session holds one character's conversation: its message history,
// its live completion handle and its visibility.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/character-chat/internal/completion"
	"github.com/capitalize-ai/character-chat/internal/event"
	"github.com/capitalize-ai/character-chat/internal/model"
	"github.com/capitalize-ai/character-chat/pkg/logger"
	"github.com/capitalize-ai/character-chat/pkg/metrics"
)

// Notices appended locally when a session cannot reach the backend.
const (
	NoCharacterNotice = "Error: No character assigned!"
	NoModelNotice     = "Error: No model configured. Cannot send messages."
	errorNoticePrefix = "Error: "
)

// Completer is the completion backend a session talks to.
type Completer interface {
	Open(systemPrompt, modelID string, cb completion.Callbacks) (completion.Handle, error)
	Dispatch(h completion.Handle, text string) error
	Close(h completion.Handle) error
}

// MessageUpdated is emitted every time a message is appended.
type MessageUpdated struct {
	SessionID string
	Character *model.Character
	Message   model.Message
}

// Session is one character's conversation. All methods are safe for concurrent
// use; MessageUpdated handlers run on the goroutine that appended the message,
// after the session lock is released.
type Session struct {
	id        string
	character *model.Character
	completer Completer
	logger    *logger.Logger

	// sendMu serializes Send so dispatch order matches history order.
	sendMu sync.Mutex

	mu            sync.Mutex
	history       []model.Message
	handle        completion.Handle
	initialized   bool
	misconfigured bool
	visible       bool
	closed        bool

	updated      event.Feed[MessageUpdated]
	teardownOnce sync.Once
}

// New creates a session for character. Call Initialize before sending.
func New(character *model.Character, completer Completer, log *logger.Logger) *Session {
	s := &Session{
		id:        uuid.New().String(),
		character: character,
		completer: completer,
	}

	log = logger.OrGlobal(log).Component("session").With(zap.String("session_id", s.id))
	if character != nil {
		log = log.With(zap.String("character", character.Name()))
	}
	s.logger = log

	metrics.SessionsActive.Inc()
	return s
}

// Initialize opens the completion handle. A missing character or model leaves
// the session unable to send and returns a *model.ConfigurationError; the
// session itself stays usable for display. Only the first call has any effect.
func (s *Session) Initialize() error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	if s.character == nil {
		s.mu.Lock()
		s.misconfigured = true
		s.mu.Unlock()
		s.append(model.RoleSystem, NoCharacterNotice, true)
		return &model.ConfigurationError{Reason: "no character assigned"}
	}

	modelID := s.character.SelectedModel()
	if modelID == "" || s.completer == nil {
		s.mu.Lock()
		s.misconfigured = true
		s.mu.Unlock()
		return &model.ConfigurationError{
			Character: s.character.Name(),
			Reason:    "no model configured",
		}
	}

	h, err := s.completer.Open(s.character.SystemPrompt(), modelID, completion.Callbacks{
		OnResponse: s.onResponse,
		OnError:    s.onError,
	})
	if err != nil {
		s.mu.Lock()
		s.misconfigured = true
		s.mu.Unlock()
		return &model.TransportError{Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = s.completer.Close(h)
		return &model.NotFoundError{Kind: "session", Name: s.id}
	}
	s.handle = h
	s.mu.Unlock()

	s.logger.Debug("session initialized", zap.String("model", modelID))
	return nil
}

// Send appends the user's text and dispatches it to the backend. The user
// message is in History before the backend is contacted and is returned even
// when the dispatch fails.
func (s *Session) Send(text string) (model.Message, error) {
	if text == "" {
		return model.Message{}, model.ErrEmptyMessage
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Message{}, &model.NotFoundError{Kind: "session", Name: s.id}
	}
	misconfigured := s.misconfigured
	h := s.handle
	if !misconfigured && h == "" {
		s.mu.Unlock()
		return model.Message{}, &model.ConfigurationError{
			Character: s.Name(),
			Reason:    "session not initialized",
		}
	}
	msg := s.appendLocked(model.RoleUser, text, false)
	s.mu.Unlock()

	s.emit(msg)

	if misconfigured {
		s.append(model.RoleAssistant, NoModelNotice, true)
		return msg, nil
	}

	if err := s.completer.Dispatch(h, text); err != nil {
		if errors.Is(err, completion.ErrUnknownHandle) && s.isClosed() {
			return msg, &model.NotFoundError{Kind: "session", Name: s.id}
		}
		terr := &model.TransportError{Handle: string(h), Err: err}
		s.appendIfOpen(h, model.RoleAssistant, errorNoticePrefix+err.Error(), true)
		return msg, terr
	}

	return msg, nil
}

func (s *Session) onResponse(h completion.Handle, text string) {
	s.appendIfOpen(h, model.RoleAssistant, text, false)
}

func (s *Session) onError(h completion.Handle, err error) {
	s.logger.Warn("completion failed", zap.Error(err))
	s.appendIfOpen(h, model.RoleAssistant, errorNoticePrefix+err.Error(), true)
}

// appendIfOpen appends only while h is still the session's live handle.
func (s *Session) appendIfOpen(h completion.Handle, role model.Role, text string, isError bool) {
	s.mu.Lock()
	if s.closed || h == "" || h != s.handle {
		s.mu.Unlock()
		s.logger.Debug("discarding result for closed session")
		return
	}
	msg := s.appendLocked(role, text, isError)
	s.mu.Unlock()

	s.emit(msg)
}

func (s *Session) append(role model.Role, text string, isError bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	msg := s.appendLocked(role, text, isError)
	s.mu.Unlock()

	s.emit(msg)
}

func (s *Session) appendLocked(role model.Role, text string, isError bool) model.Message {
	msg := model.Message{
		ID:        uuid.New().String(),
		SessionID: s.id,
		Role:      role,
		Content:   text,
		Error:     isError,
		CreatedAt: time.Now(),
		Sequence:  uint64(len(s.history) + 1),
	}
	s.history = append(s.history, msg)
	return msg
}

func (s *Session) emit(msg model.Message) {
	metrics.RecordMessage(s.Name(), string(msg.Role))
	s.updated.Emit(MessageUpdated{
		SessionID: s.id,
		Character: s.character,
		Message:   msg,
	})
}

// Teardown closes the completion handle and drops all subscribers. Only the
// first call has any effect; results arriving afterwards are discarded.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.visible = false
		h := s.handle
		s.handle = ""
		s.mu.Unlock()

		if h != "" {
			if err := s.completer.Close(h); err != nil {
				s.logger.Debug("closing completion handle", zap.Error(err))
			}
		}
		s.updated.Close()
		metrics.SessionsActive.Dec()
		s.logger.Debug("session torn down")
	})
}

// OnMessageUpdated subscribes fn to appended messages.
func (s *Session) OnMessageUpdated(fn func(MessageUpdated)) (unsubscribe func()) {
	return s.updated.Subscribe(fn)
}

// Show marks the session visible.
func (s *Session) Show() { s.setVisible(true) }

// Hide marks the session hidden.
func (s *Session) Hide() { s.setVisible(false) }

func (s *Session) setVisible(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.visible = v
	}
}

// Visible reports whether the session is shown.
func (s *Session) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// ID returns the generated session id.
func (s *Session) ID() string { return s.id }

// Character returns the bound character, which may be nil.
func (s *Session) Character() *model.Character { return s.character }

// Name returns the character name, or "" when no character is bound.
func (s *Session) Name() string {
	if s.character == nil {
		return ""
	}
	return s.character.Name()
}

// History returns a copy of the messages in chronological order.
func (s *Session) History() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.history...)
}

// LastMessage returns the text of the most recent message, or "".
func (s *Session) LastMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return ""
	}
	return s.history[len(s.history)-1].Content
}

// Pending reports whether the session holds a live completion handle.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != ""
}

// Misconfigured reports whether the session can never send.
func (s *Session) Misconfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.misconfigured
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) String() string {
	return fmt.Sprintf("session(%s, %q)", s.id, s.Name())
}
