package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/character-chat/internal/model"
)

const (
	// StreamName is the name of the chat journal stream.
	StreamName = "CHAT_JOURNAL"

	// SubjectPrefix is the prefix for all journal subjects.
	SubjectPrefix = "chat"
)

// JournalRecord is the payload published for every appended message.
type JournalRecord struct {
	Character string        `json:"character"`
	Message   model.Message `json:"message"`
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the journal stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		Description: "Messages appended to character conversations",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject for a message of a session.
func MessageSubject(sessionID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, subjectToken(sessionID), role)
}

// SessionFilter returns the filter subject for all messages of a session.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, subjectToken(sessionID))
}

// subjectToken makes s safe as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// Record publishes msg without waiting for the server acknowledgement, so it
// can be called from a session's event handler. It implements service.Journal.
func (m *StreamManager) Record(ctx context.Context, character string, msg model.Message) error {
	data, err := json.Marshal(&JournalRecord{Character: character, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := m.client.JetStream().PublishAsync(MessageSubject(msg.SessionID, msg.Role), data,
		jetstream.WithMsgID(msg.ID),
	); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// Flush waits until every asynchronous publish has been acknowledged.
func (m *StreamManager) Flush(ctx context.Context) error {
	select {
	case <-m.client.JetStream().PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("journal flush: %w", ctx.Err())
	}
}
