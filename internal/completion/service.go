// Package completion runs one asynchronous request queue per conversation
// handle on top of an llm.Client.
//
// Each handle keeps its own chat context (system prompt first, then the
// alternating user/assistant turns) and a single worker goroutine, so at most
// one backend request is in flight per handle and results are delivered in the
// order they were dispatched.
package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/character-chat/internal/llm"
	"github.com/capitalize-ai/character-chat/pkg/logger"
	"github.com/capitalize-ai/character-chat/pkg/metrics"
	"github.com/capitalize-ai/character-chat/pkg/tracing"
)

// Handle identifies an open conversation on the service.
type Handle string

// Callbacks receive the outcome of every dispatch on a handle. Exactly one of
// them is called per dispatch, from the handle's worker goroutine.
type Callbacks struct {
	OnResponse func(h Handle, text string)
	OnError    func(h Handle, err error)
}

var (
	// ErrUnknownHandle is returned for handles that were never opened or are closed.
	ErrUnknownHandle = errors.New("unknown completion handle")

	// ErrQueueFull is returned when a handle already has the maximum number of
	// undelivered dispatches.
	ErrQueueFull = errors.New("completion queue is full")

	// ErrNoModel is returned by Open when no model is given.
	ErrNoModel = errors.New("model is required")
)

const (
	defaultQueueSize = 16
	defaultTimeout   = 2 * time.Minute
	defaultMaxTokens = 1024
)

// Option configures a Service.
type Option func(*Service)

// WithQueueSize sets how many dispatches may wait per handle.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithTimeout bounds each backend request.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxTokens sets the per-response token limit.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service implements the completion-service contract consumed by sessions.
type Service struct {
	client    llm.Client
	logger    *logger.Logger
	tracer    trace.Tracer
	queueSize int
	timeout   time.Duration
	maxTokens int

	mu      sync.Mutex
	handles map[Handle]*conversation
	wg      sync.WaitGroup
}

type conversation struct {
	handle Handle
	model  string
	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc

	// callbacks is nil once the handle is closed; guarded by Service.mu.
	callbacks *Callbacks

	// context is only touched by the worker goroutine.
	context []llm.ChatMessage
}

// New creates a service backed by client.
func New(client llm.Client, opts ...Option) *Service {
	s := &Service{
		client:    client,
		logger:    logger.Global(),
		tracer:    tracing.Tracer("character-chat/completion"),
		queueSize: defaultQueueSize,
		timeout:   defaultTimeout,
		maxTokens: defaultMaxTokens,
		handles:   make(map[Handle]*conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("completion")
	return s
}

// Open starts a conversation for modelID. A non-empty systemPrompt is sent as
// the first message of every request on the handle.
func (s *Service) Open(systemPrompt, modelID string, cb Callbacks) (Handle, error) {
	if modelID == "" {
		return "", ErrNoModel
	}

	ctx, cancel := context.WithCancel(context.Background())
	conv := &conversation{
		handle:    Handle(uuid.New().String()),
		model:     modelID,
		queue:     make(chan string, s.queueSize),
		ctx:       ctx,
		cancel:    cancel,
		callbacks: &cb,
	}
	if systemPrompt != "" {
		conv.context = append(conv.context, llm.ChatMessage{Role: llm.RoleSystem, Content: systemPrompt})
	}

	s.mu.Lock()
	s.handles[conv.handle] = conv
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(conv)

	s.logger.Debug("handle opened",
		zap.String("handle", string(conv.handle)),
		zap.String("model", modelID),
		zap.Bool("system_prompt", systemPrompt != ""),
	)

	return conv.handle, nil
}

// Dispatch queues text for the handle. It never blocks; the outcome arrives
// through the handle's callbacks.
func (s *Service) Dispatch(h Handle, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.handles[h]
	if !ok {
		return ErrUnknownHandle
	}

	select {
	case conv.queue <- text:
		return nil
	default:
		metrics.CompletionQueueRejected.Inc()
		return ErrQueueFull
	}
}

// Close unregisters the handle's callbacks and cancels any in-flight request.
// Closing an unknown handle returns ErrUnknownHandle.
func (s *Service) Close(h Handle) error {
	s.mu.Lock()
	conv, ok := s.handles[h]
	if ok {
		delete(s.handles, h)
		conv.callbacks = nil
	}
	s.mu.Unlock()

	if !ok {
		return ErrUnknownHandle
	}

	conv.cancel()
	s.logger.Debug("handle closed", zap.String("handle", string(h)))
	return nil
}

// Shutdown closes every handle and waits for the workers to exit.
func (s *Service) Shutdown() {
	s.mu.Lock()
	open := make([]Handle, 0, len(s.handles))
	for h := range s.handles {
		open = append(open, h)
	}
	s.mu.Unlock()

	for _, h := range open {
		_ = s.Close(h)
	}
	s.wg.Wait()
}

// Len returns the number of open handles.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Service) run(conv *conversation) {
	defer s.wg.Done()

	for {
		select {
		case <-conv.ctx.Done():
			return
		case text := <-conv.queue:
			reply, err := s.complete(conv, text)
			if conv.ctx.Err() != nil {
				return
			}
			s.deliver(conv, reply, err)
		}
	}
}

func (s *Service) complete(conv *conversation, text string) (string, error) {
	ctx, cancel := context.WithTimeout(conv.ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "completion.dispatch",
		trace.WithAttributes(
			attribute.String("completion.handle", string(conv.handle)),
			attribute.String("completion.model", conv.model),
			attribute.String("completion.provider", s.client.Name()),
		),
	)
	defer span.End()

	messages := append(conv.context, llm.ChatMessage{Role: llm.RoleUser, Content: text})

	start := time.Now()
	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Model:     conv.model,
		Messages:  messages,
		MaxTokens: s.maxTokens,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordCompletion(conv.model, "error", elapsed, 0, 0)
		// The failed turn is left out of the context so the next request
		// stays well-formed.
		return "", fmt.Errorf("%s completion: %w", s.client.Name(), err)
	}

	metrics.RecordCompletion(conv.model, "success", elapsed, resp.TokensIn, resp.TokensOut)

	conv.context = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: resp.Content})
	return resp.Content, nil
}

func (s *Service) deliver(conv *conversation, reply string, err error) {
	s.mu.Lock()
	cb := conv.callbacks
	s.mu.Unlock()

	if cb == nil {
		return
	}

	if err != nil {
		s.logger.Warn("completion failed",
			zap.String("handle", string(conv.handle)),
			zap.Error(err),
		)
		if cb.OnError != nil {
			cb.OnError(conv.handle, err)
		}
		return
	}

	if cb.OnResponse != nil {
		cb.OnResponse(conv.handle, reply)
	}
}
