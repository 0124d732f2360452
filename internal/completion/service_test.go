package completion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/character-chat/internal/llm"
	"github.com/capitalize-ai/character-chat/pkg/logger"
)

// fakeClient answers every request with a prefix of the last user message and
// records what it was sent.
type fakeClient struct {
	mu       sync.Mutex
	requests []*llm.CompletionRequest
	err      error
	gate     chan struct{}
}

func (f *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	cp := *req
	cp.Messages = append([]llm.ChatMessage(nil), req.Messages...)
	f.requests = append(f.requests, &cp)
	err := f.err
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	last := req.Messages[len(req.Messages)-1].Content
	return &llm.CompletionResponse{Content: "re: " + last, Model: req.Model}, nil
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) sent() []*llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*llm.CompletionRequest(nil), f.requests...)
}

type recorder struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	done      chan struct{}
}

func newRecorder(n int) *recorder {
	return &recorder{done: make(chan struct{}, n)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnResponse: func(_ Handle, text string) {
			r.mu.Lock()
			r.responses = append(r.responses, text)
			r.mu.Unlock()
			r.done <- struct{}{}
		},
		OnError: func(_ Handle, err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.done <- struct{}{}
		},
	}
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for callback %d", i+1)
		}
	}
}

func newTestService(client llm.Client, opts ...Option) *Service {
	opts = append([]Option{WithLogger(logger.NewNop())}, opts...)
	return New(client, opts...)
}

func TestService_OpenRequiresModel(t *testing.T) {
	svc := newTestService(&fakeClient{})
	defer svc.Shutdown()

	_, err := svc.Open("prompt", "", Callbacks{})
	assert.ErrorIs(t, err, ErrNoModel)
	assert.Equal(t, 0, svc.Len())
}

func TestService_SystemPromptSentFirstAndContextGrows(t *testing.T) {
	client := &fakeClient{}
	svc := newTestService(client)
	defer svc.Shutdown()

	rec := newRecorder(2)
	h, err := svc.Open("You are Aria.", "llama3", rec.callbacks())
	require.NoError(t, err)

	require.NoError(t, svc.Dispatch(h, "hi"))
	rec.wait(t, 1)
	require.NoError(t, svc.Dispatch(h, "how are you"))
	rec.wait(t, 1)

	assert.Equal(t, []string{"re: hi", "re: how are you"}, rec.responses)

	reqs := client.sent()
	require.Len(t, reqs, 2)
	assert.Equal(t, "llama3", reqs[0].Model)
	assert.Equal(t, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "You are Aria."},
		{Role: llm.RoleUser, Content: "hi"},
	}, reqs[0].Messages)
	assert.Equal(t, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: "You are Aria."},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "re: hi"},
		{Role: llm.RoleUser, Content: "how are you"},
	}, reqs[1].Messages)
}

func TestService_EmptySystemPromptOmitted(t *testing.T) {
	client := &fakeClient{}
	svc := newTestService(client)
	defer svc.Shutdown()

	rec := newRecorder(1)
	h, err := svc.Open("", "llama3", rec.callbacks())
	require.NoError(t, err)
	require.NoError(t, svc.Dispatch(h, "hi"))
	rec.wait(t, 1)

	reqs := client.sent()
	require.Len(t, reqs, 1)
	assert.Equal(t, []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}}, reqs[0].Messages)
}

func TestService_DeliversInDispatchOrder(t *testing.T) {
	svc := newTestService(&fakeClient{})
	defer svc.Shutdown()

	rec := newRecorder(3)
	h, err := svc.Open("", "llama3", rec.callbacks())
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, svc.Dispatch(h, text))
	}
	rec.wait(t, 3)

	assert.Equal(t, []string{"re: one", "re: two", "re: three"}, rec.responses)
}

func TestService_ErrorCallbackKeepsContextClean(t *testing.T) {
	client := &fakeClient{err: errors.New("backend down")}
	svc := newTestService(client)
	defer svc.Shutdown()

	rec := newRecorder(2)
	h, err := svc.Open("", "llama3", rec.callbacks())
	require.NoError(t, err)

	require.NoError(t, svc.Dispatch(h, "first"))
	rec.wait(t, 1)
	require.Len(t, rec.errs, 1)
	assert.ErrorContains(t, rec.errs[0], "backend down")

	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()

	require.NoError(t, svc.Dispatch(h, "second"))
	rec.wait(t, 1)

	reqs := client.sent()
	require.Len(t, reqs, 2)
	assert.Equal(t, []llm.ChatMessage{{Role: llm.RoleUser, Content: "second"}}, reqs[1].Messages)
}

func TestService_CloseSuppressesPendingCallback(t *testing.T) {
	client := &fakeClient{gate: make(chan struct{})}
	svc := newTestService(client)

	rec := newRecorder(1)
	h, err := svc.Open("", "llama3", rec.callbacks())
	require.NoError(t, err)
	require.NoError(t, svc.Dispatch(h, "hi"))

	require.Eventually(t, func() bool { return len(client.sent()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Close(h))
	close(client.gate)
	svc.Shutdown()

	select {
	case <-rec.done:
		t.Fatal("callback fired after close")
	case <-time.After(50 * time.Millisecond):
	}

	assert.ErrorIs(t, svc.Dispatch(h, "again"), ErrUnknownHandle)
	assert.ErrorIs(t, svc.Close(h), ErrUnknownHandle)
}

func TestService_QueueFull(t *testing.T) {
	client := &fakeClient{gate: make(chan struct{})}
	svc := newTestService(client, WithQueueSize(1))
	defer func() {
		close(client.gate)
		svc.Shutdown()
	}()

	h, err := svc.Open("", "llama3", Callbacks{})
	require.NoError(t, err)

	require.NoError(t, svc.Dispatch(h, "in flight"))
	require.Eventually(t, func() bool { return len(client.sent()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Dispatch(h, "queued"))
	assert.ErrorIs(t, svc.Dispatch(h, "rejected"), ErrQueueFull)
}
