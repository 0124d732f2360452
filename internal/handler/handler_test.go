package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/character-chat/internal/completion/completiontest"
	"github.com/capitalize-ai/character-chat/internal/model"
	"github.com/capitalize-ai/character-chat/internal/registry"
	"github.com/capitalize-ai/character-chat/internal/service"
	"github.com/capitalize-ai/character-chat/internal/session"
	"github.com/capitalize-ai/character-chat/internal/summary"
	"github.com/capitalize-ai/character-chat/pkg/logger"
)

type fixture struct {
	fake   *completiontest.Fake
	hub    *Hub
	ctrl   *service.ListController
	server *httptest.Server
}

func newFixture(t *testing.T, chars ...*model.Character) *fixture {
	t.Helper()

	log := logger.NewNop()
	fake := completiontest.New()
	hub := NewHub(log)
	ctrl := service.NewListController(registry.New(fake, log),
		service.WithRenderer(hub),
		service.WithLogger(log),
	)
	ctrl.Start(chars)

	router := NewRouter(RouterConfig{
		Chats:          NewChatHandler(ctrl, log),
		Messages:       NewMessageHandler(ctrl, log),
		Stream:         NewStreamHandler(hub, log),
		Health:         NewHealthHandler(nil),
		Logger:         log,
		AllowedOrigins: []string{"*"},
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		hub.Close()
		server.Close()
		ctrl.Stop()
	})

	return &fixture{fake: fake, hub: hub, ctrl: ctrl, server: server}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func aria() *model.Character {
	return model.NewCharacter("Aria", "aria.png", "llama3", "You are Aria.")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type stubConn bool

func (s stubConn) IsConnected() bool { return bool(s) }

func TestReady_JournalDisconnected(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(stubConn(false)).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChats_ListInOrder(t *testing.T) {
	f := newFixture(t, aria(), model.NewCharacter("Bo", "", "llama3", ""))

	resp := f.do(t, http.MethodGet, "/api/v1/chats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[model.ListChatsResponse](t, resp)
	require.Len(t, list.Chats, 2)
	assert.Equal(t, "Aria", list.Chats[0].Name)
	assert.Equal(t, "Bo", list.Chats[1].Name)
	assert.Equal(t, summary.Placeholder, list.Chats[0].Preview)
	assert.Empty(t, list.Active)
	assert.Equal(t, 2, list.Total)
}

func TestChats_CreateAndConflict(t *testing.T) {
	f := newFixture(t, aria())

	body := `{"name":"Bo","avatar":"bo.png","model":"llama3","system_prompt":"Be brief."}`
	resp := f.do(t, http.MethodPost, "/api/v1/chats", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[model.Summary](t, resp)
	assert.Equal(t, "Bo", created.Name)
	assert.Equal(t, "bo.png", created.Avatar)

	handles := f.fake.Handles()
	require.Len(t, handles, 2)
	assert.Equal(t, "Be brief.", f.fake.Opened(handles[1]).SystemPrompt)

	resp = f.do(t, http.MethodPost, "/api/v1/chats", `{"name":"Aria","model":"llama3"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Len(t, f.ctrl.Entries(), 2)
}

func TestChats_CreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/chats", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/chats", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChats_SelectHideRemove(t *testing.T) {
	a := aria()
	b := model.NewCharacter("Bo", "", "llama3", "")
	f := newFixture(t, a, b)

	resp := f.do(t, http.MethodPost, "/api/v1/chats/Bo/select", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, f.ctrl.Active())
	assert.Same(t, b, f.ctrl.Active().Character())

	resp = f.do(t, http.MethodPost, "/api/v1/chats/Bo/hide", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, f.ctrl.Active())

	resp = f.do(t, http.MethodPost, "/api/v1/chats/Aria/select", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/chats/Aria", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotNil(t, f.ctrl.Active())
	assert.Same(t, b, f.ctrl.Active().Character())

	resp = f.do(t, http.MethodDelete, "/api/v1/chats/Aria", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/chats/Ghost/select", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChats_SelectFiresOnSelected(t *testing.T) {
	a := aria()
	f := newFixture(t, a)

	e := f.ctrl.Entries()[0]
	fired := make(chan summary.Source, 4)
	unsub := e.View.OnSelected(func(src summary.Source) { fired <- src })
	defer unsub()

	resp := f.do(t, http.MethodPost, "/api/v1/chats/Aria/select", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, fired, 1)
	assert.Same(t, a, (<-fired).Character())
	assert.True(t, e.Session.Visible())
	assert.Same(t, e, f.ctrl.Active())
}

func TestMessages_SendAndList(t *testing.T) {
	f := newFixture(t, aria())

	resp := f.do(t, http.MethodPost, "/api/v1/chats/Aria/messages", `{"content":"Hello"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	sent := decode[model.SendMessageResponse](t, resp)
	require.NotNil(t, sent.Message)
	assert.Equal(t, model.RoleUser, sent.Message.Role)
	assert.Equal(t, "Hello", sent.Message.Content)
	assert.Equal(t, uint64(1), sent.Sequence)

	h := f.fake.Handles()[0]
	assert.Equal(t, []string{"Hello"}, f.fake.Dispatched(h))
	require.True(t, f.fake.Respond(h, "Hi there!"))

	resp = f.do(t, http.MethodGet, "/api/v1/chats/Aria/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[model.ListMessagesResponse](t, resp)
	assert.Equal(t, "Aria", list.Character)
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "Hi there!", list.Messages[1].Content)
	assert.Equal(t, model.RoleAssistant, list.Messages[1].Role)

	chats := decode[model.ListChatsResponse](t, f.do(t, http.MethodGet, "/api/v1/chats", ""))
	assert.Equal(t, "Hi there!", chats.Chats[0].Preview)
}

func TestMessages_IdenticalSendsReturnOwnMessage(t *testing.T) {
	f := newFixture(t, aria())

	const n = 8
	seqs := make(chan uint64, n)
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/chats/Aria/messages", strings.NewReader(`{"content":"same"}`))
			if !assert.NoError(t, err) {
				return
			}
			resp, err := http.DefaultClient.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()

			var sent model.SendMessageResponse
			if assert.NoError(t, json.NewDecoder(resp.Body).Decode(&sent)) && assert.NotNil(t, sent.Message) {
				seqs <- sent.Sequence
				ids <- sent.Message.ID
			}
		}()
	}
	wg.Wait()
	close(seqs)
	close(ids)

	seenSeq := map[uint64]bool{}
	for seq := range seqs {
		assert.False(t, seenSeq[seq], "sequence %d returned twice", seq)
		seenSeq[seq] = true
	}
	seenID := map[string]bool{}
	for id := range ids {
		assert.False(t, seenID[id], "message %s returned twice", id)
		seenID[id] = true
	}
	assert.Len(t, seenSeq, n)
}

func TestMessages_SendValidation(t *testing.T) {
	f := newFixture(t, aria())

	resp := f.do(t, http.MethodPost, "/api/v1/chats/Aria/messages", `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/chats/Ghost/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessages_SendWithoutModel(t *testing.T) {
	f := newFixture(t, model.NewCharacter("Mute", "", "", ""))

	resp := f.do(t, http.MethodPost, "/api/v1/chats/Mute/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	list := decode[model.ListMessagesResponse](t, f.do(t, http.MethodGet, "/api/v1/chats/Mute/messages", ""))
	require.Len(t, list.Messages, 2)
	assert.Equal(t, session.NoModelNotice, list.Messages[1].Content)
	assert.True(t, list.Messages[1].Error)
}

func TestMessages_DispatchFailureIsBadGateway(t *testing.T) {
	f := newFixture(t, aria())
	f.fake.DispatchErr = errors.New("backend down")

	resp := f.do(t, http.MethodPost, "/api/v1/chats/Aria/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHub_PublishesListEvents(t *testing.T) {
	a := aria()
	f := newFixture(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := f.hub.Subscribe(ctx)

	_, err := f.ctrl.Send(a, "Hello")
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, model.EventTypeRefreshed, ev.Type)
	assert.Equal(t, "Hello", ev.Summary.Preview)

	b := model.NewCharacter("Bo", "", "llama3", "")
	_, _, err = f.ctrl.Add(b)
	require.NoError(t, err)
	ev = <-events
	assert.Equal(t, model.EventTypeMounted, ev.Type)
	assert.Equal(t, "Bo", ev.Summary.Name)

	require.True(t, f.ctrl.Remove(b))
	ev = <-events
	assert.Equal(t, model.EventTypeUnmounted, ev.Type)

	snap := f.hub.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "Aria", snap[0].Summary.Name)
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	a := aria()
	f := newFixture(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := f.hub.Subscribe(ctx)

	for i := 0; i < subscriberBufferSize+10; i++ {
		f.hub.Activated(f.ctrl.Entries()[0])
	}
	assert.Len(t, events, subscriberBufferSize)
}

func TestHub_UnsubscribeOnCancel(t *testing.T) {
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	events, _ := hub.Subscribe(ctx)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestEvents_StreamsSnapshotThenUpdates(t *testing.T) {
	a := aria()
	f := newFixture(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/v1/chats/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed before %q", prefix)
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event: connected")
	waitFor("event: mounted")
	assert.Contains(t, waitFor("data: "), `"name":"Aria"`)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	_, err = f.ctrl.Send(a, "Hello")
	require.NoError(t, err)

	waitFor("event: refreshed")
	assert.Contains(t, waitFor("data: "), `"preview":"Hello"`)
}
