// Package completiontest provides an in-memory completer whose responses are
// driven by the test.
package completiontest

import (
	"errors"
	"strconv"
	"sync"

	"github.com/capitalize-ai/character-chat/internal/completion"
)

// Opened describes one Open call.
type Opened struct {
	SystemPrompt string
	Model        string
}

// Fake records calls and delivers results only when Respond or Fail is called.
type Fake struct {
	mu         sync.Mutex
	next       int
	opened     map[completion.Handle]Opened
	callbacks  map[completion.Handle]completion.Callbacks
	dispatched map[completion.Handle][]string
	closed     map[completion.Handle]bool

	// OpenErr and DispatchErr, when set, are returned by the matching calls.
	OpenErr     error
	DispatchErr error
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		opened:     make(map[completion.Handle]Opened),
		callbacks:  make(map[completion.Handle]completion.Callbacks),
		dispatched: make(map[completion.Handle][]string),
		closed:     make(map[completion.Handle]bool),
	}
}

func (f *Fake) Open(systemPrompt, modelID string, cb completion.Callbacks) (completion.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.OpenErr != nil {
		return "", f.OpenErr
	}
	f.next++
	h := completion.Handle("h" + strconv.Itoa(f.next))
	f.opened[h] = Opened{SystemPrompt: systemPrompt, Model: modelID}
	f.callbacks[h] = cb
	return h, nil
}

func (f *Fake) Dispatch(h completion.Handle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.callbacks[h]; !ok {
		return completion.ErrUnknownHandle
	}
	if f.DispatchErr != nil {
		return f.DispatchErr
	}
	f.dispatched[h] = append(f.dispatched[h], text)
	return nil
}

func (f *Fake) Close(h completion.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.callbacks[h]; !ok {
		return completion.ErrUnknownHandle
	}
	delete(f.callbacks, h)
	f.closed[h] = true
	return nil
}

// Respond delivers text to h's OnResponse. Closed handles are ignored and
// false is returned.
func (f *Fake) Respond(h completion.Handle, text string) bool {
	f.mu.Lock()
	cb, ok := f.callbacks[h]
	f.mu.Unlock()

	if !ok || cb.OnResponse == nil {
		return false
	}
	cb.OnResponse(h, text)
	return true
}

// Fail delivers err to h's OnError.
func (f *Fake) Fail(h completion.Handle, err error) bool {
	f.mu.Lock()
	cb, ok := f.callbacks[h]
	f.mu.Unlock()

	if !ok || cb.OnError == nil {
		return false
	}
	cb.OnError(h, err)
	return true
}

// Callbacks returns the callbacks registered for h. Tests keep them to model
// a result that was already on its way when the handle closed.
func (f *Fake) Callbacks(h completion.Handle) (completion.Callbacks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.callbacks[h]
	if !ok {
		return completion.Callbacks{}, errors.New("handle not open")
	}
	return cb, nil
}

// Handles returns every handle ever opened, in order.
func (f *Fake) Handles() []completion.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]completion.Handle, 0, f.next)
	for i := 1; i <= f.next; i++ {
		out = append(out, completion.Handle("h"+strconv.Itoa(i)))
	}
	return out
}

// Opened returns the arguments h was opened with.
func (f *Fake) Opened(h completion.Handle) Opened {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[h]
}

// Dispatched returns the texts dispatched on h.
func (f *Fake) Dispatched(h completion.Handle) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatched[h]...)
}

// Closed reports whether h was closed.
func (f *Fake) Closed(h completion.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[h]
}
