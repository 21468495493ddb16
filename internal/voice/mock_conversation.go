package voice

import (
	"context"
	"sync"
)

// MockOpener is a test double for Opener. OpenFunc can override the
// default, which returns a fresh MockConversation.
// Thread-safe for use in concurrent tests.
type MockOpener struct {
	OpenFunc func(ctx context.Context, opts Options) (Conversation, error)

	mu    sync.Mutex
	opens []Options
	convs []*MockConversation
}

var _ Opener = (*MockOpener)(nil)

func (m *MockOpener) Open(ctx context.Context, opts Options) (Conversation, error) {
	m.mu.Lock()
	m.opens = append(m.opens, opts)
	fn := m.OpenFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, opts)
	}

	c := NewMockConversation("mock-conversation", opts)
	m.mu.Lock()
	m.convs = append(m.convs, c)
	m.mu.Unlock()
	return c, nil
}

// Opens returns the options of every Open call.
func (m *MockOpener) Opens() []Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Options, len(m.opens))
	copy(out, m.opens)
	return out
}

// Conversations returns the conversations created by the default OpenFunc.
func (m *MockOpener) Conversations() []*MockConversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockConversation, len(m.convs))
	copy(out, m.convs)
	return out
}

// MockConversation is a scriptable Conversation. End simulates the remote
// side finishing the call.
type MockConversation struct {
	id   string
	opts Options

	mu         sync.Mutex
	status     Status
	err        error
	utts       []Utterance
	closeCalls int
	done       chan struct{}
	once       sync.Once
}

var _ Conversation = (*MockConversation)(nil)

func NewMockConversation(id string, opts Options) *MockConversation {
	return &MockConversation{
		id:     id,
		opts:   opts,
		status: StatusConnected,
		done:   make(chan struct{}),
	}
}

func (c *MockConversation) ID() string { return c.id }

func (c *MockConversation) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *MockConversation) Done() <-chan struct{} { return c.done }

func (c *MockConversation) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the conversation gracefully.
func (c *MockConversation) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	c.End(nil)
	return nil
}

// CloseCalls returns how many times Close was called.
func (c *MockConversation) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func (c *MockConversation) Transcript() []Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Utterance, len(c.utts))
	copy(out, c.utts)
	return out
}

// Say pushes an utterance as if the transport delivered it.
func (c *MockConversation) Say(u Utterance) {
	c.mu.Lock()
	c.utts = append(c.utts, u)
	c.mu.Unlock()
	if c.opts.OnUtterance != nil {
		c.opts.OnUtterance(u)
	}
}

// End disconnects with err (nil for a graceful hang-up). Only the first
// call has an effect.
func (c *MockConversation) End(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.status = StatusDisconnected
		c.mu.Unlock()
		if c.opts.OnStatus != nil {
			c.opts.OnStatus(StatusDisconnected)
		}
		close(c.done)
	})
}
