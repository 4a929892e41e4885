package network

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"warfront/pkg/messages"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu        sync.Mutex
	callbacks TransportCallbacks
	connects  int
	closes    int
	sent      []*messages.Message
}

func (t *fakeTransport) Connect(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTransport) Send(msg *messages.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) sentTypes() []messages.MessageType {
	t.mu.Lock()
	defer t.mu.Unlock()
	types := make([]messages.MessageType, 0, len(t.sent))
	for _, msg := range t.sent {
		types = append(types, msg.Type)
	}
	return types
}

type managerHarness struct {
	manager   *ConnectionManager
	transport *fakeTransport
	mu        sync.Mutex
	states    []State
}

func newManagerHarness(opts NewConnectionManagerOptions) *managerHarness {
	h := &managerHarness{transport: &fakeTransport{}}
	opts.TransportFactory = func(callbacks TransportCallbacks) Transport {
		h.transport.callbacks = callbacks
		return h.transport
	}
	// Keep the ping loop quiet during short tests.
	if opts.PingInterval == 0 {
		opts.PingInterval = time.Hour
	}
	h.manager = NewConnectionManager(opts)
	h.manager.Subscribe(func(state State) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, state)
	})
	return h
}

func (h *managerHarness) phases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	phases := make([]Phase, 0, len(h.states))
	for _, state := range h.states {
		phases = append(phases, state.Phase)
	}
	return phases
}

func (h *managerHarness) serverHello(t *testing.T) {
	msg, err := messages.NewMessage(0, messages.MessageTypeServerHello, &messages.ServerHello{
		ServerVersion:   "test",
		ProtocolVersion: 1,
	})
	require.NoError(t, err)
	h.transport.callbacks.OnMessage(msg)
}

func TestConnectionManagerHandshake(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{ClientVersion: "test"})

	h.manager.Connect("ws://localhost:8888")
	h.transport.callbacks.OnOpen()
	h.serverHello(t)

	assert.Equal(t, []Phase{PhaseIdle, PhaseConnecting, PhaseOpen, PhaseHandshaking, PhaseReady}, h.phases())
	assert.True(t, h.manager.IsReady())
	// The greeting goes out on open, the link class report after the
	// server's reply.
	assert.Equal(t, []messages.MessageType{
		messages.MessageTypeClientHello,
		messages.MessageTypeIdentifyConnection,
	}, h.transport.sentTypes())
	assert.False(t, h.manager.IsTunnel(), "localhost is a local link")
}

func TestConnectionManagerInitialFailure(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{})

	h.manager.Connect("ws://localhost:8888")
	h.transport.callbacks.OnClose(fmt.Errorf("connection refused"))

	state := h.manager.State()
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Equal(t, "Connection Failed", state.Reason)
}

func TestConnectionManagerConnectTimeout(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{ConnectTimeout: 10 * time.Millisecond})

	h.manager.Connect("ws://localhost:8888")
	assert.Eventually(t, func() bool {
		return h.manager.State().Phase == PhaseFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Connection Timed Out", h.manager.State().Reason)
}

func TestConnectionManagerHandshakeTimeout(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{HandshakeTimeout: 10 * time.Millisecond})

	h.manager.Connect("ws://localhost:8888")
	h.transport.callbacks.OnOpen()
	assert.Eventually(t, func() bool {
		return h.manager.State().Phase == PhaseFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Handshake Timed Out", h.manager.State().Reason)
}

func TestConnectionManagerReconnectsOnDrop(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{})

	h.manager.Connect("ws://localhost:8888")
	h.transport.callbacks.OnOpen()
	h.serverHello(t)
	require.True(t, h.manager.IsReady())

	h.transport.callbacks.OnClose(fmt.Errorf("connection reset"))

	state := h.manager.State()
	assert.Equal(t, PhaseDisconnected, state.Phase)
	assert.Equal(t, 1, state.RetryCount)
}

func TestConnectionManagerMaxRetries(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{MaxRetries: 1})

	h.manager.Connect("ws://localhost:8888")
	h.transport.callbacks.OnOpen()
	h.serverHello(t)
	require.True(t, h.manager.IsReady())

	// The retry budget is already spent when the connection drops again.
	h.manager.mu.Lock()
	h.manager.attempt = 1
	h.manager.mu.Unlock()
	h.transport.callbacks.OnClose(fmt.Errorf("connection reset"))

	state := h.manager.State()
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Equal(t, "Max Retries Exceeded", state.Reason)
}

func TestConnectionManagerCancelIsTerminal(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{})

	h.manager.Connect("ws://localhost:8888")
	h.manager.Cancel()

	state := h.manager.State()
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Equal(t, "Cancelled", state.Reason)

	// A late transport close must not leave the terminal state.
	h.transport.callbacks.OnClose(fmt.Errorf("closed"))
	assert.Equal(t, PhaseFailed, h.manager.State().Phase)
}

func TestConnectionManagerRetryResetsCount(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{})

	h.manager.Connect("ws://localhost:8888")
	h.manager.Cancel()
	require.Equal(t, PhaseFailed, h.manager.State().Phase)

	h.manager.Retry()

	state := h.manager.State()
	assert.Equal(t, PhaseConnecting, state.Phase)
	assert.Equal(t, 0, state.RetryCount)
	assert.Equal(t, "ws://localhost:8888", state.URL)
}

func TestConnectionManagerSubscribe(t *testing.T) {
	h := newManagerHarness(NewConnectionManagerOptions{})

	var got []Phase
	unsubscribe := h.manager.Subscribe(func(state State) {
		got = append(got, state.Phase)
	})
	assert.Equal(t, []Phase{PhaseIdle}, got, "the current state is delivered immediately")

	unsubscribe()
	h.manager.Connect("ws://localhost:8888")
	assert.Equal(t, []Phase{PhaseIdle}, got, "no delivery after unsubscribe")
}

func TestRetryBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 2000 * time.Millisecond},
		{attempt: 1, want: 3000 * time.Millisecond},
		{attempt: 2, want: 4500 * time.Millisecond},
		{attempt: 3, want: 6750 * time.Millisecond},
		{attempt: 4, want: 10000 * time.Millisecond},
		{attempt: 19, want: 10000 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryBackoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}
