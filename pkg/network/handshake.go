package network

import (
	"sync"
	"time"

	"warfront/pkg/log"
)

const (
	// DefaultHandshakeTimeout is how long a connection may sit without
	// completing the greeting exchange before it is closed.
	DefaultHandshakeTimeout = 10 * time.Second
)

// HandshakeGate force-closes connections that never complete the greeting
// exchange. A timer is armed when the connection is accepted and cleared
// when the client's hello arrives.
type HandshakeGate struct {
	timeout time.Duration
	mu      sync.Mutex
	timers  map[uint32]*time.Timer
}

func NewHandshakeGate(timeout time.Duration) *HandshakeGate {
	return &HandshakeGate{
		timeout: timeout,
		timers:  make(map[uint32]*time.Timer),
	}
}

// Arm starts the handshake timer for a client. If the timer fires before
// Complete is called, the client's connection is force-closed.
func (g *HandshakeGate) Arm(client *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timers[client.ID] = time.AfterFunc(g.timeout, func() {
		log.Warn("Client %d did not complete handshake within %s, closing connection", client.ID, g.timeout)
		if err := client.Close(); err != nil {
			log.Debug("Failed to close connection for client %d: %v", client.ID, err)
		}
		g.mu.Lock()
		delete(g.timers, client.ID)
		g.mu.Unlock()
	})
}

// Complete clears the handshake timer for a client. It returns false if
// no timer was pending (already fired or never armed).
func (g *HandshakeGate) Complete(clientID uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	timer, ok := g.timers[clientID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(g.timers, clientID)
	return true
}

// Abort clears the handshake timer without completing it, for connections
// that drop before the greeting.
func (g *HandshakeGate) Abort(clientID uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if timer, ok := g.timers[clientID]; ok {
		timer.Stop()
		delete(g.timers, clientID)
	}
}
