package network

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"warfront/pkg/log"
	"warfront/pkg/messages"

	"github.com/gorilla/websocket"
)

// TransportCallbacks receive transport lifecycle events. They are invoked
// from the transport's own goroutines.
type TransportCallbacks struct {
	OnOpen    func()
	OnMessage func(msg *messages.Message)
	OnClose   func(err error)
}

// Transport is one bidirectional message channel to the server. The
// connection manager is the only component that calls Connect/Close.
type Transport interface {
	Connect(url string)
	Close() error
	Send(msg *messages.Message) error
}

// WSTransport is a WebSocket transport.
type WSTransport struct {
	callbacks TransportCallbacks
	mu        sync.Mutex
	conn      *websocket.Conn
}

// NewWSTransport creates a new WebSocket transport.
func NewWSTransport(callbacks TransportCallbacks) *WSTransport {
	return &WSTransport{
		callbacks: callbacks,
	}
}

// Connect dials the server asynchronously. OnOpen fires once the
// connection is established; a dial failure or any later drop fires
// OnClose exactly once per attempt.
func (t *WSTransport) Connect(serverURL string) {
	go func() {
		log.Info("Connecting to WebSocket server at %s", serverURL)
		conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
		if err != nil {
			t.callbacks.OnClose(fmt.Errorf("failed to connect to server: %v", err))
			return
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		t.callbacks.OnOpen()
		t.readLoop(conn)
	}()
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			t.callbacks.OnClose(err)
			return
		}

		msg, err := messages.DeserializeMessage(b)
		if err != nil {
			log.Error("Failed to deserialize message: %v", err)
			continue
		}
		t.callbacks.OnMessage(msg)
	}
}

// Close closes the connection if it is open.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send serializes and writes a message.
func (t *WSTransport) Send(msg *messages.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("transport is not connected")
	}

	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	if err := t.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}

	return nil
}

// IsTunnelURL reports whether a server URL points at a long-haul or
// tunneled link rather than a local one. Loopback and private address
// families count as local; everything else is assumed tunneled.
func IsTunnelURL(serverURL string) bool {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return true
	}
	host := parsed.Hostname()
	if host == "" {
		return true
	}
	if strings.EqualFold(host, "localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsLoopback() && !ip.IsPrivate()
	}
	return true
}
