package network

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"warfront/pkg/log"
	"warfront/pkg/messages"
)

// Phase is the connection lifecycle phase.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseConnecting   Phase = "CONNECTING"
	PhaseOpen         Phase = "OPEN"
	PhaseHandshaking  Phase = "HANDSHAKING"
	PhaseReady        Phase = "READY"
	PhaseDisconnected Phase = "DISCONNECTED"
	PhaseFailed       Phase = "FAILED"
)

const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMaxRetries       = 20
	DefaultPingInterval     = 2 * time.Second

	// Reconnection backoff parameters: delay = min(base * factor^attempt, max).
	retryBaseDelay   = 2 * time.Second
	retryDelayFactor = 1.5
	retryMaxDelay    = 10 * time.Second

	reasonConnectionFailed   = "Connection Failed"
	reasonConnectionTimedOut = "Connection Timed Out"
	reasonHandshakeTimedOut  = "Handshake Timed Out"
	reasonMaxRetriesExceeded = "Max Retries Exceeded"
	reasonCancelled          = "Cancelled"
)

// State is the externally visible connection state. It is mutated only by
// the manager's transition function and broadcast to subscribers on every
// change.
type State struct {
	Phase      Phase
	Reason     string
	Details    string
	URL        string
	RetryCount int
}

// ConnectionManager owns the connection lifecycle: transport connect,
// greeting handshake, timeouts, and exponential-backoff reconnection.
// It is the only component that calls Connect/Close on the transport.
type ConnectionManager struct {
	mu sync.Mutex

	transport        Transport
	state            State
	subscribers      map[int]func(State)
	nextSubscriberID int

	connectTimer   *time.Timer
	handshakeTimer *time.Timer
	retryTimer     *time.Timer
	pingTicker     *time.Ticker
	pingStop       chan struct{}

	attempt      int
	reconnecting bool

	connectTimeout   time.Duration
	handshakeTimeout time.Duration
	maxRetries       int
	pingInterval     time.Duration

	clientVersion  string
	userAgent      string
	messageHandler func(msg *messages.Message)
	pingTracker    *PingTracker
}

type NewConnectionManagerOptions struct {
	// TransportFactory builds the transport; nil means WebSocket.
	TransportFactory func(callbacks TransportCallbacks) Transport
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	MaxRetries       int
	PingInterval     time.Duration
	ClientVersion    string
	UserAgent        string
	// MessageHandler receives every post-handshake message the manager
	// does not consume itself.
	MessageHandler func(msg *messages.Message)
}

// NewConnectionManager creates a new connection manager.
func NewConnectionManager(opts NewConnectionManagerOptions) *ConnectionManager {
	m := &ConnectionManager{
		state:            State{Phase: PhaseIdle},
		subscribers:      make(map[int]func(State)),
		connectTimeout:   opts.ConnectTimeout,
		handshakeTimeout: opts.HandshakeTimeout,
		maxRetries:       opts.MaxRetries,
		pingInterval:     opts.PingInterval,
		clientVersion:    opts.ClientVersion,
		userAgent:        opts.UserAgent,
		messageHandler:   opts.MessageHandler,
		pingTracker:      NewPingTracker(),
	}
	if m.connectTimeout == 0 {
		m.connectTimeout = DefaultConnectTimeout
	}
	if m.handshakeTimeout == 0 {
		m.handshakeTimeout = DefaultHandshakeTimeout
	}
	if m.maxRetries == 0 {
		m.maxRetries = DefaultMaxRetries
	}
	if m.pingInterval == 0 {
		m.pingInterval = DefaultPingInterval
	}

	callbacks := TransportCallbacks{
		OnOpen:    m.handleTransportOpen,
		OnMessage: m.handleTransportMessage,
		OnClose:   m.handleTransportClose,
	}
	if opts.TransportFactory != nil {
		m.transport = opts.TransportFactory(callbacks)
	} else {
		m.transport = NewWSTransport(callbacks)
	}
	return m
}

// Connect opens the transport toward the given URL. Re-entering Connect
// tears down any pending timers before arming new ones, so overlapping
// timeout callbacks can never race to set conflicting states.
func (m *ConnectionManager) Connect(url string) {
	m.mu.Lock()
	m.clearTimersLocked()
	m.attempt = 0
	m.reconnecting = false
	m.setStateLocked(State{Phase: PhaseConnecting, URL: url})
	m.openTransportLocked()
	m.mu.Unlock()
}

// Retry is the manual override: it clears all timers and forces a fresh
// connect regardless of the current phase, resetting the retry counter.
func (m *ConnectionManager) Retry() {
	m.mu.Lock()
	url := m.state.URL
	m.clearTimersLocked()
	m.transport.Close()
	m.attempt = 0
	m.reconnecting = false
	m.setStateLocked(State{Phase: PhaseConnecting, URL: url})
	m.openTransportLocked()
	m.mu.Unlock()
}

// Cancel aborts the connection. The FAILED state is terminal until a new
// Connect or Retry.
func (m *ConnectionManager) Cancel() {
	m.mu.Lock()
	m.clearTimersLocked()
	m.transport.Close()
	m.failLocked(reasonCancelled, "cancelled by user")
	m.mu.Unlock()
}

// Subscribe registers an observer, immediately delivers the current
// state, and returns an unsubscribe handle. Notification is synchronous;
// a listener must not mutate the manager from inside its own callback.
func (m *ConnectionManager) Subscribe(listener func(State)) func() {
	m.mu.Lock()
	id := m.nextSubscriberID
	m.nextSubscriberID++
	m.subscribers[id] = listener
	current := m.state
	m.mu.Unlock()

	listener(current)

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsReady reports whether the connection has completed the handshake.
func (m *ConnectionManager) IsReady() bool {
	return m.State().Phase == PhaseReady
}

// Send sends a message to the server.
func (m *ConnectionManager) Send(msgType messages.MessageType, payload interface{}) error {
	msg, err := messages.NewMessage(0, msgType, payload)
	if err != nil {
		return err
	}
	return m.transport.Send(msg)
}

// Ping returns the averaged round-trip time in milliseconds.
func (m *ConnectionManager) Ping() float64 {
	return m.pingTracker.Average()
}

// PingTracker exposes the RTT sample tracker for the readiness layer.
func (m *ConnectionManager) PingTracker() *PingTracker {
	return m.pingTracker
}

// IsTunnel reports the link class of the current server URL.
func (m *ConnectionManager) IsTunnel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return IsTunnelURL(m.state.URL)
}

// RetryBackoffDelay returns the delay before the given reconnection
// attempt.
func RetryBackoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(retryBaseDelay) * math.Pow(retryDelayFactor, float64(attempt)))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// openTransportLocked arms the connect timeout and opens the transport.
func (m *ConnectionManager) openTransportLocked() {
	m.connectTimer = time.AfterFunc(m.connectTimeout, m.handleConnectTimeout)
	m.transport.Connect(m.state.URL)
}

func (m *ConnectionManager) handleConnectTimeout() {
	m.mu.Lock()
	if m.state.Phase != PhaseConnecting {
		m.mu.Unlock()
		return
	}
	m.transport.Close()
	m.failLocked(reasonConnectionTimedOut, fmt.Sprintf("no response from %s within %s", m.state.URL, m.connectTimeout))
	m.mu.Unlock()
}

func (m *ConnectionManager) handleHandshakeTimeout() {
	m.mu.Lock()
	if m.state.Phase != PhaseHandshaking {
		m.mu.Unlock()
		return
	}
	m.transport.Close()
	m.failLocked(reasonHandshakeTimedOut, fmt.Sprintf("no server greeting from %s within %s", m.state.URL, m.handshakeTimeout))
	m.mu.Unlock()
}

func (m *ConnectionManager) handleTransportOpen() {
	m.mu.Lock()
	if m.state.Phase != PhaseConnecting {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked(&m.connectTimer)
	m.setStateLocked(State{Phase: PhaseOpen, URL: m.state.URL, RetryCount: m.state.RetryCount})

	if err := m.sendHelloLocked(); err != nil {
		log.Error("Failed to send client hello: %v", err)
		m.transport.Close()
		m.mu.Unlock()
		return
	}
	m.handshakeTimer = time.AfterFunc(m.handshakeTimeout, m.handleHandshakeTimeout)
	m.setStateLocked(State{Phase: PhaseHandshaking, URL: m.state.URL, RetryCount: m.state.RetryCount})
	m.mu.Unlock()
}

func (m *ConnectionManager) sendHelloLocked() error {
	msg, err := messages.NewMessage(0, messages.MessageTypeClientHello, &messages.ClientHello{
		ClientVersion: m.clientVersion,
		UserAgent:     m.userAgent,
	})
	if err != nil {
		return err
	}
	return m.transport.Send(msg)
}

func (m *ConnectionManager) handleTransportMessage(msg *messages.Message) {
	switch msg.Type {
	case messages.MessageTypeServerHello:
		m.handleServerHello(msg)
	case messages.MessageTypePongCheck:
		m.handlePongCheck(msg)
	default:
		if m.messageHandler != nil {
			m.messageHandler(msg)
		}
	}
}

func (m *ConnectionManager) handleServerHello(msg *messages.Message) {
	m.mu.Lock()
	if m.state.Phase != PhaseHandshaking {
		log.Warn("Received server hello in phase %s", m.state.Phase)
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked(&m.handshakeTimer)
	m.attempt = 0
	m.reconnecting = false
	m.setStateLocked(State{Phase: PhaseReady, URL: m.state.URL})

	// Report the link class so the server can pick jitter-tolerant
	// thresholds for long-haul links.
	identify, err := messages.NewMessage(0, messages.MessageTypeIdentifyConnection, &messages.IdentifyConnection{
		IsTunnel: IsTunnelURL(m.state.URL),
	})
	if err == nil {
		if err := m.transport.Send(identify); err != nil {
			log.Error("Failed to send identify connection: %v", err)
		}
	}
	m.startPingLoopLocked()
	m.mu.Unlock()
}

func (m *ConnectionManager) handlePongCheck(msg *messages.Message) {
	pong := &messages.PongCheck{}
	if err := json.Unmarshal(msg.Payload, pong); err != nil {
		log.Error("Failed to unmarshal pong check: %v", err)
		return
	}
	rtt := time.Now().UnixMilli() - pong.Timestamp
	m.pingTracker.Record(rtt)
	log.Trace("Ping: %dms", rtt)
}

func (m *ConnectionManager) handleTransportClose(err error) {
	m.mu.Lock()
	switch m.state.Phase {
	case PhaseFailed:
		// Terminal; a drop after cancellation stays FAILED.
	case PhaseReady:
		log.Warn("Connection dropped: %v", err)
		m.stopPingLoopLocked()
		m.scheduleRetryLocked(err)
	case PhaseConnecting, PhaseOpen, PhaseHandshaking:
		m.clearTimersLocked()
		if m.reconnecting {
			m.scheduleRetryLocked(err)
		} else {
			detail := ""
			if err != nil {
				detail = err.Error()
			}
			m.failLocked(reasonConnectionFailed, detail)
		}
	}
	m.mu.Unlock()
}

// scheduleRetryLocked advances the reconnection loop: DISCONNECTED with a
// visible retry counter, escalating to FAILED once the cap is exceeded.
func (m *ConnectionManager) scheduleRetryLocked(cause error) {
	if m.attempt >= m.maxRetries {
		detail := fmt.Sprintf("gave up after %d attempts", m.attempt)
		if cause != nil {
			detail = fmt.Sprintf("%s: %v", detail, cause)
		}
		m.failLocked(reasonMaxRetriesExceeded, detail)
		return
	}

	delay := RetryBackoffDelay(m.attempt)
	m.attempt++
	m.reconnecting = true
	m.setStateLocked(State{Phase: PhaseDisconnected, URL: m.state.URL, RetryCount: m.attempt})
	log.Info("Reconnecting in %s (attempt %d/%d)", delay, m.attempt, m.maxRetries)

	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.state.Phase != PhaseDisconnected {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(State{Phase: PhaseConnecting, URL: m.state.URL, RetryCount: m.attempt})
		m.openTransportLocked()
		m.mu.Unlock()
	})
}

func (m *ConnectionManager) startPingLoopLocked() {
	m.stopPingLoopLocked()
	m.pingTicker = time.NewTicker(m.pingInterval)
	m.pingStop = make(chan struct{})
	go func(ticker *time.Ticker, stop chan struct{}) {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.Send(messages.MessageTypePingCheck, &messages.PingCheck{
					Timestamp: time.Now().UnixMilli(),
				}); err != nil {
					log.Debug("Failed to send ping check: %v", err)
				}
			}
		}
	}(m.pingTicker, m.pingStop)
}

func (m *ConnectionManager) stopPingLoopLocked() {
	if m.pingTicker != nil {
		m.pingTicker.Stop()
		m.pingTicker = nil
	}
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
}

func (m *ConnectionManager) failLocked(reason, details string) {
	m.setStateLocked(State{
		Phase:      PhaseFailed,
		Reason:     reason,
		Details:    details,
		URL:        m.state.URL,
		RetryCount: m.state.RetryCount,
	})
}

// setStateLocked is the single transition point for the connection state.
// Subscribers are notified synchronously while the lock is held; a
// listener that re-enters the manager will deadlock, which is documented
// as a reentrancy hazard rather than guarded against.
func (m *ConnectionManager) setStateLocked(state State) {
	m.state = state
	log.Debug("Connection phase: %s (retry %d)", state.Phase, state.RetryCount)
	for _, listener := range m.subscribers {
		listener(state)
	}
}

func (m *ConnectionManager) clearTimersLocked() {
	m.stopTimerLocked(&m.connectTimer)
	m.stopTimerLocked(&m.handshakeTimer)
	m.stopTimerLocked(&m.retryTimer)
	m.stopPingLoopLocked()
}

func (m *ConnectionManager) stopTimerLocked(timer **time.Timer) {
	if *timer != nil {
		(*timer).Stop()
		*timer = nil
	}
}
