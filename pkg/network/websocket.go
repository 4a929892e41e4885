package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"warfront/pkg/log"
	"warfront/pkg/messages"
	"warfront/pkg/version"

	"github.com/gorilla/websocket"
)

const (
	// ProtocolVersion is echoed back in the server greeting.
	ProtocolVersion = 1
)

// MessageHandler processes a post-handshake message from a client.
type MessageHandler func(ctx context.Context, client *Client, message *messages.Message)

// DisconnectHandler is called when a client's connection ends.
type DisconnectHandler func(client *Client)

// WSServer represents the WebSocket session server.
type WSServer struct {
	port              int
	tls               *TLSConfig
	motd              string
	clientManager     *ClientManager
	handshakeGate     *HandshakeGate
	messageHandler    MessageHandler
	disconnectHandler DisconnectHandler
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewWSServerOptions struct {
	Port              int
	TLS               *TLSConfig
	MOTD              string
	ClientManager     *ClientManager
	HandshakeTimeout  time.Duration
	MessageHandler    MessageHandler
	DisconnectHandler DisconnectHandler
}

// NewWSServer creates a new WebSocket server.
func NewWSServer(opts NewWSServerOptions) *WSServer {
	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &WSServer{
		port:              opts.Port,
		tls:               opts.TLS,
		motd:              opts.MOTD,
		clientManager:     opts.ClientManager,
		handshakeGate:     NewHandshakeGate(handshakeTimeout),
		messageHandler:    opts.MessageHandler,
		disconnectHandler: opts.DisconnectHandler,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Start starts the WebSocket server.
func (s *WSServer) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Failed to upgrade to WebSocket: %v", err)
			return
		}
		log.Debug("New WebSocket connection from %s", conn.RemoteAddr().String())
		go s.handleWSConnection(ctx, conn)
	})

	addr := fmt.Sprintf(":%d", s.port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	var listenAndServe func() error
	if s.tls != nil {
		log.Info("WebSocket server listening on %s with TLS", addr)
		listenAndServe = func() error {
			return server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("WebSocket server listening on %s", addr)
		listenAndServe = server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("WebSocket server closed")
			return
		}
		log.Error("WebSocket server error: %v", err)
	}
}

// handleWSConnection handles a WebSocket connection for its lifetime.
func (s *WSServer) handleWSConnection(ctx context.Context, conn *websocket.Conn) {
	client, err := s.clientManager.AddClient(conn)
	if err != nil {
		log.Error("Failed to add client: %v", err)
		conn.Close()
		return
	}
	s.handshakeGate.Arm(client)

	defer func() {
		s.handshakeGate.Abort(client.ID)
		s.clientManager.RemoveClient(client.ID)
		if s.disconnectHandler != nil {
			s.disconnectHandler(client)
		}
		conn.Close()
	}()

	greeted := false
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("Error reading WebSocket message from %s: %v", conn.RemoteAddr().String(), err)
			}
			log.Trace("Connection closed for %s", conn.RemoteAddr().String())
			return
		}

		message, err := messages.DeserializeMessage(b)
		if err != nil {
			log.Error("Failed to deserialize message from client %d: %v", client.ID, err)
			continue
		}

		if !greeted {
			// Nothing but the greeting is accepted before the handshake
			// completes.
			if message.Type != messages.MessageTypeClientHello {
				log.Warn("Client %d sent %s before completing the handshake", client.ID, message.Type)
				continue
			}
			if err := s.handleClientHello(client, message); err != nil {
				log.Error("Failed to handle client hello for client %d: %v", client.ID, err)
				return
			}
			greeted = true
			continue
		}

		switch message.Type {
		case messages.MessageTypeIdentifyConnection:
			identify := &messages.IdentifyConnection{}
			if err := json.Unmarshal(message.Payload, identify); err != nil {
				log.Error("Failed to unmarshal identify connection message: %v", err)
				continue
			}
			s.clientManager.SetTunnel(client.ID, identify.IsTunnel)
			log.Debug("Client %d identified connection (tunnel=%t)", client.ID, identify.IsTunnel)
		case messages.MessageTypePingCheck:
			if err := s.handlePingCheck(client, message); err != nil {
				log.Error("Failed to handle ping check for client %d: %v", client.ID, err)
			}
		default:
			if s.messageHandler != nil {
				s.messageHandler(ctx, client, message)
			}
		}
	}
}

func (s *WSServer) handleClientHello(client *Client, message *messages.Message) error {
	hello := &messages.ClientHello{}
	if err := json.Unmarshal(message.Payload, hello); err != nil {
		return fmt.Errorf("failed to unmarshal client hello: %v", err)
	}
	if !s.handshakeGate.Complete(client.ID) {
		return fmt.Errorf("handshake timer already fired for client %d", client.ID)
	}
	log.Info("Client %d connected (version %s, agent %s)", client.ID, hello.ClientVersion, hello.UserAgent)

	reply, err := messages.NewMessage(0, messages.MessageTypeServerHello, &messages.ServerHello{
		ServerVersion:   version.Get(),
		ProtocolVersion: ProtocolVersion,
		MOTD:            s.motd,
	})
	if err != nil {
		return err
	}
	if err := client.Send(reply); err != nil {
		return fmt.Errorf("failed to send server hello: %v", err)
	}
	return nil
}

func (s *WSServer) handlePingCheck(client *Client, message *messages.Message) error {
	ping := &messages.PingCheck{}
	if err := json.Unmarshal(message.Payload, ping); err != nil {
		return fmt.Errorf("failed to unmarshal ping check: %v", err)
	}
	pong, err := messages.NewMessage(0, messages.MessageTypePongCheck, &messages.PongCheck{
		Timestamp: ping.Timestamp,
	})
	if err != nil {
		return err
	}
	return client.Send(pong)
}
