package network

import (
	"fmt"
	"sync"

	"warfront/pkg/messages"

	"github.com/gorilla/websocket"
)

const (
	// ClientIDMaxRetries represents the maximum number of retries when generating a unique ID
	ClientIDMaxRetries = 1024
)

// Client represents a connected client session.
type Client struct {
	ID       uint32
	conn     *websocket.Conn
	writeMu  sync.Mutex
	IsTunnel bool
	RoomID   string
}

// Send serializes a message and writes it to the client's connection.
// Writes are serialized with a per-connection lock because room goroutines
// and the handshake path may send concurrently.
func (c *Client) Send(msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}

	return nil
}

// Close force-closes the client's connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ClientManager manages connected clients.
type ClientManager struct {
	clients     map[uint32]*Client
	clientsLock sync.RWMutex
	nextID      uint32
}

// NewClientManager creates a new ClientManager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[uint32]*Client),
		nextID:  1,
	}
}

// GetClients returns a list of all connected clients.
func (cm *ClientManager) GetClients() []*Client {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	return clients
}

// AddClient adds a new client to the manager and returns it.
func (cm *ClientManager) AddClient(conn *websocket.Conn) (*Client, error) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()
	clientID, err := cm.generateUniqueID(ClientIDMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to generate a unique ID: %v", err)
	}
	client := &Client{
		ID:   clientID,
		conn: conn,
	}
	cm.clients[clientID] = client
	return client, nil
}

// RemoveClient removes a client from the manager.
func (cm *ClientManager) RemoveClient(clientID uint32) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()

	if _, exists := cm.clients[clientID]; exists {
		delete(cm.clients, clientID)
	}
}

// SetTunnel records the link class a client reported after the handshake.
func (cm *ClientManager) SetTunnel(clientID uint32, isTunnel bool) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()
	if client, ok := cm.clients[clientID]; ok {
		client.IsTunnel = isTunnel
	}
}

// SetRoom records which room a client has joined.
func (cm *ClientManager) SetRoom(clientID uint32, roomID string) {
	cm.clientsLock.Lock()
	defer cm.clientsLock.Unlock()
	if client, ok := cm.clients[clientID]; ok {
		client.RoomID = roomID
	}
}

// GetClientByID retrieves a client by its ID.
func (cm *ClientManager) GetClientByID(clientID uint32) *Client {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	return cm.clients[clientID]
}

func (cm *ClientManager) Exists(clientID uint32) bool {
	cm.clientsLock.RLock()
	defer cm.clientsLock.RUnlock()
	_, ok := cm.clients[clientID]
	return ok
}

// generateUniqueID generates a unique client ID with a maximum number of retries.
// It reads from the clients map, so the lock must be held by the caller.
func (cm *ClientManager) generateUniqueID(maxRetries int) (uint32, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		id := cm.nextID
		cm.nextID++
		if id == 0 {
			// ClientID 0 is reserved for server messages
			continue
		}
		if _, ok := cm.clients[id]; !ok {
			return id, nil
		}
	}

	return 0, fmt.Errorf("failed to generate a unique ID after %d attempts", maxRetries)
}
