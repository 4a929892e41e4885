package rooms

import (
	"context"
	"encoding/json"

	"warfront/pkg/log"
	"warfront/pkg/messages"
	"warfront/pkg/network"
)

// Dispatcher routes post-handshake client messages to the registry and
// the client's current room.
type Dispatcher struct {
	registry      *Registry
	clientManager *network.ClientManager
}

type NewDispatcherOptions struct {
	Registry      *Registry
	ClientManager *network.ClientManager
}

func NewDispatcher(opts NewDispatcherOptions) *Dispatcher {
	return &Dispatcher{
		registry:      opts.Registry,
		clientManager: opts.ClientManager,
	}
}

// HandleMessage processes one message from a client.
func (d *Dispatcher) HandleMessage(_ context.Context, client *network.Client, message *messages.Message) {
	switch message.Type {
	case messages.MessageTypeJoinByCode:
		join := &messages.JoinByCode{}
		if err := json.Unmarshal(message.Payload, join); err != nil {
			log.Error("Failed to unmarshal join by code message: %v", err)
			return
		}
		room := d.registry.Get(join.RoomID)
		if room == nil {
			log.Warn("Client %d requested unknown room %s", client.ID, join.RoomID)
			return
		}
		d.joinRoom(client, room)
	case messages.MessageTypeQuickJoin:
		quickJoin := &messages.QuickJoin{}
		if err := json.Unmarshal(message.Payload, quickJoin); err != nil {
			log.Error("Failed to unmarshal quick join message: %v", err)
			return
		}
		room := d.registry.QuickJoin(quickJoin.MapType, quickJoin.ForceNew)
		d.joinRoom(client, room)
	case messages.MessageTypeCreateCustomGame:
		custom := &messages.CreateCustomGame{}
		if err := json.Unmarshal(message.Payload, custom); err != nil {
			log.Error("Failed to unmarshal create custom game message: %v", err)
			return
		}
		room := d.registry.CreateCustomGame(custom.MapType, custom.BotCount, custom.Difficulty)
		d.joinRoom(client, room)
	case messages.MessageTypeRequestGameState:
		if room := d.currentRoom(client); room != nil {
			room.RequestState(client.ID)
		}
	case messages.MessageTypeMoveIntent:
		intent := &messages.MoveIntent{}
		if err := json.Unmarshal(message.Payload, intent); err != nil {
			log.Error("Failed to unmarshal move intent message: %v", err)
			return
		}
		if room := d.currentRoom(client); room != nil {
			room.HandleIntent(client.ID, *intent)
		}
	case messages.MessageTypeForceStartMatch:
		if room := d.currentRoom(client); room != nil {
			room.ForceStart(client.ID)
		}
	case messages.MessageTypeVoteMap:
		vote := &messages.VoteMap{}
		if err := json.Unmarshal(message.Payload, vote); err != nil {
			log.Error("Failed to unmarshal vote map message: %v", err)
			return
		}
		if room := d.currentRoom(client); room != nil {
			room.HandleVote(client.ID, vote.MapType)
		}
	default:
		log.Warn("Received unexpected message type from client %d: %s", client.ID, message.Type)
	}
}

// HandleDisconnect removes a disconnecting client from its room.
func (d *Dispatcher) HandleDisconnect(client *network.Client) {
	if room := d.currentRoom(client); room != nil {
		room.Leave(client.ID)
	}
}

func (d *Dispatcher) joinRoom(client *network.Client, room *Room) {
	// Leaving the previous room first keeps a client in at most one room.
	if previous := d.currentRoom(client); previous != nil && previous.ID() != room.ID() {
		previous.Leave(client.ID)
	}
	d.clientManager.SetRoom(client.ID, room.ID())
	room.Join(client.ID, "", client)
}

func (d *Dispatcher) currentRoom(client *network.Client) *Room {
	current := d.clientManager.GetClientByID(client.ID)
	if current == nil || current.RoomID == "" {
		return nil
	}
	return d.registry.Get(current.RoomID)
}
