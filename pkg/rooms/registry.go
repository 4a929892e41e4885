package rooms

import (
	"context"
	"fmt"
	"sync"
	"time"

	gametypes "warfront/pkg/game/types"
	"warfront/pkg/log"

	"github.com/google/uuid"
)

// Registry creates and destroys room sessions on demand. It is the
// addressing layer only; all match state lives inside the rooms.
type Registry struct {
	ctx            context.Context
	mu             sync.Mutex
	rooms          map[string]*Room
	cancels        map[string]context.CancelFunc
	tickInterval   time.Duration
	votingDuration time.Duration
	resultChan     chan<- gametypes.MatchResult
}

type NewRegistryOptions struct {
	TickInterval   time.Duration
	VotingDuration time.Duration
	ResultChan     chan<- gametypes.MatchResult
}

func NewRegistry(ctx context.Context, opts NewRegistryOptions) *Registry {
	return &Registry{
		ctx:            ctx,
		rooms:          make(map[string]*Room),
		cancels:        make(map[string]context.CancelFunc),
		tickInterval:   opts.TickInterval,
		votingDuration: opts.VotingDuration,
		resultChan:     opts.ResultChan,
	}
}

// Get returns the room with the given id, or nil.
func (reg *Registry) Get(roomID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[roomID]
}

// GetOrCreate returns the room with the given id, creating it on demand.
func (reg *Registry) GetOrCreate(roomID string, opts NewRoomOptions) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if room, ok := reg.rooms[roomID]; ok {
		return room
	}
	opts.ID = roomID
	return reg.createLocked(opts)
}

// QuickJoin returns the first open lobby matching the map type, creating
// a fresh room when none matches or forceNew is set.
func (reg *Registry) QuickJoin(mapType string, forceNew bool) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if !forceNew {
		for _, room := range reg.rooms {
			summary, ok := room.Summary()
			if !ok || summary.Private || summary.Status != gametypes.MatchStatusWaiting {
				continue
			}
			if mapType != "" && summary.MapType != mapType {
				continue
			}
			return room
		}
	}

	return reg.createLocked(NewRoomOptions{
		ID:      fmt.Sprintf("room-%d", uuid.New().ID()),
		MapType: mapType,
	})
}

// CreateCustomGame creates a private room with a bot roster.
func (reg *Registry) CreateCustomGame(mapType string, botCount int, difficulty string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.createLocked(NewRoomOptions{
		ID:              fmt.Sprintf("room-%d", uuid.New().ID()),
		MapType:         mapType,
		BotCount:        botCount,
		Difficulty:      difficulty,
		RequiredPlayers: 1,
		Private:         true,
	})
}

// createLocked creates and starts a room. The registry lock must be held.
func (reg *Registry) createLocked(opts NewRoomOptions) *Room {
	opts.TickInterval = reg.tickInterval
	opts.VotingDuration = reg.votingDuration
	opts.ResultChan = reg.resultChan
	// Removal hops to a fresh goroutine: the room calls OnEmpty from its
	// own loop, and Remove must not contend with a registry caller that
	// is blocked on that same loop (e.g. QuickJoin reading summaries).
	opts.OnEmpty = func(roomID string) {
		go reg.Remove(roomID)
	}

	ctx, cancel := context.WithCancel(reg.ctx)
	room := NewRoom(ctx, opts)
	reg.rooms[opts.ID] = room
	reg.cancels[opts.ID] = cancel
	log.Info("Created room %s (map %s)", opts.ID, opts.MapType)
	return room
}

// Remove destroys a room session.
func (reg *Registry) Remove(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if cancel, ok := reg.cancels[roomID]; ok {
		cancel()
		delete(reg.cancels, roomID)
	}
	if _, ok := reg.rooms[roomID]; ok {
		delete(reg.rooms, roomID)
		log.Info("Destroyed room %s", roomID)
	}
}

// Summaries returns a view of all live rooms.
func (reg *Registry) Summaries() []Summary {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.Unlock()

	summaries := make([]Summary, 0, len(rooms))
	for _, room := range rooms {
		// A room removed between the snapshot and this call reports no
		// summary instead of blocking on its dead inbox.
		if summary, ok := room.Summary(); ok {
			summaries = append(summaries, summary)
		}
	}
	return summaries
}
