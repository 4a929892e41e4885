package rooms

import (
	"context"
	"testing"
	"time"

	gametypes "warfront/pkg/game/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRegistry(ctx, NewRegistryOptions{})
}

func TestRegistryQuickJoinReusesOpenLobby(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.QuickJoin("desert", false)
	require.NotNil(t, room)

	again := reg.QuickJoin("desert", false)
	assert.Equal(t, room.ID(), again.ID(), "an open lobby on the same map is reused")

	other := reg.QuickJoin("forest", false)
	assert.NotEqual(t, room.ID(), other.ID(), "a different map gets a fresh room")

	forced := reg.QuickJoin("desert", true)
	assert.NotEqual(t, room.ID(), forced.ID(), "forceNew skips open lobbies")
}

func TestRegistryCreateCustomGame(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.CreateCustomGame("desert", 3, "hard")
	summary, ok := room.Summary()
	require.True(t, ok)
	assert.Equal(t, 1, summary.RequiredPlayers, "custom games start on demand")
	assert.Equal(t, "desert", summary.MapType)
	assert.Equal(t, gametypes.MatchStatusWaiting, summary.Status)

	assert.True(t, summary.Private)
	assert.Equal(t, room, reg.Get(room.ID()))

	// Private rooms are joined by code only, never by matchmaking.
	matched := reg.QuickJoin("desert", false)
	assert.NotEqual(t, room.ID(), matched.ID())
}

func TestRegistryGetOrCreateAndRemove(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.GetOrCreate("room-abc", NewRoomOptions{MapType: "plains"})
	require.NotNil(t, room)
	assert.Equal(t, room, reg.GetOrCreate("room-abc", NewRoomOptions{}))
	assert.Len(t, reg.Summaries(), 1)

	reg.Remove("room-abc")
	assert.Nil(t, reg.Get("room-abc"))
	assert.Empty(t, reg.Summaries())
}

func TestRegistrySummaryOfRemovedRoomReturns(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.GetOrCreate("room-abc", NewRoomOptions{MapType: "plains"})
	reg.Remove("room-abc")

	// A caller holding a stale room handle (e.g. Summaries racing a
	// Remove) must get an answer, not block on the dead inbox.
	returned := make(chan bool, 1)
	go func() {
		_, ok := room.Summary()
		returned <- ok
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Summary blocked on a removed room")
	}
	assert.Empty(t, reg.Summaries())
}
