package session

import (
	"encoding/json"
	"testing"
	"time"

	gametypes "warfront/pkg/game/types"
	"warfront/pkg/messages"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnection struct {
	isTunnel bool
	ping     float64
	sent     []*messages.Message
}

func (c *fakeConnection) Send(msgType messages.MessageType, payload interface{}) error {
	msg, err := messages.NewMessage(0, msgType, payload)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConnection) IsTunnel() bool { return c.isTunnel }
func (c *fakeConnection) Ping() float64  { return c.ping }

func serverMessage(t *testing.T, msgType messages.MessageType, payload interface{}) *messages.Message {
	msg, err := messages.NewMessage(0, msgType, payload)
	require.NoError(t, err)
	return msg
}

func newTestSession(conn *fakeConnection, now func() time.Time) *Session {
	return NewSession(NewSessionOptions{
		Connection: conn,
		Now:        now,
	})
}

func TestSessionJoinedRoomCreatesPredictor(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSession(conn, nil)
	require.Nil(t, s.Predictor())

	s.HandleMessage(serverMessage(t, messages.MessageTypeJoinedRoom, &messages.JoinedRoom{
		RoomID:   "room-1",
		PlayerID: "player-1",
	}))

	assert.Equal(t, "room-1", s.RoomID())
	assert.Equal(t, "player-1", s.PlayerID())
	assert.NotNil(t, s.Predictor())
}

func TestSessionRoutesLifecycleEvents(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSession(conn, nil)

	s.HandleMessage(serverMessage(t, messages.MessageTypeVotingUpdate, &messages.VotingUpdate{
		TimeLeft: 8000,
		Votes:    map[string]string{"player-1": "desert"},
	}))
	assert.Equal(t, ViewStarting, s.Gate().View())
	assert.Equal(t, "desert", s.Voting().Votes["player-1"])

	s.HandleMessage(serverMessage(t, messages.MessageTypeGameStarted, nil))
	assert.Equal(t, ViewInMatch, s.Gate().View())

	// A stale status report cannot bounce the client back to the lobby.
	s.HandleMessage(serverMessage(t, messages.MessageTypeGameStatus, &messages.GameStatus{
		Status: gametypes.MatchStatusWaiting,
	}))
	assert.Equal(t, ViewInMatch, s.Gate().View())

	s.HandleMessage(serverMessage(t, messages.MessageTypeMatchEnded, &messages.MatchEnded{
		WinnerPlayerID: "player-1",
		EndReason:      "elimination",
	}))
	assert.Equal(t, ViewLobby, s.Gate().View())
	require.NotNil(t, s.LastResult())
	assert.Equal(t, "player-1", s.LastResult().WinnerPlayerID)
}

func TestSessionMatchStartFailedRevertsOptimisticStaging(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSession(conn, nil)

	require.NoError(t, s.ForceStart())
	assert.Equal(t, ViewStarting, s.Gate().View())

	s.HandleMessage(serverMessage(t, messages.MessageTypeMatchStartFailed, &messages.MatchStartFailed{
		Reason: "No players remaining",
	}))
	assert.Equal(t, ViewLobby, s.Gate().View())
}

func TestSessionReadinessAfterGameStarted(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	conn := &fakeConnection{ping: 40}
	s := newTestSession(conn, clock)

	s.HandleMessage(serverMessage(t, messages.MessageTypeJoinedRoom, &messages.JoinedRoom{
		RoomID:   "room-1",
		PlayerID: "player-1",
	}))
	assert.False(t, s.ReadyForLobby())

	// The lobby checklist needs the roster plus stable samples.
	s.HandleMessage(serverMessage(t, messages.MessageTypePlayersData, &messages.PlayersData{
		Players: []gametypes.Player{{ID: "player-1"}},
	}))
	for i := 0; i < 8; i++ {
		s.Update(0.05, 60)
	}
	now = now.Add(2 * time.Second)
	assert.True(t, s.ReadyForLobby())

	s.HandleMessage(serverMessage(t, messages.MessageTypeGameStarted, nil))
	assert.False(t, s.ReadyForLobby(), "the lobby checklist retires at match start")
	assert.False(t, s.ReadyForGameplay())

	s.HandleMessage(serverMessage(t, messages.MessageTypePlayersData, &messages.PlayersData{
		Players: []gametypes.Player{{ID: "player-1"}},
	}))
	s.HandleMessage(serverMessage(t, messages.MessageTypeMapData, &messages.MapData{
		Map: gametypes.MapSnapshot{Type: "desert", Seed: 1},
	}))
	s.HandleMessage(serverMessage(t, messages.MessageTypeUnitsData, &messages.UnitsData{
		Units: []gametypes.Entity{{ID: "player-1-hq", OwnerID: "player-1"}},
	}))

	// Warm up past the minimum with stable samples.
	for i := 0; i < 8; i++ {
		s.Update(0.05, 60)
	}
	now = now.Add(2 * time.Second)
	assert.True(t, s.ReadyForGameplay())
}

func TestSessionMoveUnitSendsIntent(t *testing.T) {
	conn := &fakeConnection{}
	s := newTestSession(conn, nil)

	assert.Error(t, s.MoveUnit("player-1-unit-1", 10, 10), "moving outside a room fails")

	s.HandleMessage(serverMessage(t, messages.MessageTypeJoinedRoom, &messages.JoinedRoom{
		RoomID:   "room-1",
		PlayerID: "player-1",
	}))
	s.HandleMessage(serverMessage(t, messages.MessageTypeUnitsData, &messages.UnitsData{
		Units: []gametypes.Entity{{ID: "player-1-unit-1", OwnerID: "player-1", MaxSpeed: 80}},
	}))

	require.NoError(t, s.MoveUnit("player-1-unit-1", 300, 400))

	var intent *messages.MoveIntent
	for _, msg := range conn.sent {
		if msg.Type == messages.MessageTypeMoveIntent {
			intent = &messages.MoveIntent{}
			require.NoError(t, json.Unmarshal(msg.Payload, intent))
		}
	}
	require.NotNil(t, intent, "expected a move intent on the wire")
	assert.Equal(t, "player-1-unit-1", intent.UnitID)
	assert.NotEmpty(t, intent.IntentID)
	assert.Equal(t, 300.0, intent.DestX)
	assert.Equal(t, 400.0, intent.DestY)
	assert.True(t, s.Predictor().Moving("player-1-unit-1"), "the unit moves locally right away")
}
