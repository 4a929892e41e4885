package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"warfront/client/prediction"
	"warfront/client/readiness"
	gametypes "warfront/pkg/game/types"
	"warfront/pkg/log"
	"warfront/pkg/messages"

	"github.com/google/uuid"
)

// Readiness flags. The lobby checklist gates the post-join loading
// screen; the match checklist gates the match loading screen. The two
// never overlap in time.
const (
	FlagConnection  = "connection"
	FlagRoster      = "roster"
	FlagMap         = "map"
	FlagUnits       = "units"
	FlagLocalPlayer = "localPlayer"
)

var (
	lobbyReadinessFlags = []string{FlagConnection, FlagRoster}
	matchReadinessFlags = []string{FlagMap, FlagUnits, FlagLocalPlayer}
)

// Connection is the slice of the connection manager the session needs.
type Connection interface {
	Send(msgType messages.MessageType, payload interface{}) error
	IsTunnel() bool
	Ping() float64
}

// Session routes the server stream into the lifecycle gate, the motion
// predictor, and the readiness aggregator, and sends room commands. One
// session per connection.
type Session struct {
	mu   sync.Mutex
	conn Connection
	gate *LifecycleGate
	now  func() time.Time

	roomID          string
	playerID        string
	requiredPlayers int
	players         []gametypes.Player
	mapSnapshot     gametypes.MapSnapshot
	voting          messages.VotingUpdate
	lastResult      *messages.MatchEnded

	predictor      *prediction.Predictor
	lobbyReadiness *readiness.Aggregator
	matchReadiness *readiness.Aggregator
}

type NewSessionOptions struct {
	Connection Connection
	Gate       *LifecycleGate
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewSession creates a new Session.
func NewSession(opts NewSessionOptions) *Session {
	s := &Session{
		conn: opts.Connection,
		gate: opts.Gate,
		now:  opts.Now,
	}
	if s.gate == nil {
		s.gate = NewLifecycleGate()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Gate returns the shared lifecycle gate.
func (s *Session) Gate() *LifecycleGate { return s.gate }

// HandleMessage routes one server message. Wire it as the connection
// manager's message handler.
func (s *Session) HandleMessage(msg *messages.Message) {
	switch msg.Type {
	case messages.MessageTypeJoinedRoom:
		s.handleJoinedRoom(msg)
	case messages.MessageTypeLobbySettings:
		s.handleLobbySettings(msg)
	case messages.MessageTypeGameStatus:
		s.handleGameStatus(msg)
	case messages.MessageTypeVotingUpdate:
		s.handleVotingUpdate(msg)
	case messages.MessageTypeGameStarted:
		s.handleGameStarted()
	case messages.MessageTypeMatchStartFailed:
		s.handleMatchStartFailed(msg)
	case messages.MessageTypeMatchEnded:
		s.handleMatchEnded(msg)
	case messages.MessageTypePlayersData:
		s.handlePlayersData(msg)
	case messages.MessageTypeMapData:
		s.handleMapData(msg)
	case messages.MessageTypeUnitsData:
		s.handleUnitsData(msg)
	default:
		log.Debug("Unhandled message type %s", msg.Type)
	}
}

func (s *Session) handleJoinedRoom(msg *messages.Message) {
	joined := &messages.JoinedRoom{}
	if err := json.Unmarshal(msg.Payload, joined); err != nil {
		log.Error("Failed to unmarshal joined room: %v", err)
		return
	}
	s.mu.Lock()
	s.roomID = joined.RoomID
	s.playerID = joined.PlayerID
	s.predictor = prediction.NewPredictor(prediction.NewPredictorOptions{
		LocalPlayerID: joined.PlayerID,
		Thresholds:    prediction.ThresholdsForLink(s.conn.IsTunnel()),
	})
	s.lobbyReadiness = s.newAggregatorLocked(lobbyReadinessFlags)
	// Receiving joinedRoom means the connection already survived the
	// handshake.
	s.lobbyReadiness.SetFlag(FlagConnection)
	s.mu.Unlock()
	log.Info("Joined room %s as %s", joined.RoomID, joined.PlayerID)
}

// newAggregatorLocked builds a warmup checklist for the current link
// class and starts its clock.
func (s *Session) newAggregatorLocked(flags []string) *readiness.Aggregator {
	agg := readiness.NewAggregator(readiness.NewAggregatorOptions{
		Profile:       readiness.ProfileForLink(s.conn.IsTunnel()),
		RequiredFlags: flags,
	})
	agg.Begin(s.now())
	return agg
}

func (s *Session) handleLobbySettings(msg *messages.Message) {
	settings := &messages.LobbySettings{}
	if err := json.Unmarshal(msg.Payload, settings); err != nil {
		log.Error("Failed to unmarshal lobby settings: %v", err)
		return
	}
	s.mu.Lock()
	s.requiredPlayers = settings.RequiredPlayers
	s.mu.Unlock()
}

func (s *Session) handleGameStatus(msg *messages.Message) {
	status := &messages.GameStatus{}
	if err := json.Unmarshal(msg.Payload, status); err != nil {
		log.Error("Failed to unmarshal game status: %v", err)
		return
	}
	s.gate.OnStatus(status.Status)
}

func (s *Session) handleVotingUpdate(msg *messages.Message) {
	voting := &messages.VotingUpdate{}
	if err := json.Unmarshal(msg.Payload, voting); err != nil {
		log.Error("Failed to unmarshal voting update: %v", err)
		return
	}
	s.mu.Lock()
	s.voting = *voting
	s.mu.Unlock()
	s.gate.OnVotingStarted()
}

func (s *Session) handleGameStarted() {
	s.mu.Lock()
	s.lobbyReadiness = nil
	s.matchReadiness = s.newAggregatorLocked(matchReadinessFlags)
	if s.hasLocalPlayerLocked() {
		s.matchReadiness.SetFlag(FlagLocalPlayer)
	}
	s.mu.Unlock()
	s.gate.OnGameStarted()
}

func (s *Session) hasLocalPlayerLocked() bool {
	for _, player := range s.players {
		if player.ID == s.playerID {
			return true
		}
	}
	return false
}

func (s *Session) handleMatchStartFailed(msg *messages.Message) {
	failed := &messages.MatchStartFailed{}
	if err := json.Unmarshal(msg.Payload, failed); err != nil {
		log.Error("Failed to unmarshal match start failed: %v", err)
		return
	}
	s.gate.OnMatchStartFailed(failed.Reason)
}

func (s *Session) handleMatchEnded(msg *messages.Message) {
	ended := &messages.MatchEnded{}
	if err := json.Unmarshal(msg.Payload, ended); err != nil {
		log.Error("Failed to unmarshal match ended: %v", err)
		return
	}
	s.mu.Lock()
	s.lastResult = ended
	s.matchReadiness = nil
	s.mu.Unlock()
	s.gate.OnMatchEnded()
	log.Info("Match ended: winner=%s reason=%s", ended.WinnerPlayerID, ended.EndReason)
}

func (s *Session) handlePlayersData(msg *messages.Message) {
	data := &messages.PlayersData{}
	if err := json.Unmarshal(msg.Payload, data); err != nil {
		log.Error("Failed to unmarshal players data: %v", err)
		return
	}
	s.mu.Lock()
	s.players = data.Players
	if s.lobbyReadiness != nil {
		s.lobbyReadiness.SetFlag(FlagRoster)
	}
	if s.matchReadiness != nil && s.hasLocalPlayerLocked() {
		s.matchReadiness.SetFlag(FlagLocalPlayer)
	}
	s.mu.Unlock()
}

func (s *Session) handleMapData(msg *messages.Message) {
	data := &messages.MapData{}
	if err := json.Unmarshal(msg.Payload, data); err != nil {
		log.Error("Failed to unmarshal map data: %v", err)
		return
	}
	s.mu.Lock()
	s.mapSnapshot = data.Map
	if s.matchReadiness != nil {
		s.matchReadiness.SetFlag(FlagMap)
	}
	s.mu.Unlock()
}

func (s *Session) handleUnitsData(msg *messages.Message) {
	data := &messages.UnitsData{}
	if err := json.Unmarshal(msg.Payload, data); err != nil {
		log.Error("Failed to unmarshal units data: %v", err)
		return
	}
	s.mu.Lock()
	predictor := s.predictor
	if s.matchReadiness != nil {
		s.matchReadiness.SetFlag(FlagUnits)
	}
	s.mu.Unlock()
	if predictor != nil {
		predictor.Reconcile(data.Units, s.now())
	}
}

// Update advances the local simulation and feeds the active readiness
// sampler. Call once per frame with the frame delta and the measured
// frame rate.
func (s *Session) Update(deltaTime float64, fps float64) {
	s.mu.Lock()
	predictor := s.predictor
	agg := s.matchReadiness
	if agg == nil {
		agg = s.lobbyReadiness
	}
	s.mu.Unlock()

	if predictor != nil {
		predictor.Step(deltaTime)
	}
	if agg != nil {
		agg.RecordPing(s.conn.Ping())
		agg.RecordFPS(fps)
	}
}

// ReadyForLobby reports whether the post-join loading screen can be
// dismissed.
func (s *Session) ReadyForLobby() bool {
	s.mu.Lock()
	agg := s.lobbyReadiness
	s.mu.Unlock()
	return agg != nil && agg.Ready(s.now())
}

// ReadyForGameplay reports whether the match loading screen can be
// dismissed.
func (s *Session) ReadyForGameplay() bool {
	s.mu.Lock()
	agg := s.matchReadiness
	s.mu.Unlock()
	return agg != nil && agg.Ready(s.now())
}

// QuickJoin asks the server for any open room on the given map.
func (s *Session) QuickJoin(mapType string, forceNew bool) error {
	return s.conn.Send(messages.MessageTypeQuickJoin, &messages.QuickJoin{MapType: mapType, ForceNew: forceNew})
}

// JoinByCode joins a specific room by its id.
func (s *Session) JoinByCode(roomID string) error {
	return s.conn.Send(messages.MessageTypeJoinByCode, &messages.JoinByCode{RoomID: roomID})
}

// CreateCustomGame creates a private room with bots.
func (s *Session) CreateCustomGame(mapType string, botCount int, difficulty string) error {
	return s.conn.Send(messages.MessageTypeCreateCustomGame, &messages.CreateCustomGame{
		MapType:    mapType,
		BotCount:   botCount,
		Difficulty: difficulty,
	})
}

// RequestGameState asks the server to resend the full room state.
func (s *Session) RequestGameState() error {
	return s.conn.Send(messages.MessageTypeRequestGameState, nil)
}

// VoteMap casts or changes this player's map vote.
func (s *Session) VoteMap(mapType string) error {
	return s.conn.Send(messages.MessageTypeVoteMap, &messages.VoteMap{MapType: mapType})
}

// ForceStart requests an immediate match start. The view is staged
// optimistically; the server's start-failed event reverts it.
func (s *Session) ForceStart() error {
	s.gate.OnForceStartRequested()
	return s.conn.Send(messages.MessageTypeForceStartMatch, nil)
}

// MoveUnit issues a move command: the unit starts moving locally right
// away and the intent goes to the server for authoritative execution.
func (s *Session) MoveUnit(unitID string, destX, destY float64) error {
	s.mu.Lock()
	predictor := s.predictor
	s.mu.Unlock()
	if predictor == nil {
		return fmt.Errorf("not in a room")
	}

	intentID := uuid.NewString()
	now := s.now()
	predictor.ApplyIntent(unitID, intentID, destX, destY, now)
	return s.conn.Send(messages.MessageTypeMoveIntent, &messages.MoveIntent{
		UnitID:     unitID,
		IntentID:   intentID,
		DestX:      destX,
		DestY:      destY,
		ClientTime: now.UnixMilli(),
	})
}

// Predictor returns the active motion predictor, or nil outside a room.
func (s *Session) Predictor() *prediction.Predictor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predictor
}

// Players returns the last authoritative roster.
func (s *Session) Players() []gametypes.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	players := make([]gametypes.Player, len(s.players))
	copy(players, s.players)
	return players
}

// RoomID returns the current room id, empty when not in a room.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// PlayerID returns this client's player id, empty when not in a room.
func (s *Session) PlayerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// Voting returns the latest voting tally.
func (s *Session) Voting() messages.VotingUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voting
}

// LastResult returns the most recent end-of-match report, or nil.
func (s *Session) LastResult() *messages.MatchEnded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}
