package rooms

import (
	"context"
	"fmt"
	"time"

	gametypes "warfront/pkg/game/types"
	"warfront/pkg/kinematic"
	"warfront/pkg/log"
	"warfront/pkg/messages"

	"github.com/google/uuid"
)

const (
	DefaultTickInterval    = 100 * time.Millisecond
	DefaultVotingDuration  = 10 * time.Second
	DefaultRequiredPlayers = 2

	// UnitAcceleration and UnitDeceleration are the fixed rates the
	// authoritative simulation moves units with. The client predictor
	// mirrors them.
	UnitAcceleration = 160.0
	UnitDeceleration = 320.0
	// ArrivalEpsilon is how close to the target a unit must be to stop.
	ArrivalEpsilon = 2.0

	DefaultUnitSpeed    = 80.0
	UnitsPerPlayer      = 3
	votingUpdatePeriod  = time.Second
	matchEndReasonWin   = "elimination"
	matchEndReasonEmpty = "abandoned"
)

var playerColors = []string{"red", "blue", "green", "yellow", "purple", "orange", "teal", "pink"}

// Conn is the send-side of a member's connection.
type Conn interface {
	Send(msg *messages.Message) error
}

// Room is an addressable authoritative match session. All state is owned
// by the room goroutine: mutations arrive through the inbox and the
// simulation tick, never concurrently.
type Room struct {
	id              string
	mapType         string
	requiredPlayers int
	botCount        int
	difficulty      string
	private         bool
	tickInterval    time.Duration
	votingDuration  time.Duration
	resultChan      chan<- gametypes.MatchResult
	onEmpty         func(roomID string)

	inbox chan roomMsg
	done  chan struct{}

	status           gametypes.MatchStatus
	matchID          string
	members          map[uint32]*member
	players          map[string]*gametypes.Player
	units            map[string]*unitState
	mapSnapshot      gametypes.MapSnapshot
	votes            map[string]string
	voteSeq          []voteRecord
	votingEndsAt     time.Time
	lastVotingUpdate time.Time

	rosterDirty bool
	unitsDirty  bool
}

type member struct {
	clientID uint32
	playerID string
	conn     Conn
}

type unitState struct {
	entity *gametypes.Entity
	speed  float64
	moving bool
}

type voteRecord struct {
	playerID string
	mapType  string
}

type roomMsg interface{ isRoomMsg() }

type joinMsg struct {
	clientID uint32
	name     string
	conn     Conn
}

type leaveMsg struct{ clientID uint32 }

type intentMsg struct {
	clientID uint32
	intent   messages.MoveIntent
}

type voteMsg struct {
	clientID uint32
	mapType  string
}

type forceStartMsg struct{ clientID uint32 }

type stateRequestMsg struct{ clientID uint32 }

type summaryMsg struct{ reply chan Summary }

func (joinMsg) isRoomMsg()         {}
func (leaveMsg) isRoomMsg()        {}
func (intentMsg) isRoomMsg()       {}
func (voteMsg) isRoomMsg()         {}
func (forceStartMsg) isRoomMsg()   {}
func (stateRequestMsg) isRoomMsg() {}
func (summaryMsg) isRoomMsg()      {}

// Summary is a read-only view of a room for the HTTP API and tests.
type Summary struct {
	ID              string                `json:"id"`
	MapType         string                `json:"mapType"`
	Status          gametypes.MatchStatus `json:"status"`
	PlayerCount     int                   `json:"playerCount"`
	RequiredPlayers int                   `json:"requiredPlayers"`
	Private         bool                  `json:"private,omitempty"`
}

type NewRoomOptions struct {
	ID              string
	MapType         string
	RequiredPlayers int
	BotCount        int
	Difficulty      string
	// Private rooms are joined by code only, never by matchmaking.
	Private bool
	TickInterval    time.Duration
	VotingDuration  time.Duration
	ResultChan      chan<- gametypes.MatchResult
	OnEmpty         func(roomID string)
}

// NewRoom creates a room and starts its goroutine.
func NewRoom(ctx context.Context, opts NewRoomOptions) *Room {
	r := newRoom(opts)
	go r.loop(ctx)
	return r
}

func newRoom(opts NewRoomOptions) *Room {
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.VotingDuration == 0 {
		opts.VotingDuration = DefaultVotingDuration
	}
	if opts.RequiredPlayers == 0 {
		opts.RequiredPlayers = DefaultRequiredPlayers
	}
	r := &Room{
		id:              opts.ID,
		mapType:         opts.MapType,
		requiredPlayers: opts.RequiredPlayers,
		botCount:        opts.BotCount,
		difficulty:      opts.Difficulty,
		private:         opts.Private,
		tickInterval:    opts.TickInterval,
		votingDuration:  opts.VotingDuration,
		resultChan:      opts.ResultChan,
		onEmpty:         opts.OnEmpty,
		inbox:           make(chan roomMsg, 64),
		done:            make(chan struct{}),
		status:          gametypes.MatchStatusWaiting,
		members:         make(map[uint32]*member),
		players:         make(map[string]*gametypes.Player),
		units:           make(map[string]*unitState),
		votes:           make(map[string]string),
	}
	return r
}

func (r *Room) ID() string { return r.id }

// Join adds a client to the room.
func (r *Room) Join(clientID uint32, name string, conn Conn) {
	r.inbox <- joinMsg{clientID: clientID, name: name, conn: conn}
}

// Leave removes a client from the room.
func (r *Room) Leave(clientID uint32) {
	r.inbox <- leaveMsg{clientID: clientID}
}

// HandleIntent applies a client's move intent to the simulation.
func (r *Room) HandleIntent(clientID uint32, intent messages.MoveIntent) {
	r.inbox <- intentMsg{clientID: clientID, intent: intent}
}

// HandleVote records a client's map vote.
func (r *Room) HandleVote(clientID uint32, mapType string) {
	r.inbox <- voteMsg{clientID: clientID, mapType: mapType}
}

// ForceStart begins the match start sequence without waiting for the
// lobby to fill.
func (r *Room) ForceStart(clientID uint32) {
	r.inbox <- forceStartMsg{clientID: clientID}
}

// RequestState resends the full room state to one client.
func (r *Room) RequestState(clientID uint32) {
	r.inbox <- stateRequestMsg{clientID: clientID}
}

// Summary returns a read-only view of the room. The second return is
// false when the room goroutine has already shut down; without it a
// caller holding a stale room handle would block forever on the inbox.
func (r *Room) Summary() (Summary, bool) {
	reply := make(chan Summary, 1)
	select {
	case r.inbox <- summaryMsg{reply: reply}:
	case <-r.done:
		return Summary{}, false
	}
	select {
	case summary := <-reply:
		return summary, true
	case <-r.done:
		return Summary{}, false
	}
}

func (r *Room) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.inbox:
			r.handle(m)
		case t := <-ticker.C:
			r.tick(t)
		}
	}
}

func (r *Room) handle(m roomMsg) {
	switch msg := m.(type) {
	case joinMsg:
		r.handleJoin(msg)
	case leaveMsg:
		r.handleLeave(msg)
	case intentMsg:
		r.handleIntent(msg)
	case voteMsg:
		r.handleVote(msg)
	case forceStartMsg:
		r.handleForceStart(msg)
	case stateRequestMsg:
		r.sendFullState(msg.clientID)
	case summaryMsg:
		msg.reply <- Summary{
			ID:              r.id,
			MapType:         r.mapType,
			Status:          r.status,
			PlayerCount:     len(r.players),
			RequiredPlayers: r.requiredPlayers,
			Private:         r.private,
		}
	}
}

func (r *Room) handleJoin(msg joinMsg) {
	playerID := fmt.Sprintf("player-%d", msg.clientID)
	if msg.name == "" {
		msg.name = playerID
	}
	r.members[msg.clientID] = &member{
		clientID: msg.clientID,
		playerID: playerID,
		conn:     msg.conn,
	}
	r.players[playerID] = &gametypes.Player{
		ID:     playerID,
		Color:  playerColors[len(r.players)%len(playerColors)],
		Name:   msg.name,
		Status: gametypes.PlayerStatusActive,
	}
	r.rosterDirty = true
	log.Info("Player %s joined room %s", playerID, r.id)

	r.sendTo(msg.clientID, messages.MessageTypeJoinedRoom, &messages.JoinedRoom{RoomID: r.id, PlayerID: playerID})
	r.sendTo(msg.clientID, messages.MessageTypeLobbySettings, &messages.LobbySettings{RequiredPlayers: r.requiredPlayers})
	r.sendFullState(msg.clientID)

	if r.status == gametypes.MatchStatusWaiting && r.humanCount() >= r.requiredPlayers {
		r.beginVoting()
	}
}

func (r *Room) handleLeave(msg leaveMsg) {
	mem, ok := r.members[msg.clientID]
	if !ok {
		return
	}
	delete(r.members, msg.clientID)
	log.Info("Player %s left room %s", mem.playerID, r.id)

	switch r.status {
	case gametypes.MatchStatusPlaying:
		// Mid-match the player record survives as eliminated so the
		// roster broadcast stays consistent for everyone else.
		if player, ok := r.players[mem.playerID]; ok {
			player.Status = gametypes.PlayerStatusEliminated
		}
		for _, unit := range r.units {
			if unit.entity.OwnerID == mem.playerID {
				delete(r.units, unit.entity.ID)
			}
		}
		r.rosterDirty = true
		r.unitsDirty = true
		r.checkMatchEnd()
	default:
		delete(r.players, mem.playerID)
		r.rosterDirty = true
		r.purgeVote(mem.playerID)
	}

	if len(r.members) == 0 && r.onEmpty != nil {
		r.onEmpty(r.id)
	}
}

// purgeVote drops a departed player's vote so it cannot decide the map.
func (r *Room) purgeVote(playerID string) {
	if _, voted := r.votes[playerID]; !voted {
		return
	}
	delete(r.votes, playerID)
	for i := range r.voteSeq {
		if r.voteSeq[i].playerID == playerID {
			r.voteSeq = append(r.voteSeq[:i], r.voteSeq[i+1:]...)
			break
		}
	}
	if r.status == gametypes.MatchStatusVoting {
		r.broadcastVotingUpdate()
	}
}

func (r *Room) handleIntent(msg intentMsg) {
	if r.status != gametypes.MatchStatusPlaying {
		log.Debug("Dropping move intent from client %d outside a match", msg.clientID)
		return
	}
	mem, ok := r.members[msg.clientID]
	if !ok {
		return
	}
	unit, ok := r.units[msg.intent.UnitID]
	if !ok {
		log.Warn("Client %d sent intent for unknown unit %s", msg.clientID, msg.intent.UnitID)
		return
	}
	if unit.entity.OwnerID != mem.playerID {
		log.Warn("Client %d sent intent for unit %s it does not own", msg.clientID, msg.intent.UnitID)
		return
	}
	if unit.entity.MaxSpeed <= 0 {
		// Structures cannot move; accepting the intent would leave them
		// flagged as moving at speed zero forever.
		log.Warn("Client %d sent intent for immobile unit %s", msg.clientID, msg.intent.UnitID)
		return
	}
	unit.entity.IntentID = msg.intent.IntentID
	unit.entity.TargetX = msg.intent.DestX
	unit.entity.TargetY = msg.intent.DestY
	unit.moving = true
	r.unitsDirty = true
}

func (r *Room) handleVote(msg voteMsg) {
	if r.status != gametypes.MatchStatusVoting {
		log.Debug("Dropping map vote from client %d outside voting", msg.clientID)
		return
	}
	mem, ok := r.members[msg.clientID]
	if !ok {
		return
	}
	if _, voted := r.votes[mem.playerID]; !voted {
		r.voteSeq = append(r.voteSeq, voteRecord{playerID: mem.playerID, mapType: msg.mapType})
	} else {
		for i := range r.voteSeq {
			if r.voteSeq[i].playerID == mem.playerID {
				r.voteSeq[i].mapType = msg.mapType
				break
			}
		}
	}
	r.votes[mem.playerID] = msg.mapType
	r.broadcastVotingUpdate()
}

func (r *Room) handleForceStart(msg forceStartMsg) {
	if r.status != gametypes.MatchStatusWaiting {
		return
	}
	log.Info("Client %d force-started room %s", msg.clientID, r.id)
	r.beginVoting()
}

func (r *Room) beginVoting() {
	r.status = gametypes.MatchStatusVoting
	r.votes = make(map[string]string)
	r.voteSeq = nil
	r.votingEndsAt = time.Now().Add(r.votingDuration)
	r.lastVotingUpdate = time.Time{}
	r.broadcast(messages.MessageTypeGameStatus, &messages.GameStatus{Status: r.status})
	r.broadcastVotingUpdate()
}

// resolveVotes picks the map by plurality. Ties break toward the map
// whose winning count was reached first.
func (r *Room) resolveVotes() string {
	counts := make(map[string]int)
	winner := r.mapType
	best := 0
	for _, v := range r.voteSeq {
		counts[v.mapType]++
		if counts[v.mapType] > best {
			best = counts[v.mapType]
			winner = v.mapType
		}
	}
	return winner
}

func (r *Room) startMatch() {
	if r.humanCount() == 0 {
		// The roster emptied while the start sequence was in flight.
		log.Warn("Match start failed in room %s: no players", r.id)
		r.broadcast(messages.MessageTypeMatchStartFailed, &messages.MatchStartFailed{Reason: "No players remaining"})
		r.status = gametypes.MatchStatusWaiting
		r.broadcast(messages.MessageTypeGameStatus, &messages.GameStatus{Status: r.status})
		return
	}

	r.mapType = r.resolveVotes()
	r.matchID = uuid.NewString()
	r.mapSnapshot = gametypes.MapSnapshot{
		Type:   r.mapType,
		Seed:   time.Now().UnixNano(),
		Width:  128,
		Height: 128,
	}

	// Attach bots before the status flips to playing. Clients gate on the
	// explicit gameStarted event, not on intermediate status broadcasts.
	for i := 0; i < r.botCount; i++ {
		botID := fmt.Sprintf("bot-%d", i+1)
		r.players[botID] = &gametypes.Player{
			ID:     botID,
			Color:  playerColors[len(r.players)%len(playerColors)],
			Name:   fmt.Sprintf("Bot %d", i+1),
			IsBot:  true,
			Status: gametypes.PlayerStatusActive,
		}
	}

	r.units = make(map[string]*unitState)
	slot := 0
	for _, player := range r.players {
		r.spawnStartingUnits(player.ID, slot)
		slot++
	}

	r.status = gametypes.MatchStatusPlaying
	r.broadcast(messages.MessageTypeGameStarted, nil)
	r.broadcast(messages.MessageTypeGameStatus, &messages.GameStatus{Status: r.status})
	r.broadcast(messages.MessageTypeMapData, &messages.MapData{Map: r.mapSnapshot})
	r.broadcastRoster()
	r.broadcastUnits()
	log.Info("Match %s started in room %s on map %s", r.matchID, r.id, r.mapType)
}

func (r *Room) spawnStartingUnits(playerID string, slot int) {
	baseX := 100.0 + float64(slot)*400.0
	baseY := 100.0 + float64(slot%2)*400.0
	hq := &gametypes.Entity{
		ID:      fmt.Sprintf("%s-hq", playerID),
		OwnerID: playerID,
		Type:    "hq",
		X:       baseX,
		Y:       baseY,
	}
	r.units[hq.ID] = &unitState{entity: hq}
	for i := 0; i < UnitsPerPlayer; i++ {
		unit := &gametypes.Entity{
			ID:       fmt.Sprintf("%s-unit-%d", playerID, i+1),
			OwnerID:  playerID,
			Type:     "rifleman",
			X:        baseX + 40.0 + float64(i)*20.0,
			Y:        baseY + 40.0,
			MaxSpeed: DefaultUnitSpeed,
		}
		r.units[unit.ID] = &unitState{entity: unit}
	}
}

func (r *Room) checkMatchEnd() {
	if r.status != gametypes.MatchStatusPlaying {
		return
	}
	if r.humanCount() == 0 {
		r.endMatch("", matchEndReasonEmpty)
		return
	}
	var active []string
	for _, player := range r.players {
		if player.Status != gametypes.PlayerStatusEliminated {
			active = append(active, player.ID)
		}
	}
	if len(active) == 1 {
		r.endMatch(active[0], matchEndReasonWin)
	}
}

func (r *Room) endMatch(winnerID, reason string) {
	var eliminated []string
	for _, player := range r.players {
		if player.Status == gametypes.PlayerStatusEliminated {
			eliminated = append(eliminated, player.ID)
		}
	}
	ended := &messages.MatchEnded{
		WinnerPlayerID:      winnerID,
		EliminatedPlayerIDs: eliminated,
		EndReason:           reason,
		Timestamp:           time.Now().UnixMilli(),
	}
	r.broadcast(messages.MessageTypeMatchEnded, ended)
	log.Info("Match %s ended in room %s: winner=%s reason=%s", r.matchID, r.id, winnerID, reason)

	if r.resultChan != nil {
		result := gametypes.MatchResult{
			MatchID:             r.matchID,
			RoomID:              r.id,
			MapType:             r.mapType,
			WinnerPlayerID:      winnerID,
			EliminatedPlayerIDs: eliminated,
			EndReason:           reason,
			Timestamp:           ended.Timestamp,
		}
		select {
		case r.resultChan <- result:
		default:
			log.Error("Match result channel full, dropping result for match %s", r.matchID)
		}
	}

	// Back to the lobby. Bots and eliminated players are dropped from the
	// roster; connected members keep their player records.
	r.units = make(map[string]*unitState)
	r.matchID = ""
	for id, player := range r.players {
		if player.IsBot || player.Status == gametypes.PlayerStatusEliminated {
			delete(r.players, id)
			continue
		}
	}
	r.status = gametypes.MatchStatusWaiting
	r.broadcast(messages.MessageTypeGameStatus, &messages.GameStatus{Status: r.status})
	r.broadcastRoster()
}

func (r *Room) tick(t time.Time) {
	switch r.status {
	case gametypes.MatchStatusVoting:
		if !t.Before(r.votingEndsAt) {
			r.startMatch()
		} else if t.Sub(r.lastVotingUpdate) >= votingUpdatePeriod {
			r.broadcastVotingUpdate()
		}
	case gametypes.MatchStatusPlaying:
		r.stepSimulation(r.tickInterval.Seconds())
	}

	// Snapshot broadcasts are coalesced to the tick so a burst of
	// mutations costs one fan-out, not one per mutation.
	if r.rosterDirty {
		r.broadcastRoster()
	}
	if r.unitsDirty {
		r.broadcastUnits()
	}
}

func (r *Room) stepSimulation(deltaTime float64) {
	for _, unit := range r.units {
		if !unit.moving {
			continue
		}
		ent := unit.entity
		dist := kinematic.Distance(ent.X, ent.Y, ent.TargetX, ent.TargetY)
		if dist > ArrivalEpsilon {
			unit.speed = kinematic.Accelerate(unit.speed, ent.MaxSpeed, UnitAcceleration, deltaTime)
		} else {
			unit.speed = kinematic.Decelerate(unit.speed, UnitDeceleration, deltaTime)
			if unit.speed == 0 {
				ent.X = ent.TargetX
				ent.Y = ent.TargetY
				unit.moving = false
				r.unitsDirty = true
				continue
			}
		}
		step := unit.speed * deltaTime
		if step > dist {
			step = dist
		}
		if dist > 0 {
			ent.X += (ent.TargetX - ent.X) / dist * step
			ent.Y += (ent.TargetY - ent.Y) / dist * step
		}
		r.unitsDirty = true
	}
}

func (r *Room) humanCount() int {
	return len(r.members)
}

func (r *Room) sendFullState(clientID uint32) {
	r.sendTo(clientID, messages.MessageTypeGameStatus, &messages.GameStatus{Status: r.status})
	r.sendTo(clientID, messages.MessageTypePlayersData, &messages.PlayersData{Players: r.playerList()})
	if r.status == gametypes.MatchStatusPlaying {
		r.sendTo(clientID, messages.MessageTypeMapData, &messages.MapData{Map: r.mapSnapshot})
		r.sendTo(clientID, messages.MessageTypeUnitsData, &messages.UnitsData{Units: r.unitList()})
	}
}

func (r *Room) playerList() []gametypes.Player {
	players := make([]gametypes.Player, 0, len(r.players))
	for _, player := range r.players {
		players = append(players, *player)
	}
	return players
}

func (r *Room) unitList() []gametypes.Entity {
	units := make([]gametypes.Entity, 0, len(r.units))
	for _, unit := range r.units {
		units = append(units, *unit.entity)
	}
	return units
}

func (r *Room) broadcastRoster() {
	r.broadcast(messages.MessageTypePlayersData, &messages.PlayersData{Players: r.playerList()})
	r.rosterDirty = false
}

func (r *Room) broadcastUnits() {
	r.broadcast(messages.MessageTypeUnitsData, &messages.UnitsData{Units: r.unitList()})
	r.unitsDirty = false
}

func (r *Room) broadcastVotingUpdate() {
	timeLeft := time.Until(r.votingEndsAt).Milliseconds()
	if timeLeft < 0 {
		timeLeft = 0
	}
	votes := make(map[string]string, len(r.votes))
	for playerID, mapType := range r.votes {
		votes[playerID] = mapType
	}
	r.broadcast(messages.MessageTypeVotingUpdate, &messages.VotingUpdate{
		TimeLeft: timeLeft,
		Votes:    votes,
	})
	r.lastVotingUpdate = time.Now()
}

func (r *Room) broadcast(msgType messages.MessageType, payload interface{}) {
	msg, err := messages.NewMessage(0, msgType, payload)
	if err != nil {
		log.Error("Failed to build %s broadcast: %v", msgType, err)
		return
	}
	for _, mem := range r.members {
		if err := mem.conn.Send(msg); err != nil {
			log.Error("Failed to send %s to client %d: %v", msgType, mem.clientID, err)
		}
	}
}

func (r *Room) sendTo(clientID uint32, msgType messages.MessageType, payload interface{}) {
	mem, ok := r.members[clientID]
	if !ok {
		return
	}
	msg, err := messages.NewMessage(0, msgType, payload)
	if err != nil {
		log.Error("Failed to build %s message: %v", msgType, err)
		return
	}
	if err := mem.conn.Send(msg); err != nil {
		log.Error("Failed to send %s to client %d: %v", msgType, clientID, err)
	}
}
