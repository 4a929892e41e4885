package messages

import (
	"encoding/json"

	gametypes "warfront/pkg/game/types"
)

// MessageType identifies a message on the wire.
type MessageType string

// Client -> server message types
const (
	MessageTypeClientHello        MessageType = "CLIENT_HELLO"
	MessageTypeIdentifyConnection MessageType = "identify_connection"
	MessageTypeJoinByCode         MessageType = "joinByCode"
	MessageTypeQuickJoin          MessageType = "quickJoin"
	MessageTypeCreateCustomGame   MessageType = "createCustomGame"
	MessageTypeRequestGameState   MessageType = "request_game_state"
	MessageTypeMoveIntent         MessageType = "moveIntent"
	MessageTypeForceStartMatch    MessageType = "force_start_match"
	MessageTypeVoteMap            MessageType = "vote_map"
	MessageTypePingCheck          MessageType = "ping_check"
)

// Server -> client message types
const (
	MessageTypeServerHello      MessageType = "SERVER_HELLO"
	MessageTypeJoinedRoom       MessageType = "joinedRoom"
	MessageTypeGameStatus       MessageType = "gameStatus"
	MessageTypeLobbySettings    MessageType = "lobbySettings"
	MessageTypeVotingUpdate     MessageType = "votingUpdate"
	MessageTypeGameStarted      MessageType = "gameStarted"
	MessageTypeMatchStartFailed MessageType = "MATCH_START_FAILED"
	MessageTypeMatchEnded       MessageType = "MATCH_ENDED"
	MessageTypePlayersData      MessageType = "playersData"
	MessageTypeMapData          MessageType = "mapData"
	MessageTypeUnitsData        MessageType = "unitsData"
	MessageTypePongCheck        MessageType = "pong_check"
)

// Message represents a generic message for serialization/deserialization.
// ClientID 0 means the message is from the server.
type Message struct {
	ClientID uint32          `json:"clientID"`
	Type     MessageType     `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ClientHello opens the greeting exchange after the transport connects.
type ClientHello struct {
	ClientVersion string `json:"clientVersion"`
	UserAgent     string `json:"userAgent"`
}

// ServerHello acknowledges the greeting. No protocol negotiation beyond
// a version/capability echo.
type ServerHello struct {
	ServerVersion   string `json:"serverVersion"`
	ProtocolVersion int    `json:"protocolVersion"`
	MOTD            string `json:"motd,omitempty"`
}

// IdentifyConnection reports the client's link class after the handshake
// so the server can pick jitter-tolerant thresholds for long-haul links.
type IdentifyConnection struct {
	IsTunnel bool `json:"isTunnel"`
}

type JoinByCode struct {
	RoomID string `json:"roomId"`
}

type QuickJoin struct {
	MapType   string `json:"mapType"`
	TunnelURL string `json:"tunnelUrl,omitempty"`
	ForceNew  bool   `json:"forceNew,omitempty"`
}

type CreateCustomGame struct {
	MapType    string `json:"mapType"`
	BotCount   int    `json:"botCount"`
	Difficulty string `json:"difficulty"`
}

// MoveIntent is a uniquely identified move command for one unit. The
// server echoes the intent id on the unit so the client can tell which
// command an authoritative position belongs to.
type MoveIntent struct {
	UnitID     string  `json:"unitId"`
	IntentID   string  `json:"intentId"`
	DestX      float64 `json:"destX"`
	DestY      float64 `json:"destY"`
	ClientTime int64   `json:"clientTime"`
}

type VoteMap struct {
	MapType string `json:"mapType"`
}

type PingCheck struct {
	Timestamp int64 `json:"timestamp"`
}

type PongCheck struct {
	Timestamp int64 `json:"timestamp"`
}

// JoinedRoom confirms room membership and tells the client which player
// record is its own.
type JoinedRoom struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type GameStatus struct {
	Status gametypes.MatchStatus `json:"status"`
}

type LobbySettings struct {
	RequiredPlayers int `json:"requiredPlayers"`
}

type VotingUpdate struct {
	TimeLeft int64             `json:"timeLeft"`
	Votes    map[string]string `json:"votes"`
}

type MatchStartFailed struct {
	Reason string `json:"reason"`
}

// MatchEnded is the sole authoritative end-of-match signal.
type MatchEnded struct {
	WinnerPlayerID      string   `json:"winnerPlayerId"`
	EliminatedPlayerIDs []string `json:"eliminatedPlayerIds"`
	EndReason           string   `json:"endReason"`
	Timestamp           int64    `json:"timestamp"`
}

type PlayersData struct {
	Players []gametypes.Player `json:"players"`
}

type MapData struct {
	Map gametypes.MapSnapshot `json:"map"`
}

type UnitsData struct {
	Units []gametypes.Entity `json:"units"`
}
