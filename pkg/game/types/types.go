package types

// MatchStatus is the authoritative status of a room as broadcast to clients.
type MatchStatus string

const (
	MatchStatusWaiting MatchStatus = "waiting"
	MatchStatusVoting  MatchStatus = "voting"
	MatchStatusPlaying MatchStatus = "playing"
)

// PlayerStatus marks a player as still contending or eliminated.
type PlayerStatus string

const (
	PlayerStatusActive     PlayerStatus = "active"
	PlayerStatusEliminated PlayerStatus = "eliminated"
)

// Resources is a player's stockpile.
type Resources struct {
	Gold int64 `json:"gold"`
	Oil  int64 `json:"oil"`
}

// Player is an authoritative player record, replaced wholesale on each
// roster broadcast.
type Player struct {
	ID        string       `json:"id"`
	Color     string       `json:"color"`
	Name      string       `json:"name,omitempty"`
	Resources Resources    `json:"resources"`
	IsBot     bool         `json:"isBot,omitempty"`
	Status    PlayerStatus `json:"status,omitempty"`
}

// Entity is a simulated unit or building. Position and the last accepted
// move intent are the fields the sync layer cares about; everything else
// is opaque gameplay data.
type Entity struct {
	ID       string  `json:"id"`
	OwnerID  string  `json:"ownerId"`
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	IntentID string  `json:"intentId,omitempty"`
	TargetX  float64 `json:"targetX,omitempty"`
	TargetY  float64 `json:"targetY,omitempty"`
	MaxSpeed float64 `json:"maxSpeed,omitempty"`
}

// MapSnapshot is the opaque map payload sent once at match start.
type MapSnapshot struct {
	Type   string `json:"type"`
	Seed   int64  `json:"seed"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// MatchResult is the persisted outcome of a finished match.
type MatchResult struct {
	MatchID             string   `json:"matchId"`
	RoomID              string   `json:"roomId"`
	MapType             string   `json:"mapType"`
	WinnerPlayerID      string   `json:"winnerPlayerId"`
	EliminatedPlayerIDs []string `json:"eliminatedPlayerIds"`
	EndReason           string   `json:"endReason"`
	Timestamp           int64    `json:"timestamp"`
}
