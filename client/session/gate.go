package session

import (
	"sync"

	gametypes "warfront/pkg/game/types"
	"warfront/pkg/log"
)

// View is the coarse UI mode derived from room events.
type View string

const (
	ViewLobby    View = "LOBBY"
	ViewStarting View = "STARTING"
	ViewInMatch  View = "IN_MATCH"
)

// LifecycleGate decides which view the client shows. All room observers
// must share one instance; event-driven transitions and status snapshots
// funnel through it so a stale status report can never bounce a client
// out of a running match.
type LifecycleGate struct {
	mu        sync.Mutex
	view      View
	listeners map[int]func(View)
	nextID    int
}

func NewLifecycleGate() *LifecycleGate {
	return &LifecycleGate{
		view:      ViewLobby,
		listeners: make(map[int]func(View)),
	}
}

// View returns the current view.
func (g *LifecycleGate) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.view
}

// Subscribe registers a view listener, immediately delivers the current
// view, and returns an unsubscribe handle.
func (g *LifecycleGate) Subscribe(listener func(View)) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = listener
	current := g.view
	g.mu.Unlock()

	listener(current)

	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

// OnGameStarted handles the explicit start event. It always wins,
// whatever the current view.
func (g *LifecycleGate) OnGameStarted() {
	g.setView(ViewInMatch)
}

// OnVotingStarted moves to the pre-match staging view.
func (g *LifecycleGate) OnVotingStarted() {
	g.setView(ViewStarting)
}

// OnMatchStartFailed returns to the lobby after an aborted start.
func (g *LifecycleGate) OnMatchStartFailed(reason string) {
	log.Warn("Match start failed: %s", reason)
	g.setView(ViewLobby)
}

// OnForceStartRequested optimistically stages the match on the local
// force-start action. The server's start-failed event reverts it.
func (g *LifecycleGate) OnForceStartRequested() {
	g.setView(ViewStarting)
}

// OnMatchEnded handles the authoritative end-of-match event.
func (g *LifecycleGate) OnMatchEnded() {
	g.setView(ViewLobby)
}

// OnStatus handles a room status snapshot. Status reports can arrive
// late or out of order relative to the start event, so a "waiting"
// status is only honored while still in the lobby: once a start has
// been observed, only the explicit end-of-match event leaves the match.
func (g *LifecycleGate) OnStatus(status gametypes.MatchStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch status {
	case gametypes.MatchStatusPlaying:
		g.setViewLocked(ViewInMatch)
	case gametypes.MatchStatusVoting:
		g.setViewLocked(ViewStarting)
	case gametypes.MatchStatusWaiting:
		if g.view == ViewLobby {
			g.setViewLocked(ViewLobby)
		} else {
			log.Debug("Ignoring waiting status in view %s", g.view)
		}
	}
}

func (g *LifecycleGate) setView(view View) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setViewLocked(view)
}

func (g *LifecycleGate) setViewLocked(view View) {
	if g.view == view {
		return
	}
	log.Debug("View transition: %s -> %s", g.view, view)
	g.view = view
	for _, listener := range g.listeners {
		listener(view)
	}
}
