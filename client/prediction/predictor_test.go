package prediction

import (
	"testing"
	"time"

	gametypes "warfront/pkg/game/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalPredictor() *Predictor {
	return NewPredictor(NewPredictorOptions{
		LocalPlayerID: "player-1",
		Thresholds:    ThresholdsForLink(false),
	})
}

func localUnit(x, y float64) gametypes.Entity {
	return gametypes.Entity{
		ID:       "player-1-unit-1",
		OwnerID:  "player-1",
		Type:     "rifleman",
		X:        x,
		Y:        y,
		MaxSpeed: 80,
	}
}

func TestThresholdsForLink(t *testing.T) {
	local := ThresholdsForLink(false)
	assert.Equal(t, Thresholds{Snap: 120, Smooth: 30}, local)

	tunneled := ThresholdsForLink(true)
	assert.Equal(t, Thresholds{Snap: 220, Smooth: 60}, tunneled)
	assert.Greater(t, tunneled.Snap, local.Snap, "tunneled links tolerate more error")
}

func TestPredictorMovesAndArrives(t *testing.T) {
	p := newLocalPredictor()
	now := time.Now()
	p.Reconcile([]gametypes.Entity{localUnit(0, 0)}, now)

	p.ApplyIntent("player-1-unit-1", "intent-1", 50, 0, now)
	require.True(t, p.Moving("player-1-unit-1"))

	for i := 0; i < 100 && p.Moving("player-1-unit-1"); i++ {
		p.Step(0.05)
	}

	assert.False(t, p.Moving("player-1-unit-1"))
	x, y, ok := p.Position("player-1-unit-1", now)
	require.True(t, ok)
	assert.Equal(t, 50.0, x)
	assert.Equal(t, 0.0, y)
}

func TestPredictorReconcileSnapDiscardsPrediction(t *testing.T) {
	p := newLocalPredictor()
	now := time.Now()
	p.Reconcile([]gametypes.Entity{localUnit(0, 0)}, now)
	p.ApplyIntent("player-1-unit-1", "intent-1", 50, 0, now)

	// The server echoes our intent but from a wildly different position.
	server := localUnit(300, 0)
	server.IntentID = "intent-1"
	p.Reconcile([]gametypes.Entity{server}, now)

	x, _, ok := p.Position("player-1-unit-1", now)
	require.True(t, ok)
	assert.Equal(t, 300.0, x, "error above the snap threshold adopts the server position")
}

func TestPredictorReconcileSmoothBlends(t *testing.T) {
	p := newLocalPredictor()
	now := time.Now()
	p.Reconcile([]gametypes.Entity{localUnit(0, 0)}, now)
	p.ApplyIntent("player-1-unit-1", "intent-1", 50, 0, now)

	server := localUnit(60, 0)
	server.IntentID = "intent-1"
	p.Reconcile([]gametypes.Entity{server}, now)

	x, _, ok := p.Position("player-1-unit-1", now)
	require.True(t, ok)
	assert.Greater(t, x, 0.0, "position moved toward the server")
	assert.Less(t, x, 60.0, "but did not snap")
}

func TestPredictorReconcileIgnoresNoise(t *testing.T) {
	p := newLocalPredictor()
	now := time.Now()
	p.Reconcile([]gametypes.Entity{localUnit(0, 0)}, now)
	p.ApplyIntent("player-1-unit-1", "intent-1", 50, 0, now)

	server := localUnit(10, 0)
	server.IntentID = "intent-1"
	p.Reconcile([]gametypes.Entity{server}, now)

	x, _, ok := p.Position("player-1-unit-1", now)
	require.True(t, ok)
	assert.Equal(t, 0.0, x, "error below the smooth threshold is ignored")
}

func TestPredictorHoldsPredictionForUnacknowledgedIntent(t *testing.T) {
	p := newLocalPredictor()
	now := time.Now()
	p.Reconcile([]gametypes.Entity{localUnit(0, 0)}, now)
	p.ApplyIntent("player-1-unit-1", "intent-2", 50, 0, now)

	// The server still reports the previous intent; correcting against it
	// would yank the unit backward.
	server := localUnit(200, 0)
	server.IntentID = "intent-1"
	p.Reconcile([]gametypes.Entity{server}, now)

	x, _, ok := p.Position("player-1-unit-1", now)
	require.True(t, ok)
	assert.Equal(t, 0.0, x)

	// Past the pending age cap the server wins unconditionally.
	p.Reconcile([]gametypes.Entity{server}, now.Add(3*time.Second))
	x, _, ok = p.Position("player-1-unit-1", now)
	require.True(t, ok)
	assert.Equal(t, 200.0, x)
}

func TestPredictorInterpolatesIdleLocalUnits(t *testing.T) {
	p := newLocalPredictor()
	base := time.Now()

	// A locally owned unit with no outstanding command renders from the
	// interpolation buffer, not raw snapshot jumps.
	first := localUnit(0, 0)
	p.Reconcile([]gametypes.Entity{first}, base)
	second := localUnit(200, 0)
	p.Reconcile([]gametypes.Entity{second}, base.Add(100*time.Millisecond))

	renderAt := base.Add(50*time.Millisecond + InterpolationDelay)
	x, y, ok := p.Position("player-1-unit-1", renderAt)
	require.True(t, ok)
	assert.InDelta(t, 100.0, x, 0.001)
	assert.Equal(t, 0.0, y)

	// Issuing a command puts the prediction back in charge.
	p.ApplyIntent("player-1-unit-1", "intent-1", 300, 0, renderAt)
	x, _, ok = p.Position("player-1-unit-1", renderAt)
	require.True(t, ok)
	assert.Equal(t, 200.0, x, "the predicted position takes over immediately")
}

func TestPredictorInterpolatesRemoteUnits(t *testing.T) {
	p := newLocalPredictor()
	base := time.Now()
	remote := gametypes.Entity{ID: "player-2-unit-1", OwnerID: "player-2"}

	first := remote
	first.X, first.Y = 0, 0
	p.Reconcile([]gametypes.Entity{first}, base)

	second := remote
	second.X, second.Y = 100, 0
	p.Reconcile([]gametypes.Entity{second}, base.Add(200*time.Millisecond))

	// Render time lands exactly between the two snapshots.
	renderAt := base.Add(100*time.Millisecond + InterpolationDelay)
	x, y, ok := p.Position("player-2-unit-1", renderAt)
	require.True(t, ok)
	assert.InDelta(t, 50.0, x, 0.001)
	assert.Equal(t, 0.0, y)

	// Before the first snapshot the oldest position holds.
	x, _, ok = p.Position("player-2-unit-1", base)
	require.True(t, ok)
	assert.Equal(t, 0.0, x)

	// Past the newest snapshot there is no extrapolation.
	x, _, ok = p.Position("player-2-unit-1", base.Add(10*time.Second))
	require.True(t, ok)
	assert.Equal(t, 100.0, x)
}

func TestPredictorSnapsRemoteTeleports(t *testing.T) {
	p := newLocalPredictor()
	base := time.Now()
	remote := gametypes.Entity{ID: "player-2-unit-1", OwnerID: "player-2"}

	first := remote
	first.X = 0
	p.Reconcile([]gametypes.Entity{first}, base)

	second := remote
	second.X = 1000
	p.Reconcile([]gametypes.Entity{second}, base.Add(200*time.Millisecond))

	renderAt := base.Add(100*time.Millisecond + InterpolationDelay)
	x, _, ok := p.Position("player-2-unit-1", renderAt)
	require.True(t, ok)
	assert.Equal(t, 1000.0, x, "a displacement past the teleport threshold is not interpolated")
}

func TestPredictorDropsAbsentUnits(t *testing.T) {
	p := newLocalPredictor()
	now := time.Now()
	p.Reconcile([]gametypes.Entity{
		localUnit(0, 0),
		{ID: "player-2-unit-1", OwnerID: "player-2"},
	}, now)

	p.Reconcile([]gametypes.Entity{}, now.Add(100*time.Millisecond))

	_, _, ok := p.Position("player-1-unit-1", now)
	assert.False(t, ok)
	_, _, ok = p.Position("player-2-unit-1", now)
	assert.False(t, ok)
}
