package prediction

import (
	"sync"
	"time"

	gametypes "warfront/pkg/game/types"
	"warfront/pkg/kinematic"
	"warfront/pkg/log"
)

const (
	// InterpolationDelay is how far behind authoritative time remote
	// units are rendered so there is always a bracketing pair of
	// snapshots to interpolate between.
	InterpolationDelay = 100 * time.Millisecond

	// TeleportThreshold is the per-snapshot displacement above which a
	// unit is snapped instead of interpolated.
	TeleportThreshold = 600.0

	// maxSnapshotHistory bounds the per-unit interpolation buffer.
	maxSnapshotHistory = 20

	// maxPendingIntentAge bounds how long a locally predicted intent
	// shields the unit from authoritative corrections carrying an older
	// intent id. Past this age the server state wins unconditionally.
	maxPendingIntentAge = 2 * time.Second
)

// Thresholds are the reconciliation error bounds in world units.
// Positional error above Snap discards the prediction outright; error
// between Smooth and Snap is blended away; error below Smooth is noise
// and ignored.
type Thresholds struct {
	Snap   float64
	Smooth float64
}

// ThresholdsForLink returns the reconciliation thresholds for the link
// class. Tunneled links carry more latency jitter, so their corrections
// tolerate a larger error before snapping.
func ThresholdsForLink(isTunnel bool) Thresholds {
	if isTunnel {
		return Thresholds{Snap: 220, Smooth: 60}
	}
	return Thresholds{Snap: 120, Smooth: 30}
}

// smoothingFactor is the per-reconcile exponential blend rate for
// corrections in the Smooth..Snap band.
const smoothingFactor = 0.3

type predictedUnit struct {
	entity   gametypes.Entity
	speed    float64
	moving   bool
	intentID string
	// ackedIntentID is the newest intent id the server has echoed back.
	// While intentID runs ahead of it the prediction is authoritative
	// for rendering even after the unit stops.
	ackedIntentID string
	issuedAt      time.Time
}

// active reports whether the prediction should drive rendering. An idle
// unit with no outstanding intent renders from the interpolation buffer
// instead.
func (u *predictedUnit) active() bool {
	return u.moving || (u.intentID != "" && u.intentID != u.ackedIntentID)
}

type snapshot struct {
	at   time.Time
	x, y float64
}

type unitHistory struct {
	samples []snapshot
}

// Predictor runs local-unit motion prediction with authoritative
// reconciliation, and snapshot interpolation for everything else.
// Locally owned units move immediately on command and are corrected
// against the server echo; every observed unit also keeps a bounded
// snapshot history, so units without an active prediction are rendered
// a fixed delay in the past between buffered snapshots.
type Predictor struct {
	mu            sync.Mutex
	localPlayerID string
	thresholds    Thresholds
	predicted     map[string]*predictedUnit
	history       map[string]*unitHistory
}

type NewPredictorOptions struct {
	LocalPlayerID string
	Thresholds    Thresholds
}

// NewPredictor creates a new Predictor.
func NewPredictor(opts NewPredictorOptions) *Predictor {
	return &Predictor{
		localPlayerID: opts.LocalPlayerID,
		thresholds:    opts.Thresholds,
		predicted:     make(map[string]*predictedUnit),
		history:       make(map[string]*unitHistory),
	}
}

// ApplyIntent registers a local move command and starts predicting it
// immediately, without waiting for the server echo. A newer intent for
// the same unit supersedes the previous one.
func (p *Predictor) ApplyIntent(unitID, intentID string, destX, destY float64, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	unit, ok := p.predicted[unitID]
	if !ok {
		log.Debug("Move intent for unknown unit %s", unitID)
		return
	}
	if unit.entity.MaxSpeed <= 0 {
		log.Debug("Move intent for immobile unit %s", unitID)
		return
	}
	unit.entity.IntentID = intentID
	unit.entity.TargetX = destX
	unit.entity.TargetY = destY
	unit.intentID = intentID
	unit.issuedAt = at
	unit.moving = true
}

// Step advances the predicted units by deltaTime seconds using the same
// accelerate/decelerate model the server runs.
func (p *Predictor) Step(deltaTime float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, unit := range p.predicted {
		if !unit.moving {
			continue
		}
		ent := &unit.entity
		dist := kinematic.Distance(ent.X, ent.Y, ent.TargetX, ent.TargetY)
		if dist > arrivalEpsilon {
			unit.speed = kinematic.Accelerate(unit.speed, ent.MaxSpeed, unitAcceleration, deltaTime)
		} else {
			unit.speed = kinematic.Decelerate(unit.speed, unitDeceleration, deltaTime)
			if unit.speed == 0 {
				ent.X = ent.TargetX
				ent.Y = ent.TargetY
				unit.moving = false
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
	}
}

// Reconcile applies an authoritative units snapshot taken at the given
// time. Every unit's sample is appended to its interpolation buffer;
// locally owned units are additionally corrected against their
// prediction. Units absent from the snapshot are dropped.
func (p *Predictor) Reconcile(units []gametypes.Entity, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(units))
	for i := range units {
		ent := units[i]
		seen[ent.ID] = true
		p.bufferSnapshot(ent, at)
		if ent.OwnerID == p.localPlayerID {
			p.reconcileLocal(ent, at)
		}
	}

	for id := range p.predicted {
		if !seen[id] {
			delete(p.predicted, id)
		}
	}
	for id := range p.history {
		if !seen[id] {
			delete(p.history, id)
		}
	}
}

func (p *Predictor) reconcileLocal(ent gametypes.Entity, at time.Time) {
	unit, ok := p.predicted[ent.ID]
	if !ok {
		// First sighting of one of our units: adopt the server state.
		p.predicted[ent.ID] = &predictedUnit{
			entity:        ent,
			intentID:      ent.IntentID,
			ackedIntentID: ent.IntentID,
			moving:        ent.IntentID != "" && kinematic.Distance(ent.X, ent.Y, ent.TargetX, ent.TargetY) > arrivalEpsilon,
		}
		return
	}

	if unit.intentID != ent.IntentID {
		// The server has not caught up to our latest command yet. Its
		// position describes an older intent, so correcting against it
		// would yank the unit backward. Hold the prediction unless the
		// intent has been pending suspiciously long.
		if at.Sub(unit.issuedAt) < maxPendingIntentAge {
			return
		}
		log.Warn("Intent %s for unit %s never acknowledged, adopting server state", unit.intentID, ent.ID)
		p.adoptServerState(unit, ent)
		return
	}

	unit.ackedIntentID = ent.IntentID
	errDist := kinematic.Distance(unit.entity.X, unit.entity.Y, ent.X, ent.Y)
	switch {
	case errDist > p.thresholds.Snap:
		log.Debug("Prediction error %.1f for unit %s above snap threshold", errDist, ent.ID)
		p.adoptServerState(unit, ent)
	case errDist > p.thresholds.Smooth:
		unit.entity.X += (ent.X - unit.entity.X) * smoothingFactor
		unit.entity.Y += (ent.Y - unit.entity.Y) * smoothingFactor
	default:
		// Within noise. Keep the prediction.
	}
}

func (p *Predictor) adoptServerState(unit *predictedUnit, ent gametypes.Entity) {
	unit.entity = ent
	unit.intentID = ent.IntentID
	unit.ackedIntentID = ent.IntentID
	unit.speed = 0
	unit.moving = ent.IntentID != "" && kinematic.Distance(ent.X, ent.Y, ent.TargetX, ent.TargetY) > arrivalEpsilon
}

func (p *Predictor) bufferSnapshot(ent gametypes.Entity, at time.Time) {
	unit, ok := p.history[ent.ID]
	if !ok {
		unit = &unitHistory{}
		p.history[ent.ID] = unit
	}
	unit.samples = append(unit.samples, snapshot{at: at, x: ent.X, y: ent.Y})
	for len(unit.samples) > maxSnapshotHistory {
		unit.samples = unit.samples[1:]
	}
}

// Position returns the renderable position of a unit at the given time.
// A unit with an active prediction reports its predicted position;
// everything else interpolates between buffered snapshots at now minus
// the interpolation delay.
func (p *Predictor) Position(unitID string, now time.Time) (float64, float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	predicted := p.predicted[unitID]
	if predicted != nil && predicted.active() {
		return predicted.entity.X, predicted.entity.Y, true
	}
	unit, ok := p.history[unitID]
	if !ok || len(unit.samples) == 0 {
		if predicted != nil {
			return predicted.entity.X, predicted.entity.Y, true
		}
		return 0, 0, false
	}

	renderTime := now.Add(-InterpolationDelay)
	samples := unit.samples
	if !renderTime.After(samples[0].at) {
		return samples[0].x, samples[0].y, true
	}
	last := samples[len(samples)-1]
	if !renderTime.Before(last.at) {
		// No extrapolation past the newest snapshot.
		return last.x, last.y, true
	}

	for i := 1; i < len(samples); i++ {
		if renderTime.Before(samples[i].at) {
			from, to := samples[i-1], samples[i]
			if kinematic.Distance(from.x, from.y, to.x, to.y) > TeleportThreshold {
				return to.x, to.y, true
			}
			span := to.at.Sub(from.at).Seconds()
			if span <= 0 {
				return to.x, to.y, true
			}
			alpha := renderTime.Sub(from.at).Seconds() / span
			return from.x + (to.x-from.x)*alpha, from.y + (to.y-from.y)*alpha, true
		}
	}
	return last.x, last.y, true
}

// Moving reports whether a local unit is still predicted to be moving.
func (p *Predictor) Moving(unitID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	unit, ok := p.predicted[unitID]
	return ok && unit.moving
}

// Motion constants matching the authoritative simulation step.
const (
	unitAcceleration = 160.0
	unitDeceleration = 320.0
	arrivalEpsilon   = 2.0
)
