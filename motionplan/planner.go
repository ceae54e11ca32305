package motionplan

import (
	"context"
	"math"

	"github.com/vplotter/motioncore/errs"
	"github.com/vplotter/motioncore/logging"
	"github.com/vplotter/motioncore/plannerconfig"
	"github.com/vplotter/motioncore/rig"
	"github.com/vplotter/motioncore/stepper"
)

// RawKind tags a RawLine the way the command-file parser (§6) hands
// lines to the planner: pen state changes, straight moves, or arcs
// awaiting tessellation.
type RawKind int

// RawLine variants, mirroring the command-file line types of §6.
const (
	RawPen RawKind = iota
	RawMove
	RawArc
)

// RawLine is one parsed command-file line, still untessellated.
type RawLine struct {
	Kind      RawKind
	PenDown   bool
	Target    rig.Point
	OffsetI   float64
	OffsetJ   float64
	Clockwise bool
}

// Planner implements §4.3: it owns the lookahead queue, performs arc
// tessellation and the filter/merge pass on fill, and computes per-segment
// feed/acceleration before dispatching to the stepper engine.
type Planner struct {
	solver *rig.Solver
	engine *stepper.Engine
	logger logging.Logger

	queue *Queue

	// position is the XY pose as of the last *dispatched* segment — the
	// pose the stepper engine is currently driving toward.
	position rig.Point
	// queueTipPoint is the XY pose implied by the last entry actually
	// pushed into the queue, used as the filter/merge anchor for the
	// next incoming batch. It runs ahead of position while segments sit
	// buffered and undispatched.
	queueTipPoint rig.Point

	lastSegDX, lastSegDY float64 // previous dispatched segment's direction vector
	lastDirX, lastDirY   float64 // previous dispatched segment's axis signs
}

// NewPlanner constructs a Planner. capacity sizes the lookahead ring
// buffer; it should track PlannerConfig.LookaheadSegments. The planner
// starts at pose (0,0), declared through SetPosition.
func NewPlanner(solver *rig.Solver, engine *stepper.Engine, capacity int, logger logging.Logger) *Planner {
	pl := &Planner{
		solver: solver,
		engine: engine,
		logger: logger,
		queue:  NewQueue(capacity),
	}
	pl.SetPosition(rig.Point{})
	return pl
}

// Position returns the planner's current committed XY pose.
func (pl *Planner) Position() rig.Point { return pl.position }

// SetPosition declares the planner's pose without dispatching a move,
// used after homing or after the finishing sequence reaches home. On a
// homed rig it also resets the solver's gamma warm start and declares
// both engine axes at the belt lengths solved for p.
func (pl *Planner) SetPosition(p rig.Point) {
	pl.position = p
	pl.queueTipPoint = p
	pl.lastSegDX, pl.lastSegDY = 0, 0
	pl.lastDirX, pl.lastDirY = 0, 0
	if pl.solver.Geometry().Homed() {
		pl.solver.ResetGamma()
		belt := pl.solver.Solve(context.Background(), p)
		pl.engine.SetCurrentPosition(stepper.Left, belt.Left)
		pl.engine.SetCurrentPosition(stepper.Right, belt.Right)
		pl.solver.Commit(belt)
	}
}

// Resize changes the lookahead queue's capacity (PlannerConfig.LookaheadSegments
// may change at runtime through the config API).
func (pl *Planner) Resize(capacity int) { pl.queue.Resize(capacity) }

// QueueLen, QueueCap, QueueFull, QueueEmpty expose the lookahead queue's
// fill state to the job runner.
func (pl *Planner) QueueLen() int    { return pl.queue.Len() }
func (pl *Planner) QueueCap() int    { return pl.queue.Cap() }
func (pl *Planner) QueueFull() bool  { return pl.queue.Full() }
func (pl *Planner) QueueEmpty() bool { return pl.queue.Empty() }

// IsMoving reports whether the stepper engine still has distance to go on
// either axis for the most recently dispatched segment.
func (pl *Planner) IsMoving() bool { return pl.engine.IsMoving() }

// PeekNext returns the queue's head entry without removing it.
func (pl *Planner) PeekNext() (QueuedCommand, bool) { return pl.queue.Peek(0) }

// PopNext removes and returns the queue's head entry.
func (pl *Planner) PopNext() (QueuedCommand, bool) { return pl.queue.Pop() }

// EnqueueLine converts line into one or more QueuedCommand entries
// (tessellating arcs as needed), runs the filter/merge pass over that
// batch, and pushes the survivors into the lookahead queue as a single
// atomic operation: if the queue does not have room for the whole
// batch, nothing is pushed and EnqueueLine returns false so the caller
// retries the same line once the queue has drained further.
func (pl *Planner) EnqueueLine(line RawLine, cfg plannerconfig.Planner) bool {
	var batch []QueuedCommand
	switch line.Kind {
	case RawPen:
		batch = []QueuedCommand{Pen(line.PenDown)}
	case RawMove:
		batch = FilterAndMerge(pl.queueTipPoint, []QueuedCommand{Move(line.Target, false)},
			cfg.MinSegmentLenMM, cfg.CollinearDeg)
	case RawArc:
		tessellated := TessellateArc(pl.queueTipPoint, line.Target, line.OffsetI, line.OffsetJ,
			line.Clockwise, cfg.MinSegmentLenMM, cfg.JunctionDeviationMM)
		batch = FilterAndMerge(pl.queueTipPoint, tessellated, cfg.MinSegmentLenMM, cfg.CollinearDeg)
	}

	if pl.queue.Len()+len(batch) > pl.queue.Cap() {
		return false
	}
	for _, e := range batch {
		pl.queue.Push(e)
		if e.Kind == MoveCommand {
			pl.queueTipPoint = e.Point
		}
	}
	return true
}

// DispatchResult reports the outcome of Dispatch.
type DispatchResult struct {
	// InstantlyComplete is true when the target coincided with the
	// current belt state (maxΔ = 0): no stepper dispatch happened, and
	// the caller should treat the move as already done.
	InstantlyComplete bool
}

// Dispatch runs the §4.3 per-segment pipeline for a move to target and
// commands the stepper engine. vReqStepsPerSec is the caller-selected
// nominal speed (print or move speed, per §4.4's speed-selection rule)
// before corner/junction/min-time shaping; accelStepsPerSec2 is the
// configured stepper acceleration (stepper tuning, not PlannerConfig).
func (pl *Planner) Dispatch(
	ctx context.Context,
	target rig.Point,
	vReqStepsPerSec float64,
	accelStepsPerSec2 float64,
	cfg plannerconfig.Planner,
) (DispatchResult, error) {
	geometry := pl.solver.Geometry()
	if !geometry.Homed() {
		return DispatchResult{}, errs.NotReady("rig is not homed")
	}
	if vReqStepsPerSec <= 0 || accelStepsPerSec2 <= 0 {
		return DispatchResult{}, errs.InvalidArgument("requested speed and acceleration must be positive")
	}

	// 1. Backlash: shift the target on a direction reversal, then clamp
	// (clamping always wins over the shift).
	shifted := target
	dirX := sign(target.X - pl.position.X)
	if dirX != 0 && pl.lastDirX != 0 && dirX != pl.lastDirX {
		shifted.X += dirX * cfg.BacklashXmm
	}
	dirY := sign(target.Y - pl.position.Y)
	if dirY != 0 && pl.lastDirY != 0 && dirY != pl.lastDirY {
		shifted.Y += dirY * cfg.BacklashYmm
	}
	shifted = geometry.ClampToSafeRect(shifted)

	// 2. IK.
	beltTarget := pl.solver.Solve(ctx, shifted)

	// 3. Delta.
	leftCurrent := pl.engine.CurrentPosition(stepper.Left)
	rightCurrent := pl.engine.CurrentPosition(stepper.Right)
	deltaL := absInt64(beltTarget.Left - leftCurrent)
	deltaR := absInt64(beltTarget.Right - rightCurrent)
	maxDelta := deltaL
	if deltaR > maxDelta {
		maxDelta = deltaR
	}
	if maxDelta == 0 {
		pl.position = shifted
		pl.queueTipPoint = shifted
		return DispatchResult{InstantlyComplete: true}, nil
	}

	dx := shifted.X - pl.position.X
	dy := shifted.Y - pl.position.Y
	distanceMM := math.Hypot(dx, dy)
	if distanceMM == 0 {
		// Belt targets moved (e.g. a gamma refinement shift) while XY
		// stayed put; avoid a divide by zero downstream by treating it
		// as a minimal nominal distance.
		distanceMM = 1e-6
	}

	// 4. Corner factor, from the angle between the previous dispatched
	// direction and this one. No history (first segment, or after a
	// position reset) means no slowdown.
	theta := 0.0
	if pl.lastSegDX != 0 || pl.lastSegDY != 0 {
		theta = angleBetweenRad(pl.lastSegDX, pl.lastSegDY, dx, dy)
	}
	cornerFactor := clampFloat(1-(theta/math.Pi)*cfg.CornerSlowdown, cfg.MinCornerFactor, 1)

	// 5. Junction limit (GRBL-style cap), expressed in mm/s using the
	// acceleration converted from steps/s^2 via the belt's step-to-mm
	// scale. theta=0 is a straight continuation and must leave the
	// junction speed unbounded; theta=pi is a full reversal and must
	// drive it to zero, so the cap is built from cos(theta/2) rather
	// than sin(theta/2).
	mmPerStep := geometry.TravelPerRotationMM / geometry.StepsPerRotation
	accelMMPerSec2 := accelStepsPerSec2 * mmPerStep
	vJunc := math.Inf(1)
	cosHalf := math.Cos(theta / 2)
	if cosHalf < 0.999999 {
		vJunc = math.Sqrt(accelMMPerSec2 * cfg.JunctionDeviationMM * cosHalf / (1 - cosHalf))
	}

	// 6. Nominal feed (mm/s) from the caller-requested step rate.
	vNom := distanceMM * vReqStepsPerSec / float64(maxDelta)

	// 7. Min-time floor.
	vTime := math.Inf(1)
	if cfg.MinSegmentTimeMs > 0 {
		vTime = distanceMM / (cfg.MinSegmentTimeMs / 1000)
	}

	// 8. Planned feed: the tightest of the nominal, corner, junction, and
	// min-time caps, floored at a nominal 1 mm/s.
	v := math.Min(vNom, math.Min(cornerFactor*vNom, math.Min(vJunc, vTime)))
	if v < 1 {
		v = 1
	}
	vSteps := v * float64(maxDelta) / distanceMM

	// 9. Acceleration shaping.
	accel := accelStepsPerSec2 * math.Max(0.2, 1-(1-cornerFactor)*cfg.SCurveFactor)

	// 10. Per-axis feed, floored at 1 Hz on any axis with distance to go.
	moveTime := float64(maxDelta) / vSteps
	var feedLeft, feedRight float64
	if deltaL > 0 {
		feedLeft = math.Max(1, float64(deltaL)/moveTime)
	}
	if deltaR > 0 {
		feedRight = math.Max(1, float64(deltaR)/moveTime)
	}

	// 11. Dispatch, both axes in the same call (§5 ordering guarantee:
	// belt targets commit atomically).
	pl.engine.MoveTo(ctx, beltTarget.Left, beltTarget.Right, feedLeft, feedRight, accel)

	// 12. Update planner state.
	pl.lastSegDX, pl.lastSegDY = dx, dy
	pl.lastDirX, pl.lastDirY = dirX, dirY
	pl.solver.Commit(beltTarget)
	pl.position = shifted
	pl.queueTipPoint = shifted

	return DispatchResult{}, nil
}

func angleBetweenRad(ax, ay, bx, by float64) float64 {
	lenA := math.Hypot(ax, ay)
	lenB := math.Hypot(bx, by)
	if lenA == 0 || lenB == 0 {
		return 0
	}
	cosTheta := (ax*bx + ay*by) / (lenA * lenB)
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	return math.Acos(cosTheta)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
