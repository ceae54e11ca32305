package rig

import (
	"context"
	"math"
	"sync"

	"github.com/vplotter/motioncore/logging"
)

const (
	maxRefinementPasses = 20
	searchHalfRangeDeg  = 2.0
	searchStepDeg       = 0.2
	convergenceDeg      = 0.25
)

// Solver maps an XY pose to belt lengths under the torque-equilibrium
// model of §4.1 and caches the sled-tilt angle gamma as a warm start for
// the next solve. It never errors: per §4.1 "the solver never throws", a
// non-converged gamma is still returned and logged at DEBUG (§9 Open
// Question (a)), leaving any resulting chord error to be absorbed by the
// planner's junction deviation.
type Solver struct {
	geometry Geometry
	logger   logging.Logger

	mu          sync.Mutex
	gammaLast   float64 // radians; warm start, never reset except by ResetGamma
	currentBelt BeltLengths
}

// NewSolver constructs a Solver for the given geometry. gamma starts at 0
// (sled hanging level), which is also what ResetGamma restores.
func NewSolver(geometry Geometry, logger logging.Logger) *Solver {
	return &Solver{geometry: geometry, logger: logger}
}

// Geometry returns the rig geometry the solver was built with.
func (s *Solver) Geometry() Geometry {
	return s.geometry
}

// ResetGamma clears the cached tilt warm-start. Per SPEC_FULL.md D.3,
// this must only happen on a full runner restart (start(), through
// motionplan.Planner.SetPosition), never on pause/resume, so callers
// should not call this reflexively.
func (s *Solver) ResetGamma() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gammaLast = 0
}

// Commit records the belt lengths actually dispatched for a segment, so
// the next EstimateMaxDeltaSteps call measures from where the rig will
// really be once this segment completes.
func (s *Solver) Commit(belt BeltLengths) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentBelt = belt
}

// EstimateMaxDeltaSteps returns max(|Δleft|, |Δright|) between the current
// committed belt state and the belt lengths solving for (x, y), without
// mutating the gamma warm-start. The planner uses this to scale feed
// without paying for a full commit.
func (s *Solver) EstimateMaxDeltaSteps(ctx context.Context, p Point) int64 {
	s.mu.Lock()
	gamma := s.gammaLast
	current := s.currentBelt
	s.mu.Unlock()

	belt, _ := s.solveFrom(ctx, p, gamma)
	dl := absInt64(belt.Left - current.Left)
	dr := absInt64(belt.Right - current.Right)
	if dl > dr {
		return dl
	}
	return dr
}

// Solve computes belt lengths for pose p, starting the gamma refinement
// from the cached warm start and caching the result for next time.
func (s *Solver) Solve(ctx context.Context, p Point) BeltLengths {
	s.mu.Lock()
	gamma := s.gammaLast
	s.mu.Unlock()

	belt, newGamma := s.solveFrom(ctx, p, gamma)

	s.mu.Lock()
	s.gammaLast = newGamma
	s.mu.Unlock()

	return belt
}

// solveFrom runs the torque-equilibrium refinement starting from seed
// gamma and returns the resulting belt lengths plus the converged (or
// best-effort) gamma.
func (s *Solver) solveFrom(ctx context.Context, p Point, seedGamma float64) (BeltLengths, float64) {
	g := s.geometry
	frameX := p.X + g.MinSafeXOffsetMM
	frameY := p.Y + g.MinSafeYMM
	halfSpan := g.PulleyDiameterMM / 2

	gamma := seedGamma
	converged := false
	for pass := 0; pass < maxRefinementPasses; pass++ {
		phiL, phiR, fL, fR := s.forces(g, frameX, frameY, halfSpan, gamma)

		bestGamma := gamma
		bestResidual := math.Abs(torqueResidual(g, halfSpan, phiL, phiR, fL, fR, gamma))
		for deg := -searchHalfRangeDeg; deg <= searchHalfRangeDeg; deg += searchStepDeg {
			candidate := gamma + degToRad(deg)
			residual := math.Abs(torqueResidual(g, halfSpan, phiL, phiR, fL, fR, candidate))
			if residual < bestResidual {
				bestResidual = residual
				bestGamma = candidate
			}
		}

		delta := math.Abs(bestGamma - gamma)
		gamma = bestGamma
		if delta < degToRad(convergenceDeg) {
			converged = true
			break
		}
	}

	if !converged && s.logger != nil {
		s.logger.CDebugf(ctx, "kinematics solver did not converge within %d passes at (%.3f, %.3f); using best gamma=%.4f rad",
			maxRefinementPasses, p.X, p.Y, gamma)
	}

	_, _, fL, fR := s.forces(g, frameX, frameY, halfSpan, gamma)
	belt := s.beltLengths(g, frameX, frameY, halfSpan, fL, fR, gamma)
	return belt, gamma
}

// forces computes the belt tangent angles and the static-equilibrium
// tension in each belt for a given tilt gamma, per §4.1's Model.
func (s *Solver) forces(g Geometry, frameX, frameY, halfSpan, gamma float64) (phiL, phiR, fL, fR float64) {
	plx := halfSpan*math.Cos(gamma) - g.PulleyToPenMM*math.Sin(gamma)
	ply := halfSpan*math.Sin(gamma) + g.PulleyToPenMM*math.Cos(gamma)
	prx := halfSpan*math.Cos(gamma) + g.PulleyToPenMM*math.Sin(gamma)
	pry := halfSpan*math.Sin(gamma) - g.PulleyToPenMM*math.Cos(gamma)

	phiL = math.Atan2(frameY-ply, frameX-plx)
	phiR = math.Atan2(frameY-pry, g.TopDistanceMM-(frameX+prx))

	fGravity := g.SledMassKG * g.GravityMPS2
	denom := math.Sin(phiL + phiR)
	if denom == 0 {
		// Degenerate alignment (directly below a pulley); avoid a divide
		// by zero and fall back to splitting the load evenly.
		return phiL, phiR, fGravity / 2, fGravity / 2
	}
	fR = fGravity * math.Cos(phiL) / denom
	fL = fGravity * math.Cos(phiR) / denom
	return phiL, phiR, fL, fR
}

// torqueResidual is Tδ(gamma) from §4.1.
func torqueResidual(g Geometry, halfSpan, phiL, phiR, fL, fR, gamma float64) float64 {
	fGravity := g.SledMassKG * g.GravityMPS2
	return halfSpan*math.Sin(phiR+gamma)*fR -
		halfSpan*math.Sin(phiL-gamma)*fL +
		g.CentreOfMassMM*math.Tan(gamma)*fGravity*math.Cos(gamma)
}

// beltLengths converts the solved tilt and left-belt force into
// stepper-motor step counts: flat Euclidean belt length from each wall
// pulley's tangent point to the sled anchor, Pythagorean-combined with
// the out-of-plane pulley offset, corrected for elastic stretch, then
// scaled to steps.
func (s *Solver) beltLengths(g Geometry, frameX, frameY, halfSpan, fL, fR, gamma float64) BeltLengths {
	plx := halfSpan*math.Cos(gamma) - g.PulleyToPenMM*math.Sin(gamma)
	ply := halfSpan*math.Sin(gamma) + g.PulleyToPenMM*math.Cos(gamma)
	prx := halfSpan*math.Cos(gamma) + g.PulleyToPenMM*math.Sin(gamma)
	pry := halfSpan*math.Sin(gamma) - g.PulleyToPenMM*math.Cos(gamma)

	leftFlat := math.Hypot(frameX-plx, frameY-ply)
	rightFlat := math.Hypot(g.TopDistanceMM-(frameX+prx), frameY-pry)

	leftLen := math.Hypot(leftFlat, g.MidPulleyToWallMM)
	rightLen := math.Hypot(rightFlat, g.MidPulleyToWallMM)

	leftLen = leftLen / (1 + g.BeltElongationCoefficient*fL)
	rightLen = rightLen / (1 + g.BeltElongationCoefficient*fR)

	scale := g.StepsPerRotation / g.TravelPerRotationMM
	return BeltLengths{
		Left:  int64(math.Round(leftLen * scale)),
		Right: int64(math.Round(rightLen * scale)),
	}
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
