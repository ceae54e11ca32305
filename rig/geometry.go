// Package rig implements the §4.1 kinematics solver: the XY-to-belt-length
// mapping under the torque-equilibrium model of a hanging V-belt sled, plus
// the immutable rig geometry that parameterizes it.
package rig

import "github.com/vplotter/motioncore/errs"

// Point is an XY pose in millimetres, drawing-surface coordinates: origin
// at the upper-left of the safe rectangle, Y growing downward.
type Point struct {
	X, Y float64
}

// BeltLengths is the commanded pair of motor step targets for the two
// belts. It is derived purely from a Point plus the current sled-tilt
// estimate and is never persisted beyond the segment that produced it.
type BeltLengths struct {
	Left, Right int64
}

// Geometry is the rig's immutable physical calibration: top-pulley
// separation, pulley radius, pulley-to-pen offset, sled mass and
// centre-of-mass offset, belt elongation, and the safe-drawing-rectangle
// margins. It is fixed at boot (§3 Lifecycle) and never mutated afterward;
// recalibration produces a new Geometry.
type Geometry struct {
	// TopDistanceMM is the separation between the two top pulleys. A
	// negative value means the rig has not been calibrated/homed; any
	// move attempted against it fails with errs.NotReady (§8 boundary case).
	TopDistanceMM float64

	PulleyDiameterMM  float64 // d_t
	PulleyToPenMM     float64 // d_p
	CentreOfMassMM    float64 // d_m
	MidPulleyToWallMM float64 // out-of-plane offset folded into belt length

	SledMassKG  float64
	GravityMPS2 float64

	// BeltElongationCoefficient is k in L' = L / (1 + k*F).
	BeltElongationCoefficient float64

	StepsPerRotation     float64
	TravelPerRotationMM  float64

	SafeXFraction float64
	SafeYFraction float64

	// MinSafeXOffsetMM / MinSafeYMM translate drawing coordinates into the
	// solver's frame (frameX = x + MinSafeXOffsetMM, frameY = y + MinSafeYMM).
	MinSafeXOffsetMM float64
	MinSafeYMM       float64
}

// Validate checks the geometry is internally consistent and calibrated.
// It does not check TopDistanceMM > 0 as a hard failure here — callers
// (the planner) are expected to surface that as errs.NotReady at the point
// a move is attempted, per §3 invariant 1 and §8's boundary case
// (topDistance = -1 fails with NotReady, not at construction time).
func (g Geometry) Validate() error {
	if g.PulleyDiameterMM <= 0 {
		return errs.InvalidArgument("pulley diameter must be positive")
	}
	if g.SledMassKG <= 0 {
		return errs.InvalidArgument("sled mass must be positive")
	}
	if g.GravityMPS2 <= 0 {
		return errs.InvalidArgument("gravity must be positive")
	}
	if g.StepsPerRotation <= 0 || g.TravelPerRotationMM <= 0 {
		return errs.InvalidArgument("steps/travel per rotation must be positive")
	}
	if g.SafeXFraction <= 0 || g.SafeXFraction > 1 || g.SafeYFraction <= 0 || g.SafeYFraction > 1 {
		return errs.InvalidArgument("safe fractions must be in (0, 1]")
	}
	return nil
}

// Homed reports whether the rig has a calibrated top-pulley separation.
// A negative TopDistanceMM is how "not yet homed" is represented (§8).
func (g Geometry) Homed() bool {
	return g.TopDistanceMM > 0
}

// SafeWidthMM and SafeHeightMM bound the drawing rectangle per §3's
// "safe rectangle" definition: the region inside topDistance scaled by the
// configured margins.
func (g Geometry) SafeWidthMM() float64 {
	return g.TopDistanceMM * g.SafeXFraction
}

// SafeHeightMM is derived the same way along Y, using the same top
// distance as the reference span (the rig has no independent vertical
// span calibration).
func (g Geometry) SafeHeightMM() float64 {
	return g.TopDistanceMM * g.SafeYFraction
}

// ClampToSafeRect enforces §3 invariant 2: 0 <= X <= safeWidth, Y >= 0.
// Clamping always wins over any compensation (e.g. backlash) applied
// upstream, so this is the last step before a point is committed.
func (g Geometry) ClampToSafeRect(p Point) Point {
	w := g.SafeWidthMM()
	x := p.X
	if x < 0 {
		x = 0
	} else if x > w {
		x = w
	}
	y := p.Y
	if y < 0 {
		y = 0
	}
	return Point{X: x, Y: y}
}
