package motionplan

import (
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/vplotter/motioncore/rig"
)

func TestTessellateQuarterCircleEndsExactlyAtTarget(t *testing.T) {
	start := rig.Point{X: 0, Y: 0}
	target := rig.Point{X: 10, Y: 10}
	out := TessellateArc(start, target, 10, 0, false, 0.2, 0.08)

	test.That(t, len(out) >= 16, test.ShouldBeTrue)
	last := out[len(out)-1]
	test.That(t, last.Point.X, test.ShouldEqual, target.X)
	test.That(t, last.Point.Y, test.ShouldEqual, target.Y)
	for _, e := range out {
		test.That(t, e.Protected, test.ShouldBeTrue)
	}
}

func TestTessellatePointsStayWithinRadiusTolerance(t *testing.T) {
	start := rig.Point{X: 0, Y: 0}
	target := rig.Point{X: 10, Y: 10}
	centre := rig.Point{X: 10, Y: 0}
	out := TessellateArc(start, target, 10, 0, false, 0.2, 0.08)

	for _, e := range out {
		r := math.Hypot(e.Point.X-centre.X, e.Point.Y-centre.Y)
		test.That(t, math.Abs(r-10) <= 0.08, test.ShouldBeTrue)
	}
}

func TestTessellateDegenerateRadiusFallsBackToStraightLine(t *testing.T) {
	start := rig.Point{X: 0, Y: 0}
	target := rig.Point{X: 10, Y: 0}
	// I=1 puts the centre at (1,0): start radius 1, end radius 9, far
	// beyond the radius tolerance.
	out := TessellateArc(start, target, 1, 0, true, 0.2, 0.08)
	test.That(t, len(out), test.ShouldEqual, 1)
	test.That(t, out[0].Protected, test.ShouldBeFalse)
	test.That(t, out[0].Point.X, test.ShouldEqual, target.X)
}

func TestTessellateCapsSegmentCount(t *testing.T) {
	start := rig.Point{X: 0, Y: 0}
	target := rig.Point{X: 0, Y: 0.0000001}
	// A near-full-circle with an absurdly tight chord tolerance would
	// otherwise blow past any reasonable buffer; the cap must hold.
	out := TessellateArc(start, target, 100000, 0, false, 0, 0.001)
	test.That(t, len(out), test.ShouldEqual, maxArcSegments)
}

func TestTessellateClockwiseVsCounterClockwiseDiffer(t *testing.T) {
	start := rig.Point{X: 10, Y: 0}
	target := rig.Point{X: 0, Y: 10}

	cw := TessellateArc(start, target, -10, 0, true, 0.2, 0.08)
	ccw := TessellateArc(start, target, -10, 0, false, 0.2, 0.08)

	// Same endpoints, same centre, opposite sweep direction: the
	// midpoint of a short way around should differ from the long way.
	test.That(t, len(cw) > 0, test.ShouldBeTrue)
	test.That(t, len(ccw) > 0, test.ShouldBeTrue)
	if len(cw) > 2 && len(ccw) > 2 {
		test.That(t, cw[len(cw)/2].Point, test.ShouldNotResemble, ccw[len(ccw)/2].Point)
	}
}
