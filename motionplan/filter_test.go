package motionplan

import (
	"testing"

	"go.viam.com/test"

	"github.com/vplotter/motioncore/rig"
)

func TestDropShortRemovesUnprotectedTinyMoves(t *testing.T) {
	anchor := rig.Point{X: 0, Y: 0}
	batch := []QueuedCommand{
		Move(rig.Point{X: 0.05, Y: 0}, false), // too short, dropped
		Move(rig.Point{X: 5, Y: 0}, false),    // far enough, kept
	}
	out := FilterAndMerge(anchor, batch, 0.2, 3.0)
	test.That(t, len(out), test.ShouldEqual, 1)
	test.That(t, out[0].Point.X, test.ShouldEqual, 5.0)
}

func TestDropShortNeverDropsProtectedMoves(t *testing.T) {
	anchor := rig.Point{X: 0, Y: 0}
	batch := []QueuedCommand{
		Move(rig.Point{X: 0.01, Y: 0}, true),
	}
	out := FilterAndMerge(anchor, batch, 0.2, 3.0)
	test.That(t, len(out), test.ShouldEqual, 1)
}

func TestMinSegmentLenZeroKeepsEverything(t *testing.T) {
	anchor := rig.Point{X: 0, Y: 0}
	batch := []QueuedCommand{
		Move(rig.Point{X: 0.001, Y: 0}, false),
		Move(rig.Point{X: 0.002, Y: 0}, false),
	}
	out := FilterAndMerge(anchor, batch, 0, 0)
	test.That(t, len(out), test.ShouldEqual, 2)
}

func TestCollinearMergeDropsMiddlePoint(t *testing.T) {
	anchor := rig.Point{X: 0, Y: 0}
	batch := []QueuedCommand{
		Move(rig.Point{X: 5, Y: 0}, false),
		Move(rig.Point{X: 10, Y: 0}, false),
	}
	out := FilterAndMerge(anchor, batch, 0, 3.0)
	test.That(t, len(out), test.ShouldEqual, 1)
	test.That(t, out[0].Point.X, test.ShouldEqual, 10.0)
}

func TestCollinearMergeDoesNotMergeACorner(t *testing.T) {
	anchor := rig.Point{X: 0, Y: 0}
	batch := []QueuedCommand{
		Move(rig.Point{X: 5, Y: 0}, false),
		Move(rig.Point{X: 5, Y: 5}, false),
	}
	out := FilterAndMerge(anchor, batch, 0, 3.0)
	test.That(t, len(out), test.ShouldEqual, 2)
}

func TestCollinearMergeNeverDropsProtectedMiddlePoint(t *testing.T) {
	anchor := rig.Point{X: 0, Y: 0}
	batch := []QueuedCommand{
		Move(rig.Point{X: 5, Y: 0}, true),
		Move(rig.Point{X: 10, Y: 0}, false),
	}
	out := FilterAndMerge(anchor, batch, 0, 3.0)
	test.That(t, len(out), test.ShouldEqual, 2)
}

func TestCollinearMergeNeverDropsProtectedEdgePoint(t *testing.T) {
	// The middle point (b) is the only one ever removed, but the merge
	// itself must not fire at all when either edge of the triple (a or
	// c) is a protected arc anchor, even though b here is unprotected.
	anchor := rig.Point{X: 0, Y: 0}
	batch := []QueuedCommand{
		Move(rig.Point{X: 5, Y: 0}, true),
		Move(rig.Point{X: 10, Y: 0}, false),
		Move(rig.Point{X: 15, Y: 0}, false),
	}
	out := FilterAndMerge(anchor, batch, 0, 3.0)
	test.That(t, len(out), test.ShouldEqual, 3)
}

func TestCollinearMergeIgnoresUTurnReversal(t *testing.T) {
	// Open Question (b): a near-180 reversal must never be treated as
	// collinear-mergeable, even with a generous tolerance.
	anchor := rig.Point{X: 0, Y: 0}
	batch := []QueuedCommand{
		Move(rig.Point{X: 5, Y: 0}, false),
		Move(rig.Point{X: 0, Y: 0}, false),
	}
	out := FilterAndMerge(anchor, batch, 0, 20.0)
	test.That(t, len(out), test.ShouldEqual, 2)
}

func TestZeroMinLenZeroCollinearIsIdentityOnExactArc(t *testing.T) {
	// §8 round-trip property: minSegmentLenMM=0, collinearDeg=0 preserves
	// the original tessellation verbatim.
	anchor := rig.Point{X: 0, Y: 0}
	tess := TessellateArc(anchor, rig.Point{X: 10, Y: 10}, 10, 0, false, 0.2, 0.08)
	out := FilterAndMerge(anchor, tess, 0, 0)
	test.That(t, len(out), test.ShouldEqual, len(tess))
	for i := range tess {
		test.That(t, out[i].Point.X, test.ShouldEqual, tess[i].Point.X)
		test.That(t, out[i].Point.Y, test.ShouldEqual, tess[i].Point.Y)
	}
}
