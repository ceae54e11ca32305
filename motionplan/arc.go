package motionplan

import (
	"math"

	"github.com/vplotter/motioncore/rig"
)

// maxArcSegments caps tessellation output regardless of requested
// resolution (§4.3: "Number of segments n = ceil(|Δa| / stepAngle),
// capped at 4096").
const maxArcSegments = 4096

// radiusToleranceMM is the maximum allowed mismatch between the arc's
// start and end radii before it degenerates to a straight line.
const radiusToleranceMM = 0.25

// TessellateArc expands a G2 (clockwise=true) or G3 (clockwise=false) arc
// from current to target around centre (current.X+i, current.Y+j) into a
// sequence of protected Move entries, per §4.3. If the start/end radii
// differ by more than radiusToleranceMM, it falls back to a single
// unprotected straight move to target.
func TessellateArc(current, target rig.Point, i, j float64, clockwise bool, minSegmentLenMM, junctionDeviationMM float64) []QueuedCommand {
	centre := rig.Point{X: current.X + i, Y: current.Y + j}

	rs := distance(current, centre)
	re := distance(target, centre)
	if math.Abs(rs-re) > radiusToleranceMM {
		return []QueuedCommand{Move(target, false)}
	}
	r := (rs + re) / 2
	if r <= 0 {
		return []QueuedCommand{Move(target, false)}
	}

	startAngle := math.Atan2(current.Y-centre.Y, current.X-centre.X)
	endAngle := math.Atan2(target.Y-centre.Y, target.X-centre.X)

	delta := endAngle - startAngle
	if clockwise {
		// Clockwise sweep is a negative angle change in a Y-down,
		// standard-math-angle frame; normalize to (-2π, 0].
		for delta > 0 {
			delta -= 2 * math.Pi
		}
	} else {
		for delta < 0 {
			delta += 2 * math.Pi
		}
	}
	if delta == 0 {
		delta = boundedFullTurn(clockwise)
	}

	chordErr := clampFloat(math.Max(0.5*minSegmentLenMM, 0.5*junctionDeviationMM), 0.02, 0.5)
	stepAngle := 2 * math.Acos(1-chordErr/r)
	if minSegmentLenMM > 0 {
		minByLen := minSegmentLenMM / r
		if minByLen > stepAngle {
			stepAngle = minByLen
		}
	}
	if stepAngle <= 0 || math.IsNaN(stepAngle) {
		stepAngle = math.Abs(delta)
	}

	n := int(math.Ceil(math.Abs(delta) / stepAngle))
	if n < 1 {
		n = 1
	}
	if n > maxArcSegments {
		n = maxArcSegments
	}

	out := make([]QueuedCommand, 0, n)
	for k := 1; k < n; k++ {
		frac := float64(k) / float64(n)
		angle := startAngle + delta*frac
		pt := rig.Point{
			X: centre.X + r*math.Cos(angle),
			Y: centre.Y + r*math.Sin(angle),
		}
		out = append(out, Move(pt, true))
	}
	// The last emitted point must equal the declared arc endpoint
	// exactly, bit-for-bit, per §8 invariant 6 — never computed from the
	// angle sweep, always the caller-supplied target.
	out = append(out, Move(target, true))
	return out
}

func boundedFullTurn(clockwise bool) float64 {
	if clockwise {
		return -2 * math.Pi
	}
	return 2 * math.Pi
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
