package motionplan

import (
	"math"

	"github.com/vplotter/motioncore/rig"
)

// FilterAndMerge applies the §4.3 filter/merge pass to a freshly
// tessellated batch of entries: entries is everything produced for one
// command-file line (a straight move or arc-tessellated points), anchor
// is the pose immediately preceding entries[0].
//
// Two rules, applied to fixpoint:
//  1. Drop unprotected moves whose distance from the preceding pose is
//     less than minSegmentLenMM.
//  2. Merge three consecutive unprotected moves that are collinear
//     within collinearDeg of straight-ahead, the anchor counting as the
//     first point of the first triple. A collinearDeg of 0 or less
//     disables merging.
//
// §9 Open Question (b): the source's collinear check also matched a
// ~180° reversal, which would merge away a U-turn. That second clause is
// dropped here rather than gated, since a reversal is never a spurious
// merge candidate for a hanging-sled plotter — the two segments share no
// direction sign to "match" in the first place.
func FilterAndMerge(anchor rig.Point, entries []QueuedCommand, minSegmentLenMM, collinearDeg float64) []QueuedCommand {
	out := dropShort(anchor, entries, minSegmentLenMM)
	if collinearDeg <= 0 {
		return out
	}
	// The anchor only ever sits at the start of a triple and a merge only
	// drops a triple's middle point, so it survives and is stripped again.
	merged := mergeCollinear(append([]QueuedCommand{Move(anchor, false)}, out...), collinearDeg)
	return merged[1:]
}

func dropShort(anchor rig.Point, entries []QueuedCommand, minSegmentLenMM float64) []QueuedCommand {
	if minSegmentLenMM <= 0 {
		return append([]QueuedCommand(nil), entries...)
	}
	out := make([]QueuedCommand, 0, len(entries))
	prev := anchor
	for _, e := range entries {
		if e.Kind == MoveCommand && !e.Protected {
			if distance(prev, e.Point) < minSegmentLenMM {
				continue
			}
		}
		if e.Kind == MoveCommand {
			prev = e.Point
		}
		out = append(out, e)
	}
	return out
}

func mergeCollinear(entries []QueuedCommand, collinearDeg float64) []QueuedCommand {
	changed := true
	for changed {
		changed = false
		for i := 0; i+2 < len(entries); i++ {
			a, b, c := entries[i], entries[i+1], entries[i+2]
			if a.Kind != MoveCommand || b.Kind != MoveCommand || c.Kind != MoveCommand {
				continue
			}
			if a.Protected || b.Protected || c.Protected {
				// A merge only ever fires when all three points are plain
				// straight moves; an arc-tessellated anchor anywhere in
				// the triple must block it, not just at the middle.
				continue
			}
			if isCollinear(a.Point, b.Point, c.Point, collinearDeg) {
				entries = append(entries[:i+1], entries[i+2:]...)
				changed = true
				break
			}
		}
	}
	return entries
}

// isCollinear reports whether the turn at b between incoming vector a->b
// and outgoing vector b->c is within collinearDeg of straight-ahead. The
// merge always targets b (the middle of the three) as the point to drop.
func isCollinear(a, b, c rig.Point, collinearDeg float64) bool {
	// The interior angle at b between incoming (b-a) and outgoing (c-b)
	// is 0° for a perfectly straight continuation, so the tolerance
	// compares directly against collinearDeg.
	inX, inY := b.X-a.X, b.Y-a.Y
	outX, outY := c.X-b.X, c.Y-b.Y

	inLen := math.Hypot(inX, inY)
	outLen := math.Hypot(outX, outY)
	if inLen == 0 || outLen == 0 {
		return false
	}
	cosTheta := (inX*outX + inY*outY) / (inLen * outLen)
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	angleDeg := math.Acos(cosTheta) * 180 / math.Pi

	return angleDeg <= collinearDeg
}

func distance(a, b rig.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
