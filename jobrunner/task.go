package jobrunner

import "github.com/vplotter/motioncore/rig"

// TaskKind tags a Task's variant, mirroring §4.4's PenTask /
// InterpolatingMovementTask split as a tagged union rather than two
// interface implementations.
type TaskKind int

// The two Task variants named in §4.4.
const (
	PenTaskKind TaskKind = iota
	MoveTaskKind
)

// Task is one unit of runner work: a pen transition or a move dispatched
// to the planner. CountsDistance gates whether completing a MoveTaskKind
// contributes to jobDistanceSoFar — every move popped from the lookahead
// queue counts, including arc-tessellated points, matching the header's
// "total straight-line distance" as measured by the command file's body;
// only the preface and finishing sequence's synthetic moves are excluded,
// since they are not part of the file's declared distance.
type Task struct {
	Kind    TaskKind
	PenDown bool
	Target  rig.Point

	CountsDistance bool

	started       bool
	instantDone   bool
	startPosition rig.Point
}

func penTask(down bool) Task {
	return Task{Kind: PenTaskKind, PenDown: down}
}

func moveTask(target rig.Point, countsDistance bool) Task {
	return Task{Kind: MoveTaskKind, Target: target, CountsDistance: countsDistance}
}
