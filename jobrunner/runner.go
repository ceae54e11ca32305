// Package jobrunner implements the §4.4 job runner: it translates a
// persisted command file into a sequential task execution against the
// motion planner and pen actuator, tracking progress and honoring
// pause/resume/abort from the (out-of-scope) control surface.
package jobrunner

import (
	"bufio"
	"context"
	"math"
	"os"

	"github.com/vplotter/motioncore/errs"
	"github.com/vplotter/motioncore/logging"
	"github.com/vplotter/motioncore/motionplan"
	"github.com/vplotter/motioncore/pen"
	"github.com/vplotter/motioncore/plannerconfig"
	"github.com/vplotter/motioncore/rig"
)

// Phase is the runner's coarse lifecycle position, surfaced through
// Status for the (out-of-scope) control surface.
type Phase int

// Phases named in §4.4: a job moves Idle -> Preface (if startLine > 0)
// -> Body -> Finishing -> Stopped, never backward except via a fresh Start.
const (
	PhaseIdle Phase = iota
	PhasePreface
	PhaseBody
	PhaseFinishing
	PhaseStopped
)

// Status is the §6 control-surface status snapshot.
type Status struct {
	Phase    Phase
	Moving   bool
	Progress int
	Paused   bool
	Running  bool
	X, Y     float64
	PenDown  bool
}

// Runner composes a motionplan.Planner and a pen.Pen to execute one
// command file at a time. It owns the file handle exclusively (§5) and
// is driven by repeated calls to Tick from the cooperative main loop.
type Runner struct {
	planner  *motionplan.Planner
	pen      *pen.Pen
	cfgStore *plannerconfig.Store
	logger   logging.Logger
	home     rig.Point

	file    *os.File
	scanner *bufio.Scanner
	eof     bool
	// pendingLine holds a parsed line that didn't fit in the lookahead
	// queue's last fill attempt, so the scanner is never advanced past a
	// line that hasn't been successfully enqueued yet.
	pendingLine *motionplan.RawLine

	phase Phase

	headerTotalDistance float64
	skippedDistance     float64
	jobTotalDistance    float64
	jobDistanceSoFar    float64

	preface   []Task
	finishing []Task
	current   *Task

	penIsDown      bool
	progress       int
	paused         bool
	stopped        bool
	abortRequested bool
}

// NewRunner constructs a Runner. home is the XY pose the finishing
// sequence (and any skip-induced preface) targets — the rig's origin.
func NewRunner(planner *motionplan.Planner, actuator *pen.Pen, cfgStore *plannerconfig.Store, logger logging.Logger, home rig.Point) *Runner {
	return &Runner{
		planner:  planner,
		pen:      actuator,
		cfgStore: cfgStore,
		logger:   logger,
		home:     home,
		phase:    PhaseIdle,
		stopped:  true,
	}
}

// Start opens path, parses its header, optionally fast-forwards past the
// first startLine body commands (building the §4.4 preface from the
// resulting virtual pose/pen state), and arms the runner to begin
// executing on the next Tick. It fails with Busy if a job is already
// running, and with BadFile if the header is missing or malformed.
func (r *Runner) Start(path string, startLine int) error {
	if r.phase != PhaseIdle && r.phase != PhaseStopped {
		return errs.Busy("a job is already running")
	}

	f, err := os.Open(path)
	if err != nil {
		return errs.BadFile("opening command file", err)
	}

	scanner := bufio.NewScanner(f)
	totalDistance, _, err := parseHeader(scanner)
	if err != nil {
		f.Close()
		return err
	}

	virtualPose, virtualPenDown, skipped := r.skipLines(scanner, startLine)

	if r.file != nil {
		r.file.Close()
	}
	r.file = f
	r.scanner = scanner
	r.eof = false
	r.pendingLine = nil

	r.headerTotalDistance = totalDistance
	r.skippedDistance = skipped
	r.jobTotalDistance = totalDistance - skipped
	r.jobDistanceSoFar = 0
	r.progress = 0
	r.paused = false
	r.stopped = false
	r.abortRequested = false
	r.penIsDown = false
	r.current = nil

	r.planner.SetPosition(r.home)

	r.preface = nil
	if startLine > 0 {
		r.preface = append(r.preface, penTask(false))
		if virtualPose != r.home {
			r.preface = append(r.preface, moveTask(virtualPose, false))
		}
		if virtualPenDown {
			r.preface = append(r.preface, penTask(true))
		}
	}
	r.finishing = []Task{penTask(false), moveTask(r.home, false)}

	if len(r.preface) > 0 {
		r.phase = PhasePreface
	} else {
		r.phase = PhaseBody
	}
	return nil
}

// skipLines advances scanner past the first startLine raw lines (malformed
// or blank lines still count toward the offset, per §6), accumulating the
// virtual pose and pen state they imply and the distance they cover.
func (r *Runner) skipLines(scanner *bufio.Scanner, startLine int) (virtualPose rig.Point, virtualPenDown bool, skippedDistance float64) {
	virtualPose = r.home
	for count := 0; count < startLine; count++ {
		if !scanner.Scan() {
			break
		}
		line, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		switch line.Kind {
		case motionplan.RawPen:
			virtualPenDown = line.PenDown
		case motionplan.RawMove, motionplan.RawArc:
			skippedDistance += distance(virtualPose, line.Target)
			virtualPose = line.Target
		}
	}
	return virtualPose, virtualPenDown, skippedDistance
}

// Pause holds the runner between tasks (§5: not mid-segment); idempotent.
func (r *Runner) Pause() { r.paused = true }

// Resume continues from the next queued task; idempotent.
func (r *Runner) Resume() { r.paused = false }

// Abort requests the §5 abortAndGoHome sequence: the current task finishes
// (or the stepper quiesces), the lookahead is dropped, and a pen-up +
// home-move finishing sequence is substituted.
func (r *Runner) Abort() { r.abortRequested = true }

// Status reports the §6 control-surface snapshot.
func (r *Runner) Status() Status {
	pos := r.planner.Position()
	return Status{
		Phase:    r.phase,
		Moving:   r.planner.IsMoving(),
		Progress: r.progress,
		Paused:   r.paused,
		Running:  !r.stopped,
		X:        pos.X,
		Y:        pos.Y,
		PenDown:  r.penIsDown,
	}
}

// Tick runs at most one task transition, per §4.4's main-loop contract.
// It never blocks except for the bounded pen servo move permitted by §5.
func (r *Runner) Tick(ctx context.Context) {
	if r.stopped {
		return
	}

	if r.abortRequested {
		if r.planner.IsMoving() {
			return
		}
		r.current = nil
		r.preface = nil
		for !r.planner.QueueEmpty() {
			r.planner.PopNext()
		}
		r.finishing = []Task{penTask(false), moveTask(r.home, false)}
		r.phase = PhaseFinishing
		r.abortRequested = false
	} else if r.paused {
		return
	}

	if r.current != nil {
		if !r.isTaskDone(r.current) {
			return
		}
		if r.current.Kind == MoveTaskKind && r.current.CountsDistance {
			r.jobDistanceSoFar += distance(r.current.startPosition, r.current.Target)
			r.recomputeProgress()
		}
		r.current = nil
	}

	next, ok := r.fetchNext()
	if !ok {
		r.progress = 100
		r.stopped = true
		r.phase = PhaseStopped
		if r.file != nil {
			r.file.Close()
			r.file = nil
		}
		return
	}
	r.startTask(ctx, next)
	r.current = next
}

func (r *Runner) recomputeProgress() {
	if r.jobTotalDistance <= 0 {
		r.progress = 100
		return
	}
	p := int(math.Floor(100 * r.jobDistanceSoFar / r.jobTotalDistance))
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > r.progress {
		r.progress = p
	}
}

// fetchNext pulls the next Task from, in order, the preface, the
// lookahead queue (refilling it from the command file if empty), and the
// finishing sequence. It reports false once all three are exhausted.
func (r *Runner) fetchNext() (*Task, bool) {
	if len(r.preface) > 0 {
		t := r.preface[0]
		r.preface = r.preface[1:]
		return &t, true
	}
	if r.phase == PhasePreface {
		r.phase = PhaseBody
	}

	if r.planner.QueueEmpty() {
		r.fillLookahead()
	}
	if cmd, ok := r.planner.PopNext(); ok {
		return r.taskFromCommand(cmd), true
	}

	if len(r.finishing) > 0 {
		t := r.finishing[0]
		r.finishing = r.finishing[1:]
		r.phase = PhaseFinishing
		return &t, true
	}

	return nil, false
}

func (r *Runner) taskFromCommand(cmd motionplan.QueuedCommand) *Task {
	if cmd.Kind == motionplan.PenCommand {
		t := penTask(cmd.PenDown)
		return &t
	}
	t := moveTask(cmd.Point, true)
	return &t
}

// fillLookahead reads body lines and enqueues them until the lookahead
// queue is full or the file is exhausted. A line that can't fit in the
// queue's remaining capacity is held in pendingLine rather than dropped,
// so it is retried on the next fill rather than lost.
func (r *Runner) fillLookahead() {
	cfg := r.cfgStore.Get().Planner
	for !r.planner.QueueFull() {
		if r.pendingLine == nil {
			if r.eof {
				return
			}
			if !r.scanner.Scan() {
				r.eof = true
				return
			}
			line, ok := parseLine(r.scanner.Text())
			if !ok {
				continue
			}
			r.pendingLine = &line
		}
		if r.planner.EnqueueLine(*r.pendingLine, cfg) {
			r.pendingLine = nil
			continue
		}
		return
	}
}

// startTask dispatches t: a PenTaskKind runs the (bounded, busy-blocking)
// slow pen move synchronously; a MoveTaskKind hands off to the planner
// and returns immediately, letting the stepper engine run in the
// background.
func (r *Runner) startTask(ctx context.Context, t *Task) {
	t.started = true
	switch t.Kind {
	case PenTaskKind:
		var err error
		if t.PenDown {
			err = r.pen.SlowDown(ctx)
		} else {
			err = r.pen.SlowUp(ctx)
		}
		if err != nil {
			r.logger.CWarnf(ctx, "pen task failed: %v", err)
		}
		r.penIsDown = t.PenDown
		t.instantDone = true
	case MoveTaskKind:
		cfg := r.cfgStore.Get()
		speed := cfg.Tuning.MoveSpeedSteps
		if r.penIsDown {
			speed = cfg.Tuning.PrintSpeedSteps
		}
		t.startPosition = r.planner.Position()
		result, err := r.planner.Dispatch(ctx, t.Target, speed, cfg.Tuning.AccelStepsPerSec2, cfg.Planner)
		if err != nil {
			// §7: a failing mid-job move is caught at the task-start
			// boundary and marked immediately done, to prevent deadlock.
			r.logger.CWarnf(ctx, "move dispatch failed: %v", err)
			t.instantDone = true
			return
		}
		t.instantDone = result.InstantlyComplete
	}
}

// isTaskDone reports whether t has finished. Pen tasks are synchronous
// (done the instant startTask returns); move tasks are done once the
// planner reports no outstanding belt distance. There is no encoder
// feedback (§1 Non-goals), so "live XY within the target" is exactly the
// planner's already-committed pose — it carries no information beyond
// isMoving() and is not checked separately.
func (r *Runner) isTaskDone(t *Task) bool {
	if t.Kind == PenTaskKind {
		return true
	}
	if t.instantDone {
		return true
	}
	return !r.planner.IsMoving()
}

func distance(a, b rig.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
