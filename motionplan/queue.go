// Package motionplan implements the §4.3 lookahead motion planner: arc
// tessellation, the filter/merge pass, and the per-segment feed/accel
// pipeline that turns a stream of drawing commands into belt-length
// dispatches against the stepper engine.
package motionplan

import "github.com/vplotter/motioncore/rig"

// CommandKind tags a QueuedCommand's variant, replacing the polymorphic
// task classes of the source with a small tagged union — queued entries
// are plain structs, so the lookahead deque never needs to allocate.
type CommandKind int

// The two QueuedCommand variants named in §3.
const (
	PenCommand CommandKind = iota
	MoveCommand
)

// QueuedCommand is either Pen(down) or Move(point, protected). Protected
// entries come from arc tessellation and may never be dropped by the
// filter/merge pass.
type QueuedCommand struct {
	Kind      CommandKind
	PenDown   bool
	Point     rig.Point
	Protected bool
}

// Pen constructs a PenCommand entry.
func Pen(down bool) QueuedCommand {
	return QueuedCommand{Kind: PenCommand, PenDown: down}
}

// Move constructs a MoveCommand entry.
func Move(p rig.Point, protected bool) QueuedCommand {
	return QueuedCommand{Kind: MoveCommand, Point: p, Protected: protected}
}

// Queue is a fixed-capacity ring buffer of QueuedCommand, sized to
// lookaheadSegments (§9: "prefer a fixed-capacity ring buffer... to
// avoid allocator pressure in the motion loop").
type Queue struct {
	buf   []QueuedCommand
	head  int
	count int
}

// NewQueue constructs a Queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{buf: make([]QueuedCommand, capacity)}
}

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Len returns the number of entries currently buffered.
func (q *Queue) Len() int { return q.count }

// Full reports whether the queue is at capacity.
func (q *Queue) Full() bool { return q.count == len(q.buf) }

// Empty reports whether the queue holds no entries.
func (q *Queue) Empty() bool { return q.count == 0 }

// Push appends cmd to the tail. It reports false (and does nothing) if
// the queue is already full.
func (q *Queue) Push(cmd QueuedCommand) bool {
	if q.Full() {
		return false
	}
	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = cmd
	q.count++
	return true
}

// Pop removes and returns the head entry.
func (q *Queue) Pop() (QueuedCommand, bool) {
	if q.Empty() {
		return QueuedCommand{}, false
	}
	cmd := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return cmd, true
}

// Peek returns the i'th buffered entry (0 = head) without removing it.
func (q *Queue) Peek(i int) (QueuedCommand, bool) {
	if i < 0 || i >= q.count {
		return QueuedCommand{}, false
	}
	return q.buf[(q.head+i)%len(q.buf)], true
}

// Resize changes the queue's capacity, preserving as many buffered
// entries (from the head) as fit in the new capacity. Used when
// PlannerConfig.LookaheadSegments changes at runtime.
func (q *Queue) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	next := make([]QueuedCommand, capacity)
	n := q.count
	if n > capacity {
		n = capacity
	}
	for i := 0; i < n; i++ {
		cmd, _ := q.Peek(i)
		next[i] = cmd
	}
	q.buf = next
	q.head = 0
	q.count = n
}
