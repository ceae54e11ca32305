package motionplan

import (
	"testing"

	"go.viam.com/test"

	"github.com/vplotter/motioncore/rig"
)

func TestQueuePushPopFIFO(t *testing.T) {
	q := NewQueue(3)
	test.That(t, q.Push(Pen(true)), test.ShouldBeTrue)
	test.That(t, q.Push(Move(rig.Point{X: 1, Y: 1}, false)), test.ShouldBeTrue)
	test.That(t, q.Len(), test.ShouldEqual, 2)

	first, ok := q.Pop()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, first.Kind, test.ShouldEqual, PenCommand)

	second, ok := q.Pop()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, second.Point.X, test.ShouldEqual, 1.0)

	_, ok = q.Pop()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestQueueRespectsCapacity(t *testing.T) {
	q := NewQueue(2)
	test.That(t, q.Push(Pen(true)), test.ShouldBeTrue)
	test.That(t, q.Push(Pen(false)), test.ShouldBeTrue)
	test.That(t, q.Full(), test.ShouldBeTrue)
	test.That(t, q.Push(Pen(true)), test.ShouldBeFalse)
	test.That(t, q.Len(), test.ShouldEqual, 2)
}

func TestQueueWrapsAroundRingBuffer(t *testing.T) {
	q := NewQueue(2)
	q.Push(Pen(true))
	q.Push(Pen(false))
	q.Pop()
	test.That(t, q.Push(Move(rig.Point{X: 9}, true)), test.ShouldBeTrue)

	e, ok := q.Peek(0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, e.Kind, test.ShouldEqual, PenCommand)

	e, ok = q.Peek(1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, e.Point.X, test.ShouldEqual, 9.0)
}

func TestQueueResizePreservesEntries(t *testing.T) {
	q := NewQueue(4)
	q.Push(Move(rig.Point{X: 1}, false))
	q.Push(Move(rig.Point{X: 2}, false))

	q.Resize(8)
	test.That(t, q.Cap(), test.ShouldEqual, 8)
	test.That(t, q.Len(), test.ShouldEqual, 2)

	first, _ := q.Peek(0)
	test.That(t, first.Point.X, test.ShouldEqual, 1.0)
}

func TestQueueResizeDownTruncatesFromTail(t *testing.T) {
	q := NewQueue(4)
	q.Push(Move(rig.Point{X: 1}, false))
	q.Push(Move(rig.Point{X: 2}, false))
	q.Push(Move(rig.Point{X: 3}, false))

	q.Resize(2)
	test.That(t, q.Len(), test.ShouldEqual, 2)
	first, _ := q.Peek(0)
	test.That(t, first.Point.X, test.ShouldEqual, 1.0)
}
