package stepper

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"

	"github.com/vplotter/motioncore/logging"
)

// fakePin is a minimal in-memory periph.io gpio.PinOut, recording every
// level it was driven to so tests can assert on pulse counts and the
// final direction without real hardware.
type fakePin struct {
	name string

	mu      sync.Mutex
	level   gpio.Level
	highs   int
}

func newFakePin(name string) *fakePin { return &fakePin{name: name} }

func (p *fakePin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = l
	if l == gpio.High {
		p.highs++
	}
	return nil
}

func (p *fakePin) highCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highs
}

func (p *fakePin) lastLevel() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *fakePin) PWM(duty gpio.Duty, f physic.Frequency) error { return nil }
func (p *fakePin) String() string       { return p.name }
func (p *fakePin) Name() string         { return p.name }
func (p *fakePin) Number() int          { return -1 }
func (p *fakePin) Function() string     { return "Out" }
func (p *fakePin) Halt() error          { return nil }

var (
	_ gpio.PinOut = (*fakePin)(nil)
	_ pin.Pin     = (*fakePin)(nil)
)

func newTestEngine(t *testing.T) (*Engine, *fakePin, *fakePin, *fakePin, *fakePin) {
	t.Helper()
	lStep, lDir := newFakePin("lstep"), newFakePin("ldir")
	rStep, rDir := newFakePin("rstep"), newFakePin("rdir")
	e, err := NewEngine(
		Pins{Step: lStep, Dir: lDir},
		Pins{Step: rStep, Dir: rDir},
		logging.NewTestLogger(),
	)
	test.That(t, err, test.ShouldBeNil)
	return e, lStep, lDir, rStep, rDir
}

func TestMoveToReachesTarget(t *testing.T) {
	e, lStep, _, rStep, _ := newTestEngine(t)
	defer e.Close()

	e.MoveTo(context.Background(), 200, 100, 400, 200, 2000)

	deadline := time.Now().Add(2 * time.Second)
	for e.IsMoving() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	test.That(t, e.IsMoving(), test.ShouldBeFalse)
	test.That(t, e.CurrentPosition(Left), test.ShouldEqual, int64(200))
	test.That(t, e.CurrentPosition(Right), test.ShouldEqual, int64(100))
	test.That(t, lStep.highCount(), test.ShouldEqual, 200)
	test.That(t, rStep.highCount(), test.ShouldEqual, 100)
}

func TestMoveToZeroDistanceIsImmediatelyIdle(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	defer e.Close()

	e.MoveTo(context.Background(), 0, 0, 400, 400, 2000)
	test.That(t, e.IsMoving(), test.ShouldBeFalse)
}

func TestSetCurrentPositionDeclaresPoseWithoutMoving(t *testing.T) {
	e, lStep, _, _, _ := newTestEngine(t)
	defer e.Close()

	e.SetCurrentPosition(Left, 500)
	test.That(t, e.CurrentPosition(Left), test.ShouldEqual, int64(500))
	test.That(t, e.IsMoving(), test.ShouldBeFalse)
	test.That(t, lStep.highCount(), test.ShouldEqual, 0)
}

func TestStopDeceleratesRatherThanSnapping(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	defer e.Close()

	e.MoveTo(context.Background(), 5000, 5000, 4000, 4000, 2000)
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for e.IsMoving() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	test.That(t, e.IsMoving(), test.ShouldBeFalse)

	pos := e.CurrentPosition(Left)
	test.That(t, pos, test.ShouldBeGreaterThan, int64(0))
	test.That(t, pos, test.ShouldBeLessThan, int64(5000))
}

func TestSetPulseWidths(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	defer e.Close()

	e.SetPulseWidths(5, 7)
	test.That(t, e.left.pulseWidth, test.ShouldEqual, 5*time.Microsecond)
	test.That(t, e.right.pulseWidth, test.ShouldEqual, 7*time.Microsecond)
}
