package jobrunner

import (
	"context"
	"os"
	"testing"
	"time"

	"go.viam.com/test"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"

	"github.com/vplotter/motioncore/logging"
	"github.com/vplotter/motioncore/motionplan"
	"github.com/vplotter/motioncore/pen"
	"github.com/vplotter/motioncore/plannerconfig"
	"github.com/vplotter/motioncore/rig"
	"github.com/vplotter/motioncore/stepper"
)

type fakePin struct{ name string }

func (p *fakePin) Out(l gpio.Level) error { return nil }
func (p *fakePin) PWM(duty gpio.Duty, f physic.Frequency) error { return nil }
func (p *fakePin) String() string         { return p.name }
func (p *fakePin) Name() string           { return p.name }
func (p *fakePin) Number() int            { return -1 }
func (p *fakePin) Function() string       { return "Out" }
func (p *fakePin) Halt() error            { return nil }

var (
	_ gpio.PinOut = (*fakePin)(nil)
	_ pin.Pin     = (*fakePin)(nil)
)

type fakeDriver struct{}

func (fakeDriver) SetAngleDeg(ctx context.Context, angle float64) error { return nil }

func testGeometry() rig.Geometry {
	return rig.Geometry{
		TopDistanceMM:             650,
		PulleyDiameterMM:          10,
		PulleyToPenMM:             5,
		CentreOfMassMM:            2,
		MidPulleyToWallMM:         20,
		SledMassKG:                0.2,
		GravityMPS2:               9.81,
		BeltElongationCoefficient: 0.00002,
		StepsPerRotation:          3200,
		TravelPerRotationMM:       40,
		SafeXFraction:             0.85,
		SafeYFraction:             0.9,
		MinSafeXOffsetMM:          50,
		MinSafeYMM:                50,
	}
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	logger := logging.NewTestLogger()

	solver := rig.NewSolver(testGeometry(), logger)
	engine, err := stepper.NewEngine(
		stepper.Pins{Step: &fakePin{name: "ls"}, Dir: &fakePin{name: "ld"}},
		stepper.Pins{Step: &fakePin{name: "rs"}, Dir: &fakePin{name: "rd"}},
		logger,
	)
	test.That(t, err, test.ShouldBeNil)
	planner := motionplan.NewPlanner(solver, engine, 16, logger)

	store, err := plannerconfig.NewStore("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.SetRigGeometry(testGeometry()), test.ShouldBeNil)

	actuator := pen.New(fakeDriver{}, 10, 60, logger)

	return NewRunner(planner, actuator, store, logger, rig.Point{X: 0, Y: 0})
}

func writeCommandFile(t *testing.T, body string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "job-*.txt")
	test.That(t, err, test.ShouldBeNil)
	_, err = f.WriteString(body)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)
	return f.Name()
}

const squareJob = "d40.000\nh10\np0\n0 10\n10 10\n10 0\n0 0\n"

// arcJob's body is a single quarter-circle arc from home (0,0) to (10,10)
// centred on (0,10) (I=0, J=10). Its declared distance is set low enough
// that even the first tessellated chord should already register nonzero
// progress — exercising that arc-tessellated (protected) points count
// toward jobDistanceSoFar the same as a plain body move.
const arcJob = "d1.000\nh10\np0\nG3 10 10 0 10\n"

// runToStopped drives Tick in a tight loop, pacing it with a short sleep
// so the stepper engine's background pulse worker (paced by real wall
// time) gets a chance to actually advance between ticks.
func runToStopped(t *testing.T, r *Runner, timeout time.Duration) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.Tick(ctx)
		if r.Status().Phase == PhaseStopped {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("runner did not reach PhaseStopped within %s", timeout)
}

func TestParseLines(t *testing.T) {
	_, ok := parseLine("not a valid line !!")
	test.That(t, ok, test.ShouldBeFalse)

	line, ok := parseLine("p1")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, line.Kind, test.ShouldEqual, motionplan.RawPen)
	test.That(t, line.PenDown, test.ShouldBeTrue)

	line, ok = parseLine("12.5 -3.25")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, line.Kind, test.ShouldEqual, motionplan.RawMove)
	test.That(t, line.Target.X, test.ShouldEqual, 12.5)

	line, ok = parseLine("G3 10 10 10 0")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, line.Kind, test.ShouldEqual, motionplan.RawArc)
	test.That(t, line.Clockwise, test.ShouldBeFalse)
}

func TestStartFailsOnMissingHeader(t *testing.T) {
	r := newTestRunner(t)
	path := writeCommandFile(t, "not a header\n")
	err := r.Start(path, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunSquareJobReachesFullProgress(t *testing.T) {
	r := newTestRunner(t)
	path := writeCommandFile(t, squareJob)
	test.That(t, r.Start(path, 0), test.ShouldBeNil)
	test.That(t, r.Status().Phase, test.ShouldEqual, PhaseBody)

	runToStopped(t, r, 30*time.Second)

	status := r.Status()
	test.That(t, status.Progress, test.ShouldEqual, 100)
	test.That(t, status.Running, test.ShouldBeFalse)
	test.That(t, absFloat(status.X), test.ShouldBeLessThanOrEqualTo, 0.05)
	test.That(t, absFloat(status.Y), test.ShouldBeLessThanOrEqualTo, 0.05)
}

func TestRunArcJobCountsTessellatedPointsTowardProgress(t *testing.T) {
	r := newTestRunner(t)
	path := writeCommandFile(t, arcJob)
	test.That(t, r.Start(path, 0), test.ShouldBeNil)

	ctx := context.Background()
	sawProgress := false
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		r.Tick(ctx)
		if r.Status().Phase == PhaseStopped {
			break
		}
		if r.Status().Progress > 0 {
			sawProgress = true
		}
		time.Sleep(time.Millisecond)
	}
	test.That(t, sawProgress, test.ShouldBeTrue)

	status := r.Status()
	test.That(t, status.Progress, test.ShouldEqual, 100)
	test.That(t, status.Running, test.ShouldBeFalse)
}

func TestStartWithSkipBuildsPreface(t *testing.T) {
	r := newTestRunner(t)
	path := writeCommandFile(t, squareJob)
	test.That(t, r.Start(path, 2), test.ShouldBeNil)
	test.That(t, r.Status().Phase, test.ShouldEqual, PhasePreface)
	test.That(t, len(r.preface) > 0, test.ShouldBeTrue)
	// First skipped body line is p0 (pen up, no-op on virtual pen state),
	// second is "0 10": virtual pose ends at (0,10), away from home, so
	// the preface must contain a move back out to resume from there.
	test.That(t, r.preface[0].Kind, test.ShouldEqual, PenTaskKind)
	test.That(t, r.preface[1].Kind, test.ShouldEqual, MoveTaskKind)
	test.That(t, r.preface[1].Target, test.ShouldResemble, rig.Point{X: 0, Y: 10})
}

func TestPauseStopsTaskFetchingUntilResume(t *testing.T) {
	r := newTestRunner(t)
	path := writeCommandFile(t, squareJob)
	test.That(t, r.Start(path, 0), test.ShouldBeNil)

	ctx := context.Background()
	r.Tick(ctx) // dispatch p0
	r.Pause()

	before := r.Status()
	for i := 0; i < 50; i++ {
		r.Tick(ctx)
	}
	after := r.Status()
	test.That(t, after.Phase, test.ShouldEqual, before.Phase)
	test.That(t, after.Paused, test.ShouldBeTrue)

	r.Resume()
	test.That(t, r.Status().Paused, test.ShouldBeFalse)
}

func TestAbortDuringJobForcesFinishingSequence(t *testing.T) {
	r := newTestRunner(t)
	path := writeCommandFile(t, squareJob)
	test.That(t, r.Start(path, 0), test.ShouldBeNil)

	ctx := context.Background()
	// Advance a few ticks into the body so a move is in flight.
	for i := 0; i < 5; i++ {
		r.Tick(ctx)
	}
	r.Abort()

	runToStopped(t, r, 30*time.Second)

	status := r.Status()
	test.That(t, status.Progress, test.ShouldEqual, 100)
	test.That(t, status.PenDown, test.ShouldBeFalse)
	test.That(t, absFloat(status.X), test.ShouldBeLessThanOrEqualTo, 0.05)
	test.That(t, absFloat(status.Y), test.ShouldBeLessThanOrEqualTo, 0.05)
}

func TestBusyWhileAlreadyRunning(t *testing.T) {
	r := newTestRunner(t)
	path := writeCommandFile(t, squareJob)
	test.That(t, r.Start(path, 0), test.ShouldBeNil)

	err := r.Start(path, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
