// Package stepper drives the two belt motors' step/dir GPIO lines to an
// absolute step target with a trapezoidal velocity profile, synchronized
// so the shorter-travelling axis never finishes ahead of the longer one.
package stepper

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"

	"github.com/vplotter/motioncore/logging"
)

// minPulseInterval keeps the pulse loop from busy-spinning the CPU even
// when the configured feed would otherwise call for a shorter interval
// than the hardware (or this goroutine's scheduling granularity) supports.
const minPulseInterval = 20 * time.Microsecond

// Axis identifies one of the two belt motors.
type Axis int

// The two belt axes, matching rig.BeltLengths' Left/Right ordering.
const (
	Left Axis = iota
	Right
)

// Pins is the GPIO wiring for one axis: a step line pulsed once per
// motor step, a direction line held for the duration of a move, and an
// optional active-low enable line.
type Pins struct {
	Step   gpio.PinOut
	Dir    gpio.PinOut
	Enable gpio.PinOut // nil if the driver is always enabled
}

// axisState tracks one axis's live profile and position.
type axisState struct {
	pins Pins

	mu            sync.Mutex
	position      int64
	target        int64
	feed          float64 // steps/sec, caller-provided peak for this axis
	accel         float64 // steps/sec^2
	pulseWidth time.Duration
	lastStepAt time.Time
}

// Engine drives both axes. It never blocks the caller of moveTo; the
// profile executes on a background worker until quiesced or replaced.
type Engine struct {
	logger logging.Logger

	left  *axisState
	right *axisState

	mu      sync.Mutex
	workers *utils.StoppableWorkers
	moving  bool
	stopReq bool
}

// NewEngine constructs an Engine wired to the given per-axis GPIO pins.
// Both step lines are driven low immediately so a driver never sees a
// stuck-high pulse left over from a previous process.
func NewEngine(leftPins, rightPins Pins, logger logging.Logger) (*Engine, error) {
	if err := setPinsLow(leftPins.Step, rightPins.Step); err != nil {
		return nil, errors.Wrap(err, "initializing step pins")
	}
	return &Engine{
		logger: logger,
		left:   &axisState{pins: leftPins, pulseWidth: 2 * time.Microsecond},
		right:  &axisState{pins: rightPins, pulseWidth: 2 * time.Microsecond},
	}, nil
}

// SetPulseWidths configures the active-high pulse duration for each axis,
// per the §4.6 `setPulseWidths(leftUs, rightUs)` control surface entry.
func (e *Engine) SetPulseWidths(leftUs, rightUs int) {
	e.left.mu.Lock()
	e.left.pulseWidth = time.Duration(leftUs) * time.Microsecond
	e.left.mu.Unlock()

	e.right.mu.Lock()
	e.right.pulseWidth = time.Duration(rightUs) * time.Microsecond
	e.right.mu.Unlock()
}

// SetEnable drives the axis's enable line, if wired. A no-op when the
// axis has no enable pin configured.
func (e *Engine) SetEnable(ctx context.Context, axis Axis, enabled bool) error {
	st := e.axis(axis)
	if st.pins.Enable == nil {
		return nil
	}
	// Most stepper drivers are active-low on enable.
	return st.pins.Enable.Out(gpio.Level(!enabled))
}

func (e *Engine) axis(axis Axis) *axisState {
	if axis == Left {
		return e.left
	}
	return e.right
}

// CurrentPosition returns the engine's best estimate of an axis's
// absolute step position.
func (e *Engine) CurrentPosition(axis Axis) int64 {
	st := e.axis(axis)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.position
}

// SetCurrentPosition declares an axis's pose without moving it, used
// immediately after homing.
func (e *Engine) SetCurrentPosition(axis Axis, steps int64) {
	st := e.axis(axis)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.position = steps
	st.target = steps
}

// IsMoving reports whether either axis still has distance to go.
func (e *Engine) IsMoving() bool {
	return e.axisMoving(e.left) || e.axisMoving(e.right)
}

func (e *Engine) axisMoving(st *axisState) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.position != st.target
}

// MoveTo begins (or replaces) the current profile: both axes ramp from
// rest up to their own feed (steps/sec, already pre-scaled per axis by
// the planner so both finish together), coast, then ramp down, arriving
// at leftTarget/rightTarget synchronously. A profile still running is
// cancelled first; its velocity is not carried into the new one.
func (e *Engine) MoveTo(ctx context.Context, leftTarget, rightTarget int64, leftFeed, rightFeed, accelStepsPerSec2 float64) {
	// The old worker takes e.mu on exit, so it is stopped with e.mu released.
	e.mu.Lock()
	workers := e.workers
	e.workers = nil
	e.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
	e.mu.Lock()
	e.stopReq = false
	e.mu.Unlock()

	e.left.mu.Lock()
	e.left.target = leftTarget
	e.left.feed = leftFeed
	e.left.accel = accelStepsPerSec2
	e.left.mu.Unlock()

	e.right.mu.Lock()
	e.right.target = rightTarget
	e.right.feed = rightFeed
	e.right.accel = accelStepsPerSec2
	e.right.mu.Unlock()

	if !e.IsMoving() {
		return
	}

	e.mu.Lock()
	e.moving = true
	e.workers = utils.NewBackgroundStoppableWorkers(func(workerCtx context.Context) {
		e.runProfile(workerCtx)
	})
	e.mu.Unlock()
}

// Stop decelerates both axes to rest respecting their configured
// acceleration, rather than an immediate halt.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopReq = true
	e.mu.Unlock()
}

// Close halts the background profile worker.
func (e *Engine) Close() {
	e.mu.Lock()
	workers := e.workers
	e.workers = nil
	e.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
}

// runProfile generates step pulses for both axes until they reach their
// targets (or a stop is requested mid-ramp), enforcing: pulse rate never
// exceeds the configured feed, acceleration never exceeds the configured
// value, and isMoving reports false only once both axes have arrived.
func (e *Engine) runProfile(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.moving = false
		e.mu.Unlock()
	}()

	leftV, rightV := 0.0, 0.0
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.mu.Lock()
		stopping := e.stopReq
		e.mu.Unlock()

		leftDone := !e.axisMoving(e.left)
		rightDone := !e.axisMoving(e.right)
		if leftDone && rightDone {
			return
		}

		now := time.Now()
		dt := now.Sub(last).Seconds()
		last = now

		if !leftDone {
			var err error
			leftV, err = e.stepAxis(ctx, e.left, leftV, now, dt, stopping)
			if err != nil {
				e.logger.Errorf("stepper: left axis pulse error: %v", err)
				return
			}
		}
		if !rightDone {
			var err error
			rightV, err = e.stepAxis(ctx, e.right, rightV, now, dt, stopping)
			if err != nil {
				e.logger.Errorf("stepper: right axis pulse error: %v", err)
				return
			}
		}

		if stopping && leftV == 0 && rightV == 0 {
			e.left.mu.Lock()
			e.left.target = e.left.position
			e.left.mu.Unlock()
			e.right.mu.Lock()
			e.right.target = e.right.position
			e.right.mu.Unlock()
			return
		}

		time.Sleep(minPulseInterval)
	}
}

// stepAxis advances one axis's velocity per the trapezoidal profile and
// emits a step pulse if the resulting interval has elapsed. It returns
// the axis's (possibly updated) instantaneous velocity. dt is the time
// elapsed since the previous pass of the profile loop.
func (e *Engine) stepAxis(ctx context.Context, st *axisState, v float64, now time.Time, dt float64, decelerating bool) (float64, error) {
	st.mu.Lock()
	remaining := st.target - st.position
	feed := st.feed
	accel := st.accel
	pulseWidth := st.pulseWidth
	lastStepAt := st.lastStepAt
	pins := st.pins
	st.mu.Unlock()

	if remaining == 0 {
		return 0, nil
	}

	dir := float64(1)
	if remaining < 0 {
		dir = -1
	}
	absRemaining := math.Abs(float64(remaining))

	// Ramp down once the remaining distance can no longer absorb a
	// further increase in speed before the accel-limited stopping
	// distance would overshoot the target.
	stoppingDistance := (v * v) / (2 * accel)
	switch {
	case decelerating || stoppingDistance >= absRemaining:
		v = math.Max(0, v-accel*dt)
	case v < feed:
		v = math.Min(feed, v+accel*dt)
	default:
		v = feed
	}

	if v <= 0 {
		return 0, nil
	}

	interval := time.Duration(float64(time.Second) / v)
	if now.Sub(lastStepAt) < interval {
		return v, nil
	}

	if err := pins.Dir.Out(gpio.Level(dir > 0)); err != nil {
		return v, errors.Wrap(err, "setting direction pin")
	}
	if err := pins.Step.Out(gpio.High); err != nil {
		return v, errors.Wrap(err, "raising step pin")
	}
	time.Sleep(pulseWidth)
	if err := pins.Step.Out(gpio.Low); err != nil {
		return v, errors.Wrap(err, "lowering step pin")
	}

	st.mu.Lock()
	if dir > 0 {
		st.position++
	} else {
		st.position--
	}
	st.lastStepAt = now
	st.mu.Unlock()

	select {
	case <-ctx.Done():
		return v, ctx.Err()
	default:
	}
	return v, nil
}

// setPinsLow drives both step lines low; used on construction/teardown
// so a driver never sees a stuck-high step line.
func setPinsLow(pins ...gpio.PinOut) error {
	var err error
	for _, p := range pins {
		if p == nil {
			continue
		}
		err = multierr.Combine(err, p.Out(gpio.Low))
	}
	return err
}
