// Package pen implements the §4.5 pen actuator contract: a staged-angle
// abstraction over a single servo, with slow linear-interpolated moves
// and a settle hold.
package pen

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vplotter/motioncore/logging"
)

// Driver is the hardware boundary: whatever turns a commanded angle into
// a physical pulse (PWM duty cycle, periph.io servo helper, simulation).
// Pen owns the timing/interpolation; Driver owns the actuation.
type Driver interface {
	SetAngleDeg(ctx context.Context, angle float64) error
}

const (
	// minAngleDeg and maxAngleDeg are the device's safe range (§4.5).
	minAngleDeg = 0.0
	maxAngleDeg = 70.0

	// slewRateDegPerSec is the ≈80°/s interpolation rate from §4.5.
	slewRateDegPerSec = 80.0

	// settleHold is the minimum hold after reaching the target angle.
	settleHold = 20 * time.Millisecond

	// stepInterval paces the interpolation loop; finer than this buys no
	// additional fidelity given slewRateDegPerSec and the servo's own
	// response time.
	stepInterval = 5 * time.Millisecond
)

// Pen tracks the two staged angles (down/up) and pending overrides that
// apply on the *next* transition only, per §4.5.
type Pen struct {
	driver Driver
	logger logging.Logger

	downAngle float64
	upAngle   float64

	pendingDown *float64
	pendingUp   *float64

	currentAngle float64
	isDown       bool
}

// New constructs a Pen with the given staged angles, clamped to the
// device's safe range.
func New(driver Driver, downAngleDeg, upAngleDeg float64, logger logging.Logger) *Pen {
	return &Pen{
		driver:       driver,
		logger:       logger,
		downAngle:    clamp(downAngleDeg),
		upAngle:      clamp(upAngleDeg),
		currentAngle: clamp(upAngleDeg),
		isDown:       false,
	}
}

func clamp(deg float64) float64 {
	if deg < minAngleDeg {
		return minAngleDeg
	}
	if deg > maxAngleDeg {
		return maxAngleDeg
	}
	return deg
}

// SetDownAngle sets the staged down angle used by the next SlowDown.
func (p *Pen) SetDownAngle(deg float64) { p.downAngle = clamp(deg) }

// SetUpAngle sets the staged up angle used by the next SlowUp.
func (p *Pen) SetUpAngle(deg float64) { p.upAngle = clamp(deg) }

// SetPendingDown stages a one-shot override angle for the next SlowDown
// only; it is consumed (cleared) once applied.
func (p *Pen) SetPendingDown(deg float64) {
	v := clamp(deg)
	p.pendingDown = &v
}

// SetPendingUp stages a one-shot override angle for the next SlowUp only.
func (p *Pen) SetPendingUp(deg float64) {
	v := clamp(deg)
	p.pendingUp = &v
}

// IsDown reports the last commanded pen state.
func (p *Pen) IsDown() bool { return p.isDown }

// CurrentAngle returns the last angle actually driven to the servo.
func (p *Pen) CurrentAngle() int { return int(p.currentAngle) }

// SlowDown interpolates from the current angle to the down angle (or its
// pending override) at slewRateDegPerSec, then holds for settleHold. It
// busy-blocks for the duration of the move: per §5, the pen actuator is
// the one code path permitted to do so.
func (p *Pen) SlowDown(ctx context.Context) error {
	target := p.downAngle
	if p.pendingDown != nil {
		target = *p.pendingDown
		p.pendingDown = nil
	}
	if err := p.slowMoveTo(ctx, target); err != nil {
		return errors.Wrap(err, "pen slow-down")
	}
	p.isDown = true
	return nil
}

// SlowUp interpolates from the current angle to the up angle (or its
// pending override), then holds for settleHold.
func (p *Pen) SlowUp(ctx context.Context) error {
	target := p.upAngle
	if p.pendingUp != nil {
		target = *p.pendingUp
		p.pendingUp = nil
	}
	if err := p.slowMoveTo(ctx, target); err != nil {
		return errors.Wrap(err, "pen slow-up")
	}
	p.isDown = false
	return nil
}

func (p *Pen) slowMoveTo(ctx context.Context, targetDeg float64) error {
	target := clamp(targetDeg)
	start := p.currentAngle
	delta := target - start
	if delta == 0 {
		return p.holdSettle(ctx, target)
	}

	direction := 1.0
	if delta < 0 {
		direction = -1.0
	}
	totalDuration := time.Duration(absFloat(delta) / slewRateDegPerSec * float64(time.Second))

	elapsed := time.Duration(0)
	for elapsed < totalDuration {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		step := stepInterval
		if elapsed+step > totalDuration {
			step = totalDuration - elapsed
		}
		time.Sleep(step)
		elapsed += step

		angle := start + direction*slewRateDegPerSec*elapsed.Seconds()
		angle = clamp(angle)
		if err := p.driver.SetAngleDeg(ctx, angle); err != nil {
			return err
		}
		p.currentAngle = angle
	}

	return p.holdSettle(ctx, target)
}

func (p *Pen) holdSettle(ctx context.Context, target float64) error {
	if err := p.driver.SetAngleDeg(ctx, target); err != nil {
		return err
	}
	p.currentAngle = target

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settleHold):
	}
	return nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
