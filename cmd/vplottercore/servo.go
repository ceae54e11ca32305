package main

import (
	"context"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// pwmServo drives a hobby servo's control line by bit-banging the pulse
// train directly on a gpio.PinOut: a 20ms period, with a 1-2ms high pulse
// whose width within that window encodes the commanded angle. Board
// drivers exposing hardware PWM would satisfy gpio.PinPWM instead, but
// bit-banging needs no board-specific capability and is adequate for the
// pen actuator's slow step-by-step angle interpolation.
type pwmServo struct {
	pin gpio.PinOut
}

const (
	servoPeriod   = 20 * time.Millisecond
	servoMinPulse = 1 * time.Millisecond
	servoMaxPulse = 2 * time.Millisecond
	servoMaxAngle = 70.0 // matches pen's device safe range
)

func newPWMServo(pin gpio.PinOut) *pwmServo {
	return &pwmServo{pin: pin}
}

// SetAngleDeg implements pen.Driver by emitting a handful of pulse-train
// cycles at the angle's corresponding pulse width. Each call blocks for two
// 20ms periods, and the pen actuator waits 5ms between calls while
// interpolating, so one short burst per call is enough to keep a hobby
// servo's internal position holding between calls.
func (s *pwmServo) SetAngleDeg(ctx context.Context, angle float64) error {
	if angle < 0 {
		angle = 0
	}
	if angle > servoMaxAngle {
		angle = servoMaxAngle
	}
	frac := angle / servoMaxAngle
	pulse := servoMinPulse + time.Duration(frac*float64(servoMaxPulse-servoMinPulse))

	const cycles = 2
	for i := 0; i < cycles; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.pin.Out(gpio.High); err != nil {
			return err
		}
		time.Sleep(pulse)
		if err := s.pin.Out(gpio.Low); err != nil {
			return err
		}
		time.Sleep(servoPeriod - pulse)
	}
	return nil
}
