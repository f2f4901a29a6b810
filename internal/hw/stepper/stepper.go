package stepper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/hw/gpio"
)

// ErrLimitSwitch is returned when a step toward a closed limit switch is
// refused.
var ErrLimitSwitch = errors.New("limit switch closed")

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	Name         string // axis name used in logs
	StepPin      int
	DirPin       int
	EnablePin    int           // driver ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	LimitPin     int           // limit switch input (BCM). 0 = not used. Active HIGH.
	LimitForward bool          // switch ends forward travel; false = it ends reverse travel
	StepDelay    time.Duration // delay per half-cycle of STEP pulse. Total step = 2*StepDelay.
}

// Stepper drives one step/dir motor and tracks its position in counts.
// It is not safe for concurrent use; the motion controller owns it.
type Stepper struct {
	gpio     gpio.Driver
	cfg      Config
	delay    time.Duration // delay between STEP pulse half-cycles
	position int
	forward  bool
	dirSet   bool
}

// NewStepper creates a new stepper motor controller at position 0.
// cfg.StepDelay: if 0, defaults to 1ms.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)
	if cfg.LimitPin > 0 {
		_ = g.SetupPin(cfg.LimitPin, gpio.Input)
	}

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
	}

	// ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.Low) // enable by default
	}

	return s
}

// Name returns the axis name.
func (s *Stepper) Name() string { return s.cfg.Name }

// Position returns the current position in counts.
func (s *Stepper) Position() int { return s.position }

// SetPosition redefines the current position without moving (homing).
func (s *Stepper) SetPosition(counts int) { s.position = counts }

// AtLimit reports whether the limit switch is closed.
func (s *Stepper) AtLimit() (bool, error) {
	if s.cfg.LimitPin <= 0 {
		return false, nil
	}
	lvl, err := s.gpio.ReadPin(s.cfg.LimitPin)
	if err != nil {
		return false, fmt.Errorf("read limit %s: %w", s.cfg.Name, err)
	}
	return lvl == gpio.High, nil
}

// Step moves one count in the given direction. A step toward a closed
// limit switch fails with ErrLimitSwitch.
func (s *Stepper) Step(forward bool) error {
	if forward == s.cfg.LimitForward {
		if hit, err := s.AtLimit(); err != nil {
			return err
		} else if hit {
			return fmt.Errorf("%s at %d: %w", s.cfg.Name, s.position, ErrLimitSwitch)
		}
	}
	if !s.dirSet || s.forward != forward {
		if err := s.gpio.WritePin(s.cfg.DirPin, gpio.Level(forward)); err != nil {
			return err
		}
		s.forward, s.dirSet = forward, true
	}
	if err := s.stepPulse(); err != nil {
		return err
	}
	if forward {
		s.position++
	} else {
		s.position--
	}
	return nil
}

// MoveSteps moves the motor by a number of steps (positive or negative).
func (s *Stepper) MoveSteps(steps int) error {
	return s.MoveTo(context.Background(), s.position+steps)
}

// MoveTo steps until the position equals target, checking ctx between
// steps.
func (s *Stepper) MoveTo(ctx context.Context, target int) error {
	if target == s.position {
		return nil
	}
	debug.Verbose("Stepper %s: %d -> %d", s.cfg.Name, s.position, target)
	for s.position != target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Step(target > s.position); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Enable turns on the motor driver (ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). Motors freewheel, no holding torque.
// Used while the digitizer reads out to reduce electrical noise.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
