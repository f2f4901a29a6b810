package trigger

import (
	"context"
	"time"

	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/hw/gpio"
)

// Trigger starts one digitizer readout at the current scan point.
type Trigger interface {
	Fire(ctx context.Context) error
}

// Nop is used when no trigger line is wired.
type Nop struct{}

func (Nop) Fire(context.Context) error { return nil }

// GPIOPulse drives a single TTL line: it waits for the gantries to settle,
// then raises the line for the pulse width.
//
// Sequence:
// 1. wait settle (vibration from the last move dies out)
// 2. line HIGH
// 3. hold for width
// 4. line LOW
type GPIOPulse struct {
	gpio   gpio.Driver
	pin    int
	settle time.Duration
	width  time.Duration
}

// NewGPIOPulse configures pin as an idle-low output.
func NewGPIOPulse(g gpio.Driver, pin int, settle, width time.Duration) *GPIOPulse {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)
	return &GPIOPulse{gpio: g, pin: pin, settle: settle, width: width}
}

// New returns a GPIO pulse trigger, or Nop when pin is 0.
func New(g gpio.Driver, pin int, settle, width time.Duration) Trigger {
	if pin <= 0 {
		return Nop{}
	}
	return NewGPIOPulse(g, pin, settle, width)
}

// Fire waits for the settle time and emits one pulse. A cancelled context
// aborts the wait; the line is always left LOW.
func (p *GPIOPulse) Fire(ctx context.Context) error {
	debug.Verbose("Trigger: settling %v before pulse on pin %d", p.settle, p.pin)
	if err := sleep(ctx, p.settle); err != nil {
		return err
	}

	if err := p.gpio.WritePin(p.pin, gpio.High); err != nil {
		return err
	}
	time.Sleep(p.width)
	if err := p.gpio.WritePin(p.pin, gpio.Low); err != nil {
		return err
	}
	debug.Live("Trigger: readout pulse sent (pin %d, %v)", p.pin, p.width)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
