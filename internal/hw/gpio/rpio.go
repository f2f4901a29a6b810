package gpio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/ptfmove/internal/debug"
)

// RPiDriver drives the Raspberry Pi header through go-rpio. It serves ten
// stepper drivers, their limit switches and the readout trigger from one
// process, so pin access is serialized.
type RPiDriver struct {
	mu      sync.Mutex
	outputs map[int]rpio.Pin
	inputs  map[int]rpio.Pin
}

// NewRPiRealDriver maps /dev/gpiomem. Needs a Raspberry Pi and the gpio
// group (or root).
func NewRPiRealDriver() (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO: %w (not a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped")
	return &RPiDriver{
		outputs: make(map[int]rpio.Pin),
		inputs:  make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.pin(pin, mode)
	return err
}

// pin returns pin configured for mode, switching its direction if needed.
func (r *RPiDriver) pin(pin int, mode PinMode) (rpio.Pin, error) {
	switch mode {
	case Input:
		if p, ok := r.inputs[pin]; ok {
			return p, nil
		}
		p := rpio.Pin(pin)
		p.Input()
		// switches close to 3V3
		p.PullDown()
		delete(r.outputs, pin)
		r.inputs[pin] = p
		return p, nil
	case Output:
		if p, ok := r.outputs[pin]; ok {
			return p, nil
		}
		p := rpio.Pin(pin)
		p.Output()
		delete(r.inputs, pin)
		r.outputs[pin] = p
		return p, nil
	default:
		return 0, fmt.Errorf("unknown pin mode: %d", mode)
	}
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.pin(pin, Output)
	if err != nil {
		return err
	}
	p.Write(rpioState(level))
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.pin(pin, Input)
	if err != nil {
		return Low, err
	}
	level := Level(p.Read() == rpio.High)
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// Close drives every output low (no step pulse in flight, trigger idle),
// releases all pins to input and unmaps the GPIO memory.
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pin, p := range r.outputs {
		p.Low()
		p.Input()
		debug.Trace("pin %d released", pin)
	}
	clear(r.outputs)
	clear(r.inputs)
	return rpio.Close()
}

func rpioState(l Level) rpio.State {
	if l == High {
		return rpio.High
	}
	return rpio.Low
}
