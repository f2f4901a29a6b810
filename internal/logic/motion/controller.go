package motion

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/multierr"

	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/hw/stepper"
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
)

// ErrStalePlan is returned when the first row of a plan does not match the
// motor positions, i.e. the plan was computed from another pose.
var ErrStalePlan = fmt.Errorf("plan does not start at the current motor position")

// Controller drives the ten motors of both gantries through waypoint rows.
// It's the layer between the planner (which decides where and in which
// order) and the steppers (which only know counts).
//
// Only one Execute may run at a time; Counts and Pose may be called
// concurrently with it.
type Controller struct {
	axes   [geometry.NumAxes]*stepper.Stepper
	scales geometry.Scales

	mu  sync.Mutex
	pos geometry.Waypoint
}

// NewController wires the steppers in waypoint column order.
func NewController(axes [geometry.NumAxes]*stepper.Stepper, scales geometry.Scales) *Controller {
	c := &Controller{axes: axes, scales: scales}
	for i, s := range axes {
		c.pos[i] = s.Position()
	}
	return c
}

// Counts returns the last known motor positions.
func (c *Controller) Counts() geometry.Waypoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Pose returns the motor positions in physical units.
func (c *Controller) Pose() geometry.Pose {
	return c.scales.ToPose(c.Counts())
}

// SetCounts redefines the motor positions without moving (after homing).
func (c *Controller) SetCounts(w geometry.Waypoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.axes {
		s.SetPosition(w[i])
	}
	c.pos = w
}

// SetPose is SetCounts in physical units.
func (c *Controller) SetPose(p geometry.Pose) {
	c.SetCounts(c.scales.ToWaypoint(p))
}

func (c *Controller) sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.axes {
		c.pos[i] = s.Position()
	}
}

// Execute drives the motors through rows in order. rows[0] must be the
// current position. onRow, if set, is called after each row is reached.
func (c *Controller) Execute(ctx context.Context, rows []geometry.Waypoint, onRow func(i int, w geometry.Waypoint)) error {
	if len(rows) == 0 {
		return nil
	}
	if cur := c.Counts(); rows[0] != cur {
		return fmt.Errorf("%w: at %v, plan starts at %v", ErrStalePlan, cur, rows[0])
	}
	for i := 1; i < len(rows); i++ {
		if err := c.MoveTo(ctx, rows[i]); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		debug.Move(i, len(rows)-1, rows[i])
		if onRow != nil {
			onRow(i, rows[i])
		}
	}
	return nil
}

// MoveTo moves every axis to target together: the axis with the longest
// travel steps every tick and the others are spread evenly over the same
// ticks, so the motion is a straight line in count space.
func (c *Controller) MoveTo(ctx context.Context, target geometry.Waypoint) error {
	defer c.sync()

	var start geometry.Waypoint
	ticks := 0
	for i, s := range c.axes {
		start[i] = s.Position()
		if d := abs(target[i] - start[i]); d > ticks {
			ticks = d
		}
	}

	for k := 1; k <= ticks; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, s := range c.axes {
			want := start[i] + int(math.Round(float64(target[i]-start[i])*float64(k)/float64(ticks)))
			if want == s.Position() {
				continue
			}
			if err := s.Step(want > s.Position()); err != nil {
				return fmt.Errorf("%s: %w", geometry.Axis(i), err)
			}
		}
		if k%64 == 0 {
			c.sync()
		}
	}
	return nil
}

// EnableMotors turns on every driver.
func (c *Controller) EnableMotors() error {
	var err error
	for _, s := range c.axes {
		err = multierr.Append(err, s.Enable())
	}
	return err
}

// DisableMotors turns off every driver (no holding torque).
func (c *Controller) DisableMotors() error {
	var err error
	for _, s := range c.axes {
		err = multierr.Append(err, s.Disable())
	}
	return err
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
