package scan

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/hw/trigger"
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/motion"
	"github.com/cjeanneret/ptfmove/internal/logic/planner"
)

// PointFile is the on-disk list of scan destinations.
type PointFile struct {
	Points []geometry.Pose `yaml:"points"`
}

// LoadPoints reads a YAML point file.
func LoadPoints(path string) ([]geometry.Pose, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read point file: %w", err)
	}
	var f PointFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal point file: %w", err)
	}
	if len(f.Points) == 0 {
		return nil, fmt.Errorf("point file %s has no points", path)
	}
	return f.Points, nil
}

// PointResult is the outcome of one scan point.
type PointResult struct {
	Index   int
	From    geometry.Pose
	Dest    geometry.Pose
	Plan    *planner.MotionPlan // nil when skipped
	Err     error               // planner rejection when skipped
	Skipped bool
}

// Report summarizes a scan.
type Report struct {
	Visited int
	Skipped int
}

// Sequence visits a list of poses: plan, move, trigger a readout.
type Sequence struct {
	planner *planner.Planner
	motion  *motion.Controller
	trigger trigger.Trigger
}

func NewSequence(p *planner.Planner, m *motion.Controller, t trigger.Trigger) *Sequence {
	return &Sequence{
		planner: p,
		motion:  m,
		trigger: t,
	}
}

// Run visits points in order. A point the planner rejects is skipped and
// the scan continues; motor errors and cancellation stop it. onPoint, if
// set, is called once per point.
func (s *Sequence) Run(ctx context.Context, points []geometry.Pose, onPoint func(PointResult)) (Report, error) {
	var rep Report
	debug.Summary(fmt.Sprintf("Scan: %d points", len(points)))

	// Ensure motors are enabled before any movement
	if err := s.motion.EnableMotors(); err != nil {
		return rep, fmt.Errorf("enable motors: %w", err)
	}

	for i, dest := range points {
		select {
		case <-ctx.Done():
			return rep, ctx.Err()
		default:
		}

		res := PointResult{Index: i, From: s.motion.Pose(), Dest: dest}
		plan, err := s.planner.Plan(res.From, dest)
		if err != nil {
			if !errors.Is(err, planner.ErrBadDestination) {
				return rep, err
			}
			debug.Info("Point %d/%d skipped: %v", i+1, len(points), err)
			res.Err, res.Skipped = err, true
			rep.Skipped++
			if onPoint != nil {
				onPoint(res)
			}
			continue
		}
		res.Plan = plan

		debug.Live("Point %d/%d: %d rows, %s", i+1, len(points), plan.Len(), plan.Ordering())
		if err := s.motion.Execute(ctx, plan.Steps, nil); err != nil {
			return rep, fmt.Errorf("point %d: %w", i+1, err)
		}

		// Disable motors during readout (no driver noise on the sensor).
		// A failed re-enable stops the scan: counts would advance without
		// the motors moving.
		if err := s.motion.DisableMotors(); err != nil {
			debug.Error(fmt.Errorf("point %d: disable motors for readout: %w", i+1, err))
		}
		if err := s.trigger.Fire(ctx); err != nil {
			return rep, multierr.Append(fmt.Errorf("point %d trigger: %w", i+1, err), s.reenable(i))
		}
		if err := s.reenable(i); err != nil {
			return rep, err
		}

		rep.Visited++
		if onPoint != nil {
			onPoint(res)
		}
	}

	debug.Info("Scan done: %d visited, %d skipped", rep.Visited, rep.Skipped)
	return rep, nil
}

func (s *Sequence) reenable(i int) error {
	if err := s.motion.EnableMotors(); err != nil {
		return fmt.Errorf("point %d: re-enable motors: %w", i+1, err)
	}
	return nil
}
