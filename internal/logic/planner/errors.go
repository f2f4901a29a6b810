package planner

import (
	"github.com/pkg/errors"
)

// ErrBadDestination is matched by every rejection the planner returns.
var ErrBadDestination = errors.New("bad destination")

// ConfigurationError reports a destination that fails validation. No
// ordering search is attempted for it.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "bad destination: " + e.Reason
}

// Is makes errors.Is(err, ErrBadDestination) hold.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrBadDestination
}

type noPathError struct{}

func (noPathError) Error() string { return "no collision-free path" }

func (noPathError) Is(target error) bool { return target == ErrBadDestination }

// ErrNoCollisionFreePath is returned when every ordering collides.
var ErrNoCollisionFreePath error = noPathError{}

// Status is the outcome code reported to callers that only need the
// success/failure distinction.
type Status int

const (
	StatusSuccess Status = iota
	StatusBadDestination
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "Success"
	}
	return "BadDestination"
}

// StatusOf maps a Plan error to its status code.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	return StatusBadDestination
}
