package provision

import (
	"errors"
	"fmt"
)

// ErrLookupInconsistent is returned when a provider reported a duplicate but
// the follow-up lookup could not find the resource.
var ErrLookupInconsistent = errors.New("provider reported duplicate but lookup found nothing")

// StepError wraps a fatal error with the domain and step it aborted.
type StepError struct {
	Domain string
	Step   Step
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provision %s: %s: %v", e.Domain, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step that aborted a run, if err came from one.
func FailedStep(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
