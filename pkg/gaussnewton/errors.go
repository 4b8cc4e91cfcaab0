package gaussnewton

import "fmt"

// SolverStall reports that the damped Gauss-Newton loop could not find
// an improving step (lambda search exhausted, or the forward/Jacobian
// evaluation failed outright) and terminated early (spec.md §7, "Solver
// stall ... terminate the bunch with reason 'No improvement' but still
// emit the best iterate so far"). InvertBunch still returns the best
// State alongside this error; callers log it and keep the State's
// output rather than discarding the bunch.
type SolverStall struct {
	Reason string
}

func (e *SolverStall) Error() string {
	return fmt.Sprintf("solver stalled: %s", e.Reason)
}
