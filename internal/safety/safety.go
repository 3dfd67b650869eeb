// Package safety enforces the hard ceilings that keep a runaway agent
// from burning rounds, model calls, or error budget indefinitely.
package safety

import "fmt"

// Counters are the progress figures read from the current checkpoint.
type Counters struct {
	Rounds            int
	ModelCalls        int
	ConsecutiveErrors int
}

// Ceilings are the configured hard limits. A counter that meets or
// exceeds its ceiling is a violation.
type Ceilings struct {
	MaxRounds            int
	MaxModelCalls        int
	MaxConsecutiveErrors int
}

// Violation identifies the first limit that was hit.
type Violation struct {
	Limit   string
	Current int
	Ceiling int
}

func (v *Violation) String() string {
	return fmt.Sprintf("%s limit reached (%d/%d)", v.Limit, v.Current, v.Ceiling)
}

// Check returns the first violated limit, or nil when every counter is
// still below its ceiling. Rounds are checked first so that exhaustion
// of the overall budget wins over secondary counters.
func Check(c Counters, max Ceilings) *Violation {
	if c.Rounds >= max.MaxRounds {
		return &Violation{Limit: "round", Current: c.Rounds, Ceiling: max.MaxRounds}
	}
	if c.ModelCalls >= max.MaxModelCalls {
		return &Violation{Limit: "model call", Current: c.ModelCalls, Ceiling: max.MaxModelCalls}
	}
	if c.ConsecutiveErrors >= max.MaxConsecutiveErrors {
		return &Violation{Limit: "consecutive error", Current: c.ConsecutiveErrors, Ceiling: max.MaxConsecutiveErrors}
	}
	return nil
}
