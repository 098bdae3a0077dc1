package stack

import "fmt"

// Transition decisions. Numeric values double as the commit mask:
// nonzero selects the composed value, zero the buffer top.
const (
	Shift  int32 = 0
	Reduce int32 = 1
)

// ValidateTransitions checks that a time-major B x T transition array is
// well formed for every lane: each value is SHIFT or REDUCE, and no
// prefix reduces more than it has pushed. This runs once, before the
// first step, so the per-step kernels never see an address a malformed
// sequence would produce.
func ValidateTransitions(spec ModelSpec, transitions []int32) error {
	b, t := spec.BatchSize, spec.SeqLength
	if len(transitions) != b*t {
		return fmt.Errorf("%w: got %d decisions, want %d", ErrInvalidTransitions, len(transitions), b*t)
	}
	for lane := 0; lane < b; lane++ {
		depth := 0
		for step := 0; step < t; step++ {
			switch transitions[step*b+lane] {
			case Shift:
				depth++
			case Reduce:
				if depth < 2 {
					return fmt.Errorf("%w: lane %d reduces at step %d with stack depth %d", ErrInvalidTransitions, lane, step, depth)
				}
				depth--
			default:
				return fmt.Errorf("%w: lane %d has decision %d at step %d", ErrInvalidTransitions, lane, transitions[step*b+lane], step)
			}
		}
	}
	return nil
}

// LeftBranching builds the transition sequence for a fully left-branching
// binary tree over n leaves: S S R S R S R ... Its length is 2n-1.
func LeftBranching(n int) []int32 {
	if n <= 0 {
		return nil
	}
	out := make([]int32, 0, 2*n-1)
	out = append(out, Shift)
	for i := 1; i < n; i++ {
		out = append(out, Shift, Reduce)
	}
	return out
}
