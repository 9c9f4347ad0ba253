// Package cover selects, inside a group of weighted entries, the subset whose
// total is the smallest sum that still meets or exceeds a target.
//
// Small groups are solved exactly with a meet-in-the-middle enumeration; large
// groups go through a frontier dynamic program with multiplicative trimming
// (an FPTAS). Every call is pure: inputs are never mutated and no state is kept
// between calls, so groups can be solved concurrently.
package cover

import (
	"errors"
	"fmt"
)

// Default solver tunables.
const (
	DefaultExactThreshold    = 26
	DefaultEpsilon           = 0.01
	DefaultMaxFrontierStates = 5000

	// MaxExactThreshold bounds the exact path at 2^20 subsets per half.
	MaxExactThreshold = 40
)

// ErrInvalidConfig is returned when a Config cannot drive the solver.
var ErrInvalidConfig = errors.New("invalid solver config")

// Method names the algorithm that produced a Result.
type Method string

const (
	MethodExact  Method = "mitm"
	MethodApprox Method = "fptas"
)

// Entry is one positive value carrying an opaque identifier back to its source record.
type Entry struct {
	Value float64 `json:"value"`
	ID    string  `json:"id"`
}

// Result is the outcome of a single covering solve.
//
// When Reachable is false no subset reaches the target; Chosen is empty and Sum
// holds the largest achievable sum for diagnostics only.
type Result struct {
	Sum       float64  `json:"sum"`
	Chosen    []string `json:"chosen"`
	Reachable bool     `json:"reachable"`
	Method    Method   `json:"method"`
}

// Config carries the solver tunables. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	ExactThreshold    int     `json:"exactThreshold" mapstructure:"exact_threshold"`
	Epsilon           float64 `json:"epsilon" mapstructure:"epsilon"`
	MaxFrontierStates int     `json:"maxFrontierStates" mapstructure:"max_frontier_states"`
}

// DefaultConfig returns the process-wide defaults.
func DefaultConfig() Config {
	return Config{
		ExactThreshold:    DefaultExactThreshold,
		Epsilon:           DefaultEpsilon,
		MaxFrontierStates: DefaultMaxFrontierStates,
	}
}

// Validate reports whether the config can drive the solver.
func (c Config) Validate() error {
	if c.ExactThreshold < 1 || c.ExactThreshold > MaxExactThreshold {
		return fmt.Errorf("%w: exact threshold must be in [1, %d], got %d", ErrInvalidConfig, MaxExactThreshold, c.ExactThreshold)
	}
	if !(c.Epsilon > 0) {
		return fmt.Errorf("%w: epsilon must be > 0, got %g", ErrInvalidConfig, c.Epsilon)
	}
	if c.MaxFrontierStates < 1 {
		return fmt.Errorf("%w: max frontier states must be >= 1, got %d", ErrInvalidConfig, c.MaxFrontierStates)
	}
	return nil
}

// FilterPositive drops entries whose value is not strictly positive. The input
// slice is left untouched.
func FilterPositive(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Value > 0 {
			out = append(out, e)
		}
	}
	return out
}

// witness builds a reachable Result from the chosen entries. Sum is accumulated
// left to right in the order Chosen lists them.
func witness(chosen []Entry, method Method) Result {
	res := Result{Chosen: make([]string, 0, len(chosen)), Reachable: true, Method: method}
	for _, e := range chosen {
		res.Sum += e.Value
		res.Chosen = append(res.Chosen, e.ID)
	}
	return res
}

func unreachable(maxSum float64, method Method) Result {
	return Result{Sum: maxSum, Chosen: []string{}, Method: method}
}

func total(entries []Entry) float64 {
	var s float64
	for _, e := range entries {
		s += e.Value
	}
	return s
}
