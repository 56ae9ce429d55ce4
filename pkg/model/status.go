package model

import "strings"

// Status is the canonical outcome of a test result, fixture or step.
type Status string

const (
	StatusFailed  Status = "failed"
	StatusBroken  Status = "broken"
	StatusPassed  Status = "passed"
	StatusSkipped Status = "skipped"
	StatusUnknown Status = "unknown"
)

// Statuses lists every status in display order.
var Statuses = []Status{
	StatusFailed,
	StatusBroken,
	StatusPassed,
	StatusSkipped,
	StatusUnknown,
}

// ParseStatus normalizes a producer supplied status. Anything that is not a
// known status maps to StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusFailed:
		return StatusFailed
	case StatusBroken:
		return StatusBroken
	case StatusPassed:
		return StatusPassed
	case StatusSkipped:
		return StatusSkipped
	default:
		return StatusUnknown
	}
}

// Significant reports whether the status takes part in transition and
// flakiness computations. Skipped and unknown results carry no signal.
func (s Status) Significant() bool {
	return s == StatusFailed || s == StatusBroken || s == StatusPassed
}

// Failing reports whether the status counts as a failure.
func (s Status) Failing() bool {
	return s == StatusFailed || s == StatusBroken
}

// Transition classifies a result relative to its most recent significant
// historical status. The zero value means no transition.
type Transition string

const (
	TransitionNone          Transition = ""
	TransitionNew           Transition = "new"
	TransitionFixed         Transition = "fixed"
	TransitionRegressed     Transition = "regressed"
	TransitionMalfunctioned Transition = "malfunctioned"
)

// Statistic holds per-status counters.
type Statistic struct {
	Failed  int `json:"failed,omitempty"`
	Broken  int `json:"broken,omitempty"`
	Passed  int `json:"passed,omitempty"`
	Skipped int `json:"skipped,omitempty"`
	Unknown int `json:"unknown,omitempty"`
	Total   int `json:"total"`
}

// Add increments the counter for status and the total.
func (s *Statistic) Add(status Status) {
	switch status {
	case StatusFailed:
		s.Failed++
	case StatusBroken:
		s.Broken++
	case StatusPassed:
		s.Passed++
	case StatusSkipped:
		s.Skipped++
	default:
		s.Unknown++
	}

	s.Total++
}

// Merge adds all counters from other.
func (s *Statistic) Merge(other Statistic) {
	s.Failed += other.Failed
	s.Broken += other.Broken
	s.Passed += other.Passed
	s.Skipped += other.Skipped
	s.Unknown += other.Unknown
	s.Total += other.Total
}

// Count returns the counter for a single status.
func (s Statistic) Count(status Status) int {
	switch status {
	case StatusFailed:
		return s.Failed
	case StatusBroken:
		return s.Broken
	case StatusPassed:
		return s.Passed
	case StatusSkipped:
		return s.Skipped
	default:
		return s.Unknown
	}
}
