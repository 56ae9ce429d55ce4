// Package qualitygate evaluates threshold rules against aggregated test
// results.
package qualitygate

import (
	"fmt"
	"strconv"

	"github.com/ethpandaops/reportoor/pkg/model"
)

// Kind tells the evaluator whether a rule accumulates across invocations.
type Kind int

const (
	// KindAbsolute rules judge each invocation on its own.
	KindAbsolute Kind = iota
	// KindRelative rules add their count to the state carried from earlier
	// invocations of the same entry.
	KindRelative
)

// Context is what a rule may consult besides the results.
type Context struct {
	// Known holds the history ids of known failures.
	Known map[string]struct{}
	// State is the accumulated actual value of a relative rule.
	State float64
}

// IsKnown reports whether tr is a known failure.
func (c Context) IsKnown(tr *model.TestResult) bool {
	if tr.HistoryID == "" || len(c.Known) == 0 {
		return false
	}

	_, ok := c.Known[tr.HistoryID]

	return ok
}

// Validation is the outcome of one rule.
type Validation struct {
	Success  bool
	Actual   float64
	Expected float64
}

// Rule is a quality gate rule.
type Rule interface {
	Name() string
	Kind() Kind
	Validate(results []*model.TestResult, expected float64, rc Context) Validation
	// Message renders the failure message for a validation.
	Message(actual, expected float64) string
}

const (
	MaxFailures   = "maxFailures"
	MinTestsCount = "minTestsCount"
	SuccessRate   = "successRate"
)

// Builtins returns the built-in rules.
func Builtins() []Rule {
	return []Rule{
		maxFailuresRule{},
		minTestsCountRule{},
		successRateRule{},
	}
}

type maxFailuresRule struct{}

func (maxFailuresRule) Name() string { return MaxFailures }
func (maxFailuresRule) Kind() Kind   { return KindRelative }

func (maxFailuresRule) Validate(results []*model.TestResult, expected float64, rc Context) Validation {
	count := 0

	for _, tr := range results {
		if tr.Status.Failing() && !rc.IsKnown(tr) {
			count++
		}
	}

	actual := rc.State + float64(count)

	return Validation{
		Success:  actual <= expected,
		Actual:   actual,
		Expected: expected,
	}
}

func (maxFailuresRule) Message(actual, expected float64) string {
	return fmt.Sprintf("Failed tests count %s exceeds the allowed threshold value %s",
		formatNumber(actual), formatNumber(expected))
}

type minTestsCountRule struct{}

func (minTestsCountRule) Name() string { return MinTestsCount }
func (minTestsCountRule) Kind() Kind   { return KindAbsolute }

func (minTestsCountRule) Validate(results []*model.TestResult, expected float64, _ Context) Validation {
	actual := float64(len(results))

	return Validation{
		Success:  actual >= expected,
		Actual:   actual,
		Expected: expected,
	}
}

func (minTestsCountRule) Message(actual, expected float64) string {
	return fmt.Sprintf("Total tests count %s is less than the expected threshold value %s",
		formatNumber(actual), formatNumber(expected))
}

type successRateRule struct{}

func (successRateRule) Name() string { return SuccessRate }
func (successRateRule) Kind() Kind   { return KindAbsolute }

// Validate computes passed / (passed + failed + broken) over results that
// are not known failures. No eligible results is a rate of 0.
func (successRateRule) Validate(results []*model.TestResult, expected float64, rc Context) Validation {
	var passed, total int

	for _, tr := range results {
		if rc.IsKnown(tr) {
			continue
		}

		switch tr.Status {
		case model.StatusPassed:
			passed++
			total++
		case model.StatusFailed, model.StatusBroken:
			total++
		}
	}

	if total == 0 {
		return Validation{Success: false, Actual: 0, Expected: expected}
	}

	actual := float64(passed) / float64(total)

	return Validation{
		Success:  actual >= expected,
		Actual:   actual,
		Expected: expected,
	}
}

func (successRateRule) Message(actual, expected float64) string {
	return fmt.Sprintf("Success rate %s is less than the expected threshold value %s",
		formatNumber(actual), formatNumber(expected))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
