// Package category classifies failing results into named categories and
// builds the navigable category tree.
package category

import (
	"regexp"

	"github.com/ethpandaops/reportoor/pkg/model"
)

// Subject is the part of a test result a matcher sees.
type Subject struct {
	Status  model.Status
	Labels  []model.Label
	Message string
	Trace   string
	Flaky   bool
}

// SubjectOf extracts the matcher subject of a result.
func SubjectOf(tr *model.TestResult) Subject {
	return Subject{
		Status:  tr.Status,
		Labels:  tr.Labels,
		Message: tr.Message(),
		Trace:   tr.Trace(),
		Flaky:   tr.Flaky,
	}
}

// DefaultStatuses are matched by an object matcher without statuses.
var DefaultStatuses = []model.Status{model.StatusFailed, model.StatusBroken}

// Matcher is either an *ObjectMatcher or a PredicateMatcher. Use Evaluate
// to run one.
type Matcher interface {
	isMatcher()
}

// ObjectMatcher requires every configured field to match.
type ObjectMatcher struct {
	Statuses []model.Status
	Labels   map[string]*Pattern
	Message  *Pattern
	Trace    *Pattern
	Flaky    *bool
}

func (*ObjectMatcher) isMatcher() {}

// PredicateMatcher matches when the function returns true.
type PredicateMatcher func(s Subject) bool

func (PredicateMatcher) isMatcher() {}

// Evaluate runs m against s.
func Evaluate(m Matcher, s Subject) bool {
	switch m := m.(type) {
	case *ObjectMatcher:
		return m.match(s)
	case PredicateMatcher:
		return m != nil && m(s)
	default:
		return false
	}
}

func (m *ObjectMatcher) match(s Subject) bool {
	if m == nil {
		return false
	}

	statuses := m.Statuses
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}

	if !containsStatus(statuses, s.Status) {
		return false
	}

	for name, p := range m.Labels {
		if !labelMatches(s.Labels, name, p) {
			return false
		}
	}

	if m.Message != nil && !m.Message.MatchString(s.Message) {
		return false
	}

	if m.Trace != nil && !m.Trace.MatchString(s.Trace) {
		return false
	}

	if m.Flaky != nil && *m.Flaky != s.Flaky {
		return false
	}

	return true
}

func containsStatus(statuses []model.Status, status model.Status) bool {
	for _, st := range statuses {
		if st == status {
			return true
		}
	}

	return false
}

func labelMatches(labels []model.Label, name string, p *Pattern) bool {
	for _, l := range labels {
		if l.Name == name && p.MatchString(l.Value) {
			return true
		}
	}

	return false
}

// Pattern is a regular expression that must match the whole input. A
// pattern that failed to compile never matches.
type Pattern struct {
	Source string
	re     *regexp.Regexp
	err    error
}

// CompilePattern compiles source. The returned pattern is always usable;
// Err reports a compile failure.
func CompilePattern(source string) *Pattern {
	re, err := regexp.Compile(`^(?s:` + source + `)$`)

	return &Pattern{Source: source, re: re, err: err}
}

// Err returns the compile error, if any.
func (p *Pattern) Err() error {
	return p.err
}

// MatchString reports whether s matches the pattern in full.
func (p *Pattern) MatchString(s string) bool {
	if p == nil || p.re == nil {
		return false
	}

	return p.re.MatchString(s)
}
