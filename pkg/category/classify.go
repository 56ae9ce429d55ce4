package category

import (
	"fmt"

	"github.com/ethpandaops/reportoor/pkg/model"
)

// Mode selects how many rules may claim one result.
type Mode string

const (
	// ModeFirst returns the first matching rule.
	ModeFirst Mode = "first"
	// ModeInclusive returns every matching rule.
	ModeInclusive Mode = "inclusive"
	// ModeGroupExclusive returns the first matching rule of each group.
	ModeGroupExclusive Mode = "groupExclusive"
)

// ParseMode validates a configured mode. Empty selects ModeFirst.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeFirst, nil
	case ModeFirst, ModeInclusive, ModeGroupExclusive:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown category mode %q", s)
	}
}

const (
	ProductDefectsName = "Product defects"
	TestDefectsName    = "Test defects"
)

var (
	// ProductDefects receives failed results no rule matched.
	ProductDefects = &Rule{
		Name:     ProductDefectsName,
		Matchers: []Matcher{&ObjectMatcher{Statuses: []model.Status{model.StatusFailed}}},
	}

	// TestDefects receives broken results no rule matched.
	TestDefects = &Rule{
		Name:     TestDefectsName,
		Matchers: []Matcher{&ObjectMatcher{Statuses: []model.Status{model.StatusBroken}}},
	}
)

// Rule is a named category and the matchers that select it.
type Rule struct {
	Name        string
	Description string
	Matchers    []Matcher
	Tags        []string
	Group       string
}

// Matches reports whether any matcher of the rule matches s.
func (r *Rule) Matches(s Subject) bool {
	for _, m := range r.Matchers {
		if Evaluate(m, s) {
			return true
		}
	}

	return false
}

// Classifier assigns categories to results.
type Classifier struct {
	rules []*Rule
	mode  Mode
}

// NewClassifier creates a classifier evaluating rules in order.
func NewClassifier(rules []*Rule, mode Mode) (*Classifier, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	if mode == "" {
		mode = ModeFirst
	}

	return &Classifier{
		rules: append([]*Rule(nil), rules...),
		mode:  mode,
	}, nil
}

// Mode returns the configured mode.
func (c *Classifier) Mode() Mode {
	return c.mode
}

// Classify returns the categories of s in rule order. Unmatched failed and
// broken results fall back to ProductDefects and TestDefects.
func (c *Classifier) Classify(s Subject) []*Rule {
	var matched []*Rule

	switch c.mode {
	case ModeInclusive:
		for _, r := range c.rules {
			if r.Matches(s) {
				matched = append(matched, r)
			}
		}
	case ModeGroupExclusive:
		claimed := make(map[string]struct{}, 2)

		for _, r := range c.rules {
			if _, ok := claimed[r.Group]; ok {
				continue
			}

			if r.Matches(s) {
				claimed[r.Group] = struct{}{}
				matched = append(matched, r)
			}
		}
	default:
		for _, r := range c.rules {
			if r.Matches(s) {
				matched = append(matched, r)

				break
			}
		}
	}

	if len(matched) > 0 {
		return matched
	}

	switch s.Status {
	case model.StatusFailed:
		return []*Rule{ProductDefects}
	case model.StatusBroken:
		return []*Rule{TestDefects}
	default:
		return nil
	}
}
