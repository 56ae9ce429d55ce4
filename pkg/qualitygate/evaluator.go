package qualitygate

import (
	"fmt"
	"sync"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// Report is the outcome of one evaluation.
type Report struct {
	Results []model.QualityGateRuleResult
	// Success is false when any evaluated rule failed.
	Success bool
	// Stopped is true when fast fail ended the evaluation early.
	Stopped bool
}

// Failures returns the failed rule results.
func (r *Report) Failures() []model.QualityGateRuleResult {
	var out []model.QualityGateRuleResult

	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}

	return out
}

type boundEntry struct {
	Entry
	rule   Rule
	filter func(tr *model.TestResult) bool
	key    string
}

// Evaluator runs a gate configuration. State of relative rules carries
// across Evaluate calls, so several report sections can share one budget.
type Evaluator struct {
	log      logrus.FieldLogger
	entries  []boundEntry
	fastFail bool

	mu    sync.Mutex
	state map[string]float64
}

// NewEvaluator resolves every entry against registry.
func NewEvaluator(log logrus.FieldLogger, registry *Registry, cfg Config) (*Evaluator, error) {
	for _, name := range cfg.Use {
		if _, err := registry.Get(name); err != nil {
			return nil, err
		}
	}

	entries := make([]boundEntry, 0, len(cfg.Entries))

	for i, e := range cfg.Entries {
		rule, err := registry.Get(e.Rule)
		if err != nil {
			return nil, fmt.Errorf("quality gate entry %d: %w", i, err)
		}

		entries = append(entries, boundEntry{
			Entry:  e,
			rule:   rule,
			filter: e.Filter.compile(),
			key:    rule.Name() + "\x00" + e.ID,
		})
	}

	return &Evaluator{
		log:      log.WithField("component", "qualitygate"),
		entries:  entries,
		fastFail: cfg.FastFail,
		state:    make(map[string]float64, len(entries)),
	}, nil
}

// FastFail reports whether the gate stops at the first failure.
func (e *Evaluator) FastFail() bool {
	return e.fastFail
}

// Evaluate runs every entry in order against results. Known failures are
// excluded by the rules that count failures.
func (e *Evaluator) Evaluate(results []*model.TestResult, known []model.KnownTestFailure) Report {
	knownIDs := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownIDs[k.HistoryID] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	report := Report{
		Results: make([]model.QualityGateRuleResult, 0, len(e.entries)),
		Success: true,
	}

	for _, be := range e.entries {
		scoped := results
		if be.filter != nil {
			scoped = make([]*model.TestResult, 0, len(results))

			for _, tr := range results {
				if be.filter(tr) {
					scoped = append(scoped, tr)
				}
			}
		}

		rc := Context{Known: knownIDs}
		if be.rule.Kind() == KindRelative {
			rc.State = e.state[be.key]
		}

		v := be.rule.Validate(scoped, be.Expected, rc)

		if be.rule.Kind() == KindRelative {
			e.state[be.key] = v.Actual
		}

		res := model.QualityGateRuleResult{
			Rule:     be.rule.Name(),
			ID:       be.ID,
			Expected: v.Expected,
			Actual:   v.Actual,
			Success:  v.Success,
		}

		if !v.Success {
			res.Message = be.rule.Message(v.Actual, v.Expected)
			report.Success = false
		}

		report.Results = append(report.Results, res)

		e.log.WithFields(logrus.Fields{
			"rule":     res.Rule,
			"id":       res.ID,
			"actual":   res.Actual,
			"expected": res.Expected,
			"success":  res.Success,
		}).Debug("Evaluated quality gate rule")

		if !v.Success && e.fastFail {
			report.Stopped = true

			break
		}
	}

	return report
}
