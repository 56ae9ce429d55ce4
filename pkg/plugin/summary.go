package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// SummaryPluginID identifies the summary plugin.
const SummaryPluginID = "summary"

// SummaryPlugin aggregates the report into a Summary and optionally writes
// it as JSON.
type SummaryPlugin struct {
	Base

	log   logrus.FieldLogger
	path  string
	owner *fsutil.OwnerConfig

	mu      sync.Mutex
	summary *Summary
}

// Ensure interface compliance.
var _ Plugin = (*SummaryPlugin)(nil)

// NewSummaryPlugin creates a summary plugin. An empty path skips writing.
func NewSummaryPlugin(log logrus.FieldLogger, path string, owner *fsutil.OwnerConfig) *SummaryPlugin {
	return &SummaryPlugin{
		log:   log.WithField("component", "plugin-summary"),
		path:  path,
		owner: owner,
	}
}

func (p *SummaryPlugin) ID() string {
	return SummaryPluginID
}

// Done computes the summary and writes it when a path is configured.
func (p *SummaryPlugin) Done(_ context.Context, pc *Context) error {
	if pc.Store == nil {
		return errors.New("summary plugin requires a store")
	}

	s := summarize(pc)

	p.mu.Lock()
	p.summary = s
	p.mu.Unlock()

	if p.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	if err := fsutil.WriteFileAtomic(p.path, append(data, '\n'), 0o644, p.owner); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	p.log.WithField("path", p.path).Info("Wrote report summary")

	return nil
}

// Info returns the summary computed in Done, or computes it on demand.
func (p *SummaryPlugin) Info(_ context.Context, pc *Context) (*Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.summary != nil {
		out := *p.summary

		return &out, nil
	}

	if pc.Store == nil {
		return nil, nil
	}

	return summarize(pc), nil
}

func summarize(pc *Context) *Summary {
	results := pc.Store.AllTestResults()

	var (
		stat        model.Statistic
		first, last int64
		newTests    int
		flaky       int
		retried     int
		transitions = make(map[string]int, 4)
	)

	for _, tr := range results {
		stat.Add(tr.Status)

		if tr.Start > 0 && (first == 0 || tr.Start < first) {
			first = tr.Start
		}

		if tr.Stop > last {
			last = tr.Stop
		}

		if tr.Flaky {
			flaky++
		}

		if tr.Transition == model.TransitionNew {
			newTests++
		}

		if tr.Transition != model.TransitionNone {
			transitions[string(tr.Transition)]++
		}

		retried += len(pc.Store.RetriesByTestResultID(tr.ID))
	}

	var duration int64
	if first > 0 && last > first {
		duration = last - first
	}

	data := map[string]any{
		"new":         newTests,
		"flaky":       flaky,
		"retries":     retried,
		"transitions": transitions,
	}

	if pc.Categories != nil {
		categories := make([]map[string]any, 0, len(pc.Categories.Roots))

		for _, id := range pc.Categories.Roots {
			n, ok := pc.Categories.Node(id)
			if !ok {
				continue
			}

			entry := map[string]any{"name": n.Name, "type": n.Type}
			if n.Statistic != nil {
				entry["total"] = n.Statistic.Total
			}

			categories = append(categories, entry)
		}

		data["categories"] = categories
	}

	if len(pc.QualityGate) > 0 {
		failed := 0

		for _, r := range pc.QualityGate {
			if !r.Success {
				failed++
			}
		}

		data["qualityGate"] = map[string]any{
			"rules":  len(pc.QualityGate),
			"failed": failed,
		}
	}

	return &Summary{
		Plugin:    SummaryPluginID,
		Name:      pc.ReportName,
		Statistic: stat,
		Duration:  duration,
		Data:      data,
	}
}
