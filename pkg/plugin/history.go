package plugin

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethpandaops/reportoor/pkg/history"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// HistoryPluginID identifies the history plugin.
const HistoryPluginID = "history"

// HistoryPlugin appends a data point for the report once it is done.
type HistoryPlugin struct {
	Base

	log    logrus.FieldLogger
	svc    history.Service
	branch string
	url    string
	now    func() time.Time

	mu       sync.Mutex
	appended *model.HistoryDataPoint
}

// Ensure interface compliance.
var _ Plugin = (*HistoryPlugin)(nil)

// NewHistoryPlugin creates a history plugin writing to branch.
func NewHistoryPlugin(log logrus.FieldLogger, svc history.Service, branch, url string) *HistoryPlugin {
	return &HistoryPlugin{
		log:    log.WithField("component", "plugin-history"),
		svc:    svc,
		branch: branch,
		url:    url,
		now:    time.Now,
	}
}

func (p *HistoryPlugin) ID() string {
	return HistoryPluginID
}

// Done appends the current results as one data point.
func (p *HistoryPlugin) Done(ctx context.Context, pc *Context) error {
	if pc.Store == nil {
		return errors.New("history plugin requires a store")
	}

	results := pc.Store.AllTestResults()
	stat := pc.Store.TestsStatistic(nil)

	point := history.CreateDataPoint(history.DataPointOptions{
		Name:      pc.ReportName,
		URL:       p.url,
		Timestamp: p.now(),
		Metrics: map[string]any{
			"total":   stat.Total,
			"failed":  stat.Failed,
			"broken":  stat.Broken,
			"passed":  stat.Passed,
			"skipped": stat.Skipped,
			"unknown": stat.Unknown,
		},
	}, results)

	if pc.ReportUUID != "" {
		point.UUID = pc.ReportUUID
	}

	if err := p.svc.Append(ctx, point, p.branch); err != nil {
		return err
	}

	p.mu.Lock()
	p.appended = &point
	p.mu.Unlock()

	return nil
}

// Info reports the appended data point.
func (p *HistoryPlugin) Info(_ context.Context, pc *Context) (*Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.appended == nil {
		return nil, nil
	}

	var stat model.Statistic
	for _, htr := range p.appended.TestResults {
		stat.Add(htr.Status)
	}

	return &Summary{
		Name:      pc.ReportName,
		Statistic: stat,
		Data: map[string]any{
			"uuid":   p.appended.UUID,
			"branch": p.branch,
		},
	}, nil
}
