// Package plugin defines the lifecycle hooks report consumers implement and
// a runner that drives them over a finalized store.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/reportoor/pkg/category"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Context is shared by every hook of one report.
type Context struct {
	ReportName string
	ReportUUID string
	Store      *store.Store
	// Categories is the category tree of the report, when built.
	Categories *category.Tree
	// QualityGate holds the gate verdicts, when evaluated.
	QualityGate []model.QualityGateRuleResult
}

// Summary is what a plugin reports about itself after Done.
type Summary struct {
	Plugin    string          `json:"plugin"`
	Name      string          `json:"name"`
	Statistic model.Statistic `json:"stats"`
	Duration  int64           `json:"duration,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
}

// Plugin is a report consumer. Embed Base to implement only some hooks.
type Plugin interface {
	ID() string
	Start(ctx context.Context, pc *Context) error
	Update(ctx context.Context, pc *Context) error
	Done(ctx context.Context, pc *Context) error
	Info(ctx context.Context, pc *Context) (*Summary, error)
}

// Base implements every hook as a no-op.
type Base struct{}

func (Base) Start(context.Context, *Context) error            { return nil }
func (Base) Update(context.Context, *Context) error           { return nil }
func (Base) Done(context.Context, *Context) error             { return nil }
func (Base) Info(context.Context, *Context) (*Summary, error) { return nil, nil }

// Runner drives plugins through their lifecycle.
type Runner struct {
	log     logrus.FieldLogger
	plugins []Plugin
}

// NewRunner creates a runner invoking plugins in order.
func NewRunner(log logrus.FieldLogger, plugins ...Plugin) *Runner {
	return &Runner{
		log:     log.WithField("component", "plugin"),
		plugins: plugins,
	}
}

// Start calls Start on every plugin and stops at the first failure.
func (r *Runner) Start(ctx context.Context, pc *Context) error {
	for _, p := range r.plugins {
		if err := p.Start(ctx, pc); err != nil {
			return fmt.Errorf("starting plugin %s: %w", p.ID(), err)
		}
	}

	return nil
}

// Update calls Update on every plugin and stops at the first failure.
func (r *Runner) Update(ctx context.Context, pc *Context) error {
	for _, p := range r.plugins {
		if err := p.Update(ctx, pc); err != nil {
			return fmt.Errorf("updating plugin %s: %w", p.ID(), err)
		}
	}

	return nil
}

// Done calls Done on every plugin, even after a failure, and returns the
// joined errors.
func (r *Runner) Done(ctx context.Context, pc *Context) error {
	var errs []error

	for _, p := range r.plugins {
		start := time.Now()

		if err := p.Done(ctx, pc); err != nil {
			r.log.WithError(err).WithField("plugin", p.ID()).Error("Plugin failed")
			errs = append(errs, fmt.Errorf("finishing plugin %s: %w", p.ID(), err))

			continue
		}

		r.log.WithFields(logrus.Fields{
			"plugin":   p.ID(),
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("Plugin done")
	}

	return errors.Join(errs...)
}

// Info collects plugin summaries concurrently. The store is read-only at
// this point. Summaries keep plugin order; plugins without one are left
// out.
func (r *Runner) Info(ctx context.Context, pc *Context) ([]Summary, error) {
	summaries := make([]*Summary, len(r.plugins))

	g, gCtx := errgroup.WithContext(ctx)

	for i, p := range r.plugins {
		g.Go(func() error {
			s, err := p.Info(gCtx, pc)
			if err != nil {
				return fmt.Errorf("summarizing plugin %s: %w", p.ID(), err)
			}

			if s != nil && s.Plugin == "" {
				s.Plugin = p.ID()
			}

			summaries[i] = s

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(summaries))

	for _, s := range summaries {
		if s != nil {
			out = append(out, *s)
		}
	}

	return out, nil
}
