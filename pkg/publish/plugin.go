package publish

import (
	"context"
	"sync"

	"github.com/ethpandaops/reportoor/pkg/plugin"
	"github.com/sirupsen/logrus"
)

// PluginID identifies the publish plugin.
const PluginID = "publish"

// Plugin publishes artifacts written by earlier plugins. Register it after
// the plugins that produce the files.
type Plugin struct {
	plugin.Base

	log       logrus.FieldLogger
	publisher Publisher
	branch    string
	artifacts []Artifact

	mu   sync.Mutex
	keys []string
}

// Ensure interface compliance.
var _ plugin.Plugin = (*Plugin)(nil)

// NewPlugin creates a publish plugin for branch.
func NewPlugin(log logrus.FieldLogger, publisher Publisher, branch string, artifacts ...Artifact) *Plugin {
	return &Plugin{
		log:       log.WithField("component", "plugin-publish"),
		publisher: publisher,
		branch:    branch,
		artifacts: artifacts,
	}
}

func (p *Plugin) ID() string {
	return PluginID
}

// Start fails fast when the storage is not writable.
func (p *Plugin) Start(ctx context.Context, _ *plugin.Context) error {
	return p.publisher.Preflight(ctx)
}

// Done uploads the artifacts under the report uuid.
func (p *Plugin) Done(ctx context.Context, pc *plugin.Context) error {
	keys, err := p.publisher.Publish(ctx, p.branch, pc.ReportUUID, p.artifacts)

	p.mu.Lock()
	p.keys = keys
	p.mu.Unlock()

	return err
}

// Info lists the published keys.
func (p *Plugin) Info(_ context.Context, pc *plugin.Context) (*plugin.Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return nil, nil
	}

	return &plugin.Summary{
		Name: pc.ReportName,
		Data: map[string]any{
			"keys": append([]string(nil), p.keys...),
		},
	}, nil
}
