// Package history persists one summary per run in an append-only,
// newline-delimited JSON file and projects current results into such
// summaries.
package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultFileName is the history file name used when only a directory is
// configured.
const DefaultFileName = "history.jsonl"

// Order selects the direction of Limit.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ErrInvalidBranch is returned for branch names that cannot be used as a
// single path element.
var ErrInvalidBranch = errors.New("invalid branch name")

// Recorder mirrors appended data points into a secondary index.
type Recorder interface {
	RecordDataPoint(ctx context.Context, branch string, point *model.HistoryDataPoint) error
}

// Config configures the history service.
type Config struct {
	// Path is the history file of the default (empty) branch. Branch files
	// live at <dir>/<branch>/<file>.
	Path string

	// Owner is applied to newly created files and directories.
	Owner *fsutil.OwnerConfig

	// Recorder, when set, receives every appended point.
	Recorder Recorder
}

// Service reads and appends history data points.
type Service interface {
	// Read returns every data point of branch in write order. A missing
	// history file reads as an empty list.
	Read(ctx context.Context, branch string) ([]model.HistoryDataPoint, error)

	// Append writes point after the existing contents of branch.
	Append(ctx context.Context, point model.HistoryDataPoint, branch string) error

	// Path returns the history file used for branch.
	Path(branch string) (string, error)
}

type service struct {
	log      logrus.FieldLogger
	path     string
	owner    *fsutil.OwnerConfig
	recorder Recorder

	mu   sync.Mutex
	logs map[string]*committedLog
}

// Ensure interface compliance.
var _ Service = (*service)(nil)

// NewService creates a history service.
func NewService(log logrus.FieldLogger, cfg Config) (Service, error) {
	if cfg.Path == "" {
		return nil, errors.New("history path is required")
	}

	path := cfg.Path
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, DefaultFileName)
	}

	return &service{
		log:      log.WithField("component", "history"),
		path:     path,
		owner:    cfg.Owner,
		recorder: cfg.Recorder,
		logs:     make(map[string]*committedLog, 1),
	}, nil
}

func (s *service) Path(branch string) (string, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return s.path, nil
	}

	if branch == "." || branch == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidBranch, branch)
	}

	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, branch)

	return filepath.Join(filepath.Dir(s.path), safe, filepath.Base(s.path)), nil
}

func (s *service) logFor(branch string) (*committedLog, error) {
	path, err := s.Path(branch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.logs[path]
	if !ok {
		cl = newCommittedLog(s.log, path, s.owner)
		s.logs[path] = cl
	}

	return cl, nil
}

func (s *service) Read(ctx context.Context, branch string) ([]model.HistoryDataPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cl, err := s.logFor(branch)
	if err != nil {
		return nil, err
	}

	points, err := cl.readAll()
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"branch": branch,
		"points": len(points),
	}).Debug("Read history")

	return points, nil
}

func (s *service) Append(ctx context.Context, point model.HistoryDataPoint, branch string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if point.UUID == "" {
		return errors.New("data point has no uuid")
	}

	cl, err := s.logFor(branch)
	if err != nil {
		return err
	}

	if err := cl.append(&point); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"branch":       branch,
		"uuid":         point.UUID,
		"test_results": len(point.TestResults),
	}).Info("Appended history data point")

	if s.recorder != nil {
		if err := s.recorder.RecordDataPoint(ctx, branch, &point); err != nil {
			s.log.WithError(err).WithField("uuid", point.UUID).Warn("Failed to index history data point")
		}
	}

	return nil
}

// DataPointOptions describes the run a data point is created for.
type DataPointOptions struct {
	Name      string
	URL       string
	Timestamp time.Time
	Metrics   map[string]any
}

// CreateDataPoint projects results into a data point keyed by history id.
// Results without a history id cannot be linked across runs and are left
// out.
func CreateDataPoint(opts DataPointOptions, results []*model.TestResult) model.HistoryDataPoint {
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	metrics := make(map[string]any, len(opts.Metrics))
	for k, v := range opts.Metrics {
		metrics[k] = v
	}

	point := model.HistoryDataPoint{
		UUID:        uuid.NewString(),
		Name:        opts.Name,
		Timestamp:   ts.UnixMilli(),
		TestResults: make(map[string]model.HistoryTestResult, len(results)),
		Metrics:     metrics,
		URL:         opts.URL,
	}

	for _, tr := range results {
		if tr == nil || tr.HistoryID == "" || tr.Hidden {
			continue
		}

		point.TestResults[tr.HistoryID] = project(tr)
	}

	return point
}

func project(tr *model.TestResult) model.HistoryTestResult {
	h := model.HistoryTestResult{
		ID:        tr.ID,
		Name:      tr.Name,
		FullName:  tr.FullName,
		HistoryID: tr.HistoryID,
		Status:    tr.Status,
		Start:     tr.Start,
		Stop:      tr.Stop,
		Duration:  tr.Duration,
	}

	if tr.Error != nil {
		h.Error = &model.TestError{Message: tr.Error.Message, Trace: tr.Error.Trace}
	}

	if len(tr.Labels) > 0 {
		h.Labels = append([]model.Label(nil), tr.Labels...)
	}

	return h
}

// Limit returns at most n of the most recent points ordered by timestamp.
// n <= 0 keeps every point. The input is not modified.
func Limit(points []model.HistoryDataPoint, n int, order Order) []model.HistoryDataPoint {
	out := append([]model.HistoryDataPoint(nil), points...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}

	if order == OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	return out
}
