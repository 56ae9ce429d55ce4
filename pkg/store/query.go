package store

import (
	"encoding/json"
	"fmt"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/resultfile"
)

// UnlabeledGroup is the group value used for results without the label.
const UnlabeledGroup = "_"

// Filter selects test results.
type Filter func(tr *model.TestResult) bool

type queryOptions struct {
	includeHidden bool
	filter        Filter
}

// QueryOption tunes AllTestResults.
type QueryOption func(*queryOptions)

// IncludeHidden also returns retries hidden behind their primary result.
func IncludeHidden() QueryOption {
	return func(o *queryOptions) {
		o.includeHidden = true
	}
}

// WithFilter restricts the returned results.
func WithFilter(f Filter) QueryOption {
	return func(o *queryOptions) {
		o.filter = f
	}
}

// LabelGroup is one bucket of TestResultsByLabel.
type LabelGroup struct {
	Value       string
	TestResults []*model.TestResult
}

// AllTestResults returns test results in ingestion order. Hidden retries
// are skipped unless IncludeHidden is given. Returned values must be
// treated as read-only.
func (s *Store) AllTestResults(opts ...QueryOption) []*model.TestResult {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.TestResult, 0, len(s.resultOrder))

	for _, id := range s.resultOrder {
		tr := s.results[id]

		if tr.Hidden && !o.includeHidden {
			continue
		}

		if o.filter != nil && !o.filter(tr) {
			continue
		}

		out = append(out, tr)
	}

	return out
}

// AllFixtures returns every fixture in ingestion order.
func (s *Store) AllFixtures() []*model.TestFixtureResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.TestFixtureResult, 0, len(s.fixtureOrder))
	for _, id := range s.fixtureOrder {
		out = append(out, s.fixtures[id])
	}

	return out
}

// AllAttachments returns every attachment link in creation order.
func (s *Store) AllAttachments() []*model.AttachmentLink {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.AttachmentLink, 0, len(s.attachmentOrder))
	for _, id := range s.attachmentOrder {
		out = append(out, s.attachments[id])
	}

	return out
}

// AllHistoryDataPoints returns the history given to Finalize, oldest first.
func (s *Store) AllHistoryDataPoints() []model.HistoryDataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.HistoryDataPoint(nil), s.history...)
}

// AllKnownIssues returns the known failures given to Finalize.
func (s *Store) AllKnownIssues() []model.KnownTestFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]model.KnownTestFailure(nil), s.known...)
}

// TestResultByID returns a single test result.
func (s *Store) TestResultByID(id string) (*model.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("test result %q: %w", id, ErrNotFound)
	}

	return tr, nil
}

// FixtureByID returns a single fixture.
func (s *Store) FixtureByID(id string) (*model.TestFixtureResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fx, ok := s.fixtures[id]
	if !ok {
		return nil, fmt.Errorf("fixture %q: %w", id, ErrNotFound)
	}

	return fx, nil
}

// AttachmentByID returns a single attachment link.
func (s *Store) AttachmentByID(id string) (*model.AttachmentLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.attachments[id]
	if !ok {
		return nil, fmt.Errorf("attachment %q: %w", id, ErrNotFound)
	}

	return link, nil
}

// AttachmentContent returns the content handle of an attachment. Missing
// content yields ErrNotFound.
func (s *Store) AttachmentContent(id string) (resultfile.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("attachment content %q: %w", id, ErrNotFound)
	}

	return f, nil
}

// RetriesByTestResultID returns the hidden retries of a primary result,
// oldest first.
func (s *Store) RetriesByTestResultID(id string) []*model.TestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.retries[id]
	out := make([]*model.TestResult, 0, len(ids))

	for _, rid := range ids {
		out = append(out, s.results[rid])
	}

	return out
}

// HistoryByTestResultID returns the historical results of the same logical
// test, oldest first.
func (s *Store) HistoryByTestResultID(id string) []model.HistoryTestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr, ok := s.results[id]
	if !ok || tr.HistoryID == "" {
		return []model.HistoryTestResult{}
	}

	return append([]model.HistoryTestResult{}, s.resultHistory[tr.HistoryID]...)
}

// FixturesByTestResultID returns the fixtures linked to a test result.
func (s *Store) FixturesByTestResultID(id string) []*model.TestFixtureResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.TestFixtureResult, 0, 2)

	for _, fid := range s.fixtureOrder {
		fx := s.fixtures[fid]

		for _, trID := range fx.TestResultIDs {
			if trID == id {
				out = append(out, fx)

				break
			}
		}
	}

	return out
}

// AttachmentsByTestResultID returns the attachment links referenced from a
// test result's steps.
func (s *Store) AttachmentsByTestResultID(id string) []*model.AttachmentLink {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.AttachmentLink, 0, 4)

	for _, aid := range s.attachmentOrder {
		if link := s.attachments[aid]; link.OwnerID == id {
			out = append(out, link)
		}
	}

	return out
}

// TestsStatistic counts visible results per status. A nil filter counts
// everything.
func (s *Store) TestsStatistic(filter Filter) model.Statistic {
	var stat model.Statistic

	for _, tr := range s.AllTestResults(WithFilter(filter)) {
		stat.Add(tr.Status)
	}

	return stat
}

// TestResultsByLabel groups visible results by the values of label name.
// Groups appear in first-seen order; results without the label land in
// the UnlabeledGroup bucket.
func (s *Store) TestResultsByLabel(name string) []LabelGroup {
	var (
		groups []LabelGroup
		index  = make(map[string]int)
	)

	add := func(value string, tr *model.TestResult) {
		i, ok := index[value]
		if !ok {
			i = len(groups)
			index[value] = i
			groups = append(groups, LabelGroup{Value: value})
		}

		groups[i].TestResults = append(groups[i].TestResults, tr)
	}

	for _, tr := range s.AllTestResults() {
		values := tr.LabelValues(name)
		if len(values) == 0 {
			add(UnlabeledGroup, tr)

			continue
		}

		for _, v := range uniqueStrings(values) {
			add(v, tr)
		}
	}

	return groups
}

// Metadata returns the raw document registered under key.
func (s *Store) Metadata(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.metadata[key]

	return data, ok
}

func uniqueStrings(in []string) []string {
	if len(in) < 2 {
		return in
	}

	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]

	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}
