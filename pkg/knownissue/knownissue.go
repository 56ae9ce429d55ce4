// Package knownissue reads and writes the known failures file: a JSON
// array of model.KnownTestFailure keyed by history id.
package knownissue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// Read loads known failures from path. A missing file is an empty list.
// Entries without a history id are dropped; for duplicate ids the last
// entry wins.
func Read(log logrus.FieldLogger, path string) ([]model.KnownTestFailure, error) {
	log = log.WithField("component", "knownissue")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("path", path).Debug("No known issues file")

			return []model.KnownTestFailure{}, nil
		}

		return nil, fmt.Errorf("reading known issues: %w", err)
	}

	var entries []model.KnownTestFailure
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing known issues %s: %w", path, err)
	}

	out := make([]model.KnownTestFailure, 0, len(entries))
	index := make(map[string]int, len(entries))

	for _, e := range entries {
		if e.HistoryID == "" {
			log.WithField("path", path).Warn("Skipping known issue without historyId")

			continue
		}

		if i, ok := index[e.HistoryID]; ok {
			out[i] = e

			continue
		}

		index[e.HistoryID] = len(out)
		out = append(out, e)
	}

	log.WithFields(logrus.Fields{
		"path":   path,
		"issues": len(out),
	}).Debug("Loaded known issues")

	return out, nil
}

// Write replaces path with entries, sorted by history id.
func Write(path string, entries []model.KnownTestFailure, owner *fsutil.OwnerConfig) error {
	sorted := append([]model.KnownTestFailure{}, entries...)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].HistoryID < sorted[j].HistoryID
	})

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding known issues: %w", err)
	}

	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(path, data, 0o644, owner); err != nil {
		return fmt.Errorf("writing known issues: %w", err)
	}

	return nil
}

// FromResults builds a known failure for every visible failed or broken
// result that has a history id. Issue links and comments of existing
// entries for the same id are carried over.
func FromResults(results []*model.TestResult, existing []model.KnownTestFailure) []model.KnownTestFailure {
	prev := make(map[string]model.KnownTestFailure, len(existing))
	for _, e := range existing {
		prev[e.HistoryID] = e
	}

	seen := make(map[string]struct{}, len(results))
	out := make([]model.KnownTestFailure, 0, len(results))

	for _, tr := range results {
		if tr == nil || tr.Hidden || tr.HistoryID == "" || !tr.Status.Failing() {
			continue
		}

		if _, dup := seen[tr.HistoryID]; dup {
			continue
		}

		seen[tr.HistoryID] = struct{}{}

		kf := prev[tr.HistoryID]
		kf.HistoryID = tr.HistoryID

		if tr.Error != nil {
			kf.Error = &model.TestError{Message: tr.Error.Message, Trace: tr.Error.Trace}
		}

		out = append(out, kf)
	}

	return out
}

// IDs returns the set of history ids in entries.
func IDs(entries []model.KnownTestFailure) map[string]struct{} {
	ids := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		ids[e.HistoryID] = struct{}{}
	}

	return ids
}
