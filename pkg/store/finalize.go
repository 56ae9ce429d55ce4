package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// Finalize runs the derive phase exactly once: fixture links, retry groups,
// known-issue flags, status transitions and flakiness. History is taken as
// given and is never modified.
func (s *Store) Finalize(
	ctx context.Context,
	history []model.HistoryDataPoint,
	known []model.KnownTestFailure,
) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}

	s.linkFixtures()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("linking fixtures: %w", err)
	}

	retried := s.groupRetries()

	s.known = append([]model.KnownTestFailure(nil), known...)
	s.markKnown()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("grouping retries: %w", err)
	}

	s.history = sortedHistory(history)
	s.indexHistory()
	s.deriveTransitions()

	s.finalized = true

	s.log.WithFields(logrus.Fields{
		"test_results":   len(s.results),
		"retried":        retried,
		"fixtures":       len(s.fixtures),
		"attachments":    len(s.attachments),
		"history_points": len(s.history),
		"known_issues":   len(s.known),
		"duration":       time.Since(start).Round(time.Millisecond),
	}).Info("Result store finalized")

	return nil
}

func (s *Store) linkFixtures() {
	for _, id := range s.fixtureOrder {
		fx := s.fixtures[id]

		seen := make(map[string]struct{}, len(s.fixtureSources[id]))

		for _, source := range s.fixtureSources[id] {
			trID, ok := s.bySourceID[source]
			if !ok {
				continue
			}

			if _, dup := seen[trID]; dup {
				continue
			}

			seen[trID] = struct{}{}
			fx.TestResultIDs = append(fx.TestResultIDs, trID)
		}
	}
}

// groupRetries turns every group of results sharing a history id into one
// primary result (the latest by start time) and hidden retries.
func (s *Store) groupRetries() int {
	groups := make(map[string][]*model.TestResult, len(s.results))
	order := make([]string, 0, len(s.results))

	for _, id := range s.resultOrder {
		tr := s.results[id]
		if tr.HistoryID == "" {
			continue
		}

		if _, ok := groups[tr.HistoryID]; !ok {
			order = append(order, tr.HistoryID)
		}

		groups[tr.HistoryID] = append(groups[tr.HistoryID], tr)
	}

	retried := 0

	for _, hid := range order {
		group := groups[hid]
		if len(group) < 2 {
			continue
		}

		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Start < group[j].Start
		})

		primary := group[len(group)-1]
		ids := make([]string, 0, len(group)-1)

		for _, tr := range group[:len(group)-1] {
			tr.Hidden = true
			tr.RetryOf = primary.ID
			ids = append(ids, tr.ID)
		}

		s.retries[primary.ID] = ids
		retried += len(ids)
	}

	return retried
}

func (s *Store) markKnown() {
	if len(s.known) == 0 {
		return
	}

	known := make(map[string]struct{}, len(s.known))
	for _, k := range s.known {
		known[k.HistoryID] = struct{}{}
	}

	for _, tr := range s.results {
		if tr.HistoryID == "" {
			continue
		}

		if _, ok := known[tr.HistoryID]; ok {
			tr.Known = true
		}
	}
}

func sortedHistory(history []model.HistoryDataPoint) []model.HistoryDataPoint {
	out := append([]model.HistoryDataPoint(nil), history...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	return out
}

// indexHistory collects, per history id, the historical results oldest
// first.
func (s *Store) indexHistory() {
	for _, point := range s.history {
		for hid, htr := range point.TestResults {
			if htr.HistoryID == "" {
				htr.HistoryID = hid
			}

			s.resultHistory[hid] = append(s.resultHistory[hid], htr)
		}
	}
}

func (s *Store) deriveTransitions() {
	for _, id := range s.resultOrder {
		tr := s.results[id]
		if tr.Hidden || tr.HistoryID == "" {
			continue
		}

		past := s.resultHistory[tr.HistoryID]

		statuses := make([]model.Status, 0, len(past))
		for _, h := range past {
			statuses = append(statuses, h.Status)
		}

		tr.Transition = DeriveTransition(tr.Status, statuses)

		if !tr.Flaky && IsFlaky(tr.Status, statuses) {
			tr.Flaky = true
		}
	}
}
