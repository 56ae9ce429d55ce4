package store

import (
	"crypto/md5" //nolint:gosec // identity hash, not a security boundary
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/model"
	"golang.org/x/text/unicode/norm"
)

// flakyWindow is the number of most recent history entries considered by
// the flaky heuristic.
const flakyWindow = 5

// DeriveHistoryID computes a run-independent identity from the full name and
// the parameters that distinguish test instances. Hidden and excluded
// parameters do not take part, and parameter order does not matter.
func DeriveHistoryID(fullName string, params []model.RawParameter) string {
	pairs := make([]string, 0, len(params))

	for _, p := range params {
		if p.Hidden || p.Excluded {
			continue
		}

		pairs = append(pairs, norm.NFC.String(p.Name)+":"+norm.NFC.String(p.Value))
	}

	sort.Strings(pairs)

	return md5Hex(norm.NFC.String(strings.TrimSpace(fullName))) + "." + md5Hex(strings.Join(pairs, ","))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // see import

	return hex.EncodeToString(sum[:])
}

// DeriveTransition classifies current against the most recent significant
// status in history (oldest first).
func DeriveTransition(current model.Status, history []model.Status) model.Transition {
	if len(history) == 0 {
		return model.TransitionNew
	}

	last, ok := lastSignificant(history)
	if !ok || last == current {
		return model.TransitionNone
	}

	switch current {
	case model.StatusPassed:
		return model.TransitionFixed
	case model.StatusFailed:
		return model.TransitionRegressed
	case model.StatusBroken:
		return model.TransitionMalfunctioned
	default:
		return model.TransitionNone
	}
}

func lastSignificant(history []model.Status) (model.Status, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Significant() {
			return history[i], true
		}
	}

	return "", false
}

// IsFlaky reports whether a failing result alternated from passed to failed
// within the most recent history entries (oldest first).
func IsFlaky(current model.Status, history []model.Status) bool {
	if !current.Failing() {
		return false
	}

	window := history
	if len(window) > flakyWindow {
		window = window[len(window)-flakyWindow:]
	}

	lastFailed := -1

	for i, s := range window {
		if s == model.StatusFailed {
			lastFailed = i
		}
	}

	for i := 0; i < lastFailed; i++ {
		if window[i] == model.StatusPassed {
			return true
		}
	}

	return false
}
