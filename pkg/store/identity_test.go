package store

import (
	"testing"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestDeriveHistoryID(t *testing.T) {
	base := DeriveHistoryID("suite.Test", []model.RawParameter{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2"},
	})

	t.Run("parameter order does not matter", func(t *testing.T) {
		got := DeriveHistoryID("suite.Test", []model.RawParameter{
			{Name: "b", Value: "2"},
			{Name: "a", Value: "1"},
		})
		assert.Equal(t, base, got)
	})

	t.Run("hidden and excluded parameters are ignored", func(t *testing.T) {
		got := DeriveHistoryID("suite.Test", []model.RawParameter{
			{Name: "a", Value: "1"},
			{Name: "b", Value: "2"},
			{Name: "run", Value: "7", Excluded: true},
			{Name: "token", Value: "x", Hidden: true},
		})
		assert.Equal(t, base, got)
	})

	t.Run("different values differ", func(t *testing.T) {
		got := DeriveHistoryID("suite.Test", []model.RawParameter{
			{Name: "a", Value: "1"},
			{Name: "b", Value: "3"},
		})
		assert.NotEqual(t, base, got)
	})

	t.Run("unicode normalization", func(t *testing.T) {
		composed := DeriveHistoryID("caf\u00e9", nil)
		decomposed := DeriveHistoryID("cafe\u0301", nil)
		assert.Equal(t, composed, decomposed)
	})

	t.Run("format", func(t *testing.T) {
		assert.Regexp(t, `^[0-9a-f]{32}\.[0-9a-f]{32}$`, base)
	})
}

func TestDeriveTransition(t *testing.T) {
	const (
		f = model.StatusFailed
		b = model.StatusBroken
		p = model.StatusPassed
		s = model.StatusSkipped
		u = model.StatusUnknown
	)

	tests := []struct {
		name    string
		current model.Status
		history []model.Status
		want    model.Transition
	}{
		{name: "no history", current: p, history: nil, want: model.TransitionNew},
		{name: "fixed", current: p, history: []model.Status{f}, want: model.TransitionFixed},
		{name: "fixed after broken", current: p, history: []model.Status{p, b}, want: model.TransitionFixed},
		{name: "regressed", current: f, history: []model.Status{p}, want: model.TransitionRegressed},
		{name: "malfunctioned", current: b, history: []model.Status{p}, want: model.TransitionMalfunctioned},
		{name: "stable", current: f, history: []model.Status{p, f}, want: model.TransitionNone},
		{name: "insignificant tail is skipped", current: p, history: []model.Status{f, s, u}, want: model.TransitionFixed},
		{name: "only insignificant history", current: p, history: []model.Status{s, u}, want: model.TransitionNone},
		{name: "skipped current", current: s, history: []model.Status{p}, want: model.TransitionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTransition(tt.current, tt.history))
		})
	}
}

func TestIsFlaky(t *testing.T) {
	const (
		f = model.StatusFailed
		p = model.StatusPassed
		b = model.StatusBroken
	)

	tests := []struct {
		name    string
		current model.Status
		history []model.Status
		want    bool
	}{
		{name: "pass before last fail", current: f, history: []model.Status{f, p, f}, want: true},
		{name: "consistently failing", current: f, history: []model.Status{f, f, f}, want: false},
		{name: "pass after last fail", current: f, history: []model.Status{f, p}, want: false},
		{name: "broken current", current: b, history: []model.Status{p, f}, want: true},
		{name: "passed current", current: p, history: []model.Status{p, f}, want: false},
		{name: "pass outside window", current: f, history: []model.Status{p, f, f, f, f, f}, want: false},
		{name: "pass at window start", current: f, history: []model.Status{f, p, f, f, f, f}, want: true},
		{name: "empty history", current: f, history: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFlaky(tt.current, tt.history))
		})
	}
}
