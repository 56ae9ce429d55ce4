package qualitygate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func results(statuses ...model.Status) []*model.TestResult {
	out := make([]*model.TestResult, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, &model.TestResult{
			ID:        string(rune('a' + i)),
			HistoryID: "h" + string(rune('a'+i)),
			Status:    s,
		})
	}

	return out
}

func TestSuccessRate(t *testing.T) {
	rule := successRateRule{}
	rs := results(model.StatusPassed, model.StatusPassed, model.StatusPassed, model.StatusFailed)

	tests := []struct {
		name     string
		expected float64
		success  bool
	}{
		{name: "below threshold", expected: 0.8, success: false},
		{name: "exactly threshold", expected: 0.75, success: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := rule.Validate(rs, tt.expected, Context{})
			assert.Equal(t, tt.success, v.Success)
			assert.InDelta(t, 0.75, v.Actual, 1e-9)
			assert.InDelta(t, tt.expected, v.Expected, 1e-9)
		})
	}

	t.Run("skipped and unknown are ignored", func(t *testing.T) {
		v := rule.Validate(results(model.StatusPassed, model.StatusSkipped, model.StatusUnknown), 1, Context{})
		assert.True(t, v.Success)
		assert.InDelta(t, 1.0, v.Actual, 1e-9)
	})

	t.Run("zero denominator", func(t *testing.T) {
		v := rule.Validate(results(model.StatusSkipped), 0, Context{})
		assert.False(t, v.Success)
		assert.Zero(t, v.Actual)
	})

	t.Run("known failures excluded", func(t *testing.T) {
		v := rule.Validate(rs, 1, Context{Known: map[string]struct{}{"hd": {}}})
		assert.True(t, v.Success)
		assert.InDelta(t, 1.0, v.Actual, 1e-9)
	})
}

func TestMaxFailures(t *testing.T) {
	rule := maxFailuresRule{}
	rs := results(model.StatusFailed, model.StatusBroken, model.StatusPassed)

	t.Run("known issue excluded", func(t *testing.T) {
		known := Context{Known: map[string]struct{}{"ha": {}}}
		v := rule.Validate(results(model.StatusFailed, model.StatusFailed), 1, known)
		assert.Equal(t, float64(1), v.Actual)
		assert.True(t, v.Success)
	})

	t.Run("over threshold", func(t *testing.T) {
		v := rule.Validate(rs, 1, Context{})
		assert.Equal(t, float64(2), v.Actual)
		assert.False(t, v.Success)
	})

	t.Run("state accumulates", func(t *testing.T) {
		v := rule.Validate(rs, 3, Context{State: 2})
		assert.Equal(t, float64(4), v.Actual)
		assert.False(t, v.Success)
	})

	t.Run("results without history id are never known", func(t *testing.T) {
		v := rule.Validate([]*model.TestResult{{Status: model.StatusFailed}}, 0,
			Context{Known: map[string]struct{}{"": {}}})
		assert.Equal(t, float64(1), v.Actual)
	})
}

func TestMinTestsCount(t *testing.T) {
	rule := minTestsCountRule{}

	assert.True(t, rule.Validate(results(model.StatusPassed, model.StatusFailed), 2, Context{}).Success,
		"bound is inclusive")
	assert.False(t, rule.Validate(results(model.StatusPassed), 2, Context{}).Success)
	assert.True(t, rule.Validate(nil, 0, Context{}).Success)
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "Failed tests count 3 exceeds the allowed threshold value 1",
		maxFailuresRule{}.Message(3, 1))
	assert.Equal(t, "Total tests count 4 is less than the expected threshold value 10",
		minTestsCountRule{}.Message(4, 10))
	assert.Equal(t, "Success rate 0.75 is less than the expected threshold value 0.8",
		successRateRule{}.Message(0.75, 0.8))
}

type alwaysFail struct{}

func (alwaysFail) Name() string { return "alwaysFail" }
func (alwaysFail) Kind() Kind   { return KindAbsolute }
func (alwaysFail) Validate(_ []*model.TestResult, expected float64, _ Context) Validation {
	return Validation{Expected: expected}
}
func (alwaysFail) Message(float64, float64) string { return "always fails" }

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(alwaysFail{})
	require.NoError(t, err)

	assert.Equal(t, []string{"alwaysFail", MaxFailures, MinTestsCount, SuccessRate}, reg.Names())

	rule, err := reg.Get("maxfailures")
	require.NoError(t, err)
	assert.Equal(t, MaxFailures, rule.Name())

	_, err = reg.Get("nope")
	require.ErrorIs(t, err, ErrUnknownRule)

	require.Error(t, reg.Register(maxFailuresRule{}))

	_, err = NewRegistry(alwaysFail{}, alwaysFail{})
	require.Error(t, err)
}

func TestEvaluator(t *testing.T) {
	reg, err := NewRegistry(alwaysFail{})
	require.NoError(t, err)

	rs := results(model.StatusPassed, model.StatusPassed, model.StatusPassed, model.StatusFailed)
	rs[0].Labels = []model.Label{{Name: "suite", Value: "smoke"}}
	rs[3].Labels = []model.Label{{Name: "suite", Value: "smoke"}}

	t.Run("accumulates all results", func(t *testing.T) {
		ev, err := NewEvaluator(testLogger(), reg, Config{Entries: []Entry{
			{Rule: SuccessRate, Expected: 0.8},
			{Rule: MinTestsCount, Expected: 4},
			{Rule: "alwaysFail", Expected: 1},
		}})
		require.NoError(t, err)

		report := ev.Evaluate(rs, nil)
		require.Len(t, report.Results, 3)
		assert.False(t, report.Success)
		assert.False(t, report.Stopped)

		assert.False(t, report.Results[0].Success)
		assert.InDelta(t, 0.75, report.Results[0].Actual, 1e-9)
		assert.NotEmpty(t, report.Results[0].Message)

		assert.True(t, report.Results[1].Success)
		assert.Empty(t, report.Results[1].Message)

		assert.Len(t, report.Failures(), 2)
	})

	t.Run("fast fail stops at first failure", func(t *testing.T) {
		ev, err := NewEvaluator(testLogger(), reg, Config{FastFail: true, Entries: []Entry{
			{Rule: MinTestsCount, Expected: 1},
			{Rule: SuccessRate, Expected: 0.8},
			{Rule: MinTestsCount, Expected: 100},
		}})
		require.NoError(t, err)
		assert.True(t, ev.FastFail())

		report := ev.Evaluate(rs, nil)
		require.Len(t, report.Results, 2)
		assert.True(t, report.Stopped)
		assert.False(t, report.Success)
		assert.Equal(t, SuccessRate, report.Results[1].Rule)
	})

	t.Run("filter and known issues", func(t *testing.T) {
		ev, err := NewEvaluator(testLogger(), reg, Config{Entries: []Entry{
			{
				Rule:     MaxFailures,
				Expected: 0,
				ID:       "smoke",
				Filter:   &FilterConfig{Labels: map[string]string{"suite": "smoke"}},
			},
			{
				Rule:     MinTestsCount,
				Expected: 2,
				Filter:   &FilterConfig{Labels: map[string]string{"suite": "smoke"}},
			},
		}})
		require.NoError(t, err)

		report := ev.Evaluate(rs, []model.KnownTestFailure{{HistoryID: "hd"}})
		require.Len(t, report.Results, 2)
		assert.True(t, report.Success)
		assert.Equal(t, "smoke", report.Results[0].ID)
		assert.Zero(t, report.Results[0].Actual)
		assert.Equal(t, float64(2), report.Results[1].Actual)
	})

	t.Run("relative state carries across evaluations", func(t *testing.T) {
		ev, err := NewEvaluator(testLogger(), reg, Config{Entries: []Entry{
			{Rule: MaxFailures, Expected: 1},
		}})
		require.NoError(t, err)

		first := ev.Evaluate(rs, nil)
		assert.True(t, first.Success)
		assert.Equal(t, float64(1), first.Results[0].Actual)

		second := ev.Evaluate(rs, nil)
		assert.False(t, second.Success)
		assert.Equal(t, float64(2), second.Results[0].Actual)
	})

	t.Run("unknown rule", func(t *testing.T) {
		_, err := NewEvaluator(testLogger(), reg, Config{Entries: []Entry{{Rule: "bogus"}}})
		require.ErrorIs(t, err, ErrUnknownRule)

		_, err = NewEvaluator(testLogger(), reg, Config{Use: []string{"missingCustom"}})
		require.True(t, errors.Is(err, ErrUnknownRule))
	})
}

func TestFilterStatuses(t *testing.T) {
	f := (&FilterConfig{Statuses: []string{"failed"}}).compile()
	require.NotNil(t, f)

	assert.True(t, f(&model.TestResult{Status: model.StatusFailed}))
	assert.False(t, f(&model.TestResult{Status: model.StatusPassed}))

	assert.Nil(t, (*FilterConfig)(nil).compile())
	assert.Nil(t, (&FilterConfig{}).compile())
}

func TestDecodeEntries(t *testing.T) {
	entries, err := DecodeEntries([]map[string]any{
		{"maxFailures": 2, "id": "api", "filter": map[string]any{"labels": map[string]any{"layer": "api"}}},
		{"successRate": "0.9"},
		{"minTestsCount": 10.0},
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{
		Rule:     MaxFailures,
		Expected: 2,
		ID:       "api",
		Filter:   &FilterConfig{Labels: map[string]string{"layer": "api"}},
	}, entries[0])
	assert.InDelta(t, 0.9, entries[1].Expected, 1e-9)
	assert.Equal(t, float64(10), entries[2].Expected)

	tests := []struct {
		name string
		raw  map[string]any
	}{
		{name: "no rule", raw: map[string]any{"id": "x"}},
		{name: "two rules", raw: map[string]any{"maxFailures": 1, "minTestsCount": 1}},
		{name: "bad threshold", raw: map[string]any{"maxFailures": "many"}},
		{name: "missing threshold", raw: map[string]any{"maxFailures": nil}},
		{name: "bad filter", raw: map[string]any{"maxFailures": 1, "filter": map[string]any{"owner": "me"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEntries([]map[string]any{tt.raw})
			require.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fastFail: true
rules:
  - maxFailures: 0
    id: smoke
    filter:
      labels:
        suite: smoke
  - successRate: 0.95
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.FastFail)
	require.Len(t, cfg.Entries, 2)
	assert.Equal(t, MaxFailures, cfg.Entries[0].Rule)
	assert.Equal(t, "smoke", cfg.Entries[0].ID)
	require.NotNil(t, cfg.Entries[0].Filter)
	assert.Equal(t, "smoke", cfg.Entries[0].Filter.Labels["suite"])
	assert.InDelta(t, 0.95, cfg.Entries[1].Expected, 1e-9)

	require.NoError(t, os.WriteFile(path, []byte(`{"rules": [{"maxFailures": "x"}]}`), 0o644))
	_, err = LoadConfig(path)
	require.Error(t, err)
}
