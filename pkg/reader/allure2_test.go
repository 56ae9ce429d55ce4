package reader

import (
	"encoding/json"
	"testing"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const allure2ResultJSON = `{
  "uuid": "r-1",
  "historyId": "h-1",
  "name": "login works",
  "fullName": "auth.LoginTest.loginWorks",
  "status": "failed",
  "statusDetails": {"message": "expected 200", "trace": "at line 3", "flaky": true},
  "start": 1000,
  "stop": 1500,
  "labels": [{"name": "suite", "value": "auth"}],
  "links": [{"name": "JIRA-1", "url": "https://issues/JIRA-1", "type": "issue"}],
  "parameters": [
    {"name": "browser", "value": "firefox"},
    {"name": "token", "value": "secret", "mode": "masked"},
    {"name": "seed", "value": "42", "excluded": true}
  ],
  "steps": [
    {
      "name": "open page",
      "status": "passed",
      "start": 1000,
      "stop": 1100,
      "steps": [{"name": "wait", "status": "passed"}],
      "attachments": [{"name": "screen", "source": "a-attachment.png", "type": "image/png", "size": 10}]
    }
  ],
  "attachments": [{"name": "log", "source": "b-attachment.txt", "type": "text/plain"}]
}`

const allure2ContainerJSON = `{
  "uuid": "c-1",
  "children": ["r-1", "r-2"],
  "befores": [{"name": "setUp", "status": "passed", "start": 900, "stop": 950}],
  "afters": [{"name": "tearDown", "status": "broken", "statusDetails": {"message": "boom"}}]
}`

func TestAllure2Reader_Result(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "r-1-result.json", allure2ResultJSON)

	v := newRecordingVisitor()

	ok, err := NewAllure2Reader(testLogger()).Read(t.Context(), v, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v.results, 1)

	raw := v.results[0]
	assert.Equal(t, "r-1", raw.UUID)
	assert.Equal(t, "h-1", raw.HistoryID)
	assert.Equal(t, "failed", raw.Status)
	assert.Equal(t, "expected 200", raw.Error.Message)
	assert.True(t, raw.Flaky)
	assert.Equal(t, []model.RawLabel{{Name: "suite", Value: "auth"}}, raw.Labels)
	assert.Equal(t, "https://issues/JIRA-1", raw.Links[0].URL)

	require.Len(t, raw.Parameters, 3)
	assert.True(t, raw.Parameters[1].Masked)
	assert.True(t, raw.Parameters[2].Excluded)

	require.Len(t, raw.Steps, 2)

	step, isStep := raw.Steps[0].(*model.RawStepStep)
	require.True(t, isStep)
	assert.Equal(t, "open page", step.Name)
	require.Len(t, step.Steps, 2)
	assert.Equal(t, model.RawStepTypeStep, step.Steps[0].StepType())
	assert.Equal(t, model.RawStepTypeAttachment, step.Steps[1].StepType())

	att, isAtt := raw.Steps[1].(*model.RawStepAttachment)
	require.True(t, isAtt)
	assert.Equal(t, "b-attachment.txt", att.OriginalName)

	assert.Equal(t, "allure2", v.contexts[0].ReaderID)
}

func TestAllure2Reader_Container(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c-1-container.json", allure2ContainerJSON)

	v := newRecordingVisitor()

	ok, err := NewAllure2Reader(testLogger()).Read(t.Context(), v, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v.fixtures, 2)

	before, after := v.fixtures[0], v.fixtures[1]
	assert.Equal(t, model.FixtureBefore, before.Type)
	assert.Equal(t, "c-1-before-0", before.UUID)
	assert.Equal(t, []string{"r-1", "r-2"}, before.TestResultIDs)
	assert.Equal(t, model.FixtureAfter, after.Type)
	assert.Equal(t, "boom", after.Error.Message)
}

func TestAllure2Reader_ToleratesMistypedFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "r-2-result.json", `{
  "uuid": "r-2",
  "name": "sums",
  "fullName": 7,
  "status": "passed",
  "statusDetails": "not an object",
  "start": 1700000000000.0,
  "stop": "1700000000500",
  "labels": [{"name": "build", "value": 42}, "junk", {"name": "suite", "value": "math"}],
  "parameters": [{"name": "n", "value": 5}, {"name": "fast", "value": true, "excluded": 1}],
  "titlePath": ["math", 3],
  "steps": {"name": "not a list"},
  "attachments": [{"name": "log", "source": "c-attachment.txt", "size": "12"}]
}`)

	v := newRecordingVisitor()

	ok, err := NewAllure2Reader(testLogger()).Read(t.Context(), v, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v.results, 1)

	raw := v.results[0]
	assert.Equal(t, "r-2", raw.UUID)
	assert.Equal(t, "7", raw.FullName)
	assert.Equal(t, int64(1700000000000), raw.Start)
	assert.Equal(t, int64(1700000000500), raw.Stop)
	assert.Nil(t, raw.Error)
	assert.Equal(t, []model.RawLabel{
		{Name: "build", Value: "42"},
		{Name: "suite", Value: "math"},
	}, raw.Labels)
	assert.Equal(t, []string{"math", "3"}, raw.TitlePath)

	require.Len(t, raw.Parameters, 2)
	assert.Equal(t, model.RawParameter{Name: "n", Value: "5"}, raw.Parameters[0])
	assert.Equal(t, model.RawParameter{Name: "fast", Value: "true", Excluded: true}, raw.Parameters[1])

	require.Len(t, raw.Steps, 1)

	att, isAtt := raw.Steps[0].(*model.RawStepAttachment)
	require.True(t, isAtt)
	assert.Equal(t, int64(12), att.ContentLength)
}

func TestAllure2Reader_Metadata(t *testing.T) {
	dir := t.TempDir()
	r := NewAllure2Reader(testLogger())

	t.Run("executor", func(t *testing.T) {
		v := newRecordingVisitor()
		path := writeFile(t, dir, "executor.json", `{"name":"ci","buildOrder":7}`)

		ok, err := r.Read(t.Context(), v, path)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"name":"ci","buildOrder":7}`, string(v.metadata["executor"]))
	})

	t.Run("environment", func(t *testing.T) {
		v := newRecordingVisitor()
		path := writeFile(t, dir, "environment.properties", "# comment\nos=linux\njava.version : 21\n\n")

		ok, err := r.Read(t.Context(), v, path)
		require.NoError(t, err)
		require.True(t, ok)

		var env map[string]string
		require.NoError(t, json.Unmarshal(v.metadata["environment"], &env))
		assert.Equal(t, map[string]string{"os": "linux", "java.version": "21"}, env)
	})
}

func TestAllure2Reader_Declines(t *testing.T) {
	dir := t.TempDir()
	r := NewAllure2Reader(testLogger())

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unrelated json", file: "data.json", content: `{}`},
		{name: "malformed result", file: "x-result.json", content: `{"uuid":`},
		{name: "empty result", file: "y-result.json", content: ``},
		{name: "invalid executor", file: "executor.json", content: `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			v := newRecordingVisitor()

			ok, err := r.Read(t.Context(), v, path)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, v.results)
		})
	}
}
