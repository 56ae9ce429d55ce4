package knownissue

import (
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

func TestRead_MissingFile(t *testing.T) {
	entries, err := Read(testLogger(), filepath.Join(t.TempDir(), "known.json"))
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestRead_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"historyId":`), 0o644))

	_, err := Read(testLogger(), path)
	require.Error(t, err)
}

func TestRead_DropsEmptyAndDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"historyId": "a", "comment": "first"},
		{"comment": "no id"},
		{"historyId": "b"},
		{"historyId": "a", "comment": "second"}
	]`), 0o644))

	entries, err := Read(testLogger(), path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].HistoryID)
	assert.Equal(t, "second", entries[0].Comment)
	assert.Equal(t, "b", entries[1].HistoryID)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "known.json")

	in := []model.KnownTestFailure{
		{HistoryID: "z", Comment: "flaky backend"},
		{
			HistoryID: "a",
			Issues:    []model.IssueLink{{Name: "BUG-1", URL: "https://issues.example/BUG-1", Type: "issue"}},
			Error:     &model.TestError{Message: "timeout"},
		},
	}

	require.NoError(t, Write(path, in, nil))

	out, err := Read(testLogger(), path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[1], out[0])
	assert.Equal(t, in[0], out[1])
}

func TestFromResults(t *testing.T) {
	results := []*model.TestResult{
		{ID: "1", HistoryID: "a", Status: model.StatusFailed, Error: &model.TestError{Message: "boom", Trace: "at x", Expected: "1"}},
		{ID: "2", HistoryID: "b", Status: model.StatusPassed},
		{ID: "3", HistoryID: "c", Status: model.StatusBroken},
		{ID: "4", HistoryID: "", Status: model.StatusFailed},
		{ID: "5", HistoryID: "d", Status: model.StatusFailed, Hidden: true},
		{ID: "6", HistoryID: "a", Status: model.StatusFailed},
	}

	existing := []model.KnownTestFailure{
		{HistoryID: "c", Comment: "tracked", Issues: []model.IssueLink{{URL: "https://issues.example/2"}}},
	}

	got := FromResults(results, existing)
	require.Len(t, got, 2)

	assert.Equal(t, "a", got[0].HistoryID)
	assert.Equal(t, &model.TestError{Message: "boom", Trace: "at x"}, got[0].Error)

	assert.Equal(t, "c", got[1].HistoryID)
	assert.Equal(t, "tracked", got[1].Comment)
	assert.Len(t, got[1].Issues, 1)
	assert.Nil(t, got[1].Error)
}

func TestIDs(t *testing.T) {
	ids := IDs([]model.KnownTestFailure{{HistoryID: "a"}, {HistoryID: "b"}})
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "a")
	assert.Contains(t, ids, "b")
}
