package reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	exports   map[string]string
	// exportSuffix is appended to the output path, mimicking tools that add
	// the type extension themselves.
	exportSuffix string
	calls        []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		responses: make(map[string]string),
		failures:  make(map[string]error),
		exports:   make(map[string]string),
	}
}

func (f *fakeRunner) Run(ctx context.Context, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)

	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("invocation without deadline")
	}

	if err, ok := f.failures[key]; ok {
		return nil, err
	}

	if len(args) > 1 && args[1] == "export" {
		id, out := argValue(args, "--id"), argValue(args, "--output-path")

		content, ok := f.exports[id]
		if !ok {
			return nil, errors.New("no such payload")
		}

		return nil, os.WriteFile(out+f.exportSuffix, []byte(content), 0600)
	}

	if resp, ok := f.responses[key]; ok {
		return []byte(resp), nil
	}

	return nil, errors.New("unexpected invocation: " + key)
}

func (f *fakeRunner) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}

	return n
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}

	return ""
}

const xcInvocationJSON = `{
  "_type": {"_name": "ActionsInvocationRecord"},
  "actions": {"_values": [{
    "runDestination": {"displayName": {"_value": "iPhone 15"}},
    "actionResult": {"testsRef": {"id": {"_value": "tests-1"}}}
  }]}
}`

const xcSummariesJSON = `{
  "summaries": {"_values": [{
    "testableSummaries": {"_values": [{
      "name": {"_value": "AppTests"},
      "targetName": {"_value": "AppTests"},
      "tests": {"_values": [{
        "_type": {"_name": "ActionTestSummaryGroup"},
        "name": {"_value": "LoginTests"},
        "subtests": {"_values": [
          {
            "_type": {"_name": "ActionTestMetadata"},
            "name": {"_value": "testLogin()"},
            "identifier": {"_value": "LoginTests/testLogin()"},
            "testStatus": {"_value": "Failure"},
            "duration": {"_value": "1.25"},
            "summaryRef": {"id": {"_value": "summary-1"}}
          },
          {
            "_type": {"_name": "ActionTestMetadata"},
            "name": {"_value": "testLogout()"},
            "identifier": {"_value": "LoginTests/testLogout()"},
            "testStatus": {"_value": "Success"},
            "duration": {"_value": "0.5"}
          }
        ]}
      }]}
    }]}
  }]}
}`

const xcSummaryJSON = `{
  "failureSummaries": {"_values": [
    {"message": {"_value": "XCTAssertEqual failed"}, "fileName": {"_value": "LoginTests.swift"}, "lineNumber": {"_value": "42"}}
  ]},
  "activitySummaries": {"_values": [{
    "title": {"_value": "Start Test"},
    "start": {"_value": "2024-05-01T10:00:00.000+0000"},
    "finish": {"_value": "2024-05-01T10:00:01.000+0000"},
    "attachments": {"_values": [{
      "filename": {"_value": "Screenshot.png"},
      "name": {"_value": "screen"},
      "uniformTypeIdentifier": {"_value": "public.png"},
      "payloadRef": {"id": {"_value": "0~payload"}},
      "payloadSize": {"_value": "5"}
    }]}
  }]}
}`

func newXcresultFixture(t *testing.T, version string) (string, *fakeRunner) {
	t.Helper()

	bundle := filepath.Join(t.TempDir(), "Run.xcresult")
	require.NoError(t, os.MkdirAll(bundle, 0755))

	legacy := ""
	if version == "23021" {
		legacy = "object --legacy "
	}

	get := "xcresulttool get " + legacy + "--format json --path " + bundle

	runner := newFakeRunner()
	runner.responses["xcresulttool version"] = "xcresulttool version " + version + ", format version 3.53 (current)"
	runner.responses[get] = xcInvocationJSON
	runner.responses[get+" --id tests-1"] = xcSummariesJSON
	runner.responses[get+" --id summary-1"] = xcSummaryJSON
	runner.exports["0~payload"] = "image"

	return bundle, runner
}

func TestXcresultReader(t *testing.T) {
	for _, version := range []string{"23021", "22608"} {
		t.Run(version, func(t *testing.T) {
			bundle, runner := newXcresultFixture(t, version)

			r := NewXcresultReader(testLogger(), XcresultOptions{Runner: runner, Timeout: time.Second})
			v := newRecordingVisitor()

			ok, err := r.Read(t.Context(), v, bundle)
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, v.results, 2)

			login := v.results[0]
			assert.Equal(t, "AppTests/LoginTests/testLogin()", login.FullName)
			assert.Equal(t, "failed", login.Status)
			assert.Equal(t, int64(1250), login.Duration)
			assert.Equal(t, int64(1714557600000), login.Start)
			assert.Equal(t, "XCTAssertEqual failed", login.Error.Message)
			assert.Equal(t, "LoginTests.swift:42: XCTAssertEqual failed", login.Error.Trace)
			assert.Contains(t, login.Labels, model.RawLabel{Name: "suite", Value: "LoginTests"})
			assert.Contains(t, login.Labels, model.RawLabel{Name: "host", Value: "iPhone 15"})

			require.Len(t, login.Steps, 1)
			activity := login.Steps[0].(*model.RawStepStep) //nolint:forcetypeassert // test
			assert.Equal(t, int64(1000), activity.Duration)
			require.Len(t, activity.Steps, 1)
			assert.Equal(t, "Screenshot.png", activity.Steps[0].(*model.RawStepAttachment).OriginalName) //nolint:forcetypeassert // test

			require.Len(t, v.files, 1)
			assert.Equal(t, "Screenshot.png", v.files[0].name)
			assert.Equal(t, "image/png", v.files[0].contentType)
			assert.Equal(t, []byte("image"), v.files[0].data)
			assert.True(t, v.files[0].ephemeral)

			assert.Equal(t, "passed", v.results[1].Status)
			assert.Nil(t, v.results[1].Error)
		})
	}
}

func TestXcresultReader_ExportExtensionFallback(t *testing.T) {
	bundle, runner := newXcresultFixture(t, "23021")
	runner.exportSuffix = ".png"

	r := NewXcresultReader(testLogger(), XcresultOptions{Runner: runner})
	v := newRecordingVisitor()

	ok, err := r.Read(t.Context(), v, bundle)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v.files, 1)
	assert.Equal(t, []byte("image"), v.files[0].data)
}

func TestXcresultReader_ToolUnavailableIsCached(t *testing.T) {
	bundle, runner := newXcresultFixture(t, "23021")
	runner.failures["xcresulttool version"] = errors.New("xcrun: error: unable to find utility")

	r := NewXcresultReader(testLogger(), XcresultOptions{Runner: runner})

	for range 3 {
		ok, err := r.Read(t.Context(), newRecordingVisitor(), bundle)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	assert.Equal(t, 1, runner.count("xcresulttool version"))
	assert.Equal(t, 0, runner.count("xcresulttool get"))
}

func TestXcresultReader_UnsupportedGetIsCached(t *testing.T) {
	bundle, runner := newXcresultFixture(t, "23021")
	get := "xcresulttool get object --legacy --format json --path " + bundle
	runner.failures[get] = errors.New("Error: Unknown option '--legacy'")

	r := NewXcresultReader(testLogger(), XcresultOptions{Runner: runner})

	for range 2 {
		ok, err := r.Read(t.Context(), newRecordingVisitor(), bundle)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	assert.Equal(t, 1, runner.count("xcresulttool get"))
}

func TestXcresultReader_FailedQueryIsNoData(t *testing.T) {
	bundle, runner := newXcresultFixture(t, "23021")
	get := "xcresulttool get object --legacy --format json --path " + bundle
	runner.failures[get+" --id summary-1"] = context.DeadlineExceeded

	r := NewXcresultReader(testLogger(), XcresultOptions{Runner: runner})
	v := newRecordingVisitor()

	ok, err := r.Read(t.Context(), v, bundle)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v.results, 2)
	assert.Nil(t, v.results[0].Error)
	assert.Empty(t, v.results[0].Steps)
}

func TestXcresultReader_Declines(t *testing.T) {
	dir := t.TempDir()
	runner := newFakeRunner()
	r := NewXcresultReader(testLogger(), XcresultOptions{Runner: runner})

	ok, err := r.Read(t.Context(), newRecordingVisitor(), writeFile(t, dir, "file.xcresult", "x"))
	require.NoError(t, err)
	assert.False(t, ok, "regular file")

	ok, err = r.Read(t.Context(), newRecordingVisitor(), dir)
	require.NoError(t, err)
	assert.False(t, ok, "wrong suffix")

	assert.Empty(t, runner.calls)
}

func TestParseXcresulttoolVersion(t *testing.T) {
	assert.Equal(t, 23021, parseXcresulttoolVersion([]byte("xcresulttool version 23021, format version 3.53")))
	assert.Equal(t, 0, parseXcresulttoolVersion([]byte("garbage")))
}
