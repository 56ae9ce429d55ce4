package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/plugin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	Bucket       string
	Key          string
	ContentType  string
	StorageClass string
	Body         string
}

type fakeS3 struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakeS3) PutObject(
	_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}

	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, putCall{
		Bucket:       aws.ToString(in.Bucket),
		Key:          aws.ToString(in.Key),
		ContentType:  aws.ToString(in.ContentType),
		StorageClass: string(in.StorageClass),
		Body:         string(body),
	})

	return &s3.PutObjectOutput{}, nil
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func TestRunPrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		branch string
		run    string
		want   string
	}{
		{
			name: "default prefix and branch",
			run:  "run-1",
			want: "reports/default/run-1",
		},
		{
			name:   "custom prefix",
			prefix: "ci/reports",
			branch: "main",
			run:    "run-2",
			want:   "ci/reports/main/run-2",
		},
		{
			name:   "slashes trimmed",
			prefix: "/bucket-prefix/",
			branch: "release/",
			run:    "run-3",
			want:   "bucket-prefix/release/run-3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &s3Publisher{cfg: &config.S3PublishConfig{Prefix: tt.prefix}}
			assert.Equal(t, tt.want, p.runPrefix(tt.branch, tt.run))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		path       string
		wantPrefix string
	}{
		{path: "out/summary.json", wantPrefix: "application/json"},
		{path: "history/history.jsonl", wantPrefix: "application/x-ndjson"},
		{path: "out/LICENSE", wantPrefix: "application/octet-stream"},
		{path: "out/index.html", wantPrefix: "text/html"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Contains(t, detectContentType(tt.path), tt.wantPrefix)
		})
	}
}

func TestNewS3Publisher_RequiresBucket(t *testing.T) {
	_, err := NewS3Publisher(testLogger(), &config.S3PublishConfig{})
	require.Error(t, err)
}

func TestPublish_UploadsExistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	summary := filepath.Join(dir, "summary.json")
	require.NoError(t, os.WriteFile(summary, []byte(`{"name":"nightly"}`), 0o600))

	client := &fakeS3{}
	p := NewS3PublisherWithClient(testLogger(), &config.S3PublishConfig{
		Bucket:       "reports",
		StorageClass: "STANDARD_IA",
	}, client)

	keys, err := p.Publish(context.Background(), "main", "run-1", []Artifact{
		{Path: summary, Key: "summary.json"},
		{Path: filepath.Join(dir, "missing.json"), Key: "known-issues.json"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"reports/main/run-1/summary.json"}, keys)
	require.Len(t, client.calls, 1)

	call := client.calls[0]
	assert.Equal(t, "reports", call.Bucket)
	assert.Equal(t, "reports/main/run-1/summary.json", call.Key)
	assert.Contains(t, call.ContentType, "application/json")
	assert.Equal(t, "STANDARD_IA", call.StorageClass)
	assert.Equal(t, `{"name":"nightly"}`, call.Body)
}

func TestPublish_PropagatesErrors(t *testing.T) {
	dir := t.TempDir()
	summary := filepath.Join(dir, "summary.json")
	require.NoError(t, os.WriteFile(summary, []byte(`{}`), 0o600))

	errDenied := errors.New("access denied")
	p := NewS3PublisherWithClient(testLogger(), &config.S3PublishConfig{Bucket: "reports"}, &fakeS3{err: errDenied})

	_, err := p.Publish(context.Background(), "", "run-1", []Artifact{{Path: summary, Key: "summary.json"}})
	require.ErrorIs(t, err, errDenied)

	require.ErrorIs(t, p.Preflight(context.Background()), errDenied)
}

func TestPlugin_PublishesUnderReportUUID(t *testing.T) {
	dir := t.TempDir()
	historyFile := filepath.Join(dir, "history.jsonl")
	require.NoError(t, os.WriteFile(historyFile, []byte("{}\n"), 0o600))

	client := &fakeS3{}
	pub := NewS3PublisherWithClient(testLogger(), &config.S3PublishConfig{Bucket: "reports", Prefix: "ci"}, client)

	p := NewPlugin(testLogger(), pub, "main", Artifact{Path: historyFile, Key: "history.jsonl"})
	runner := plugin.NewRunner(testLogger(), p)
	pc := &plugin.Context{ReportName: "nightly", ReportUUID: "abc"}

	require.NoError(t, runner.Start(context.Background(), pc))
	require.NoError(t, runner.Done(context.Background(), pc))

	summaries, err := runner.Info(context.Background(), pc)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, PluginID, summaries[0].Plugin)
	assert.Equal(t, []string{"ci/main/abc/history.jsonl"}, summaries[0].Data["keys"])

	// Preflight object plus the artifact.
	require.Len(t, client.calls, 2)
	assert.Equal(t, "ci/.reportoor-write-test", client.calls[0].Key)
}
