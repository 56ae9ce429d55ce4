// Package reader turns on-disk test artifacts into visitor calls. Every
// reader either declines a path or parses it; malformed input is logged and
// declined so one broken artifact never aborts a batch.
package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/resultfile"
	"github.com/sirupsen/logrus"
)

// ErrToolUnavailable is returned by tool-backed readers once the external
// inspection tool is known to be missing or unusable.
var ErrToolUnavailable = errors.New("inspection tool unavailable")

// Context attributes a visitor call to the reader and artifact it came from.
type Context struct {
	ReaderID string
	Metadata map[string]string
}

// Visitor receives raw records from readers. Implementations that mutate
// shared state must serialize calls themselves.
type Visitor interface {
	VisitTestResult(raw *model.RawTestResult, rc Context) error
	VisitTestFixtureResult(raw *model.RawFixtureResult, rc Context) error
	VisitAttachmentFile(file resultfile.File, rc Context) error
	VisitMetadata(key string, data json.RawMessage, rc Context) error
}

// Reader parses one artifact format.
type Reader interface {
	// ID returns the stable reader identifier used for provenance.
	ID() string

	// Read inspects path and returns false when the reader does not handle
	// it or the artifact is malformed. A non-nil error is reserved for
	// cancellation and visitor failures.
	Read(ctx context.Context, v Visitor, path string) (bool, error)
}

// ParseError describes why an artifact could not be parsed.
type ParseError struct {
	Reader string
	File   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parsing %s: %v", e.Reader, e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Options configures the default reader set.
type Options struct {
	// XcrunPath is the xcrun binary used by the xcresult reader.
	XcrunPath string

	// ToolTimeout bounds every external tool invocation.
	ToolTimeout time.Duration

	// Runner overrides how external commands are executed.
	Runner CommandRunner
}

// NewDefault returns the built-in readers in evaluation order. The
// attachments reader accepts any remaining file and therefore comes last.
func NewDefault(log logrus.FieldLogger, opts Options) []Reader {
	return []Reader{
		NewAllure2Reader(log),
		NewCucumberReader(log),
		NewAllure1Reader(log),
		NewJUnitReader(log),
		NewXcresultReader(log, XcresultOptions{
			XcrunPath: opts.XcrunPath,
			Timeout:   opts.ToolTimeout,
			Runner:    opts.Runner,
		}),
		NewAttachmentsReader(log),
	}
}

// malformed logs a parse failure and converts it into a decline.
func malformed(log logrus.FieldLogger, readerID, path string, err error) (bool, error) {
	log.WithError(&ParseError{Reader: readerID, File: path, Err: err}).
		WithField("file", path).
		Warn("Skipping malformed artifact")

	return false, nil
}

func newContext(readerID, path string) Context {
	return Context{
		ReaderID: readerID,
		Metadata: map[string]string{"file": path},
	}
}

// safeFileName replaces anything outside [A-Za-z0-9_-] so the result can be
// used as a single path element.
func safeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
