package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/resultfile"
	"github.com/sirupsen/logrus"
)

const (
	xcresultReaderID = "xcresult"
	xcresultSuffix   = ".xcresult"

	defaultXcrunPath   = "xcrun"
	defaultToolTimeout = 30 * time.Second

	// xcresulttool builds from this version on only expose the JSON object
	// graph behind "get object --legacy".
	xcresultLegacyFlagSince = 23000
)

var xcresulttoolVersionRe = regexp.MustCompile(`version\s+(\d+)`)

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

// Ensure interface compliance.
var _ CommandRunner = execRunner{}

// NewExecRunner returns a CommandRunner backed by os/exec.
func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %s %s: %w (stderr: %s)",
				name, strings.Join(args, " "), err, strings.TrimSpace(string(exitErr.Stderr)))
		}

		return nil, fmt.Errorf("running %s %s: %w", name, strings.Join(args, " "), err)
	}

	return output, nil
}

// XcresultOptions configures the xcresult reader.
type XcresultOptions struct {
	// XcrunPath is the xcrun binary. Defaults to "xcrun" on PATH.
	XcrunPath string

	// Timeout bounds every single xcresulttool invocation.
	Timeout time.Duration

	// Runner executes commands. Defaults to os/exec.
	Runner CommandRunner
}

// toolProbe caches what the installed xcresulttool supports. It is probed
// once per reader and never retried after a negative answer.
type toolProbe struct {
	mu             sync.Mutex
	probed         bool
	available      bool
	legacy         bool
	getUnsupported bool
}

type xcresultReader struct {
	log     logrus.FieldLogger
	xcrun   string
	timeout time.Duration
	runner  CommandRunner
	probe   toolProbe
}

// Ensure interface compliance.
var _ Reader = (*xcresultReader)(nil)

// NewXcresultReader creates a reader for Xcode .xcresult bundles. Bundles
// are inspected through "xcrun xcresulttool"; when the tool is missing every
// bundle is declined.
func NewXcresultReader(log logrus.FieldLogger, opts XcresultOptions) Reader {
	r := &xcresultReader{
		log:     log.WithField("component", "reader-xcresult"),
		xcrun:   opts.XcrunPath,
		timeout: opts.Timeout,
		runner:  opts.Runner,
	}

	if r.xcrun == "" {
		r.xcrun = defaultXcrunPath
	}

	if r.timeout <= 0 {
		r.timeout = defaultToolTimeout
	}

	if r.runner == nil {
		r.runner = execRunner{}
	}

	return r
}

// ID returns the reader identifier.
func (r *xcresultReader) ID() string {
	return xcresultReaderID
}

// Read inspects an .xcresult bundle directory.
func (r *xcresultReader) Read(ctx context.Context, v Visitor, path string) (bool, error) {
	if !strings.EqualFold(filepath.Ext(path), xcresultSuffix) {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false, nil
	}

	legacy, err := r.capability(ctx)
	if err != nil {
		if errors.Is(err, ErrToolUnavailable) {
			r.log.WithField("file", path).Debug("Skipping xcresult bundle")

			return false, nil
		}

		return false, err
	}

	var record xcInvocationRecord

	ok, err := r.getObject(ctx, path, "", legacy, &record)
	if !ok || err != nil {
		return false, err
	}

	tmp, err := os.MkdirTemp("", "reportoor-xcresult-*")
	if err != nil {
		return false, fmt.Errorf("creating export directory: %w", err)
	}

	defer func() {
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			r.log.WithError(rmErr).WithField("dir", tmp).Warn("Failed to remove export directory")
		}
	}()

	b := &xcBundle{
		reader: r,
		ctx:    ctx,
		v:      v,
		rc:     newContext(xcresultReaderID, path),
		path:   path,
		tmp:    tmp,
		legacy: legacy,
	}

	for i := range record.Actions.Values {
		action := &record.Actions.Values[i]

		if err := ctx.Err(); err != nil {
			return false, err
		}

		if action.ActionResult.TestsRef == nil || action.ActionResult.TestsRef.ID.Value == "" {
			continue
		}

		var summaries xcRunSummaries

		ok, err := r.getObject(ctx, path, action.ActionResult.TestsRef.ID.Value, legacy, &summaries)
		if err != nil {
			return false, err
		}

		if !ok {
			continue
		}

		b.host = action.RunDestination.DisplayName.Value

		for _, s := range summaries.Summaries.Values {
			for j := range s.TestableSummaries.Values {
				ts := &s.TestableSummaries.Values[j]

				if err := b.visitNodes(ts, ts.Tests.Values, nil); err != nil {
					return false, err
				}
			}
		}
	}

	return true, nil
}

// capability probes xcresulttool on first use and reports whether the
// legacy object sub-command must be used.
func (r *xcresultReader) capability(ctx context.Context) (bool, error) {
	r.probe.mu.Lock()
	defer r.probe.mu.Unlock()

	if !r.probe.probed {
		out, err := r.run(ctx, "xcresulttool", "version")

		switch {
		case err != nil && ctx.Err() != nil:
			return false, ctx.Err()
		case err != nil:
			r.log.WithError(err).Warn("xcresulttool is not available, xcresult bundles will be skipped")
		default:
			r.probe.available = true
			r.probe.legacy = parseXcresulttoolVersion(out) >= xcresultLegacyFlagSince
		}

		r.probe.probed = true
	}

	if !r.probe.available || r.probe.getUnsupported {
		return false, ErrToolUnavailable
	}

	return r.probe.legacy, nil
}

func (r *xcresultReader) disableGet(err error) {
	r.probe.mu.Lock()
	defer r.probe.mu.Unlock()

	if !r.probe.getUnsupported {
		r.log.WithError(err).Warn("xcresulttool get is not supported, xcresult bundles will be skipped")
	}

	r.probe.getUnsupported = true
}

func (r *xcresultReader) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.runner.Run(ctx, r.xcrun, args...)
}

// getObject decodes one node of the bundle's object graph into out. A
// failing invocation is logged and reported as no data; only cancellation
// of the parent context is returned as an error.
func (r *xcresultReader) getObject(ctx context.Context, bundle, id string, legacy bool, out any) (bool, error) {
	args := []string{"xcresulttool", "get"}
	if legacy {
		args = append(args, "object", "--legacy")
	}

	args = append(args, "--format", "json", "--path", bundle)
	if id != "" {
		args = append(args, "--id", id)
	}

	data, err := r.run(ctx, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}

		if unsupportedInvocation(err) {
			r.disableGet(err)

			return false, nil
		}

		r.log.WithError(err).WithFields(logrus.Fields{
			"file": bundle,
			"id":   id,
		}).Warn("Failed to read xcresult object")

		return false, nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		r.log.WithError(&ParseError{Reader: xcresultReaderID, File: bundle, Err: err}).
			WithField("id", id).
			Warn("Failed to decode xcresult object")

		return false, nil
	}

	return true, nil
}

// export materializes an attachment payload at target.
func (r *xcresultReader) export(ctx context.Context, bundle, id, target string, legacy bool) error {
	args := []string{"xcresulttool", "export"}
	if legacy {
		args = append(args, "--legacy")
	}

	args = append(args, "--type", "file", "--path", bundle, "--id", id, "--output-path", target)

	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("exporting attachment %s: %w", id, err)
	}

	return nil
}

func unsupportedInvocation(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "unknown option") ||
		strings.Contains(msg, "unrecognized") ||
		strings.Contains(msg, "unexpected argument")
}

func parseXcresulttoolVersion(out []byte) int {
	m := xcresulttoolVersionRe.FindSubmatch(out)
	if m == nil {
		return 0
	}

	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}

	return n
}

// xcresult JSON wraps every scalar in {"_value": "..."} and every list in
// {"_values": [...]}.

type xcString struct {
	Value string `json:"_value"`
}

type xcArray[T any] struct {
	Values []T `json:"_values"`
}

type xcTypeName struct {
	Name string `json:"_name"`
}

type xcReference struct {
	ID xcString `json:"id"`
}

type xcRunDestination struct {
	DisplayName xcString `json:"displayName"`
}

type xcActionResult struct {
	TestsRef *xcReference `json:"testsRef"`
}

type xcActionRecord struct {
	RunDestination xcRunDestination `json:"runDestination"`
	ActionResult   xcActionResult   `json:"actionResult"`
}

type xcInvocationRecord struct {
	Actions xcArray[xcActionRecord] `json:"actions"`
}

type xcTestNode struct {
	Type       xcTypeName          `json:"_type"`
	Name       xcString            `json:"name"`
	Identifier xcString            `json:"identifier"`
	TestStatus xcString            `json:"testStatus"`
	Duration   xcString            `json:"duration"`
	SummaryRef *xcReference        `json:"summaryRef"`
	Subtests   xcArray[xcTestNode] `json:"subtests"`
}

type xcTestableSummary struct {
	Name       xcString            `json:"name"`
	TargetName xcString            `json:"targetName"`
	Tests      xcArray[xcTestNode] `json:"tests"`
}

type xcRunSummary struct {
	TestableSummaries xcArray[xcTestableSummary] `json:"testableSummaries"`
}

type xcRunSummaries struct {
	Summaries xcArray[xcRunSummary] `json:"summaries"`
}

type xcFailureSummary struct {
	Message    xcString `json:"message"`
	FileName   xcString `json:"fileName"`
	LineNumber xcString `json:"lineNumber"`
}

type xcAttachment struct {
	Filename              xcString     `json:"filename"`
	Name                  xcString     `json:"name"`
	UniformTypeIdentifier xcString     `json:"uniformTypeIdentifier"`
	PayloadRef            *xcReference `json:"payloadRef"`
	PayloadSize           xcString     `json:"payloadSize"`
}

type xcActivity struct {
	Title         xcString              `json:"title"`
	Start         xcString              `json:"start"`
	Finish        xcString              `json:"finish"`
	Attachments   xcArray[xcAttachment] `json:"attachments"`
	Subactivities xcArray[xcActivity]   `json:"subactivities"`
}

type xcTestSummary struct {
	FailureSummaries  xcArray[xcFailureSummary] `json:"failureSummaries"`
	ActivitySummaries xcArray[xcActivity]       `json:"activitySummaries"`
}

// xcBundle carries per-bundle state while the test tree is walked. The
// export directory lives exactly as long as the enclosing Read call.
type xcBundle struct {
	reader *xcresultReader
	ctx    context.Context //nolint:containedctx // scoped to a single Read
	v      Visitor
	rc     Context
	path   string
	tmp    string
	host   string
	legacy bool
}

func (b *xcBundle) visitNodes(ts *xcTestableSummary, nodes []xcTestNode, groups []string) error {
	for i := range nodes {
		n := &nodes[i]

		if len(n.Subtests.Values) > 0 || n.Type.Name == "ActionTestSummaryGroup" {
			sub := append(append([]string(nil), groups...), n.Name.Value)

			if err := b.visitNodes(ts, n.Subtests.Values, sub); err != nil {
				return err
			}

			continue
		}

		if err := b.ctx.Err(); err != nil {
			return err
		}

		if err := b.visitTest(ts, n, groups); err != nil {
			return err
		}
	}

	return nil
}

func (b *xcBundle) visitTest(ts *xcTestableSummary, n *xcTestNode, groups []string) error {
	target := ts.TargetName.Value
	if target == "" {
		target = ts.Name.Value
	}

	identifier := n.Identifier.Value
	if identifier == "" {
		identifier = n.Name.Value
	}

	raw := &model.RawTestResult{
		Name:      n.Name.Value,
		FullName:  target + "/" + identifier,
		Status:    xcresultStatus(n.TestStatus.Value),
		Duration:  xcSecondsToMillis(n.Duration.Value),
		TitlePath: append([]string{target}, groups...),
		Labels: []model.RawLabel{
			{Name: "framework", Value: "xctest"},
			{Name: "package", Value: target},
		},
	}

	if len(groups) > 0 {
		raw.Labels = append(raw.Labels, model.RawLabel{Name: "suite", Value: groups[len(groups)-1]})
	}

	if b.host != "" {
		raw.Labels = append(raw.Labels, model.RawLabel{Name: "host", Value: b.host})
	}

	if n.SummaryRef != nil && n.SummaryRef.ID.Value != "" {
		var summary xcTestSummary

		ok, err := b.reader.getObject(b.ctx, b.path, n.SummaryRef.ID.Value, b.legacy, &summary)
		if err != nil {
			return err
		}

		if ok {
			raw.Error = xcFailure(summary.FailureSummaries.Values)

			steps, err := b.convertActivities(summary.ActivitySummaries.Values)
			if err != nil {
				return err
			}

			raw.Steps = steps

			if acts := summary.ActivitySummaries.Values; len(acts) > 0 {
				if start := parseXcDate(acts[0].Start.Value); start > 0 {
					raw.Start = start
					raw.Stop = start + raw.Duration
				}
			}
		}
	}

	if err := b.v.VisitTestResult(raw, b.rc); err != nil {
		return fmt.Errorf("visiting test %q: %w", raw.FullName, err)
	}

	return nil
}

func (b *xcBundle) convertActivities(acts []xcActivity) ([]model.RawStep, error) {
	if len(acts) == 0 {
		return nil, nil
	}

	steps := make([]model.RawStep, 0, len(acts))

	for i := range acts {
		a := &acts[i]

		children, err := b.convertActivities(a.Subactivities.Values)
		if err != nil {
			return nil, err
		}

		for j := range a.Attachments.Values {
			att, err := b.visitAttachment(&a.Attachments.Values[j])
			if err != nil {
				return nil, err
			}

			if att != nil {
				children = append(children, att)
			}
		}

		step := &model.RawStepStep{
			Name:  a.Title.Value,
			Start: parseXcDate(a.Start.Value),
			Stop:  parseXcDate(a.Finish.Value),
			Steps: children,
		}

		if step.Start > 0 && step.Stop >= step.Start {
			step.Duration = step.Stop - step.Start
		}

		steps = append(steps, step)
	}

	return steps, nil
}

// visitAttachment hands a lazily exported payload to the visitor. The
// export runs on first Open and must complete before Read returns.
func (b *xcBundle) visitAttachment(a *xcAttachment) (*model.RawStepAttachment, error) {
	if a.PayloadRef == nil || a.PayloadRef.ID.Value == "" {
		return nil, nil
	}

	id := a.PayloadRef.ID.Value
	uti := a.UniformTypeIdentifier.Value
	ext := utiExtension(uti)

	source := a.Filename.Value
	if source == "" {
		source = safeFileName(id) + ext
	}

	size, err := strconv.ParseInt(a.PayloadSize.Value, 10, 64)
	if err != nil {
		size = -1
	}

	target := filepath.Join(b.tmp, safeFileName(id))

	open := func() (io.ReadCloser, error) {
		if _, statErr := os.Stat(target); statErr != nil {
			if err := b.reader.export(b.ctx, b.path, id, target, b.legacy); err != nil {
				return nil, err
			}
		}

		f, openErr := os.Open(target) //nolint:gosec // inside our own export directory
		if openErr == nil {
			return f, nil
		}

		// Some tool versions append the type extension to the output path.
		if ext != "" {
			if f, err := os.Open(target + ext); err == nil { //nolint:gosec // same directory
				return f, nil
			}
		}

		return nil, fmt.Errorf("opening exported attachment %s: %w", id, openErr)
	}

	file := resultfile.NewLazyFile(source, utiContentType(uti), size, true, open)

	if err := b.v.VisitAttachmentFile(file, b.rc); err != nil {
		return nil, fmt.Errorf("visiting attachment %s: %w", source, err)
	}

	name := a.Name.Value
	if name == "" {
		name = source
	}

	return &model.RawStepAttachment{
		Name:          name,
		OriginalName:  source,
		ContentType:   file.ContentType(),
		ContentLength: size,
	}, nil
}

func xcFailure(failures []xcFailureSummary) *model.RawError {
	if len(failures) == 0 {
		return nil
	}

	var trace strings.Builder

	for i, f := range failures {
		if i > 0 {
			trace.WriteByte('\n')
		}

		if f.FileName.Value != "" {
			fmt.Fprintf(&trace, "%s:%s: ", f.FileName.Value, f.LineNumber.Value)
		}

		trace.WriteString(f.Message.Value)
	}

	return &model.RawError{
		Message: failures[0].Message.Value,
		Trace:   trace.String(),
	}
}

func xcresultStatus(s string) string {
	switch s {
	case "Success", "Expected Failure":
		return string(model.StatusPassed)
	case "Failure":
		return string(model.StatusFailed)
	case "Skipped":
		return string(model.StatusSkipped)
	default:
		return string(model.StatusUnknown)
	}
}

func xcSecondsToMillis(s string) int64 {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || secs < 0 {
		return 0
	}

	return int64(secs*1000 + 0.5)
}

var xcDateLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

func parseXcDate(s string) int64 {
	if s == "" {
		return 0
	}

	for _, layout := range xcDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}

	return 0
}

func utiExtension(uti string) string {
	switch uti {
	case "public.png":
		return ".png"
	case "public.jpeg":
		return ".jpeg"
	case "public.plain-text", "public.utf8-plain-text":
		return ".txt"
	case "public.json":
		return ".json"
	default:
		return ""
	}
}

func utiContentType(uti string) string {
	switch uti {
	case "public.png":
		return "image/png"
	case "public.jpeg":
		return "image/jpeg"
	case "public.plain-text", "public.utf8-plain-text":
		return "text/plain"
	case "public.json":
		return "application/json"
	default:
		return ""
	}
}
