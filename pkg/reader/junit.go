package reader

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/resultfile"
	"github.com/sirupsen/logrus"
)

const junitReaderID = "junit"

// junit timestamps come without a zone.
var junitTimestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	time.RFC3339,
	time.RFC3339Nano,
}

type junitReader struct {
	log logrus.FieldLogger
}

// Ensure interface compliance.
var _ Reader = (*junitReader)(nil)

// NewJUnitReader creates a reader for JUnit-style XML reports.
func NewJUnitReader(log logrus.FieldLogger) Reader {
	return &junitReader{log: log.WithField("component", "reader-junit")}
}

// ID returns the reader identifier.
func (r *junitReader) ID() string {
	return junitReaderID
}

type junitOutcome struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitCase struct {
	Name      string          `xml:"name,attr"`
	ClassName string          `xml:"classname,attr"`
	Time      string          `xml:"time,attr"`
	Failure   *junitOutcome   `xml:"failure"`
	Error     *junitOutcome   `xml:"error"`
	Skipped   *junitOutcome   `xml:"skipped"`
	SystemOut string          `xml:"system-out"`
	SystemErr string          `xml:"system-err"`
	Props     []junitProperty `xml:"properties>property"`
}

type junitSuite struct {
	Name      string          `xml:"name,attr"`
	Hostname  string          `xml:"hostname,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Props     []junitProperty `xml:"properties>property"`
	Cases     []junitCase     `xml:"testcase"`
	Suites    []junitSuite    `xml:"testsuite"`
}

type junitSuites struct {
	Suites []junitSuite `xml:"testsuite"`
}

// Read parses a JUnit XML report rooted at <testsuites> or <testsuite>.
func (r *junitReader) Read(ctx context.Context, v Visitor, path string) (bool, error) {
	if !strings.EqualFold(filepath.Ext(path), ".xml") {
		return false, nil
	}

	f, err := os.Open(path) //nolint:gosec // results directory walk
	if err != nil {
		return malformed(r.log, junitReaderID, path, err)
	}
	defer func() { _ = f.Close() }()

	dec := xml.NewDecoder(f)

	root, err := firstStartElement(dec)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}

		return malformed(r.log, junitReaderID, path, err)
	}

	var suites []junitSuite

	switch root.Name.Local {
	case "testsuites":
		var doc junitSuites
		if err := dec.DecodeElement(&doc, &root); err != nil {
			return malformed(r.log, junitReaderID, path, err)
		}

		suites = doc.Suites
	case "testsuite":
		var doc junitSuite
		if err := dec.DecodeElement(&doc, &root); err != nil {
			return malformed(r.log, junitReaderID, path, err)
		}

		suites = []junitSuite{doc}
	default:
		return false, nil
	}

	rc := newContext(junitReaderID, path)

	for i := range suites {
		if err := r.visitSuite(ctx, v, rc, &suites[i], nil); err != nil {
			return false, err
		}
	}

	return true, nil
}

func firstStartElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}

		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func (r *junitReader) visitSuite(
	ctx context.Context, v Visitor, rc Context, s *junitSuite, parents []string,
) error {
	titlePath := append(append([]string(nil), parents...), s.Name)
	cursor := parseJUnitTimestamp(s.Timestamp)

	for i := range s.Cases {
		if err := ctx.Err(); err != nil {
			return err
		}

		tc := &s.Cases[i]
		raw := convertJUnitCase(s, tc, titlePath)

		if cursor > 0 {
			raw.Start = cursor
			raw.Stop = cursor + raw.Duration
			cursor = raw.Stop
		}

		if err := r.attachOutput(v, rc, raw, "system-out", tc.SystemOut); err != nil {
			return err
		}

		if err := r.attachOutput(v, rc, raw, "system-err", tc.SystemErr); err != nil {
			return err
		}

		if err := v.VisitTestResult(raw, rc); err != nil {
			return fmt.Errorf("visiting test case %q: %w", raw.FullName, err)
		}
	}

	for i := range s.Suites {
		if err := r.visitSuite(ctx, v, rc, &s.Suites[i], titlePath); err != nil {
			return err
		}
	}

	return nil
}

// attachOutput turns captured stdout/stderr into an attachment on raw.
func (r *junitReader) attachOutput(
	v Visitor, rc Context, raw *model.RawTestResult, name, body string,
) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	source := fmt.Sprintf("%s-%s-attachment.txt", safeFileName(raw.FullName), name)
	file := resultfile.NewBufferFile(source, []byte(body), "text/plain")

	if err := v.VisitAttachmentFile(file, rc); err != nil {
		return fmt.Errorf("visiting %s: %w", name, err)
	}

	raw.Steps = append(raw.Steps, &model.RawStepAttachment{
		Name:          name,
		OriginalName:  source,
		ContentType:   "text/plain",
		ContentLength: int64(len(body)),
	})

	return nil
}

func convertJUnitCase(s *junitSuite, tc *junitCase, titlePath []string) *model.RawTestResult {
	fullName := tc.Name
	if tc.ClassName != "" {
		fullName = tc.ClassName + "." + tc.Name
	}

	raw := &model.RawTestResult{
		Name:      tc.Name,
		FullName:  fullName,
		Status:    string(model.StatusPassed),
		Duration:  parseJUnitSeconds(tc.Time),
		TitlePath: titlePath,
		Labels: []model.RawLabel{
			{Name: "suite", Value: s.Name},
			{Name: "framework", Value: "junit"},
		},
	}

	if tc.ClassName != "" {
		raw.Labels = append(raw.Labels, model.RawLabel{Name: "testClass", Value: tc.ClassName})
	}

	if s.Hostname != "" {
		raw.Labels = append(raw.Labels, model.RawLabel{Name: "host", Value: s.Hostname})
	}

	for _, p := range tc.Props {
		raw.Parameters = append(raw.Parameters, model.RawParameter{Name: p.Name, Value: p.Value})
	}

	switch {
	case tc.Failure != nil:
		raw.Status = string(model.StatusFailed)
		raw.Error = tc.Failure.toError()
	case tc.Error != nil:
		raw.Status = string(model.StatusBroken)
		raw.Error = tc.Error.toError()
	case tc.Skipped != nil:
		raw.Status = string(model.StatusSkipped)
		if tc.Skipped.Message != "" {
			raw.Error = &model.RawError{Message: tc.Skipped.Message}
		}
	}

	return raw
}

func (o *junitOutcome) toError() *model.RawError {
	msg := strings.TrimSpace(o.Message)
	body := strings.TrimSpace(o.Body)

	if msg == "" {
		msg = firstLine(body)
	}

	if msg == "" {
		msg = o.Type
	}

	return &model.RawError{Message: msg, Trace: body}
}

func parseJUnitSeconds(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}

	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0
	}

	return int64(math.Round(secs * 1000))
}

func parseJUnitTimestamp(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	for _, layout := range junitTimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}

	return 0
}
