package reader

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
)

const (
	allure1ReaderID    = "allure1"
	allure1SuiteSuffix = "-testsuite.xml"
)

type allure1Reader struct {
	log logrus.FieldLogger
}

// Ensure interface compliance.
var _ Reader = (*allure1Reader)(nil)

// NewAllure1Reader creates a reader for the legacy allure1 XML test suites.
func NewAllure1Reader(log logrus.FieldLogger) Reader {
	return &allure1Reader{log: log.WithField("component", "reader-allure1")}
}

// ID returns the reader identifier.
func (r *allure1Reader) ID() string {
	return allure1ReaderID
}

type allure1Label struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type allure1Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	Kind  string `xml:"kind,attr"`
}

type allure1Attachment struct {
	Title  string `xml:"title,attr"`
	Source string `xml:"source,attr"`
	Type   string `xml:"type,attr"`
	Size   int64  `xml:"size,attr"`
}

type allure1Failure struct {
	Message    string `xml:"message"`
	StackTrace string `xml:"stack-trace"`
}

type allure1Step struct {
	Start       int64               `xml:"start,attr"`
	Stop        int64               `xml:"stop,attr"`
	Status      string              `xml:"status,attr"`
	Name        string              `xml:"name"`
	Title       string              `xml:"title"`
	Attachments []allure1Attachment `xml:"attachments>attachment"`
	Steps       []allure1Step       `xml:"steps>step"`
}

type allure1Case struct {
	Start       int64               `xml:"start,attr"`
	Stop        int64               `xml:"stop,attr"`
	Status      string              `xml:"status,attr"`
	Name        string              `xml:"name"`
	Title       string              `xml:"title"`
	Description string              `xml:"description"`
	Failure     *allure1Failure     `xml:"failure"`
	Steps       []allure1Step       `xml:"steps>step"`
	Attachments []allure1Attachment `xml:"attachments>attachment"`
	Labels      []allure1Label      `xml:"labels>label"`
	Parameters  []allure1Parameter  `xml:"parameters>parameter"`
}

type allure1Suite struct {
	XMLName   xml.Name       `xml:"test-suite"`
	Name      string         `xml:"name"`
	Title     string         `xml:"title"`
	Labels    []allure1Label `xml:"labels>label"`
	TestCases []allure1Case  `xml:"test-cases>test-case"`
}

// Read parses an allure1 *-testsuite.xml file.
func (r *allure1Reader) Read(ctx context.Context, v Visitor, path string) (bool, error) {
	if !strings.HasSuffix(filepath.Base(path), allure1SuiteSuffix) {
		return false, nil
	}

	f, err := os.Open(path) //nolint:gosec // results directory walk
	if err != nil {
		return malformed(r.log, allure1ReaderID, path, err)
	}
	defer func() { _ = f.Close() }()

	var suite allure1Suite
	if err := xml.NewDecoder(f).Decode(&suite); err != nil {
		return malformed(r.log, allure1ReaderID, path, err)
	}

	rc := newContext(allure1ReaderID, path)

	for i := range suite.TestCases {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		raw := suite.convert(&suite.TestCases[i])

		if err := v.VisitTestResult(raw, rc); err != nil {
			return false, fmt.Errorf("visiting test case %q: %w", raw.Name, err)
		}
	}

	return true, nil
}

func allure1Status(s string) string {
	switch strings.ToLower(s) {
	case "failed":
		return string(model.StatusFailed)
	case "broken":
		return string(model.StatusBroken)
	case "passed":
		return string(model.StatusPassed)
	case "canceled", "cancelled", "pending", "skipped":
		return string(model.StatusSkipped)
	default:
		return string(model.StatusUnknown)
	}
}

func (s *allure1Suite) convert(tc *allure1Case) *model.RawTestResult {
	name := tc.Title
	if name == "" {
		name = tc.Name
	}

	raw := &model.RawTestResult{
		Name:        name,
		FullName:    s.Name + "." + tc.Name,
		Description: strings.TrimSpace(tc.Description),
		Status:      allure1Status(tc.Status),
		Start:       tc.Start,
		Stop:        tc.Stop,
		Steps:       convertAllure1Steps(tc.Steps, tc.Attachments),
		TitlePath:   []string{s.Name},
	}

	if tc.Failure != nil {
		raw.Error = &model.RawError{
			Message: strings.TrimSpace(tc.Failure.Message),
			Trace:   strings.TrimSpace(tc.Failure.StackTrace),
		}
	}

	suiteName := s.Title
	if suiteName == "" {
		suiteName = s.Name
	}

	raw.Labels = append(raw.Labels, model.RawLabel{Name: "suite", Value: suiteName})

	for _, l := range s.Labels {
		raw.Labels = append(raw.Labels, model.RawLabel(l))
	}

	for _, l := range tc.Labels {
		raw.Labels = append(raw.Labels, model.RawLabel(l))
	}

	for _, p := range tc.Parameters {
		// environment-variable parameters describe the run, not the test.
		if strings.EqualFold(p.Kind, "environment-variable") {
			continue
		}

		raw.Parameters = append(raw.Parameters, model.RawParameter{Name: p.Name, Value: p.Value})
	}

	return raw
}

func convertAllure1Steps(steps []allure1Step, attachments []allure1Attachment) []model.RawStep {
	out := make([]model.RawStep, 0, len(steps)+len(attachments))

	for i := range steps {
		st := &steps[i]

		name := st.Title
		if name == "" {
			name = st.Name
		}

		out = append(out, &model.RawStepStep{
			Name:   name,
			Status: allure1Status(st.Status),
			Start:  st.Start,
			Stop:   st.Stop,
			Steps:  convertAllure1Steps(st.Steps, st.Attachments),
		})
	}

	for _, a := range attachments {
		out = append(out, &model.RawStepAttachment{
			Name:          a.Title,
			OriginalName:  a.Source,
			ContentType:   a.Type,
			ContentLength: a.Size,
		})
	}

	return out
}
