package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/sirupsen/logrus"
)

const allure2ReaderID = "allure2"

// allure2 file name conventions.
const (
	allure2ResultSuffix    = "-result.json"
	allure2ContainerSuffix = "-container.json"
	allure2Executor        = "executor.json"
	allure2Categories      = "categories.json"
	allure2Environment     = "environment.properties"
)

type allure2Reader struct {
	log logrus.FieldLogger
}

// Ensure interface compliance.
var _ Reader = (*allure2Reader)(nil)

// NewAllure2Reader creates a reader for allure2 JSON results, containers and
// the executor/categories/environment metadata files.
func NewAllure2Reader(log logrus.FieldLogger) Reader {
	return &allure2Reader{log: log.WithField("component", "reader-allure2")}
}

// ID returns the reader identifier.
func (r *allure2Reader) ID() string {
	return allure2ReaderID
}

// Read parses a single allure2 artifact.
func (r *allure2Reader) Read(ctx context.Context, v Visitor, path string) (bool, error) {
	name := filepath.Base(path)

	switch {
	case strings.HasSuffix(name, allure2ResultSuffix):
		return r.readResult(v, path)
	case strings.HasSuffix(name, allure2ContainerSuffix):
		return r.readContainer(v, path)
	case name == allure2Executor:
		return r.readJSONMetadata(v, path, "executor")
	case name == allure2Categories:
		return r.readJSONMetadata(v, path, "categories")
	case name == allure2Environment:
		return r.readEnvironment(v, path)
	default:
		return false, nil
	}
}

func (r *allure2Reader) readResult(v Visitor, path string) (bool, error) {
	var res allure2Result
	if err := readJSONFile(path, &res); err != nil {
		return malformed(r.log, allure2ReaderID, path, err)
	}

	raw := res.toRaw()

	if err := v.VisitTestResult(raw, newContext(allure2ReaderID, path)); err != nil {
		return false, fmt.Errorf("visiting test result %s: %w", path, err)
	}

	return true, nil
}

func (r *allure2Reader) readContainer(v Visitor, path string) (bool, error) {
	var c allure2Container
	if err := readJSONFile(path, &c); err != nil {
		return malformed(r.log, allure2ReaderID, path, err)
	}

	rc := newContext(allure2ReaderID, path)
	children := c.Children.strings(func(v looseString) string { return string(v) })

	emit := func(fixtures []allure2Executable, typ model.FixtureType) error {
		for i := range fixtures {
			raw := fixtures[i].toFixture(typ, children)
			raw.UUID = fmt.Sprintf("%s-%s-%d", c.UUID, typ, i)

			if err := v.VisitTestFixtureResult(raw, rc); err != nil {
				return fmt.Errorf("visiting fixture %s: %w", path, err)
			}
		}

		return nil
	}

	if err := emit(c.Befores, model.FixtureBefore); err != nil {
		return false, err
	}

	if err := emit(c.Afters, model.FixtureAfter); err != nil {
		return false, err
	}

	return true, nil
}

func (r *allure2Reader) readJSONMetadata(v Visitor, path, key string) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // results directory walk
	if err != nil {
		return malformed(r.log, allure2ReaderID, path, err)
	}

	if !json.Valid(data) {
		return malformed(r.log, allure2ReaderID, path, fmt.Errorf("invalid JSON"))
	}

	if err := v.VisitMetadata(key, json.RawMessage(data), newContext(allure2ReaderID, path)); err != nil {
		return false, fmt.Errorf("visiting metadata %s: %w", path, err)
	}

	return true, nil
}

// readEnvironment parses a java-style properties file into a JSON object.
func (r *allure2Reader) readEnvironment(v Visitor, path string) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // results directory walk
	if err != nil {
		return malformed(r.log, allure2ReaderID, path, err)
	}

	env := make(map[string]string, 8)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		k, val, ok := strings.Cut(line, "=")
		if !ok {
			k, val, ok = strings.Cut(line, ":")
		}

		if !ok {
			continue
		}

		env[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}

	if err := scanner.Err(); err != nil {
		return malformed(r.log, allure2ReaderID, path, err)
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("encoding environment: %w", err)
	}

	if err := v.VisitMetadata("environment", encoded, newContext(allure2ReaderID, path)); err != nil {
		return false, fmt.Errorf("visiting metadata %s: %w", path, err)
	}

	return true, nil
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path) //nolint:gosec // results directory walk
	if err != nil {
		return err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("file is empty")
	}

	return json.Unmarshal(data, out)
}

type allure2StatusDetails struct {
	Known    looseBool   `json:"known"`
	Muted    looseBool   `json:"muted"`
	Flaky    looseBool   `json:"flaky"`
	Message  looseString `json:"message"`
	Trace    looseString `json:"trace"`
	Expected looseString `json:"expected"`
	Actual   looseString `json:"actual"`
}

// UnmarshalJSON treats anything but an object as absent details.
func (d *allure2StatusDetails) UnmarshalJSON(data []byte) error {
	type plain allure2StatusDetails

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		*d = allure2StatusDetails{}

		return nil //nolint:nilerr // lenient by contract
	}

	*d = allure2StatusDetails(p)

	return nil
}

type allure2Attachment struct {
	Name   looseString `json:"name"`
	Source looseString `json:"source"`
	Type   looseString `json:"type"`
	Size   looseInt64  `json:"size"`
}

type allure2Parameter struct {
	Name     looseString `json:"name"`
	Value    looseString `json:"value"`
	Excluded looseBool   `json:"excluded"`
	Mode     looseString `json:"mode"`
}

type allure2Label struct {
	Name  looseString `json:"name"`
	Value looseString `json:"value"`
}

type allure2Link struct {
	Name looseString `json:"name"`
	URL  looseString `json:"url"`
	Type looseString `json:"type"`
}

type allure2Executable struct {
	Name          looseString                  `json:"name"`
	Status        looseString                  `json:"status"`
	StatusDetails *allure2StatusDetails        `json:"statusDetails"`
	Start         looseInt64                   `json:"start"`
	Stop          looseInt64                   `json:"stop"`
	Steps         looseList[allure2Executable] `json:"steps"`
	Attachments   looseList[allure2Attachment] `json:"attachments"`
	Parameters    looseList[allure2Parameter]  `json:"parameters"`
}

type allure2Result struct {
	allure2Executable

	UUID        looseString             `json:"uuid"`
	HistoryID   looseString             `json:"historyId"`
	TestCaseID  looseString             `json:"testCaseId"`
	FullName    looseString             `json:"fullName"`
	Description looseString             `json:"description"`
	Labels      looseList[allure2Label] `json:"labels"`
	Links       looseList[allure2Link]  `json:"links"`
	TitlePath   looseList[looseString]  `json:"titlePath"`
}

type allure2Container struct {
	UUID     looseString                  `json:"uuid"`
	Name     looseString                  `json:"name"`
	Children looseList[looseString]       `json:"children"`
	Befores  looseList[allure2Executable] `json:"befores"`
	Afters   looseList[allure2Executable] `json:"afters"`
}

func (d *allure2StatusDetails) toError() *model.RawError {
	if d == nil {
		return nil
	}

	e := &model.RawError{
		Message:  string(d.Message),
		Trace:    string(d.Trace),
		Expected: string(d.Expected),
		Actual:   string(d.Actual),
	}
	if e.Empty() {
		return nil
	}

	return e
}

func convertAllure2Parameters(params looseList[allure2Parameter]) []model.RawParameter {
	if len(params) == 0 {
		return nil
	}

	out := make([]model.RawParameter, 0, len(params))
	for _, p := range params {
		out = append(out, model.RawParameter{
			Name:     string(p.Name),
			Value:    string(p.Value),
			Excluded: bool(p.Excluded),
			Hidden:   p.Mode == "hidden",
			Masked:   p.Mode == "masked",
		})
	}

	return out
}

// rawSteps converts nested steps followed by attachments, preserving the
// producer's ordering within each list.
func (e *allure2Executable) rawSteps() []model.RawStep {
	steps := make([]model.RawStep, 0, len(e.Steps)+len(e.Attachments))

	for i := range e.Steps {
		s := &e.Steps[i]

		steps = append(steps, &model.RawStepStep{
			Name:       string(s.Name),
			Status:     string(s.Status),
			Start:      int64(s.Start),
			Stop:       int64(s.Stop),
			Error:      s.StatusDetails.toError(),
			Parameters: convertAllure2Parameters(s.Parameters),
			Steps:      s.rawSteps(),
		})
	}

	for _, a := range e.Attachments {
		steps = append(steps, &model.RawStepAttachment{
			Name:          string(a.Name),
			OriginalName:  string(a.Source),
			ContentType:   string(a.Type),
			ContentLength: int64(a.Size),
		})
	}

	return steps
}

func (e *allure2Executable) toFixture(typ model.FixtureType, children []string) *model.RawFixtureResult {
	return &model.RawFixtureResult{
		Type:          typ,
		Name:          string(e.Name),
		Status:        string(e.Status),
		Start:         int64(e.Start),
		Stop:          int64(e.Stop),
		Error:         e.StatusDetails.toError(),
		TestResultIDs: append([]string(nil), children...),
		Steps:         e.rawSteps(),
	}
}

func (r *allure2Result) toRaw() *model.RawTestResult {
	raw := &model.RawTestResult{
		UUID:        string(r.UUID),
		Name:        string(r.Name),
		FullName:    string(r.FullName),
		HistoryID:   string(r.HistoryID),
		TestCaseID:  string(r.TestCaseID),
		Description: string(r.Description),
		Status:      string(r.Status),
		Start:       int64(r.Start),
		Stop:        int64(r.Stop),
		Error:       r.StatusDetails.toError(),
		Labels:      convertAllure2Labels(r.Labels),
		Links:       convertAllure2Links(r.Links),
		Parameters:  convertAllure2Parameters(r.Parameters),
		Steps:       r.rawSteps(),
		TitlePath:   r.TitlePath.strings(func(v looseString) string { return string(v) }),
	}

	if r.StatusDetails != nil {
		raw.Flaky = bool(r.StatusDetails.Flaky)
		raw.Muted = bool(r.StatusDetails.Muted)
	}

	return raw
}

func convertAllure2Labels(labels looseList[allure2Label]) []model.RawLabel {
	if len(labels) == 0 {
		return nil
	}

	out := make([]model.RawLabel, 0, len(labels))
	for _, l := range labels {
		out = append(out, model.RawLabel{Name: string(l.Name), Value: string(l.Value)})
	}

	return out
}

func convertAllure2Links(links looseList[allure2Link]) []model.RawLink {
	if len(links) == 0 {
		return nil
	}

	out := make([]model.RawLink, 0, len(links))
	for _, l := range links {
		out = append(out, model.RawLink{Name: string(l.Name), URL: string(l.URL), Type: string(l.Type)})
	}

	return out
}
