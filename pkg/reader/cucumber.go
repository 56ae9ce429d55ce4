package reader

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/resultfile"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const cucumberReaderID = "cucumberjson"

type cucumberReader struct {
	log logrus.FieldLogger
}

// Ensure interface compliance.
var _ Reader = (*cucumberReader)(nil)

// NewCucumberReader creates a reader for Cucumber JSON reports.
func NewCucumberReader(log logrus.FieldLogger) Reader {
	return &cucumberReader{log: log.WithField("component", "reader-cucumber")}
}

// ID returns the reader identifier.
func (r *cucumberReader) ID() string {
	return cucumberReaderID
}

type cucumberTag struct {
	Name string `json:"name"`
}

type cucumberResult struct {
	Status       string `json:"status"`
	Duration     int64  `json:"duration"`
	ErrorMessage string `json:"error_message"`
}

type cucumberEmbedding struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
	Name     string `json:"name"`
}

type cucumberStep struct {
	Keyword    string              `json:"keyword"`
	Name       string              `json:"name"`
	Result     *cucumberResult     `json:"result"`
	Embeddings []cucumberEmbedding `json:"embeddings"`
}

type cucumberElement struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Keyword string         `json:"keyword"`
	Type    string         `json:"type"`
	Tags    []cucumberTag  `json:"tags"`
	Steps   []cucumberStep `json:"steps"`
	Before  []cucumberStep `json:"before"`
	After   []cucumberStep `json:"after"`
}

type cucumberFeature struct {
	URI      string            `json:"uri"`
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Keyword  string            `json:"keyword"`
	Tags     []cucumberTag     `json:"tags"`
	Elements []cucumberElement `json:"elements"`
}

// Read parses a Cucumber JSON report. Other JSON documents are declined
// without a warning since several formats share the extension.
func (r *cucumberReader) Read(ctx context.Context, v Visitor, path string) (bool, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return false, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // results directory walk
	if err != nil {
		return malformed(r.log, cucumberReaderID, path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return false, nil
	}

	var features []cucumberFeature
	if err := json.Unmarshal(trimmed, &features); err != nil {
		r.log.WithError(err).WithField("file", path).Debug("Not a cucumber report")

		return false, nil
	}

	if !looksLikeCucumber(features) {
		return false, nil
	}

	rc := newContext(cucumberReaderID, path)

	for i := range features {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if err := r.visitFeature(v, rc, &features[i]); err != nil {
			return false, err
		}
	}

	return true, nil
}

func looksLikeCucumber(features []cucumberFeature) bool {
	if len(features) == 0 {
		return false
	}

	for _, f := range features {
		if f.Keyword == "" && f.Elements == nil {
			return false
		}
	}

	return true
}

func (r *cucumberReader) visitFeature(v Visitor, rc Context, f *cucumberFeature) error {
	var background []cucumberStep

	for i := range f.Elements {
		el := &f.Elements[i]

		if strings.EqualFold(el.Type, "background") {
			background = el.Steps

			continue
		}

		raw, err := r.convertScenario(v, rc, f, el, background)
		if err != nil {
			return err
		}

		if err := v.VisitTestResult(raw, rc); err != nil {
			return fmt.Errorf("visiting scenario %q: %w", el.Name, err)
		}
	}

	return nil
}

func (r *cucumberReader) convertScenario(
	v Visitor,
	rc Context,
	f *cucumberFeature,
	el *cucumberElement,
	background []cucumberStep,
) (*model.RawTestResult, error) {
	raw := &model.RawTestResult{
		Name:     el.Name,
		FullName: f.URI + "#" + el.Name,
		Labels: []model.RawLabel{
			{Name: "feature", Value: f.Name},
			{Name: "framework", Value: "cucumber"},
		},
		TitlePath: []string{f.URI, f.Name},
	}

	if row := outlineRow(el.ID); row != "" {
		raw.Parameters = append(raw.Parameters, model.RawParameter{Name: "example", Value: row})
	}

	for _, tags := range [][]cucumberTag{f.Tags, el.Tags} {
		for _, t := range tags {
			raw.Labels = append(raw.Labels, model.RawLabel{
				Name:  "tag",
				Value: strings.TrimPrefix(t.Name, "@"),
			})
		}
	}

	var (
		status   = model.StatusPassed
		duration int64
		hookFail bool
		seen     bool
	)

	all := make([]cucumberStep, 0, len(el.Before)+len(background)+len(el.Steps)+len(el.After))
	all = append(all, el.Before...)
	all = append(all, background...)
	all = append(all, el.Steps...)
	all = append(all, el.After...)

	hooks := len(el.Before)
	hooksAfter := len(all) - len(el.After)

	for i, s := range all {
		isHook := i < hooks || i >= hooksAfter
		stepStatus := cucumberStatus(s.Result)
		ms := stepDurationMillis(s.Result)
		duration += ms

		if !isHook {
			seen = true
		}

		if isHook && stepStatus == model.StatusPassed && len(s.Embeddings) == 0 {
			continue
		}

		name := strings.TrimSpace(s.Keyword + s.Name)
		if isHook {
			name = "Hook"
			if stepStatus.Failing() {
				hookFail = true
			}
		}

		step := &model.RawStepStep{
			Name:     name,
			Status:   string(stepStatus),
			Duration: ms,
		}

		if s.Result != nil && s.Result.ErrorMessage != "" {
			step.Error = &model.RawError{Message: firstLine(s.Result.ErrorMessage), Trace: s.Result.ErrorMessage}

			if raw.Error == nil {
				raw.Error = step.Error
			}
		}

		for _, emb := range s.Embeddings {
			att, err := r.visitEmbedding(v, rc, emb)
			if err != nil {
				return nil, err
			}

			if att != nil {
				step.Steps = append(step.Steps, att)
			}
		}

		raw.Steps = append(raw.Steps, step)
		status = worseStatus(status, stepStatus)
	}

	if hookFail && status == model.StatusFailed {
		status = model.StatusBroken
	}

	if !seen {
		status = model.StatusUnknown
	}

	raw.Status = string(status)
	raw.Duration = duration

	return raw, nil
}

// visitEmbedding decodes an inline payload and hands it to the visitor as an
// attachment file, returning the step that references it.
func (r *cucumberReader) visitEmbedding(
	v Visitor, rc Context, emb cucumberEmbedding,
) (*model.RawStepAttachment, error) {
	data, err := base64.StdEncoding.DecodeString(emb.Data)
	if err != nil {
		r.log.WithError(err).Debug("Embedding is not base64, keeping raw text")

		data = []byte(emb.Data)
	}

	source := uuid.NewString() + "-attachment" + resultfile.ExtensionForContentType(emb.MimeType)
	file := resultfile.NewBufferFile(source, data, emb.MimeType)

	if err := v.VisitAttachmentFile(file, rc); err != nil {
		return nil, fmt.Errorf("visiting embedding: %w", err)
	}

	name := emb.Name
	if name == "" {
		name = "attachment"
	}

	return &model.RawStepAttachment{
		Name:          name,
		OriginalName:  source,
		ContentType:   emb.MimeType,
		ContentLength: int64(len(data)),
	}, nil
}

func cucumberStatus(res *cucumberResult) model.Status {
	if res == nil {
		return model.StatusUnknown
	}

	switch strings.ToLower(res.Status) {
	case "passed":
		return model.StatusPassed
	case "failed":
		return model.StatusFailed
	case "undefined", "ambiguous":
		return model.StatusBroken
	case "skipped", "pending":
		return model.StatusSkipped
	default:
		return model.StatusUnknown
	}
}

// stepDurationMillis converts cucumber nanoseconds into milliseconds.
func stepDurationMillis(res *cucumberResult) int64 {
	if res == nil {
		return 0
	}

	return res.Duration / 1_000_000
}

var statusSeverity = map[model.Status]int{
	model.StatusPassed:  0,
	model.StatusSkipped: 1,
	model.StatusUnknown: 2,
	model.StatusBroken:  3,
	model.StatusFailed:  4,
}

func worseStatus(a, b model.Status) model.Status {
	if statusSeverity[b] > statusSeverity[a] {
		return b
	}

	return a
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")

	return strings.TrimSpace(line)
}

// outlineRow extracts the examples table and row from a scenario outline
// element id ("feature;outline;examples;2"). Plain scenarios have none.
func outlineRow(id string) string {
	parts := strings.Split(id, ";")
	if len(parts) < 4 {
		return ""
	}

	return strings.Join(parts[2:], ";")
}
