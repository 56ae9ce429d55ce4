package model

import "encoding/json"

// Label is a canonical name/value label.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Link is a canonical link.
type Link struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// Parameter is a canonical parameter.
type Parameter struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Hidden   bool   `json:"hidden,omitempty"`
	Excluded bool   `json:"excluded,omitempty"`
	Masked   bool   `json:"masked,omitempty"`
}

// TestError carries normalized failure details.
type TestError struct {
	Message  string `json:"message,omitempty"`
	Trace    string `json:"trace,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// TestResult is the canonical, store-owned test result.
type TestResult struct {
	ID          string      `json:"id"`
	SourceID    string      `json:"sourceId,omitempty"`
	HistoryID   string      `json:"historyId,omitempty"`
	TestCaseID  string      `json:"testCaseId,omitempty"`
	Name        string      `json:"name"`
	FullName    string      `json:"fullName,omitempty"`
	Description string      `json:"description,omitempty"`
	Status      Status      `json:"status"`
	Error       *TestError  `json:"error,omitempty"`
	Start       int64       `json:"start,omitempty"`
	Stop        int64       `json:"stop,omitempty"`
	Duration    int64       `json:"duration,omitempty"`
	Labels      []Label     `json:"labels"`
	Links       []Link      `json:"links"`
	Parameters  []Parameter `json:"parameters"`
	Steps       []Step      `json:"steps"`
	TitlePath   []string    `json:"titlePath,omitempty"`
	Flaky       bool        `json:"flaky"`
	Muted       bool        `json:"muted,omitempty"`
	Known       bool        `json:"known"`
	Hidden      bool        `json:"hidden"`
	Transition  Transition  `json:"transition,omitempty"`
	RetryOf     string      `json:"retryOf,omitempty"`
	ReaderID    string      `json:"readerId,omitempty"`
}

// LabelValue returns the value of the first label named name.
func (tr *TestResult) LabelValue(name string) (string, bool) {
	for _, l := range tr.Labels {
		if l.Name == name {
			return l.Value, true
		}
	}

	return "", false
}

// LabelValues returns every value of labels named name.
func (tr *TestResult) LabelValues(name string) []string {
	var values []string

	for _, l := range tr.Labels {
		if l.Name == name {
			values = append(values, l.Value)
		}
	}

	return values
}

// Message returns the error message or "".
func (tr *TestResult) Message() string {
	if tr.Error == nil {
		return ""
	}

	return tr.Error.Message
}

// Trace returns the error trace or "".
func (tr *TestResult) Trace() string {
	if tr.Error == nil {
		return ""
	}

	return tr.Error.Trace
}

// StepType discriminates canonical steps.
type StepType string

const (
	StepTypeStep       StepType = "step"
	StepTypeAttachment StepType = "attachment"
)

// Step is the closed union of canonical steps: *DefaultStep and
// *AttachmentStep.
type Step interface {
	Type() StepType
	step()
}

// DefaultStep is a named step with nested steps.
type DefaultStep struct {
	Name       string      `json:"name"`
	Status     Status      `json:"status"`
	Error      *TestError  `json:"error,omitempty"`
	Start      int64       `json:"start,omitempty"`
	Stop       int64       `json:"stop,omitempty"`
	Duration   int64       `json:"duration,omitempty"`
	Parameters []Parameter `json:"parameters"`
	Steps      []Step      `json:"steps"`
}

// Type implements Step.
func (*DefaultStep) Type() StepType { return StepTypeStep }
func (*DefaultStep) step()          {}

// MarshalJSON adds the type tag.
func (s *DefaultStep) MarshalJSON() ([]byte, error) {
	type alias DefaultStep

	return json.Marshal(struct {
		Type StepType `json:"type"`
		*alias
	}{Type: StepTypeStep, alias: (*alias)(s)})
}

// AttachmentStep exposes an attachment link at a position in the step tree.
type AttachmentStep struct {
	Attachment *AttachmentLink `json:"attachment"`
}

// Type implements Step.
func (*AttachmentStep) Type() StepType { return StepTypeAttachment }
func (*AttachmentStep) step()          {}

// MarshalJSON adds the type tag.
func (s *AttachmentStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       StepType        `json:"type"`
		Attachment *AttachmentLink `json:"attachment"`
	}{Type: StepTypeAttachment, Attachment: s.Attachment})
}

// TestFixtureResult is a canonical setup or teardown execution.
type TestFixtureResult struct {
	ID            string      `json:"id"`
	SourceID      string      `json:"sourceId,omitempty"`
	Type          FixtureType `json:"type"`
	Name          string      `json:"name"`
	Status        Status      `json:"status"`
	Error         *TestError  `json:"error,omitempty"`
	Start         int64       `json:"start,omitempty"`
	Stop          int64       `json:"stop,omitempty"`
	Duration      int64       `json:"duration,omitempty"`
	TestResultIDs []string    `json:"testResultIds"`
	Steps         []Step      `json:"steps"`
}

// AttachmentLink is the canonical reference to an attachment. Content is
// resolved through the store, never held here.
type AttachmentLink struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	OriginalName  string `json:"originalFileName"`
	Ext           string `json:"ext,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`
	OwnerID       string `json:"ownerId,omitempty"`
	Missing       bool   `json:"missing"`
	Used          bool   `json:"used"`
}

// WalkSteps calls fn for every step in depth-first order.
func WalkSteps(steps []Step, fn func(Step)) {
	for _, s := range steps {
		fn(s)

		if ds, ok := s.(*DefaultStep); ok {
			WalkSteps(ds.Steps, fn)
		}
	}
}
