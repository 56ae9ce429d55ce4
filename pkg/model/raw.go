package model

// Raw entities are produced by format readers. Every field is optional and
// untrusted; normalization into canonical entities happens in the store.

// RawLabel is a producer supplied name/value label.
type RawLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawLink is a producer supplied link (issue, tms, plain url).
type RawLink struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
	Type string `json:"type,omitempty"`
}

// RawParameter is a producer supplied parameter.
type RawParameter struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Hidden   bool   `json:"hidden,omitempty"`
	Excluded bool   `json:"excluded,omitempty"`
	Masked   bool   `json:"masked,omitempty"`
}

// RawError carries failure details as reported by the producer.
type RawError struct {
	Message  string `json:"message,omitempty"`
	Trace    string `json:"trace,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Empty reports whether the error carries no information.
func (e *RawError) Empty() bool {
	return e == nil || (e.Message == "" && e.Trace == "" && e.Expected == "" && e.Actual == "")
}

// RawTestResult is a single test execution as reported by a producer.
type RawTestResult struct {
	UUID        string         `json:"uuid,omitempty"`
	Name        string         `json:"name,omitempty"`
	FullName    string         `json:"fullName,omitempty"`
	HistoryID   string         `json:"historyId,omitempty"`
	TestCaseID  string         `json:"testCaseId,omitempty"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status,omitempty"`
	Flaky       bool           `json:"flaky,omitempty"`
	Muted       bool           `json:"muted,omitempty"`
	Start       int64          `json:"start,omitempty"`
	Stop        int64          `json:"stop,omitempty"`
	Duration    int64          `json:"duration,omitempty"`
	Error       *RawError      `json:"error,omitempty"`
	Labels      []RawLabel     `json:"labels,omitempty"`
	Links       []RawLink      `json:"links,omitempty"`
	Parameters  []RawParameter `json:"parameters,omitempty"`
	Steps       []RawStep      `json:"-"`
	TitlePath   []string       `json:"titlePath,omitempty"`
}

// FixtureType distinguishes setup from teardown fixtures.
type FixtureType string

const (
	FixtureBefore FixtureType = "before"
	FixtureAfter  FixtureType = "after"
)

// RawFixtureResult is a setup or teardown execution linked to test results.
type RawFixtureResult struct {
	UUID          string      `json:"uuid,omitempty"`
	Type          FixtureType `json:"type"`
	Name          string      `json:"name,omitempty"`
	Status        string      `json:"status,omitempty"`
	Start         int64       `json:"start,omitempty"`
	Stop          int64       `json:"stop,omitempty"`
	Duration      int64       `json:"duration,omitempty"`
	Error         *RawError   `json:"error,omitempty"`
	TestResultIDs []string    `json:"testResults,omitempty"`
	Steps         []RawStep   `json:"-"`
}

// RawStepType is the discriminator of RawStep.
type RawStepType string

const (
	RawStepTypeStep       RawStepType = "step"
	RawStepTypeAttachment RawStepType = "attachment"
)

// RawStep is the closed union of raw step kinds: *RawStepStep and
// *RawStepAttachment. Consumers dispatch with a type switch.
type RawStep interface {
	StepType() RawStepType
	rawStep()
}

// RawStepStep is a named step with optional nested steps.
type RawStepStep struct {
	Name       string         `json:"name,omitempty"`
	Status     string         `json:"status,omitempty"`
	Start      int64          `json:"start,omitempty"`
	Stop       int64          `json:"stop,omitempty"`
	Duration   int64          `json:"duration,omitempty"`
	Error      *RawError      `json:"error,omitempty"`
	Parameters []RawParameter `json:"parameters,omitempty"`
	Steps      []RawStep      `json:"-"`
}

// StepType implements RawStep.
func (*RawStepStep) StepType() RawStepType { return RawStepTypeStep }
func (*RawStepStep) rawStep()              {}

// RawStepAttachment references an attachment file by its original name.
type RawStepAttachment struct {
	Name          string `json:"name,omitempty"`
	OriginalName  string `json:"originalFileName,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`
	Start         int64  `json:"start,omitempty"`
}

// StepType implements RawStep.
func (*RawStepAttachment) StepType() RawStepType { return RawStepTypeAttachment }
func (*RawStepAttachment) rawStep()              {}
