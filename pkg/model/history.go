package model

// HistoryTestResult is the compact per-test projection stored in history.
type HistoryTestResult struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	FullName  string     `json:"fullName,omitempty"`
	HistoryID string     `json:"historyId"`
	Status    Status     `json:"status"`
	Error     *TestError `json:"error,omitempty"`
	Start     int64      `json:"start,omitempty"`
	Stop      int64      `json:"stop,omitempty"`
	Duration  int64      `json:"duration,omitempty"`
	Labels    []Label    `json:"labels,omitempty"`
}

// HistoryDataPoint summarizes a single run. Once appended it is never
// modified.
type HistoryDataPoint struct {
	UUID        string                       `json:"uuid"`
	Name        string                       `json:"name"`
	Timestamp   int64                        `json:"timestamp"`
	TestResults map[string]HistoryTestResult `json:"testResults"`
	Metrics     map[string]any               `json:"metrics"`
	URL         string                       `json:"url,omitempty"`
}

// IssueLink references a tracked issue for a known failure.
type IssueLink struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// KnownTestFailure is a triaged failure identified by history id.
type KnownTestFailure struct {
	HistoryID string      `json:"historyId"`
	Issues    []IssueLink `json:"issues,omitempty"`
	Comment   string      `json:"comment,omitempty"`
	Error     *TestError  `json:"error,omitempty"`
}
