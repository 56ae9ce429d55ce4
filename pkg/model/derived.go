package model

// CategoryNodeType discriminates nodes of the category tree.
type CategoryNodeType string

const (
	CategoryNodeCategory   CategoryNodeType = "category"
	CategoryNodeGroup      CategoryNodeType = "group"
	CategoryNodeMessage    CategoryNodeType = "message"
	CategoryNodeTestResult CategoryNodeType = "tr"
)

// CategoryNode is a node in the category tree. Container nodes list their
// children by id; test result nodes reference a TestResult by id.
type CategoryNode struct {
	ID           string           `json:"id"`
	Type         CategoryNodeType `json:"type"`
	Name         string           `json:"name"`
	Statistic    *Statistic       `json:"statistic,omitempty"`
	ChildrenIDs  []string         `json:"childrenIds,omitempty"`
	TestResultID string           `json:"testResultId,omitempty"`
	Status       Status           `json:"status,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
}

// QualityGateRuleResult is the verdict of a single quality gate rule.
type QualityGateRuleResult struct {
	Rule     string  `json:"rule"`
	ID       string  `json:"id,omitempty"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
	Success  bool    `json:"success"`
	Message  string  `json:"message"`
}
