package category

import (
	"fmt"
	"os"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/schema"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MatcherConfig is the document form of an object matcher.
type MatcherConfig struct {
	MatchedStatuses []string          `yaml:"matchedStatuses,omitempty" mapstructure:"matchedStatuses"`
	MessageRegex    *string           `yaml:"messageRegex,omitempty" mapstructure:"messageRegex"`
	TraceRegex      *string           `yaml:"traceRegex,omitempty" mapstructure:"traceRegex"`
	Flaky           *bool             `yaml:"flaky,omitempty" mapstructure:"flaky"`
	Labels          map[string]string `yaml:"labels,omitempty" mapstructure:"labels"`
}

func (m *MatcherConfig) empty() bool {
	return m.MatchedStatuses == nil && m.MessageRegex == nil && m.TraceRegex == nil &&
		m.Flaky == nil && m.Labels == nil
}

// RuleConfig is the document form of a category rule. Matcher fields at
// the top level form one more matcher next to Matchers.
type RuleConfig struct {
	Name          string          `yaml:"name" mapstructure:"name"`
	Description   string          `yaml:"description,omitempty" mapstructure:"description"`
	Matchers      []MatcherConfig `yaml:"matchers,omitempty" mapstructure:"matchers"`
	MatcherConfig `yaml:",inline" mapstructure:",squash"`
	ApplyTags     []string `yaml:"applyTags,omitempty" mapstructure:"applyTags"`
	Group         string   `yaml:"group,omitempty" mapstructure:"group"`
}

// LoadRules reads a YAML or JSON rules file.
func LoadRules(path string) ([]RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading category rules: %w", err)
	}

	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return rules, nil
}

// ParseRules validates and decodes a rules document.
func ParseRules(data []byte) ([]RuleConfig, error) {
	if err := schema.ValidateCategories(data); err != nil {
		return nil, err
	}

	var rules []RuleConfig
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing category rules: %w", err)
	}

	return rules, nil
}

// DecodeRules decodes loosely typed rules, such as the inline rules of the
// main configuration. Keys match case-insensitively.
func DecodeRules(raw []map[string]any) ([]RuleConfig, error) {
	rules := make([]RuleConfig, 0, len(raw))

	for i, entry := range raw {
		var rc RuleConfig

		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &rc,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating decoder: %w", err)
		}

		if err := dec.Decode(entry); err != nil {
			return nil, fmt.Errorf("category rule %d: %w", i, err)
		}

		if rc.Name == "" {
			return nil, fmt.Errorf("category rule %d: name is required", i)
		}

		rules = append(rules, rc)
	}

	return rules, nil
}

// BuildRules compiles rule documents. Patterns that do not compile are
// logged and never match.
func BuildRules(log logrus.FieldLogger, configs []RuleConfig) []*Rule {
	log = log.WithField("component", "category")

	rules := make([]*Rule, 0, len(configs))

	for _, rc := range configs {
		rlog := log.WithField("category", rc.Name)

		rule := &Rule{
			Name:        rc.Name,
			Description: rc.Description,
			Tags:        append([]string(nil), rc.ApplyTags...),
			Group:       rc.Group,
		}

		for i := range rc.Matchers {
			rule.Matchers = append(rule.Matchers, buildMatcher(rlog, &rc.Matchers[i]))
		}

		if !rc.MatcherConfig.empty() || len(rc.Matchers) == 0 {
			rule.Matchers = append(rule.Matchers, buildMatcher(rlog, &rc.MatcherConfig))
		}

		rules = append(rules, rule)
	}

	return rules
}

func buildMatcher(log logrus.FieldLogger, mc *MatcherConfig) *ObjectMatcher {
	m := &ObjectMatcher{Flaky: mc.Flaky}

	for _, s := range mc.MatchedStatuses {
		m.Statuses = append(m.Statuses, model.ParseStatus(s))
	}

	compile := func(field, source string) *Pattern {
		p := CompilePattern(source)
		if err := p.Err(); err != nil {
			log.WithError(err).WithField("field", field).Warn("Invalid category pattern, it will never match")
		}

		return p
	}

	if mc.MessageRegex != nil {
		m.Message = compile("messageRegex", *mc.MessageRegex)
	}

	if mc.TraceRegex != nil {
		m.Trace = compile("traceRegex", *mc.TraceRegex)
	}

	if len(mc.Labels) > 0 {
		m.Labels = make(map[string]*Pattern, len(mc.Labels))
		for name, source := range mc.Labels {
			m.Labels[name] = compile("labels."+name, source)
		}
	}

	return m
}
