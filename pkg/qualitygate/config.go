package qualitygate

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/category"
	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/schema"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is a quality gate: an ordered list of entries.
type Config struct {
	FastFail bool
	// Use names custom rules the entries rely on; each must be registered.
	Use     []string
	Entries []Entry
}

// Entry is one rule invocation.
type Entry struct {
	Rule     string
	Expected float64
	ID       string
	Filter   *FilterConfig
}

// FilterConfig restricts the results a rule sees. Label values are full
// match regular expressions.
type FilterConfig struct {
	Labels   map[string]string `mapstructure:"labels"`
	Statuses []string          `mapstructure:"statuses"`
}

// compile turns the filter into a predicate. A nil filter keeps every
// result.
func (f *FilterConfig) compile() func(tr *model.TestResult) bool {
	if f == nil || (len(f.Labels) == 0 && len(f.Statuses) == 0) {
		return nil
	}

	statuses := make(map[model.Status]struct{}, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[model.ParseStatus(s)] = struct{}{}
	}

	labels := make(map[string]*category.Pattern, len(f.Labels))
	for name, source := range f.Labels {
		labels[name] = category.CompilePattern(source)
	}

	return func(tr *model.TestResult) bool {
		if len(statuses) > 0 {
			if _, ok := statuses[tr.Status]; !ok {
				return false
			}
		}

		for name, p := range labels {
			matched := false

			for _, v := range tr.LabelValues(name) {
				if p.MatchString(v) {
					matched = true

					break
				}
			}

			if !matched {
				return false
			}
		}

		return true
	}
}

type document struct {
	FastFail bool             `yaml:"fastFail"`
	Use      []string         `yaml:"use"`
	Rules    []map[string]any `yaml:"rules"`
}

// LoadConfig reads a YAML or JSON quality gate document.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quality gate: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// ParseConfig validates and decodes a quality gate document.
func ParseConfig(data []byte) (*Config, error) {
	if err := schema.ValidateQualityGate(data); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing quality gate: %w", err)
	}

	entries, err := DecodeEntries(doc.Rules)
	if err != nil {
		return nil, err
	}

	return &Config{
		FastFail: doc.FastFail,
		Use:      doc.Use,
		Entries:  entries,
	}, nil
}

type entryFields struct {
	ID     string        `mapstructure:"id"`
	Filter *FilterConfig `mapstructure:"filter"`
}

// DecodeEntries decodes `{<ruleName>: <threshold>, id?, filter?}` entries.
// Every entry must name exactly one rule.
func DecodeEntries(raw []map[string]any) ([]Entry, error) {
	entries := make([]Entry, 0, len(raw))

	for i, m := range raw {
		var (
			fields  entryFields
			meta    = make(map[string]any, 2)
			ruleKey []string
		)

		for k, v := range m {
			switch strings.ToLower(k) {
			case "id", "filter":
				meta[k] = v
			default:
				ruleKey = append(ruleKey, k)
			}
		}

		if len(ruleKey) != 1 {
			sort.Strings(ruleKey)

			return nil, fmt.Errorf("quality gate entry %d: expected exactly one rule, got %v", i, ruleKey)
		}

		if err := decodeWeak(meta, &fields); err != nil {
			return nil, fmt.Errorf("quality gate entry %d: %w", i, err)
		}

		var expected float64
		if err := decodeWeak(m[ruleKey[0]], &expected); err != nil {
			return nil, fmt.Errorf("quality gate entry %d: threshold of %s: %w", i, ruleKey[0], err)
		}

		entries = append(entries, Entry{
			Rule:     ruleKey[0],
			Expected: expected,
			ID:       fields.ID,
			Filter:   fields.Filter,
		})
	}

	return entries, nil
}

func decodeWeak(input, out any) error {
	if input == nil {
		return errors.New("missing value")
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}

	return dec.Decode(input)
}
