package qualitygate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownRule is returned for rule names that are not registered.
var ErrUnknownRule = errors.New("unknown quality gate rule")

// Registry maps rule names to rules. Lookups ignore case.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates a registry holding the built-in rules and extra.
func NewRegistry(extra ...Rule) (*Registry, error) {
	r := &Registry{rules: make(map[string]Rule, 3+len(extra))}

	for _, rule := range append(Builtins(), extra...) {
		if err := r.Register(rule); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register adds a rule. Names must be unique.
func (r *Registry) Register(rule Rule) error {
	if rule == nil || rule.Name() == "" {
		return errors.New("quality gate rule must have a name")
	}

	key := strings.ToLower(rule.Name())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[key]; exists {
		return fmt.Errorf("quality gate rule %q already registered", rule.Name())
	}

	r.rules[key] = rule

	return nil
}

// Get returns the rule registered as name.
func (r *Registry) Get(name string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, name)
	}

	return rule, nil
}

// Names returns the registered rule names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		names = append(names, rule.Name())
	}

	sort.Strings(names)

	return names
}
