package privacy

import (
	"fmt"
	"sort"
)

// Registry is an immutable, priority-ordered catalog of rules. It is safe
// to share across goroutines.
type Registry struct {
	rules    []PatternRule
	priority map[string]int
}

// NewRegistry orders rules by descending priority, keeping declaration
// order for ties.
func NewRegistry(rules []PatternRule) *Registry {
	ordered := make([]PatternRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	priority := make(map[string]int, len(ordered))
	for _, r := range ordered {
		if _, seen := priority[r.Type]; !seen {
			priority[r.Type] = r.Priority
		}
	}

	return &Registry{rules: ordered, priority: priority}
}

// DefaultRegistry returns a registry over the built-in catalog
func DefaultRegistry() *Registry {
	return NewRegistry(GetDefaultRules())
}

// AllRules returns the rules in scan order
func (r *Registry) AllRules() []PatternRule {
	out := make([]PatternRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of rules
func (r *Registry) Len() int {
	return len(r.rules)
}

// Types returns the rule types in scan order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		types = append(types, rule.Type)
	}
	return types
}

// Priority returns the priority for a rule type
func (r *Registry) Priority(ruleType string) (int, bool) {
	p, ok := r.priority[ruleType]
	return p, ok
}

// Select returns a registry restricted to the named rule types. The
// special name "all" selects every rule. Unknown names are an error.
func (r *Registry) Select(names []string) (*Registry, error) {
	enabled := make(map[string]bool, len(r.rules))

	for _, name := range names {
		if name == "all" {
			for _, rule := range r.rules {
				enabled[rule.Type] = true
			}
			continue
		}

		if _, ok := r.priority[name]; !ok {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
		enabled[name] = true
	}

	selected := make([]PatternRule, 0, len(enabled))
	for _, rule := range r.rules {
		if enabled[rule.Type] {
			selected = append(selected, rule)
		}
	}

	return NewRegistry(selected), nil
}
