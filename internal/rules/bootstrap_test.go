package rules

import (
	"regexp"
	"testing"
)

func TestDefaultRulesValid(t *testing.T) {
	rules := DefaultRules()
	if len(rules) == 0 {
		t.Fatal("no default rules")
	}

	seen := map[string]bool{}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			t.Errorf("rule %s invalid: %v", r.ID, err)
		}
		if !r.Enabled {
			t.Errorf("rule %s ships disabled", r.ID)
		}
		if seen[r.ID] {
			t.Errorf("duplicate rule ID %s", r.ID)
		}
		seen[r.ID] = true
		if _, err := regexp.Compile(r.Pattern); err != nil {
			t.Errorf("rule %s pattern does not compile: %v", r.ID, err)
		}
	}
}

func TestDefaultRulesDistinctPriorities(t *testing.T) {
	// Default rules carry distinct priorities so the application order is
	// obvious without relying on the ID tie-break.
	seen := map[int]string{}
	for _, r := range DefaultRules() {
		if prev, ok := seen[r.Priority]; ok {
			t.Errorf("rules %s and %s share priority %d", prev, r.ID, r.Priority)
		}
		seen[r.Priority] = r.ID
	}
}
