package broadcast

import (
	"regexp"
	"strings"

	"grimm.is/tether/internal/protocol"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// WaitingRule is a rule withheld because required variables are unset.
type WaitingRule struct {
	Category protocol.Category `json:"category"`
	RuleID   string            `json:"ruleId"`
	Missing  []string          `json:"missing"`
}

// resolveRules builds the deliverable rule set from one snapshot.
func resolveRules(s *snapshot) (protocol.RuleSet, []WaitingRule) {
	var out protocol.RuleSet
	var waiting []WaitingRule

	for _, cat := range protocol.Categories() {
		src := s.rules.Get(cat)
		resolved := make([]protocol.Rule, 0, len(src))
		for _, rule := range src {
			if missing := missingVariables(rule.RequiredVariables, s.variables); len(missing) > 0 {
				waiting = append(waiting, WaitingRule{Category: cat, RuleID: rule.ID, Missing: missing})
				continue
			}
			resolved = append(resolved, resolveRule(rule, s))
		}
		out = out.With(cat, resolved)
	}
	return out, waiting
}

// missingVariables returns the required names that are absent or empty.
func missingVariables(required []string, vars protocol.VariableSnapshot) []string {
	var missing []string
	for _, name := range required {
		if vars[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func resolveRule(rule protocol.Rule, s *snapshot) protocol.Rule {
	r := rule.Clone()
	r.Name = substitute(r.Name, s.variables)
	r.HeaderName = substitute(r.HeaderName, s.variables)
	r.HeaderValue = substitute(r.HeaderValue, s.variables)
	r.Prefix = substitute(r.Prefix, s.variables)
	r.Suffix = substitute(r.Suffix, s.variables)
	r.Domains = resolveDomains(r.Domains, s.variables)

	if r.SourceID != "" {
		// A source with no current value contributes "", unlike a missing
		// required variable which withholds the rule.
		r.IsDynamic = true
		r.HeaderValue = r.Prefix + s.sourceValue(r.SourceID) + r.Suffix
	}
	return r
}

// substitute replaces {{NAME}} with its value. Names absent from the
// snapshot are left as written.
func substitute(text string, vars protocol.VariableSnapshot) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// resolveDomains substitutes each entry; an entry that held a placeholder
// is split on commas so one variable can carry a domain list.
func resolveDomains(domains []string, vars protocol.VariableSnapshot) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if !placeholderRe.MatchString(d) {
			out = append(out, d)
			continue
		}
		for _, part := range strings.Split(substitute(d, vars), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
