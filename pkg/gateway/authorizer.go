package gateway

import "strings"

// DecisionAuthorizer gates who may approve or deny a given tool's calls.
// Tools without a configured allowlist accept any authenticated decider.
type DecisionAuthorizer struct {
	byTool map[string]map[string]struct{}
}

// NewDecisionAuthorizer parses an allowlist of the form
// "tool:user1|user2,other_tool:user3".
func NewDecisionAuthorizer(raw string) *DecisionAuthorizer {
	return &DecisionAuthorizer{byTool: parseToolList(raw)}
}

// Allow reports whether the decider may decide calls of the given tool.
// Event-sourced decisions (decider "source:<name>") bypass the allowlist:
// the signature check already authenticated the source.
func (a *DecisionAuthorizer) Allow(tool, decider string) bool {
	if decider == "" {
		return false
	}
	if strings.HasPrefix(decider, "source:") {
		return true
	}
	allowed, ok := a.byTool[tool]
	if !ok || len(allowed) == 0 {
		return true
	}
	_, ok = allowed[strings.ToLower(strings.TrimSpace(decider))]
	return ok
}

func parseToolList(raw string) map[string]map[string]struct{} {
	out := map[string]map[string]struct{}{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		tool := strings.TrimSpace(parts[0])
		values := strings.Split(parts[1], "|")
		if tool == "" {
			continue
		}
		if _, ok := out[tool]; !ok {
			out[tool] = map[string]struct{}{}
		}
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			out[tool][strings.ToLower(v)] = struct{}{}
		}
	}
	return out
}
