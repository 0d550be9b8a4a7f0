package relay

// Policy holds the rewrite rules applied to request bodies addressed to
// restricted reasoning models. Bodies for any other model pass through the
// relay untouched.
type Policy struct {
	restricted        map[string]struct{}
	unsupportedParams []string
	defaultBudget     int
}

func NewPolicy(restrictedModels, unsupportedParams []string, defaultCompletionTokens int) Policy {
	restricted := make(map[string]struct{}, len(restrictedModels))
	for _, m := range restrictedModels {
		restricted[m] = struct{}{}
	}
	return Policy{
		restricted:        restricted,
		unsupportedParams: append([]string(nil), unsupportedParams...),
		defaultBudget:     defaultCompletionTokens,
	}
}

func (p Policy) ModelRestricted(model string) bool {
	_, ok := p.restricted[model]
	return ok
}

// Apply rewrites body in place when its model is restricted and reports
// whether anything was rewritten. The rewrite is best-effort and never fails:
// absent or wrong-typed fields are treated as absent, not rejected.
func (p Policy) Apply(body map[string]any) bool {
	model, _ := body["model"].(string)
	if !p.ModelRestricted(model) {
		return false
	}

	for _, param := range p.unsupportedParams {
		delete(body, param)
	}

	if v, ok := body["max_tokens"]; ok {
		delete(body, "max_tokens")
		body["max_completion_tokens"] = v
	} else if _, ok := body["max_completion_tokens"]; !ok {
		body["max_completion_tokens"] = p.defaultBudget
	}

	// Restricted models reject system messages outright.
	messages, _ := body["messages"].([]any)
	kept := make([]any, 0, len(messages))
	for _, m := range messages {
		if msg, ok := m.(map[string]any); ok {
			if role, _ := msg["role"].(string); role == "system" {
				continue
			}
		}
		kept = append(kept, m)
	}
	body["messages"] = kept
	return true
}
