package validate

import "path"

// ScopeMatch reports whether agentID is permitted by an API key's
// agent_pattern glob. Patterns use the same wildcard syntax as path.Match
// ("machine/*", "*/project", "*"), which is sufficient for the flat
// {machine}/{project} id shape the registry uses — no example repo in the
// retrieval pack demonstrates a dedicated fnmatch/glob library for this
// narrow a need, so the standard library's path.Match covers it directly.
func ScopeMatch(pattern, agentID string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, agentID)
	if err != nil {
		return false
	}
	return ok
}
