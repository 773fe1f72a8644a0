package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeMatch(t *testing.T) {
	tests := []struct {
		pattern, agentID string
		want             bool
	}{
		{"*", "lab/A", true},
		{"*", "anything/at-all", true},
		{"lab/*", "lab/A", true},
		{"lab/*", "other/A", false},
		{"*/project", "lab/project", true},
		{"*/project", "lab/other", false},
		{"lab/A", "lab/A", true},
		{"lab/A", "lab/B", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScopeMatch(tt.pattern, tt.agentID), "pattern=%q agentID=%q", tt.pattern, tt.agentID)
	}
}
