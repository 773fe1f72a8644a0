package validate

import (
	"github.com/microcosm-cc/bluemonday"

	"github.com/c3po-dev/c3po/internal/util/sanitize"
)

// descriptionPolicy strips all markup from free-text fields an operator
// might later render in a dashboard (agent display_name, description).
// Grounded on the teacher's use of bluemonday.StrictPolicy() to flatten
// markdown/HTML before display (internal/hub/service/plantitle.go).
var descriptionPolicy = bluemonday.StrictPolicy()

// SanitizeDescription strips control characters and HTML/markup from an
// agent's display_name or description before it is persisted, and
// truncates to maxLen runes. Control-character stripping is the same pass
// the teacher applies to terminal titles (internal/util/sanitize.Title);
// an agent-supplied description rendered in a dashboard needs the same
// treatment before the markup strip.
func SanitizeDescription(value string, maxLen int) string {
	clean := descriptionPolicy.Sanitize(sanitize.Title(value, maxLen*4))
	runes := []rune(clean)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	return string(runes)
}
