package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c3po-dev/c3po/internal/coordinator/validate"
)

func TestSanitizeDescription_StripsMarkup(t *testing.T) {
	got := validate.SanitizeDescription("<b>bold</b> plain", 100)
	assert.Equal(t, "bold plain", got)
}

func TestSanitizeDescription_StripsControlCharacters(t *testing.T) {
	got := validate.SanitizeDescription("line1\x00line2", 100)
	assert.NotContains(t, got, "\x00")
}

func TestSanitizeDescription_TruncatesToMaxLen(t *testing.T) {
	got := validate.SanitizeDescription("abcdefghij", 5)
	assert.Equal(t, "abcde", got)
}
