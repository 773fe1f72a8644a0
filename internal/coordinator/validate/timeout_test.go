package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeout(t *testing.T) {
	assert.NoError(t, Timeout(1))
	assert.NoError(t, Timeout(3600))
	assert.Error(t, Timeout(0))
	assert.Error(t, Timeout(3601))
	assert.Error(t, Timeout(-1))
}
