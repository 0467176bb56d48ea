package fips

import (
	"crypto/fips140"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	t.Setenv(EnvRequire, "")
	assert.NoError(t, Check())
	assert.Equal(t, fips140.Enabled(), Enabled)

	t.Setenv(EnvRequire, "true")
	if fips140.Enabled() {
		assert.NoError(t, Check())
	} else {
		assert.ErrorIs(t, Check(), ErrNotEnabled)
	}
}
