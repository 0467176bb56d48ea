package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "report.pdf", false},
		{"dots inside", "data..v2.csv", false},
		{"spaces", "my notes.txt", false},
		{"hidden", ".profile", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dot dot", "..", true},
		{"slash", "a/b", true},
		{"nul", "a\x00b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	assert.NoError(t, ValidateRelativePath("a.txt"))
	assert.NoError(t, ValidateRelativePath("results/logs/run.log"))

	for _, p := range []string{"", "/abs", "a//b", "a/../../etc", "../x", "a/./b", "dir/"} {
		assert.Error(t, ValidateRelativePath(p), p)
	}
}
