package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildHierarchyPath(t *testing.T) {
	tests := []struct {
		name          string
		input         []string
		expectedDepth int
		expectedPath  []string
	}{
		{
			name:          "no names",
			expectedDepth: 0,
			expectedPath:  []string{},
		},
		{
			name:          "test directly in the file",
			input:         []string{"", "stores a value"},
			expectedDepth: 0,
			expectedPath:  []string{"stores a value"},
		},
		{
			name:          "nested describe blocks",
			input:         []string{"Token", "transfer", "moves funds"},
			expectedDepth: 2,
			expectedPath:  []string{"Token", "transfer", "moves funds"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := BuildHierarchyPath(tt.input...)
			assert.Equal(t, tt.expectedPath, path)
			assert.Equal(t, tt.expectedDepth, CalculateDepthFromPath(path))
		})
	}
}

func TestNewTestResult(t *testing.T) {
	path := []string{"Token", "transfer"}
	r := NewTestResult("token.yaml", path, "moves funds")

	assert.Equal(t, TestStatusPass, r.Status)
	assert.Equal(t, "transfer", r.GetParentName())
	assert.Equal(t, 2, r.Depth())
	assert.Equal(t, "Token / transfer / moves funds", r.GetFullTestPath())
	assert.Equal(t, "Token / transfer / moves funds [pass]", r.String())

	// the caller's slice is not shared
	path[0] = "changed"
	assert.Equal(t, "Token", r.HierarchyPath[0])

	r.Fail(errors.New("expected 1"))
	assert.Equal(t, TestStatusFail, r.Status)
	assert.Equal(t, "Token / transfer / moves funds [fail]: expected 1", r.String())
	assert.Empty(t, NewTestResult("a.yaml", nil, "top").GetParentName())
}

func TestStatusIsFailure(t *testing.T) {
	assert.True(t, TestStatusFail.IsFailure())
	assert.True(t, TestStatusError.IsFailure())
	assert.False(t, TestStatusPass.IsFailure())
	assert.False(t, TestStatusSkip.IsFailure())
}
