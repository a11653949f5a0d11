package hostinfo

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_Describe(t *testing.T) {
	info, err := NewProbe().Describe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.Positive(t, info.LogicalCPUs)
	assert.Positive(t, info.TotalMemory)
	assert.NotNil(t, info.CPUFeatures)
}

func TestFeatures_Unique(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range Features() {
		assert.False(t, seen[f], "duplicate feature %s", f)
		seen[f] = true
	}
}
