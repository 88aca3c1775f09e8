package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionCompatibility(t *testing.T) {
	v := Version{Major: 0, Minor: 3, Patch: 1}
	require.True(t, v.IsCompatible(Version{Major: 0, Minor: 3, Patch: 7}))
	require.False(t, v.IsCompatible(Version{Major: 0, Minor: 4}))
	require.False(t, v.IsCompatible(Version{Major: 1, Minor: 3}))
	require.True(t, v.IsCompatible(Version{}))
	require.Equal(t, "0.3.1-rc1", Version{Major: 0, Minor: 3, Patch: 1, Prerelease: "-rc1"}.String())
}
