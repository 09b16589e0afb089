package filters

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileRejectsBadExpression(t *testing.T) {
	_, err := Compile("sgId +")
	require.Error(t, err)
}

func TestMatchScopesByModuleID(t *testing.T) {
	f, err := Compile(`moduleId == 42`)
	require.NoError(t, err)

	ok, err := f.Match(Property{SgID: 1, ModuleID: 42})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.Match(Property{SgID: 1, ModuleID: 7})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelectFiltersSubset(t *testing.T) {
	f, err := Compile(`sgId >= 10`)
	require.NoError(t, err)

	props := []Property{{SgID: 5}, {SgID: 10}, {SgID: 15}}
	selected, err := f.Select(props)
	require.NoError(t, err)
	require.Len(t, selected, 2)
}

func TestMatchUsesTagEnv(t *testing.T) {
	f, err := Compile(`tier == "leaf"`)
	require.NoError(t, err)

	ok, err := f.Match(Property{SgID: 1, Tags: map[string]any{"tier": "leaf"}})
	require.NoError(t, err)
	require.True(t, ok)
}
