package taskid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	a := New()
	b := New()
	require.NotEqual(t, a, b)
	require.True(t, Valid(a))
	require.True(t, Valid(b))
	require.Less(t, a, b, "ids minted in order should sort in order")
}

func TestValidRejectsGarbage(t *testing.T) {
	require.False(t, Valid(""))
	require.False(t, Valid("not-a-ulid"))
}
