package idgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	ids := make([]SessionID, 0, 100)
	for i := 0; i < 100; i++ {
		ids = append(ids, New())
	}

	for i := 1; i < len(ids); i++ {
		require.True(t, ids[i-1] < ids[i], "ids must be strictly increasing: %s >= %s", ids[i-1], ids[i])
	}
}

func TestNewLength(t *testing.T) {
	id := New()
	require.True(t, id.Valid())
	require.Len(t, string(id), 26)
}
