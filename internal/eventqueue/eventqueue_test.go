package eventqueue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushThenPopUpToPreservesOrder(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "events.json"))

	for i := 0; i < 3; i++ {
		raw, _ := json.Marshal(map[string]int{"n": i})
		require.NoError(t, q.Push(raw))
	}

	popped, err := q.PopUpTo(2)
	require.NoError(t, err)
	require.Len(t, popped, 2)

	var first, second map[string]int
	require.NoError(t, json.Unmarshal(popped[0], &first))
	require.NoError(t, json.Unmarshal(popped[1], &second))
	assert.Equal(t, 0, first["n"])
	assert.Equal(t, 1, second["n"])

	rest, err := q.PopUpTo(10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}

func TestPopUpToRemovesFileWhenDrained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	q := New(path)
	raw, _ := json.Marshal(map[string]int{"n": 1})
	require.NoError(t, q.Push(raw))

	_, err := q.PopUpTo(10)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPopUpToOnMissingFileReturnsEmpty(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "missing.json"))
	popped, err := q.PopUpTo(5)
	require.NoError(t, err)
	assert.Empty(t, popped)
}
