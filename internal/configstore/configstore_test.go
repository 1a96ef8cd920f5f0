package configstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settings struct {
	Enabled bool `json:"enabled"`
	Count   int  `json:"count"`
}

func TestLoadMissingFileLeavesZeroValue(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing.json"))
	var s settings
	require.NoError(t, store.Load(&s))
	assert.Equal(t, settings{}, s)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, store.Save(&settings{Enabled: true, Count: 3}))

	var loaded settings
	require.NoError(t, store.Load(&loaded))
	assert.Equal(t, settings{Enabled: true, Count: 3}, loaded)
}

func TestMutateAppliesAndPersistsChange(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "settings.json"))
	var s settings
	require.NoError(t, store.Mutate(&s, func() error {
		s.Count++
		return nil
	}))
	assert.Equal(t, 1, s.Count)

	var reloaded settings
	require.NoError(t, store.Load(&reloaded))
	assert.Equal(t, 1, reloaded.Count)
}
