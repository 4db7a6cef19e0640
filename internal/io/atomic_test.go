package io

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "throttle.json")

	in := map[string]int{"trades": 3}
	require.NoError(t, WriteJSONAtomic(path, in))

	var out map[string]int
	found, err := ReadJSON(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	// No leftover temp file
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadJSONMissingFile(t *testing.T) {
	var out map[string]int
	found, err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadJSONCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var out map[string]int
	found, err := ReadJSON(path, &out)
	assert.Error(t, err)
	assert.False(t, found)
}
