package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type throttleRecord struct {
	DayKey string         `json:"day_key"`
	Counts map[string]int `json:"counts"`
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())

	in := throttleRecord{DayKey: "2026-08-31", Counts: map[string]int{"directional_expansion": 2}}
	require.NoError(t, store.Save("throttle", in))

	var out throttleRecord
	found, err := store.Load("throttle", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestFileStoreMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	var out throttleRecord
	found, err := store.Load("absent", &out)
	require.NoError(t, err)
	assert.False(t, found)

	// Corrupt record degrades to found=false, no error
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{{{"), 0o644))
	found, err = store.Load("broken", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "tg")

	payload := `{"day_key":"2026-08-31","counts":{"directional_expansion":2}}`
	mock.ExpectSet("tg:throttle", []byte(payload), 0).SetVal("OK")
	mock.ExpectGet("tg:throttle").SetVal(payload)

	in := throttleRecord{DayKey: "2026-08-31", Counts: map[string]int{"directional_expansion": 2}}
	require.NoError(t, store.Save("throttle", in))

	var out throttleRecord
	found, err := store.Load("throttle", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreMissingKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "")

	mock.ExpectGet("tradegate:safemode").RedisNil()

	var out map[string]any
	found, err := store.Load("safemode", &out)
	require.NoError(t, err)
	assert.False(t, found)
}
