package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/pipeline"
)

// Integration test; needs a reachable Postgres.
func openTestStore(t *testing.T) *SignalStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sig := pipeline.Signal{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		Symbol:       "BTC-USD",
		Side:         trade.Buy,
		Strategy:     "momentum_core",
		Action:       trade.ActionAllow,
		RequestedQty: 100,
		FinalQty:     100,
		Elapsed:      250 * time.Microsecond,
	}
	require.NoError(t, s.Insert(ctx, sig))

	rows, err := s.Recent(ctx, "BTC-USD", 10)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, sig.ID, rows[0].ID)
	assert.Equal(t, "ALLOW", rows[0].Action)
	assert.Equal(t, "BTC-USD", rows[0].Symbol)
}
