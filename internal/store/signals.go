// Package store persists evaluated signals to Postgres for offline review.
// The write path is best-effort from the pipeline's point of view: a storage
// failure never blocks a decision.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/tradegate/internal/pipeline"
)

const signalSchema = `
CREATE TABLE IF NOT EXISTS signals (
	id            TEXT PRIMARY KEY,
	created_at    TIMESTAMPTZ NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	action        TEXT NOT NULL,
	blocked       BOOLEAN NOT NULL,
	requested_qty INTEGER NOT NULL,
	final_qty     INTEGER NOT NULL,
	elapsed_us    BIGINT NOT NULL,
	record        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_symbol_created_idx ON signals (symbol, created_at DESC);
CREATE INDEX IF NOT EXISTS signals_created_idx ON signals (created_at DESC);
`

// SignalRow is the flat queryable projection of a stored signal.
type SignalRow struct {
	ID           string    `db:"id" json:"id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	Symbol       string    `db:"symbol" json:"symbol"`
	Side         string    `db:"side" json:"side"`
	Strategy     string    `db:"strategy" json:"strategy"`
	Action       string    `db:"action" json:"action"`
	Blocked      bool      `db:"blocked" json:"blocked"`
	RequestedQty int       `db:"requested_qty" json:"requested_qty"`
	FinalQty     int       `db:"final_qty" json:"final_qty"`
	ElapsedUS    int64     `db:"elapsed_us" json:"elapsed_us"`
	Record       []byte    `db:"record" json:"record"`
}

// SignalStore writes and reads signal history.
type SignalStore struct {
	db *sqlx.DB
}

// Open connects and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*SignalStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signal store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, signalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init signal schema: %w", err)
	}
	return &SignalStore{db: db}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sqlx.DB) *SignalStore {
	return &SignalStore{db: db}
}

func (s *SignalStore) Close() error {
	return s.db.Close()
}

// Insert stores one evaluated signal, flat columns plus the full JSON record.
func (s *SignalStore) Insert(ctx context.Context, sig pipeline.Signal) error {
	record, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to encode signal %s: %w", sig.ID, err)
	}

	const q = `
		INSERT INTO signals
			(id, created_at, symbol, side, strategy, action, blocked,
			 requested_qty, final_qty, elapsed_us, record)
		VALUES
			(:id, :created_at, :symbol, :side, :strategy, :action, :blocked,
			 :requested_qty, :final_qty, :elapsed_us, :record)`

	row := SignalRow{
		ID:           sig.ID,
		CreatedAt:    sig.Timestamp,
		Symbol:       sig.Symbol,
		Side:         string(sig.Side),
		Strategy:     sig.Strategy,
		Action:       string(sig.Action),
		Blocked:      sig.Blocked,
		RequestedQty: sig.RequestedQty,
		FinalQty:     sig.FinalQty,
		ElapsedUS:    sig.Elapsed.Microseconds(),
		Record:       record,
	}
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("failed to insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// Recent returns the latest n signals, optionally filtered by symbol.
func (s *SignalStore) Recent(ctx context.Context, symbol string, n int) ([]SignalRow, error) {
	if n <= 0 {
		n = 50
	}
	var (
		rows []SignalRow
		err  error
	)
	if symbol != "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM signals WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`, symbol, n)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT * FROM signals ORDER BY created_at DESC LIMIT $1`, n)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	return rows, nil
}
