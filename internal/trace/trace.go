// Package trace persists the append-only decision audit log. One row per
// validator stage per signal; rows are written after the verdict so a
// storage failure can never change a trading decision.
package trace

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/decision"
	"github.com/marketvigil/vigil/internal/faults"
	"github.com/marketvigil/vigil/internal/snapshot"
)

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Record is one persisted stage entry.
type Record struct {
	ID         uuid.UUID              `json:"id"`
	SignalID   uuid.UUID              `json:"signal_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Symbol     string                 `json:"symbol"`
	Source     string                 `json:"source"`
	Allowed    bool                   `json:"allowed"`
	BlockLevel string                 `json:"block_level"`
	Reason     string                 `json:"reason,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

const insertQuery = `
	INSERT INTO decision_trace (
		id, signal_id, timestamp, symbol, source, allowed,
		block_level, reason, context
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const recentQuery = `
	SELECT id, signal_id, timestamp, symbol, source, allowed, block_level, reason
	FROM decision_trace
	ORDER BY timestamp DESC
	LIMIT $1
`

// Store writes decision traces to postgres. A nil db disables persistence;
// entries still reach the structured log.
type Store struct {
	log zerolog.Logger
	db  DB
}

// NewStore builds the trace store.
func NewStore(log zerolog.Logger, db DB) *Store {
	return &Store{
		log: log.With().Str("component", "decision_trace").Logger(),
		db:  db,
	}
}

// Record implements decision.TraceStore. The verdict context (emitted flag,
// blocking stage) rides along with every row so a single stage row is
// self-describing.
func (s *Store) Record(ctx context.Context, snap *snapshot.Snapshot, stages []decision.StageResult, emitted bool, blockedBy string) error {
	if err := faults.StorageFailure(); err != nil {
		return err
	}

	now := time.Now()
	verdictCtx := map[string]interface{}{
		"emitted":    emitted,
		"blocked_by": blockedBy,
		"score":      snap.Score(),
		"confidence": snap.Confidence(),
		"entropy":    snap.Entropy(),
	}

	for _, stage := range stages {
		rec := Record{
			ID:         uuid.New(),
			SignalID:   snap.ID(),
			Timestamp:  now,
			Symbol:     snap.Symbol(),
			Source:     stage.Source,
			Allowed:    stage.Allowed,
			BlockLevel: string(stage.BlockLevel),
			Reason:     stage.Reason,
			Context:    verdictCtx,
		}

		s.log.Info().
			Str("signal_id", rec.SignalID.String()).
			Str("symbol", rec.Symbol).
			Str("source", rec.Source).
			Bool("allowed", rec.Allowed).
			Str("block_level", rec.BlockLevel).
			Msg("Decision trace")

		if s.db == nil {
			continue
		}
		ctxJSON, err := json.Marshal(rec.Context)
		if err != nil {
			ctxJSON = []byte("{}")
		}
		if _, err := s.db.Exec(ctx, insertQuery,
			rec.ID, rec.SignalID, rec.Timestamp, rec.Symbol, rec.Source,
			rec.Allowed, rec.BlockLevel, rec.Reason, ctxJSON,
		); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns the newest trace rows for the observer surfaces.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, recentQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.SignalID, &r.Timestamp, &r.Symbol,
			&r.Source, &r.Allowed, &r.BlockLevel, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
