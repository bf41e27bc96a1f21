package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/state"
)

const insertSnapshotQuery = `
	INSERT INTO system_state_snapshots (id, timestamp, snapshot_data, created_at)
	VALUES ($1, $2, $3, NOW())
`

const latestSnapshotQuery = `
	SELECT snapshot_data
	FROM system_state_snapshots
	ORDER BY timestamp DESC
	LIMIT 1
`

// SnapshotRepo persists the periodic SystemState checkpoints.
type SnapshotRepo struct {
	log zerolog.Logger
	q   Querier
}

func NewSnapshotRepo(log zerolog.Logger, q Querier) *SnapshotRepo {
	return &SnapshotRepo{log: log.With().Str("component", "snapshot_repo").Logger(), q: q}
}

// Save writes one checkpoint row.
func (r *SnapshotRepo) Save(ctx context.Context, cp state.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if _, err := r.q.Exec(ctx, insertSnapshotQuery, uuid.NewString(), cp.Timestamp, data); err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	r.log.Debug().Time("timestamp", cp.Timestamp).Msg("Checkpoint persisted")
	return nil
}

// Latest loads the newest checkpoint. The second return is false when no
// checkpoint has been written yet.
func (r *SnapshotRepo) Latest(ctx context.Context) (state.Checkpoint, bool, error) {
	var data []byte
	err := r.q.QueryRow(ctx, latestSnapshotQuery).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state.Checkpoint{}, false, nil
		}
		return state.Checkpoint{}, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var cp state.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return state.Checkpoint{}, false, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, true, nil
}
