package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/decision"
	"github.com/marketvigil/vigil/internal/faults"
	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/snapshot"
)

func testSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.New(snapshot.Params{
		Timestamp:       time.Now(),
		Symbol:          "BTCUSDT",
		AnchorTimeframe: "15m",
		States:          map[string]marketstate.State{"15m": marketstate.StateImpulse},
		Score:           80,
		ScoreMax:        100,
		Confidence:      0.6,
		Entropy:         0.3,
		Risk:            marketstate.RiskMedium,
		Decision:        snapshot.DecisionObserve,
	})
	require.NoError(t, err)
	return snap
}

func TestRecordInsertsOneRowPerStage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	stages := []decision.StageResult{
		{Source: "system_guardian", Allowed: true, BlockLevel: decision.BlockNone},
		{Source: "risk_core", Allowed: false, Reason: "aggregate cap", BlockLevel: decision.BlockHard},
	}
	for range stages {
		mock.ExpectExec("INSERT INTO decision_trace").
			WithArgs(traceInsertArgs()...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	store := NewStore(zerolog.Nop(), mock)
	err = store.Record(context.Background(), testSnapshot(t), stages, false, "risk_core")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPropagatesDBError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO decision_trace").
		WithArgs(traceInsertArgs()...).
		WillReturnError(errors.New("connection refused"))

	store := NewStore(zerolog.Nop(), mock)
	err = store.Record(context.Background(), testSnapshot(t),
		[]decision.StageResult{{Source: "system_guardian", Allowed: true}}, true, "")
	assert.Error(t, err)
}

func TestRecordWithoutDBLogsOnly(t *testing.T) {
	store := NewStore(zerolog.Nop(), nil)
	err := store.Record(context.Background(), testSnapshot(t),
		[]decision.StageResult{{Source: "system_guardian", Allowed: true}}, true, "")
	assert.NoError(t, err)
}

func TestRecordInjectedStorageFault(t *testing.T) {
	faults.Override(faults.EnvStorageFailure, true)
	defer faults.Clear()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(zerolog.Nop(), mock)
	err = store.Record(context.Background(), testSnapshot(t),
		[]decision.StageResult{{Source: "system_guardian", Allowed: true}}, true, "")
	assert.ErrorIs(t, err, faults.ErrInjected)
	// The fault fires before any write reaches the pool.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "signal_id", "timestamp", "symbol", "source", "allowed", "block_level", "reason",
	}).AddRow(
		newUUID(t), newUUID(t), now, "BTCUSDT", "position_sizer", false, "HARD", "below minimum",
	)
	mock.ExpectQuery("SELECT(.+)FROM decision_trace").
		WithArgs(10).
		WillReturnRows(rows)

	store := NewStore(zerolog.Nop(), mock)
	got, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "position_sizer", got[0].Source)
	assert.Equal(t, "HARD", got[0].BlockLevel)
}

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

// traceInsertArgs matches the nine columns of the insert statement.
func traceInsertArgs() []interface{} {
	args := make([]interface{}, 9)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}
