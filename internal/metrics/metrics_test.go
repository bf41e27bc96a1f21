package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/state"
)

func TestObserveVerdict(t *testing.T) {
	before := testutil.ToFloat64(SignalsEmitted)
	ObserveVerdict(true, "")
	assert.Equal(t, before+1, testutil.ToFloat64(SignalsEmitted))

	blockedBefore := testutil.ToFloat64(SignalsBlocked.WithLabelValues("risk_core"))
	ObserveVerdict(false, "risk_core")
	assert.Equal(t, blockedBefore+1, testutil.ToFloat64(SignalsBlocked.WithLabelValues("risk_core")))

	unknownBefore := testutil.ToFloat64(SignalsBlocked.WithLabelValues("unknown"))
	ObserveVerdict(false, "")
	assert.Equal(t, unknownBefore+1, testutil.ToFloat64(SignalsBlocked.WithLabelValues("unknown")))
}

func TestSetFSMStateIsExclusive(t *testing.T) {
	SetFSMState("SAFE_MODE", fsmStateNames)
	assert.Equal(t, 1.0, testutil.ToFloat64(FSMState.WithLabelValues("SAFE_MODE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(FSMState.WithLabelValues("RUNNING")))

	SetFSMState("RUNNING", fsmStateNames)
	assert.Equal(t, 0.0, testutil.ToFloat64(FSMState.WithLabelValues("SAFE_MODE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(FSMState.WithLabelValues("RUNNING")))
}

func TestUpdaterMirrorsState(t *testing.T) {
	sys := state.New(zerolog.Nop())
	machine := fsm.New(zerolog.Nop(), fsm.DefaultConfig(), sys)
	sys.Heartbeat()
	sys.RecordError()
	sys.RecordError()

	book := state.PortfolioState{Positions: []state.PositionSnapshot{
		{Symbol: "BTCUSDT", Long: true, SizeUSD: 250},
	}}
	book.Aggregate()
	sys.SetPortfolio(book)

	u := NewUpdater(zerolog.Nop(), sys, machine, time.Second)
	u.Update()

	assert.Equal(t, 2.0, testutil.ToFloat64(ConsecutiveErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(OpenPositions))
	assert.Equal(t, 250.0, testutil.ToFloat64(OpenExposureUSD))
	assert.Equal(t, 1.0, testutil.ToFloat64(FSMState.WithLabelValues("RUNNING")))
	require.GreaterOrEqual(t, testutil.ToFloat64(HeartbeatAge), 0.0)
}
