package db

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/snapshot"
)

// SignalLog appends a one-line human-readable record per emitted signal to
// a local file. It survives database outages and is the quickest surface to
// grep during an incident.
type SignalLog struct {
	log  zerolog.Logger
	path string
	mu   sync.Mutex
}

func NewSignalLog(log zerolog.Logger, path string) *SignalLog {
	return &SignalLog{
		log:  log.With().Str("component", "signal_log").Logger(),
		path: path,
	}
}

// Append writes one line for the snapshot. Failures are logged and swallowed
// so a full disk cannot block emission.
func (l *SignalLog) Append(snap *snapshot.Snapshot) {
	if l == nil || l.path == "" || snap == nil {
		return
	}
	line := formatSignalLine(snap)

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Warn().Err(err).Str("path", l.path).Msg("Failed to open signal log")
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		l.log.Warn().Err(err).Str("path", l.path).Msg("Failed to append signal log line")
	}
}

func formatSignalLine(snap *snapshot.Snapshot) string {
	stateLabel := func(tf string) string {
		if st, ok := snap.State(tf); ok {
			return st.String()
		}
		return "-"
	}
	return fmt.Sprintf("%s | %s | 1h:%s 30m:%s 15m:%s 5m:%s | risk:%s | entry:%.4f exit:%.4f | rr:%.2f",
		snap.Timestamp().UTC().Format(time.RFC3339),
		snap.Symbol(),
		stateLabel("1h"), stateLabel("30m"), stateLabel("15m"), stateLabel("5m"),
		snap.Risk().String(),
		snap.Entry(), snap.TakeProfit(),
		snap.RRRatio())
}
