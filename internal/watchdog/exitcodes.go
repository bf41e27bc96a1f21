// Package watchdog provides the out-of-band liveness workers: a heartbeat
// watchdog and a fatal reaper. Both run as plain goroutines outside the
// cycle scheduler so a wedged main loop cannot silence them.
package watchdog

// Process exit codes are platform-integration-significant: the service
// manager restarts on 2 and 10, and must not restart on 77.
const (
	ExitGraceful    = 0
	ExitRecoverable = 2
	ExitCritical    = 10
	ExitConfigError = 77
)

// ExitFunc terminates the process. Production wires os.Exit; tests inject a
// recorder.
type ExitFunc func(code int)
