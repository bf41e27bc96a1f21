// Package faults implements the environment-controlled fault injection
// switches used by runtime tests. Every hook fires before any side effect,
// so an injected failure is observable while state stays unchanged.
package faults

import (
	"errors"
	"os"
	"strconv"
	"sync"
)

// Environment toggle names.
const (
	EnvDecisionException = "FAULT_INJECT_DECISION_EXCEPTION"
	EnvStorageFailure    = "FAULT_INJECT_STORAGE_FAILURE"
	EnvLoopStall         = "FAULT_INJECT_LOOP_STALL"
	EnvSyntheticTick     = "ENABLE_SYNTHETIC_DECISION_TICK"
)

// ErrInjected marks a deliberately injected failure.
var ErrInjected = errors.New("injected fault")

var (
	mu        sync.RWMutex
	overrides = map[string]bool{}
)

// enabled reads the toggle, preferring a test override over the
// environment.
func enabled(name string) bool {
	mu.RLock()
	v, ok := overrides[name]
	mu.RUnlock()
	if ok {
		return v
	}
	b, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && b
}

// Override forces a toggle for tests. Reset with Clear.
func Override(name string, on bool) {
	mu.Lock()
	overrides[name] = on
	mu.Unlock()
}

// Clear removes all test overrides.
func Clear() {
	mu.Lock()
	overrides = map[string]bool{}
	mu.Unlock()
}

// DecisionException reports whether the decision path must fail before any
// side effect.
func DecisionException() error {
	if enabled(EnvDecisionException) {
		return ErrInjected
	}
	return nil
}

// StorageFailure reports whether storage writes must fail.
func StorageFailure() error {
	if enabled(EnvStorageFailure) {
		return ErrInjected
	}
	return nil
}

// LoopStall reports whether the main loop should simulate a stall.
func LoopStall() bool { return enabled(EnvLoopStall) }

// SyntheticTick reports whether the generator should run a synthetic
// decision tick regardless of trading-time checks.
func SyntheticTick() bool { return enabled(EnvSyntheticTick) }
