package gobbledegook

import "sync/atomic"

// RunState tracks the server through its life cycle. The state only ever
// advances (Uninitialized through Stopped); the single exception is a failed
// initialization, which may jump straight from Initializing to Stopped.
type RunState int32

const (
	StateUninitialized RunState = iota
	StateInitializing
	StateRunning
	StateStopping
	StateStopped
)

// String returns the human-readable name of a run state.
func (s RunState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}

// Health reports whether the server is (or was) able to do its job.
type Health int32

const (
	HealthOk Health = iota
	HealthFailedInit
	HealthFailedRun
)

// String returns the human-readable name of a health value.
func (h Health) String() string {
	switch h {
	case HealthOk:
		return "Ok"
	case HealthFailedInit:
		return "Failed initialization"
	case HealthFailedRun:
		return "Failed run"
	}
	return "Unknown"
}

var (
	serverRunState atomic.Int32
	serverHealth   atomic.Int32
)

// GetServerRunState returns the current run state of the server.
func GetServerRunState() RunState {
	return RunState(serverRunState.Load())
}

// GetServerHealth returns the current health of the server.
func GetServerHealth() Health {
	return Health(serverHealth.Load())
}

// IsServerRunning reports whether the server has not yet begun shutting down.
func IsServerRunning() bool {
	return GetServerRunState() <= StateRunning
}

// setServerRunState is only ever called by the lifecycle engine.
func setServerRunState(newState RunState) {
	old := GetServerRunState()
	Log.Statusf("** SERVER RUN STATE CHANGED: %v -> %v", old, newState)
	serverRunState.Store(int32(newState))
}

// setServerHealth is only ever called by the lifecycle engine.
func setServerHealth(newHealth Health) {
	old := GetServerHealth()
	Log.Statusf("** SERVER HEALTH CHANGED: %v -> %v", old, newHealth)
	serverHealth.Store(int32(newHealth))
}

// resetServerState rewinds the process-wide state so a stopped server can be
// started again within the same process. Only Start may call it.
func resetServerState() {
	serverRunState.Store(int32(StateUninitialized))
	serverHealth.Store(int32(HealthOk))
}
