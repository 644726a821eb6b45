package events

import "time"

// Topic constants published by the manager, the health monitor and the
// orchestrator. External consumers subscribe to these.
const (
	// Lifecycle events
	TopicServerStarted    = "server.started"
	TopicServerStopped    = "server.stopped"
	TopicServerReattached = "server.reattached" // surviving child adopted after a restart

	// Failure events
	TopicProcessDied = "process.died" // child exited without a stop request

	// Health monitor events
	TopicHealthCheck         = "health.check"          // one per completed tick, even with nothing tracked
	TopicHealthStatusChanged = "health.status_changed" // per-server health transition, debounced
)

// ServerStartedEvent is emitted when a spawn succeeds and the child pid is
// known.
type ServerStartedEvent struct {
	ServerID string    `json:"serverId"`
	PID      int       `json:"pid"`
	At       time.Time `json:"at"`
}

// ServerStoppedEvent is emitted when an explicit stop confirms the child
// exited and the record was removed.
type ServerStoppedEvent struct {
	ServerID string    `json:"serverId"`
	PID      int       `json:"pid"`
	At       time.Time `json:"at"`
}

// ServerReattachedEvent is emitted when a persisted record passes the
// liveness and start-time checks on startup and is adopted as running.
type ServerReattachedEvent struct {
	ServerID string    `json:"serverId"`
	PID      int       `json:"pid"`
	At       time.Time `json:"at"`
}

// ProcessDiedEvent is emitted when a child exits that nobody asked to stop,
// either from the exit waiter or from the monitor's liveness sweep.
type ProcessDiedEvent struct {
	ServerID   string    `json:"serverId"`
	PID        int       `json:"pid"`
	ExitReason string    `json:"exitReason,omitempty"`
	At         time.Time `json:"at"`
}

// HealthCheckEvent is emitted once per completed monitor tick.
type HealthCheckEvent struct {
	At      time.Time `json:"at"`
	Tracked int       `json:"tracked"`
	Alive   int       `json:"alive"`
}

// HealthStatusChangedEvent is emitted when a server's computed health
// differs from the previous tick.
type HealthStatusChangedEvent struct {
	ServerID string       `json:"serverId"`
	IsAlive  bool         `json:"isAlive"`
	Ports    map[int]bool `json:"ports,omitempty"`
	At       time.Time    `json:"at"`
}
