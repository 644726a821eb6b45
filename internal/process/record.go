package process

import "time"

// Status is the lifecycle state of a spawned server.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusDied     Status = "died"
)

// Terminal reports whether the status describes a process that is gone.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusDied
}

// Record is the bookkeeping entry for one spawned server. At most one
// non-terminal record exists per server id; a died record stays in the
// table as a tombstone until the next start or stop clears it.
type Record struct {
	ServerID       string    `json:"server_id"`
	PID            int       `json:"pid"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	StartTimeUnix  int64     `json:"start_time_unix,omitempty"`
	LastExitReason string    `json:"last_exit_reason,omitempty"`
}

// Live reports whether the record still claims its pid.
func (r Record) Live() bool { return !r.Status.Terminal() }
