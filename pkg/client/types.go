package client

// ServerStatus is the reconciled view of one registered server as reported
// by GET /servers.
type ServerStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ColorTag    string `json:"colorTag,omitempty"`
	Running     bool   `json:"running"`
	Orphaned    bool   `json:"orphaned"`
	OrphanedPid string `json:"orphanedPid,omitempty"`
}

// ActionResult is the outcome of a start/stop/kill request. Business
// failures (already running, nothing listening) come back with Success
// false and HTTP 200.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PortEntry is one listening socket from GET /ports.
type PortEntry struct {
	PID      int    `json:"pid"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Program  string `json:"program"`
}

// killRequest is the body of DELETE /kill.
type killRequest struct {
	PID  string `json:"pid,omitempty"`
	Port string `json:"port,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
