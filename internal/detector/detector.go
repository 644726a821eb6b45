// Package detector answers two questions about an arbitrary pid: whether it
// refers to a live process right now, and when that process started. The
// start time doubles as a process identity: a recycled pid gets a new start
// time, so comparing it against a recorded value detects reuse.
package detector

// IdentityMatches reports whether pid is alive and still the process it was
// when startUnix was recorded. A zero startUnix skips the identity
// comparison, as does an unreadable current start time; liveness alone then
// decides.
func IdentityMatches(pid int, startUnix int64) bool {
	if !Alive(pid) {
		return false
	}
	if startUnix <= 0 {
		return true
	}
	cur := StartTimeUnix(pid)
	if cur <= 0 {
		return true
	}
	return cur == startUnix
}
