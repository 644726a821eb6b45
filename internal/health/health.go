// Package health runs the periodic reconciliation loop. Each tick checks OS
// liveness for every tracked record and TCP reachability for the declared
// ports of the live ones. Health is derived state: computed fresh per tick,
// published on the event bus, never persisted.
package health

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/warden/internal/detector"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/process"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultProbeTimeout = 500 * time.Millisecond
)

// Status is the computed health of one server at a point in time.
type Status struct {
	IsAlive       bool         `json:"isAlive"`
	Ports         map[int]bool `json:"ports,omitempty"`
	LastCheckedAt time.Time    `json:"lastCheckedAt"`
}

// Tracker is the slice of the process manager the monitor needs.
type Tracker interface {
	Records() []process.Record
	MarkDied(id, reason string)
}

// Monitor owns the liveness sweep. Declared ports come from the injected
// registry lookup; the monitor keeps no copy of record state beyond the
// previous tick's health, used for debouncing.
type Monitor struct {
	tracker Tracker
	lookup  func(id string) (process.ServerConfig, bool)
	bus     *events.Subject

	mu           sync.Mutex
	probeTimeout time.Duration
	stop         chan struct{}
	done         chan struct{}
	last         map[string]Status
}

func NewMonitor(tracker Tracker, lookup func(id string) (process.ServerConfig, bool), bus *events.Subject) *Monitor {
	return &Monitor{
		tracker:      tracker,
		lookup:       lookup,
		bus:          bus,
		probeTimeout: DefaultProbeTimeout,
		last:         make(map[string]Status),
	}
}

// SetProbeTimeout bounds each TCP connect attempt.
func (m *Monitor) SetProbeTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.probeTimeout = d
	m.mu.Unlock()
}

// Start launches the sweep loop. Calling it on a running monitor is a no-op.
func (m *Monitor) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(interval, m.stop, m.done)
}

// Stop halts future ticks and waits for an in-flight tick to complete.
// Calling it on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Monitor) loop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.tick()
		case <-stop:
			return
		}
	}
}

// tick sweeps every live record once. Dead pids are reported to the tracker,
// which owns the record transition; the monitor only observes.
func (m *Monitor) tick() {
	m.mu.Lock()
	timeout := m.probeTimeout
	m.mu.Unlock()

	now := time.Now().UTC()
	alive := 0
	statuses := make(map[string]Status)
	for _, rec := range m.tracker.Records() {
		if !rec.Live() {
			continue
		}
		st := Status{LastCheckedAt: now}
		if detector.Alive(rec.PID) {
			st.IsAlive = true
			alive++
			if cfg, ok := m.lookup(rec.ServerID); ok && len(cfg.Ports) > 0 {
				st.Ports = make(map[int]bool, len(cfg.Ports))
				for _, port := range cfg.Ports {
					probeStart := time.Now()
					st.Ports[port] = probePort(port, timeout)
					metrics.ObserveProbeDuration(rec.ServerID, time.Since(probeStart).Seconds())
				}
			}
		} else {
			m.tracker.MarkDied(rec.ServerID, "process not alive")
		}
		statuses[rec.ServerID] = st
	}

	metrics.IncHealthTick()
	metrics.SetRunningServers(alive)

	if m.bus != nil {
		_ = events.Publish(m.bus, events.TopicHealthCheck, events.HealthCheckEvent{
			At:      now,
			Tracked: len(statuses),
			Alive:   alive,
		})
	}

	m.mu.Lock()
	prev := m.last
	m.last = statuses
	m.mu.Unlock()

	for id, st := range statuses {
		if old, ok := prev[id]; ok && statusEqual(old, st) {
			continue
		}
		if m.bus != nil {
			_ = events.Publish(m.bus, events.TopicHealthStatusChanged, events.HealthStatusChangedEvent{
				ServerID: id,
				IsAlive:  st.IsAlive,
				Ports:    st.Ports,
				At:       now,
			})
		}
	}
}

// statusEqual ignores LastCheckedAt; only liveness and port reachability
// count as a change.
func statusEqual(a, b Status) bool {
	if a.IsAlive != b.IsAlive || len(a.Ports) != len(b.Ports) {
		return false
	}
	for port, up := range a.Ports {
		if b.Ports[port] != up {
			return false
		}
	}
	return true
}

func probePort(port int, timeout time.Duration) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
