package health

import (
	"context"
	"net"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/process"
)

// fakeTracker is a minimal in-memory stand-in for the process manager.
type fakeTracker struct {
	mu   sync.Mutex
	recs map[string]process.Record
	died map[string]string
}

func newFakeTracker(recs ...process.Record) *fakeTracker {
	ft := &fakeTracker{recs: make(map[string]process.Record), died: make(map[string]string)}
	for _, rec := range recs {
		ft.recs[rec.ServerID] = rec
	}
	return ft
}

func (ft *fakeTracker) Records() []process.Record {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]process.Record, 0, len(ft.recs))
	for _, rec := range ft.recs {
		out = append(out, rec)
	}
	return out
}

func (ft *fakeTracker) MarkDied(id, reason string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.died[id] = reason
	rec := ft.recs[id]
	rec.Status = process.StatusDied
	ft.recs[id] = rec
}

func (ft *fakeTracker) diedReason(id string) (string, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	reason, ok := ft.died[id]
	return reason, ok
}

func emptyLookup(string) (process.ServerConfig, bool) {
	return process.ServerConfig{}, false
}

// reapedPID returns a pid that existed but is now gone from the process
// table.
func reapedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run helper process: %v", err)
	}
	return cmd.Process.Pid
}

func TestTickReportsDeadProcess(t *testing.T) {
	// Ticks are driven directly here, so dispatch stays on this goroutine
	// and the slice needs no locking.
	bus := events.NewSubject()
	var checks []events.HealthCheckEvent
	events.Subscribe(bus, events.TopicHealthCheck, func(_ context.Context, evt events.HealthCheckEvent) error {
		checks = append(checks, evt)
		return nil
	})

	ft := newFakeTracker(
		process.Record{ServerID: "alive", PID: os.Getpid(), Status: process.StatusRunning},
		process.Record{ServerID: "gone", PID: reapedPID(t), Status: process.StatusRunning},
	)
	mon := NewMonitor(ft, emptyLookup, bus)

	mon.tick()

	if reason, ok := ft.diedReason("gone"); !ok || reason != "process not alive" {
		t.Fatalf("dead pid not reported: reason=%q ok=%v", reason, ok)
	}
	if _, ok := ft.diedReason("alive"); ok {
		t.Fatal("live pid wrongly reported dead")
	}

	if len(checks) != 1 {
		t.Fatalf("health.check events = %d, want 1", len(checks))
	}
	if checks[0].Tracked != 2 || checks[0].Alive != 1 {
		t.Errorf("tick counts tracked=%d alive=%d, want 2/1", checks[0].Tracked, checks[0].Alive)
	}

	// The record is terminal now; the next tick tracks one fewer.
	mon.tick()
	last := checks[len(checks)-1]
	if last.Tracked != 1 || last.Alive != 1 {
		t.Errorf("second tick tracked=%d alive=%d, want 1/1", last.Tracked, last.Alive)
	}
}

func TestPortProbeAndDebounce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	bus := events.NewSubject()
	var changes []events.HealthStatusChangedEvent
	events.Subscribe(bus, events.TopicHealthStatusChanged, func(_ context.Context, evt events.HealthStatusChangedEvent) error {
		changes = append(changes, evt)
		return nil
	})

	ft := newFakeTracker(process.Record{ServerID: "web", PID: os.Getpid(), Status: process.StatusRunning})
	lookup := func(id string) (process.ServerConfig, bool) {
		if id != "web" {
			return process.ServerConfig{}, false
		}
		return process.ServerConfig{ID: "web", Command: "irrelevant", Ports: []int{port}}, true
	}
	mon := NewMonitor(ft, lookup, bus)
	mon.SetProbeTimeout(200 * time.Millisecond)

	// First observation is a change by definition.
	mon.tick()
	if len(changes) != 1 {
		t.Fatalf("changes after first tick = %d, want 1", len(changes))
	}
	if !changes[0].IsAlive || !changes[0].Ports[port] {
		t.Fatalf("first change = %+v, want alive with port up", changes[0])
	}

	// Unchanged health is debounced.
	mon.tick()
	mon.tick()
	if len(changes) != 1 {
		t.Fatalf("changes after stable ticks = %d, want still 1", len(changes))
	}

	// Dropping the listener flips the port and emits exactly one more.
	_ = ln.Close()
	mon.tick()
	mon.tick()
	if len(changes) != 2 {
		t.Fatalf("changes after listener close = %d, want 2", len(changes))
	}
	if changes[1].Ports[port] {
		t.Fatalf("port still reported up after close: %+v", changes[1])
	}
}

func TestTickCadenceWithNothingTracked(t *testing.T) {
	bus := events.NewSubject()
	var mu sync.Mutex
	count := 0
	events.Subscribe(bus, events.TopicHealthCheck, func(_ context.Context, evt events.HealthCheckEvent) error {
		mu.Lock()
		count++
		mu.Unlock()
		if evt.Tracked != 0 {
			t.Errorf("tracked = %d, want 0", evt.Tracked)
		}
		return nil
	})

	mon := NewMonitor(newFakeTracker(), emptyLookup, bus)
	mon.Start(20 * time.Millisecond)
	mon.Start(20 * time.Millisecond) // second start is a no-op
	time.Sleep(250 * time.Millisecond)
	mon.Stop()

	mu.Lock()
	got := count
	mu.Unlock()
	// 250ms at a 20ms interval; allow generous scheduling slack.
	if got < 8 {
		t.Fatalf("ticks = %d, want at least 8", got)
	}

	// No ticks once stopped, and Stop stays idempotent.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()
	if after != got {
		t.Fatalf("ticks continued after Stop: %d -> %d", got, after)
	}
	mon.Stop()
}
