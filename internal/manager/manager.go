// Package manager owns the process table. One control goroutine per server
// id serializes spawn, kill and death transitions, so racing operations on
// the same id resolve to exactly one winner; distinct ids proceed fully
// concurrently.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/warden/internal/env"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/process"
)

// DefaultKillGrace bounds how long a SIGTERM may go unanswered before the
// escalation to SIGKILL.
const DefaultKillGrace = 3 * time.Second

// killConfirmWait bounds the wait for the exit waiter after a SIGKILL.
const killConfirmWait = 2 * time.Second

var (
	// ErrDuplicateStart reports a spawn for an id that already has a live
	// record.
	ErrDuplicateStart = errors.New("server is already running")
	// ErrNotFound reports a kill for an id with no live record. It is the
	// normal double-stop outcome.
	ErrNotFound = errors.New("server is not running")
)

// Manager starts, stops and tracks child processes.
type Manager struct {
	mu        sync.RWMutex
	entries   map[string]*handler
	globalEnv []string
	grace     time.Duration

	bus *events.Subject
	log *slog.Logger
}

func NewManager(bus *events.Subject, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		entries: make(map[string]*handler),
		grace:   DefaultKillGrace,
		bus:     bus,
		log:     log,
	}
}

// SetGlobalEnv sets KEY=VALUE pairs layered under every server's own env.
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	m.globalEnv = append([]string(nil), kvs...)
	m.mu.Unlock()
}

// SetKillGrace overrides the SIGTERM grace used by Kill and KillAll.
func (m *Manager) SetKillGrace(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.grace = d
	m.mu.Unlock()
}

// Spawn launches cfg's command and records the child. At most one live
// record per id: a second spawn fails with ErrDuplicateStart and never
// replaces the first. A launch failure leaves no record behind.
func (m *Manager) Spawn(ctx context.Context, cfg process.ServerConfig) (process.Record, error) {
	if err := cfg.Validate(); err != nil {
		return process.Record{}, err
	}
	h := m.ensureHandler(cfg.ID)
	reply := make(chan ctrlReply, 1)
	select {
	case h.ctrl <- ctrlMsg{op: opSpawn, cfg: cfg, reply: reply}:
	case <-ctx.Done():
		return process.Record{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.rec, r.err
	case <-ctx.Done():
		return process.Record{}, ctx.Err()
	}
}

// Kill terminates the id's child and removes its record: SIGTERM to the
// process group, bounded grace, then SIGKILL. ErrNotFound when no live
// record exists; a died tombstone is cleared as part of that answer.
func (m *Manager) Kill(ctx context.Context, id string) error {
	m.mu.RLock()
	h := m.entries[id]
	grace := m.grace
	m.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	reply := make(chan ctrlReply, 1)
	select {
	case h.ctrl <- ctrlMsg{op: opKill, grace: grace, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case r := <-reply:
		if errors.Is(r.err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// KillAll stops everything with a record, concurrently. Best effort: kill
// failures are logged, not returned. Used at teardown.
func (m *Manager) KillAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id, h := range m.entries {
		if _, ok := h.Record(); ok {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.Kill(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
				m.log.Warn("kill during teardown failed", "server", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}

// Reattach adopts a liveness-confirmed record from a previous run. The
// record gets no child handle; Kill falls back to signal-and-poll and the
// health monitor detects its death.
func (m *Manager) Reattach(rec process.Record) error {
	if rec.ServerID == "" || rec.PID <= 0 {
		return fmt.Errorf("reattach: invalid record (id %q, pid %d)", rec.ServerID, rec.PID)
	}
	h := m.ensureHandler(rec.ServerID)
	if !h.seed(rec) {
		return fmt.Errorf("%w: %s", ErrDuplicateStart, rec.ServerID)
	}
	return nil
}

// MarkDied flips the id's record to died with the given reason. Called by
// the health monitor when the OS no longer knows the pid. Ignored when a
// stop is in flight or the record is already terminal.
func (m *Manager) MarkDied(id, reason string) {
	m.mu.RLock()
	h := m.entries[id]
	m.mu.RUnlock()
	if h == nil {
		return
	}
	reply := make(chan ctrlReply, 1)
	h.ctrl <- ctrlMsg{op: opMarkDied, reason: reason, reply: reply}
	<-reply
}

// Get returns the id's record, tombstones included.
func (m *Manager) Get(id string) (process.Record, bool) {
	m.mu.RLock()
	h := m.entries[id]
	m.mu.RUnlock()
	if h == nil {
		return process.Record{}, false
	}
	return h.Record()
}

// Records returns a snapshot of every record, sorted by server id.
func (m *Manager) Records() []process.Record {
	m.mu.RLock()
	hs := make([]*handler, 0, len(m.entries))
	for _, h := range m.entries {
		hs = append(hs, h)
	}
	m.mu.RUnlock()

	recs := make([]process.Record, 0, len(hs))
	for _, h := range hs {
		if rec, ok := h.Record(); ok {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ServerID < recs[j].ServerID })
	return recs
}

// Shutdown kills every child and winds down the control goroutines. Waits a
// bounded time per handler.
func (m *Manager) Shutdown(ctx context.Context) {
	m.KillAll(ctx)

	m.mu.Lock()
	entries := m.entries
	grace := m.grace
	m.entries = make(map[string]*handler)
	m.mu.Unlock()

	for _, h := range entries {
		reply := make(chan ctrlReply, 1)
		h.ctrl <- ctrlMsg{op: opShutdown, grace: grace, reply: reply}
		select {
		case <-reply:
		case <-time.After(grace + killConfirmWait):
			m.log.Warn("handler slow to shut down", "server", h.id)
		}
	}
}

// ensureHandler creates and runs the id's control goroutine if missing.
func (m *Manager) ensureHandler(id string) *handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.entries[id]
	if h == nil {
		h = newHandler(id, m.mergedEnv, m.publishStarted, m.publishStopped, m.publishDied)
		m.entries[id] = h
		go h.run()
	}
	return h
}

// mergedEnv layers the manager globals under the per-server pairs.
func (m *Manager) mergedEnv(perServer []string) []string {
	m.mu.RLock()
	global := m.globalEnv
	m.mu.RUnlock()
	return env.Merge(global, perServer)
}

func (m *Manager) publishStarted(rec process.Record) {
	metrics.IncStart(rec.ServerID)
	if m.bus == nil {
		return
	}
	evt := events.ServerStartedEvent{ServerID: rec.ServerID, PID: rec.PID, At: time.Now().UTC()}
	if err := events.Publish(m.bus, events.TopicServerStarted, evt); err != nil && !errors.Is(err, events.ErrCompleted) {
		m.log.Warn("publish server.started", "server", rec.ServerID, "error", err)
	}
}

func (m *Manager) publishStopped(rec process.Record) {
	metrics.IncStop(rec.ServerID)
	if m.bus == nil {
		return
	}
	evt := events.ServerStoppedEvent{ServerID: rec.ServerID, PID: rec.PID, At: time.Now().UTC()}
	if err := events.Publish(m.bus, events.TopicServerStopped, evt); err != nil && !errors.Is(err, events.ErrCompleted) {
		m.log.Warn("publish server.stopped", "server", rec.ServerID, "error", err)
	}
}

func (m *Manager) publishDied(rec process.Record) {
	metrics.IncDeath(rec.ServerID)
	if m.bus == nil {
		return
	}
	evt := events.ProcessDiedEvent{
		ServerID:   rec.ServerID,
		PID:        rec.PID,
		ExitReason: rec.LastExitReason,
		At:         time.Now().UTC(),
	}
	if err := events.Publish(m.bus, events.TopicProcessDied, evt); err != nil && !errors.Is(err, events.ErrCompleted) {
		m.log.Warn("publish process.died", "server", rec.ServerID, "error", err)
	}
}
