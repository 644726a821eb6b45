// Package orchestrator ties the registry, the process manager, the health
// monitor, the port scanner and the state store together behind one facade.
// Business failures (unknown id, duplicate start, absent kill target) are
// normal Results; errors are reserved for validation and infrastructure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/health"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/manager"
	"github.com/loykin/warden/internal/portscan"
	"github.com/loykin/warden/internal/process"
	"github.com/loykin/warden/internal/store"
)

// Result is the public outcome of a start/stop/kill operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Options configures a new Orchestrator. Zero values fall back to defaults:
// no store, no history sinks, auto-detected scanner, 5s monitor interval.
type Options struct {
	Store           store.Store
	HistorySinks    []history.Sink
	Scanner         portscan.Scanner
	Logger          *slog.Logger
	KillGrace       time.Duration
	MonitorInterval time.Duration
	ProbeTimeout    time.Duration
	GlobalEnv       []string
}

// Orchestrator owns the server registry and the event subject. It is
// single-use: Initialize once, Shutdown once.
type Orchestrator struct {
	mu       sync.RWMutex
	registry map[string]process.ServerConfig

	mgr     *manager.Manager
	mon     *health.Monitor
	scanner portscan.Scanner
	st      store.Store
	sinks   []history.Sink
	bus     *events.Subject
	log     *slog.Logger

	interval time.Duration
	grace    time.Duration

	initMu      sync.Mutex
	initialized bool
	closed      bool
}

func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	scanner := opts.Scanner
	if scanner == nil {
		if s, err := portscan.Detect(); err == nil {
			scanner = s
		} else {
			log.Warn("no port scanner available, status will not see foreign listeners", "error", err)
		}
	}
	grace := opts.KillGrace
	if grace <= 0 {
		grace = manager.DefaultKillGrace
	}

	bus := events.NewSubject()
	mgr := manager.NewManager(bus, log)
	mgr.SetKillGrace(grace)
	if len(opts.GlobalEnv) > 0 {
		mgr.SetGlobalEnv(opts.GlobalEnv)
	}

	o := &Orchestrator{
		registry: make(map[string]process.ServerConfig),
		mgr:      mgr,
		scanner:  scanner,
		st:       opts.Store,
		sinks:    append([]history.Sink(nil), opts.HistorySinks...),
		bus:      bus,
		log:      log,
		interval: opts.MonitorInterval,
		grace:    grace,
	}
	o.mon = health.NewMonitor(mgr, o.lookup, bus)
	if opts.ProbeTimeout > 0 {
		o.mon.SetProbeTimeout(opts.ProbeTimeout)
	}
	return o
}

// Events returns the subject carrying lifecycle and health notifications.
func (o *Orchestrator) Events() *events.Subject { return o.bus }

// RegisterServer validates cfg and installs it, replacing any previous
// config for the id wholesale. A missing display name defaults to the id.
func (o *Orchestrator) RegisterServer(cfg process.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	o.mu.Lock()
	o.registry[cfg.ID] = cfg
	o.mu.Unlock()
	return nil
}

// RegisterServers installs cfgs in order, stopping at the first invalid one.
func (o *Orchestrator) RegisterServers(cfgs []process.ServerConfig) error {
	for _, cfg := range cfgs {
		if err := o.RegisterServer(cfg); err != nil {
			return fmt.Errorf("register server %q: %w", cfg.ID, err)
		}
	}
	return nil
}

// Records returns a snapshot of every tracked process record, sorted by
// server id. Terminal tombstones are included.
func (o *Orchestrator) Records() []process.Record {
	return o.mgr.Records()
}

// Servers returns the registered configs sorted by id.
func (o *Orchestrator) Servers() []process.ServerConfig {
	o.mu.RLock()
	cfgs := make([]process.ServerConfig, 0, len(o.registry))
	for _, cfg := range o.registry {
		cfgs = append(cfgs, cfg)
	}
	o.mu.RUnlock()
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].ID < cfgs[j].ID })
	return cfgs
}

func (o *Orchestrator) lookup(id string) (process.ServerConfig, bool) {
	o.mu.RLock()
	cfg, ok := o.registry[id]
	o.mu.RUnlock()
	return cfg, ok
}

// StartServer spawns the registered command for id. Unknown ids, duplicate
// starts and launch failures come back as false Results with a message, not
// as errors.
func (o *Orchestrator) StartServer(ctx context.Context, id string) Result {
	cfg, ok := o.lookup(id)
	if !ok {
		return Result{Message: fmt.Sprintf("server %q not found in registry", id)}
	}
	rec, err := o.mgr.Spawn(ctx, cfg)
	switch {
	case err == nil:
		return Result{Success: true, Message: fmt.Sprintf("server %q started (pid %d)", id, rec.PID)}
	case errors.Is(err, manager.ErrDuplicateStart):
		return Result{Message: fmt.Sprintf("server %q is already running (pid %d)", id, rec.PID)}
	default:
		return Result{Message: fmt.Sprintf("failed to start server %q: %v", id, err)}
	}
}

// StopServer kills id's child. Stopping a server that is not running is the
// normal idempotent outcome, reported as a false Result.
func (o *Orchestrator) StopServer(ctx context.Context, id string) Result {
	if _, ok := o.lookup(id); !ok {
		return Result{Message: fmt.Sprintf("server %q not found in registry", id)}
	}
	err := o.mgr.Kill(ctx, id)
	switch {
	case err == nil:
		return Result{Success: true, Message: fmt.Sprintf("server %q stopped", id)}
	case errors.Is(err, manager.ErrNotFound):
		return Result{Message: fmt.Sprintf("server %q is not running", id)}
	default:
		return Result{Message: fmt.Sprintf("failed to stop server %q: %v", id, err)}
	}
}
