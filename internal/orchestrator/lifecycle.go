package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/warden/internal/detector"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/process"
)

var (
	// ErrAlreadyInitialized reports a second Initialize.
	ErrAlreadyInitialized = errors.New("orchestrator already initialized")
	// ErrShutDown reports use after Shutdown; the orchestrator is single-use.
	ErrShutDown = errors.New("orchestrator is shut down")
)

// Initialize loads persisted state, reattaches the children that survived,
// subscribes persistence and history to the lifecycle topics, and starts the
// health monitor. Call it exactly once.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()
	if o.closed {
		return ErrShutDown
	}
	if o.initialized {
		return ErrAlreadyInitialized
	}

	if o.st != nil {
		if err := o.st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("state store schema: %w", err)
		}
	}

	o.subscribeTransitions()
	o.reattachPersisted(ctx)
	o.mon.Start(o.interval)
	o.initialized = true
	return nil
}

// Shutdown stops the monitor, kills every child, flushes the final snapshot
// and releases the sinks and the event subject. Safe to call more than once.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.initMu.Lock()
	defer o.initMu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.initialized = false

	o.mon.Stop()
	o.mgr.Shutdown(ctx)
	o.persistState(ctx)

	for _, sink := range o.sinks {
		if err := sink.Close(); err != nil {
			o.log.Warn("close history sink failed", "error", err)
		}
	}
	if o.st != nil {
		if err := o.st.Close(); err != nil {
			o.log.Warn("close state store failed", "error", err)
		}
	}
	events.Complete(o.bus)
}

// reattachPersisted reads the snapshot once and adopts what still checks
// out: the pid must be alive and its OS start time must match the recorded
// one, so a recycled pid is never claimed. Everything else is dropped and
// the cleaned snapshot written back.
func (o *Orchestrator) reattachPersisted(ctx context.Context) {
	if o.st == nil {
		return
	}
	recs, err := o.st.Load(ctx)
	if err != nil {
		o.log.Warn("state snapshot unreadable, starting empty", "error", err)
		return
	}
	for _, rec := range recs {
		if !rec.Live() {
			continue
		}
		if !detector.IdentityMatches(rec.PID, rec.StartTimeUnix) {
			o.log.Info("dropping stale record", "server", rec.ServerID, "pid", rec.PID)
			continue
		}
		if err := o.mgr.Reattach(rec); err != nil {
			o.log.Warn("reattach failed", "server", rec.ServerID, "pid", rec.PID, "error", err)
			continue
		}
		o.log.Info("reattached surviving process", "server", rec.ServerID, "pid", rec.PID)
		metrics.IncReattach(rec.ServerID)
		_ = events.Publish(o.bus, events.TopicServerReattached, events.ServerReattachedEvent{
			ServerID: rec.ServerID,
			PID:      rec.PID,
			At:       time.Now().UTC(),
		})
	}
	o.persistState(ctx)
}

// subscribeTransitions wires state persistence and the history sinks to the
// four lifecycle topics. The snapshot is rewritten after every transition.
func (o *Orchestrator) subscribeTransitions() {
	events.Subscribe(o.bus, events.TopicServerStarted, func(ctx context.Context, evt events.ServerStartedEvent) error {
		o.onTransition(ctx, history.EventStart, evt.ServerID, evt.PID)
		return nil
	})
	events.Subscribe(o.bus, events.TopicServerStopped, func(ctx context.Context, evt events.ServerStoppedEvent) error {
		o.onTransition(ctx, history.EventStop, evt.ServerID, evt.PID)
		return nil
	})
	events.Subscribe(o.bus, events.TopicServerReattached, func(ctx context.Context, evt events.ServerReattachedEvent) error {
		o.onTransition(ctx, history.EventReattach, evt.ServerID, evt.PID)
		return nil
	})
	events.Subscribe(o.bus, events.TopicProcessDied, func(ctx context.Context, evt events.ProcessDiedEvent) error {
		o.onTransition(ctx, history.EventDied, evt.ServerID, evt.PID)
		return nil
	})
}

func (o *Orchestrator) onTransition(ctx context.Context, typ history.EventType, id string, pid int) {
	o.persistState(ctx)
	if len(o.sinks) == 0 {
		return
	}
	rec, ok := o.mgr.Get(id)
	if !ok || rec.PID != pid {
		// The record is already gone (explicit stop removes it); rebuild
		// the essentials for the audit row.
		rec = process.Record{ServerID: id, PID: pid}
		switch typ {
		case history.EventStop:
			rec.Status = process.StatusStopped
		case history.EventDied:
			rec.Status = process.StatusDied
		}
	}
	evt := history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}
	for _, sink := range o.sinks {
		if err := sink.Send(ctx, evt); err != nil {
			o.log.Warn("history sink send failed", "type", string(typ), "server", id, "error", err)
		}
	}
}

// persistState overwrites the snapshot with the current non-terminal
// records. Failures are logged; persistence never blocks an operation.
func (o *Orchestrator) persistState(ctx context.Context) {
	if o.st == nil {
		return
	}
	live := make([]process.Record, 0)
	for _, rec := range o.mgr.Records() {
		if rec.Live() {
			live = append(live, rec)
		}
	}
	if err := o.st.Save(ctx, live); err != nil {
		o.log.Warn("persist state failed", "error", err)
	}
}
