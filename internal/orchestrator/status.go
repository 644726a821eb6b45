package orchestrator

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/portscan"
	"github.com/loykin/warden/internal/process"
)

// StatusView is the reconciled dashboard projection for one registered
// server. Computed fresh on every query, never stored.
type StatusView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ColorTag    string `json:"colorTag,omitempty"`
	Running     bool   `json:"running"`
	Orphaned    bool   `json:"orphaned"`
	OrphanedPid string `json:"orphanedPid,omitempty"`
}

// Status scans the ports fresh and reconciles every registered server.
func (o *Orchestrator) Status(ctx context.Context) []StatusView {
	return o.ServerStatus(o.Ports(ctx))
}

// Ports runs a port scan. A scan failure degrades to an empty snapshot so
// reconciliation still reports manager-known state.
func (o *Orchestrator) Ports(ctx context.Context) []portscan.Entry {
	if o.scanner == nil {
		return nil
	}
	entries, err := o.scanner.Scan(ctx)
	if err != nil {
		o.log.Warn("port scan failed", "scanner", o.scanner.Describe(), "error", err)
		return nil
	}
	return entries
}

// ServerStatus reconciles every registered id against manager state and the
// given port snapshot, sorted by id.
func (o *Orchestrator) ServerStatus(snapshot []portscan.Entry) []StatusView {
	cfgs := o.Servers()
	views := make([]StatusView, 0, len(cfgs))
	orphans := 0
	for _, cfg := range cfgs {
		view := o.reconcile(cfg, snapshot)
		if view.Orphaned {
			orphans++
		}
		views = append(views, view)
	}
	metrics.SetOrphanedProcesses(orphans)
	return views
}

// reconcile derives one view: running when a live record exists or anything
// attributable to the server is listening; orphaned when the latter holds
// without the former.
func (o *Orchestrator) reconcile(cfg process.ServerConfig, snapshot []portscan.Entry) StatusView {
	view := StatusView{ID: cfg.ID, Name: cfg.Name, ColorTag: cfg.ColorTag}

	rec, ok := o.mgr.Get(cfg.ID)
	hasLive := ok && rec.Live()
	view.Running = hasLive

	matched := matchSnapshot(cfg, snapshot)
	if len(matched) > 0 {
		view.Running = true
		if !hasLive {
			view.Orphaned = true
			for _, e := range matched {
				if e.PID > 0 {
					view.OrphanedPid = strconv.Itoa(e.PID)
					break
				}
			}
		}
	}
	return view
}

// matchSnapshot returns the snapshot entries attributable to cfg: entries
// bound to a declared port, or, when no declared port is bound, entries
// whose program name matches the configured command.
func matchSnapshot(cfg process.ServerConfig, snapshot []portscan.Entry) []portscan.Entry {
	declared := make(map[int]bool, len(cfg.Ports))
	for _, p := range cfg.Ports {
		declared[p] = true
	}
	var byPort []portscan.Entry
	for _, e := range snapshot {
		if declared[e.Port] {
			byPort = append(byPort, e)
		}
	}
	if len(byPort) > 0 {
		return byPort
	}

	var byProgram []portscan.Entry
	for _, e := range snapshot {
		if matchByProgram(cfg.Command, e.Program) {
			byProgram = append(byProgram, e)
		}
	}
	return byProgram
}

// matchByProgram accepts whole-token equality between the snapshot entry's
// program basename and the command's tokens, lowercased. Substring matches
// do not count.
func matchByProgram(command, program string) bool {
	prog := strings.ToLower(filepath.Base(strings.TrimSpace(program)))
	if prog == "" || prog == "." || prog == "-" || command == "" {
		return false
	}
	for _, tok := range strings.Fields(strings.ToLower(command)) {
		if filepath.Base(tok) == prog {
			return true
		}
	}
	return false
}
