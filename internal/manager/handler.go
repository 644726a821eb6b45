package manager

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/warden/internal/detector"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/process"
)

// ctrlOp enumerates control message kinds handled by a handler.
type ctrlOp int

const (
	opSpawn ctrlOp = iota
	opKill
	opMarkDied
	opShutdown
)

// ctrlMsg is a control-plane message sent to a handler to serialize
// lifecycle transitions for one server id.
type ctrlMsg struct {
	op     ctrlOp
	cfg    process.ServerConfig
	reason string
	grace  time.Duration
	reply  chan ctrlReply
}

type ctrlReply struct {
	rec process.Record
	err error
}

// handler owns the record and the child handle for a single server id. All
// spawn/kill/died transitions go through its control channel; the mutex only
// guards snapshot reads and the exit waiter.
type handler struct {
	id   string
	ctrl chan ctrlMsg

	mu       sync.RWMutex
	rec      process.Record
	cmd      *exec.Cmd
	waitDone chan struct{}
	stopping bool

	// injected callbacks (no direct Manager dependency)
	mergeEnv  func(perServer []string) []string
	onStarted func(process.Record)
	onStopped func(process.Record)
	onDied    func(process.Record)
}

func newHandler(id string, mergeEnv func([]string) []string, onStarted, onStopped, onDied func(process.Record)) *handler {
	return &handler{
		id:        id,
		ctrl:      make(chan ctrlMsg, 16),
		mergeEnv:  mergeEnv,
		onStarted: onStarted,
		onStopped: onStopped,
		onDied:    onDied,
	}
}

func (h *handler) run() {
	for msg := range h.ctrl {
		switch msg.op {
		case opSpawn:
			rec, err := h.spawn(msg.cfg)
			msg.reply <- ctrlReply{rec: rec, err: err}
		case opKill:
			err := h.kill(msg.grace)
			msg.reply <- ctrlReply{err: err}
		case opMarkDied:
			h.markDied(msg.reason)
			if msg.reply != nil {
				msg.reply <- ctrlReply{}
			}
		case opShutdown:
			if err := h.kill(msg.grace); err != nil && !errors.Is(err, ErrNotFound) {
				msg.reply <- ctrlReply{err: err}
				return
			}
			msg.reply <- ctrlReply{}
			return
		}
	}
}

// spawn launches the configured command. A live record refuses the spawn; a
// terminal tombstone is replaced by the new record.
func (h *handler) spawn(cfg process.ServerConfig) (process.Record, error) {
	h.mu.RLock()
	cur := h.rec
	h.mu.RUnlock()
	if cur.ServerID != "" && cur.Live() {
		return cur, fmt.Errorf("%w: %s (pid %d)", ErrDuplicateStart, cfg.ID, cur.PID)
	}

	cmd := cfg.BuildCommand()
	cmd.Dir = cfg.WorkDir
	if h.mergeEnv != nil {
		cmd.Env = h.mergeEnv(cfg.Env)
	}
	process.ConfigureSysProcAttr(cmd)
	stdout, stderr := cfg.Log.Writers(cfg.ID)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		closeWriter(stdout)
		closeWriter(stderr)
		metrics.IncSpawnFailure(cfg.ID)
		return process.Record{}, fmt.Errorf("spawn %s: %w", cfg.ID, err)
	}

	pid := cmd.Process.Pid
	rec := process.Record{
		ServerID:      cfg.ID,
		PID:           pid,
		Status:        process.StatusStarting,
		StartedAt:     time.Now().UTC(),
		StartTimeUnix: detector.StartTimeUnix(pid),
	}
	// The OS has confirmed the child; promote before anyone can observe it.
	rec.Status = process.StatusRunning

	waitDone := make(chan struct{})
	h.mu.Lock()
	h.rec = rec
	h.cmd = cmd
	h.waitDone = waitDone
	h.stopping = false
	h.mu.Unlock()

	go h.waitFor(cmd, pid, waitDone, stdout, stderr)

	if h.onStarted != nil {
		h.onStarted(rec)
	}
	return rec, nil
}

// waitFor reaps the child and, unless a stop is in flight, flips the record
// to died. Runs once per spawn.
func (h *handler) waitFor(cmd *exec.Cmd, pid int, waitDone chan struct{}, stdout, stderr io.WriteCloser) {
	err := cmd.Wait()
	close(waitDone)
	closeWriter(stdout)
	closeWriter(stderr)

	h.mu.Lock()
	if h.stopping || h.rec.PID != pid || !h.rec.Live() {
		h.mu.Unlock()
		return
	}
	h.rec.Status = process.StatusDied
	h.rec.LastExitReason = process.ExitReason(err)
	rec := h.rec
	h.cmd = nil
	h.mu.Unlock()

	if h.onDied != nil {
		h.onDied(rec)
	}
}

// kill terminates the child and removes the record. Called without a record,
// or with a terminal tombstone, it reports ErrNotFound; the tombstone is
// cleared either way.
func (h *handler) kill(grace time.Duration) error {
	h.mu.Lock()
	rec := h.rec
	if rec.ServerID == "" {
		h.mu.Unlock()
		return ErrNotFound
	}
	if !rec.Live() {
		h.rec = process.Record{}
		h.cmd = nil
		h.waitDone = nil
		h.mu.Unlock()
		return ErrNotFound
	}
	h.stopping = true
	cmd := h.cmd
	waitDone := h.waitDone
	h.mu.Unlock()

	if grace <= 0 {
		grace = DefaultKillGrace
	}

	var killErr error
	if cmd != nil {
		killErr = h.killManaged(rec.PID, waitDone, grace)
	} else {
		// Reattached record, no wait handle: signal and poll.
		killErr = process.TerminatePID(rec.PID, grace)
		if errors.Is(killErr, process.ErrNoSuchProcess) {
			killErr = nil
		}
	}

	if killErr != nil {
		h.mu.Lock()
		h.stopping = false
		h.mu.Unlock()
		return fmt.Errorf("kill %s: %w", rec.ServerID, killErr)
	}

	h.mu.Lock()
	h.rec = process.Record{}
	h.cmd = nil
	h.waitDone = nil
	h.stopping = false
	h.mu.Unlock()

	if h.onStopped != nil {
		h.onStopped(rec)
	}
	return nil
}

// killManaged signals the child's process group and confirms the exit via
// the waiter. SIGTERM, bounded grace, then SIGKILL.
func (h *handler) killManaged(pid int, waitDone chan struct{}, grace time.Duration) error {
	if err := process.Signal(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal group %d: %w", pid, err)
	}
	select {
	case <-waitDone:
		return nil
	case <-time.After(grace):
	}
	if err := process.Signal(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("force kill group %d: %w", pid, err)
	}
	select {
	case <-waitDone:
		return nil
	case <-time.After(killConfirmWait):
		return fmt.Errorf("pid %d did not exit after SIGKILL", pid)
	}
}

// markDied flips a live record to died on the monitor's word. Conservative:
// a stop in flight or an already-terminal record wins.
func (h *handler) markDied(reason string) {
	h.mu.Lock()
	if h.stopping || h.rec.ServerID == "" || !h.rec.Live() {
		h.mu.Unlock()
		return
	}
	h.rec.Status = process.StatusDied
	h.rec.LastExitReason = reason
	rec := h.rec
	h.cmd = nil
	h.mu.Unlock()

	if h.onDied != nil {
		h.onDied(rec)
	}
}

// seed installs a reattached record with no child handle. Refused when a
// live record already owns the id.
func (h *handler) seed(rec process.Record) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rec.ServerID != "" && h.rec.Live() {
		return false
	}
	rec.Status = process.StatusRunning
	h.rec = rec
	h.cmd = nil
	h.waitDone = nil
	h.stopping = false
	return true
}

// Record returns a snapshot and whether any record (live or tombstone)
// exists.
func (h *handler) Record() (process.Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rec, h.rec.ServerID != ""
}

func closeWriter(w io.WriteCloser) {
	if w != nil {
		_ = w.Close()
	}
}
