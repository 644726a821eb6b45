package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSampler periodically samples CPU and memory usage of supervised
// children and exports them as per-server gauges. Servers that disappear
// between samples have their label values pruned.
type ResourceSampler struct {
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewResourceSampler creates a sampler ticking at the given interval.
func NewResourceSampler(interval time.Duration) *ResourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceSampler{
		interval: interval,
		stopCh:   make(chan struct{}),
		seen:     make(map[string]struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "server",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the supervised child.",
			}, []string{"server"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "server",
				Name:      "memory_mb",
				Help:      "Resident memory of the supervised child in MB.",
			}, []string{"server"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "server",
				Name:      "num_threads",
				Help:      "Thread count of the supervised child.",
			}, []string{"server"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "server",
				Name:      "num_fds",
				Help:      "Open file descriptors of the supervised child (Unix only).",
			}, []string{"server"},
		),
	}
}

// Register registers the sampler's gauges with the provided registerer.
func (s *ResourceSampler) Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, s.numFDs)
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. The pids callback returns the current
// server id to child pid mapping; only positive pids are sampled.
func (s *ResourceSampler) Start(ctx context.Context, pids func() map[string]int32) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sample(pids())
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (s *ResourceSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *ResourceSampler) sample(pids map[string]int32) {
	for id, pid := range pids {
		if pid <= 0 {
			continue
		}
		proc, err := process.NewProcess(pid)
		if err != nil {
			slog.Debug("resource sample skipped", "server", id, "pid", pid, "error", err)
			continue
		}
		cpu, err := proc.CPUPercent()
		if err != nil {
			cpu = 0
		}
		mem, err := proc.MemoryInfo()
		if err != nil {
			slog.Debug("resource sample skipped", "server", id, "pid", pid, "error", err)
			continue
		}
		s.cpuPercent.WithLabelValues(id).Set(cpu)
		s.memoryMB.WithLabelValues(id).Set(float64(mem.RSS) / 1024 / 1024)
		if threads, err := proc.NumThreads(); err == nil {
			s.numThreads.WithLabelValues(id).Set(float64(threads))
		}
		if runtime.GOOS != "windows" {
			if fds, err := proc.NumFDs(); err == nil {
				s.numFDs.WithLabelValues(id).Set(float64(fds))
			}
		}
		s.mu.Lock()
		s.seen[id] = struct{}{}
		s.mu.Unlock()
	}
	s.prune(pids)
}

// prune drops label values for servers no longer in the pid mapping.
func (s *ResourceSampler) prune(active map[string]int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.seen {
		if _, ok := active[id]; ok {
			continue
		}
		s.cpuPercent.DeleteLabelValues(id)
		s.memoryMB.DeleteLabelValues(id)
		s.numThreads.DeleteLabelValues(id)
		if runtime.GOOS != "windows" {
			s.numFDs.DeleteLabelValues(id)
		}
		delete(s.seen, id)
	}
}
