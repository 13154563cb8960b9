// Package manager owns the set of currently-running child processes. It
// consults the catalog for job descriptions, writes lifecycle transitions
// back to the catalog, and enforces "at most one concurrent execution per
// job" with a FIFO-by-count queue for additional start requests.
package manager

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/kiwibes/kiwibes/internal/catalog"
	"github.com/kiwibes/kiwibes/internal/kerr"
	"github.com/kiwibes/kiwibes/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// reapInterval is how often the reaper drains finished children. The
// spec-grounded value is the same order of magnitude as Nexbot's
// oneshotTicker poll, chosen for negligible idle CPU cost.
const reapInterval = 250 * time.Millisecond

// handle is one live child process tracked in active.
type handle struct {
	cmd *exec.Cmd
}

// completion is pushed by a child's watcher goroutine onto done once
// cmd.Wait returns, so the reaper never blocks waiting on any one child.
type completion struct {
	name string
	h    *handle
}

// Manager is the process table plus its background reaper.
type Manager struct {
	mu     sync.Mutex
	active map[string]*handle

	catalog *catalog.Catalog
	log     *logger.Logger
	metrics *Metrics

	done   chan completion
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Metrics is the set of Prometheus collectors the manager updates as
// processes are spawned, reaped, and queued.
type Metrics struct {
	ActiveProcesses prometheus.Gauge
	SpawnFailures   prometheus.Counter
	Completions     prometheus.Counter
	QueuedStarts    prometheus.Gauge
}

// NewMetrics registers the manager's collectors under reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiwibes",
			Subsystem: "manager",
			Name:      "active_processes",
			Help:      "Number of child processes currently running.",
		}),
		SpawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiwibes",
			Subsystem: "manager",
			Name:      "spawn_failures_total",
			Help:      "Number of start() calls that failed to launch a child process.",
		}),
		Completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiwibes",
			Subsystem: "manager",
			Name:      "completions_total",
			Help:      "Number of child processes reaped after exit.",
		}),
		QueuedStarts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiwibes",
			Subsystem: "manager",
			Name:      "queued_starts",
			Help:      "Sum of pending-start counters across all jobs.",
		}),
	}
	reg.MustRegister(m.ActiveProcesses, m.SpawnFailures, m.Completions, m.QueuedStarts)
	return m
}

// New creates a Manager bound to cat. Call Start to launch the reaper.
func New(cat *catalog.Catalog, log *logger.Logger, metrics *Metrics) *Manager {
	return &Manager{
		active:  make(map[string]*handle),
		catalog: cat,
		log:     log,
		metrics: metrics,
		done:    make(chan completion, 64),
	}
}

// Start launches the reaper task.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.reaperLoop(ctx)
}

// Stop hard-kills every running child, then joins the reaper task.
// Children that were running are not resumed on next start-up.
func (m *Manager) Stop() {
	m.StopAll()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// StartJob requests that name begin running. If the job is already active,
// the request is coalesced into the catalog's pending-start counter
// instead of spawning a second concurrent instance.
func (m *Manager) StartJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.active[name]; running {
		if err := m.catalog.IncrPending(name); err != nil {
			return err
		}
		if m.metrics != nil {
			m.metrics.QueuedStarts.Inc()
		}
		return nil
	}

	return m.spawnLocked(name)
}

// spawnLocked launches the child for name. Callers must hold m.mu.
func (m *Manager) spawnLocked(name string) error {
	job, err := m.catalog.Get(name)
	if err != nil {
		return err
	}

	cmd := exec.Command(job.Program[0], job.Program[1:]...)
	if err := cmd.Start(); err != nil {
		if m.metrics != nil {
			m.metrics.SpawnFailures.Inc()
		}
		return kerr.Newf(kerr.ProcessLaunchFailed, "failed to launch %q: %v", name, err)
	}

	h := &handle{cmd: cmd}
	m.active[name] = h
	if m.metrics != nil {
		m.metrics.ActiveProcesses.Inc()
	}

	if err := m.catalog.JobStarted(name); err != nil {
		m.log.Error("job_started failed after successful spawn", err, logger.Field{Key: "job", Value: name})
	}

	m.watch(name, h)
	return nil
}

// watch blocks on the child's exit in its own goroutine and reports the
// completion on m.done, so the caller and the reaper never block on any
// one child's lifetime.
func (m *Manager) watch(name string, h *handle) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("panic while waiting for child", fmt.Errorf("%v", r), logger.Field{Key: "job", Value: name})
			}
		}()

		_ = h.cmd.Wait()
		m.done <- completion{name: name, h: h}
	}()
}

// StopJob sends a hard-kill signal to the running child for name. The
// reaper handles the resulting exit; this has no effect on the pending
// queue.
func (m *Manager) StopJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, running := m.active[name]
	if !running {
		if _, err := m.catalog.Get(name); err != nil {
			return err
		}
		return kerr.Newf(kerr.JobIsNotRunning, "job %q is not running", name)
	}
	return killLocked(h)
}

// StopAll hard-kills every entry in active.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, h := range m.active {
		if err := killLocked(h); err != nil {
			m.log.Warn("failed to kill child during stop_all",
				logger.Field{Key: "job", Value: name}, logger.Field{Key: "error", Value: err})
		}
	}
}

func killLocked(h *handle) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// IsRunning reports whether name currently has a live process handle.
func (m *Manager) IsRunning(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.active[name]
	return running
}

// ListRunning returns the names of all jobs with an active handle.
func (m *Manager) ListRunning() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	return names
}

// reaperLoop drains finished children every reapInterval and applies the
// three-step reap sequence from the component design: retire the handle,
// record the completion, then consume one queued start, if any, by
// respawning the job.
func (m *Manager) reaperLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drain()
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case c := <-m.done:
			m.reap(c)
		default:
			return
		}
	}
}

func (m *Manager) reap(c completion) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[c.name]; !ok || current != c.h {
		// Already replaced or removed; nothing to do.
		return
	}
	delete(m.active, c.name)
	if m.metrics != nil {
		m.metrics.ActiveProcesses.Dec()
		m.metrics.Completions.Inc()
	}

	if err := m.catalog.JobStopped(c.name); err != nil {
		m.log.Error("job_stopped failed during reap", err, logger.Field{Key: "job", Value: c.name})
	}

	remaining, err := m.catalog.DecrPending(c.name)
	if err != nil {
		m.log.Error("decr_pending failed during reap", err, logger.Field{Key: "job", Value: c.name})
		return
	}
	if m.metrics != nil && remaining >= 0 {
		m.metrics.QueuedStarts.Dec()
	}
	if remaining < 0 {
		return
	}

	if err := m.spawnLocked(c.name); err != nil {
		m.log.Error("failed to respawn queued run", err, logger.Field{Key: "job", Value: c.name})
	}
}
