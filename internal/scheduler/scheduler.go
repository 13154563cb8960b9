// Package scheduler drives cron-timed starts. It holds a min-heap of
// pending events ordered by due-time and cooperatively fires Manager.start
// calls as each event comes due, re-arming itself for the following
// occurrence.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/kiwibes/kiwibes/internal/catalog"
	"github.com/kiwibes/kiwibes/internal/cronexpr"
	"github.com/kiwibes/kiwibes/internal/kerr"
	"github.com/kiwibes/kiwibes/internal/logger"
)

// tickInterval is the scheduler task's poll period. 100ms yields coarse
// second-granularity scheduling at negligible idle CPU cost.
const tickInterval = 100 * time.Millisecond

type kind int

const (
	start kind = iota
	cancel
	exit
)

// event is one entry in the heap: (kind, due-time, job-name).
type event struct {
	kind kind
	due  time.Time
	name string
}

// eventHeap is a container/heap.Interface ordered by due-time, earliest
// first. Equal due-times fire in arbitrary order.
type eventHeap []*event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Starter is the subset of the manager's contract the scheduler drives.
// Scoping the dependency to an interface keeps the scheduler->manager
// edge one-directional and easy to fake in tests.
type Starter interface {
	StartJob(name string) error
}

// Scheduler is the cron event loop.
type Scheduler struct {
	mu sync.Mutex
	h  eventHeap

	catalog *catalog.Catalog
	manager Starter
	log     *logger.Logger
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Call Start to launch its task.
func New(cat *catalog.Catalog, mgr Starter, log *logger.Logger) *Scheduler {
	return &Scheduler{
		catalog: cat,
		manager: mgr,
		log:     log,
		now:     time.Now,
	}
}

// Start launches the scheduler task.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop posts an EXIT event and joins the task. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	heap.Push(&s.h, &event{kind: exit, due: s.now()})
	s.mu.Unlock()

	if s.cancel != nil {
		s.wg.Wait()
	}
}

// Schedule resolves name's schedule to the next wall-clock instant and
// pushes a START event for it.
func (s *Scheduler) Schedule(name string) error {
	job, err := s.catalog.Get(name)
	if err != nil {
		return err
	}

	next, err := cronexpr.Next(job.Schedule, s.now())
	if err != nil {
		return kerr.Newf(kerr.JobScheduleInvalid, "job %q: %v", name, err)
	}

	s.mu.Lock()
	heap.Push(&s.h, &event{kind: start, due: next, name: name})
	s.mu.Unlock()
	return nil
}

// Unschedule marks every in-heap event for name as CANCEL without
// disturbing heap order.
func (s *Scheduler) Unschedule(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.h {
		if e.name == name && e.kind != cancel {
			e.kind = cancel
		}
	}
}

// ListScheduled returns every name that appears in a non-CANCEL event.
func (s *Scheduler) ListScheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	names := make([]string, 0, len(s.h))
	for _, e := range s.h {
		if e.kind == cancel || e.name == "" {
			continue
		}
		if !seen[e.name] {
			seen[e.name] = true
			names = append(names, e.name)
		}
	}
	return names
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.runDue() {
				return
			}
		}
	}
}

// runDue processes every event whose due-time has passed, returning true
// if an EXIT event was encountered and the task should stop.
func (s *Scheduler) runDue() bool {
	for {
		e, ok := s.popDue()
		if !ok {
			return false
		}

		switch e.kind {
		case start:
			if err := s.manager.StartJob(e.name); err != nil {
				s.log.Error("scheduled start failed", err, logger.Field{Key: "job", Value: e.name})
			}
			if err := s.Schedule(e.name); err != nil {
				s.log.Error("failed to re-arm job", err, logger.Field{Key: "job", Value: e.name})
			}
		case cancel:
			// discard
		case exit:
			return true
		}
	}
}

// popDue pops and returns the top event if its due-time has passed.
func (s *Scheduler) popDue() (*event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.h.Len() == 0 {
		return nil, false
	}
	top := s.h[0]
	if top.due.After(s.now()) {
		return nil, false
	}
	return heap.Pop(&s.h).(*event), true
}
