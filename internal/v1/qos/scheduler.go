// Package qos bounds the number of in-flight processing tasks while
// honoring strict message priority.
package qos

import (
	"container/list"
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"framechat/internal/v1/logging"
	"framechat/internal/v1/metrics"
	"framechat/internal/v1/protocol"
)

// Task is a unit of message-processing work.
type Task func()

// DefaultMaxConcurrent is the task budget used when none is configured.
const DefaultMaxConcurrent = 10

// scanOrder is the fixed selection order across priority classes.
var scanOrder = []protocol.Priority{
	protocol.PriorityCritical,
	protocol.PriorityHigh,
	protocol.PriorityNormal,
	protocol.PriorityLow,
}

type item struct {
	seq  uint64
	task Task
}

// Scheduler maintains one FIFO queue per priority class in front of a
// bounded worker budget. Selection is strict priority, so lower classes
// can starve under sustained higher-class load. File chunks enter at LOW
// and yield to text and control traffic.
type Scheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queues   map[protocol.Priority]*list.List
	inFlight int
	max      int
	seq      uint64
}

// NewScheduler creates a scheduler with the given concurrency budget.
// A non-positive budget falls back to DefaultMaxConcurrent.
func NewScheduler(maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	s := &Scheduler{
		queues: map[protocol.Priority]*list.List{
			protocol.PriorityCritical: list.New(),
			protocol.PriorityHigh:     list.New(),
			protocol.PriorityNormal:   list.New(),
			protocol.PriorityLow:      list.New(),
		},
		max: maxConcurrent,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue accepts a task at the given priority and returns immediately.
// Priorities outside the enumerated range are clamped to NORMAL.
func (s *Scheduler) Enqueue(task Task, priority protocol.Priority) {
	if task == nil {
		return
	}
	if !priority.Valid() {
		priority = protocol.PriorityNormal
	}

	s.mu.Lock()
	s.seq++
	s.queues[priority].PushBack(item{seq: s.seq, task: task})
	metrics.SchedulerQueueDepth.WithLabelValues(priority.String()).Inc()
	s.dispatchLocked()
	s.mu.Unlock()
}

// dispatchLocked starts queued tasks while the budget allows, picking from
// the non-empty queue of highest priority, FIFO within a class.
// Callers must hold s.mu.
func (s *Scheduler) dispatchLocked() {
	for s.inFlight < s.max {
		it, priority, ok := s.popLocked()
		if !ok {
			return
		}
		s.inFlight++
		metrics.SchedulerInFlight.Set(float64(s.inFlight))
		go s.run(it, priority)
	}
}

func (s *Scheduler) popLocked() (item, protocol.Priority, bool) {
	for _, priority := range scanOrder {
		q := s.queues[priority]
		if front := q.Front(); front != nil {
			q.Remove(front)
			metrics.SchedulerQueueDepth.WithLabelValues(priority.String()).Dec()
			return front.Value.(item), priority, true
		}
	}
	return item{}, 0, false
}

// run executes one task. The in-flight counter is decremented on every
// completion path, including panic, so a failing task never wedges the
// scheduler.
func (s *Scheduler) run(it item, priority protocol.Priority) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerTaskPanics.Inc()
			logging.Error(context.Background(), "Scheduler task panicked",
				zap.Any("panic", r),
				zap.Uint64("seq", it.seq),
				zap.String("priority", priority.String()),
				zap.String("stack", string(debug.Stack())))
		}
		s.mu.Lock()
		s.inFlight--
		metrics.SchedulerInFlight.Set(float64(s.inFlight))
		s.dispatchLocked()
		if s.idleLocked() {
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}()

	it.task()
}

// InFlight returns the count of currently running tasks.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// QueueDepth returns the number of queued (not yet running) tasks.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := 0
	for _, q := range s.queues {
		depth += q.Len()
	}
	return depth
}

func (s *Scheduler) idleLocked() bool {
	if s.inFlight > 0 {
		return false
	}
	for _, q := range s.queues {
		if q.Len() > 0 {
			return false
		}
	}
	return true
}

// Drain blocks until all queued and in-flight tasks have completed, or
// the context is cancelled. In-flight tasks are never cancelled; they run
// to completion.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for !s.idleLocked() {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so its goroutine can exit once the scheduler
		// eventually idles.
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
		return ctx.Err()
	}
}
