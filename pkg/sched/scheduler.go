package sched

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dotlanth/dotvm/pkg/log"
	"github.com/dotlanth/dotvm/pkg/metrics"
	"github.com/dotlanth/dotvm/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Runnable is one unit of schedulable work: an execution context or a
// ParaDot child spawned from one. Run is invoked on a worker goroutine
// and must itself honor ctx cancellation between instructions.
type Runnable interface {
	ID() types.ContextID
	Priority() types.Priority
	Quota() types.ResourceQuota
	Run(ctx context.Context) error
}

// Scheduler is a fixed-size work-stealing pool with priority admission.
type Scheduler struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	queues  [4]*list.List // indexed by types.Priority
	workers []*workerQueue
	sem     *semaphore.Weighted
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type workerQueue struct {
	mu    sync.Mutex
	local *list.List
}

// New creates a Scheduler with n workers and a total admission weight
// (e.g. aggregate instruction budget across all running contexts).
func New(n int, totalWeight int64) *Scheduler {
	s := &Scheduler{
		logger: log.WithComponent("sched"),
		sem:    semaphore.NewWeighted(totalWeight),
		stopCh: make(chan struct{}),
	}
	for i := range s.queues {
		s.queues[i] = list.New()
	}
	s.workers = make([]*workerQueue, n)
	for i := range s.workers {
		s.workers[i] = &workerQueue{local: list.New()}
	}
	return s
}

// Start launches the worker goroutines.
func (s *Scheduler) Start() {
	for i := range s.workers {
		s.wg.Add(1)
		go s.runWorker(i)
	}
}

// Stop signals all workers to exit once their current runnable
// returns, and waits for them. Runnables still in a queue are not run.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Submit admits r into its priority queue. It blocks until the
// scheduler's resource budget has room for r's quota, or ctx is
// cancelled first.
func (s *Scheduler) Submit(ctx context.Context, r Runnable) error {
	weight := int64(r.Quota().MaxInstructions)
	if weight <= 0 {
		weight = 1
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return fmt.Errorf("admission: %w", err)
	}

	s.mu.Lock()
	q := s.queues[r.Priority()]
	q.PushBack(r)
	metrics.SchedulerQueueDepth.WithLabelValues(priorityLabel(r.Priority())).Set(float64(q.Len()))
	s.mu.Unlock()

	return nil
}

// SpawnChildren submits a set of ParaDot children concurrently,
// sharing this scheduler's budget. It returns once every child has
// been admitted to a queue, with the first admission error (if any);
// it does not wait for the children to run, and their Run errors are
// logged by the worker rather than returned here.
func (s *Scheduler) SpawnChildren(ctx context.Context, children []Runnable) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range children {
		c := c
		g.Go(func() error {
			if err := s.Submit(gctx, c); err != nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) runWorker(idx int) {
	defer s.wg.Done()
	wq := s.workers[idx]

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		r := s.dequeue(wq, idx)
		if r == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		quota := r.Quota()
		weight := int64(quota.MaxInstructions)
		if weight <= 0 {
			weight = 1
		}

		ctx := context.Background()
		if err := r.Run(ctx); err != nil {
			s.logger.Error().Err(err).Str("context_id", string(r.ID())).Msg("execution context failed")
		}
		s.sem.Release(weight)
	}
}

// dequeue pulls the next runnable for worker idx: first its own local
// deque, then the shared priority queues (highest first), then it
// steals from the back of a neighboring worker's deque.
func (s *Scheduler) dequeue(wq *workerQueue, idx int) Runnable {
	wq.mu.Lock()
	if front := wq.local.Front(); front != nil {
		wq.local.Remove(front)
		wq.mu.Unlock()
		return front.Value.(Runnable)
	}
	wq.mu.Unlock()

	s.mu.Lock()
	for p := types.PriorityCritical; ; p-- {
		q := s.queues[p]
		if front := q.Front(); front != nil {
			q.Remove(front)
			metrics.SchedulerQueueDepth.WithLabelValues(priorityLabel(p)).Set(float64(q.Len()))
			s.mu.Unlock()
			return front.Value.(Runnable)
		}
		if p == types.PriorityLow {
			break
		}
	}
	s.mu.Unlock()

	return s.steal(idx)
}

// steal takes one item off the back of another worker's local deque.
func (s *Scheduler) steal(idx int) Runnable {
	for i, victim := range s.workers {
		if i == idx {
			continue
		}
		victim.mu.Lock()
		back := victim.local.Back()
		if back == nil {
			victim.mu.Unlock()
			continue
		}
		victim.local.Remove(back)
		victim.mu.Unlock()
		metrics.SchedulerStolenTotal.Inc()
		return back.Value.(Runnable)
	}
	return nil
}

func priorityLabel(p types.Priority) string {
	switch p {
	case types.PriorityCritical:
		return "critical"
	case types.PriorityHigh:
		return "high"
	case types.PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}
