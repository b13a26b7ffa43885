package core

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// task is one scheduled delivery.
type task func()

// lane is a FIFO mailbox drained by a single goroutine. The queue is
// unbounded so that scheduling never blocks, including when a worker running
// on the lane schedules more work onto it.
type lane struct {
	id    int
	mu    sync.Mutex
	queue []task

	// Wake signal; buffered so a push between take and select is not lost
	wake chan struct{}
}

func newLane(id int) *lane {
	return &lane{id: id, wake: make(chan struct{}, 1)}
}

func (l *lane) push(t task) {
	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *lane) take() []task {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.queue
	l.queue = nil
	return batch
}

func (l *lane) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// run is the lane's processing loop. On cancellation it drains what is left
// before returning.
func (l *lane) run(ctx context.Context) error {
	for {
		for _, t := range l.take() {
			t()
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			for batch := l.take(); len(batch) > 0; batch = l.take() {
				for _, t := range batch {
					t()
				}
			}
			return nil
		}
	}
}

// scheduler spreads deliveries over lanes by address so that each address
// keeps FIFO order while different addresses run in parallel.
type scheduler struct {
	lanes []*lane

	// Guards stopped; held for reading while pushing so that every accepted
	// task is visible to the final drain
	mu      sync.RWMutex
	stopped bool

	cancel context.CancelFunc
	group  *errgroup.Group
	logger *zap.Logger
}

func newScheduler(n int, logger *zap.Logger) *scheduler {
	if n <= 0 {
		n = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	s := &scheduler{
		lanes:  make([]*lane, n),
		cancel: cancel,
		group:  group,
		logger: logger,
	}
	for i := range s.lanes {
		l := newLane(i)
		s.lanes[i] = l
		group.Go(func() error {
			return l.run(gctx)
		})
	}

	logger.Debug("scheduler started", zap.Int("lanes", n))
	return s
}

// laneFor maps a canonical address to its lane.
func (s *scheduler) laneFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(s.lanes)))
}

// schedule queues t on a lane. It returns false once the scheduler stopped.
func (s *scheduler) schedule(laneID int, t task) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return false
	}
	s.lanes[laneID].push(t)
	return true
}

// pending returns the number of queued, not yet started deliveries.
func (s *scheduler) pending() int {
	total := 0
	for _, l := range s.lanes {
		total += l.pending()
	}
	return total
}

// stop rejects new tasks, lets the lanes drain and waits for them.
func (s *scheduler) stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.group.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
