package reconcile

import "sync"

// effectQueueDepth bounds each location's pending side-effect jobs. A full
// queue applies backpressure to the committer, which only happens when the
// cache or threshold backend has been slow for many commits in a row.
const effectQueueDepth = 128

// sideEffects runs post-commit work (cache write-through, threshold
// evaluation) on one goroutine per location. Commits for the same location
// keep their order; a slow backend never blocks the feed handler that
// produced the commit.
type sideEffects struct {
	mu     sync.Mutex
	queues map[string]chan func()
	wg     sync.WaitGroup
}

func newSideEffects() *sideEffects {
	return &sideEffects{queues: make(map[string]chan func())}
}

// enqueue hands a job to the location's worker, starting it on first use.
func (s *sideEffects) enqueue(locationID string, job func()) {
	s.mu.Lock()
	q, ok := s.queues[locationID]
	if !ok {
		q = make(chan func(), effectQueueDepth)
		s.queues[locationID] = q
		go func() {
			for j := range q {
				j()
				s.wg.Done()
			}
		}()
	}
	s.mu.Unlock()

	s.wg.Add(1)
	q <- job
}

// drain blocks until every queued job has run.
func (s *sideEffects) drain() {
	s.wg.Wait()
}
