package usecase

import (
	"context"
	"sync"

	"BookmarkScout/internal/domain"
)

// workerPool executes submitted tasks on a fixed number of goroutines.
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	pool := &workerPool{tasks: make(chan func(), size*2)}
	pool.wg.Add(size)
	for i := 0; i < size; i++ {
		go pool.worker()
	}
	return pool
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		if fn != nil {
			fn()
		}
	}
}

func (p *workerPool) submit(fn func()) {
	p.tasks <- fn
}

// stop waits for queued tasks to drain.
func (p *workerPool) stop() {
	p.once.Do(func() {
		close(p.tasks)
		p.wg.Wait()
	})
}

// BatchResult pairs a bookmark with its run outcome.
type BatchResult struct {
	Bookmark domain.Bookmark
	Outcome  Outcome
	Err      error
}

// RunBatch processes bookmarks on a pool of workers. Results keep input order;
// bookmarks queued after ctx ends report ErrCancelled without running.
func (p *Pipeline) RunBatch(ctx context.Context, bookmarks []domain.Bookmark, mode Mode, workers int) []BatchResult {
	results := make([]BatchResult, len(bookmarks))
	pool := newWorkerPool(min(workers, max(len(bookmarks), 1)))

	for i, bookmark := range bookmarks {
		pool.submit(func() {
			results[i].Bookmark = bookmark
			if ctx.Err() != nil {
				results[i].Err = ErrCancelled
				return
			}
			results[i].Outcome, results[i].Err = p.Run(ctx, bookmark, mode)
		})
	}
	pool.stop()

	p.logger.Info("batch finished", "bookmarks", len(bookmarks), "workers", workers)
	return results
}

// keyedMutex serializes runs for the same bookmark id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedEntry{}
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
