package engine

import "sync"

// forEach runs fn over [0,n) on a bounded pool of goroutines. Each call
// writes only its own slot, so no result locking is needed.
func (e *Engine) forEach(n int, fn func(i int)) {
	if n == 0 {
		return
	}
	if e.workers == 1 || n == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.workers)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			fn(idx)
		}(i)
	}

	wg.Wait()
}
