package engine

import "sync"

// Pool is a single bounded task queue shared by every settlement flow. It
// starts min workers and grows on demand up to max; there is no nesting of
// pools and no per-stage queue.
type Pool struct {
	tasks chan func()
	max   int

	mu      sync.Mutex
	workers int
	wg      sync.WaitGroup
}

// NewPool builds a pool with min resident workers growing up to max.
func NewPool(min, max int) *Pool {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	p := &Pool{tasks: make(chan func()), max: max}
	p.mu.Lock()
	for i := 0; i < min; i++ {
		p.spawn()
	}
	p.mu.Unlock()
	return p
}

// spawn starts one worker. Caller holds p.mu.
func (p *Pool) spawn() {
	p.workers++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for task := range p.tasks {
			task()
		}
	}()
}

// Submit queues one task, growing the pool if every worker is busy and the
// max has not been reached. Blocks when the pool is saturated.
func (p *Pool) Submit(task func()) {
	select {
	case p.tasks <- task:
		return
	default:
	}

	p.mu.Lock()
	if p.workers < p.max {
		p.spawn()
	}
	p.mu.Unlock()

	p.tasks <- task
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}
