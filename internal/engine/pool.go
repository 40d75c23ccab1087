package engine

import (
	"fmt"
	"sync"

	"github.com/seantiz/proctor/internal/model"
)

// poolState tracks dispatcher initialization. Modelled explicitly so that
// concurrent first submissions cannot race a half-started pool.
type poolState int

const (
	poolNotStarted poolState = iota
	poolStarting
	poolReady
)

// Pool decouples submission from execution: Submit enqueues and returns
// immediately, and a fixed number of workers drain the queue, giving bounded
// concurrency. Workers are started lazily on the first submission; once
// started they run for the process lifetime. Each worker iteration is
// independent: a panic inside one execution is reported through onPanic and
// never kills the worker.
type Pool struct {
	name    string
	size    int
	startup func() error
	handler func(task *model.ExecutionTask)
	onPanic func(task *model.ExecutionTask, recovered any)

	mu    sync.Mutex
	cond  *sync.Cond
	state poolState
	queue []*model.ExecutionTask
}

// NewPool creates a pool of size workers. startup runs once before the
// workers launch; if it fails, the error propagates to the submitting caller
// and the pool resets so a later submission can retry.
func NewPool(name string, size int, startup func() error, handler func(*model.ExecutionTask), onPanic func(*model.ExecutionTask, any)) *Pool {
	p := &Pool{
		name:    name,
		size:    size,
		startup: startup,
		handler: handler,
		onPanic: onPanic,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Submit enqueues a task without blocking the caller. The first submission
// starts the dispatcher; a startup failure is returned to that caller and
// leaves the pool restartable.
func (p *Pool) Submit(task *model.ExecutionTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != poolReady {
		if err := p.startLocked(); err != nil {
			return err
		}
	}

	p.queue = append(p.queue, task)
	queueDepth.WithLabelValues(p.name).Set(float64(len(p.queue)))
	p.cond.Signal()
	return nil
}

// startLocked transitions NotStarted → Starting → Ready, launching the
// workers. Called with p.mu held.
func (p *Pool) startLocked() error {
	p.state = poolStarting
	if p.startup != nil {
		if err := p.startup(); err != nil {
			p.state = poolNotStarted
			return fmt.Errorf("start %s pool: %w", p.name, err)
		}
	}
	for range p.size {
		go p.worker()
	}
	p.state = poolReady
	return nil
}

// Depth returns the number of queued tasks not yet picked up by a worker.
func (p *Pool) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// worker drains the queue one task at a time for the process lifetime.
func (p *Pool) worker() {
	for {
		task := p.dequeue()
		p.runOne(task)
	}
}

// dequeue blocks until a task is available.
func (p *Pool) dequeue() *model.ExecutionTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		p.cond.Wait()
	}
	task := p.queue[0]
	p.queue = p.queue[1:]
	queueDepth.WithLabelValues(p.name).Set(float64(len(p.queue)))
	return task
}

// runOne executes a single task with panic isolation.
func (p *Pool) runOne(task *model.ExecutionTask) {
	defer func() {
		if r := recover(); r != nil {
			p.onPanic(task, r)
		}
	}()
	p.handler(task)
}
