// Package rebuild runs cache rebuild jobs on a fixed pool of workers.
//
// Submit never waits for a job: it either queues it or fails fast. Job
// errors and panics stay inside the pool; they are recorded on the Task and
// handed to Options.Report, never returned to the submitter.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrQueueFull = errors.New("rebuild: queue full")
	ErrClosed    = errors.New("rebuild: executor closed")
)

// Job is the body of a rebuild. ctx is cancelled when the executor is
// closed with a deadline that expires before the job finishes.
type Job func(ctx context.Context) error

type Options struct {
	Workers int // 0 => 10
	Queue   int // 0 => 1024
	// Report is called on the worker goroutine after every job, successful or
	// not. Must not block for long.
	Report func(t *Task)
}

type Executor struct {
	q      chan *Task
	report func(*Task)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex // guards closed against the send in Submit
	closed bool

	wg   sync.WaitGroup
	once sync.Once
}

func New(opts Options) *Executor {
	workers := opts.Workers
	if workers <= 0 {
		workers = 10
	}
	qlen := opts.Queue
	if qlen <= 0 {
		qlen = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		q:      make(chan *Task, qlen),
		report: opts.Report,
		ctx:    ctx,
		cancel: cancel,
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer e.wg.Done()
			for t := range e.q {
				e.run(t)
			}
		}()
	}
	return e
}

// Submit queues job under name. It returns immediately.
func (e *Executor) Submit(name string, job Job) (*Task, error) {
	t := &Task{name: name, job: job, done: make(chan struct{}), submitted: time.Now()}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	select {
	case e.q <- t:
		return t, nil
	default:
		return nil, ErrQueueFull
	}
}

func (e *Executor) run(t *Task) {
	t.started = time.Now()
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("rebuild: job %q panicked: %v", t.name, r)
		}
		t.finished = time.Now()
		close(t.done)
		if e.report != nil {
			e.report(t)
		}
	}()
	t.err = t.job(e.ctx)
}

// Close stops intake, lets queued jobs finish and waits for the workers.
// If ctx ends first, running jobs see their context cancelled and Close
// returns ctx.Err() without waiting further.
func (e *Executor) Close(ctx context.Context) error {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.q)
		e.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

// Task is the handle of a submitted job.
type Task struct {
	name string
	job  Job

	submitted time.Time
	started   time.Time
	finished  time.Time

	done chan struct{}
	err  error
}

func (t *Task) Name() string { return t.name }

// Done is closed once the job has returned (or panicked).
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the job's error once Done is closed, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the job is done or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDelay is the time spent waiting for a worker. Valid after Done.
func (t *Task) QueueDelay() time.Duration { return t.started.Sub(t.submitted) }

// Duration is the job's run time. Valid after Done.
func (t *Task) Duration() time.Duration { return t.finished.Sub(t.started) }
