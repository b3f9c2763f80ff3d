package rebuild

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsJobAndReports(t *testing.T) {
	var reported []*Task
	var mu sync.Mutex
	e := New(Options{Workers: 2, Report: func(t *Task) {
		mu.Lock()
		reported = append(reported, t)
		mu.Unlock()
	}})
	defer e.Close(context.Background())

	var ran atomic.Bool
	task, err := e.Submit("shop:1", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := task.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("job did not run")
	}
	if task.Name() != "shop:1" || task.Duration() < 0 || task.QueueDelay() < 0 {
		t.Fatalf("unexpected task metadata: %q %v %v", task.Name(), task.Duration(), task.QueueDelay())
	}

	_ = e.Close(context.Background())
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || reported[0] != task {
		t.Fatalf("report not called exactly once for the task: %d", len(reported))
	}
}

func TestSubmitDoesNotBlockOnSlowJob(t *testing.T) {
	e := New(Options{Workers: 1, Queue: 4})
	release := make(chan struct{})
	defer func() {
		close(release)
		_ = e.Close(context.Background())
	}()

	start := time.Now()
	if _, err := e.Submit("slow", func(context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("Submit waited for the job")
	}
}

func TestJobErrorStaysOnTask(t *testing.T) {
	e := New(Options{Workers: 1})
	defer e.Close(context.Background())

	boom := errors.New("db down")
	task, err := e.Submit("k", func(context.Context) error { return boom })
	if err != nil {
		t.Fatalf("Submit must not surface job errors: %v", err)
	}
	<-task.Done()
	if !errors.Is(task.Err(), boom) {
		t.Fatalf("task err=%v", task.Err())
	}
}

func TestPanicIsRecovered(t *testing.T) {
	var reported atomic.Pointer[Task]
	e := New(Options{Workers: 1, Report: func(t *Task) { reported.Store(t) }})
	defer e.Close(context.Background())

	task, _ := e.Submit("k", func(context.Context) error { panic("nil map") })
	err := task.Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}

	// the worker survived
	next, _ := e.Submit("k2", func(context.Context) error { return nil })
	if err := next.Wait(context.Background()); err != nil {
		t.Fatalf("worker dead after panic: %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	e := New(Options{Workers: 1, Queue: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	defer func() {
		close(block)
		_ = e.Close(context.Background())
	}()

	_, _ = e.Submit("running", func(context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started
	if _, err := e.Submit("queued", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("queue slot should be free: %v", err)
	}
	if _, err := e.Submit("overflow", func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 3
	e := New(Options{Workers: workers, Queue: 64})

	var cur, peak atomic.Int32
	var tasks []*Task
	for i := 0; i < 30; i++ {
		task, err := e.Submit("k", func(context.Context) error {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		tasks = append(tasks, task)
	}
	for _, task := range tasks {
		_ = task.Wait(context.Background())
	}
	_ = e.Close(context.Background())
	if peak.Load() > workers {
		t.Fatalf("peak concurrency %d > %d workers", peak.Load(), workers)
	}
}

func TestCloseDrainsAndRejects(t *testing.T) {
	e := New(Options{Workers: 1})
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		_, _ = e.Submit("k", func(context.Context) error {
			time.Sleep(time.Millisecond)
			n.Add(1)
			return nil
		})
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n.Load() != 5 {
		t.Fatalf("queued jobs not drained: %d", n.Load())
	}
	if _, err := e.Submit("late", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseDeadlineCancelsJobs(t *testing.T) {
	e := New(Options{Workers: 1})
	sawCancel := make(chan struct{})
	_, _ = e.Submit("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		close(sawCancel)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatalf("job context was not cancelled")
	}
}
