package render

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/drummonds/goview/render/backend"
)

// TaskState is the lifecycle of one render task.
type TaskState int

const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskCompleted
	TaskCancelled
	TaskFailed
)

// Task is one unit of render work: rasterize one page at one scale into one
// target. At most one live task exists per page; a newer enqueue for the
// same page supersedes the older one.
type Task struct {
	Page     int
	Scale    Scale
	Target   *Target
	Priority Priority
	Tile     *image.Rectangle

	ctx    context.Context
	cancel context.CancelFunc
	state  TaskState
}

// State returns the task's lifecycle state.
func (t *Task) State() TaskState { return t.state }

// RenderFunc performs the actual rasterization for a task. It runs on a
// queue goroutine and must honour ctx cancellation.
type RenderFunc func(ctx context.Context, task *Task) error

// QueueStats is a snapshot of queue occupancy.
type QueueStats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// Queue is a priority-ordered, bounded-concurrency, cancellable scheduler
// over backend render calls. Bookkeeping is mutex-guarded; renders run on
// goroutines spawned by the advance loop, never more than maxConcurrency at
// once.
type Queue struct {
	// OnSettled, when set, is invoked after every task finishes for any
	// reason (success, failure or cancellation), including tasks dropped
	// from the queue before they ever ran. Set before first use.
	OnSettled func(task *Task, err error)

	// OnError, when set, is invoked for non-cancellation render failures.
	// The queue never retries; re-enqueue is the caller's decision.
	OnError func(page int, err error)

	mu             sync.Mutex
	render         RenderFunc
	queued         []*Task
	running        map[int]*Task
	inFlight       int
	maxConcurrency int
}

// NewQueue creates a queue executing tasks through render. A concurrency of
// zero pauses the queue until SetMaxConcurrency raises it.
func NewQueue(render RenderFunc, maxConcurrency int) *Queue {
	if maxConcurrency < 0 {
		maxConcurrency = 0
	}
	return &Queue{
		render:         render,
		running:        make(map[int]*Task),
		maxConcurrency: maxConcurrency,
	}
}

// Enqueue schedules a render for page, superseding any live task for the
// same page first. The returned closure cancels exactly this task and
// nothing else.
func (q *Queue) Enqueue(page int, scale Scale, target *Target, priority Priority, tile *image.Rectangle) func() {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		Page:     page,
		Scale:    scale,
		Target:   target,
		Priority: priority,
		Tile:     tile,
		ctx:      ctx,
		cancel:   cancel,
		state:    TaskQueued,
	}

	q.mu.Lock()
	dropped := q.cancelPageLocked(page)
	q.queued = append(q.queued, task)
	sort.SliceStable(q.queued, func(i, j int) bool {
		if q.queued[i].Priority != q.queued[j].Priority {
			return q.queued[i].Priority > q.queued[j].Priority
		}
		return q.queued[i].Page < q.queued[j].Page
	})
	q.mu.Unlock()

	q.settleDropped(dropped)
	q.advance()

	return func() {
		q.mu.Lock()
		task.cancel()
		dropped := q.dropQueuedLocked(func(t *Task) bool { return t == task })
		q.mu.Unlock()
		q.settleDropped(dropped)
	}
}

// CancelTask cancels the live task for page, whether queued or running.
func (q *Queue) CancelTask(page int) {
	q.mu.Lock()
	dropped := q.cancelPageLocked(page)
	q.mu.Unlock()
	q.settleDropped(dropped)
}

// CancelLowPriority drops every queued task strictly below threshold.
// Running tasks are left alone; this sheds stale prefetch work after a large
// scroll jump without abandoning pages already being rendered.
func (q *Queue) CancelLowPriority(threshold Priority) {
	q.mu.Lock()
	dropped := q.dropQueuedLocked(func(t *Task) bool { return t.Priority < threshold })
	q.mu.Unlock()
	q.settleDropped(dropped)
}

// Clear cancels every queued and running task.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := q.dropQueuedLocked(func(t *Task) bool { return true })
	for _, t := range q.running {
		t.cancel()
	}
	q.mu.Unlock()
	q.settleDropped(dropped)
}

// SetMaxConcurrency updates the running budget and immediately advances the
// queue to fill newly available slots.
func (q *Queue) SetMaxConcurrency(n int) {
	if n < 0 {
		n = 0
	}
	q.mu.Lock()
	q.maxConcurrency = n
	q.mu.Unlock()
	q.advance()
}

// Stats returns current queued and running counts. Running counts every
// render goroutine still executing, cancelled or not.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Queued: len(q.queued), Running: q.inFlight}
}

// cancelPageLocked supersedes the live task for page: a queued task is
// removed outright, a running one gets its cancellation signalled. Removed
// queued tasks are returned for settlement outside the lock.
func (q *Queue) cancelPageLocked(page int) []*Task {
	dropped := q.dropQueuedLocked(func(t *Task) bool { return t.Page == page })
	if t, ok := q.running[page]; ok {
		t.cancel()
	}
	return dropped
}

func (q *Queue) dropQueuedLocked(match func(*Task) bool) []*Task {
	var dropped []*Task
	kept := q.queued[:0]
	for _, t := range q.queued {
		if match(t) {
			t.state = TaskCancelled
			t.cancel()
			dropped = append(dropped, t)
			continue
		}
		kept = append(kept, t)
	}
	q.queued = kept
	return dropped
}

// settleDropped fires OnSettled for tasks removed from the queue without
// ever running, so waiters blocked on a settlement always get one. Called
// without the lock held; the callback may re-enter the queue.
func (q *Queue) settleDropped(dropped []*Task) {
	if q.OnSettled == nil {
		return
	}
	for _, t := range dropped {
		q.OnSettled(t, context.Canceled)
	}
}

// advance starts queued tasks until the running budget is full. Highest
// priority first, ties broken by the lower page index; tasks cancelled while
// queued settle without running. The budget is a count of live render
// goroutines, so a superseded render keeps its slot until it actually
// returns.
func (q *Queue) advance() {
	for {
		q.mu.Lock()
		if q.inFlight >= q.maxConcurrency || len(q.queued) == 0 {
			q.mu.Unlock()
			return
		}
		task := q.queued[0]
		q.queued = q.queued[1:]
		if task.ctx.Err() != nil {
			task.state = TaskCancelled
			q.mu.Unlock()
			q.settleDropped([]*Task{task})
			continue
		}
		task.state = TaskRunning
		q.running[task.Page] = task
		q.inFlight++
		q.mu.Unlock()

		go q.run(task)
	}
}

// run executes one task and settles it. Errors never halt the queue; the
// advance loop keeps going whatever happened to this page.
func (q *Queue) run(task *Task) {
	err := q.render(task.ctx, task)

	q.mu.Lock()
	q.inFlight--
	if q.running[task.Page] == task {
		delete(q.running, task.Page)
	}
	switch {
	case err == nil:
		task.state = TaskCompleted
	case backend.IsCancellation(err):
		task.state = TaskCancelled
	default:
		task.state = TaskFailed
	}
	q.mu.Unlock()

	if err != nil && !backend.IsCancellation(err) {
		Logger.Error("Page render failed", "page", task.Page, "priority", task.Priority.String(), "error", err)
		if q.OnError != nil {
			q.OnError(task.Page, err)
		}
	}
	if q.OnSettled != nil {
		q.OnSettled(task, err)
	}

	q.advance()
}
