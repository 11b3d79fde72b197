package transfer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// TaskState definitions
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Done reports whether the state is final
func (s TaskState) Done() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Runner executes one plan. *Engine implements it.
type Runner interface {
	Run(ctx context.Context, plan Plan, sink EventSink) error
}

// Task is a queued plan
type Task struct {
	ID   int
	Plan Plan

	ctx    context.Context
	cancel context.CancelFunc
	// queued is closed once the pending update has been sent
	queued chan struct{}

	mu       sync.Mutex
	state    TaskState
	progress Progress
	err      error
}

// State returns the current state and, once failed, the error
func (t *Task) State() (TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.err
}

// TaskUpdate is a snapshot of a task sent on the update channel
type TaskUpdate struct {
	TaskID   int
	PlanID   string
	Name     string
	State    TaskState
	Progress Progress
	Error    string
}

const progressInterval = 100 * time.Millisecond

// Queue runs plans through a Runner with bounded concurrency
type Queue struct {
	runner     Runner
	maxTasks   int
	tasks      []*Task
	taskChan   chan *Task
	updateChan chan TaskUpdate

	// Concurrency control
	sem chan struct{}

	// lastQueued is the queued channel of the newest task; pending updates
	// are sent in Enqueue order
	lastQueued chan struct{}

	nextID    int
	closed    bool
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewQueue creates a queue running at most maxTasks transfers at once.
// Updates are delivered on updateChan; progress updates are dropped when it
// is full, state changes are not.
func NewQueue(runner Runner, maxTasks int, updateChan chan TaskUpdate) *Queue {
	if maxTasks <= 0 {
		maxTasks = 2
	}

	q := &Queue{
		runner:     runner,
		maxTasks:   maxTasks,
		taskChan:   make(chan *Task, maxTasks*8),
		updateChan: updateChan,
		sem:        make(chan struct{}, maxTasks),
		nextID:     1,
	}

	go q.dispatcher()

	return q
}

// Enqueue queues plan and returns its task
func (q *Queue) Enqueue(plan Plan) (*Task, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errors.New("transfer queue closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		ID:     q.nextID,
		Plan:   plan,
		state:  TaskPending,
		ctx:    ctx,
		cancel: cancel,
		queued: make(chan struct{}),
	}

	select {
	case q.taskChan <- task:
	default:
		q.mu.Unlock()
		cancel()
		log.Printf("[ERROR] Transfer queue full, dropping %s", plan.Name())
		return nil, errors.New("transfer queue full")
	}

	q.nextID++
	q.tasks = append(q.tasks, task)
	prev := q.lastQueued
	q.lastQueued = task.queued
	q.mu.Unlock()

	log.Printf("[INFO] Queued task %d: %s", task.ID, plan)

	// Enqueue is called from the UI loop, which is also what drains the
	// update channel, so the pending update must not be sent from here
	go func() {
		if prev != nil {
			<-prev
		}
		q.notify(task, true)
		close(task.queued)
	}()
	return task, nil
}

func (q *Queue) dispatcher() {
	for task := range q.taskChan {
		q.sem <- struct{}{}

		go func(t *Task) {
			defer func() { <-q.sem }()
			q.processTask(t)
		}(task)
	}
}

func (q *Queue) processTask(task *Task) {
	<-task.queued
	if task.ctx.Err() != nil {
		q.finish(task, ErrCancelled)
		log.Printf("[INFO] Task %d (%s) cancelled before start", task.ID, task.Plan.Name())
		return
	}

	task.mu.Lock()
	task.state = TaskRunning
	task.mu.Unlock()
	q.notify(task, true)

	var lastUpdate time.Time
	err := q.runner.Run(task.ctx, task.Plan, func(ev Event) {
		if ev.Kind != EventProgress {
			return
		}
		task.mu.Lock()
		task.progress = ev.Progress
		task.mu.Unlock()

		// Throttle updates to avoid flooding the UI
		if now := time.Now(); now.Sub(lastUpdate) >= progressInterval {
			lastUpdate = now
			q.notify(task, false)
		}
	})
	q.finish(task, err)
}

func (q *Queue) finish(task *Task, err error) {
	task.mu.Lock()
	switch {
	case err == nil:
		task.state = TaskCompleted
		if task.progress.Total > 0 {
			task.progress.Transferred = task.progress.Total
			task.progress.Percent = 100
		}
		log.Printf("[INFO] Task %d (%s) completed successfully", task.ID, task.Plan.Name())
	case errors.Is(err, ErrCancelled):
		task.state = TaskCancelled
		log.Printf("[INFO] Task %d (%s) cancelled", task.ID, task.Plan.Name())
	default:
		task.state = TaskFailed
		task.err = err
		log.Printf("[ERROR] Task %d (%s) failed: %v", task.ID, task.Plan.Name(), err)
	}
	task.mu.Unlock()
	task.cancel()
	q.notify(task, true)
}

func (q *Queue) snapshot(task *Task) TaskUpdate {
	task.mu.Lock()
	defer task.mu.Unlock()
	u := TaskUpdate{
		TaskID:   task.ID,
		PlanID:   task.Plan.ID,
		Name:     task.Plan.Name(),
		State:    task.state,
		Progress: task.progress,
	}
	if task.err != nil {
		u.Error = task.err.Error()
	}
	return u
}

// notify sends a snapshot. State changes block until delivered; progress
// updates are dropped when the channel is full.
func (q *Queue) notify(task *Task, stateChange bool) {
	if q.updateChan == nil {
		return
	}
	u := q.snapshot(task)
	if stateChange {
		q.updateChan <- u
		return
	}
	select {
	case q.updateChan <- u:
	default:
	}
}

// Tasks returns snapshots of every task queued so far
func (q *Queue) Tasks() []TaskUpdate {
	q.mu.Lock()
	tasks := append([]*Task(nil), q.tasks...)
	q.mu.Unlock()

	out := make([]TaskUpdate, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, q.snapshot(t))
	}
	return out
}

// Cancel stops one task. It reports false for unknown or finished tasks.
func (q *Queue) Cancel(id int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.ID != id {
			continue
		}
		if state, _ := t.State(); state.Done() {
			return false
		}
		t.cancel()
		log.Printf("[INFO] Cancelling task %d", t.ID)
		return true
	}
	return false
}

// CancelAllTasks cancels every pending or running task
func (q *Queue) CancelAllTasks() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if state, _ := t.State(); !state.Done() {
			t.cancel()
			log.Printf("[INFO] Cancelling task %d via CancelAllTasks", t.ID)
		}
	}
}

// Close cancels everything and stops accepting new plans
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.CancelAllTasks()
		q.mu.Lock()
		q.closed = true
		close(q.taskChan)
		q.mu.Unlock()
	})
}
