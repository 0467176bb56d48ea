package transfer

import (
	"errors"
	"sync"

	"github.com/rescale/filez/internal/events"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskActive      = errors.New("task is uploading")
	ErrTaskNotRetrying = errors.New("task cannot be retried")
	ErrAlreadyActive   = errors.New("another task is already uploading")
	ErrTaskFinished    = errors.New("task already finished")
)

// QueueStats holds statistics about the upload queue.
type QueueStats struct {
	Pending   int
	Uploading int
	Succeeded int
	Failed    int
	Aborted   int
}

// Total returns total number of tasks in queue.
func (s QueueStats) Total() int {
	return s.Pending + s.Uploading + s.Succeeded + s.Failed + s.Aborted
}

// Queue holds upload tasks in enqueue order. Paths are unique: enqueuing a
// path that is already present cancels and replaces the earlier task.
type Queue struct {
	tasks     []*Task
	tasksByID map[string]*Task
	mu        sync.RWMutex

	eventBus *events.EventBus
}

// NewQueue creates an empty queue publishing to eventBus (may be nil).
func NewQueue(eventBus *events.EventBus) *Queue {
	return &Queue{
		tasks:     make([]*Task, 0),
		tasksByID: make(map[string]*Task),
		eventBus:  eventBus,
	}
}

// Enqueue appends task and returns the task it replaced, if any.
func (q *Queue) Enqueue(task *Task) *Task {
	q.mu.Lock()
	var replaced *Task
	for i, existing := range q.tasks {
		if existing.Path == task.Path {
			replaced = existing
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			delete(q.tasksByID, existing.ID)
			break
		}
	}
	q.tasks = append(q.tasks, task)
	q.tasksByID[task.ID] = task
	q.mu.Unlock()

	if replaced != nil {
		replaced.abort()
		publishTask(q.eventBus, events.EventTransferRemoved, replaced)
	}
	publishTask(q.eventBus, events.EventTransferQueued, task)
	return replaced
}

// Remove discards a task that is not uploading.
func (q *Queue) Remove(taskID string) error {
	q.mu.Lock()
	task, ok := q.tasksByID[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.State() == TaskUploading {
		q.mu.Unlock()
		return ErrTaskActive
	}
	for i, t := range q.tasks {
		if t == task {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	delete(q.tasksByID, taskID)
	q.mu.Unlock()

	publishTask(q.eventBus, events.EventTransferRemoved, task)
	return nil
}

// Cancel aborts a pending or uploading task.
func (q *Queue) Cancel(taskID string) error {
	task, ok := q.Get(taskID)
	if !ok {
		return ErrTaskNotFound
	}
	if !task.abort() {
		return ErrTaskFinished
	}
	if task.State() == TaskAborted {
		publishTask(q.eventBus, events.EventTransferAborted, task)
	}
	return nil
}

// CancelAll aborts every task that has not finished.
func (q *Queue) CancelAll() {
	for _, task := range q.Tasks() {
		if !task.IsTerminal() {
			_ = q.Cancel(task.ID)
		}
	}
}

// Retry returns a failed or aborted task to pending.
func (q *Queue) Retry(taskID string) error {
	task, ok := q.Get(taskID)
	if !ok {
		return ErrTaskNotFound
	}
	if !task.reset() {
		return ErrTaskNotRetrying
	}
	publishTask(q.eventBus, events.EventTransferQueued, task)
	return nil
}

// Head returns the first task that has not succeeded, or nil.
func (q *Queue) Head() *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, t := range q.tasks {
		if t.State() != TaskSucceeded {
			return t
		}
	}
	return nil
}

// begin starts task if no other task is uploading.
func (q *Queue) begin(task *Task, start func() bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t != task && t.State() == TaskUploading {
			return ErrAlreadyActive
		}
	}
	if _, ok := q.tasksByID[task.ID]; !ok {
		return ErrTaskNotFound
	}
	if !start() {
		return ErrTaskNotRetrying
	}
	return nil
}

// Get returns a task by ID.
func (q *Queue) Get(taskID string) (*Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	t, ok := q.tasksByID[taskID]
	return t, ok
}

// Tasks returns the tasks in enqueue order.
func (q *Queue) Tasks() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// Stats returns current queue statistics.
func (q *Queue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := QueueStats{}
	for _, task := range q.tasks {
		switch task.State() {
		case TaskPending:
			stats.Pending++
		case TaskUploading:
			stats.Uploading++
		case TaskSucceeded:
			stats.Succeeded++
		case TaskFailed:
			stats.Failed++
		case TaskAborted:
			stats.Aborted++
		}
	}
	return stats
}

// Clear tears the queue down, aborting anything unfinished.
func (q *Queue) Clear() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = make([]*Task, 0)
	q.tasksByID = make(map[string]*Task)
	q.mu.Unlock()

	for _, t := range tasks {
		t.abort()
	}
}

func publishTask(bus *events.EventBus, eventType events.EventType, task *Task) {
	if bus == nil {
		return
	}
	bus.Publish(&events.TransferEvent{
		BaseEvent: events.NewBase(eventType),
		TaskID:    task.ID,
		Path:      task.Path,
		Name:      task.Name(),
		Size:      task.Size(),
		Sent:      task.Sent(),
		Progress:  task.Progress(),
		Error:     task.Err(),
	})
}
