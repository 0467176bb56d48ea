// Package transfer provides the upload queue: flattening dropped entries into
// tasks, tracking their state and running them one at a time.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/filez/internal/models"
)

// TaskState represents the current state of an upload task.
type TaskState string

const (
	TaskPending   TaskState = "pending"   // Waiting for the executor to reach it
	TaskUploading TaskState = "uploading" // Bytes are being sent
	TaskSucceeded TaskState = "succeeded" // Server answered 2xx
	TaskFailed    TaskState = "failed"    // Non-2xx response or transport error
	TaskAborted   TaskState = "aborted"   // Cancelled by the user
)

// Task is a single upload in the queue.
// Thread-safe: use the provided methods to read state.
type Task struct {
	ID      string // Unique task ID
	Path    string // Destination path relative to the upload directory
	Payload Blob   // Bytes to send

	CreatedAt time.Time

	mu          sync.RWMutex
	state       TaskState
	progress    int   // 0 to 100
	sent        int64 // Bytes handed to the transport
	result      *models.FileResource
	err         error
	cancel      context.CancelFunc
	startedAt   time.Time
	completedAt time.Time
}

// NewTask creates a pending task uploading payload to path.
func NewTask(path string, payload Blob) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Path:      path,
		Payload:   payload,
		CreatedAt: time.Now(),
		state:     TaskPending,
	}
}

// Name returns the leaf name the payload is sent under.
func (t *Task) Name() string {
	if t.Payload != nil && t.Payload.Name() != "" {
		return t.Payload.Name()
	}
	return baseName(t.Path)
}

// Size returns the payload size in bytes, or -1 when unknown.
func (t *Task) Size() int64 {
	if t.Payload == nil {
		return -1
	}
	return t.Payload.Size()
}

// State returns the current state (thread-safe).
func (t *Task) State() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Progress returns the upload percentage (thread-safe).
func (t *Task) Progress() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// Sent returns the number of payload bytes handed to the transport.
func (t *Task) Sent() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sent
}

// Result returns the resource description recorded on success.
func (t *Task) Result() *models.FileResource {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Err returns the failure cause, if any.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Duration returns how long the last attempt ran.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startedAt.IsZero() {
		return 0
	}
	if t.completedAt.IsZero() {
		return time.Since(t.startedAt)
	}
	return t.completedAt.Sub(t.startedAt)
}

// IsTerminal returns true once the task can no longer change by itself.
func (t *Task) IsTerminal() bool {
	switch t.State() {
	case TaskSucceeded, TaskFailed, TaskAborted:
		return true
	}
	return false
}

// CanRetry returns true if the task failed or was aborted.
func (t *Task) CanRetry() bool {
	s := t.State()
	return s == TaskFailed || s == TaskAborted
}

// start moves a pending task to uploading and derives its cancellable context.
func (t *Task) start(parent context.Context) (context.Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskPending {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	t.state = TaskUploading
	t.cancel = cancel
	t.progress = 0
	t.sent = 0
	t.err = nil
	t.startedAt = time.Now()
	t.completedAt = time.Time{}
	return ctx, true
}

// setProgress records sent bytes and reports whether the percentage changed.
// Updates arriving after the task left Uploading are ignored.
func (t *Task) setProgress(sent, total int64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskUploading {
		return t.progress, false
	}
	t.sent = sent
	pct := 0
	if total > 0 {
		pct = int(sent * 100 / total)
		if pct > 100 {
			pct = 100
		}
	}
	if pct == t.progress {
		return pct, false
	}
	t.progress = pct
	return pct, true
}

// finish records the outcome of an upload attempt. It returns false if the
// task was no longer uploading.
func (t *Task) finish(state TaskState, result *models.FileResource, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskUploading {
		return false
	}
	t.state = state
	t.result = result
	t.err = err
	t.completedAt = time.Now()
	if state == TaskSucceeded {
		t.progress = 100
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return true
}

// abort cancels the task. An uploading task has its context cancelled and is
// marked Aborted by the executor; a pending task is marked Aborted directly.
func (t *Task) abort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case TaskUploading:
		if t.cancel != nil {
			t.cancel()
		}
		return true
	case TaskPending:
		t.state = TaskAborted
		t.err = context.Canceled
		t.completedAt = time.Now()
		return true
	}
	return false
}

// reset returns a failed or aborted task to pending.
func (t *Task) reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TaskFailed && t.state != TaskAborted {
		return false
	}
	t.state = TaskPending
	t.progress = 0
	t.sent = 0
	t.err = nil
	t.result = nil
	t.startedAt = time.Time{}
	t.completedAt = time.Time{}
	return true
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
