package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rescale/filez/internal/events"
	"github.com/rescale/filez/internal/logging"
	"github.com/rescale/filez/internal/models"
)

// ErrExecutorBusy is returned when Run or Advance is called while another
// call is still driving the queue.
var ErrExecutorBusy = errors.New("executor is already running")

// Uploader sends one payload to the server. *api.Client implements it.
type Uploader interface {
	Upload(ctx context.Context, p, name string, body io.Reader) (*models.FileResource, error)
}

// HaltError reports the task that stopped the executor.
type HaltError struct {
	Task  *Task
	State TaskState
	Err   error
}

func (e *HaltError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upload of %s %s", e.Task.Path, e.State)
	}
	return fmt.Sprintf("upload of %s %s: %v", e.Task.Path, e.State, e.Err)
}

func (e *HaltError) Unwrap() error { return e.Err }

// Executor drives a Queue one task at a time. The next upload starts only
// after the previous one succeeded; a failure or abort halts the run.
type Executor struct {
	queue    *Queue
	uploader Uploader
	eventBus *events.EventBus
	logger   *logging.Logger

	mu        sync.Mutex
	running   bool
	succeeded int
	started   time.Time
}

// NewExecutor creates an executor for queue. eventBus and logger may be nil.
func NewExecutor(queue *Queue, uploader Uploader, eventBus *events.EventBus, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Executor{
		queue:    queue,
		uploader: uploader,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Run uploads queued tasks in order until the queue is drained or a task
// stops it. When every task succeeded, onDrained receives the number of
// uploads performed by this run and Run returns nil. Otherwise Run returns
// a *HaltError naming the task that failed or was aborted.
func (e *Executor) Run(ctx context.Context, onDrained func(uploaded int)) error {
	if !e.acquire() {
		return ErrExecutorBusy
	}
	defer e.release()

	e.mu.Lock()
	e.succeeded = 0
	e.started = time.Now()
	e.mu.Unlock()

	for {
		done, err := e.step(ctx)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	e.mu.Lock()
	uploaded, elapsed := e.succeeded, time.Since(e.started)
	e.mu.Unlock()

	e.logger.Info().Int("uploaded", uploaded).Dur("elapsed", elapsed).Msg("Upload queue drained")
	e.eventBus.Publish(&events.QueueDrainedEvent{
		BaseEvent: events.NewBase(events.EventQueueDrained),
		Uploaded:  uploaded,
		Duration:  elapsed,
	})
	if onDrained != nil {
		onDrained(uploaded)
	}
	return nil
}

// Advance uploads the head task only. It reports done when nothing is left.
func (e *Executor) Advance(ctx context.Context) (done bool, err error) {
	if !e.acquire() {
		return false, ErrExecutorBusy
	}
	defer e.release()
	return e.step(ctx)
}

// Cancel aborts a task. An uploading task stops the current run.
func (e *Executor) Cancel(taskID string) error {
	return e.queue.Cancel(taskID)
}

func (e *Executor) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	return true
}

func (e *Executor) release() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *Executor) step(ctx context.Context) (bool, error) {
	task := e.queue.Head()
	if task == nil {
		return true, nil
	}
	if state := task.State(); state != TaskPending {
		return false, &HaltError{Task: task, State: state, Err: task.Err()}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := e.upload(ctx, task); err != nil {
		return false, err
	}
	return false, nil
}

func (e *Executor) upload(parent context.Context, task *Task) error {
	var ctx context.Context
	err := e.queue.begin(task, func() bool {
		var ok bool
		ctx, ok = task.start(parent)
		return ok
	})
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", task.Path, err)
	}

	e.logger.Debug().Str("task", task.ID).Str("path", task.Path).Int64("size", task.Size()).Msg("Upload started")
	publishTask(e.eventBus, events.EventTransferStarted, task)

	result, err := e.send(ctx, task)

	switch {
	case err == nil:
		task.finish(TaskSucceeded, result, nil)
		e.mu.Lock()
		e.succeeded++
		e.mu.Unlock()
		e.logger.Info().Str("path", task.Path).Dur("elapsed", task.Duration()).Msg("Uploaded")
		publishTask(e.eventBus, events.EventTransferSucceeded, task)
		return nil

	case ctx.Err() != nil:
		task.finish(TaskAborted, nil, context.Canceled)
		e.logger.Warn().Str("path", task.Path).Msg("Upload aborted")
		publishTask(e.eventBus, events.EventTransferAborted, task)
		return &HaltError{Task: task, State: TaskAborted, Err: context.Canceled}

	default:
		task.finish(TaskFailed, nil, err)
		e.logger.Error().Str("path", task.Path).Err(err).Msg("Upload failed")
		publishTask(e.eventBus, events.EventTransferFailed, task)
		return &HaltError{Task: task, State: TaskFailed, Err: err}
	}
}

func (e *Executor) send(ctx context.Context, task *Task) (*models.FileResource, error) {
	if task.Payload == nil {
		return nil, fmt.Errorf("task %s has no payload", task.Path)
	}
	body, err := task.Payload.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", task.Path, err)
	}
	defer body.Close()

	total := task.Size()
	reader := &progressReader{
		reader: body,
		onRead: func(sent int64) {
			if _, changed := task.setProgress(sent, total); changed {
				publishTask(e.eventBus, events.EventTransferProgress, task)
			}
		},
	}
	return e.uploader.Upload(ctx, task.Path, task.Name(), reader)
}

// progressReader counts bytes as the transport consumes them.
type progressReader struct {
	reader io.Reader
	sent   int64
	onRead func(sent int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		r.onRead(r.sent)
	}
	return n, err
}

type dirUploader struct {
	Uploader
	dir string
}

func (u dirUploader) Upload(ctx context.Context, p, name string, body io.Reader) (*models.FileResource, error) {
	return u.Uploader.Upload(ctx, path.Join(u.dir, p), name, body)
}

// UploadInto returns an Uploader that places every task path under dir.
func UploadInto(u Uploader, dir string) Uploader {
	return dirUploader{Uploader: u, dir: "/" + strings.Trim(dir, "/")}
}
