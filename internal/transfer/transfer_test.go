package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/filez/internal/events"
	"github.com/rescale/filez/internal/models"
)

// Test doubles

type memBlob struct {
	name string
	data []byte
}

func newBlob(name, data string) *memBlob { return &memBlob{name: name, data: []byte(data)} }

func (b *memBlob) Name() string { return b.name }
func (b *memBlob) Size() int64  { return int64(len(b.data)) }
func (b *memBlob) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

type fileEntry struct {
	blob *memBlob
	err  error
}

func (f *fileEntry) Name() string { return f.blob.name }
func (f *fileEntry) Blob(ctx context.Context) (Blob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.blob, nil
}

type dirEntry struct {
	name     string
	pageSize int
	children []Entry
	err      error
}

func (d *dirEntry) Name() string { return d.name }
func (d *dirEntry) Reader() DirectoryReader {
	return &dirReader{dir: d}
}

type dirReader struct {
	dir    *dirEntry
	offset int
}

func (r *dirReader) ReadEntries(ctx context.Context) ([]Entry, error) {
	if r.dir.err != nil {
		return nil, r.dir.err
	}
	size := r.dir.pageSize
	if size <= 0 {
		size = len(r.dir.children)
	}
	end := r.offset + size
	if end > len(r.dir.children) {
		end = len(r.dir.children)
	}
	page := r.dir.children[r.offset:end]
	r.offset = end
	return page, nil
}

func file(name, data string) *fileEntry { return &fileEntry{blob: newBlob(name, data)} }

func paths(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Path
	}
	return out
}

// fakeUploader records calls and fails paths listed in fail.
type fakeUploader struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	block   map[string]chan struct{}
	active  int32
	maxSeen int32
}

func (u *fakeUploader) Upload(ctx context.Context, p, name string, body io.Reader) (*models.FileResource, error) {
	n := atomic.AddInt32(&u.active, 1)
	defer atomic.AddInt32(&u.active, -1)
	for {
		old := atomic.LoadInt32(&u.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&u.maxSeen, old, n) {
			break
		}
	}

	u.mu.Lock()
	u.calls = append(u.calls, p)
	started := u.block[p]
	u.mu.Unlock()

	if started != nil {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if err := u.fail[p]; err != nil {
		return nil, err
	}
	return &models.FileResource{Name: name, Size: int64(len(data))}, nil
}

func (u *fakeUploader) Calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

// Flatten tests

func TestFlattenFilesPreservesDropOrder(t *testing.T) {
	items := FlattenFiles([]Blob{newBlob("b.txt", "1"), newBlob("a.txt", "2"), newBlob("c.txt", "3")})
	assert.Equal(t, []string{"b.txt", "a.txt", "c.txt"}, paths(items))
}

func TestFlattenTreeYieldsEveryLeafOnce(t *testing.T) {
	tree := []Entry{
		&dirEntry{name: "folder", pageSize: 1, children: []Entry{
			&dirEntry{name: "inner", children: []Entry{file("leaf.bin", "xyz")}},
			file("a.txt", "a"),
			file("b.txt", "bb"),
		}},
		file("top.txt", "t"),
		&dirEntry{name: "empty"},
	}

	items, report, err := FlattenAll(context.Background(), tree)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"folder/inner/leaf.bin", "folder/a.txt", "folder/b.txt", "top.txt"}, paths(items))
	assert.Equal(t, 4, report.Files)
	assert.Equal(t, int64(7), report.Bytes)
	assert.Empty(t, report.Omitted)

	sorted := Sorted(items)
	assert.Equal(t, []string{"folder/a.txt", "folder/b.txt", "folder/inner/leaf.bin", "top.txt"}, paths(sorted))
}

func TestFlattenAllKeepsDropOrder(t *testing.T) {
	tree := []Entry{
		file("z.txt", "z"),
		file("m.txt", "m"),
		&dirEntry{name: "dir", pageSize: 1, children: []Entry{
			file("b.txt", "b"),
			&dirEntry{name: "sub", children: []Entry{file("c.txt", "c")}},
			file("a.txt", "a"),
		}},
		file("a.txt", "a"),
	}

	for range 20 {
		items, _, err := FlattenAll(context.Background(), tree)
		require.NoError(t, err)
		assert.Equal(t, []string{"z.txt", "m.txt", "dir/a.txt", "dir/b.txt", "dir/sub/c.txt", "a.txt"}, paths(items))
	}
}

func TestFlattenOmitsFailedEntries(t *testing.T) {
	boom := errors.New("permission denied")
	tree := []Entry{
		&dirEntry{name: "locked", err: boom},
		&fileEntry{blob: newBlob("gone.txt", ""), err: boom},
		file("ok.txt", "ok"),
	}

	items, report, err := FlattenAll(context.Background(), tree)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.txt"}, paths(items))
	require.Len(t, report.Omitted, 2)

	omitted := []string{report.Omitted[0].Path, report.Omitted[1].Path}
	assert.ElementsMatch(t, []string{"locked/", "gone.txt"}, omitted)
}

func TestFlattenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := FlattenAll(ctx, []Entry{&dirEntry{name: "d", children: []Entry{file("x", "1")}}})
	assert.ErrorIs(t, err, context.Canceled)
}

// Queue tests

func TestQueueReplacesSamePath(t *testing.T) {
	q := NewQueue(nil)
	first := NewTask("dir/a.txt", newBlob("a.txt", "old"))
	other := NewTask("dir/b.txt", newBlob("b.txt", "b"))
	second := NewTask("dir/a.txt", newBlob("a.txt", "new"))

	assert.Nil(t, q.Enqueue(first))
	assert.Nil(t, q.Enqueue(other))
	assert.Equal(t, first, q.Enqueue(second))

	assert.Equal(t, TaskAborted, first.State())
	tasks := q.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, other, tasks[0])
	assert.Equal(t, second, tasks[1])
	_, ok := q.Get(first.ID)
	assert.False(t, ok)
}

func TestQueueRemoveAndStats(t *testing.T) {
	q := NewQueue(nil)
	a := NewTask("a", newBlob("a", "1"))
	b := NewTask("b", newBlob("b", "2"))
	q.Enqueue(a)
	q.Enqueue(b)

	require.NoError(t, q.Remove(a.ID))
	assert.ErrorIs(t, q.Remove(a.ID), ErrTaskNotFound)
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, QueueStats{Pending: 1}, q.Stats())
	assert.Equal(t, 1, q.Stats().Total())
}

func TestQueueAllowsOneUploadingTask(t *testing.T) {
	q := NewQueue(nil)
	a := NewTask("a", newBlob("a", "1"))
	b := NewTask("b", newBlob("b", "2"))
	q.Enqueue(a)
	q.Enqueue(b)

	start := func(task *Task) func() bool {
		return func() bool {
			_, ok := task.start(context.Background())
			return ok
		}
	}
	require.NoError(t, q.begin(a, start(a)))
	assert.ErrorIs(t, q.begin(b, start(b)), ErrAlreadyActive)
	assert.Equal(t, TaskPending, b.State())
	assert.ErrorIs(t, q.Remove(a.ID), ErrTaskActive)
}

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("folder/inner/leaf.bin", newBlob("leaf.bin", "abc"))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskPending, task.State())
	assert.Equal(t, 0, task.Progress())
	assert.Equal(t, "leaf.bin", task.Name())
	assert.Equal(t, int64(3), task.Size())
	assert.False(t, task.IsTerminal())
	assert.NotEqual(t, task.ID, NewTask("x", nil).ID)
}

// Executor tests

func enqueueAll(q *Queue, names ...string) []*Task {
	tasks := make([]*Task, len(names))
	for i, n := range names {
		tasks[i] = NewTask(n, newBlob(baseName(n), "payload-"+n))
		q.Enqueue(tasks[i])
	}
	return tasks
}

func TestExecutorUploadsSequentially(t *testing.T) {
	bus := events.NewEventBus(100)
	defer bus.Close()
	drainedCh := bus.Subscribe(events.EventQueueDrained)

	q := NewQueue(bus)
	tasks := enqueueAll(q, "a.txt", "b.txt", "folder/inner/leaf.bin")
	up := &fakeUploader{}
	ex := NewExecutor(q, up, bus, nil)

	drained := -1
	require.NoError(t, ex.Run(context.Background(), func(n int) { drained = n }))

	assert.Equal(t, 3, drained)
	assert.Equal(t, []string{"a.txt", "b.txt", "folder/inner/leaf.bin"}, up.Calls())
	assert.Equal(t, int32(1), atomic.LoadInt32(&up.maxSeen))
	for _, task := range tasks {
		assert.Equal(t, TaskSucceeded, task.State())
		assert.Equal(t, 100, task.Progress())
		require.NotNil(t, task.Result())
	}
	assert.Equal(t, "leaf.bin", tasks[2].Result().Name)

	select {
	case ev := <-drainedCh:
		assert.Equal(t, 3, ev.(*events.QueueDrainedEvent).Uploaded)
	case <-time.After(time.Second):
		t.Fatal("no drained event")
	}
}

func TestExecutorHaltsOnFailure(t *testing.T) {
	q := NewQueue(nil)
	tasks := enqueueAll(q, "a", "b", "c")
	up := &fakeUploader{fail: map[string]error{"b": errors.New("413 Request Entity Too Large")}}
	ex := NewExecutor(q, up, nil, nil)

	called := false
	err := ex.Run(context.Background(), func(int) { called = true })

	var halt *HaltError
	require.ErrorAs(t, err, &halt)
	assert.Equal(t, tasks[1], halt.Task)
	assert.Equal(t, TaskFailed, halt.State)
	assert.False(t, called)

	assert.Equal(t, TaskSucceeded, tasks[0].State())
	assert.Equal(t, TaskFailed, tasks[1].State())
	assert.Equal(t, TaskPending, tasks[2].State())
	assert.Equal(t, []string{"a", "b"}, up.Calls())

	// No progress is recorded once a task has failed
	progress := tasks[1].Progress()
	_, changed := tasks[1].setProgress(1, 1)
	assert.False(t, changed)
	assert.Equal(t, progress, tasks[1].Progress())

	// Running again halts on the same task until it is retried
	err = ex.Run(context.Background(), nil)
	require.ErrorAs(t, err, &halt)
	assert.Equal(t, tasks[1], halt.Task)
	assert.Equal(t, []string{"a", "b"}, up.Calls())

	delete(up.fail, "b")
	require.NoError(t, q.Retry(tasks[1].ID))
	assert.ErrorIs(t, q.Retry(tasks[0].ID), ErrTaskNotRetrying)

	drained := 0
	require.NoError(t, ex.Run(context.Background(), func(n int) { drained = n }))
	assert.Equal(t, 2, drained)
	assert.Equal(t, []string{"a", "b", "b", "c"}, up.Calls())
}

func TestExecutorCancelAbortsAndHalts(t *testing.T) {
	q := NewQueue(nil)
	tasks := enqueueAll(q, "a", "b")
	started := make(chan struct{})
	up := &fakeUploader{block: map[string]chan struct{}{"a": started}}
	ex := NewExecutor(q, up, nil, nil)

	go func() {
		<-started
		assert.NoError(t, ex.Cancel(tasks[0].ID))
	}()

	err := ex.Run(context.Background(), nil)
	var halt *HaltError
	require.ErrorAs(t, err, &halt)
	assert.Equal(t, TaskAborted, halt.State)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, TaskAborted, tasks[0].State())
	assert.Equal(t, TaskPending, tasks[1].State())
	assert.Equal(t, []string{"a"}, up.Calls())
	assert.ErrorIs(t, ex.Cancel(tasks[0].ID), ErrTaskFinished)
}

func TestExecutorAdvance(t *testing.T) {
	q := NewQueue(nil)
	tasks := enqueueAll(q, "a", "b")
	ex := NewExecutor(q, &fakeUploader{}, nil, nil)

	done, err := ex.Advance(context.Background())
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, TaskSucceeded, tasks[0].State())
	assert.Equal(t, TaskPending, tasks[1].State())

	_, err = ex.Advance(context.Background())
	require.NoError(t, err)
	done, err = ex.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, done)
}

func TestExecutorPendingCancelHalts(t *testing.T) {
	q := NewQueue(nil)
	tasks := enqueueAll(q, "a", "b")
	require.NoError(t, q.Cancel(tasks[1].ID))

	up := &fakeUploader{}
	err := NewExecutor(q, up, nil, nil).Run(context.Background(), nil)

	var halt *HaltError
	require.ErrorAs(t, err, &halt)
	assert.Equal(t, tasks[1], halt.Task)
	assert.Equal(t, []string{"a"}, up.Calls())
}

func TestExecutorEmptyQueueDrains(t *testing.T) {
	drained := -1
	err := NewExecutor(NewQueue(nil), &fakeUploader{}, nil, nil).Run(context.Background(), func(n int) { drained = n })
	require.NoError(t, err)
	assert.Equal(t, 0, drained)
}

func TestUploadIntoPrefixesDirectory(t *testing.T) {
	up := &fakeUploader{}
	_, err := UploadInto(up, "/docs/").Upload(context.Background(), "folder/leaf.bin", "leaf.bin", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/folder/leaf.bin"}, up.Calls())
}
