package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/clipboard"
	"github.com/rescale/filez/internal/events"
	"github.com/rescale/filez/internal/models"
)

type call struct {
	op     string
	source string
	dest   string
}

// fakeClient records calls in order and fails the listed paths.
type fakeClient struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error

	// observed is run before each call to inspect shared state mid-batch
	observed func()
}

func (c *fakeClient) record(cl call) error {
	if c.observed != nil {
		c.observed()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, cl)
	return c.fail[cl.source]
}

func (c *fakeClient) Transfer(ctx context.Context, action api.TransferAction, source, destDir string) (*models.FileResource, error) {
	if err := c.record(call{op: string(action), source: source, dest: destDir}); err != nil {
		return nil, err
	}
	return &models.FileResource{Name: source}, nil
}

func (c *fakeClient) Delete(ctx context.Context, p string) error {
	return c.record(call{op: "delete", source: p})
}

func TestDeleteAllHaltsAtFirstFailure(t *testing.T) {
	client := &fakeClient{fail: map[string]error{"/b": &api.StatusError{StatusCode: 403, Kind: api.KindForbidden}}}
	p := New(client, nil, nil)

	res, err := p.DeleteAll(context.Background(), []string{"/a", "/b", "/c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrForbidden)

	assert.Equal(t, []call{{op: "delete", source: "/a"}, {op: "delete", source: "/b"}}, client.calls)
	assert.Equal(t, []string{"/a"}, res.Done)
	assert.Equal(t, "/b", res.Failed)
	assert.Equal(t, []string{"/c"}, res.Remaining)
	assert.True(t, res.Halted())
}

func TestDeleteAllEmpty(t *testing.T) {
	client := &fakeClient{}
	res, err := New(client, nil, nil).DeleteAll(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Halted())
	assert.Empty(t, client.calls)
}

func TestPasteConsumesClipboardBeforeFirstCall(t *testing.T) {
	cb := clipboard.New(clipboard.NewMemoryStore(), nil)
	require.NoError(t, cb.Mark(clipboard.OpCopy, []string{"/x", "/y"}))

	var pendingDuringPaste []bool
	client := &fakeClient{}
	client.observed = func() {
		ok, _ := cb.HasPending()
		pendingDuringPaste = append(pendingDuringPaste, ok)
	}

	res, err := New(client, nil, nil).Paste(context.Background(), cb, "/d")
	require.NoError(t, err)

	assert.Equal(t, []call{
		{op: "copy", source: "/x", dest: "/d"},
		{op: "copy", source: "/y", dest: "/d"},
	}, client.calls)
	assert.Equal(t, []bool{false, false}, pendingDuringPaste)
	assert.Equal(t, []string{"/x", "/y"}, res.Done)
	assertClipboardEmpty(t, cb)
}

func TestPasteMoveHaltsAndDropsRemainder(t *testing.T) {
	bus := events.NewEventBus(50)
	defer bus.Close()
	items := bus.Subscribe(events.EventOperationItem)
	done := bus.Subscribe(events.EventOperationDone)

	cb := clipboard.New(clipboard.NewMemoryStore(), nil)
	require.NoError(t, cb.Mark(clipboard.OpMove, []string{"/a", "/b", "/c"}))

	client := &fakeClient{fail: map[string]error{"/b": errors.New("connection reset")}}
	res, err := New(client, bus, nil).Paste(context.Background(), cb, "/dest")
	require.Error(t, err)

	assert.Len(t, client.calls, 2)
	assert.Equal(t, "move", client.calls[0].op)
	assert.Equal(t, []string{"/c"}, res.Remaining)
	assertClipboardEmpty(t, cb)

	first := (<-items).(*events.OperationEvent)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, 3, first.Total)
	assert.NoError(t, first.Error)
	second := (<-items).(*events.OperationEvent)
	assert.Error(t, second.Error)

	summary := (<-done).(*events.OperationEvent)
	assert.True(t, summary.Halted)
	assert.Equal(t, 1, summary.Index)
}

func TestPasteWithoutClipboard(t *testing.T) {
	cb := clipboard.New(clipboard.NewMemoryStore(), nil)
	_, err := New(&fakeClient{}, nil, nil).Paste(context.Background(), cb, "/d")
	assert.ErrorIs(t, err, ErrNoPendingClipboard)
}

func TestCancelledContextStopsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{}
	res, err := New(client, nil, nil).DeleteAll(ctx, []string{"/a", "/b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.calls)
	assert.Equal(t, "/a", res.Failed)
}

func assertClipboardEmpty(t *testing.T, cb *clipboard.Clipboard) {
	t.Helper()
	ok, err := cb.HasPending()
	require.NoError(t, err)
	assert.False(t, ok)
}
