package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/filez/internal/events"
)

func transferEvent(t events.EventType, id, p string, size, sent int64, err error) *events.TransferEvent {
	return &events.TransferEvent{
		BaseEvent: events.NewBase(t),
		TaskID:    id,
		Path:      p,
		Name:      p[strings.LastIndex(p, "/")+1:],
		Size:      size,
		Sent:      sent,
		Error:     err,
	}
}

func TestUploadUIPlainOutput(t *testing.T) {
	var out bytes.Buffer
	bus := events.NewEventBus(64)
	defer bus.Close()

	ui := newUploadUI(&out, false, 0, "/")
	ui.Attach(bus)

	bus.Publish(transferEvent(events.EventTransferQueued, "1", "/docs/a.txt", 10, 0, nil))
	bus.Publish(transferEvent(events.EventTransferQueued, "2", "/docs/b.txt", 20, 0, nil))
	bus.Publish(transferEvent(events.EventTransferStarted, "1", "/docs/a.txt", 10, 0, nil))
	bus.Publish(transferEvent(events.EventTransferProgress, "1", "/docs/a.txt", 10, 5, nil))
	bus.Publish(transferEvent(events.EventTransferSucceeded, "1", "/docs/a.txt", 10, 10, nil))
	bus.Publish(transferEvent(events.EventTransferStarted, "2", "/docs/b.txt", 20, 0, nil))
	bus.Publish(transferEvent(events.EventTransferFailed, "2", "/docs/b.txt", 20, 0, errors.New("HTTP 500")))
	ui.Wait()

	text := out.String()
	assert.Contains(t, text, "Uploading [1/2]: a.txt")
	assert.Contains(t, text, "✓ a.txt → /docs")
	assert.Contains(t, text, "Uploading [2/2]: b.txt")
	assert.Contains(t, text, "✗ b.txt → /docs: HTTP 500")

	succeeded, failed := ui.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
}

func TestUploadUIAbortWithoutError(t *testing.T) {
	var out bytes.Buffer
	ui := newUploadUI(&out, false, 1, "/")

	ui.handle(transferEvent(events.EventTransferStarted, "x", "/big.iso", -1, 0, nil))
	ui.handle(transferEvent(events.EventTransferAborted, "x", "/big.iso", -1, 0, nil))
	ui.Wait()

	assert.Contains(t, out.String(), "unknown size")
	assert.Contains(t, out.String(), "✗ big.iso → /: aborted")
}

func TestUploadUIShowsRemoteDirectory(t *testing.T) {
	var out bytes.Buffer
	ui := newUploadUI(&out, false, 2, "/runs/")

	ui.handle(transferEvent(events.EventTransferStarted, "1", "results/logs/run.log", 3, 0, nil))
	ui.handle(transferEvent(events.EventTransferSucceeded, "1", "results/logs/run.log", 3, 3, nil))
	ui.handle(transferEvent(events.EventTransferStarted, "2", "top.txt", 1, 0, nil))
	ui.handle(transferEvent(events.EventTransferSucceeded, "2", "top.txt", 1, 1, nil))
	ui.Wait()

	assert.Contains(t, out.String(), "✓ run.log → /runs/results/logs")
	assert.Contains(t, out.String(), "✓ top.txt → /runs (")
	assert.NotContains(t, out.String(), "→ .")
}

func TestUploadUITerminalModeRenders(t *testing.T) {
	var out bytes.Buffer
	ui := newUploadUI(&out, true, 1, "/")

	ui.handle(transferEvent(events.EventTransferStarted, "1", "/a.bin", 4, 0, nil))
	ui.handle(transferEvent(events.EventTransferProgress, "1", "/a.bin", 4, 4, nil))
	ui.handle(transferEvent(events.EventTransferSucceeded, "1", "/a.bin", 4, 4, nil))
	ui.Wait()

	succeeded, failed := ui.Counts()
	assert.Equal(t, 1, succeeded)
	assert.Zero(t, failed)
}

func TestOperationUIReportsHalt(t *testing.T) {
	var out bytes.Buffer
	ui := newOperationUI(&out, false, 3, "Deleting")

	ui.handle(&events.OperationEvent{BaseEvent: events.NewBase(events.EventOperationItem), Operation: "delete", Path: "/a", Index: 1, Total: 3})
	ui.handle(&events.OperationEvent{BaseEvent: events.NewBase(events.EventOperationItem), Operation: "delete", Path: "/b", Index: 2, Total: 3, Error: errors.New("forbidden")})
	ui.handle(&events.OperationEvent{BaseEvent: events.NewBase(events.EventOperationDone), Operation: "delete", Index: 1, Total: 3, Halted: true})
	ui.Wait()

	assert.Equal(t, []string{"/b"}, ui.Failed())
	assert.True(t, ui.Halted())
	text := out.String()
	assert.Contains(t, text, "[1/3] delete /a")
	assert.Contains(t, text, "✗ delete /b: forbidden")
	assert.Contains(t, text, "delete stopped after 1 of 3, 1 not attempted")
}

func TestOperationUITerminalBar(t *testing.T) {
	var out bytes.Buffer
	bus := events.NewEventBus(16)
	defer bus.Close()

	ui := newOperationUI(&out, true, 2, "Pasting")
	ui.Attach(bus)
	for i, p := range []string{"/x", "/y"} {
		bus.Publish(&events.OperationEvent{BaseEvent: events.NewBase(events.EventOperationItem), Operation: "copy", Path: p, Index: i + 1, Total: 2})
	}
	bus.Publish(&events.OperationEvent{BaseEvent: events.NewBase(events.EventOperationDone), Operation: "copy", Index: 2, Total: 2})
	ui.Wait()

	assert.False(t, ui.Halted())
	assert.Empty(t, ui.Failed())
	assert.Contains(t, out.String(), "Pasting")
}

func TestDownloadBarCountsBytes(t *testing.T) {
	var out bytes.Buffer
	bar := newDownloadBar(&out, false, "archive.zip", -1)

	var sink bytes.Buffer
	n, err := io.Copy(bar.Track(&sink), strings.NewReader("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, "0123456789", sink.String())

	bar.Complete(nil)
	bar.Wait()
	assert.Contains(t, out.String(), "✓ archive.zip")
	assert.Equal(t, int64(10), bar.read)
}

func TestListenerWithoutBus(t *testing.T) {
	l := listen(nil, func(events.Event) { t.Fatal("unexpected event") })
	l.stop()
	l.stop()
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "a.txt", truncatePath("/a.txt", 2))
	assert.Equal(t, "b/c.txt", truncatePath("/b/c.txt", 2))
	assert.Equal(t, "…/c/d.txt", truncatePath("/a/b/c/d.txt", 2))
}
