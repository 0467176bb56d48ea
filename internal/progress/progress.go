// Package progress renders upload, paste and delete progress on the
// terminal from the events the queue and pipelines publish.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/rescale/filez/internal/events"
)

// OperationUI shows a count bar for a paste or delete batch.
type OperationUI struct {
	bar        *progressbar.ProgressBar
	out        io.Writer
	isTerminal bool
	total      int

	mu     sync.Mutex
	done   int
	failed []string
	halted bool

	listener *listener
}

// NewOperationUI creates a bar for a batch of total items on stderr.
func NewOperationUI(total int, description string) *OperationUI {
	return newOperationUI(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), total, description)
}

func newOperationUI(out io.Writer, isTerminal bool, total int, description string) *OperationUI {
	o := &OperationUI{out: out, isTerminal: isTerminal, total: total}
	if isTerminal {
		o.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(out),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(out, "\n")
			}),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	return o
}

// Attach starts following operation events on bus until Wait is called.
func (o *OperationUI) Attach(bus *events.EventBus) {
	o.listener = listen(bus, func(ev events.Event) {
		if oe, ok := ev.(*events.OperationEvent); ok {
			o.handle(oe)
		}
	})
}

func (o *OperationUI) handle(ev *events.OperationEvent) {
	switch ev.Type() {
	case events.EventOperationItem:
		o.mu.Lock()
		o.done++
		if ev.Error != nil {
			o.failed = append(o.failed, ev.Path)
		}
		o.mu.Unlock()

		if ev.Error != nil {
			o.println(fmt.Sprintf("✗ %s %s: %v", ev.Operation, ev.Path, ev.Error))
			return
		}
		if o.bar != nil {
			_ = o.bar.Add(1)
		} else {
			fmt.Fprintf(o.out, "[%d/%d] %s %s\n", ev.Index, ev.Total, ev.Operation, ev.Path)
		}

	case events.EventOperationDone:
		o.mu.Lock()
		o.halted = ev.Halted
		o.mu.Unlock()
		if ev.Halted {
			// Index counts completed items; the failing one is not among them.
			skipped := ev.Total - ev.Index - 1
			o.println(fmt.Sprintf("%s stopped after %d of %d, %d not attempted", ev.Operation, ev.Index, ev.Total, skipped))
		}
	}
}

// println writes a line without tearing the bar.
func (o *OperationUI) println(line string) {
	if o.bar != nil {
		_ = o.bar.Clear()
	}
	fmt.Fprintln(o.out, line)
	if o.bar != nil {
		_ = o.bar.RenderBlank()
	}
}

// Failed returns the paths of items that failed.
func (o *OperationUI) Failed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.failed))
	copy(out, o.failed)
	return out
}

// Halted reports whether the batch stopped before its last item.
func (o *OperationUI) Halted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halted
}

// Wait stops following events and finishes the bar.
func (o *OperationUI) Wait() {
	if o.listener != nil {
		o.listener.stop()
	}
	if o.bar != nil {
		if o.Halted() || len(o.Failed()) > 0 {
			_ = o.bar.Exit()
			fmt.Fprint(o.out, "\n")
		} else {
			_ = o.bar.Finish()
		}
	}
}

// Writer returns the output the bar draws on.
func (o *OperationUI) Writer() io.Writer { return o.out }

// IsTerminal returns true if the bar is drawn.
func (o *OperationUI) IsTerminal() bool { return o.isTerminal }
