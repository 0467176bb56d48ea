package progress

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rescale/filez/internal/constants"
	"github.com/rescale/filez/internal/events"
)

// UploadUI renders the upload queue from transfer events: one mpb bar
// for the task being uploaded, a summary line per finished task.
type UploadUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool

	mu         sync.Mutex
	bars       map[string]*FileBar // task ID -> bar
	totalFiles int
	destDir    string
	queued     map[string]bool // retried tasks are queued twice
	started    int
	succeeded  int
	failed     int

	listener *listener
}

// FileBar is the bar of a single task.
type FileBar struct {
	bar        *mpb.Bar
	ui         *UploadUI
	index      int
	name       string
	dest       string
	size       int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
}

// NewUploadUI creates an upload UI on stderr for totalFiles queued files
// uploaded below the remote directory destDir. Bars are only drawn when
// stderr is a terminal.
func NewUploadUI(totalFiles int, destDir string) *UploadUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableANSI(os.Stderr)
	}
	return newUploadUI(os.Stderr, isTerminal, totalFiles, destDir)
}

func newUploadUI(out io.Writer, isTerminal bool, totalFiles int, destDir string) *UploadUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.ProgressUpdateInterval),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &UploadUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*FileBar),
		queued:     make(map[string]bool),
		totalFiles: totalFiles,
		destDir:    "/" + strings.Trim(destDir, "/"),
	}
}

// Attach starts following transfer events on bus until Wait is called.
func (u *UploadUI) Attach(bus *events.EventBus) {
	u.listener = listen(bus, func(ev events.Event) {
		if te, ok := ev.(*events.TransferEvent); ok {
			u.handle(te)
		}
	})
}

func (u *UploadUI) handle(ev *events.TransferEvent) {
	switch ev.Type() {
	case events.EventTransferQueued:
		u.mu.Lock()
		u.queued[ev.TaskID] = true
		u.mu.Unlock()

	case events.EventTransferStarted:
		u.addFileBar(ev.TaskID, ev.Name, ev.Path, ev.Size)

	case events.EventTransferProgress:
		if fb := u.bar(ev.TaskID); fb != nil {
			fb.update(ev.Sent)
		}

	case events.EventTransferSucceeded:
		if fb := u.take(ev.TaskID); fb != nil {
			fb.complete(nil)
		}

	case events.EventTransferFailed, events.EventTransferAborted:
		err := ev.Error
		if err == nil {
			err = fmt.Errorf("%s", strings.TrimPrefix(string(ev.Type()), "transfer_"))
		}
		if fb := u.take(ev.TaskID); fb != nil {
			fb.complete(err)
		}
	}
}

func (u *UploadUI) bar(id string) *FileBar {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bars[id]
}

func (u *UploadUI) take(id string) *FileBar {
	u.mu.Lock()
	defer u.mu.Unlock()
	fb := u.bars[id]
	delete(u.bars, id)
	return fb
}

func (u *UploadUI) addFileBar(id, name, rel string, size int64) *FileBar {
	u.mu.Lock()
	u.started++
	fb := &FileBar{
		ui:         u,
		index:      u.started,
		name:       name,
		dest:       path.Dir(path.Join(u.destDir, rel)),
		size:       size,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
	}
	total := max(u.totalFiles, len(u.queued), fb.index)
	u.bars[id] = fb
	u.mu.Unlock()

	if u.isTerminal {
		barTotal := size
		if barTotal < 0 {
			barTotal = 0
		}
		fb.bar = u.progress.New(barTotal,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("[%d/%d] %s → %s", fb.index, total, truncatePath(name, 2), fb.dest), decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
				decor.Name("  "),
				decor.Name("ETA ", decor.WCSyncWidth),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(u.out, "Uploading [%d/%d]: %s (%s) → %s\n",
			fb.index, total, truncatePath(name, 2), formatSize(size), fb.dest)
	}
	return fb
}

// update moves the bar to sent bytes. EwmaIncrBy needs the elapsed time
// even when no bytes moved so speed and ETA stay accurate.
func (f *FileBar) update(sent int64) {
	if f.bar == nil {
		return
	}
	now := time.Now()
	elapsed := now.Sub(f.lastUpdate)
	if elapsed < constants.ProgressUpdateInterval && sent < f.size {
		return
	}
	f.bar.EwmaIncrBy(int(sent-f.lastBytes), elapsed)
	f.lastBytes = sent
	f.lastUpdate = now
}

func (f *FileBar) complete(err error) {
	elapsed := time.Since(f.startTime)

	var msg string
	if err == nil {
		if f.bar != nil {
			f.bar.SetCurrent(f.size)
			f.bar.SetTotal(-1, true)
		}
		msg = fmt.Sprintf("✓ %s → %s (%s, %s)\n",
			truncatePath(f.name, 2), f.dest, formatSize(f.size), elapsed.Round(time.Millisecond))
	} else {
		if f.bar != nil {
			f.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s → %s: %v\n", truncatePath(f.name, 2), f.dest, err)
	}

	f.ui.mu.Lock()
	if err == nil {
		f.ui.succeeded++
	} else {
		f.ui.failed++
	}
	f.ui.mu.Unlock()

	// Write through mpb's writer (not stdout) to avoid triggering redraws
	fmt.Fprint(f.ui.Writer(), msg)
}

// Counts returns how many tasks finished successfully and unsuccessfully.
func (u *UploadUI) Counts() (succeeded, failed int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.succeeded, u.failed
}

// Wait stops following events, aborts bars of tasks that never finished
// and blocks until mpb has rendered.
func (u *UploadUI) Wait() {
	if u.listener != nil {
		u.listener.stop()
	}

	u.mu.Lock()
	left := u.bars
	u.bars = make(map[string]*FileBar)
	u.mu.Unlock()
	for _, fb := range left {
		if fb.bar != nil {
			fb.bar.Abort(true)
		}
	}

	u.progress.Wait()
}

// Writer returns an io.Writer that safely prints above the progress bars.
func (u *UploadUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if output is to a terminal (progress bars are active).
func (u *UploadUI) IsTerminal() bool {
	return u.isTerminal
}

// truncatePath truncates a path to show only the last N components
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(p string, maxComponents int) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) <= maxComponents {
		return strings.Trim(p, "/")
	}
	return "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
}

func formatSize(size int64) string {
	if size < 0 {
		return "unknown size"
	}
	return fmt.Sprintf("%.1f MiB", float64(size)/(1024*1024))
}
