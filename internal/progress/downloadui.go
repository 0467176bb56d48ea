package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rescale/filez/internal/constants"
)

// DownloadBar tracks one streamed download (cat, zip-download).
type DownloadBar struct {
	progress   *mpb.Progress
	bar        *mpb.Bar
	out        io.Writer
	isTerminal bool
	name       string
	startTime  time.Time
	read       int64
}

// NewDownloadBar creates a bar for name. size may be -1 when the server
// sends no Content-Length.
func NewDownloadBar(name string, size int64) *DownloadBar {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableANSI(os.Stderr)
	}
	return newDownloadBar(os.Stderr, isTerminal, name, size)
}

func newDownloadBar(out io.Writer, isTerminal bool, name string, size int64) *DownloadBar {
	d := &DownloadBar{out: out, isTerminal: isTerminal, name: name, startTime: time.Now()}
	if !isTerminal {
		d.progress = mpb.New(mpb.WithOutput(io.Discard))
		return d
	}

	d.progress = mpb.New(
		mpb.WithOutput(out),
		mpb.WithRefreshRate(constants.ProgressUpdateInterval),
		mpb.WithWidth(constants.ProgressBarWidth),
	)
	total := size
	if total < 0 {
		total = 0
	}
	d.bar = d.progress.New(total,
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(truncatePath(name, 2)+" ", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return d
}

// Track wraps w so writes advance the bar.
func (d *DownloadBar) Track(w io.Writer) io.Writer {
	cw := &countingWriter{w: w, n: &d.read}
	if d.bar == nil {
		return cw
	}
	return d.bar.ProxyWriter(cw)
}

// Complete finishes the bar and prints a one-line summary.
func (d *DownloadBar) Complete(err error) {
	elapsed := time.Since(d.startTime)
	if err != nil {
		if d.bar != nil {
			d.bar.Abort(false)
		}
		fmt.Fprintf(d.Writer(), "✗ %s: %v\n", d.name, err)
		return
	}
	if d.bar != nil {
		d.bar.SetTotal(-1, true)
	}
	fmt.Fprintf(d.Writer(), "✓ %s (%.1f MiB, %s)\n", d.name, float64(d.read)/(1024*1024), elapsed.Round(time.Millisecond))
}

// Wait blocks until the bar has rendered.
func (d *DownloadBar) Wait() {
	d.progress.Wait()
}

// Writer returns an io.Writer that safely prints above the bar.
func (d *DownloadBar) Writer() io.Writer {
	if d.isTerminal {
		return d.progress
	}
	return d.out
}

// IsTerminal returns true if the bar is drawn.
func (d *DownloadBar) IsTerminal() bool { return d.isTerminal }

type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}
