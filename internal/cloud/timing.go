// Package cloud reads drop payloads from object storage.
// timing.go - timing instrumentation for listings and uploads
//
// Enable timing output by setting FILEZ_TIMING=1.
// Output format: [TIMING] phase_name: duration (optional_details)
//
// Example output:
//
//	[TIMING] Flatten s3://bucket/data/: 1.2s
//	[TIMING] Upload queue: 9.2s (total 320.0 MB at 34.8 MB/s)
package cloud

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// TimingEnabled reports whether FILEZ_TIMING is set to exactly "1".
func TimingEnabled() bool {
	return os.Getenv("FILEZ_TIMING") == "1"
}

// TimingLog writes a free-form timing line when timing is enabled.
func TimingLog(w io.Writer, format string, args ...any) {
	if !TimingEnabled() {
		return
	}
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "[TIMING] %s\n", fmt.Sprintf(format, args...))
}

// Timer measures one named phase. Only the first Stop or
// StopWithThroughput call reports.
type Timer struct {
	name  string
	start time.Time
	w     io.Writer
	done  atomic.Bool
}

// StartTimer starts timing a phase. A nil w reports to os.Stderr.
func StartTimer(w io.Writer, name string) *Timer {
	if w == nil {
		w = os.Stderr
	}
	return &Timer{name: name, start: time.Now(), w: w}
}

// Stop reports the phase duration and returns it.
func (t *Timer) Stop() time.Duration {
	return t.finish(func(time.Duration) string { return "" })
}

// StopWithThroughput reports the phase duration along with the transfer
// rate for n bytes.
func (t *Timer) StopWithThroughput(n int64) time.Duration {
	return t.finish(func(d time.Duration) string {
		var rate float64
		if d > 0 {
			rate = float64(n) / d.Seconds()
		}
		return fmt.Sprintf(" (total %s at %s)", FormatBytes(n), FormatSpeed(rate))
	})
}

func (t *Timer) finish(detail func(time.Duration) string) time.Duration {
	d := time.Since(t.start)
	if t.done.CompareAndSwap(false, true) && TimingEnabled() {
		fmt.Fprintf(t.w, "[TIMING] %s: %v%s\n", t.name, d, detail(d))
	}
	return d
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed returns a human-readable speed in bytes/second.
func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 1024 {
		return fmt.Sprintf("%.1f B/s", bytesPerSec)
	}
	if bytesPerSec < 1024*1024 {
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
}
