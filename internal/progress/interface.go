package progress

import (
	"io"

	"github.com/rescale/filez/internal/events"
)

// Display is the part of a progress UI the command layer talks to.
type Display interface {
	// Writer returns an io.Writer that safely outputs above the progress bars.
	// Returns mpb's writer in terminal mode, otherwise the plain output.
	Writer() io.Writer

	// IsTerminal returns true if output is to a terminal (progress bars are active)
	IsTerminal() bool

	// Wait blocks until the display has rendered everything it received
	Wait()
}

var (
	_ Display = (*UploadUI)(nil)
	_ Display = (*OperationUI)(nil)
	_ Display = (*DownloadBar)(nil)
)

// listener drains a bus subscription on its own goroutine.
type listener struct {
	bus      *events.EventBus
	ch       <-chan events.Event
	done     chan struct{}
	finished chan struct{}
}

func listen(bus *events.EventBus, handle func(events.Event)) *listener {
	l := &listener{bus: bus, done: make(chan struct{}), finished: make(chan struct{})}
	if bus == nil {
		close(l.finished)
		return l
	}
	l.ch = bus.SubscribeAll()

	go func() {
		defer close(l.finished)
		for {
			select {
			case ev, ok := <-l.ch:
				if !ok {
					return
				}
				handle(ev)
			case <-l.done:
				// Publish is synchronous, so everything sent before stop is buffered.
				for {
					select {
					case ev, ok := <-l.ch:
						if !ok {
							return
						}
						handle(ev)
					default:
						return
					}
				}
			}
		}
	}()
	return l
}

// stop handles what is already buffered and then unsubscribes.
func (l *listener) stop() {
	select {
	case <-l.done:
		return
	default:
		close(l.done)
	}
	<-l.finished
	if l.bus != nil {
		l.bus.UnsubscribeAll(l.ch)
	}
}
