package clipboard

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rescale/filez/internal/events"
)

// Clipboard marks resources for a later paste.
type Clipboard struct {
	store    Store
	eventBus *events.EventBus
}

// New returns a clipboard over store. eventBus may be nil.
func New(store Store, eventBus *events.EventBus) *Clipboard {
	return &Clipboard{store: store, eventBus: eventBus}
}

// Mark overwrites the clipboard with op over paths.
func (c *Clipboard) Mark(op Operation, paths []string) error {
	if op != OpCopy && op != OpMove {
		return fmt.Errorf("unknown clipboard operation %q", op)
	}
	if len(paths) == 0 {
		return errors.New("nothing selected")
	}

	sources := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			return errors.New("empty path in selection")
		}
		sources = append(sources, path.Clean("/"+p))
	}

	entry := &Entry{Operation: op, Sources: sources, MarkedAt: time.Now()}
	if err := c.store.Set(entry); err != nil {
		return fmt.Errorf("failed to store clipboard: %w", err)
	}
	c.publish(string(op), sources)
	return nil
}

// HasPending reports whether an entry is waiting to be pasted. A store
// that cannot be read is an error, not an empty clipboard.
func (c *Clipboard) HasPending() (bool, error) {
	_, err := c.store.Get()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrEmpty):
		return false, nil
	default:
		return false, err
	}
}

// Peek returns the pending entry without consuming it.
func (c *Clipboard) Peek() (*Entry, error) {
	return c.store.Get()
}

// Take returns the pending entry and removes it from the store.
func (c *Clipboard) Take() (*Entry, error) {
	var (
		entry *Entry
		err   error
	)
	if t, ok := c.store.(Taker); ok {
		entry, err = t.Take()
	} else {
		entry, err = c.store.Get()
		if err == nil {
			err = c.store.Clear()
		}
	}
	if err != nil {
		return nil, err
	}
	c.publish("", nil)
	return entry, nil
}

// Clear drops the pending entry, if any.
func (c *Clipboard) Clear() error {
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear clipboard: %w", err)
	}
	c.publish("", nil)
	return nil
}

func (c *Clipboard) publish(action string, paths []string) {
	c.eventBus.Publish(&events.ClipboardEvent{
		BaseEvent: events.NewBase(events.EventClipboardChanged),
		Action:    action,
		Paths:     paths,
	})
}
