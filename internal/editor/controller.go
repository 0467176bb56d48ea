// Package editor guards text edits with the server's version validators.
//
// A session moves through
//
//	Closed -> Loading -> Open -> Saving -> Open | Conflict
//
// Every save carries the version captured by the last open, reload or
// save. A concurrent change on the server puts the session in Conflict:
// the buffer is kept and nothing is written until the user reloads.
package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/events"
	"github.com/rescale/filez/internal/logging"
	"github.com/rescale/filez/internal/models"
)

// State is the controller state.
type State string

const (
	StateClosed   State = "closed"
	StateLoading  State = "loading"
	StateOpen     State = "open"
	StateSaving   State = "saving"
	StateConflict State = "conflict"
)

var (
	ErrSessionClosed  = errors.New("no file is open")
	ErrSessionBusy    = errors.New("a load or save is in progress")
	ErrAlreadyOpen    = errors.New("a file is already open")
	ErrReloadRequired = errors.New("the file changed on the server: reload before saving")
)

// Backend reads and conditionally writes files. *api.Client implements it.
type Backend interface {
	Open(ctx context.Context, p string) (*api.Document, error)
	Save(ctx context.Context, p string, content []byte, v api.Version) (*models.FileResource, error)
}

// Session is a snapshot of the open file.
type Session struct {
	Path        string
	ContentType string
	Buffer      []byte
	Version     api.Version
	Dirty       bool
}

// Controller owns at most one edit session.
type Controller struct {
	backend  Backend
	eventBus *events.EventBus
	logger   *logging.Logger

	mu      sync.Mutex
	state   State
	session *Session
	gen     uint64 // bumped on Close so late results are dropped
}

// NewController creates a closed controller. eventBus and logger may be nil.
func NewController(backend Backend, eventBus *events.EventBus, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Controller{
		backend:  backend,
		eventBus: eventBus,
		logger:   logger,
		state:    StateClosed,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the open session, or nil when closed.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	s.Buffer = bytes.Clone(c.session.Buffer)
	return &s
}

// Open loads the file at p and starts a session.
func (c *Controller) Open(ctx context.Context, p string) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.setStateLocked(p, StateLoading)
	gen := c.gen
	c.mu.Unlock()

	doc, err := c.backend.Open(ctx, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return ErrSessionClosed
	}
	if err != nil {
		c.setStateLocked(p, StateClosed)
		return fmt.Errorf("failed to open %s: %w", p, err)
	}

	c.session = &Session{
		Path:        doc.Path,
		ContentType: doc.ContentType,
		Buffer:      doc.Content,
		Version:     doc.Version,
	}
	c.logger.Debug().Str("path", doc.Path).Str("version", doc.Version.String()).Msg("Opened for editing")
	c.setStateLocked(doc.Path, StateOpen)
	return nil
}

// Edit replaces the buffer. Edits are kept while in Conflict.
func (c *Controller) Edit(content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateOpen, StateConflict:
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrSessionBusy
	}
	if !bytes.Equal(c.session.Buffer, content) {
		c.session.Buffer = bytes.Clone(content)
		c.session.Dirty = true
	}
	return nil
}

// Save writes the buffer conditional on the session version. On success
// the version is replaced by the one the server returned.
func (c *Controller) Save(ctx context.Context) (*models.FileResource, error) {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
	case StateConflict:
		c.mu.Unlock()
		return nil, ErrReloadRequired
	case StateClosed:
		c.mu.Unlock()
		return nil, ErrSessionClosed
	default:
		c.mu.Unlock()
		return nil, ErrSessionBusy
	}
	p := c.session.Path
	content := bytes.Clone(c.session.Buffer)
	version := c.session.Version
	gen := c.gen
	c.setStateLocked(p, StateSaving)
	c.mu.Unlock()

	f, err := c.backend.Save(ctx, p, content, version)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil, ErrSessionClosed
	}

	if err != nil {
		if errors.Is(err, api.ErrConflict) {
			c.logger.Warn().Str("path", p).Msg("Save refused: file changed on the server")
			c.setStateLocked(p, StateConflict)
			return nil, fmt.Errorf("save %s: %w", p, err)
		}
		c.setStateLocked(p, StateOpen)
		return nil, fmt.Errorf("save %s: %w", p, err)
	}

	c.session.Version = api.VersionOf(f)
	if bytes.Equal(c.session.Buffer, content) {
		c.session.Dirty = false
	}
	if c.session.Version.IsZero() {
		c.logger.Warn().Str("path", p).Msg("Server returned no validators; reload before saving again")
	}
	c.logger.Info().Str("path", p).Int64("size", f.Size).Msg("Saved")
	c.setStateLocked(p, StateOpen)
	return f, nil
}

// Reload discards the buffer and reads the file again. It is the only way
// out of Conflict other than Close.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen, StateConflict:
	case StateClosed:
		c.mu.Unlock()
		return ErrSessionClosed
	default:
		c.mu.Unlock()
		return ErrSessionBusy
	}
	prev := c.state
	p := c.session.Path
	gen := c.gen
	c.setStateLocked(p, StateLoading)
	c.mu.Unlock()

	doc, err := c.backend.Open(ctx, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return ErrSessionClosed
	}
	if err != nil {
		c.setStateLocked(p, prev)
		return fmt.Errorf("failed to reload %s: %w", p, err)
	}

	c.session.Buffer = doc.Content
	c.session.ContentType = doc.ContentType
	c.session.Version = doc.Version
	c.session.Dirty = false
	c.setStateLocked(p, StateOpen)
	return nil
}

// Close ends the session and discards the buffer, dirty or not.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	p := ""
	if c.session != nil {
		p = c.session.Path
		if c.session.Dirty {
			c.logger.Debug().Str("path", p).Msg("Discarding unsaved changes")
		}
	}
	c.session = nil
	c.gen++
	c.setStateLocked(p, StateClosed)
}

func (c *Controller) setStateLocked(p string, next State) {
	prev := c.state
	c.state = next
	if prev == next {
		return
	}
	c.eventBus.Publish(&events.EditStateEvent{
		BaseEvent: events.NewBase(events.EventEditState),
		Path:      p,
		OldState:  string(prev),
		NewState:  string(next),
	})
}
