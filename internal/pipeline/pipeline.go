// Package pipeline runs batches of server mutations one item at a time,
// stopping at the first failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rescale/filez/internal/api"
	"github.com/rescale/filez/internal/clipboard"
	"github.com/rescale/filez/internal/events"
	"github.com/rescale/filez/internal/logging"
	"github.com/rescale/filez/internal/models"
)

const (
	OperationCopy   = "copy"
	OperationMove   = "move"
	OperationDelete = "delete"
)

// ErrNoPendingClipboard is returned by Paste when nothing was marked.
var ErrNoPendingClipboard = errors.New("nothing to paste: mark files with copy or cut first")

// Client is the subset of *api.Client the pipelines need.
type Client interface {
	Transfer(ctx context.Context, action api.TransferAction, source, destDir string) (*models.FileResource, error)
	Delete(ctx context.Context, p string) error
}

// Result describes how far a batch got.
type Result struct {
	Operation string
	Done      []string // Items that completed, in order
	Failed    string   // Item that stopped the batch
	Remaining []string // Items never attempted
	Err       error
	Elapsed   time.Duration
}

// Halted reports whether the batch stopped before the last item.
func (r *Result) Halted() bool {
	return r.Err != nil
}

// Pipeline runs paste and delete batches against the server.
type Pipeline struct {
	client   Client
	eventBus *events.EventBus
	logger   *logging.Logger
}

// New creates a pipeline. eventBus and logger may be nil.
func New(client Client, eventBus *events.EventBus, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pipeline{client: client, eventBus: eventBus, logger: logger}
}

// Paste consumes the clipboard entry and copies or moves each source into
// destDir in the order they were marked. The clipboard is empty as soon as
// Paste starts, whether or not the batch completes.
func (p *Pipeline) Paste(ctx context.Context, cb *clipboard.Clipboard, destDir string) (*Result, error) {
	entry, err := cb.Take()
	if err != nil {
		if errors.Is(err, clipboard.ErrEmpty) {
			return nil, ErrNoPendingClipboard
		}
		return nil, fmt.Errorf("failed to read clipboard: %w", err)
	}

	action := api.ActionCopy
	if entry.Operation == clipboard.OpMove {
		action = api.ActionMove
	}

	p.logger.Info().Str("operation", string(action)).Int("count", len(entry.Sources)).Str("dest", destDir).Msg("Pasting")

	res := p.run(ctx, string(action), entry.Sources, func(ctx context.Context, src string) error {
		_, err := p.client.Transfer(ctx, action, src, destDir)
		return err
	})

	p.eventBus.PublishListingStale(destDir)
	if action == api.ActionMove {
		for _, src := range res.Done {
			p.eventBus.PublishListingStale(path.Dir(src))
		}
	}
	return res, res.Err
}

// DeleteAll removes paths one at a time in the given order.
func (p *Pipeline) DeleteAll(ctx context.Context, paths []string) (*Result, error) {
	if len(paths) == 0 {
		return &Result{Operation: OperationDelete}, nil
	}

	p.logger.Info().Int("count", len(paths)).Msg("Deleting")

	res := p.run(ctx, OperationDelete, paths, func(ctx context.Context, target string) error {
		return p.client.Delete(ctx, target)
	})

	stale := make(map[string]bool)
	for _, target := range paths {
		dir := path.Dir(api.CleanPath(target))
		if !stale[dir] {
			stale[dir] = true
			p.eventBus.PublishListingStale(dir)
		}
	}
	return res, res.Err
}

// run applies fn to items sequentially and halts on the first error.
func (p *Pipeline) run(ctx context.Context, operation string, items []string, fn func(context.Context, string) error) *Result {
	start := time.Now()
	res := &Result{Operation: operation}
	total := len(items)

	for i, item := range items {
		err := ctx.Err()
		if err == nil {
			err = fn(ctx, item)
		}

		p.eventBus.Publish(&events.OperationEvent{
			BaseEvent: events.NewBase(events.EventOperationItem),
			Operation: operation,
			Path:      item,
			Index:     i + 1,
			Total:     total,
			Error:     err,
		})

		if err != nil {
			p.logger.Error().Str("operation", operation).Str("path", item).Err(err).Msg("Batch halted")
			res.Failed = item
			res.Remaining = append([]string(nil), items[i+1:]...)
			res.Err = fmt.Errorf("%s %s: %w", operation, item, err)
			break
		}

		p.logger.Debug().Str("operation", operation).Str("path", item).Msg("Done")
		res.Done = append(res.Done, item)
	}

	res.Elapsed = time.Since(start)
	p.eventBus.Publish(&events.OperationEvent{
		BaseEvent: events.NewBase(events.EventOperationDone),
		Operation: operation,
		Index:     len(res.Done),
		Total:     total,
		Error:     res.Err,
		Halted:    res.Halted(),
	})
	return res
}
