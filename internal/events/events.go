package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/filez/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventLog EventType = "log"

	// Upload queue events
	EventTransferQueued    EventType = "transfer_queued"    // Task added to queue
	EventTransferStarted   EventType = "transfer_started"   // Task became the active upload
	EventTransferProgress  EventType = "transfer_progress"  // Progress percentage changed
	EventTransferSucceeded EventType = "transfer_succeeded" // Server accepted the upload
	EventTransferFailed    EventType = "transfer_failed"    // Non-2xx response or transport error
	EventTransferAborted   EventType = "transfer_aborted"   // Cancelled by the user
	EventTransferRemoved   EventType = "transfer_removed"   // Dropped from the queue before it ran
	EventQueueDrained      EventType = "queue_drained"      // Every queued task succeeded

	// Batch pipelines (paste, delete)
	EventOperationItem EventType = "operation_item" // One item of a batch finished
	EventOperationDone EventType = "operation_done" // Batch finished or halted

	EventClipboardChanged EventType = "clipboard_changed"
	EventEditState        EventType = "edit_state"

	// Published when a directory listing no longer reflects the server
	EventListingStale EventType = "listing_stale"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// NewBase returns a BaseEvent stamped with the current time
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// LogEvent represents log messages
type LogEvent struct {
	BaseEvent
	Level   LogLevel
	Message string
	Path    string
	Error   error
}

// TransferEvent represents upload queue events
type TransferEvent struct {
	BaseEvent
	TaskID   string
	Path     string // Destination path on the server
	Name     string // Display name
	Size     int64
	Sent     int64 // Payload bytes handed to the transport so far
	Progress int   // 0 to 100
	Error    error
}

// QueueDrainedEvent is published once every queued upload succeeded
type QueueDrainedEvent struct {
	BaseEvent
	Uploaded int
	Duration time.Duration
}

// OperationEvent reports progress of a paste or delete batch
type OperationEvent struct {
	BaseEvent
	Operation string // "copy", "move", "delete"
	Path      string
	Index     int // 1-based position of the item in the batch
	Total     int
	Error     error
	Halted    bool // Set on EventOperationDone when the batch stopped early
}

// ClipboardEvent is published when the clipboard entry is set or consumed
type ClipboardEvent struct {
	BaseEvent
	Action string // "copy", "move" or "" when cleared
	Paths  []string
}

// EditStateEvent reports edit controller transitions
type EditStateEvent struct {
	BaseEvent
	Path     string
	OldState string
	NewState string
}

// ListingStaleEvent asks listeners to reload the listing of Path
type ListingStaleEvent struct {
	BaseEvent
	Path string
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// A nil bus is valid and discards the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, message, path string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: NewBase(EventLog),
		Level:     level,
		Message:   message,
		Path:      path,
		Error:     err,
	})
}

// PublishListingStale asks listeners to refresh the listing of path
func (eb *EventBus) PublishListingStale(path string) {
	eb.Publish(&ListingStaleEvent{
		BaseEvent: NewBase(EventListingStale),
		Path:      path,
	})
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
