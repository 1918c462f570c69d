package notifier

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Event is one human-readable outcome.
type Event struct {
	ID      uuid.UUID
	Level   Level
	Message string
	// PostID is the post the event is about, zero when none.
	PostID int64
	Time   time.Time
}

// Sink receives every published event synchronously. Slow sinks must hand
// off to their own goroutine.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Deliver(e Event) { f(e) }

// Bus fans events out to sinks and subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	sinks  []Sink
	clock  func() time.Time
}

// BusOption customizes bus construction.
type BusOption func(*Bus)

// WithSink adds a sink.
func WithSink(s Sink) BusOption {
	return func(b *Bus) {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
}

// WithClock allows tests to control event timestamps.
func WithClock(clock func() time.Time) BusOption {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{subs: make(map[int]chan Event), clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSink registers a sink after construction.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish stamps and delivers e. Subscribers that are not keeping up miss it.
func (b *Bus) Publish(e Event) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Time.IsZero() {
		e.Time = b.clock()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	b.mu.Lock()
	sinks := append([]Sink(nil), b.sinks...)
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	b.mu.Unlock()

	for _, s := range sinks {
		s.Deliver(e)
	}
	return e
}

func (b *Bus) Info(postID int64, msg string) Event {
	return b.Publish(Event{Level: LevelInfo, PostID: postID, Message: msg})
}

func (b *Bus) Success(postID int64, msg string) Event {
	return b.Publish(Event{Level: LevelSuccess, PostID: postID, Message: msg})
}

func (b *Bus) Error(postID int64, msg string) Event {
	return b.Publish(Event{Level: LevelError, PostID: postID, Message: msg})
}

// Subscribe returns a channel of future events and a function that ends the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// LogSink writes every event to the standard logger.
type LogSink struct{}

func (LogSink) Deliver(e Event) {
	if e.PostID != 0 {
		log.Printf("[notify] %s: post #%d: %s", e.Level, e.PostID, e.Message)
		return
	}
	log.Printf("[notify] %s: %s", e.Level, e.Message)
}
