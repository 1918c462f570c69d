// Package poller runs the refresh loops that observe backend-driven changes.
package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ibeckermayer/post4me/internal/types"
)

// Default cadences.
const (
	ActiveInterval = 3 * time.Second
	IdleInterval   = 15 * time.Second
	StatusInterval = 30 * time.Second
	LogsInterval   = 5 * time.Second
)

// ErrRunning is returned by Start on a loop that is already running.
var ErrRunning = errors.New("loop already running")

// NextInterval picks the post refresh cadence: active while the backend is
// working on any post, idle otherwise.
func NextInterval(posts []types.Post, active, idle time.Duration) time.Duration {
	if types.AnyTransient(posts) {
		return active
	}
	return idle
}

// Fixed returns an interval function for a constant cadence.
func Fixed(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

// Loop polls immediately on start and then after each interval, asking for
// the next interval once the previous poll has finished. Polls never
// overlap: a tick or trigger that arrives while one is running is dropped.
type Loop struct {
	name     string
	poll     func(ctx context.Context) error
	interval func() time.Duration

	busy    atomic.Bool
	polls   atomic.Int64
	skipped atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
}

func New(name string, interval func() time.Duration, poll func(ctx context.Context) error) *Loop {
	return &Loop{
		name:     name,
		poll:     poll,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Name identifies the loop in logs.
func (l *Loop) Name() string { return l.name }

// Start launches the loop under ctx. The first poll runs right away.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
	log.Printf("[poller] Started %s", l.name)
	return nil
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

// Stop cancels the loop and waits for a poll in progress to return. Once
// Stop returns the loop's poll function is not called again.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
	log.Printf("[poller] Stopped %s", l.name)
}

// Trigger asks for a poll now instead of at the next tick. It reports false
// when a poll is already running or already requested.
func (l *Loop) Trigger() bool {
	if l.busy.Load() {
		l.skipped.Add(1)
		return false
	}
	select {
	case l.trigger <- struct{}{}:
		return true
	default:
		l.skipped.Add(1)
		return false
	}
}

// Polls is how many polls have completed.
func (l *Loop) Polls() int64 { return l.polls.Load() }

// Skipped is how many ticks or triggers were dropped because a poll was
// running.
func (l *Loop) Skipped() int64 { return l.skipped.Load() }

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-l.trigger:
			timer.Stop()
		}
		l.once(ctx)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(l.interval())
	}
}

// once runs a single poll unless one is already running.
func (l *Loop) once(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		return
	}
	defer l.busy.Store(false)

	if err := l.poll(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[poller] %s poll failed: %v", l.name, err)
	}
	l.polls.Add(1)
}

// Group owns the loops of one view and stops them together.
type Group struct {
	mu    sync.Mutex
	loops map[string]*Loop
	order []string
}

func NewGroup() *Group {
	return &Group{loops: make(map[string]*Loop)}
}

// Add registers l and starts it under ctx.
func (g *Group) Add(ctx context.Context, l *Loop) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.loops[l.name]; ok {
		return ErrRunning
	}
	if err := l.Start(ctx); err != nil {
		return err
	}
	g.loops[l.name] = l
	g.order = append(g.order, l.name)
	return nil
}

// Get returns the named loop.
func (g *Group) Get(name string) (*Loop, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.loops[name]
	return l, ok
}

// Trigger asks every running loop for an immediate poll.
func (g *Group) Trigger() {
	g.mu.Lock()
	loops := make([]*Loop, 0, len(g.order))
	for _, name := range g.order {
		loops = append(loops, g.loops[name])
	}
	g.mu.Unlock()
	for _, l := range loops {
		l.Trigger()
	}
}

// Stop stops every loop in reverse start order and forgets them.
func (g *Group) Stop() {
	g.mu.Lock()
	loops := make([]*Loop, 0, len(g.order))
	for i := len(g.order) - 1; i >= 0; i-- {
		loops = append(loops, g.loops[g.order[i]])
	}
	g.loops = make(map[string]*Loop)
	g.order = nil
	g.mu.Unlock()

	for _, l := range loops {
		l.Stop()
	}
}
