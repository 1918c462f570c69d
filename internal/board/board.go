// Package board implements the post listings (schedule, drafts, history,
// errors, everything) and the refresh loop each one owns while open.
package board

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/ibeckermayer/post4me/internal/poller"
	"github.com/ibeckermayer/post4me/internal/remote"
	"github.com/ibeckermayer/post4me/internal/snapshot"
	"github.com/ibeckermayer/post4me/internal/types"
)

// View names a listing.
type View string

const (
	ViewSchedule View = "schedule"
	ViewDrafts   View = "drafts"
	ViewHistory  View = "history"
	ViewErrors   View = "errors"
	ViewAll      View = "all"
)

// Views lists every view in navigation order.
var Views = []View{ViewSchedule, ViewDrafts, ViewHistory, ViewErrors, ViewAll}

var scopes = map[View][]types.Status{
	ViewSchedule: remote.ScheduleStatuses,
	ViewDrafts:   {types.StatusDraft},
	ViewHistory:  {types.StatusPosted},
	ViewErrors:   {types.StatusError},
	ViewAll:      nil,
}

// ParseView accepts a view name.
func ParseView(v string) (View, error) {
	view := View(v)
	if _, ok := scopes[view]; !ok {
		return "", fmt.Errorf("unknown view %q", v)
	}
	return view, nil
}

// Scope is the set of statuses the view lists; empty for every status.
func (v View) Scope() []types.Status {
	return scopes[v]
}

// Lister is the read side of the repository.
type Lister interface {
	List(ctx context.Context, status types.Status) ([]types.Post, error)
	ListSchedule(ctx context.Context) ([]types.Post, error)
}

// Board is one open view. Fetched posts are merged into the shared snapshot
// and the listing is read back from it, so action results show up before
// the next poll.
type Board struct {
	view   View
	lister Lister
	snap   *snapshot.Snapshot
	active time.Duration
	idle   time.Duration
	notify func(View)

	mu        sync.Mutex
	fetched   []types.Post
	fetchedAt time.Time
	lastErr   error

	loop *poller.Loop
}

// Option customizes a board.
type Option func(*Board)

// WithIntervals overrides the active and idle refresh cadences.
func WithIntervals(active, idle time.Duration) Option {
	return func(b *Board) {
		if active > 0 {
			b.active = active
		}
		if idle > 0 {
			b.idle = idle
		}
	}
}

// WithOnRefresh registers a callback run after every applied refresh.
func WithOnRefresh(fn func(View)) Option {
	return func(b *Board) { b.notify = fn }
}

func New(view View, lister Lister, snap *snapshot.Snapshot, opts ...Option) *Board {
	b := &Board{
		view:   view,
		lister: lister,
		snap:   snap,
		active: poller.ActiveInterval,
		idle:   poller.IdleInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.loop = poller.New("board:"+string(view), b.Interval, b.Refresh)
	return b
}

func (b *Board) View() View { return b.view }

// Loop is the refresh loop; add it to the group of whatever shows the board.
func (b *Board) Loop() *poller.Loop { return b.loop }

// Refresh fetches the view and merges it into the snapshot. Results that
// arrive after ctx is cancelled are dropped.
func (b *Board) Refresh(ctx context.Context) error {
	posts, err := b.fetch(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.mu.Lock()
	b.lastErr = err
	if err == nil {
		b.fetched = posts
		b.fetchedAt = time.Now()
	}
	b.mu.Unlock()

	if err != nil {
		return err
	}
	b.snap.Merge(posts, b.view.Scope())
	if b.notify != nil {
		b.notify(b.view)
	}
	return nil
}

func (b *Board) fetch(ctx context.Context) ([]types.Post, error) {
	switch b.view {
	case ViewSchedule:
		return b.lister.ListSchedule(ctx)
	case ViewAll:
		return b.lister.List(ctx, "")
	}
	scope := b.view.Scope()
	if len(scope) != 1 {
		return nil, fmt.Errorf("view %s has no single status", b.view)
	}
	return b.lister.List(ctx, scope[0])
}

// Interval is the next refresh delay, based on the last fetch.
func (b *Board) Interval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return poller.NextInterval(b.fetched, b.active, b.idle)
}

// Err is the error of the last refresh, nil after a successful one.
func (b *Board) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// FetchedAt is when the last successful refresh finished.
func (b *Board) FetchedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetchedAt
}

// Posts is the current listing, ordered for the view.
func (b *Board) Posts() []types.Post {
	posts := b.snap.Filter(b.view.Scope()...)
	Sort(b.view, posts)
	return posts
}

// Groups buckets the listing by scheduled day.
func (b *Board) Groups() []remote.DayGroup {
	return remote.GroupByDay(b.Posts())
}

// Sort orders posts the way view shows them. The schedule goes by urgency
// and date, history by publication, everything else newest first.
func Sort(view View, posts []types.Post) {
	switch view {
	case ViewSchedule:
		remote.SortSchedule(posts)
	case ViewHistory:
		slices.SortStableFunc(posts, func(a, b types.Post) int {
			if c := b.PostedAt.Compare(a.PostedAt.Time); c != 0 {
				return c
			}
			return cmpID(b, a)
		})
	default:
		slices.SortStableFunc(posts, func(a, b types.Post) int { return cmpID(b, a) })
	}
}

func cmpID(a, b types.Post) int {
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Counts returns how many cached posts each view holds.
func Counts(snap *snapshot.Snapshot) map[View]int {
	out := make(map[View]int, len(Views))
	for _, v := range Views {
		out[v] = len(snap.Filter(v.Scope()...))
	}
	return out
}

// Open starts the board's loop inside g.
func (b *Board) Open(ctx context.Context, g *poller.Group) error {
	if err := g.Add(ctx, b.loop); err != nil {
		return fmt.Errorf("open %s: %w", b.view, err)
	}
	log.Printf("[board] Opened %s", b.view)
	return nil
}
