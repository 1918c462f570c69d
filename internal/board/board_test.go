package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ibeckermayer/post4me/internal/apitest"
	"github.com/ibeckermayer/post4me/internal/poller"
	"github.com/ibeckermayer/post4me/internal/remote"
	"github.com/ibeckermayer/post4me/internal/snapshot"
	"github.com/ibeckermayer/post4me/internal/types"
)

func newBoard(t *testing.T, view View, opts ...Option) (*Board, *apitest.Backend, *snapshot.Snapshot) {
	t.Helper()
	backend := apitest.New(t)
	snap := snapshot.New()
	return New(view, remote.New(backend.URL()), snap, opts...), backend, snap
}

func ids(posts []types.Post) []int64 {
	out := make([]int64, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestScheduleBoardOrderAndInterval(t *testing.T) {
	b, backend, _ := newBoard(t, ViewSchedule, WithIntervals(30*time.Millisecond, time.Hour))
	base := time.Now().Add(time.Hour).Truncate(time.Minute)
	late := backend.Seed(types.Post{Text: "late", Status: types.StatusScheduledOnX, ScheduledAt: types.At(base.Add(2 * time.Hour))})
	early := backend.Seed(types.Post{Text: "early", Status: types.StatusScheduled, ScheduledAt: types.At(base)})
	busy := backend.Seed(types.Post{Text: "busy", Status: types.StatusPosting, ScheduledAt: types.At(base.Add(5 * time.Hour))})
	backend.Seed(types.Post{Text: "draft"})

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got := ids(b.Posts())
	want := []int64{busy.ID, early.ID, late.ID}
	if len(got) != len(want) {
		t.Fatalf("posts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("posts = %v, want %v", got, want)
		}
	}
	if b.Interval() != 30*time.Millisecond {
		t.Fatalf("interval with a posting post = %v", b.Interval())
	}

	backend.SetStatus(busy.ID, types.StatusPosted, "")
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if b.Interval() != time.Hour {
		t.Fatalf("interval once idle = %v", b.Interval())
	}
	if len(b.Posts()) != 2 {
		t.Fatalf("posted post should leave the schedule: %v", ids(b.Posts()))
	}
	if groups := b.Groups(); len(groups) == 0 || groups[0].NoDate() {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestRefreshKeepsOtherViews(t *testing.T) {
	b, backend, snap := newBoard(t, ViewDrafts)
	kept := types.Post{ID: 99, Text: "elsewhere", Status: types.StatusPosted}
	snap.Put(kept)
	stale := types.Post{ID: 98, Text: "gone", Status: types.StatusDraft}
	snap.Put(stale)
	backend.Seed(types.Post{Text: "fresh"})

	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := snap.Get(kept.ID); !ok {
		t.Fatalf("refresh of drafts dropped a posted post")
	}
	if _, ok := snap.Get(stale.ID); ok {
		t.Fatalf("draft missing from the listing was kept")
	}
	if got := b.Posts(); len(got) != 1 || got[0].Text != "fresh" {
		t.Fatalf("drafts = %+v", got)
	}
}

func TestRefreshFailureKeepsListing(t *testing.T) {
	b, backend, _ := newBoard(t, ViewErrors)
	backend.Seed(types.Post{Text: "failed", Status: types.StatusError, ErrorMessage: "timeout"})
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	backend.Fail(apitest.EndpointList, apitest.TransportFailure(502))
	err := b.Refresh(context.Background())
	if !errors.Is(err, remote.ErrTransport) || !errors.Is(b.Err(), remote.ErrTransport) {
		t.Fatalf("refresh error = %v", err)
	}
	if len(b.Posts()) != 1 {
		t.Fatalf("listing lost on failure")
	}
}

func TestCancelledRefreshIsDropped(t *testing.T) {
	b, backend, snap := newBoard(t, ViewAll)
	backend.Seed(types.Post{Text: "one"})
	hold := backend.Hold(apitest.EndpointList)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Refresh(ctx) }()
	<-hold.Entered()
	cancel()
	hold.Release()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("refresh = %v, want context.Canceled", err)
	}
	if snap.Len() != 0 || snap.Version() != 0 {
		t.Fatalf("cancelled refresh touched the snapshot")
	}
}

func TestClosedBoardStopsPolling(t *testing.T) {
	refreshed := make(chan View, 16)
	b, backend, snap := newBoard(t, ViewAll,
		WithIntervals(time.Millisecond, time.Millisecond),
		WithOnRefresh(func(v View) {
			select {
			case refreshed <- v:
			default:
			}
		}))
	backend.Seed(types.Post{Text: "one"})

	g := poller.NewGroup()
	if err := b.Open(context.Background(), g); err != nil {
		t.Fatalf("open: %v", err)
	}
	select {
	case v := <-refreshed:
		if v != ViewAll {
			t.Fatalf("refreshed %s", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("board never refreshed")
	}
	g.Stop()

	version := snap.Version()
	backend.Seed(types.Post{Text: "two"})
	time.Sleep(20 * time.Millisecond)
	if snap.Version() != version {
		t.Fatalf("snapshot changed after the board closed")
	}
}

func TestParseViewAndCounts(t *testing.T) {
	for _, v := range Views {
		if got, err := ParseView(string(v)); err != nil || got != v {
			t.Fatalf("parse %s: %v %v", v, got, err)
		}
	}
	if _, err := ParseView("calendar"); err == nil {
		t.Fatalf("unknown view accepted")
	}

	snap := snapshot.New()
	snap.Put(types.Post{ID: 1, Status: types.StatusDraft})
	snap.Put(types.Post{ID: 2, Status: types.StatusScheduling})
	snap.Put(types.Post{ID: 3, Status: types.StatusError, ErrorMessage: "x"})
	counts := Counts(snap)
	if counts[ViewDrafts] != 1 || counts[ViewSchedule] != 1 || counts[ViewErrors] != 1 || counts[ViewAll] != 3 || counts[ViewHistory] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestHistorySortsByPublication(t *testing.T) {
	now := time.Now()
	posts := []types.Post{
		{ID: 1, Status: types.StatusPosted, PostedAt: types.At(now.Add(-3 * time.Hour))},
		{ID: 2, Status: types.StatusPosted, PostedAt: types.At(now.Add(-time.Hour))},
		{ID: 3, Status: types.StatusPosted, PostedAt: types.At(now.Add(-2 * time.Hour))},
	}
	Sort(ViewHistory, posts)
	if got := ids(posts); got[0] != 2 || got[1] != 3 || got[2] != 1 {
		t.Fatalf("history order = %v", got)
	}
}
