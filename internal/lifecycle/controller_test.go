package lifecycle

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ibeckermayer/post4me/internal/apitest"
	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/remote"
	"github.com/ibeckermayer/post4me/internal/snapshot"
	"github.com/ibeckermayer/post4me/internal/types"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

type harness struct {
	ctl     *Controller
	backend *apitest.Backend
	snap    *snapshot.Snapshot
	events  <-chan notifier.Event
	prompts atomic.Int32
}

// newHarness wires a controller to a fake backend. Every confirmation prompt
// is answered with approve.
func newHarness(t *testing.T, approve bool) *harness {
	t.Helper()
	h := &harness{backend: apitest.New(t), snap: snapshot.New()}
	gate := confirm.NewGate(confirm.WithPresenter(confirm.Funcs{
		OnShow: func(_ confirm.Prompt, answer confirm.Answer) {
			h.prompts.Add(1)
			answer(approve)
		},
	}))
	bus := notifier.NewBus()
	events, cancel := bus.Subscribe(32)
	t.Cleanup(cancel)
	h.events = events
	h.ctl = New(remote.New(h.backend.URL()), gate, bus, h.snap,
		WithClock(func() time.Time { return testNow }))
	return h
}

func (h *harness) lastEvent(t *testing.T) notifier.Event {
	t.Helper()
	var last notifier.Event
	for {
		select {
		case e := <-h.events:
			last = e
		default:
			if last.Message == "" {
				t.Fatalf("no event published")
			}
			return last
		}
	}
}

func TestCreateDraftThenPublish(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	post, err := h.ctl.Create(ctx, types.NewPost{Text: "Hello"}, IntentDraft, types.DefaultCharLimit)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if post.Status != types.StatusDraft {
		t.Fatalf("status = %s, want draft", post.Status)
	}

	out, err := h.ctl.PostNow(ctx, post.ID)
	if err != nil {
		t.Fatalf("post-now: %v", err)
	}
	if h.backend.Calls(apitest.EndpointPostNow) != 1 {
		t.Fatalf("post-now calls = %d, want 1", h.backend.Calls(apitest.EndpointPostNow))
	}
	if out.Post.Status != types.StatusPosting {
		t.Fatalf("outcome status = %s, want posting", out.Post.Status)
	}
	cached, _ := h.snap.Get(post.ID)
	if cached.Status != types.StatusPosting {
		t.Fatalf("cached status = %s, want posting", cached.Status)
	}
	if got := h.lastEvent(t); got.Level != notifier.LevelSuccess {
		t.Fatalf("last event %+v", got)
	}
}

func TestDoubleClickIssuesOneCall(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "Hello"})
	hold := h.backend.Hold(apitest.EndpointPostNow)

	first := make(chan error, 1)
	go func() {
		_, err := h.ctl.PostNow(context.Background(), p.ID)
		first <- err
	}()
	select {
	case <-hold.Entered():
	case <-time.After(2 * time.Second):
		t.Fatalf("first post-now never reached the backend")
	}

	if _, err := h.ctl.PostNow(context.Background(), p.ID); !errors.Is(err, ErrInFlight) {
		t.Fatalf("second click: %v, want ErrInFlight", err)
	}
	if got := h.ctl.Available(p); len(got) != 0 {
		t.Fatalf("actions offered while in flight: %v", got)
	}

	hold.Release()
	if err := <-first; err != nil {
		t.Fatalf("first click: %v", err)
	}
	if n := h.backend.Calls(apitest.EndpointPostNow); n != 1 {
		t.Fatalf("post-now calls = %d, want 1", n)
	}
	if _, busy := h.ctl.InFlight(p.ID); busy {
		t.Fatalf("guard not released")
	}
}

func TestRetryOnlyFromError(t *testing.T) {
	h := newHarness(t, true)
	draft := h.backend.Seed(types.Post{Text: "draft"})

	if _, err := h.ctl.Retry(context.Background(), draft.ID); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("retry on draft: %v", err)
	}
	if n := h.backend.MutatingCalls(); n != 0 {
		t.Fatalf("mutating calls = %d, want 0", n)
	}

	failed := h.backend.Seed(types.Post{Text: "failed", Status: types.StatusError, ErrorMessage: "login expired"})
	out, err := h.ctl.Retry(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("retry on error: %v", err)
	}
	if out.Post.Status != types.StatusPosting || out.Post.ErrorMessage != "" {
		t.Fatalf("after retry: %+v", out.Post)
	}
	stored, _ := h.backend.Post(failed.ID)
	if stored.RetriesCount != 1 {
		t.Fatalf("retries_count = %d, want 1", stored.RetriesCount)
	}
}

func TestDuplicateLeavesSourceUntouched(t *testing.T) {
	h := newHarness(t, true)
	src := h.backend.Seed(types.Post{
		Text:        "original",
		ImagePath:   "uploads/cat.png",
		Status:      types.StatusScheduled,
		ScheduledAt: types.At(testNow.Add(time.Hour)),
	})

	out, err := h.ctl.Duplicate(context.Background(), src.ID)
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if out.Post.ID == src.ID || out.Post.Status != types.StatusDraft || !out.Post.ScheduledAt.IsZero() {
		t.Fatalf("clone = %+v", out.Post)
	}
	if out.Post.Text != src.Text || out.Post.ImagePath != src.ImagePath {
		t.Fatalf("clone content = %+v", out.Post)
	}
	after, _ := h.backend.Post(src.ID)
	if after != src {
		t.Fatalf("source changed: %+v -> %+v", src, after)
	}
	if _, ok := h.snap.Get(out.Post.ID); !ok {
		t.Fatalf("clone not cached")
	}
}

func TestDuplicateAllowedWhileTransient(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "busy", Status: types.StatusPosting})

	if _, err := h.ctl.Delete(context.Background(), p.ID); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("delete while posting: %v", err)
	}
	if _, err := h.ctl.Duplicate(context.Background(), p.ID); err != nil {
		t.Fatalf("duplicate while posting: %v", err)
	}
	if h.backend.Calls(apitest.EndpointDelete) != 0 {
		t.Fatalf("delete reached the backend")
	}
	if got := h.ctl.Available(p); !slices.Equal(got, []Action{ActionDuplicate}) {
		t.Fatalf("available while posting = %v", got)
	}
}

func TestRemoveMediaWithoutImageIsNoop(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "text only"})

	out, err := h.ctl.RemoveMedia(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("remove media: %v", err)
	}
	if out.Post.HasMedia() {
		t.Fatalf("outcome has media")
	}
	if h.backend.Calls(apitest.EndpointRemoveMedia) != 0 || h.prompts.Load() != 0 {
		t.Fatalf("no-op should not prompt or call the backend")
	}
}

func TestDestructiveActionsNeedApproval(t *testing.T) {
	h := newHarness(t, false)
	draft := h.backend.Seed(types.Post{Text: "draft", ImagePath: "uploads/a.png"})
	posted := h.backend.Seed(types.Post{Text: "live", Status: types.StatusPosted, TweetURL: "https://x.com/u/status/1"})
	onX := h.backend.Seed(types.Post{Text: "later", Status: types.StatusScheduledOnX, ScheduledAt: types.At(testNow.Add(time.Hour))})

	cases := []struct {
		action Action
		id     int64
	}{
		{ActionPostNow, draft.ID},
		{ActionRemoveMedia, draft.ID},
		{ActionDelete, draft.ID},
		{ActionDeleteFromRemote, posted.ID},
		{ActionDeleteFromRemote, onX.ID},
	}
	for _, tc := range cases {
		if _, err := h.ctl.Perform(context.Background(), tc.action, tc.id); !errors.Is(err, ErrDeclined) {
			t.Fatalf("%s on #%d: %v, want ErrDeclined", tc.action, tc.id, err)
		}
	}
	if n := h.backend.MutatingCalls(); n != 0 {
		t.Fatalf("mutating calls = %d after declined prompts", n)
	}
	if int(h.prompts.Load()) != len(cases) {
		t.Fatalf("prompts = %d, want %d", h.prompts.Load(), len(cases))
	}
}

func TestScheduleTooSoonIsRejectedLocally(t *testing.T) {
	h := newHarness(t, true)
	soon := types.At(testNow.Add(time.Minute))

	_, err := h.ctl.Create(context.Background(), types.NewPost{Text: "soon", ScheduledAt: soon}, IntentSchedule, types.DefaultCharLimit)
	if !errors.Is(err, ErrScheduleTooSoon) {
		t.Fatalf("create: %v, want ErrScheduleTooSoon", err)
	}
	if n := h.backend.TotalCalls(); n != 0 {
		t.Fatalf("backend calls = %d, want 0", n)
	}

	p := h.backend.Seed(types.Post{Text: "draft", ScheduledAt: soon})
	h.snap.Put(p)
	if _, err := h.ctl.ScheduleNow(context.Background(), p.ID); !errors.Is(err, ErrScheduleTooSoon) {
		t.Fatalf("schedule-now: %v, want ErrScheduleTooSoon", err)
	}
	if n := h.backend.TotalCalls(); n != 0 {
		t.Fatalf("backend calls = %d, want 0", n)
	}
}

func TestScheduleSecondsDoNotSlipUnderLeadTime(t *testing.T) {
	h := newHarness(t, true)
	now := testNow.Add(20 * time.Second)
	h.ctl = New(remote.New(h.backend.URL()), confirm.NewGate(), notifier.NewBus(), h.snap,
		WithClock(func() time.Time { return now }))

	// 12:05:30 is stored as 12:05, which is before 12:05:20.
	edge := types.At(testNow.Add(5*time.Minute + 30*time.Second))
	_, err := h.ctl.Create(context.Background(), types.NewPost{Text: "edge", ScheduledAt: edge}, IntentSchedule, types.DefaultCharLimit)
	if !errors.Is(err, ErrScheduleTooSoon) {
		t.Fatalf("create: %v, want ErrScheduleTooSoon", err)
	}
	if n := h.backend.TotalCalls(); n != 0 {
		t.Fatalf("backend calls = %d, want 0", n)
	}

	ok := types.At(testNow.Add(6*time.Minute + 10*time.Second))
	post, err := h.ctl.Create(context.Background(), types.NewPost{Text: "ok", ScheduledAt: ok}, IntentSchedule, types.DefaultCharLimit)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, _ := h.backend.Post(post.ID)
	if floor := now.Add(types.MinScheduleLead); stored.ScheduledAt.Before(floor) {
		t.Fatalf("stored scheduled_at %s is before %s", stored.ScheduledAt.Format(time.TimeOnly), floor.Format(time.TimeOnly))
	}
}

func TestCreateScheduleChainsScheduleNow(t *testing.T) {
	h := newHarness(t, true)
	at := types.At(testNow.Add(2 * time.Hour))

	post, err := h.ctl.Create(context.Background(), types.NewPost{Text: "later", ScheduledAt: at}, IntentSchedule, types.DefaultCharLimit)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if post.Status != types.StatusScheduling {
		t.Fatalf("status = %s, want scheduling", post.Status)
	}
	if h.backend.Calls(apitest.EndpointScheduleNow) != 1 {
		t.Fatalf("schedule-now not chained")
	}
	if h.prompts.Load() != 0 {
		t.Fatalf("scheduling should not prompt")
	}
}

func TestChainFailureKeepsCreatedPost(t *testing.T) {
	h := newHarness(t, true)
	h.backend.Fail(apitest.EndpointPostNow, apitest.TransportFailure(502))

	_, err := h.ctl.Create(context.Background(), types.NewPost{Text: "now"}, IntentPublish, types.DefaultCharLimit)
	var chain *ChainError
	if !errors.As(err, &chain) {
		t.Fatalf("create: %v, want *ChainError", err)
	}
	if !errors.Is(err, remote.ErrTransport) {
		t.Fatalf("chain error should wrap the transport failure: %v", err)
	}
	if _, ok := h.backend.Post(chain.Post.ID); !ok {
		t.Fatalf("created post missing from backend")
	}
	if cached, _ := h.snap.Get(chain.Post.ID); cached.Status != types.StatusDraft {
		t.Fatalf("cached status = %s, want draft", cached.Status)
	}
	if h.prompts.Load() != 1 {
		t.Fatalf("publish should prompt once, got %d", h.prompts.Load())
	}
}

func TestBusinessFailureKeepsStatus(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "hello"})
	h.backend.Fail(apitest.EndpointPostNow, apitest.BusinessFailure("Login expired"))

	_, err := h.ctl.PostNow(context.Background(), p.ID)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("post-now: %v, want ErrRejected", err)
	}
	if got := Describe(err); got != "Login expired" {
		t.Fatalf("describe = %q", got)
	}
	if cached, _ := h.snap.Get(p.ID); cached.Status != types.StatusDraft {
		t.Fatalf("cached status = %s, want draft", cached.Status)
	}
	if e := h.lastEvent(t); e.Level != notifier.LevelError || e.Message != "Login expired" {
		t.Fatalf("event = %+v", e)
	}
}

func TestTransportFailureIsServerError(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "hello", Status: types.StatusError, ErrorMessage: "x"})
	h.backend.Fail(apitest.EndpointRetry, apitest.TransportFailure(503))

	_, err := h.ctl.Retry(context.Background(), p.ID)
	if got := Describe(err); got != "server error" {
		t.Fatalf("describe = %q", got)
	}
	if cached, _ := h.snap.Get(p.ID); cached.Status != types.StatusError {
		t.Fatalf("cached status = %s, want error", cached.Status)
	}
}

func TestDeleteFromRemoteAlreadyDeleted(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "live", Status: types.StatusPosted, TweetURL: "https://x.com/u/status/9"})
	h.backend.SetAlreadyDeleted(true)

	out, err := h.ctl.DeleteFromRemote(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("delete from remote: %v", err)
	}
	if !out.AlreadyDeleted || !out.Removed {
		t.Fatalf("outcome = %+v", out)
	}
	if _, ok := h.snap.Get(p.ID); ok {
		t.Fatalf("post still cached")
	}
}

func TestDeleteFromRemoteNeedsTweetURL(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "live", Status: types.StatusPosted})

	if _, err := h.ctl.DeleteFromRemote(context.Background(), p.ID); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("delete from remote: %v", err)
	}
	if h.prompts.Load() != 0 {
		t.Fatalf("invalid action should not prompt")
	}
}

func TestEditErrorPostSavesAsDraft(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "oops", Status: types.StatusError, ErrorMessage: "rate limited"})
	text := "fixed"

	updated, err := h.ctl.Edit(context.Background(), p.ID, EditRequest{Text: &text}, types.DefaultCharLimit)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if updated.Status != types.StatusDraft || updated.ErrorMessage != "" || updated.Text != "fixed" {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestEditValidation(t *testing.T) {
	h := newHarness(t, true)
	p := h.backend.Seed(types.Post{Text: "draft"})
	ctx := context.Background()

	empty := "  "
	if _, err := h.ctl.Edit(ctx, p.ID, EditRequest{Text: &empty}, types.DefaultCharLimit); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("empty text: %v", err)
	}
	long := strings.Repeat("a", types.DefaultCharLimit+1)
	if _, err := h.ctl.Edit(ctx, p.ID, EditRequest{Text: &long}, types.DefaultCharLimit); !errors.Is(err, ErrTooLong) {
		t.Fatalf("long text: %v", err)
	}
	if _, err := h.ctl.Edit(ctx, p.ID, EditRequest{Text: &long}, types.VerifiedCharLimit); err != nil {
		t.Fatalf("verified limit: %v", err)
	}
	scheduled := types.StatusScheduled
	if _, err := h.ctl.Edit(ctx, p.ID, EditRequest{Status: &scheduled}, types.VerifiedCharLimit); !errors.Is(err, ErrScheduleRequired) {
		t.Fatalf("scheduled without date: %v", err)
	}
	posted := types.StatusPosted
	if _, err := h.ctl.Edit(ctx, p.ID, EditRequest{Status: &posted}, types.VerifiedCharLimit); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("edit to posted: %v", err)
	}
	if n := h.backend.Calls(apitest.EndpointUpdate); n != 1 {
		t.Fatalf("update calls = %d, want 1", n)
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	if _, err := h.ctl.Create(ctx, types.NewPost{Text: " "}, IntentDraft, types.DefaultCharLimit); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := h.ctl.Create(ctx, types.NewPost{Text: "x"}, IntentSchedule, types.DefaultCharLimit); !errors.Is(err, ErrScheduleRequired) {
		t.Fatalf("no date: %v", err)
	}
	long := strings.Repeat("é", types.DefaultCharLimit+1)
	err := func() error {
		_, err := h.ctl.Create(ctx, types.NewPost{Text: long}, IntentDraft, types.DefaultCharLimit)
		return err
	}()
	var lengthErr *LengthError
	if !errors.As(err, &lengthErr) || lengthErr.Length != types.DefaultCharLimit+1 {
		t.Fatalf("long: %v", err)
	}
	if n := h.backend.TotalCalls(); n != 0 {
		t.Fatalf("backend calls = %d, want 0", n)
	}
}

func TestAvailableActions(t *testing.T) {
	h := newHarness(t, true)
	cases := []struct {
		post types.Post
		want []Action
	}{
		{
			types.Post{ID: 1, Text: "d", Status: types.StatusDraft},
			[]Action{ActionEdit, ActionPostNow, ActionDuplicate, ActionRemoveMedia, ActionDelete},
		},
		{
			types.Post{ID: 2, Text: "e", Status: types.StatusError, ErrorMessage: "x"},
			[]Action{ActionEdit, ActionRetry, ActionDuplicate, ActionRemoveMedia, ActionDelete},
		},
		{
			types.Post{ID: 3, Text: "p", Status: types.StatusPosted, TweetURL: "https://x.com/u/status/3"},
			[]Action{ActionDuplicate, ActionRemoveMedia, ActionDelete, ActionDeleteFromRemote},
		},
		{
			types.Post{ID: 4, Text: "s", Status: types.StatusScheduled, ScheduledAt: types.At(testNow.Add(time.Hour))},
			[]Action{ActionEdit, ActionPostNow, ActionScheduleNow, ActionDuplicate, ActionRemoveMedia, ActionDelete},
		},
		{
			types.Post{ID: 5, Text: "s", Status: types.StatusScheduling, ScheduledAt: types.At(testNow.Add(time.Hour))},
			[]Action{ActionDuplicate},
		},
	}
	for _, tc := range cases {
		if got := h.ctl.Available(tc.post); !slices.Equal(got, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.post.Status, got, tc.want)
		}
	}
}
