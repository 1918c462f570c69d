package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ibeckermayer/post4me/internal/apitest"
	"github.com/ibeckermayer/post4me/internal/board"
	"github.com/ibeckermayer/post4me/internal/config"
	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/store"
	"github.com/ibeckermayer/post4me/internal/types"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mailbox struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mailbox) Send(to, subject, htmlBody, plainBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subjects)
}

func newApp(t *testing.T, opts ...Option) (*App, *apitest.Backend) {
	t.Helper()
	backend := apitest.New(t)
	backend.SetClock(func() time.Time { return testNow })

	kv, err := store.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	cfg := config.Default()
	cfg.Server.BaseURL = backend.URL()
	cfg.Profile.Timezone = "UTC"
	cfg.Polling.IdleMS = int(time.Hour / time.Millisecond)
	cfg.Polling.ActiveMS = int(time.Hour / time.Millisecond)

	opts = append([]Option{
		WithCacheDir(t.TempDir()),
		WithClock(func() time.Time { return testNow }),
		WithPresenter(confirm.AutoApprove{}),
	}, opts...)
	a, err := New(cfg, kv, opts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)
	return a, backend
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestActionRefreshesShownView(t *testing.T) {
	a, backend := newApp(t)
	p := backend.Seed(types.Post{Text: "draft"})

	b, err := a.ShowView(context.Background(), board.ViewDrafts, nil)
	if err != nil {
		t.Fatalf("show view: %v", err)
	}
	waitFor(t, "first refresh", func() bool { return b.Loop().Polls() >= 1 })
	if got := b.Posts(); len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("board = %+v", got)
	}
	lists := backend.Calls(apitest.EndpointList)

	if _, err := a.Controller().Delete(context.Background(), p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, "refresh after delete", func() bool { return backend.Calls(apitest.EndpointList) > lists })
	if got := b.Posts(); len(got) != 0 {
		t.Fatalf("board after delete = %+v", got)
	}
}

func TestShowViewStopsPreviousView(t *testing.T) {
	a, _ := newApp(t)
	first, err := a.ShowView(context.Background(), board.ViewDrafts, nil)
	if err != nil {
		t.Fatalf("show drafts: %v", err)
	}
	if _, err := a.ShowView(context.Background(), board.ViewErrors, nil); err != nil {
		t.Fatalf("show errors: %v", err)
	}
	if first.Loop().Running() {
		t.Fatalf("drafts loop still running after navigating away")
	}
}

func TestSendDigestOncePerActivity(t *testing.T) {
	box := &mailbox{}
	a, backend := newApp(t, WithMailer(notifier.New(box, "me@example.com")))
	backend.Seed(types.Post{Text: "went out", Status: types.StatusPosted, PostedAt: types.At(testNow.Add(-time.Hour))})

	if err := a.SendDigest(context.Background()); err != nil {
		t.Fatalf("send digest: %v", err)
	}
	if box.count() != 1 {
		t.Fatalf("sent %d digests", box.count())
	}
	if at, ok, err := a.kv.GetTime(KeyDigestLastSent); err != nil || !ok || !at.Equal(testNow) {
		t.Fatalf("last sent = %v ok=%v err=%v", at, ok, err)
	}

	if err := a.SendDigest(context.Background()); err != nil {
		t.Fatalf("second digest: %v", err)
	}
	if box.count() != 1 {
		t.Fatalf("digest without new activity was sent")
	}
}

func TestSendDigestNeedsMailer(t *testing.T) {
	a, _ := newApp(t)
	if err := a.SendDigest(context.Background()); !errors.Is(err, ErrNoMailer) {
		t.Fatalf("send digest = %v", err)
	}
}

func TestExportPosts(t *testing.T) {
	a, backend := newApp(t)
	backend.Seed(types.Post{Text: "one"})
	backend.Seed(types.Post{Text: "two", Status: types.StatusPosted})

	path, err := a.ExportPosts(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(data) == 0 || filepath.Dir(filepath.Dir(path)) != a.cacheDir {
		t.Fatalf("export at %s: %q", path, data)
	}
}

func TestFollowLogs(t *testing.T) {
	a, backend := newApp(t)
	backend.SetLogs("line one\nline two\n")

	if err := a.FollowLogs(context.Background(), true); err != nil {
		t.Fatalf("follow: %v", err)
	}
	waitFor(t, "log tail", func() bool { return a.Logs() == "line one\nline two\n" })
	if err := a.FollowLogs(context.Background(), false); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	if l, ok := a.loops.Get("logs"); !ok || l.Running() {
		t.Fatalf("logs loop still running")
	}
}

func TestOpenTweet(t *testing.T) {
	var opened []string
	a, backend := newApp(t, WithURLOpener(func(u string) error {
		opened = append(opened, u)
		return nil
	}))
	draft := backend.Seed(types.Post{Text: "draft"})
	live := backend.Seed(types.Post{Text: "live", Status: types.StatusPosted, TweetURL: "https://x.com/me/status/9"})

	if err := a.OpenTweet(context.Background(), draft.ID); !errors.Is(err, ErrNoTweet) {
		t.Fatalf("open draft = %v", err)
	}
	if err := a.OpenTweet(context.Background(), live.ID); err != nil {
		t.Fatalf("open live: %v", err)
	}
	if len(opened) != 1 || opened[0] != live.TweetURL {
		t.Fatalf("opened = %v", opened)
	}
}

func TestRefreshProfile(t *testing.T) {
	a, backend := newApp(t)
	backend.SetProfile(types.Profile{Username: "alice", FollowersCount: 10})

	if err := a.RefreshProfile(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := a.Session().State().Profile; got.Username != "alice" {
		t.Fatalf("profile = %+v", got)
	}
	if backend.Calls(apitest.EndpointFetchProfile) != 1 {
		t.Fatalf("fetch profile calls = %d", backend.Calls(apitest.EndpointFetchProfile))
	}
}
