package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/ibeckermayer/post4me/internal/apitest"
	"github.com/ibeckermayer/post4me/internal/app"
	"github.com/ibeckermayer/post4me/internal/board"
	"github.com/ibeckermayer/post4me/internal/config"
	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/lifecycle"
	"github.com/ibeckermayer/post4me/internal/store"
	"github.com/ibeckermayer/post4me/internal/types"
)

func newTestModel(t *testing.T, view board.View) (*Model, *apitest.Backend) {
	t.Helper()
	backend := apitest.New(t)
	kv, err := store.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	cfg := config.Default()
	cfg.Server.BaseURL = backend.URL()
	cfg.Profile.Timezone = "UTC"
	cfg.Polling.ActiveMS = int(time.Hour / time.Millisecond)
	cfg.Polling.IdleMS = int(time.Hour / time.Millisecond)
	a, err := app.New(cfg, kv, app.WithCacheDir(t.TempDir()), app.WithPresenter(confirm.AutoApprove{}))
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(a.Close)
	return New(context.Background(), a, view), backend
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run feeds cmd's message back into the model, as the program would.
func run(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	if msg := cmd(); msg != nil {
		m.Update(msg)
	}
}

// waitForPoll waits for the board's first refresh and delivers it.
func waitForPoll(t *testing.T, m *Model) {
	t.Helper()
	if m.board == nil {
		t.Fatalf("board not opened")
	}
	deadline := time.Now().Add(2 * time.Second)
	for m.board.Loop().Polls() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("board never refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Update(refreshedMsg{view: m.board.View()})
}

func TestEveryStatusHasAStyle(t *testing.T) {
	for _, s := range types.AllStatuses {
		if _, ok := statusStyles[s]; !ok {
			t.Fatalf("no style for status %s", s)
		}
	}
	if len(statusStyles) != len(types.AllStatuses) {
		t.Fatalf("style table has %d entries for %d statuses", len(statusStyles), len(types.AllStatuses))
	}
}

func TestEveryActionHasAKey(t *testing.T) {
	seen := map[string]bool{}
	for _, a := range lifecycle.AllActions {
		k := keyFor(a)
		if k == "" || seen[k] {
			t.Fatalf("action %s has key %q", a, k)
		}
		seen[k] = true
	}
}

func TestPromptKeysAnswer(t *testing.T) {
	m := New(context.Background(), nil, board.ViewDrafts)
	answers := make(chan bool, 2)
	id := uuid.New()

	m.Update(promptMsg{prompt: confirm.Prompt{ID: id, Message: "Delete?"}, answer: func(ok bool) { answers <- ok }})
	if _, cmd := m.Update(key("q")); cmd != nil || m.prompt == nil {
		t.Fatalf("unrelated key closed the prompt")
	}
	_, cmd := m.Update(key("y"))
	if m.prompt != nil {
		t.Fatalf("prompt still shown after answering")
	}
	cmd()
	if ok := <-answers; !ok {
		t.Fatalf("y answered false")
	}

	m.Update(promptMsg{prompt: confirm.Prompt{ID: id}, answer: func(ok bool) { answers <- ok }})
	_, cmd = m.Update(key("esc"))
	cmd()
	if ok := <-answers; ok {
		t.Fatalf("esc answered true")
	}
}

func TestDismissOnlyClearsMatchingPrompt(t *testing.T) {
	m := New(context.Background(), nil, board.ViewDrafts)
	id := uuid.New()
	m.Update(promptMsg{prompt: confirm.Prompt{ID: id}, answer: func(bool) {}})

	m.Update(dismissMsg{id: uuid.New()})
	if m.prompt == nil {
		t.Fatalf("other dismiss cleared the prompt")
	}
	m.Update(dismissMsg{id: id})
	if m.prompt != nil {
		t.Fatalf("prompt not dismissed")
	}
}

func TestCursorStaysInRange(t *testing.T) {
	m := New(context.Background(), nil, board.ViewDrafts)
	m.setPosts([]types.Post{{ID: 3}, {ID: 2}, {ID: 1}})
	m.cursor = 2
	m.setPosts([]types.Post{{ID: 3}})
	if m.cursor != 0 {
		t.Fatalf("cursor = %d", m.cursor)
	}
	m.setPosts(nil)
	if _, ok := m.selected(); ok {
		t.Fatalf("selected a post from an empty list")
	}
}

func TestRetryFromBoard(t *testing.T) {
	m, backend := newTestModel(t, board.ViewErrors)
	p := backend.Seed(types.Post{Text: "failed", Status: types.StatusError, ErrorMessage: "Login expired"})

	run(t, m, m.Init())
	waitForPoll(t, m)
	if len(m.posts) != 1 || m.posts[0].ID != p.ID {
		t.Fatalf("posts = %+v", m.posts)
	}
	if !strings.Contains(m.View(), "r retry") {
		t.Fatalf("retry not offered:\n%s", m.View())
	}

	_, cmd := m.Update(key("r"))
	run(t, m, cmd)
	if backend.Calls(apitest.EndpointRetry) != 1 {
		t.Fatalf("retry calls = %d", backend.Calls(apitest.EndpointRetry))
	}
	if got, _ := backend.Post(p.ID); got.Status != types.StatusPosting {
		t.Fatalf("backend status = %s", got.Status)
	}
}

func TestComposeDraft(t *testing.T) {
	m, backend := newTestModel(t, board.ViewDrafts)
	run(t, m, m.Init())

	m.Update(key("n"))
	if m.mode != modeCompose {
		t.Fatalf("mode = %v", m.mode)
	}
	m.Update(key("hello"))
	if got := m.app.Composer().Draft().Text; got != "hello" {
		t.Fatalf("composer text = %q", got)
	}

	_, cmd := m.Update(key("ctrl+s"))
	run(t, m, cmd)
	if m.mode != modeList {
		t.Fatalf("still composing after saving")
	}
	posts := backend.Posts()
	if len(posts) != 1 || posts[0].Text != "hello" || posts[0].Status != types.StatusDraft {
		t.Fatalf("backend posts = %+v", posts)
	}
	if !m.app.Composer().Draft().Empty() {
		t.Fatalf("composer not reset after submit")
	}
}

func TestParseSchedule(t *testing.T) {
	at, err := parseSchedule("2025-06-01 14:30", time.UTC)
	if err != nil || !at.Equal(time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)) {
		t.Fatalf("parse = %v err=%v", at, err)
	}
	if at, err := parseSchedule("  ", time.UTC); err != nil || !at.IsZero() {
		t.Fatalf("empty = %v err=%v", at, err)
	}
	if _, err := parseSchedule("tomorrow", time.UTC); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestNextViewWraps(t *testing.T) {
	if got := nextView(board.ViewAll, true); got != board.Views[0] {
		t.Fatalf("forward wrap = %s", got)
	}
	if got := nextView(board.Views[0], false); got != board.ViewAll {
		t.Fatalf("backward wrap = %s", got)
	}
}
