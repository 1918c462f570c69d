package tray

import (
	"strings"
	"testing"

	"github.com/ibeckermayer/post4me/internal/board"
	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/session"
	"github.com/ibeckermayer/post4me/internal/types"
)

func TestStatusLabel(t *testing.T) {
	cases := []struct {
		state session.State
		want  string
		auth  string
	}{
		{session.State{}, "… Checking connection", "Login to X"},
		{session.State{Configured: session.No}, "○ Not connected", "Login to X"},
		{session.State{Configured: session.Yes, Connected: session.No}, "◐ Credentials saved, not linked", "Logout"},
		{session.State{Configured: session.Yes, Connected: session.Yes, Profile: types.Profile{Username: "alice"}}, "● Connected as @alice", "Logout"},
	}
	for _, tc := range cases {
		if got := statusLabel(tc.state); got != tc.want {
			t.Fatalf("status %+v = %q, want %q", tc.state, got, tc.want)
		}
		if got := authActionLabel(tc.state); got != tc.auth {
			t.Fatalf("auth action %+v = %q, want %q", tc.state, got, tc.auth)
		}
	}
}

func TestCountsLabel(t *testing.T) {
	got := countsLabel(map[board.View]int{board.ViewSchedule: 3, board.ViewDrafts: 1})
	if got != "3 scheduled · 1 drafts" {
		t.Fatalf("counts = %q", got)
	}
	got = countsLabel(map[board.View]int{board.ViewErrors: 2})
	if !strings.HasSuffix(got, "2 failed") {
		t.Fatalf("counts with errors = %q", got)
	}
}

func TestPromptAndTooltip(t *testing.T) {
	if got := promptLabel(confirm.Prompt{Message: "Delete post #3?", Danger: true}); got != "⚠ Delete post #3?" {
		t.Fatalf("prompt = %q", got)
	}
	if got := tooltip(notifier.Event{}); strings.Contains(got, "\n") {
		t.Fatalf("empty tooltip = %q", got)
	}
	if got := tooltip(notifier.Event{Level: notifier.LevelError, Message: "Login expired"}); !strings.HasSuffix(got, "✗ Login expired") {
		t.Fatalf("error tooltip = %q", got)
	}
}
