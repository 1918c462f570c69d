package tray

import (
	"fmt"
	"strings"

	"github.com/ibeckermayer/post4me/internal/board"
	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/session"
)

// statusLabel describes the X connection.
func statusLabel(st session.State) string {
	switch {
	case st.Connected == session.Yes && st.Profile.Username != "":
		return "● Connected as @" + st.Profile.Username
	case st.Connected == session.Yes:
		return "● Connected to X"
	case st.Configured == session.Yes:
		return "◐ Credentials saved, not linked"
	case st.Configured == session.No:
		return "○ Not connected"
	}
	return "… Checking connection"
}

// authActionLabel is the title of the login/logout item.
func authActionLabel(st session.State) string {
	if st.Configured == session.Yes {
		return "Logout"
	}
	return "Login to X"
}

// countsLabel summarizes the posts in the snapshot.
func countsLabel(counts map[board.View]int) string {
	parts := []string{
		fmt.Sprintf("%d scheduled", counts[board.ViewSchedule]),
		fmt.Sprintf("%d drafts", counts[board.ViewDrafts]),
	}
	if n := counts[board.ViewErrors]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	return strings.Join(parts, " · ")
}

// promptLabel is the title of the pending confirmation item.
func promptLabel(p confirm.Prompt) string {
	if p.Danger {
		return "⚠ " + p.Message
	}
	return p.Message
}

// tooltip shows the latest event under the app name.
func tooltip(e notifier.Event) string {
	const base = "post4me - scheduled posting for X"
	if e.Message == "" {
		return base
	}
	prefix := ""
	switch e.Level {
	case notifier.LevelError:
		prefix = "✗ "
	case notifier.LevelSuccess:
		prefix = "✓ "
	}
	return base + "\n" + prefix + e.Message
}
