// Package tui is the terminal board: one view of posts at a time, the
// lifecycle actions on the selected post, the composer and the confirmation
// modal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/ibeckermayer/post4me/internal/app"
	"github.com/ibeckermayer/post4me/internal/board"
	"github.com/ibeckermayer/post4me/internal/lifecycle"
	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/types"
)

// scheduleLayout is how schedule times are typed in the composer.
const scheduleLayout = "2006-01-02 15:04"

type mode int

const (
	modeList mode = iota
	modeCompose
	modeEdit
)

// actionKeys maps keys on the list to lifecycle actions.
var actionKeys = map[string]lifecycle.Action{
	"e": lifecycle.ActionEdit,
	"p": lifecycle.ActionPostNow,
	"s": lifecycle.ActionScheduleNow,
	"r": lifecycle.ActionRetry,
	"d": lifecycle.ActionDuplicate,
	"m": lifecycle.ActionRemoveMedia,
	"x": lifecycle.ActionDelete,
	"X": lifecycle.ActionDeleteFromRemote,
}

func keyFor(a lifecycle.Action) string {
	for k, v := range actionKeys {
		if v == a {
			return k
		}
	}
	return ""
}

type viewOpenedMsg struct {
	board *board.Board
	err   error
}

type refreshedMsg struct {
	view board.View
}

type eventMsg notifier.Event

type actionDoneMsg struct {
	action lifecycle.Action
	err    error
}

type submitDoneMsg struct {
	post types.Post
	err  error
}

// Model is the board's bubbletea model.
type Model struct {
	ctx  context.Context
	app  *app.App
	send func(tea.Msg)

	mode   mode
	view   board.View
	board  *board.Board
	posts  []types.Post
	cursor int

	prompt *promptMsg

	text          textarea.Model
	schedule      textinput.Model
	focusSchedule bool
	editID        int64
	editSchedule  string

	last   notifier.Event
	width  int
	height int
}

// New creates the board model showing view.
func New(ctx context.Context, a *app.App, view board.View) *Model {
	text := textarea.New()
	text.Placeholder = "What's happening?"
	text.ShowLineNumbers = false
	text.CharLimit = 0

	schedule := textinput.New()
	schedule.Placeholder = scheduleLayout
	schedule.Prompt = "Schedule: "

	return &Model{
		ctx:      ctx,
		app:      a,
		view:     view,
		text:     text,
		schedule: schedule,
	}
}

func (m *Model) notify(msg tea.Msg) {
	if m.send != nil {
		m.send(msg)
	}
}

// Init opens the initial view.
func (m *Model) Init() tea.Cmd {
	return m.openView(m.view)
}

func (m *Model) openView(v board.View) tea.Cmd {
	m.view = v
	return func() tea.Msg {
		b, err := m.app.ShowView(m.ctx, v, func(v board.View) { m.notify(refreshedMsg{view: v}) })
		return viewOpenedMsg{board: b, err: err}
	}
}

func (m *Model) setPosts(posts []types.Post) {
	m.posts = posts
	if m.cursor >= len(posts) {
		m.cursor = len(posts) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) reload() {
	if m.board != nil {
		m.setPosts(m.board.Posts())
	}
}

func (m *Model) selected() (types.Post, bool) {
	if m.cursor < 0 || m.cursor >= len(m.posts) {
		return types.Post{}, false
	}
	return m.posts[m.cursor], true
}

// Update is called when a message is received.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.text.SetWidth(max(20, msg.Width-4))
		m.text.SetHeight(6)
		return m, nil

	case viewOpenedMsg:
		if msg.err != nil {
			m.last = notifier.Event{Level: notifier.LevelError, Message: msg.err.Error()}
			return m, nil
		}
		if msg.board.View() != m.view {
			return m, nil
		}
		m.board = msg.board
		m.cursor = 0
		m.reload()
		return m, nil

	case refreshedMsg:
		if m.board != nil && msg.view == m.board.View() {
			m.reload()
		}
		return m, nil

	case eventMsg:
		m.last = notifier.Event(msg)
		m.reload()
		return m, nil

	case promptMsg:
		m.prompt = &msg
		return m, nil

	case dismissMsg:
		if m.prompt != nil && m.prompt.prompt.ID == msg.id {
			m.prompt = nil
		}
		return m, nil

	case actionDoneMsg:
		m.reload()
		if msg.action == lifecycle.ActionDuplicate && msg.err == nil {
			m.cursor = 0
		}
		return m, nil

	case submitDoneMsg:
		m.reload()
		if msg.err == nil {
			m.leaveEditor()
			if m.mode == modeCompose {
				m.text.Reset()
				m.schedule.Reset()
			}
			m.mode = modeList
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.prompt != nil {
			return m, m.handlePromptKey(msg)
		}
		if m.mode != modeList {
			return m, m.handleEditorKey(msg)
		}
		return m, m.handleListKey(msg)
	}
	return m, nil
}

// handlePromptKey answers the modal. The answer runs as a command because
// resolving the gate sends a dismiss message back into the program.
func (m *Model) handlePromptKey(msg tea.KeyMsg) tea.Cmd {
	var ok bool
	switch msg.String() {
	case "y", "enter":
		ok = true
	case "n", "esc":
		ok = false
	default:
		return nil
	}
	answer := m.prompt.answer
	m.prompt = nil
	return func() tea.Msg {
		answer(ok)
		return nil
	}
}

func (m *Model) handleListKey(msg tea.KeyMsg) tea.Cmd {
	key := msg.String()
	switch key {
	case "q":
		return tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return nil
	case "down", "j":
		if m.cursor < len(m.posts)-1 {
			m.cursor++
		}
		return nil
	case "tab", "shift+tab":
		return m.openView(nextView(m.view, key == "tab"))
	case "1", "2", "3", "4", "5":
		return m.openView(board.Views[int(key[0]-'1')])
	case "R":
		if m.board != nil {
			m.board.Loop().Trigger()
		}
		return nil
	case "n":
		m.mode = modeCompose
		d := m.app.Composer().Draft()
		m.text.SetValue(d.Text)
		m.schedule.SetValue("")
		if !d.ScheduledAt.IsZero() {
			m.schedule.SetValue(d.ScheduledAt.Local().Format(scheduleLayout))
		}
		m.focusText()
		return textarea.Blink
	}

	a, ok := actionKeys[key]
	if !ok {
		return nil
	}
	p, ok := m.selected()
	if !ok {
		return nil
	}
	if a == lifecycle.ActionEdit {
		if err := m.app.Controller().Allowed(a, p); err != nil {
			m.last = notifier.Event{Level: notifier.LevelError, Message: lifecycle.Describe(err)}
			return nil
		}
		m.mode = modeEdit
		m.editID = p.ID
		m.text.SetValue(p.Text)
		m.editSchedule = ""
		if !p.ScheduledAt.IsZero() {
			m.editSchedule = p.ScheduledAt.Local().Format(scheduleLayout)
		}
		m.schedule.SetValue(m.editSchedule)
		m.focusText()
		return textarea.Blink
	}
	ctl := m.app.Controller()
	id := p.ID
	return func() tea.Msg {
		_, err := ctl.Perform(m.ctx, a, id)
		return actionDoneMsg{action: a, err: err}
	}
}

func (m *Model) focusText() {
	m.focusSchedule = false
	m.schedule.Blur()
	m.text.Focus()
}

func (m *Model) leaveEditor() {
	m.text.Blur()
	m.schedule.Blur()
	m.editID = 0
}

func (m *Model) handleEditorKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.leaveEditor()
		m.mode = modeList
		return nil
	case "tab":
		m.focusSchedule = !m.focusSchedule
		if m.focusSchedule {
			m.text.Blur()
			return m.schedule.Focus()
		}
		m.schedule.Blur()
		return m.text.Focus()
	case "ctrl+s":
		return m.submit(lifecycle.IntentDraft)
	case "ctrl+t":
		return m.submit(lifecycle.IntentSchedule)
	case "ctrl+p":
		if m.mode == modeCompose {
			return m.submit(lifecycle.IntentPublish)
		}
		return nil
	}

	var cmd tea.Cmd
	if m.focusSchedule {
		m.schedule, cmd = m.schedule.Update(msg)
	} else {
		m.text, cmd = m.text.Update(msg)
		if m.mode == modeCompose {
			if err := m.app.Composer().SetText(m.text.Value()); err != nil {
				m.last = notifier.Event{Level: notifier.LevelError, Message: err.Error()}
			}
		}
	}
	return cmd
}

func (m *Model) submit(intent lifecycle.Intent) tea.Cmd {
	at, err := parseSchedule(m.schedule.Value(), time.Local)
	if err != nil {
		m.last = notifier.Event{Level: notifier.LevelError, Message: err.Error()}
		return nil
	}
	limit := m.app.Session().State().CharLimit()

	if m.mode == modeEdit {
		id := m.editID
		text := m.text.Value()
		req := lifecycle.EditRequest{Text: &text}
		// The field shows minutes only; an untouched field keeps the stored time.
		if strings.TrimSpace(m.schedule.Value()) != m.editSchedule {
			req.ScheduledAt = &at
		}
		if intent == lifecycle.IntentSchedule {
			status := types.StatusScheduled
			req.Status = &status
		}
		ctl := m.app.Controller()
		return func() tea.Msg {
			p, err := ctl.Edit(m.ctx, id, req, limit)
			return submitDoneMsg{post: p, err: err}
		}
	}

	c := m.app.Composer()
	if err := c.SetText(m.text.Value()); err != nil {
		m.last = notifier.Event{Level: notifier.LevelError, Message: err.Error()}
		return nil
	}
	if err := c.SetScheduledAt(at); err != nil {
		m.last = notifier.Event{Level: notifier.LevelError, Message: err.Error()}
		return nil
	}
	return func() tea.Msg {
		p, err := c.Submit(m.ctx, intent, limit)
		return submitDoneMsg{post: p, err: err}
	}
}

// parseSchedule reads a composer schedule time. Empty means unscheduled.
func parseSchedule(v string, loc *time.Location) (types.Timestamp, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return types.Timestamp{}, nil
	}
	if t, err := time.ParseInLocation(scheduleLayout, v, loc); err == nil {
		return types.At(t), nil
	}
	ts, err := types.ParseTimestamp(v)
	if err != nil {
		return types.Timestamp{}, fmt.Errorf("schedule time must look like %s", scheduleLayout)
	}
	return ts, nil
}

func nextView(v board.View, forward bool) board.View {
	n := len(board.Views)
	for i, candidate := range board.Views {
		if candidate == v {
			if forward {
				return board.Views[(i+1)%n]
			}
			return board.Views[(i+n-1)%n]
		}
	}
	return board.Views[0]
}

// View renders the board.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	switch m.mode {
	case modeCompose, modeEdit:
		b.WriteString(m.renderEditor())
	default:
		b.WriteString(m.renderList())
	}

	if m.prompt != nil {
		b.WriteString("\n\n")
		b.WriteString(m.renderPrompt())
	}
	if m.last.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(eventStyle(m.last.Level).Render(m.last.Message))
	}
	return b.String()
}

func (m *Model) renderHeader() string {
	counts := board.Counts(m.app.Snapshot())
	tabs := []string{titleStyle.Render("post4me")}
	for i, v := range board.Views {
		label := fmt.Sprintf("%d %s", i+1, v)
		if v != board.ViewAll {
			label += fmt.Sprintf(" (%d)", counts[v])
		}
		if v == m.view {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	st := m.app.Session().State()
	who := "not connected"
	if st.Profile.Username != "" {
		who = "@" + st.Profile.Username
	}
	tabs = append(tabs, dimStyle.Render(who))
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m *Model) renderList() string {
	if m.board == nil {
		return dimStyle.Render("Loading…")
	}
	var lines []string
	if err := m.board.Err(); err != nil {
		lines = append(lines, errorStyle.Render("Refresh failed: "+err.Error()))
	}
	if len(m.posts) == 0 {
		lines = append(lines, dimStyle.Render("No posts here."))
	}

	now := time.Now()
	for i, p := range m.posts {
		cursor := "  "
		text := truncate(oneLine(p.Text), 60)
		if i == m.cursor {
			cursor = "> "
			text = selectedStyle.Render(text)
		}
		line := fmt.Sprintf("%s#%-4d %-14s %s", cursor, p.ID, statusBadge(p.Status), text)
		if when := postWhen(p, now); when != "" {
			line += "  " + dimStyle.Render(when)
		}
		if p.HasMedia() {
			line += dimStyle.Render("  [image]")
		}
		lines = append(lines, line)
		if i == m.cursor && p.ErrorMessage != "" {
			lines = append(lines, "       "+errorStyle.Render(p.ErrorMessage))
		}
	}

	lines = append(lines, "", m.renderActions())
	if fetched := m.board.FetchedAt(); !fetched.IsZero() {
		lines = append(lines, dimStyle.Render("updated "+humanize.Time(fetched)))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderActions() string {
	hints := []string{"n new", "tab view", "R refresh", "q quit"}
	if p, ok := m.selected(); ok {
		if a, busy := m.app.Controller().InFlight(p.ID); busy {
			return dimStyle.Render(fmt.Sprintf("%s in progress…", a.Label()))
		}
		var actions []string
		for _, a := range m.app.Controller().Available(p) {
			if k := keyFor(a); k != "" {
				actions = append(actions, k+" "+a.Label())
			}
		}
		hints = append(actions, hints...)
	}
	return detailStyle.Render(strings.Join(hints, " · "))
}

func (m *Model) renderEditor() string {
	title := "New post"
	help := "ctrl+s draft · ctrl+t schedule · ctrl+p publish · tab field · esc back"
	if m.mode == modeEdit {
		title = fmt.Sprintf("Edit post #%d", m.editID)
		help = "ctrl+s save · ctrl+t save as scheduled · tab field · esc back"
	}

	limit := m.app.Session().State().CharLimit()
	remaining := limit - len([]rune(m.text.Value()))
	counter := dimStyle.Render(fmt.Sprintf("%d left", remaining))
	if remaining < 0 {
		counter = errorStyle.Render(fmt.Sprintf("%d over", -remaining))
	}

	parts := []string{selectedStyle.Render(title), m.text.View(), counter, m.schedule.View()}
	if m.mode == modeCompose {
		if img := m.app.Composer().Draft().Image; img != nil {
			parts = append(parts, detailStyle.Render("Image: "+img.Name))
		}
	}
	parts = append(parts, "", dimStyle.Render(help))
	return strings.Join(parts, "\n")
}

func (m *Model) renderPrompt() string {
	style := modalStyle
	if m.prompt.prompt.Danger {
		style = dangerStyle
	}
	body := fmt.Sprintf("%s\n\n[y] %s   [n] %s", m.prompt.prompt.Message, m.prompt.prompt.ConfirmText, m.prompt.prompt.CancelText)
	return style.Render(body)
}

func postWhen(p types.Post, now time.Time) string {
	switch {
	case p.Status == types.StatusPosted && !p.PostedAt.IsZero():
		return "posted " + humanize.RelTime(p.PostedAt.Time, now, "ago", "from now")
	case !p.ScheduledAt.IsZero():
		return p.ScheduledAt.Local().Format("Mon Jan 2 15:04")
	}
	return ""
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run shows the board until the user quits.
func Run(ctx context.Context, a *app.App, view board.View) error {
	m := New(ctx, a, view)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	m.send = p.Send

	presenter := &Presenter{}
	presenter.attach(p.Send)
	a.Gate().SetPresenter(presenter)
	defer presenter.attach(nil)

	events, unsubscribe := a.Bus().Subscribe(32)
	defer unsubscribe()
	go func() {
		for e := range events {
			p.Send(eventMsg(e))
		}
	}()

	_, err := p.Run()
	a.CloseView()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
