package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/ibeckermayer/post4me/internal/confirm"
)

type promptMsg struct {
	prompt confirm.Prompt
	answer confirm.Answer
}

type dismissMsg struct {
	id uuid.UUID
}

// Presenter routes gate prompts into a running program as modal messages.
type Presenter struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func (p *Presenter) attach(send func(tea.Msg)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.send = send
}

func (p *Presenter) sender() func(tea.Msg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send
}

func (p *Presenter) Show(pr confirm.Prompt, answer confirm.Answer) {
	send := p.sender()
	if send == nil {
		answer(false)
		return
	}
	send(promptMsg{prompt: pr, answer: answer})
}

func (p *Presenter) Dismiss(id uuid.UUID) {
	if send := p.sender(); send != nil {
		send(dismissMsg{id: id})
	}
}
