// Package confirm suspends destructive actions until the user approves them.
package confirm

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoPresenter is returned when nothing can show a prompt to the user.
var ErrNoPresenter = errors.New("no confirmation presenter")

// Prompt is one request for approval.
type Prompt struct {
	ID          uuid.UUID
	Message     string
	ConfirmText string
	CancelText  string
	Danger      bool
	Created     time.Time
}

// Option customizes a prompt.
type Option func(*Prompt)

// ConfirmText sets the label of the approving choice.
func ConfirmText(s string) Option {
	return func(p *Prompt) {
		if s != "" {
			p.ConfirmText = s
		}
	}
}

// CancelText sets the label of the declining choice.
func CancelText(s string) Option {
	return func(p *Prompt) {
		if s != "" {
			p.CancelText = s
		}
	}
}

// Danger marks the prompt as guarding an irreversible action.
func Danger() Option {
	return func(p *Prompt) { p.Danger = true }
}

// Answer resolves the prompt it was handed with.
type Answer func(ok bool)

// Presenter shows prompts to the user. Show must not block for the user's
// answer on the caller's goroutine; the gate runs it on its own goroutine
// anyway. Dismiss is called once the prompt is resolved by any means.
type Presenter interface {
	Show(p Prompt, answer Answer)
	Dismiss(id uuid.UUID)
}

type request struct {
	prompt Prompt
	result chan bool
	once   sync.Once
}

func (r *request) resolve(ok bool) bool {
	resolved := false
	r.once.Do(func() {
		r.result <- ok
		resolved = true
	})
	return resolved
}

// Gate holds at most one pending prompt. A newer request supersedes the
// pending one, which resolves false: the last requester wins. Surfaces that
// can show several prompts at once would need a queue instead.
type Gate struct {
	mu        sync.Mutex
	pending   *request
	presenter Presenter
	clock     func() time.Time
}

// GateOption customizes gate construction.
type GateOption func(*Gate)

// WithPresenter sets the presenter.
func WithPresenter(p Presenter) GateOption {
	return func(g *Gate) { g.presenter = p }
}

// WithClock allows tests to control prompt timestamps.
func WithClock(clock func() time.Time) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

func NewGate(opts ...GateOption) *Gate {
	g := &Gate{clock: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetPresenter swaps the presenter, for shells that build theirs after the gate.
func (g *Gate) SetPresenter(p Presenter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.presenter = p
}

// Confirm asks the user and blocks until they answer, a newer request
// supersedes this one, or ctx is done. A cancelled request returns ctx's error.
func (g *Gate) Confirm(ctx context.Context, message string, opts ...Option) (bool, error) {
	prompt := Prompt{
		ID:          uuid.New(),
		Message:     message,
		ConfirmText: "Confirm",
		CancelText:  "Cancel",
		Created:     g.clock(),
	}
	for _, opt := range opts {
		opt(&prompt)
	}
	req := &request{prompt: prompt, result: make(chan bool, 1)}

	g.mu.Lock()
	presenter := g.presenter
	if presenter == nil {
		g.mu.Unlock()
		return false, ErrNoPresenter
	}
	superseded := g.pending
	g.pending = req
	g.mu.Unlock()

	if superseded != nil {
		log.Printf("[confirm] Prompt %s superseded by %s", superseded.prompt.ID, prompt.ID)
		superseded.resolve(false)
		presenter.Dismiss(superseded.prompt.ID)
	}

	go presenter.Show(prompt, func(ok bool) { g.Resolve(prompt.ID, ok) })

	select {
	case ok := <-req.result:
		return ok, nil
	case <-ctx.Done():
		if g.release(req) {
			presenter.Dismiss(prompt.ID)
		}
		// An answer may have raced the cancellation.
		if req.resolve(false) {
			<-req.result
			return false, ctx.Err()
		}
		return <-req.result, nil
	}
}

// Resolve answers the prompt with the given id. It reports false when that
// prompt is no longer pending.
func (g *Gate) Resolve(id uuid.UUID, ok bool) bool {
	g.mu.Lock()
	req := g.pending
	if req == nil || req.prompt.ID != id {
		g.mu.Unlock()
		return false
	}
	g.pending = nil
	presenter := g.presenter
	g.mu.Unlock()

	resolved := req.resolve(ok)
	if presenter != nil {
		presenter.Dismiss(id)
	}
	return resolved
}

// Pending returns the prompt awaiting an answer.
func (g *Gate) Pending() (Prompt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Prompt{}, false
	}
	return g.pending.prompt, true
}

// release clears req from the slot if it is still there.
func (g *Gate) release(req *request) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != req {
		return false
	}
	g.pending = nil
	return true
}
