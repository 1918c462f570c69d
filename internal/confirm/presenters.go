package confirm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AutoApprove answers every prompt with yes. Used by the CLI's --yes flag.
type AutoApprove struct{}

func (AutoApprove) Show(p Prompt, answer Answer) { answer(true) }
func (AutoApprove) Dismiss(uuid.UUID)            {}

// Terminal asks on a line-oriented terminal.
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) Show(p Prompt, answer Answer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	marker := ""
	if p.Danger {
		marker = "!! "
	}
	fmt.Fprintf(t.out, "%s%s [y = %s / N = %s]: ", marker, p.Message, p.ConfirmText, p.CancelText)
	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		answer(false)
		return
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		answer(true)
	default:
		answer(false)
	}
}

func (t *Terminal) Dismiss(uuid.UUID) {}

// Funcs adapts plain functions, handy in tests and small shells.
type Funcs struct {
	OnShow    func(p Prompt, answer Answer)
	OnDismiss func(id uuid.UUID)
}

func (f Funcs) Show(p Prompt, answer Answer) {
	if f.OnShow != nil {
		f.OnShow(p, answer)
	}
}

func (f Funcs) Dismiss(id uuid.UUID) {
	if f.OnDismiss != nil {
		f.OnDismiss(id)
	}
}
