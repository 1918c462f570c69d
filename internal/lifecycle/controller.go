// Package lifecycle decides which actions a post allows, runs them against
// the backend, and folds their results into the local snapshot.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/snapshot"
	"github.com/ibeckermayer/post4me/internal/types"
)

// Repository is the subset of the backend client the controller drives.
type Repository interface {
	Get(ctx context.Context, id int64) (types.Post, error)
	Create(ctx context.Context, np types.NewPost) (types.Post, error)
	Update(ctx context.Context, id int64, patch types.PostPatch) (types.Post, error)
	Delete(ctx context.Context, id int64) error
	Duplicate(ctx context.Context, id int64) (types.Post, error)
	PostNow(ctx context.Context, id int64) (types.ActionResult, error)
	ScheduleNow(ctx context.Context, id int64) (types.ActionResult, error)
	Retry(ctx context.Context, id int64) (types.ActionResult, error)
	RemoveMedia(ctx context.Context, id int64) (types.ActionResult, error)
	DeleteFromX(ctx context.Context, id int64) (types.ActionResult, error)
	DeleteScheduledFromX(ctx context.Context, id int64) (types.ActionResult, error)
}

// Confirmer suspends an action until the user approves it.
type Confirmer interface {
	Confirm(ctx context.Context, message string, opts ...confirm.Option) (bool, error)
}

// Publisher receives outcome events.
type Publisher interface {
	Publish(e notifier.Event) notifier.Event
}

// createKey reserves the in-flight slot for composer submissions. Backend
// ids start at 1.
const createKey int64 = 0

// Controller is the single authority on post transitions.
type Controller struct {
	repo  Repository
	gate  Confirmer
	bus   Publisher
	snap  *snapshot.Snapshot
	clock func() time.Time
	after func(Action, int64)

	mu       sync.Mutex
	inflight map[int64]Action
}

// Option customizes controller construction.
type Option func(*Controller)

// WithClock allows tests to control the schedule lead-time check.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithAfterAction registers a hook run after every successful action, used
// to trigger an early poll.
func WithAfterAction(fn func(Action, int64)) Option {
	return func(c *Controller) { c.after = fn }
}

func New(repo Repository, gate Confirmer, bus Publisher, snap *snapshot.Snapshot, opts ...Option) *Controller {
	c := &Controller{
		repo:     repo,
		gate:     gate,
		bus:      bus,
		snap:     snap,
		clock:    time.Now,
		inflight: make(map[int64]Action),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the snapshot the controller writes to.
func (c *Controller) Snapshot() *snapshot.Snapshot {
	return c.snap
}

// Outcome is what a successful action did.
type Outcome struct {
	Action Action
	// Post is the post after the action; for duplicate it is the new clone.
	Post           types.Post
	Removed        bool
	AlreadyDeleted bool
}

// InFlight reports whether an action on id is unresolved.
func (c *Controller) InFlight(id int64) (Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.inflight[id]
	return a, ok
}

func (c *Controller) acquire(id int64, a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if running, ok := c.inflight[id]; ok {
		log.Printf("[lifecycle] %s on post #%d refused: %s still running", a, id, running)
		return ErrInFlight
	}
	c.inflight[id] = a
	return nil
}

func (c *Controller) release(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

// Available returns the actions legal for p right now.
func (c *Controller) Available(p types.Post) []Action {
	if _, busy := c.InFlight(p.ID); busy {
		return nil
	}
	now := c.clock()
	var out []Action
	for _, a := range AllActions {
		if validate(a, p, now) == nil {
			out = append(out, a)
		}
	}
	return out
}

// Allowed reports whether a single action is currently legal for p.
func (c *Controller) Allowed(a Action, p types.Post) error {
	if _, busy := c.InFlight(p.ID); busy {
		return ErrInFlight
	}
	return validate(a, p, c.clock())
}

// lookup returns the cached post, reading it from the backend when absent.
func (c *Controller) lookup(ctx context.Context, id int64) (types.Post, error) {
	if p, ok := c.snap.Get(id); ok {
		return p, nil
	}
	p, err := c.repo.Get(ctx, id)
	if err != nil {
		return types.Post{}, err
	}
	c.snap.Put(p)
	return p.Normalize(), nil
}

func (c *Controller) PostNow(ctx context.Context, id int64) (Outcome, error) {
	return c.Perform(ctx, ActionPostNow, id)
}

func (c *Controller) ScheduleNow(ctx context.Context, id int64) (Outcome, error) {
	return c.Perform(ctx, ActionScheduleNow, id)
}

func (c *Controller) Retry(ctx context.Context, id int64) (Outcome, error) {
	return c.Perform(ctx, ActionRetry, id)
}

func (c *Controller) Duplicate(ctx context.Context, id int64) (Outcome, error) {
	return c.Perform(ctx, ActionDuplicate, id)
}

func (c *Controller) RemoveMedia(ctx context.Context, id int64) (Outcome, error) {
	return c.Perform(ctx, ActionRemoveMedia, id)
}

func (c *Controller) Delete(ctx context.Context, id int64) (Outcome, error) {
	return c.Perform(ctx, ActionDelete, id)
}

func (c *Controller) DeleteFromRemote(ctx context.Context, id int64) (Outcome, error) {
	return c.Perform(ctx, ActionDeleteFromRemote, id)
}

// Perform runs a lifecycle action on an existing post: guard, validate,
// confirm, call the backend, then apply the result locally. Every outcome is
// published on the bus.
func (c *Controller) Perform(ctx context.Context, a Action, id int64) (Outcome, error) {
	if a == ActionEdit {
		return Outcome{}, fmt.Errorf("%w: use Edit for %s", ErrInvalidAction, a)
	}
	if err := c.acquire(id, a); err != nil {
		c.fail(id, err)
		return Outcome{}, err
	}
	defer c.release(id)

	p, err := c.lookup(ctx, id)
	if err != nil {
		c.fail(id, err)
		return Outcome{}, err
	}
	if err := validate(a, p, c.clock()); err != nil {
		c.fail(id, err)
		return Outcome{}, err
	}

	// Nothing to remove: succeed without a round trip or a prompt.
	if a == ActionRemoveMedia && !p.HasMedia() {
		c.publish(notifier.LevelInfo, id, "Post has no media")
		return Outcome{Action: a, Post: p}, nil
	}

	if r := rules[a]; r.confirm != nil {
		if err := c.confirm(ctx, r.confirm); err != nil {
			if errors.Is(err, ErrDeclined) {
				c.publish(notifier.LevelInfo, id, "Cancelled")
			} else {
				c.fail(id, err)
			}
			return Outcome{}, err
		}
	}

	out, err := c.execute(ctx, a, p)
	if err != nil {
		c.fail(id, err)
		return Outcome{}, err
	}
	c.publish(notifier.LevelSuccess, out.Post.ID, successMessage(out))
	c.afterAction(a, id)
	return out, nil
}

func (c *Controller) confirm(ctx context.Context, pr *prompt) error {
	opts := []confirm.Option{confirm.ConfirmText(pr.confirmText)}
	if pr.danger {
		opts = append(opts, confirm.Danger())
	}
	ok, err := c.gate.Confirm(ctx, pr.message, opts...)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}

// execute issues the backend call. Local state changes only after the call
// succeeds.
func (c *Controller) execute(ctx context.Context, a Action, p types.Post) (Outcome, error) {
	id := p.ID
	switch a {
	case ActionDuplicate:
		clone, err := c.repo.Duplicate(ctx, id)
		if err != nil {
			return Outcome{}, err
		}
		c.snap.Put(clone)
		return Outcome{Action: a, Post: clone}, nil

	case ActionDelete:
		if err := c.repo.Delete(ctx, id); err != nil {
			return Outcome{}, err
		}
		c.snap.Remove(id)
		return Outcome{Action: a, Post: p, Removed: true}, nil
	}

	var (
		res types.ActionResult
		err error
	)
	switch a {
	case ActionPostNow:
		res, err = c.repo.PostNow(ctx, id)
	case ActionScheduleNow:
		res, err = c.repo.ScheduleNow(ctx, id)
	case ActionRetry:
		res, err = c.repo.Retry(ctx, id)
	case ActionRemoveMedia:
		res, err = c.repo.RemoveMedia(ctx, id)
	case ActionDeleteFromRemote:
		if p.Status == types.StatusScheduledOnX {
			res, err = c.repo.DeleteScheduledFromX(ctx, id)
		} else {
			res, err = c.repo.DeleteFromX(ctx, id)
		}
	default:
		return Outcome{}, &TransitionError{Action: a, PostID: id, Status: p.Status, Reason: "unknown action"}
	}
	if err != nil {
		return Outcome{}, err
	}
	if !res.Success {
		return Outcome{}, &RejectedError{Action: a, PostID: id, Message: res.Error}
	}

	out := Outcome{Action: a, AlreadyDeleted: res.AlreadyDeleted}
	if a == ActionDeleteFromRemote {
		c.snap.Remove(id)
		out.Post = p
		out.Removed = true
		return out, nil
	}

	c.snap.Update(id, func(cur *types.Post) { applyOptimistic(a, cur) })
	applyOptimistic(a, &p)
	out.Post = p.Normalize()
	return out, nil
}

// applyOptimistic is the status an acknowledged action leads to until the
// next poll reports the backend's view.
func applyOptimistic(a Action, p *types.Post) {
	switch a {
	case ActionPostNow:
		p.Status = types.StatusPosting
	case ActionScheduleNow:
		p.Status = types.StatusScheduling
	case ActionRetry:
		p.Status = types.StatusPosting
		p.ErrorMessage = ""
	case ActionRemoveMedia:
		p.ImagePath = ""
	}
}

func successMessage(out Outcome) string {
	switch out.Action {
	case ActionPostNow:
		return "Publishing started"
	case ActionScheduleNow:
		return "Scheduling on X"
	case ActionRetry:
		return "Retrying"
	case ActionDuplicate:
		return fmt.Sprintf("Duplicated as draft #%d", out.Post.ID)
	case ActionRemoveMedia:
		return "Media removed"
	case ActionDelete:
		return "Post deleted"
	case ActionDeleteFromRemote:
		if out.AlreadyDeleted {
			return "Already deleted on X"
		}
		return "Deleted from X"
	case ActionEdit:
		return "Post updated"
	}
	return "Done"
}

func (c *Controller) afterAction(a Action, id int64) {
	if c.after != nil {
		c.after(a, id)
	}
}

func (c *Controller) publish(level notifier.Level, id int64, msg string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(notifier.Event{Level: level, PostID: id, Message: msg})
}

func (c *Controller) fail(id int64, err error) {
	log.Printf("[lifecycle] post #%d: %v", id, err)
	c.publish(notifier.LevelError, id, Describe(err))
}
