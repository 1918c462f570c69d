package lifecycle

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ibeckermayer/post4me/internal/notifier"
	"github.com/ibeckermayer/post4me/internal/types"
)

// Intent is what the composer wants done with a new post.
type Intent int

const (
	// IntentDraft saves the post as a draft.
	IntentDraft Intent = iota
	// IntentSchedule saves the post as scheduled, then asks the backend to
	// schedule it on X.
	IntentSchedule
	// IntentPublish saves the post as a draft, then publishes it immediately.
	IntentPublish
)

func (i Intent) String() string {
	switch i {
	case IntentSchedule:
		return "schedule"
	case IntentPublish:
		return "publish"
	default:
		return "draft"
	}
}

// EditRequest carries the fields the user changed. Nil fields are kept.
type EditRequest struct {
	Text        *string
	ScheduledAt *types.Timestamp
	Status      *types.Status
}

// checkContent rejects posts with nothing to publish or too much text.
func checkContent(text string, hasMedia bool, limit int) error {
	if strings.TrimSpace(text) == "" && !hasMedia {
		return ErrEmptyContent
	}
	if limit <= 0 {
		limit = types.DefaultCharLimit
	}
	if n := utf8.RuneCountInString(text); n > limit {
		return &LengthError{Length: n, Limit: limit}
	}
	return nil
}

// Create submits a new post and runs the chained action the intent asks for.
// When the post was created but the chained action failed, the error is a
// *ChainError carrying the saved post.
func (c *Controller) Create(ctx context.Context, np types.NewPost, intent Intent, charLimit int) (types.Post, error) {
	if err := c.acquire(createKey, actionCreate); err != nil {
		c.fail(createKey, err)
		return types.Post{}, err
	}
	defer c.release(createKey)

	if err := c.checkNew(np, intent, charLimit); err != nil {
		c.fail(createKey, err)
		return types.Post{}, err
	}

	if intent == IntentPublish {
		if err := c.confirm(ctx, rules[ActionPostNow].confirm); err != nil {
			if errors.Is(err, ErrDeclined) {
				c.publish(notifier.LevelInfo, createKey, "Cancelled")
			} else {
				c.fail(createKey, err)
			}
			return types.Post{}, err
		}
	}

	np.Status = types.StatusDraft
	if intent == IntentSchedule {
		np.Status = types.StatusScheduled
	}
	p, err := c.repo.Create(ctx, np)
	if err != nil {
		c.fail(createKey, err)
		return types.Post{}, err
	}
	p = p.Normalize()

	var chained Action
	switch intent {
	case IntentSchedule:
		chained = ActionScheduleNow
	case IntentPublish:
		chained = ActionPostNow
	default:
		c.snap.Put(p)
		c.publish(notifier.LevelSuccess, p.ID, "Draft saved")
		c.afterAction(actionCreate, p.ID)
		return p, nil
	}

	// Hold the new id before it shows up in the snapshot. The confirm given
	// above covers the chained call.
	if err := c.acquire(p.ID, chained); err == nil {
		defer c.release(p.ID)
	}
	c.snap.Put(p)
	out, err := c.execute(ctx, chained, p)
	if err != nil {
		chainErr := &ChainError{Post: p, Err: err}
		c.fail(p.ID, chainErr)
		c.afterAction(actionCreate, p.ID)
		return p, chainErr
	}
	c.publish(notifier.LevelSuccess, p.ID, successMessage(out))
	c.afterAction(chained, p.ID)
	return out.Post, nil
}

func (c *Controller) checkNew(np types.NewPost, intent Intent, charLimit int) error {
	if err := checkContent(np.Text, strings.TrimSpace(np.ImagePath) != "", charLimit); err != nil {
		return err
	}
	switch intent {
	case IntentSchedule:
		return checkSchedule(np.ScheduledAt, c.clock())
	case IntentDraft:
		// A draft may carry a date for later, but it has to be valid when set.
		if !np.ScheduledAt.IsZero() {
			return checkSchedule(np.ScheduledAt, c.clock())
		}
	}
	return nil
}

// Edit saves user changes to an editable post. An errored post is saved back
// as a draft unless the request names a status; the backend clears its error
// message on that save.
func (c *Controller) Edit(ctx context.Context, id int64, req EditRequest, charLimit int) (types.Post, error) {
	if err := c.acquire(id, ActionEdit); err != nil {
		c.fail(id, err)
		return types.Post{}, err
	}
	defer c.release(id)

	p, err := c.lookup(ctx, id)
	if err != nil {
		c.fail(id, err)
		return types.Post{}, err
	}
	patch, err := c.checkEdit(p, req, charLimit)
	if err != nil {
		c.fail(id, err)
		return types.Post{}, err
	}

	updated, err := c.repo.Update(ctx, id, patch)
	if err != nil {
		c.fail(id, err)
		return types.Post{}, err
	}
	updated = updated.Normalize()
	c.snap.Put(updated)
	c.publish(notifier.LevelSuccess, id, successMessage(Outcome{Action: ActionEdit}))
	c.afterAction(ActionEdit, id)
	return updated, nil
}

func (c *Controller) checkEdit(p types.Post, req EditRequest, charLimit int) (types.PostPatch, error) {
	now := c.clock()
	if err := validate(ActionEdit, p, now); err != nil {
		return types.PostPatch{}, err
	}

	target := p.Status
	if target == types.StatusError {
		target = types.StatusDraft
	}
	if req.Status != nil {
		target = *req.Status
	}
	if target != types.StatusDraft && target != types.StatusScheduled {
		return types.PostPatch{}, &TransitionError{
			Action: ActionEdit, PostID: p.ID, Status: p.Status,
			Reason: "an edit can only save a draft or a scheduled post",
		}
	}

	text := p.Text
	if req.Text != nil {
		text = *req.Text
	}
	if err := checkContent(text, p.HasMedia(), charLimit); err != nil {
		return types.PostPatch{}, err
	}

	at := p.ScheduledAt
	if req.ScheduledAt != nil {
		at = *req.ScheduledAt
	}
	dateChanged := req.ScheduledAt != nil && !req.ScheduledAt.Equal(p.ScheduledAt.Time)
	switch {
	case target == types.StatusScheduled && (dateChanged || p.Status != types.StatusScheduled):
		if err := checkSchedule(at, now); err != nil {
			return types.PostPatch{}, err
		}
	case target == types.StatusScheduled && at.IsZero():
		return types.PostPatch{}, ErrScheduleRequired
	case dateChanged && !at.IsZero():
		if err := checkSchedule(at, now); err != nil {
			return types.PostPatch{}, err
		}
	}

	patch := types.PostPatch{Status: &target}
	if req.Text != nil {
		patch.Text = &text
	}
	if req.ScheduledAt != nil {
		patch.ScheduledAt = &at
	}
	return patch, nil
}
