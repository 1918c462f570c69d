package lifecycle

import (
	"slices"
	"strings"
	"time"

	"github.com/ibeckermayer/post4me/internal/types"
)

// Action is a named operation on an existing post.
type Action string

const (
	ActionEdit             Action = "edit"
	ActionPostNow          Action = "post-now"
	ActionScheduleNow      Action = "schedule-now"
	ActionRetry            Action = "retry"
	ActionDuplicate        Action = "duplicate"
	ActionRemoveMedia      Action = "remove-media"
	ActionDelete           Action = "delete"
	ActionDeleteFromRemote Action = "delete-from-x"

	// actionCreate only keys the in-flight guard for composer submissions.
	actionCreate Action = "create"
)

// AllActions lists the actions on existing posts in menu order.
var AllActions = []Action{
	ActionEdit,
	ActionPostNow,
	ActionScheduleNow,
	ActionRetry,
	ActionDuplicate,
	ActionRemoveMedia,
	ActionDelete,
	ActionDeleteFromRemote,
}

type prompt struct {
	message     string
	confirmText string
	danger      bool
}

type rule struct {
	label string
	// from lists the allowed source statuses; nil allows any.
	from []types.Status
	// mutating actions are refused while the backend owns the post.
	mutating bool
	confirm  *prompt
	// check adds conditions beyond the status.
	check func(p types.Post, now time.Time) error
}

var rules = map[Action]rule{
	ActionEdit: {
		label:    "edit",
		from:     []types.Status{types.StatusDraft, types.StatusScheduled, types.StatusError},
		mutating: true,
	},
	ActionPostNow: {
		label:    "publish",
		from:     []types.Status{types.StatusDraft, types.StatusScheduled, types.StatusScheduledOnX},
		mutating: true,
		confirm:  &prompt{message: "Publish this post on X now?", confirmText: "Publish"},
	},
	ActionScheduleNow: {
		label:    "schedule",
		from:     []types.Status{types.StatusDraft, types.StatusScheduled},
		mutating: true,
		check: func(p types.Post, now time.Time) error {
			return checkSchedule(p.ScheduledAt, now)
		},
	},
	ActionRetry: {
		label:    "retry",
		from:     []types.Status{types.StatusError},
		mutating: true,
	},
	ActionDuplicate: {
		label: "duplicate",
	},
	ActionRemoveMedia: {
		label:    "remove media from",
		mutating: true,
		confirm:  &prompt{message: "Remove the attached media?", confirmText: "Remove", danger: true},
	},
	ActionDelete: {
		label:    "delete",
		mutating: true,
		confirm:  &prompt{message: "Delete this post? This cannot be undone.", confirmText: "Delete", danger: true},
	},
	ActionDeleteFromRemote: {
		label:    "delete from X",
		from:     []types.Status{types.StatusPosted, types.StatusScheduledOnX},
		mutating: true,
		confirm:  &prompt{message: "Delete this post from X?", confirmText: "Delete from X", danger: true},
		check: func(p types.Post, _ time.Time) error {
			switch {
			case p.Status == types.StatusPosted && strings.TrimSpace(p.TweetURL) == "":
				return errMissing("no tweet URL is stored")
			case p.Status == types.StatusScheduledOnX && !p.HasText():
				return errMissing("it has no text to match on X")
			}
			return nil
		},
	},
}

// Label is the verb used in messages.
func (a Action) Label() string {
	if r, ok := rules[a]; ok {
		return r.label
	}
	if a == actionCreate {
		return "create"
	}
	return string(a)
}

// ParseAction accepts the wire names used by the CLI.
func ParseAction(v string) (Action, bool) {
	a := Action(v)
	if _, ok := rules[a]; ok {
		return a, true
	}
	if v == "delete-from-remote" {
		return ActionDeleteFromRemote, true
	}
	return "", false
}

type missingError string

func errMissing(reason string) error { return missingError(reason) }

func (e missingError) Error() string { return string(e) }

// validate checks a against the cached post. Schedule problems come back as
// their own sentinel errors; everything else is a *TransitionError.
func validate(a Action, p types.Post, now time.Time) error {
	r, ok := rules[a]
	if !ok {
		return &TransitionError{Action: a, PostID: p.ID, Status: p.Status, Reason: "unknown action"}
	}
	if r.mutating && p.Status.IsTransient() {
		return &TransitionError{Action: a, PostID: p.ID, Status: p.Status, Reason: "the backend is still working on it"}
	}
	if r.from != nil && !slices.Contains(r.from, p.Status) {
		return &TransitionError{Action: a, PostID: p.ID, Status: p.Status}
	}
	if r.check != nil {
		if err := r.check(p, now); err != nil {
			if _, ok := err.(missingError); ok {
				return &TransitionError{Action: a, PostID: p.ID, Status: p.Status, Reason: err.Error()}
			}
			return err
		}
	}
	return nil
}

// checkSchedule enforces the lead time the automation needs. The backend
// keeps schedule times to the minute, so the check runs on that value.
func checkSchedule(at types.Timestamp, now time.Time) error {
	if at.IsZero() {
		return ErrScheduleRequired
	}
	if at.Truncate(time.Minute).Before(now.Add(types.MinScheduleLead)) {
		return ErrScheduleTooSoon
	}
	return nil
}
