package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ibeckermayer/post4me/internal/remote"
	"github.com/ibeckermayer/post4me/internal/types"
)

var (
	// ErrInvalidAction is matched by every *TransitionError.
	ErrInvalidAction = errors.New("action not allowed for this post")
	// ErrInFlight means an earlier action on the same post has not resolved.
	ErrInFlight = errors.New("another action on this post is still running")
	// ErrDeclined means the user answered no at the confirmation prompt.
	ErrDeclined = errors.New("action cancelled")
	// ErrRejected is matched by every *RejectedError.
	ErrRejected = errors.New("backend rejected the action")

	ErrEmptyContent     = errors.New("post needs text or an image")
	ErrTooLong          = errors.New("post text exceeds the character limit")
	ErrScheduleRequired = errors.New("a schedule date is required")
	ErrScheduleTooSoon  = errors.New("schedule must be at least 5 minutes from now")
)

// TransitionError explains why an action cannot run from the post's status.
type TransitionError struct {
	Action Action
	PostID int64
	Status types.Status
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s post #%d while it is %s", e.Action.Label(), e.PostID, e.Status.Label())
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidAction }

// RejectedError is a business failure reported in-band by the backend.
type RejectedError struct {
	Action  Action
	PostID  int64
	Message string
}

func (e *RejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = unknownError
	}
	return fmt.Sprintf("%s post #%d: %s", e.Action.Label(), e.PostID, msg)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// LengthError reports text over the account's character limit.
type LengthError struct {
	Length int
	Limit  int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("post text is %d characters, limit is %d", e.Length, e.Limit)
}

func (e *LengthError) Is(target error) bool { return target == ErrTooLong }

// ChainError is returned by a submission whose post was created but whose
// follow-up action (publish or schedule) did not go through.
type ChainError struct {
	Post types.Post
	Err  error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("post #%d saved as %s but the follow-up failed: %v", e.Post.ID, e.Post.Status.Label(), e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

const (
	serverError  = "server error"
	unknownError = "unknown error"
)

// Describe turns an error from the controller into the one-line message shown
// to the user. Transport failures are always the generic "server error".
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var (
		rejected   *RejectedError
		business   *remote.BusinessError
		transition *TransitionError
		chain      *ChainError
	)
	switch {
	case errors.As(err, &chain):
		return fmt.Sprintf("post #%d saved as %s, then: %s", chain.Post.ID, chain.Post.Status.Label(), Describe(chain.Err))
	case errors.Is(err, remote.ErrTransport):
		return serverError
	case errors.As(err, &rejected):
		if rejected.Message != "" {
			return rejected.Message
		}
		return unknownError
	case errors.As(err, &business):
		if business.Message != "" {
			return business.Message
		}
		return unknownError
	case errors.As(err, &transition):
		return transition.Error()
	case errors.Is(err, ErrInFlight), errors.Is(err, ErrDeclined),
		errors.Is(err, ErrEmptyContent), errors.Is(err, ErrTooLong),
		errors.Is(err, ErrScheduleRequired), errors.Is(err, ErrScheduleTooSoon):
		return err.Error()
	default:
		return unknownError
	}
}
