package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTransport matches every transport-level failure: the backend could not
// be reached, answered with an unexpected status, or sent malformed JSON.
var ErrTransport = errors.New("transport failure")

// TransportError describes a failed exchange with the backend.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// BusinessError is an expected refusal reported by the backend, such as a
// missing post or a validation message.
type BusinessError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsNotFound reports whether err is the backend saying the post does not exist.
func IsNotFound(err error) bool {
	var be *BusinessError
	return errors.As(err, &be) && be.StatusCode == http.StatusNotFound
}

// BusinessMessage extracts the backend message from err, if it carries one.
func BusinessMessage(err error) (string, bool) {
	var be *BusinessError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message, true
	}
	return "", false
}
