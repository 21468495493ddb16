package listing

import (
	"errors"
	"fmt"
)

// CaptureError reports a missing permission or device for a capture
// resource, e.g. the microphone.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string { return format("capture", e.Op, e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// ServiceError reports a remote call that returned non-success or could not
// be reached.
type ServiceError struct {
	Op         string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return format("service", fmt.Sprintf("%s (status: %d)", e.Op, e.StatusCode), e.Err)
	}
	return format("service", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// SessionError reports a voice session that failed to open or closed
// abnormally before producing a transcript.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string { return format("voice session", e.Op, e.Err) }
func (e *SessionError) Unwrap() error { return e.Err }

// NotFoundError reports a transcript requested before the server persisted
// it, or for an unknown conversation.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func format(kind, op string, err error) string {
	switch {
	case op != "" && err != nil:
		return fmt.Sprintf("%s: %s: %v", kind, op, err)
	case op != "":
		return fmt.Sprintf("%s: %s", kind, op)
	case err != nil:
		return fmt.Sprintf("%s: %v", kind, err)
	default:
		return kind + " error"
	}
}

func IsCapture(err error) bool {
	var e *CaptureError
	return errors.As(err, &e)
}

func IsService(err error) bool {
	var e *ServiceError
	return errors.As(err, &e)
}

func IsSession(err error) bool {
	var e *SessionError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}
