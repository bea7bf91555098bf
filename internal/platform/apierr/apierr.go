// Package apierr carries an HTTP status and a stable machine-readable code
// across the service boundary, so handlers can map failures like an expired
// session or a missing policy without matching on message strings.
package apierr

import "fmt"

// Error pairs a status with a code such as "session_expired",
// "policy_not_found" or "session_decided". Err holds the underlying cause
// and supplies the user-facing message.
type Error struct {
	Status int
	Code   string
	Err    error
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	case e.Status != 0:
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
