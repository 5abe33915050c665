// Package apierr carries an HTTP status and a stable machine-readable code
// alongside an error, so handlers can classify failures once and the response
// layer can render them uniformly.
package apierr

import "fmt"

// Error is the transport-facing error for the run API. Code is a stable
// snake_case identifier ("invalid_request", "not_pausable") that clients can
// branch on; Err holds the underlying cause for logs.
type Error struct {
	Status int
	Code   string
	Err    error
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

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error; err may be nil when the code says everything.
func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}
