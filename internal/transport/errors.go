package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a request failure so callers can pick a policy without
// inspecting status codes themselves.
type Kind int

const (
	// KindTransient covers transport resets and HTTP 500/502/503/504.
	// Uploads retry these; polls treat them as a silent missed tick.
	KindTransient Kind = iota

	// KindAuthRequired is a 401 carrying a WWW-Authenticate challenge.
	KindAuthRequired

	// KindAuthDenied is a 403: the credential was revoked.
	KindAuthDenied

	// KindNotFound is a 404. Silent on optional endpoints, fatal elsewhere.
	KindNotFound

	// KindConflict is a 409, e.g. a full print queue.
	KindConflict

	// KindBlocked means a new upload was attempted while one is in flight.
	KindBlocked

	// KindUnparseableBody means the response arrived with an OK status but
	// the body was not the JSON the caller expected.
	KindUnparseableBody

	// KindFatal is any other 4xx/5xx.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthRequired:
		return "auth_required"
	case KindAuthDenied:
		return "auth_denied"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBlocked:
		return "blocked"
	case KindUnparseableBody:
		return "unparseable_body"
	default:
		return "fatal"
	}
}

// Error is a classified request failure. Status is 0 when the connection
// never completed.
type Error struct {
	Kind   Kind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (status %d)", e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindFatal for errors that are
// not transport errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindFatal
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// IsTransient reports whether err should be retried or silently absorbed.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// transientStatus reports whether an HTTP status is in the retryable set.
func transientStatus(status int) bool {
	switch status {
	case 500, 502, 503, 504:
		return true
	}
	return false
}

// classifyStatus maps an HTTP status to an error kind. Callers that know the
// endpoint semantics (optional 404s, auth endpoints) refine the result.
func classifyStatus(status int) Kind {
	switch {
	case transientStatus(status):
		return KindTransient
	case status == 401:
		return KindAuthRequired
	case status == 403:
		return KindAuthDenied
	case status == 404:
		return KindNotFound
	case status == 409:
		return KindConflict
	default:
		return KindFatal
	}
}
