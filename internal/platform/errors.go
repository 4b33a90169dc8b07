package platform

import (
	"errors"
	"fmt"
)

// Kind classifies a failed platform call so call sites can distinguish
// transport problems from remote rejections without string matching.
type Kind int

const (
	// KindTransport covers network failures and timeouts
	KindTransport Kind = iota
	// KindRejected covers non-2xx responses from the platform
	KindRejected
	// KindMalformed covers responses that could not be decoded
	KindMalformed
)

// String returns the string representation of the failure kind
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a failed platform call. Status and Body are populated for
// rejections only; Body is truncated and carries the platform's own
// diagnostic text, never a credential issued by the gateway.
type Error struct {
	Op     string
	Kind   Kind
	Status int
	Body   string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch e.Kind {
	case KindRejected:
		return fmt.Sprintf("platform: %s rejected: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("platform: %s %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying error, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a platform error of the given kind
func IsKind(err error, kind Kind) bool {
	var platformErr *Error
	return errors.As(err, &platformErr) && platformErr.Kind == kind
}
