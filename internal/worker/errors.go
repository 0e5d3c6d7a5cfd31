package worker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures crossing the daemon boundary. The wire
// carries "kind: message" strings; they are decoded exactly once, here.
type ErrorKind string

const (
	KindRejected  ErrorKind = "rejected"
	KindNetwork   ErrorKind = "network"
	KindIO        ErrorKind = "io"
	KindCancelled ErrorKind = "cancelled"
	KindNotFound  ErrorKind = "not_found"
	KindProtocol  ErrorKind = "protocol"
	KindInternal  ErrorKind = "internal"
)

var knownKinds = map[ErrorKind]bool{
	KindRejected:  true,
	KindNetwork:   true,
	KindIO:        true,
	KindCancelled: true,
	KindNotFound:  true,
	KindProtocol:  true,
	KindInternal:  true,
}

// Error is a typed failure reported by the daemon or the transport.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a typed worker error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// DecodeError parses the envelope error field. Strings without a known
// kind prefix are classified as internal.
func DecodeError(s string) *Error {
	kind, msg, ok := strings.Cut(s, ":")
	if ok {
		k := ErrorKind(strings.TrimSpace(kind))
		if knownKinds[k] {
			return &Error{Kind: k, Message: strings.TrimSpace(msg)}
		}
	}
	return &Error{Kind: KindInternal, Message: s}
}

// IsKind reports whether err is a worker error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var we *Error
	return errors.As(err, &we) && we.Kind == kind
}
