package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by its origin. It is assigned once, where the failure is observed.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindNetwork
	KindServer
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is a classified failure
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a terminal business-rule rejection
func Validation(op string, status int, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, StatusCode: status, Message: message}
}

// Auth builds a terminal authentication/authorization failure
func Auth(op string, status int, message string) *Error {
	return &Error{Kind: KindAuth, Op: op, StatusCode: status, Message: message}
}

// Network builds a retryable transport failure (timeout, refused connection, offline)
func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// Server builds a retryable 5xx failure
func Server(op string, status int, message string) *Error {
	return &Error{Kind: KindServer, Op: op, StatusCode: status, Message: message}
}

// Storage wraps a durable-store failure
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Message: "offline cache unavailable", Err: err}
}

// KindOf returns the classification carried by err, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err should be queued for a later replay
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer:
		return true
	default:
		return false
	}
}
